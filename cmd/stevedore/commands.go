package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/mattn/go-shellwords"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/artpar/stevedore/internal/core/deployment"
	"github.com/artpar/stevedore/internal/shell/docker"
	"github.com/artpar/stevedore/internal/shell/source"
)

// =============================================================================
// Root Command
// =============================================================================

// app is the state shared by every command of one invocation.
type app struct {
	stdout io.Writer
	stderr io.Writer

	configPath string
	colorMode  string

	cfg    *Config
	logger *slog.Logger
	loader *source.Loader
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr, loader: source.NewLoader(nil)}

	root := &cobra.Command{
		Use:   "stevedore",
		Short: "Deploy compose projects to Docker in dependency order",
		Long: color.New(color.FgCyan).Sprint("stevedore - compose deployments with health gating and rollback\n\n") +
			`Parses Dockerfiles and compose files, plans networks, volumes and containers,
starts services wave by wave as their dependencies become healthy, and removes
everything a failed run created.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "Path to config file")
	root.PersistentFlags().StringVar(&a.colorMode, "color", "auto", "Color output: auto, always, never")

	root.AddCommand(
		a.dockerfileCommand(),
		a.planCommand(),
		a.upCommand(),
		a.downCommand(),
		a.logsCommand(),
		a.execCommand(),
		a.versionCommand(),
	)
	return root
}

func (a *app) setup() error {
	switch a.colorMode {
	case "never":
		color.NoColor = true
	case "always":
		color.NoColor = false
	case "auto":
	default:
		return &CommandError{Op: "flags", Err: fmt.Errorf("unknown color mode %q", a.colorMode), ExitCode: ExitConfigError}
	}

	cfg, err := LoadConfig(a.configPath)
	if err != nil {
		return &CommandError{Op: "load config", Err: err, ExitCode: ExitConfigError}
	}
	if err := cfg.Validate(); err != nil {
		return &CommandError{Op: "validate config", Err: err, ExitCode: ExitConfigError}
	}
	a.cfg = cfg
	a.logger = SetupLogger(cfg, a.stderr)
	return nil
}

// composeFlags select and interpolate a compose file.
type composeFlags struct {
	project  string
	envFiles []string
	env      map[string]string
}

func (f *composeFlags) bind(fs *pflag.FlagSet) {
	fs.StringVarP(&f.project, "project", "p", "", "Project name (default: compose directory name)")
	fs.StringSliceVar(&f.envFiles, "env-file", nil, "Env file for interpolation, repeatable; later files win")
	fs.StringToStringVarP(&f.env, "env", "e", nil, "Variable for interpolation, KEY=VALUE; wins over env files")
}

// loadProject parses the compose file at path and resolves the project name.
func (a *app) loadProject(path string, f *composeFlags) (*source.ComposeFile, string, error) {
	cf, err := a.loader.LoadCompose(path, source.ComposeOptions{
		EnvFiles:      append(append([]string(nil), a.cfg.Compose.EnvFiles...), f.envFiles...),
		Environment:   f.env,
		UseProcessEnv: a.cfg.Compose.UseProcessEnv,
	})
	if err != nil {
		return nil, "", err
	}
	project := cmp.Or(f.project, a.cfg.Deploy.Project, deployment.ProjectName(filepath.Base(cf.Dir)))
	return cf, project, nil
}

func (a *app) dockerClient(ctx context.Context) (*docker.DockerClient, error) {
	cli, err := docker.NewDockerClient(a.cfg.Docker.Host)
	if err != nil {
		return nil, &CommandError{Op: "connect to docker", Err: err, ExitCode: ExitDockerError}
	}
	if err := cli.Ping(ctx); err != nil {
		cli.Close()
		return nil, &CommandError{Op: "connect to docker", Err: err, ExitCode: ExitDockerError}
	}
	return cli, nil
}

func (a *app) orchestrator(cli docker.Client) *docker.Orchestrator {
	return docker.NewOrchestrator(cli, a.loader, a.logger, a.cfg.Deploy.Options())
}

// signalContext is cancelled on SIGINT or SIGTERM. A cancelled Up still
// rolls back.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// =============================================================================
// Commands
// =============================================================================

func (a *app) dockerfileCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "dockerfile <path>",
		Short: "Parse a Dockerfile and print its canonical form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			bc, err := a.loader.ReadDockerfile(filepath.Dir(path), filepath.Base(path))
			if err != nil {
				return err
			}
			fmt.Fprint(a.stdout, bc.String())
			return nil
		},
	}
}

func (a *app) planCommand() *cobra.Command {
	var flags composeFlags
	cmd := &cobra.Command{
		Use:   "plan <compose>",
		Short: "Validate a compose file and print the deployment plan",
		Long:  "Validates the whole compose file, checks build targets against their Dockerfiles and prints the networks, volumes and service waves. No Docker calls are made.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cf, project, err := a.loadProject(args[0], &flags)
			if err != nil {
				return err
			}
			plan, err := a.orchestrator(nil).Plan(docker.UpParams{Project: project, Dir: cf.Dir, Config: cf.Config})
			if err != nil {
				return err
			}
			renderPlan(a.stdout, plan)
			return nil
		},
	}
	flags.bind(cmd.Flags())
	return cmd
}

func (a *app) upCommand() *cobra.Command {
	var (
		flags       composeFlags
		maxParallel int
		serialize   bool
	)
	cmd := &cobra.Command{
		Use:   "up <compose>",
		Short: "Deploy a compose project",
		Long:  "Creates networks and volumes, then starts services wave by wave, waiting for services with a healthcheck to report healthy. On any failure everything the run created is removed.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("max-parallel") {
				a.cfg.Deploy.MaxParallel = maxParallel
			}
			if cmd.Flags().Changed("serialize") {
				a.cfg.Deploy.SerializeRuntime = serialize
			}

			cf, project, err := a.loadProject(args[0], &flags)
			if err != nil {
				return err
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			cli, err := a.dockerClient(ctx)
			if err != nil {
				return err
			}
			defer cli.Close()

			res, err := a.orchestrator(cli).Up(ctx, docker.UpParams{Project: project, Dir: cf.Dir, Config: cf.Config})
			if err != nil {
				var derr *docker.DeploymentError
				if errors.As(err, &derr) {
					renderFailure(a.stderr, derr)
				}
				return err
			}
			renderResult(a.stdout, res)
			return nil
		},
	}
	flags.bind(cmd.Flags())
	cmd.Flags().IntVar(&maxParallel, "max-parallel", 0, "Services started at once per wave, 0 for no limit")
	cmd.Flags().BoolVar(&serialize, "serialize", false, "Send Docker calls one at a time")
	return cmd
}

func (a *app) downCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "down <project>",
		Short: "Remove every container, network and volume of a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			project := args[0]
			if deployment.ProjectName(project) != project {
				return &CommandError{Op: "down", Err: fmt.Errorf("%w: %q", deployment.ErrInvalidProject, project), ExitCode: ExitInputError}
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			cli, err := a.dockerClient(ctx)
			if err != nil {
				return err
			}
			defer cli.Close()

			if err := a.orchestrator(cli).Down(ctx, project); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "Removed project %s\n", project)
			return nil
		},
	}
}

func (a *app) logsCommand() *cobra.Command {
	var opts docker.LogOptions
	cmd := &cobra.Command{
		Use:   "logs <project> <service>",
		Short: "Print the logs of a service",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			cli, err := a.dockerClient(ctx)
			if err != nil {
				return err
			}
			defer cli.Close()

			err = a.orchestrator(cli).Logs(ctx, args[0], args[1], opts, a.stdout, a.stderr)
			if opts.Follow && errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().BoolVarP(&opts.Follow, "follow", "f", false, "Follow log output")
	cmd.Flags().StringVar(&opts.Tail, "tail", "all", "Number of lines to show from the end of the logs")
	cmd.Flags().BoolVarP(&opts.Timestamps, "timestamps", "t", false, "Show timestamps")
	return cmd
}

func (a *app) execCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "exec <project> <service> <command>...",
		Short: "Run a command in a service's container",
		Long:  "Runs a command in the running container of a service. A single command argument is split like a shell would, so quoting works: stevedore exec shop db 'psql -c \"select 1\"'.",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			argv, err := commandArgs(args[2:])
			if err != nil {
				return &CommandError{Op: "exec", Err: err, ExitCode: ExitInputError}
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			cli, err := a.dockerClient(ctx)
			if err != nil {
				return err
			}
			defer cli.Close()

			res, err := a.orchestrator(cli).Exec(ctx, args[0], args[1], argv)
			if err != nil {
				return err
			}
			fmt.Fprint(a.stdout, res.Stdout)
			fmt.Fprint(a.stderr, res.Stderr)
			if res.ExitCode != 0 {
				return &CommandError{Op: "exec", Err: fmt.Errorf("command exited with code %d", res.ExitCode), ExitCode: res.ExitCode}
			}
			return nil
		},
	}
}

// commandArgs splits a single quoted command into words; several arguments
// are taken as they are.
func commandArgs(args []string) ([]string, error) {
	if len(args) != 1 {
		return args, nil
	}
	argv, err := shellwords.Parse(args[0])
	if err != nil {
		return nil, fmt.Errorf("invalid command %q: %w", args[0], err)
	}
	if len(argv) == 0 {
		return nil, errors.New("empty command")
	}
	return argv, nil
}

func (a *app) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		// Version needs no configuration.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(a.stdout, "stevedore %s (built %s)\n", Version, BuildTime)
		},
	}
}
