// Command stevedore parses Dockerfiles and compose files and deploys compose
// projects to a local Docker engine in dependency order.
//
// Usage:
//
//	stevedore dockerfile <path>              - Parse a Dockerfile and print its canonical form
//	stevedore plan <compose>                 - Validate a compose file and print its deployment waves
//	stevedore up <compose>                   - Deploy a compose project, rolling back on failure
//	stevedore down <project>                 - Remove every resource of a project
//	stevedore logs <project> <service>       - Print a service's logs
//	stevedore exec <project> <service> <cmd> - Run a command in a service's container
//	stevedore version                        - Print version information
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/artpar/stevedore/internal/core/compose"
	"github.com/artpar/stevedore/internal/core/dockerfile"
	"github.com/artpar/stevedore/internal/shell/docker"
	"github.com/artpar/stevedore/internal/shell/source"
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// Exit codes
const (
	ExitSuccess      = 0
	ExitConfigError  = 1
	ExitInputError   = 2
	ExitDockerError  = 3
	ExitDeployFailed = 4
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	root := newRootCommand(stdout, stderr)
	root.SetArgs(args)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitCode(err)
	}
	return ExitSuccess
}

// CommandError carries the exit code a failed command should produce.
type CommandError struct {
	Op       string
	Err      error
	ExitCode int
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// exitCode maps an error onto the exit code contract.
func exitCode(err error) int {
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.ExitCode
	}

	var (
		verr *compose.ValidationError
		cerr *compose.ComposeError
		ierr *compose.InterpolationError
		derr *dockerfile.DockerfileError
	)
	switch {
	case errors.Is(err, docker.ErrDeploymentFailed):
		return ExitDeployFailed
	case errors.Is(err, docker.ErrConnectionFailed):
		return ExitDockerError
	case errors.As(err, &verr), errors.As(err, &cerr), errors.As(err, &ierr), errors.As(err, &derr),
		errors.Is(err, source.ErrComposeFileNotFound), errors.Is(err, source.ErrOutsideContext):
		return ExitInputError
	}
	return ExitConfigError
}
