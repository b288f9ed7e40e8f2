package docker

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/go-units"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/artpar/stevedore/internal/core/compose"
	"github.com/artpar/stevedore/internal/core/deployment"
	"github.com/artpar/stevedore/internal/core/translate"
	"github.com/artpar/stevedore/internal/shell/source"
)

// =============================================================================
// Orchestrator - Manages Deployment Runs
// =============================================================================

const (
	DefaultCallTimeout        = 2 * time.Minute
	DefaultHealthPollInterval = 2 * time.Second
	DefaultRollbackTimeout    = 2 * time.Minute

	DefaultNetworkCreateAttempts = 3
	DefaultNetworkRetryDelay     = 500 * time.Millisecond

	// stopTimeout is the grace period given to containers stopped by Down.
	stopTimeout = 10 * time.Second
)

// Options tunes how an Orchestrator talks to the runtime. Zero values take
// the defaults.
type Options struct {
	CallTimeout        time.Duration // bound on every runtime call
	HealthPollInterval time.Duration
	RollbackTimeout    time.Duration // bound on the whole rollback
	MaxParallel        int           // services started at once per wave, 0 = no limit
	SerializeRuntime   bool          // route every runtime call through one gate
	PullPlatform       string        // e.g. "linux/amd64"

	NetworkCreateAttempts int           // tries per network, 1 disables retries
	NetworkRetryDelay     time.Duration // first backoff, doubled per retry

	// CheckHostPorts refuses a deployment whose published host ports are
	// already bound on this machine. Only meaningful for a local engine.
	CheckHostPorts bool
}

func (o Options) withDefaults() Options {
	if o.CallTimeout <= 0 {
		o.CallTimeout = DefaultCallTimeout
	}
	if o.HealthPollInterval <= 0 {
		o.HealthPollInterval = DefaultHealthPollInterval
	}
	if o.RollbackTimeout <= 0 {
		o.RollbackTimeout = DefaultRollbackTimeout
	}
	if o.NetworkCreateAttempts <= 0 {
		o.NetworkCreateAttempts = DefaultNetworkCreateAttempts
	}
	if o.NetworkRetryDelay <= 0 {
		o.NetworkRetryDelay = DefaultNetworkRetryDelay
	}
	return o
}

// Orchestrator executes deployment plans against a container runtime.
type Orchestrator struct {
	docker   Client
	source   *source.Loader
	logger   *slog.Logger
	opts     Options
	gate     sync.Mutex
	newRunID func() string
	portFree func(hostIP string, port int, protocol string) error
}

// NewOrchestrator creates a new orchestrator. loader reads Dockerfiles and
// build contexts; nil uses the OS file system.
func NewOrchestrator(docker Client, loader *source.Loader, logger *slog.Logger, opts Options) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if loader == nil {
		loader = source.NewLoader(nil)
	}
	return &Orchestrator{
		docker:   docker,
		source:   loader,
		logger:   logger.With("component", "orchestrator"),
		opts:     opts.withDefaults(),
		newRunID: uuid.NewString,
		portFree: hostPortFree,
	}
}

// UpParams identifies what to deploy. Dir is the base for relative build
// contexts, normally the compose file's directory.
type UpParams struct {
	Project string
	Dir     string
	Config  *compose.DeploymentConfig
}

// Result is a completed run. Containers maps service name to container ID.
type Result struct {
	Project    string
	RunID      string
	Containers map[string]string
	Ledger     []deployment.LedgerEntry
}

// =============================================================================
// Runtime Calls
// =============================================================================

// callRuntime runs one runtime call under its own timeout, through the
// serialization gate when enabled.
func callRuntime[T any](ctx context.Context, o *Orchestrator, fn func(context.Context) (T, error)) (T, error) {
	if o.opts.SerializeRuntime {
		o.gate.Lock()
		defer o.gate.Unlock()
	}

	callCtx, cancel := context.WithTimeout(ctx, o.opts.CallTimeout)
	defer cancel()

	v, err := fn(callCtx)
	if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, ErrTimeout) {
		err = fmt.Errorf("%w after %s: %w", ErrTimeout, o.opts.CallTimeout, err)
	}
	return v, err
}

func (o *Orchestrator) call(ctx context.Context, fn func(context.Context) error) error {
	_, err := callRuntime(ctx, o, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// =============================================================================
// Up
// =============================================================================

// Up validates and deploys a configuration. The whole configuration is
// validated before any runtime call; violations come back together as a
// *compose.ValidationError. A failure after that point rolls back everything
// the run created and returns a *DeploymentError.
func (o *Orchestrator) Up(ctx context.Context, params UpParams) (*Result, error) {
	if params.Config == nil {
		return nil, errors.New("no deployment config")
	}

	runID := o.newRunID()
	r := &run{
		o:          o,
		cfg:        params.Config,
		dir:        params.Dir,
		state:      deployment.RunState{Phase: deployment.PhasePlanned},
		containers: make(map[string]string),
		log:        o.logger.With("project", params.Project, "run_id", runID),
	}

	plan, err := o.plan(params, runID)
	if err != nil {
		r.log.Error("deployment validation failed", "error", err)
		_ = r.advance(deployment.PhaseFailed, 0)
		return nil, err
	}
	r.plan = plan

	r.log.Info("starting deployment",
		"services", len(plan.Containers),
		"waves", len(plan.Waves),
		"networks", len(plan.Networks),
		"volumes", len(plan.Volumes),
	)

	if err := r.deploy(ctx); err != nil {
		return nil, r.rollback(ctx, err)
	}

	r.log.Info("deployment complete", "containers", len(r.containers))
	return &Result{
		Project:    plan.Project,
		RunID:      runID,
		Containers: maps.Clone(r.containers),
		Ledger:     r.ledger.Entries(),
	}, nil
}

// Plan is a dry run of Up: it validates the configuration, checks build
// targets against their Dockerfiles and returns the plan without touching
// the runtime.
func (o *Orchestrator) Plan(params UpParams) (*deployment.DeploymentPlan, error) {
	if params.Config == nil {
		return nil, errors.New("no deployment config")
	}
	return o.plan(params, o.newRunID())
}

func (o *Orchestrator) plan(params UpParams, runID string) (*deployment.DeploymentPlan, error) {
	plan, err := deployment.PlanDeployment(params.Config, params.Project, runID)
	if errors.Is(err, deployment.ErrInvalidProject) {
		return nil, err
	}

	verr := &compose.ValidationError{}
	verr.Add(err)
	for _, svc := range params.Config.Services {
		if svc.Build == nil {
			continue
		}
		if _, err := o.checkBuild(params.Dir, svc); err != nil {
			verr.Add(compose.NewComposeError("services."+svc.Name+".build", err.Error(), err))
		}
	}
	if err := verr.Err(); err != nil {
		return nil, err
	}
	return plan, nil
}

// =============================================================================
// Run
// =============================================================================

// run is the state of one Up call.
type run struct {
	o      *Orchestrator
	cfg    *compose.DeploymentConfig
	dir    string
	plan   *deployment.DeploymentPlan
	ledger deployment.Ledger
	state  deployment.RunState
	log    *slog.Logger

	mu         sync.Mutex
	containers map[string]string
}

func (r *run) advance(to deployment.Phase, wave int) error {
	next, err := r.state.Next(to, wave)
	if err != nil {
		r.log.Error("invalid run state transition", "error", err)
		return err
	}
	r.log.Info("run state changed", "from", r.state.String(), "to", next.String())
	r.state = next
	return nil
}

func (r *run) setContainer(service, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.containers[service] = id
}

func (r *run) container(service string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.containers[service]
}

func (r *run) deploy(ctx context.Context) error {
	if err := r.preflight(ctx); err != nil {
		return err
	}
	if err := r.ensureNetworks(ctx); err != nil {
		return err
	}
	if err := r.advance(deployment.PhaseNetworksReady, 0); err != nil {
		return err
	}

	if err := r.ensureVolumes(ctx); err != nil {
		return err
	}
	if err := r.advance(deployment.PhaseVolumesReady, 0); err != nil {
		return err
	}

	for i, wave := range r.plan.Waves {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.advance(deployment.PhaseDeploying, i); err != nil {
			return err
		}
		if err := r.runWave(ctx, wave, r.startService); err != nil {
			return err
		}

		gated := slices.DeleteFunc(slices.Clone(wave), func(name string) bool {
			return !r.plan.Containers[name].HealthGated()
		})
		if len(gated) == 0 {
			continue
		}
		if err := r.advance(deployment.PhaseHealthGating, i); err != nil {
			return err
		}
		if err := r.runWave(ctx, gated, r.gateService); err != nil {
			return err
		}
	}

	return r.advance(deployment.PhaseComplete, 0)
}

// runWave runs task for every service concurrently, bounded by MaxParallel.
// Tasks never cancel each other; once all have resolved, the first failure
// in wave order is returned.
func (r *run) runWave(ctx context.Context, services []string, task func(context.Context, string) error) error {
	var g errgroup.Group
	if r.o.opts.MaxParallel > 0 {
		g.SetLimit(r.o.opts.MaxParallel)
	}

	errs := make([]error, len(services))
	for i, name := range services {
		g.Go(func() error {
			errs[i] = task(ctx, name)
			return errs[i]
		})
	}
	if g.Wait() == nil {
		return nil
	}
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// Preflight
// =============================================================================

// preflight checks that the host can take the deployment before anything is
// created: container limits must fit the engine's CPUs and memory, and with
// CheckHostPorts set every published host port must be free.
func (r *run) preflight(ctx context.Context) error {
	info, err := callRuntime(ctx, r.o, r.o.docker.Info)
	if err != nil {
		return err
	}

	perr := &PreflightError{}
	for _, name := range slices.Sorted(maps.Keys(r.plan.Containers)) {
		c := r.plan.Containers[name]
		res := c.Resources

		if info.NCPU > 0 && res.NanoCPUs > int64(info.NCPU)*1e9 {
			perr.Problems = append(perr.Problems, fmt.Errorf("service %s: cpus %.2f exceeds the engine's %d CPUs: %w",
				name, float64(res.NanoCPUs)/1e9, info.NCPU, ErrInsufficientResources))
		}
		if info.MemTotal > 0 {
			for _, m := range []struct {
				field string
				n     int64
			}{{"memory limit", res.Memory}, {"memory reservation", res.MemoryReservation}} {
				if m.n > info.MemTotal {
					perr.Problems = append(perr.Problems, fmt.Errorf("service %s: %s %s exceeds the engine's %s: %w",
						name, m.field, units.BytesSize(float64(m.n)), units.BytesSize(float64(info.MemTotal)), ErrInsufficientResources))
				}
			}
		}

		if !r.o.opts.CheckHostPorts {
			continue
		}
		for _, p := range c.Ports {
			if p.HostPort == 0 {
				continue
			}
			if err := r.o.portFree(p.HostIP, p.HostPort, p.Protocol); err != nil {
				perr.Problems = append(perr.Problems, fmt.Errorf("service %s: %w", name, err))
			}
		}
	}

	if len(perr.Problems) > 0 {
		r.log.Error("preflight failed", "problems", len(perr.Problems))
		return perr
	}
	r.log.Debug("preflight passed", "engine_cpus", info.NCPU, "engine_memory", units.BytesSize(float64(info.MemTotal)))
	return nil
}

// hostPortFree binds the port briefly to see whether anything holds it.
// SCTP cannot be bound portably and is assumed free.
func hostPortFree(hostIP string, port int, protocol string) error {
	addr := net.JoinHostPort(hostIP, strconv.Itoa(port))
	switch protocol {
	case "udp":
		pc, err := net.ListenPacket("udp", addr)
		if err != nil {
			return fmt.Errorf("host port %s/udp: %w", addr, ErrHostPortInUse)
		}
		return pc.Close()
	case "sctp":
		return nil
	default:
		l, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("host port %s/tcp: %w", addr, ErrHostPortInUse)
		}
		return l.Close()
	}
}

// =============================================================================
// Networks and Volumes
// =============================================================================

func (r *run) ensureNetworks(ctx context.Context) error {
	for _, n := range r.plan.Networks {
		log := r.log.With("network", n.Name)

		info, err := callRuntime(ctx, r.o, func(ctx context.Context) (*NetworkInfo, error) {
			return r.o.docker.InspectNetwork(ctx, n.Name)
		})
		switch {
		case err == nil:
			if err := networkMatches(n, info); err != nil {
				return err
			}
			log.Info("network exists, reusing", "external", n.External)
			continue
		case !errors.Is(err, ErrNetworkNotFound):
			return err
		case n.External:
			return fmt.Errorf("external network %s: %w", n.Name, err)
		}

		id, err := r.createNetwork(ctx, n, log)
		if err != nil {
			return err
		}
		r.ledger.Record(deployment.LedgerEntry{Kind: deployment.EntryNetwork, ID: id, Name: n.Name})
		log.Info("created network", "network_id", shortID(id), "driver", n.Driver)
	}
	return nil
}

// createNetwork creates one network, retrying transient failures with
// exponential backoff.
func (r *run) createNetwork(ctx context.Context, n deployment.NetworkPlan, log *slog.Logger) (string, error) {
	spec := NetworkSpec{
		Name:     n.Name,
		Driver:   n.Driver,
		Internal: n.Internal,
		Labels:   n.Labels,
		IPAM:     n.IPAM,
	}
	policy := &backoff.ExponentialBackOff{
		InitialInterval: r.o.opts.NetworkRetryDelay,
		Multiplier:      2,
		MaxInterval:     backoff.DefaultMaxInterval,
	}

	return backoff.Retry(ctx, func() (string, error) {
		id, err := callRuntime(ctx, r.o, func(ctx context.Context) (string, error) {
			return r.o.docker.CreateNetwork(ctx, spec)
		})
		if err != nil && !retryableCreate(err) {
			return "", backoff.Permanent(err)
		}
		return id, err
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(r.o.opts.NetworkCreateAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Warn("network create failed, retrying", "error", err, "retry_in", next)
		}),
	)
}

// retryableCreate reports whether a failed create may succeed when tried
// again. Name clashes and rejected specs never will.
func retryableCreate(err error) bool {
	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, ErrNetworkAlreadyExists),
		cerrdefs.IsInvalidArgument(err),
		cerrdefs.IsPermissionDenied(err):
		return false
	}
	return true
}

func (r *run) ensureVolumes(ctx context.Context) error {
	for _, v := range r.plan.Volumes {
		log := r.log.With("volume", v.Name)

		info, err := callRuntime(ctx, r.o, func(ctx context.Context) (*VolumeInfo, error) {
			return r.o.docker.InspectVolume(ctx, v.Name)
		})
		switch {
		case err == nil:
			if err := volumeMatches(v, info); err != nil {
				return err
			}
			log.Info("volume exists, reusing", "external", v.External)
			continue
		case !errors.Is(err, ErrVolumeNotFound):
			return err
		case v.External:
			return fmt.Errorf("external volume %s: %w", v.Name, err)
		}

		name, err := callRuntime(ctx, r.o, func(ctx context.Context) (string, error) {
			return r.o.docker.CreateVolume(ctx, VolumeSpec{
				Name:       v.Name,
				Driver:     v.Driver,
				DriverOpts: v.DriverOpts,
				Labels:     v.Labels,
			})
		})
		if err != nil {
			return err
		}
		r.ledger.Record(deployment.LedgerEntry{Kind: deployment.EntryVolume, ID: name, Name: v.Name})
		log.Info("created volume", "driver", v.Driver)
	}
	return nil
}

// networkMatches accepts an existing network whose driver and IPAM subnets
// agree with the plan. External networks are accepted as they are.
func networkMatches(n deployment.NetworkPlan, info *NetworkInfo) error {
	if n.External {
		return nil
	}
	want := cmp.Or(n.Driver, compose.DefaultNetworkDriver)
	if info.Driver != want {
		return &ResourceConflictError{Kind: deployment.EntryNetwork, Name: n.Name, Field: "driver", Want: want, Got: info.Driver}
	}
	if n.IPAM == nil {
		return nil
	}

	var subnets []string
	for _, p := range n.IPAM.Pools {
		subnets = append(subnets, p.Subnet.String())
	}
	got := slices.Sorted(slices.Values(info.Subnets))
	slices.Sort(subnets)
	if !slices.Equal(subnets, got) {
		return &ResourceConflictError{
			Kind:  deployment.EntryNetwork,
			Name:  n.Name,
			Field: "ipam subnets",
			Want:  strings.Join(subnets, ","),
			Got:   strings.Join(got, ","),
		}
	}
	return nil
}

// volumeMatches accepts an existing volume whose driver, and driver options
// when declared, agree with the plan.
func volumeMatches(v deployment.VolumePlan, info *VolumeInfo) error {
	if v.External {
		return nil
	}
	want := cmp.Or(v.Driver, compose.DefaultVolumeDriver)
	if info.Driver != want {
		return &ResourceConflictError{Kind: deployment.EntryVolume, Name: v.Name, Field: "driver", Want: want, Got: info.Driver}
	}
	if len(v.DriverOpts) > 0 && !maps.Equal(v.DriverOpts, info.Options) {
		return &ResourceConflictError{
			Kind:  deployment.EntryVolume,
			Name:  v.Name,
			Field: "driver_opts",
			Want:  fmt.Sprint(v.DriverOpts),
			Got:   fmt.Sprint(info.Options),
		}
	}
	return nil
}

// =============================================================================
// Services
// =============================================================================

// startService resolves the image, translates the service and creates and
// starts its container.
func (r *run) startService(ctx context.Context, name string) error {
	svc, _ := r.cfg.Service(name)
	image := deployment.ServiceImage(r.plan.Project, svc)
	log := r.log.With("service", name)

	if err := r.resolveImage(ctx, log, svc, image); err != nil {
		return &ServiceError{Service: name, Err: err}
	}

	// Translate immediately before the runtime call.
	plan, err := deployment.BuildContainerPlan(deployment.BuildContainerPlanParams{
		Project: r.plan.Project,
		RunID:   r.plan.RunID,
		Service: svc,
		Image:   image,
		Config:  r.cfg,
	})
	if err != nil {
		return &ServiceError{Service: name, Err: err}
	}

	id, err := callRuntime(ctx, r.o, func(ctx context.Context) (string, error) {
		return r.o.docker.CreateContainer(ctx, containerSpec(plan))
	})
	if err != nil {
		return &ServiceError{Service: name, Err: err}
	}
	r.ledger.Record(deployment.LedgerEntry{Kind: deployment.EntryContainer, ID: id, Name: plan.Name, Service: name})
	r.setContainer(name, id)
	log.Info("created container", append([]any{"container_id", shortID(id), "image", image}, resourceAttrs(plan.Resources)...)...)

	err = r.o.call(ctx, func(ctx context.Context) error {
		return r.o.docker.StartContainer(ctx, id)
	})
	if err != nil && !errors.Is(err, ErrContainerAlreadyRunning) {
		return &ServiceError{Service: name, Err: err}
	}
	log.Info("started container", "container_id", shortID(id))
	return nil
}

// resolveImage builds the image when the service declares a build, and
// otherwise pulls it unless it is already present.
func (r *run) resolveImage(ctx context.Context, log *slog.Logger, svc compose.Service, image string) error {
	if svc.Build != nil {
		return r.buildImage(ctx, log, svc, image)
	}

	exists, err := callRuntime(ctx, r.o, func(ctx context.Context) (bool, error) {
		return r.o.docker.ImageExists(ctx, image)
	})
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	log.Info("pulling image", "image", image, "platform", r.o.opts.PullPlatform)
	return r.o.call(ctx, func(ctx context.Context) error {
		return r.o.docker.PullImage(ctx, image, PullOptions{Platform: r.o.opts.PullPlatform})
	})
}

func (r *run) buildImage(ctx context.Context, log *slog.Logger, svc compose.Service, image string) error {
	contextDir, err := r.o.checkBuild(r.dir, svc)
	if err != nil {
		return err
	}
	tarball, err := r.o.source.BuildContext(contextDir)
	if err != nil {
		return err
	}

	log.Info("building image", "image", image, "context", contextDir, "context_size", units.HumanSize(float64(tarball.Len())))
	return r.o.call(ctx, func(ctx context.Context) error {
		return r.o.docker.BuildImage(ctx, BuildSpec{
			Context:    tarball,
			Dockerfile: filepath.ToSlash(svc.Build.DockerfilePath()),
			Tags:       []string{image},
			Args:       svc.Build.Args,
			Target:     svc.Build.Target,
			Labels: map[string]string{
				deployment.LabelManaged: "true",
				deployment.LabelProject: r.plan.Project,
			},
			Platform: r.o.opts.PullPlatform,
		})
	})
}

// checkBuild parses the service's Dockerfile and confirms its target stage
// exists. It returns the resolved build context directory.
func (o *Orchestrator) checkBuild(dir string, svc compose.Service) (string, error) {
	contextDir := svc.Build.Context
	if !filepath.IsAbs(contextDir) {
		contextDir = filepath.Join(dir, contextDir)
	}

	bc, err := o.source.ReadDockerfile(contextDir, svc.Build.DockerfilePath())
	if err != nil {
		return "", err
	}
	if target := svc.Build.Target; target != "" {
		if _, ok := bc.Stage(target); !ok {
			return "", fmt.Errorf("%w: %q is not a stage of %s", ErrUnknownTarget, target, svc.Build.DockerfilePath())
		}
	}
	return contextDir, nil
}

// gateService polls a started container until it reports healthy or its
// health gate deadline passes.
func (r *run) gateService(ctx context.Context, name string) error {
	hc := r.plan.Containers[name].HealthCheck
	deadline := translate.HealthGateDeadline(*hc)
	id := r.container(name)
	log := r.log.With("service", name, "container_id", shortID(id))
	log.Info("waiting for service to be healthy", "deadline", deadline)

	// Polls share the gate deadline, so a hung inspect cannot outlast it.
	gateCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()
	ticker := time.NewTicker(r.o.opts.HealthPollInterval)
	defer ticker.Stop()

	timedOut := func(last string) error {
		if err := ctx.Err(); err != nil {
			return &ServiceError{Service: name, Err: err}
		}
		return &HealthCheckTimeoutError{Service: name, LastStatus: last, Deadline: deadline}
	}

	last := HealthStarting
	for {
		info, err := callRuntime(gateCtx, r.o, func(ctx context.Context) (*HealthInfo, error) {
			return r.o.docker.InspectHealth(ctx, id)
		})
		if err != nil {
			if gateCtx.Err() != nil {
				return timedOut(last)
			}
			return &ServiceError{Service: name, Err: err}
		}
		last = info.Health

		switch {
		case info.Health == HealthHealthy:
			log.Info("service healthy")
			return nil
		case info.Status == ContainerStatusExited || info.Status == ContainerStatusDead:
			return &ServiceError{
				Service: name,
				Err:     fmt.Errorf("%w: exited with code %d before becoming healthy", ErrContainerNotRunning, info.ExitCode),
			}
		}
		log.Debug("service not yet healthy", "health", info.Health, "failing_streak", info.FailingStreak, "last_output", info.LastOutput)

		select {
		case <-gateCtx.Done():
			return timedOut(last)
		case <-ticker.C:
		}
	}
}

// =============================================================================
// Rollback
// =============================================================================

// rollback removes every ledger entry newest first on a fresh context, so a
// cancelled run still cleans up. cause stays the primary error.
func (r *run) rollback(ctx context.Context, cause error) error {
	_ = r.advance(deployment.PhaseRollingBack, r.state.Wave)
	r.log.Warn("rolling back deployment", "error", cause, "entries", r.ledger.Len())

	rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.o.opts.RollbackTimeout)
	defer cancel()

	derr := &DeploymentError{Project: r.plan.Project, RunID: r.plan.RunID, Cause: cause}
	var failures []error
	for _, e := range r.ledger.Reverse() {
		if err := r.o.remove(rbCtx, e); err != nil {
			r.log.Error("rollback step failed", "kind", e.Kind, "name", e.Name, "error", err)
			failures = append(failures, err)
			continue
		}
		r.log.Info("rolled back", "kind", e.Kind, "name", e.Name)
		derr.RolledBack = append(derr.RolledBack, e)
	}
	if len(failures) > 0 {
		derr.Rollback = &RollbackError{Errors: failures}
	}

	_ = r.advance(deployment.PhaseFailed, 0)
	return derr
}

// remove deletes one resource. A resource that is already gone counts as
// removed.
func (o *Orchestrator) remove(ctx context.Context, e deployment.LedgerEntry) error {
	var err error
	switch e.Kind {
	case deployment.EntryContainer:
		err = o.call(ctx, func(ctx context.Context) error {
			return o.docker.RemoveContainer(ctx, e.ID, RemoveOptions{Force: true})
		})
		if errors.Is(err, ErrContainerNotFound) {
			return nil
		}
	case deployment.EntryNetwork:
		err = o.call(ctx, func(ctx context.Context) error {
			return o.docker.RemoveNetwork(ctx, e.ID)
		})
		if errors.Is(err, ErrNetworkNotFound) {
			return nil
		}
	case deployment.EntryVolume:
		err = o.call(ctx, func(ctx context.Context) error {
			return o.docker.RemoveVolume(ctx, e.ID, false)
		})
		if errors.Is(err, ErrVolumeNotFound) {
			return nil
		}
	default:
		err = fmt.Errorf("unknown ledger entry kind %q", e.Kind)
	}
	return err
}

// =============================================================================
// Down, Logs and Exec
// =============================================================================

// Down stops and removes every container, network and volume labelled with
// the project, whichever run created them. Failures do not stop the sweep;
// they are returned joined.
func (o *Orchestrator) Down(ctx context.Context, project string) error {
	log := o.logger.With("project", project)
	labels := map[string]string{deployment.LabelManaged: "true", deployment.LabelProject: project}

	containers, err := callRuntime(ctx, o, func(ctx context.Context) ([]ContainerInfo, error) {
		return o.docker.ListContainers(ctx, ListOptions{All: true, Labels: labels})
	})
	if err != nil {
		return err
	}

	var errs []error
	timeout := stopTimeout
	for _, c := range containers {
		if c.Status == ContainerStatusRunning {
			err := o.call(ctx, func(ctx context.Context) error {
				return o.docker.StopContainer(ctx, c.ID, &timeout)
			})
			if err != nil {
				log.Warn("failed to stop container", "container_id", shortID(c.ID), "error", err)
			}
		}
		if err := o.remove(ctx, deployment.LedgerEntry{Kind: deployment.EntryContainer, ID: c.ID, Name: c.Name}); err != nil {
			errs = append(errs, err)
			continue
		}
		log.Debug("removed container", "container_id", shortID(c.ID), "name", c.Name)
	}

	networks, err := callRuntime(ctx, o, func(ctx context.Context) ([]NetworkInfo, error) {
		return o.docker.ListNetworks(ctx, labels)
	})
	if err != nil {
		errs = append(errs, err)
	}
	for _, n := range networks {
		if err := o.remove(ctx, deployment.LedgerEntry{Kind: deployment.EntryNetwork, ID: n.ID, Name: n.Name}); err != nil {
			errs = append(errs, err)
			continue
		}
		log.Debug("removed network", "network", n.Name)
	}

	volumes, err := callRuntime(ctx, o, func(ctx context.Context) ([]VolumeInfo, error) {
		return o.docker.ListVolumes(ctx, labels)
	})
	if err != nil {
		errs = append(errs, err)
	}
	for _, v := range volumes {
		if err := o.remove(ctx, deployment.LedgerEntry{Kind: deployment.EntryVolume, ID: v.Name, Name: v.Name}); err != nil {
			errs = append(errs, err)
			continue
		}
		log.Debug("removed volume", "volume", v.Name)
	}

	log.Info("project removed",
		"containers", len(containers),
		"networks", len(networks),
		"volumes", len(volumes),
		"errors", len(errs),
	)
	return errors.Join(errs...)
}

// Logs copies the logs of a service's container. Follow streams until ctx
// is done and is not bounded by the call timeout.
func (o *Orchestrator) Logs(ctx context.Context, project, service string, opts LogOptions, stdout, stderr io.Writer) error {
	id, err := o.serviceContainer(ctx, project, service)
	if err != nil {
		return err
	}
	if opts.Follow {
		return o.docker.ContainerLogs(ctx, id, opts, stdout, stderr)
	}
	return o.call(ctx, func(ctx context.Context) error {
		return o.docker.ContainerLogs(ctx, id, opts, stdout, stderr)
	})
}

// Exec runs argv inside a service's running container.
func (o *Orchestrator) Exec(ctx context.Context, project, service string, argv []string) (*ExecResult, error) {
	if len(argv) == 0 {
		return nil, errors.New("exec requires a command")
	}
	id, err := o.serviceContainer(ctx, project, service)
	if err != nil {
		return nil, err
	}
	return callRuntime(ctx, o, func(ctx context.Context) (*ExecResult, error) {
		return o.docker.Exec(ctx, id, ExecOptions{Cmd: argv})
	})
}

func (o *Orchestrator) serviceContainer(ctx context.Context, project, service string) (string, error) {
	containers, err := callRuntime(ctx, o, func(ctx context.Context) ([]ContainerInfo, error) {
		return o.docker.ListContainers(ctx, ListOptions{
			All: true,
			Labels: map[string]string{
				deployment.LabelProject: project,
				deployment.LabelService: service,
			},
		})
	})
	if err != nil {
		return "", err
	}
	if len(containers) == 0 {
		return "", fmt.Errorf("%w: %s in project %s", ErrServiceNotFound, service, project)
	}
	return containers[0].ID, nil
}

// =============================================================================
// Helper Methods
// =============================================================================

// containerSpec maps a container plan onto the runtime's container spec.
func containerSpec(plan deployment.ContainerPlan) ContainerSpec {
	spec := ContainerSpec{
		Name:       plan.Name,
		Image:      plan.Image,
		Command:    plan.Command,
		Entrypoint: plan.Entrypoint,
		Env:        plan.Env,
		Labels:     plan.Labels,
		WorkingDir: plan.WorkingDir,
		User:       plan.User,
		RestartPolicy: RestartPolicy{
			Name:              plan.RestartPolicy.Name,
			MaximumRetryCount: plan.RestartPolicy.MaximumRetryCount,
		},
		Resources:   plan.Resources,
		HealthCheck: plan.HealthCheck,
	}
	for _, p := range plan.Ports {
		spec.Ports = append(spec.Ports, PortBinding{
			ContainerPort: p.ContainerPort,
			HostPort:      p.HostPort,
			Protocol:      p.Protocol,
			HostIP:        p.HostIP,
		})
	}
	for _, m := range plan.Mounts {
		spec.Mounts = append(spec.Mounts, Mount{
			Type:     m.Type,
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
			NoCopy:   m.NoCopy,
		})
	}
	for _, n := range plan.Networks {
		spec.Networks = append(spec.Networks, NetworkAttachment{Network: n.Network, Aliases: n.Aliases})
	}
	return spec
}

// resourceAttrs renders the set resource limits as log attributes.
func resourceAttrs(res translate.EngineResources) []any {
	var attrs []any
	if res.NanoCPUs > 0 {
		attrs = append(attrs, "cpus", float64(res.NanoCPUs)/1e9)
	}
	if res.Memory > 0 {
		attrs = append(attrs, "memory", units.BytesSize(float64(res.Memory)))
	}
	if res.MemoryReservation > 0 {
		attrs = append(attrs, "memory_reservation", units.BytesSize(float64(res.MemoryReservation)))
	}
	return attrs
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
