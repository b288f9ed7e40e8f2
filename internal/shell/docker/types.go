// Package docker drives deployments against a container engine. Client is
// the runtime contract, DockerClient implements it over the Docker SDK, and
// Orchestrator executes deployment plans through it.
package docker

import (
	"context"
	"io"
	"time"

	"github.com/artpar/stevedore/internal/core/compose"
	"github.com/artpar/stevedore/internal/core/translate"
)

// =============================================================================
// Container Types
// =============================================================================

// ContainerSpec defines the specification for creating a container. Resource
// and health fields are already in engine units.
type ContainerSpec struct {
	Name          string
	Image         string
	Command       []string
	Entrypoint    []string
	Env           map[string]string
	Labels        map[string]string
	Ports         []PortBinding
	Mounts        []Mount
	Networks      []NetworkAttachment
	WorkingDir    string
	User          string
	RestartPolicy RestartPolicy
	Resources     translate.EngineResources
	HealthCheck   *translate.EngineHealthCheck
}

// PortBinding defines a port mapping.
type PortBinding struct {
	ContainerPort int
	HostPort      int    // 0 for auto-assign
	Protocol      string // "tcp", "udp" or "sctp"
	HostIP        string // "" for 0.0.0.0
}

// Mount defines a container mount.
type Mount struct {
	Type     compose.MountType
	Source   string // volume name or host path, empty for anonymous volumes and tmpfs
	Target   string // container path
	ReadOnly bool
	NoCopy   bool
}

// NetworkAttachment connects the container to a network under the given
// DNS aliases.
type NetworkAttachment struct {
	Network string
	Aliases []string
}

// RestartPolicy defines the container restart policy.
type RestartPolicy struct {
	Name              string // "no", "always", "on-failure", "unless-stopped"
	MaximumRetryCount int
}

// =============================================================================
// Container Info
// =============================================================================

// ContainerStatus represents the container status.
type ContainerStatus string

const (
	ContainerStatusCreated    ContainerStatus = "created"
	ContainerStatusRunning    ContainerStatus = "running"
	ContainerStatusPaused     ContainerStatus = "paused"
	ContainerStatusRestarting ContainerStatus = "restarting"
	ContainerStatusRemoving   ContainerStatus = "removing"
	ContainerStatusExited     ContainerStatus = "exited"
	ContainerStatusDead       ContainerStatus = "dead"
)

// ContainerInfo contains information about a container.
type ContainerInfo struct {
	ID        string
	Name      string
	Image     string
	Status    ContainerStatus
	CreatedAt time.Time
	Ports     []PortBinding
	Labels    map[string]string
}

// Health statuses reported by the engine.
const (
	HealthNone      = "none"
	HealthStarting  = "starting"
	HealthHealthy   = "healthy"
	HealthUnhealthy = "unhealthy"
)

// HealthInfo is the health state of one container.
type HealthInfo struct {
	Status        ContainerStatus
	Health        string // one of the Health* constants
	FailingStreak int
	LastOutput    string // output of the most recent probe
	ExitCode      int
}

// =============================================================================
// Network and Volume Types
// =============================================================================

// NetworkSpec defines the specification for creating a network.
type NetworkSpec struct {
	Name     string
	Driver   string // "bridge", "overlay", etc.
	Internal bool
	Labels   map[string]string
	IPAM     *translate.EngineIPAM
}

// NetworkInfo describes an existing network.
type NetworkInfo struct {
	ID       string
	Name     string
	Driver   string
	Internal bool
	Labels   map[string]string
	Subnets  []string // CIDR of every configured IPAM pool
}

// VolumeSpec defines the specification for creating a volume.
type VolumeSpec struct {
	Name       string
	Driver     string
	DriverOpts map[string]string
	Labels     map[string]string
}

// VolumeInfo describes an existing volume.
type VolumeInfo struct {
	Name    string
	Driver  string
	Options map[string]string
	Labels  map[string]string
}

// =============================================================================
// Image Types
// =============================================================================

// BuildSpec defines an image build. Context is a tar stream of the build
// context; Dockerfile is a path inside it.
type BuildSpec struct {
	Context    io.Reader
	Dockerfile string
	Tags       []string
	Args       map[string]string
	Target     string
	Labels     map[string]string
	Platform   string
}

// =============================================================================
// Options
// =============================================================================

// RemoveOptions defines options for removing containers.
type RemoveOptions struct {
	Force         bool
	RemoveVolumes bool
}

// ListOptions defines options for listing containers.
type ListOptions struct {
	All    bool              // include stopped containers
	Labels map[string]string // every label must match
}

// LogOptions defines options for container logs.
type LogOptions struct {
	Follow     bool
	Tail       string // "all" or number
	Since      time.Time
	Timestamps bool
}

// PullOptions defines options for pulling images.
type PullOptions struct {
	Platform string // e.g., "linux/amd64"
}

// ExecOptions defines a command run inside a running container.
type ExecOptions struct {
	Cmd        []string
	Env        []string
	WorkingDir string
	User       string
}

// ExecResult is the outcome of an exec.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// EngineInfo describes the host the engine runs containers on.
type EngineInfo struct {
	Name          string
	ServerVersion string
	OSType        string
	NCPU          int
	MemTotal      int64 // bytes
}

// =============================================================================
// Client Interface
// =============================================================================

// Client is the container runtime contract. Every blocking call takes a
// context and returns a *RuntimeCallError on failure.
type Client interface {
	// Network operations
	InspectNetwork(ctx context.Context, name string) (*NetworkInfo, error)
	CreateNetwork(ctx context.Context, spec NetworkSpec) (networkID string, err error)
	RemoveNetwork(ctx context.Context, networkID string) error
	ListNetworks(ctx context.Context, labels map[string]string) ([]NetworkInfo, error)

	// Volume operations
	InspectVolume(ctx context.Context, name string) (*VolumeInfo, error)
	CreateVolume(ctx context.Context, spec VolumeSpec) (volumeName string, err error)
	RemoveVolume(ctx context.Context, volumeName string, force bool) error
	ListVolumes(ctx context.Context, labels map[string]string) ([]VolumeInfo, error)

	// Image operations
	PullImage(ctx context.Context, image string, opts PullOptions) error
	BuildImage(ctx context.Context, spec BuildSpec) error
	ImageExists(ctx context.Context, image string) (bool, error)

	// Container operations
	CreateContainer(ctx context.Context, spec ContainerSpec) (containerID string, err error)
	StartContainer(ctx context.Context, containerID string) error
	StopContainer(ctx context.Context, containerID string, timeout *time.Duration) error
	RemoveContainer(ctx context.Context, containerID string, opts RemoveOptions) error
	InspectHealth(ctx context.Context, containerID string) (*HealthInfo, error)
	ListContainers(ctx context.Context, opts ListOptions) ([]ContainerInfo, error)
	ContainerLogs(ctx context.Context, containerID string, opts LogOptions, stdout, stderr io.Writer) error
	Exec(ctx context.Context, containerID string, opts ExecOptions) (*ExecResult, error)

	// Health operations
	Ping(ctx context.Context) error
	Info(ctx context.Context) (*EngineInfo, error)
	Close() error
}
