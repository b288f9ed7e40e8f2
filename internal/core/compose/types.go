package compose

import "time"

// =============================================================================
// DeploymentConfig - Main Output Type
// =============================================================================

// DeploymentConfig is a fully parsed Compose document. Services, networks and
// volumes keep their declaration order.
type DeploymentConfig struct {
	Name     string    `json:"name,omitempty"`
	Version  string    `json:"version,omitempty"`
	Services []Service `json:"services"`
	Networks []Network `json:"networks,omitempty"`
	Volumes  []Volume  `json:"volumes,omitempty"`
}

// Service returns the service with the given name.
func (c *DeploymentConfig) Service(name string) (Service, bool) {
	for _, s := range c.Services {
		if s.Name == name {
			return s, true
		}
	}
	return Service{}, false
}

// Network returns the network with the given name.
func (c *DeploymentConfig) Network(name string) (Network, bool) {
	for _, n := range c.Networks {
		if n.Name == name {
			return n, true
		}
	}
	return Network{}, false
}

// Volume returns the volume with the given name.
func (c *DeploymentConfig) Volume(name string) (Volume, bool) {
	for _, v := range c.Volumes {
		if v.Name == name {
			return v, true
		}
	}
	return Volume{}, false
}

// ServiceNames returns service names in declaration order.
func (c *DeploymentConfig) ServiceNames() []string {
	names := make([]string, len(c.Services))
	for i, s := range c.Services {
		names[i] = s.Name
	}
	return names
}

// =============================================================================
// Service Types
// =============================================================================

// Service represents a single service definition.
type Service struct {
	Name          string            `json:"name"`
	Image         string            `json:"image,omitempty"`
	Build         *BuildSpec        `json:"build,omitempty"`
	Command       []string          `json:"command,omitempty"`
	Entrypoint    []string          `json:"entrypoint,omitempty"`
	Environment   map[string]string `json:"environment,omitempty"`
	Ports         []PortBinding     `json:"ports,omitempty"`
	Mounts        []Mount           `json:"volumes,omitempty"`
	DependsOn     []string          `json:"depends_on,omitempty"`
	HealthCheck   *HealthCheck      `json:"healthcheck,omitempty"`
	Resources     *ResourceLimits   `json:"resources,omitempty"`
	Networks      []string          `json:"networks,omitempty"`
	Labels        map[string]string `json:"labels,omitempty"`
	Restart       RestartPolicy     `json:"restart,omitempty"`
	ContainerName string            `json:"container_name,omitempty"`
	WorkingDir    string            `json:"working_dir,omitempty"`
	User          string            `json:"user,omitempty"`
}

// BuildSpec describes how to build a service image.
type BuildSpec struct {
	Context    string            `json:"context"`
	Dockerfile string            `json:"dockerfile,omitempty"` // relative to Context, defaults to "Dockerfile"
	Args       map[string]string `json:"args,omitempty"`
	Target     string            `json:"target,omitempty"`
}

// DockerfilePath returns the Dockerfile path relative to the build context.
func (b *BuildSpec) DockerfilePath() string {
	if b.Dockerfile == "" {
		return "Dockerfile"
	}
	return b.Dockerfile
}

// PortBinding represents a port mapping.
type PortBinding struct {
	HostIP    string `json:"host_ip,omitempty"`
	Host      uint16 `json:"host,omitempty"` // 0 = dynamic
	Container uint16 `json:"container"`
	Protocol  string `json:"protocol"` // tcp, udp, sctp
}

// Mount represents a volume or bind mount in a service.
type Mount struct {
	Type   MountType `json:"type"`
	Source string    `json:"source,omitempty"` // host path or volume name, empty for anonymous volumes
	Target string    `json:"target"`
	Mode   string    `json:"mode,omitempty"` // comma-separated options such as "ro" or "rw,z"
}

// ReadOnly reports whether the mount mode includes "ro".
func (m Mount) ReadOnly() bool {
	for _, opt := range splitMode(m.Mode) {
		if opt == "ro" {
			return true
		}
	}
	return false
}

// MountType represents the type of mount.
type MountType string

const (
	MountTypeBind   MountType = "bind"
	MountTypeVolume MountType = "volume"
	MountTypeTmpfs  MountType = "tmpfs"
)

// RestartPolicy represents the restart policy.
type RestartPolicy string

const (
	RestartNo            RestartPolicy = "no"
	RestartAlways        RestartPolicy = "always"
	RestartOnFailure     RestartPolicy = "on-failure"
	RestartUnlessStopped RestartPolicy = "unless-stopped"
)

// HealthCheck represents health check configuration. Test starts with the mode
// tag CMD, CMD-SHELL or NONE. Zero durations are unset.
type HealthCheck struct {
	Test          []string      `json:"test"`
	Interval      time.Duration `json:"interval,omitempty"`
	Timeout       time.Duration `json:"timeout,omitempty"`
	StartPeriod   time.Duration `json:"start_period,omitempty"`
	StartInterval time.Duration `json:"start_interval,omitempty"`
	Retries       *int          `json:"retries,omitempty"`
}

// ResourceLimits holds resource constraints as declared. Values are parsed
// into engine units only when a container is created.
type ResourceLimits struct {
	CPULimit          string `json:"cpu_limit,omitempty"`          // fraction of a core, e.g. "0.5"
	MemoryLimit       string `json:"memory_limit,omitempty"`       // e.g. "512m"
	MemorySwap        string `json:"memory_swap,omitempty"`        // e.g. "1g", "-1" for unlimited
	MemoryReservation string `json:"memory_reservation,omitempty"` // e.g. "256m"
	CPUShares         string `json:"cpu_shares,omitempty"`         // relative weight
	CpusetCPUs        string `json:"cpuset_cpus,omitempty"`        // e.g. "0-2,4"
}

// IsZero reports whether no limit is declared.
func (r ResourceLimits) IsZero() bool {
	return r == ResourceLimits{}
}

// =============================================================================
// Network Types
// =============================================================================

// Network represents a network definition.
type Network struct {
	Name     string            `json:"name"`
	Driver   string            `json:"driver"`
	External bool              `json:"external"`
	Internal bool              `json:"internal"`
	Labels   map[string]string `json:"labels,omitempty"`
	IPAM     *IPAM             `json:"ipam,omitempty"`
}

// IPAM represents IP address management configuration.
type IPAM struct {
	Driver string     `json:"driver,omitempty"`
	Pools  []IPAMPool `json:"config,omitempty"`
}

// IPAMPool is one address pool of an IPAM block.
type IPAMPool struct {
	Subnet  string `json:"subnet"`
	Gateway string `json:"gateway,omitempty"`
	IPRange string `json:"ip_range,omitempty"`
}

// DefaultNetwork is the network services join when they list none.
const DefaultNetwork = "default"

// =============================================================================
// Volume Types
// =============================================================================

// Volume represents a named volume definition.
type Volume struct {
	Name       string            `json:"name"`
	Driver     string            `json:"driver"`
	DriverOpts map[string]string `json:"driver_opts,omitempty"`
	External   bool              `json:"external"`
	Labels     map[string]string `json:"labels,omitempty"`
}
