package deployment

import (
	"github.com/artpar/stevedore/internal/core/compose"
	"github.com/artpar/stevedore/internal/core/translate"
)

// =============================================================================
// Container Plan Types
// =============================================================================

// ContainerPlan represents a planned container configuration.
// This is the pure output of planning, ready for the shell to execute.
type ContainerPlan struct {
	Name          string
	Service       string
	Image         string
	Command       []string
	Entrypoint    []string
	Env           map[string]string
	Labels        map[string]string
	Ports         []PortPlan
	Mounts        []MountPlan
	Networks      []NetworkAttachment
	RestartPolicy RestartPolicyPlan
	Resources     translate.EngineResources
	HealthCheck   *translate.EngineHealthCheck
	WorkingDir    string
	User          string
}

// HealthGated reports whether the deployment must wait for the container to
// report healthy before moving on.
func (p ContainerPlan) HealthGated() bool {
	return p.HealthCheck != nil && !p.HealthCheck.Disabled()
}

// PortPlan represents a planned port binding.
type PortPlan struct {
	ContainerPort int
	HostPort      int
	Protocol      string
	HostIP        string
}

// MountPlan represents a planned mount. Source is the engine volume name for
// named volumes, the host path for binds, and empty for anonymous volumes and
// tmpfs.
type MountPlan struct {
	Type     compose.MountType
	Source   string
	Target   string
	ReadOnly bool
	NoCopy   bool
}

// NetworkAttachment connects a container to an engine network. Aliases make
// the service reachable by its compose name.
type NetworkAttachment struct {
	Network string
	Aliases []string
}

// RestartPolicyPlan represents a restart policy.
type RestartPolicyPlan struct {
	Name              string
	MaximumRetryCount int
}

// =============================================================================
// Network and Volume Plan Types
// =============================================================================

// NetworkPlan represents a planned engine network.
type NetworkPlan struct {
	Key      string // name in the compose file
	Name     string // engine name
	Driver   string
	Internal bool
	External bool
	Labels   map[string]string
	IPAM     *translate.EngineIPAM
}

// VolumePlan represents a planned engine volume.
type VolumePlan struct {
	Key        string // name in the compose file
	Name       string // engine name
	Driver     string
	DriverOpts map[string]string
	External   bool
	Labels     map[string]string
}

// =============================================================================
// Builder Parameter Types
// =============================================================================

// BuildContainerPlanParams contains all inputs for building a container plan.
type BuildContainerPlanParams struct {
	Project string
	RunID   string
	Service compose.Service
	Image   string // resolved image reference, built or pulled
	Config  *compose.DeploymentConfig
}

// =============================================================================
// Stevedore Labels
// =============================================================================

// Label keys used to identify resources created by stevedore.
const (
	LabelManaged = "com.stevedore.managed"
	LabelProject = "com.stevedore.project"
	LabelService = "com.stevedore.service"
	LabelRun     = "com.stevedore.run"
	LabelNetwork = "com.stevedore.network"
	LabelVolume  = "com.stevedore.volume"
)

// ProjectLabels returns the labels shared by every resource of a run.
func ProjectLabels(project, runID string) map[string]string {
	return map[string]string{
		LabelManaged: "true",
		LabelProject: project,
		LabelRun:     runID,
	}
}
