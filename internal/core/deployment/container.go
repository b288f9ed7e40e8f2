package deployment

import (
	"maps"
	"strconv"
	"strings"

	"github.com/artpar/stevedore/internal/core/compose"
	"github.com/artpar/stevedore/internal/core/translate"
)

// =============================================================================
// Container Plan Building Functions
// =============================================================================

// BuildContainerPlan builds a ContainerPlan from a compose service.
//
// This is a pure function that transforms a compose service definition into
// a container plan that the shell can execute via the Docker API.
//
// The function:
//   - Uses container_name or generates the name with ContainerName()
//   - Copies command, entrypoint and environment from the service
//   - Maps named volumes and networks to their engine names
//   - Translates resource limits and health check into engine units
//   - Maps restart policy to Docker format
//   - Merges service labels under the stevedore labels
//
// Translation failures are returned as *compose.ComposeError naming the
// service key, wrapping the translator's error.
//
// Example:
//
//	params := BuildContainerPlanParams{
//	    Project: "shop",
//	    RunID:   "3f1c...",
//	    Service: compose.Service{Name: "web", Image: "nginx:latest"},
//	    Config:  cfg,
//	}
//	plan, err := BuildContainerPlan(params)
func BuildContainerPlan(params BuildContainerPlanParams) (ContainerPlan, error) {
	svc := params.Service
	path := "services." + svc.Name

	plan := ContainerPlan{
		Name:       svc.ContainerName,
		Service:    svc.Name,
		Image:      params.Image,
		Command:    svc.Command,
		Entrypoint: svc.Entrypoint,
		Env:        maps.Clone(svc.Environment),
		Labels:     maps.Clone(svc.Labels),
		Ports:      PortPlans(svc.Ports),
		WorkingDir: svc.WorkingDir,
		User:       svc.User,
	}
	if plan.Name == "" {
		plan.Name = ContainerName(params.Project, svc.Name)
	}
	if plan.Image == "" {
		plan.Image = svc.Image
	}
	if plan.Labels == nil {
		plan.Labels = make(map[string]string)
	}
	maps.Copy(plan.Labels, ProjectLabels(params.Project, params.RunID))
	plan.Labels[LabelService] = svc.Name

	// Mounts
	for _, m := range svc.Mounts {
		source := m.Source
		if m.Type == compose.MountTypeVolume && source != "" {
			source = engineVolumeName(params.Config, params.Project, source)
		}
		plan.Mounts = append(plan.Mounts, MountPlan{
			Type:     m.Type,
			Source:   source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly(),
			NoCopy:   strings.Contains(","+m.Mode+",", ",nocopy,"),
		})
	}

	// Networks, with the service name as alias for discovery
	for _, name := range svc.Networks {
		plan.Networks = append(plan.Networks, NetworkAttachment{
			Network: engineNetworkName(params.Config, params.Project, name),
			Aliases: []string{svc.Name},
		})
	}

	// Resource limits
	resources, err := translate.Resources(svc.Resources)
	if err != nil {
		return ContainerPlan{}, compose.NewComposeError(path+".resources", err.Error(), err)
	}
	plan.Resources = resources

	// Health check
	hc, err := translate.HealthCheck(svc.HealthCheck)
	if err != nil {
		return ContainerPlan{}, compose.NewComposeError(path+".healthcheck", err.Error(), err)
	}
	plan.HealthCheck = hc

	plan.RestartPolicy = mapRestartPolicy(svc.Restart)
	return plan, nil
}

// mapRestartPolicy maps compose restart policy to Docker restart policy name.
func mapRestartPolicy(policy compose.RestartPolicy) RestartPolicyPlan {
	name, retries, _ := strings.Cut(string(policy), ":")
	switch compose.RestartPolicy(name) {
	case compose.RestartAlways:
		return RestartPolicyPlan{Name: "always"}
	case compose.RestartOnFailure:
		n, _ := strconv.Atoi(retries)
		return RestartPolicyPlan{Name: "on-failure", MaximumRetryCount: n}
	case compose.RestartUnlessStopped:
		return RestartPolicyPlan{Name: "unless-stopped"}
	default:
		return RestartPolicyPlan{Name: "no"}
	}
}

// =============================================================================
// Network and Volume Plan Building Functions
// =============================================================================

// BuildNetworkPlan builds a NetworkPlan, validating its IPAM block.
// External networks keep their declared name and get no labels.
func BuildNetworkPlan(project, runID string, n compose.Network) (NetworkPlan, error) {
	ipam, err := translate.IPAM(n.IPAM)
	if err != nil {
		return NetworkPlan{}, compose.NewComposeError("networks."+n.Name+".ipam", err.Error(), err)
	}

	plan := NetworkPlan{
		Key:      n.Name,
		Name:     n.Name,
		Driver:   n.Driver,
		Internal: n.Internal,
		External: n.External,
		IPAM:     ipam,
	}
	if !n.External {
		plan.Name = NetworkName(project, n.Name)
		plan.Labels = resourceLabels(n.Labels, project, runID, LabelNetwork, n.Name)
	}
	return plan, nil
}

// BuildVolumePlan builds a VolumePlan. External volumes keep their declared
// name and get no labels.
func BuildVolumePlan(project, runID string, v compose.Volume) VolumePlan {
	plan := VolumePlan{
		Key:        v.Name,
		Name:       v.Name,
		Driver:     v.Driver,
		DriverOpts: v.DriverOpts,
		External:   v.External,
	}
	if !v.External {
		plan.Name = VolumeName(project, v.Name)
		plan.Labels = resourceLabels(v.Labels, project, runID, LabelVolume, v.Name)
	}
	return plan
}

func resourceLabels(declared map[string]string, project, runID, key, value string) map[string]string {
	labels := maps.Clone(declared)
	if labels == nil {
		labels = make(map[string]string)
	}
	maps.Copy(labels, ProjectLabels(project, runID))
	labels[key] = value
	return labels
}

func engineNetworkName(cfg *compose.DeploymentConfig, project, name string) string {
	if cfg != nil {
		if n, ok := cfg.Network(name); ok && n.External {
			return name
		}
	}
	return NetworkName(project, name)
}

func engineVolumeName(cfg *compose.DeploymentConfig, project, name string) string {
	if cfg != nil {
		if v, ok := cfg.Volume(name); ok && v.External {
			return name
		}
	}
	return VolumeName(project, name)
}
