package deployment

import (
	"errors"
	"fmt"
	"slices"

	"github.com/artpar/stevedore/internal/core/compose"
	"github.com/artpar/stevedore/internal/core/scheduler"
)

// ErrInvalidProject is returned when a project name is empty or not normalized.
var ErrInvalidProject = errors.New("invalid project name")

// =============================================================================
// Deployment Planning
// =============================================================================

// DeploymentPlan is everything a run will do, computed without touching the
// runtime. Containers is keyed by service name.
type DeploymentPlan struct {
	Project    string
	RunID      string
	Waves      [][]string
	Networks   []NetworkPlan
	Volumes    []VolumePlan
	Containers map[string]ContainerPlan
}

// ServiceImage returns the image reference a service runs: its declared image,
// or a project-scoped tag when it is built without one.
func ServiceImage(project string, svc compose.Service) string {
	if svc.Image != "" {
		return svc.Image
	}
	return ImageName(project, svc.Name)
}

// PlanDeployment validates cfg as a whole and plans every network, volume and
// container. It runs the compose cross-reference checks, the scheduler and
// every translator, and reports all violations together as a
// *compose.ValidationError rather than stopping at the first.
//
// Example:
//
//	plan, err := PlanDeployment(cfg, "shop", runID)
//	// plan.Waves: [[db] [api] [web]]
func PlanDeployment(cfg *compose.DeploymentConfig, project, runID string) (*DeploymentPlan, error) {
	if project == "" || ProjectName(project) != project {
		return nil, fmt.Errorf("%w: %q", ErrInvalidProject, project)
	}

	verr := &compose.ValidationError{}
	verr.Add(compose.Validate(cfg))

	// Unknown dependencies are already reported by compose.Validate, so the
	// scheduler only sees known ones and can still find cycles.
	waves, err := scheduler.Waves(knownDependencies(cfg))
	verr.Add(err)

	plan := &DeploymentPlan{
		Project:    project,
		RunID:      runID,
		Waves:      waves,
		Containers: make(map[string]ContainerPlan, len(cfg.Services)),
	}

	for _, n := range cfg.Networks {
		np, err := BuildNetworkPlan(project, runID, n)
		if err != nil {
			verr.Add(err)
			continue
		}
		plan.Networks = append(plan.Networks, np)
	}

	for _, v := range cfg.Volumes {
		plan.Volumes = append(plan.Volumes, BuildVolumePlan(project, runID, v))
	}

	for _, svc := range cfg.Services {
		cp, err := BuildContainerPlan(BuildContainerPlanParams{
			Project: project,
			RunID:   runID,
			Service: svc,
			Image:   ServiceImage(project, svc),
			Config:  cfg,
		})
		if err != nil {
			verr.Add(err)
			continue
		}
		plan.Containers[svc.Name] = cp
	}

	if err := verr.Err(); err != nil {
		return nil, err
	}
	return plan, nil
}

func knownDependencies(cfg *compose.DeploymentConfig) []compose.Service {
	services := slices.Clone(cfg.Services)
	for i, svc := range services {
		services[i].DependsOn = slices.DeleteFunc(slices.Clone(svc.DependsOn), func(dep string) bool {
			_, ok := cfg.Service(dep)
			return !ok
		})
	}
	return services
}
