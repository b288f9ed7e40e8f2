// Package deployment provides pure functions for deployment planning.
//
// This package contains the functional core logic for transforming a parsed
// compose.DeploymentConfig into engine-level execution plans. All functions
// are pure (no I/O, no side effects).
//
// # Functions
//
//   - Naming: Generate consistent resource names (ProjectName, NetworkName, VolumeName, ContainerName, ImageName)
//   - Ports: Convert port bindings into plan form (PortPlans)
//   - Container: Build container, network and volume plans (BuildContainerPlan, BuildNetworkPlan, BuildVolumePlan)
//   - Planner: Validate a whole config and plan every wave (PlanDeployment)
//   - State: The per-run state machine (RunState, Next)
//
// # Usage
//
// The imperative shell (internal/shell/docker) uses these pure functions
// to plan deployments, then executes the plans via the Docker API.
//
//	plan, err := deployment.PlanDeployment(cfg, "shop", runID)
//	for _, wave := range plan.Waves {
//	    for _, name := range wave {
//	        cp, err := deployment.BuildContainerPlan(params)
//	    }
//	}
package deployment
