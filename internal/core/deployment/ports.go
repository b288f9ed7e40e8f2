package deployment

import (
	"github.com/artpar/stevedore/internal/core/compose"
)

// =============================================================================
// Port Conversion Functions
// =============================================================================

// PortPlans converts compose port bindings into plan form.
// Default protocol is "tcp" if empty.
//
// Example:
//
//	ports := []compose.PortBinding{{Container: 80, Host: 8080}}
//	plans := PortPlans(ports)
//	// Result: []PortPlan{{ContainerPort: 80, HostPort: 8080, Protocol: "tcp"}}
func PortPlans(ports []compose.PortBinding) []PortPlan {
	if len(ports) == 0 {
		return nil
	}

	result := make([]PortPlan, 0, len(ports))
	for _, p := range ports {
		proto := p.Protocol
		if proto == "" {
			proto = "tcp"
		}
		result = append(result, PortPlan{
			ContainerPort: int(p.Container),
			HostPort:      int(p.Host),
			Protocol:      proto,
			HostIP:        p.HostIP,
		})
	}
	return result
}
