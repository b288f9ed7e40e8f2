package main

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/fatih/color"

	"github.com/artpar/stevedore/internal/core/deployment"
	"github.com/artpar/stevedore/internal/shell/docker"
)

// =============================================================================
// Plan and Result Rendering
// =============================================================================

func renderPlan(w io.Writer, plan *deployment.DeploymentPlan) {
	header := color.New(color.FgCyan, color.Bold).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	faint := color.New(color.Faint).SprintFunc()

	fmt.Fprintf(w, "%s %s (%d services in %d waves)\n", header("Project"), plan.Project, len(plan.Containers), len(plan.Waves))

	if len(plan.Networks) > 0 {
		fmt.Fprintln(w, header("Networks"))
		for _, n := range plan.Networks {
			detail := n.Driver
			if n.External {
				detail = "external"
			} else if n.Internal {
				detail += ", internal"
			}
			fmt.Fprintf(w, "  %s %s %s\n", resourceMarker(n.External), n.Name, faint("("+detail+")"))
		}
	}

	if len(plan.Volumes) > 0 {
		fmt.Fprintln(w, header("Volumes"))
		for _, v := range plan.Volumes {
			detail := v.Driver
			if v.External {
				detail = "external"
			}
			fmt.Fprintf(w, "  %s %s %s\n", resourceMarker(v.External), v.Name, faint("("+detail+")"))
		}
	}

	for i, wave := range plan.Waves {
		fmt.Fprintf(w, "%s %d\n", header("Wave"), i+1)
		for _, name := range wave {
			c := plan.Containers[name]
			line := fmt.Sprintf("  %s %s", green(name), faint(c.Image))
			if len(c.Ports) > 0 {
				ports := make([]string, 0, len(c.Ports))
				for _, p := range c.Ports {
					ports = append(ports, formatPort(p))
				}
				line += " " + strings.Join(ports, ",")
			}
			if c.HealthGated() {
				line += " " + yellow("[health-gated]")
			}
			fmt.Fprintln(w, line)
		}
	}
}

// resourceMarker shows whether a resource is created (+) or used as is (=).
func resourceMarker(external bool) string {
	if external {
		return "="
	}
	return "+"
}

func formatPort(p deployment.PortPlan) string {
	host := "*"
	if p.HostPort > 0 {
		host = fmt.Sprint(p.HostPort)
	}
	if p.HostIP != "" {
		host = p.HostIP + ":" + host
	}
	return fmt.Sprintf("%s->%d/%s", host, p.ContainerPort, p.Protocol)
}

func renderResult(w io.Writer, res *docker.Result) {
	green := color.New(color.FgGreen).SprintFunc()
	faint := color.New(color.Faint).SprintFunc()

	fmt.Fprintf(w, "%s %s %s\n", green("Deployed"), res.Project, faint("(run "+res.RunID+")"))
	for _, name := range slices.Sorted(maps.Keys(res.Containers)) {
		fmt.Fprintf(w, "  %s %s\n", name, faint(shortID(res.Containers[name])))
	}
}

func renderFailure(w io.Writer, derr *docker.DeploymentError) {
	red := color.New(color.FgRed, color.Bold).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	fmt.Fprintf(w, "%s %s: %v\n", red("Deployment failed"), derr.Project, derr.Cause)
	if len(derr.RolledBack) > 0 {
		fmt.Fprintln(w, "Rolled back:")
		for _, e := range derr.RolledBack {
			fmt.Fprintf(w, "  - %s %s\n", e.Kind, e.Name)
		}
	}
	if derr.Rollback != nil {
		fmt.Fprintln(w, yellow("Rollback incomplete, remove these by hand or run down:"))
		for _, err := range derr.Rollback.Errors {
			fmt.Fprintf(w, "  ! %v\n", err)
		}
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
