// Package scheduler orders services into startup waves from their depends_on
// edges.
// This is part of the Functional Core - all functions are pure with no I/O.
package scheduler

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/artpar/stevedore/internal/core/compose"
)

// =============================================================================
// Scheduler Errors
// =============================================================================

var (
	// ErrDependencyCycle is returned when services depend on each other in a loop.
	ErrDependencyCycle = errors.New("dependency cycle")

	// ErrUnknownDependency is returned when depends_on names a service that does not exist.
	ErrUnknownDependency = errors.New("unknown dependency")

	// ErrDuplicateService is returned when two services share a name.
	ErrDuplicateService = errors.New("duplicate service name")
)

// DependencyCycleError reports one shortest cycle. Each service in Cycle
// depends on the next, and the last depends on the first.
type DependencyCycleError struct {
	Cycle []string
}

func (e *DependencyCycleError) Error() string {
	path := append(slices.Clone(e.Cycle), e.Cycle[0])
	return "dependency cycle: " + strings.Join(path, " -> ")
}

func (e *DependencyCycleError) Unwrap() error {
	return ErrDependencyCycle
}

// =============================================================================
// Wave Scheduling
// =============================================================================

// Waves groups services so that every service's dependencies are in strictly
// earlier waves. Wave 0 holds services without dependencies. Names within a
// wave are sorted ascending.
//
// The algorithm is Kahn's topological sort, processed a layer at a time:
//  1. Count each service's in-degree (number of distinct dependencies)
//  2. Collect every service whose in-degree is zero as the next wave
//  3. Remove that wave, reducing the in-degree of its dependents
//  4. Repeat until no service remains; leftovers mean a cycle
//
// Example:
//
//	// a has no deps, b depends on a, c depends on a and b
//	waves, _ := Waves(services)
//	// Result: [[a] [b] [c]]
func Waves(services []compose.Service) ([][]string, error) {
	g, err := newGraph(services)
	if err != nil {
		return nil, err
	}

	inDegree := make(map[string]int, len(g.deps))
	for name, deps := range g.deps {
		inDegree[name] = len(deps)
	}

	var ready []string
	for name, degree := range inDegree {
		if degree == 0 {
			ready = append(ready, name)
		}
	}

	var waves [][]string
	placed := 0
	for len(ready) > 0 {
		slices.Sort(ready)
		waves = append(waves, ready)
		placed += len(ready)

		var next []string
		for _, name := range ready {
			for _, dependent := range g.dependents[name] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		ready = next
	}

	if placed < len(g.deps) {
		var stuck []string
		for name, degree := range inDegree {
			if degree > 0 {
				stuck = append(stuck, name)
			}
		}
		return nil, &DependencyCycleError{Cycle: g.shortestCycle(stuck)}
	}
	return waves, nil
}

// Order flattens waves into a single sequential startup order.
func Order(waves [][]string) []string {
	var out []string
	for _, wave := range waves {
		out = append(out, wave...)
	}
	return out
}

// =============================================================================
// Dependency Graph (internal)
// =============================================================================

// graph has an entry in deps for every service, mapping it to the sorted,
// de-duplicated services it depends on.
type graph struct {
	deps       map[string][]string
	dependents map[string][]string
}

func newGraph(services []compose.Service) (*graph, error) {
	g := &graph{
		deps:       make(map[string][]string, len(services)),
		dependents: make(map[string][]string),
	}
	for _, svc := range services {
		if _, dup := g.deps[svc.Name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateService, svc.Name)
		}
		deps := slices.Clone(svc.DependsOn)
		slices.Sort(deps)
		g.deps[svc.Name] = slices.Compact(deps)
	}

	for name, deps := range g.deps {
		for _, dep := range deps {
			if _, ok := g.deps[dep]; !ok {
				return nil, fmt.Errorf("%w: service %q depends on %q", ErrUnknownDependency, name, dep)
			}
			g.dependents[dep] = append(g.dependents[dep], name)
		}
	}
	return g, nil
}

// shortestCycle returns the shortest cycle through any of candidates, which
// must all lie on or behind a cycle. Ties go to the cycle through the
// lexically smallest service, and the cycle starts at that service.
func (g *graph) shortestCycle(candidates []string) []string {
	slices.Sort(candidates)

	var best []string
	for _, start := range candidates {
		if cycle := g.cycleThrough(start); cycle != nil && (best == nil || len(cycle) < len(best)) {
			best = cycle
		}
	}
	return best
}

// cycleThrough finds the shortest path start -> ... -> start by breadth-first
// search, visiting neighbours in lexical order.
func (g *graph) cycleThrough(start string) []string {
	parent := map[string]string{}
	queue := []string{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range g.deps[cur] {
			if next == start {
				path := []string{cur}
				for path[len(path)-1] != start {
					path = append(path, parent[path[len(path)-1]])
				}
				slices.Reverse(path)
				return path
			}
			if _, seen := parent[next]; !seen {
				parent[next] = cur
				queue = append(queue, next)
			}
		}
	}
	return nil
}
