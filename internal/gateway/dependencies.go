package gateway

import (
	"fmt"
	"sort"
	"strings"

	"github.com/msageha/phasegate/internal/model"
)

// checkDependencies validates dependency references. When set is non-nil the
// cycle search runs over the set's edges starting at spec.
func checkDependencies(spec *model.PhaseSpecification, set map[string][]string) *layerCheck {
	c := &layerCheck{}
	if spec.PhaseID == "" {
		c.errs.Add("phase_id", "required field is missing; self-dependency and cycle checks cannot run")
	}

	seen := make(map[string]bool, len(spec.Dependencies))
	for i, dep := range spec.Dependencies {
		path := fmt.Sprintf("dependencies[%d]", i)
		if spec.PhaseID != "" && dep == spec.PhaseID {
			c.errs.Add(path, fmt.Sprintf("self-dependency on %q is not allowed", dep))
			continue
		}
		if !model.IsValidPhaseID(dep) {
			c.errs.Add(path, fmt.Sprintf("invalid dependency reference %q: must match %s",
				dep, model.PhaseIDPattern.String()))
			continue
		}
		if seen[dep] {
			c.warns.Add(path, fmt.Sprintf("duplicate dependency %q", dep))
		}
		seen[dep] = true

		if set != nil {
			if _, ok := set[dep]; !ok {
				c.warns.Add(path, fmt.Sprintf("dependency %q is not in the loaded spec set", dep))
			}
		}
	}

	if set != nil && spec.PhaseID != "" {
		edges := make(map[string][]string, len(set)+1)
		for id, deps := range set {
			edges[id] = deps
		}
		// The spec under validation wins over any stale copy in the set.
		edges[spec.PhaseID] = spec.Dependencies
		if cycle := findCycleFrom(spec.PhaseID, edges); cycle != nil {
			c.errs.Add("dependencies", "circular dependency detected: "+strings.Join(cycle, " -> "))
		}
	}

	return c
}

// findCycleFrom returns the first cycle reachable from start, or nil.
// Self edges are skipped; they are reported as self-dependencies instead.
func findCycleFrom(start string, edges map[string][]string) []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)

	color := make(map[string]int)
	var path []string
	var cycle []string

	var dfs func(node string) bool
	dfs = func(node string) bool {
		color[node] = gray
		path = append(path, node)

		deps := append([]string(nil), edges[node]...)
		sort.Strings(deps)
		for _, dep := range deps {
			if dep == node {
				continue
			}
			if _, known := edges[dep]; !known {
				continue
			}
			switch color[dep] {
			case gray:
				for i, n := range path {
					if n == dep {
						cycle = append(append([]string(nil), path[i:]...), dep)
						return true
					}
				}
			case white:
				if dfs(dep) {
					return true
				}
			}
		}

		path = path[:len(path)-1]
		color[node] = black
		return false
	}

	if dfs(start) {
		return cycle
	}
	return nil
}
