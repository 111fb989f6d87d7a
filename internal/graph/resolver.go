// Package graph answers structural questions about a set of phase specifications:
// cycles, execution order, parallel levels and failure blast radius.
package graph

import (
	"sort"
	"strings"

	"github.com/msageha/phasegate/internal/model"
)

// CycleSeparator joins the phase IDs of a reported cycle path.
const CycleSeparator = " -> "

// Resolver is an immutable snapshot of a loaded spec set. It holds no lock;
// rebuild it with NewResolver when the set changes.
type Resolver struct {
	nodes        []string
	nodeSet      map[string]bool
	dependencies map[string]map[string]bool
	dependents   map[string]map[string]bool
}

// NewResolver builds forward and reverse adjacency in one pass. Dangling
// references are kept as edges but never become nodes. Duplicate phase IDs
// keep the first occurrence.
func NewResolver(specs []model.PhaseSpecification) *Resolver {
	r := &Resolver{
		nodes:        make([]string, 0, len(specs)),
		nodeSet:      make(map[string]bool, len(specs)),
		dependencies: make(map[string]map[string]bool, len(specs)),
		dependents:   make(map[string]map[string]bool),
	}
	for i := range specs {
		id := specs[i].PhaseID
		if r.nodeSet[id] {
			continue
		}
		r.nodeSet[id] = true
		r.nodes = append(r.nodes, id)

		deps := make(map[string]bool, len(specs[i].Dependencies))
		for _, dep := range specs[i].Dependencies {
			deps[dep] = true
			if r.dependents[dep] == nil {
				r.dependents[dep] = make(map[string]bool)
			}
			r.dependents[dep][id] = true
		}
		r.dependencies[id] = deps
	}
	return r
}

// Nodes returns phase IDs in load order.
func (r *Resolver) Nodes() []string {
	return append([]string(nil), r.nodes...)
}

func (r *Resolver) Has(id string) bool {
	return r.nodeSet[id]
}

// Dependencies returns the sorted dependency IDs of id, dangling ones included.
func (r *Resolver) Dependencies(id string) []string {
	return sortedKeys(r.dependencies[id])
}

// Dependents returns the sorted IDs of phases that directly depend on id.
func (r *Resolver) Dependents(id string) []string {
	return sortedKeys(r.dependents[id])
}

// Dangling maps each phase to its dependency references outside the loaded set.
func (r *Resolver) Dangling() map[string][]string {
	out := make(map[string][]string)
	for _, id := range r.nodes {
		for _, dep := range r.Dependencies(id) {
			if !r.nodeSet[dep] {
				out[id] = append(out[id], dep)
			}
		}
	}
	return out
}

// DetectCycles runs a three-color DFS from every unvisited node in
// lexicographic order and reports every cycle it closes.
func (r *Resolver) DetectCycles() (bool, []string) {
	const (
		white = 0
		gray  = 1
		black = 2
	)

	color := make(map[string]int, len(r.nodes))
	var path []string
	var cycles []string

	var dfs func(node string)
	dfs = func(node string) {
		color[node] = gray
		path = append(path, node)

		for _, dep := range r.internalDependencies(node) {
			switch color[dep] {
			case gray:
				for i, n := range path {
					if n == dep {
						cycle := append(append([]string(nil), path[i:]...), dep)
						cycles = append(cycles, strings.Join(cycle, CycleSeparator))
						break
					}
				}
			case white:
				dfs(dep)
			}
		}

		path = path[:len(path)-1]
		color[node] = black
	}

	for _, n := range r.sortedNodes() {
		if color[n] == white {
			dfs(n)
		}
	}
	return len(cycles) > 0, cycles
}

// TopologicalOrder returns dependencies before dependents using Kahn's
// algorithm. ok is false when the graph has a cycle; no partial order is returned.
func (r *Resolver) TopologicalOrder() ([]string, bool) {
	if hasCycles, _ := r.DetectCycles(); hasCycles {
		return nil, false
	}

	inDegree := make(map[string]int, len(r.nodes))
	for _, n := range r.nodes {
		inDegree[n] = len(r.internalDependencies(n))
	}

	var queue []string
	for _, n := range r.sortedNodes() {
		if inDegree[n] == 0 {
			queue = append(queue, n)
		}
	}

	sorted := make([]string, 0, len(r.nodes))
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		sorted = append(sorted, node)

		for _, dependent := range r.Dependents(node) {
			if !r.nodeSet[dependent] {
				continue
			}
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(sorted) != len(r.nodes) {
		return nil, false
	}
	return sorted, true
}

// ParallelLevels groups phases by dependency depth: level 0 has no in-set
// dependencies, level n depends on at least one phase at level n-1. Each level
// is sorted. ok is false when no topological order exists.
func (r *Resolver) ParallelLevels() ([][]string, bool) {
	if _, ok := r.TopologicalOrder(); !ok {
		return nil, false
	}

	levelOf := make(map[string]int, len(r.nodes))
	var level func(node string) int
	level = func(node string) int {
		if l, ok := levelOf[node]; ok {
			return l
		}
		l := 0
		for _, dep := range r.internalDependencies(node) {
			if d := level(dep) + 1; d > l {
				l = d
			}
		}
		levelOf[node] = l
		return l
	}

	maxLevel := -1
	for _, n := range r.nodes {
		if l := level(n); l > maxLevel {
			maxLevel = l
		}
	}

	grouped := make([][]string, maxLevel+1)
	for _, n := range r.nodes {
		grouped[levelOf[n]] = append(grouped[levelOf[n]], n)
	}

	levels := make([][]string, 0, len(grouped))
	for _, members := range grouped {
		if len(members) == 0 {
			continue
		}
		sort.Strings(members)
		levels = append(levels, members)
	}
	return levels, true
}

// BlockedBy returns every phase that transitively depends on failed, sorted.
// failed itself is never included.
func (r *Resolver) BlockedBy(failed string) []string {
	visited := map[string]bool{failed: true}
	queue := []string{failed}
	var result []string

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, dependent := range r.Dependents(current) {
			if visited[dependent] {
				continue
			}
			visited[dependent] = true
			result = append(result, dependent)
			queue = append(queue, dependent)
		}
	}

	sort.Strings(result)
	return result
}

// CanExecute reports whether every declared dependency of id, dangling ones
// included, is in completed.
func (r *Resolver) CanExecute(id string, completed map[string]bool) bool {
	for dep := range r.dependencies[id] {
		if !completed[dep] {
			return false
		}
	}
	return true
}

func (r *Resolver) internalDependencies(id string) []string {
	var deps []string
	for dep := range r.dependencies[id] {
		if r.nodeSet[dep] {
			deps = append(deps, dep)
		}
	}
	sort.Strings(deps)
	return deps
}

func (r *Resolver) sortedNodes() []string {
	nodes := r.Nodes()
	sort.Strings(nodes)
	return nodes
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
