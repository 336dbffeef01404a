package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/coordtech/packline/pkg/artifact"
	"github.com/coordtech/packline/pkg/errdefs"
)

// depGraph is the directed dependency graph over package identities. Edges
// point from a dependency to its dependents; execution walks levels so a
// dependency is always handled before anything that requires it.
type depGraph struct {
	nodes map[string]artifact.Identity

	// adjacency maps a node to its dependents.
	adjacency map[string][]string

	// reverse maps a node to its dependencies.
	reverse map[string][]string

	inDegree map[string]int
}

func newDepGraph() *depGraph {
	return &depGraph{
		nodes:     make(map[string]artifact.Identity),
		adjacency: make(map[string][]string),
		reverse:   make(map[string][]string),
		inDegree:  make(map[string]int),
	}
}

func (g *depGraph) addNode(id artifact.Identity) {
	key := id.Key()
	if _, exists := g.nodes[key]; exists {
		return
	}
	g.nodes[key] = id
	g.adjacency[key] = nil
	g.reverse[key] = nil
	g.inDegree[key] = 0
}

// addEdge records that dependent requires dep. Both nodes must exist.
func (g *depGraph) addEdge(dep, dependent artifact.Identity) error {
	dk, tk := dep.Key(), dependent.Key()
	if _, ok := g.nodes[dk]; !ok {
		return fmt.Errorf("edge references unknown node %s", dep)
	}
	if _, ok := g.nodes[tk]; !ok {
		return fmt.Errorf("edge references unknown node %s", dependent)
	}
	g.adjacency[dk] = append(g.adjacency[dk], tk)
	g.reverse[tk] = append(g.reverse[tk], dk)
	g.inDegree[tk]++
	return nil
}

// detectCycles runs depth-first search over every component. A cycle fails
// with a permanent error carrying CodeCyclicDependency and the cycle path.
func (g *depGraph) detectCycles() error {
	visited := make(map[string]bool)
	onStack := make(map[string]bool)

	keys := make([]string, 0, len(g.nodes))
	for k := range g.nodes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if visited[k] {
			continue
		}
		if cycle := g.findCycle(k, visited, onStack, nil); cycle != nil {
			names := make([]string, len(cycle))
			for i, c := range cycle {
				names[i] = g.nodes[c].String()
			}
			return errdefs.NewPermanent(
				fmt.Sprintf("cyclic dependency: %s", strings.Join(names, " -> ")), nil).
				WithCode(errdefs.CodeCyclicDependency)
		}
	}
	return nil
}

func (g *depGraph) findCycle(node string, visited, onStack map[string]bool, path []string) []string {
	visited[node] = true
	onStack[node] = true
	path = append(path, node)

	for _, next := range g.adjacency[node] {
		if !visited[next] {
			if cycle := g.findCycle(next, visited, onStack, path); cycle != nil {
				return cycle
			}
		} else if onStack[next] {
			// Reconstruct the cycle from where it re-enters the path.
			for i, p := range path {
				if p == next {
					return append(path[i:], next)
				}
			}
			return append(path, next)
		}
	}

	onStack[node] = false
	return nil
}

// levels computes topological execution levels with Kahn's algorithm.
// Identities within a level are mutually independent and may run in
// parallel; levels run in order. detectCycles must have passed.
func (g *depGraph) levels() ([][]artifact.Identity, error) {
	degree := make(map[string]int, len(g.inDegree))
	for k, d := range g.inDegree {
		degree[k] = d
	}

	var current []string
	for k, d := range degree {
		if d == 0 {
			current = append(current, k)
		}
	}
	if len(current) == 0 && len(g.nodes) > 0 {
		return nil, errdefs.NewPermanent("no dependency-free packages found", nil).
			WithCode(errdefs.CodeCyclicDependency)
	}

	var out [][]artifact.Identity
	processed := 0
	for len(current) > 0 {
		sort.Strings(current)
		level := make([]artifact.Identity, len(current))
		for i, k := range current {
			level[i] = g.nodes[k]
		}
		out = append(out, level)
		processed += len(current)

		var next []string
		for _, k := range current {
			for _, dependent := range g.adjacency[k] {
				degree[dependent]--
				if degree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		current = next
	}

	if processed != len(g.nodes) {
		return nil, errdefs.NewPermanent("dependency graph contains a cycle", nil).
			WithCode(errdefs.CodeCyclicDependency)
	}
	return out, nil
}

// dependenciesOf returns the direct dependencies of an identity.
func (g *depGraph) dependenciesOf(id artifact.Identity) []artifact.Identity {
	keys := g.reverse[id.Key()]
	out := make([]artifact.Identity, len(keys))
	for i, k := range keys {
		out[i] = g.nodes[k]
	}
	return out
}
