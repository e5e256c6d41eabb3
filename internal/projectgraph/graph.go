// Package projectgraph implements the Project Discoverer (C3) and the
// Project Graph (C4): an immutable typed graph of projects with
// traversal operations, composed from explicit per-directory manifests
// and inferrer output.
package projectgraph

import (
	"fmt"
	"sort"

	"github.com/pyr-sh/dag"

	"github.com/jbadeau/forge/internal/forgeerr"
	"github.com/jbadeau/forge/internal/project"
)

// Graph is the immutable (Nodes, Edges) pair from spec.md §3. Edges are
// directed source→target meaning "source depends on target".
type Graph struct {
	nodes      map[string]*project.Project
	edges      map[string][]project.Dependency // source -> outgoing edges, insertion order
	dependents map[string][]string             // target -> sources, insertion order
	dag        *dag.AcyclicGraph
}

// Build composes a Graph from a node set and a set of dependency edges,
// deduplicating duplicate directed edges per spec.md §3's invariant.
// Edge endpoints naming a node absent from nodes are dropped rather than
// failing the build: dangling plugin-reported edges are a plugin
// authoring mistake, not a reason to abort discovery.
func Build(nodes map[string]*project.Project, deps []project.Dependency) *Graph {
	g := &Graph{
		nodes:      make(map[string]*project.Project, len(nodes)),
		edges:      make(map[string][]project.Dependency),
		dependents: make(map[string][]string),
		dag:        &dag.AcyclicGraph{},
	}
	for name, p := range nodes {
		g.nodes[name] = p
		g.dag.Add(name)
	}

	seen := make(map[string]struct{})
	for _, d := range deps {
		if _, ok := g.nodes[d.Source]; !ok {
			continue
		}
		if _, ok := g.nodes[d.Target]; !ok {
			continue
		}
		key := d.Source + "\x00" + d.Target
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if d.Kind == "" {
			d.Kind = project.DefaultDK
		}

		g.edges[d.Source] = append(g.edges[d.Source], d)
		g.dependents[d.Target] = append(g.dependents[d.Target], d.Source)
		g.dag.Connect(dag.BasicEdge(d.Source, d.Target))
	}
	return g
}

// Get returns the named project.
func (g *Graph) Get(name string) (*project.Project, bool) {
	p, ok := g.nodes[name]
	return p, ok
}

// All returns every project, sorted by name for deterministic output.
func (g *Graph) All() []*project.Project {
	out := make([]*project.Project, 0, len(g.nodes))
	for _, p := range g.nodes {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ByTag returns every project carrying the given tag.
func (g *Graph) ByTag(tag string) []*project.Project {
	var out []*project.Project
	for _, p := range g.All() {
		for _, t := range p.Tags {
			if t == tag {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

// ByType returns every project of the given type.
func (g *Graph) ByType(t project.Type) []*project.Project {
	var out []*project.Project
	for _, p := range g.All() {
		if p.ProjectType == t {
			out = append(out, p)
		}
	}
	return out
}

// DepsOf returns name's direct dependencies, in declared order.
func (g *Graph) DepsOf(name string) []project.Dependency {
	return g.edges[name]
}

// TransitiveDepsOf returns every project transitively reachable from name
// by following dependency edges forward, name excluded.
func (g *Graph) TransitiveDepsOf(name string) []string {
	visited := map[string]struct{}{name: {}}
	var out []string
	queue := []string{name}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, d := range g.edges[cur] {
			if _, ok := visited[d.Target]; ok {
				continue
			}
			visited[d.Target] = struct{}{}
			out = append(out, d.Target)
			queue = append(queue, d.Target)
		}
	}
	sort.Strings(out)
	return out
}

// TransitiveDependentsOf returns every project that transitively depends
// on name, name excluded.
func (g *Graph) TransitiveDependentsOf(name string) []string {
	visited := map[string]struct{}{name: {}}
	var out []string
	queue := []string{name}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, src := range g.dependents[cur] {
			if _, ok := visited[src]; ok {
				continue
			}
			visited[src] = struct{}{}
			out = append(out, src)
			queue = append(queue, src)
		}
	}
	sort.Strings(out)
	return out
}

// TopologicalLayers groups projects into layers such that every project in
// layer i depends only on projects in layers < i, using Kahn's algorithm.
// Unlike the Task Graph, the Project Graph tolerates cycles as build-system
// metadata (spec.md §4.3); a cycle here simply makes layering fail with
// GRAPH_CYCLE naming the remaining unorderable set, rather than indicating
// a fatal misconfiguration.
func (g *Graph) TopologicalLayers() ([][]string, error) {
	inDegree := make(map[string]int, len(g.nodes))
	for name := range g.nodes {
		inDegree[name] = len(g.edges[name])
	}

	var layers [][]string
	remaining := len(inDegree)
	for remaining > 0 {
		var layer []string
		for name, deg := range inDegree {
			if deg == 0 {
				layer = append(layer, name)
			}
		}
		if len(layer) == 0 {
			rest := make([]string, 0, len(inDegree))
			for name := range inDegree {
				rest = append(rest, name)
			}
			sort.Strings(rest)
			return nil, forgeerr.New(forgeerr.GraphCycle,
				fmt.Sprintf("cycle detected among: %v", rest))
		}
		sort.Strings(layer)
		layers = append(layers, layer)
		for _, name := range layer {
			delete(inDegree, name)
			remaining--
		}
		for name := range inDegree {
			newDeg := 0
			for _, d := range g.edges[name] {
				if _, gone := inDegree[d.Target]; gone {
					newDeg++
				}
			}
			inDegree[name] = newDeg
		}
	}
	return layers, nil
}

// Dot renders the graph as Graphviz DOT, for `forge graph --dot`.
func (g *Graph) Dot() string {
	return string(g.dag.Dot(&dag.DotOpts{Verbose: true, DrawCycles: true}))
}
