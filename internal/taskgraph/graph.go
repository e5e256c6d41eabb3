package taskgraph

import (
	"fmt"
	"sort"

	"github.com/pyr-sh/dag"

	"github.com/jbadeau/forge/internal/forgeerr"
)

// Graph is the DAG of Tasks produced by Build/BuildForProjects/BuildAffected.
// Invariants (spec.md §3): acyclic; every DependsOn entry names a Task also
// in the graph; exactly one State at a time per task.
type Graph struct {
	tasks map[ID]*Task
	dag   *dag.AcyclicGraph
}

// Get returns the task with the given ID.
func (g *Graph) Get(id ID) (*Task, bool) {
	t, ok := g.tasks[id]
	return t, ok
}

// All returns every task, sorted by ID for deterministic iteration.
func (g *Graph) All() []*Task {
	out := make([]*Task, 0, len(g.tasks))
	for _, t := range g.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len reports the number of tasks in the graph.
func (g *Graph) Len() int { return len(g.tasks) }

// Dependencies returns id's direct dependency task IDs, per spec.md §4.6.
func (g *Graph) Dependencies(id ID) []ID {
	t, ok := g.tasks[id]
	if !ok {
		return nil
	}
	return t.DependsOn
}

// Successors returns every task that directly depends on id, per
// spec.md §4.6.
func (g *Graph) Successors(id ID) []ID {
	var out []ID
	for _, t := range g.All() {
		for _, d := range t.DependsOn {
			if d == id {
				out = append(out, t.ID)
				break
			}
		}
	}
	return out
}

// transitiveDeps returns every task transitively reachable from id by
// following DependsOn edges, id excluded.
func (g *Graph) transitiveDeps(id ID) map[ID]struct{} {
	visited := map[ID]struct{}{id: {}}
	queue := []ID{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		t, ok := g.tasks[cur]
		if !ok {
			continue
		}
		for _, d := range t.DependsOn {
			if _, ok := visited[d]; ok {
				continue
			}
			visited[d] = struct{}{}
			queue = append(queue, d)
		}
	}
	delete(visited, id)
	return visited
}

// ExecutionPlanFor restricts the execution plan to subset and its
// transitive dependencies, preserving the invariant that every dependency
// of an emitted task is also emitted, per spec.md §4.6.
func (g *Graph) ExecutionPlanFor(subset []ID) ([][]ID, error) {
	closure := make(map[ID]struct{}, len(subset))
	for _, id := range subset {
		closure[id] = struct{}{}
		for d := range g.transitiveDeps(id) {
			closure[d] = struct{}{}
		}
	}
	ids := make([]ID, 0, len(closure))
	for id := range closure {
		ids = append(ids, id)
	}
	return g.Subgraph(ids).ExecutionPlan()
}

// ExecutionPlan partitions the Task Graph into ordered layers where layer
// i depends only on layers <i, per spec.md §3's Execution Plan.
func (g *Graph) ExecutionPlan() ([][]ID, error) {
	inDegree := make(map[ID]int, len(g.tasks))
	for id, t := range g.tasks {
		inDegree[id] = len(t.DependsOn)
	}

	var layers [][]ID
	for len(inDegree) > 0 {
		var layer []ID
		for id, deg := range inDegree {
			if deg == 0 {
				layer = append(layer, id)
			}
		}
		if len(layer) == 0 {
			rest := make([]ID, 0, len(inDegree))
			for id := range inDegree {
				rest = append(rest, id)
			}
			sort.Strings(rest)
			return nil, forgeerr.New(forgeerr.TaskCycle, fmt.Sprintf("cycle among tasks: %v", rest))
		}
		sort.Strings(layer)
		layers = append(layers, layer)
		for _, id := range layer {
			delete(inDegree, id)
		}
		for id := range inDegree {
			deg := 0
			for _, dep := range g.tasks[id].DependsOn {
				if _, gone := inDegree[dep]; gone {
					deg++
				}
			}
			inDegree[id] = deg
		}
	}
	return layers, nil
}

// Dot renders the task graph as Graphviz DOT. `forge graph --dot` renders
// the project graph instead (projectgraph.Graph.Dot).
func (g *Graph) Dot() string {
	return string(g.dag.Dot(&dag.DotOpts{Verbose: true, DrawCycles: true}))
}

// Subgraph returns a new Graph containing only the given task IDs and the
// edges between them, used to scope reporting/execution to a requested
// set without rebuilding from scratch.
func (g *Graph) Subgraph(ids []ID) *Graph {
	out := &Graph{tasks: make(map[ID]*Task, len(ids)), dag: &dag.AcyclicGraph{}}
	keep := make(map[ID]struct{}, len(ids))
	for _, id := range ids {
		keep[id] = struct{}{}
	}
	for _, id := range ids {
		t, ok := g.tasks[id]
		if !ok {
			continue
		}
		cp := *t
		var deps []ID
		for _, d := range t.DependsOn {
			if _, ok := keep[d]; ok {
				deps = append(deps, d)
			}
		}
		cp.DependsOn = deps
		out.tasks[id] = &cp
		out.dag.Add(id)
	}
	for id, t := range out.tasks {
		for _, d := range t.DependsOn {
			out.dag.Connect(dag.BasicEdge(id, d))
		}
	}
	return out
}
