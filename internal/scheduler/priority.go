package scheduler

import "github.com/jbadeau/forge/internal/taskgraph"

// kindWeight gives predictable per-target-name weights for criticalPath
// computation and priority's kindBoost term, per spec.md §4.7. Target
// names are opaque strings elsewhere in the system (spec.md §9), but the
// scheduler is explicitly allowed to recognize common ones for ordering
// hints only — it never changes behavior based on them.
var kindWeight = map[string]int{
	"test":    3,
	"build":   2,
	"package": 1,
}

func weightFor(targetName string) int {
	if w, ok := kindWeight[targetName]; ok {
		return w
	}
	return 1
}

// priorities computes priority(task) = criticalPath(task) +
// 10*successorCount(task) + kindBoost(target) for every task in g, per
// spec.md §4.7.
func priorities(g *taskgraph.Graph) map[taskgraph.ID]int {
	critical := criticalPaths(g)
	out := make(map[taskgraph.ID]int, g.Len())
	for _, t := range g.All() {
		successorCount := len(g.Successors(t.ID))
		out[t.ID] = critical[t.ID] + 10*successorCount + weightFor(t.TargetName)
	}
	return out
}

// criticalPaths computes, for every task, the maximum sum of
// weightFor(targetName) along any descending path (following
// DependsOn edges), via memoized reverse DFS.
func criticalPaths(g *taskgraph.Graph) map[taskgraph.ID]int {
	memo := make(map[taskgraph.ID]int, g.Len())
	var visit func(id taskgraph.ID) int
	visit = func(id taskgraph.ID) int {
		if v, ok := memo[id]; ok {
			return v
		}
		t, ok := g.Get(id)
		if !ok {
			return 0
		}
		best := 0
		for _, dep := range t.DependsOn {
			if v := visit(dep); v > best {
				best = v
			}
		}
		value := weightFor(t.TargetName) + best
		memo[id] = value
		return value
	}
	for _, t := range g.All() {
		visit(t.ID)
	}
	return memo
}
