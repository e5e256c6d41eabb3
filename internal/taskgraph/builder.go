package taskgraph

import (
	"strings"

	"github.com/pyr-sh/dag"

	"github.com/jbadeau/forge/internal/forgeerr"
	"github.com/jbadeau/forge/internal/project"
	"github.com/jbadeau/forge/internal/projectgraph"
	"github.com/jbadeau/forge/internal/scm"
	"github.com/jbadeau/forge/internal/util"
)

// Build expands target across every project in projectNames that declares
// it, resolving dependsOn references per spec.md §4.5's grammar, and
// returns the resulting Task Graph.
func Build(pgraph *projectgraph.Graph, projectNames []string, target string) (*Graph, error) {
	g := &Graph{tasks: map[ID]*Task{}, dag: &dag.AcyclicGraph{}}

	type work struct{ project, target string }
	var queue []work
	for _, p := range projectNames {
		proj, ok := pgraph.Get(p)
		if !ok || !proj.HasTarget(target) {
			continue
		}
		queue = append(queue, work{p, target})
	}

	for len(queue) > 0 {
		w := queue[0]
		queue = queue[1:]
		id := util.TaskID(w.project, w.target)
		if _, exists := g.tasks[id]; exists {
			continue
		}

		proj, ok := pgraph.Get(w.project)
		if !ok {
			continue
		}
		t, ok := proj.Targets[w.target]
		if !ok {
			continue
		}

		deps, err := resolveDependsOn(pgraph, proj, t, w.target)
		if err != nil {
			return nil, err
		}

		g.tasks[id] = &Task{
			ID:          id,
			Project:     w.project,
			ProjectRoot: proj.Root,
			TargetName:  w.target,
			Target:      t,
			DependsOn:   deps,
			Inputs:      t.Inputs,
			Outputs:     t.Outputs,
			Cacheable:   t.Cache,
			State:       Pending,
		}
		g.dag.Add(id)

		for _, dep := range deps {
			depProject, depTarget := util.ParseTaskID(dep)
			queue = append(queue, work{depProject, depTarget})
		}
	}

	for id, t := range g.tasks {
		for _, dep := range t.DependsOn {
			g.dag.Connect(dag.BasicEdge(id, dep))
		}
	}

	if _, err := g.ExecutionPlan(); err != nil {
		return nil, err
	}
	return g, nil
}

// resolveDependsOn turns a target's raw dependsOn references into concrete
// task IDs, following the grammar from spec.md §4.5 step 2. Unresolved
// references (naming a target the dependency project doesn't declare) are
// dropped silently, matching the "optional target on a dependency" case
// from spec.md §4.6's edge cases.
func resolveDependsOn(pgraph *projectgraph.Graph, p *project.Project, t project.Target, targetName string) ([]ID, error) {
	selfID := util.TaskID(p.Name, targetName)
	var out []ID
	seen := make(map[ID]struct{})

	appendIfPresent := func(projectName, target string) error {
		dp, ok := pgraph.Get(projectName)
		if !ok || !dp.HasTarget(target) {
			return nil
		}
		id := util.TaskID(projectName, target)
		if id == selfID {
			return forgeerr.New(forgeerr.TaskSelfDep,
				"target \""+targetName+"\" of project \""+p.Name+"\" depends on itself")
		}
		if _, dup := seen[id]; dup {
			return nil
		}
		seen[id] = struct{}{}
		out = append(out, id)
		return nil
	}

	for _, ref := range t.DependsOn {
		switch {
		case strings.HasPrefix(ref, "^"):
			name := strings.TrimPrefix(ref, "^")
			for _, dep := range pgraph.DepsOf(p.Name) {
				if err := appendIfPresent(dep.Target, name); err != nil {
					return nil, err
				}
			}
		case strings.HasPrefix(ref, "self:"):
			name := strings.TrimPrefix(ref, "self:")
			if err := appendIfPresent(p.Name, name); err != nil {
				return nil, err
			}
		case strings.Contains(ref, ":"):
			idx := strings.Index(ref, ":")
			projName, name := ref[:idx], ref[idx+1:]
			if projName == "self" {
				projName = p.Name
			}
			if err := appendIfPresent(projName, name); err != nil {
				return nil, err
			}
		default:
			if err := appendIfPresent(p.Name, ref); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// BuildForProjects builds the Task Graph for target restricted to
// specificProjects, transitively including their project dependencies so
// ordering is preserved, per spec.md §4.5 step 4.
func BuildForProjects(pgraph *projectgraph.Graph, specificProjects []string, target string) (*Graph, error) {
	set := make(map[string]struct{})
	for _, p := range specificProjects {
		set[p] = struct{}{}
		for _, dep := range pgraph.TransitiveDepsOf(p) {
			set[dep] = struct{}{}
		}
	}
	names := make([]string, 0, len(set))
	for p := range set {
		names = append(names, p)
	}
	return Build(pgraph, names, target)
}

// BuildAffected builds the Task Graph for target restricted to projects
// whose inputs changed relative to base, plus their transitive
// dependents, per spec.md §4.5 step 4.
func BuildAffected(pgraph *projectgraph.Graph, repoRoot, base, target string) (*Graph, error) {
	changedFiles, err := scm.ChangedFiles(repoRoot, base)
	if err != nil {
		return nil, err
	}

	changedProjects := make(map[string]struct{})
	for _, p := range pgraph.All() {
		for _, f := range changedFiles {
			if p.Root != "" && (f == p.Root || strings.HasPrefix(f, p.Root+"/")) {
				changedProjects[p.Name] = struct{}{}
				break
			}
		}
	}

	affected := make(map[string]struct{})
	for p := range changedProjects {
		affected[p] = struct{}{}
		for _, dep := range pgraph.TransitiveDependentsOf(p) {
			affected[dep] = struct{}{}
		}
	}

	names := make([]string, 0, len(affected))
	for p := range affected {
		names = append(names, p)
	}
	return Build(pgraph, names, target)
}
