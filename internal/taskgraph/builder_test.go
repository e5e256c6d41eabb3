package taskgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbadeau/forge/internal/project"
	"github.com/jbadeau/forge/internal/projectgraph"
)

func buildGraph(t *testing.T) *projectgraph.Graph {
	t.Helper()
	nodes := map[string]*project.Project{
		"core": {Name: "core", Targets: map[string]project.Target{
			"build": {Name: "build"},
		}},
		"lib": {Name: "lib", Targets: map[string]project.Target{
			"build": {Name: "build", DependsOn: []string{"^build"}},
		}},
		"app": {Name: "app", Targets: map[string]project.Target{
			"build": {Name: "build", DependsOn: []string{"^build", "lint"}},
			"lint":  {Name: "lint"},
		}},
	}
	deps := []project.Dependency{
		{Source: "lib", Target: "core"},
		{Source: "app", Target: "lib"},
	}
	return projectgraph.Build(nodes, deps)
}

func TestBuildExpandsCrossProjectDependency(t *testing.T) {
	pg := buildGraph(t)
	g, err := Build(pg, []string{"app"}, "build")
	require.NoError(t, err)

	require.Equal(t, 4, g.Len())
	appBuild, ok := g.Get("app:build")
	require.True(t, ok)
	assert.ElementsMatch(t, []ID{"lib:build", "app:lint"}, appBuild.DependsOn)

	_, ok = g.Get("lib:build")
	require.True(t, ok)
	_, ok = g.Get("core:build")
	require.True(t, ok)
}

func TestBuildDropsUnresolvedDependency(t *testing.T) {
	pg := projectgraph.Build(map[string]*project.Project{
		"solo": {Name: "solo", Targets: map[string]project.Target{
			"build": {Name: "build", DependsOn: []string{"nonexistent-target"}},
		}},
	}, nil)
	g, err := Build(pg, []string{"solo"}, "build")
	require.NoError(t, err)
	task, ok := g.Get("solo:build")
	require.True(t, ok)
	assert.Empty(t, task.DependsOn)
}

func TestBuildRejectsSelfDependency(t *testing.T) {
	pg := projectgraph.Build(map[string]*project.Project{
		"solo": {Name: "solo", Targets: map[string]project.Target{
			"build": {Name: "build", DependsOn: []string{"build"}},
		}},
	}, nil)
	_, err := Build(pg, []string{"solo"}, "build")
	require.Error(t, err)
}

func TestBuildDetectsCycle(t *testing.T) {
	pg := projectgraph.Build(map[string]*project.Project{
		"a": {Name: "a", Targets: map[string]project.Target{
			"build": {Name: "build", DependsOn: []string{"b:build"}},
		}},
		"b": {Name: "b", Targets: map[string]project.Target{
			"build": {Name: "build", DependsOn: []string{"a:build"}},
		}},
	}, nil)
	_, err := Build(pg, []string{"a", "b"}, "build")
	require.Error(t, err)
}

func TestExecutionPlanOrdersLayers(t *testing.T) {
	pg := buildGraph(t)
	g, err := Build(pg, []string{"app"}, "build")
	require.NoError(t, err)

	layers, err := g.ExecutionPlan()
	require.NoError(t, err)
	assert.Equal(t, []ID{"app:lint", "core:build"}, layers[0])
	assert.Equal(t, []ID{"lib:build"}, layers[1])
	assert.Equal(t, []ID{"app:build"}, layers[2])
}
