package projectgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbadeau/forge/internal/project"
)

func sampleNodes() map[string]*project.Project {
	return map[string]*project.Project{
		"app":  {Name: "app", ProjectType: project.Application, Tags: []string{"scope:app"}},
		"lib-a": {Name: "lib-a", ProjectType: project.Library, Tags: []string{"scope:shared"}},
		"lib-b": {Name: "lib-b", ProjectType: project.Library, Tags: []string{"scope:shared"}},
	}
}

func TestGraphTraversal(t *testing.T) {
	deps := []project.Dependency{
		{Source: "app", Target: "lib-a", Kind: project.Static},
		{Source: "lib-a", Target: "lib-b", Kind: project.Static},
	}
	g := Build(sampleNodes(), deps)

	_, ok := g.Get("app")
	require.True(t, ok)
	assert.Len(t, g.All(), 3)
	assert.Len(t, g.ByTag("scope:shared"), 2)
	assert.Len(t, g.ByType(project.Library), 2)

	assert.ElementsMatch(t, []string{"lib-a"}, depTargets(g.DepsOf("app")))
	assert.ElementsMatch(t, []string{"lib-a", "lib-b"}, g.TransitiveDepsOf("app"))
	assert.ElementsMatch(t, []string{"app", "lib-a"}, g.TransitiveDependentsOf("lib-b"))
}

func TestGraphDropsDanglingEdges(t *testing.T) {
	g := Build(sampleNodes(), []project.Dependency{
		{Source: "app", Target: "does-not-exist"},
	})
	assert.Empty(t, g.DepsOf("app"))
}

func TestGraphDeduplicatesDirectedEdges(t *testing.T) {
	g := Build(sampleNodes(), []project.Dependency{
		{Source: "app", Target: "lib-a"},
		{Source: "app", Target: "lib-a"},
	})
	assert.Len(t, g.DepsOf("app"), 1)
}

func TestTopologicalLayersOrdersByDepth(t *testing.T) {
	deps := []project.Dependency{
		{Source: "app", Target: "lib-a"},
		{Source: "lib-a", Target: "lib-b"},
	}
	g := Build(sampleNodes(), deps)

	layers, err := g.TopologicalLayers()
	require.NoError(t, err)
	require.Len(t, layers, 3)
	assert.Equal(t, []string{"lib-b"}, layers[0])
	assert.Equal(t, []string{"lib-a"}, layers[1])
	assert.Equal(t, []string{"app"}, layers[2])
}

func TestTopologicalLayersDetectsCycle(t *testing.T) {
	deps := []project.Dependency{
		{Source: "lib-a", Target: "lib-b"},
		{Source: "lib-b", Target: "lib-a"},
	}
	g := Build(sampleNodes(), deps)

	_, err := g.TopologicalLayers()
	require.Error(t, err)
}

func depTargets(deps []project.Dependency) []string {
	out := make([]string, len(deps))
	for i, d := range deps {
		out[i] = d.Target
	}
	return out
}
