package projectgraph

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbadeau/forge/internal/config"
	"github.com/jbadeau/forge/internal/pluginhost"
	"github.com/jbadeau/forge/internal/project"
)

func TestDiscoverManifestsReadsProjectFiles(t *testing.T) {
	dir := t.TempDir()
	appDir := filepath.Join(dir, "apps", "web")
	require.NoError(t, os.MkdirAll(appDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(appDir, ManifestFileName),
		[]byte(`{"name": "web", "projectType": "application", "tags": ["scope:web"]}`), 0o644))

	manifests, err := DiscoverManifests(dir)
	require.NoError(t, err)
	require.Contains(t, manifests, "web")
	assert.Equal(t, project.Application, manifests["web"].ProjectType)
	assert.Equal(t, "apps/web", manifests["web"].Root)
}

func TestDiscoverManifestsRejectsMissingName(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFileName), []byte(`{}`), 0o644))

	_, err := DiscoverManifests(dir)
	assert.Error(t, err)
}

type noopPlugin struct{}

func (noopPlugin) Metadata() pluginhost.Metadata { return pluginhost.Metadata{ID: "noop", CreateNodesPattern: "**/*.nomatch"} }
func (noopPlugin) ValidateOptions(map[string]any) []error { return nil }
func (noopPlugin) CreateNodes(files []string, options map[string]any, ctx pluginhost.CreateNodesContext) (pluginhost.CreateNodesResult, error) {
	return pluginhost.CreateNodesResult{}, nil
}
func (noopPlugin) CreateEdges(options map[string]any, ctx pluginhost.CreateEdgesContext) ([]pluginhost.EdgeSpec, error) {
	return nil, nil
}

func TestDiscoverMergesManifestOnlyWorkspace(t *testing.T) {
	dir := t.TempDir()
	appDir := filepath.Join(dir, "apps", "web")
	require.NoError(t, os.MkdirAll(appDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(appDir, ManifestFileName),
		[]byte(`{"name": "web", "targets": {"build": {"command": "echo hi"}}}`), 0o644))

	cfg := config.Default()
	host := pluginhost.New(nil, map[string]pluginhost.Plugin{})

	g, err := Discover(dir, cfg, host)
	require.NoError(t, err)
	p, ok := g.Get("web")
	require.True(t, ok)
	assert.Equal(t, "echo hi", p.Targets["build"].Command)
}
