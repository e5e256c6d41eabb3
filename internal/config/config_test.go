package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbadeau/forge/internal/project"
)

func TestLoadMissingFileYieldsDefault(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Empty(t, cfg.Plugins)
	assert.False(t, cfg.RemoteExecution.Enabled)
}

func TestLoadParsesJSONC(t *testing.T) {
	dir := t.TempDir()
	contents := `{
		// a comment
		"plugins": [{"id": "builtin:js", "version": "1.0.0"}],
		"remoteExecution": {"enabled": true, "endpoint": "grpc://localhost:8980"},
	}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "forge.jsonc"), []byte(contents), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	require.Len(t, cfg.Plugins, 1)
	assert.Equal(t, "builtin:js", cfg.Plugins[0].ID)
	assert.True(t, cfg.RemoteExecution.Enabled)
	assert.Equal(t, "grpc://localhost:8980", cfg.RemoteExecution.Endpoint)
}

func TestLoadRejectsInvalidJSON(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "forge.json"), []byte("{not json"), 0o644))

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestLoadRejectsInvalidPluginVersion(t *testing.T) {
	dir := t.TempDir()
	contents := `{"plugins": [{"id": "x", "version": "not-a-semver"}]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "forge.json"), []byte(contents), 0o644))

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestEffectiveTargetDedupPreservesOrder(t *testing.T) {
	cfg := Default()
	cfg.TargetDefaults["build"] = project.Target{DependsOn: []string{"^build", "lint"}}

	eff := cfg.EffectiveTarget("build", project.Target{DependsOn: []string{"lint", "prebuild"}})
	assert.Equal(t, []string{"^build", "lint", "prebuild"}, eff.DependsOn)
}
