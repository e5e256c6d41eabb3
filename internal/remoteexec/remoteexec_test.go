package remoteexec

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbadeau/forge/internal/config"
	"github.com/jbadeau/forge/internal/project"
	"github.com/jbadeau/forge/internal/projectgraph"
	"github.com/jbadeau/forge/internal/taskgraph"
)

func TestDigestOfIsStableSHA256(t *testing.T) {
	d1 := digestOf([]byte("hello"))
	d2 := digestOf([]byte("hello"))
	assert.Equal(t, d1.Hash, d2.Hash)
	assert.Equal(t, int64(5), d1.SizeBytes)
	assert.NotEqual(t, digestOf([]byte("world")).Hash, d1.Hash)
}

func TestBuildActionDefaultsTimeoutAndDoNotCache(t *testing.T) {
	cmdDigest := digestOf([]byte("cmd"))
	rootDigest := digestOf([]byte("root"))

	cacheable := buildAction(cmdDigest, rootDigest, 0, true)
	assert.Equal(t, int64(defaultActionTimeout), cacheable.Timeout.Seconds)
	assert.False(t, cacheable.DoNotCache)

	uncacheable := buildAction(cmdDigest, rootDigest, 30, false)
	assert.Equal(t, int64(30), uncacheable.Timeout.Seconds)
	assert.True(t, uncacheable.DoNotCache)
}

func TestBuildCommandMessageSortsEnvAndSubstitutesOutputs(t *testing.T) {
	task := &taskgraph.Task{
		ProjectRoot: "apps/web",
		Outputs:     []string{"{projectRoot}/dist"},
		Target: project.Target{
			Env: map[string]string{"B": "2", "A": "1"},
		},
	}
	cmd := buildCommandMessage(task, "go build ./...")
	require.Len(t, cmd.EnvironmentVariables, 2)
	assert.Equal(t, "A", cmd.EnvironmentVariables[0].Name)
	assert.Equal(t, "B", cmd.EnvironmentVariables[1].Name)
	assert.Equal(t, "apps/web", cmd.WorkingDirectory)
	assert.Equal(t, []string{"apps/web/dist"}, cmd.OutputPaths)
}

func TestResolveInputsDefaultWalksProjectRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "apps/web", "node_modules"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "apps/web", "main.go"), []byte("package main"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "apps/web", "node_modules", "ignored.js"), []byte("x"), 0o644))

	nodes := map[string]*project.Project{
		"web": {Name: "web", Root: "apps/web", Targets: map[string]project.Target{"build": {Name: "build"}}},
	}
	pg := projectgraph.Build(nodes, nil)

	task := &taskgraph.Task{Project: "web", ProjectRoot: "apps/web", Inputs: nil}
	files, err := ResolveInputs(root, pg, task)
	require.NoError(t, err)
	assert.Contains(t, files, "apps/web/main.go")
	assert.NotContains(t, files, "apps/web/node_modules/ignored.js")
}

func TestBuildInputRootProducesDeterministicDigest(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "pkg"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "pkg", "a.go"), []byte("package pkg"), 0o644))

	d1, blobs1, err := buildInputRoot(root, []string{"pkg/a.go"})
	require.NoError(t, err)
	d2, _, err := buildInputRoot(root, []string{"pkg/a.go"})
	require.NoError(t, err)

	assert.Equal(t, d1.Hash, d2.Hash)
	assert.NotEmpty(t, blobs1)
}

func TestEndpointForPrecedence(t *testing.T) {
	ws := &config.RemoteExecutionConfig{
		Enabled:  true,
		Endpoint: "grpc.workspace.internal:443",
		NamedEndpoints: map[string]config.NamedEndpoint{
			"fast": {Endpoint: "grpc.fast.internal:443", UseTLS: true},
		},
	}

	endpoint, useTLS, enabled := endpointFor(ws, nil)
	assert.Equal(t, "grpc.workspace.internal:443", endpoint)
	assert.False(t, useTLS)
	assert.True(t, enabled)

	endpoint, useTLS, enabled = endpointFor(ws, &project.RemoteExecutionOverride{NamedEndpoint: "fast"})
	assert.Equal(t, "grpc.fast.internal:443", endpoint)
	assert.True(t, useTLS)
	assert.True(t, enabled)

	disabled := false
	endpoint, _, enabled = endpointFor(ws, &project.RemoteExecutionOverride{Enabled: &disabled})
	assert.Equal(t, "grpc.workspace.internal:443", endpoint)
	assert.False(t, enabled)
}
