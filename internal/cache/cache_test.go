package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbadeau/forge/internal/fs"
	"github.com/jbadeau/forge/internal/project"
	"github.com/jbadeau/forge/internal/taskgraph"
)

func newTask(command string, env map[string]string) *taskgraph.Task {
	return &taskgraph.Task{
		ID:         "web:build",
		TargetName: "build",
		Target:     project.Target{Command: command, Env: env},
	}
}

func TestHashIsStableForSameInputs(t *testing.T) {
	root := fs.UnsafeToAbsolutePath(t.TempDir())
	require.NoError(t, os.WriteFile(filepath.Join(root.ToString(), "main.go"), []byte("package main"), 0o644))

	task := newTask("go build ./...", map[string]string{"GOOS": "linux"})

	h1, err := Hash(root, task, []string{"main.go"})
	require.NoError(t, err)
	h2, err := Hash(root, task, []string{"main.go"})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestHashChangesWithFileContent(t *testing.T) {
	root := fs.UnsafeToAbsolutePath(t.TempDir())
	path := filepath.Join(root.ToString(), "main.go")
	require.NoError(t, os.WriteFile(path, []byte("package main"), 0o644))

	task := newTask("go build ./...", nil)
	before, err := Hash(root, task, []string{"main.go"})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("package main // changed"), 0o644))
	after, err := Hash(root, task, []string{"main.go"})
	require.NoError(t, err)

	assert.NotEqual(t, before, after)
}

func TestHashChangesWithCommand(t *testing.T) {
	root := fs.UnsafeToAbsolutePath(t.TempDir())
	require.NoError(t, os.WriteFile(filepath.Join(root.ToString(), "main.go"), []byte("package main"), 0o644))

	h1, err := Hash(root, newTask("go build ./...", nil), []string{"main.go"})
	require.NoError(t, err)
	h2, err := Hash(root, newTask("go test ./...", nil), []string{"main.go"})
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

func TestHashChangesWithEnv(t *testing.T) {
	root := fs.UnsafeToAbsolutePath(t.TempDir())
	require.NoError(t, os.WriteFile(filepath.Join(root.ToString(), "main.go"), []byte("package main"), 0o644))

	h1, err := Hash(root, newTask("go build ./...", map[string]string{"GOOS": "linux"}), []string{"main.go"})
	require.NoError(t, err)
	h2, err := Hash(root, newTask("go build ./...", map[string]string{"GOOS": "darwin"}), []string{"main.go"})
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

func TestFSCacheRoundTrip(t *testing.T) {
	cacheDir := fs.UnsafeToAbsolutePath(t.TempDir())
	workspace := fs.UnsafeToAbsolutePath(t.TempDir())
	log := hclog.NewNullLogger()

	require.NoError(t, os.MkdirAll(filepath.Join(workspace.ToString(), "dist"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(workspace.ToString(), "dist", "out.bin"), []byte("binary"), 0o644))

	c := NewFSCache(cacheDir, log)
	require.NoError(t, c.Put(workspace, "abc123", []string{"dist/out.bin"}))

	fresh := fs.UnsafeToAbsolutePath(t.TempDir())
	hit, err := c.Fetch(fresh, "abc123", []string{"dist/out.bin"})
	require.NoError(t, err)
	assert.True(t, hit)

	data, err := os.ReadFile(filepath.Join(fresh.ToString(), "dist", "out.bin"))
	require.NoError(t, err)
	assert.Equal(t, "binary", string(data))
}

func TestFSCacheFetchMissOnUnknownHash(t *testing.T) {
	cacheDir := fs.UnsafeToAbsolutePath(t.TempDir())
	workspace := fs.UnsafeToAbsolutePath(t.TempDir())

	c := NewFSCache(cacheDir, hclog.NewNullLogger())
	hit, err := c.Fetch(workspace, "does-not-exist", nil)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestAsyncCachePutEventuallyVisibleViaFetch(t *testing.T) {
	cacheDir := fs.UnsafeToAbsolutePath(t.TempDir())
	workspace := fs.UnsafeToAbsolutePath(t.TempDir())
	require.NoError(t, os.WriteFile(filepath.Join(workspace.ToString(), "out.txt"), []byte("hi"), 0o644))

	real := NewFSCache(cacheDir, hclog.NewNullLogger())
	async := NewAsyncCache(real, 2, hclog.NewNullLogger())

	require.NoError(t, async.Put(workspace, "hash1", []string{"out.txt"}))
	async.Shutdown()

	hit, err := real.Fetch(fs.UnsafeToAbsolutePath(t.TempDir()), "hash1", []string{"out.txt"})
	require.NoError(t, err)
	assert.True(t, hit)
}
