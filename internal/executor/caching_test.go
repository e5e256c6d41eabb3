package executor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbadeau/forge/internal/cache"
	"github.com/jbadeau/forge/internal/fs"
	"github.com/jbadeau/forge/internal/project"
	"github.com/jbadeau/forge/internal/projectgraph"
	"github.com/jbadeau/forge/internal/scheduler"
	"github.com/jbadeau/forge/internal/taskgraph"
)

type countingExecutor struct {
	calls int
}

func (c *countingExecutor) Execute(ctx context.Context, task *taskgraph.Task) (scheduler.Outcome, error) {
	c.calls++
	return scheduler.Outcome{State: taskgraph.Completed, ExitCode: 0}, nil
}

func newGraph(t *testing.T, workspace fs.AbsolutePath, projectRoot string) *projectgraph.Graph {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(workspace.ToString(), projectRoot), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(workspace.ToString(), projectRoot, "main.go"), []byte("package main"), 0o644))
	nodes := map[string]*project.Project{
		"web": {Name: "web", Root: projectRoot, Targets: map[string]project.Target{"build": {Name: "build"}}},
	}
	return projectgraph.Build(nodes, nil)
}

func TestCachingExecutorSkipsExecutionOnHit(t *testing.T) {
	workspace := fs.UnsafeToAbsolutePath(t.TempDir())
	graph := newGraph(t, workspace, "apps/web")
	c := cache.NewFSCache(fs.UnsafeToAbsolutePath(t.TempDir()), nil)
	next := &countingExecutor{}
	exec := NewCaching(next, c, workspace, graph, nil)

	task := &taskgraph.Task{
		ID: "web:build", Project: "web", ProjectRoot: "apps/web",
		Cacheable: true, Outputs: []string{"apps/web/main.go"},
		Target: project.Target{Name: "build", Command: "go build ./..."},
	}

	outcome1, err := exec.Execute(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, taskgraph.Completed, outcome1.State)
	assert.Equal(t, 1, next.calls)

	outcome2, err := exec.Execute(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, taskgraph.Cached, outcome2.State)
	assert.Equal(t, 1, next.calls, "second run should be served from cache without invoking the delegate")
}

func TestCachingExecutorBypassesCacheForUncacheableTask(t *testing.T) {
	workspace := fs.UnsafeToAbsolutePath(t.TempDir())
	graph := newGraph(t, workspace, "apps/web")
	c := cache.NewFSCache(fs.UnsafeToAbsolutePath(t.TempDir()), nil)
	next := &countingExecutor{}
	exec := NewCaching(next, c, workspace, graph, nil)

	task := &taskgraph.Task{
		ID: "web:build", Project: "web", ProjectRoot: "apps/web",
		Cacheable: false,
		Target:    project.Target{Name: "build", Command: "go build ./..."},
	}

	_, err := exec.Execute(context.Background(), task)
	require.NoError(t, err)
	_, err = exec.Execute(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, 2, next.calls)
}
