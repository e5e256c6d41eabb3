package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbadeau/forge/internal/project"
	"github.com/jbadeau/forge/internal/projectgraph"
	"github.com/jbadeau/forge/internal/taskgraph"
)

// scriptedExecutor succeeds for every task except those named in fail,
// and records execution order.
type scriptedExecutor struct {
	mu    sync.Mutex
	order []taskgraph.ID
	fail  map[taskgraph.ID]bool
}

func (e *scriptedExecutor) Execute(ctx context.Context, task *taskgraph.Task) (Outcome, error) {
	e.mu.Lock()
	e.order = append(e.order, task.ID)
	e.mu.Unlock()
	time.Sleep(time.Millisecond)
	if e.fail[task.ID] {
		return Outcome{State: taskgraph.Failed, ExitCode: 1}, nil
	}
	return Outcome{State: taskgraph.Completed}, nil
}

func diamondGraph(t *testing.T) *taskgraph.Graph {
	t.Helper()
	nodes := map[string]*project.Project{
		"core": {Name: "core", Targets: map[string]project.Target{"build": {Name: "build"}}},
		"a":    {Name: "a", Targets: map[string]project.Target{"build": {Name: "build", DependsOn: []string{"^build"}}}},
		"b":    {Name: "b", Targets: map[string]project.Target{"build": {Name: "build", DependsOn: []string{"^build"}}}},
		"app": {Name: "app", Targets: map[string]project.Target{
			"build": {Name: "build", DependsOn: []string{"^build"}},
		}},
	}
	deps := []project.Dependency{
		{Source: "a", Target: "core"},
		{Source: "b", Target: "core"},
		{Source: "app", Target: "a"},
		{Source: "app", Target: "b"},
	}
	pg := projectgraph.Build(nodes, deps)
	g, err := taskgraph.Build(pg, []string{"app"}, "build")
	require.NoError(t, err)
	return g
}

func TestSchedulerRunsEntireGraph(t *testing.T) {
	g := diamondGraph(t)
	exec := &scriptedExecutor{fail: map[taskgraph.ID]bool{}}
	s := New(g, 2, FailFast, exec, nil)

	res := s.Run(context.Background())
	assert.Equal(t, 4, res.SuccessCount)
	assert.Equal(t, 0, res.FailureCount)
	assert.Equal(t, 0, res.SkippedCount)

	coreIdx := indexOf(exec.order, "core:build")
	appIdx := indexOf(exec.order, "app:build")
	require.GreaterOrEqual(t, coreIdx, 0)
	require.GreaterOrEqual(t, appIdx, 0)
	assert.Less(t, coreIdx, appIdx)
}

func TestSchedulerFailFastSkipsDescendants(t *testing.T) {
	g := diamondGraph(t)
	exec := &scriptedExecutor{fail: map[taskgraph.ID]bool{"a:build": true}}
	s := New(g, 2, FailFast, exec, nil)

	res := s.Run(context.Background())
	assert.Equal(t, 1, res.FailureCount)
	require.Equal(t, taskgraph.Failed, res.Results["a:build"].State)
	assert.Equal(t, taskgraph.Skipped, res.Results["app:build"].State)
}

func TestSchedulerKeepGoingContinuesUnrelatedSubgraphs(t *testing.T) {
	g := diamondGraph(t)
	exec := &scriptedExecutor{fail: map[taskgraph.ID]bool{"a:build": true}}
	s := New(g, 2, KeepGoing, exec, nil)

	res := s.Run(context.Background())
	assert.Equal(t, taskgraph.Failed, res.Results["a:build"].State)
	assert.Equal(t, taskgraph.Skipped, res.Results["app:build"].State)
	assert.Equal(t, taskgraph.Completed, res.Results["b:build"].State)
	assert.Equal(t, taskgraph.Completed, res.Results["core:build"].State)
}

func TestSchedulerCancellation(t *testing.T) {
	g := diamondGraph(t)
	exec := &scriptedExecutor{fail: map[taskgraph.ID]bool{}}
	s := New(g, 1, FailFast, exec, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := s.Run(ctx)
	assert.Equal(t, 4, res.SuccessCount+res.SkippedCount+res.FailureCount)
}

func indexOf(list []taskgraph.ID, id taskgraph.ID) int {
	for i, v := range list {
		if v == id {
			return i
		}
	}
	return -1
}
