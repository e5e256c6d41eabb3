package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbadeau/forge/internal/config"
	"github.com/jbadeau/forge/internal/project"
	"github.com/jbadeau/forge/internal/scheduler"
	"github.com/jbadeau/forge/internal/taskgraph"
)

type fakeExecutor struct {
	name string
}

func (f *fakeExecutor) Execute(ctx context.Context, task *taskgraph.Task) (scheduler.Outcome, error) {
	return scheduler.Outcome{State: taskgraph.State(f.name)}, nil
}

func TestDispatcherDefaultsToLocal(t *testing.T) {
	d := New(&fakeExecutor{"local"}, &fakeExecutor{"remote"}, &config.RemoteExecutionConfig{Enabled: false})
	task := &taskgraph.Task{Target: project.Target{}}
	outcome, err := d.Execute(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, taskgraph.State("local"), outcome.State)
}

func TestDispatcherUsesRemoteWhenWorkspaceEnables(t *testing.T) {
	d := New(&fakeExecutor{"local"}, &fakeExecutor{"remote"}, &config.RemoteExecutionConfig{Enabled: true})
	task := &taskgraph.Task{Target: project.Target{}}
	outcome, err := d.Execute(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, taskgraph.State("remote"), outcome.State)
}

func TestDispatcherTargetOverrideDisablesRemote(t *testing.T) {
	disabled := false
	d := New(&fakeExecutor{"local"}, &fakeExecutor{"remote"}, &config.RemoteExecutionConfig{Enabled: true})
	task := &taskgraph.Task{Target: project.Target{RemoteExecution: &project.RemoteExecutionOverride{Enabled: &disabled}}}
	outcome, err := d.Execute(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, taskgraph.State("local"), outcome.State)
}

func TestDispatcherTargetEndpointOverrideEnablesRemote(t *testing.T) {
	d := New(&fakeExecutor{"local"}, &fakeExecutor{"remote"}, &config.RemoteExecutionConfig{Enabled: false})
	task := &taskgraph.Task{Target: project.Target{RemoteExecution: &project.RemoteExecutionOverride{Endpoint: "grpc.example.internal:443"}}}
	outcome, err := d.Execute(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, taskgraph.State("remote"), outcome.State)
}

func TestDispatcherNilRemoteAlwaysLocal(t *testing.T) {
	d := New(&fakeExecutor{"local"}, nil, &config.RemoteExecutionConfig{Enabled: true})
	task := &taskgraph.Task{Target: project.Target{}}
	outcome, err := d.Execute(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, taskgraph.State("local"), outcome.State)
}
