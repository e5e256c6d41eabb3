// Package executor resolves, per task, whether to run locally or
// delegate to the Remote Executor, per spec.md §4.9's "Configuration
// precedence": target.remoteExecution ▶ named endpoint referenced by
// target ▶ workspace defaults.
package executor

import (
	"context"

	"github.com/jbadeau/forge/internal/config"
	"github.com/jbadeau/forge/internal/scheduler"
	"github.com/jbadeau/forge/internal/taskgraph"
)

// Dispatcher implements scheduler.Executor by routing each task to Local
// or Remote based on the effective remote-execution configuration.
type Dispatcher struct {
	Local  scheduler.Executor
	Remote scheduler.Executor
	Config *config.RemoteExecutionConfig
}

// New constructs a Dispatcher. remote may be nil when no remote execution
// endpoint is configured; every task then runs on local, whatever its
// remote-execution settings.
func New(local, remote scheduler.Executor, cfg *config.RemoteExecutionConfig) *Dispatcher {
	return &Dispatcher{Local: local, Remote: remote, Config: cfg}
}

// Execute routes task to the local or remote executor.
func (d *Dispatcher) Execute(ctx context.Context, task *taskgraph.Task) (scheduler.Outcome, error) {
	if d.useRemote(task) {
		return d.Remote.Execute(ctx, task)
	}
	return d.Local.Execute(ctx, task)
}

func (d *Dispatcher) useRemote(task *taskgraph.Task) bool {
	if d.Remote == nil || d.Config == nil {
		return false
	}
	override := task.Target.RemoteExecution
	if override != nil && override.Enabled != nil {
		return *override.Enabled
	}
	if override != nil && (override.Endpoint != "" || override.NamedEndpoint != "") {
		return true
	}
	return d.Config.Enabled
}
