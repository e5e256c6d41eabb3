package scheduler

import (
	"context"

	"github.com/jbadeau/forge/internal/taskgraph"
)

// Executor runs a single task to completion, blocking the calling worker
// goroutine. Implementations (Local Executor C8, Remote Executor C9) must
// not hold the scheduler mutex while running — a blocking subprocess or
// RPC is exactly the suspension point spec.md §5 describes.
type Executor interface {
	Execute(ctx context.Context, task *taskgraph.Task) (Outcome, error)
}

// Outcome is the result of one task execution.
type Outcome struct {
	State    taskgraph.State // COMPLETED, FAILED, or CACHED
	ExitCode int
	Err      error
}
