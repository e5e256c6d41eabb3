package executor

import (
	"context"

	"github.com/hashicorp/go-hclog"

	"github.com/jbadeau/forge/internal/cache"
	"github.com/jbadeau/forge/internal/fs"
	"github.com/jbadeau/forge/internal/projectgraph"
	"github.com/jbadeau/forge/internal/remoteexec"
	"github.com/jbadeau/forge/internal/scheduler"
	"github.com/jbadeau/forge/internal/taskgraph"
)

// CachingExecutor wraps a scheduler.Executor (normally the Local
// Executor) with the on-disk task cache, per spec.md §4.8: a cache hit
// short-circuits execution, a successful cacheable run is stored for
// next time. The Remote Executor consults the Action Cache directly and
// is not wrapped by this type.
type CachingExecutor struct {
	Next          scheduler.Executor
	Cache         cache.Cache
	WorkspaceRoot fs.AbsolutePath
	Graph         *projectgraph.Graph
	Log           hclog.Logger
}

// NewCaching constructs a CachingExecutor.
func NewCaching(next scheduler.Executor, c cache.Cache, workspaceRoot fs.AbsolutePath, graph *projectgraph.Graph, log hclog.Logger) *CachingExecutor {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &CachingExecutor{Next: next, Cache: c, WorkspaceRoot: workspaceRoot, Graph: graph, Log: log.Named("cache")}
}

func (e *CachingExecutor) Execute(ctx context.Context, task *taskgraph.Task) (scheduler.Outcome, error) {
	if !task.Cacheable || e.Cache == nil {
		return e.Next.Execute(ctx, task)
	}

	files, err := remoteexec.ResolveInputs(e.WorkspaceRoot.ToString(), e.Graph, task)
	if err != nil {
		e.Log.Warn("resolving task inputs for cache key failed, running uncached", "task", task.ID, "error", err)
		return e.Next.Execute(ctx, task)
	}

	hash, err := cache.Hash(e.WorkspaceRoot, task, files)
	if err != nil {
		e.Log.Warn("computing task hash failed, running uncached", "task", task.ID, "error", err)
		return e.Next.Execute(ctx, task)
	}

	if hit, err := e.Cache.Fetch(e.WorkspaceRoot, hash, task.Outputs); err == nil && hit {
		e.Log.Debug("task cache hit", "task", task.ID, "hash", hash)
		return scheduler.Outcome{State: taskgraph.Cached, ExitCode: 0}, nil
	}

	outcome, err := e.Next.Execute(ctx, task)
	if err == nil && outcome.State == taskgraph.Completed {
		if putErr := e.Cache.Put(e.WorkspaceRoot, hash, task.Outputs); putErr != nil {
			e.Log.Warn("caching task outputs failed", "task", task.ID, "hash", hash, "error", putErr)
		}
	}
	return outcome, err
}
