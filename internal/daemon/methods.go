package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/google/chrometracing"
	"github.com/hashicorp/go-hclog"

	"github.com/jbadeau/forge/internal/cache"
	"github.com/jbadeau/forge/internal/config"
	"github.com/jbadeau/forge/internal/executor"
	"github.com/jbadeau/forge/internal/forgeerr"
	"github.com/jbadeau/forge/internal/localexec"
	"github.com/jbadeau/forge/internal/projectgraph"
	"github.com/jbadeau/forge/internal/remoteexec"
	"github.com/jbadeau/forge/internal/scheduler"
	"github.com/jbadeau/forge/internal/taskgraph"
)

func (s *Server) handlePing(msg *Message) {
	if msg.isNotification() {
		return
	}
	_ = s.out.reply(msg.ID, "pong")
}

func (s *Server) handleShutdown(msg *Message) {
	s.Shutdown()
	s.runsMu.Lock()
	delete(s.cancel, msg.ID)
	s.runsMu.Unlock()
	for {
		s.runsMu.Lock()
		inFlight := len(s.cancel)
		s.runsMu.Unlock()
		if inFlight == 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !msg.isNotification() {
		_ = s.out.reply(msg.ID, "shutting down")
	}
}

func (s *Server) handleDidChange(msg *Message) {
	var params struct {
		WorkspaceRoot string `json:"workspaceRoot"`
	}
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return
	}
	s.cache.invalidate(params.WorkspaceRoot)
}

func (s *Server) fail(msg *Message, err error) {
	if msg.isNotification() {
		return
	}
	code := InternalError
	data := map[string]any{"kind": "RPC_INTERNAL"}
	if fe, ok := err.(*forgeerr.Error); ok {
		for k, v := range fe.Context {
			data[k] = v
		}
		data["kind"] = string(fe.Kind)
		switch fe.Kind {
		case forgeerr.ProjectNotFound, forgeerr.TargetNotFound:
			code = InvalidParams
		case forgeerr.TaskCycle, forgeerr.GraphCycle, forgeerr.TaskSelfDep:
			code = InternalError
		}
	}
	_ = s.out.replyError(msg.ID, &Error{Code: code, Message: err.Error(), Data: data})
}

func (s *Server) invalidParams(msg *Message, err error) {
	if msg.isNotification() {
		return
	}
	_ = s.out.replyError(msg.ID, &Error{Code: InvalidParams, Message: err.Error(),
		Data: map[string]any{"kind": "RPC_INVALID_PARAMS"}})
}

type showProjectsParams struct {
	WorkspaceRoot string `json:"workspaceRoot"`
}

func (s *Server) handleShowProjects(msg *Message) {
	var p showProjectsParams
	if err := json.Unmarshal(msg.Params, &p); err != nil {
		s.invalidParams(msg, err)
		return
	}
	graph, _, err := s.cache.get(p.WorkspaceRoot)
	if err != nil {
		s.fail(msg, err)
		return
	}
	_ = s.out.reply(msg.ID, graph.All())
}

type showProjectParams struct {
	WorkspaceRoot string `json:"workspaceRoot"`
	ProjectName   string `json:"projectName"`
}

func (s *Server) handleShowProject(msg *Message) {
	var p showProjectParams
	if err := json.Unmarshal(msg.Params, &p); err != nil {
		s.invalidParams(msg, err)
		return
	}
	graph, _, err := s.cache.get(p.WorkspaceRoot)
	if err != nil {
		s.fail(msg, err)
		return
	}
	proj, ok := graph.Get(p.ProjectName)
	if !ok {
		s.fail(msg, forgeerr.New(forgeerr.ProjectNotFound, "no such project: "+p.ProjectName))
		return
	}
	_ = s.out.reply(msg.ID, proj)
}

type projectGraphParams struct {
	WorkspaceRoot string `json:"workspaceRoot"`
	Format        string `json:"format"`
}

func (s *Server) handleProjectGraph(msg *Message) {
	var p projectGraphParams
	if err := json.Unmarshal(msg.Params, &p); err != nil {
		s.invalidParams(msg, err)
		return
	}
	graph, _, err := s.cache.get(p.WorkspaceRoot)
	if err != nil {
		s.fail(msg, err)
		return
	}
	if p.Format == "dot" {
		_ = s.out.reply(msg.ID, map[string]string{"dot": graph.Dot()})
		return
	}
	type edge struct {
		Source string `json:"source"`
		Target string `json:"target"`
		Kind   string `json:"kind"`
	}
	edges := []edge{}
	for _, proj := range graph.All() {
		for _, d := range graph.DepsOf(proj.Name) {
			edges = append(edges, edge{Source: d.Source, Target: d.Target, Kind: string(d.Kind)})
		}
	}
	_ = s.out.reply(msg.ID, map[string]any{"projects": graph.All(), "edges": edges})
}

type runTaskParams struct {
	WorkspaceRoot string `json:"workspaceRoot"`
	ProjectName   string `json:"projectName"`
	Target        string `json:"target"`
	Verbose       bool   `json:"verbose"`
	DryRun        bool   `json:"dryRun"`
	Profile       string `json:"profile"`
	KeepGoing     bool   `json:"keepGoing"`
}

func (s *Server) handleRunTask(ctx context.Context, msg *Message) {
	var p runTaskParams
	if err := json.Unmarshal(msg.Params, &p); err != nil {
		s.invalidParams(msg, err)
		return
	}
	graph, cfg, err := s.cache.get(p.WorkspaceRoot)
	if err != nil {
		s.fail(msg, err)
		return
	}
	tasks, err := taskgraph.BuildForProjects(graph, []string{p.ProjectName}, p.Target)
	if err != nil {
		s.fail(msg, err)
		return
	}
	s.runPlan(ctx, msg, p.WorkspaceRoot, graph, cfg, tasks, p.DryRun, p.Verbose, p.Profile, p.KeepGoing)
}

type runManyParams struct {
	WorkspaceRoot string   `json:"workspaceRoot"`
	Target        string   `json:"target"`
	Projects      []string `json:"projects"`
	Tags          []string `json:"tags"`
	All           bool     `json:"all"`
	Verbose       bool     `json:"verbose"`
	DryRun        bool     `json:"dryRun"`
	Profile       string   `json:"profile"`
	KeepGoing     bool     `json:"keepGoing"`
}

func (s *Server) handleRunMany(ctx context.Context, msg *Message) {
	var p runManyParams
	if err := json.Unmarshal(msg.Params, &p); err != nil {
		s.invalidParams(msg, err)
		return
	}
	graph, cfg, err := s.cache.get(p.WorkspaceRoot)
	if err != nil {
		s.fail(msg, err)
		return
	}

	projects := p.Projects
	if p.All || (len(projects) == 0 && len(p.Tags) == 0) {
		for _, proj := range graph.All() {
			projects = append(projects, proj.Name)
		}
	}
	for _, tag := range p.Tags {
		for _, proj := range graph.ByTag(tag) {
			projects = append(projects, proj.Name)
		}
	}

	tasks, err := taskgraph.BuildForProjects(graph, projects, p.Target)
	if err != nil {
		s.fail(msg, err)
		return
	}
	s.runPlan(ctx, msg, p.WorkspaceRoot, graph, cfg, tasks, p.DryRun, p.Verbose, p.Profile, p.KeepGoing)
}

type cacheCleanParams struct {
	WorkspaceRoot string `json:"workspaceRoot"`
	Hash          string `json:"hash"`
	All           bool   `json:"all"`
}

// handleCacheClean implements `forge cache clean`/`forge cache clean
// --all` (supplemented feature): removes one cache entry, or the whole
// local cache directory, from under workspaceRoot/.forge/cache.
func (s *Server) handleCacheClean(msg *Message) {
	var p cacheCleanParams
	if err := json.Unmarshal(msg.Params, &p); err != nil {
		s.invalidParams(msg, err)
		return
	}
	root, err := s.resolveWorkspace(p.WorkspaceRoot)
	if err != nil {
		s.invalidParams(msg, err)
		return
	}
	cacheDir := root.Join(".forge", "cache")

	if p.All {
		if err := cacheDir.RemoveAll(); err != nil {
			s.fail(msg, forgeerr.Wrap(forgeerr.RPCInternal, "removing cache directory", err))
			return
		}
		_ = s.out.reply(msg.ID, map[string]any{"cleaned": "all"})
		return
	}
	if p.Hash == "" {
		s.invalidParams(msg, fmt.Errorf("cache/clean requires either \"hash\" or \"all\""))
		return
	}
	if err := cacheDir.Join(p.Hash).RemoveAll(); err != nil {
		s.fail(msg, forgeerr.Wrap(forgeerr.RPCInternal, "removing cache entry", err))
		return
	}
	_ = cacheDir.Join(p.Hash + "-meta.json").Remove()
	_ = s.out.reply(msg.ID, map[string]any{"cleaned": p.Hash})
}

// chromeTraceEvent is one entry of the Chrome Trace Event Format
// (the "complete event" shape, ph:"X"), the format Chrome's
// chrome://tracing and speedscope both read directly.
type chromeTraceEvent struct {
	Name string `json:"name"`
	Ph   string `json:"ph"`
	Ts   int64  `json:"ts"`
	Dur  int64  `json:"dur"`
	Pid  int    `json:"pid"`
	Tid  int    `json:"tid"`
}

// writeChromeTrace renders a completed run's per-task timings as a Chrome
// trace file for `forge run --profile=<file>`, one row per worker. Task
// execution already happens inside this process (the daemon), so the
// trace is built directly from scheduler.TaskResult rather than from
// chrometracing's own span recording, whose file-output mechanism isn't
// visible anywhere in the retrieval pack.
func writeChromeTrace(path string, result *scheduler.Result) error {
	var epoch time.Time
	for _, r := range result.Results {
		if r.Start.IsZero() {
			continue
		}
		if epoch.IsZero() || r.Start.Before(epoch) {
			epoch = r.Start
		}
	}

	events := make([]chromeTraceEvent, 0, len(result.Results))
	for id, r := range result.Results {
		if r.Start.IsZero() || r.End.IsZero() {
			continue
		}
		events = append(events, chromeTraceEvent{
			Name: string(id),
			Ph:   "X",
			Ts:   r.Start.Sub(epoch).Microseconds(),
			Dur:  r.End.Sub(r.Start).Microseconds(),
			Pid:  1,
			Tid:  r.Worker,
		})
	}

	doc := map[string]any{"traceEvents": events}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// runPlan is shared by run/task and run/many: it either reports the
// execution plan (dryRun) or hands the Task Graph to a freshly composed
// Scheduler, sending one $/progress notification when the run finishes.
func (s *Server) runPlan(ctx context.Context, msg *Message, workspaceRoot string, graph *projectgraph.Graph,
	cfg *config.WorkspaceConfig, tasks *taskgraph.Graph, dryRun, verbose bool, profile string, keepGoing bool) {
	if dryRun {
		plan, err := tasks.ExecutionPlan()
		if err != nil {
			s.fail(msg, err)
			return
		}
		_ = s.out.reply(msg.ID, map[string]any{"plan": plan})
		return
	}

	root, err := s.resolveWorkspace(workspaceRoot)
	if err != nil {
		s.invalidParams(msg, err)
		return
	}

	logLevel := hclog.Info
	if verbose {
		logLevel = hclog.Debug
	}
	runLog := s.log.Named("run")
	runLog.SetLevel(logLevel)

	local := localexec.New(workspaceRoot, runLog)
	fsCache := cache.NewAsyncCache(cache.NewFSCache(root.Join(".forge", "cache"), runLog), 4, runLog)
	defer fsCache.Shutdown()
	cachingLocal := executor.NewCaching(local, fsCache, root, graph, runLog)

	var remote scheduler.Executor
	if cfg.RemoteExecution.Endpoint != "" {
		remote = remoteexec.New(workspaceRoot, graph, &cfg.RemoteExecution, runLog)
	}
	dispatcher := executor.New(cachingLocal, remote, &cfg.RemoteExecution)

	mode := scheduler.FailFast
	if keepGoing {
		mode = scheduler.KeepGoing
	}
	workers := runtime.NumCPU()
	if cfg.Parallelism > 0 && cfg.Parallelism < workers {
		workers = cfg.Parallelism
	}
	if workers > tasks.Len() {
		workers = tasks.Len()
	}
	sched := scheduler.New(tasks, workers, mode, dispatcher, runLog)

	if profile != "" {
		chrometracing.EnableTracing()
	}

	total := tasks.Len()
	result := sched.Run(ctx)
	done := total - result.SkippedCount
	s.progressNotify(done, total, "run complete")

	if profile != "" {
		if err := writeChromeTrace(profile, result); err != nil {
			runLog.Warn("failed to write profile trace", "path", profile, "error", err)
		}
	}

	_ = s.out.reply(msg.ID, map[string]any{
		"successCount": result.SuccessCount,
		"failureCount": result.FailureCount,
		"skippedCount": result.SkippedCount,
		"cachedCount":  result.CachedCount,
		"failed":       result.Failed,
		"results":      result.Results,
	})
}
