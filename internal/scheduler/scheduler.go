// Package scheduler implements the Scheduler (C7): a multi-worker
// cooperative scheduler with per-worker local deques, a global priority
// queue, work-stealing, and fail-fast/keep-going failure handling, per
// spec.md §4.7. Grounded on the teacher's semaphore-guarded single-walk
// executor (core.scheduler.Execute in the retrieval pack's fuller copy of
// turborepo's scheduler), generalized from one topological walk into
// explicit per-worker queues plus stealing.
package scheduler

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/jbadeau/forge/internal/forgeerr"
	"github.com/jbadeau/forge/internal/taskgraph"
)

// Mode selects failure-handling behavior, per spec.md §4.7.
type Mode int

const (
	FailFast Mode = iota
	KeepGoing
)

// TaskResult is the terminal outcome recorded for one task. Start/End are
// zero for tasks that never ran (e.g. SKIPPED), and are populated only
// around the Executor.Execute call, for the optional execution trace
// (`forge run --profile`).
type TaskResult struct {
	TaskID   taskgraph.ID
	State    taskgraph.State
	ExitCode int
	Err      error
	Worker   int
	Start    time.Time
	End      time.Time
}

// Result summarizes a completed Run, matching the daemon's run/task and
// run/many response shape (spec.md §6's worked examples).
type Result struct {
	SuccessCount int
	FailureCount int
	SkippedCount int
	CachedCount  int
	Failed       []TaskResult
	Results      map[taskgraph.ID]TaskResult
}

// Scheduler drives a Task Graph to completion using a fixed pool of
// workers, per spec.md §4.7's "one logical worker per configured slot"
// model.
type Scheduler struct {
	graph    *taskgraph.Graph
	executor Executor
	workers  int
	mode     Mode
	log      hclog.Logger

	mu            sync.Mutex
	cond          *sync.Cond
	state         map[taskgraph.ID]taskgraph.State
	priority      map[taskgraph.ID]int
	remainingDeps map[taskgraph.ID]int
	deques        []*deque
	global        *priorityQueue
	results       map[taskgraph.ID]TaskResult
	pending       int // tasks not yet terminal
	running       int // tasks currently RUNNING
	stopAdmitting bool
}

// deque is a worker's local task queue: push/pop at the back (LIFO for
// the owning worker), pop-front for stealing, per spec.md §4.7's dispatch
// loop.
type deque struct {
	items []taskgraph.ID
}

func (d *deque) pushBack(id taskgraph.ID)  { d.items = append(d.items, id) }
func (d *deque) popBack() (taskgraph.ID, bool) {
	if len(d.items) == 0 {
		return "", false
	}
	last := d.items[len(d.items)-1]
	d.items = d.items[:len(d.items)-1]
	return last, true
}
func (d *deque) popFront() (taskgraph.ID, bool) {
	if len(d.items) == 0 {
		return "", false
	}
	first := d.items[0]
	d.items = d.items[1:]
	return first, true
}

// New constructs a Scheduler for graph with the given worker count,
// failure mode, and executor.
func New(graph *taskgraph.Graph, workers int, mode Mode, executor Executor, log hclog.Logger) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	if log == nil {
		log = hclog.NewNullLogger()
	}
	s := &Scheduler{
		graph:         graph,
		executor:      executor,
		workers:       workers,
		mode:          mode,
		log:           log.Named("scheduler"),
		state:         make(map[taskgraph.ID]taskgraph.State, graph.Len()),
		priority:      priorities(graph),
		remainingDeps: make(map[taskgraph.ID]int, graph.Len()),
		deques:        make([]*deque, workers),
		global:        newPriorityQueue(),
		results:       make(map[taskgraph.ID]TaskResult, graph.Len()),
		pending:       graph.Len(),
	}
	s.cond = sync.NewCond(&s.mu)
	for i := range s.deques {
		s.deques[i] = &deque{}
	}
	for _, t := range graph.All() {
		s.state[t.ID] = taskgraph.Pending
		s.remainingDeps[t.ID] = len(t.DependsOn)
	}
	for _, t := range graph.All() {
		if s.remainingDeps[t.ID] == 0 {
			s.state[t.ID] = taskgraph.Ready
			s.global.push(t.ID, s.priority[t.ID])
		}
	}
	return s
}

// Run drives every task in the graph to a terminal state and returns the
// aggregate result. Cancelling ctx refuses further READY transitions and
// lets in-flight executions observe the cancellation themselves.
func (s *Scheduler) Run(ctx context.Context) *Result {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.cond.Broadcast()
			s.mu.Unlock()
		case <-done:
		}
	}()

	var wg sync.WaitGroup
	wg.Add(s.workers)
	for i := 0; i < s.workers; i++ {
		go func(worker int) {
			defer wg.Done()
			s.workerLoop(ctx, worker)
		}(i)
	}
	wg.Wait()
	return s.summarize()
}

func (s *Scheduler) workerLoop(ctx context.Context, worker int) {
	for {
		s.mu.Lock()
		for {
			if s.pending == 0 {
				s.mu.Unlock()
				return
			}
			if ctx.Err() != nil {
				s.cancelRemaining()
				s.mu.Unlock()
				return
			}
			if s.stopAdmitting {
				if s.running == 0 {
					s.drainAfterFailFast()
					s.mu.Unlock()
					return
				}
				s.cond.Wait()
				continue
			}
			id, ok := s.pick(worker)
			if ok {
				s.state[id] = taskgraph.Running
				s.running++
				s.mu.Unlock()
				s.execute(ctx, worker, id)
				break
			}
			s.cond.Wait()
		}
	}
}

// pick implements the dispatch loop from spec.md §4.7: own deque (LIFO),
// else global queue, else steal from a randomly selected worker's deque
// (FIFO end). Caller holds s.mu.
func (s *Scheduler) pick(worker int) (taskgraph.ID, bool) {
	if id, ok := s.deques[worker].popBack(); ok {
		return id, true
	}
	if id, ok := s.global.pop(); ok {
		return id, true
	}
	order := rand.Perm(len(s.deques))
	for _, victim := range order {
		if victim == worker {
			continue
		}
		if id, ok := s.deques[victim].popFront(); ok {
			return id, true
		}
	}
	return "", false
}

func (s *Scheduler) execute(ctx context.Context, worker int, id taskgraph.ID) {
	task, _ := s.graph.Get(id)
	start := time.Now()
	outcome, err := s.executor.Execute(ctx, task)
	end := time.Now()
	if err != nil && outcome.State == "" {
		outcome.State = taskgraph.Failed
		outcome.Err = err
	}
	if ctx.Err() != nil {
		outcome.State = taskgraph.Failed
		if outcome.Err == nil {
			outcome.Err = forgeerr.New(forgeerr.Cancelled, "cancelled")
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.complete(worker, id, outcome, start, end)
}

// complete records a terminal outcome, propagates SKIPPED to dependents
// per the failure mode, and transitions newly-ready successors. Caller
// holds s.mu.
func (s *Scheduler) complete(worker int, id taskgraph.ID, outcome Outcome, start, end time.Time) {
	s.state[id] = outcome.State
	s.results[id] = TaskResult{
		TaskID: id, State: outcome.State, ExitCode: outcome.ExitCode, Err: outcome.Err,
		Worker: worker, Start: start, End: end,
	}
	s.pending--
	s.running--

	if outcome.State == taskgraph.Failed {
		if s.mode == FailFast {
			s.stopAdmitting = true
		}
		s.skipDescendants(id)
	}

	for _, succ := range s.graph.Successors(id) {
		if s.state[succ] != taskgraph.Pending {
			continue
		}
		if s.stopAdmitting && s.mode == FailFast {
			continue
		}
		s.remainingDeps[succ]--
		if s.remainingDeps[succ] <= 0 {
			s.state[succ] = taskgraph.Ready
			// Affinity: keep the successor on the worker that just
			// finished a predecessor when its local deque is shallow,
			// else spill to the global queue for stealing.
			if len(s.deques[worker].items) < 2 {
				s.deques[worker].pushBack(succ)
			} else {
				s.global.push(succ, s.priority[succ])
			}
		}
	}
	s.cond.Broadcast()
}

// skipDescendants marks every transitive successor of a FAILED/SKIPPED
// task as SKIPPED, per spec.md §4.7's "task becomes SKIPPED iff any
// dependency is in {FAILED, SKIPPED}" rule. Caller holds s.mu.
func (s *Scheduler) skipDescendants(id taskgraph.ID) {
	queue := s.graph.Successors(id)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if s.state[cur] == taskgraph.Skipped || s.state[cur] == taskgraph.Failed || s.state[cur] == taskgraph.Completed || s.state[cur] == taskgraph.Cached {
			continue
		}
		s.state[cur] = taskgraph.Skipped
		s.results[cur] = TaskResult{TaskID: cur, State: taskgraph.Skipped}
		s.pending--
		queue = append(queue, s.graph.Successors(cur)...)
	}
}

// drainAfterFailFast marks every still-Pending/READY task SKIPPED once
// fail-fast has stopped admitting new work and no task is RUNNING,
// unblocking workers that would otherwise wait forever. Caller holds s.mu.
func (s *Scheduler) drainAfterFailFast() {
	for _, t := range s.graph.All() {
		switch s.state[t.ID] {
		case taskgraph.Pending, taskgraph.Ready:
			s.state[t.ID] = taskgraph.Skipped
			s.results[t.ID] = TaskResult{TaskID: t.ID, State: taskgraph.Skipped}
			s.pending--
		}
	}
	s.cond.Broadcast()
}

// cancelRemaining marks every non-terminal task SKIPPED with a cancelled
// error, draining the scheduler when the context is cancelled. Caller
// holds s.mu.
func (s *Scheduler) cancelRemaining() {
	for _, t := range s.graph.All() {
		switch s.state[t.ID] {
		case taskgraph.Completed, taskgraph.Failed, taskgraph.Skipped, taskgraph.Cached:
			continue
		case taskgraph.Running:
			continue
		default:
			s.state[t.ID] = taskgraph.Skipped
			s.results[t.ID] = TaskResult{TaskID: t.ID, State: taskgraph.Skipped, Err: forgeerr.New(forgeerr.Cancelled, "cancelled")}
			s.pending--
		}
	}
	s.cond.Broadcast()
}

func (s *Scheduler) summarize() *Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := &Result{Results: make(map[taskgraph.ID]TaskResult, len(s.results))}
	for id, r := range s.results {
		res.Results[id] = r
		switch r.State {
		case taskgraph.Completed:
			res.SuccessCount++
		case taskgraph.Cached:
			res.CachedCount++
		case taskgraph.Failed:
			res.FailureCount++
			res.Failed = append(res.Failed, r)
		case taskgraph.Skipped:
			res.SkippedCount++
		}
	}
	return res
}
