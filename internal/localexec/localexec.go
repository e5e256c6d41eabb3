// Package localexec implements the Local Executor (C8): spawns the task's
// command as a subprocess, captures stdout/stderr with a byte-limit cap,
// and enforces a SIGTERM+grace+SIGKILL timeout. Grounded on the teacher's
// execContext.exec (run.go) command construction and its process.Manager
// graceful-kill idiom, reimplemented against stdlib os/exec directly
// since process.Manager itself was not present in the retrieval pack
// slice and is itself a thin os/exec wrapper, not a third-party library.
package localexec

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/jbadeau/forge/internal/project"
	"github.com/jbadeau/forge/internal/scheduler"
	"github.com/jbadeau/forge/internal/taskgraph"
)

// DefaultTimeout is used when the target doesn't configure timeoutSeconds.
const DefaultTimeout = 10 * time.Minute

// GraceDuration is how long the executor waits after SIGTERM before
// escalating to SIGKILL, per spec.md §4.8/§5.
const GraceDuration = 5 * time.Second

// MaxOutputBytes bounds captured stdout+stderr per task before truncation.
const MaxOutputBytes = 10 * 1024 * 1024

// Executor implements scheduler.Executor by running each task as a local
// subprocess.
type Executor struct {
	WorkspaceRoot string
	Log           hclog.Logger
	MaxOutputBytes int
}

// New constructs a local Executor rooted at workspaceRoot.
func New(workspaceRoot string, log hclog.Logger) *Executor {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Executor{WorkspaceRoot: workspaceRoot, Log: log.Named("localexec"), MaxOutputBytes: MaxOutputBytes}
}

// Result carries the captured output alongside the scheduler.Outcome, so
// callers of Run can surface it without re-running the task.
type Result struct {
	scheduler.Outcome
	Stdout    string
	Stderr    string
	Truncated bool
}

// Execute runs task's command, resolving cwd/env from the target
// configuration, per spec.md §4.8. Satisfies scheduler.Executor.
func (e *Executor) Execute(ctx context.Context, task *taskgraph.Task) (scheduler.Outcome, error) {
	res, err := e.Run(ctx, task)
	return res.Outcome, err
}

// Run is the fuller entry point returning captured output. Execute, which
// the daemon uses, calls it and keeps only the Outcome.
func (e *Executor) Run(ctx context.Context, task *taskgraph.Task) (Result, error) {
	command := BuildCommand(task.Target)
	if command == "" {
		return Result{Outcome: scheduler.Outcome{State: taskgraph.Completed}}, nil
	}

	cwd := e.WorkspaceRoot
	if task.Target.Cwd != "" {
		cwd = filepath.Join(e.WorkspaceRoot, task.Target.Cwd)
	} else if task.ProjectRoot != "" {
		cwd = filepath.Join(e.WorkspaceRoot, task.ProjectRoot)
	}

	timeout := DefaultTimeout
	if task.Target.TimeoutSeconds > 0 {
		timeout = time.Duration(task.Target.TimeoutSeconds) * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	limit := e.MaxOutputBytes
	if limit <= 0 {
		limit = MaxOutputBytes
	}

	cmd := shellCommand(command)
	cmd.Dir = cwd
	cmd.Env = mergeEnv(os.Environ(), task.Target.Env)

	stdout := &capBuffer{limit: limit / 2}
	stderr := &capBuffer{limit: limit / 2}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	e.Log.Debug("exec", "task", task.ID, "command", command, "cwd", cwd)

	if err := cmd.Start(); err != nil {
		return Result{Outcome: scheduler.Outcome{State: taskgraph.Failed, ExitCode: -1, Err: err}}, nil
	}

	waitDone := make(chan error, 1)
	go func() { waitDone <- cmd.Wait() }()

	var waitErr error
	select {
	case waitErr = <-waitDone:
	case <-runCtx.Done():
		waitErr = terminateGracefully(cmd, waitDone)
	}

	result := Result{Stdout: stdout.String(), Stderr: stderr.String(), Truncated: stdout.truncated || stderr.truncated}

	if runCtx.Err() == context.DeadlineExceeded {
		result.Outcome = scheduler.Outcome{State: taskgraph.Failed, ExitCode: -1, Err: fmt.Errorf("task %s timed out after %s", task.ID, timeout)}
		return result, nil
	}
	if ctx.Err() != nil {
		result.Outcome = scheduler.Outcome{State: taskgraph.Failed, ExitCode: -1, Err: ctx.Err()}
		return result, nil
	}
	if waitErr != nil {
		exitCode := -1
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		result.Outcome = scheduler.Outcome{State: taskgraph.Failed, ExitCode: exitCode, Err: waitErr}
		return result, nil
	}

	result.Outcome = scheduler.Outcome{State: taskgraph.Completed, ExitCode: 0}
	return result, nil
}

// BuildCommand constructs a shell command from either options.commands
// (a list<string> joined with "&&") or the raw Command string, per
// spec.md §4.8. Shared with the remote executor so local and remote runs
// execute identical command text.
func BuildCommand(t project.Target) string {
	if raw, ok := t.Options["commands"]; ok {
		switch v := raw.(type) {
		case []string:
			return strings.Join(v, " && ")
		case []any:
			parts := make([]string, 0, len(v))
			for _, item := range v {
				if s, ok := item.(string); ok {
					parts = append(parts, s)
				}
			}
			if len(parts) > 0 {
				return strings.Join(parts, " && ")
			}
		}
	}
	return t.Command
}

func mergeEnv(base []string, extra map[string]string) []string {
	out := make([]string, len(base), len(base)+len(extra))
	copy(out, base)
	for k, v := range extra {
		out = append(out, fmt.Sprintf("%s=%s", k, v))
	}
	return out
}

// terminateGracefully sends SIGTERM, then waits for either the process to
// exit or GraceDuration to elapse, escalating to SIGKILL only in the
// latter case, per spec.md §5's "local executor forwards cancellation as
// SIGTERM+grace+SIGKILL". waitDone is the cmd.Wait() result channel
// already being drained by the caller, so an exit right after SIGTERM
// doesn't block for the full grace period.
func terminateGracefully(cmd *exec.Cmd, waitDone <-chan error) error {
	if cmd.Process == nil {
		return <-waitDone
	}
	_ = cmd.Process.Signal(syscall.SIGTERM)
	timer := time.NewTimer(GraceDuration)
	defer timer.Stop()
	select {
	case err := <-waitDone:
		return err
	case <-timer.C:
		_ = cmd.Process.Kill()
		return <-waitDone
	}
}

// shellCommand wraps command in the platform shell, matching the
// teacher's package-manager invocation pattern of running through a
// shell rather than exec'ing a parsed argv directly.
func shellCommand(command string) *exec.Cmd {
	if runtime.GOOS == "windows" {
		return exec.Command("cmd", "/C", command)
	}
	return exec.Command("sh", "-c", command)
}

// capBuffer is a bytes.Buffer that stops accepting writes past limit and
// records that truncation occurred, per spec.md §4.8's output byte cap.
type capBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (c *capBuffer) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.buf.Len() >= c.limit {
		c.truncated = true
		return len(p), nil
	}
	remaining := c.limit - c.buf.Len()
	if len(p) > remaining {
		c.buf.Write(p[:remaining])
		c.truncated = true
		return len(p), nil
	}
	c.buf.Write(p)
	return len(p), nil
}

func (c *capBuffer) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}
