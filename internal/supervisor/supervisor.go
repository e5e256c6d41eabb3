// Package supervisor implements the Daemon Supervisor (C11): the
// client-side component that spawns the daemon process, pipes its
// stdin/stdout for JSON-RPC traffic, and tracks it in a PID file, per
// spec.md §4.11. A failed PID-file write during spawn triggers one
// respawn. Restart terminates and respawns the daemon, but no caller in
// this module invokes it, so a read or write failure on the daemon's
// pipes is surfaced without a respawn. No teacher file implements this — the teacher's daemon is a
// unix-socket/gRPC server with no client-side supervisor — so the
// spawn/signal shape here follows spec.md §4.11 directly, borrowing the
// teacher's `process.Manager` idiom of wrapping exec.Cmd with a
// SIGTERM-then-grace-then-SIGKILL shutdown (run.go) and its temp-dir
// path derivation pattern (daemon.go's getUnixSocket) adapted to a PID
// file under the user home instead of a socket path.
package supervisor

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/hashicorp/go-hclog"
	"github.com/nightlyone/lockfile"
)

const (
	pidFileName  = "daemon.pid"
	logFileName  = "daemon.log"
	gracePeriod  = 5 * time.Second
	maxRespawns  = 1
)

// PidFilePath returns the default PID file location, `.forge/daemon.pid`
// under the user's home directory, per spec.md §6's "on-disk state".
func PidFilePath() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".forge", pidFileName), nil
}

// LogFilePath returns the default daemon stderr log location.
func LogFilePath() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".forge", logFileName), nil
}

// Supervisor owns one spawned daemon child process on behalf of a
// short-lived CLI invocation.
type Supervisor struct {
	pidPath    string
	logPath    string
	daemonArgs []string
	log        hclog.Logger

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
}

// New constructs a Supervisor. daemonArgs are appended to the re-exec'd
// binary's invocation after "daemon" (e.g. plugin registry flags).
func New(pidPath, logPath string, daemonArgs []string, log hclog.Logger) *Supervisor {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Supervisor{pidPath: pidPath, logPath: logPath, daemonArgs: daemonArgs, log: log.Named("supervisor")}
}

// Ensure returns stdin/stdout pipes to a running daemon, spawning one if
// none is already owned by this Supervisor. It does not attempt to
// reattach to a daemon spawned by a different process: stdio pipes
// cannot be shared across process boundaries, so a live PID recorded by
// another client is logged and otherwise ignored.
func (s *Supervisor) Ensure(ctx context.Context) (io.WriteCloser, io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd != nil {
		return s.stdin, s.stdout, nil
	}
	if pid, alive := s.peekExisting(); alive {
		s.log.Debug("another daemon process is already recorded as live; spawning a private instance anyway", "pid", pid)
	}
	return s.spawn(ctx, maxRespawns)
}

func (s *Supervisor) spawn(ctx context.Context, respawnsLeft int) (io.WriteCloser, io.ReadCloser, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, nil, fmt.Errorf("resolving daemon binary path: %w", err)
	}

	cmd := exec.CommandContext(ctx, exe, append([]string{"daemon"}, s.daemonArgs...)...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("opening daemon stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("opening daemon stdout pipe: %w", err)
	}
	if logFile, logErr := openLogFile(s.logPath); logErr == nil {
		cmd.Stderr = logFile
	} else {
		cmd.Stderr = os.Stderr
	}

	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("starting daemon process: %w", err)
	}

	if err := writePidFile(s.pidPath, cmd.Process.Pid); err != nil {
		s.log.Warn("writing daemon pid file failed, terminating spawned daemon", "error", err)
		s.terminate(cmd)
		if respawnsLeft > 0 {
			return s.spawn(ctx, respawnsLeft-1)
		}
		return nil, nil, fmt.Errorf("recording daemon pid after %d respawn attempts: %w", maxRespawns, err)
	}

	s.cmd, s.stdin, s.stdout = cmd, stdin, stdout
	return stdin, stdout, nil
}

// Restart terminates the currently owned daemon and spawns a fresh one,
// per spec.md §4.11's "terminate the child ... respawn once" on a
// communication failure.
func (s *Supervisor) Restart(ctx context.Context) (io.WriteCloser, io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd != nil {
		s.terminate(s.cmd)
		s.cmd, s.stdin, s.stdout = nil, nil, nil
	}
	return s.spawn(ctx, maxRespawns)
}

// Stop terminates the owned daemon process gracefully, if any, and
// removes the PID file.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil {
		return nil
	}
	s.terminate(s.cmd)
	s.cmd, s.stdin, s.stdout = nil, nil, nil
	return removePidFile(s.pidPath)
}

// terminate sends SIGTERM, waits up to gracePeriod, then SIGKILL, per
// spec.md §5's "Local executor forwards cancellation as
// SIGTERM+grace+SIGKILL" cancellation idiom applied to the daemon child.
func (s *Supervisor) terminate(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Signal(syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(gracePeriod):
		_ = cmd.Process.Kill()
		<-done
	}
	_ = removePidFile(s.pidPath)
}

// peekExisting reports whether pidPath names a PID that is currently
// alive. A stale PID (no live process, or the file is absent/malformed)
// is ignored, per spec.md §4.11.
func (s *Supervisor) peekExisting() (int, bool) {
	lf, err := lockfile.New(s.pidPath)
	if err != nil {
		return 0, false
	}
	proc, err := lf.GetOwner()
	if err != nil {
		return 0, false
	}
	return proc.Pid, true
}

// writePidFile writes pid to path, creating or replacing the file
// atomically enough for this single-writer-per-spawn use, per spec.md
// §4.11's "PID file writes must use create-or-replace".
func writePidFile(path string, pid int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.Itoa(pid)), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func removePidFile(path string) error {
	err := os.Remove(path)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

func openLogFile(path string) (*os.File, error) {
	if path == "" {
		return nil, fmt.Errorf("no log path configured")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

// ReadPid reads and parses the PID recorded at path, trimming
// whitespace, per spec.md §6's "ASCII decimal PID" on-disk format.
func ReadPid(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}
