package daemon

import (
	"bufio"
	"context"
	"io"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/jbadeau/forge/internal/fs"
	"github.com/jbadeau/forge/internal/pluginhost"
)

// Server is the long-lived JSON-RPC daemon process. One Server instance
// serves every client connected to its stdin/stdout.
type Server struct {
	log      hclog.Logger
	out      *writer
	cache    *discoveryCache
	registry map[string]pluginhost.Plugin

	shutdownOnce sync.Once
	shutdown     chan struct{}

	runsMu sync.Mutex
	cancel map[any]context.CancelFunc // in-flight requests (not notifications), keyed by request ID
}

// New constructs a Server. registry is the set of built-in, in-process
// inferrer plugins available to the Plugin Host; it may be nil.
func New(log hclog.Logger, registry map[string]pluginhost.Plugin) *Server {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	log = log.Named("daemon")
	host := pluginhost.New(log, registry)
	return &Server{
		log:      log,
		cache:    newDiscoveryCache(host),
		registry: registry,
		shutdown: make(chan struct{}),
		cancel:   make(map[any]context.CancelFunc),
	}
}

// Serve reads newline-delimited JSON-RPC messages from in and writes
// responses/notifications to out until the client closes the stream or
// a `shutdown` request is handled, per spec.md §4.10. Each request is
// dispatched on its own goroutine; the output stream is serialized by
// the writer's internal mutex.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	s.out = newWriter(out)
	reader := bufio.NewReaderSize(in, 1<<20)

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		msg, err := readMessage(reader)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			if msg == nil {
				s.log.Warn("malformed request line, skipping", "error", err)
				continue
			}
		}
		if msg == nil {
			continue
		}

		wg.Add(1)
		go func(m *Message) {
			defer wg.Done()
			s.dispatch(ctx, m)
		}(msg)

		select {
		case <-s.shutdown:
			wg.Wait()
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

// dispatch routes one request/notification to its handler and writes the
// response, per spec.md §4.10's method table.
func (s *Server) dispatch(ctx context.Context, msg *Message) {
	if msg.JSONRPC != "" && msg.JSONRPC != jsonRPCVersion {
		s.replyInvalidRequest(msg)
		return
	}

	reqCtx, cancel := context.WithCancel(ctx)
	if !msg.isNotification() {
		s.runsMu.Lock()
		s.cancel[msg.ID] = cancel
		s.runsMu.Unlock()
		defer func() {
			s.runsMu.Lock()
			delete(s.cancel, msg.ID)
			s.runsMu.Unlock()
			cancel()
		}()
	} else {
		defer cancel()
	}

	switch msg.Method {
	case "ping":
		s.handlePing(msg)
	case "shutdown":
		s.handleShutdown(msg)
	case "show/projects":
		s.handleShowProjects(msg)
	case "show/project":
		s.handleShowProject(msg)
	case "project/graph":
		s.handleProjectGraph(msg)
	case "run/task":
		s.handleRunTask(reqCtx, msg)
	case "run/many":
		s.handleRunMany(reqCtx, msg)
	case "cache/clean":
		s.handleCacheClean(msg)
	case "workspace/didChange":
		s.handleDidChange(msg)
	default:
		if !msg.isNotification() {
			_ = s.out.replyError(msg.ID, &Error{Code: MethodNotFound, Message: "method not found: " + msg.Method,
				Data: map[string]any{"kind": "RPC_METHOD_NOT_FOUND"}})
		}
	}
}

func (s *Server) replyInvalidRequest(msg *Message) {
	if msg.isNotification() {
		return
	}
	_ = s.out.replyError(msg.ID, &Error{Code: InvalidRequest, Message: "jsonrpc must be \"2.0\"",
		Data: map[string]any{"kind": "RPC_INVALID_PARAMS"}})
}

func (s *Server) logNotify(level, message string) {
	_ = s.out.notify("$/log", map[string]any{"level": level, "message": message})
}

func (s *Server) progressNotify(current, total int, message string) {
	_ = s.out.notify("$/progress", map[string]any{"current": current, "total": total, "message": message})
}

func (s *Server) resolveWorkspace(raw string) (fs.AbsolutePath, error) {
	return fs.ResolveWorkspaceRoot(raw)
}

// Shutdown signals Serve to stop accepting further requests once
// in-flight ones drain, per spec.md §4.10's edge case 6: the response
// to `shutdown` is sent after in-flight `run/*` calls observe
// cancellation and record their own terminal responses.
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.runsMu.Lock()
		for _, cancel := range s.cancel {
			cancel()
		}
		s.runsMu.Unlock()
		close(s.shutdown)
	})
}
