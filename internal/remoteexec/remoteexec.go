// Package remoteexec implements the Remote Executor (C9): translates a
// task into REv2 Action/Command/Directory messages, consults and updates
// the Action Cache, uploads blobs to the Content-Addressable Store, and
// drives the Execute RPC to completion, per spec.md §4.9. Grounded on the
// teacher's cache_http.go artifact-packing flow (adapted: REv2 Directory
// messages replace its ad hoc tar headers) and daemon.go's existing
// google.golang.org/grpc dial idiom.
package remoteexec

import (
	"context"
	"fmt"
	"io"
	"strings"

	repb "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	"github.com/hashicorp/go-hclog"
	longrunningpb "google.golang.org/genproto/googleapis/longrunning"

	"github.com/jbadeau/forge/internal/config"
	"github.com/jbadeau/forge/internal/forgeerr"
	"github.com/jbadeau/forge/internal/localexec"
	"github.com/jbadeau/forge/internal/projectgraph"
	"github.com/jbadeau/forge/internal/scheduler"
	"github.com/jbadeau/forge/internal/taskgraph"
)

// Executor implements scheduler.Executor by delegating tasks to a REv2
// remote execution service.
type Executor struct {
	WorkspaceRoot string
	Graph         *projectgraph.Graph
	Config        *config.RemoteExecutionConfig
	Log           hclog.Logger

	clients map[string]*client // keyed by endpoint, reused across tasks
}

// New constructs a remote Executor. cfg is the workspace's remoteExecution
// section; graph supplies "^default" input resolution.
func New(workspaceRoot string, graph *projectgraph.Graph, cfg *config.RemoteExecutionConfig, log hclog.Logger) *Executor {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Executor{
		WorkspaceRoot: workspaceRoot,
		Graph:         graph,
		Config:        cfg,
		Log:           log.Named("remoteexec"),
		clients:       make(map[string]*client),
	}
}

// Execute runs task remotely, per spec.md §4.9's protocol sequence.
func (e *Executor) Execute(ctx context.Context, task *taskgraph.Task) (scheduler.Outcome, error) {
	endpoint, useTLS, enabled := endpointFor(e.Config, task.Target.RemoteExecution)
	if !enabled || endpoint == "" {
		return scheduler.Outcome{}, forgeerr.New(forgeerr.RemoteUnavailable,
			fmt.Sprintf("task %s has no remote execution endpoint configured", task.ID))
	}

	c, err := e.clientFor(endpoint, useTLS)
	if err != nil {
		return scheduler.Outcome{}, forgeerr.Wrap(forgeerr.RemoteUnavailable, "dialing remote execution endpoint", err)
	}

	commandLine := localexec.BuildCommand(task.Target)
	if commandLine == "" {
		return scheduler.Outcome{State: taskgraph.Completed}, nil
	}

	files, err := ResolveInputs(e.WorkspaceRoot, e.Graph, task)
	if err != nil {
		return scheduler.Outcome{}, forgeerr.Wrap(forgeerr.RemoteProtocol, "resolving task inputs", err)
	}
	inputRootDigest, blobs, err := buildInputRoot(e.WorkspaceRoot, files)
	if err != nil {
		return scheduler.Outcome{}, forgeerr.Wrap(forgeerr.RemoteProtocol, "building input root", err)
	}

	cmdMsg := buildCommandMessage(task, commandLine)
	cmdDigest, cmdBytes, err := messageDigest(cmdMsg)
	if err != nil {
		return scheduler.Outcome{}, forgeerr.Wrap(forgeerr.RemoteProtocol, "serializing command", err)
	}
	blobs[cmdDigest.Hash] = cmdBytes

	timeoutSeconds := task.Target.TimeoutSeconds
	if timeoutSeconds <= 0 && e.Config != nil {
		timeoutSeconds = e.Config.DefaultTimeoutSeconds
	}
	action := buildAction(cmdDigest, inputRootDigest, timeoutSeconds, task.Cacheable)
	actionDigest, actionBytes, err := messageDigest(action)
	if err != nil {
		return scheduler.Outcome{}, forgeerr.Wrap(forgeerr.RemoteProtocol, "serializing action", err)
	}
	blobs[actionDigest.Hash] = actionBytes

	if task.Cacheable {
		if result, err := c.ac.GetActionResult(ctx, &repb.GetActionResultRequest{ActionDigest: actionDigest}); err == nil && result != nil {
			e.Log.Debug("action cache hit", "task", task.ID, "digest", actionDigest.Hash)
			return scheduler.Outcome{State: taskgraph.Cached, ExitCode: int(result.ExitCode)}, nil
		}
	}

	if err := e.uploadBlobs(ctx, c, blobs); err != nil {
		return scheduler.Outcome{}, forgeerr.Wrap(forgeerr.CASUpload, "uploading action blobs", err)
	}

	exitCode, err := e.runExecute(ctx, c, actionDigest)
	if err != nil {
		return scheduler.Outcome{}, err
	}

	state := taskgraph.Completed
	if exitCode != 0 {
		state = taskgraph.Failed
	} else if task.Cacheable {
		e.updateActionCache(ctx, c, actionDigest, exitCode)
	}
	return scheduler.Outcome{State: state, ExitCode: int(exitCode)}, nil
}

func (e *Executor) clientFor(endpoint string, useTLS bool) (*client, error) {
	if c, ok := e.clients[endpoint]; ok {
		return c, nil
	}
	c, err := dial(endpoint, useTLS, e.Log)
	if err != nil {
		return nil, err
	}
	e.clients[endpoint] = c
	return c, nil
}

// uploadBlobs uploads action, command and root directory blobs, skipping
// blobs the server already has per FindMissingBlobs when available, per
// spec.md §4.9 step 3.
func (e *Executor) uploadBlobs(ctx context.Context, c *client, blobs map[string][]byte) error {
	digests := make([]*repb.Digest, 0, len(blobs))
	for hash, data := range blobs {
		digests = append(digests, &repb.Digest{Hash: hash, SizeBytes: int64(len(data))})
	}

	missing := digests
	if resp, err := c.cas.FindMissingBlobs(ctx, &repb.FindMissingBlobsRequest{BlobDigests: digests}); err == nil {
		missing = resp.MissingBlobDigests
	}
	if len(missing) == 0 {
		return nil
	}

	req := &repb.BatchUpdateBlobsRequest{}
	for _, d := range missing {
		req.Requests = append(req.Requests, &repb.BatchUpdateBlobsRequest_Request{
			Digest: d,
			Data:   blobs[d.Hash],
		})
	}
	resp, err := c.cas.BatchUpdateBlobs(ctx, req)
	if err != nil {
		return err
	}
	for _, r := range resp.Responses {
		if r.Status != nil && r.Status.Code != 0 {
			return fmt.Errorf("uploading blob %s: %s", r.Digest.Hash, r.Status.Message)
		}
	}
	return nil
}

// runExecute drives the Execute RPC's operation stream to completion, per
// spec.md §4.9 step 4.
func (e *Executor) runExecute(ctx context.Context, c *client, actionDigest *repb.Digest) (int32, error) {
	stream, err := c.exec.Execute(ctx, &repb.ExecuteRequest{ActionDigest: actionDigest, SkipCacheLookup: true})
	if err != nil {
		return -1, forgeerr.Wrap(forgeerr.RemoteProtocol, "starting Execute RPC", err)
	}

	var final *longrunningpb.Operation
	for {
		op, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return -1, forgeerr.Wrap(forgeerr.RemoteProtocol, "consuming Execute operation stream", err)
		}
		final = op
		if op.Done {
			break
		}
	}
	if final == nil {
		return -1, forgeerr.New(forgeerr.RemoteProtocol, "Execute operation stream ended without a terminal operation")
	}
	if !final.Done {
		return -1, forgeerr.New(forgeerr.RemoteProtocol, "Execute operation stream ended before done=true")
	}
	if final.GetError() != nil {
		return -1, forgeerr.New(forgeerr.RemoteProtocol, strings.TrimSpace(final.GetError().Message))
	}

	execResp := &repb.ExecuteResponse{}
	if any := final.GetResponse(); any != nil {
		if err := any.UnmarshalTo(execResp); err != nil {
			return -1, forgeerr.Wrap(forgeerr.RemoteProtocol, "decoding ExecuteResponse", err)
		}
	}
	if execResp.Status != nil && execResp.Status.Code != 0 {
		return -1, forgeerr.New(forgeerr.RemoteProtocol, execResp.Status.Message)
	}
	if execResp.Result == nil {
		return -1, forgeerr.New(forgeerr.RemoteProtocol, "ExecuteResponse has no ActionResult")
	}
	return execResp.Result.ExitCode, nil
}

// updateActionCache writes the action result after a successful cacheable
// run. Failures here log a warning but never fail the task, per spec.md
// §4.9's "Failure mapping" section.
func (e *Executor) updateActionCache(ctx context.Context, c *client, actionDigest *repb.Digest, exitCode int32) {
	_, err := c.ac.UpdateActionResult(ctx, &repb.UpdateActionResultRequest{
		ActionDigest: actionDigest,
		ActionResult: &repb.ActionResult{ExitCode: exitCode},
	})
	if err != nil {
		e.Log.Warn("updating action cache failed", "digest", actionDigest.Hash, "error", err)
	}
}
