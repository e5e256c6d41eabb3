package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"

	"github.com/jbadeau/forge/internal/pluginhost"
)

func writeWorkspace(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	projDir := filepath.Join(root, "packages", "app")
	require.NoError(t, os.MkdirAll(projDir, 0o755))
	manifest := `{
		"name": "app",
		"projectType": "application",
		"targets": {
			"build": {"command": "true", "cache": false}
		}
	}`
	require.NoError(t, os.WriteFile(filepath.Join(projDir, "forge.project.json"), []byte(manifest), 0o644))
	return root
}

func startServer(t *testing.T, ctx context.Context) (chan<- string, <-chan string) {
	t.Helper()
	inR, inW, err := os.Pipe()
	require.NoError(t, err)
	outR, outW, err := os.Pipe()
	require.NoError(t, err)

	s := New(hclog.NewNullLogger(), nil)
	go func() { _ = s.Serve(ctx, inR, outW) }()

	send := make(chan string)
	recv := make(chan string, 16)

	go func() {
		for line := range send {
			_, _ = inW.Write([]byte(line + "\n"))
		}
	}()

	go func() {
		reader := bufio.NewReader(outR)
		for {
			line, err := reader.ReadString('\n')
			if line != "" {
				recv <- line
			}
			if err != nil {
				return
			}
		}
	}()

	t.Cleanup(func() {
		_ = inW.Close()
		_ = outW.Close()
	})

	return send, recv
}

func decode(t *testing.T, line string) Message {
	t.Helper()
	var msg Message
	require.NoError(t, json.Unmarshal([]byte(line), &msg))
	return msg
}

func TestPingRepliesPong(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	send, recv := startServer(t, ctx)

	send <- `{"jsonrpc":"2.0","id":1,"method":"ping"}`

	select {
	case line := <-recv:
		msg := decode(t, line)
		var result string
		require.NoError(t, json.Unmarshal(msg.Result, &result))
		require.Equal(t, "pong", result)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for ping reply")
	}
}

func TestUnknownMethodReturnsMethodNotFound(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	send, recv := startServer(t, ctx)

	send <- `{"jsonrpc":"2.0","id":2,"method":"nonsense"}`

	select {
	case line := <-recv:
		msg := decode(t, line)
		require.NotNil(t, msg.Error)
		require.Equal(t, MethodNotFound, msg.Error.Code)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for error reply")
	}
}

func TestShowProjectsListsDiscoveredProject(t *testing.T) {
	root := writeWorkspace(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	send, recv := startServer(t, ctx)

	params, err := json.Marshal(map[string]string{"workspaceRoot": root})
	require.NoError(t, err)
	req, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0", "id": 3, "method": "show/projects", "params": json.RawMessage(params),
	})
	require.NoError(t, err)
	send <- string(req)

	select {
	case line := <-recv:
		msg := decode(t, line)
		require.Nil(t, msg.Error)
		var projects []map[string]any
		require.NoError(t, json.Unmarshal(msg.Result, &projects))
		require.Len(t, projects, 1)
		require.Equal(t, "app", projects[0]["name"])
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for show/projects reply")
	}
}

func TestShowProjectMissingReturnsInvalidParamsError(t *testing.T) {
	root := writeWorkspace(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	send, recv := startServer(t, ctx)

	params, _ := json.Marshal(map[string]string{"workspaceRoot": root, "projectName": "missing"})
	req, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0", "id": 4, "method": "show/project", "params": json.RawMessage(params),
	})
	send <- string(req)

	select {
	case line := <-recv:
		msg := decode(t, line)
		require.NotNil(t, msg.Error)
		require.Equal(t, InvalidParams, msg.Error.Code)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for show/project error")
	}
}

func TestRunTaskDryRunReturnsExecutionPlan(t *testing.T) {
	root := writeWorkspace(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	send, recv := startServer(t, ctx)

	params, _ := json.Marshal(map[string]any{
		"workspaceRoot": root, "projectName": "app", "target": "build", "dryRun": true,
	})
	req, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0", "id": 5, "method": "run/task", "params": json.RawMessage(params),
	})
	send <- string(req)

	select {
	case line := <-recv:
		msg := decode(t, line)
		require.Nil(t, msg.Error)
		var result struct {
			Plan [][]string `json:"plan"`
		}
		require.NoError(t, json.Unmarshal(msg.Result, &result))
		require.Equal(t, [][]string{{"app:build"}}, result.Plan)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for run/task reply")
	}
}

func TestDiscoveryCacheInvalidatesOnDidChange(t *testing.T) {
	root := writeWorkspace(t)
	host := newDiscoveryCache(pluginhost.New(hclog.NewNullLogger(), nil))
	graph1, _, err := host.get(root)
	require.NoError(t, err)
	require.NotNil(t, graph1)

	host.invalidate(root)
	host.mu.RLock()
	_, ok := host.entries[root]
	host.mu.RUnlock()
	require.False(t, ok)
}
