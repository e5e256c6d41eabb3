// Package rpcclient is the thin JSON-RPC 2.0 client the CLI surface uses
// to talk to the daemon over the pipes the Supervisor opens, per
// spec.md §4.10/§6. Mirrors the wire shape of internal/daemon/protocol.go
// (itself grounded on reginald-project-reginald's pkg/rpp Message/Error
// types) independently rather than importing the daemon package, the way
// a real JSON-RPC client and server typically ship as separate modules
// sharing only the wire contract.
package rpcclient

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
)

// Message is one line of the protocol.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string { return fmt.Sprintf("daemon error %d: %s", e.Code, e.Message) }

// NotificationHandler receives $/log and $/progress notifications as
// they arrive, in the order the daemon emits them.
type NotificationHandler func(method string, params json.RawMessage)

// Client correlates requests with responses over a single daemon
// connection. One Client per Supervisor-owned daemon process.
type Client struct {
	in  io.WriteCloser
	out *bufio.Reader

	pending sync.Map // id -> chan *Message

	onNotify NotificationHandler

	readErrMu sync.Mutex
	readErr   error
	closed    chan struct{}
}

// New starts reading responses from out immediately; call Close to stop.
func New(in io.WriteCloser, out io.Reader, onNotify NotificationHandler) *Client {
	c := &Client{in: in, out: bufio.NewReaderSize(out, 1<<20), onNotify: onNotify, closed: make(chan struct{})}
	go c.readLoop()
	return c
}

func (c *Client) readLoop() {
	defer close(c.closed)
	for {
		line, err := c.out.ReadString('\n')
		if len(line) > 0 {
			var msg Message
			if jsonErr := json.Unmarshal([]byte(line), &msg); jsonErr == nil {
				c.route(&msg)
			}
		}
		if err != nil {
			c.readErrMu.Lock()
			c.readErr = err
			c.readErrMu.Unlock()
			return
		}
	}
}

func (c *Client) route(msg *Message) {
	if msg.ID == nil {
		if c.onNotify != nil && msg.Method != "" {
			c.onNotify(msg.Method, msg.Params)
		}
		return
	}
	// id round-trips through json as a plain string, so it compares
	// directly against the uuid.NewString() value Call stored it under.
	key := fmt.Sprintf("%v", msg.ID)
	if chAny, ok := c.pending.LoadAndDelete(key); ok {
		chAny.(chan *Message) <- msg
	}
}

// Call sends method with the given params and decodes the result into
// out (which may be nil if the caller doesn't need the result). Returns
// the daemon's *Error, wrapped, if the response carries one.
func (c *Client) Call(method string, params any, out any) error {
	id := uuid.NewString()
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encoding params for %s: %w", method, err)
	}

	req := Message{JSONRPC: "2.0", ID: id, Method: method, Params: paramsJSON}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encoding request for %s: %w", method, err)
	}

	ch := make(chan *Message, 1)
	c.pending.Store(id, ch)
	defer c.pending.Delete(id)

	if _, err := c.in.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing request for %s: %w", method, err)
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return resp.Error
		}
		if out == nil || len(resp.Result) == 0 {
			return nil
		}
		return json.Unmarshal(resp.Result, out)
	case <-c.closed:
		c.readErrMu.Lock()
		err := c.readErr
		c.readErrMu.Unlock()
		if err != nil {
			return fmt.Errorf("daemon connection closed: %w", err)
		}
		return fmt.Errorf("daemon connection closed")
	}
}

// Notify sends a notification (no response expected), used for
// `workspace/didChange`.
func (c *Client) Notify(method string, params any) error {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return err
	}
	req := Message{JSONRPC: "2.0", Method: method, Params: paramsJSON}
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	_, err = c.in.Write(append(data, '\n'))
	return err
}

// Close closes the write side of the connection; the read loop exits
// when the daemon closes its end in turn.
func (c *Client) Close() error {
	return c.in.Close()
}
