// Package client is a Go client library for bhdird's control socket,
// speaking the length-framed JSON protocol of spec.md §4.6 directly rather
// than shelling out to a CLI. Grounded on the teacher's own client.go: a
// functional-options constructor plus one Go method per server operation,
// adapted from a GCS-bucket-backed Client to a UNIX-socket one.
package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bhdir/bhdir/internal/wire"
)

// noDeadline clears a previously set connection deadline.
var noDeadline time.Time

// Client dials a bhdird control socket and issues RPCs over it.
type Client struct {
	conn net.Conn

	mu      sync.Mutex
	counter atomic.Uint64
}

// Option configures a Client at construction time, mirroring the teacher's
// WithDistributedLock-style functional option on its own Client.
type Option func(*Client)

// Dial connects to the bhdird control socket at path.
func Dial(ctx context.Context, path string, opts ...Option) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", path, err)
	}

	c := &Client{conn: conn}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Close closes the underlying socket connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// call sends one request and waits for its matching response. Requests on
// one Client are serialized, since the control socket's framing has no
// in-band request/response correlation beyond id matching and a single
// connection is simplest kept to one in-flight call at a time; open
// multiple Clients for concurrent callers, per spec.md §4.6's "concurrent
// requests on distinct connections are fully parallel".
func (c *Client) call(ctx context.Context, command string, args ...any) (wire.Response, error) {
	rawArgs := make([]json.RawMessage, len(args))
	for i, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return wire.Response{}, fmt.Errorf("marshal argument %d: %w", i, err)
		}
		rawArgs[i] = b
	}

	id := fmt.Sprintf("%d", c.counter.Add(1))
	payload, err := json.Marshal(wire.Request{ID: id, Command: command, Args: rawArgs})
	if err != nil {
		return wire.Response{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetDeadline(deadline)
		defer c.conn.SetDeadline(noDeadline)
	}

	if err := wire.WriteFrame(c.conn, payload); err != nil {
		return wire.Response{}, err
	}

	respPayload, err := wire.ReadFrame(c.conn)
	if err != nil {
		return wire.Response{}, err
	}

	var resp wire.Response
	if err := json.Unmarshal(respPayload, &resp); err != nil {
		return wire.Response{}, err
	}
	return resp, nil
}

func asError(resp wire.Response) error {
	if !resp.Success {
		return fmt.Errorf("%s", resp.Message)
	}
	return nil
}

func resultOrNil(resp wire.Response) any {
	if len(resp.Results) == 0 {
		return nil
	}
	return resp.Results[0]
}

// Get fetches the record at addr, or nil if it doesn't exist.
func (c *Client) Get(ctx context.Context, addr string) (any, error) {
	resp, err := c.call(ctx, "get", addr)
	if err != nil {
		return nil, err
	}
	if err := asError(resp); err != nil {
		return nil, err
	}
	return resultOrNil(resp), nil
}

// Set writes value at addr, returning the new history entry id, or nil if
// the write was a no-op.
func (c *Client) Set(ctx context.Context, addr string, value any) (any, error) {
	resp, err := c.call(ctx, "set", addr, value)
	if err != nil {
		return nil, err
	}
	if err := asError(resp); err != nil {
		return nil, err
	}
	return resultOrNil(resp), nil
}

// Del removes the variable at addr.
func (c *Client) Del(ctx context.Context, addr string) error {
	resp, err := c.call(ctx, "del", addr)
	if err != nil {
		return err
	}
	return asError(resp)
}

// Ls lists addr's children.
func (c *Client) Ls(ctx context.Context, addr string) (any, error) {
	resp, err := c.call(ctx, "ls", addr)
	if err != nil {
		return nil, err
	}
	if err := asError(resp); err != nil {
		return nil, err
	}
	return resultOrNil(resp), nil
}

// Exists reports whether addr names a variable.
func (c *Client) Exists(ctx context.Context, addr string) (bool, error) {
	resp, err := c.call(ctx, "exists", addr)
	if err != nil {
		return false, err
	}
	if err := asError(resp); err != nil {
		return false, err
	}
	b, _ := resultOrNil(resp).(bool)
	return b, nil
}

// SetAttr sets attribute name on addr to value.
func (c *Client) SetAttr(ctx context.Context, addr, name string, value any) (any, error) {
	resp, err := c.call(ctx, "set-attr", addr, name, value)
	if err != nil {
		return nil, err
	}
	if err := asError(resp); err != nil {
		return nil, err
	}
	return resultOrNil(resp), nil
}

// GetAttr reads attribute name on addr.
func (c *Client) GetAttr(ctx context.Context, addr, name string) (any, error) {
	resp, err := c.call(ctx, "get-attr", addr, name)
	if err != nil {
		return nil, err
	}
	if err := asError(resp); err != nil {
		return nil, err
	}
	return resultOrNil(resp), nil
}

// DelAttr removes attribute name on addr.
func (c *Client) DelAttr(ctx context.Context, addr, name string) (any, error) {
	resp, err := c.call(ctx, "del-attr", addr, name)
	if err != nil {
		return nil, err
	}
	if err := asError(resp); err != nil {
		return nil, err
	}
	return resultOrNil(resp), nil
}

// Touch bumps addr's mtime without changing its value.
func (c *Client) Touch(ctx context.Context, addr string) (any, error) {
	resp, err := c.call(ctx, "touch", addr)
	if err != nil {
		return nil, err
	}
	if err := asError(resp); err != nil {
		return nil, err
	}
	return resultOrNil(resp), nil
}

// WaitResult is the outcome of a Wait call.
type WaitResult struct {
	TimedOut bool
	Value    any
}

// Wait blocks until addr changes or timeoutMs elapses.
func (c *Client) Wait(ctx context.Context, addr string, timeoutMs int) (WaitResult, error) {
	resp, err := c.call(ctx, "wait", addr, timeoutMs)
	if err != nil {
		return WaitResult{}, err
	}
	if err := asError(resp); err != nil {
		return WaitResult{}, err
	}
	return WaitResult{TimedOut: resp.Timeout, Value: resultOrNil(resp)}, nil
}

// Upload stores a blob payload for addr.
func (c *Client) Upload(ctx context.Context, addr string, data []byte) (any, error) {
	resp, err := c.call(ctx, "upload", addr, data)
	if err != nil {
		return nil, err
	}
	if err := asError(resp); err != nil {
		return nil, err
	}
	return resultOrNil(resp), nil
}

// Download fetches addr's blob payload, or nil if it has none.
func (c *Client) Download(ctx context.Context, addr string) ([]byte, error) {
	resp, err := c.call(ctx, "download", addr)
	if err != nil {
		return nil, err
	}
	if err := asError(resp); err != nil {
		return nil, err
	}
	s, ok := resultOrNil(resp).(string)
	if !ok {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(s)
}

// ClearCache flushes the daemon's in-process cache.
func (c *Client) ClearCache(ctx context.Context) error {
	resp, err := c.call(ctx, "clear-cache")
	if err != nil {
		return err
	}
	return asError(resp)
}

// CreateFolder mounts a brand new folder.
func (c *Client) CreateFolder(ctx context.Context, name string, format int) error {
	resp, err := c.call(ctx, "create-folder", name, format)
	if err != nil {
		return err
	}
	return asError(resp)
}

// AddFolder mounts an existing on-disk folder.
func (c *Client) AddFolder(ctx context.Context, name, path string) error {
	resp, err := c.call(ctx, "add-folder", name, path)
	if err != nil {
		return err
	}
	return asError(resp)
}
