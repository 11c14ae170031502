// Package daemon implements bhdir's control socket: a UNIX domain socket
// listener speaking the length-framed JSON protocol of spec.md §4.6,
// dispatching each request to the matching Directory operation. Grounded on
// petomalina-pot/cmd/pot/main.go's listener-goroutine-plus-signal-context
// shutdown shape, generalized from net/http over TCP to net.Listen("unix",
// ...) with a bespoke frame reader/writer per connection in place of the
// http.Server request loop.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/bhdir/bhdir/internal/bherrors"
	"github.com/bhdir/bhdir/internal/directory"
	"github.com/bhdir/bhdir/internal/wire"
)

// Config carries the control socket's on-disk path and ownership, per
// spec.md §6's `socket.*` keys.
type Config struct {
	Path  string
	Mode  os.FileMode
	UID   *int
	GID   *int
}

// Daemon owns the control socket listener and dispatches each connection's
// requests to dir.
type Daemon struct {
	cfg Config
	dir *directory.Directory
	log *slog.Logger

	ln net.Listener

	wg sync.WaitGroup
}

// New constructs a Daemon bound to cfg, dispatching to dir.
func New(cfg Config, dir *directory.Directory, logger *slog.Logger) *Daemon {
	if logger == nil {
		logger = slog.Default()
	}
	return &Daemon{cfg: cfg, dir: dir, log: logger}
}

// Start binds the control socket and begins accepting connections. Any
// stale socket file left by a prior crashed instance is removed first.
func (d *Daemon) Start() error {
	if err := os.MkdirAll(filepath.Dir(d.cfg.Path), 0755); err != nil {
		return bherrors.Wrap(bherrors.ErrIo, "create socket directory: %v", err)
	}
	if err := os.Remove(d.cfg.Path); err != nil && !os.IsNotExist(err) {
		return bherrors.Wrap(bherrors.ErrIo, "remove stale socket %s: %v", d.cfg.Path, err)
	}

	ln, err := net.Listen("unix", d.cfg.Path)
	if err != nil {
		return bherrors.Wrap(bherrors.ErrIo, "listen on %s: %v", d.cfg.Path, err)
	}
	d.ln = ln

	mode := d.cfg.Mode
	if mode == 0 {
		mode = 0600
	}
	if err := os.Chmod(d.cfg.Path, mode); err != nil {
		ln.Close()
		return bherrors.Wrap(bherrors.ErrIo, "chmod %s: %v", d.cfg.Path, err)
	}
	if d.cfg.UID != nil && d.cfg.GID != nil {
		if err := os.Chown(d.cfg.Path, *d.cfg.UID, *d.cfg.GID); err != nil {
			ln.Close()
			return bherrors.Wrap(bherrors.ErrIo, "chown %s: %v", d.cfg.Path, err)
		}
	}

	d.wg.Add(1)
	go d.acceptLoop()
	return nil
}

// Stop closes the listener, waits for in-flight connections to finish their
// current RPC, and removes the socket file.
func (d *Daemon) Stop() {
	if d.ln != nil {
		d.ln.Close()
	}
	d.wg.Wait()
	os.Remove(d.cfg.Path)
}

func (d *Daemon) acceptLoop() {
	defer d.wg.Done()

	// Once the listener closes, shut the read side of every open connection:
	// a request already being dispatched still gets its response written,
	// and the connection's next ReadFrame returns EOF.
	var connsMu sync.Mutex
	conns := make(map[net.Conn]struct{})
	defer func() {
		connsMu.Lock()
		defer connsMu.Unlock()
		for c := range conns {
			if uc, ok := c.(*net.UnixConn); ok {
				uc.CloseRead()
			}
		}
	}()

	for {
		conn, err := d.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			d.log.Error("accept failed", "error", err.Error())
			return
		}

		connsMu.Lock()
		conns[conn] = struct{}{}
		connsMu.Unlock()

		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.serveConn(conn)
			connsMu.Lock()
			delete(conns, conn)
			connsMu.Unlock()
		}()
	}
}

// serveConn runs one connection's Receiving → Dispatching → Responding
// cycle until the socket closes or a framing-level protocol error occurs,
// per spec.md §4.6's per-client state machine. Pipelined requests on the
// same connection are processed one at a time, in order; concurrency comes
// from distinct connections, each served by its own goroutine.
func (d *Daemon) serveConn(conn net.Conn) {
	defer conn.Close()

	for {
		payload, err := wire.ReadFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				d.log.Debug("closing connection after frame error", "error", err.Error())
			}
			return
		}

		var req wire.Request
		if err := json.Unmarshal(payload, &req); err != nil || req.Command == "" {
			d.log.Debug("closing connection after malformed request")
			return
		}

		resp := d.dispatch(context.Background(), req)

		out, err := json.Marshal(resp)
		if err != nil {
			d.log.Error("failed to marshal response", "error", err.Error())
			return
		}
		if err := wire.WriteFrame(conn, out); err != nil {
			return
		}
	}
}
