package daemon

import (
	"context"
	"encoding/json"

	"github.com/bhdir/bhdir/internal/bherrors"
	"github.com/bhdir/bhdir/internal/directory"
	"github.com/bhdir/bhdir/internal/wire"
)

func okResponse(id string, results ...any) wire.Response {
	return wire.Response{ID: id, Success: true, Results: results}
}

func errResponse(id string, err error) wire.Response {
	return wire.Response{ID: id, Success: false, Message: err.Error()}
}

func timeoutResponse(id string, value any) wire.Response {
	return wire.Response{ID: id, Success: true, Timeout: true, Results: []any{value}}
}

// dispatch routes one decoded request to the matching Directory operation,
// per spec.md §4.6: "commands dispatched to Directory operations of the
// same name". network-create/network-join/node-create/role-remove name the
// coordinator/networking layer spec.md §1 places out of scope; they are
// accepted (so a client never sees ErrProtocol for a documented command)
// but always answer with a NotFound-flavored application error.
func (d *Daemon) dispatch(ctx context.Context, req wire.Request) wire.Response {
	switch req.Command {
	case "get":
		return d.cmdGet(ctx, req)
	case "set":
		return d.cmdSet(ctx, req)
	case "del":
		return d.cmdDel(ctx, req)
	case "ls":
		return d.cmdLs(ctx, req)
	case "exists":
		return d.cmdExists(ctx, req)
	case "set-attr":
		return d.cmdSetAttr(ctx, req)
	case "get-attr":
		return d.cmdGetAttr(ctx, req)
	case "del-attr":
		return d.cmdDelAttr(ctx, req)
	case "touch":
		return d.cmdTouch(ctx, req)
	case "wait":
		return d.cmdWait(ctx, req)
	case "upload":
		return d.cmdUpload(ctx, req)
	case "download":
		return d.cmdDownload(ctx, req)
	case "clear-cache":
		return d.cmdClearCache(ctx, req)
	case "create-folder":
		return d.cmdCreateFolder(ctx, req)
	case "add-folder":
		return d.cmdAddFolder(ctx, req)
	case "network-create", "network-join", "node-create", "role-remove":
		return errResponse(req.ID, bherrors.Wrap(bherrors.ErrNotFound, "%s: networking/coordinator layer is out of scope", req.Command))
	default:
		return errResponse(req.ID, bherrors.Wrap(bherrors.ErrProtocol, "unknown command %q", req.Command))
	}
}

func argString(args []json.RawMessage, i int) (string, error) {
	if i >= len(args) {
		return "", bherrors.Wrap(bherrors.ErrProtocol, "missing argument %d", i)
	}
	var s string
	if err := json.Unmarshal(args[i], &s); err != nil {
		return "", bherrors.Wrap(bherrors.ErrProtocol, "argument %d: %v", i, err)
	}
	return s, nil
}

func argInt(args []json.RawMessage, i int) (int, error) {
	if i >= len(args) {
		return 0, bherrors.Wrap(bherrors.ErrProtocol, "missing argument %d", i)
	}
	var n int
	if err := json.Unmarshal(args[i], &n); err != nil {
		return 0, bherrors.Wrap(bherrors.ErrProtocol, "argument %d: %v", i, err)
	}
	return n, nil
}

func argBytes(args []json.RawMessage, i int) ([]byte, error) {
	if i >= len(args) {
		return nil, bherrors.Wrap(bherrors.ErrProtocol, "missing argument %d", i)
	}
	var b []byte
	if err := json.Unmarshal(args[i], &b); err != nil {
		return nil, bherrors.Wrap(bherrors.ErrProtocol, "argument %d: %v", i, err)
	}
	return b, nil
}

func (d *Daemon) cmdGet(ctx context.Context, req wire.Request) wire.Response {
	addr, err := argString(req.Args, 0)
	if err != nil {
		return errResponse(req.ID, err)
	}
	rec, err := d.dir.Get(ctx, addr, true)
	if err != nil {
		return errResponse(req.ID, err)
	}
	if rec == nil {
		return okResponse(req.ID, nil)
	}
	return okResponse(req.ID, rec)
}

func (d *Daemon) cmdSet(ctx context.Context, req wire.Request) wire.Response {
	addr, err := argString(req.Args, 0)
	if err != nil {
		return errResponse(req.ID, err)
	}
	if len(req.Args) < 2 {
		return errResponse(req.ID, bherrors.Wrap(bherrors.ErrProtocol, "missing value argument"))
	}
	id, err := d.dir.Set(ctx, addr, directory.SetInput{Value: req.Args[1]})
	if err != nil {
		return errResponse(req.ID, err)
	}
	return okResponse(req.ID, id)
}

func (d *Daemon) cmdDel(ctx context.Context, req wire.Request) wire.Response {
	addr, err := argString(req.Args, 0)
	if err != nil {
		return errResponse(req.ID, err)
	}
	if err := d.dir.Del(ctx, addr); err != nil {
		return errResponse(req.ID, err)
	}
	return okResponse(req.ID, nil)
}

func (d *Daemon) cmdLs(ctx context.Context, req wire.Request) wire.Response {
	addr, err := argString(req.Args, 0)
	if err != nil {
		return errResponse(req.ID, err)
	}
	children, err := d.dir.Ls(ctx, addr)
	if err != nil {
		return errResponse(req.ID, err)
	}
	return okResponse(req.ID, children)
}

func (d *Daemon) cmdExists(ctx context.Context, req wire.Request) wire.Response {
	addr, err := argString(req.Args, 0)
	if err != nil {
		return errResponse(req.ID, err)
	}
	ok, err := d.dir.Exists(ctx, addr)
	if err != nil {
		return errResponse(req.ID, err)
	}
	return okResponse(req.ID, ok)
}

func (d *Daemon) cmdSetAttr(ctx context.Context, req wire.Request) wire.Response {
	addr, err := argString(req.Args, 0)
	if err != nil {
		return errResponse(req.ID, err)
	}
	name, err := argString(req.Args, 1)
	if err != nil {
		return errResponse(req.ID, err)
	}
	if len(req.Args) < 3 {
		return errResponse(req.ID, bherrors.Wrap(bherrors.ErrProtocol, "missing value argument"))
	}
	id, err := d.dir.SetAttr(ctx, addr, name, req.Args[2])
	if err != nil {
		return errResponse(req.ID, err)
	}
	return okResponse(req.ID, id)
}

func (d *Daemon) cmdGetAttr(ctx context.Context, req wire.Request) wire.Response {
	addr, err := argString(req.Args, 0)
	if err != nil {
		return errResponse(req.ID, err)
	}
	name, err := argString(req.Args, 1)
	if err != nil {
		return errResponse(req.ID, err)
	}
	val, err := d.dir.GetAttr(ctx, addr, name)
	if err != nil {
		return errResponse(req.ID, err)
	}
	return okResponse(req.ID, val)
}

func (d *Daemon) cmdDelAttr(ctx context.Context, req wire.Request) wire.Response {
	addr, err := argString(req.Args, 0)
	if err != nil {
		return errResponse(req.ID, err)
	}
	name, err := argString(req.Args, 1)
	if err != nil {
		return errResponse(req.ID, err)
	}
	id, err := d.dir.DelAttr(ctx, addr, name)
	if err != nil {
		return errResponse(req.ID, err)
	}
	return okResponse(req.ID, id)
}

func (d *Daemon) cmdTouch(ctx context.Context, req wire.Request) wire.Response {
	addr, err := argString(req.Args, 0)
	if err != nil {
		return errResponse(req.ID, err)
	}
	id, err := d.dir.Touch(ctx, addr)
	if err != nil {
		return errResponse(req.ID, err)
	}
	return okResponse(req.ID, id)
}

// cmdWait implements spec.md §7's rule that a reached deadline surfaces as
// {timeout:true}, not {success:false} — the only command whose happy path
// branches on which response helper it uses.
func (d *Daemon) cmdWait(ctx context.Context, req wire.Request) wire.Response {
	addr, err := argString(req.Args, 0)
	if err != nil {
		return errResponse(req.ID, err)
	}
	timeoutMs, err := argInt(req.Args, 1)
	if err != nil {
		return errResponse(req.ID, err)
	}
	timedOut, value, err := d.dir.Wait(ctx, addr, timeoutMs)
	if err != nil {
		return errResponse(req.ID, err)
	}
	if timedOut {
		return timeoutResponse(req.ID, value)
	}
	return okResponse(req.ID, value)
}

func (d *Daemon) cmdUpload(ctx context.Context, req wire.Request) wire.Response {
	addr, err := argString(req.Args, 0)
	if err != nil {
		return errResponse(req.ID, err)
	}
	data, err := argBytes(req.Args, 1)
	if err != nil {
		return errResponse(req.ID, err)
	}
	id, err := d.dir.Upload(ctx, addr, data)
	if err != nil {
		return errResponse(req.ID, err)
	}
	return okResponse(req.ID, id)
}

func (d *Daemon) cmdDownload(ctx context.Context, req wire.Request) wire.Response {
	addr, err := argString(req.Args, 0)
	if err != nil {
		return errResponse(req.ID, err)
	}
	data, err := d.dir.Download(ctx, addr)
	if err != nil {
		return errResponse(req.ID, err)
	}
	return okResponse(req.ID, data)
}

func (d *Daemon) cmdClearCache(ctx context.Context, req wire.Request) wire.Response {
	if err := d.dir.ClearCache(ctx); err != nil {
		return errResponse(req.ID, err)
	}
	return okResponse(req.ID, nil)
}

func (d *Daemon) cmdCreateFolder(ctx context.Context, req wire.Request) wire.Response {
	name, err := argString(req.Args, 0)
	if err != nil {
		return errResponse(req.ID, err)
	}
	format, err := argInt(req.Args, 1)
	if err != nil {
		return errResponse(req.ID, err)
	}
	if err := d.dir.CreateFolder(ctx, name, format); err != nil {
		return errResponse(req.ID, err)
	}
	return okResponse(req.ID, nil)
}

func (d *Daemon) cmdAddFolder(ctx context.Context, req wire.Request) wire.Response {
	name, err := argString(req.Args, 0)
	if err != nil {
		return errResponse(req.ID, err)
	}
	path, err := argString(req.Args, 1)
	if err != nil {
		return errResponse(req.ID, err)
	}
	if err := d.dir.AddFolder(ctx, name, path); err != nil {
		return errResponse(req.ID, err)
	}
	return okResponse(req.ID, nil)
}
