package directory

import (
	"context"
	"encoding/json"

	"github.com/bhdir/bhdir/internal/bherrors"
	"github.com/bhdir/bhdir/internal/model"
	"github.com/google/uuid"
)

// SetAttr sets a single non-protected attribute on addr's record, returning
// the new history entry id, per spec.md §4.2.
func (d *Directory) SetAttr(ctx context.Context, addr, name string, value json.RawMessage) (*uuid.UUID, error) {
	return d.Set(ctx, addr, SetInput{Attrs: map[string]json.RawMessage{name: value}})
}

// GetAttr returns the value of attribute name on addr, or nil if unset. The
// protected attributes (id, ctime, mtime) are readable even though they
// can't be set/deleted through this API.
func (d *Directory) GetAttr(ctx context.Context, addr, name string) (json.RawMessage, error) {
	rec, err := d.Get(ctx, addr, true)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, bherrors.Wrap(bherrors.ErrNotFound, "%s", addr)
	}

	switch name {
	case "id":
		b, _ := json.Marshal(rec.ID.String())
		return b, nil
	case "ctime":
		b, _ := json.Marshal(rec.CTime)
		return b, nil
	case "mtime":
		b, _ := json.Marshal(rec.MTime)
		return b, nil
	}

	if rec.Attrs == nil {
		return nil, nil
	}
	return rec.Attrs[name], nil
}

// DelAttr removes a single non-protected attribute from addr's record,
// returning the new history entry id, per spec.md §4.2.
func (d *Directory) DelAttr(ctx context.Context, addr, name string) (*uuid.UUID, error) {
	if model.IsProtected(name) {
		return nil, bherrors.Wrap(bherrors.ErrProtectedAttr, "%s", name)
	}

	rec, err := d.Get(ctx, addr, true)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, bherrors.Wrap(bherrors.ErrNotFound, "%s", addr)
	}

	attrsCopy := make(map[string]json.RawMessage, len(rec.Attrs))
	for k, v := range rec.Attrs {
		attrsCopy[k] = v
	}
	delete(attrsCopy, name)

	return d.setFullAttrs(ctx, addr, attrsCopy)
}

// Touch rewrites addr's record with an updated mtime and no value change,
// returning the new history entry id, per spec.md §4.2.
func (d *Directory) Touch(ctx context.Context, addr string) (*uuid.UUID, error) {
	rec, err := d.Get(ctx, addr, true)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, bherrors.Wrap(bherrors.ErrNotFound, "%s", addr)
	}
	return d.setFullAttrs(ctx, addr, rec.Attrs)
}

// setFullAttrs replaces addr's attribute map wholesale (used by DelAttr and
// Touch, which must be able to rewrite mtime/attrs without the no-op
// short-circuit Set applies to an unchanged value).
func (d *Directory) setFullAttrs(ctx context.Context, addr string, attrs map[string]json.RawMessage) (*uuid.UUID, error) {
	folderDir, p, err := d.resolve(addr)
	if err != nil {
		return nil, err
	}
	current, err := d.readRecord(ctx, folderDir, p)
	if err != nil {
		return nil, err
	}

	now := nowUTC()
	next := current.Clone()
	next.MTime = now
	next.Attrs = attrs

	d.cache.Set(ctx, addr, next)

	leaf := model.Leaf(p)
	bp := bucketPath(folderDir, p)
	err = d.filer.LockUpdate(bp, func(cur []byte) ([]byte, error) {
		bucket, perr := parseBucketForUpdate(cur)
		if perr != nil {
			return nil, perr
		}
		bucket[leaf] = next
		return model.MarshalBucket(bucket)
	}, d.cfg.writeOpts(d.cfg.FileMode))
	if err != nil {
		return nil, err
	}

	historyID, herr := d.addHistory(ctx, folderDir, p, next)
	if herr != nil {
		d.log.Error("failed to write history entry", "path", addr, "error", herr.Error())
		historyID = nil
	}
	d.appendJournal(ctx, JournalEvent{Event: "update", Path: addr, MTime: now})
	d.notify(addr, next.Value)
	return historyID, nil
}
