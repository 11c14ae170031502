package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/bhdir/bhdir/internal/bherrors"
	"github.com/bhdir/bhdir/internal/filer"
	"github.com/bhdir/bhdir/internal/model"
	"github.com/google/uuid"
)

// filerTransientParse wraps a JSON parse error so filer.LockUpdate retries
// it as a transient mid-write read rather than a permanent failure.
func filerTransientParse(err error) error {
	return fmt.Errorf("%w: %v", filer.ErrTransientParse, err)
}

// Get returns the record at addr, or nil if it doesn't exist. When useCache
// is true (the default per spec.md §4.2), a cached entry is returned
// without touching disk; a negative cache entry returns (nil, nil).
func (d *Directory) Get(ctx context.Context, addr string, useCache bool) (*model.Record, error) {
	if d.m != nil {
		d.m.DirectoryGets.Add(ctx, 1)
	}

	folderDir, p, err := d.resolve(addr)
	if err != nil {
		return nil, err
	}

	if useCache {
		if entry, ok := d.cache.Get(ctx, addr); ok {
			return entry.Record, nil
		}
	}

	rec, err := d.readRecord(ctx, folderDir, p)
	if err != nil {
		if bherrors.Is(err, bherrors.ErrNotFound) {
			d.cache.Set(ctx, addr, nil)
			return nil, nil
		}
		return nil, err
	}

	d.cache.Set(ctx, addr, rec)
	return rec, nil
}

// readRecord loads the leaf record for p straight from its bucket file,
// bypassing the cache.
func (d *Directory) readRecord(ctx context.Context, folderDir, p string) (*model.Record, error) {
	bucket, err := d.readBucket(ctx, bucketPath(folderDir, p))
	if err != nil {
		return nil, err
	}
	rec, ok := bucket[model.Leaf(p)]
	if !ok || rec == nil {
		return nil, bherrors.ErrNotFound
	}
	return rec, nil
}

func (d *Directory) readBucket(ctx context.Context, path string) (model.Bucket, error) {
	var bucket model.Bucket
	if err := d.filer.ReadJSONWithRetry(ctx, path, &bucket); err != nil {
		if bherrors.Is(err, bherrors.ErrNotFound) {
			return model.Bucket{}, nil
		}
		return nil, err
	}
	if bucket == nil {
		bucket = model.Bucket{}
	}
	return bucket, nil
}

// Exists reports whether addr currently has a record.
func (d *Directory) Exists(ctx context.Context, addr string) (bool, error) {
	rec, err := d.Get(ctx, addr, true)
	if err != nil {
		return false, err
	}
	return rec != nil, nil
}

// Ls lists the immediate children of addr's directory, mapping name to
// value.
func (d *Directory) Ls(ctx context.Context, addr string) (map[string]json.RawMessage, error) {
	if d.m != nil {
		d.m.DirectoryLists.Add(ctx, 1)
	}

	folderDir, p, err := d.resolve(addr)
	if err != nil {
		return nil, err
	}

	bucket, err := d.readBucket(ctx, bucketChildPath(folderDir, p))
	if err != nil {
		return nil, err
	}

	out := make(map[string]json.RawMessage, len(bucket))
	for name, rec := range bucket {
		if rec == nil {
			continue
		}
		out[name] = rec.Value
	}
	return out, nil
}

// bucketChildPath is the bucket file that holds p's own children (as
// opposed to bucketPath(p), which holds p itself as a leaf of its parent).
func bucketChildPath(folderDir, p string) string {
	return joinBucket(dirFor(folderDir, p))
}

func joinBucket(dir string) string {
	return dir + "/" + bucketFileName
}

// SetInput carries the optional explicit record and/or scalar value for a
// Set call, per spec.md §4.2: "optional full record or scalar value".
type SetInput struct {
	// Value, when non-nil, is the new scalar/structured JSON value.
	Value json.RawMessage
	// Attrs, when non-nil, overlays these attribute names onto the record.
	Attrs map[string]json.RawMessage
}

// Set performs the optimistic compare-and-merge write of spec.md §4.2. It
// returns the new history entry's id, or nil if the write was a no-op
// (value supplied and structurally equal to the current value).
func (d *Directory) Set(ctx context.Context, addr string, in SetInput) (*uuid.UUID, error) {
	if d.m != nil {
		d.m.DirectorySets.Add(ctx, 1)
	}

	folderDir, p, err := d.resolve(addr)
	if err != nil {
		return nil, err
	}

	current, err := d.readRecord(ctx, folderDir, p)
	if err != nil && !bherrors.Is(err, bherrors.ErrNotFound) {
		return nil, err
	}

	if current != nil && in.Value != nil && model.JSONEqual(current.Value, in.Value) {
		return nil, nil
	}

	now := nowUTC()
	next := &model.Record{MTime: now}
	if current != nil {
		next.ID = current.ID
		next.CTime = current.CTime
		next.Value = current.Value
		if current.Attrs != nil {
			next.Attrs = make(map[string]json.RawMessage, len(current.Attrs))
			for k, v := range current.Attrs {
				next.Attrs[k] = v
			}
		}
	} else {
		next.ID = uuid.New()
		next.CTime = now
	}
	if in.Value != nil {
		next.Value = in.Value
	}
	for k, v := range in.Attrs {
		if model.IsProtected(k) {
			return nil, bherrors.Wrap(bherrors.ErrProtectedAttr, "%s", k)
		}
		if next.Attrs == nil {
			next.Attrs = map[string]json.RawMessage{}
		}
		next.Attrs[k] = v
	}

	// Step 3: update the cache before the disk write so concurrent readers
	// see the intended value immediately, per spec.md §4.2.
	d.cache.Set(ctx, addr, next)

	bucketDir := dirFor(folderDir, model.Parent(p))
	if err := d.filer.CreateDirectory(bucketDir, d.cfg.writeOpts(d.cfg.DirMode)); err != nil {
		return nil, err
	}

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

	historyID, err := d.addHistory(ctx, folderDir, p, next)
	if err != nil {
		d.log.Error("failed to write history entry", slog.String("path", addr), slog.String("error", err.Error()))
	}

	d.appendJournal(ctx, JournalEvent{Event: "update", Path: addr, MTime: now})
	d.index.Insert(next.ID, model.IndexEntryVar, addr)
	d.notify(addr, next.Value)

	return historyID, nil
}

// parseBucketForUpdate parses cur as a bucket, returning filer.ErrTransientParse
// when cur is non-empty but fails to parse as JSON (spec.md §4.1/§4.2 step 5).
func parseBucketForUpdate(cur []byte) (model.Bucket, error) {
	bucket, err := model.UnmarshalBucket(cur)
	if err != nil {
		return nil, filerTransientParse(err)
	}
	return bucket, nil
}

// Del removes addr's record, recursively removes its history, journals the
// delete, and wakes waiters with a null value, per spec.md §4.2.
func (d *Directory) Del(ctx context.Context, addr string) error {
	if d.m != nil {
		d.m.DirectoryDels.Add(ctx, 1)
	}

	folderDir, p, err := d.resolve(addr)
	if err != nil {
		return err
	}

	current, err := d.readRecord(ctx, folderDir, p)
	if err != nil && !bherrors.Is(err, bherrors.ErrNotFound) {
		return err
	}

	leaf := model.Leaf(p)
	bp := bucketPath(folderDir, p)
	err = d.filer.LockUpdate(bp, func(cur []byte) ([]byte, error) {
		bucket, perr := parseBucketForUpdate(cur)
		if perr != nil {
			return nil, perr
		}
		delete(bucket, leaf)
		return model.MarshalBucket(bucket)
	}, d.cfg.writeOpts(d.cfg.FileMode))
	if err != nil {
		return err
	}

	if err := d.filer.Remove(dirFor(folderDir, p) + "/" + historyDirName); err != nil && !bherrors.Is(err, bherrors.ErrIo) {
		// best-effort: a missing history dir is not an error worth surfacing.
		d.log.Debug("no history directory to remove", slog.String("path", addr))
	}

	d.cache.Set(ctx, addr, nil)
	if current != nil {
		d.index.Delete(current.ID)
	}
	d.appendJournal(ctx, JournalEvent{Event: "delete", Path: addr, MTime: nowUTC()})
	d.notify(addr, nil)
	return nil
}

// ClearCache flushes the process-local (and, if configured, Redis-backed)
// cache.
func (d *Directory) ClearCache(ctx context.Context) error {
	return d.cache.Flush(ctx)
}
