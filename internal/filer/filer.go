// Package filer implements crash-safe reads/writes of files shared between
// nodes over a replicated filesystem, serialized by sibling ".lock" files.
// Grounded on petomalina-pot.Server's lockSharedPath/unlockSharedPath
// (create-if-absent lock object, token returned and checked on release),
// generalized here from a GCS generation-precondition write to a local
// O_CREATE|O_EXCL sidecar file, per spec.md §4.1 and §9.
package filer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/bhdir/bhdir/internal/bherrors"
	"github.com/bhdir/bhdir/internal/metrics"
	"github.com/bhdir/bhdir/internal/retry"
)

const (
	// DataRetryMax is the number of times a reader retries a transient
	// partial/corrupt JSON read before surfacing Corrupt, per spec.md §4.1.
	DataRetryMax = 5
	// DataRetryInterval is the fixed delay between data-consistency retries.
	DataRetryInterval = 1000 * time.Millisecond

	lockStaleThreshold = 30 * time.Second
	lockMaxAttempts    = 20
	lockBackoffBase    = 10 * time.Millisecond
	lockBackoffMax     = 500 * time.Millisecond
)

// WriteOpts configures permissions/ownership of files and directories Filer
// creates. A nil *int leaves ownership as created by the process (typically
// root, for the daemon).
type WriteOpts struct {
	Mode os.FileMode
	UID  *int
	GID  *int
}

func (o WriteOpts) modeOrDefault(def os.FileMode) os.FileMode {
	if o.Mode == 0 {
		return def
	}
	return o.Mode
}

// Filer coordinates crash-safe access to files on the shared data directory.
type Filer struct {
	log *slog.Logger
	m   *metrics.Metrics
}

// New constructs a Filer. Logger may be nil to use slog.Default(). m may be
// nil, in which case lock-wait time goes unrecorded.
func New(logger *slog.Logger, m *metrics.Metrics) *Filer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Filer{log: logger, m: m}
}

func (f *Filer) lockPath(p string) string { return p + ".lock" }

// acquire creates the sibling lock file for p, stealing it if it looks
// abandoned (older than lockStaleThreshold) and otherwise retrying with
// exponential backoff up to lockMaxAttempts. The total time spent here is
// recorded as FilerLockWaitDuration, per SPEC_FULL.md §4.9.
func (f *Filer) acquire(p string) error {
	lp := f.lockPath(p)
	f.log.Debug("acquiring lock", slog.String("path", p))
	start := time.Now()

	for attempt := 0; attempt < lockMaxAttempts; attempt++ {
		fh, err := os.OpenFile(lp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			fh.Close()
			f.recordLockWait(start)
			return nil
		}
		if !os.IsExist(err) {
			return bherrors.Wrap(bherrors.ErrIo, "create lock %s: %v", lp, err)
		}

		// Lock file exists; steal it if it's stale.
		if info, statErr := os.Stat(lp); statErr == nil {
			if time.Since(info.ModTime()) > lockStaleThreshold {
				f.log.Info("stealing stale lock", slog.String("path", lp))
				_ = os.Remove(lp)
				continue
			}
		}

		time.Sleep(retry.Backoff(lockBackoffBase, attempt, lockBackoffMax))
	}
	return bherrors.Wrap(bherrors.ErrIo, "could not acquire lock %s after %d attempts", lp, lockMaxAttempts)
}

func (f *Filer) recordLockWait(start time.Time) {
	if f.m == nil {
		return
	}
	f.m.FilerLockWaitDuration.Record(context.Background(), float64(time.Since(start).Milliseconds()))
}

func (f *Filer) release(p string) {
	f.log.Debug("releasing lock", slog.String("path", p))
	if err := os.Remove(f.lockPath(p)); err != nil && !os.IsNotExist(err) {
		f.log.Error("failed to release lock", slog.String("path", p), slog.String("error", err.Error()))
	}
}

// LockRead acquires the lock for p, reads its bytes, releases the lock, and
// returns the bytes. Returns ErrNotFound if p does not exist.
func (f *Filer) LockRead(p string) ([]byte, error) {
	if err := f.acquire(p); err != nil {
		return nil, err
	}
	defer f.release(p)

	b, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, bherrors.Wrap(bherrors.ErrNotFound, "%s", p)
		}
		return nil, bherrors.Wrap(bherrors.ErrIo, "read %s: %v", p, err)
	}
	return b, nil
}

// LockReadBuffer is LockRead for binary payloads; the contract is identical,
// only the caller's interpretation of the bytes differs.
func (f *Filer) LockReadBuffer(p string) ([]byte, error) {
	return f.LockRead(p)
}

// LockWrite acquires the lock for p, writes bytes to a temp file, fsyncs,
// atomically renames it onto p, and releases the lock.
func (f *Filer) LockWrite(p string, data []byte, opts WriteOpts) error {
	if err := f.acquire(p); err != nil {
		return err
	}
	defer f.release(p)
	return f.writeAtomic(p, data, opts)
}

// LockWriteBuffer is LockWrite for binary payloads.
func (f *Filer) LockWriteBuffer(p string, data []byte, opts WriteOpts) error {
	return f.LockWrite(p, data, opts)
}

func (f *Filer) writeAtomic(p string, data []byte, opts WriteOpts) error {
	tmp := p + ".tmp"
	mode := opts.modeOrDefault(0644)

	fh, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return bherrors.Wrap(bherrors.ErrIo, "create temp %s: %v", tmp, err)
	}

	if _, err := fh.Write(data); err != nil {
		fh.Close()
		os.Remove(tmp)
		return bherrors.Wrap(bherrors.ErrIo, "write temp %s: %v", tmp, err)
	}
	if err := fh.Sync(); err != nil {
		fh.Close()
		os.Remove(tmp)
		return bherrors.Wrap(bherrors.ErrIo, "fsync temp %s: %v", tmp, err)
	}
	if err := fh.Close(); err != nil {
		os.Remove(tmp)
		return bherrors.Wrap(bherrors.ErrIo, "close temp %s: %v", tmp, err)
	}

	if err := os.Chmod(tmp, mode); err != nil {
		os.Remove(tmp)
		return bherrors.Wrap(bherrors.ErrIo, "chmod temp %s: %v", tmp, err)
	}
	if opts.UID != nil || opts.GID != nil {
		uid, gid := -1, -1
		if opts.UID != nil {
			uid = *opts.UID
		}
		if opts.GID != nil {
			gid = *opts.GID
		}
		if err := os.Chown(tmp, uid, gid); err != nil {
			os.Remove(tmp)
			return bherrors.Wrap(bherrors.ErrIo, "chown temp %s: %v", tmp, err)
		}
	}

	if err := os.Rename(tmp, p); err != nil {
		os.Remove(tmp)
		return bherrors.Wrap(bherrors.ErrIo, "rename %s -> %s: %v", tmp, p, err)
	}
	return nil
}

// Transform is applied under lockUpdate to the current bytes of a file
// (empty if the file was missing) and returns the new bytes. It may fail,
// in which case the update is aborted and the lock released without a
// write. A transform that detects a partial/corrupt read of a file that did
// exist should return ErrTransientParse so LockUpdate retries instead of
// surfacing a permanent failure.
type Transform func(current []byte) (next []byte, err error)

// ErrTransientParse is returned by a Transform to signal that `current`
// looked like a partial write from a concurrent writer rather than a
// genuinely invalid file, per spec.md §4.1: "Retry loop if transform
// detects parse failure of a file that did exist."
var ErrTransientParse = errors.New("filer: transient parse failure")

// LockUpdate acquires the lock for p, reads its current bytes (empty if
// missing), calls transform, and if the result differs writes it back
// atomically before releasing the lock. If transform reports
// ErrTransientParse on a file that existed, the whole acquire-read-transform
// cycle is retried up to DataRetryMax times at DataRetryInterval before
// surfacing ErrCorrupt.
func (f *Filer) LockUpdate(p string, transform Transform, opts WriteOpts) error {
	var lastErr error
	for attempt := 0; attempt < DataRetryMax; attempt++ {
		done, err := f.tryLockUpdate(p, transform, opts)
		if done {
			return err
		}
		lastErr = err
		f.log.Debug("transient parse failure during update, retrying", slog.String("path", p), slog.Int("attempt", attempt))
		if attempt < DataRetryMax-1 {
			time.Sleep(DataRetryInterval)
		}
	}
	return bherrors.Wrap(bherrors.ErrCorrupt, "%s: %v", p, lastErr)
}

// tryLockUpdate runs one acquire-read-transform-write cycle. done is false
// only when the file existed and transform reported ErrTransientParse.
func (f *Filer) tryLockUpdate(p string, transform Transform, opts WriteOpts) (done bool, err error) {
	if err := f.acquire(p); err != nil {
		return true, err
	}
	defer f.release(p)

	current, err := os.ReadFile(p)
	existed := true
	if err != nil {
		if !os.IsNotExist(err) {
			return true, bherrors.Wrap(bherrors.ErrIo, "read %s: %v", p, err)
		}
		existed = false
	}

	next, err := transform(current)
	if err != nil {
		if existed && errors.Is(err, ErrTransientParse) {
			return false, err
		}
		return true, err
	}
	if bytesEqual(current, next) {
		return true, nil
	}
	return true, f.writeAtomic(p, next, opts)
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Remove recursively deletes p, honoring its lock file.
func (f *Filer) Remove(p string) error {
	if err := f.acquire(p); err != nil {
		return err
	}
	defer f.release(p)

	if err := os.RemoveAll(p); err != nil {
		return bherrors.Wrap(bherrors.ErrIo, "remove %s: %v", p, err)
	}
	return nil
}

// CreateDirectory mkdir -p's p, applying the requested mode to each newly
// created component.
func (f *Filer) CreateDirectory(p string, opts WriteOpts) error {
	mode := opts.modeOrDefault(0755)

	clean := filepath.Clean(p)
	if _, err := os.Stat(clean); err == nil {
		return nil
	}

	parent := filepath.Dir(clean)
	if parent != clean {
		if err := f.CreateDirectory(parent, opts); err != nil {
			return err
		}
	}

	if err := os.Mkdir(clean, mode); err != nil {
		if os.IsExist(err) {
			return nil
		}
		return bherrors.Wrap(bherrors.ErrIo, "mkdir %s: %v", clean, err)
	}
	if err := os.Chmod(clean, mode); err != nil {
		return bherrors.Wrap(bherrors.ErrIo, "chmod %s: %v", clean, err)
	}
	if opts.UID != nil || opts.GID != nil {
		uid, gid := -1, -1
		if opts.UID != nil {
			uid = *opts.UID
		}
		if opts.GID != nil {
			gid = *opts.GID
		}
		if err := os.Chown(clean, uid, gid); err != nil {
			return bherrors.Wrap(bherrors.ErrIo, "chown %s: %v", clean, err)
		}
	}
	return nil
}

// ReadJSONWithRetry reads p and unmarshals it into out, retrying up to
// DataRetryMax times at DataRetryInterval when the file parses as
// in-flight (partial JSON from a concurrent writer), per spec.md §4.1. A
// missing file surfaces ErrNotFound without retrying.
func (f *Filer) ReadJSONWithRetry(ctx context.Context, p string, out any) error {
	var lastErr error
	for attempt := 0; attempt < DataRetryMax; attempt++ {
		b, err := f.LockRead(p)
		if err != nil {
			if errors.Is(err, bherrors.ErrNotFound) {
				return err
			}
			lastErr = err
		} else if len(b) == 0 {
			return nil
		} else if err := json.Unmarshal(b, out); err != nil {
			lastErr = fmt.Errorf("parse %s: %w", p, err)
			f.log.Debug("transient parse failure, retrying", slog.String("path", p), slog.Int("attempt", attempt))
		} else {
			return nil
		}

		if attempt < DataRetryMax-1 {
			select {
			case <-time.After(DataRetryInterval):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return bherrors.Wrap(bherrors.ErrCorrupt, "%s: %v", p, lastErr)
}
