package index

import (
	"context"
	"crypto/md5"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bhdir/bhdir/internal/bherrors"
	"github.com/bhdir/bhdir/internal/filer"
	"github.com/bhdir/bhdir/internal/metrics"
	"github.com/bhdir/bhdir/internal/model"
	"github.com/google/uuid"
)

// SaveInterval is how often a dirty index is flushed to disk, per spec.md
// §4.5.
const SaveInterval = 1 * time.Second

// fileName is the on-disk name of the index file under dataDir, per spec.md
// §6: <dataDir>/.index.1
const fileName = ".index.1"

// Index is the persistent UUID -> {type, path} AVL index.
type Index struct {
	dataDir string
	filer   *filer.Filer
	log     *slog.Logger
	m       *metrics.Metrics

	mu   sync.RWMutex
	root *node

	dirtyMu sync.Mutex
	dirty   bool
	saving  bool

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New constructs an Index rooted at dataDir, using f for crash-safe file
// access. m may be nil, in which case save duration goes unrecorded.
func New(dataDir string, f *filer.Filer, logger *slog.Logger, m *metrics.Metrics) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{
		dataDir: dataDir,
		filer:   f,
		log:     logger,
		m:       m,
		stopCh:  make(chan struct{}),
	}
}

func (ix *Index) path() string {
	return filepath.Join(ix.dataDir, fileName)
}

// Search returns the entry for id, or nil if absent.
func (ix *Index) Search(id uuid.UUID) *model.IndexData {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return search(ix.root, Key(id))
}

// Insert adds or replaces the entry for id and marks the index dirty.
func (ix *Index) Insert(id uuid.UUID, entryType model.IndexEntryType, path string) {
	ix.mu.Lock()
	ix.root = insert(ix.root, Key(id), &model.IndexData{Type: entryType, Path: path})
	ix.mu.Unlock()
	ix.markDirty()
}

// Delete removes id from the index and marks it dirty.
func (ix *Index) Delete(id uuid.UUID) {
	ix.mu.Lock()
	ix.root = delete(ix.root, Key(id))
	ix.mu.Unlock()
	ix.markDirty()
}

// Count returns the number of entries currently in the tree.
func (ix *Index) Count() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return count(ix.root)
}

func (ix *Index) markDirty() {
	ix.dirtyMu.Lock()
	ix.dirty = true
	ix.dirtyMu.Unlock()
}

// Save persists the tree if it's dirty. The "saving" latch suppresses
// concurrent saves, per spec.md §5's "Shared resource policy".
func (ix *Index) Save() error {
	ix.dirtyMu.Lock()
	if ix.saving || !ix.dirty {
		ix.dirtyMu.Unlock()
		return nil
	}
	ix.saving = true
	ix.dirtyMu.Unlock()

	start := time.Now()
	defer func() {
		ix.dirtyMu.Lock()
		ix.saving = false
		ix.dirtyMu.Unlock()
		if ix.m != nil {
			ix.m.IndexSaveDuration.Record(context.Background(), float64(time.Since(start).Milliseconds()))
		}
	}()

	ix.mu.RLock()
	payload, err := serialize(ix.root)
	ix.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("index: serialize: %w", err)
	}

	sum := md5.Sum(payload)
	out := make([]byte, 0, len(sum)+len(payload))
	out = append(out, sum[:]...)
	out = append(out, payload...)

	if err := ix.filer.LockWriteBuffer(ix.path(), out, filer.WriteOpts{}); err != nil {
		return err
	}

	ix.dirtyMu.Lock()
	ix.dirty = false
	ix.dirtyMu.Unlock()
	ix.log.Debug("index saved", slog.Int("entries", ix.Count()))
	return nil
}

// Load reads and verifies the index file, replacing the in-memory tree on
// success. A checksum mismatch returns ErrCorrupt; callers should fall back
// to Build.
func (ix *Index) Load() error {
	raw, err := ix.filer.LockReadBuffer(ix.path())
	if err != nil {
		return err
	}
	if len(raw) < md5.Size {
		return bherrors.Wrap(bherrors.ErrCorrupt, "index file truncated (%d bytes)", len(raw))
	}

	wantSum := raw[:md5.Size]
	payload := raw[md5.Size:]
	gotSum := md5.Sum(payload)
	if string(gotSum[:]) != string(wantSum) {
		return bherrors.Wrap(bherrors.ErrCorrupt, "index checksum mismatch")
	}

	root, err := deserialize(payload)
	if err != nil {
		return bherrors.Wrap(bherrors.ErrCorrupt, "index deserialize: %v", err)
	}

	ix.mu.Lock()
	ix.root = root
	ix.mu.Unlock()
	return nil
}

// bucketFileName is the leaf name of a variable bucket file, per spec.md §3.
const bucketFileName = ".vars.json"

// Build performs a full filesystem scan of dataDir, inserting one entry per
// record discovered in every .vars.json bucket, using each record's id as
// the key, per spec.md §4.5.
func (ix *Index) Build(ctx context.Context) error {
	ix.mu.Lock()
	ix.root = nil
	ix.mu.Unlock()

	err := filepath.WalkDir(ix.dataDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() != bucketFileName {
			return nil
		}

		var bucket model.Bucket
		if readErr := ix.filer.ReadJSONWithRetry(ctx, p, &bucket); readErr != nil {
			ix.log.Error("index build: skipping unreadable bucket", slog.String("path", p), slog.String("error", readErr.Error()))
			return nil
		}

		dirPath := toVariablePath(ix.dataDir, filepath.Dir(p))
		for leaf, rec := range bucket {
			if rec == nil {
				continue
			}
			varPath := model.Join(dirPath, leaf)
			ix.Insert(rec.ID, model.IndexEntryVar, varPath)
		}
		return nil
	})
	if err != nil {
		return bherrors.Wrap(bherrors.ErrIo, "index build: %v", err)
	}

	ix.markDirty()
	return nil
}

// toVariablePath converts an on-disk bucket directory back into a bhdir
// path, relative to dataDir's root.
func toVariablePath(dataDir, dir string) string {
	rel, err := filepath.Rel(dataDir, dir)
	if err != nil || rel == "." {
		return "/"
	}
	return "/" + filepath.ToSlash(strings.TrimPrefix(rel, "/"))
}

// StartSaveTimer launches the background loop that saves the index every
// SaveInterval while it's dirty, until Stop is called.
func (ix *Index) StartSaveTimer() {
	go func() {
		ticker := time.NewTicker(SaveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := ix.Save(); err != nil {
					ix.log.Error("index save failed", slog.String("error", err.Error()))
				}
			case <-ix.stopCh:
				return
			}
		}
	}()
}

// Stop halts the save timer. Safe to call multiple times.
func (ix *Index) Stop() {
	ix.stopOnce.Do(func() { close(ix.stopCh) })
}
