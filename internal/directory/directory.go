// Package directory implements bhdir's variable CRUD surface: path parsing,
// bucket reads/writes through the Filer, attribute handling, history,
// folder mounts, and the wait/notify fan-out. Grounded on
// petomalina-pot.Server's Create/Get/Remove/ListPaths method set and its
// local per-path sync.RWMutex locking, generalized to the bucket-file and
// history-file model of spec.md §3-4.2.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bhdir/bhdir/internal/bherrors"
	"github.com/bhdir/bhdir/internal/cacher"
	"github.com/bhdir/bhdir/internal/filer"
	"github.com/bhdir/bhdir/internal/index"
	"github.com/bhdir/bhdir/internal/metrics"
	"github.com/bhdir/bhdir/internal/model"
	"github.com/google/uuid"
)

// Config carries the on-disk layout and default ownership/permissions for
// created files, per spec.md §6's INI config keys.
type Config struct {
	// Root is the daemon's configured root (bhdir.conf's directory.root);
	// the default folder lives at Root/data.
	Root string

	DirMode  os.FileMode
	FileMode os.FileMode
	UID      *int
	GID      *int
}

func (c Config) writeOpts(mode os.FileMode) filer.WriteOpts {
	return filer.WriteOpts{Mode: mode, UID: c.UID, GID: c.GID}
}

// Journaler appends an entry to the updates drop-dir so peers (and this
// node's own Watcher) can fan out a change, per spec.md §4.4.
type Journaler interface {
	Append(ctx context.Context, sessionID string, events []JournalEvent) error
}

// JournalEvent is one {event, path, mtime} entry of an updates journal file.
type JournalEvent struct {
	Event string `json:"event"`
	Path  string `json:"path"`
	MTime uint32 `json:"mtime"`
}

const (
	bucketFileName  = ".vars.json"
	folderMetaName  = ".bhdir.json"
	historyDirName  = ".history"
	blobDirName     = ".blobs"
)

// waitResult is delivered to a wait() subscriber either by notify (timedOut
// = false) or by the wait's own deadline timer (timedOut = true).
type waitResult struct {
	timedOut bool
	value    json.RawMessage
}

// Directory is bhdir's variable CRUD engine.
type Directory struct {
	cfg   Config
	filer *filer.Filer
	cache *cacher.Cacher
	index *index.Index
	log   *slog.Logger
	m     *metrics.Metrics

	sessionID string
	journal   Journaler

	foldersMu sync.RWMutex
	folders   map[string]string // folder name ("" = root) -> absolute directory

	waitersMu sync.Mutex
	waiters   map[string][]chan waitResult
}

// New constructs a Directory. journal may be nil, in which case set/del
// silently skip journaling (used in tests that don't exercise the Watcher
// loop). m may be nil, in which case operation counts go unrecorded.
func New(cfg Config, f *filer.Filer, cache *cacher.Cacher, idx *index.Index, sessionID string, journal Journaler, logger *slog.Logger, m *metrics.Metrics) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{
		cfg:       cfg,
		filer:     f,
		cache:     cache,
		index:     idx,
		log:       logger,
		m:         m,
		sessionID: sessionID,
		journal:   journal,
		folders:   map[string]string{"": filepath.Join(cfg.Root, "data")},
		waiters:   make(map[string][]chan waitResult),
	}
}

// ValidatePath reports whether addr (optionally "<folder>:/sub/path") names
// a syntactically valid variable path.
func (d *Directory) ValidatePath(addr string) bool {
	_, p := model.SplitFolder(addr)
	return model.ValidatePath(p)
}

// resolve maps an address to its folder's root directory and the
// bhdir-relative path within it.
func (d *Directory) resolve(addr string) (folderDir, path string, err error) {
	folder, p := model.SplitFolder(addr)
	if !model.ValidatePath(p) {
		return "", "", bherrors.Wrap(bherrors.ErrInvalidPath, "%s", addr)
	}

	d.foldersMu.RLock()
	dir, ok := d.folders[folder]
	d.foldersMu.RUnlock()
	if !ok {
		return "", "", bherrors.Wrap(bherrors.ErrInvalidPath, "unknown folder %q", folder)
	}
	return dir, p, nil
}

// dirFor returns the on-disk directory corresponding to bhdir path p inside
// folderDir.
func dirFor(folderDir, p string) string {
	segs := model.Segments(p)
	return filepath.Join(append([]string{folderDir}, segs...)...)
}

func bucketPath(folderDir, p string) string {
	return filepath.Join(dirFor(folderDir, model.Parent(p)), bucketFileName)
}

func nowUTC() uint32 {
	return uint32(time.Now().UTC().Unix())
}

// ResolveBucket maps addr to the on-disk bucket file that holds it, split
// into its folder name and parent bhdir path so a caller (the Watcher) can
// reconstruct sibling addresses from the bucket's leaf names, per spec.md
// §4.4's "locate the bucket file for path" step.
func (d *Directory) ResolveBucket(addr string) (bucketFilePath, folder, parentPath string, err error) {
	folderDir, p, err := d.resolve(addr)
	if err != nil {
		return "", "", "", err
	}
	folder, _ = model.SplitFolder(addr)
	parentPath = model.Parent(p)
	return bucketPath(folderDir, p), folder, parentPath, nil
}

// AddrForChild reconstructs a full address for leaf under a bucket's parent
// path and folder, mirroring SplitFolder's "<folder>:/sub/path" grammar.
func AddrForChild(folder, parentPath, leaf string) string {
	child := model.Join(parentPath, leaf)
	if folder == "" {
		return child
	}
	return folder + ":" + child
}

// appendJournal records a single journal event via the configured Journaler,
// so this node's own Watcher (and any peers sharing the drop-dir) learn
// about the change, per spec.md §4.4. A nil Journaler (used by tests that
// exercise Directory in isolation) makes this a no-op.
func (d *Directory) appendJournal(ctx context.Context, ev JournalEvent) {
	if d.journal == nil {
		return
	}
	if err := d.journal.Append(ctx, d.sessionID, []JournalEvent{ev}); err != nil {
		d.log.Error("failed to append journal entry", "path", ev.Path, "error", err.Error())
	}
}
