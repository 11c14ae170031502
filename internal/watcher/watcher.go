// Package watcher implements bhdir's cache + wait coherency loop: an
// fsnotify subscription on a folder's updates drop-directory, a
// read-and-dispatch of each journal file when it is first seen (there is no
// debounce timer; each file is read once), and a pending-read mechanism
// that polls a bucket file's observed mtime until it catches up before
// refreshing the cache and waking waiters. Grounded on the pockode
// FileStore.StartWatching debounce-timer pattern, generalized from a single
// index file to bhdir's drop-dir-of-many-files model (spec.md §4.4).
package watcher

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bhdir/bhdir/internal/bherrors"
	"github.com/bhdir/bhdir/internal/cacher"
	"github.com/bhdir/bhdir/internal/directory"
	"github.com/bhdir/bhdir/internal/filer"
	"github.com/bhdir/bhdir/internal/metrics"
	"github.com/bhdir/bhdir/internal/retry"
	"github.com/fsnotify/fsnotify"
)

const (
	// UpdatesDirName is the drop-directory name inside a folder root,
	// per spec.md §4.4.
	UpdatesDirName = "updates"

	// sweepInterval is how often the watched-files map is swept for entries
	// to evict, per spec.md §4.4.
	sweepInterval = 10 * time.Second
	// staleAfter is how old a tracked journal file may get before the
	// Watcher evicts its bookkeeping entry and deletes the file itself.
	staleAfter = 10 * time.Minute

	// pendingReadMaxAttempts/Interval bound how long a watcher waits for a
	// bucket file's observed mtime to reach an update event's expected
	// mtime before giving up on that one event.
	pendingReadMaxAttempts = 10
	pendingReadInterval    = 200 * time.Millisecond
)

// watchedFile is the watched-files map entry of spec.md §4.4: "filename ->
// {timestamp, mtime, watch_handle, callbacks}". watch_handle and callbacks
// are implicit here — fsnotify has one shared handle per watched directory,
// and "callbacks" collapses to the inline dispatch done when the file is
// first seen.
type watchedFile struct {
	addedAt time.Time
}

// Watcher observes one folder root's updates drop-directory.
type Watcher struct {
	filer *filer.Filer
	dir   *directory.Directory
	cache *cacher.Cacher
	log   *slog.Logger
	m     *metrics.Metrics

	root       string
	updatesDir string

	fsw *fsnotify.Watcher

	mu      sync.Mutex
	watched map[string]*watchedFile

	stopCh   chan struct{}
	stopOnce sync.Once
	doneCh   chan struct{}
}

// New constructs a Watcher for root (a mounted folder's on-disk directory).
// m may be nil, in which case processed journal entries go unrecorded.
func New(f *filer.Filer, dir *directory.Directory, cache *cacher.Cacher, root string, logger *slog.Logger, m *metrics.Metrics) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		filer:      f,
		dir:        dir,
		cache:      cache,
		log:        logger,
		m:          m,
		root:       root,
		updatesDir: filepath.Join(root, UpdatesDirName),
		watched:    make(map[string]*watchedFile),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Start installs the filesystem subscription and begins the watch and sweep
// loops, per spec.md §4.4 step 1.
func (w *Watcher) Start() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return bherrors.Wrap(bherrors.ErrIo, "watcher: %v", err)
	}
	w.fsw = fsw

	if err := w.filer.CreateDirectory(w.root, filer.WriteOpts{Mode: 0755}); err != nil {
		fsw.Close()
		return err
	}
	if err := fsw.Add(w.root); err != nil {
		fsw.Close()
		return bherrors.Wrap(bherrors.ErrIo, "watch %s: %v", w.root, err)
	}

	if err := w.filer.CreateDirectory(w.updatesDir, filer.WriteOpts{Mode: 0755}); err != nil {
		fsw.Close()
		return err
	}
	if err := fsw.Add(w.updatesDir); err != nil {
		fsw.Close()
		return bherrors.Wrap(bherrors.ErrIo, "watch %s: %v", w.updatesDir, err)
	}

	w.scanExisting()

	go w.loop()
	go w.sweepLoop()
	return nil
}

// Stop tears down the watch loop and its fsnotify subscription.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		if w.fsw != nil {
			w.fsw.Close()
		}
	})
	<-w.doneCh
}

// scanExisting picks up any journal files already present at Start time
// (e.g. left over from a previous run, or written by a peer before this
// node came up).
func (w *Watcher) scanExisting() {
	entries, err := os.ReadDir(w.updatesDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() || !isJournalFile(e.Name()) {
			continue
		}
		w.track(e.Name())
	}
}

func (w *Watcher) loop() {
	defer close(w.doneCh)
	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleFSEvent(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Error("watcher fsnotify error", "error", err.Error())
		}
	}
}

func (w *Watcher) handleFSEvent(ev fsnotify.Event) {
	name := ev.Name
	if name == w.updatesDir {
		return
	}

	if filepath.Dir(name) == w.root && filepath.Base(name) == UpdatesDirName {
		if err := w.fsw.Add(w.updatesDir); err != nil {
			w.log.Error("failed to subscribe to updates dir", "error", err.Error())
		}
		return
	}

	if filepath.Dir(name) != w.updatesDir {
		return
	}
	base := filepath.Base(name)
	if !isJournalFile(base) {
		return
	}
	if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}

	if w.track(base) {
		go w.processJournalFile(base)
	}
}

// track adds filename to the watched-files map if not already tracked,
// returning true when it was newly added, per spec.md §4.4 step 2.
func (w *Watcher) track(filename string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.watched[filename]; ok {
		return false
	}
	w.watched[filename] = &watchedFile{addedAt: time.Now()}
	return true
}

func isJournalFile(name string) bool {
	return strings.HasSuffix(name, ".json") && !strings.HasSuffix(name, ".lock")
}

// processJournalFile reads and dispatches one journal file's events, per
// spec.md §4.4 step 3.
func (w *Watcher) processJournalFile(filename string) {
	ctx := context.Background()
	path := filepath.Join(w.updatesDir, filename)

	var wire journalWire
	if err := w.filer.ReadJSONWithRetry(ctx, path, &wire); err != nil {
		if !bherrors.Is(err, bherrors.ErrNotFound) {
			w.log.Error("failed to read journal file", "file", filename, "error", err.Error())
		}
		return
	}

	for _, ev := range wire.Vars {
		switch ev.Event {
		case "delete":
			w.dir.Notify(ctx, ev.Path, nil)
		case "update":
			w.handleUpdate(ctx, ev)
		default:
			w.log.Debug("ignoring unknown journal event", "event", ev.Event, "path", ev.Path)
			continue
		}
		if w.m != nil {
			w.m.WatcherJournalEntriesProcessed.Add(ctx, 1)
		}
	}
}

// handleUpdate arms a pending read on the bucket file backing ev.Path,
// waiting for its observed mtime to reach ev.MTime, then refreshes any
// already-cached siblings and wakes their waiters, per spec.md §4.4 step 3's
// "update" branch.
func (w *Watcher) handleUpdate(ctx context.Context, ev directory.JournalEvent) {
	bucketFilePath, folder, parentPath, err := w.dir.ResolveBucket(ev.Path)
	if err != nil {
		w.log.Debug("skipping update event for unresolvable path", "path", ev.Path, "error", err.Error())
		return
	}

	data, err := waitForMTime(ctx, bucketFilePath, ev.MTime)
	if err != nil {
		w.log.Debug("gave up waiting for bucket mtime", "path", ev.Path, "error", err.Error())
		return
	}

	var bucket map[string]json.RawMessage
	if err := json.Unmarshal(data, &bucket); err != nil {
		return
	}

	for leaf := range bucket {
		addr := directory.AddrForChild(folder, parentPath, leaf)
		if _, ok := w.cache.Get(ctx, addr); !ok {
			continue
		}

		// Get(useCache=false) re-reads the bucket and refreshes the cache
		// entry itself; only the waiter wakeup is this loop's job.
		fresh, err := w.dir.Get(ctx, addr, false)
		if err != nil {
			continue
		}
		if fresh != nil {
			w.dir.Notify(ctx, addr, fresh.Value)
		} else {
			w.dir.Notify(ctx, addr, nil)
		}
	}
}

// waitForMTime polls path's observed mtime until it reaches at least
// expected, returning the file's bytes once it has, per spec.md §4.4's
// "arm a pending read with expected mtime" step.
func waitForMTime(ctx context.Context, path string, expected uint32) ([]byte, error) {
	var data []byte
	err := retry.Do(ctx, pendingReadMaxAttempts, pendingReadInterval, func(attempt int) (bool, error) {
		info, err := os.Stat(path)
		if err != nil {
			return false, nil
		}
		if uint32(info.ModTime().UTC().Unix()) < expected {
			return false, nil
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return false, nil
		}
		data = b
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, bherrors.Wrap(bherrors.ErrTimeout, "%s: mtime did not reach %d", path, expected)
	}
	return data, nil
}

// sweepLoop evicts watched-files entries older than staleAfter and deletes
// their backing journal file, per spec.md §4.4 step 4.
func (w *Watcher) sweepLoop() {
	t := time.NewTicker(sweepInterval)
	defer t.Stop()
	for {
		select {
		case <-w.stopCh:
			return
		case <-t.C:
			w.sweepOnce()
		}
	}
}

func (w *Watcher) sweepOnce() {
	cutoff := time.Now().Add(-staleAfter)

	w.mu.Lock()
	var stale []string
	for name, wf := range w.watched {
		if wf.addedAt.Before(cutoff) {
			stale = append(stale, name)
		}
	}
	for _, name := range stale {
		delete(w.watched, name)
	}
	w.mu.Unlock()

	for _, name := range stale {
		p := filepath.Join(w.updatesDir, name)
		if err := w.filer.Remove(p); err != nil {
			w.log.Debug("failed to remove stale journal file", "file", name, "error", err.Error())
		}
	}
}
