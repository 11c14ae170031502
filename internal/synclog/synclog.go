// Package synclog tails the external file-synchronization engine's log,
// recognizing its "finished downloading file X" pattern and feeding it into
// the same cache-invalidation surface the Watcher uses for journal entries.
// Not its own [MODULE] in spec.md beyond the §2 component-share row; this
// package gives that row a concrete shape: it polls the log file and
// re-opens it on truncation, the same poll-based idiom internal/watcher
// uses for its pending-mtime bucket read (waitForMTime).
package synclog

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/bhdir/bhdir/internal/directory"
)

// bucketFileName mirrors internal/directory's bucket file name; synclog
// only acts on lines naming one directly.
const bucketFileName = ".vars.json"

// finishedPattern matches Resilio Sync's (and compatible engines') log line
// for a completed remote download, capturing the synced file's path, e.g.:
//   "2026-01-31 14:00:00.000 [Sync] finished downloading /data/a/b/.vars.json"
var finishedPattern = regexp.MustCompile(`finished downloading (\S+)`)

// reopenBackoff bounds how quickly the tailer retries opening a log file
// that doesn't exist yet (e.g. the sync engine hasn't started).
const reopenBackoff = 2 * time.Second

// Tailer follows a sync engine's log file and invalidates the cache/wakes
// waiters for any bhdir path it recognizes as freshly synced.
type Tailer struct {
	path    string
	dataDir string
	dir     *directory.Directory
	log     *slog.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a Tailer for the sync engine's logPath. dataDir is the
// folder root those logged paths are relative to, used to translate a
// logged filesystem path back into a bhdir address.
func New(logPath, dataDir string, dir *directory.Directory, logger *slog.Logger) *Tailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tailer{
		path:    logPath,
		dataDir: dataDir,
		dir:     dir,
		log:     logger,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start begins following the log file from its current end, re-opening on
// truncation/rotation.
func (t *Tailer) Start(ctx context.Context) error {
	go t.run(ctx)
	return nil
}

// Stop halts the tail loop.
func (t *Tailer) Stop() {
	close(t.stopCh)
	<-t.doneCh
}

func (t *Tailer) run(ctx context.Context) {
	defer close(t.doneCh)

	for {
		select {
		case <-t.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		f, err := os.Open(t.path)
		if err != nil {
			if !waitOrStop(t.stopCh, reopenBackoff) {
				return
			}
			continue
		}

		if _, err := f.Seek(0, io.SeekEnd); err != nil {
			f.Close()
			continue
		}

		t.followFile(ctx, f)
		f.Close()
	}
}

// followFile reads new lines from f until the underlying file is truncated
// (detected by a shrinking size) or the tailer is stopped, then returns so
// run can re-open it — grounded on the pockode debounce-reload idiom,
// adapted from "file replaced" to "file truncated by log rotation".
func (t *Tailer) followFile(ctx context.Context, f *os.File) {
	reader := bufio.NewReader(f)
	pollTicker := time.NewTicker(250 * time.Millisecond)
	defer pollTicker.Stop()

	var offset int64
	for {
		select {
		case <-t.stopCh:
			return
		case <-ctx.Done():
			return
		case <-pollTicker.C:
			info, err := f.Stat()
			if err != nil {
				return
			}
			if info.Size() < offset {
				// Truncated/rotated out from under us; re-open.
				return
			}

			for {
				line, err := reader.ReadString('\n')
				offset += int64(len(line))
				if line != "" {
					t.handleLine(ctx, line)
				}
				if err != nil {
					break
				}
			}
		}
	}
}

func (t *Tailer) handleLine(ctx context.Context, line string) {
	m := finishedPattern.FindStringSubmatch(line)
	if m == nil {
		return
	}
	syncedPath := strings.TrimSpace(m[1])

	parentPath, ok := t.parentPathForSyncedFile(syncedPath)
	if !ok {
		return
	}

	leaves, err := readBucketLeaves(syncedPath)
	if err != nil {
		t.log.Debug("failed to read synced bucket file", "path", syncedPath, "error", err.Error())
		return
	}

	for _, leaf := range leaves {
		addr := directory.AddrForChild("", parentPath, leaf)
		t.log.Debug("sync engine finished writing file, invalidating", "path", addr)
		t.dir.Notify(ctx, addr, nil)
	}
}

// parentPathForSyncedFile converts the directory containing a synced bucket
// file into the bhdir path whose children that bucket holds, when the
// synced path names a bucket file directly under dataDir's default folder.
func (t *Tailer) parentPathForSyncedFile(syncedPath string) (string, bool) {
	if filepath.Base(syncedPath) != bucketFileName {
		return "", false
	}
	rel, err := filepath.Rel(t.dataDir, filepath.Dir(syncedPath))
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}
	if rel == "." {
		return "/", true
	}
	return "/" + filepath.ToSlash(rel), true
}

func readBucketLeaves(bucketPath string) ([]string, error) {
	data, err := os.ReadFile(bucketPath)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	leaves := make([]string, 0, len(raw))
	for leaf := range raw {
		leaves = append(leaves, leaf)
	}
	return leaves, nil
}

func waitOrStop(stopCh chan struct{}, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-stopCh:
		return false
	case <-t.C:
		return true
	}
}
