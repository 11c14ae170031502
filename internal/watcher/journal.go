package watcher

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/bhdir/bhdir/internal/directory"
	"github.com/bhdir/bhdir/internal/filer"
)

// journalWire is the on-disk shape of a drop-dir journal file, per spec.md
// §4.4: {vars: [{event, path, mtime}, ...]}.
type journalWire struct {
	Vars []directory.JournalEvent `json:"vars"`
}

// Journal writes entries into a root's updates drop-directory, implementing
// directory.Journaler. Grounded on the pockode FileStore's write-temp-fsync-
// rename persistence, reused here via Filer.
type Journal struct {
	filer      *filer.Filer
	updatesDir string
	ordinal    atomic.Uint64
}

// NewJournal constructs a Journal writing into updatesDir (normally
// <folderRoot>/updates).
func NewJournal(f *filer.Filer, updatesDir string) *Journal {
	return &Journal{filer: f, updatesDir: updatesDir}
}

// Append writes one journal file named <timestamp>.<sessionId>.<ordinal>.json
// per spec.md §4.4.
func (j *Journal) Append(ctx context.Context, sessionID string, events []directory.JournalEvent) error {
	if err := j.filer.CreateDirectory(j.updatesDir, filer.WriteOpts{Mode: 0755}); err != nil {
		return err
	}

	data, err := json.Marshal(journalWire{Vars: events})
	if err != nil {
		return err
	}

	name := fmt.Sprintf("%d.%s.%d.json", time.Now().UTC().Unix(), sessionID, j.ordinal.Add(1))
	return j.filer.LockWrite(filepath.Join(j.updatesDir, name), data, filer.WriteOpts{Mode: 0644})
}
