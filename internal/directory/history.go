package directory

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/bhdir/bhdir/internal/bherrors"
	"github.com/bhdir/bhdir/internal/model"
	"github.com/google/uuid"
)

// historyOrdinalPattern matches a history file's name, per spec.md §3.
var historyOrdinalPattern = regexp.MustCompile(`^(\d+)\.json$`)

// historyBucketDir returns the UTC-timestamped history bucket directory for
// a write at time t, e.g. <folderDir>/<path>/.history/2026/01/31/14/.
func historyBucketDir(folderDir, p string, now uint32) string {
	t := unixToUTC(now)
	return filepath.Join(
		dirFor(folderDir, p),
		historyDirName,
		fmt.Sprintf("%04d", t.Year()),
		fmt.Sprintf("%02d", t.Month()),
		fmt.Sprintf("%02d", t.Day()),
		fmt.Sprintf("%02d", t.Hour()),
	)
}

// addHistory appends a history entry for rec's write at path p, per spec.md
// §3/§4.2: the next 4-digit ordinal in the UTC-timestamped hour bucket.
func (d *Directory) addHistory(ctx context.Context, folderDir, p string, rec *model.Record) (*uuid.UUID, error) {
	dir := historyBucketDir(folderDir, p, rec.MTime)
	if err := d.filer.CreateDirectory(dir, d.cfg.writeOpts(d.cfg.DirMode)); err != nil {
		return nil, err
	}

	ordinal, err := nextHistoryOrdinal(dir)
	if err != nil {
		return nil, err
	}

	historyID := uuid.New()
	payload, err := model.MarshalHistoryEntry(historyID.String(), rec.MTime, rec)
	if err != nil {
		return nil, err
	}

	name := fmt.Sprintf("%04d.json", ordinal)
	histPath := filepath.Join(dir, name)
	if err := d.filer.LockWrite(histPath, payload, d.cfg.writeOpts(d.cfg.FileMode)); err != nil {
		return nil, err
	}

	historyAddr := model.Join(p, historyDirName, name)
	d.index.Insert(historyID, model.IndexEntryHistory, historyAddr)
	return &historyID, nil
}

// nextHistoryOrdinal scans dir for NNNN.json files and returns the largest
// existing ordinal + 1, per spec.md §4.2's addHistory algorithm.
func nextHistoryOrdinal(dir string) (int, error) {
	entries, err := readDirBestEffort(dir)
	if err != nil {
		return 0, bherrors.Wrap(bherrors.ErrIo, "list %s: %v", dir, err)
	}

	max := 0
	for _, name := range entries {
		m := historyOrdinalPattern.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if n > max {
			max = n
		}
	}
	return max + 1, nil
}

func readDirBestEffort(dir string) ([]string, error) {
	entries, err := readDirNames(dir)
	if err != nil {
		if isNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return entries, nil
}
