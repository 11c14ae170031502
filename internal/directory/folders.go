package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"io/fs"
	"path/filepath"

	"github.com/bhdir/bhdir/internal/bherrors"
	"github.com/bhdir/bhdir/internal/model"
	"github.com/google/uuid"
)

// ListFolders returns every mounted folder's name (the root folder's name is
// ""), per spec.md §4.2.
func (d *Directory) ListFolders() []string {
	d.foldersMu.RLock()
	defer d.foldersMu.RUnlock()

	names := make([]string, 0, len(d.folders))
	for name := range d.folders {
		names = append(names, name)
	}
	return names
}

// CreateFolder creates a brand new folder at <Root>/<name> stamped with the
// given schema format (spec.md §3's FormatCurrent unless a caller has a
// reason to seed FormatLegacy), and mounts it.
func (d *Directory) CreateFolder(ctx context.Context, name string, format int) error {
	if name == "" || name == "data" {
		return bherrors.Wrap(bherrors.ErrInvalidPath, "reserved folder name %q", name)
	}

	d.foldersMu.RLock()
	_, exists := d.folders[name]
	d.foldersMu.RUnlock()
	if exists {
		return bherrors.Wrap(bherrors.ErrInvalidPath, "folder %q already mounted", name)
	}

	dir := filepath.Join(d.cfg.Root, name)
	if err := d.filer.CreateDirectory(dir, d.cfg.writeOpts(d.cfg.DirMode)); err != nil {
		return err
	}

	meta := model.FolderMeta{Directory: model.FolderDirective{Format: format, Upgrading: false}}
	if err := d.writeFolderMeta(dir, meta); err != nil {
		return err
	}

	d.foldersMu.Lock()
	d.folders[name] = dir
	d.foldersMu.Unlock()
	return nil
}

// AddFolder mounts an existing on-disk directory as a named folder, reading
// its .bhdir.json (defaulting to FormatCurrent if absent), per spec.md §4.2.
func (d *Directory) AddFolder(ctx context.Context, name, path string) error {
	d.foldersMu.RLock()
	_, exists := d.folders[name]
	d.foldersMu.RUnlock()
	if exists {
		return bherrors.Wrap(bherrors.ErrInvalidPath, "folder %q already mounted", name)
	}

	meta, err := d.readFolderMeta(path)
	if err != nil {
		return err
	}
	if sessionID, upgrading := meta.Directory.UpgradingSessionID(); upgrading && sessionID != d.sessionID {
		return bherrors.Wrap(bherrors.ErrUpgrade, "folder %q is being upgraded by session %s", name, sessionID)
	}

	d.foldersMu.Lock()
	d.folders[name] = path
	d.foldersMu.Unlock()

	if meta.Directory.Format == model.FormatLegacy {
		if err := d.upgradeFolder(ctx, name, path); err != nil {
			return err
		}
	}
	return nil
}

func (d *Directory) readFolderMeta(dir string) (model.FolderMeta, error) {
	var meta model.FolderMeta
	metaPath := filepath.Join(dir, folderMetaName)
	if err := d.filer.ReadJSONWithRetry(context.Background(), metaPath, &meta); err != nil {
		if bherrors.Is(err, bherrors.ErrNotFound) {
			return model.FolderMeta{Directory: model.FolderDirective{Format: model.FormatCurrent}}, nil
		}
		return model.FolderMeta{}, err
	}
	return meta, nil
}

func (d *Directory) writeFolderMeta(dir string, meta model.FolderMeta) error {
	data, err := json.MarshalIndent(meta, "", "    ")
	if err != nil {
		return err
	}
	return d.filer.LockWrite(filepath.Join(dir, folderMetaName), data, d.cfg.writeOpts(d.cfg.FileMode))
}

// upgradeFolder performs the one-shot format-1 -> format-2 bucket conversion
// described in spec.md §3: every bucket entry K:V becomes
// K:{id,ctime,mtime,value:V}. The folder is latched with this session's id
// for the duration so other daemons refuse to serve it and restart, per
// spec.md §3's "other daemons refuse to serve that folder and restart".
func (d *Directory) upgradeFolder(ctx context.Context, name, dir string) error {
	meta := model.FolderMeta{Directory: model.FolderDirective{Format: model.FormatLegacy, Upgrading: d.sessionID}}
	if err := d.writeFolderMeta(dir, meta); err != nil {
		return err
	}

	d.log.Info("upgrading folder bucket format", "folder", name, "from", model.FormatLegacy, "to", model.FormatCurrent)

	now := nowUTC()
	err := filepath.WalkDir(dir, func(p string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if entry.IsDir() || filepath.Base(p) != bucketFileName {
			return nil
		}
		return d.upgradeBucketFile(ctx, p, now)
	})
	if err != nil {
		return err
	}

	meta = model.FolderMeta{Directory: model.FolderDirective{Format: model.FormatCurrent, Upgrading: false}}
	return d.writeFolderMeta(dir, meta)
}

func (d *Directory) upgradeBucketFile(ctx context.Context, path string, now uint32) error {
	return d.filer.LockUpdate(path, func(cur []byte) ([]byte, error) {
		if len(bytes.TrimSpace(cur)) == 0 {
			return cur, nil
		}
		var raw map[string]json.RawMessage
		if err := json.Unmarshal(cur, &raw); err != nil {
			return nil, filerTransientParse(err)
		}

		bucket := make(model.Bucket, len(raw))
		for leaf, v := range raw {
			bucket[leaf] = &model.Record{
				ID:    uuid.New(),
				CTime: now,
				MTime: now,
				Value: v,
			}
		}
		return model.MarshalBucket(bucket)
	}, d.cfg.writeOpts(d.cfg.FileMode))
}
