package directory

import (
	"context"
	"encoding/json"
	"path/filepath"

	"github.com/bhdir/bhdir/internal/bherrors"
	"github.com/bhdir/bhdir/internal/model"
	"github.com/google/uuid"
)

// Upload stores a blob payload for addr, returning a fresh blob UUID, per
// spec.md §4.2. The blob lives alongside addr's bucket under a .blobs
// directory named by that UUID so repeated uploads to the same path don't
// clobber one another; the variable's "blob" attribute is updated to point
// at the newest one.
func (d *Directory) Upload(ctx context.Context, addr string, data []byte) (*uuid.UUID, error) {
	folderDir, p, err := d.resolve(addr)
	if err != nil {
		return nil, err
	}

	blobID := uuid.New()
	blobDir := filepath.Join(dirFor(folderDir, model.Parent(p)), blobDirName)
	if err := d.filer.CreateDirectory(blobDir, d.cfg.writeOpts(d.cfg.DirMode)); err != nil {
		return nil, err
	}

	blobPath := filepath.Join(blobDir, blobID.String())
	if err := d.filer.LockWrite(blobPath, data, d.cfg.writeOpts(d.cfg.FileMode)); err != nil {
		return nil, bherrors.Wrap(bherrors.ErrIo, "upload %s: %v", addr, err)
	}

	idJSON, _ := json.Marshal(blobID.String())
	if _, err := d.SetAttr(ctx, addr, "blob", idJSON); err != nil {
		d.log.Error("failed to record blob attribute", "path", addr, "error", err.Error())
	}

	return &blobID, nil
}

// Download returns the bytes of addr's most recently uploaded blob, or nil
// if it has none, per spec.md §4.2.
func (d *Directory) Download(ctx context.Context, addr string) ([]byte, error) {
	folderDir, p, err := d.resolve(addr)
	if err != nil {
		return nil, err
	}

	raw, err := d.GetAttr(ctx, addr, "blob")
	if err != nil || raw == nil {
		return nil, nil
	}
	var blobID string
	if err := json.Unmarshal(raw, &blobID); err != nil {
		return nil, nil
	}

	blobPath := filepath.Join(dirFor(folderDir, model.Parent(p)), blobDirName, blobID)
	data, err := d.filer.LockReadBuffer(blobPath)
	if err != nil {
		if bherrors.Is(err, bherrors.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}
