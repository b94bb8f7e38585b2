// Package flush exports dirty cells to the JSONL interchange file.
//
// The export file is shared ground: other processes append to it, humans
// resolve merge conflicts in it, and git moves it between machines. Export
// therefore merges into the existing file instead of clobbering it, and a
// file that was edited behind our back falls back to a full export.
package flush

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/weftworks/weft/internal/debug"
	"github.com/weftworks/weft/internal/jsonl"
	"github.com/weftworks/weft/internal/storage"
	"github.com/weftworks/weft/internal/types"
)

// exportHashKey is the metadata key holding the sha256 of the export file
// as we last wrote it.
const exportHashKey = "export_file_hash"

// Exporter writes dirty cells to the project's JSONL export file.
type Exporter struct {
	store   storage.Store
	project string
	path    string
}

// NewExporter creates an exporter for the project writing to path.
func NewExporter(store storage.Store, project, path string) *Exporter {
	return &Exporter{store: store, project: project, path: path}
}

// Flush exports dirty cells, merging them into the existing file. Returns
// the number of cells written. An empty dirty set is a no-op returning 0,
// leaving the file untouched.
//
// A cell whose projection cannot be fetched keeps its dirty marker and
// fails only itself; the rest of the batch still exports. The first such
// error is returned after the write so the caller knows the flush was
// partial.
func (e *Exporter) Flush(ctx context.Context) (int, error) {
	dirty, err := e.store.GetDirtyCells(ctx, e.project)
	if err != nil {
		return 0, fmt.Errorf("get dirty cells: %w", err)
	}
	if len(dirty) == 0 {
		return 0, nil
	}

	// An export file changed since we last wrote it means someone edited
	// it externally. Merging only the dirty set on top of unknown content
	// could mix stale and fresh rows, so export everything instead.
	full := false
	if changed, err := e.externallyModified(ctx); err != nil {
		return 0, err
	} else if changed {
		debug.Logf("export file %s modified externally, forcing full export", e.path)
		full = true
	}

	existing, err := jsonl.ReadCells(e.path)
	if err != nil {
		return 0, err
	}

	if full {
		if err := e.overlayAll(ctx, existing); err != nil {
			return 0, err
		}
	}

	exported := make([]string, 0, len(dirty))
	var firstErr error
	for _, id := range dirty {
		cell, err := e.loadFull(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			// Hard-gone (not a tombstone): remove from the export.
			delete(existing, id)
			exported = append(exported, id)
			continue
		}
		if err != nil {
			// Keep the marker; this cell rides the next flush.
			debug.Logf("flush: skipping cell %s: %v", id, err)
			if firstErr == nil {
				firstErr = fmt.Errorf("export cell %s: %w", id, err)
			}
			continue
		}
		existing[id] = cell
		exported = append(exported, id)
	}

	if err := jsonl.WriteCells(e.path, existing); err != nil {
		return 0, err
	}

	// Only markers we actually handled are cleared. Cells marked dirty
	// after the snapshot above keep theirs.
	if err := e.store.ClearDirtyCellsByID(ctx, exported); err != nil {
		return 0, err
	}

	if err := e.recordHash(ctx); err != nil {
		return 0, err
	}

	return len(exported), firstErr
}

// loadFull fetches the cell with its child records populated for export.
func (e *Exporter) loadFull(ctx context.Context, id string) (*types.Cell, error) {
	cell, err := e.store.GetCell(ctx, id)
	if err != nil {
		return nil, err
	}

	deps, err := e.store.GetDependencyRecords(ctx, id)
	if err != nil {
		return nil, err
	}
	cell.Dependencies = deps

	comments, err := e.store.GetComments(ctx, id)
	if err != nil {
		return nil, err
	}
	cell.Comments = comments

	return cell, nil
}

// overlayAll replaces the file map's cells with the full projection of
// every cell in the project, tombstones included. Cells present only in
// the file (added by another process) survive untouched.
func (e *Exporter) overlayAll(ctx context.Context, existing map[string]*types.Cell) error {
	cells, err := e.store.ListCells(ctx, e.project, types.CellFilter{IncludeDeleted: true})
	if err != nil {
		return fmt.Errorf("list cells for full export: %w", err)
	}
	for _, c := range cells {
		full, err := e.loadFull(ctx, c.ID)
		if err != nil {
			return err
		}
		existing[c.ID] = full
	}
	return nil
}

// externallyModified compares the export file's current hash against the
// hash we recorded after the last write.
func (e *Exporter) externallyModified(ctx context.Context) (bool, error) {
	stored, err := e.store.GetMetadata(ctx, exportHashKey)
	if err != nil || stored == "" {
		return false, err
	}
	current, err := hashFile(e.path)
	if err != nil {
		return false, err
	}
	return current != "" && current != stored, nil
}

func (e *Exporter) recordHash(ctx context.Context) error {
	h, err := hashFile(e.path)
	if err != nil {
		return err
	}
	return e.store.SetMetadata(ctx, exportHashKey, h)
}

// hashFile returns the sha256 of the file, or "" when it doesn't exist.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
