package sqlite

import (
	"context"
	"strings"
	"time"
)

// markDirtyTx records that cells changed and need re-export. Upsert keeps
// one row per cell; the timestamp moves forward on every change so export
// can clear exactly the markers it saw.
func markDirtyTx(ctx context.Context, tx execer, at time.Time, cellIDs ...string) error {
	for _, id := range cellIDs {
		if id == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO dirty_cells (cell_id, marked_at) VALUES (?, ?)
			ON CONFLICT (cell_id) DO UPDATE SET marked_at = excluded.marked_at
		`, id, at); err != nil {
			return wrapDBErrorf(err, "mark cell %s dirty", id)
		}
	}
	return nil
}

// MarkCellDirty flags a cell for the next incremental export.
func (s *Store) MarkCellDirty(ctx context.Context, cellID string) error {
	return markDirtyTx(ctx, s.db, time.Now(), cellID)
}

// GetDirtyCells returns the ids of cells awaiting export for the project,
// oldest mark first.
func (s *Store) GetDirtyCells(ctx context.Context, project string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.cell_id
		FROM dirty_cells d
		JOIN cells c ON c.id = d.cell_id
		WHERE c.project = ?
		ORDER BY d.marked_at ASC, d.cell_id ASC
	`, project)
	if err != nil {
		return nil, wrapDBError("get dirty cells", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, wrapDBError("scan dirty cell", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ClearDirtyCellsByID removes the dirty markers for exactly the given cells.
// Cells marked dirty after the export snapshot was taken keep their markers,
// so a concurrent change is never silently dropped from the next export.
func (s *Store) ClearDirtyCellsByID(ctx context.Context, cellIDs []string) error {
	if len(cellIDs) == 0 {
		return nil
	}

	placeholders := make([]string, len(cellIDs))
	args := make([]interface{}, len(cellIDs))
	for i, id := range cellIDs {
		placeholders[i] = "?"
		args[i] = id
	}

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM dirty_cells WHERE cell_id IN (`+strings.Join(placeholders, ",")+`)`,
		args...)
	if err != nil {
		return wrapDBError("clear dirty cells", err)
	}
	return nil
}
