package sqlite

import (
	"context"
)

// The blocked cells cache holds (cell, blocker) pairs for every cell with at
// least one open blocker through a readiness-affecting dependency. It is a
// pure optimization over cell_deps joined with cells: any transaction that
// can change blocking (dependency add/remove, close, reopen, delete)
// rebuilds it before committing, so readers never observe a stale cache.

// rebuildBlockedCache recomputes the cache from scratch inside the caller's
// transaction. Full rebuild keeps the derivation obviously correct; the
// join is cheap at the store sizes a single project reaches.
func rebuildBlockedCache(ctx context.Context, tx execer) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM blocked_cells_cache`); err != nil {
		return wrapDBError("clear blocked cache", err)
	}

	// A cell is blocked by each open, non-deleted dependency reached
	// through a workflow edge. Closed or tombstoned blockers don't count.
	_, err := tx.ExecContext(ctx, `
		INSERT INTO blocked_cells_cache (cell_id, blocker_id)
		SELECT DISTINCT d.cell_id, d.depends_on_id
		FROM cell_deps d
		JOIN cells blocker ON blocker.id = d.depends_on_id
		JOIN cells c ON c.id = d.cell_id
		WHERE d.type IN ('blocks', 'parent-child')
		  AND blocker.status != 'closed'
		  AND blocker.deleted_at IS NULL
		  AND c.deleted_at IS NULL
	`)
	if err != nil {
		return wrapDBError("rebuild blocked cache", err)
	}
	return nil
}

// RebuildBlockedCache recomputes the blocked cells cache. Normally the cache
// is maintained transactionally; this is for recovery after manual surgery
// on the database.
func (s *Store) RebuildBlockedCache(ctx context.Context) error {
	return s.withImmediateTx(ctx, func(tx execer) error {
		return rebuildBlockedCache(ctx, tx)
	})
}

// IsBlocked reports whether the cell has at least one open blocker.
func (s *Store) IsBlocked(ctx context.Context, cellID string) (bool, error) {
	var blocked bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM blocked_cells_cache WHERE cell_id = ?)
	`, cellID).Scan(&blocked)
	if err != nil {
		return false, wrapDBErrorf(err, "check blocked %s", cellID)
	}
	return blocked, nil
}

// GetBlockers returns the ids of the cells currently blocking cellID.
func (s *Store) GetBlockers(ctx context.Context, cellID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT blocker_id FROM blocked_cells_cache WHERE cell_id = ? ORDER BY blocker_id
	`, cellID)
	if err != nil {
		return nil, wrapDBErrorf(err, "get blockers of %s", cellID)
	}
	defer func() { _ = rows.Close() }()

	var blockers []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, wrapDBError("scan blocker", err)
		}
		blockers = append(blockers, id)
	}
	return blockers, rows.Err()
}
