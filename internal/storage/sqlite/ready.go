package sqlite

import (
	"context"
	"database/sql"

	"github.com/weftworks/weft/internal/types"
)

// NextReady returns the highest-priority open cell with no open blockers,
// oldest first within a priority, or nil when nothing is ready. The
// candidate's blockers are verified against the dependency edges, not the
// cache, so a dispatch decision never rides on cache staleness.
func (s *Store) NextReady(ctx context.Context, project string) (*types.Cell, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+cellColumns+`
		FROM cells c
		WHERE c.project = ? AND c.status = 'open' AND c.deleted_at IS NULL
		  AND NOT EXISTS (
			SELECT 1 FROM cell_deps d
			JOIN cells blocker ON blocker.id = d.depends_on_id
			WHERE d.cell_id = c.id
			  AND d.type IN ('blocks', 'parent-child')
			  AND blocker.status != 'closed'
			  AND blocker.deleted_at IS NULL
		  )
		ORDER BY c.priority ASC, c.created_at ASC
		LIMIT 1
	`, project)

	cell, err := scanCell(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapDBError("get next ready cell", err)
	}
	return cell, nil
}

// GetBlockedCells returns the project's blocked cells with their blocker
// lists, read from the cache.
func (s *Store) GetBlockedCells(ctx context.Context, project string) ([]*types.BlockedCell, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+cellColumns+`
		FROM cells c
		WHERE c.project = ? AND c.deleted_at IS NULL
		  AND EXISTS (SELECT 1 FROM blocked_cells_cache b WHERE b.cell_id = c.id)
		ORDER BY c.priority ASC, c.created_at ASC
	`, project)
	if err != nil {
		return nil, wrapDBError("get blocked cells", err)
	}
	defer func() { _ = rows.Close() }()

	var blocked []*types.BlockedCell
	for rows.Next() {
		cell, err := scanCell(rows)
		if err != nil {
			return nil, wrapDBError("scan blocked cell", err)
		}
		blocked = append(blocked, &types.BlockedCell{Cell: *cell})
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBError("iterate blocked cells", err)
	}

	for _, bc := range blocked {
		blockers, err := s.GetBlockers(ctx, bc.ID)
		if err != nil {
			return nil, err
		}
		bc.BlockedBy = blockers
	}
	return blocked, nil
}
