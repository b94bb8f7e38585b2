package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/weftworks/weft/internal/storage"
	"github.com/weftworks/weft/internal/types"
)

const cellColumns = `id, project, title, description, status, priority, cell_type,
	parent_id, assignee, created_at, updated_at, closed_at, close_reason,
	deleted_at, deleted_by, delete_reason`

func scanCell(row interface{ Scan(dest ...interface{}) error }) (*types.Cell, error) {
	var c types.Cell
	err := row.Scan(&c.ID, &c.Project, &c.Title, &c.Description, &c.Status,
		&c.Priority, &c.CellType, &c.ParentID, &c.Assignee,
		&c.CreatedAt, &c.UpdatedAt, &c.ClosedAt, &c.CloseReason,
		&c.DeletedAt, &c.DeletedBy, &c.DeleteReason)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetCell retrieves a cell by ID. Soft-deleted cells are returned with
// their tombstone fields set; callers filter if they need live cells only.
func (s *Store) GetCell(ctx context.Context, id string) (*types.Cell, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+cellColumns+` FROM cells WHERE id = ?`, id)
	cell, err := scanCell(row)
	if err != nil {
		return nil, wrapDBErrorf(err, "get cell %s", id)
	}

	labels, err := s.GetLabels(ctx, id)
	if err != nil {
		return nil, err
	}
	cell.Labels = labels
	return cell, nil
}

// ListCells returns the project's cells matching the filter, highest
// priority first, oldest first within a priority.
func (s *Store) ListCells(ctx context.Context, project string, filter types.CellFilter) ([]*types.Cell, error) {
	query := `SELECT ` + cellColumns + ` FROM cells WHERE project = ?`
	args := []interface{}{project}

	if !filter.IncludeDeleted {
		query += ` AND deleted_at IS NULL`
	}
	if filter.Status != nil {
		query += ` AND status = ?`
		args = append(args, *filter.Status)
	}
	if filter.CellType != nil {
		query += ` AND cell_type = ?`
		args = append(args, *filter.CellType)
	}
	if filter.ParentID != nil {
		query += ` AND parent_id = ?`
		args = append(args, *filter.ParentID)
	}
	if filter.Assignee != nil {
		query += ` AND assignee = ?`
		args = append(args, *filter.Assignee)
	}

	query += ` ORDER BY priority ASC, created_at ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("list cells", err)
	}
	defer func() { _ = rows.Close() }()

	var cells []*types.Cell
	for rows.Next() {
		cell, err := scanCell(rows)
		if err != nil {
			return nil, wrapDBError("scan cell", err)
		}
		cells = append(cells, cell)
	}
	return cells, rows.Err()
}

// GetStaleCells returns non-closed cells not updated since the given time.
// Agents use this to find abandoned work after a crashed peer.
func (s *Store) GetStaleCells(ctx context.Context, project string, since time.Time) ([]*types.Cell, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+cellColumns+` FROM cells
		WHERE project = ? AND status != 'closed' AND deleted_at IS NULL
		  AND updated_at < ?
		ORDER BY updated_at ASC
	`, project, since)
	if err != nil {
		return nil, wrapDBError("get stale cells", err)
	}
	defer func() { _ = rows.Close() }()

	var cells []*types.Cell
	for rows.Next() {
		cell, err := scanCell(rows)
		if err != nil {
			return nil, wrapDBError("scan stale cell", err)
		}
		cells = append(cells, cell)
	}
	return cells, rows.Err()
}

// GetStatistics returns aggregate counts for the project.
func (s *Store) GetStatistics(ctx context.Context, project string) (*types.Statistics, error) {
	stats := &types.Statistics{}
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE deleted_at IS NULL),
			COUNT(*) FILTER (WHERE status = 'open' AND deleted_at IS NULL),
			COUNT(*) FILTER (WHERE status = 'in_progress' AND deleted_at IS NULL),
			COUNT(*) FILTER (WHERE status = 'closed' AND deleted_at IS NULL),
			COUNT(*) FILTER (WHERE deleted_at IS NOT NULL)
		FROM cells WHERE project = ?
	`, project).Scan(&stats.TotalCells, &stats.OpenCells, &stats.InProgressCells,
		&stats.ClosedCells, &stats.DeletedCells)
	if err != nil {
		return nil, wrapDBError("get statistics", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT b.cell_id)
		FROM blocked_cells_cache b
		JOIN cells c ON c.id = b.cell_id
		WHERE c.project = ?
	`, project).Scan(&stats.BlockedCells)
	if err != nil {
		return nil, wrapDBError("count blocked cells", err)
	}

	// Ready = open, not deleted, not in the blocked cache.
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM cells c
		WHERE c.project = ? AND c.status = 'open' AND c.deleted_at IS NULL
		  AND NOT EXISTS (SELECT 1 FROM blocked_cells_cache b WHERE b.cell_id = c.id)
	`, project).Scan(&stats.ReadyCells)
	if err != nil {
		return nil, wrapDBError("count ready cells", err)
	}

	return stats, nil
}

// GetLabels returns the cell's labels sorted.
func (s *Store) GetLabels(ctx context.Context, cellID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT label FROM labels WHERE cell_id = ? ORDER BY label`, cellID)
	if err != nil {
		return nil, wrapDBErrorf(err, "get labels for %s", cellID)
	}
	defer func() { _ = rows.Close() }()

	var labels []string
	for rows.Next() {
		var l string
		if err := rows.Scan(&l); err != nil {
			return nil, wrapDBError("scan label", err)
		}
		labels = append(labels, l)
	}
	return labels, rows.Err()
}

// GetComments returns the cell's comments in creation order.
func (s *Store) GetComments(ctx context.Context, cellID string) ([]*types.Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, cell_id, author, text, parent_id, created_at
		FROM comments WHERE cell_id = ? ORDER BY created_at ASC, id ASC
	`, cellID)
	if err != nil {
		return nil, wrapDBErrorf(err, "get comments for %s", cellID)
	}
	defer func() { _ = rows.Close() }()

	var comments []*types.Comment
	for rows.Next() {
		var c types.Comment
		if err := rows.Scan(&c.ID, &c.CellID, &c.Author, &c.Text, &c.ParentID,
			&c.CreatedAt); err != nil {
			return nil, wrapDBError("scan comment", err)
		}
		comments = append(comments, &c)
	}
	return comments, rows.Err()
}

// GetDependencyRecords returns the cell's outgoing dependency edges.
func (s *Store) GetDependencyRecords(ctx context.Context, cellID string) ([]*types.Dependency, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT cell_id, depends_on_id, type, created_at, created_by
		FROM cell_deps WHERE cell_id = ? ORDER BY depends_on_id
	`, cellID)
	if err != nil {
		return nil, wrapDBErrorf(err, "get dependencies for %s", cellID)
	}
	defer func() { _ = rows.Close() }()

	var deps []*types.Dependency
	for rows.Next() {
		var d types.Dependency
		if err := rows.Scan(&d.CellID, &d.DependsOnID, &d.Type, &d.CreatedAt,
			&d.CreatedBy); err != nil {
			return nil, wrapDBError("scan dependency", err)
		}
		deps = append(deps, &d)
	}
	return deps, rows.Err()
}

// SetConfig sets a configuration value.
func (s *Store) SetConfig(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`, key, value)
	return wrapDBErrorf(err, "set config %s", key)
}

// GetConfig retrieves a configuration value. Returns an empty string when
// the key is unset.
func (s *Store) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM config WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", wrapDBErrorf(err, "get config %s", key)
	}
	return value, nil
}

// SetMetadata sets an internal metadata value (export hashes and the like).
func (s *Store) SetMetadata(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`, key, value)
	return wrapDBErrorf(err, "set metadata %s", key)
}

// GetMetadata retrieves an internal metadata value. Returns an empty string
// when the key is unset.
func (s *Store) GetMetadata(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", wrapDBErrorf(err, "get metadata %s", key)
	}
	return value, nil
}

// ProjectKey returns the configured project key, or ErrNotInitialized when
// the store has never been initialized.
func (s *Store) ProjectKey(ctx context.Context) (string, error) {
	key, err := s.GetConfig(ctx, "project_key")
	if err != nil {
		return "", err
	}
	if key == "" {
		return "", storage.ErrNotInitialized
	}
	return key, nil
}
