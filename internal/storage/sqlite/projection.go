package sqlite

import (
	"context"
	"fmt"

	"github.com/weftworks/weft/internal/debug"
	"github.com/weftworks/weft/internal/types"
)

// applyEvent dispatches one event to its projection handler. The switch is
// exhaustive over the payload sum type: adding an event type without a
// handler arm lands in the default case, which logs and skips (the same
// path taken for events written by newer agent versions).
//
// Every handler performs a targeted update on the cells row or a child
// table and concludes by marking the affected cell(s) dirty for export.
// Handlers run inside the caller's transaction.
func (s *Store) applyEvent(ctx context.Context, tx execer, ev *types.Event) error {
	switch p := ev.Payload.(type) {
	case *types.CellCreated:
		return s.applyCellCreated(ctx, tx, ev, p)
	case *types.CellUpdated:
		return s.applyCellUpdated(ctx, tx, ev, p)
	case *types.StatusChanged:
		return s.applyStatusChanged(ctx, tx, ev, p)
	case *types.CellClosed:
		return s.applyCellClosed(ctx, tx, ev, p)
	case *types.CellReopened:
		return s.applyCellReopened(ctx, tx, ev)
	case *types.CellDeleted:
		return s.applyCellDeleted(ctx, tx, ev, p)
	case *types.DependencyAdded:
		return s.applyDependencyAdded(ctx, tx, ev, p)
	case *types.DependencyRemoved:
		return s.applyDependencyRemoved(ctx, tx, ev, p)
	case *types.LabelAdded:
		return s.applyLabelChange(ctx, tx, ev, p.Label, true)
	case *types.LabelRemoved:
		return s.applyLabelChange(ctx, tx, ev, p.Label, false)
	case *types.CommentAdded:
		return s.applyCommentAdded(ctx, tx, ev, p)
	case *types.CommentUpdated:
		return s.applyCommentUpdated(ctx, tx, ev, p)
	case *types.CommentDeleted:
		return s.applyCommentDeleted(ctx, tx, ev, p)
	case *types.ChildAdded:
		return s.applyChildLink(ctx, tx, ev, p.ChildID, true)
	case *types.ChildRemoved:
		return s.applyChildLink(ctx, tx, ev, p.ChildID, false)
	case *types.Assigned:
		return s.applyAssigned(ctx, tx, ev, p)
	case *types.WorkStarted:
		return s.applyWorkStarted(ctx, tx, ev)
	case *types.ReservationGranted, *types.ReservationReleased:
		// Lease audit records; lease truth lives in the reservations table.
		return nil
	default:
		debug.Logf("no projection handler for %s event seq=%d, skipping", ev.Type, ev.Seq)
		return nil
	}
}

func (s *Store) applyCellCreated(ctx context.Context, tx execer, ev *types.Event, p *types.CellCreated) error {
	cell := p.Cell
	if cell.ID != ev.CellID {
		return fmt.Errorf("cell_created: envelope cell %s does not match payload cell %s", ev.CellID, cell.ID)
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO cells (id, project, title, description, status, priority, cell_type,
		                   parent_id, assignee, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, cell.ID, ev.Project, cell.Title, cell.Description, cell.Status, cell.Priority,
		cell.CellType, cell.ParentID, cell.Assignee, ev.CreatedAt, ev.CreatedAt)
	if err != nil {
		return wrapDBErrorf(err, "insert cell %s", cell.ID)
	}

	return markDirtyTx(ctx, tx, ev.CreatedAt, cell.ID)
}

func (s *Store) applyCellUpdated(ctx context.Context, tx execer, ev *types.Event, p *types.CellUpdated) error {
	setClauses := []string{"updated_at = ?"}
	args := []interface{}{ev.CreatedAt}

	if p.Title != nil {
		setClauses = append(setClauses, "title = ?")
		args = append(args, *p.Title)
	}
	if p.Description != nil {
		setClauses = append(setClauses, "description = ?")
		args = append(args, *p.Description)
	}
	if p.Priority != nil {
		setClauses = append(setClauses, "priority = ?")
		args = append(args, *p.Priority)
	}
	if p.CellType != nil {
		setClauses = append(setClauses, "cell_type = ?")
		args = append(args, *p.CellType)
	}
	args = append(args, ev.CellID)

	query := "UPDATE cells SET " + joinClauses(setClauses) + " WHERE id = ?"
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return wrapDBErrorf(err, "update cell %s", ev.CellID)
	}
	if err := requireRow(res, ev.CellID); err != nil {
		return err
	}

	return markDirtyTx(ctx, tx, ev.CreatedAt, ev.CellID)
}

func (s *Store) applyStatusChanged(ctx context.Context, tx execer, ev *types.Event, p *types.StatusChanged) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE cells SET status = ?, updated_at = ? WHERE id = ?
	`, p.To, ev.CreatedAt, ev.CellID)
	if err != nil {
		return wrapDBErrorf(err, "change status of %s", ev.CellID)
	}
	if err := requireRow(res, ev.CellID); err != nil {
		return err
	}

	return markDirtyTx(ctx, tx, ev.CreatedAt, ev.CellID)
}

func (s *Store) applyCellClosed(ctx context.Context, tx execer, ev *types.Event, p *types.CellClosed) error {
	// Setting status and closed_at together preserves the closed_at
	// invariant enforced by the schema CHECK.
	res, err := tx.ExecContext(ctx, `
		UPDATE cells SET status = ?, closed_at = ?, close_reason = ?, updated_at = ?
		WHERE id = ?
	`, types.StatusClosed, ev.CreatedAt, p.Reason, ev.CreatedAt, ev.CellID)
	if err != nil {
		return wrapDBErrorf(err, "close cell %s", ev.CellID)
	}
	if err := requireRow(res, ev.CellID); err != nil {
		return err
	}

	return markDirtyTx(ctx, tx, ev.CreatedAt, ev.CellID)
}

func (s *Store) applyCellReopened(ctx context.Context, tx execer, ev *types.Event) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE cells SET status = ?, closed_at = NULL, close_reason = '', updated_at = ?
		WHERE id = ?
	`, types.StatusOpen, ev.CreatedAt, ev.CellID)
	if err != nil {
		return wrapDBErrorf(err, "reopen cell %s", ev.CellID)
	}
	if err := requireRow(res, ev.CellID); err != nil {
		return err
	}

	return markDirtyTx(ctx, tx, ev.CreatedAt, ev.CellID)
}

func (s *Store) applyCellDeleted(ctx context.Context, tx execer, ev *types.Event, p *types.CellDeleted) error {
	// Soft delete: the row stays as a tombstone so other processes don't
	// resurrect the cell from their copy of the export file.
	res, err := tx.ExecContext(ctx, `
		UPDATE cells SET deleted_at = ?, deleted_by = ?, delete_reason = ?, updated_at = ?
		WHERE id = ?
	`, ev.CreatedAt, ev.Actor, p.Reason, ev.CreatedAt, ev.CellID)
	if err != nil {
		return wrapDBErrorf(err, "delete cell %s", ev.CellID)
	}
	if err := requireRow(res, ev.CellID); err != nil {
		return err
	}

	return markDirtyTx(ctx, tx, ev.CreatedAt, ev.CellID)
}

func (s *Store) applyDependencyAdded(ctx context.Context, tx execer, ev *types.Event, p *types.DependencyAdded) error {
	if ev.CellID == p.DependsOnID {
		return fmt.Errorf("cell %s cannot depend on itself", ev.CellID)
	}

	// Both endpoints must exist before an edge can be recorded.
	for _, id := range []string{ev.CellID, p.DependsOnID} {
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM cells WHERE id = ?)`, id).Scan(&exists); err != nil {
			return wrapDBErrorf(err, "check cell %s", id)
		}
		if !exists {
			return fmt.Errorf("cell %s not found", id)
		}
	}

	if p.DepType.AffectsReadiness() {
		if err := checkDependencyCycle(ctx, tx, ev.CellID, p.DependsOnID); err != nil {
			return err
		}
	}

	// INSERT OR IGNORE: re-applying the same dependency-add event must not
	// create duplicate edges.
	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO cell_deps (cell_id, depends_on_id, type, created_at, created_by)
		VALUES (?, ?, ?, ?, ?)
	`, ev.CellID, p.DependsOnID, p.DepType, ev.CreatedAt, ev.Actor); err != nil {
		return wrapDBErrorf(err, "add dependency %s -> %s", ev.CellID, p.DependsOnID)
	}

	// Both sides change shape in the export file.
	return markDirtyTx(ctx, tx, ev.CreatedAt, ev.CellID, p.DependsOnID)
}

func (s *Store) applyDependencyRemoved(ctx context.Context, tx execer, ev *types.Event, p *types.DependencyRemoved) error {
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM cell_deps WHERE cell_id = ? AND depends_on_id = ?
	`, ev.CellID, p.DependsOnID); err != nil {
		return wrapDBErrorf(err, "remove dependency %s -> %s", ev.CellID, p.DependsOnID)
	}

	return markDirtyTx(ctx, tx, ev.CreatedAt, ev.CellID, p.DependsOnID)
}

func (s *Store) applyLabelChange(ctx context.Context, tx execer, ev *types.Event, label string, add bool) error {
	var err error
	if add {
		_, err = tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO labels (cell_id, label) VALUES (?, ?)`, ev.CellID, label)
	} else {
		_, err = tx.ExecContext(ctx,
			`DELETE FROM labels WHERE cell_id = ? AND label = ?`, ev.CellID, label)
	}
	if err != nil {
		return wrapDBErrorf(err, "change label %q on %s", label, ev.CellID)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE cells SET updated_at = ? WHERE id = ?`, ev.CreatedAt, ev.CellID); err != nil {
		return wrapDBErrorf(err, "touch cell %s", ev.CellID)
	}

	return markDirtyTx(ctx, tx, ev.CreatedAt, ev.CellID)
}

func (s *Store) applyCommentAdded(ctx context.Context, tx execer, ev *types.Event, p *types.CommentAdded) error {
	// The comment id is the event's log row id, so replay reproduces the
	// same id and later comment_updated events keep resolving.
	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO comments (id, cell_id, author, text, parent_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, ev.ID, ev.CellID, p.Author, p.Text, p.ParentID, ev.CreatedAt); err != nil {
		return wrapDBErrorf(err, "add comment to %s", ev.CellID)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE cells SET updated_at = ? WHERE id = ?`, ev.CreatedAt, ev.CellID); err != nil {
		return wrapDBErrorf(err, "touch cell %s", ev.CellID)
	}

	return markDirtyTx(ctx, tx, ev.CreatedAt, ev.CellID)
}

func (s *Store) applyCommentUpdated(ctx context.Context, tx execer, ev *types.Event, p *types.CommentUpdated) error {
	if _, err := tx.ExecContext(ctx, `
		UPDATE comments SET text = ? WHERE id = ? AND cell_id = ?
	`, p.Text, p.CommentID, ev.CellID); err != nil {
		return wrapDBErrorf(err, "update comment %d", p.CommentID)
	}

	return markDirtyTx(ctx, tx, ev.CreatedAt, ev.CellID)
}

func (s *Store) applyCommentDeleted(ctx context.Context, tx execer, ev *types.Event, p *types.CommentDeleted) error {
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM comments WHERE id = ? AND cell_id = ?
	`, p.CommentID, ev.CellID); err != nil {
		return wrapDBErrorf(err, "delete comment %d", p.CommentID)
	}

	return markDirtyTx(ctx, tx, ev.CreatedAt, ev.CellID)
}

func (s *Store) applyChildLink(ctx context.Context, tx execer, ev *types.Event, childID string, link bool) error {
	var err error
	if link {
		_, err = tx.ExecContext(ctx,
			`UPDATE cells SET parent_id = ?, updated_at = ? WHERE id = ?`,
			ev.CellID, ev.CreatedAt, childID)
	} else {
		_, err = tx.ExecContext(ctx,
			`UPDATE cells SET parent_id = '', updated_at = ? WHERE id = ? AND parent_id = ?`,
			ev.CreatedAt, childID, ev.CellID)
	}
	if err != nil {
		return wrapDBErrorf(err, "link child %s to %s", childID, ev.CellID)
	}

	return markDirtyTx(ctx, tx, ev.CreatedAt, ev.CellID, childID)
}

func (s *Store) applyAssigned(ctx context.Context, tx execer, ev *types.Event, p *types.Assigned) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE cells SET assignee = ?, updated_at = ? WHERE id = ?
	`, p.Assignee, ev.CreatedAt, ev.CellID)
	if err != nil {
		return wrapDBErrorf(err, "assign cell %s", ev.CellID)
	}
	if err := requireRow(res, ev.CellID); err != nil {
		return err
	}

	return markDirtyTx(ctx, tx, ev.CreatedAt, ev.CellID)
}

func (s *Store) applyWorkStarted(ctx context.Context, tx execer, ev *types.Event) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE cells SET status = ?, assignee = ?, updated_at = ? WHERE id = ?
	`, types.StatusInProgress, ev.Actor, ev.CreatedAt, ev.CellID)
	if err != nil {
		return wrapDBErrorf(err, "start work on %s", ev.CellID)
	}
	if err := requireRow(res, ev.CellID); err != nil {
		return err
	}

	return markDirtyTx(ctx, tx, ev.CreatedAt, ev.CellID)
}

// checkDependencyCycle rejects an edge that would make the dependency
// graph cyclic. Depth-capped recursive CTE from the proposed target.
func checkDependencyCycle(ctx context.Context, tx execer, cellID, dependsOnID string) error {
	var cycleExists bool
	err := tx.QueryRowContext(ctx, `
		WITH RECURSIVE paths AS (
			SELECT cell_id, depends_on_id, 1 as depth
			FROM cell_deps
			WHERE cell_id = ?

			UNION ALL

			SELECT d.cell_id, d.depends_on_id, p.depth + 1
			FROM cell_deps d
			JOIN paths p ON d.cell_id = p.depends_on_id
			WHERE p.depth < 100
		)
		SELECT EXISTS(SELECT 1 FROM paths WHERE depends_on_id = ?)
	`, dependsOnID, cellID).Scan(&cycleExists)
	if err != nil {
		return wrapDBError("check for cycles", err)
	}
	if cycleExists {
		return fmt.Errorf("cannot add dependency: would create a cycle (%s -> %s -> ... -> %s)",
			cellID, dependsOnID, cellID)
	}
	return nil
}

func requireRow(res interface{ RowsAffected() (int64, error) }, cellID string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("cell not found: %s", cellID)
	}
	return nil
}

func joinClauses(clauses []string) string {
	out := ""
	for i, c := range clauses {
		if i > 0 {
			out += ", "
		}
		out += c
	}
	return out
}
