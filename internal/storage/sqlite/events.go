package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/weftworks/weft/internal/debug"
	"github.com/weftworks/weft/internal/storage"
	"github.com/weftworks/weft/internal/telemetry"
	"github.com/weftworks/weft/internal/types"
)

// AppendEvent appends a domain event to the project log. This is the only
// write path for domain facts. Within a single IMMEDIATE transaction it:
//
//  1. assigns the next per-project sequence number
//  2. inserts the immutable event row
//  3. dispatches the projection handler for the payload
//  4. rebuilds the blocked cache when the event affects blocking
//
// A failure at any step rolls back the whole transaction, so a logged-but-
// unprojected (or projected-but-unlogged) state is never observable.
//
// Structural validation runs before the transaction opens: an invalid
// payload is rejected with storage.ErrValidation and no side effect.
func (s *Store) AppendEvent(ctx context.Context, ev *types.Event) (int64, error) {
	if ev.Payload == nil {
		return 0, fmt.Errorf("append event: %w: payload is required", storage.ErrValidation)
	}
	if ev.Type == "" {
		ev.Type = ev.Payload.EventType()
	}
	if ev.Type != ev.Payload.EventType() {
		return 0, fmt.Errorf("append event: %w: type %s does not match payload %s",
			storage.ErrValidation, ev.Type, ev.Payload.EventType())
	}
	if err := ev.Payload.Validate(); err != nil {
		return 0, fmt.Errorf("append %s event: %w: %v", ev.Type, storage.ErrValidation, err)
	}
	if ev.CellID == "" && !isReservationEvent(ev.Type) {
		return 0, fmt.Errorf("append %s event: %w: cell_id is required", ev.Type, storage.ErrValidation)
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}

	payload, err := types.EncodePayload(ev.Payload)
	if err != nil {
		return 0, err
	}
	// Round-trip the payload through the codec so the projection applies
	// exactly what replay will read back from the log.
	normalized, err := types.DecodePayload(ev.Type, payload)
	if err != nil {
		return 0, err
	}
	ev.Payload = normalized

	var seq int64
	err = s.withImmediateTx(ctx, func(tx execer) error {
		// Sequence assignment is safe under the IMMEDIATE write lock:
		// no other writer can interleave between the read and the insert.
		if err := tx.QueryRowContext(ctx, `
			SELECT COALESCE(MAX(seq), 0) + 1 FROM events WHERE project = ?
		`, ev.Project).Scan(&seq); err != nil {
			return wrapDBError("assign event sequence", err)
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO events (project, seq, cell_id, event_type, actor, payload, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, ev.Project, seq, ev.CellID, ev.Type, ev.Actor, string(payload), ev.CreatedAt)
		if err != nil {
			return wrapDBError("insert event", err)
		}
		ev.Seq = seq
		// The log row id keys replay-stable child records (comment ids).
		if id, err := res.LastInsertId(); err == nil {
			ev.ID = id
		}

		if err := s.applyEvent(ctx, tx, ev); err != nil {
			return err
		}

		if affectsBlocking(ev.Type) {
			if err := rebuildBlockedCache(ctx, tx); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	telemetry.Add(ctx, s.counters.EventsAppended, 1)
	debug.Logf("appended %s event seq=%d cell=%s", ev.Type, seq, ev.CellID)
	return seq, nil
}

// isReservationEvent reports whether the type is a lease audit record.
// These carry no cell and do not feed projections.
func isReservationEvent(t types.EventType) bool {
	return t == types.EventReservationGranted || t == types.EventReservationReleased
}

// affectsBlocking reports whether the event can change any cell's blocked
// status. The blocked cache is rebuilt inside the same transaction for
// exactly these types.
func affectsBlocking(t types.EventType) bool {
	switch t {
	case types.EventDependencyAdded, types.EventDependencyRemoved,
		types.EventCellClosed, types.EventCellReopened, types.EventCellDeleted:
		return true
	}
	return false
}

// ReadEvents returns the project's events with seq > sinceSeq in sequence
// order. Events with payload types unknown to this build are skipped with a
// warning so newer writers don't break older readers.
func (s *Store) ReadEvents(ctx context.Context, project string, sinceSeq int64) ([]*types.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project, seq, cell_id, event_type, actor, payload, created_at
		FROM events
		WHERE project = ? AND seq > ?
		ORDER BY seq ASC
	`, project, sinceSeq)
	if err != nil {
		return nil, wrapDBError("read events", err)
	}
	defer func() { _ = rows.Close() }()

	return scanEvents(rows)
}

// GetCellEvents returns the audit trail for one cell, newest first.
func (s *Store) GetCellEvents(ctx context.Context, cellID string, limit int) ([]*types.Event, error) {
	query := `
		SELECT id, project, seq, cell_id, event_type, actor, payload, created_at
		FROM events
		WHERE cell_id = ?
		ORDER BY seq DESC
	`
	args := []interface{}{cellID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBErrorf(err, "get events for %s", cellID)
	}
	defer func() { _ = rows.Close() }()

	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]*types.Event, error) {
	var events []*types.Event
	for rows.Next() {
		var ev types.Event
		var payload string
		if err := rows.Scan(&ev.ID, &ev.Project, &ev.Seq, &ev.CellID, &ev.Type,
			&ev.Actor, &payload, &ev.CreatedAt); err != nil {
			return nil, wrapDBError("scan event", err)
		}

		p, err := types.DecodePayload(ev.Type, []byte(payload))
		if err != nil {
			// Forward compatibility: skip events from newer writers
			// instead of failing the whole read.
			debug.Logf("skipping event seq=%d: %v", ev.Seq, err)
			continue
		}
		ev.Payload = p
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBError("iterate events", err)
	}
	return events, nil
}

// ReplayProject rebuilds the project's read model from its event log. Used
// by crashed or restarted agents to reconstruct consistent state, and to
// verify that projections are fully derivable from the log.
func (s *Store) ReplayProject(ctx context.Context, project string) error {
	events, err := s.ReadEvents(ctx, project, 0)
	if err != nil {
		return err
	}

	return s.withImmediateTx(ctx, func(tx execer) error {
		// Clear the project's projections; the log is the source of truth.
		for _, stmt := range []string{
			`DELETE FROM comments WHERE cell_id IN (SELECT id FROM cells WHERE project = ?)`,
			`DELETE FROM labels WHERE cell_id IN (SELECT id FROM cells WHERE project = ?)`,
			`DELETE FROM cell_deps WHERE cell_id IN (SELECT id FROM cells WHERE project = ?)`,
			`DELETE FROM cells WHERE project = ?`,
		} {
			if _, err := tx.ExecContext(ctx, stmt, project); err != nil {
				return wrapDBError("clear projections for replay", err)
			}
		}

		for _, ev := range events {
			if err := s.applyEvent(ctx, tx, ev); err != nil {
				return fmt.Errorf("replay seq %d: %w", ev.Seq, err)
			}
		}

		return rebuildBlockedCache(ctx, tx)
	})
}
