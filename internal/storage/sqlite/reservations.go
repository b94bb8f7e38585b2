package sqlite

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/weftworks/weft/internal/telemetry"
	"github.com/weftworks/weft/internal/types"
)

// Reservations are advisory leases over file path patterns. They are live
// state, not a projection: a lease exists exactly as long as its row says
// so. Expiry is passive (expired rows simply stop counting) so no
// background sweeper is needed. Grants and releases leave audit events in
// the project log, written in the same transaction as the lease change.

// DefaultReservationTTL applies when the request leaves TTL zero.
const DefaultReservationTTL = 30 * time.Minute

// Reserve attempts to lease the given path patterns for the agent. The
// whole request is checked against live leases and granted atomically in
// one IMMEDIATE transaction, so two agents racing for the same path cannot
// both win. Conflicts are returned as data, not an error: partial grants
// are allowed, and the caller decides how to proceed. Every grant appends
// a reservation_granted audit event to the project log.
func (s *Store) Reserve(ctx context.Context, project, agent string, paths []string, opts types.ReserveOptions) (*types.ReserveResult, error) {
	if project == "" {
		return nil, fmt.Errorf("reserve: project is required")
	}
	if agent == "" {
		return nil, fmt.Errorf("reserve: agent is required")
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("reserve: at least one path is required")
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultReservationTTL
	}

	now := time.Now()
	result := &types.ReserveResult{}

	err := s.withImmediateTx(ctx, func(tx execer) error {
		active, err := activeReservationsTx(ctx, tx, now)
		if err != nil {
			return err
		}

		for _, p := range paths {
			// Re-reserving a path you already hold refreshes its expiry.
			var refreshed bool
			for _, held := range active {
				if held.Agent != agent || held.Path != p {
					continue
				}
				held.ExpiresAt = now.Add(ttl)
				if _, err := tx.ExecContext(ctx,
					`UPDATE reservations SET expires_at = ? WHERE id = ?`,
					held.ExpiresAt, held.ID); err != nil {
					return wrapDBErrorf(err, "refresh reservation %s", held.ID)
				}
				result.Granted = append(result.Granted, held)
				refreshed = true
				break
			}
			if refreshed {
				continue
			}

			var conflict *types.ReservationConflict
			for _, held := range active {
				if held.Agent == agent {
					continue
				}
				if !patternsOverlap(p, held.Path) {
					continue
				}
				// Shared leases coexist; any exclusive side conflicts.
				if !opts.Exclusive && !held.Exclusive {
					continue
				}
				conflict = &types.ReservationConflict{
					Path:      p,
					Holder:    held.Agent,
					HeldPath:  held.Path,
					Exclusive: held.Exclusive,
					ExpiresAt: held.ExpiresAt,
				}
				break
			}
			if conflict != nil {
				result.Conflicts = append(result.Conflicts, *conflict)
				telemetry.Add(ctx, s.counters.ReservationConflicts, 1)
				continue
			}

			res := &types.Reservation{
				ID:        uuid.NewString(),
				Agent:     agent,
				Path:      p,
				Exclusive: opts.Exclusive,
				Reason:    opts.Reason,
				CreatedAt: now,
				ExpiresAt: now.Add(ttl),
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO reservations (id, agent, path, exclusive, reason, created_at, expires_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`, res.ID, res.Agent, res.Path, res.Exclusive, res.Reason, res.CreatedAt, res.ExpiresAt); err != nil {
				return wrapDBErrorf(err, "insert reservation for %s", p)
			}
			result.Granted = append(result.Granted, res)

			// Grants within this call are visible to later paths in the
			// same request.
			active = append(active, res)
		}

		// Refreshes count as grants here too: the audit trail records every
		// time a lease's expiry moved.
		for _, g := range result.Granted {
			if err := appendLeaseAuditTx(ctx, tx, project, agent, now, &types.ReservationGranted{
				ReservationID: g.ID,
				Agent:         g.Agent,
				Path:          g.Path,
				Exclusive:     g.Exclusive,
				ExpiresAt:     g.ExpiresAt,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Release releases the agent's active leases matching the given paths
// exactly. Returns the number of leases released.
func (s *Store) Release(ctx context.Context, project, agent string, paths []string) (int, error) {
	if len(paths) == 0 {
		return 0, nil
	}
	return s.releaseMatching(ctx, project, agent, "path", paths)
}

// ReleaseByID releases the agent's active leases by reservation id.
func (s *Store) ReleaseByID(ctx context.Context, project, agent string, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	return s.releaseMatching(ctx, project, agent, "id", ids)
}

// ReleaseAll releases every active lease held by the agent. Used on agent
// shutdown and by the session cleanup path.
func (s *Store) ReleaseAll(ctx context.Context, project, agent string) (int, error) {
	return s.releaseMatching(ctx, project, agent, "", nil)
}

// releaseMatching releases the agent's active leases whose column value is
// in values (all of them when column is empty) and appends a release audit
// event per lease, in one transaction.
func (s *Store) releaseMatching(ctx context.Context, project, agent, column string, values []string) (int, error) {
	now := time.Now()
	var released []*types.Reservation

	err := s.withImmediateTx(ctx, func(tx execer) error {
		query := `
			SELECT id, agent, path, exclusive, reason, created_at, expires_at
			FROM reservations
			WHERE agent = ? AND released_at IS NULL AND expires_at > ?`
		args := []interface{}{agent, now}
		if column != "" {
			placeholders := make([]string, len(values))
			for i, v := range values {
				placeholders[i] = "?"
				args = append(args, v)
			}
			query += ` AND ` + column + ` IN (` + strings.Join(placeholders, ",") + `)`
		}

		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return wrapDBError("select leases to release", err)
		}
		released = released[:0]
		for rows.Next() {
			var r types.Reservation
			if err := rows.Scan(&r.ID, &r.Agent, &r.Path, &r.Exclusive, &r.Reason,
				&r.CreatedAt, &r.ExpiresAt); err != nil {
				_ = rows.Close()
				return wrapDBError("scan reservation", err)
			}
			released = append(released, &r)
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return wrapDBError("iterate leases to release", err)
		}
		// Fully drain before issuing updates on the same connection.
		if err := rows.Close(); err != nil {
			return wrapDBError("close lease rows", err)
		}

		for _, r := range released {
			if _, err := tx.ExecContext(ctx,
				`UPDATE reservations SET released_at = ? WHERE id = ?`,
				now, r.ID); err != nil {
				return wrapDBErrorf(err, "release reservation %s", r.ID)
			}
			if err := appendLeaseAuditTx(ctx, tx, project, agent, now, &types.ReservationReleased{
				ReservationID: r.ID,
				Agent:         r.Agent,
				Path:          r.Path,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(released), nil
}

// appendLeaseAuditTx writes a lease audit event inside the caller's
// transaction. Audit events carry no cell id and never feed projections,
// so no handler dispatch or cache rebuild follows the insert.
func appendLeaseAuditTx(ctx context.Context, tx execer, project, actor string, at time.Time, payload types.EventPayload) error {
	raw, err := types.EncodePayload(payload)
	if err != nil {
		return err
	}
	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM events WHERE project = ?`, project,
	).Scan(&seq); err != nil {
		return wrapDBError("assign event sequence", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO events (project, seq, cell_id, event_type, actor, payload, created_at)
		VALUES (?, ?, '', ?, ?, ?, ?)
	`, project, seq, payload.EventType(), actor, string(raw), at); err != nil {
		return wrapDBError("insert lease audit event", err)
	}
	return nil
}

// PurgeExpired deletes reservation rows that expired or were released
// before olderThan. Housekeeping only: expired rows already stop counting
// at read time.
func (s *Store) PurgeExpired(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM reservations
		WHERE expires_at < ? OR (released_at IS NOT NULL AND released_at < ?)
	`, olderThan, olderThan)
	if err != nil {
		return 0, wrapDBError("purge expired reservations", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ActiveReservations returns every lease that is currently held: not
// released and not expired.
func (s *Store) ActiveReservations(ctx context.Context) ([]*types.Reservation, error) {
	return activeReservationsTx(ctx, s.db, time.Now())
}

func activeReservationsTx(ctx context.Context, tx execer, now time.Time) ([]*types.Reservation, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, agent, path, exclusive, reason, created_at, expires_at
		FROM reservations
		WHERE released_at IS NULL AND expires_at > ?
		ORDER BY created_at ASC
	`, now)
	if err != nil {
		return nil, wrapDBError("list active reservations", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Reservation
	for rows.Next() {
		var r types.Reservation
		if err := rows.Scan(&r.ID, &r.Agent, &r.Path, &r.Exclusive, &r.Reason,
			&r.CreatedAt, &r.ExpiresAt); err != nil {
			return nil, wrapDBError("scan reservation", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// patternsOverlap reports whether two glob patterns can match a common
// path. Exact comparison plus cross-matching handles the practical cases:
// literal vs literal, literal vs glob, and prefix-style ** globs. Two
// distinct globs that only overlap on a third path (a/*.go vs */main.go)
// are treated as disjoint; leases guard cooperation, not security.
func patternsOverlap(a, b string) bool {
	if a == b {
		return true
	}
	return patternMatches(a, b) || patternMatches(b, a)
}

// patternMatches reports whether pattern matches target, where target may
// itself be a pattern (treated as a literal path in that case).
func patternMatches(pattern, target string) bool {
	if pattern == "**" {
		return true
	}
	// "dir/**" covers everything under dir, including dir itself.
	if strings.HasSuffix(pattern, "/**") {
		prefix := strings.TrimSuffix(pattern, "/**")
		return target == prefix || strings.HasPrefix(target, prefix+"/")
	}
	ok, err := path.Match(pattern, target)
	return err == nil && ok
}
