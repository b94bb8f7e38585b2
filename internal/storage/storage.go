// Package storage provides shared types for the coordination store.
//
// The concrete implementation lives in the sqlite sub-package. This package
// holds the interface and sentinel errors referenced by both the
// implementation and its consumers (cmd/weft, internal/flush, etc.).
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/weftworks/weft/internal/types"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrNotInitialized is returned when the store has not been initialized
// (project config is missing).
var ErrNotInitialized = errors.New("store not initialized")

// ErrValidation is returned when an event payload fails structural
// validation. Validation failures are rejected before any side effect and
// are never retried.
var ErrValidation = errors.New("validation failed")

// Store is the interface satisfied by *sqlite.Store. Consumers depend on
// this interface rather than the concrete type so mocks and proxies can be
// substituted.
type Store interface {
	// Event log. AppendEvent is the only write path for domain facts:
	// it assigns the per-project sequence, runs the projection, maintains
	// the blocked cache and marks the cell dirty, all in one transaction.
	AppendEvent(ctx context.Context, ev *types.Event) (int64, error)
	ReadEvents(ctx context.Context, project string, sinceSeq int64) ([]*types.Event, error)
	GetCellEvents(ctx context.Context, cellID string, limit int) ([]*types.Event, error)
	ReplayProject(ctx context.Context, project string) error

	// Projections (read model).
	GetCell(ctx context.Context, id string) (*types.Cell, error)
	ListCells(ctx context.Context, project string, filter types.CellFilter) ([]*types.Cell, error)
	NextReady(ctx context.Context, project string) (*types.Cell, error)
	GetBlockedCells(ctx context.Context, project string) ([]*types.BlockedCell, error)
	GetStaleCells(ctx context.Context, project string, since time.Time) ([]*types.Cell, error)
	GetStatistics(ctx context.Context, project string) (*types.Statistics, error)

	// Blocking index.
	IsBlocked(ctx context.Context, cellID string) (bool, error)
	GetBlockers(ctx context.Context, cellID string) ([]string, error)
	RebuildBlockedCache(ctx context.Context) error

	// Child records.
	GetLabels(ctx context.Context, cellID string) ([]string, error)
	GetComments(ctx context.Context, cellID string) ([]*types.Comment, error)
	GetDependencyRecords(ctx context.Context, cellID string) ([]*types.Dependency, error)

	// Dirty tracking for incremental export.
	MarkCellDirty(ctx context.Context, cellID string) error
	GetDirtyCells(ctx context.Context, project string) ([]string, error)
	ClearDirtyCellsByID(ctx context.Context, cellIDs []string) error

	// File reservations (live lease state, not event-derived). Grants and
	// releases append audit events to the project log in the same
	// transaction as the lease change.
	Reserve(ctx context.Context, project, agent string, paths []string, opts types.ReserveOptions) (*types.ReserveResult, error)
	Release(ctx context.Context, project, agent string, paths []string) (int, error)
	ReleaseByID(ctx context.Context, project, agent string, ids []string) (int, error)
	ReleaseAll(ctx context.Context, project, agent string) (int, error)
	ActiveReservations(ctx context.Context) ([]*types.Reservation, error)

	// Configuration and internal metadata.
	SetConfig(ctx context.Context, key, value string) error
	GetConfig(ctx context.Context, key string) (string, error)
	SetMetadata(ctx context.Context, key, value string) error
	GetMetadata(ctx context.Context, key string) (string, error)

	// Lifecycle.
	Close() error
}
