// Package types defines core data structures for the weft coordination store.
package types

import (
	"fmt"
	"time"
)

// Cell represents a unit of work tracked in the coordination store.
type Cell struct {
	ID          string    `json:"id"`
	Project     string    `json:"project,omitempty"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Status      Status    `json:"status,omitempty"`
	Priority    int       `json:"priority"` // No omitempty: 0 is valid (P0/critical)
	CellType    CellType  `json:"cell_type,omitempty"`
	ParentID    string    `json:"parent_id,omitempty"`
	Assignee    string    `json:"assignee,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	ClosedAt    *time.Time `json:"closed_at,omitempty"`
	CloseReason string     `json:"close_reason,omitempty"`

	// Soft-delete fields. Deleted cells are tombstones: they stay in the
	// store and in the export file so other processes don't resurrect them.
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
	DeletedBy    string     `json:"deleted_by,omitempty"`
	DeleteReason string     `json:"delete_reason,omitempty"`

	// Populated for export/import only.
	Labels       []string      `json:"labels,omitempty"`
	Dependencies []*Dependency `json:"dependencies,omitempty"`
	Comments     []*Comment    `json:"comments,omitempty"`
}

// Validate checks that the cell's field values are structurally sound.
func (c *Cell) Validate() error {
	if len(c.Title) == 0 {
		return fmt.Errorf("title is required")
	}
	if len(c.Title) > 500 {
		return fmt.Errorf("title must be 500 characters or less (got %d)", len(c.Title))
	}
	if c.Priority < 0 || c.Priority > 3 {
		return fmt.Errorf("priority must be between 0 and 3 (got %d)", c.Priority)
	}
	if !c.Status.IsValid() {
		return fmt.Errorf("invalid status: %s", c.Status)
	}
	if !c.CellType.IsValid() {
		return fmt.Errorf("invalid cell type: %s", c.CellType)
	}
	// closed_at invariant: set if and only if the cell is closed.
	if c.Status == StatusClosed && c.ClosedAt == nil {
		return fmt.Errorf("closed cells must have closed_at timestamp")
	}
	if c.Status != StatusClosed && c.ClosedAt != nil {
		return fmt.Errorf("non-closed cells cannot have closed_at timestamp")
	}
	if c.DeletedAt != nil && c.DeletedBy == "" {
		return fmt.Errorf("deleted cells must record deleted_by")
	}
	return nil
}

// IsDeleted returns true if the cell has been soft-deleted.
func (c *Cell) IsDeleted() bool {
	return c.DeletedAt != nil
}

// SetDefaults applies default values for fields omitted during JSONL import.
// Call this after json.Unmarshal so omitempty fields round-trip correctly.
func (c *Cell) SetDefaults() {
	if c.Status == "" {
		c.Status = StatusOpen
	}
	if c.CellType == "" {
		c.CellType = TypeTask
	}
}

// Status represents the current state of a cell.
type Status string

// Cell status constants.
const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusBlocked    Status = "blocked"
	StatusClosed     Status = "closed"
)

// IsValid checks if the status value is valid.
func (s Status) IsValid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusBlocked, StatusClosed:
		return true
	}
	return false
}

// CellType categorizes the kind of work.
type CellType string

// Cell type constants.
const (
	TypeEpic    CellType = "epic"
	TypeTask    CellType = "task"
	TypeBug     CellType = "bug"
	TypeChore   CellType = "chore"
	TypeFeature CellType = "feature"
)

// IsValid checks if the cell type value is valid.
func (t CellType) IsValid() bool {
	switch t {
	case TypeEpic, TypeTask, TypeBug, TypeChore, TypeFeature:
		return true
	}
	return false
}

// Dependency represents a relationship between cells.
type Dependency struct {
	CellID      string         `json:"cell_id"`
	DependsOnID string         `json:"depends_on_id"`
	Type        DependencyType `json:"type"`
	CreatedAt   time.Time      `json:"created_at"`
	CreatedBy   string         `json:"created_by,omitempty"`
}

// DependencyType categorizes the relationship.
type DependencyType string

// Dependency type constants.
const (
	// Workflow types (affect readiness).
	DepBlocks      DependencyType = "blocks"
	DepParentChild DependencyType = "parent-child"

	// Association types.
	DepRelated        DependencyType = "related"
	DepDiscoveredFrom DependencyType = "discovered-from"
)

// IsValid checks if the dependency type value is valid.
func (d DependencyType) IsValid() bool {
	switch d {
	case DepBlocks, DepParentChild, DepRelated, DepDiscoveredFrom:
		return true
	}
	return false
}

// AffectsReadiness returns true if this dependency type blocks work.
func (d DependencyType) AffectsReadiness() bool {
	return d == DepBlocks || d == DepParentChild
}

// Comment represents a comment on a cell. ParentID references another
// comment on the same cell for reply nesting.
type Comment struct {
	ID        int64     `json:"id"`
	CellID    string    `json:"cell_id"`
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	ParentID  *int64    `json:"parent_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// BlockedCell extends Cell with blocking information.
type BlockedCell struct {
	Cell
	BlockedBy []string `json:"blocked_by"`
}

// Statistics provides aggregate metrics for a project.
type Statistics struct {
	TotalCells      int `json:"total_cells"`
	OpenCells       int `json:"open_cells"`
	InProgressCells int `json:"in_progress_cells"`
	ClosedCells     int `json:"closed_cells"`
	BlockedCells    int `json:"blocked_cells"`
	ReadyCells      int `json:"ready_cells"`
	DeletedCells    int `json:"deleted_cells"`
}

// CellFilter is used to filter cell queries.
type CellFilter struct {
	Status   *Status
	CellType *CellType
	ParentID *string
	Assignee *string

	// Pagination.
	Limit  int
	Offset int

	// Tombstone filtering. If false (default), soft-deleted cells are
	// excluded from results.
	IncludeDeleted bool
}

// Reservation is a time-bounded lease over a file path pattern. Lease state
// is live data, not a projection of the event log; grant and release are
// additionally recorded as audit events.
type Reservation struct {
	ID         string     `json:"id"`
	Agent      string     `json:"agent"`
	Path       string     `json:"path"`
	Exclusive  bool       `json:"exclusive"`
	Reason     string     `json:"reason,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	ReleasedAt *time.Time `json:"released_at,omitempty"`
}

// Active reports whether the reservation still blocks conflicting grants.
// Expiry is passive: an expired row simply stops counting.
func (r *Reservation) Active(now time.Time) bool {
	return r.ReleasedAt == nil && now.Before(r.ExpiresAt)
}

// ReservationConflict describes why a requested path could not be granted.
type ReservationConflict struct {
	Path      string    `json:"path"`
	Holder    string    `json:"holder"`
	HeldPath  string    `json:"held_path"`
	Exclusive bool      `json:"exclusive"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (c ReservationConflict) String() string {
	mode := "shared"
	if c.Exclusive {
		mode = "exclusive"
	}
	return fmt.Sprintf("%s held %s by %s (as %s) until %s",
		c.Path, mode, c.Holder, c.HeldPath, c.ExpiresAt.Format(time.RFC3339))
}

// ReserveOptions controls a reservation request.
type ReserveOptions struct {
	TTL       time.Duration
	Exclusive bool
	Reason    string
}

// ReserveResult is the outcome of a reservation request. Conflicts are
// returned as data so the caller can decide whether to wait, reassign, or
// abort.
type ReserveResult struct {
	Granted   []*Reservation        `json:"granted"`
	Conflicts []ReservationConflict `json:"conflicts"`
}
