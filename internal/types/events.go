package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrUnknownEventType is returned when decoding an event written by a newer
// writer. Consumers log and skip such events instead of failing the batch.
var ErrUnknownEventType = errors.New("unknown event type")

// EventType discriminates event payloads.
type EventType string

// Event type constants.
const (
	EventCellCreated         EventType = "cell_created"
	EventCellUpdated         EventType = "cell_updated"
	EventStatusChanged       EventType = "status_changed"
	EventCellClosed          EventType = "cell_closed"
	EventCellReopened        EventType = "cell_reopened"
	EventCellDeleted         EventType = "cell_deleted"
	EventDependencyAdded     EventType = "dependency_added"
	EventDependencyRemoved   EventType = "dependency_removed"
	EventLabelAdded          EventType = "label_added"
	EventLabelRemoved        EventType = "label_removed"
	EventCommentAdded        EventType = "comment_added"
	EventCommentUpdated      EventType = "comment_updated"
	EventCommentDeleted      EventType = "comment_deleted"
	EventChildAdded          EventType = "child_added"
	EventChildRemoved        EventType = "child_removed"
	EventAssigned            EventType = "assigned"
	EventWorkStarted         EventType = "work_started"
	EventReservationGranted  EventType = "reservation_granted"
	EventReservationReleased EventType = "reservation_released"
)

// Event is the envelope for one immutable fact in the project log.
// Seq is strictly increasing per project; events are never updated or
// deleted; corrections are new events (cell_reopened reverses cell_closed).
type Event struct {
	ID        int64        `json:"id"`
	Type      EventType    `json:"type"`
	Project   string       `json:"project"`
	CellID    string       `json:"cell_id,omitempty"` // empty for reservation audit events
	Actor     string       `json:"actor,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	Seq       int64        `json:"seq"`
	Payload   EventPayload `json:"payload"`
}

// EventPayload is the sealed sum type of event bodies. One variant exists
// per event type; the projection engine switches exhaustively over them so
// a new event type is a compile-time-checked addition.
type EventPayload interface {
	EventType() EventType
	// Validate rejects structurally invalid payloads before any side
	// effect runs.
	Validate() error
}

// CellCreated carries the initial cell snapshot.
type CellCreated struct {
	Cell Cell `json:"cell"`
}

func (CellCreated) EventType() EventType { return EventCellCreated }

func (p CellCreated) Validate() error {
	if p.Cell.ID == "" {
		return fmt.Errorf("cell_created: cell.id is required")
	}
	return p.Cell.Validate()
}

// CellUpdated carries targeted field updates. Nil pointers mean unchanged.
type CellUpdated struct {
	Title       *string   `json:"title,omitempty"`
	Description *string   `json:"description,omitempty"`
	Priority    *int      `json:"priority,omitempty"`
	CellType    *CellType `json:"cell_type,omitempty"`
}

func (CellUpdated) EventType() EventType { return EventCellUpdated }

func (p CellUpdated) Validate() error {
	if p.Title == nil && p.Description == nil && p.Priority == nil && p.CellType == nil {
		return fmt.Errorf("cell_updated: at least one field must change")
	}
	if p.Title != nil && (*p.Title == "" || len(*p.Title) > 500) {
		return fmt.Errorf("cell_updated: title must be 1-500 characters")
	}
	if p.Priority != nil && (*p.Priority < 0 || *p.Priority > 3) {
		return fmt.Errorf("cell_updated: priority must be between 0 and 3 (got %d)", *p.Priority)
	}
	if p.CellType != nil && !p.CellType.IsValid() {
		return fmt.Errorf("cell_updated: invalid cell type: %s", *p.CellType)
	}
	return nil
}

// StatusChanged records a status transition other than close/reopen.
type StatusChanged struct {
	From Status `json:"from"`
	To   Status `json:"to"`
}

func (StatusChanged) EventType() EventType { return EventStatusChanged }

func (p StatusChanged) Validate() error {
	if !p.To.IsValid() {
		return fmt.Errorf("status_changed: invalid target status: %s", p.To)
	}
	if p.To == StatusClosed {
		return fmt.Errorf("status_changed: use cell_closed to close a cell")
	}
	return nil
}

// CellClosed closes a cell; the projection sets closed_at from the event
// timestamp, preserving the closed_at invariant.
type CellClosed struct {
	Reason string `json:"reason,omitempty"`
}

func (CellClosed) EventType() EventType { return EventCellClosed }
func (CellClosed) Validate() error      { return nil }

// CellReopened reverses a cell_closed event.
type CellReopened struct{}

func (CellReopened) EventType() EventType { return EventCellReopened }
func (CellReopened) Validate() error      { return nil }

// CellDeleted soft-deletes a cell. The row remains as a tombstone.
type CellDeleted struct {
	Reason string `json:"reason,omitempty"`
}

func (CellDeleted) EventType() EventType { return EventCellDeleted }
func (CellDeleted) Validate() error      { return nil }

// DependencyAdded records a new dependency edge from the envelope's cell.
type DependencyAdded struct {
	DependsOnID string         `json:"depends_on_id"`
	DepType     DependencyType `json:"dep_type"`
}

func (DependencyAdded) EventType() EventType { return EventDependencyAdded }

func (p DependencyAdded) Validate() error {
	if p.DependsOnID == "" {
		return fmt.Errorf("dependency_added: depends_on_id is required")
	}
	if !p.DepType.IsValid() {
		return fmt.Errorf("dependency_added: invalid dependency type: %s", p.DepType)
	}
	return nil
}

// DependencyRemoved removes a dependency edge.
type DependencyRemoved struct {
	DependsOnID string `json:"depends_on_id"`
}

func (DependencyRemoved) EventType() EventType { return EventDependencyRemoved }

func (p DependencyRemoved) Validate() error {
	if p.DependsOnID == "" {
		return fmt.Errorf("dependency_removed: depends_on_id is required")
	}
	return nil
}

// LabelAdded attaches a label to a cell.
type LabelAdded struct {
	Label string `json:"label"`
}

func (LabelAdded) EventType() EventType { return EventLabelAdded }

func (p LabelAdded) Validate() error {
	if p.Label == "" {
		return fmt.Errorf("label_added: label is required")
	}
	return nil
}

// LabelRemoved detaches a label from a cell.
type LabelRemoved struct {
	Label string `json:"label"`
}

func (LabelRemoved) EventType() EventType { return EventLabelRemoved }

func (p LabelRemoved) Validate() error {
	if p.Label == "" {
		return fmt.Errorf("label_removed: label is required")
	}
	return nil
}

// CommentAdded appends a comment, optionally as a reply.
type CommentAdded struct {
	Author   string `json:"author"`
	Text     string `json:"text"`
	ParentID *int64 `json:"parent_id,omitempty"`
}

func (CommentAdded) EventType() EventType { return EventCommentAdded }

func (p CommentAdded) Validate() error {
	if p.Author == "" {
		return fmt.Errorf("comment_added: author is required")
	}
	if p.Text == "" {
		return fmt.Errorf("comment_added: text is required")
	}
	return nil
}

// CommentUpdated edits an existing comment's text.
type CommentUpdated struct {
	CommentID int64  `json:"comment_id"`
	Text      string `json:"text"`
}

func (CommentUpdated) EventType() EventType { return EventCommentUpdated }

func (p CommentUpdated) Validate() error {
	if p.CommentID == 0 {
		return fmt.Errorf("comment_updated: comment_id is required")
	}
	if p.Text == "" {
		return fmt.Errorf("comment_updated: text is required")
	}
	return nil
}

// CommentDeleted removes a comment.
type CommentDeleted struct {
	CommentID int64 `json:"comment_id"`
}

func (CommentDeleted) EventType() EventType { return EventCommentDeleted }

func (p CommentDeleted) Validate() error {
	if p.CommentID == 0 {
		return fmt.Errorf("comment_deleted: comment_id is required")
	}
	return nil
}

// ChildAdded links a child cell under the envelope's cell (an epic).
type ChildAdded struct {
	ChildID string `json:"child_id"`
}

func (ChildAdded) EventType() EventType { return EventChildAdded }

func (p ChildAdded) Validate() error {
	if p.ChildID == "" {
		return fmt.Errorf("child_added: child_id is required")
	}
	return nil
}

// ChildRemoved unlinks a child cell from the envelope's cell.
type ChildRemoved struct {
	ChildID string `json:"child_id"`
}

func (ChildRemoved) EventType() EventType { return EventChildRemoved }

func (p ChildRemoved) Validate() error {
	if p.ChildID == "" {
		return fmt.Errorf("child_removed: child_id is required")
	}
	return nil
}

// Assigned sets or clears a cell's assignee. Empty assignee unassigns.
type Assigned struct {
	Assignee string `json:"assignee"`
}

func (Assigned) EventType() EventType { return EventAssigned }
func (Assigned) Validate() error      { return nil }

// WorkStarted moves a cell to in_progress, assigned to the actor.
type WorkStarted struct{}

func (WorkStarted) EventType() EventType { return EventWorkStarted }
func (WorkStarted) Validate() error      { return nil }

// ReservationGranted is an audit record of a lease grant. It does not feed
// projections; lease truth lives in the reservations table.
type ReservationGranted struct {
	ReservationID string    `json:"reservation_id"`
	Agent         string    `json:"agent"`
	Path          string    `json:"path"`
	Exclusive     bool      `json:"exclusive"`
	ExpiresAt     time.Time `json:"expires_at"`
}

func (ReservationGranted) EventType() EventType { return EventReservationGranted }

func (p ReservationGranted) Validate() error {
	if p.ReservationID == "" || p.Agent == "" || p.Path == "" {
		return fmt.Errorf("reservation_granted: reservation_id, agent and path are required")
	}
	return nil
}

// ReservationReleased is an audit record of a lease release.
type ReservationReleased struct {
	ReservationID string `json:"reservation_id"`
	Agent         string `json:"agent"`
	Path          string `json:"path"`
}

func (ReservationReleased) EventType() EventType { return EventReservationReleased }

func (p ReservationReleased) Validate() error {
	if p.ReservationID == "" || p.Agent == "" {
		return fmt.Errorf("reservation_released: reservation_id and agent are required")
	}
	return nil
}

// EncodePayload serializes a payload body for storage.
func EncodePayload(p EventPayload) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", p.EventType(), err)
	}
	return data, nil
}

// DecodePayload deserializes a stored payload body by event type. Types
// this build does not know about return ErrUnknownEventType so callers can
// skip them (forward compatibility with newer writers).
func DecodePayload(t EventType, data []byte) (EventPayload, error) {
	var p EventPayload
	switch t {
	case EventCellCreated:
		p = &CellCreated{}
	case EventCellUpdated:
		p = &CellUpdated{}
	case EventStatusChanged:
		p = &StatusChanged{}
	case EventCellClosed:
		p = &CellClosed{}
	case EventCellReopened:
		p = &CellReopened{}
	case EventCellDeleted:
		p = &CellDeleted{}
	case EventDependencyAdded:
		p = &DependencyAdded{}
	case EventDependencyRemoved:
		p = &DependencyRemoved{}
	case EventLabelAdded:
		p = &LabelAdded{}
	case EventLabelRemoved:
		p = &LabelRemoved{}
	case EventCommentAdded:
		p = &CommentAdded{}
	case EventCommentUpdated:
		p = &CommentUpdated{}
	case EventCommentDeleted:
		p = &CommentDeleted{}
	case EventChildAdded:
		p = &ChildAdded{}
	case EventChildRemoved:
		p = &ChildRemoved{}
	case EventAssigned:
		p = &Assigned{}
	case EventWorkStarted:
		p = &WorkStarted{}
	case EventReservationGranted:
		p = &ReservationGranted{}
	case EventReservationReleased:
		p = &ReservationReleased{}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, t)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", t, err)
		}
	}
	return p, nil
}
