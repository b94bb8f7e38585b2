package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePayloadRoundTrip(t *testing.T) {
	parent := int64(7)
	payloads := []EventPayload{
		&CellCreated{Cell: Cell{ID: "p-1", Title: "t", Status: StatusOpen, Priority: 1, CellType: TypeBug}},
		&StatusChanged{From: StatusOpen, To: StatusInProgress},
		&DependencyAdded{DependsOnID: "p-2", DepType: DepBlocks},
		&CommentAdded{Author: "a", Text: "hello", ParentID: &parent},
		&ReservationGranted{ReservationID: "r1", Agent: "a", Path: "src/**", Exclusive: true},
	}

	for _, p := range payloads {
		data, err := EncodePayload(p)
		require.NoError(t, err)

		decoded, err := DecodePayload(p.EventType(), data)
		require.NoError(t, err)
		assert.Equal(t, p, decoded)
	}
}

func TestDecodePayloadUnknownType(t *testing.T) {
	_, err := DecodePayload("cell_teleported", []byte(`{"destination":"mars"}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownEventType)
}

func TestPayloadValidation(t *testing.T) {
	tests := []struct {
		name    string
		payload EventPayload
		wantErr bool
	}{
		{"status change to closed is rejected", &StatusChanged{To: StatusClosed}, true},
		{"status change to invalid", &StatusChanged{To: "paused"}, true},
		{"status change ok", &StatusChanged{From: StatusOpen, To: StatusInProgress}, false},
		{"update with no fields", &CellUpdated{}, true},
		{"update with bad priority", &CellUpdated{Priority: intPtr(9)}, true},
		{"dependency without target", &DependencyAdded{DepType: DepBlocks}, true},
		{"dependency with bad type", &DependencyAdded{DependsOnID: "x", DepType: "binds"}, true},
		{"comment without text", &CommentAdded{Author: "a"}, true},
		{"comment update without id", &CommentUpdated{Text: "x"}, true},
		{"reservation grant without path", &ReservationGranted{ReservationID: "r", Agent: "a"}, true},
		{"created with invalid cell", &CellCreated{Cell: Cell{ID: "p-1"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.payload.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func intPtr(i int) *int { return &i }
