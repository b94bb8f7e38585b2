package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftworks/weft/internal/storage"
	"github.com/weftworks/weft/internal/types"
)

func TestAppendEventAssignsSequencePerProject(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seq1 := mustAppend(t, s, "alpha", "alpha-1", &types.CellCreated{Cell: types.Cell{
		ID: "alpha-1", Project: "alpha", Title: "first", Priority: 2,
		Status: types.StatusOpen, CellType: types.TypeTask,
	}})
	seq2 := mustAppend(t, s, "alpha", "alpha-1", &types.CellClosed{Reason: "done"})

	// A second project starts its own sequence from 1.
	seq3 := mustAppend(t, s, "beta", "beta-1", &types.CellCreated{Cell: types.Cell{
		ID: "beta-1", Project: "beta", Title: "other project", Priority: 2,
		Status: types.StatusOpen, CellType: types.TypeTask,
	}})

	assert.Equal(t, int64(1), seq1)
	assert.Equal(t, int64(2), seq2)
	assert.Equal(t, int64(1), seq3)

	events, err := s.ReadEvents(ctx, "alpha", 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, types.EventCellCreated, events[0].Type)
	assert.Equal(t, types.EventCellClosed, events[1].Type)

	// Cursor reads resume after the given sequence.
	events, err = s.ReadEvents(ctx, "alpha", 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, int64(2), events[0].Seq)
}

func TestAppendEventRejectsInvalidPayloadBeforeSideEffects(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name string
		ev   *types.Event
	}{
		{
			name: "nil payload",
			ev:   &types.Event{Project: "p", CellID: "p-1"},
		},
		{
			name: "status_changed to closed",
			ev: &types.Event{Project: "p", CellID: "p-1",
				Payload: &types.StatusChanged{To: types.StatusClosed}},
		},
		{
			name: "empty dependency target",
			ev: &types.Event{Project: "p", CellID: "p-1",
				Payload: &types.DependencyAdded{DepType: types.DepBlocks}},
		},
		{
			name: "missing cell id",
			ev: &types.Event{Project: "p",
				Payload: &types.CellClosed{}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.AppendEvent(ctx, tt.ev)
			require.Error(t, err)
			assert.ErrorIs(t, err, storage.ErrValidation)
		})
	}

	// None of the rejections left a trace in the log.
	events, err := s.ReadEvents(ctx, "p", 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestAppendEventRollsBackOnProjectionFailure(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Structurally valid event against a cell that doesn't exist: the
	// projection fails, and the event row must roll back with it.
	_, err := s.AppendEvent(ctx, &types.Event{
		Project: "p",
		CellID:  "p-ghost",
		Actor:   "tester",
		Payload: &types.CellClosed{},
	})
	require.Error(t, err)

	events, err := s.ReadEvents(ctx, "p", 0)
	require.NoError(t, err)
	assert.Empty(t, events, "failed projection must not leave a logged event")

	// The sequence was not consumed.
	mustCreateCell(t, s, "p", "p-1", "after failure", 2)
	events, err = s.ReadEvents(ctx, "p", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, int64(1), events[0].Seq)
}

func TestGetCellEventsNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustCreateCell(t, s, "p", "p-1", "cell", 2)
	mustAppend(t, s, "p", "p-1", &types.CommentAdded{Author: "a", Text: "one"})
	mustAppend(t, s, "p", "p-1", &types.CellClosed{})

	events, err := s.GetCellEvents(ctx, "p-1", 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, types.EventCellClosed, events[0].Type)
	assert.Equal(t, types.EventCellCreated, events[2].Type)

	limited, err := s.GetCellEvents(ctx, "p-1", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, types.EventCellClosed, limited[0].Type)
}

func TestReplayProjectReproducesProjections(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustCreateCell(t, s, "p", "p-1", "epic work", 1)
	mustCreateCell(t, s, "p", "p-2", "blocker", 2)
	mustAppend(t, s, "p", "p-1", &types.DependencyAdded{DependsOnID: "p-2", DepType: types.DepBlocks})
	mustAppend(t, s, "p", "p-1", &types.LabelAdded{Label: "urgent"})
	mustAppend(t, s, "p", "p-1", &types.CommentAdded{Author: "a", Text: "first"})
	mustAppend(t, s, "p", "p-2", &types.CellClosed{Reason: "fixed"})
	title := "epic work, renamed"
	mustAppend(t, s, "p", "p-1", &types.CellUpdated{Title: &title})

	before1, err := s.GetCell(ctx, "p-1")
	require.NoError(t, err)
	before2, err := s.GetCell(ctx, "p-2")
	require.NoError(t, err)
	beforeComments, err := s.GetComments(ctx, "p-1")
	require.NoError(t, err)
	beforeDeps, err := s.GetDependencyRecords(ctx, "p-1")
	require.NoError(t, err)

	require.NoError(t, s.ReplayProject(ctx, "p"))

	after1, err := s.GetCell(ctx, "p-1")
	require.NoError(t, err)
	after2, err := s.GetCell(ctx, "p-2")
	require.NoError(t, err)
	afterComments, err := s.GetComments(ctx, "p-1")
	require.NoError(t, err)
	afterDeps, err := s.GetDependencyRecords(ctx, "p-1")
	require.NoError(t, err)

	assert.Equal(t, before1, after1)
	assert.Equal(t, before2, after2)
	assert.Equal(t, beforeComments, afterComments, "comment ids must survive replay")
	assert.Equal(t, beforeDeps, afterDeps)

	// Blocking state is re-derived too: p-2 is closed, so p-1 is free.
	blocked, err := s.IsBlocked(ctx, "p-1")
	require.NoError(t, err)
	assert.False(t, blocked)
}
