package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/weftworks/weft/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mustAppend(t *testing.T, s *Store, project, cellID string, payload types.EventPayload) int64 {
	t.Helper()
	seq, err := s.AppendEvent(context.Background(), &types.Event{
		Project: project,
		CellID:  cellID,
		Actor:   "tester",
		Payload: payload,
	})
	require.NoError(t, err)
	return seq
}

func mustCreateCell(t *testing.T, s *Store, project, id, title string, priority int) {
	t.Helper()
	mustAppend(t, s, project, id, &types.CellCreated{Cell: types.Cell{
		ID:       id,
		Project:  project,
		Title:    title,
		Status:   types.StatusOpen,
		Priority: priority,
		CellType: types.TypeTask,
	}})
}

func TestInMemoryStoresAreIsolated(t *testing.T) {
	a := newTestStore(t)
	b := newTestStore(t)

	mustCreateCell(t, a, "proj", "proj-1", "only in a", 2)

	_, err := b.GetCell(context.Background(), "proj-1")
	require.Error(t, err)
	require.True(t, IsNotFound(err))
}

func TestCloseMarksStoreClosed(t *testing.T) {
	s, err := New(context.Background(), ":memory:")
	require.NoError(t, err)
	require.False(t, s.IsClosed())
	require.NoError(t, s.Close())
	require.True(t, s.IsClosed())
}
