package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftworks/weft/internal/types"
)

func TestEventsMarkAffectedCellsDirty(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustCreateCell(t, s, "p", "p-a", "a", 2)
	mustCreateCell(t, s, "p", "p-b", "b", 2)

	dirty, err := s.GetDirtyCells(ctx, "p")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"p-a", "p-b"}, dirty)

	require.NoError(t, s.ClearDirtyCellsByID(ctx, dirty))
	dirty, err = s.GetDirtyCells(ctx, "p")
	require.NoError(t, err)
	assert.Empty(t, dirty)

	// A dependency touches the export shape of both endpoints.
	mustAppend(t, s, "p", "p-a", &types.DependencyAdded{DependsOnID: "p-b", DepType: types.DepBlocks})
	dirty, err = s.GetDirtyCells(ctx, "p")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"p-a", "p-b"}, dirty)
}

func TestClearDirtyCellsByIDIsSelective(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustCreateCell(t, s, "p", "p-a", "a", 2)
	mustCreateCell(t, s, "p", "p-b", "b", 2)

	require.NoError(t, s.ClearDirtyCellsByID(ctx, []string{"p-a"}))

	dirty, err := s.GetDirtyCells(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, []string{"p-b"}, dirty)

	// Clearing nothing is a no-op, not an error.
	require.NoError(t, s.ClearDirtyCellsByID(ctx, nil))
}

func TestMarkCellDirtyUpserts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustCreateCell(t, s, "p", "p-a", "a", 2)
	require.NoError(t, s.ClearDirtyCellsByID(ctx, []string{"p-a"}))

	require.NoError(t, s.MarkCellDirty(ctx, "p-a"))
	require.NoError(t, s.MarkCellDirty(ctx, "p-a"))

	dirty, err := s.GetDirtyCells(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, []string{"p-a"}, dirty, "repeated marks coalesce to one row")
}
