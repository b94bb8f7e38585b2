package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftworks/weft/internal/types"
)

func TestBlockingFollowsDependencyAndStatusChanges(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustCreateCell(t, s, "p", "p-work", "work", 2)
	mustCreateCell(t, s, "p", "p-prereq", "prereq", 2)

	isBlocked := func() bool {
		blocked, err := s.IsBlocked(ctx, "p-work")
		require.NoError(t, err)
		return blocked
	}

	assert.False(t, isBlocked())

	mustAppend(t, s, "p", "p-work", &types.DependencyAdded{DependsOnID: "p-prereq", DepType: types.DepBlocks})
	assert.True(t, isBlocked(), "open blocker blocks")

	mustAppend(t, s, "p", "p-prereq", &types.CellClosed{})
	assert.False(t, isBlocked(), "closing the blocker unblocks")

	mustAppend(t, s, "p", "p-prereq", &types.CellReopened{})
	assert.True(t, isBlocked(), "reopening the blocker re-blocks")

	mustAppend(t, s, "p", "p-work", &types.DependencyRemoved{DependsOnID: "p-prereq"})
	assert.False(t, isBlocked(), "removing the edge unblocks")
}

func TestAssociationDepsDontBlock(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustCreateCell(t, s, "p", "p-a", "a", 2)
	mustCreateCell(t, s, "p", "p-b", "b", 2)
	mustAppend(t, s, "p", "p-a", &types.DependencyAdded{DependsOnID: "p-b", DepType: types.DepRelated})
	mustAppend(t, s, "p", "p-a", &types.DependencyAdded{DependsOnID: "p-b", DepType: types.DepDiscoveredFrom})

	blocked, err := s.IsBlocked(ctx, "p-a")
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestDeletedBlockerDoesNotBlock(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustCreateCell(t, s, "p", "p-a", "a", 2)
	mustCreateCell(t, s, "p", "p-b", "b", 2)
	mustAppend(t, s, "p", "p-a", &types.DependencyAdded{DependsOnID: "p-b", DepType: types.DepBlocks})
	mustAppend(t, s, "p", "p-b", &types.CellDeleted{})

	blocked, err := s.IsBlocked(ctx, "p-a")
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestNextReadyPrefersHighestPriorityThenOldest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustCreateCell(t, s, "p", "p-low", "low", 3)
	mustCreateCell(t, s, "p", "p-high-old", "high old", 1)
	mustCreateCell(t, s, "p", "p-high-new", "high new", 1)

	next, err := s.NextReady(ctx, "p")
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "p-high-old", next.ID)

	mustAppend(t, s, "p", "p-high-old", &types.CellClosed{})
	next, err = s.NextReady(ctx, "p")
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "p-high-new", next.ID)
}

func TestNextReadyReturnsNilWhenNothingReady(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	next, err := s.NextReady(ctx, "p")
	require.NoError(t, err)
	assert.Nil(t, next)

	mustCreateCell(t, s, "p", "p-a", "a", 2)
	mustCreateCell(t, s, "p", "p-b", "b", 2)
	mustAppend(t, s, "p", "p-a", &types.DependencyAdded{DependsOnID: "p-b", DepType: types.DepBlocks})
	mustAppend(t, s, "p", "p-b", &types.WorkStarted{})

	// p-a is blocked, p-b is in progress: nothing to hand out.
	next, err = s.NextReady(ctx, "p")
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestGetBlockedCellsCarriesBlockerLists(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustCreateCell(t, s, "p", "p-a", "a", 2)
	mustCreateCell(t, s, "p", "p-b", "b", 2)
	mustCreateCell(t, s, "p", "p-c", "c", 2)
	mustAppend(t, s, "p", "p-a", &types.DependencyAdded{DependsOnID: "p-b", DepType: types.DepBlocks})
	mustAppend(t, s, "p", "p-a", &types.DependencyAdded{DependsOnID: "p-c", DepType: types.DepBlocks})

	blocked, err := s.GetBlockedCells(ctx, "p")
	require.NoError(t, err)
	require.Len(t, blocked, 1)
	assert.Equal(t, "p-a", blocked[0].ID)
	assert.Equal(t, []string{"p-b", "p-c"}, blocked[0].BlockedBy)
}

func TestListCellsFiltersAndPagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustCreateCell(t, s, "p", "p-1", "one", 1)
	mustCreateCell(t, s, "p", "p-2", "two", 2)
	mustCreateCell(t, s, "p", "p-3", "three", 2)
	mustAppend(t, s, "p", "p-2", &types.CellClosed{})
	mustAppend(t, s, "p", "p-3", &types.CellDeleted{})

	all, err := s.ListCells(ctx, "p", types.CellFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2, "deleted cells hidden by default")

	withDeleted, err := s.ListCells(ctx, "p", types.CellFilter{IncludeDeleted: true})
	require.NoError(t, err)
	require.Len(t, withDeleted, 3)

	open := types.StatusOpen
	openOnly, err := s.ListCells(ctx, "p", types.CellFilter{Status: &open})
	require.NoError(t, err)
	require.Len(t, openOnly, 1)
	assert.Equal(t, "p-1", openOnly[0].ID)

	paged, err := s.ListCells(ctx, "p", types.CellFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, paged, 1)
}

func TestGetStatistics(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustCreateCell(t, s, "p", "p-1", "open", 2)
	mustCreateCell(t, s, "p", "p-2", "blocked", 2)
	mustCreateCell(t, s, "p", "p-3", "closing", 2)
	mustAppend(t, s, "p", "p-2", &types.DependencyAdded{DependsOnID: "p-1", DepType: types.DepBlocks})
	mustAppend(t, s, "p", "p-3", &types.CellClosed{})

	stats, err := s.GetStatistics(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalCells)
	assert.Equal(t, 2, stats.OpenCells)
	assert.Equal(t, 1, stats.ClosedCells)
	assert.Equal(t, 1, stats.BlockedCells)
	assert.Equal(t, 1, stats.ReadyCells)
}
