package flush

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftworks/weft/internal/jsonl"
	"github.com/weftworks/weft/internal/storage"
	"github.com/weftworks/weft/internal/storage/sqlite"
	"github.com/weftworks/weft/internal/types"
)

// flakyCellStore fails projection reads for one cell id.
type flakyCellStore struct {
	storage.Store
	failID string
}

func (f *flakyCellStore) GetCell(ctx context.Context, id string) (*types.Cell, error) {
	if id == f.failID {
		return nil, errors.New("projection read failed")
	}
	return f.Store.GetCell(ctx, id)
}

func newExporterFixture(t *testing.T) (*sqlite.Store, *Exporter, string) {
	t.Helper()
	s, err := sqlite.New(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	path := filepath.Join(t.TempDir(), "cells.jsonl")
	return s, NewExporter(s, "p", path), path
}

func createCell(t *testing.T, s *sqlite.Store, id, title string) {
	t.Helper()
	_, err := s.AppendEvent(context.Background(), &types.Event{
		Project: "p", CellID: id, Actor: "tester",
		Payload: &types.CellCreated{Cell: types.Cell{
			ID: id, Project: "p", Title: title, Status: types.StatusOpen,
			Priority: 2, CellType: types.TypeTask,
		}},
	})
	require.NoError(t, err)
}

func TestFlushEmptyDirtySetIsNoOp(t *testing.T) {
	_, exp, path := newExporterFixture(t)

	n, err := exp.Flush(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "no-op flush must not create the file")
}

func TestFlushExportsDirtyCellsAndClearsMarkers(t *testing.T) {
	s, exp, path := newExporterFixture(t)
	ctx := context.Background()

	createCell(t, s, "p-1", "one")
	createCell(t, s, "p-2", "two")

	n, err := exp.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	cells, err := jsonl.ReadCells(path)
	require.NoError(t, err)
	require.Len(t, cells, 2)

	dirty, err := s.GetDirtyCells(ctx, "p")
	require.NoError(t, err)
	assert.Empty(t, dirty)

	// Second flush with nothing dirty: idempotent, file untouched.
	before, err := os.ReadFile(path)
	require.NoError(t, err)
	n, err = exp.Flush(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestFlushMergesInsteadOfClobbering(t *testing.T) {
	s, exp, path := newExporterFixture(t)
	ctx := context.Background()

	// Another process already exported a cell this store has never seen.
	foreign := map[string]*types.Cell{
		"q-99": {ID: "q-99", Title: "someone else's work", Status: types.StatusOpen,
			Priority: 1, CellType: types.TypeTask},
	}
	require.NoError(t, jsonl.WriteCells(path, foreign))

	createCell(t, s, "p-1", "ours")
	n, err := exp.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	cells, err := jsonl.ReadCells(path)
	require.NoError(t, err)
	require.Len(t, cells, 2, "the foreign cell survives the merge")
	assert.Equal(t, "someone else's work", cells["q-99"].Title)
	assert.Equal(t, "ours", cells["p-1"].Title)
}

func TestFlushExportsTombstones(t *testing.T) {
	s, exp, path := newExporterFixture(t)
	ctx := context.Background()

	createCell(t, s, "p-1", "doomed")
	_, err := s.AppendEvent(ctx, &types.Event{
		Project: "p", CellID: "p-1", Actor: "tester",
		Payload: &types.CellDeleted{Reason: "duplicate"},
	})
	require.NoError(t, err)

	n, err := exp.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	cells, err := jsonl.ReadCells(path)
	require.NoError(t, err)
	require.Len(t, cells, 1)
	require.NotNil(t, cells["p-1"].DeletedAt, "tombstones export so peers don't resurrect")
	assert.Equal(t, "tester", cells["p-1"].DeletedBy)
}

func TestFlushIncludesChildRecords(t *testing.T) {
	s, exp, path := newExporterFixture(t)
	ctx := context.Background()

	createCell(t, s, "p-1", "one")
	createCell(t, s, "p-2", "two")
	for _, p := range []types.EventPayload{
		&types.DependencyAdded{DependsOnID: "p-2", DepType: types.DepBlocks},
		&types.LabelAdded{Label: "core"},
		&types.CommentAdded{Author: "alice", Text: "note"},
	} {
		_, err := s.AppendEvent(ctx, &types.Event{Project: "p", CellID: "p-1", Actor: "tester", Payload: p})
		require.NoError(t, err)
	}

	_, err := exp.Flush(ctx)
	require.NoError(t, err)

	cells, err := jsonl.ReadCells(path)
	require.NoError(t, err)
	c := cells["p-1"]
	require.NotNil(t, c)
	assert.Equal(t, []string{"core"}, c.Labels)
	require.Len(t, c.Dependencies, 1)
	assert.Equal(t, "p-2", c.Dependencies[0].DependsOnID)
	require.Len(t, c.Comments, 1)
	assert.Equal(t, "note", c.Comments[0].Text)
}

func TestFlushPartialBatchKeepsFailedMarker(t *testing.T) {
	s, healthy, path := newExporterFixture(t)
	ctx := context.Background()

	createCell(t, s, "p-1", "fine")
	createCell(t, s, "p-2", "unreadable")

	exp := NewExporter(&flakyCellStore{Store: s, failID: "p-2"}, "p", path)
	n, err := exp.Flush(ctx)
	require.Error(t, err, "a partial flush surfaces the first failure")
	assert.Contains(t, err.Error(), "p-2")
	assert.Equal(t, 1, n, "the rest of the batch still exports")

	cells, err := jsonl.ReadCells(path)
	require.NoError(t, err)
	require.Len(t, cells, 1)
	assert.Equal(t, "fine", cells["p-1"].Title)

	dirty, err := s.GetDirtyCells(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, []string{"p-2"}, dirty, "the failed cell keeps its marker")

	// Once the store recovers, the next flush picks it up.
	n, err = healthy.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	cells, err = jsonl.ReadCells(path)
	require.NoError(t, err)
	require.Len(t, cells, 2)
	assert.Equal(t, "unreadable", cells["p-2"].Title)

	dirty, err = s.GetDirtyCells(ctx, "p")
	require.NoError(t, err)
	assert.Empty(t, dirty)
}

func TestFlushDetectsExternalEditAndFullExports(t *testing.T) {
	s, exp, path := newExporterFixture(t)
	ctx := context.Background()

	createCell(t, s, "p-1", "one")
	createCell(t, s, "p-2", "two")
	_, err := exp.Flush(ctx)
	require.NoError(t, err)

	// Someone edits the file behind our back, mangling p-2's title.
	edited, err := jsonl.ReadCells(path)
	require.NoError(t, err)
	edited["p-2"].Title = "mangled externally"
	require.NoError(t, jsonl.WriteCells(path, edited))

	// Only p-1 is dirty, but the hash mismatch forces everything back out.
	_, err = s.AppendEvent(ctx, &types.Event{
		Project: "p", CellID: "p-1", Actor: "tester",
		Payload: &types.CommentAdded{Author: "a", Text: "touch"},
	})
	require.NoError(t, err)

	_, err = exp.Flush(ctx)
	require.NoError(t, err)

	cells, err := jsonl.ReadCells(path)
	require.NoError(t, err)
	assert.Equal(t, "two", cells["p-2"].Title, "full export restores store truth")
}

func TestManagerDebouncesAndFlushesOnShutdown(t *testing.T) {
	s, exp, _ := newExporterFixture(t)
	ctx := context.Background()

	createCell(t, s, "p-1", "one")

	m := NewManager(exp, true, 20*time.Millisecond)
	m.MarkDirty()
	m.MarkDirty()
	m.MarkDirty()

	// Wait past the debounce window for the single coalesced flush.
	require.Eventually(t, func() bool {
		dirty, err := s.GetDirtyCells(ctx, "p")
		return err == nil && len(dirty) == 0
	}, time.Second, 10*time.Millisecond)

	createCell(t, s, "p-2", "two")
	m.MarkDirty()
	require.NoError(t, m.Shutdown(), "shutdown runs the final flush")

	dirty, err := s.GetDirtyCells(ctx, "p")
	require.NoError(t, err)
	assert.Empty(t, dirty)

	// Shutdown is idempotent.
	require.NoError(t, m.Shutdown())
}

func TestManagerFlushNow(t *testing.T) {
	s, exp, _ := newExporterFixture(t)
	ctx := context.Background()

	createCell(t, s, "p-1", "one")

	m := NewManager(exp, true, time.Hour)
	t.Cleanup(func() { _ = m.Shutdown() })

	m.MarkDirty()
	require.NoError(t, m.FlushNow())

	dirty, err := s.GetDirtyCells(ctx, "p")
	require.NoError(t, err)
	assert.Empty(t, dirty)
}

func TestManagerDisabledDoesNothing(t *testing.T) {
	_, exp, path := newExporterFixture(t)

	m := NewManager(exp, false, time.Millisecond)
	m.MarkDirty()
	require.NoError(t, m.FlushNow())
	require.NoError(t, m.Shutdown())

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
