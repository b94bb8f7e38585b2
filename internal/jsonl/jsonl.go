// Package jsonl reads and writes the line-oriented cell export format.
//
// One JSON object per line, keyed by cell id, sorted, trailing newline.
// The format is the interchange surface between processes: other tools
// (and humans under version control) read and edit it, so the reader
// tolerates damage and the writer is atomic.
package jsonl

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/weftworks/weft/internal/debug"
	"github.com/weftworks/weft/internal/types"
)

// maxLineSize bounds a single export line. Cells with large descriptions
// and full comment threads fit comfortably; anything bigger is damage.
const maxLineSize = 2 * 1024 * 1024

// ReadCells reads an export file into an id-keyed map. A missing file is an
// empty map, not an error. Malformed lines are warned about and skipped so
// one bad merge conflict doesn't take the whole file hostage.
func ReadCells(path string) (map[string]*types.Cell, error) {
	cells := make(map[string]*types.Cell)

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return cells, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var cell types.Cell
		if err := json.Unmarshal([]byte(line), &cell); err != nil {
			debug.Logf("skipping malformed line %d in %s: %v", lineNum, path, err)
			continue
		}
		if cell.ID == "" {
			debug.Logf("skipping line %d in %s: no cell id", lineNum, path)
			continue
		}
		cell.SetDefaults()
		cells[cell.ID] = &cell
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	return cells, nil
}

// WriteCells writes the cells to path sorted by id, one JSON object per
// line with a trailing newline. The write goes to a temp file in the same
// directory followed by a rename, so readers never observe a half-written
// file and a crash leaves the old file intact.
func WriteCells(path string, cells map[string]*types.Cell) error {
	ids := make([]string, 0, len(cells))
	for id := range cells {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	tmpPath := filepath.Join(dir, fmt.Sprintf(".%s.tmp.%d", filepath.Base(path), os.Getpid()))
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	w := bufio.NewWriter(f)
	for _, id := range ids {
		data, err := json.Marshal(cells[id])
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmpPath)
			return fmt.Errorf("marshal cell %s: %w", id, err)
		}
		if _, err := w.Write(append(data, '\n')); err != nil {
			_ = f.Close()
			_ = os.Remove(tmpPath)
			return fmt.Errorf("write cell %s: %w", id, err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("flush temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename %s: %w", tmpPath, err)
	}
	return nil
}
