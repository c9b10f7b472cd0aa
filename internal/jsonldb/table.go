// Package jsonldb provides line-delimited JSON file storage.
//
// Files hold one JSON value per line. Loading is lenient: a line that fails to
// decode is reported to a SkipFunc and dropped. Writing always replaces the
// whole file atomically (temp file in the same directory, then rename).
package jsonldb

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"sync"
)

// maxLineSize bounds a single JSONL line. Records carry free text, 64KiB is
// not enough.
const maxLineSize = 16 << 20

// Cloner is implemented by types that can clone themselves.
type Cloner[T any] interface {
	Clone() T
}

// SkipFunc is called for each line that could not be decoded. line is 1-based
// and counts every physical line of the file, including blank ones.
type SkipFunc func(line int, err error)

// ReadFile decodes every non-blank line of path as a T.
//
// Lines that fail to decode are passed to skip (when non-nil) and dropped; they
// are never fatal. Only I/O errors are returned.
func ReadFile[T any](path string, skip SkipFunc) ([]T, error) {
	f, err := os.Open(path) //nolint:gosec // G304: path comes from a directory scan or a CLI argument
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()
	return Decode[T](f, skip)
}

// Decode reads JSONL content from r. See ReadFile.
func Decode[T any](r io.Reader, skip SkipFunc) ([]T, error) {
	rows := []T{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(nil, maxLineSize)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if lineNo == 1 {
			line = bytes.TrimPrefix(line, []byte("\xef\xbb\xbf"))
		}
		if len(line) == 0 {
			continue
		}
		var row T
		if err := decodeLine(line, &row); err != nil {
			if skip != nil {
				skip(lineNo, err)
			}
			continue
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read line %d: %w", lineNo+1, err)
	}
	return rows, nil
}

// decodeLine decodes exactly one JSON value. Numbers are kept as json.Number
// so that untouched fields round-trip with their original text.
func decodeLine(line []byte, v any) error {
	d := json.NewDecoder(bytes.NewReader(line))
	d.UseNumber()
	if err := d.Decode(v); err != nil {
		return err
	}
	if _, err := d.Token(); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after JSON value")
	}
	return nil
}

// WriteFile atomically replaces path with one JSON line per row.
//
// HTML characters and non-ASCII text are written literally. On failure the
// previous content of path is left untouched.
func WriteFile[T any](path string, rows []T) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // G301: data directories are shared
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()

	w := bufio.NewWriter(f)
	if err = Encode(w, rows); err != nil {
		return err
	}
	if err = w.Flush(); err != nil {
		return fmt.Errorf("failed to flush writer: %w", err)
	}
	if err = f.Sync(); err != nil {
		return fmt.Errorf("failed to sync %s: %w", tmp, err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmp, err)
	}
	if err = os.Chmod(tmp, 0o644); err != nil { //nolint:gosec // G302: data files are shared
		return fmt.Errorf("failed to chmod %s: %w", tmp, err)
	}
	if err = os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

// Encode writes rows to w as JSONL.
func Encode[T any](w io.Writer, rows []T) error {
	e := json.NewEncoder(w)
	e.SetEscapeHTML(false)
	for i := range rows {
		if err := e.Encode(rows[i]); err != nil {
			return fmt.Errorf("failed to marshal row %d: %w", i, err)
		}
	}
	return nil
}

// Table holds the rows of a single JSONL file in memory.
//
// Rows are copy-on-write: values handed out are clones and Set stores the given
// value, so a stored row is never mutated in place. Each store of a row gets a
// new revision.
type Table[T Cloner[T]] struct {
	path string
	mu   sync.RWMutex

	rows []T
	revs []uint64
	rev  uint64
}

// NewTable creates a Table holding rows and backed by path. Use ReadFile to
// load rows from an existing file.
func NewTable[T Cloner[T]](path string, rows []T) *Table[T] {
	if rows == nil {
		rows = []T{}
	}
	return &Table[T]{path: path, rows: rows, revs: make([]uint64, len(rows))}
}

// Len returns the number of rows.
func (t *Table[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}

// Get returns a clone of row i, or false if i is out of range.
func (t *Table[T]) Get(i int) (T, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if i < 0 || i >= len(t.rows) {
		var zero T
		return zero, false
	}
	return t.rows[i].Clone(), true
}

// Slice returns clones of rows [start, end).
func (t *Table[T]) Slice(start, end int) []T {
	t.mu.RLock()
	defer t.mu.RUnlock()
	start = max(start, 0)
	end = min(end, len(t.rows))
	if start >= end {
		return []T{}
	}
	out := make([]T, 0, end-start)
	for _, row := range t.rows[start:end] {
		out = append(out, row.Clone())
	}
	return out
}

// All returns an iterator over clones of all rows.
func (t *Table[T]) All() iter.Seq2[int, T] {
	return func(yield func(int, T) bool) {
		t.mu.RLock()
		defer t.mu.RUnlock()
		for i, row := range t.rows {
			if !yield(i, row.Clone()) {
				return
			}
		}
	}
}

// Set replaces row i in memory and returns the previous value.
func (t *Table[T]) Set(i int, row T) (T, error) {
	old, _, err := t.Swap(i, row)
	return old, err
}

// Swap replaces row i in memory and returns the previous value and the
// revision of the stored row.
func (t *Table[T]) Swap(i int, row T) (T, uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var zero T
	if i < 0 || i >= len(t.rows) {
		return zero, 0, fmt.Errorf("row %d out of range [0, %d)", i, len(t.rows))
	}
	old := t.rows[i]
	t.rev++
	t.rows[i] = row
	t.revs[i] = t.rev
	return old, t.rev, nil
}

// Revert stores old back in row i only if the row is still at revision rev,
// that is nothing replaced it since the Swap that returned rev. It reports
// whether the row was restored.
func (t *Table[T]) Revert(i int, rev uint64, old T) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i < 0 || i >= len(t.rows) || t.revs[i] != rev {
		return false
	}
	t.rev++
	t.rows[i] = old
	t.revs[i] = t.rev
	return true
}

// Snapshot returns the current rows without cloning them. Callers must not
// mutate the returned values; storing a new row through Set does not affect a
// snapshot taken earlier.
func (t *Table[T]) Snapshot() []T {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]T, len(t.rows))
	copy(out, t.rows)
	return out
}

// Write atomically rewrites the backing file with rows.
func (t *Table[T]) Write(rows []T) error {
	return WriteFile(t.path, rows)
}
