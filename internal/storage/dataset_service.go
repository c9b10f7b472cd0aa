package storage

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/maruel/annodb/internal/adapter"
	apierrors "github.com/maruel/annodb/internal/errors"
	"github.com/maruel/annodb/internal/jsonldb"
	"github.com/maruel/annodb/internal/models"
)

// DatasetExt is the extension of dataset files.
const DatasetExt = ".jsonl"

// DatasetService handles the load/query/update/persist lifecycle of datasets.
type DatasetService struct {
	dataDir  string
	store    *Store
	adapters *adapter.Registry
	workers  int

	// fileMu serializes every dataset file rewrite.
	fileMu sync.Mutex
}

// NewDatasetService creates a service over the JSONL files of dataDir.
// workers bounds how many files are parsed concurrently; 0 means GOMAXPROCS.
func NewDatasetService(dataDir string, store *Store, adapters *adapter.Registry, workers int) *DatasetService {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &DatasetService{
		dataDir:  dataDir,
		store:    store,
		adapters: adapters,
		workers:  workers,
	}
}

// datasetName returns the dataset name of a file, or "" when the file is not
// a dataset. Dot files are ignored, they include in-flight rewrites.
func datasetName(file string) string {
	base := filepath.Base(file)
	if strings.HasPrefix(base, ".") || filepath.Ext(base) != DatasetExt {
		return ""
	}
	return strings.TrimSuffix(base, DatasetExt)
}

// LoadFile parses one dataset file.
//
// Malformed lines are logged and skipped. Ids are assigned over the kept
// records: the n-th decodable record gets id n, whatever its line number.
func LoadFile(ctx context.Context, path string) (*Dataset, error) {
	name := datasetName(path)
	if name == "" {
		return nil, fmt.Errorf("%s is not a %s file", path, DatasetExt)
	}
	file := filepath.Base(path)
	rows, err := jsonldb.ReadFile[models.Row](path, func(line int, err error) {
		slog.WarnContext(ctx, "Skipping malformed line", "file", file, "line", line, "err", err)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load dataset %q: %w", name, err)
	}
	for i := range rows {
		rows[i].ID = i + 1
	}
	return &Dataset{name: name, table: jsonldb.NewTable(path, rows)}, nil
}

// LoadAll loads every dataset file of the data directory, creating the
// directory when it does not exist.
func (s *DatasetService) LoadAll(ctx context.Context) ([]string, error) {
	if err := os.MkdirAll(s.dataDir, 0o755); err != nil { //nolint:gosec // G301: data directories are shared
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return s.Rescan(ctx)
}

// Rescan loads the dataset files that are not in the store yet and returns
// the names added. Loaded datasets are never reloaded. A file that cannot be
// read is logged and skipped.
func (s *DatasetService) Rescan(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan data directory: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if name := datasetName(e.Name()); name != "" && !s.store.Has(name) {
			paths = append(paths, filepath.Join(s.dataDir, e.Name()))
		}
	}

	loaded := make([]*Dataset, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, p := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			d, err := LoadFile(gctx, p)
			if err != nil {
				slog.ErrorContext(gctx, "Failed to load dataset", "path", p, "err", err)
				return nil
			}
			loaded[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var names []string
	for _, d := range loaded {
		if d != nil && s.store.add(d) {
			slog.InfoContext(ctx, "Loaded dataset", "name", d.name, "records", d.Len())
			names = append(names, d.name)
		}
	}
	return names, nil
}

// List returns the loaded datasets.
func (s *DatasetService) List() []models.DatasetInfo {
	return s.store.List()
}

// Query returns the display payloads of ids [start, end] in id order.
func (s *DatasetService) Query(ctx context.Context, name string, start, end int) ([]models.DisplayPayload, error) {
	d, ok := s.store.Get(name)
	if !ok {
		return nil, apierrors.DatasetNotFound(name)
	}
	n := d.Len()
	if start < 1 || start > end || end > n {
		return nil, apierrors.InvalidRange(name, start, end, n)
	}
	rows := d.table.Slice(start-1, end)
	out := make([]models.DisplayPayload, 0, len(rows))
	for _, row := range rows {
		out = append(out, s.adapters.For(row.Record).Display(row))
	}
	slog.DebugContext(ctx, "Queried dataset", "name", name, "start", start, "end", end)
	return out, nil
}

// Update applies form to record id of the named dataset, then rewrites the
// dataset file. When the rewrite fails the previous record is restored, unless
// another update replaced the record in the meantime.
func (s *DatasetService) Update(ctx context.Context, name string, id int, form adapter.Form) error {
	d, ok := s.store.Get(name)
	if !ok {
		return apierrors.DatasetNotFound(name)
	}
	row, ok := d.table.Get(id - 1)
	if !ok {
		return apierrors.RecordNotFound(name, id)
	}
	if err := adapter.ValidateForm(form); err != nil {
		return apierrors.BadRequest(err.Error())
	}
	a := s.adapters.For(row.Record)
	a.Update(row.Record, form)
	old, rev, err := d.table.Swap(id-1, row)
	if err != nil {
		return apierrors.RecordNotFound(name, id)
	}
	if err := s.persist(ctx, d); err != nil {
		// A later update of the same record wins over the restore.
		if !d.table.Revert(id-1, rev, old) {
			slog.WarnContext(ctx, "Record changed since the failed save, not restored", "dataset", name, "id", id)
		}
		return apierrors.Storage(fmt.Sprintf("failed to save dataset %q", name), err)
	}
	slog.InfoContext(ctx, "Updated record", "dataset", name, "id", id, "variant", string(a.Variant()))
	return nil
}

// Persist rewrites the named dataset file from memory.
func (s *DatasetService) Persist(ctx context.Context, name string) error {
	d, ok := s.store.Get(name)
	if !ok {
		return apierrors.DatasetNotFound(name)
	}
	if err := s.persist(ctx, d); err != nil {
		return apierrors.Storage(fmt.Sprintf("failed to save dataset %q", name), err)
	}
	return nil
}

// persist writes the rows sorted by id, without ids. The snapshot is taken
// under fileMu so the last writer always writes the latest state.
func (s *DatasetService) persist(ctx context.Context, d *Dataset) error {
	s.fileMu.Lock()
	defer s.fileMu.Unlock()
	rows := d.table.Snapshot()
	slices.SortStableFunc(rows, func(a, b models.Row) int {
		return cmp.Compare(a.ID, b.ID)
	})
	if err := d.table.Write(rows); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Saved dataset", "name", d.name, "records", len(rows))
	return nil
}
