package storage

import (
	"cmp"
	"slices"
	"sync"

	"github.com/maruel/annodb/internal/jsonldb"
	"github.com/maruel/annodb/internal/models"
)

// Dataset is the in-memory content of one JSONL file.
//
// Row i holds id i+1; ids are dense and follow file order.
type Dataset struct {
	name  string
	table *jsonldb.Table[models.Row]
}

// Name returns the dataset name: the file base name without extension.
func (d *Dataset) Name() string {
	return d.name
}

// Len returns the number of records.
func (d *Dataset) Len() int {
	return d.table.Len()
}

// Store maps dataset names to datasets. It is constructed once at startup and
// shared by reference.
type Store struct {
	mu       sync.RWMutex
	datasets map[string]*Dataset
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{datasets: map[string]*Dataset{}}
}

// Get returns the named dataset.
func (s *Store) Get(name string) (*Dataset, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.datasets[name]
	return d, ok
}

// Has reports whether name is loaded.
func (s *Store) Has(name string) bool {
	_, ok := s.Get(name)
	return ok
}

// add registers d unless a dataset with the same name exists.
func (s *Store) add(d *Dataset) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.datasets[d.name]; ok {
		return false
	}
	s.datasets[d.name] = d
	return true
}

// List returns the loaded datasets sorted by name.
func (s *Store) List() []models.DatasetInfo {
	s.mu.RLock()
	out := make([]models.DatasetInfo, 0, len(s.datasets))
	for _, d := range s.datasets {
		out = append(out, models.DatasetInfo{Name: d.name, Count: d.Len()})
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b models.DatasetInfo) int {
		return cmp.Compare(a.Name, b.Name)
	})
	return out
}
