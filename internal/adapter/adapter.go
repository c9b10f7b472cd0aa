// Package adapter maps the record schemas of the supported datasets onto the
// uniform display/edit contract of the annotation UI.
//
// The set of variants is closed. Classify is total: a record whose data_source
// is missing or unknown uses the default question-answer variant.
package adapter

import (
	"fmt"
	"math/rand/v2"
	"slices"

	"github.com/maruel/annodb/internal/models"
)

// Variant identifies a record schema. The value is the data_source tag.
type Variant string

const (
	// VariantDefault is the generic question-answer dataset (mutimm). It has no
	// data_source tag.
	VariantDefault Variant = ""
	// VariantVFlute is the V-FLUTE dataset.
	VariantVFlute Variant = "V-FLUTE"
	// VariantYesBut is the YesBut benchmark; question and options are fixed
	// upstream.
	VariantYesBut Variant = "YesBut_Benchmark"
	// VariantHummus is the hummus dataset.
	VariantHummus Variant = "hummus"
)

// DataSourceKey is the record key carrying the variant tag.
const DataSourceKey = "data_source"

// Form keys submitted by the annotation UI.
const (
	FormQuestion      = "question"
	FormCorrectAnswer = "correct_answer"
	FormOptimalPath   = "optimal_path"
	FormJustification = "justification"
)

// OptimalPaths lists the allowed optimal_path values; the empty string means
// unset.
var OptimalPaths = []string{"", "parallel", "sequential", "direct"}

// Classify returns the variant of rec. It never fails.
func Classify(rec models.Record) Variant {
	s, _ := rec.String(DataSourceKey)
	switch v := Variant(s); v {
	case VariantVFlute, VariantYesBut, VariantHummus:
		return v
	default:
		return VariantDefault
	}
}

// Form is the flat field map submitted by an annotator. Absent keys read as
// the empty string.
type Form map[string]string

// Get returns the value of key, or "".
func (f Form) Get(key string) string {
	return f[key]
}

// ValidateForm rejects values that no adapter can store.
func ValidateForm(f Form) error {
	if p := f.Get(FormOptimalPath); !slices.Contains(OptimalPaths, p) {
		return fmt.Errorf("invalid %s %q, must be one of %q", FormOptimalPath, p, OptimalPaths)
	}
	return nil
}

// Adapter is the read projection and write mutation of one variant.
type Adapter interface {
	// Variant returns the schema handled.
	Variant() Variant
	// Display returns the normalized view of row. It does not mutate row.
	Display(row models.Row) models.DisplayPayload
	// Update applies form to rec in place, creating any missing nested
	// structure.
	Update(rec models.Record, form Form)
}

// Picker chooses an index uniformly in [0, n). *rand.Rand implements it.
type Picker interface {
	IntN(n int) int
}

type globalPicker struct{}

func (globalPicker) IntN(n int) int {
	return rand.IntN(n) //nolint:gosec // G404: answer placement is not security sensitive
}

// Registry dispatches records to their adapter.
type Registry struct {
	adapters map[Variant]Adapter
}

// NewRegistry returns the registry of all known variants. pick drives answer
// placement; nil uses the process-wide random source.
func NewRegistry(pick Picker) *Registry {
	if pick == nil {
		pick = globalPicker{}
	}
	r := &Registry{adapters: map[Variant]Adapter{}}
	for _, a := range []Adapter{
		newMutimm(pick),
		newHummus(pick),
		newVFlute(pick),
		&benchmark{},
	} {
		r.adapters[a.Variant()] = a
	}
	return r
}

// For returns the adapter matching rec.
func (r *Registry) For(rec models.Record) Adapter {
	return r.adapters[Classify(rec)]
}
