// Package models defines the core data structures used throughout the application.
package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"maps"
)

// IDKey is the record key reserved for the transient row id. It is dropped on
// load and never written back.
const IDKey = "id"

// Record is one annotation unit as stored on disk: an open-ended JSON object.
type Record map[string]any

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = cloneValue(e)
		}
		return out
	case Record:
		return t.Clone()
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		// Scalars: string, bool, json.Number, float64, nil.
		return v
	}
}

// String returns r[key] if it is a string.
func (r Record) String(key string) (string, bool) {
	s, ok := r[key].(string)
	return s, ok
}

// Object returns r[key] if it is a JSON object.
func (r Record) Object(key string) (map[string]any, bool) {
	m, ok := r[key].(map[string]any)
	return m, ok
}

// EnsureObject returns r[key] as a JSON object, replacing any missing or
// non-object value with init (or an empty object when init is nil).
func (r Record) EnsureObject(key string, init map[string]any) map[string]any {
	if m, ok := r.Object(key); ok {
		return m
	}
	m := make(map[string]any, len(init))
	maps.Copy(m, init)
	r[key] = m
	return m
}

// Nested returns r[obj][key] if it is a string.
func (r Record) Nested(obj, key string) (string, bool) {
	m, ok := r.Object(obj)
	if !ok {
		return "", false
	}
	s, ok := m[key].(string)
	return s, ok
}

// Row is a Record tagged with its transient 1-based id.
//
// The JSON form of a Row is the bare record: the id is never serialized and an
// "id" key present in the input is discarded.
type Row struct {
	ID     int
	Record Record
}

// Clone returns a deep copy of the row.
func (r Row) Clone() Row {
	return Row{ID: r.ID, Record: r.Record.Clone()}
}

// MarshalJSON writes the record without the id. HTML characters stay literal
// only under an encoder with SetEscapeHTML(false), such as jsonldb's;
// json.Marshal escapes them again.
func (r Row) MarshalJSON() ([]byte, error) {
	rec := r.Record
	if _, ok := rec[IDKey]; ok {
		rec = maps.Clone(rec)
		delete(rec, IDKey)
	}
	if rec == nil {
		rec = Record{}
	}
	var b bytes.Buffer
	e := json.NewEncoder(&b)
	e.SetEscapeHTML(false)
	if err := e.Encode(map[string]any(rec)); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(b.Bytes(), []byte("\n")), nil
}

var errNotObject = errors.New("record must be a JSON object")

// UnmarshalJSON reads a record. Anything but a JSON object is rejected.
func (r *Row) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return errNotObject
	}
	d := json.NewDecoder(bytes.NewReader(data))
	d.UseNumber()
	var rec map[string]any
	if err := d.Decode(&rec); err != nil {
		return err
	}
	delete(rec, IDKey)
	r.Record = rec
	return nil
}

// FieldType is the input widget used for an annotation field.
type FieldType string

const (
	// FieldTextarea is a free text input.
	FieldTextarea FieldType = "textarea"
	// FieldSelect is an enumerated input; Options lists the allowed values.
	FieldSelect FieldType = "select"
)

// DisplayField is a read-only labelled value shown next to the image.
type DisplayField struct {
	Label string `json:"label" jsonschema:"description=Human readable label"`
	Value string `json:"value" jsonschema:"description=Value or N/A when absent"`
}

// AnnotationField is an editable field of the annotation form.
type AnnotationField struct {
	Name    string    `json:"name" jsonschema:"description=Form key submitted on save"`
	Label   string    `json:"label" jsonschema:"description=Human readable label"`
	Type    FieldType `json:"type" jsonschema:"enum=textarea,enum=select"`
	Value   string    `json:"value" jsonschema:"description=Current value"`
	Options []string  `json:"options,omitempty" jsonschema:"description=Allowed values for select fields"`
}

// DisplayPayload is the normalized projection of a record sent to the UI.
type DisplayPayload struct {
	ID               int               `json:"id" jsonschema:"description=Transient 1-based record id"`
	ImagePath        string            `json:"image_path" jsonschema:"description=Image path relative to the static directory"`
	DisplayFields    []DisplayField    `json:"display_fields"`
	AnnotationFields []AnnotationField `json:"annotation_fields"`
}

// DatasetInfo summarizes a loaded dataset.
type DatasetInfo struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}
