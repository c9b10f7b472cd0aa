package handlers

import (
	"context"

	"github.com/invopop/jsonschema"
)

// SchemaRequest is the request for GET /api/schema.
type SchemaRequest struct{}

// Validate implements Validatable.
func (*SchemaRequest) Validate() error { return nil }

// SchemaHandler publishes the JSON Schema of the /api/data response so that
// UI clients can check their expectations.
type SchemaHandler struct {
	schema *jsonschema.Schema
}

// NewSchemaHandler reflects the schema once.
func NewSchemaHandler() *SchemaHandler {
	r := jsonschema.Reflector{DoNotReference: true}
	s := r.Reflect(GetDataResponse{})
	s.Title = "Display payloads"
	s.Description = "Records of a dataset id range, normalized for annotation."
	return &SchemaHandler{schema: s}
}

// Schema returns the schema of the display payload list.
func (h *SchemaHandler) Schema(ctx context.Context, req *SchemaRequest) (*jsonschema.Schema, error) {
	return h.schema, nil
}
