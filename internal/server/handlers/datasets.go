package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/maruel/annodb/internal/adapter"
	apierrors "github.com/maruel/annodb/internal/errors"
	"github.com/maruel/annodb/internal/models"
	"github.com/maruel/annodb/internal/storage"
)

// DatasetHandler serves the datasets of a DatasetService.
type DatasetHandler struct {
	svc *storage.DatasetService
}

// NewDatasetHandler creates a new dataset handler.
func NewDatasetHandler(svc *storage.DatasetService) *DatasetHandler {
	return &DatasetHandler{svc: svc}
}

// ListDatasetsRequest is the request for GET /api/datasets.
type ListDatasetsRequest struct{}

// Validate implements Validatable.
func (*ListDatasetsRequest) Validate() error { return nil }

// ListDatasetsResponse lists the loaded datasets by name.
type ListDatasetsResponse struct {
	Datasets []models.DatasetInfo `json:"datasets"`
}

// ListDatasets returns the loaded datasets and their record counts.
func (h *DatasetHandler) ListDatasets(ctx context.Context, req *ListDatasetsRequest) (*ListDatasetsResponse, error) {
	return &ListDatasetsResponse{Datasets: h.svc.List()}, nil
}

// GetDataRequest selects the inclusive id range [Start, End] of a dataset.
type GetDataRequest struct {
	Dataset string `query:"dataset"`
	Start   int    `query:"start"`
	End     int    `query:"end"`
}

// Validate implements Validatable. The range itself is checked against the
// dataset size by the service.
func (r *GetDataRequest) Validate() error {
	if r.Dataset == "" {
		return apierrors.MissingField("dataset")
	}
	return nil
}

// GetDataResponse is the JSON array of display payloads.
type GetDataResponse []models.DisplayPayload

// GetData returns the display payloads of the requested range.
func (h *DatasetHandler) GetData(ctx context.Context, req *GetDataRequest) (*GetDataResponse, error) {
	payloads, err := h.svc.Query(ctx, req.Dataset, req.Start, req.End)
	if err != nil {
		return nil, err
	}
	resp := GetDataResponse(payloads)
	return &resp, nil
}

// SaveItemRequest is an annotation form submitted for one record. The body is
// a flat JSON object; scalar values are converted to strings and null reads
// as "".
type SaveItemRequest struct {
	ID      int    `path:"item_id"`
	Dataset string `query:"dataset"`
	Form    adapter.Form
}

// UnmarshalJSON decodes the form body.
func (r *SaveItemRequest) UnmarshalJSON(data []byte) error {
	d := json.NewDecoder(bytes.NewReader(data))
	d.UseNumber()
	var raw map[string]any
	if err := d.Decode(&raw); err != nil {
		return err
	}
	if raw == nil {
		// null
		return nil
	}
	form := make(adapter.Form, len(raw))
	for k, v := range raw {
		switch t := v.(type) {
		case nil:
			form[k] = ""
		case string:
			form[k] = t
		case json.Number:
			form[k] = t.String()
		case bool:
			form[k] = fmt.Sprint(t)
		default:
			return fmt.Errorf("field %q must be a string", k)
		}
	}
	r.Form = form
	return nil
}

// Validate implements Validatable. An empty body is rejected so that a lost
// payload cannot clear a record; an empty object is a valid form.
func (r *SaveItemRequest) Validate() error {
	if r.Dataset == "" {
		return apierrors.MissingField("dataset")
	}
	if r.Form == nil {
		return apierrors.MissingField("body")
	}
	return nil
}

// SaveItemResponse acknowledges a save.
type SaveItemResponse struct {
	Message string `json:"message"`
}

// SaveItem applies the form to the record and rewrites the dataset file.
func (h *DatasetHandler) SaveItem(ctx context.Context, req *SaveItemRequest) (*SaveItemResponse, error) {
	if err := h.svc.Update(ctx, req.Dataset, req.ID, req.Form); err != nil {
		return nil, err
	}
	return &SaveItemResponse{Message: fmt.Sprintf("ID %d of %s saved", req.ID, req.Dataset)}, nil
}
