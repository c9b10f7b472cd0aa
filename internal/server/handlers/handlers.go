// Package handlers implements the API endpoints on top of the dataset service.
//
// Each endpoint is a func(context.Context, *Request) (*Response, error). The
// server package adapts them to http.Handler.
package handlers

// Validatable is implemented by request types that can validate their fields.
// It is checked after the body, path and query parameters were decoded.
type Validatable interface {
	Validate() error
}
