// Package errors defines structured error types for the API.
package errors

import (
	"fmt"
	"net/http"
)

// ErrorCode defines specific error types for the API.
type ErrorCode string

const (
	// ErrValidationFailed is returned when input data fails validation
	ErrValidationFailed ErrorCode = "VALIDATION_FAILED"
	// ErrMissingField is returned when a required field is missing
	ErrMissingField ErrorCode = "MISSING_FIELD"
	// ErrInvalidRange is returned when an id range is outside the dataset
	ErrInvalidRange ErrorCode = "INVALID_RANGE"

	// ErrNotFound is returned when a resource is not found
	ErrNotFound ErrorCode = "NOT_FOUND"
	// ErrDatasetNotFound is returned when a dataset is not loaded
	ErrDatasetNotFound ErrorCode = "DATASET_NOT_FOUND"
	// ErrRecordNotFound is returned when a record id does not exist
	ErrRecordNotFound ErrorCode = "RECORD_NOT_FOUND"

	// ErrStorageError is returned when a storage operation fails
	ErrStorageError ErrorCode = "STORAGE_ERROR"
	// ErrRateLimited is returned when a client sends too many requests
	ErrRateLimited ErrorCode = "RATE_LIMITED"
	// ErrPayloadTooLarge is returned when a request body exceeds the limit
	ErrPayloadTooLarge ErrorCode = "PAYLOAD_TOO_LARGE"

	// ErrInternal is returned when an unexpected server error occurs
	ErrInternal ErrorCode = "INTERNAL_ERROR"
)

// ErrorWithStatus is an error that includes an HTTP status code and error code.
type ErrorWithStatus interface {
	Error() string
	StatusCode() int
	Code() ErrorCode
	Details() map[string]any
}

// APIError is a concrete error type with status code, code, and optional details.
type APIError struct {
	statusCode int
	code       ErrorCode
	message    string
	details    map[string]any
	wrappedErr error
}

// NewAPIError creates a new APIError with the given status code and message.
func NewAPIError(statusCode int, code ErrorCode, message string) *APIError {
	return &APIError{
		statusCode: statusCode,
		code:       code,
		message:    message,
		details:    make(map[string]any),
	}
}

// WithDetail adds a single detail to the error.
func (e *APIError) WithDetail(key string, value any) *APIError {
	if e.details == nil {
		e.details = make(map[string]any)
	}
	e.details[key] = value
	return e
}

// Wrap wraps an underlying error.
func (e *APIError) Wrap(err error) *APIError {
	e.wrappedErr = err
	return e
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.wrappedErr != nil {
		return fmt.Sprintf("%s: %v", e.message, e.wrappedErr)
	}
	return e.message
}

// StatusCode returns the HTTP status code.
func (e *APIError) StatusCode() int {
	return e.statusCode
}

// Code returns the error code.
func (e *APIError) Code() ErrorCode {
	return e.code
}

// Details returns additional error details.
func (e *APIError) Details() map[string]any {
	return e.details
}

// Unwrap returns the wrapped error if any.
func (e *APIError) Unwrap() error {
	return e.wrappedErr
}

// Predefined error constructors for common cases

// NotFound creates a 404 Not Found error.
func NotFound(resource string) *APIError {
	return NewAPIError(http.StatusNotFound, ErrNotFound, fmt.Sprintf("%s not found", resource))
}

// DatasetNotFound creates a 404 error for an unknown dataset name.
func DatasetNotFound(name string) *APIError {
	return NewAPIError(http.StatusNotFound, ErrDatasetNotFound, fmt.Sprintf("dataset %q not found", name)).
		WithDetail("dataset", name)
}

// RecordNotFound creates a 404 error for an id outside the dataset.
func RecordNotFound(dataset string, id int) *APIError {
	return NewAPIError(http.StatusNotFound, ErrRecordNotFound, fmt.Sprintf("id %d not found in dataset %q", id, dataset)).
		WithDetail("dataset", dataset).
		WithDetail("id", id)
}

// BadRequest creates a 400 Bad Request error.
func BadRequest(message string) *APIError {
	return NewAPIError(http.StatusBadRequest, ErrValidationFailed, message)
}

// InvalidRange creates a 400 error naming the valid id range of a dataset.
func InvalidRange(dataset string, start, end, count int) *APIError {
	return NewAPIError(http.StatusBadRequest, ErrInvalidRange,
		fmt.Sprintf("invalid id range %d-%d, valid range for %q is 1-%d", start, end, dataset, count)).
		WithDetail("dataset", dataset).
		WithDetail("min", 1).
		WithDetail("max", count)
}

// MissingField creates a 400 Bad Request error for a missing field.
func MissingField(fieldName string) *APIError {
	return NewAPIError(http.StatusBadRequest, ErrMissingField, fmt.Sprintf("Missing required field: %s", fieldName))
}

// RateLimited creates a 429 Too Many Requests error.
func RateLimited() *APIError {
	return NewAPIError(http.StatusTooManyRequests, ErrRateLimited, "Too many requests")
}

// PayloadTooLarge creates a 413 error for a request body over limit bytes.
func PayloadTooLarge(limit int64) *APIError {
	return NewAPIError(http.StatusRequestEntityTooLarge, ErrPayloadTooLarge, fmt.Sprintf("request body exceeds %d bytes", limit)).
		WithDetail("limit", limit)
}

// Storage creates a 500 error for a failed storage operation.
func Storage(message string, err error) *APIError {
	return NewAPIError(http.StatusInternalServerError, ErrStorageError, message).Wrap(err)
}
