package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"

	apierrors "github.com/maruel/annodb/internal/errors"
	"github.com/maruel/annodb/internal/server/handlers"
	"github.com/maruel/annodb/internal/server/ratelimit"
	"github.com/maruel/annodb/internal/server/reqctx"
)

// maxBodyBytes bounds a request body. Forms hold a few short texts.
const maxBodyBytes = 1 << 20

// Wrap wraps a handler function to work as an http.Handler.
//
// The JSON body is decoded into In, then fields tagged `path:"name"` and
// `query:"name"` are filled from the URL and Validate is called. Requests
// matching a tier of limits are throttled per client IP.
//
// Example:
//
//	type GetDataRequest struct {
//	    Dataset string `query:"dataset"`
//	}
//
//	func (h *Handler) GetData(ctx context.Context, req *GetDataRequest) (*Response, error)
func Wrap[In any, PtrIn interface {
	*In
	handlers.Validatable
}, Out any](fn func(context.Context, PtrIn) (*Out, error), limits *ratelimit.Config) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if tier := limits.Match(r.Method, r.URL.Path); tier != nil {
			var ok bool
			if w, ok = checkRateLimit(ctx, w, tier, clientIP(r)); !ok {
				return
			}
		}

		input := new(In)
		if !readAndDecodeBody(ctx, w, r, input) {
			return
		}
		if err := populatePathParams(r, input); err != nil {
			writeError(ctx, w, apierrors.BadRequest(err.Error()))
			return
		}
		if err := populateQueryParams(r, input); err != nil {
			writeError(ctx, w, apierrors.BadRequest(err.Error()))
			return
		}
		if err := PtrIn(input).Validate(); err != nil {
			writeError(ctx, w, err)
			return
		}

		output, err := fn(ctx, PtrIn(input))
		if err != nil {
			writeError(ctx, w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(output); err != nil {
			slog.ErrorContext(ctx, "Failed to encode response", "err", err)
		}
	})
}

func clientIP(r *http.Request) string {
	if ip := reqctx.ClientIP(r.Context()); ip != "" {
		return ip
	}
	return reqctx.ClientIPFromRequest(r)
}

// checkRateLimit consumes a token of tier for the client and wraps w to add
// the rate limit headers. It returns false when the 429 response was written.
func checkRateLimit(ctx context.Context, w http.ResponseWriter, tier *ratelimit.Tier, ip string) (http.ResponseWriter, bool) {
	res := tier.Limiter.Allow(tier.Key(ip))
	w = ratelimit.NewResponseWriter(w, res)
	if !res.Allowed {
		apiErr := apierrors.RateLimited().WithDetail("retry_after", int(res.RetryAfter.Seconds()))
		writeError(ctx, w, apiErr)
		return w, false
	}
	return w, true
}

// readAndDecodeBody decodes the JSON body into input, rejecting unknown
// fields. It returns false when an error response was written.
func readAndDecodeBody[In any](ctx context.Context, w http.ResponseWriter, r *http.Request, input *In) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err2 := r.Body.Close(); err == nil {
		err = err2
	}
	if err != nil {
		if maxErr := (*http.MaxBytesError)(nil); errors.As(err, &maxErr) {
			writeError(ctx, w, apierrors.PayloadTooLarge(maxErr.Limit))
			return false
		}
		writeError(ctx, w, apierrors.BadRequest("failed to read request body").Wrap(err))
		return false
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	d := json.NewDecoder(bytes.NewReader(body))
	d.DisallowUnknownFields()
	if err := d.Decode(input); err != nil {
		writeError(ctx, w, apierrors.BadRequest("invalid request body").Wrap(err))
		return false
	}
	return true
}

// populatePathParams fills the string and int fields tagged `path:"name"`.
func populatePathParams(r *http.Request, input any) error {
	return populateTagged(input, "path", r.PathValue)
}

// populateQueryParams fills the string and int fields tagged `query:"name"`.
func populateQueryParams(r *http.Request, input any) error {
	q := r.URL.Query()
	return populateTagged(input, "query", q.Get)
}

func populateTagged(input any, tagName string, lookup func(string) string) error {
	val := reflect.ValueOf(input)
	if val.Kind() != reflect.Pointer || val.Elem().Kind() != reflect.Struct {
		return nil
	}
	elem := val.Elem()
	typ := elem.Type()
	for i := range typ.NumField() {
		field := typ.Field(i)
		tag := field.Tag.Get(tagName)
		if tag == "" {
			continue
		}
		v := lookup(tag)
		if v == "" {
			continue
		}
		//nolint:exhaustive // Only string and int parameters exist.
		switch field.Type.Kind() {
		case reflect.String:
			elem.Field(i).SetString(v)
		case reflect.Int:
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s parameter %q must be an integer, got %q", tagName, tag, v)
			}
			elem.Field(i).SetInt(int64(n))
		default:
		}
	}
	return nil
}

// writeError writes err as a JSON error response. Errors that carry no status
// are reported as internal errors.
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	statusCode := http.StatusInternalServerError
	errorCode := apierrors.ErrInternal
	var details map[string]any
	var ews apierrors.ErrorWithStatus
	if errors.As(err, &ews) {
		statusCode = ews.StatusCode()
		errorCode = ews.Code()
		details = ews.Details()
	}
	if statusCode >= http.StatusInternalServerError {
		slog.ErrorContext(ctx, "Handler error", "err", err, "statusCode", statusCode, "code", errorCode)
	} else {
		slog.WarnContext(ctx, "Request rejected", "err", err, "statusCode", statusCode, "code", errorCode)
	}
	writeErrorResponseWithCode(w, statusCode, errorCode, err.Error(), details)
}

// writeErrorResponseWithCode writes a detailed error response as JSON with code and details.
func writeErrorResponseWithCode(w http.ResponseWriter, statusCode int, code apierrors.ErrorCode, message string, details map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	response := map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	}
	if len(details) > 0 {
		response["details"] = details
	}
	_ = json.NewEncoder(w).Encode(response)
}
