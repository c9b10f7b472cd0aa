package ratelimit

import (
	"net/http"
	"strconv"
)

// WriteHeaders writes the X-RateLimit headers, plus Retry-After when the
// request was throttled.
func WriteHeaders(w http.ResponseWriter, res Result) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
	if !res.Allowed {
		h.Set("Retry-After", strconv.Itoa(int(res.RetryAfter.Seconds())))
	}
}

// responseWriter injects the rate limit headers before the status line.
type responseWriter struct {
	http.ResponseWriter
	res         Result
	wroteHeader bool
}

// NewResponseWriter returns a writer that adds the headers of res to the
// response.
func NewResponseWriter(w http.ResponseWriter, res Result) http.ResponseWriter {
	return &responseWriter{ResponseWriter: w, res: res}
}

func (rw *responseWriter) WriteHeader(statusCode int) {
	if !rw.wroteHeader {
		WriteHeaders(rw.ResponseWriter, rw.res)
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// Unwrap returns the wrapped writer for http.ResponseController.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
