package server

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/maruel/ksid"

	"github.com/maruel/annodb/internal/server/ipgeo"
	"github.com/maruel/annodb/internal/server/metrics"
	"github.com/maruel/annodb/internal/server/reqctx"
)

// LogRequests tags each request with a fresh id, its client IP and country,
// and logs it once served. API calls are logged at info level, static files at
// debug level. m may be nil.
func LogRequests(geo *ipgeo.Checker, m *metrics.Metrics, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := ksid.NewID().String()
		ip := reqctx.ClientIPFromRequest(r)
		cc := geo.CountryCode(ip)

		ctx := reqctx.WithRequestID(r.Context(), id)
		ctx = reqctx.WithClientIP(ctx, ip)
		ctx = reqctx.WithCountryCode(ctx, cc)
		w.Header().Set("X-Request-Id", id)

		sw := &statusWriter{ResponseWriter: w}
		r2 := r.WithContext(ctx)
		next.ServeHTTP(sw, r2)
		dur := time.Since(start)
		// The mux sets the matched pattern on the request it was given.
		m.Observe(r2.Pattern, sw.Status(), dur)

		level := slog.LevelDebug
		if strings.HasPrefix(r.URL.Path, "/api/") {
			level = slog.LevelInfo
		}
		slog.Log(ctx, level, "http",
			"id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.Status(),
			"bytes", sw.n,
			"dur", dur.Round(time.Microsecond),
			"ip", ip,
			"country", cc)
	})
}

// statusWriter records the status and size of a response.
type statusWriter struct {
	http.ResponseWriter
	status int
	n      int64
}

func (s *statusWriter) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusWriter) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	n, err := s.ResponseWriter.Write(b)
	s.n += int64(n)
	return n, err
}

// Status returns the response status, 200 when nothing was written.
func (s *statusWriter) Status() int {
	if s.status == 0 {
		return http.StatusOK
	}
	return s.status
}

// Unwrap returns the wrapped writer for http.ResponseController.
func (s *statusWriter) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}
