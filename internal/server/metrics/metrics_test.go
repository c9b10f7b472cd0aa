package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/maruel/annodb/internal/models"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	b, err := io.ReadAll(w.Body)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func TestMetrics(t *testing.T) {
	m := New(func() []models.DatasetInfo {
		return []models.DatasetInfo{{Name: "a", Count: 3}, {Name: "b", Count: 4}}
	})
	m.Observe("GET /api/data", http.StatusOK, 5*time.Millisecond)
	m.Observe("GET /api/data", http.StatusOK, time.Millisecond)
	m.Observe("", http.StatusNotFound, time.Millisecond)
	body := scrape(t, m)
	for _, want := range []string{
		`annodb_http_requests_total{code="200",route="GET /api/data"} 2`,
		`annodb_http_requests_total{code="404",route="unmatched"} 1`,
		`annodb_http_request_duration_seconds_count{route="GET /api/data"} 2`,
		"annodb_datasets 2",
		"annodb_records 7",
		"go_goroutines",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("missing %q in:\n%s", want, body)
		}
	}
}

func TestObserveNil(t *testing.T) {
	var m *Metrics
	m.Observe("GET /", http.StatusOK, time.Second)
}

func TestIndependentRegistries(t *testing.T) {
	a := New(nil)
	b := New(nil)
	a.Observe("GET /x", http.StatusOK, time.Millisecond)
	if strings.Contains(scrape(t, b), "annodb_http_requests_total{") {
		t.Error("registries share state")
	}
}
