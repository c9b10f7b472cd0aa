package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestLimiterBurst(t *testing.T) {
	l := NewLimiter(60, time.Minute, 2)
	defer l.Close()
	now := time.Now()

	for i := range 2 {
		if res := l.allowAt("a", now); !res.Allowed {
			t.Fatalf("request %d throttled", i)
		}
	}
	res := l.allowAt("a", now)
	if res.Allowed {
		t.Fatal("request past the burst allowed")
	}
	if res.RetryAfter < time.Second {
		t.Errorf("RetryAfter = %v", res.RetryAfter)
	}
	if res.Limit != 60 {
		t.Errorf("Limit = %d", res.Limit)
	}
	if !l.allowAt("b", now).Allowed {
		t.Error("other key throttled")
	}
	// One token per second refills.
	if !l.allowAt("a", now.Add(1100*time.Millisecond)).Allowed {
		t.Error("refilled bucket throttled")
	}
}

func TestLimiterCleanup(t *testing.T) {
	l := NewLimiter(60, time.Minute, 1)
	defer l.Close()
	now := time.Now()
	l.allowAt("a", now)
	l.cleanup(now.Add(time.Minute))
	if len(l.buckets) != 1 {
		t.Fatal("recent bucket dropped")
	}
	l.cleanup(now.Add(staleAfter + time.Minute))
	if len(l.buckets) != 0 {
		t.Error("stale bucket kept")
	}
	l.Close()
}

func TestConfigMatch(t *testing.T) {
	c := NewConfig(10, 5)
	defer c.Close()
	tests := []struct {
		method, path string
		want         bool
	}{
		{http.MethodPost, "/api/save/3", true},
		{http.MethodGet, "/api/save/3", false},
		{http.MethodGet, "/api/data", false},
		{http.MethodPost, "/api/health", false},
	}
	for _, tt := range tests {
		if got := c.Match(tt.method, tt.path) != nil; got != tt.want {
			t.Errorf("Match(%s, %s) = %v, want %v", tt.method, tt.path, got, tt.want)
		}
	}
	if NewConfig(0, 5).Match(http.MethodPost, "/api/save/1") != nil {
		t.Error("disabled config matched")
	}
	var nilConfig *Config
	if nilConfig.Match(http.MethodPost, "/api/save/1") != nil {
		t.Error("nil config matched")
	}
	nilConfig.Close()
}

func TestResponseWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	w := NewResponseWriter(rec, Result{Allowed: false, Limit: 10, Remaining: 0, RetryAfter: 2 * time.Second})
	if _, err := w.Write([]byte("x")); err != nil {
		t.Fatal(err)
	}
	if got := rec.Header().Get("X-RateLimit-Limit"); got != "10" {
		t.Errorf("X-RateLimit-Limit = %q", got)
	}
	if got := rec.Header().Get("Retry-After"); got != "2" {
		t.Errorf("Retry-After = %q", got)
	}
}
