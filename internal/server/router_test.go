package server

import (
	"compress/gzip"
	"encoding/json"
	"io"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/maruel/annodb/internal/adapter"
	"github.com/maruel/annodb/internal/server/metrics"
	"github.com/maruel/annodb/internal/server/ratelimit"
	"github.com/maruel/annodb/internal/storage"
)

const testDataset = `{"data_source":"hummus","image":{"path":"a.jpg"},"extra_info":{"explanation":"e1"}}
{"image":{"path":"b.jpg"},"prompt":[{"content":"old","role":"user"}]}
`

var bigStatic = strings.Repeat("annotation ", 200)

type testEnv struct {
	handler  http.Handler
	dataFile string
}

func setupTestEnv(t *testing.T, limits *ratelimit.Config) *testEnv {
	t.Helper()
	root := t.TempDir()
	dataDir := filepath.Join(root, "data")
	staticDir := filepath.Join(root, "static")
	for _, d := range []string{dataDir, filepath.Join(staticDir, "hummus_images")} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	files := map[string]string{
		filepath.Join(dataDir, "d.jsonl"):                      testDataset,
		filepath.Join(staticDir, "index.html"):                 "<h1>datasets</h1>",
		filepath.Join(staticDir, "annotation.html"):            "<h1>annotate</h1>",
		filepath.Join(staticDir, "hummus_images", "a.jpg"):     "jpeg",
		filepath.Join(staticDir, "hummus_images", "notes.txt"): "notes",
		filepath.Join(staticDir, "big.txt"):                    bigStatic,
	}
	for p, c := range files {
		if err := os.WriteFile(p, []byte(c), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	reg := adapter.NewRegistry(rand.New(rand.NewPCG(3, 4))) //nolint:gosec // G404: deterministic tests
	svc := storage.NewDatasetService(dataDir, storage.NewStore(), reg, 1)
	if _, err := svc.LoadAll(t.Context()); err != nil {
		t.Fatal(err)
	}
	if limits != nil {
		t.Cleanup(limits.Close)
	}
	return &testEnv{
		handler: NewRouter(svc, Options{
			Version:   "test",
			StaticDir: staticDir,
			Limits:    limits,
			Metrics:   metrics.New(svc.List),
		}),
		dataFile: filepath.Join(dataDir, "d.jsonl"),
	}
}

func (e *testEnv) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader = http.NoBody
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Details map[string]any `json:"details"`
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var e errorBody
	if err := json.Unmarshal(w.Body.Bytes(), &e); err != nil {
		t.Fatalf("invalid error body %q: %v", w.Body.String(), err)
	}
	return e
}

func TestHealth(t *testing.T) {
	env := setupTestEnv(t, nil)
	w := env.do(t, http.MethodGet, "/api/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var got struct{ Status, Version string }
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Status != "ok" || got.Version != "test" {
		t.Errorf("health = %+v", got)
	}
	if w.Header().Get("X-Request-Id") == "" {
		t.Error("missing request id")
	}
}

func TestListDatasets(t *testing.T) {
	env := setupTestEnv(t, nil)
	w := env.do(t, http.MethodGet, "/api/datasets", "")
	if got, want := strings.TrimSpace(w.Body.String()), `{"datasets":[{"name":"d","count":2}]}`; got != want {
		t.Errorf("body = %s, want %s", got, want)
	}
}

func TestGetData(t *testing.T) {
	env := setupTestEnv(t, nil)
	w := env.do(t, http.MethodGet, "/api/data?dataset=d&start=1&end=2", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var got []struct {
		ID               int    `json:"id"`
		ImagePath        string `json:"image_path"`
		AnnotationFields []struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		} `json:"annotation_fields"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != 1 || got[1].ID != 2 {
		t.Fatalf("payloads = %+v", got)
	}
	if got[0].ImagePath != "hummus_images/a.jpg" || got[1].ImagePath != "mutimm_images/b.jpg" {
		t.Errorf("image paths = %q, %q", got[0].ImagePath, got[1].ImagePath)
	}
	if got[1].AnnotationFields[0].Value != "old" {
		t.Errorf("question = %q", got[1].AnnotationFields[0].Value)
	}
}

func TestGetDataErrors(t *testing.T) {
	env := setupTestEnv(t, nil)
	tests := []struct {
		name   string
		target string
		status int
		code   string
	}{
		{"inverted", "/api/data?dataset=d&start=2&end=1", http.StatusBadRequest, "INVALID_RANGE"},
		{"zero", "/api/data?dataset=d&start=0&end=1", http.StatusBadRequest, "INVALID_RANGE"},
		{"past end", "/api/data?dataset=d&start=3&end=3", http.StatusBadRequest, "INVALID_RANGE"},
		{"missing bounds", "/api/data?dataset=d", http.StatusBadRequest, "INVALID_RANGE"},
		{"not a number", "/api/data?dataset=d&start=one&end=1", http.StatusBadRequest, "VALIDATION_FAILED"},
		{"missing dataset", "/api/data?start=1&end=1", http.StatusBadRequest, "MISSING_FIELD"},
		{"unknown dataset", "/api/data?dataset=nope&start=1&end=1", http.StatusNotFound, "DATASET_NOT_FOUND"},
		{"unknown endpoint", "/api/nope", http.StatusNotFound, "NOT_FOUND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodGet, tt.target, "")
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.status, w.Body.String())
			}
			if e := decodeError(t, w); e.Error.Code != tt.code {
				t.Errorf("code = %s, want %s", e.Error.Code, tt.code)
			}
		})
	}

	e := decodeError(t, env.do(t, http.MethodGet, "/api/data?dataset=d&start=2&end=1", ""))
	if e.Details["max"] != float64(2) {
		t.Errorf("details = %v", e.Details)
	}
	if !strings.Contains(e.Error.Message, "1-2") {
		t.Errorf("message %q does not name the valid range", e.Error.Message)
	}
}

func TestSaveItem(t *testing.T) {
	env := setupTestEnv(t, nil)
	body := `{"question":"Q?","correct_answer":"42","optimal_path":"direct","justification":"because"}`
	w := env.do(t, http.MethodPost, "/api/save/2?dataset=d", body)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var got struct{ Message string }
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Message == "" {
		t.Error("empty message")
	}

	b, err := os.ReadFile(env.dataFile)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) != 2 {
		t.Fatalf("file has %d lines", len(lines))
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[1]), &rec); err != nil {
		t.Fatal(err)
	}
	if _, ok := rec["id"]; ok {
		t.Error("id persisted")
	}
	if gt := rec["reward_model"].(map[string]any)["ground_truth"]; gt != "42" {
		t.Errorf("ground_truth = %v", gt)
	}

	w = env.do(t, http.MethodGet, "/api/data?dataset=d&start=2&end=2", "")
	if !strings.Contains(w.Body.String(), `"value":"Q?"`) {
		t.Errorf("update not visible: %s", w.Body.String())
	}
}

func TestSaveItemErrors(t *testing.T) {
	env := setupTestEnv(t, nil)
	before, err := os.ReadFile(env.dataFile)
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name   string
		target string
		body   string
		status int
		code   string
	}{
		{"unknown id", "/api/save/3?dataset=d", `{}`, http.StatusNotFound, "RECORD_NOT_FOUND"},
		{"unknown dataset", "/api/save/1?dataset=nope", `{}`, http.StatusNotFound, "DATASET_NOT_FOUND"},
		{"missing dataset", "/api/save/1", `{}`, http.StatusBadRequest, "MISSING_FIELD"},
		{"empty body", "/api/save/1?dataset=d", "", http.StatusBadRequest, "MISSING_FIELD"},
		{"null body", "/api/save/1?dataset=d", "null", http.StatusBadRequest, "MISSING_FIELD"},
		{"bad id", "/api/save/abc?dataset=d", `{}`, http.StatusBadRequest, "VALIDATION_FAILED"},
		{"nested value", "/api/save/1?dataset=d", `{"question":{"a":1}}`, http.StatusBadRequest, "VALIDATION_FAILED"},
		{"not an object", "/api/save/1?dataset=d", `["x"]`, http.StatusBadRequest, "VALIDATION_FAILED"},
		{"bad path", "/api/save/1?dataset=d", `{"optimal_path":"sideways"}`, http.StatusBadRequest, "VALIDATION_FAILED"},
		{"too large", "/api/save/1?dataset=d", `{"question":"` + strings.Repeat("x", maxBodyBytes) + `"}`, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, tt.target, tt.body)
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.status, w.Body.String())
			}
			if e := decodeError(t, w); e.Error.Code != tt.code {
				t.Errorf("code = %s, want %s", e.Error.Code, tt.code)
			}
		})
	}
	after, err := os.ReadFile(env.dataFile)
	if err != nil {
		t.Fatal(err)
	}
	if string(before) != string(after) {
		t.Error("rejected saves modified the file")
	}
}

func TestSaveItemScalarValues(t *testing.T) {
	env := setupTestEnv(t, nil)
	w := env.do(t, http.MethodPost, "/api/save/2?dataset=d", `{"question":null,"correct_answer":42}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	w = env.do(t, http.MethodGet, "/api/data?dataset=d&start=2&end=2", "")
	if !strings.Contains(w.Body.String(), `"name":"correct_answer","label"`) || !strings.Contains(w.Body.String(), `"value":"42"`) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestSaveRateLimited(t *testing.T) {
	env := setupTestEnv(t, ratelimit.NewConfig(60, 1))
	if w := env.do(t, http.MethodPost, "/api/save/1?dataset=d", `{}`); w.Code != http.StatusOK {
		t.Fatalf("first save: status = %d: %s", w.Code, w.Body.String())
	}
	w := env.do(t, http.MethodPost, "/api/save/1?dataset=d", `{}`)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second save: status = %d", w.Code)
	}
	if e := decodeError(t, w); e.Error.Code != "RATE_LIMITED" {
		t.Errorf("code = %s", e.Error.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
	// Reads are not limited.
	for range 3 {
		if w := env.do(t, http.MethodGet, "/api/datasets", ""); w.Code != http.StatusOK {
			t.Fatalf("read throttled: %d", w.Code)
		}
	}
}

func TestSchema(t *testing.T) {
	env := setupTestEnv(t, nil)
	w := env.do(t, http.MethodGet, "/api/schema", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var s map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &s); err != nil {
		t.Fatal(err)
	}
	if s["type"] != "array" {
		t.Errorf("type = %v", s["type"])
	}
	if !strings.Contains(w.Body.String(), "image_path") {
		t.Error("schema does not describe image_path")
	}
}

func TestStatic(t *testing.T) {
	env := setupTestEnv(t, nil)
	tests := []struct {
		target string
		status int
		body   string
	}{
		{"/", http.StatusOK, "<h1>datasets</h1>"},
		{"/annotate", http.StatusOK, "<h1>annotate</h1>"},
		{"/static/hummus_images/a.jpg", http.StatusOK, "jpeg"},
		{"/static/hummus_images/", http.StatusNotFound, ""},
		{"/static/missing.jpg", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			w := env.do(t, http.MethodGet, tt.target, "")
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d", w.Code, tt.status)
			}
			if tt.body != "" && w.Body.String() != tt.body {
				t.Errorf("body = %q, want %q", w.Body.String(), tt.body)
			}
		})
	}
}

func TestGzip(t *testing.T) {
	env := setupTestEnv(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/static/big.txt", http.NoBody)
	req.Header.Set("Accept-Encoding", "gzip")
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := w.Header().Get("Content-Encoding"); got != "gzip" {
		t.Fatalf("Content-Encoding = %q", got)
	}
	zr, err := gzip.NewReader(w.Body)
	if err != nil {
		t.Fatal(err)
	}
	b, err := io.ReadAll(zr)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != bigStatic {
		t.Errorf("decompressed body has %d bytes, want %d", len(b), len(bigStatic))
	}

	// Small responses are sent as is.
	req = httptest.NewRequest(http.MethodGet, "/api/health", http.NoBody)
	req.Header.Set("Accept-Encoding", "gzip")
	w = httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)
	if got := w.Header().Get("Content-Encoding"); got != "" {
		t.Errorf("Content-Encoding = %q for a small response", got)
	}
}

func TestMetrics(t *testing.T) {
	env := setupTestEnv(t, nil)
	env.do(t, http.MethodGet, "/api/health", "")
	env.do(t, http.MethodGet, "/api/nope", "")
	w := env.do(t, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{
		`annodb_http_requests_total{code="200",route="GET /api/health"} 1`,
		`annodb_http_requests_total{code="404",route="/api/"} 1`,
		"annodb_datasets 1",
		"annodb_records 2",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("missing %q", want)
		}
	}
}
