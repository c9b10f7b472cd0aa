package server

import (
	"net/http"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzhttp"

	apierrors "github.com/maruel/annodb/internal/errors"
	"github.com/maruel/annodb/internal/server/handlers"
	"github.com/maruel/annodb/internal/server/ipgeo"
	"github.com/maruel/annodb/internal/server/metrics"
	"github.com/maruel/annodb/internal/server/ratelimit"
	"github.com/maruel/annodb/internal/storage"
)

// Options configures NewRouter.
type Options struct {
	// Version is reported by /api/health.
	Version string
	// StaticDir holds index.html, annotation.html and the image folders. No
	// page or static file is served when empty.
	StaticDir string
	// Limits throttles saves; nil disables rate limiting.
	Limits *ratelimit.Config
	// Geo resolves client countries for the access log; may be nil.
	Geo *ipgeo.Checker
	// Metrics counts requests and serves /metrics; nil disables both.
	Metrics *metrics.Metrics
}

// gzipMinSize is the smallest response worth compressing.
const gzipMinSize = 512

// NewRouter creates and configures the HTTP router.
func NewRouter(svc *storage.DatasetService, opts Options) http.Handler {
	mux := &http.ServeMux{}
	hh := handlers.NewHealthHandler(opts.Version)
	dh := handlers.NewDatasetHandler(svc)
	sh := handlers.NewSchemaHandler()
	l := opts.Limits

	mux.Handle("GET /api/health", Wrap(hh.Health, l))
	mux.Handle("GET /api/schema", Wrap(sh.Schema, l))
	mux.Handle("GET /api/datasets", Wrap(dh.ListDatasets, l))
	mux.Handle("GET /api/data", Wrap(dh.GetData, l))
	mux.Handle("POST /api/save/{item_id}", Wrap(dh.SaveItem, l))
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics.Handler())
	}
	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		writeError(r.Context(), w, apierrors.NotFound("endpoint "+r.Method+" "+r.URL.Path))
	})

	if opts.StaticDir != "" {
		mux.Handle("GET /static/", http.StripPrefix("/static", noDirListing(http.FileServer(http.Dir(opts.StaticDir)))))
		mux.Handle("GET /{$}", servePage(opts.StaticDir, "index.html"))
		mux.Handle("GET /annotate", servePage(opts.StaticDir, "annotation.html"))
	}
	gz, err := gzhttp.NewWrapper(gzhttp.MinSize(gzipMinSize))
	if err != nil {
		panic(err)
	}
	return LogRequests(opts.Geo, opts.Metrics, gz(mux))
}

// servePage serves one HTML page of the static directory.
func servePage(dir, name string) http.Handler {
	path := filepath.Join(dir, name)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache")
		http.ServeFile(w, r, path)
	})
}

// noDirListing answers 404 for directory paths instead of listing them.
func noDirListing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}
