// Package metrics exposes Prometheus metrics for the HTTP server and the
// loaded datasets.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/maruel/annodb/internal/models"
)

// Metrics owns a registry private to one server so that tests can create
// several.
type Metrics struct {
	reg      *prometheus.Registry
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// New registers the process, Go runtime, HTTP and dataset collectors.
// datasets is called on each scrape.
func New(datasets func() []models.DatasetInfo) *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "annodb_http_requests_total",
			Help: "HTTP requests served, by route pattern and status code",
		}, []string{"route", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "annodb_http_request_duration_seconds",
			Help:    "HTTP request latency, by route pattern",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests,
		m.latency,
	)
	if datasets != nil {
		m.reg.MustRegister(
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name: "annodb_datasets",
				Help: "Datasets loaded in memory",
			}, func() float64 { return float64(len(datasets())) }),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name: "annodb_records",
				Help: "Records loaded in memory, all datasets combined",
			}, func() float64 {
				n := 0
				for _, d := range datasets() {
					n += d.Count
				}
				return float64(n)
			}),
		)
	}
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Observe records one served request. route is the mux pattern, empty when
// no route matched. Safe on a nil Metrics.
func (m *Metrics) Observe(route string, code int, d time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.requests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.latency.WithLabelValues(route).Observe(d.Seconds())
}
