package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pushcron/internal/task/engine"
	"pushcron/internal/trigger"
)

// Metrics holds the process collectors. It uses its own registry so tests
// can create as many as they need.
type Metrics struct {
	reg *prometheus.Registry

	dispatches       *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pushcron",
			Name:      "dispatches_total",
			Help:      "Dispatches by job, trigger source, status and failure reason.",
		}, []string{"job", "source", "status", "reason"}),
		dispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pushcron",
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent in the delivery provider per dispatch.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"job"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pushcron",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"path", "method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pushcron",
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"path", "method", "status"}),
	}
	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.dispatches, m.dispatchDuration, m.httpRequests, m.httpDuration,
	)
	return m
}

// Observe implements trigger.Observer.
func (m *Metrics) Observe(ev trigger.Event) {
	m.dispatches.WithLabelValues(ev.Job, string(ev.Source), ev.Outcome.Status.String(), string(ev.Outcome.Reason)).Inc()
	if ev.Outcome.Duration > 0 {
		m.dispatchDuration.WithLabelValues(ev.Job).Observe(ev.Outcome.Duration.Seconds())
	}
}

// WatchEngine exports queue gauges read from snap at scrape time.
func (m *Metrics) WatchEngine(snap func() engine.Snapshot) {
	gauge := func(name, help string, read func(engine.Snapshot) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{Namespace: "pushcron", Subsystem: "engine", Name: name, Help: help},
			func() float64 { return read(snap()) })
	}
	m.reg.MustRegister(
		gauge("queue_length", "Firings waiting for a worker.", func(s engine.Snapshot) float64 { return float64(s.QueueLen) }),
		gauge("in_flight", "Firings currently running.", func(s engine.Snapshot) float64 { return float64(s.InFlight) }),
		gauge("dropped", "Firings dropped because the queue was full.", func(s engine.Snapshot) float64 { return float64(s.Dropped) }),
		gauge("skipped", "Firings skipped because the job was still running.", func(s engine.Snapshot) float64 { return float64(s.Skipped) }),
	)
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Middleware records RED metrics per chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		path := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			path = rc.RoutePattern()
		}
		status := strconv.Itoa(ww.Status())
		m.httpDuration.WithLabelValues(path, r.Method, status).Observe(time.Since(start).Seconds())
		m.httpRequests.WithLabelValues(path, r.Method, status).Inc()
	})
}
