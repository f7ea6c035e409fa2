// Package metrics exposes Prometheus metrics for the layer server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Load results.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Metrics holds the gridmap registry. A nil *Metrics is a no-op.
type Metrics struct {
	registry            *prometheus.Registry
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	toggles             *prometheus.CounterVec
	loads               *prometheus.CounterVec
	loadDuration        *prometheus.HistogramVec
	loadsInFlight       prometheus.Gauge
}

// New creates a fresh registry with HTTP and layer metrics registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gridmap",
		Name:      "http_requests_total",
		Help:      "Count of HTTP requests processed",
	}, []string{"method", "path", "status"})

	httpRequestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gridmap",
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	toggles := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gridmap",
		Name:      "layer_toggles_total",
		Help:      "Visibility toggles per layer",
	}, []string{"layer"})

	loads := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gridmap",
		Name:      "layer_loads_total",
		Help:      "Layer loads by result",
	}, []string{"layer", "result"})

	loadDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gridmap",
		Name:      "layer_load_duration_seconds",
		Help:      "Duration of layer loads",
		Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"layer"})

	loadsInFlight := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "gridmap",
		Name:      "layer_loads_in_flight",
		Help:      "Layer loads currently running",
	})

	registry.MustRegister(httpRequests, httpRequestDuration, toggles, loads, loadDuration, loadsInFlight)

	return &Metrics{
		registry:            registry,
		httpRequests:        httpRequests,
		httpRequestDuration: httpRequestDuration,
		toggles:             toggles,
		loads:               loads,
		loadDuration:        loadDuration,
		loadsInFlight:       loadsInFlight,
	}
}

// ObserveHTTPRequest records a single HTTP request/response cycle.
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"path":   path,
		"status": strconv.Itoa(status),
	}
	m.httpRequests.With(labels).Inc()
	m.httpRequestDuration.With(labels).Observe(duration.Seconds())
}

// IncToggle counts a visibility toggle.
func (m *Metrics) IncToggle(layer string) {
	if m == nil {
		return
	}
	m.toggles.WithLabelValues(layer).Inc()
}

// LoadStarted marks a load as in flight.
func (m *Metrics) LoadStarted() {
	if m == nil {
		return
	}
	m.loadsInFlight.Inc()
}

// LoadFinished records the outcome of a load started with LoadStarted.
func (m *Metrics) LoadFinished(layer, result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.loadsInFlight.Dec()
	m.loads.WithLabelValues(layer, result).Inc()
	m.loadDuration.WithLabelValues(layer).Observe(duration.Seconds())
}

// Handler exposes the Prometheus registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("metrics unavailable"))
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records request metrics for every request passing through next.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		m.ObserveHTTPRequest(r.Method, path, rec.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE streaming working through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
