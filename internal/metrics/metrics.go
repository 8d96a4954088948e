// Package metrics exposes Prometheus collectors for the proxy. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Split origins.
const (
	OriginAPI     = "api"
	OriginContext = "context"
)

var durationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	InflightRequests prometheus.Gauge

	SplitTotal    *prometheus.CounterVec
	SplitDuration *prometheus.HistogramVec
	SplitChunks   prometheus.Histogram

	UpstreamTotal    *prometheus.CounterVec
	UpstreamDuration *prometheus.HistogramVec

	ContextDocuments prometheus.Gauge
}

// New builds a private registry with Go and process collectors plus the
// proxy's own metrics under namespace.
func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"route", "method", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   durationBuckets,
		}, []string{"route", "method", "status"}),
		InflightRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_inflight_requests",
			Help:      "Current number of inflight HTTP requests",
		}),
		SplitTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "split_total",
			Help:      "Total split operations",
		}, []string{"origin", "status"}),
		SplitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "split_duration_seconds",
			Help:      "Split duration in seconds",
			Buckets:   durationBuckets,
		}, []string{"origin", "status"}),
		SplitChunks: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "split_documents",
			Help:      "Documents produced per split",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		UpstreamTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_chat_total",
			Help:      "Total upstream chat completions",
		}, []string{"mode", "status"}),
		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_chat_duration_seconds",
			Help:      "Upstream chat completion duration in seconds",
			Buckets:   durationBuckets,
		}, []string{"mode", "status"}),
		ContextDocuments: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "context_documents",
			Help:      "Documents currently loaded for context injection",
		}),
	}
	reg.MustRegister(
		m.RequestsTotal, m.RequestDuration, m.InflightRequests,
		m.SplitTotal, m.SplitDuration, m.SplitChunks,
		m.UpstreamTotal, m.UpstreamDuration,
		m.ContextDocuments,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// ObserveHTTP records one finished request.
func (m *Metrics) ObserveHTTP(route, method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	code := strconv.Itoa(status)
	m.RequestsTotal.WithLabelValues(route, method, code).Inc()
	m.RequestDuration.WithLabelValues(route, method, code).Observe(d.Seconds())
}

// TrackInflight increments the inflight gauge and returns its release.
func (m *Metrics) TrackInflight() func() {
	if m == nil {
		return func() {}
	}
	m.InflightRequests.Inc()
	return m.InflightRequests.Dec
}

// ObserveSplit records a split that began at start.
func (m *Metrics) ObserveSplit(origin string, start time.Time, documents int, err error) {
	if m == nil {
		return
	}
	status := statusLabel(err)
	m.SplitTotal.WithLabelValues(origin, status).Inc()
	m.SplitDuration.WithLabelValues(origin, status).Observe(time.Since(start).Seconds())
	if err == nil {
		m.SplitChunks.Observe(float64(documents))
	}
}

// ObserveUpstream records an upstream chat call that began at start.
func (m *Metrics) ObserveUpstream(mode string, start time.Time, err error) {
	if m == nil {
		return
	}
	status := statusLabel(err)
	m.UpstreamTotal.WithLabelValues(mode, status).Inc()
	m.UpstreamDuration.WithLabelValues(mode, status).Observe(time.Since(start).Seconds())
}

func (m *Metrics) SetContextDocuments(n int) {
	if m == nil {
		return
	}
	m.ContextDocuments.Set(float64(n))
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
