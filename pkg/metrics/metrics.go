// Package metrics holds the Prometheus collectors of the relay. All methods
// are safe on a nil *Metrics, which disables collection.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Registrations   *prometheus.CounterVec   // relays_registrations_total{result}
	Ingests         *prometheus.CounterVec   // relays_ingests_total{result}
	IngestedBytes   prometheus.Counter       // relays_ingested_bytes_total
	Egress          *prometheus.CounterVec   // relays_egress_total{result}
	EgressBytes     prometheus.Counter       // relays_egress_bytes_total
	Bundles         *prometheus.CounterVec   // relays_bundle_streams_total{result}
	BundleDuration  prometheus.Histogram     // relays_bundle_stream_duration_seconds
	BackendStreams  prometheus.Gauge         // relays_backend_open_streams
	AccessLogErrors prometheus.Counter       // relays_access_log_errors_total
	HTTPRequests    *prometheus.CounterVec   // relays_http_requests_total{route,code}
	HTTPDuration    *prometheus.HistogramVec // relays_http_request_duration_seconds{route}
}

// New registers the collectors with registry, or the default registerer when nil.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	f := promauto.With(registry)
	return &Metrics{
		Registrations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relays_registrations_total",
			Help: "Upload registrations by result",
		}, []string{"result"}),
		Ingests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relays_ingests_total",
			Help: "Ingestion attempts by result",
		}, []string{"result"}),
		IngestedBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "relays_ingested_bytes_total",
			Help: "Bytes accepted by the storage backend",
		}),
		Egress: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relays_egress_total",
			Help: "Single object downloads by result",
		}, []string{"result"}),
		EgressBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "relays_egress_bytes_total",
			Help: "Bytes served from the storage backend",
		}),
		Bundles: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relays_bundle_streams_total",
			Help: "Bundle downloads by result",
		}, []string{"result"}),
		BundleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "relays_bundle_stream_duration_seconds",
			Help:    "Time to stream a bundle archive",
			Buckets: prometheus.ExponentialBuckets(0.1, 4, 8),
		}),
		BackendStreams: f.NewGauge(prometheus.GaugeOpts{
			Name: "relays_backend_open_streams",
			Help: "Backend object bodies currently open",
		}),
		AccessLogErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "relays_access_log_errors_total",
			Help: "Access events that could not be recorded",
		}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relays_http_requests_total",
			Help: "HTTP requests by route and status code",
		}, []string{"route", "code"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relays_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

func (m *Metrics) RegistrationDone(result string) {
	if m == nil {
		return
	}
	m.Registrations.WithLabelValues(result).Inc()
}

func (m *Metrics) IngestDone(result string, bytes int64) {
	if m == nil {
		return
	}
	m.Ingests.WithLabelValues(result).Inc()
	if bytes > 0 {
		m.IngestedBytes.Add(float64(bytes))
	}
}

func (m *Metrics) EgressDone(result string, bytes int64) {
	if m == nil {
		return
	}
	m.Egress.WithLabelValues(result).Inc()
	if bytes > 0 {
		m.EgressBytes.Add(float64(bytes))
	}
}

func (m *Metrics) BundleDone(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Bundles.WithLabelValues(result).Inc()
	m.BundleDuration.Observe(elapsed.Seconds())
}

// StreamOpened tracks an open backend body; call the returned func on close.
func (m *Metrics) StreamOpened() func() {
	if m == nil {
		return func() {}
	}
	m.BackendStreams.Inc()
	return m.BackendStreams.Dec
}

func (m *Metrics) AccessLogFailed() {
	if m == nil {
		return
	}
	m.AccessLogErrors.Inc()
}

func (m *Metrics) ObserveHTTP(route string, code int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, statusClass(code)).Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	}
	return "2xx"
}
