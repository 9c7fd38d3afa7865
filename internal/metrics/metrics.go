package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Service exposes Prometheus metrics for hydrarr.
type Service struct {
	registry *prometheus.Registry

	// Counters
	upstreamRequests *prometheus.CounterVec
	upstreamFailures *prometheus.CounterVec

	// Gauges
	serviceUp *prometheus.GaugeVec

	// Histograms
	requestDuration *prometheus.HistogramVec
}

// New creates and registers the hydrarr metrics on a private registry, so
// tests can construct as many instances as they like without duplicate
// registration panics.
func New() *Service {
	m := &Service{
		registry: prometheus.NewRegistry(),

		upstreamRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hydrarr_upstream_requests_total",
				Help: "Total upstream API requests by service and outcome",
			},
			[]string{"service", "outcome"}, // outcome: ok, timeout, status, non_json, network, not_configured
		),

		upstreamFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hydrarr_upstream_failures_total",
				Help: "Total upstream API failures by service and kind",
			},
			[]string{"service", "kind"},
		),

		serviceUp: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "hydrarr_service_up",
				Help: "Whether a configured service answered its last status probe (1=online, 0=offline)",
			},
			[]string{"service"},
		),

		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hydrarr_http_request_duration_seconds",
				Help:    "Duration of hydrarr's own HTTP requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "status"},
		),
	}

	m.registry.MustRegister(
		m.upstreamRequests,
		m.upstreamFailures,
		m.serviceUp,
		m.requestDuration,
	)

	return m
}

// RecordUpstreamRequest records one upstream call. outcome "ok" means
// success; anything else is also counted as a failure of that kind.
func (m *Service) RecordUpstreamRequest(service, outcome string) {
	m.upstreamRequests.WithLabelValues(service, outcome).Inc()
	if outcome != "ok" {
		m.upstreamFailures.WithLabelValues(service, outcome).Inc()
	}
}

// SetServiceUp updates the service-up gauge for a service.
func (m *Service) SetServiceUp(service string, up bool) {
	v := 0.0
	if up {
		v = 1.0
	}
	m.serviceUp.WithLabelValues(service).Set(v)
}

// ObserveRequest records the duration of one of hydrarr's own HTTP requests.
func (m *Service) ObserveRequest(route, status string, seconds float64) {
	m.requestDuration.WithLabelValues(route, status).Observe(seconds)
}

// Handler returns the HTTP handler serving the metrics endpoint.
func (m *Service) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
