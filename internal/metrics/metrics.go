// Package metrics provides Prometheus metrics for the proxy.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Default histogram buckets for API latency.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60}

// Relay modes used as the "mode" label on RelaysTotal.
const (
	ModeBuffered    = "buffered"
	ModeStream      = "stream"
	ModePassthrough = "passthrough"
	ModeUpstreamErr = "upstream_error"
)

// Token cache lookup results used as the "result" label on CacheLookups.
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheError = "error"
)

// Metrics holds all Prometheus metric collectors for the proxy.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	UpstreamDuration  *prometheus.HistogramVec
	UpstreamResponses *prometheus.CounterVec
	RelaysTotal       *prometheus.CounterVec

	CacheLookups     *prometheus.CounterVec
	ExchangeDuration prometheus.Histogram
	ExchangeTotal    *prometheus.CounterVec
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "copilot_proxy_http_requests_total",
			Help: "Total inbound HTTP requests.",
		}, []string{"method", "status_code", "path_prefix"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "copilot_proxy_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "path_prefix"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "copilot_proxy_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "copilot_proxy_upstream_request_duration_seconds",
			Help:    "Time until upstream response headers arrive, in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method"}),

		UpstreamResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "copilot_proxy_upstream_responses_total",
			Help: "Total upstream responses by method and status code.",
		}, []string{"method", "status_code"}),

		RelaysTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "copilot_proxy_relays_total",
			Help: "Upstream responses relayed to clients, by relay mode.",
		}, []string{"mode"}),

		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "copilot_proxy_token_cache_lookups_total",
			Help: "Token cache lookups by result.",
		}, []string{"result"}),

		ExchangeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "copilot_proxy_token_exchange_duration_seconds",
			Help:    "Token exchange call latency in seconds.",
			Buckets: defaultBuckets,
		}),

		ExchangeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "copilot_proxy_token_exchanges_total",
			Help: "Token exchange calls by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.UpstreamDuration,
		m.UpstreamResponses,
		m.RelaysTotal,
		m.CacheLookups,
		m.ExchangeDuration,
		m.ExchangeTotal,
	)

	return m
}

// knownMethods lists the allowed HTTP method label values (bounded cardinality).
var knownMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// NormalizeMethod returns a bounded HTTP method label for Prometheus metrics.
// Non-standard methods are mapped to "other" to prevent cardinality explosion.
func NormalizeMethod(method string) string {
	if knownMethods[method] {
		return method
	}
	return "other"
}

// knownPrefixes lists the allowed path label values (bounded cardinality).
// The proxy accepts any path, so only the common chat API routes are named.
var knownPrefixes = []string{
	"/chat/completions",
	"/v1/chat/completions",
	"/completions",
	"/v1/completions",
	"/embeddings",
	"/v1/embeddings",
	"/models",
	"/v1/models",
	"/healthz",
	"/proxy/status",
	"/metrics",
}

// NormalizePath returns a bounded path label for Prometheus metrics.
func NormalizePath(path string) string {
	for _, prefix := range knownPrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") || strings.HasPrefix(path, prefix+"?") {
			return prefix
		}
	}
	return "other"
}
