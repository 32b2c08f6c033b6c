// Package metrics exposes the Prometheus registry shared by geo-enrich.
// All metrics are defined in their respective packages (ratelimit, eutils,
// cache, pipeline) and register themselves via promauto.
//
// This package provides the HTTP handler and a reference for all available metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by geo-enrich.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer paired with Registry.
var Gatherer = prometheus.DefaultGatherer

// Handler serves every registered metric in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Permit and Retry Metrics (pkg/ratelimit):
//   - geo_permits_in_use (Gauge): Permits currently held by in-flight calls
//   - geo_permit_wait_seconds (Histogram): Time spent waiting for a permit
//   - geo_retries_total{error_class} (Counter): Retry attempts by error class
//   - geo_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - geo_retry_exhausted_total{error_class} (Counter): Keys that used up every attempt
//
// Request Metrics (pkg/eutils):
//   - geo_requests_total{endpoint, status} (Counter): Upstream requests by endpoint and HTTP status
//   - geo_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - geo_errors_total{class} (Counter): Errors by class
//   - geo_circuit_breaker_state{name} (Gauge): 0=closed, 1=half-open, 2=open
//
// Cache Metrics (pkg/cache):
//   - geo_cache_hits_total (Counter): Response cache hits
//   - geo_cache_misses_total (Counter): Response cache misses
//   - geo_cache_errors_total{operation} (Counter): Cache operation errors
//
// Pipeline Metrics (pkg/pipeline):
//   - geo_stage_duration_seconds{stage} (Histogram): Wall time per stage
//   - geo_stage_keys_total{stage} (Counter): Keys dispatched per stage
//   - geo_failures_total{stage} (Counter): Failure records per stage
//   - geo_rows_emitted_total (Counter): Joined rows produced
//   - geo_below_threshold_total (Counter): Runs that ended below the row threshold
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(geo_cache_hits_total[5m])) /
//   (sum(rate(geo_cache_hits_total[5m])) + sum(rate(geo_cache_misses_total[5m])))
//
//   # Failure rate per stage
//   rate(geo_failures_total[5m]) / rate(geo_stage_keys_total[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(geo_request_duration_seconds_bucket[5m]))
//
//   # Permit saturation
//   geo_permits_in_use
