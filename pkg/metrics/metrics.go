// Package metrics provides the Prometheus registry and the /metrics handler.
// All metrics are defined in their respective packages (cache, orchestrator,
// reconcile, scheduler, refdata, cms, ratelimit) to maintain modularity and
// avoid circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by cms-cache.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer matching Registry.
var Gatherer = prometheus.DefaultGatherer

// Handler serves all registered metrics in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Cache Metrics (pkg/cache):
//   - cms_cache_hits_total{region} (Counter): Cache hits per region
//   - cms_cache_misses_total{region} (Counter): Cache misses per region
//   - cms_cache_entries{region} (Gauge): Entries currently held per region
//   - cms_cache_evictions_total{region, reason} (Counter): Removals by reason
//     (capacity, expired, deleted, invalidated, cleared)
//
// Population Metrics (pkg/orchestrator):
//   - cms_cache_producer_calls_total{region, result} (Counter): Producer calls on a miss
//   - cms_cache_shared_misses_total{region} (Counter): Misses that joined an in-flight producer
//   - cms_cache_warmup_entries_total{region, result} (Counter): Warm-up keys (loaded, skipped, failed)
//
// Reconciliation Metrics (pkg/reconcile):
//   - cms_reconcile_runs_total{result} (Counter): Passes (unchanged, changed, failed, skipped)
//   - cms_reconcile_records_total{kind} (Counter): Records detected (outdated, deleted, new)
//   - cms_reconcile_duration_seconds (Histogram): Pass duration
//
// Refresh Metrics (pkg/scheduler):
//   - cms_refresh_runs_total{task, result} (Counter): Runs (success, failure, discarded)
//   - cms_refresh_skipped_total{task} (Counter): Ticks skipped due to an in-flight run
//   - cms_refresh_duration_seconds{task} (Histogram): Run duration
//
// Reference Data Metrics (pkg/refdata):
//   - cms_refdata_refresh_total{result} (Counter): Refreshes (success, failure)
//   - cms_refdata_last_success_timestamp_seconds (Gauge): Unix time of the last success
//
// CMS Client Metrics (pkg/cms):
//   - cms_client_requests_total{endpoint, status} (Counter): Requests by endpoint and HTTP status
//   - cms_client_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - cms_client_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network)
//   - cms_client_retries_total{error_class} (Counter): Retry attempts by error class
//   - cms_client_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - cms_client_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Rate Limit Metrics (pkg/ratelimit):
//   - cms_rate_limit_remaining (Gauge): Requests remaining in the current window
//   - cms_rate_limit_blocks_total (Counter): Requests blocked due to critical budget
//   - cms_rate_limit_throttles_total (Counter): Requests throttled due to warning budget
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate per region
//   sum by (region) (rate(cms_cache_hits_total[5m])) /
//   (sum by (region) (rate(cms_cache_hits_total[5m])) + sum by (region) (rate(cms_cache_misses_total[5m])))
//
//   # Reconciliation failures (serving stale data)
//   rate(cms_reconcile_runs_total{result="failed"}[15m])
//
//   # Reference data age
//   time() - cms_refdata_last_success_timestamp_seconds
//
//   # P95 CMS Latency
//   histogram_quantile(0.95, rate(cms_client_request_duration_seconds_bucket[5m]))
