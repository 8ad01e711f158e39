// Package metrics provides the centralized Prometheus metrics registry for
// notion2prompt. All metrics are defined in their respective packages
// (notion, cache, fetcher, scheduler) to maintain modularity and avoid circular
// dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the pipeline.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Request Metrics (pkg/notion):
//   - notion_requests_total{endpoint, status} (Counter): Total API requests by endpoint kind and HTTP status
//   - notion_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint kind
//   - notion_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network)
//
// Retry Metrics (pkg/notion):
//   - notion_retries_total{error_class} (Counter): Retry attempts by error class
//   - notion_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - notion_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Cache Metrics (pkg/cache):
//   - notion_cache_hits_total (Counter): Cache hits
//   - notion_cache_misses_total (Counter): Cache misses
//   - notion_cache_coalesced_total (Counter): Callers that piggybacked on an in-flight fetch
//   - notion_cache_expired_total (Counter): Entries dropped lazily on read after TTL expiry
//
// Fetch Metrics (pkg/fetcher):
//   - notion_fetcher_items_total (Counter): Content items attached to fetched trees
//   - notion_fetcher_error_leaves_total (Counter): Nodes recorded as error leaves after retries
//   - notion_fetcher_truncations_total (Counter): Nodes whose children were cut off by the item budget
//
// Scheduler Metrics (pkg/scheduler):
//   - notion_scheduler_in_flight (Gauge): API calls currently holding a scheduler slot
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(notion_cache_hits_total[5m])) /
//   (sum(rate(notion_cache_hits_total[5m])) + sum(rate(notion_cache_misses_total[5m])))
//
//   # Request Error Rate
//   rate(notion_errors_total[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(notion_request_duration_seconds_bucket[5m]))
