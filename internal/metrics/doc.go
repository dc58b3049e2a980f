/*
Package metrics provides Prometheus-backed metrics collection across the
gateway's five concerns: the HTTP surface, provider dispatch, deployment
cooldown, the deployment cache, and the control-plane database.

# Overview

Collector registers every metric through promauto under a single
namespace, so there is no manual Registry management. Metrics carry
multi-dimensional labels for grouping in Grafana and alerting.

# Metric groups

  - HTTP: request totals, duration, request/response body sizes, grouped
    by method/path/status class (2xx/3xx/4xx/5xx).
  - Dispatch: dispatch totals, duration, prompt/completion token usage,
    and recorded spend, grouped by provider and public model name.
  - Cooldown: a counter of cooldown-open transitions per deployment.
  - Cache: hit and miss counts per cache type.
  - Database: open/idle connection gauges and query duration histograms,
    grouped by database/operation.
*/
package metrics
