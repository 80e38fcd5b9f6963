// Package metrics exposes Prometheus metrics for the quota engine.
//
// Metrics:
//   - <ns>_<sub>_decisions_total{outcome}: quota checks by outcome
//   - <ns>_<sub>_check_duration_seconds: quota check latency histogram
//   - <ns>_<sub>_store_errors_total{operation}: counter store failures
//   - <ns>_<sub>_releases_total{result}: reservation releases by result
//
// QuotaMetrics implements quota.Metrics so the Guard records observations
// without depending on Prometheus directly.
package metrics
