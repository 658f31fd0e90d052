// Package prometheus exposes the onboarding engine's counters and provider
// latency histogram through a client_golang [prometheus.Collector].
//
// Counter names are onboard_*_total; the histogram is
// onboard_provider_latency_seconds.
//
// # What this package must NOT do
//
//   - Register into the global Prometheus registry. Callers register the
//     collector or mount [Collector.Handler].
//   - Mutate engine state.
package prometheus
