// Package prometheus renders authgate metrics in Prometheus text exposition format.
//
// [NewPrometheusExporter] accepts an [authgate.Client] and exposes an [http.Handler]. Counter
// names are prefixed authgate_*_total; the single histogram is authgate_refresh_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in a global registry; callers mount the Handler.
//   - Mutate client state.
package prometheus
