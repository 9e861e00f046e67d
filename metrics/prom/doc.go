// Package prom bridges leagueauth engine counters into Prometheus.
//
// [NewCollector] wraps an [leagueauth.Engine] (or anything exposing its
// metrics surface) as a prometheus.Collector; [Handler] is the
// one-liner that registers it in a private registry and returns a
// scrape endpoint. [HTTPMetrics] adds request counters, latency
// histograms and an in-flight gauge for HTTP boundaries.
//
// # What this package must NOT do
//
//   - Register anything in the global default registry. Callers choose
//     the registry and mount the handler.
//   - Mutate engine state.
package prom
