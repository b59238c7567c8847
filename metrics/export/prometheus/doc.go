// Package prometheus renders authcore engine metrics in the Prometheus text
// exposition format.
//
// [New] wraps an [authcore.Engine] and exposes an [http.Handler] for a
// /metrics route. Counters are named authcore_*_total; the one histogram is
// authcore_refresh_latency_seconds. Nothing is registered globally and the
// engine is only read.
package prometheus
