// Package otel publishes authcore engine metrics through an OpenTelemetry
// Meter.
//
// [New] registers one Int64ObservableCounter per engine counter and one
// Int64ObservableGauge per histogram bucket. A single callback reads
// Engine.MetricsSnapshot on each collection. The caller owns the
// MeterProvider.
package otel
