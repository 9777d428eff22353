// Package otel binds authcore metrics to OpenTelemetry observable instruments.
//
// NewExporter registers an Int64ObservableCounter per counter and an
// Int64ObservableGauge per histogram bucket. A single callback reads one snapshot per
// collection cycle. Callers own the MeterProvider.
package otel
