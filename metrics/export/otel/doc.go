// Package otel bridges authcore's in-process metrics into OpenTelemetry.
//
// [NewExporter] registers an Int64ObservableCounter per authcore counter and
// an Int64ObservableGauge per latency histogram bucket. A single callback
// reads [authcore.Engine.MetricsSnapshot] on each collection cycle, so the
// engine's hot paths never depend on OTel.
//
// Callers own the MeterProvider and supply the Meter; the exporter never
// mutates engine state.
package otel
