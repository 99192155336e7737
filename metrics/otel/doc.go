// Package otel exports credflow counters through OpenTelemetry metrics.
//
// [NewExporter] registers observable counters for flow outcomes and outbox
// drops. A single callback reads [credflow.Engine.MetricsSnapshot] on each
// collection cycle.
//
// # What this package must NOT do
//
//   - Own the OTel MeterProvider. Callers supply the Meter.
//   - Mutate engine state.
package otel
