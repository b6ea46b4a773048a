// Package telemetry sets up OpenTelemetry tracing and metrics for velocity.
//
// Exporters speak OTLP over gRPC or HTTP. When telemetry is disabled, or a
// provider fails to start, callers still get usable no-op tracers and
// meters; telemetry never stops the daemon from serving.
//
// Tests use NewTestTelemetry, which records spans in memory and collects
// metrics through a ManualReader.
package telemetry
