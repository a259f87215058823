// Package observability provides the logging, metrics and tracing
// infrastructure shared by the API server and the worker.
//
// Subpackages:
//   - logging: structured logging utilities with slog
//   - metrics: Prometheus metrics registry and recorders
//   - tracing: OpenTelemetry tracing integration
package observability
