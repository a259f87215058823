// Package tracing provides OpenTelemetry tracing for the orchestrator.
package tracing

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// tracer is the global tracer instance for the orchestrator.
var tracer = otel.Tracer("outbound-relay")

// GetTracer returns the global tracer for creating spans.
//
// Example:
//
//	ctx, span := tracing.GetTracer().Start(ctx, "compress.race")
//	defer span.End()
func GetTracer() trace.Tracer {
	return tracer
}
