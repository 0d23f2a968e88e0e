package observability

import (
	"context"

	"go.opentelemetry.io/otel/propagation"
)

// propagator is fixed rather than taken from the global so record headers
// carry trace context whether or not exporting is enabled.
var propagator = propagation.NewCompositeTextMapPropagator(
	propagation.TraceContext{},
	propagation.Baggage{},
)

// Propagator returns the text-map propagator used for record headers.
func Propagator() propagation.TextMapPropagator { return propagator }

// InjectHeaders writes the span context in ctx into headers.
func InjectHeaders(ctx context.Context, headers map[string]string) {
	if headers == nil {
		return
	}
	propagator.Inject(ctx, propagation.MapCarrier(headers))
}

// ExtractHeaders returns ctx extended with the span context in headers.
func ExtractHeaders(ctx context.Context, headers map[string]string) context.Context {
	if len(headers) == 0 {
		return ctx
	}
	return propagator.Extract(ctx, propagation.MapCarrier(headers))
}
