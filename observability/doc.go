// Package observability wires OpenTelemetry tracing and metrics.
//
// Setup installs OTLP/HTTP exporters when enabled and always installs the
// W3C trace-context propagator, so record headers carry traceparent even
// with exporting off:
//
//	shutdown, err := observability.Setup(ctx, cfg, "eventbridge", version.Short(), "production")
//	defer shutdown(ctx)
//
// Record headers:
//
//	observability.InjectHeaders(ctx, msg.Headers)      // publish side
//	ctx = observability.ExtractHeaders(ctx, msg.Headers) // consume side
//
// Dispatcher and publisher instruments:
//
//	m, _ := observability.NewMetrics(observability.Meter("eventbridge"))
//	m.RecordProcessed(ctx, "user-actions", "app", elapsed, err)
package observability
