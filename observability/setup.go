package observability

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
)

// ShutdownFunc flushes and stops the providers installed by Setup.
type ShutdownFunc func(ctx context.Context) error

// Setup installs the tracer and meter providers and the record-header
// propagator when cfg.Enabled. With
// exporting disabled it returns a no-op shutdown and the global no-op
// providers stay in place.
func Setup(ctx context.Context, cfg Config, service, version, environment string) (ShutdownFunc, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	tp, err := InitTracer(ctx, TracerConfig{
		ServiceName:    service,
		ServiceVersion: version,
		Environment:    environment,
		Endpoint:       cfg.Endpoint,
		Insecure:       cfg.Insecure,
		SampleRate:     cfg.SampleRate,
	})
	if err != nil {
		return nil, err
	}
	otel.SetTextMapPropagator(Propagator())

	mp, err := InitMeter(ctx, MeterConfig{
		ServiceName:    service,
		ServiceVersion: version,
		Environment:    environment,
		Endpoint:       cfg.Endpoint,
		Insecure:       cfg.Insecure,
		Interval:       cfg.MetricInterval,
	})
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, err
	}

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}
