package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/kbukum/eventbridge/logger"
)

// MeterConfig configures the OpenTelemetry meter provider.
type MeterConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	Endpoint       string
	Insecure       bool
	// Interval is the metric export interval.
	Interval time.Duration
}

// InitMeter initializes the OpenTelemetry meter provider and registers it
// globally. The returned provider must be shut down on exit.
func InitMeter(ctx context.Context, config MeterConfig) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(config.Endpoint),
	}
	if config.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}

	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}

	res, err := newResource(config.ServiceName, config.ServiceVersion, config.Environment)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	readerOpts := []sdkmetric.PeriodicReaderOption{}
	if config.Interval > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithInterval(config.Interval))
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, readerOpts...)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	logger.Info("meter initialized", logger.Fields(
		"service", config.ServiceName,
		"endpoint", config.Endpoint,
		"interval", config.Interval.String(),
	))

	return mp, nil
}

// Meter returns a named meter from the global provider.
func Meter(name string) metric.Meter {
	return otel.Meter(name)
}

// Metrics holds the record-processing and publishing instruments.
type Metrics struct {
	processed       metric.Int64Counter
	errors          metric.Int64Counter
	processDuration metric.Float64Histogram
	published       metric.Int64Counter
	publishDuration metric.Float64Histogram
}

// NewMetrics creates the instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	processed, err := meter.Int64Counter("eventbridge.records.processed",
		metric.WithDescription("Records pulled from the broker"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating records.processed counter: %w", err)
	}

	errs, err := meter.Int64Counter("eventbridge.records.errors",
		metric.WithDescription("Records whose decode, normalize or handler step failed"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating records.errors counter: %w", err)
	}

	processDuration, err := meter.Float64Histogram("eventbridge.record.duration",
		metric.WithDescription("Per-record processing time"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating record.duration histogram: %w", err)
	}

	published, err := meter.Int64Counter("eventbridge.publish.total",
		metric.WithDescription("Publish attempts by topic and outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating publish.total counter: %w", err)
	}

	publishDuration, err := meter.Float64Histogram("eventbridge.publish.duration",
		metric.WithDescription("Publish latency including lazy connect"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating publish.duration histogram: %w", err)
	}

	return &Metrics{
		processed:       processed,
		errors:          errs,
		processDuration: processDuration,
		published:       published,
		publishDuration: publishDuration,
	}, nil
}

// RecordProcessed records one pulled record. kind is "cdc" or "app".
func (m *Metrics) RecordProcessed(ctx context.Context, topic, kind string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("topic", topic),
		attribute.String("kind", kind),
	)
	m.processed.Add(ctx, 1, attrs)
	m.processDuration.Record(ctx, duration.Seconds(), attrs)
	if err != nil {
		m.errors.Add(ctx, 1, attrs)
	}
}

// RecordPublish records one publish attempt.
func (m *Metrics) RecordPublish(ctx context.Context, topic string, ok bool, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	m.published.Add(ctx, 1, metric.WithAttributes(
		attribute.String("topic", topic),
		attribute.String("outcome", outcome),
	))
	m.publishDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("topic", topic),
	))
}
