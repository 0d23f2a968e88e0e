package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/kbukum/eventbridge/errors"
	"github.com/kbukum/eventbridge/kafka"
	"github.com/kbukum/eventbridge/logger"
	"github.com/kbukum/eventbridge/observability"
	"github.com/kbukum/eventbridge/resilience"
	"github.com/kbukum/eventbridge/util"
)

// Record header names.
const (
	HeaderEventID     = "event-id"
	HeaderEventType   = "event-type"
	HeaderEventSource = "event-source"
	HeaderContentType = "content-type"
)

// ProducerSource hands out the live producer, connecting on first use.
// *kafka.Manager satisfies it.
type ProducerSource interface {
	Producer(ctx context.Context) (kafka.Producer, error)
}

// Publisher sends domain events through the producer role.
type Publisher struct {
	producers   ProducerSource
	log         *logger.Logger
	source      string
	environment string
	breaker     *resilience.CircuitBreaker
	metrics     *observability.Metrics
	now         func() time.Time
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithSource sets the source tag carried by every event.
func WithSource(source string) Option {
	return func(p *Publisher) { p.source = source }
}

// WithEnvironment sets the environment name carried by every event.
func WithEnvironment(env string) Option {
	return func(p *Publisher) { p.environment = env }
}

// WithMetrics records publish counts and latency.
func WithMetrics(m *observability.Metrics) Option {
	return func(p *Publisher) { p.metrics = m }
}

// WithCircuitBreaker fails publishes fast while the broker is unreachable,
// instead of running the full connect policy on every call.
func WithCircuitBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(p *Publisher) { p.breaker = resilience.NewCircuitBreaker(cfg) }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Publisher) { p.now = now }
}

// NewPublisher creates a Publisher. Nothing is dialed until the first publish.
func NewPublisher(producers ProducerSource, log *logger.Logger, opts ...Option) *Publisher {
	if log == nil {
		log = logger.NewNop()
	}
	p := &Publisher{
		producers:   producers,
		log:         log.WithComponent("publisher").WithCategory(logger.CategoryKafka),
		source:      DefaultSource,
		environment: "development",
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish sends one event of the given category. It returns true once the
// broker acknowledged the record and false on any failure, including a panic
// inside the send path.
func (p *Publisher) Publish(ctx context.Context, category Category, action, subjectID string, payload interface{}) bool {
	return p.publish(ctx, DomainEvent{
		Category:  category,
		Action:    action,
		SubjectID: subjectID,
		Payload:   payload,
	})
}

// PublishUserAction publishes to user-actions with key user-<userID>.
// username is omitted from the record when empty.
func (p *Publisher) PublishUserAction(ctx context.Context, action, userID, username string, data map[string]interface{}) bool {
	ev := DomainEvent{
		Category:  CategoryUserAction,
		Action:    action,
		SubjectID: userID,
		Payload:   data,
	}
	if username != "" {
		ev.Attributes = map[string]interface{}{"username": username}
	}
	return p.publish(ctx, ev)
}

// PublishDataUpdate publishes to data-updates with key record-<recordID>.
func (p *Publisher) PublishDataUpdate(ctx context.Context, operation, recordID string, data map[string]interface{}) bool {
	return p.publish(ctx, DomainEvent{
		Category:  CategoryDataUpdate,
		Action:    operation,
		SubjectID: recordID,
		Payload:   data,
	})
}

// PublishSystemEvent publishes to system-events with a time-based key.
func (p *Publisher) PublishSystemEvent(ctx context.Context, event string, details map[string]interface{}) bool {
	return p.publish(ctx, DomainEvent{
		Category: CategorySystemEvent,
		Action:   event,
		Payload:  details,
	})
}

func (p *Publisher) publish(ctx context.Context, ev DomainEvent) (ok bool) {
	start := p.now()
	if ev.Timestamp.IsZero() {
		ev.Timestamp = start
	}
	if ev.Source == "" {
		ev.Source = p.source
	}

	topic := ev.Category.Topic()
	key := ev.Key()
	fields := map[string]interface{}{
		logger.FieldTopic: topic,
		logger.FieldKey:   key,
		"event_category":  string(ev.Category),
		"action":          ev.Action,
	}

	defer func() {
		if r := recover(); r != nil {
			ok = false
			fields[logger.FieldError] = fmt.Sprintf("panic: %v", r)
			fields["outcome"] = "failed"
			p.log.Error("Event publish failed", fields)
		}
	}()

	fields["payload"] = util.RedactPositional(ev.Action, ev.Payload)

	if !ev.Category.Valid() {
		fields["outcome"] = "rejected"
		fields[logger.FieldError] = fmt.Sprintf("unknown event category %q", ev.Category)
		p.log.Warn("Event publish failed", fields)
		return false
	}

	value, err := ev.Value(p.environment)
	if err != nil {
		fields["outcome"] = "rejected"
		fields[logger.FieldError] = err.Error()
		p.log.Warn("Event publish failed", fields)
		return false
	}

	ctx, span := observability.StartSpan(ctx, observability.SpanPublish,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String(observability.AttrTopic, topic),
			attribute.String(observability.AttrKey, key),
			attribute.String(observability.AttrCategory, string(ev.Category)),
		))
	defer span.End()

	headers := map[string]string{
		HeaderEventID:     uuid.NewString(),
		HeaderEventType:   string(ev.Category),
		HeaderEventSource: ev.Source,
		HeaderContentType: "application/json",
	}
	observability.InjectHeaders(ctx, headers)

	msg := kafka.Message{
		Topic:     topic,
		Key:       key,
		Value:     value,
		Headers:   headers,
		Timestamp: ev.Timestamp,
	}

	partition, offset, err := p.send(ctx, msg)
	p.metrics.RecordPublish(ctx, topic, err == nil, p.now().Sub(start))
	fields[logger.FieldDuration] = p.now().Sub(start).Milliseconds()
	fields["event_id"] = headers[HeaderEventID]

	if err != nil {
		observability.SetSpanError(span, err)
		fields["outcome"] = "failed"
		fields[logger.FieldError] = err.Error()
		if appErr := kafka.FromKafka(err, topic); appErr != nil {
			fields["error_code"] = string(appErr.Code)
			fields["retryable"] = appErr.Retryable
		}
		if errors.Is(err, resilience.ErrCircuitOpen) {
			fields["outcome"] = "short_circuited"
		}
		p.log.Warn("Event publish failed", fields)
		return false
	}

	span.SetAttributes(
		attribute.Int(observability.AttrPartition, partition),
		attribute.Int64(observability.AttrOffset, offset),
	)
	fields["outcome"] = "published"
	fields[logger.FieldPartition] = partition
	fields[logger.FieldOffset] = offset
	p.log.Info("Event published", fields)
	return true
}

// send delivers msg through the producer. Only connection failures count
// against the circuit breaker; a rejected record says nothing about broker
// health.
func (p *Publisher) send(ctx context.Context, msg kafka.Message) (partition int, offset int64, err error) {
	if p.producers == nil {
		return 0, 0, errors.New("no producer configured")
	}
	if p.breaker == nil {
		return p.sendOnce(ctx, msg)
	}

	var sendErr error
	err = p.breaker.Execute(func() error {
		partition, offset, sendErr = p.sendOnce(ctx, msg)
		if sendErr != nil && (kafka.IsConnectionError(sendErr) || errors.Is(sendErr, apperrors.ConnectionFailed(""))) {
			return sendErr
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return partition, offset, sendErr
}

func (p *Publisher) sendOnce(ctx context.Context, msg kafka.Message) (int, int64, error) {
	producer, err := p.producers.Producer(ctx)
	if err != nil {
		return 0, 0, err
	}
	return producer.Send(ctx, msg)
}
