package bridge

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/kbukum/eventbridge/bootstrap"
	"github.com/kbukum/eventbridge/database"
	"github.com/kbukum/eventbridge/dispatch"
	"github.com/kbukum/eventbridge/events"
	"github.com/kbukum/eventbridge/kafka"
	"github.com/kbukum/eventbridge/kafka/consumer"
	"github.com/kbukum/eventbridge/kafka/producer"
	"github.com/kbukum/eventbridge/logger"
	"github.com/kbukum/eventbridge/observability"
	"github.com/kbukum/eventbridge/redis"
	"github.com/kbukum/eventbridge/resilience"
	"github.com/kbukum/eventbridge/server"
	"github.com/kbukum/eventbridge/version"
)

// Lifecycle events published on system-events.
const (
	EventServiceStarted  = "service_started"
	EventServiceStopping = "service_stopping"
)

// Service wires the broker connections, the publisher, the dispatcher and
// the optional infrastructure into one bootstrap application.
type Service struct {
	app       *bootstrap.App[*AppConfig]
	cfg       *AppConfig
	log       *logger.Logger
	manager   *kafka.Manager
	publisher *events.Publisher
	metrics   *observability.Metrics
	db        *database.Component
	redis     *redis.Component
	health    *server.Server

	dispatchOpts []dispatch.Option
	dispatcher   atomic.Pointer[dispatch.Dispatcher]
	telemetry    observability.ShutdownFunc
}

type serviceOptions struct {
	producers    kafka.ProducerFactory
	readers      kafka.ReaderFactory
	managerOpts  []kafka.ManagerOption
	databaseOpts []database.Option
	dispatchOpts []dispatch.Option
	appOpts      []bootstrap.Option
}

// Option configures a Service.
type Option func(*serviceOptions)

// WithTransports replaces the sarama producer and kafka-go reader factories.
func WithTransports(pf kafka.ProducerFactory, rf kafka.ReaderFactory) Option {
	return func(o *serviceOptions) {
		o.producers = pf
		o.readers = rf
	}
}

// WithManagerOptions passes options to the broker connection manager.
func WithManagerOptions(opts ...kafka.ManagerOption) Option {
	return func(o *serviceOptions) { o.managerOpts = append(o.managerOpts, opts...) }
}

// WithDatabaseOptions passes options to database.Open.
func WithDatabaseOptions(opts ...database.Option) Option {
	return func(o *serviceOptions) { o.databaseOpts = append(o.databaseOpts, opts...) }
}

// WithDispatchOptions passes extra options to the dispatcher.
func WithDispatchOptions(opts ...dispatch.Option) Option {
	return func(o *serviceOptions) { o.dispatchOpts = append(o.dispatchOpts, opts...) }
}

// WithAppOptions passes options to bootstrap.NewApp.
func WithAppOptions(opts ...bootstrap.Option) Option {
	return func(o *serviceOptions) { o.appOpts = append(o.appOpts, opts...) }
}

// New validates cfg and assembles the service. Nothing connects until Run.
func New(cfg *AppConfig, opts ...Option) (*Service, error) {
	o := &serviceOptions{}
	for _, opt := range opts {
		opt(o)
	}

	app, err := bootstrap.NewApp(cfg, o.appOpts...)
	if err != nil {
		return nil, err
	}
	log := app.Logger

	if o.producers == nil {
		o.producers = producer.NewFactory(log)
	}
	if o.readers == nil {
		o.readers = consumer.NewFactory(log)
	}

	metrics, err := observability.NewMetrics(observability.Meter("github.com/kbukum/eventbridge"))
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	s := &Service{
		app:          app,
		cfg:          cfg,
		log:          log,
		manager:      kafka.NewManager(cfg.Kafka, log, o.producers, o.readers, o.managerOpts...),
		metrics:      metrics,
		db:           database.NewComponent(cfg.Database, log, o.databaseOpts...).WithAutoMigrate(database.Models()...),
		redis:        redis.NewComponent(cfg.Redis, log),
		dispatchOpts: o.dispatchOpts,
	}

	pubOpts := []events.Option{
		events.WithSource(cfg.Name),
		events.WithEnvironment(cfg.Environment),
		events.WithMetrics(metrics),
	}
	if cfg.Publisher.CircuitBreaker {
		pubOpts = append(pubOpts, events.WithCircuitBreaker(resilience.DefaultCircuitBreakerConfig("publisher")))
	}
	s.publisher = events.NewPublisher(s.manager, log, pubOpts...)

	// Registration order is start order; components stop in reverse.
	if err := app.RegisterComponent(s.db); err != nil {
		return nil, err
	}
	if err := app.RegisterComponent(s.redis); err != nil {
		return nil, err
	}
	if err := app.RegisterComponent(kafka.NewComponent(s.manager)); err != nil {
		return nil, err
	}
	if cfg.Health.Enabled {
		s.health = server.New(cfg.Health, log)
		s.health.RegisterHealth(func() any { return s.Stats() })
		if err := app.RegisterComponent(server.NewComponent(s.health)); err != nil {
			return nil, err
		}
	}

	app.OnStart(s.startTelemetry)
	app.OnConfigure(func(ctx context.Context, _ *bootstrap.App[*AppConfig]) error {
		return s.subscribe(ctx)
	})
	app.OnReady(s.announce)
	app.Background("dispatcher", s.consume)
	app.OnStop(s.stopDispatcher, s.announceStopping, s.stopTelemetry)

	log.Info("Configuration loaded", map[string]interface{}{"config": cfg.String()})
	return s, nil
}

// Run starts everything and blocks until a signal, ctx cancellation or a
// dispatcher failure, then shuts down. A failed mandatory step (consumer
// connect or subscribe) is returned.
func (s *Service) Run(ctx context.Context) error {
	return s.app.Run(ctx)
}

// Publisher returns the event publisher for callers in the web layer.
func (s *Service) Publisher() *events.Publisher { return s.publisher }

// Manager returns the broker connection manager.
func (s *Service) Manager() *kafka.Manager { return s.manager }

// HealthServer returns the health server, or nil when disabled.
func (s *Service) HealthServer() *server.Server { return s.health }

// Dispatcher returns the dispatcher once subscribed, else nil.
func (s *Service) Dispatcher() *dispatch.Dispatcher { return s.dispatcher.Load() }

// Stats returns the dispatcher counters. Before the subscription exists it
// reports a stopped dispatcher with zero counts.
func (s *Service) Stats() dispatch.Stats {
	if d := s.dispatcher.Load(); d != nil {
		return d.Stats()
	}
	return dispatch.Stats{Timestamp: time.Now().UTC()}
}

// Shutdown runs the shutdown sequence for callers that do not use Run.
func (s *Service) Shutdown(ctx context.Context, reason string) error {
	return s.app.Shutdown(ctx, reason)
}

func (s *Service) startTelemetry(ctx context.Context) error {
	shutdown, err := observability.Setup(ctx, s.cfg.Observability, s.cfg.Name, version.Release(s.cfg.Version), s.cfg.Environment)
	if err != nil {
		s.log.Warn("Telemetry export disabled", map[string]interface{}{
			logger.FieldError: err.Error(),
		})
		return nil
	}
	s.telemetry = shutdown
	return nil
}

func (s *Service) stopTelemetry(ctx context.Context) error {
	if s.telemetry == nil {
		return nil
	}
	return s.telemetry(ctx)
}

// subscribe builds the dispatcher on top of the started components and binds
// the consumer role. Failure aborts startup.
func (s *Service) subscribe(ctx context.Context) error {
	var audit AuditStore
	if db := s.db.DB(); db != nil {
		audit = db
	}
	opts := []dispatch.Option{dispatch.WithMetrics(s.metrics)}
	if seen := s.redis.SeenSet(); seen != nil {
		opts = append(opts, dispatch.WithRedeliveryGuard(seen))
	}
	opts = append(opts, s.dispatchOpts...)

	d := dispatch.New(s.manager, NewHandlers(s.log, audit), s.log, opts...)
	app, cdcTopics := s.cfg.SubscribeTopics()
	if err := d.Subscribe(ctx, app, cdcTopics); err != nil {
		return err
	}
	s.dispatcher.Store(d)
	return nil
}

func (s *Service) consume(ctx context.Context) error {
	d := s.dispatcher.Load()
	if d == nil {
		return dispatch.ErrNotSubscribed
	}
	return d.Run(ctx)
}

// announce publishes service_started. A failed publish is logged by the
// publisher and does not block startup.
func (s *Service) announce(ctx context.Context) error {
	if !s.cfg.Topics.EnableAppTopics {
		return nil
	}
	s.publisher.PublishSystemEvent(ctx, EventServiceStarted, map[string]interface{}{
		"service":     s.cfg.Name,
		"version":     version.Release(s.cfg.Version),
		"environment": s.cfg.Environment,
		"port":        s.cfg.Health.Port,
	})
	return nil
}

func (s *Service) stopDispatcher(ctx context.Context) error {
	d := s.dispatcher.Load()
	if d == nil {
		return nil
	}
	return d.Stop(ctx)
}

// announceStopping publishes service_stopping, giving up after the
// configured stopping timeout.
func (s *Service) announceStopping(ctx context.Context) error {
	if !s.cfg.Topics.EnableAppTopics {
		return nil
	}
	reason := bootstrap.ShutdownReason(ctx)
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Publisher.StoppingTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.publisher.PublishSystemEvent(ctx, EventServiceStopping, map[string]interface{}{
			"service": s.cfg.Name,
			"reason":  reason,
		})
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("Timed out publishing "+EventServiceStopping, map[string]interface{}{
			"timeout": s.cfg.Publisher.StoppingTimeout.String(),
		})
	}
	return nil
}
