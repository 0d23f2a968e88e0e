package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kbukum/eventbridge/cdc"
	apperrors "github.com/kbukum/eventbridge/errors"
	"github.com/kbukum/eventbridge/kafka"
	"github.com/kbukum/eventbridge/logger"
	"github.com/kbukum/eventbridge/observability"
	"github.com/kbukum/eventbridge/util"
)

const (
	// DefaultSummaryEvery is how many records pass between summary logs.
	DefaultSummaryEvery = 100
	defaultBackoffStep  = time.Second
	defaultMaxBackoff   = 30 * time.Second
	commitTimeout       = 5 * time.Second
	// loggedReadFailures bounds how many consecutive read errors are logged.
	loggedReadFailures = 3
)

// ErrNotSubscribed is returned by Run before Subscribe succeeded.
var ErrNotSubscribed = errors.New("dispatcher has no subscription")

// Source is the consumer side of the broker connection. *kafka.Manager
// satisfies it.
type Source interface {
	Subscribe(ctx context.Context, topics []string) (kafka.Reader, error)
	Reader(ctx context.Context) (kafka.Reader, error)
	Disconnect(ctx context.Context, role kafka.Role) error
}

type lagSource interface {
	ReaderMetrics() (kafka.ReaderMetrics, bool)
}

// Dispatcher pulls records from the subscribed topics and routes them.
type Dispatcher struct {
	source  Source
	handler Handler
	log     *logger.Logger
	metrics *observability.Metrics
	guard   RedeliveryGuard
	now     func() time.Time

	summaryEvery int64
	backoffStep  time.Duration
	maxBackoff   time.Duration

	state     atomic.Int32
	processed atomic.Int64
	errors    atomic.Int64

	mu        sync.Mutex
	topics    []string
	cdcTopics map[string]bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMetrics records per-record counters and latency.
func WithMetrics(m *observability.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithRedeliveryGuard skips records the guard has already seen.
func WithRedeliveryGuard(g RedeliveryGuard) Option {
	return func(d *Dispatcher) { d.guard = g }
}

// WithSummaryEvery changes how often the progress summary is logged.
func WithSummaryEvery(n int64) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.summaryEvery = n
		}
	}
}

// WithReadBackoff sets the linear backoff applied after failed reads.
func WithReadBackoff(step, limit time.Duration) Option {
	return func(d *Dispatcher) {
		d.backoffStep = step
		d.maxBackoff = limit
	}
}

// WithClock overrides the time source used for Stats timestamps.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// New creates a stopped Dispatcher.
func New(source Source, handler Handler, log *logger.Logger, opts ...Option) *Dispatcher {
	if log == nil {
		log = logger.NewNop()
	}
	if handler == nil {
		handler = HandlerFuncs{}
	}
	d := &Dispatcher{
		source:       source,
		handler:      handler,
		log:          log.WithComponent("dispatcher").WithCategory(logger.CategoryKafka),
		now:          time.Now,
		summaryEvery: DefaultSummaryEvery,
		backoffStep:  defaultBackoffStep,
		maxBackoff:   defaultMaxBackoff,
		cdcTopics:    map[string]bool{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Subscribe binds the consumer role to the union of topics and cdcTopics.
// Duplicates are dropped, keeping first-seen order. A topic in both lists is
// treated as a CDC topic. Reading starts at the newest offset for groups
// without a committed position.
func (d *Dispatcher) Subscribe(ctx context.Context, topics, cdcTopics []string) error {
	all := util.Union(clean(append(append([]string{}, topics...), cdcTopics...)))
	if len(all) == 0 {
		return apperrors.InvalidInput("topics", "no application or CDC topics configured")
	}

	if _, err := d.source.Subscribe(ctx, all); err != nil {
		d.log.Error("Subscription failed", map[string]interface{}{
			"topics":          all,
			logger.FieldError: err.Error(),
		})
		return fmt.Errorf("subscribe %s: %w", strings.Join(all, ","), err)
	}

	set := make(map[string]bool, len(cdcTopics))
	for _, t := range clean(cdcTopics) {
		set[t] = true
	}

	d.mu.Lock()
	d.topics = all
	d.cdcTopics = set
	d.mu.Unlock()

	d.log.Info("Subscribed to topics", map[string]interface{}{
		"topics":     all,
		"cdc_topics": util.Union(clean(cdcTopics)),
	})
	return nil
}

// Topics returns the subscribed topic union.
func (d *Dispatcher) Topics() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.topics...)
}

// IsCDCTopic reports whether records from topic go through the normalizer.
func (d *Dispatcher) IsCDCTopic(topic string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cdcTopics[topic]
}

// State returns the current lifecycle state.
func (d *Dispatcher) State() State { return State(d.state.Load()) }

// Stats returns a snapshot of the counters. Safe from any goroutine.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		IsRunning:      d.State() == StateRunning,
		ProcessedCount: d.processed.Load(),
		ErrorCount:     d.errors.Load(),
		Timestamp:      d.now().UTC(),
	}
}

// Run consumes records until ctx is canceled or Stop is called. Calling Run
// while the dispatcher is already running logs a warning and returns nil.
func (d *Dispatcher) Run(ctx context.Context) error {
	if !d.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) {
		d.log.Warn("Dispatcher already running", map[string]interface{}{
			"state": d.State().String(),
		})
		return nil
	}

	d.mu.Lock()
	if len(d.topics) == 0 {
		d.mu.Unlock()
		d.state.Store(int32(StateStopped))
		return ErrNotSubscribed
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	d.cancel, d.done = cancel, done
	topics := append([]string(nil), d.topics...)
	d.mu.Unlock()

	defer func() {
		cancel()
		d.mu.Lock()
		d.cancel = nil
		d.mu.Unlock()
		d.state.Store(int32(StateStopped))
		close(done)
	}()

	if !d.state.CompareAndSwap(int32(StateStarting), int32(StateRunning)) {
		// Stop arrived before the loop started.
		return nil
	}
	d.log.Info("Dispatcher started", map[string]interface{}{"topics": topics})

	d.loop(runCtx)

	st := d.Stats()
	d.log.Info("Dispatcher stopped", map[string]interface{}{
		"processed_count": st.ProcessedCount,
		"error_count":     st.ErrorCount,
	})
	return nil
}

func (d *Dispatcher) loop(ctx context.Context) {
	failures := 0
	for ctx.Err() == nil {
		reader, err := d.source.Reader(ctx)
		if err == nil {
			var msg kafka.Message
			msg, err = reader.FetchMessage(ctx)
			if err == nil {
				failures = 0
				d.process(ctx, msg)
				d.commit(ctx, reader, msg)
				continue
			}
		}
		if ctx.Err() != nil {
			return
		}
		failures++
		if !d.backoff(ctx, failures, err) {
			return
		}
	}
}

// backoff waits step*failures, capped at maxBackoff. Only the first few
// consecutive failures are logged. It returns false when ctx ends first.
func (d *Dispatcher) backoff(ctx context.Context, failures int, err error) bool {
	if failures <= loggedReadFailures {
		d.log.Error("Broker read error", map[string]interface{}{
			logger.FieldError: err.Error(),
			"failures":        failures,
		})
	}
	wait := time.Duration(failures) * d.backoffStep
	if wait > d.maxBackoff {
		wait = d.maxBackoff
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// process handles one record. It never panics and never returns an error;
// failures only move the error counter.
func (d *Dispatcher) process(ctx context.Context, msg kafka.Message) {
	n := d.processed.Add(1)
	start := time.Now()

	// The in-flight record finishes even when Stop cancels the loop.
	hctx := observability.ExtractHeaders(context.WithoutCancel(ctx), msg.Headers)
	hctx, span := observability.StartSpan(hctx, observability.SpanProcess,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String(observability.AttrTopic, msg.Topic),
			attribute.Int(observability.AttrPartition, msg.Partition),
			attribute.Int64(observability.AttrOffset, msg.Offset),
		))

	kind := "app"
	if d.IsCDCTopic(msg.Topic) {
		kind = "cdc"
	}
	err := d.safeHandle(hctx, msg, kind == "cdc")
	observability.SetSpanError(span, err)
	span.End()
	d.metrics.RecordProcessed(hctx, msg.Topic, kind, time.Since(start), err)

	if err != nil {
		errCount := d.errors.Add(1)
		d.log.Error("Error processing message", map[string]interface{}{
			logger.FieldTopic:     msg.Topic,
			logger.FieldPartition: msg.Partition,
			logger.FieldOffset:    msg.Offset,
			logger.FieldKey:       msg.Key,
			"error_count":         errCount,
			logger.FieldError:     err.Error(),
		})
	}

	if n%d.summaryEvery == 0 {
		fields := map[string]interface{}{
			"processed_count":     n,
			"error_count":         d.errors.Load(),
			logger.FieldTopic:     msg.Topic,
			logger.FieldPartition: msg.Partition,
			"last_offset":         msg.Offset,
		}
		if ls, ok := d.source.(lagSource); ok {
			if m, ok := ls.ReaderMetrics(); ok {
				fields["lag"] = m.Lag
			}
		}
		d.log.Info("Processing summary", fields)
	}
}

func (d *Dispatcher) safeHandle(ctx context.Context, msg kafka.Message, isCDC bool) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return d.handle(ctx, msg, isCDC)
}

func (d *Dispatcher) handle(ctx context.Context, msg kafka.Message, isCDC bool) error {
	var (
		env     cdc.Envelope
		payload interface{}
		err     error
	)
	if isCDC {
		env, err = cdc.Decode(msg.Value)
	} else {
		err = msg.UnmarshalValueJSON(&payload)
	}
	if err != nil {
		return apperrors.MalformedRecord(msg.Topic, err)
	}

	if d.guard != nil {
		first, gerr := d.guard.FirstSeen(ctx, msg)
		switch {
		case gerr != nil:
			d.log.Warn("Redelivery guard unavailable", map[string]interface{}{
				logger.FieldTopic:  msg.Topic,
				logger.FieldOffset: msg.Offset,
				logger.FieldError:  gerr.Error(),
			})
		case !first:
			d.log.Debug("Skipping redelivered record", map[string]interface{}{
				logger.FieldTopic:     msg.Topic,
				logger.FieldPartition: msg.Partition,
				logger.FieldOffset:    msg.Offset,
			})
			return nil
		}
	}

	if !isCDC {
		return d.handler.HandleApplication(ctx, msg, payload)
	}

	ev := cdc.Normalize(env)
	switch ev.EventType {
	case cdc.EventInsert:
		return d.handler.HandleInsert(ctx, ev, msg)
	case cdc.EventUpdate:
		return d.handler.HandleUpdate(ctx, ev, msg)
	case cdc.EventDelete:
		return d.handler.HandleDelete(ctx, ev, msg)
	default:
		return d.handler.HandleUnknown(ctx, ev, msg)
	}
}

// commit acknowledges msg whether or not it was handled successfully.
func (d *Dispatcher) commit(ctx context.Context, reader kafka.Reader, msg kafka.Message) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer cancel()
	if err := reader.CommitMessages(cctx, msg); err != nil {
		d.log.Warn("Offset commit failed", map[string]interface{}{
			logger.FieldTopic:     msg.Topic,
			logger.FieldPartition: msg.Partition,
			logger.FieldOffset:    msg.Offset,
			logger.FieldError:     err.Error(),
		})
	}
}

// Stop ends the loop, waits for the in-flight record and disconnects the
// consumer role. It is idempotent and safe to call from a signal handler.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.mu.Unlock()

	if cancel != nil {
		if d.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) ||
			d.state.CompareAndSwap(int32(StateStarting), int32(StateStopping)) {
			d.log.Info("Stopping dispatcher")
		}
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return d.source.Disconnect(ctx, kafka.RoleConsumer)
}

func clean(topics []string) []string {
	out := make([]string, 0, len(topics))
	for _, t := range topics {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
