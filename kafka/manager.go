package kafka

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/kbukum/eventbridge/errors"
	"github.com/kbukum/eventbridge/logger"
	"github.com/kbukum/eventbridge/resilience"
	"github.com/kbukum/eventbridge/util"
)

// Role identifies one of the two connection roles the Manager owns.
type Role int

const (
	RoleProducer Role = iota
	RoleConsumer
)

// String returns the role name used in logs.
func (r Role) String() string {
	switch r {
	case RoleProducer:
		return "producer"
	case RoleConsumer:
		return "consumer"
	default:
		return "unknown"
	}
}

// State is the connection state of a role.
type State int32

const (
	StateUnconnected State = iota
	StateConnecting
	StateConnected
	StateDisconnected
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUnconnected:
		return "unconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// ErrNoSubscription is returned when the consumer role is connected before
// any topics were subscribed.
var ErrNoSubscription = errors.New("consumer role has no subscription")

// slot holds one role's handle. mu serializes connect/disconnect for the
// role; state is readable without it.
type slot struct {
	mu       sync.Mutex
	state    atomic.Int32
	producer Producer
	reader   Reader
	topics   []string
}

func (s *slot) load() State     { return State(s.state.Load()) }
func (s *slot) store(st State)  { s.state.Store(int32(st)) }
func (s *slot) hasHandle() bool { return s.producer != nil || s.reader != nil }

func (s *slot) alive() bool {
	switch {
	case s.producer != nil:
		return s.producer.Alive()
	case s.reader != nil:
		return s.reader.Alive()
	default:
		return false
	}
}

func (s *slot) closeHandle() error {
	var err error
	if s.producer != nil {
		err = s.producer.Close()
		s.producer = nil
	}
	if s.reader != nil {
		err = s.reader.Close()
		s.reader = nil
	}
	return err
}

// Manager owns the producer-role and consumer-role broker connections.
// It is safe for concurrent use; the two roles never block each other.
type Manager struct {
	cfg         Config
	log         *logger.Logger
	newProducer ProducerFactory
	newReader   ReaderFactory
	policy      resilience.RetryConfig
	slots       [2]*slot
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithRetryPolicy overrides the broker connect policy. Tests use it to
// shrink backoff.
func WithRetryPolicy(p resilience.RetryConfig) ManagerOption {
	return func(m *Manager) { m.policy = p }
}

// NewManager creates a Manager. Nothing is dialed until Connect or first use.
func NewManager(cfg Config, log *logger.Logger, pf ProducerFactory, rf ReaderFactory, opts ...ManagerOption) *Manager {
	if log == nil {
		log = logger.NewNop()
	}
	m := &Manager{
		cfg:         cfg,
		log:         log.WithComponent("kafka").WithCategory(logger.CategoryKafka),
		newProducer: pf,
		newReader:   rf,
		policy:      resilience.BrokerPolicy(),
		slots:       [2]*slot{{}, {}},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Config returns the broker configuration the Manager was built with.
func (m *Manager) Config() Config { return m.cfg }

func (m *Manager) slot(role Role) *slot {
	if role == RoleConsumer {
		return m.slots[1]
	}
	return m.slots[0]
}

// State returns the current state of role.
func (m *Manager) State(role Role) State {
	return m.slot(role).load()
}

// Connect establishes role's connection. It returns nil immediately when the
// role is already connected and its transport is alive. A dead transport is
// closed and replaced. When every attempt of the broker policy fails the
// returned error is a CONNECTION_FAILED AppError.
func (m *Manager) Connect(ctx context.Context, role Role) error {
	s := m.slot(role)
	s.mu.Lock()
	defer s.mu.Unlock()
	return m.connectLocked(ctx, role, s)
}

func (m *Manager) connectLocked(ctx context.Context, role Role, s *slot) error {
	if s.load() == StateConnected {
		if s.alive() {
			return nil
		}
		m.log.Warn("Connection lost, reconnecting", map[string]interface{}{
			logger.FieldRole: role.String(),
		})
		_ = s.closeHandle()
		s.store(StateDisconnected)
	}

	if role == RoleConsumer && len(s.topics) == 0 {
		return apperrors.InvalidInput("topics", ErrNoSubscription.Error()).WithCause(ErrNoSubscription)
	}

	s.store(StateConnecting)

	policy := m.policy
	policy.Name = "kafka " + role.String()
	policy.OnRetry = func(attempt int, err error, backoff time.Duration) {
		m.log.Warn("Connection attempt failed", map[string]interface{}{
			logger.FieldRole:    role.String(),
			logger.FieldAttempt: attempt,
			"max_attempts":      policy.MaxAttempts,
			"retry_in_ms":       backoff.Milliseconds(),
			logger.FieldError:   err.Error(),
		})
	}

	start := time.Now()
	err := resilience.RetryFunc(ctx, policy, func(attempt int) error {
		m.log.Info("Connecting to broker", map[string]interface{}{
			logger.FieldRole:    role.String(),
			logger.FieldAttempt: attempt,
			"max_attempts":      policy.MaxAttempts,
			"brokers":           m.cfg.Brokers,
		})
		return m.open(ctx, role, s)
	})
	if err != nil {
		s.store(StateDisconnected)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		m.log.Error("Broker connection exhausted", map[string]interface{}{
			logger.FieldRole:  role.String(),
			"max_attempts":    policy.MaxAttempts,
			logger.FieldError: err.Error(),
		})
		return apperrors.ConnectionExhausted("kafka "+role.String(), policy.MaxAttempts, err)
	}

	s.store(StateConnected)
	fields := map[string]interface{}{
		logger.FieldRole:     role.String(),
		logger.FieldDuration: time.Since(start).Milliseconds(),
	}
	if role == RoleConsumer {
		fields["topics"] = s.topics
		fields["group_id"] = m.cfg.GroupID
	}
	m.log.Info("Broker connected", fields)
	return nil
}

func (m *Manager) open(ctx context.Context, role Role, s *slot) error {
	switch role {
	case RoleProducer:
		if m.newProducer == nil {
			return fmt.Errorf("no producer factory configured")
		}
		p, err := m.newProducer(ctx, m.cfg)
		if err != nil {
			return err
		}
		s.producer = p
	case RoleConsumer:
		if m.newReader == nil {
			return fmt.Errorf("no reader factory configured")
		}
		r, err := m.newReader(ctx, m.cfg, slices.Clone(s.topics))
		if err != nil {
			return err
		}
		s.reader = r
	default:
		return fmt.Errorf("unknown role %d", role)
	}
	return nil
}

// Disconnect closes role's connection. It is a no-op for a role that was
// never connected or is already disconnected.
func (m *Manager) Disconnect(_ context.Context, role Role) error {
	s := m.slot(role)
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasHandle() {
		if s.load() == StateConnected {
			s.store(StateDisconnected)
		}
		return nil
	}

	err := s.closeHandle()
	s.store(StateDisconnected)
	if err != nil {
		m.log.Warn("Error closing broker connection", map[string]interface{}{
			logger.FieldRole:  role.String(),
			logger.FieldError: err.Error(),
		})
		return fmt.Errorf("disconnect %s: %w", role, err)
	}
	m.log.Info("Broker disconnected", map[string]interface{}{
		logger.FieldRole: role.String(),
	})
	return nil
}

// Producer returns the live producer handle, connecting on first use.
func (m *Manager) Producer(ctx context.Context) (Producer, error) {
	s := m.slot(RoleProducer)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := m.connectLocked(ctx, RoleProducer, s); err != nil {
		return nil, err
	}
	return s.producer, nil
}

// Reader returns the live consumer handle, reconnecting to the current
// subscription if the previous transport died.
func (m *Manager) Reader(ctx context.Context) (Reader, error) {
	s := m.slot(RoleConsumer)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := m.connectLocked(ctx, RoleConsumer, s); err != nil {
		return nil, err
	}
	return s.reader, nil
}

// Subscribe binds the consumer role to topics and connects it. Duplicate
// topic names are dropped, keeping first-seen order. Subscribing to a
// different topic set replaces the existing reader.
func (m *Manager) Subscribe(ctx context.Context, topics []string) (Reader, error) {
	topics = uniqueTopics(topics)
	if len(topics) == 0 {
		return nil, apperrors.InvalidInput("topics", "at least one topic is required")
	}

	s := m.slot(RoleConsumer)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hasHandle() && !slices.Equal(s.topics, topics) {
		_ = s.closeHandle()
		s.store(StateDisconnected)
	}
	s.topics = topics

	if err := m.connectLocked(ctx, RoleConsumer, s); err != nil {
		return nil, err
	}
	return s.reader, nil
}

// Topics returns the consumer role's current subscription.
func (m *Manager) Topics() []string {
	s := m.slot(RoleConsumer)
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.topics)
}

// ReaderMetrics returns consumer lag metrics when the reader exposes them.
func (m *Manager) ReaderMetrics() (ReaderMetrics, bool) {
	s := m.slot(RoleConsumer)
	s.mu.Lock()
	r := s.reader
	s.mu.Unlock()
	if sr, ok := r.(StatsReader); ok {
		return sr.Metrics(), true
	}
	return ReaderMetrics{}, false
}

// Close disconnects both roles. Consumer first, so no record is fetched
// after the producer is gone.
func (m *Manager) Close(ctx context.Context) error {
	return errors.Join(
		m.Disconnect(ctx, RoleConsumer),
		m.Disconnect(ctx, RoleProducer),
	)
}

func uniqueTopics(topics []string) []string {
	nonEmpty := make([]string, 0, len(topics))
	for _, t := range topics {
		if t = strings.TrimSpace(t); t != "" {
			nonEmpty = append(nonEmpty, t)
		}
	}
	return util.Union(nonEmpty)
}
