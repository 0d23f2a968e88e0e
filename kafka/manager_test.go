package kafka_test

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "github.com/kbukum/eventbridge/errors"
	"github.com/kbukum/eventbridge/kafka"
	"github.com/kbukum/eventbridge/kafka/kafkatest"
	"github.com/kbukum/eventbridge/logger"
	"github.com/kbukum/eventbridge/resilience"
)

func fastPolicy() resilience.RetryConfig {
	p := resilience.BrokerPolicy()
	p.InitialBackoff = time.Millisecond
	p.MaxBackoff = 2 * time.Millisecond
	p.Jitter = 0
	return p
}

func newManager(b *kafkatest.Broker) *kafka.Manager {
	cfg := kafka.Config{}
	cfg.ApplyDefaults()
	return kafka.NewManager(cfg, logger.NewNop(), b.ProducerFactory(), b.ReaderFactory(),
		kafka.WithRetryPolicy(fastPolicy()))
}

func TestManagerInitialState(t *testing.T) {
	m := newManager(kafkatest.NewBroker())
	for _, role := range []kafka.Role{kafka.RoleProducer, kafka.RoleConsumer} {
		if got := m.State(role); got != kafka.StateUnconnected {
			t.Errorf("%s: expected unconnected, got %s", role, got)
		}
	}
}

func TestManagerConnectIsIdempotent(t *testing.T) {
	b := kafkatest.NewBroker()
	m := newManager(b)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := m.Connect(ctx, kafka.RoleProducer); err != nil {
			t.Fatalf("Connect #%d: %v", i, err)
		}
	}
	if got := b.ConnectCalls(kafka.RoleProducer); got != 1 {
		t.Errorf("expected one transport, got %d factory calls", got)
	}
	if got := m.State(kafka.RoleProducer); got != kafka.StateConnected {
		t.Errorf("expected connected, got %s", got)
	}
}

func TestManagerConnectRetriesThenSucceeds(t *testing.T) {
	b := kafkatest.NewBroker()
	b.FailConnects(3)
	m := newManager(b)

	if err := m.Connect(context.Background(), kafka.RoleProducer); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if got := b.ConnectCalls(kafka.RoleProducer); got != 4 {
		t.Errorf("expected 4 attempts, got %d", got)
	}
}

func TestManagerConnectExhaustion(t *testing.T) {
	b := kafkatest.NewBroker()
	b.FailConnects(100)
	m := newManager(b)

	err := m.Connect(context.Background(), kafka.RoleProducer)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, apperrors.ConnectionFailed("")) {
		t.Errorf("expected CONNECTION_FAILED, got %v", err)
	}
	if !errors.Is(err, resilience.ErrMaxRetriesExceeded) {
		t.Errorf("expected wrapped ErrMaxRetriesExceeded, got %v", err)
	}
	if got := b.ConnectCalls(kafka.RoleProducer); got != resilience.BrokerMaxAttempts {
		t.Errorf("expected %d attempts, got %d", resilience.BrokerMaxAttempts, got)
	}
	if got := m.State(kafka.RoleProducer); got != kafka.StateDisconnected {
		t.Errorf("expected disconnected after exhaustion, got %s", got)
	}
}

func TestManagerConnectCanceled(t *testing.T) {
	b := kafkatest.NewBroker()
	b.FailConnects(100)
	m := newManager(b)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := m.Connect(ctx, kafka.RoleProducer); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestManagerDisconnectIdempotent(t *testing.T) {
	m := newManager(kafkatest.NewBroker())
	ctx := context.Background()

	if err := m.Disconnect(ctx, kafka.RoleConsumer); err != nil {
		t.Fatalf("Disconnect on never-connected role: %v", err)
	}
	if got := m.State(kafka.RoleConsumer); got != kafka.StateUnconnected {
		t.Errorf("expected unconnected, got %s", got)
	}

	if err := m.Connect(ctx, kafka.RoleProducer); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := m.Disconnect(ctx, kafka.RoleProducer); err != nil {
			t.Fatalf("Disconnect #%d: %v", i, err)
		}
	}
	if got := m.State(kafka.RoleProducer); got != kafka.StateDisconnected {
		t.Errorf("expected disconnected, got %s", got)
	}
}

func TestManagerReconnectsDeadProducer(t *testing.T) {
	b := kafkatest.NewBroker()
	m := newManager(b)
	ctx := context.Background()

	p1, err := m.Producer(ctx)
	if err != nil {
		t.Fatalf("Producer: %v", err)
	}
	b.KillConnections()

	p2, err := m.Producer(ctx)
	if err != nil {
		t.Fatalf("Producer after kill: %v", err)
	}
	if p1 == p2 {
		t.Error("expected a fresh producer after the connection died")
	}
	if !p2.Alive() {
		t.Error("expected new producer to be alive")
	}
	if got := b.ConnectCalls(kafka.RoleProducer); got != 2 {
		t.Errorf("expected 2 factory calls, got %d", got)
	}
}

func TestManagerConsumerRequiresSubscription(t *testing.T) {
	m := newManager(kafkatest.NewBroker())
	err := m.Connect(context.Background(), kafka.RoleConsumer)
	if !errors.Is(err, kafka.ErrNoSubscription) {
		t.Errorf("expected ErrNoSubscription, got %v", err)
	}
}

func TestManagerSubscribeDeduplicates(t *testing.T) {
	b := kafkatest.NewBroker()
	m := newManager(b)

	_, err := m.Subscribe(context.Background(), []string{"user-actions", "data-updates", "user-actions", " ", "cdc"})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	subs := b.Subscriptions()
	if len(subs) != 1 {
		t.Fatalf("expected one reader, got %d", len(subs))
	}
	want := []string{"user-actions", "data-updates", "cdc"}
	if len(subs[0]) != len(want) {
		t.Fatalf("expected %v, got %v", want, subs[0])
	}
	for i := range want {
		if subs[0][i] != want[i] {
			t.Errorf("topic %d: expected %s, got %s", i, want[i], subs[0][i])
		}
	}
	if got := m.State(kafka.RoleConsumer); got != kafka.StateConnected {
		t.Errorf("expected connected consumer, got %s", got)
	}
}

func TestManagerRolesAreIndependent(t *testing.T) {
	b := kafkatest.NewBroker()
	m := newManager(b)
	ctx := context.Background()

	if _, err := m.Subscribe(ctx, []string{"t"}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := m.Disconnect(ctx, kafka.RoleProducer); err != nil {
		t.Fatalf("Disconnect producer: %v", err)
	}
	if got := m.State(kafka.RoleConsumer); got != kafka.StateConnected {
		t.Errorf("consumer affected by producer disconnect: %s", got)
	}

	if err := m.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := m.State(kafka.RoleConsumer); got != kafka.StateDisconnected {
		t.Errorf("expected consumer disconnected after Close, got %s", got)
	}
}
