package redis

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/kbukum/eventbridge/component"
	"github.com/kbukum/eventbridge/kafka"
)

// newTestClient creates a Client backed by miniredis.
func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mini := miniredis.RunT(t)

	cfg := Config{
		Enabled: true,
		Addr:    mini.Addr(),
	}
	client, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("failed to create redis client: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client, mini
}

func TestSeenSet_FirstSeen(t *testing.T) {
	client, mini := newTestClient(t)
	seen := NewSeenSet(client, "", 0)
	ctx := context.Background()
	msg := kafka.Message{Topic: "user-actions", Partition: 2, Offset: 41}

	first, err := seen.FirstSeen(ctx, msg)
	if err != nil || !first {
		t.Fatalf("FirstSeen() = %v, %v, want true, nil", first, err)
	}
	again, err := seen.FirstSeen(ctx, msg)
	if err != nil {
		t.Fatalf("FirstSeen() redelivery error = %v", err)
	}
	if again {
		t.Error("FirstSeen() = true for a redelivered record")
	}

	key := "eventbridge:seen:user-actions/2/41"
	if seen.Key(msg) != key {
		t.Errorf("Key() = %q, want %q", seen.Key(msg), key)
	}
	if ttl := mini.TTL(key); ttl != DefaultSeenTTL {
		t.Errorf("TTL = %s, want %s", ttl, DefaultSeenTTL)
	}
}

func TestSeenSet_DistinctOffsets(t *testing.T) {
	client, _ := newTestClient(t)
	seen := NewSeenSet(client, "test", time.Minute)
	ctx := context.Background()

	for _, msg := range []kafka.Message{
		{Topic: "data-updates", Partition: 0, Offset: 1},
		{Topic: "data-updates", Partition: 0, Offset: 2},
		{Topic: "data-updates", Partition: 1, Offset: 1},
		{Topic: "system-events", Partition: 0, Offset: 1},
	} {
		first, err := seen.FirstSeen(ctx, msg)
		if err != nil || !first {
			t.Errorf("FirstSeen(%s/%d/%d) = %v, %v, want true", msg.Topic, msg.Partition, msg.Offset, first, err)
		}
	}
}

func TestSeenSet_ExpiredMarkerIsFirstAgain(t *testing.T) {
	client, mini := newTestClient(t)
	seen := NewSeenSet(client, "test", time.Hour)
	ctx := context.Background()
	msg := kafka.Message{Topic: "t", Offset: 9}

	if first, _ := seen.FirstSeen(ctx, msg); !first {
		t.Fatal("expected first delivery")
	}
	mini.FastForward(2 * time.Hour)
	first, err := seen.FirstSeen(ctx, msg)
	if err != nil || !first {
		t.Errorf("FirstSeen() after expiry = %v, %v, want true", first, err)
	}
}

func TestSeenSet_UnavailableReturnsError(t *testing.T) {
	client, mini := newTestClient(t)
	seen := NewSeenSet(client, "", 0)
	mini.Close()

	_, err := seen.FirstSeen(context.Background(), kafka.Message{Topic: "t"})
	if err == nil {
		t.Fatal("FirstSeen() error = nil with redis down")
	}
	if !strings.Contains(err.Error(), "redelivery guard") {
		t.Errorf("error = %q, want redelivery guard context", err)
	}
}

func TestConfig_Defaults(t *testing.T) {
	cfg := Config{Enabled: true, Addr: "localhost:6379"}
	cfg.ApplyDefaults()
	if cfg.KeyPrefix != DefaultKeyPrefix {
		t.Errorf("KeyPrefix = %q, want %q", cfg.KeyPrefix, DefaultKeyPrefix)
	}
	if cfg.SeenTTL != DefaultSeenTTL {
		t.Errorf("SeenTTL = %s, want %s", cfg.SeenTTL, DefaultSeenTTL)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}

	cfg.SeenTTL = -time.Second
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() accepted a negative seen_ttl")
	}

	cfg = Config{Enabled: true}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() accepted an empty addr")
	}
}

func TestComponent_Lifecycle(t *testing.T) {
	mini := miniredis.RunT(t)
	comp := NewComponent(Config{Enabled: true, Addr: mini.Addr(), SeenTTL: time.Hour}, nil)
	var _ component.Component = comp
	ctx := context.Background()

	if comp.SeenSet() != nil {
		t.Error("SeenSet() should be nil before Start")
	}
	if err := comp.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if h := comp.Health(ctx); h.Status != component.StatusHealthy {
		t.Errorf("Health() = %+v, want healthy", h)
	}

	seen := comp.SeenSet()
	if seen == nil {
		t.Fatal("SeenSet() = nil after Start")
	}
	if _, err := seen.FirstSeen(ctx, kafka.Message{Topic: "t", Offset: 1}); err != nil {
		t.Fatalf("FirstSeen() error = %v", err)
	}
	if ttl := mini.TTL(seen.Key(kafka.Message{Topic: "t", Offset: 1})); ttl != time.Hour {
		t.Errorf("TTL = %s, want 1h", ttl)
	}

	mini.Close()
	if h := comp.Health(ctx); h.Status != component.StatusDegraded {
		t.Errorf("Health() with redis down = %s, want degraded", h.Status)
	}
	if err := comp.Stop(ctx); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestComponent_Disabled(t *testing.T) {
	comp := NewComponent(Config{}, nil)
	ctx := context.Background()
	if err := comp.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if comp.Client() != nil || comp.SeenSet() != nil {
		t.Error("disabled component created a client")
	}
	if h := comp.Health(ctx); h.Message != "disabled" {
		t.Errorf("Health() = %+v, want disabled", h)
	}
}

func TestComponent_StartFailsWhenUnreachable(t *testing.T) {
	mini := miniredis.RunT(t)
	addr := mini.Addr()
	mini.Close()

	comp := NewComponent(Config{Enabled: true, Addr: addr, DialTimeout: 100 * time.Millisecond, MaxRetries: 1}, nil)
	if err := comp.Start(context.Background()); err == nil {
		t.Fatal("Start() error = nil with redis down")
	}
	if comp.Client() != nil {
		t.Error("Client() should be nil after failed Start")
	}
}
