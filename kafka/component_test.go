package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/kbukum/eventbridge/component"
	"github.com/kbukum/eventbridge/logger"
)

func TestComponentHealth(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()
	c := NewComponent(NewManager(cfg, logger.NewNop(), nil, nil))

	c.ping = func(context.Context, *Config) error { return nil }
	if h := c.Health(context.Background()); h.Status != component.StatusHealthy {
		t.Errorf("expected healthy, got %s (%s)", h.Status, h.Message)
	}

	c.ping = func(context.Context, *Config) error { return errors.New("connection refused") }
	h := c.Health(context.Background())
	if h.Status != component.StatusUnhealthy {
		t.Errorf("expected unhealthy, got %s", h.Status)
	}
	if h.Name != "kafka" {
		t.Errorf("expected name kafka, got %q", h.Name)
	}
}

func TestComponentStopIsSafeWhenIdle(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()
	c := NewComponent(NewManager(cfg, logger.NewNop(), nil, nil))
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}
