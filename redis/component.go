package redis

import (
	"context"
	"fmt"

	"github.com/kbukum/eventbridge/component"
	"github.com/kbukum/eventbridge/logger"
)

// Component wraps Client and implements component.Component for lifecycle management.
type Component struct {
	client *Client
	cfg    Config
	log    *logger.Logger
}

// NewComponent creates a Redis component for use with the component registry.
func NewComponent(cfg Config, log *logger.Logger) *Component {
	cfg.ApplyDefaults()
	if log == nil {
		log = logger.NewNop()
	}
	return &Component{
		cfg: cfg,
		log: log.WithComponent("redis"),
	}
}

// Client returns the underlying *Client, or nil if not started.
func (c *Component) Client() *Client {
	return c.client
}

// SeenSet returns a redelivery guard backed by the started client, or nil
// if the component is disabled or not started.
func (c *Component) SeenSet() *SeenSet {
	if c.client == nil {
		return nil
	}
	return NewSeenSet(c.client, c.cfg.KeyPrefix, c.cfg.SeenTTL)
}

// ensure Component satisfies component.Component
var _ component.Component = (*Component)(nil)

// Name returns the component name.
func (c *Component) Name() string { return "redis" }

// Start initializes the Redis client and verifies connectivity. A disabled
// component starts without a client.
func (c *Component) Start(ctx context.Context) error {
	if !c.cfg.Enabled {
		return nil
	}
	client, err := New(c.cfg, c.log)
	if err != nil {
		return fmt.Errorf("redis start: %w", err)
	}

	if err := client.Ping(ctx); err != nil {
		_ = client.Close()
		return fmt.Errorf("redis start ping: %w", err)
	}

	c.client = client
	c.log.Info("Redis component started")
	return nil
}

// Stop gracefully closes the Redis connection.
func (c *Component) Stop(_ context.Context) error {
	if c.client == nil {
		return nil
	}
	c.log.Info("Redis component stopping")
	return c.client.Close()
}

// Health returns the current health status of the Redis connection.
func (c *Component) Health(ctx context.Context) component.Health {
	if !c.cfg.Enabled {
		return component.Health{
			Name:    c.Name(),
			Status:  component.StatusHealthy,
			Message: "disabled",
		}
	}
	if c.client == nil {
		return component.Health{
			Name:    c.Name(),
			Status:  component.StatusUnhealthy,
			Message: "redis not initialized",
		}
	}

	if err := c.client.Ping(ctx); err != nil {
		return component.Health{
			Name:    c.Name(),
			Status:  component.StatusDegraded,
			Message: fmt.Sprintf("ping failed: %v", err),
		}
	}

	return component.Health{
		Name:   c.Name(),
		Status: component.StatusHealthy,
	}
}

// Describe returns infrastructure summary info for the startup log.
func (c *Component) Describe() component.Description {
	return component.Description{
		Name:    "Redis",
		Type:    "redis",
		Details: fmt.Sprintf("%s db=%d pool=%d seen_ttl=%s", c.cfg.Addr, c.cfg.DB, c.cfg.PoolSize, c.cfg.SeenTTL),
	}
}
