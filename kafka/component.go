package kafka

import (
	"context"
	"fmt"
	"strings"

	"github.com/kbukum/eventbridge/component"
)

// Component adapts a Manager to the component lifecycle. Start dials nothing;
// roles connect lazily on first use. Stop disconnects both roles.
type Component struct {
	manager *Manager
	ping    func(ctx context.Context, cfg *Config) error
}

var _ component.Component = (*Component)(nil)

// NewComponent wraps m for use with the component registry.
func NewComponent(m *Manager) *Component {
	return &Component{manager: m, ping: Ping}
}

// Manager returns the wrapped connection manager.
func (c *Component) Manager() *Manager { return c.manager }

// Name returns the component name.
func (c *Component) Name() string { return "kafka" }

// Start is a no-op; connections are established on demand.
func (c *Component) Start(_ context.Context) error { return nil }

// Stop disconnects both roles.
func (c *Component) Stop(ctx context.Context) error {
	return c.manager.Close(ctx)
}

// Health reports role states and whether any broker answers a metadata
// request. A connected role with an unreachable cluster is unhealthy; an
// idle manager with a reachable cluster is healthy.
func (c *Component) Health(ctx context.Context) component.Health {
	states := fmt.Sprintf("producer=%s consumer=%s",
		c.manager.State(RoleProducer), c.manager.State(RoleConsumer))

	cfg := c.manager.Config()
	if err := c.ping(ctx, &cfg); err != nil {
		return component.Health{
			Name:    c.Name(),
			Status:  component.StatusUnhealthy,
			Message: fmt.Sprintf("%s: %v", states, err),
		}
	}

	if c.manager.State(RoleConsumer) == StateDisconnected || c.manager.State(RoleProducer) == StateDisconnected {
		return component.Health{
			Name:    c.Name(),
			Status:  component.StatusDegraded,
			Message: states,
		}
	}

	return component.Health{
		Name:    c.Name(),
		Status:  component.StatusHealthy,
		Message: states,
	}
}

// Describe returns infrastructure summary info.
func (c *Component) Describe() component.Description {
	cfg := c.manager.Config()
	details := "brokers=" + strings.Join(cfg.Brokers, ",")
	if topics := c.manager.Topics(); len(topics) > 0 {
		details += " topics=" + strings.Join(topics, ",")
	}
	if m := cfg.Mechanism(); m != SASLNone {
		details += " sasl=" + string(m)
	}
	return component.Description{
		Name:    "Kafka",
		Type:    "kafka",
		Details: details,
	}
}
