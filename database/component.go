package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/kbukum/eventbridge/component"
	apperrors "github.com/kbukum/eventbridge/errors"
	"github.com/kbukum/eventbridge/logger"
)

// Component wraps DB and implements component.Component for lifecycle management.
type Component struct {
	db     *DB
	cfg    Config
	log    *logger.Logger
	opts   []Option
	models []interface{}
}

// NewComponent creates a database component for use with the component registry.
func NewComponent(cfg Config, log *logger.Logger, opts ...Option) *Component {
	cfg.ApplyDefaults()
	if log == nil {
		log = logger.NewNop()
	}
	return &Component{
		cfg:  cfg,
		log:  log,
		opts: opts,
	}
}

// WithAutoMigrate registers models for auto-migration on Start.
func (c *Component) WithAutoMigrate(models ...interface{}) *Component {
	c.models = append(c.models, models...)
	return c
}

// DB returns the underlying *DB, or nil if not started.
func (c *Component) DB() *DB {
	return c.db
}

// ensure Component satisfies component.Component
var _ component.Component = (*Component)(nil)

// Name returns the component name.
func (c *Component) Name() string { return "database" }

// Start connects on the store retry policy and optionally runs auto-migration.
// When the component is disabled Start does nothing.
//
// Running out of connection attempts is not a startup failure: the component
// stays up without a database, DB returns nil and Health reports unhealthy.
func (c *Component) Start(ctx context.Context) error {
	if !c.cfg.Enabled {
		return nil
	}
	db, err := Open(ctx, c.cfg, c.log, c.opts...)
	if errors.Is(err, apperrors.ConnectionFailed("")) {
		c.log.WithComponent("database").Warn("Continuing without database", map[string]interface{}{
			"driver":          c.cfg.Driver,
			logger.FieldError: err.Error(),
		})
		return nil
	}
	if err != nil {
		return fmt.Errorf("database start: %w", err)
	}
	c.db = db

	if c.cfg.AutoMigrate && len(c.models) > 0 {
		if err := c.db.AutoMigrate(c.models...); err != nil {
			return fmt.Errorf("database auto-migrate: %w", err)
		}
	}

	return nil
}

// Stop gracefully closes the database connection.
func (c *Component) Stop(_ context.Context) error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Health returns the current health status of the database.
func (c *Component) Health(ctx context.Context) component.Health {
	if !c.cfg.Enabled {
		return component.Health{
			Name:    c.Name(),
			Status:  component.StatusHealthy,
			Message: "disabled",
		}
	}
	if c.db == nil {
		return component.Health{
			Name:    c.Name(),
			Status:  component.StatusUnhealthy,
			Message: "database not initialized",
		}
	}

	h := c.db.CheckHealth(ctx)
	if !h.Connected {
		return component.Health{
			Name:    c.Name(),
			Status:  component.StatusUnhealthy,
			Message: fmt.Sprintf("ping failed: %s", h.Error),
		}
	}

	return component.Health{
		Name:    c.Name(),
		Status:  component.StatusHealthy,
		Message: fmt.Sprintf("open=%d in_use=%d idle=%d", h.OpenConns, h.InUseConns, h.IdleConns),
	}
}

// Describe returns infrastructure summary info for the startup log.
func (c *Component) Describe() component.Description {
	details := fmt.Sprintf("driver=%s pool=%d/%d", c.cfg.Driver, c.cfg.MaxOpenConns, c.cfg.MaxIdleConns)
	if c.cfg.AutoMigrate {
		details += " auto-migrate=on"
	}
	return component.Description{
		Name:    "Database",
		Type:    "database",
		Details: details,
	}
}
