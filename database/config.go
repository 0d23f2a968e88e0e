package database

import (
	"fmt"
	"strings"
	"time"

	"github.com/kbukum/eventbridge/resilience"
)

// Supported drivers. TiDB speaks the MySQL wire protocol, so DriverMySQL
// covers it.
const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

// Config holds database connection configuration.
type Config struct {
	// Enabled controls whether the database component is active.
	Enabled bool `mapstructure:"enabled"`

	// Driver selects the dialector: "mysql" (default, also TiDB) or "sqlite".
	Driver string `mapstructure:"driver"`

	// DSN is the driver-specific connection string.
	DSN string `mapstructure:"dsn"`

	// MaxOpenConns sets the maximum number of open connections to the database.
	MaxOpenConns int `mapstructure:"max_open_conns"`

	// MaxIdleConns sets the maximum number of idle connections in the pool.
	MaxIdleConns int `mapstructure:"max_idle_conns"`

	// ConnMaxLifetime is the maximum time a connection may be reused (e.g. "1h", "30m").
	ConnMaxLifetime string `mapstructure:"conn_max_lifetime"`

	// ConnMaxIdleTime is the maximum time a connection may sit idle (e.g. "5m", "10m").
	// If empty, no idle timeout is set.
	ConnMaxIdleTime string `mapstructure:"conn_max_idle_time"`

	// MaxRetries is the number of connection attempts before giving up.
	MaxRetries int `mapstructure:"max_retries"`

	// RetryDelay is the fixed pause between connection attempts (e.g. "3s").
	RetryDelay string `mapstructure:"retry_delay"`

	// AutoMigrate controls whether GORM auto-migration runs on startup.
	AutoMigrate bool `mapstructure:"auto_migrate"`

	// LogLevel is the GORM log level: silent, error, warn or info.
	LogLevel string `mapstructure:"log_level"`

	// SlowQueryThreshold is the duration above which queries are logged as slow (e.g. "200ms").
	SlowQueryThreshold string `mapstructure:"slow_query_threshold"`
}

// ApplyDefaults sets sensible defaults for zero-valued fields.
func (c *Config) ApplyDefaults() {
	c.Driver = strings.ToLower(strings.TrimSpace(c.Driver))
	if c.Driver == "" {
		c.Driver = DriverMySQL
	}
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = 25
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = 5
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		c.MaxIdleConns = c.MaxOpenConns
	}
	if c.ConnMaxLifetime == "" {
		c.ConnMaxLifetime = "1h"
	}
	if c.ConnMaxIdleTime == "" {
		c.ConnMaxIdleTime = "5m"
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = resilience.StoreMaxAttempts
	}
	if c.RetryDelay == "" {
		c.RetryDelay = resilience.StoreDelay.String()
	}
	if c.LogLevel == "" {
		c.LogLevel = "warn"
	}
	if c.SlowQueryThreshold == "" {
		c.SlowQueryThreshold = "200ms"
	}
}

// Validate checks that required fields are present and parseable.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil // skip validation when disabled
	}
	if c.Driver != DriverMySQL && c.Driver != DriverSQLite {
		return fmt.Errorf("unsupported database driver %q (want %s or %s)", c.Driver, DriverMySQL, DriverSQLite)
	}
	if c.DSN == "" {
		return fmt.Errorf("database DSN is required")
	}
	if c.MaxOpenConns <= 0 {
		return fmt.Errorf("max_open_conns must be > 0")
	}
	if c.MaxIdleConns <= 0 {
		return fmt.Errorf("max_idle_conns must be > 0")
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return fmt.Errorf("max_idle_conns (%d) must be <= max_open_conns (%d)", c.MaxIdleConns, c.MaxOpenConns)
	}
	for name, v := range map[string]string{
		"conn_max_lifetime":    c.ConnMaxLifetime,
		"retry_delay":          c.RetryDelay,
		"slow_query_threshold": c.SlowQueryThreshold,
	} {
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, v, err)
		}
	}
	if c.ConnMaxIdleTime != "" {
		if _, err := time.ParseDuration(c.ConnMaxIdleTime); err != nil {
			return fmt.Errorf("invalid conn_max_idle_time %q: %w", c.ConnMaxIdleTime, err)
		}
	}
	if c.MaxRetries <= 0 {
		return fmt.Errorf("max_retries must be > 0")
	}
	return nil
}

// retryPolicy is the store policy scaled to the configured attempts and delay.
func (c *Config) retryPolicy() resilience.RetryConfig {
	p := resilience.StorePolicy()
	if c.MaxRetries > 0 {
		p.MaxAttempts = c.MaxRetries
	}
	if d, err := time.ParseDuration(c.RetryDelay); err == nil && d > 0 {
		p.InitialBackoff = d
		p.MaxBackoff = d
	}
	return p
}
