package redis

import (
	"fmt"
	"time"
)

// Config holds the Redis connection and redelivery guard settings.
type Config struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`

	// PoolSize caps the socket connections. The guard issues one command per
	// record, so a small pool is enough.
	PoolSize int `yaml:"pool_size" mapstructure:"pool_size"`

	// MaxRetries is how many times go-redis retries a failed command.
	MaxRetries int `yaml:"max_retries" mapstructure:"max_retries"`

	DialTimeout  time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`

	// KeyPrefix namespaces the redelivery markers.
	KeyPrefix string `yaml:"key_prefix" mapstructure:"key_prefix"`

	// SeenTTL is how long a processed record is remembered.
	SeenTTL time.Duration `yaml:"seen_ttl" mapstructure:"seen_ttl"`
}

// ApplyDefaults fills zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.PoolSize <= 0 {
		c.PoolSize = 4
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = time.Second
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = DefaultKeyPrefix
	}
	if c.SeenTTL <= 0 {
		c.SeenTTL = DefaultSeenTTL
	}
}

// Validate checks an enabled configuration. A disabled one is always valid.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Addr == "" {
		return fmt.Errorf("redis addr is required")
	}
	if c.PoolSize <= 0 {
		return fmt.Errorf("pool_size must be > 0")
	}
	if c.DB < 0 {
		return fmt.Errorf("db must be >= 0, got %d", c.DB)
	}
	if c.SeenTTL <= 0 {
		return fmt.Errorf("seen_ttl must be a positive duration, got %s", c.SeenTTL)
	}
	return nil
}
