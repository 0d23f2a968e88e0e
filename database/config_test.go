package database

import (
	"strings"
	"testing"
	"time"

	"github.com/kbukum/eventbridge/resilience"
)

func TestConfig_ApplyDefaults(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()

	if cfg.Driver != DriverMySQL {
		t.Errorf("Driver = %q, want %q", cfg.Driver, DriverMySQL)
	}
	if cfg.MaxOpenConns != 25 {
		t.Errorf("MaxOpenConns = %d, want 25", cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns != 5 {
		t.Errorf("MaxIdleConns = %d, want 5", cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime != "1h" {
		t.Errorf("ConnMaxLifetime = %q, want 1h", cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime != "5m" {
		t.Errorf("ConnMaxIdleTime = %q, want 5m", cfg.ConnMaxIdleTime)
	}
	if cfg.MaxRetries != 10 {
		t.Errorf("MaxRetries = %d, want 10", cfg.MaxRetries)
	}
	if cfg.RetryDelay != "3s" {
		t.Errorf("RetryDelay = %q, want 3s", cfg.RetryDelay)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn", cfg.LogLevel)
	}
	if cfg.SlowQueryThreshold != "200ms" {
		t.Errorf("SlowQueryThreshold = %q, want 200ms", cfg.SlowQueryThreshold)
	}
}

func TestConfig_ApplyDefaults_PreservesExistingValues(t *testing.T) {
	cfg := Config{
		Driver:             " SQLite ",
		MaxOpenConns:       50,
		MaxIdleConns:       10,
		ConnMaxLifetime:    "30m",
		ConnMaxIdleTime:    "1m",
		MaxRetries:         3,
		RetryDelay:         "10ms",
		LogLevel:           "error",
		SlowQueryThreshold: "1s",
	}
	cfg.ApplyDefaults()

	if cfg.Driver != DriverSQLite {
		t.Errorf("Driver = %q, want %q", cfg.Driver, DriverSQLite)
	}
	if cfg.MaxOpenConns != 50 || cfg.MaxIdleConns != 10 {
		t.Errorf("pool = %d/%d, want 50/10", cfg.MaxOpenConns, cfg.MaxIdleConns)
	}
	if cfg.MaxRetries != 3 || cfg.RetryDelay != "10ms" {
		t.Errorf("retry = %d x %s, want 3 x 10ms", cfg.MaxRetries, cfg.RetryDelay)
	}
	if cfg.LogLevel != "error" || cfg.SlowQueryThreshold != "1s" {
		t.Errorf("logging = %s/%s, want error/1s", cfg.LogLevel, cfg.SlowQueryThreshold)
	}
}

func TestConfig_ApplyDefaults_ClampsIdleToOpen(t *testing.T) {
	cfg := Config{MaxOpenConns: 1}
	cfg.ApplyDefaults()
	if cfg.MaxIdleConns != 1 {
		t.Errorf("MaxIdleConns = %d, want 1", cfg.MaxIdleConns)
	}
}

func TestConfig_ApplyDefaults_Idempotent(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()
	first := cfg
	cfg.ApplyDefaults()
	if cfg != first {
		t.Errorf("second ApplyDefaults changed config: %+v -> %+v", first, cfg)
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		c := Config{Enabled: true, DSN: "root@tcp(127.0.0.1:4000)/app"}
		c.ApplyDefaults()
		return c
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "disabled skips validation", mutate: func(c *Config) { *c = Config{Enabled: false} }},
		{name: "missing dsn", mutate: func(c *Config) { c.DSN = "" }, wantErr: "DSN is required"},
		{name: "unknown driver", mutate: func(c *Config) { c.Driver = "postgres" }, wantErr: "unsupported database driver"},
		{name: "zero max open", mutate: func(c *Config) { c.MaxOpenConns = 0 }, wantErr: "max_open_conns"},
		{name: "zero max idle", mutate: func(c *Config) { c.MaxIdleConns = 0 }, wantErr: "max_idle_conns"},
		{name: "idle above open", mutate: func(c *Config) { c.MaxIdleConns = 30 }, wantErr: "must be <= max_open_conns"},
		{name: "bad lifetime", mutate: func(c *Config) { c.ConnMaxLifetime = "forever" }, wantErr: "conn_max_lifetime"},
		{name: "bad idle time", mutate: func(c *Config) { c.ConnMaxIdleTime = "x" }, wantErr: "conn_max_idle_time"},
		{name: "empty idle time allowed", mutate: func(c *Config) { c.ConnMaxIdleTime = "" }},
		{name: "bad retry delay", mutate: func(c *Config) { c.RetryDelay = "soon" }, wantErr: "retry_delay"},
		{name: "bad slow threshold", mutate: func(c *Config) { c.SlowQueryThreshold = "slow" }, wantErr: "slow_query_threshold"},
		{name: "zero retries", mutate: func(c *Config) { c.MaxRetries = 0 }, wantErr: "max_retries"},
		{name: "sqlite", mutate: func(c *Config) { c.Driver = DriverSQLite; c.DSN = ":memory:" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_RetryPolicy(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()
	p := cfg.retryPolicy()
	if p.MaxAttempts != resilience.StoreMaxAttempts {
		t.Errorf("MaxAttempts = %d, want %d", p.MaxAttempts, resilience.StoreMaxAttempts)
	}
	if p.InitialBackoff != 3*time.Second || p.MaxBackoff != 3*time.Second {
		t.Errorf("backoff = %s..%s, want fixed 3s", p.InitialBackoff, p.MaxBackoff)
	}
	if p.BackoffFactor != 1.0 {
		t.Errorf("BackoffFactor = %v, want 1.0", p.BackoffFactor)
	}

	cfg.MaxRetries = 2
	cfg.RetryDelay = "5ms"
	p = cfg.retryPolicy()
	if p.MaxAttempts != 2 || p.InitialBackoff != 5*time.Millisecond {
		t.Errorf("policy = %d x %s, want 2 x 5ms", p.MaxAttempts, p.InitialBackoff)
	}
}
