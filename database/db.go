package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	apperrors "github.com/kbukum/eventbridge/errors"
	"github.com/kbukum/eventbridge/logger"
	"github.com/kbukum/eventbridge/resilience"
)

// DB wraps a GORM database with structured logging.
type DB struct {
	GormDB *gorm.DB
	log    *logger.Logger
	cfg    Config
	closed bool
	mu     sync.Mutex
}

// Option configures Open.
type Option func(*openOptions)

type openOptions struct {
	dialector gorm.Dialector
}

// WithDialector overrides the dialector derived from Config.Driver.
func WithDialector(d gorm.Dialector) Option {
	return func(o *openOptions) { o.dialector = d }
}

// Dialector returns the GORM dialector for cfg.Driver.
func Dialector(cfg Config) (gorm.Dialector, error) {
	switch cfg.Driver {
	case DriverMySQL, "":
		return mysql.Open(cfg.DSN), nil
	case DriverSQLite:
		return sqlite.Open(cfg.DSN), nil
	default:
		return nil, apperrors.InvalidConfig("database.driver", fmt.Sprintf("unsupported driver %q", cfg.Driver))
	}
}

// Open connects to the database, retrying on the store policy: MaxRetries
// attempts separated by a fixed RetryDelay (10 x 3s by default). Every
// attempt logs connection_success or connection_failed. When all attempts
// fail it logs database_connection_exhausted and returns a nil DB with a
// CONNECTION_FAILED AppError. It never panics.
func Open(ctx context.Context, cfg Config, log *logger.Logger, opts ...Option) (*DB, error) {
	cfg.ApplyDefaults()
	if log == nil {
		log = logger.NewNop()
	}
	log = log.WithComponent("database").WithCategory(logger.CategoryDatabase)

	o := openOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.dialector == nil {
		d, err := Dialector(cfg)
		if err != nil {
			return nil, err
		}
		o.dialector = d
	}

	slowThreshold, _ := time.ParseDuration(cfg.SlowQueryThreshold)
	gormCfg := &gorm.Config{
		Logger: newGormLogger(log, slowThreshold, parseLogLevel(cfg.LogLevel)),
	}

	policy := cfg.retryPolicy()
	policy.Name = "database"

	db, err := resilience.Retry(ctx, policy, func(attempt int) (*gorm.DB, error) {
		db, err := connect(ctx, o.dialector, gormCfg)
		if err != nil {
			log.EventWarn("connection_failed", logger.SystemUser, map[string]interface{}{
				logger.FieldAttempt: attempt,
				"max_attempts":      policy.MaxAttempts,
				"driver":            cfg.Driver,
				logger.FieldError:   err.Error(),
			})
			return nil, err
		}
		log.Event("connection_success", logger.SystemUser, map[string]interface{}{
			logger.FieldAttempt: attempt,
			"driver":            cfg.Driver,
		})
		return db, nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("database connection canceled: %w", ctxErr)
		}
		log.EventError("database_connection_exhausted", err, logger.SystemUser, map[string]interface{}{
			"max_attempts": policy.MaxAttempts,
			"driver":       cfg.Driver,
		})
		return nil, apperrors.ConnectionExhausted("database", policy.MaxAttempts, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	if lifetime, parseErr := time.ParseDuration(cfg.ConnMaxLifetime); parseErr == nil {
		sqlDB.SetConnMaxLifetime(lifetime)
	}
	if idleTime, parseErr := time.ParseDuration(cfg.ConnMaxIdleTime); parseErr == nil {
		sqlDB.SetConnMaxIdleTime(idleTime)
	}

	return &DB{GormDB: db, log: log, cfg: cfg}, nil
}

// connect opens one connection and verifies it with a ping.
func connect(ctx context.Context, d gorm.Dialector, gormCfg *gorm.Config) (db *gorm.DB, err error) {
	defer func() {
		if r := recover(); r != nil {
			db, err = nil, fmt.Errorf("database driver panic: %v", r)
		}
	}()

	db, err = gorm.Open(d, gormCfg)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the underlying sql.DB connection pool. Safe to call multiple times.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}

	sqlDB, err := d.GormDB.DB()
	if err != nil {
		return err
	}
	d.log.Info("Closing database connection")
	d.closed = true
	return sqlDB.Close()
}

// PingContext verifies the database connection is alive, respecting the context.
func (d *DB) PingContext(ctx context.Context) error {
	sqlDB, err := d.GormDB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// WithContext returns a GORM session scoped to the given context.
func (d *DB) WithContext(ctx context.Context) *gorm.DB {
	return d.GormDB.WithContext(ctx)
}

// AutoMigrate runs GORM auto-migration for the given models.
func (d *DB) AutoMigrate(models ...interface{}) error {
	d.log.Info("Running auto-migration", map[string]interface{}{
		"models": len(models),
	})
	for _, model := range models {
		if err := d.GormDB.AutoMigrate(model); err != nil {
			return fmt.Errorf("failed to migrate %T: %w", model, err)
		}
	}
	d.log.Info("Auto-migration completed")
	return nil
}

// HealthStatus is a point-in-time view of the connection pool.
type HealthStatus struct {
	Connected  bool          `json:"connected"`
	Error      string        `json:"error,omitempty"`
	Latency    time.Duration `json:"latency"`
	OpenConns  int           `json:"open_connections"`
	InUseConns int           `json:"in_use_connections"`
	IdleConns  int           `json:"idle_connections"`
}

// CheckHealth pings the database and reports pool statistics.
func (d *DB) CheckHealth(ctx context.Context) HealthStatus {
	start := time.Now()

	sqlDB, err := d.GormDB.DB()
	if err != nil {
		return HealthStatus{Connected: false, Error: err.Error(), Latency: time.Since(start)}
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		return HealthStatus{Connected: false, Error: err.Error(), Latency: time.Since(start)}
	}

	stats := sqlDB.Stats()
	return HealthStatus{
		Connected:  true,
		Latency:    time.Since(start),
		OpenConns:  stats.OpenConnections,
		InUseConns: stats.InUse,
		IdleConns:  stats.Idle,
	}
}
