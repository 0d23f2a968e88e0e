package bridge

import (
	"fmt"
	"time"

	"github.com/kbukum/eventbridge/config"
	"github.com/kbukum/eventbridge/database"
	apperrors "github.com/kbukum/eventbridge/errors"
	"github.com/kbukum/eventbridge/events"
	"github.com/kbukum/eventbridge/kafka"
	"github.com/kbukum/eventbridge/observability"
	"github.com/kbukum/eventbridge/redis"
	"github.com/kbukum/eventbridge/server"
	"github.com/kbukum/eventbridge/util"
)

// DefaultServiceName names the service on lifecycle events and in logs.
const DefaultServiceName = "eventbridge"

// DefaultStoppingTimeout bounds the best-effort service_stopping publish.
const DefaultStoppingTimeout = 5 * time.Second

// TopicsConfig selects what the dispatcher subscribes to.
type TopicsConfig struct {
	// EnableAppTopics subscribes to user-actions, data-updates and
	// system-events, and enables the lifecycle events.
	EnableAppTopics bool `yaml:"enable_app_topics" mapstructure:"enable_app_topics"`
	// CDC lists change-data-capture topics. Entries may themselves be
	// comma-separated.
	CDC []string `yaml:"cdc" mapstructure:"cdc"`
}

// PublisherConfig tunes the event publisher.
type PublisherConfig struct {
	// CircuitBreaker short-circuits publishes after repeated connection failures.
	CircuitBreaker bool `yaml:"circuit_breaker" mapstructure:"circuit_breaker"`
	// StoppingTimeout bounds the service_stopping publish during shutdown.
	StoppingTimeout time.Duration `yaml:"stopping_timeout" mapstructure:"stopping_timeout"`
}

// AppConfig is the process configuration. It is loaded once in main and
// passed down.
type AppConfig struct {
	config.ServiceConfig `yaml:",inline" mapstructure:",squash"`

	Kafka         kafka.Config         `yaml:"kafka" mapstructure:"kafka"`
	Topics        TopicsConfig         `yaml:"topics" mapstructure:"topics"`
	Publisher     PublisherConfig      `yaml:"publisher" mapstructure:"publisher"`
	Health        server.Config        `yaml:"health" mapstructure:"health"`
	Database      database.Config      `yaml:"database" mapstructure:"database"`
	Redis         redis.Config         `yaml:"redis" mapstructure:"redis"`
	Observability observability.Config `yaml:"observability" mapstructure:"observability"`
}

// EnvAliases maps the documented environment variables onto config keys.
// For a key with several aliases the last one set wins, so KAFKA_BROKER
// overrides KAFKA_BROKERS and NODE_ENV overrides ENVIRONMENT.
func EnvAliases() []config.EnvAlias {
	return []config.EnvAlias{
		{Env: "SERVICE_NAME", Key: "name"},
		{Env: "APP_VERSION", Key: "version"},
		{Env: "ENVIRONMENT", Key: "environment"},
		{Env: "NODE_ENV", Key: "environment"},
		{Env: "LOG_LEVEL", Key: "logging.level"},
		{Env: "LOG_FORMAT", Key: "logging.format"},

		{Env: "KAFKA_BROKERS", Key: "kafka.brokers"},
		{Env: "KAFKA_BROKER", Key: "kafka.brokers"},
		{Env: "KAFKA_SSL", Key: "kafka.ssl"},
		{Env: "KAFKA_SASL_MECHANISM", Key: "kafka.sasl_mechanism"},
		{Env: "KAFKA_SASL_USERNAME", Key: "kafka.sasl_username"},
		{Env: "KAFKA_SASL_PASSWORD", Key: "kafka.sasl_password"},
		{Env: "KAFKA_CLIENT_ID", Key: "kafka.client_id"},
		{Env: "KAFKA_GROUP_ID", Key: "kafka.group_id"},

		{Env: "ENABLE_APP_TOPICS", Key: "topics.enable_app_topics"},
		{Env: "CDC_TOPICS", Key: "topics.cdc"},

		{Env: "ENABLE_HEALTH_CHECK", Key: "health.enabled"},
		{Env: "HEALTH_CHECK_PORT", Key: "health.port"},

		{Env: "DATABASE_ENABLED", Key: "database.enabled"},
		{Env: "DATABASE_DRIVER", Key: "database.driver"},
		{Env: "DATABASE_DSN", Key: "database.dsn"},

		{Env: "REDIS_ENABLED", Key: "redis.enabled"},
		{Env: "REDIS_ADDR", Key: "redis.addr"},
		{Env: "REDIS_PASSWORD", Key: "redis.password"},

		{Env: "OTEL_ENABLED", Key: "observability.enabled"},
		{Env: "OTEL_EXPORTER_OTLP_ENDPOINT", Key: "observability.endpoint"},
		{Env: "OTEL_ENDPOINT", Key: "observability.endpoint"},
	}
}

// Defaults are the values viper falls back to when neither a config file
// nor the environment sets a key.
func Defaults() map[string]interface{} {
	return map[string]interface{}{
		"name":                     DefaultServiceName,
		"topics.enable_app_topics": true,
		"health.port":              server.DefaultPort,
		"database.auto_migrate":    true,
		"observability.insecure":   true,
	}
}

// Load reads the configuration for service from config.yml, .env and the
// environment, then applies defaults and validates it.
func Load(service string, opts ...config.LoaderOption) (*AppConfig, error) {
	cfg := &AppConfig{}
	opts = append([]config.LoaderOption{
		config.WithDefaults(Defaults()),
		config.WithEnvAliases(EnvAliases()...),
	}, opts...)
	if err := config.LoadConfig(service, cfg, opts...); err != nil {
		return nil, apperrors.InvalidConfig("config", err.Error()).WithCause(err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero values in every section.
func (c *AppConfig) ApplyDefaults() {
	if c.Name == "" {
		c.Name = DefaultServiceName
	}
	c.ServiceConfig.ApplyDefaults()
	c.Kafka.ApplyDefaults()

	var cdc []string
	for _, t := range c.Topics.CDC {
		cdc = append(cdc, util.SplitList(t)...)
	}
	c.Topics.CDC = util.Union(cdc)

	if c.Publisher.StoppingTimeout <= 0 {
		c.Publisher.StoppingTimeout = DefaultStoppingTimeout
	}
	c.Health.ApplyDefaults()
	c.Database.ApplyDefaults()
	c.Redis.ApplyDefaults()
	c.Observability.ApplyDefaults()
}

// Validate checks every section. The first failure is returned.
func (c *AppConfig) Validate() error {
	if err := c.ServiceConfig.Validate(); err != nil {
		return apperrors.InvalidConfig("service", err.Error()).WithCause(err)
	}
	if err := c.Kafka.Validate(); err != nil {
		return err
	}
	if !c.Topics.EnableAppTopics && len(c.Topics.CDC) == 0 {
		return apperrors.InvalidConfig("topics", "app topics are disabled and no CDC topics are configured")
	}
	checks := []struct {
		key string
		fn  func() error
	}{
		{"health", c.Health.Validate},
		{"database", c.Database.Validate},
		{"redis", c.Redis.Validate},
		{"observability", c.Observability.Validate},
	}
	for _, chk := range checks {
		if err := chk.fn(); err != nil {
			return apperrors.InvalidConfig(chk.key, err.Error()).WithCause(err)
		}
	}
	return nil
}

// SubscribeTopics returns the application topics (when enabled) and the CDC
// topics, in that order.
func (c *AppConfig) SubscribeTopics() (app, cdc []string) {
	if c.Topics.EnableAppTopics {
		app = events.AppTopics()
	}
	return app, c.Topics.CDC
}

// String summarizes the config for the startup log. Credentials are omitted.
func (c *AppConfig) String() string {
	return fmt.Sprintf("name=%s env=%s brokers=%v app_topics=%t cdc=%v health=%t:%d db=%t redis=%t otel=%t",
		c.Name, c.Environment, c.Kafka.Brokers, c.Topics.EnableAppTopics, c.Topics.CDC,
		c.Health.Enabled, c.Health.Port, c.Database.Enabled, c.Redis.Enabled, c.Observability.Enabled)
}
