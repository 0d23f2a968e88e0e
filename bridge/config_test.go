package bridge

import (
	"reflect"
	"strings"
	"testing"

	"github.com/kbukum/eventbridge/config"
	"github.com/kbukum/eventbridge/events"
	"github.com/kbukum/eventbridge/kafka"
)

// noFiles hides any config.yml or .env lying around the test directory.
type noFiles struct{}

func (noFiles) Exists(string) bool   { return false }
func (noFiles) LoadEnv(string) error { return nil }

func load(t *testing.T) *AppConfig {
	t.Helper()
	cfg, err := Load(DefaultServiceName, config.WithFileSystem(noFiles{}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return cfg
}

func TestLoad_Defaults(t *testing.T) {
	cfg := load(t)

	if cfg.Name != DefaultServiceName {
		t.Errorf("Name = %q, want %q", cfg.Name, DefaultServiceName)
	}
	if cfg.Environment != "development" {
		t.Errorf("Environment = %q, want development", cfg.Environment)
	}
	if !reflect.DeepEqual(cfg.Kafka.Brokers, []string{kafka.DefaultBroker}) {
		t.Errorf("Brokers = %v, want [%s]", cfg.Kafka.Brokers, kafka.DefaultBroker)
	}
	if cfg.Kafka.ClientID != "eventbridge" || cfg.Kafka.GroupID != "eventbridge-consumer-group" {
		t.Errorf("ClientID/GroupID = %q/%q", cfg.Kafka.ClientID, cfg.Kafka.GroupID)
	}
	if !cfg.Topics.EnableAppTopics {
		t.Error("EnableAppTopics should default to true")
	}
	if len(cfg.Topics.CDC) != 0 {
		t.Errorf("CDC = %v, want none", cfg.Topics.CDC)
	}
	if cfg.Health.Enabled || cfg.Health.Port != 3001 {
		t.Errorf("Health = %+v, want disabled on 3001", cfg.Health)
	}
	if cfg.Database.Enabled || cfg.Redis.Enabled || cfg.Observability.Enabled {
		t.Error("optional infrastructure should be disabled by default")
	}
	if cfg.Publisher.StoppingTimeout != DefaultStoppingTimeout {
		t.Errorf("StoppingTimeout = %s, want %s", cfg.Publisher.StoppingTimeout, DefaultStoppingTimeout)
	}
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "a:9092,b:9092")
	t.Setenv("KAFKA_BROKER", "c:9092")
	t.Setenv("ENVIRONMENT", "staging")
	t.Setenv("NODE_ENV", "production")
	t.Setenv("CDC_TOPICS", "tidb-cdc, orders,tidb-cdc")
	t.Setenv("ENABLE_HEALTH_CHECK", "true")
	t.Setenv("HEALTH_CHECK_PORT", "4000")
	t.Setenv("KAFKA_SASL_MECHANISM", "SCRAM-SHA-512")
	t.Setenv("KAFKA_SASL_USERNAME", "bridge")
	t.Setenv("KAFKA_SASL_PASSWORD", "s3cret")
	t.Setenv("KAFKA_GROUP_ID", `"orders-group"`)

	cfg := load(t)

	if !reflect.DeepEqual(cfg.Kafka.Brokers, []string{"c:9092"}) {
		t.Errorf("Brokers = %v, want KAFKA_BROKER to win", cfg.Kafka.Brokers)
	}
	if cfg.Environment != "production" {
		t.Errorf("Environment = %q, want NODE_ENV to win", cfg.Environment)
	}
	if want := []string{"tidb-cdc", "orders"}; !reflect.DeepEqual(cfg.Topics.CDC, want) {
		t.Errorf("CDC = %v, want %v", cfg.Topics.CDC, want)
	}
	if !cfg.Health.Enabled || cfg.Health.Port != 4000 {
		t.Errorf("Health = %+v, want enabled on 4000", cfg.Health)
	}
	if cfg.Kafka.Username != "bridge" || cfg.Kafka.Password != "s3cret" {
		t.Errorf("SASL credentials not loaded: %q", cfg.Kafka.Username)
	}
	if cfg.Kafka.GroupID != "orders-group" {
		t.Errorf("GroupID = %q, want quotes stripped", cfg.Kafka.GroupID)
	}
	if strings.Contains(cfg.String(), "s3cret") {
		t.Error("String() leaks the SASL password")
	}
}

func TestLoad_UnknownSASLMechanismFailsClosed(t *testing.T) {
	t.Setenv("KAFKA_SASL_MECHANISM", "gssapi")
	t.Setenv("KAFKA_SASL_USERNAME", "bridge")
	t.Setenv("KAFKA_SASL_PASSWORD", "s3cret")

	if _, err := Load(DefaultServiceName, config.WithFileSystem(noFiles{})); err == nil {
		t.Fatal("Load() accepted an unknown SASL mechanism")
	}
}

func TestLoad_NoTopics(t *testing.T) {
	t.Setenv("ENABLE_APP_TOPICS", "false")

	_, err := Load(DefaultServiceName, config.WithFileSystem(noFiles{}))
	if err == nil || !strings.Contains(err.Error(), "no CDC topics") {
		t.Fatalf("Load() error = %v, want missing topics", err)
	}
}

func TestSubscribeTopics(t *testing.T) {
	cfg := &AppConfig{Topics: TopicsConfig{EnableAppTopics: true, CDC: []string{"tidb-cdc,orders", " orders "}}}
	cfg.ApplyDefaults()

	app, cdc := cfg.SubscribeTopics()
	if !reflect.DeepEqual(app, events.AppTopics()) {
		t.Errorf("app topics = %v, want %v", app, events.AppTopics())
	}
	if want := []string{"tidb-cdc", "orders"}; !reflect.DeepEqual(cdc, want) {
		t.Errorf("cdc topics = %v, want %v", cdc, want)
	}

	cfg.Topics.EnableAppTopics = false
	if app, _ := cfg.SubscribeTopics(); app != nil {
		t.Errorf("app topics = %v with app topics disabled", app)
	}
}

func TestValidate_Sections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AppConfig)
		want   string
	}{
		{"valid", func(*AppConfig) {}, ""},
		{"bad environment", func(c *AppConfig) { c.Environment = "qa" }, "service"},
		{"database without dsn", func(c *AppConfig) {
			c.Database.Enabled = true
			c.Database.Driver = "sqlite"
		}, "database"},
		{"redis without addr", func(c *AppConfig) {
			c.Redis.Enabled = true
			c.Redis.Addr = ""
		}, "redis"},
		{"health port out of range", func(c *AppConfig) { c.Health.Port = 70000 }, "health"},
		{"sample rate out of range", func(c *AppConfig) { c.Observability.SampleRate = 2 }, "observability"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &AppConfig{Topics: TopicsConfig{EnableAppTopics: true}}
			cfg.ApplyDefaults()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.want == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate() error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}
