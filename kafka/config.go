package kafka

import (
	"fmt"
	"strings"
	"time"

	apperrors "github.com/kbukum/eventbridge/errors"
	"github.com/kbukum/eventbridge/util"
)

// DefaultBroker is used when no broker address is configured.
const DefaultBroker = "localhost:9092"

// SASLMechanism is one of the supported SASL mechanisms. The zero value means
// no authentication.
type SASLMechanism string

const (
	SASLNone        SASLMechanism = ""
	SASLPlain       SASLMechanism = "plain"
	SASLScramSHA256 SASLMechanism = "scram-sha-256"
	SASLScramSHA512 SASLMechanism = "scram-sha-512"
)

// ParseSASLMechanism normalizes s (case-insensitive) into a SASLMechanism.
// Unrecognized names are an error; they never degrade to unauthenticated.
func ParseSASLMechanism(s string) (SASLMechanism, error) {
	switch m := SASLMechanism(strings.ToLower(strings.TrimSpace(s))); m {
	case SASLNone, SASLPlain, SASLScramSHA256, SASLScramSHA512:
		return m, nil
	default:
		return SASLNone, fmt.Errorf("unsupported SASL mechanism %q (want plain, scram-sha-256 or scram-sha-512)", s)
	}
}

// Config holds broker connection settings. It is built once at startup and
// passed by value.
type Config struct {
	// Brokers is the ordered list of broker addresses.
	Brokers []string `mapstructure:"brokers"`

	// TLS
	EnableTLS     bool   `mapstructure:"ssl"`
	TLSSkipVerify bool   `mapstructure:"tls_skip_verify"`
	TLSCAFile     string `mapstructure:"tls_ca_file"`

	// SASL
	SASLMechanism string `mapstructure:"sasl_mechanism"`
	Username      string `mapstructure:"sasl_username"`
	Password      string `mapstructure:"sasl_password"`

	ClientID string `mapstructure:"client_id"`
	GroupID  string `mapstructure:"group_id"`

	// Version is the broker protocol version the producer negotiates.
	Version string `mapstructure:"version"`

	// Producer settings
	ProducerRetries int           `mapstructure:"producer_retries"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`

	// Consumer settings
	SessionTimeout    time.Duration `mapstructure:"session_timeout"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`

	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// ApplyDefaults sets sensible defaults for zero-valued fields.
func (c *Config) ApplyDefaults() {
	var brokers []string
	for _, b := range c.Brokers {
		brokers = append(brokers, util.SplitList(b)...)
	}
	c.Brokers = util.Union(brokers)
	if len(c.Brokers) == 0 {
		c.Brokers = []string{DefaultBroker}
	}
	c.SASLMechanism = strings.ToLower(strings.TrimSpace(c.SASLMechanism))
	if c.ClientID == "" {
		c.ClientID = "eventbridge"
	}
	if c.GroupID == "" {
		c.GroupID = "eventbridge-consumer-group"
	}
	if c.Version == "" {
		c.Version = "2.1.0"
	}
	if c.ProducerRetries <= 0 {
		c.ProducerRetries = 8
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 100 * time.Millisecond
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = 30 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 3 * time.Second
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
}

// Validate checks the configuration. An unsupported SASL mechanism, or
// credentials without a mechanism, fail closed with an INVALID_CONFIG error.
func (c *Config) Validate() error {
	if len(c.Brokers) == 0 {
		return apperrors.InvalidConfig("kafka.brokers", "at least one broker is required")
	}
	mech, err := ParseSASLMechanism(c.SASLMechanism)
	if err != nil {
		return apperrors.InvalidConfig("kafka.sasl_mechanism", err.Error())
	}
	hasCreds := c.Username != "" || c.Password != ""
	switch {
	case mech != SASLNone && (c.Username == "" || c.Password == ""):
		return apperrors.InvalidConfig("kafka.sasl_username", "SASL username and password are required when a mechanism is set")
	case mech == SASLNone && hasCreds:
		return apperrors.InvalidConfig("kafka.sasl_mechanism", "SASL credentials are set but no mechanism is configured")
	}
	if c.HeartbeatInterval >= c.SessionTimeout {
		return apperrors.InvalidConfig("kafka.heartbeat_interval", "must be shorter than session_timeout")
	}
	if c.ProducerRetries <= 0 {
		return apperrors.InvalidConfig("kafka.producer_retries", "must be > 0")
	}
	return nil
}

// Mechanism returns the parsed SASL mechanism. Call after Validate.
func (c *Config) Mechanism() SASLMechanism {
	m, _ := ParseSASLMechanism(c.SASLMechanism)
	return m
}

// Redacted returns loggable connection fields. Credentials are never included.
func (c *Config) Redacted() map[string]interface{} {
	return map[string]interface{}{
		"brokers":        c.Brokers,
		"client_id":      c.ClientID,
		"group_id":       c.GroupID,
		"tls":            c.EnableTLS,
		"sasl_mechanism": string(c.Mechanism()),
	}
}
