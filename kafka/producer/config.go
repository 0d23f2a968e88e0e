package producer

import (
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"math"
	"time"

	"github.com/IBM/sarama"
	"github.com/xdg-go/scram"

	"github.com/kbukum/eventbridge/kafka"
)

// MaxRetryBackoff caps the producer's exponential retry backoff.
const MaxRetryBackoff = 30 * time.Second

// NewSaramaConfig translates cfg into an idempotent producer configuration:
// acks from all in-sync replicas, one in-flight request per broker and the
// hash partitioner, so records sharing a key keep their order.
func NewSaramaConfig(cfg kafka.Config) (*sarama.Config, error) {
	version, err := sarama.ParseKafkaVersion(cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("kafka version: %w", err)
	}
	if !version.IsAtLeast(sarama.V0_11_0_0) {
		return nil, fmt.Errorf("kafka version %s does not support idempotent producers", cfg.Version)
	}

	sc := sarama.NewConfig()
	sc.ClientID = cfg.ClientID
	sc.Version = version

	sc.Net.DialTimeout = cfg.DialTimeout
	sc.Net.WriteTimeout = cfg.WriteTimeout
	sc.Net.MaxOpenRequests = 1

	// The Manager owns connect retries.
	sc.Metadata.Retry.Max = 1
	sc.Metadata.Retry.Backoff = cfg.RetryBackoff

	sc.Producer.Idempotent = true
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Partitioner = sarama.NewHashPartitioner
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	sc.Producer.Timeout = cfg.WriteTimeout
	sc.Producer.Retry.Max = cfg.ProducerRetries
	sc.Producer.Retry.BackoffFunc = exponentialBackoff(cfg.RetryBackoff, MaxRetryBackoff)

	if cfg.EnableTLS {
		tc, err := kafka.BuildTLSConfig(&cfg)
		if err != nil {
			return nil, fmt.Errorf("TLS config: %w", err)
		}
		sc.Net.TLS.Enable = true
		sc.Net.TLS.Config = tc
	}

	if err := applySASL(sc, cfg); err != nil {
		return nil, err
	}

	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("producer config: %w", err)
	}
	return sc, nil
}

func applySASL(sc *sarama.Config, cfg kafka.Config) error {
	mech := cfg.Mechanism()
	if mech == kafka.SASLNone {
		return nil
	}

	sc.Net.SASL.Enable = true
	sc.Net.SASL.Handshake = true
	sc.Net.SASL.User = cfg.Username
	sc.Net.SASL.Password = cfg.Password

	switch mech {
	case kafka.SASLPlain:
		sc.Net.SASL.Mechanism = sarama.SASLTypePlaintext
	case kafka.SASLScramSHA256:
		sc.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
		sc.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
			return &XDGSCRAMClient{HashGeneratorFcn: SHA256}
		}
	case kafka.SASLScramSHA512:
		sc.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
		sc.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
			return &XDGSCRAMClient{HashGeneratorFcn: SHA512}
		}
	default:
		return fmt.Errorf("unsupported SASL mechanism: %s", cfg.SASLMechanism)
	}
	return nil
}

// exponentialBackoff returns initial * 2^retries, capped at limit.
func exponentialBackoff(initial, limit time.Duration) func(retries, maxRetries int) time.Duration {
	return func(retries, _ int) time.Duration {
		d := float64(initial) * math.Pow(2, float64(retries))
		if d > float64(limit) {
			return limit
		}
		return time.Duration(d)
	}
}

// Hash functions for the SCRAM mechanisms.
var (
	SHA256 scram.HashGeneratorFcn = sha256.New
	SHA512 scram.HashGeneratorFcn = sha512.New
)

// XDGSCRAMClient implements sarama.SCRAMClient on top of xdg-go/scram.
type XDGSCRAMClient struct {
	*scram.Client
	*scram.ClientConversation
	scram.HashGeneratorFcn
}

// Begin starts a new SCRAM conversation.
func (x *XDGSCRAMClient) Begin(userName, password, authzID string) error {
	client, err := x.HashGeneratorFcn.NewClient(userName, password, authzID)
	if err != nil {
		return err
	}
	x.Client = client
	x.ClientConversation = client.NewConversation()
	return nil
}

// Step processes a server challenge.
func (x *XDGSCRAMClient) Step(challenge string) (string, error) {
	return x.ClientConversation.Step(challenge)
}

// Done reports whether the conversation completed.
func (x *XDGSCRAMClient) Done() bool {
	return x.ClientConversation.Done()
}
