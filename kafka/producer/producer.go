// Package producer provides the producer-role transport: an idempotent sarama
// SyncProducer. Sends are acknowledged by all in-sync replicas and retried
// without duplicates.
package producer

import (
	"context"
	"fmt"
	"sync"

	"github.com/IBM/sarama"

	"github.com/kbukum/eventbridge/kafka"
	"github.com/kbukum/eventbridge/logger"
)

// Producer wraps a sarama SyncProducer. It is safe for concurrent use.
type Producer struct {
	client sarama.Client // nil when built around a bare SyncProducer
	sp     sarama.SyncProducer
	log    *logger.Logger

	mu     sync.RWMutex
	closed bool
	dead   bool
}

var _ kafka.Producer = (*Producer)(nil)

// NewProducer connects to the cluster and returns an idempotent producer.
// Connection failures are returned as-is; the caller decides whether to retry.
func NewProducer(cfg kafka.Config, log *logger.Logger) (*Producer, error) {
	sc, err := NewSaramaConfig(cfg)
	if err != nil {
		return nil, err
	}

	client, err := sarama.NewClient(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("kafka producer client: %w", err)
	}

	sp, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("kafka producer: %w", err)
	}

	p := New(sp, log)
	p.client = client

	p.log.Info("Kafka producer initialized", map[string]interface{}{
		"brokers":    cfg.Brokers,
		"idempotent": true,
		"retries":    cfg.ProducerRetries,
	})
	return p, nil
}

// New wraps an existing SyncProducer, such as one from sarama/mocks.
func New(sp sarama.SyncProducer, log *logger.Logger) *Producer {
	if log == nil {
		log = logger.NewNop()
	}
	return &Producer{sp: sp, log: log.WithComponent("kafka.producer")}
}

// NewFactory returns a kafka.ProducerFactory backed by NewProducer.
func NewFactory(log *logger.Logger) kafka.ProducerFactory {
	return func(_ context.Context, cfg kafka.Config) (kafka.Producer, error) {
		return NewProducer(cfg, log)
	}
}

// Send delivers msg and returns its partition and offset once acknowledged.
// sarama's SyncProducer does not take a context; ctx is checked before the
// send and the configured write timeout bounds the call.
func (p *Producer) Send(ctx context.Context, msg kafka.Message) (int, int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}

	// The read lock is held for the whole send so Close waits for in-flight
	// sends instead of closing the input channel under them.
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return 0, 0, sarama.ErrClosedClient
	}
	partition, offset, err := p.sp.SendMessage(toProducerMessage(msg))
	p.mu.RUnlock()

	if err != nil {
		if kafka.IsConnectionError(err) {
			p.mu.Lock()
			p.dead = true
			p.mu.Unlock()
		}
		return 0, 0, err
	}
	return int(partition), offset, nil
}

func toProducerMessage(msg kafka.Message) *sarama.ProducerMessage {
	pm := &sarama.ProducerMessage{
		Topic: msg.Topic,
		Value: sarama.ByteEncoder(msg.Value),
	}
	if msg.Key != "" {
		pm.Key = sarama.StringEncoder(msg.Key)
	}
	if !msg.Timestamp.IsZero() {
		pm.Timestamp = msg.Timestamp
	}
	if len(msg.Headers) > 0 {
		pm.Headers = make([]sarama.RecordHeader, 0, len(msg.Headers))
		for k, v := range msg.Headers {
			pm.Headers = append(pm.Headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
		}
	}
	return pm
}

// Alive reports whether the producer can still send.
func (p *Producer) Alive() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed || p.dead {
		return false
	}
	return p.client == nil || !p.client.Closed()
}

// Close flushes and shuts down the producer. Safe to call more than once.
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	p.log.Info("Kafka producer closing")

	err := p.sp.Close()
	if p.client != nil && !p.client.Closed() {
		if cerr := p.client.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
