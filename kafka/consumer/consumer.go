// Package consumer provides the consumer-role transport: a kafka-go
// consumer-group reader subscribed to a set of topics.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/kbukum/eventbridge/kafka"
	"github.com/kbukum/eventbridge/logger"
)

// groupReader is the subset of *kafkago.Reader the consumer uses.
type groupReader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Stats() kafkago.ReaderStats
	Close() error
}

// Consumer wraps a kafka-go group Reader. Offsets are committed explicitly
// through CommitMessages after each record is handled.
type Consumer struct {
	reader  groupReader
	topics  []string
	groupID string
	log     *logger.Logger

	mu     sync.Mutex
	closed bool
	dead   bool
}

var (
	_ kafka.Reader      = (*Consumer)(nil)
	_ kafka.StatsReader = (*Consumer)(nil)
)

// NewConsumer creates a group reader for topics starting at the newest offset
// for partitions the group has never committed. It dials a broker first so an
// unreachable cluster fails here rather than on the first fetch.
func NewConsumer(ctx context.Context, cfg kafka.Config, topics []string, log *logger.Logger) (*Consumer, error) {
	if len(topics) == 0 {
		return nil, kafka.ErrNoSubscription
	}
	if err := kafka.Ping(ctx, &cfg); err != nil {
		return nil, err
	}

	dialer, err := kafka.CreateDialer(&cfg)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer dialer: %w", err)
	}

	clog := log.WithComponent("kafka.consumer")

	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:           cfg.Brokers,
		GroupID:           cfg.GroupID,
		GroupTopics:       topics,
		Dialer:            dialer,
		StartOffset:       kafkago.LastOffset,
		MinBytes:          1,
		MaxBytes:          10e6,
		SessionTimeout:    cfg.SessionTimeout,
		HeartbeatInterval: cfg.HeartbeatInterval,
		ErrorLogger: kafkago.LoggerFunc(func(msg string, args ...interface{}) {
			clog.Error("reader: "+fmt.Sprintf(msg, args...), map[string]interface{}{
				"groupID": cfg.GroupID,
			})
		}),
	})

	clog.Info("Kafka consumer initialized", map[string]interface{}{
		"topics":  topics,
		"groupID": cfg.GroupID,
		"brokers": cfg.Brokers,
	})

	return newConsumer(reader, topics, cfg.GroupID, clog), nil
}

func newConsumer(r groupReader, topics []string, groupID string, log *logger.Logger) *Consumer {
	return &Consumer{
		reader:  r,
		topics:  append([]string(nil), topics...),
		groupID: groupID,
		log:     log,
	}
}

// NewFactory returns a kafka.ReaderFactory backed by NewConsumer.
func NewFactory(log *logger.Logger) kafka.ReaderFactory {
	return func(ctx context.Context, cfg kafka.Config, topics []string) (kafka.Reader, error) {
		return NewConsumer(ctx, cfg, topics, log)
	}
}

// FetchMessage blocks until the next record is available.
func (c *Consumer) FetchMessage(ctx context.Context) (kafka.Message, error) {
	msg, err := c.reader.FetchMessage(ctx)
	if err != nil {
		c.observe(ctx, err)
		return kafka.Message{}, err
	}
	return kafka.FromKafkaMessage(msg), nil
}

// CommitMessages commits the offsets of msgs for the group.
func (c *Consumer) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	kmsgs := make([]kafkago.Message, len(msgs))
	for i, m := range msgs {
		kmsgs[i] = m.ToKafkaMessage()
	}
	if err := c.reader.CommitMessages(ctx, kmsgs...); err != nil {
		c.observe(ctx, err)
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// observe marks the consumer dead when err means the reader can't recover.
// kafka-go returns io.EOF once the reader has been closed.
func (c *Consumer) observe(ctx context.Context, err error) {
	if ctx.Err() != nil {
		return
	}
	if errors.Is(err, io.EOF) || kafka.IsConnectionError(err) {
		c.mu.Lock()
		c.dead = true
		c.mu.Unlock()
	}
}

// Topics returns the subscribed topics.
func (c *Consumer) Topics() []string { return append([]string(nil), c.topics...) }

// GroupID returns the consumer's group ID.
func (c *Consumer) GroupID() string { return c.groupID }

// Metrics returns structured reader statistics.
func (c *Consumer) Metrics() kafka.ReaderMetrics {
	return kafka.CollectReaderMetrics(c.reader.Stats())
}

// Alive reports whether the reader can still fetch.
func (c *Consumer) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && !c.dead
}

// Close shuts down the consumer. Safe to call more than once.
func (c *Consumer) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.log.Info("Kafka consumer closing", map[string]interface{}{
		"topics":  c.topics,
		"groupID": c.groupID,
	})
	return c.reader.Close()
}
