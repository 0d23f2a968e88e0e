package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

// Message is a broker record as seen by publishers and handlers.
type Message struct {
	Key       string            `json:"key"`
	Value     []byte            `json:"value"`
	Topic     string            `json:"topic"`
	Partition int               `json:"partition"`
	Offset    int64             `json:"offset"`
	Timestamp time.Time         `json:"timestamp"`
	Headers   map[string]string `json:"headers,omitempty"`
}

// Producer is the producer-role transport handle. Implementations must be
// safe for concurrent Send calls.
type Producer interface {
	// Send delivers msg and blocks until the broker acknowledges it.
	Send(ctx context.Context, msg Message) (partition int, offset int64, err error)
	// Alive reports whether the underlying transport can still be used.
	Alive() bool
	Close() error
}

// Reader is the consumer-role transport handle bound to a group subscription.
type Reader interface {
	FetchMessage(ctx context.Context) (Message, error)
	CommitMessages(ctx context.Context, msgs ...Message) error
	Alive() bool
	Close() error
}

// StatsReader is optionally implemented by readers that expose lag metrics.
type StatsReader interface {
	Metrics() ReaderMetrics
}

// ProducerFactory opens a producer-role transport.
type ProducerFactory func(ctx context.Context, cfg Config) (Producer, error)

// ReaderFactory opens a consumer-role transport subscribed to topics.
type ReaderFactory func(ctx context.Context, cfg Config, topics []string) (Reader, error)

// FromKafkaMessage converts a kafka-go Message to the domain Message type.
func FromKafkaMessage(msg kafka.Message) Message {
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	return Message{
		Key:       string(msg.Key),
		Value:     msg.Value,
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Timestamp: msg.Time,
		Headers:   headers,
	}
}

// ToKafkaMessage converts the domain Message back to a kafka-go Message.
// Topic, partition and offset are kept so the result can be committed.
func (m Message) ToKafkaMessage() kafka.Message {
	headers := make([]kafka.Header, 0, len(m.Headers))
	for k, v := range m.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return kafka.Message{
		Key:       []byte(m.Key),
		Value:     m.Value,
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Time:      m.Timestamp,
		Headers:   headers,
	}
}

// IsJSON checks if the message appears to be JSON.
func (m Message) IsJSON() bool {
	if ct, ok := m.Headers["content-type"]; ok && ct == "application/json" {
		return true
	}
	if len(m.Value) > 0 {
		return m.Value[0] == '{' || m.Value[0] == '['
	}
	return false
}

// UnmarshalValueJSON unmarshals the message value as JSON into v.
func (m Message) UnmarshalValueJSON(v interface{}) error {
	return json.Unmarshal(m.Value, v)
}
