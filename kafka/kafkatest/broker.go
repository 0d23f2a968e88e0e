package kafkatest

import (
	"cmp"
	"context"
	"errors"
	"hash/fnv"
	"slices"
	"sync"
	"time"

	"github.com/kbukum/eventbridge/kafka"
)

// ErrBrokerDown is returned by the factories while connect failures are
// being injected.
var ErrBrokerDown = errors.New("dial tcp: connection refused")

// ErrConnectionClosed is returned by handles after KillConnections.
var ErrConnectionClosed = errors.New("connection closed")

type record struct {
	msg kafka.Message
	seq uint64
}

type producerSeq struct {
	producerID int
	seq        int64
}

type ack struct {
	partition int
	offset    int64
}

type topicPartition struct {
	topic     string
	partition int
}

// Broker is an in-memory stand-in for a Kafka cluster.
type Broker struct {
	partitions int

	mu      sync.Mutex
	logs    map[string][][]record
	seq     uint64
	wake    chan struct{}
	commits map[string]map[topicPartition]int64
	acked   map[producerSeq]ack

	failConnects  int
	connectCalls  map[kafka.Role]int
	nextSendErr   error
	loseNextAck   bool
	nextFetchErr  error
	nextProducer  int
	subscriptions [][]string
	handles       []killable
}

type killable interface{ kill() }

// Option configures a Broker.
type Option func(*Broker)

// WithPartitions sets the number of partitions each topic is created with.
func WithPartitions(n int) Option {
	return func(b *Broker) {
		if n > 0 {
			b.partitions = n
		}
	}
}

// NewBroker creates an empty broker with three partitions per topic.
func NewBroker(opts ...Option) *Broker {
	b := &Broker{
		partitions:   3,
		logs:         make(map[string][][]record),
		wake:         make(chan struct{}),
		commits:      make(map[string]map[topicPartition]int64),
		acked:        make(map[producerSeq]ack),
		connectCalls: make(map[kafka.Role]int),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Partition returns the partition key is assigned to. Keys are hashed with
// FNV-1a, the same function the sarama hash partitioner uses.
func (b *Broker) Partition(key string) int {
	if key == "" {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	p := int32(h.Sum32()) % int32(b.partitions)
	if p < 0 {
		p = -p
	}
	return int(p)
}

// FailConnects makes the next n factory calls fail with ErrBrokerDown.
func (b *Broker) FailConnects(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failConnects = n
}

// ConnectCalls returns how many times role's factory was invoked.
func (b *Broker) ConnectCalls(role kafka.Role) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connectCalls[role]
}

// FailNextSend makes the next producer send fail with err without appending.
func (b *Broker) FailNextSend(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSendErr = err
}

// LoseNextAck appends the next sent record but reports a timeout to the
// producer, which then retries the same sequence number.
func (b *Broker) LoseNextAck() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.loseNextAck = true
}

// FailNextFetch makes the next reader fetch return err.
func (b *Broker) FailNextFetch(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextFetchErr = err
}

// KillConnections marks every open producer and reader dead, as if the
// broker dropped all TCP connections.
func (b *Broker) KillConnections() {
	b.mu.Lock()
	handles := b.handles
	b.handles = nil
	b.mu.Unlock()
	for _, h := range handles {
		h.kill()
	}
}

// Subscriptions returns the topic lists readers were created with, in order.
func (b *Broker) Subscriptions() [][]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([][]string, len(b.subscriptions))
	copy(out, b.subscriptions)
	return out
}

// Produce appends a record as an external producer would and returns it with
// its assigned partition and offset.
func (b *Broker) Produce(topic, key string, value []byte) kafka.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.appendLocked(kafka.Message{Topic: topic, Key: key, Value: value})
}

// Messages returns every record in topic in append order.
func (b *Broker) Messages(topic string) []kafka.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	var recs []record
	for _, part := range b.logs[topic] {
		recs = append(recs, part...)
	}
	slices.SortFunc(recs, func(a, b record) int { return cmp.Compare(a.seq, b.seq) })
	out := make([]kafka.Message, len(recs))
	for i, r := range recs {
		out[i] = r.msg
	}
	return out
}

// Committed returns the next offset group will read from topic/partition.
func (b *Broker) Committed(group, topic string, partition int) (int64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	off, ok := b.commits[group][topicPartition{topic, partition}]
	return off, ok
}

func (b *Broker) topicLocked(topic string) [][]record {
	parts, ok := b.logs[topic]
	if !ok {
		parts = make([][]record, b.partitions)
		b.logs[topic] = parts
	}
	return parts
}

func (b *Broker) appendLocked(msg kafka.Message) kafka.Message {
	parts := b.topicLocked(msg.Topic)
	p := b.Partition(msg.Key)
	b.seq++
	msg.Partition = p
	msg.Offset = int64(len(parts[p]))
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	parts[p] = append(parts[p], record{msg: msg, seq: b.seq})
	close(b.wake)
	b.wake = make(chan struct{})
	return msg
}

func (b *Broker) connect(role kafka.Role) error {
	b.connectCalls[role]++
	if b.failConnects > 0 {
		b.failConnects--
		return ErrBrokerDown
	}
	return nil
}

// ProducerFactory returns a factory producing idempotent fake producers.
func (b *Broker) ProducerFactory() kafka.ProducerFactory {
	return func(_ context.Context, cfg kafka.Config) (kafka.Producer, error) {
		b.mu.Lock()
		defer b.mu.Unlock()
		if err := b.connect(kafka.RoleProducer); err != nil {
			return nil, err
		}
		b.nextProducer++
		p := &Producer{broker: b, id: b.nextProducer, retries: cfg.ProducerRetries}
		b.handles = append(b.handles, p)
		return p, nil
	}
}

// ReaderFactory returns a factory producing group readers that start at the
// newest offset of every partition the group has not committed.
func (b *Broker) ReaderFactory() kafka.ReaderFactory {
	return func(_ context.Context, cfg kafka.Config, topics []string) (kafka.Reader, error) {
		b.mu.Lock()
		defer b.mu.Unlock()
		if err := b.connect(kafka.RoleConsumer); err != nil {
			return nil, err
		}
		r := &Reader{
			broker:    b,
			group:     cfg.GroupID,
			topics:    append([]string(nil), topics...),
			positions: make(map[topicPartition]int64),
			done:      make(chan struct{}),
		}
		for _, t := range topics {
			for p, part := range b.topicLocked(t) {
				tp := topicPartition{t, p}
				if off, ok := b.commits[cfg.GroupID][tp]; ok {
					r.positions[tp] = off
				} else {
					r.positions[tp] = int64(len(part))
				}
			}
		}
		b.subscriptions = append(b.subscriptions, r.topics)
		b.handles = append(b.handles, r)
		return r, nil
	}
}
