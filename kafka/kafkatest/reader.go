package kafkatest

import (
	"context"
	"errors"
	"sync"

	"github.com/kbukum/eventbridge/kafka"
)

// ErrReaderClosed is returned by FetchMessage after Close.
var ErrReaderClosed = errors.New("kafka reader closed")

// Reader is a fake consumer-group reader over a Broker.
type Reader struct {
	broker *Broker
	group  string
	topics []string

	// guarded by broker.mu
	positions map[topicPartition]int64

	mu        sync.Mutex
	closed    bool
	dead      bool
	done      chan struct{}
	closeOnce sync.Once
	fetched   int64
	committed int
}

var _ kafka.Reader = (*Reader)(nil)
var _ kafka.StatsReader = (*Reader)(nil)

// Topics returns the reader's subscription.
func (r *Reader) Topics() []string { return append([]string(nil), r.topics...) }

// FetchMessage blocks until a record is available on any subscribed topic,
// the context ends, or the reader is closed. Records are returned in the
// order they were appended across all partitions.
func (r *Reader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	for {
		if err := r.usable(); err != nil {
			return kafka.Message{}, err
		}

		b := r.broker
		b.mu.Lock()
		if err := b.nextFetchErr; err != nil {
			b.nextFetchErr = nil
			b.mu.Unlock()
			if kafka.IsConnectionError(err) {
				r.kill()
			}
			return kafka.Message{}, err
		}
		if msg, ok := r.nextLocked(); ok {
			b.mu.Unlock()
			r.mu.Lock()
			r.fetched++
			r.mu.Unlock()
			return msg, nil
		}
		wake := b.wake
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return kafka.Message{}, ctx.Err()
		case <-r.done:
		case <-wake:
		}
	}
}

func (r *Reader) nextLocked() (kafka.Message, bool) {
	var (
		best   record
		bestTP topicPartition
		found  bool
	)
	for _, t := range r.topics {
		for p, part := range r.broker.topicLocked(t) {
			tp := topicPartition{t, p}
			pos, ok := r.positions[tp]
			if !ok {
				// partition created after subscription: start at its head
				r.positions[tp] = 0
			}
			if pos < int64(len(part)) && (!found || part[pos].seq < best.seq) {
				best, bestTP, found = part[pos], tp, true
			}
		}
	}
	if !found {
		return kafka.Message{}, false
	}
	r.positions[bestTP]++
	return best.msg, true
}

// CommitMessages records msg.Offset+1 as the group's next offset for each
// message's partition.
func (r *Reader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	if err := r.usable(); err != nil {
		return err
	}
	b := r.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	group := b.commits[r.group]
	if group == nil {
		group = make(map[topicPartition]int64)
		b.commits[r.group] = group
	}
	for _, m := range msgs {
		tp := topicPartition{m.Topic, m.Partition}
		if next := m.Offset + 1; next > group[tp] {
			group[tp] = next
		}
	}
	r.mu.Lock()
	r.committed += len(msgs)
	r.mu.Unlock()
	return nil
}

// Committed returns how many messages were committed through this reader.
func (r *Reader) Committed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.committed
}

// Metrics reports fetch count and the number of records not yet fetched.
func (r *Reader) Metrics() kafka.ReaderMetrics {
	b := r.broker
	b.mu.Lock()
	var lag int64
	for tp, pos := range r.positions {
		lag += int64(len(b.logs[tp.topic][tp.partition])) - pos
	}
	b.mu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	return kafka.ReaderMetrics{
		Fetches:  r.fetched,
		Messages: r.fetched,
		Lag:      lag,
	}
}

// Alive reports whether the reader is open and its connection intact.
func (r *Reader) Alive() bool {
	return r.usable() == nil
}

// Close closes the reader and wakes any blocked FetchMessage.
func (r *Reader) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.closeOnce.Do(func() { close(r.done) })
	return nil
}

func (r *Reader) usable() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case r.closed:
		return ErrReaderClosed
	case r.dead:
		return ErrConnectionClosed
	}
	return nil
}

func (r *Reader) kill() {
	r.mu.Lock()
	r.dead = true
	r.mu.Unlock()
	r.closeOnce.Do(func() { close(r.done) })
}
