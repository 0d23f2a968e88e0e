package kafkatest

import (
	"context"
	"errors"
	"sync"

	"github.com/kbukum/eventbridge/kafka"
)

// errAckTimeout is what a producer sees when the broker appended a record
// but the acknowledgement never arrived.
var errAckTimeout = errors.New("request timed out")

// Producer is an idempotent fake producer. Each Send gets a sequence number;
// retries of the same sequence are deduplicated by the broker.
type Producer struct {
	broker  *Broker
	id      int
	retries int

	mu     sync.Mutex
	seq    int64
	sent   []kafka.Message
	closed bool
	dead   bool
}

var _ kafka.Producer = (*Producer)(nil)

// Send appends msg to its topic, retrying lost acknowledgements with the
// same sequence number.
func (p *Producer) Send(ctx context.Context, msg kafka.Message) (int, int64, error) {
	p.mu.Lock()
	if p.closed || p.dead {
		p.mu.Unlock()
		return 0, 0, ErrConnectionClosed
	}
	p.seq++
	key := producerSeq{producerID: p.id, seq: p.seq}
	p.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt <= p.retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, 0, err
		}
		a, err := p.broker.sendIdempotent(key, msg)
		if err == nil {
			p.mu.Lock()
			msg.Partition, msg.Offset = a.partition, a.offset
			p.sent = append(p.sent, msg)
			p.mu.Unlock()
			return a.partition, a.offset, nil
		}
		lastErr = err
		if !errors.Is(err, errAckTimeout) {
			break
		}
	}
	if kafka.IsConnectionError(lastErr) {
		p.kill()
	}
	return 0, 0, lastErr
}

func (b *Broker) sendIdempotent(key producerSeq, msg kafka.Message) (ack, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.nextSendErr; err != nil {
		b.nextSendErr = nil
		return ack{}, err
	}
	if a, ok := b.acked[key]; ok {
		return a, nil
	}
	stored := b.appendLocked(msg)
	a := ack{partition: stored.Partition, offset: stored.Offset}
	b.acked[key] = a
	if b.loseNextAck {
		b.loseNextAck = false
		return ack{}, errAckTimeout
	}
	return a, nil
}

// Sent returns the messages this producer successfully delivered.
func (p *Producer) Sent() []kafka.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]kafka.Message, len(p.sent))
	copy(out, p.sent)
	return out
}

// Alive reports whether the producer is open and its connection intact.
func (p *Producer) Alive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.closed && !p.dead
}

// Close marks the producer closed.
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *Producer) kill() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dead = true
}
