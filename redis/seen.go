package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/kbukum/eventbridge/kafka"
)

// Redelivery marker defaults.
const (
	DefaultKeyPrefix = "eventbridge:seen"
	DefaultSeenTTL   = 24 * time.Hour
)

// SeenSet remembers which records were already handed to a handler. A marker
// per topic, partition and offset is written with SET NX and expires after
// ttl, so a record redelivered after a rebalance or a lost commit is
// recognized within that window.
type SeenSet struct {
	client *Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewSeenSet creates a SeenSet. Empty prefix and non-positive ttl fall back
// to the defaults.
func NewSeenSet(client *Client, prefix string, ttl time.Duration) *SeenSet {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if ttl <= 0 {
		ttl = DefaultSeenTTL
	}
	return &SeenSet{client: client, prefix: prefix, ttl: ttl, now: time.Now}
}

// Key returns the marker key for msg.
func (s *SeenSet) Key(msg kafka.Message) string {
	return fmt.Sprintf("%s:%s/%d/%d", s.prefix, msg.Topic, msg.Partition, msg.Offset)
}

// FirstSeen marks msg as seen and reports whether this call set the marker.
func (s *SeenSet) FirstSeen(ctx context.Context, msg kafka.Message) (bool, error) {
	set, err := s.client.SetNX(ctx, s.Key(msg), s.now().UTC().Format(time.RFC3339Nano), s.ttl)
	if err != nil {
		return false, fmt.Errorf("redelivery guard %s: %w", s.Key(msg), err)
	}
	return set, nil
}
