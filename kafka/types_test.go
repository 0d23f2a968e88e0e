package kafka

import (
	"testing"
	"time"
)

func TestMessageRoundTripKafkaGo(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	m := Message{
		Key:       "user-1",
		Value:     []byte(`{"a":1}`),
		Topic:     "user-actions",
		Partition: 2,
		Offset:    42,
		Timestamp: ts,
		Headers:   map[string]string{"event-type": "user-action"},
	}

	got := FromKafkaMessage(m.ToKafkaMessage())
	if got.Key != m.Key || got.Topic != m.Topic || got.Partition != 2 || got.Offset != 42 {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if !got.Timestamp.Equal(ts) {
		t.Errorf("timestamp mismatch: %v", got.Timestamp)
	}
	if got.Headers["event-type"] != "user-action" {
		t.Errorf("headers lost: %v", got.Headers)
	}
}

func TestMessageIsJSON(t *testing.T) {
	if !(Message{Value: []byte(`{"x":1}`)}).IsJSON() {
		t.Error("object should be JSON")
	}
	if !(Message{Headers: map[string]string{"content-type": "application/json"}}).IsJSON() {
		t.Error("content-type header should mark JSON")
	}
	if (Message{Value: []byte("plain")}).IsJSON() {
		t.Error("plain text is not JSON")
	}
}
