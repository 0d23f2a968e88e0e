package events

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	apperrors "github.com/kbukum/eventbridge/errors"
	"github.com/kbukum/eventbridge/kafka"
)

// Category classifies a domain event.
type Category string

const (
	CategoryUserAction  Category = "user-action"
	CategoryDataUpdate  Category = "data-update"
	CategorySystemEvent Category = "system-event"
)

// Application topics.
const (
	TopicUserActions  = "user-actions"
	TopicDataUpdates  = "data-updates"
	TopicSystemEvents = "system-events"
)

// DefaultSource tags events published by this service.
const DefaultSource = "eventbridge"

// TimestampFormat is RFC 3339 with millisecond precision, always UTC.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// AppTopics returns the fixed application topic set.
func AppTopics() []string {
	return []string{TopicUserActions, TopicDataUpdates, TopicSystemEvents}
}

type categorySpec struct {
	topic      string
	keyPrefix  string
	actionKey  string
	subjectKey string
	payloadKey string
}

var categories = map[Category]categorySpec{
	CategoryUserAction:  {TopicUserActions, "user", "action", "userId", "data"},
	CategoryDataUpdate:  {TopicDataUpdates, "record", "operation", "recordId", "data"},
	CategorySystemEvent: {TopicSystemEvents, "system", "event", "", "details"},
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	_, ok := categories[c]
	return ok
}

// Topic returns the topic events of this category are published to.
func (c Category) Topic() string { return categories[c].topic }

// CategoryForTopic maps an application topic back to its category.
func CategoryForTopic(topic string) (Category, bool) {
	for c, spec := range categories {
		if spec.topic == topic {
			return c, true
		}
	}
	return "", false
}

// DomainEvent is a business event published to the bus.
type DomainEvent struct {
	Category  Category
	Action    string
	SubjectID string
	// Payload is any JSON-encodable value: usually a map, sometimes a
	// positional list.
	Payload   interface{}
	Timestamp time.Time
	Source    string
	// Attributes are extra top-level fields on the wire value, e.g. username.
	Attributes map[string]interface{}
}

// Key returns the partition key. Events without a subject get a time-based id
// so they still spread across partitions.
func (e DomainEvent) Key() string {
	prefix := categories[e.Category].keyPrefix
	if e.SubjectID == "" {
		return prefix + "-" + strconv.FormatInt(e.Timestamp.UnixMilli(), 10)
	}
	return prefix + "-" + e.SubjectID
}

// Value renders the wire value:
//
//	{action|operation|event, userId|recordId, data|details, environment, timestamp, source}
func (e DomainEvent) Value(environment string) ([]byte, error) {
	spec, ok := categories[e.Category]
	if !ok {
		return nil, fmt.Errorf("unknown event category %q", e.Category)
	}

	m := make(map[string]interface{}, len(e.Attributes)+6)
	for k, v := range e.Attributes {
		m[k] = v
	}
	m[spec.actionKey] = e.Action
	if spec.subjectKey != "" {
		m[spec.subjectKey] = subjectValue(e.SubjectID)
	}
	payload := e.Payload
	if payload == nil {
		payload = map[string]interface{}{}
	}
	m[spec.payloadKey] = payload
	m["environment"] = environment
	m["timestamp"] = e.Timestamp.UTC().Format(TimestampFormat)
	m["source"] = e.Source
	return json.Marshal(m)
}

// subjectValue renders integer ids as JSON numbers. Anything else, including
// ids with leading zeros, stays a string.
func subjectValue(id string) interface{} {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil || strconv.FormatInt(n, 10) != id {
		return id
	}
	return json.Number(id)
}

// DecodeDomainEvent reverses DomainEvent.Value for a record read from one of
// the application topics.
func DecodeDomainEvent(msg kafka.Message) (DomainEvent, error) {
	category, ok := CategoryForTopic(msg.Topic)
	if !ok {
		return DomainEvent{}, fmt.Errorf("topic %q is not an application topic", msg.Topic)
	}
	spec := categories[category]

	var m map[string]interface{}
	if err := json.Unmarshal(msg.Value, &m); err != nil {
		return DomainEvent{}, apperrors.MalformedRecord(msg.Topic, fmt.Errorf("decode %s event: %w", category, err))
	}
	if m == nil {
		return DomainEvent{}, apperrors.MalformedRecord(msg.Topic, fmt.Errorf("decode %s event: not a JSON object", category))
	}

	ev := DomainEvent{
		Category: category,
		Payload:  m[spec.payloadKey],
	}
	ev.Action, _ = m[spec.actionKey].(string)
	ev.Source, _ = m["source"].(string)
	if spec.subjectKey != "" {
		switch v := m[spec.subjectKey].(type) {
		case string:
			ev.SubjectID = v
		case float64:
			ev.SubjectID = strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	if ts, ok := m["timestamp"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			ev.Timestamp = t
		}
	}

	known := map[string]bool{
		spec.actionKey: true, spec.subjectKey: true, spec.payloadKey: true,
		"environment": true, "timestamp": true, "source": true,
	}
	for k, v := range m {
		if !known[k] {
			if ev.Attributes == nil {
				ev.Attributes = make(map[string]interface{})
			}
			ev.Attributes[k] = v
		}
	}
	return ev, nil
}
