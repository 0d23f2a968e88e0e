package cdc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// EventType is the canonical row operation.
type EventType string

const (
	EventInsert  EventType = "insert"
	EventUpdate  EventType = "update"
	EventDelete  EventType = "delete"
	EventUnknown EventType = "unknown"
)

// Dialect identifies which envelope spelling a record used.
type Dialect int

const (
	DialectUnknown Dialect = iota
	// DialectCanal uses type/database/table/data.
	DialectCanal
	// DialectOpenProtocol uses op/db/tbl/before/after.
	DialectOpenProtocol
)

// String returns the dialect name.
func (d Dialect) String() string {
	switch d {
	case DialectCanal:
		return "canal"
	case DialectOpenProtocol:
		return "open-protocol"
	default:
		return "unknown"
	}
}

// Envelope is a decoded CDC record value.
type Envelope map[string]interface{}

// Decode parses a record value into an Envelope. Numbers are kept as
// json.Number so large row ids survive.
func Decode(value []byte) (Envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(value))
	dec.UseNumber()
	var env Envelope
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("decode cdc envelope: %w", err)
	}
	if env == nil {
		return nil, fmt.Errorf("decode cdc envelope: not a JSON object")
	}
	return env, nil
}

// Event is the canonical, dialect-independent CDC event.
type Event struct {
	EventType EventType
	// Op is the lowercased operation as sent upstream, e.g. "ddl" for an
	// event whose EventType is EventUnknown.
	Op       string
	Database *string
	Table    *string
	// RowCount is nil when the envelope carried neither a data array nor a
	// before/after image.
	RowCount *int
	Dialect  Dialect

	// Timestamp is taken from ts or timestamp when parseable; zero otherwise.
	Timestamp time.Time
	Data      []interface{}
	// Old and New are the row images as sent: a single row object or a
	// list of rows.
	Old interface{}
	New interface{}
}

// Fields returns the event as log fields. Absent values are logged as
// "unknown" to match the CDC handler log records.
func (e Event) Fields() map[string]interface{} {
	f := map[string]interface{}{
		"eventType": string(e.EventType),
		"database":  deref(e.Database, "unknown"),
		"table":     deref(e.Table, "unknown"),
		"dialect":   e.Dialect.String(),
	}
	if e.RowCount != nil {
		f["rowCount"] = *e.RowCount
	}
	if !e.Timestamp.IsZero() {
		f["cdcTimestamp"] = e.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	return f
}

// Qualified returns "database.table" with "unknown" for absent parts.
func (e Event) Qualified() string {
	return deref(e.Database, "unknown") + "." + deref(e.Table, "unknown")
}

func deref(s *string, def string) string {
	if s == nil {
		return def
	}
	return *s
}
