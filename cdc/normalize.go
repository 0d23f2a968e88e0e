package cdc

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Normalize maps env to the canonical event.
//
//   - EventType: lowercase of type, else op, else unknown
//   - Database: database, else db
//   - Table: table, else tbl
//   - RowCount: len(data) if data is an array, else 1 if before or after is set
//
// Values that are empty, false, zero or null count as absent. Non-string
// values are stringified. Normalize recovers from any panic and returns the
// unknown event, so it is safe on untrusted input.
func Normalize(env Envelope) (ev Event) {
	defer func() {
		if r := recover(); r != nil {
			ev = Event{EventType: EventUnknown, Op: string(EventUnknown)}
		}
	}()

	ev.Dialect = DetectDialect(env)

	op := string(EventUnknown)
	if v, ok := first(env, "type", "op"); ok {
		op = strings.ToLower(stringify(v))
	}
	ev.Op = op
	ev.EventType = canonicalType(op)

	if v, ok := first(env, "database", "db"); ok {
		s := stringify(v)
		ev.Database = &s
	}
	if v, ok := first(env, "table", "tbl"); ok {
		s := stringify(v)
		ev.Table = &s
	}

	if data, ok := env["data"].([]interface{}); ok {
		n := len(data)
		ev.RowCount = &n
		ev.Data = data
	} else if env["before"] != nil || env["after"] != nil {
		n := 1
		ev.RowCount = &n
	}

	if v, ok := first(env, "ts", "timestamp"); ok {
		ev.Timestamp = parseTimestamp(v)
	}
	ev.Old = env["old"]
	ev.New = env["new"]
	return ev
}

// DetectDialect classifies env by its field spelling. The operation field
// decides first; otherwise any dialect-specific field does.
func DetectDialect(env Envelope) Dialect {
	switch {
	case truthy(env["type"]):
		return DialectCanal
	case truthy(env["op"]):
		return DialectOpenProtocol
	}
	for _, k := range []string{"database", "table", "data"} {
		if _, ok := env[k]; ok {
			return DialectCanal
		}
	}
	for _, k := range []string{"db", "tbl", "before", "after"} {
		if _, ok := env[k]; ok {
			return DialectOpenProtocol
		}
	}
	return DialectUnknown
}

func canonicalType(op string) EventType {
	switch t := EventType(op); t {
	case EventInsert, EventUpdate, EventDelete:
		return t
	default:
		return EventUnknown
	}
}

// first returns the first truthy value among keys.
func first(env Envelope, keys ...string) (interface{}, bool) {
	for _, k := range keys {
		if v := env[k]; truthy(v) {
			return v, true
		}
	}
	return nil, false
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case bool:
		return t
	case json.Number:
		f, err := t.Float64()
		return err != nil || f != 0
	case float64:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	default:
		return true
	}
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// parseTimestamp accepts epoch milliseconds (number or numeric string) or an
// RFC 3339 string.
func parseTimestamp(v interface{}) time.Time {
	var ms float64
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return time.Time{}
		}
		ms = f
	case float64:
		ms = t
	case int64:
		ms = float64(t)
	case string:
		if ts, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return ts.UTC()
		}
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return time.Time{}
		}
		ms = f
	default:
		return time.Time{}
	}
	return time.UnixMilli(int64(ms)).UTC()
}
