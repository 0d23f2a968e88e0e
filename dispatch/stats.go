package dispatch

import (
	"encoding/json"
	"time"
)

// TimestampFormat renders Stats timestamps: RFC 3339, milliseconds, UTC.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// State is the lifecycle state of a Dispatcher.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Stats is a point-in-time snapshot of the dispatcher counters. The JSON
// form is the health endpoint body.
type Stats struct {
	IsRunning      bool      `json:"isRunning"`
	ProcessedCount int64     `json:"processedCount"`
	ErrorCount     int64     `json:"errorCount"`
	Timestamp      time.Time `json:"timestamp"`
}

// MarshalJSON renders Timestamp with millisecond precision in UTC.
func (s Stats) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		IsRunning      bool   `json:"isRunning"`
		ProcessedCount int64  `json:"processedCount"`
		ErrorCount     int64  `json:"errorCount"`
		Timestamp      string `json:"timestamp"`
	}{s.IsRunning, s.ProcessedCount, s.ErrorCount, s.Timestamp.UTC().Format(TimestampFormat)})
}
