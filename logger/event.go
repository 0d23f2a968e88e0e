package logger

import (
	"errors"
	"fmt"
	"strings"
)

// Defaults used when a UserContext field is empty.
const (
	AnonymousUser = "anonymous"
	UnknownValue  = "unknown"
)

// UserContext identifies who triggered a logged action.
type UserContext struct {
	UserID    string
	Username  string
	IPAddress string
	UserAgent string
	SessionID string
}

// SystemUser is the context used for records that no end user triggered.
var SystemUser = UserContext{}

// fields renders the fixed user field set with defaults applied.
func (u UserContext) fields(action string) map[string]interface{} {
	var session interface{}
	if u.SessionID != "" {
		session = u.SessionID
	}
	return map[string]interface{}{
		"action":    action,
		"userId":    orDefault(u.UserID, AnonymousUser),
		"username":  orDefault(u.Username, UnknownValue),
		"ipAddress": orDefault(u.IPAddress, UnknownValue),
		"userAgent": orDefault(u.UserAgent, UnknownValue),
		"sessionId": session,
	}
}

// Event logs a domain action at info level with the user field set
// (action, userId, username, ipAddress, userAgent, sessionId) followed by extra.
// Extra keys never override the user field set.
func (l *Logger) Event(action string, user UserContext, extra map[string]interface{}) {
	l.Info(action, extra, user.fields(action))
}

// EventWarn is Event at warn level.
func (l *Logger) EventWarn(action string, user UserContext, extra map[string]interface{}) {
	l.Warn(action, extra, user.fields(action))
}

// EventError logs a failed action at error level. On top of the user field set
// it carries an error object with the message, the unwrap chain and the
// concrete error type.
func (l *Logger) EventError(action string, err error, user UserContext, extra map[string]interface{}) {
	fields := user.fields(action)
	fields[FieldCategory] = string(CategoryError)
	fields[FieldError] = ErrorObject(err)
	l.Error(action, extra, fields)
}

// ErrorObject describes err as {message, stack, name}. Stack is the chain of
// wrapped error messages, outermost first. A nil error yields nil.
func ErrorObject(err error) map[string]interface{} {
	if err == nil {
		return nil
	}
	var chain []string
	for e := err; e != nil; e = errors.Unwrap(e) {
		chain = append(chain, fmt.Sprintf("%T: %s", e, e.Error()))
	}
	return map[string]interface{}{
		"message": err.Error(),
		"stack":   strings.Join(chain, "\n"),
		"name":    fmt.Sprintf("%T", err),
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
