package errors

import "net/http"

// ErrorCode represents a machine-readable error code.
type ErrorCode string

const (
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrCodeConnectionFailed   ErrorCode = "CONNECTION_FAILED"
	ErrCodeTimeout            ErrorCode = "TIMEOUT"

	ErrCodeInvalidInput  ErrorCode = "INVALID_INPUT"
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"

	// ErrCodeMalformedRecord marks a broker record whose value cannot be
	// decoded. Redelivering it yields the same failure.
	ErrCodeMalformedRecord ErrorCode = "MALFORMED_RECORD"
	// ErrCodeBrokerRejected marks a record the broker refused to accept.
	ErrCodeBrokerRejected ErrorCode = "BROKER_REJECTED"

	ErrCodeInternal        ErrorCode = "INTERNAL_ERROR"
	ErrCodeDatabaseError   ErrorCode = "DATABASE_ERROR"
	ErrCodeExternalService ErrorCode = "EXTERNAL_SERVICE_ERROR"
)

type codeInfo struct {
	status    int
	retryable bool
}

var codes = map[ErrorCode]codeInfo{
	ErrCodeServiceUnavailable: {http.StatusServiceUnavailable, true},
	ErrCodeConnectionFailed:   {http.StatusServiceUnavailable, true},
	ErrCodeTimeout:            {http.StatusGatewayTimeout, true},
	ErrCodeInvalidInput:       {http.StatusBadRequest, false},
	ErrCodeInvalidConfig:      {http.StatusInternalServerError, false},
	ErrCodeMalformedRecord:    {http.StatusUnprocessableEntity, false},
	ErrCodeBrokerRejected:     {http.StatusBadRequest, false},
	ErrCodeInternal:           {http.StatusInternalServerError, false},
	ErrCodeDatabaseError:      {http.StatusInternalServerError, true},
	ErrCodeExternalService:    {http.StatusBadGateway, true},
}

// IsRetryableCode reports whether code marks a transient failure.
func IsRetryableCode(code ErrorCode) bool {
	return codes[code].retryable
}

// StatusFor returns the HTTP status associated with code, 500 for unknown codes.
func StatusFor(code ErrorCode) int {
	if info, ok := codes[code]; ok {
		return info.status
	}
	return http.StatusInternalServerError
}
