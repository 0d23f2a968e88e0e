package kafka

import (
	"errors"
	"io"
	"strings"
)

var connectionPatterns = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"i/o timeout",
	"no route to host",
	"network is unreachable",
	"broker not available",
	"leader not available",
	"connection closed",
	"dial tcp",
	"network exception",
	"client has run out of available brokers",
	"use of closed network connection",
}

var retryablePatterns = []string{
	"temporary",
	"request timed out",
	"not enough replicas",
	"offset out of range",
	"rebalance in progress",
}

var nonRetryablePatterns = []string{
	"message too large",
	"invalid topic",
	"invalid partition",
	"unknown topic",
	"authorization failed",
	"sasl authentication failed",
}

func containsAny(err error, patterns []string) bool {
	errStr := strings.ToLower(err.Error())
	for _, p := range patterns {
		if strings.Contains(errStr, p) {
			return true
		}
	}
	return false
}

// IsConnectionError checks if a Kafka error is a connection-level error.
// A transport that returned one should be considered dead.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	return containsAny(err, connectionPatterns)
}

// IsRetryableError determines if a Kafka error should trigger a retry.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if IsConnectionError(err) {
		return true
	}
	return containsAny(err, retryablePatterns)
}

// IsNonRetryableError checks if the error should not be retried.
func IsNonRetryableError(err error) bool {
	if err == nil {
		return false
	}
	return containsAny(err, nonRetryablePatterns)
}
