package resilience

import "time"

// Broker connection policy.
const (
	BrokerMaxAttempts    = 8
	BrokerInitialBackoff = 100 * time.Millisecond
	BrokerMaxBackoff     = 30 * time.Second
)

// Database connection policy.
const (
	StoreMaxAttempts = 10
	StoreDelay       = 3 * time.Second
)

// BrokerPolicy is the retry policy for establishing a broker connection:
// exponential backoff starting at 100ms, doubling, capped at 30s, 8 attempts.
func BrokerPolicy() RetryConfig {
	return RetryConfig{
		Name:           "broker",
		MaxAttempts:    BrokerMaxAttempts,
		InitialBackoff: BrokerInitialBackoff,
		MaxBackoff:     BrokerMaxBackoff,
		BackoffFactor:  2.0,
		Jitter:         0.2,
		RetryIf:        DefaultRetryIf,
	}
}

// StorePolicy is the retry policy for establishing the database connection:
// 10 attempts with a fixed 3s delay.
func StorePolicy() RetryConfig {
	return RetryConfig{
		Name:           "store",
		MaxAttempts:    StoreMaxAttempts,
		InitialBackoff: StoreDelay,
		MaxBackoff:     StoreDelay,
		BackoffFactor:  1.0,
		RetryIf:        DefaultRetryIf,
	}
}
