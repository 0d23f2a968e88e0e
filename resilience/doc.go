// Package resilience provides the retry and circuit breaker primitives used on
// the broker and database connection paths.
//
// Two named retry policies exist and must stay distinct:
//
//	resilience.BrokerPolicy() // 8 attempts, exponential from 100ms, capped at 30s
//	resilience.StorePolicy()  // 10 attempts, fixed 3s delay
//
// A CircuitBreaker lets callers on a hot path (publishing) fail fast while a
// dependency is known to be down instead of paying the full retry budget on
// every call.
package resilience
