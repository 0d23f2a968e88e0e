// Package errors defines the structured failure values eventbridge components
// report upward: connection exhaustion, invalid configuration, and failures in
// the broker or database. AppError is errors.Is/As compatible.
package errors
