// Package util provides small helpers shared across eventbridge packages.
//
// It includes comma-separated list parsing, ordered set union, environment
// value sanitizing, and positional redaction of sensitive log payloads.
package util
