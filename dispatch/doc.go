// Package dispatch runs the consume loop: it subscribes the consumer role to
// the application and CDC topics, pulls one record at a time, routes it to a
// Handler and commits its offset.
//
// A failing record is counted and logged, never fatal. Counters are exposed
// through Stats for the health endpoint.
package dispatch
