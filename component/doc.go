// Package component defines the lifecycle contract shared by the broker,
// store, cache and health-server components, and a Registry that starts them
// in order and stops them in reverse.
package component
