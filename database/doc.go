// Package database provides a GORM-backed store with connection pooling,
// health checks and auto-migration.
//
// Open connects on the store retry policy: a fixed number of attempts
// (10 by default) separated by a fixed delay (3s by default). Each attempt
// is logged as connection_success or connection_failed; when every attempt
// fails, database_connection_exhausted is logged and Open returns a nil DB
// and a CONNECTION_FAILED error instead of panicking.
//
// The "mysql" driver serves MySQL and TiDB. The "sqlite" driver is used for
// local runs and tests.
//
// The event_log table (EventLog) records every application event the bridge
// consumes. RecordEvent is idempotent per topic, partition and offset.
//
// The component respects the Enabled flag. When disabled, Start returns
// immediately and Health reports "disabled".
package database
