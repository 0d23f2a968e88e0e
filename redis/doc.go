// Package redis provides a Redis client component built on go-redis, with
// connection pooling, lifecycle management and health checks.
//
// Its main consumer is SeenSet, the redelivery guard the dispatcher consults
// before handing a record to a handler:
//
//	rc := redis.NewComponent(cfg.Redis, log)
//	// after rc.Start:
//	d := dispatch.New(manager, handler, log, dispatch.WithRedeliveryGuard(rc.SeenSet()))
//
// Redis is optional. A degraded Redis makes the guard fail open: the
// dispatcher logs a warning and handles the record.
package redis
