// Package logger provides structured logging for eventbridge using zerolog.
//
// Every record is one line of structured data. Loggers can be scoped by
// component and by category (app, kafka, database, error, security), and
// domain events are logged with a fixed user-context field set.
//
// # Configuration
//
//	logging:
//	  level: "info"
//	  format: "json"
//
// # Usage
//
//	log := logger.WithComponent("kafka.producer").WithCategory(logger.CategoryKafka)
//	log.Info("connected", map[string]interface{}{"role": "producer"})
//	log.Event("user_registered", logger.UserContext{UserID: "42"}, nil)
package logger
