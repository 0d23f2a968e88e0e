// Package config loads service configuration with Viper.
//
// Values come from an optional config.yml, the process environment and an
// optional .env file (godotenv). Environment variables are bound to nested
// keys automatically (KAFKA_CLIENT_ID -> kafka.client_id) and through explicit
// aliases for names that do not follow the nesting convention:
//
//	err := config.LoadConfig("eventbridge", &cfg,
//	    config.WithEnvAliases(config.EnvAlias{Env: "CDC_TOPICS", Key: "topics.cdc"}))
//
// The loaded struct is built once at startup and passed down; nothing re-reads
// the environment afterwards.
package config
