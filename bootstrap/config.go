package bootstrap

import (
	"github.com/kbukum/eventbridge/config"
)

// Config is the interface constraint for application configuration types.
// Any struct that embeds config.ServiceConfig automatically satisfies it via
// promoted methods.
//
//	type AppConfig struct {
//	    config.ServiceConfig `yaml:",inline" mapstructure:",squash"`
//	    Kafka kafka.Config `yaml:"kafka" mapstructure:"kafka"`
//	}
type Config interface {
	GetServiceConfig() *config.ServiceConfig
	ApplyDefaults()
	Validate() error
}
