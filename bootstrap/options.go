package bootstrap

import (
	"os"
	"time"

	"github.com/kbukum/eventbridge/logger"
)

// Option configures the App during creation.
// Options are non-generic so they can be used with any config type.
type Option func(*appOptions)

// appOptions collects all option values before applying to App.
type appOptions struct {
	logger          *logger.Logger
	gracefulTimeout *time.Duration
	signals         chan os.Signal
}

// resolveOptions applies all options and returns the collected values.
func resolveOptions(opts []Option) *appOptions {
	o := &appOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithLogger sets a custom logger for the application.
// If not set, the logger is built from the config's Logging field.
func WithLogger(l *logger.Logger) Option {
	return func(o *appOptions) {
		o.logger = l
	}
}

// WithGracefulTimeout sets the maximum duration for graceful shutdown.
func WithGracefulTimeout(d time.Duration) Option {
	return func(o *appOptions) {
		o.gracefulTimeout = &d
	}
}

// WithSignalChannel replaces OS signal delivery. Tests send on ch to simulate
// SIGTERM without signalling the process.
func WithSignalChannel(ch chan os.Signal) Option {
	return func(o *appOptions) {
		o.signals = ch
	}
}
