// Command eventbridge runs the event bridge: it consumes the application and
// CDC topics, dispatches every record to the handlers and publishes the
// service lifecycle events. It exits 0 after a graceful shutdown and 1 when
// configuration or mandatory initialization fails.
package main

import (
	"context"
	"os"

	"github.com/kbukum/eventbridge/bridge"
	"github.com/kbukum/eventbridge/logger"
	"github.com/kbukum/eventbridge/version"
)

func main() {
	os.Exit(run())
}

func run() int {
	log := logger.NewFromEnv(bridge.DefaultServiceName)

	cfg, err := bridge.Load(bridge.DefaultServiceName)
	if err != nil {
		log.EventError("config_invalid", err, logger.SystemUser, nil)
		return 1
	}

	svc, err := bridge.New(cfg)
	if err != nil {
		log.EventError("service_init_failed", err, logger.SystemUser, nil)
		return 1
	}
	logger.Info("Starting "+cfg.Name, version.Get().Fields())

	if err := svc.Run(context.Background()); err != nil {
		logger.GetGlobalLogger().EventError("service_failed", err, logger.SystemUser, nil)
		return 1
	}
	return 0
}
