// Package bootstrap runs a service through its lifecycle: start components,
// run hooks and background workers, wait for SIGINT/SIGTERM, then shut down
// within a bounded grace period.
//
//	app, err := bootstrap.NewApp(&cfg)
//	app.RegisterComponent(kafkaComponent)
//	app.Background("dispatcher", dispatcher.Run)
//	app.OnStop(publishStopping)
//	if err := app.Run(ctx); err != nil {
//	    os.Exit(1)
//	}
package bootstrap
