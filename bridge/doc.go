// Package bridge assembles the event bridge service: configuration,
// the handler set and the startup and shutdown sequence.
//
// Startup order: database, redis, the broker connection manager and the
// health server start as components; the dispatcher then subscribes to the
// application and CDC topics (a failure here aborts with exit code 1);
// service_started is published; the consume loop runs in the background.
//
// On SIGTERM or SIGINT the loop stops, service_stopping is published within
// a bounded timeout, and the components stop in reverse order, which
// disconnects both broker roles.
//
//	cfg, err := bridge.Load("eventbridge")
//	if err != nil {
//	    return err
//	}
//	svc, err := bridge.New(cfg)
//	if err != nil {
//	    return err
//	}
//	return svc.Run(ctx)
package bridge
