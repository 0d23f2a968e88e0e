package bootstrap

import (
	"context"
	"errors"
	"fmt"
)

// Hook is a lifecycle callback that runs during application startup or shutdown.
type Hook func(ctx context.Context) error

// OnStart registers a hook that runs after all components are started
// but before the application is marked as ready.
func (a *App[C]) OnStart(hooks ...Hook) {
	a.onStart = append(a.onStart, hooks...)
}

// OnReady registers a hook that runs after the ready check, right before
// background workers start.
func (a *App[C]) OnReady(hooks ...Hook) {
	a.onReady = append(a.onReady, hooks...)
}

// OnStop registers a hook that runs during graceful shutdown, after
// background workers returned and before components are stopped. The hook
// context carries the shutdown reason; see ShutdownReason.
func (a *App[C]) OnStop(hooks ...Hook) {
	a.onStop = append(a.onStop, hooks...)
}

// runHooks executes hooks sequentially, returning the first error.
func runHooks(ctx context.Context, hooks []Hook) error {
	for i, h := range hooks {
		if err := h(ctx); err != nil {
			return fmt.Errorf("hook %d failed: %w", i, err)
		}
	}
	return nil
}

// runAllHooks executes every hook even when earlier ones fail.
func runAllHooks(ctx context.Context, hooks []Hook) error {
	var errs []error
	for i, h := range hooks {
		if err := h(ctx); err != nil {
			errs = append(errs, fmt.Errorf("hook %d failed: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

type reasonKey struct{}

// ShutdownReason returns why the application is stopping: "SIGTERM",
// "SIGINT", "context canceled" or the failing worker's name. It is empty
// outside OnStop hooks.
func ShutdownReason(ctx context.Context) string {
	r, _ := ctx.Value(reasonKey{}).(string)
	return r
}

func withShutdownReason(ctx context.Context, reason string) context.Context {
	return context.WithValue(ctx, reasonKey{}, reason)
}
