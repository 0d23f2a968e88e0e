package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/kbukum/eventbridge/component"
	"github.com/kbukum/eventbridge/logger"
)

// DefaultGracefulTimeout bounds the whole shutdown sequence.
const DefaultGracefulTimeout = 15 * time.Second

// Worker is a long-running function started once the application is ready.
// It must return when ctx is canceled. A non-nil error shuts the application
// down and is returned from Run.
type Worker func(ctx context.Context) error

type worker struct {
	name string
	fn   Worker
}

// App represents an application with uniform lifecycle management.
// The type parameter C is the config type.
type App[C Config] struct {
	Name       string
	Version    string
	Cfg        C
	Components *component.Registry
	Logger     *logger.Logger

	gracefulTimeout time.Duration
	signals         chan os.Signal
	onConfigure     []func(ctx context.Context, app *App[C]) error

	onStart []Hook
	onReady []Hook
	onStop  []Hook
	workers []worker
}

// NewApp creates a new application instance from a typed config.
// It applies defaults, validates the config, and initializes the logger.
func NewApp[C Config](cfg C, opts ...Option) (*App[C], error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	base := cfg.GetServiceConfig()
	o := resolveOptions(opts)

	app := &App[C]{
		Name:            base.Name,
		Version:         base.Version,
		Cfg:             cfg,
		gracefulTimeout: DefaultGracefulTimeout,
		signals:         o.signals,
	}
	if o.gracefulTimeout != nil {
		app.gracefulTimeout = *o.gracefulTimeout
	}

	if o.logger != nil {
		app.Logger = o.logger
	} else {
		app.Logger = logger.New(&base.Logging, base.Name)
		logger.SetGlobalLogger(app.Logger)
	}
	app.Components = component.NewRegistry(app.Logger)
	return app, nil
}

// RegisterComponent adds a component to the application's registry.
func (a *App[C]) RegisterComponent(c component.Component) error {
	return a.Components.Register(c)
}

// OnConfigure registers a callback to run after components are started.
// Use it to build business-layer objects that need live infrastructure.
func (a *App[C]) OnConfigure(fn func(ctx context.Context, app *App[C]) error) {
	a.onConfigure = append(a.onConfigure, fn)
}

// Background registers a worker started after the OnReady hooks.
func (a *App[C]) Background(name string, fn Worker) {
	a.workers = append(a.workers, worker{name: name, fn: fn})
}

// ReadyCheck folds the component health results. Anything short of healthy
// is returned as an error naming the components that are not.
func (a *App[C]) ReadyCheck(ctx context.Context) error {
	results := a.Components.HealthAll(ctx)
	overall := component.Overall(results)
	if overall == component.StatusHealthy {
		return nil
	}
	var issues []string
	for _, h := range results {
		if h.Status == component.StatusHealthy {
			continue
		}
		detail := h.Name + "=" + string(h.Status)
		if h.Message != "" {
			detail += "(" + h.Message + ")"
		}
		issues = append(issues, detail)
	}
	return fmt.Errorf("%s: %v", overall, issues)
}

// Run executes the full lifecycle: start components, OnStart hooks,
// configure callbacks, ready check, OnReady hooks, background workers,
// block on a signal, then graceful shutdown.
//
// A startup failure stops whatever was already started and is returned. A
// worker error triggers shutdown and is returned. Otherwise Run returns the
// shutdown error, if any.
func (a *App[C]) Run(ctx context.Context) error {
	start := time.Now()
	a.Logger.Info("Starting application", map[string]interface{}{
		"name":    a.Name,
		"version": a.Version,
	})

	if err := a.startup(ctx); err != nil {
		a.Logger.Error("Startup failed", map[string]interface{}{
			logger.FieldError: err.Error(),
		})
		ctx, cancel := context.WithTimeout(context.Background(), a.gracefulTimeout)
		defer cancel()
		_ = a.Components.StopAll(ctx)
		return err
	}

	sigCh := a.signals
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
	}

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()
	failed := make(chan workerFailure, len(a.workers))
	var wg sync.WaitGroup
	for _, w := range a.workers {
		wg.Add(1)
		go func(w worker) {
			defer wg.Done()
			if err := w.fn(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
				failed <- workerFailure{name: w.name, err: err}
			}
		}(w)
	}

	a.Logger.Info("Application ready", map[string]interface{}{
		logger.FieldDuration: time.Since(start).Milliseconds(),
		"workers":            len(a.workers),
	})

	var (
		reason string
		runErr error
	)
	select {
	case sig := <-sigCh:
		reason = SignalName(sig)
		a.Logger.Info("Received shutdown signal", map[string]interface{}{
			"signal": reason,
		})
	case <-ctx.Done():
		reason = "context canceled"
		a.Logger.Info("Context canceled, shutting down")
	case f := <-failed:
		reason = f.name + " failed"
		runErr = fmt.Errorf("%s: %w", f.name, f.err)
		a.Logger.Error("Background worker failed", map[string]interface{}{
			"worker":          f.name,
			logger.FieldError: f.err.Error(),
		})
	}

	cancelWorkers()
	if !waitTimeout(&wg, a.gracefulTimeout) {
		a.Logger.Warn("Background workers did not finish in time", map[string]interface{}{
			"timeout": a.gracefulTimeout.String(),
		})
	}

	if err := a.stop(reason); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

type workerFailure struct {
	name string
	err  error
}

// startup starts components and runs the startup phases.
func (a *App[C]) startup(ctx context.Context) error {
	if err := a.Components.StartAll(ctx); err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}
	if err := runHooks(ctx, a.onStart); err != nil {
		return fmt.Errorf("onStart hook failed: %w", err)
	}
	for _, fn := range a.onConfigure {
		if err := fn(ctx, a); err != nil {
			return fmt.Errorf("configuration failed: %w", err)
		}
	}
	if err := a.ReadyCheck(ctx); err != nil {
		a.Logger.Warn("Ready check reported issues", map[string]interface{}{
			logger.FieldError: err.Error(),
		})
	}
	if err := runHooks(ctx, a.onReady); err != nil {
		return fmt.Errorf("onReady hook failed: %w", err)
	}
	return nil
}

// Shutdown runs the shutdown sequence. Use when managing your own lifecycle
// instead of calling Run.
func (a *App[C]) Shutdown(_ context.Context, reason string) error {
	return a.stop(reason)
}

// stop runs OnStop hooks then stops all components, within the graceful
// timeout.
func (a *App[C]) stop(reason string) error {
	a.Logger.Info("Shutting down application", map[string]interface{}{
		"reason":  reason,
		"timeout": a.gracefulTimeout.String(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), a.gracefulTimeout)
	defer cancel()
	ctx = withShutdownReason(ctx, reason)

	var errs []error
	if err := runAllHooks(ctx, a.onStop); err != nil {
		a.Logger.Error("OnStop hook error", map[string]interface{}{
			logger.FieldError: err.Error(),
		})
		errs = append(errs, err)
	}
	if err := a.Components.StopAll(ctx); err != nil {
		a.Logger.Error("Shutdown completed with errors", map[string]interface{}{
			logger.FieldError: err.Error(),
		})
		errs = append(errs, err)
	}

	a.Logger.Info("Application shutdown complete")
	return errors.Join(errs...)
}

// SignalName returns the conventional name of sig, e.g. "SIGTERM".
func SignalName(sig os.Signal) string {
	switch sig {
	case syscall.SIGTERM:
		return "SIGTERM"
	case syscall.SIGINT:
		return "SIGINT"
	case nil:
		return ""
	default:
		return sig.String()
	}
}

func waitTimeout(wg *sync.WaitGroup, d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-done:
		return true
	case <-t.C:
		return false
	}
}
