package bootstrap

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/kbukum/eventbridge/component"
	"github.com/kbukum/eventbridge/config"
	"github.com/kbukum/eventbridge/logger"
)

// testConfig is a minimal config for testing that satisfies the Config interface.
type testConfig struct {
	config.ServiceConfig
}

// recorder collects lifecycle steps in order.
type recorder struct {
	mu    sync.Mutex
	steps []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, s)
}

func (r *recorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.steps...)
}

type mockComponent struct {
	name     string
	startErr error
	stopErr  error
	health   component.Health
	rec      *recorder
}

func (m *mockComponent) Name() string { return m.name }
func (m *mockComponent) Start(ctx context.Context) error {
	if m.rec != nil {
		m.rec.add("start:" + m.name)
	}
	return m.startErr
}
func (m *mockComponent) Stop(ctx context.Context) error {
	if m.rec != nil {
		m.rec.add("stop:" + m.name)
	}
	return m.stopErr
}
func (m *mockComponent) Health(ctx context.Context) component.Health {
	return m.health
}

func newTestApp(t *testing.T, opts ...Option) *App[*testConfig] {
	t.Helper()
	cfg := &testConfig{ServiceConfig: config.ServiceConfig{Name: "test-svc", Version: "1.0.0"}}
	opts = append([]Option{WithLogger(logger.NewNop())}, opts...)
	app, err := NewApp(cfg, opts...)
	if err != nil {
		t.Fatalf("NewApp failed: %v", err)
	}
	return app
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestNewApp(t *testing.T) {
	app := newTestApp(t)
	if app.Name != "test-svc" || app.Version != "1.0.0" {
		t.Errorf("unexpected name/version %q %q", app.Name, app.Version)
	}
	if app.Components == nil || app.Logger == nil {
		t.Fatal("expected registry and logger")
	}
	if app.Cfg.Environment != "development" {
		t.Errorf("expected defaults applied, got environment %q", app.Cfg.Environment)
	}
}

func TestNewAppLoggerStampsRecords(t *testing.T) {
	prev := logger.GetGlobalLogger()
	t.Cleanup(func() { logger.SetGlobalLogger(prev) })

	var buf bytes.Buffer
	cfg := &testConfig{ServiceConfig: config.ServiceConfig{
		Name:    "test-svc",
		Logging: logger.Config{Writer: &buf},
	}}
	app, err := NewApp(cfg)
	if err != nil {
		t.Fatalf("NewApp failed: %v", err)
	}
	app.Logger.Info("ready")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	var rec map[string]interface{}
	if err := json.Unmarshal(lines[len(lines)-1], &rec); err != nil {
		t.Fatalf("record is not JSON: %v (%q)", err, buf.String())
	}
	if _, ok := rec["time"]; !ok {
		t.Errorf("record %v has no time field", rec)
	}
	if rec["service"] != "test-svc" {
		t.Errorf("service = %v, want test-svc", rec["service"])
	}
}

func TestNewAppValidationError(t *testing.T) {
	cfg := &testConfig{ServiceConfig: config.ServiceConfig{Environment: "nowhere"}}
	if _, err := NewApp(cfg, WithLogger(logger.NewNop())); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestRunLifecycleOrder(t *testing.T) {
	sig := make(chan os.Signal, 1)
	app := newTestApp(t, WithSignalChannel(sig))
	rec := &recorder{}

	app.RegisterComponent(&mockComponent{name: "kafka", rec: rec, health: component.Health{Status: component.StatusHealthy}})
	app.RegisterComponent(&mockComponent{name: "health", rec: rec, health: component.Health{Status: component.StatusHealthy}})
	app.OnStart(func(context.Context) error { rec.add("onStart"); return nil })
	app.OnConfigure(func(context.Context, *App[*testConfig]) error { rec.add("configure"); return nil })
	app.OnReady(func(context.Context) error { rec.add("onReady"); return nil })

	running := make(chan struct{})
	app.Background("loop", func(ctx context.Context) error {
		rec.add("worker")
		close(running)
		<-ctx.Done()
		rec.add("worker-done")
		return nil
	})
	var reason string
	app.OnStop(func(ctx context.Context) error {
		reason = ShutdownReason(ctx)
		rec.add("onStop")
		return nil
	})

	done := make(chan error, 1)
	go func() { done <- app.Run(context.Background()) }()
	<-running
	sig <- syscall.SIGTERM

	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []string{
		"start:kafka", "start:health", "onStart", "configure", "onReady",
		"worker", "worker-done", "onStop", "stop:health", "stop:kafka",
	}
	if got := rec.get(); !equal(got, want) {
		t.Errorf("steps = %v\nwant %v", got, want)
	}
	if reason != "SIGTERM" {
		t.Errorf("expected reason SIGTERM, got %q", reason)
	}
}

func TestRunStartupFailureSkipsStopHooks(t *testing.T) {
	app := newTestApp(t)
	rec := &recorder{}
	app.RegisterComponent(&mockComponent{name: "kafka", rec: rec})
	app.RegisterComponent(&mockComponent{name: "db", rec: rec, startErr: errors.New("refused")})
	app.OnStop(func(context.Context) error { rec.add("onStop"); return nil })

	err := app.Run(context.Background())
	if err == nil {
		t.Fatal("expected startup error")
	}
	want := []string{"start:kafka", "start:db", "stop:kafka"}
	if got := rec.get(); !equal(got, want) {
		t.Errorf("steps = %v, want %v", got, want)
	}
}

func TestRunWorkerFailure(t *testing.T) {
	app := newTestApp(t)
	boom := errors.New("boom")
	app.Background("dispatcher", func(context.Context) error { return boom })
	var reason string
	app.OnStop(func(ctx context.Context) error {
		reason = ShutdownReason(ctx)
		return nil
	})

	err := app.Run(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected worker error, got %v", err)
	}
	if reason != "dispatcher failed" {
		t.Errorf("unexpected reason %q", reason)
	}
}

func TestRunContextCancel(t *testing.T) {
	app := newTestApp(t)
	ctx, cancel := context.WithCancel(context.Background())
	app.OnReady(func(context.Context) error {
		cancel()
		return nil
	})
	if err := app.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestStopHooksAllRun(t *testing.T) {
	sig := make(chan os.Signal, 1)
	sig <- syscall.SIGINT
	app := newTestApp(t, WithSignalChannel(sig))
	second := false
	app.OnStop(
		func(context.Context) error { return fmt.Errorf("first failed") },
		func(context.Context) error { second = true; return nil },
	)

	if err := app.Run(context.Background()); err == nil {
		t.Error("expected stop hook error to be returned")
	}
	if !second {
		t.Error("second stop hook did not run")
	}
}

func TestGracefulTimeoutBoundsWorkers(t *testing.T) {
	sig := make(chan os.Signal, 1)
	app := newTestApp(t, WithSignalChannel(sig), WithGracefulTimeout(20*time.Millisecond))
	release := make(chan struct{})
	defer close(release)
	app.Background("stuck", func(context.Context) error {
		<-release
		return nil
	})

	sig <- syscall.SIGTERM
	start := time.Now()
	if err := app.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("shutdown was not bounded by the graceful timeout")
	}
}

func TestReadyCheck(t *testing.T) {
	app := newTestApp(t)
	app.RegisterComponent(&mockComponent{name: "ok", health: component.Health{Name: "ok", Status: component.StatusHealthy}})
	if err := app.ReadyCheck(context.Background()); err != nil {
		t.Errorf("expected healthy, got %v", err)
	}
	app.RegisterComponent(&mockComponent{name: "bad", health: component.Health{Name: "bad", Status: component.StatusUnhealthy, Message: "down"}})
	if err := app.ReadyCheck(context.Background()); err == nil {
		t.Error("expected ready check error")
	}
}

func TestSignalName(t *testing.T) {
	tests := map[os.Signal]string{
		syscall.SIGTERM: "SIGTERM",
		syscall.SIGINT:  "SIGINT",
	}
	for sig, want := range tests {
		if got := SignalName(sig); got != want {
			t.Errorf("SignalName(%v) = %q, want %q", sig, got, want)
		}
	}
}
