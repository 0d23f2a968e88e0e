package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/kbukum/eventbridge/logger"
	"github.com/kbukum/eventbridge/server/endpoint"
	"github.com/kbukum/eventbridge/server/middleware"
)

// Server is an HTTP server backed by Gin, served over HTTP/1.1 and h2c.
type Server struct {
	httpServer *http.Server
	engine     *gin.Engine
	config     Config
	log        *logger.Logger

	mu        sync.Mutex
	addr      string
	listening bool
}

// New creates a Server with recovery and request logging installed and a
// plain-text 404 for unknown routes. Register routes before Start.
func New(cfg Config, log *logger.Logger) *Server {
	if log == nil {
		log = logger.NewNop()
	}
	// Set Gin mode based on global zerolog level.
	if zerolog.GlobalLevel() <= zerolog.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	log = log.WithComponent("server")
	engine := gin.New()
	engine.Use(middleware.Recovery(log), middleware.RequestLogger(log))
	engine.NoRoute(endpoint.NotFound())

	h2s := &http2.Server{
		MaxConcurrentStreams: 250,
		IdleTimeout:          120 * time.Second,
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      h2c.NewHandler(engine, h2s),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &Server{
		httpServer: httpServer,
		engine:     engine,
		config:     cfg,
		log:        log,
		addr:       addr,
	}
}

// Handler returns the root handler, for use with httptest.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// RegisterHealth mounts GET /health answering with stats().
func (s *Server) RegisterHealth(stats endpoint.StatsFunc) {
	s.engine.GET("/health", endpoint.Health(stats))
}

// Start binds the port and begins serving. It returns once the listener is
// bound so the caller knows the port is ready; serving continues in a goroutine.
func (s *Server) Start(_ context.Context) error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("server failed to bind %s: %w", s.httpServer.Addr, err)
	}

	s.mu.Lock()
	s.addr = listener.Addr().String()
	s.listening = true
	s.mu.Unlock()

	go func() {
		err := s.httpServer.Serve(listener)
		s.mu.Lock()
		s.listening = false
		s.mu.Unlock()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("Server error", map[string]interface{}{
				logger.FieldError: err.Error(),
			})
		}
	}()

	s.log.Info("Health check server listening", map[string]interface{}{
		"addr": s.Addr(),
	})
	return nil
}

// Stop drains in-flight requests, bounded by the configured shutdown timeout.
func (s *Server) Stop(ctx context.Context) error {
	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.log.Error("Server shutdown error", map[string]interface{}{
			logger.FieldError: err.Error(),
		})
		return fmt.Errorf("server shutdown error: %w", err)
	}

	s.log.Info("Health check server stopped")
	return nil
}

// Listening reports whether the server is bound and serving.
func (s *Server) Listening() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listening
}

// Addr returns the bound address once started, the configured one before.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}
