package server

import (
	"context"
	"fmt"

	"github.com/kbukum/eventbridge/component"
)

const componentName = "health-server"

var (
	_ component.Component   = (*ServerComponent)(nil)
	_ component.Describable = (*ServerComponent)(nil)
)

// ServerComponent registers the health server with the component registry.
// It starts after the broker connections and stops before them.
type ServerComponent struct {
	server *Server
}

func NewComponent(s *Server) *ServerComponent {
	return &ServerComponent{server: s}
}

func (sc *ServerComponent) Server() *Server                 { return sc.server }
func (sc *ServerComponent) Name() string                    { return componentName }
func (sc *ServerComponent) Start(ctx context.Context) error { return sc.server.Start(ctx) }
func (sc *ServerComponent) Stop(ctx context.Context) error  { return sc.server.Stop(ctx) }

// Health reports whether the listener is still serving.
func (sc *ServerComponent) Health(_ context.Context) component.Health {
	if !sc.server.Listening() {
		return component.Health{
			Name:    componentName,
			Status:  component.StatusUnhealthy,
			Message: "not listening",
		}
	}
	return component.Health{
		Name:    componentName,
		Status:  component.StatusHealthy,
		Message: sc.server.Addr(),
	}
}

func (sc *ServerComponent) Describe() component.Description {
	cfg := sc.server.config
	return component.Description{
		Name:    "Health Server",
		Type:    "server",
		Details: fmt.Sprintf("GET http://%s:%d/health", cfg.Host, cfg.Port),
		Port:    cfg.Port,
	}
}
