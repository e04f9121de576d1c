// Package api is the HTTP surface of the driver: task submission, session
// reads, cancellation, health, and the observer websocket endpoint. Handlers
// stay thin; session semantics live in the driver and journal packages.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/taskpilot-ai/taskpilot/pkg/backend"
	"github.com/taskpilot-ai/taskpilot/pkg/driver"
	"github.com/taskpilot-ai/taskpilot/pkg/journal"
	"github.com/taskpilot-ai/taskpilot/pkg/observer"
)

// Server hosts the HTTP API.
type Server struct {
	echo    *echo.Echo
	driver  *driver.Driver
	journal *journal.Journal
	probe   *backend.CachedProbe
	pool    *observer.Pool
	logger  *slog.Logger

	httpServer *http.Server
}

// NewServer wires the API over its collaborators and registers all routes.
// The observer pool may be nil when the websocket endpoint is disabled.
func NewServer(d *driver.Driver, j *journal.Journal, probe *backend.CachedProbe, pool *observer.Pool) *Server {
	e := echo.New()
	s := &Server{
		echo:    e,
		driver:  d,
		journal: j,
		probe:   probe,
		pool:    pool,
		logger:  slog.Default().With("component", "api"),
	}

	e.Use(withSecurityHeaders())

	e.GET("/health", s.healthHandler)

	v1 := e.Group("/api/v1")
	v1.POST("/tasks", s.createTaskHandler)
	v1.GET("/sessions", s.listSessionsHandler)
	v1.GET("/sessions/:id", s.getSessionHandler)
	v1.POST("/sessions/:id/cancel", s.cancelSessionHandler)

	e.GET("/ws", s.wsHandler)

	return s
}

// Start serves until Shutdown or a listener error. Blocks.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("HTTP server listening", "addr", addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP lets tests drive the router without a listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
