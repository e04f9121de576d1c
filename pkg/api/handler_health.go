package api

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/taskpilot-ai/taskpilot/pkg/backend"
	"github.com/taskpilot-ai/taskpilot/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusDegraded  = "degraded"
	healthStatusUnhealthy = "unhealthy"
)

// healthHandler handles GET /health.
// Returns a minimal, safe response suitable for unauthenticated access.
// Checks the journal directory and the cached backend probe; a degraded
// backend does not fail the endpoint, since sessions can still run.
func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]HealthCheck)
	status := healthStatusHealthy

	if err := s.checkJournalDir(); err != nil {
		status = healthStatusUnhealthy
		checks["journal"] = HealthCheck{Status: healthStatusUnhealthy, Message: err.Error()}
	} else {
		checks["journal"] = HealthCheck{Status: healthStatusHealthy}
	}

	if s.probe != nil {
		probeStatus := s.probe.Status(reqCtx)
		switch probeStatus.Classify() {
		case backend.HealthUnavailable:
			if status == healthStatusHealthy {
				status = healthStatusDegraded
			}
			checks["backend"] = HealthCheck{
				Status:  healthStatusUnhealthy,
				Message: strings.Join(probeStatus.Issues, "; "),
			}
		case backend.HealthPartial:
			if status == healthStatusHealthy {
				status = healthStatusDegraded
			}
			checks["backend"] = HealthCheck{
				Status:  healthStatusDegraded,
				Message: strings.Join(probeStatus.Issues, "; "),
			}
		default:
			checks["backend"] = HealthCheck{Status: healthStatusHealthy}
		}
	}

	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	return c.JSON(httpStatus, &HealthResponse{
		Status:  status,
		Version: version.Full(),
		Checks:  checks,
	})
}

// checkJournalDir verifies the sessions directory is writable, since every
// session depends on it.
func (s *Server) checkJournalDir() error {
	probe := filepath.Join(s.journal.Dir(), ".healthcheck")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return err
	}
	return os.Remove(probe)
}
