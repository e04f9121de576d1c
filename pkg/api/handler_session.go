package api

import (
	"errors"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/taskpilot-ai/taskpilot/pkg/journal"
)

// listSessionsHandler handles GET /api/v1/sessions.
func (s *Server) listSessionsHandler(c *echo.Context) error {
	summaries, err := s.journal.List()
	if err != nil {
		return mapJournalError(err)
	}
	return c.JSON(http.StatusOK, summaries)
}

// getSessionHandler handles GET /api/v1/sessions/:id.
func (s *Server) getSessionHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	session, err := s.journal.Load(sessionID)
	if err != nil {
		return mapJournalError(err)
	}
	return c.JSON(http.StatusOK, session)
}

// cancelSessionHandler handles POST /api/v1/sessions/:id/cancel. Cancellation
// is cooperative: the loop finishes its in-flight journal append before the
// session lands in ABORTED.
func (s *Server) cancelSessionHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	if !s.driver.Cancel(sessionID) {
		// Not running on this process: distinguish finished from unknown.
		if _, err := s.journal.Load(sessionID); err != nil {
			if errors.Is(err, journal.ErrSessionNotFound) {
				return echo.NewHTTPError(http.StatusNotFound, "session not found")
			}
			return mapJournalError(err)
		}
		return echo.NewHTTPError(http.StatusConflict, "session is not in a cancellable state")
	}

	return c.JSON(http.StatusOK, &CancelResponse{
		SessionID: sessionID,
		Message:   "Session cancellation requested",
	})
}
