package api

import (
	"context"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/taskpilot-ai/taskpilot/pkg/models"
)

// createTaskHandler handles POST /api/v1/tasks. The session id is allocated
// synchronously; the loop itself runs in the background so the client can
// follow progress over /ws or poll the session endpoint.
func (s *Server) createTaskHandler(c *echo.Context) error {
	var req SubmitTaskRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	task := req.Task()
	if task.Mode == "" {
		task.Mode = models.ModeSingle
	}
	if err := task.Validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	// The session must outlive this request; cancellation goes through the
	// cancel endpoint, not the HTTP connection.
	handle := s.driver.Launch(context.Background(), task)

	if res := handle.Result(); res != nil {
		// Launch failed synchronously: the readiness gate rejected the
		// backend. The session (if any) is already closed with the result.
		return c.JSON(http.StatusServiceUnavailable, res)
	}

	s.logger.Info("Task accepted",
		"session_id", handle.SessionID,
		"mode", task.Mode,
		"author", taskSubmitter(c))

	return c.JSON(http.StatusAccepted, &TaskResponse{
		SessionID: handle.SessionID,
		Status:    string(models.StatusRunning),
		Message:   "task accepted",
	})
}
