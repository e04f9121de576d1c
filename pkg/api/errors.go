package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/taskpilot-ai/taskpilot/pkg/journal"
)

// mapJournalError maps journal-layer errors to HTTP error responses.
func mapJournalError(err error) *echo.HTTPError {
	if errors.Is(err, journal.ErrSessionNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	var ioErr *journal.IOError
	if errors.As(err, &ioErr) {
		slog.Error("Journal I/O error", "op", ioErr.Op, "error", ioErr.Err)
		return echo.NewHTTPError(http.StatusInternalServerError, "journal unavailable")
	}

	// Unexpected error
	slog.Error("Unexpected journal error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
