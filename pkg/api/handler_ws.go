package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// wsHandler upgrades HTTP connections and delegates to the observer pool,
// which owns the admission handshake and the connection lifecycle.
func (s *Server) wsHandler(c *echo.Context) error {
	if s.pool == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "observer endpoint not available")
	}
	s.pool.ServeHTTP(c.Response(), c.Request())
	return nil
}
