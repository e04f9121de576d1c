package api

import (
	echo "github.com/labstack/echo/v5"
)

// submitterHeaders are checked in order for the identity set by a fronting
// auth proxy (oauth2-proxy sets the Forwarded pair, kube-rbac-proxy sets
// X-Remote-User).
var submitterHeaders = []string{
	"X-Forwarded-User",
	"X-Forwarded-Email",
	"X-Remote-User",
}

// taskSubmitter resolves who submitted a task, for audit logging only.
// Requests that arrive without proxy identity headers are logged as
// "api-client".
func taskSubmitter(c *echo.Context) string {
	for _, h := range submitterHeaders {
		if v := c.Request().Header.Get(h); v != "" {
			return v
		}
	}
	return "api-client"
}
