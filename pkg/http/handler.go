package http

import "github.com/labstack/echo/v4"

// Handler mounts a group of routes on the shared server. Nil handlers
// passed to NewServer are skipped.
type Handler interface {
	RegisterRoutes(e *echo.Echo)
}
