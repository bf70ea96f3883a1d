package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

// RequestTimeout puts a deadline on each request's context. The handler runs
// on the request goroutine; a handler that fails once the deadline has passed
// is answered with 504. The websocket endpoint is exempt.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	if timeout <= 0 {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	return echomw.ContextTimeoutWithConfig(echomw.ContextTimeoutConfig{
		Skipper: func(c echo.Context) bool { return isLongLived(c.Request().URL.Path) },
		Timeout: timeout,
		ErrorHandler: func(err error, c echo.Context) error {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(c.Request().Context().Err(), context.DeadlineExceeded) {
				return echo.NewHTTPError(http.StatusGatewayTimeout, "request exceeded the allowed time limit").SetInternal(err)
			}
			return err
		},
	})
}

func isLongLived(path string) bool {
	return path == "/ws" || strings.HasPrefix(path, "/ws/")
}
