package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

// RequestTimeout bounds each request with a context deadline. The handler
// runs against a buffered response writer; when the deadline passes a 503 is
// committed and any late write from the handler lands in the discarded
// buffer, never the wire. Cancelling the request context rolls back any
// in-flight transaction.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return echomw.TimeoutWithConfig(echomw.TimeoutConfig{
		Timeout:      timeout,
		ErrorMessage: `{"error":"request deadline exceeded"}`,
	})
}
