// Package middleware provides Echo middleware for logging, metrics and
// response hardening.
package middleware

import (
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
)

// traceIDHeader is set on every proxied response by the gateway core.
const traceIDHeader = "X-Trace-Id"

// RequestLogger returns an Echo middleware that logs each request with slog.
// Query strings are never logged; they may carry search terms.
func RequestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()

			attrs := []any{
				"method", req.Method,
				"path", req.URL.Path,
				"status", res.Status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", res.Header().Get(echo.HeaderXRequestID),
				"remote_ip", c.RealIP(),
				"bytes_out", res.Size,
			}
			if id := res.Header().Get(traceIDHeader); id != "" {
				attrs = append(attrs, "trace_id", id)
			}
			logger.Info("request", attrs...)

			return err
		}
	}
}
