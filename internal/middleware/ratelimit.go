package middleware

import (
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"discogs-gateway/internal/apierror"
	"discogs-gateway/internal/config"
)

// RateLimiter returns a per-IP token bucket limiter, or nil when disabled.
// Rejections use the gateway error body so callers see one error shape.
func RateLimiter(cfg config.RateLimitConfig) echo.MiddlewareFunc {
	if !cfg.Enabled || cfg.RequestsPerSecond <= 0 {
		return nil
	}
	store := echomw.NewRateLimiterMemoryStore(rate.Limit(cfg.RequestsPerSecond))
	return echomw.RateLimiterWithConfig(echomw.RateLimiterConfig{
		Store: store,
		DenyHandler: func(c echo.Context, _ string, _ error) error {
			e := &apierror.Error{Kind: apierror.RateLimited, Reason: apierror.ReasonGatewayRateLimit}
			return e.Write(c)
		},
	})
}
