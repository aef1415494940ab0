package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/fx"

	"discogs-gateway/internal/auth"
	"discogs-gateway/internal/client"
	"discogs-gateway/internal/config"
	"discogs-gateway/internal/handler"
	"discogs-gateway/internal/metrics"
	"discogs-gateway/internal/middleware"
	"discogs-gateway/internal/retry"
	"discogs-gateway/internal/secret"
	"discogs-gateway/internal/service"
	"discogs-gateway/internal/telemetry"
	"discogs-gateway/internal/tracing"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("discogs-gateway"),
		kong.Description("Authenticated gateway for the Discogs API."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			func() secret.Predicate { return secret.KeyVaultReference },
			config.Load,
			newLogger,
			metrics.New,
			newTracer,
			newEmitter,
			newEcho,
			client.NewDiscogsClient,
			func(c *client.DiscogsClient) retry.Doer { return c },
			retry.NewController,
			func(c *retry.Controller) service.Caller { return c },
			auth.NewGate,
			func(g *auth.Gate) handler.SecretStatus { return g },
			service.NewProxyService,
			func(s *service.ProxyService) handler.Forwarder { return s },
			handler.NewProxyHandler,
			handler.NewHealthHandler,
		),
		fx.Invoke(handler.RegisterRoutes, handler.RegisterMetrics, warnConfigPermissions, startServer),
	).Run()
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "text":
		h = slog.NewTextHandler(os.Stdout, opts)
	default:
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(h).With("service", "discogs-gateway")
}

func newTracer(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger) (*tracing.Tracer, error) {
	t, err := tracing.New(cfg, logger)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: t.Shutdown})
	return t, nil
}

func newEmitter(lc fx.Lifecycle, logger *slog.Logger, m *metrics.Metrics) *telemetry.Emitter {
	em := telemetry.New(logger, m, telemetry.DefaultBufferSize)
	lc.Append(fx.StopHook(em.Close))
	return em
}

func newEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Inbound timeouts to mitigate slow clients. The write deadline covers the
	// longest upstream budget: two search attempts plus the retry wait.
	e.Server.ReadTimeout = 30 * time.Second
	e.Server.WriteTimeout = 2*cfg.Upstream.SearchTimeout() + cfg.Upstream.RetryBackoffUnit() + 5*time.Second
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(logger))
	e.Use(middleware.MetricsMiddleware(m))
	e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Server.BodyMaxBytes)))
	e.Use(middleware.SecurityHeaders())

	if rl := middleware.RateLimiter(cfg.Server.RateLimit); rl != nil {
		e.Use(rl)
		logger.Info("rate limiter enabled", "rps", cfg.Server.RateLimit.RequestsPerSecond)
	}

	return e
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
}

func startServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			addr := cfg.Server.Addr()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			logger.Info("starting server",
				"addr", addr,
				"upstream", cfg.Upstream.BaseURL,
				"rewrite_urls", cfg.RewriteEnabled(),
				"key_check_enabled", !cfg.Auth.DisableCheck,
			)
			go func() {
				if err := e.Server.Serve(ln); err != nil && err != http.ErrServerClosed {
					logger.Error("server error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down server")
			return e.Shutdown(ctx)
		},
	})
}
