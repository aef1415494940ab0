package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"discogs-gateway/internal/config"
	"discogs-gateway/internal/metrics"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
func RegisterRoutes(e *echo.Echo, proxy *ProxyHandler, health *HealthHandler) {
	e.GET("/healthz", health.Healthz)
	e.GET("/gateway/status", health.Status)

	api := e.Group("/api")

	api.GET("/artists/:artist_id/releases", proxy.ArtistReleases)

	api.GET("/database/search", proxy.DatabaseSearch)

	api.GET("/labels/:label_id", proxy.Label)
	api.GET("/labels/:label_id/:sub", proxy.LabelSub)

	api.GET("/masters/:master_id", proxy.Master)
	api.GET("/masters/:master_id/:sub", proxy.MasterSub)

	api.POST("/marketplace/listings", proxy.ListingCreate)
	api.DELETE("/marketplace/listings/:listing_id", proxy.ListingDelete)
	api.GET("/marketplace/price_suggestions/:release_id", proxy.PriceSuggestions)

	api.GET("/releases/:release_id", proxy.Release)

	api.GET("/users/:username/wants", proxy.Wantlist)
	api.PUT("/users/:username/wants/:release_id", proxy.WantlistUpsert)
	api.POST("/users/:username/collection/folders/:folder_id/releases/:release_id", proxy.CollectionAdd)
}

// RegisterMetrics exposes the Prometheus registry when metrics are enabled.
func RegisterMetrics(e *echo.Echo, cfg *config.Config, m *metrics.Metrics) {
	if !cfg.Metrics.Enabled {
		return
	}
	e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
}
