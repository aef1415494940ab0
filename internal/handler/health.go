package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"discogs-gateway/internal/config"
)

// Version is a string type for dependency injection of the build version.
type Version string

// SecretStatus reports which credentials are usable without exposing them.
type SecretStatus interface {
	KeyConfigured() bool
	TokenConfigured() bool
}

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	version Version
	secrets SecretStatus
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version, secrets SecretStatus) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v, secrets: secrets}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

type statusResponse struct {
	Status          string `json:"status"`
	Version         string `json:"version"`
	UpstreamURL     string `json:"upstream_url"`
	RewriteURLs     bool   `json:"rewrite_urls"`
	KeyCheck        bool   `json:"key_check_enabled"`
	KeyConfigured   bool   `json:"api_key_configured"`
	TokenConfigured bool   `json:"token_configured"`
}

// Status returns gateway status information. Secret values are never included.
func (h *HealthHandler) Status(c echo.Context) error {
	resp := statusResponse{
		Status:      "ok",
		Version:     string(h.version),
		UpstreamURL: h.cfg.Upstream.BaseURL,
		RewriteURLs: h.cfg.RewriteEnabled(),
		KeyCheck:    !h.cfg.Auth.DisableCheck,
	}
	if h.secrets != nil {
		resp.KeyConfigured = h.secrets.KeyConfigured()
		resp.TokenConfigured = h.secrets.TokenConfigured()
	}
	return c.JSON(http.StatusOK, resp)
}
