package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"discogs-gateway/internal/config"
)

type fakeSecrets struct{ key, token bool }

func (f fakeSecrets) KeyConfigured() bool   { return f.key }
func (f fakeSecrets) TokenConfigured() bool { return f.token }

func TestHealthz(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := NewHealthHandler(&config.Config{}, "test", nil)
	if err := h.Healthz(c); err != nil {
		t.Fatalf("Healthz() error = %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %q, want %q", body["status"], "ok")
	}
}

func TestStatus(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/gateway/status", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	off := false
	cfg := &config.Config{
		Auth:     config.AuthConfig{APIKey: "secret-key"},
		Upstream: config.UpstreamConfig{BaseURL: "https://api.discogs.com", Token: "secret-token"},
		Proxy:    config.ProxyConfig{RewriteURLs: &off},
	}
	h := NewHealthHandler(cfg, "1.2.3", fakeSecrets{key: true, token: false})
	if err := h.Status(c); err != nil {
		t.Fatalf("Status() error = %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := statusResponse{
		Status:          "ok",
		Version:         "1.2.3",
		UpstreamURL:     "https://api.discogs.com",
		RewriteURLs:     false,
		KeyCheck:        true,
		KeyConfigured:   true,
		TokenConfigured: false,
	}
	if body != want {
		t.Errorf("body = %+v, want %+v", body, want)
	}
	for _, s := range []string{"secret-key", "secret-token"} {
		if strings.Contains(rec.Body.String(), s) {
			t.Errorf("status leaked %q", s)
		}
	}
}

