package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

// cliWithPath returns a CLI struct pointing at the given config file.
func cliWithPath(path string) *CLI {
	return &CLI{Config: path}
}

// writeConfig writes data to a config.toml in a fresh temp dir and returns its path.
func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "127.0.0.1"
port = 9000
body_max_bytes = 5242880

[auth]
api_key = "caller-key"

[upstream]
base_url = "https://api.discogs.com"
token = "discogs-token"
user_agent = "TestAgent/1.0"
timeout_seconds = 12
search_timeout_seconds = 20
retry_backoff_ms = 100

[proxy]
rewrite_urls = false
public_base_url = "https://gw.example.com"
debug_errors = true

[log]
level = "debug"
format = "text"
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 9000)
	}
	if cfg.Auth.APIKey != "caller-key" {
		t.Errorf("Auth.APIKey = %q, want %q", cfg.Auth.APIKey, "caller-key")
	}
	if cfg.Upstream.Token != "discogs-token" {
		t.Errorf("Upstream.Token = %q, want %q", cfg.Upstream.Token, "discogs-token")
	}
	if cfg.Upstream.UserAgent != "TestAgent/1.0" {
		t.Errorf("Upstream.UserAgent = %q, want %q", cfg.Upstream.UserAgent, "TestAgent/1.0")
	}
	if got := cfg.Upstream.Timeout(); got != 12*time.Second {
		t.Errorf("Upstream.Timeout() = %v, want 12s", got)
	}
	if got := cfg.Upstream.SearchTimeout(); got != 20*time.Second {
		t.Errorf("Upstream.SearchTimeout() = %v, want 20s", got)
	}
	if got := cfg.Upstream.RetryBackoffUnit(); got != 100*time.Millisecond {
		t.Errorf("Upstream.RetryBackoffUnit() = %v, want 100ms", got)
	}
	if cfg.RewriteEnabled() {
		t.Error("RewriteEnabled() = true, want false")
	}
	if !cfg.Proxy.DebugErrors {
		t.Error("Proxy.DebugErrors = false, want true")
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}
	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "text")
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "# empty\n")

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("default Server.Host = %q, want %q", cfg.Server.Host, "0.0.0.0")
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("default Server.Port = %d, want %d", cfg.Server.Port, 8000)
	}
	if cfg.Server.BodyMaxBytes != 1024*1024 {
		t.Errorf("default Server.BodyMaxBytes = %d, want %d", cfg.Server.BodyMaxBytes, 1024*1024)
	}
	if cfg.Upstream.BaseURL != DefaultBaseURL {
		t.Errorf("default Upstream.BaseURL = %q, want %q", cfg.Upstream.BaseURL, DefaultBaseURL)
	}
	if cfg.Upstream.UserAgent != DefaultUserAgent {
		t.Errorf("default Upstream.UserAgent = %q, want %q", cfg.Upstream.UserAgent, DefaultUserAgent)
	}
	if got := cfg.Upstream.Timeout(); got != 10*time.Second {
		t.Errorf("default Upstream.Timeout() = %v, want 10s", got)
	}
	if got := cfg.Upstream.SearchTimeout(); got != 15*time.Second {
		t.Errorf("default Upstream.SearchTimeout() = %v, want 15s", got)
	}
	if got := cfg.Upstream.RetryBackoffUnit(); got != 250*time.Millisecond {
		t.Errorf("default Upstream.RetryBackoffUnit() = %v, want 250ms", got)
	}
	if !cfg.RewriteEnabled() {
		t.Error("default RewriteEnabled() = false, want true")
	}
	if cfg.Auth.DisableCheck {
		t.Error("default Auth.DisableCheck = true, want false")
	}
	if cfg.Log.Level != "info" {
		t.Errorf("default Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.Log.Format != "json" {
		t.Errorf("default Log.Format = %q, want %q", cfg.Log.Format, "json")
	}
	if cfg.Tracing.ServiceName != "discogs-gateway" {
		t.Errorf("default Tracing.ServiceName = %q, want %q", cfg.Tracing.ServiceName, "discogs-gateway")
	}
}

func TestLoad_EmptyAPIKeyAllowed(t *testing.T) {
	// A missing caller key is reported per request (503), not at startup.
	path := writeConfig(t, "[auth]\napi_key = \"\"\n")

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Auth.APIKey != "" {
		t.Errorf("Auth.APIKey = %q, want empty", cfg.Auth.APIKey)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(cliWithPath("/nonexistent/config.toml"))
	if err == nil {
		t.Fatal("Load() expected error for missing explicit file, got nil")
	}
}

func TestLoad_InvalidTOML(t *testing.T) {
	path := writeConfig(t, "[server\nport = ")

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for malformed TOML, got nil")
	}
}

func TestLoad_CLIOverrides(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "0.0.0.0"
port = 8000

[auth]
api_key = "toml-key"
disable_check = true

[upstream]
token = "toml-token"

[proxy]
debug_request_log = true

[log]
level = "info"
`)

	cli := &CLI{
		Config:          path,
		Host:            "127.0.0.1",
		Port:            3000,
		LogLevel:        "debug",
		APIKey:          "env-key",
		DiscogsToken:    "env-token",
		UserAgent:       "EnvAgent/2.0",
		DisableKeyCheck: "false",
		DebugRequestLog: "FALSE",
		DebugErrors:     "True",
		RewriteURLs:     "false",
	}

	cfg, err := Load(cli)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q (CLI override)", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want %d (CLI override)", cfg.Server.Port, 3000)
	}
	if cfg.Auth.APIKey != "env-key" {
		t.Errorf("Auth.APIKey = %q, want %q", cfg.Auth.APIKey, "env-key")
	}
	if cfg.Upstream.Token != "env-token" {
		t.Errorf("Upstream.Token = %q, want %q", cfg.Upstream.Token, "env-token")
	}
	if cfg.Upstream.UserAgent != "EnvAgent/2.0" {
		t.Errorf("Upstream.UserAgent = %q, want %q", cfg.Upstream.UserAgent, "EnvAgent/2.0")
	}
	if cfg.Auth.DisableCheck {
		t.Error("Auth.DisableCheck = true, want false (env override)")
	}
	if cfg.Proxy.DebugRequestLog {
		t.Error("Proxy.DebugRequestLog = true, want false (env override)")
	}
	if !cfg.Proxy.DebugErrors {
		t.Error("Proxy.DebugErrors = false, want true (env override)")
	}
	if cfg.RewriteEnabled() {
		t.Error("RewriteEnabled() = true, want false (env override)")
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q (CLI override)", cfg.Log.Level, "debug")
	}
}

func TestParseFlag(t *testing.T) {
	tests := []struct {
		in        string
		wantValue bool
		wantSet   bool
	}{
		{"", false, false},
		{"  ", false, false},
		{"true", true, true},
		{"TRUE", true, true},
		{" True ", true, true},
		{"false", false, true},
		{"1", false, true},
		{"yes", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			v, set := parseFlag(tt.in)
			if v != tt.wantValue || set != tt.wantSet {
				t.Errorf("parseFlag(%q) = (%v, %v), want (%v, %v)", tt.in, v, set, tt.wantValue, tt.wantSet)
			}
		})
	}
}

func TestLoad_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		errWant string
	}{
		{"http upstream", "[upstream]\nbase_url = \"http://api.discogs.com\"\n", "HTTPS"},
		{"negative port", "[server]\nport = -1\n", "server.port"},
		{"negative body limit", "[server]\nbody_max_bytes = -1\n", "body_max_bytes"},
		{"negative timeout", "[upstream]\ntimeout_seconds = -5\n", "timeouts"},
		{"negative search timeout", "[upstream]\nsearch_timeout_seconds = -1\n", "timeouts"},
		{"negative backoff", "[upstream]\nretry_backoff_ms = -1\n", "retry_backoff_ms"},
		{"invalid log level", "[log]\nlevel = \"verbose\"\n", "log.level"},
		{"invalid log format", "[log]\nformat = \"xml\"\n", "log.format"},
		{"relative public url", "[proxy]\npublic_base_url = \"/gw\"\n", "public_base_url"},
		{"sampling rate", "[tracing]\nsampling_rate = 2.0\n", "sampling_rate"},
		{"rate limit zero", "[server.rate_limit]\nenabled = true\nrequests_per_second = 0\n", "requests_per_second"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(cliWithPath(writeConfig(t, tt.data)))
			if err == nil {
				t.Fatal("Load() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.errWant) {
				t.Errorf("error = %q, want mention of %q", err, tt.errWant)
			}
		})
	}
}

func TestLoad_RateLimitConfig_Enabled(t *testing.T) {
	path := writeConfig(t, `
[server.rate_limit]
enabled = true
requests_per_second = 50.0
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Server.RateLimit.Enabled {
		t.Error("expected RateLimit.Enabled = true")
	}
	if cfg.Server.RateLimit.RequestsPerSecond != 50.0 {
		t.Errorf("RateLimit.RequestsPerSecond = %v, want 50.0", cfg.Server.RateLimit.RequestsPerSecond)
	}
}

func TestRewriteEnabled_NilMeansOn(t *testing.T) {
	cfg := &Config{}
	if !cfg.RewriteEnabled() {
		t.Error("RewriteEnabled() on zero Config = false, want true")
	}
}

func TestWarnPermissions_Loose(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on Windows")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("# test"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := &Config{filePath: path}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg.WarnPermissions(logger)

	if !strings.Contains(buf.String(), "readable by group/others") {
		t.Errorf("expected permission warning, got: %q", buf.String())
	}
}

func TestWarnPermissions_Strict(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on Windows")
	}
	path := writeConfig(t, "# test")

	cfg := &Config{filePath: path}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg.WarnPermissions(logger)

	if buf.Len() != 0 {
		t.Errorf("expected no warning for 0600 file, got: %q", buf.String())
	}
}

func TestFindConfigInPaths(t *testing.T) {
	path1 := writeConfig(t, "# one")
	path2 := writeConfig(t, "# two")

	if got := findConfigInPaths([]string{"/nonexistent/a.toml", path2, path1}); got != path2 {
		t.Errorf("findConfigInPaths() = %q, want first existing %q", got, path2)
	}
	if got := findConfigInPaths([]string{"/nonexistent/a.toml", "/nonexistent/b.toml"}); got != "" {
		t.Errorf("findConfigInPaths() = %q, want empty", got)
	}
}

func TestLoad_MetricsPath(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    string
		wantErr string
	}{
		{"default", "[metrics]\nenabled = true\n", "/metrics", ""},
		{"custom", "[metrics]\nenabled = true\npath = \"/custom-metrics\"\n", "/custom-metrics", ""},
		{"disabled skips validation", "[metrics]\nenabled = false\npath = \"bad\"\n", "bad", ""},
		{"no leading slash", "[metrics]\nenabled = true\npath = \"metrics\"\n", "", "metrics.path"},
		{"api prefix", "[metrics]\nenabled = true\npath = \"/api\"\n", "", "conflicts"},
		{"api sub", "[metrics]\nenabled = true\npath = \"/api/metrics\"\n", "", "conflicts"},
		{"healthz", "[metrics]\nenabled = true\npath = \"/healthz\"\n", "", "conflicts"},
		{"status", "[metrics]\nenabled = true\npath = \"/gateway/status\"\n", "", "conflicts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(cliWithPath(writeConfig(t, tt.data)))
			if tt.wantErr != "" {
				if err == nil {
					t.Fatalf("Load() expected error mentioning %q, got nil", tt.wantErr)
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("error = %q, want mention of %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if cfg.Metrics.Path != tt.want {
				t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, tt.want)
			}
		})
	}
}

func TestServerConfig_Addr(t *testing.T) {
	sc := &ServerConfig{Host: "127.0.0.1", Port: 3000}
	want := "127.0.0.1:3000"
	if got := sc.Addr(); got != want {
		t.Errorf("Addr() = %q, want %q", got, want)
	}
}
