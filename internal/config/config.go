// Package config handles TOML configuration loading, environment overrides
// and validation.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/discogs-gateway/config.toml",
	"configs/config.toml",
}

// reservedPrefixes are route prefixes the metrics endpoint may not shadow.
var reservedPrefixes = []string{"/api", "/healthz", "/gateway/status"}

const (
	DefaultBaseURL   = "https://api.discogs.com"
	DefaultUserAgent = "DiscogsAgent/0.1"
)

// CLI holds command-line arguments parsed by Kong. Every field can also be set
// through the environment variable named in its env tag.
type CLI struct {
	Config   string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host     string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port     int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	LogLevel string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`

	APIKey          string `kong:"help='API key callers must present in X-Api-Key.',env='X_API_KEY'"`
	DisableKeyCheck string `kong:"help='Set to true to skip the caller key check.',env='DISABLE_CLIENT_KEY_CHECK'"`
	DiscogsToken    string `kong:"help='Discogs personal access token injected upstream.',env='DISCOGS_TOKEN'"`
	UserAgent       string `kong:"help='User-Agent sent upstream.',env='USER_AGENT'"`
	DebugRequestLog string `kong:"help='Set to true to log sanitized inbound requests.',env='DEBUG_REQUEST_LOG'"`
	DebugErrors     string `kong:"help='Set to true to include error detail in responses.',env='DEBUG_ERRORS'"`
	RewriteURLs     string `kong:"name='rewrite-urls',help='Set to false to disable upstream URL rewriting.',env='REWRITE_UPSTREAM_URLS'"`
}

// Config is the top-level application configuration. It is built once by Load
// and treated as read-only afterwards.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Auth     AuthConfig     `toml:"auth"`
	Upstream UpstreamConfig `toml:"upstream"`
	Proxy    ProxyConfig    `toml:"proxy"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Tracing  TracingConfig  `toml:"tracing"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (8000)
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// AuthConfig holds the caller-facing key settings.
type AuthConfig struct {
	APIKey       string `toml:"api_key"`
	DisableCheck bool   `toml:"disable_check"`
}

// UpstreamConfig holds upstream connection settings and credentials.
type UpstreamConfig struct {
	BaseURL              string `toml:"base_url"`
	Token                string `toml:"token"`
	UserAgent            string `toml:"user_agent"`
	TimeoutSeconds       int    `toml:"timeout_seconds"`
	SearchTimeoutSeconds int    `toml:"search_timeout_seconds"`
	IdleConnections      int    `toml:"idle_connections"`
	RetryBackoffMillis   int    `toml:"retry_backoff_ms"`
}

// ProxyConfig holds response handling and debugging switches.
type ProxyConfig struct {
	// RewriteURLs is a pointer so an omitted key keeps the default (on).
	RewriteURLs     *bool  `toml:"rewrite_urls"`
	PublicBaseURL   string `toml:"public_base_url"`
	DebugRequestLog bool   `toml:"debug_request_log"`
	DebugErrors     bool   `toml:"debug_errors"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool    `toml:"enabled"`
	ServiceName  string  `toml:"service_name"`
	OTLPEndpoint string  `toml:"otlp_endpoint"`
	SamplingRate float64 `toml:"sampling_rate"` // 0 means "use default" (1.0)
	Insecure     bool    `toml:"insecure"`
}

// Load reads the TOML config file (if any) and applies CLI and environment
// overrides. When no explicit path is given it searches
// /etc/discogs-gateway/config.toml then configs/config.toml; a missing file is
// not an error because the environment alone is a complete configuration.
func Load(cli *CLI) (*Config, error) {
	var cfg Config

	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	cfg.applyCLI(cli)
	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags and environment values.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
	if cli.APIKey != "" {
		c.Auth.APIKey = cli.APIKey
	}
	if cli.DiscogsToken != "" {
		c.Upstream.Token = cli.DiscogsToken
	}
	if cli.UserAgent != "" {
		c.Upstream.UserAgent = cli.UserAgent
	}
	if v, ok := parseFlag(cli.DisableKeyCheck); ok {
		c.Auth.DisableCheck = v
	}
	if v, ok := parseFlag(cli.DebugRequestLog); ok {
		c.Proxy.DebugRequestLog = v
	}
	if v, ok := parseFlag(cli.DebugErrors); ok {
		c.Proxy.DebugErrors = v
	}
	if v, ok := parseFlag(cli.RewriteURLs); ok {
		c.Proxy.RewriteURLs = &v
	}
}

// parseFlag reports whether s is set and, if so, whether it equals "true"
// ignoring case. Any other non-empty value reads as false.
func parseFlag(s string) (value, set bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return false, false
	}
	return strings.EqualFold(s, "true"), true
}

func (c *Config) validate() error {
	u, err := url.Parse(c.Upstream.BaseURL)
	if err != nil {
		return fmt.Errorf("upstream.base_url is not a valid URL: %w", err)
	}
	if u.Scheme != "https" {
		return fmt.Errorf("upstream.base_url must use HTTPS; got %q", c.Upstream.BaseURL)
	}
	if u.Host == "" {
		return fmt.Errorf("upstream.base_url has no host; got %q", c.Upstream.BaseURL)
	}

	if c.Proxy.PublicBaseURL != "" {
		pu, err := url.Parse(c.Proxy.PublicBaseURL)
		if err != nil || pu.Scheme == "" || pu.Host == "" {
			return fmt.Errorf("proxy.public_base_url must be an absolute URL; got %q", c.Proxy.PublicBaseURL)
		}
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Upstream.TimeoutSeconds < 0 || c.Upstream.SearchTimeoutSeconds < 0 {
		return fmt.Errorf("upstream timeouts must be non-negative")
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}
	if c.Upstream.RetryBackoffMillis < 0 {
		return fmt.Errorf("upstream.retry_backoff_ms must be non-negative; got %d", c.Upstream.RetryBackoffMillis)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	if c.Metrics.Enabled {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range reservedPrefixes {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return fmt.Errorf("tracing.sampling_rate must be within [0, 1]; got %v", c.Tracing.SamplingRate)
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 1024 * 1024 // 1 MB
	}
	if c.Upstream.BaseURL == "" {
		c.Upstream.BaseURL = DefaultBaseURL
	}
	if c.Upstream.UserAgent == "" {
		c.Upstream.UserAgent = DefaultUserAgent
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 10
	}
	if c.Upstream.SearchTimeoutSeconds == 0 {
		c.Upstream.SearchTimeoutSeconds = 15
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Upstream.RetryBackoffMillis == 0 {
		c.Upstream.RetryBackoffMillis = 250
	}
	if c.Proxy.RewriteURLs == nil {
		on := true
		c.Proxy.RewriteURLs = &on
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "discogs-gateway"
	}
}

// RewriteEnabled reports whether upstream URLs in JSON bodies are rewritten.
// A nil RewriteURLs (config built by hand) counts as enabled.
func (c *Config) RewriteEnabled() bool {
	return c.Proxy.RewriteURLs == nil || *c.Proxy.RewriteURLs
}

// Timeout returns the per-attempt upstream timeout.
func (c *UpstreamConfig) Timeout() time.Duration {
	return secondsOr(c.TimeoutSeconds, 10)
}

// SearchTimeout returns the per-attempt upstream timeout for database search.
func (c *UpstreamConfig) SearchTimeout() time.Duration {
	return secondsOr(c.SearchTimeoutSeconds, 15)
}

// RetryBackoffUnit returns the linear backoff step between attempts.
func (c *UpstreamConfig) RetryBackoffUnit() time.Duration {
	if c.RetryBackoffMillis <= 0 {
		return 250 * time.Millisecond
	}
	return time.Duration(c.RetryBackoffMillis) * time.Millisecond
}

func secondsOr(n, def int) time.Duration {
	if n <= 0 {
		n = def
	}
	return time.Duration(n) * time.Second
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WarnPermissions logs a warning if the config file is readable by group or
// others. The file may carry the upstream token.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
