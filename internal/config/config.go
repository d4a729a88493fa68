// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/copilot-proxy/config.toml",
	"configs/config.toml",
}

// Cache backend names accepted in [cache].backend.
const (
	CacheBackendMemory = "memory"
	CacheBackendSQLite = "sqlite"
)

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config      string           `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host        string           `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port        int              `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	ExchangeURL string           `kong:"help='Token exchange endpoint (overrides config).',env='EXCHANGE_URL'"`
	LogLevel    string           `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
	Version     kong.VersionFlag `kong:"help='Print version and exit.'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Upstream UpstreamConfig `toml:"upstream"`
	Exchange ExchangeConfig `toml:"exchange"`
	Cache    CacheConfig    `toml:"cache"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (8000); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// UpstreamConfig holds the chat API connection settings and the
// client-identification headers the API expects on every call.
type UpstreamConfig struct {
	BaseURL              string `toml:"base_url"`
	HeaderTimeoutSeconds int    `toml:"header_timeout_seconds"`
	IdleConnections      int    `toml:"idle_connections"`

	EditorVersion       string `toml:"editor_version"`
	EditorPluginVersion string `toml:"editor_plugin_version"`
	Organization        string `toml:"organization"`
	Intent              string `toml:"intent"`
}

// ExchangeConfig holds the token exchange endpoint settings.
type ExchangeConfig struct {
	URL            string `toml:"url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// CacheConfig selects the token cache backend.
type CacheConfig struct {
	Backend       string `toml:"backend"`
	Path          string `toml:"path"`
	SweepSchedule string `toml:"sweep_schedule"`
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

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/copilot-proxy/config.toml then configs/config.toml.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path == "" {
		return nil, fmt.Errorf("config: no config file found (searched %v)", configSearchPaths)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.filePath = path
	cfg.applyCLI(cli)
	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.ExchangeURL != "" {
		c.Exchange.URL = cli.ExchangeURL
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	// Both outbound endpoints carry credentials and must be HTTPS.
	if err := validateHTTPSURL("upstream.base_url", c.Upstream.BaseURL); err != nil {
		return err
	}
	if err := validateHTTPSURL("exchange.url", c.Exchange.URL); err != nil {
		return err
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Upstream.HeaderTimeoutSeconds < 0 {
		return fmt.Errorf("upstream.header_timeout_seconds must be non-negative; got %d", c.Upstream.HeaderTimeoutSeconds)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}
	if c.Exchange.TimeoutSeconds < 0 {
		return fmt.Errorf("exchange.timeout_seconds must be non-negative; got %d", c.Exchange.TimeoutSeconds)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	// Cache backend.
	switch strings.ToLower(c.Cache.Backend) {
	case CacheBackendMemory:
	case CacheBackendSQLite:
		if c.Cache.Path == "" {
			return fmt.Errorf("cache.path is required when cache.backend is %q", CacheBackendSQLite)
		}
		if strings.ContainsAny(c.Cache.Path, "?#") {
			return fmt.Errorf("cache.path must not contain '?' or '#'; got %q", c.Cache.Path)
		}
	default:
		return fmt.Errorf("cache.backend must be one of: memory, sqlite; got %q", c.Cache.Backend)
	}
	if _, err := cron.ParseStandard(c.Cache.SweepSchedule); err != nil {
		return fmt.Errorf("cache.sweep_schedule %q is invalid: %w", c.Cache.SweepSchedule, err)
	}

	// Log fields.
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range []string{"/healthz", "/proxy/status"} {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

func validateHTTPSURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", field, err)
	}
	if u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("%s must be an absolute HTTPS URL; got %q", field, raw)
	}
	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, BodyMaxBytes, etc.), zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.Upstream.BaseURL == "" {
		c.Upstream.BaseURL = "https://api.githubcopilot.com"
	}
	if c.Upstream.HeaderTimeoutSeconds == 0 {
		c.Upstream.HeaderTimeoutSeconds = 120
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Upstream.EditorVersion == "" {
		c.Upstream.EditorVersion = "vscode/1.84.2"
	}
	if c.Upstream.EditorPluginVersion == "" {
		c.Upstream.EditorPluginVersion = "copilot-chat/0.10.1"
	}
	if c.Upstream.Organization == "" {
		c.Upstream.Organization = "github-copilot"
	}
	if c.Upstream.Intent == "" {
		c.Upstream.Intent = "conversation-panel"
	}
	if c.Exchange.URL == "" {
		c.Exchange.URL = "https://copilot.vercel.app/api/get_copilot_token"
	}
	if c.Exchange.TimeoutSeconds == 0 {
		c.Exchange.TimeoutSeconds = 30
	}
	if c.Cache.Backend == "" {
		c.Cache.Backend = CacheBackendMemory
	}
	if c.Cache.SweepSchedule == "" {
		c.Cache.SweepSchedule = "@every 5m"
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

// HeaderTimeout returns how long to wait for upstream response headers.
func (c *UpstreamConfig) HeaderTimeout() time.Duration {
	return time.Duration(c.HeaderTimeoutSeconds) * time.Second
}

// Timeout returns the whole-request timeout for exchange calls.
func (c *ExchangeConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// WarnPermissions logs a warning if the config file is readable by group or others.
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
