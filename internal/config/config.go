// Package config loads and validates the relay configuration.
//
// Configuration comes from three layers, later layers winning: built-in
// defaults, an optional YAML file, and BEAMDROP_* environment variables.
// The resulting Config is a frozen value; nothing reads the environment
// after Load returns.
package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/beamdrop/beamdrop/internal/validate"
)

// Config is the complete, validated relay configuration.
type Config struct {
	ListenAddr     string
	WSPath         string
	AllowedOrigins []string
	Production     bool

	// ICEServers is a JSON array passed verbatim to clients via /config.
	ICEServers json.RawMessage

	MaxConnsPerIP int

	MetricsEnabled bool
	MetricsToken   string

	// Token bucket parameters applied per WebSocket connection.
	MessageRate  float64 // sustained messages per second
	MessageBurst int     // bucket capacity

	// Sliding-window HTTP rate limits, per source IP.
	HTTPRateWindow time.Duration
	StaticRateMax  int
	ConfigRateMax  int

	// Cross-instance bus. Empty RedisURL disables the bus.
	RedisURL    string
	RedisPrefix string
	NodeID      string

	LogLevel string

	HSTSEnabled bool
	HSTSMaxAge  int

	WebRoot string

	IdleTimeout       time.Duration
	HeartbeatInterval time.Duration
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ListenAddr:        ":8443",
		WSPath:            "/ws",
		ICEServers:        json.RawMessage("[]"),
		MaxConnsPerIP:     16,
		MessageRate:       20,
		MessageBurst:      40,
		HTTPRateWindow:    time.Minute,
		StaticRateMax:     300,
		ConfigRateMax:     60,
		RedisPrefix:       "beamdrop:",
		LogLevel:          "info",
		HSTSMaxAge:        31536000,
		WebRoot:           "./web",
		IdleTimeout:       60 * time.Second,
		HeartbeatInterval: 30 * time.Second,
	}
}

// Validate checks a fully merged configuration. It rejects malformed values
// and non-positive limits (message_rate may be zero; only a negative rate
// is rejected) and enforces that production deployments carry an explicit
// origin allowlist.
func (c *Config) Validate() error {
	if err := validate.ListenAddr(c.ListenAddr); err != nil {
		return fmt.Errorf("listen_addr: %w", err)
	}
	if !strings.HasPrefix(c.WSPath, "/") {
		return fmt.Errorf("ws_path %q: %w", c.WSPath, ErrBadPath)
	}
	if c.Production && len(c.AllowedOrigins) == 0 {
		return ErrMissingOrigins
	}
	for _, o := range c.AllowedOrigins {
		if err := validate.Origin(o); err != nil {
			return fmt.Errorf("allowed_origins: %w", err)
		}
	}
	var ice []json.RawMessage
	if err := json.Unmarshal(c.ICEServers, &ice); err != nil {
		return fmt.Errorf("%w: %v", ErrBadICEServers, err)
	}
	if c.MaxConnsPerIP <= 0 {
		return fmt.Errorf("max_conns_per_ip: %w", ErrBadLimit)
	}
	if c.MessageRate < 0 {
		return fmt.Errorf("message_rate must not be negative")
	}
	if c.MessageBurst <= 0 {
		return fmt.Errorf("message_burst: %w", ErrBadLimit)
	}
	if c.HTTPRateWindow <= 0 {
		return fmt.Errorf("http_rate_window: %w", ErrBadLimit)
	}
	if c.StaticRateMax <= 0 {
		return fmt.Errorf("static_rate_max: %w", ErrBadLimit)
	}
	if c.ConfigRateMax <= 0 {
		return fmt.Errorf("config_rate_max: %w", ErrBadLimit)
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("idle_timeout: %w", ErrBadLimit)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat_interval: %w", ErrBadLimit)
	}
	if c.HSTSEnabled && c.HSTSMaxAge <= 0 {
		return fmt.Errorf("hsts_max_age: %w", ErrBadLimit)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w, got %q", ErrBadLogLevel, c.LogLevel)
	}
	return nil
}

// BusEnabled reports whether a cross-instance bus is configured.
func (c *Config) BusEnabled() bool { return c.RedisURL != "" }

// Load builds the configuration from defaults, the optional YAML file at
// path (skipped when path is empty), and environment overrides, then
// validates the result. A missing NodeID is minted here so every instance
// has a stable identity for the lifetime of the process.
func Load(path string, getenv func(string) string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.mergeEnv(getenv); err != nil {
		return nil, err
	}

	if cfg.NodeID == "" {
		cfg.NodeID = uuid.NewString()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
