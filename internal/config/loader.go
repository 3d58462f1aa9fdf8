package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig is the YAML shape of a config file. Durations are carried as
// strings and parsed during merge so a bad value fails with the offending
// key in the message. The ICE server list is a JSON string copied as-is;
// Validate rejects it if it is not a JSON array.
type fileConfig struct {
	ListenAddr     string   `yaml:"listen_addr,omitempty"`
	WSPath         string   `yaml:"ws_path,omitempty"`
	AllowedOrigins []string `yaml:"allowed_origins,omitempty"`
	Production     *bool    `yaml:"production,omitempty"`

	ICEServers string `yaml:"ice_servers,omitempty"`

	MaxConnsPerIP *int `yaml:"max_conns_per_ip,omitempty"`

	MetricsEnabled *bool  `yaml:"metrics_enabled,omitempty"`
	MetricsToken   string `yaml:"metrics_token,omitempty"`

	MessageRate  *float64 `yaml:"message_rate,omitempty"`
	MessageBurst *int     `yaml:"message_burst,omitempty"`

	HTTPRateWindow string `yaml:"http_rate_window,omitempty"`
	StaticRateMax  *int   `yaml:"static_rate_max,omitempty"`
	ConfigRateMax  *int   `yaml:"config_rate_max,omitempty"`

	RedisURL    string `yaml:"redis_url,omitempty"`
	RedisPrefix string `yaml:"redis_prefix,omitempty"`
	NodeID      string `yaml:"node_id,omitempty"`

	LogLevel string `yaml:"log_level,omitempty"`

	HSTSEnabled *bool `yaml:"hsts_enabled,omitempty"`
	HSTSMaxAge  *int  `yaml:"hsts_max_age,omitempty"`

	WebRoot string `yaml:"web_root,omitempty"`

	IdleTimeout       string `yaml:"idle_timeout,omitempty"`
	HeartbeatInterval string `yaml:"heartbeat_interval,omitempty"`
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	var raw fileConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setString(&c.ListenAddr, raw.ListenAddr)
	setString(&c.WSPath, raw.WSPath)
	if raw.AllowedOrigins != nil {
		c.AllowedOrigins = raw.AllowedOrigins
	}
	setBool(&c.Production, raw.Production)
	if raw.ICEServers != "" {
		c.ICEServers = json.RawMessage(raw.ICEServers)
	}
	setInt(&c.MaxConnsPerIP, raw.MaxConnsPerIP)
	setBool(&c.MetricsEnabled, raw.MetricsEnabled)
	setString(&c.MetricsToken, raw.MetricsToken)
	if raw.MessageRate != nil {
		c.MessageRate = *raw.MessageRate
	}
	setInt(&c.MessageBurst, raw.MessageBurst)
	if err := setDuration(&c.HTTPRateWindow, raw.HTTPRateWindow, "http_rate_window"); err != nil {
		return err
	}
	setInt(&c.StaticRateMax, raw.StaticRateMax)
	setInt(&c.ConfigRateMax, raw.ConfigRateMax)
	setString(&c.RedisURL, raw.RedisURL)
	setString(&c.RedisPrefix, raw.RedisPrefix)
	setString(&c.NodeID, raw.NodeID)
	setString(&c.LogLevel, raw.LogLevel)
	setBool(&c.HSTSEnabled, raw.HSTSEnabled)
	setInt(&c.HSTSMaxAge, raw.HSTSMaxAge)
	setString(&c.WebRoot, raw.WebRoot)
	if err := setDuration(&c.IdleTimeout, raw.IdleTimeout, "idle_timeout"); err != nil {
		return err
	}
	if err := setDuration(&c.HeartbeatInterval, raw.HeartbeatInterval, "heartbeat_interval"); err != nil {
		return err
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v, key string) error {
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = d
	return nil
}

// mergeEnv applies BEAMDROP_* overrides. getenv is injected so tests never
// touch the process environment.
func (c *Config) mergeEnv(getenv func(string) string) error {
	if getenv == nil {
		getenv = os.Getenv
	}

	envString(getenv, "BEAMDROP_ADDR", &c.ListenAddr)
	envString(getenv, "BEAMDROP_WS_PATH", &c.WSPath)
	if v := getenv("BEAMDROP_ALLOWED_ORIGINS"); v != "" {
		c.AllowedOrigins = splitOrigins(v)
	}
	if err := envBool(getenv, "BEAMDROP_PRODUCTION", &c.Production); err != nil {
		return err
	}
	if v := getenv("BEAMDROP_ICE_SERVERS"); v != "" {
		c.ICEServers = json.RawMessage(v)
	}
	if err := envInt(getenv, "BEAMDROP_MAX_CONNS_PER_IP", &c.MaxConnsPerIP); err != nil {
		return err
	}
	if err := envBool(getenv, "BEAMDROP_METRICS", &c.MetricsEnabled); err != nil {
		return err
	}
	envString(getenv, "BEAMDROP_METRICS_TOKEN", &c.MetricsToken)
	if err := envFloat(getenv, "BEAMDROP_MSG_RATE", &c.MessageRate); err != nil {
		return err
	}
	if err := envInt(getenv, "BEAMDROP_MSG_BURST", &c.MessageBurst); err != nil {
		return err
	}
	if err := envDuration(getenv, "BEAMDROP_HTTP_RATE_WINDOW", &c.HTTPRateWindow); err != nil {
		return err
	}
	if err := envInt(getenv, "BEAMDROP_STATIC_RATE_MAX", &c.StaticRateMax); err != nil {
		return err
	}
	if err := envInt(getenv, "BEAMDROP_CONFIG_RATE_MAX", &c.ConfigRateMax); err != nil {
		return err
	}
	envString(getenv, "BEAMDROP_REDIS_URL", &c.RedisURL)
	envString(getenv, "BEAMDROP_REDIS_PREFIX", &c.RedisPrefix)
	envString(getenv, "BEAMDROP_NODE_ID", &c.NodeID)
	envString(getenv, "BEAMDROP_LOG_LEVEL", &c.LogLevel)
	if err := envBool(getenv, "BEAMDROP_HSTS", &c.HSTSEnabled); err != nil {
		return err
	}
	if err := envInt(getenv, "BEAMDROP_HSTS_MAX_AGE", &c.HSTSMaxAge); err != nil {
		return err
	}
	envString(getenv, "BEAMDROP_WEB_ROOT", &c.WebRoot)
	if err := envDuration(getenv, "BEAMDROP_IDLE_TIMEOUT", &c.IdleTimeout); err != nil {
		return err
	}
	if err := envDuration(getenv, "BEAMDROP_HEARTBEAT_INTERVAL", &c.HeartbeatInterval); err != nil {
		return err
	}
	return nil
}

func splitOrigins(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envString(getenv func(string) string, key string, dst *string) {
	if v := getenv(key); v != "" {
		*dst = v
	}
}

func envInt(getenv func(string) string, key string, dst *int) error {
	v := getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s=%q: %w", key, v, err)
	}
	*dst = n
	return nil
}

func envFloat(getenv func(string) string, key string, dst *float64) error {
	v := getenv(key)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("invalid %s=%q: %w", key, v, err)
	}
	*dst = f
	return nil
}

func envBool(getenv func(string) string, key string, dst *bool) error {
	v := getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("invalid %s=%q: %w", key, v, err)
	}
	*dst = b
	return nil
}

func envDuration(getenv func(string) string, key string, dst *time.Duration) error {
	v := getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s=%q: %w", key, v, err)
	}
	*dst = d
	return nil
}
