package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// env builds a getenv func from a map so tests never mutate the process
// environment.
func env(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", env(nil))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":8443" {
		t.Errorf("ListenAddr = %q, want :8443", cfg.ListenAddr)
	}
	if cfg.WSPath != "/ws" {
		t.Errorf("WSPath = %q, want /ws", cfg.WSPath)
	}
	if cfg.IdleTimeout != 60*time.Second {
		t.Errorf("IdleTimeout = %v, want 60s", cfg.IdleTimeout)
	}
	if cfg.HeartbeatInterval != 30*time.Second {
		t.Errorf("HeartbeatInterval = %v, want 30s", cfg.HeartbeatInterval)
	}
	if cfg.NodeID == "" {
		t.Error("NodeID was not minted")
	}
	if cfg.BusEnabled() {
		t.Error("bus should be disabled by default")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	cfg, err := Load("", env(map[string]string{
		"BEAMDROP_ADDR":            ":9000",
		"BEAMDROP_WS_PATH":         "/signal",
		"BEAMDROP_ALLOWED_ORIGINS": "https://a.example, https://b.example",
		"BEAMDROP_MSG_RATE":        "5.5",
		"BEAMDROP_MSG_BURST":       "10",
		"BEAMDROP_IDLE_TIMEOUT":    "90s",
		"BEAMDROP_METRICS":         "true",
		"BEAMDROP_REDIS_URL":       "redis://localhost:6379/0",
		"BEAMDROP_NODE_ID":         "node-1",
	}))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":9000" || cfg.WSPath != "/signal" {
		t.Errorf("addr/path = %q/%q", cfg.ListenAddr, cfg.WSPath)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
	if cfg.MessageRate != 5.5 || cfg.MessageBurst != 10 {
		t.Errorf("rate/burst = %v/%d", cfg.MessageRate, cfg.MessageBurst)
	}
	if cfg.IdleTimeout != 90*time.Second {
		t.Errorf("IdleTimeout = %v", cfg.IdleTimeout)
	}
	if !cfg.MetricsEnabled {
		t.Error("MetricsEnabled = false")
	}
	if !cfg.BusEnabled() || cfg.NodeID != "node-1" {
		t.Errorf("bus = %v, node = %q", cfg.BusEnabled(), cfg.NodeID)
	}
}

func TestLoadFileThenEnvWins(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "beamdrop.yaml")
	data := []byte("listen_addr: \":7000\"\nws_path: /file-path\nmessage_burst: 3\nidle_timeout: 10s\n")
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path, env(map[string]string{
		"BEAMDROP_WS_PATH": "/env-path",
	}))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":7000" {
		t.Errorf("ListenAddr = %q, want file value", cfg.ListenAddr)
	}
	if cfg.WSPath != "/env-path" {
		t.Errorf("WSPath = %q, env must win over file", cfg.WSPath)
	}
	if cfg.MessageBurst != 3 || cfg.IdleTimeout != 10*time.Second {
		t.Errorf("burst/idle = %d/%v", cfg.MessageBurst, cfg.IdleTimeout)
	}
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want error
	}{
		{
			name: "production without origins",
			env:  map[string]string{"BEAMDROP_PRODUCTION": "true"},
			want: ErrMissingOrigins,
		},
		{
			name: "bad ice servers",
			env:  map[string]string{"BEAMDROP_ICE_SERVERS": "{not json"},
			want: ErrBadICEServers,
		},
		{
			name: "non-positive quota",
			env:  map[string]string{"BEAMDROP_MAX_CONNS_PER_IP": "0"},
			want: ErrBadLimit,
		},
		{
			name: "zero burst",
			env:  map[string]string{"BEAMDROP_MSG_BURST": "0"},
			want: ErrBadLimit,
		},
		{
			name: "relative ws path",
			env:  map[string]string{"BEAMDROP_WS_PATH": "ws"},
			want: ErrBadPath,
		},
		{
			name: "bad log level",
			env:  map[string]string{"BEAMDROP_LOG_LEVEL": "loud"},
			want: ErrBadLogLevel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load("", env(tt.env))
			if !errors.Is(err, tt.want) {
				t.Errorf("Load err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestLoadRejectsMalformedEnv(t *testing.T) {
	for _, key := range []string{"BEAMDROP_MSG_BURST", "BEAMDROP_PRODUCTION", "BEAMDROP_IDLE_TIMEOUT"} {
		t.Run(key, func(t *testing.T) {
			_, err := Load("", env(map[string]string{key: "bogus"}))
			if err == nil {
				t.Errorf("Load accepted %s=bogus", key)
			}
		})
	}
}

func TestProductionWithOrigins(t *testing.T) {
	cfg, err := Load("", env(map[string]string{
		"BEAMDROP_PRODUCTION":      "true",
		"BEAMDROP_ALLOWED_ORIGINS": "https://drop.example.com",
	}))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Production {
		t.Error("Production = false")
	}
}
