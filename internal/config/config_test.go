package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := Default()
	cfg.DataDir = tmpDir
	cfg.JWTSecret = testSecret
	cfg.ListenAddr = "127.0.0.1:9000"
	cfg.RingTimeout = Duration{30 * time.Second}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.ListenAddr != "127.0.0.1:9000" {
		t.Errorf("ListenAddr = %q, want %q", loaded.ListenAddr, "127.0.0.1:9000")
	}
	if loaded.RingTimeout.Duration != 30*time.Second {
		t.Errorf("RingTimeout = %s, want 30s", loaded.RingTimeout)
	}
	if loaded.PingInterval.Duration != 25*time.Second {
		t.Errorf("PingInterval = %s, want default 25s", loaded.PingInterval)
	}
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")
	content := "jwt_secret = \"" + testSecret + "\"\nping_interval = \"5s\"\nsend_buffer = 8\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.PingInterval.Duration != 5*time.Second {
		t.Errorf("PingInterval = %s, want 5s", cfg.PingInterval)
	}
	if cfg.SendBuffer != 8 {
		t.Errorf("SendBuffer = %d, want 8", cfg.SendBuffer)
	}
	if cfg.PongWait.Duration != 60*time.Second {
		t.Errorf("PongWait = %s, want default 60s", cfg.PongWait)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("PARLEY_JWT_SECRET", testSecret)

	cfg, err := Load("/nonexistent/config.toml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q, want :8080", cfg.ListenAddr)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")
	if err := os.WriteFile(path, []byte("listen_addr = \":7000\"\njwt_secret = \""+testSecret+"\"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PARLEY_LISTEN_ADDR", ":7001")
	t.Setenv("PARLEY_RING_TIMEOUT", "10s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ListenAddr != ":7001" {
		t.Errorf("ListenAddr = %q, want env value :7001", cfg.ListenAddr)
	}
	if cfg.RingTimeout.Duration != 10*time.Second {
		t.Errorf("RingTimeout = %s, want 10s", cfg.RingTimeout)
	}
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("listen_addr = "), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for malformed file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"ok", func(*Config) {}, ""},
		{"short secret", func(c *Config) { c.JWTSecret = "short" }, "jwt_secret"},
		{"ping not below pong", func(c *Config) { c.PingInterval = c.PongWait }, "ping_interval"},
		{"zero send buffer", func(c *Config) { c.SendBuffer = 0 }, "send_buffer"},
		{"zero ring timeout", func(c *Config) { c.RingTimeout = Duration{} }, "ring_timeout"},
		{"no listen addr", func(c *Config) { c.ListenAddr = "" }, "listen_addr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.JWTSecret = testSecret
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestDerivedPaths(t *testing.T) {
	cfg := Default()
	cfg.DataDir = "/var/lib/parley"

	if got := cfg.DBPath(); got != "/var/lib/parley/parley.db" {
		t.Errorf("DBPath() = %q", got)
	}
	if got := cfg.SocketPath(); got != "/var/lib/parley/admin.sock" {
		t.Errorf("SocketPath() = %q", got)
	}
	if got := cfg.LogFile(); got != "/var/lib/parley/logs/parleyd.log" {
		t.Errorf("LogFile() = %q", got)
	}

	cfg.AdminSocket = "/tmp/p.sock"
	if got := cfg.SocketPath(); got != "/tmp/p.sock" {
		t.Errorf("SocketPath() override = %q", got)
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}

func TestEnsureDirs(t *testing.T) {
	cfg := Default()
	cfg.DataDir = filepath.Join(t.TempDir(), "data")
	if err := cfg.EnsureDirs(); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(filepath.Dir(cfg.LogFile()))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0700 {
		t.Errorf("log dir permission = %o, want 0700", info.Mode().Perm())
	}
}
