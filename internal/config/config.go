// Package config loads parleyd settings from a TOML file and PARLEY_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "PARLEY_"

// minSecretLen matches the floor enforced by the JWT resolver.
const minSecretLen = 16

// Duration is a time.Duration written as "25s" in TOML and in the environment.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Config represents parleyd's config.toml.
type Config struct {
	ListenAddr      string   `toml:"listen_addr" env:"LISTEN_ADDR"`
	AdminSocket     string   `toml:"admin_socket" env:"ADMIN_SOCKET"`
	DataDir         string   `toml:"data_dir" env:"DATA_DIR"`
	LogPath         string   `toml:"log_path" env:"LOG_PATH"`
	JWTSecret       string   `toml:"jwt_secret" env:"JWT_SECRET"`
	JWTIssuer       string   `toml:"jwt_issuer" env:"JWT_ISSUER"`
	PingInterval    Duration `toml:"ping_interval" env:"PING_INTERVAL"`
	PongWait        Duration `toml:"pong_wait" env:"PONG_WAIT"`
	WriteWait       Duration `toml:"write_wait" env:"WRITE_WAIT"`
	SendBuffer      int      `toml:"send_buffer" env:"SEND_BUFFER"`
	MaxFrameBytes   int64    `toml:"max_frame_bytes" env:"MAX_FRAME_BYTES"`
	RingTimeout     Duration `toml:"ring_timeout" env:"RING_TIMEOUT"`
	ShutdownTimeout Duration `toml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// Default returns the built-in settings. Paths are left empty and derived
// from DataDir by the accessors below.
func Default() *Config {
	return &Config{
		ListenAddr:      ":8080",
		DataDir:         BaseDir(),
		PingInterval:    Duration{25 * time.Second},
		PongWait:        Duration{60 * time.Second},
		WriteWait:       Duration{10 * time.Second},
		SendBuffer:      64,
		MaxFrameBytes:   64 << 10,
		RingTimeout:     Duration{45 * time.Second},
		ShutdownTimeout: Duration{15 * time.Second},
	}
}

// Load reads config from path on top of the defaults, then applies
// environment overrides and validates the result. A missing file is not an
// error; an empty path skips the file entirely.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read is Load without validation, for tools that only need paths.
func Read(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("env overrides: %w", err)
	}
	return cfg, nil
}

// Validate checks settings that would otherwise fail late at runtime.
func (c *Config) Validate() error {
	var errs []error
	if c.ListenAddr == "" {
		errs = append(errs, errors.New("listen_addr is required"))
	}
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}
	if len(c.JWTSecret) < minSecretLen {
		errs = append(errs, fmt.Errorf("jwt_secret must be at least %d bytes", minSecretLen))
	}
	if c.PingInterval.Duration <= 0 || c.PongWait.Duration <= 0 || c.WriteWait.Duration <= 0 {
		errs = append(errs, errors.New("ping_interval, pong_wait and write_wait must be positive"))
	}
	if c.PingInterval.Duration >= c.PongWait.Duration {
		errs = append(errs, fmt.Errorf("ping_interval (%s) must be shorter than pong_wait (%s)", c.PingInterval, c.PongWait))
	}
	if c.SendBuffer <= 0 {
		errs = append(errs, errors.New("send_buffer must be positive"))
	}
	if c.MaxFrameBytes <= 0 {
		errs = append(errs, errors.New("max_frame_bytes must be positive"))
	}
	if c.RingTimeout.Duration <= 0 {
		errs = append(errs, errors.New("ring_timeout must be positive"))
	}
	if c.ShutdownTimeout.Duration <= 0 {
		errs = append(errs, errors.New("shutdown_timeout must be positive"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// DBPath returns the SQLite database path.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "parley.db")
}

// SocketPath returns the admin socket path.
func (c *Config) SocketPath() string {
	if c.AdminSocket != "" {
		return c.AdminSocket
	}
	return filepath.Join(c.DataDir, "admin.sock")
}

// LogFile returns the daemon log file path.
func (c *Config) LogFile() string {
	if c.LogPath != "" {
		return c.LogPath
	}
	return filepath.Join(c.DataDir, "logs", "parleyd.log")
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
