package config

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.parley.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".parley")
}

// DefaultPath returns the default config file path.
func DefaultPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDirs creates the data and log directories with owner-only permissions.
func (c *Config) EnsureDirs() error {
	for _, d := range []string{c.DataDir, filepath.Dir(c.LogFile()), filepath.Dir(c.SocketPath())} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
