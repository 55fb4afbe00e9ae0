package config

import (
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

// FileConfig mirrors Config but uses strings for durations to make TOML friendly.
type FileConfig struct {
	Addr           string   `toml:"addr"`
	Path           string   `toml:"path"`
	Heartbeat      string   `toml:"heartbeat"`
	ReadTimeout    string   `toml:"read_timeout"`
	RateLimit      float64  `toml:"rate_limit"`
	RateBurst      int      `toml:"rate_burst"`
	NoRateLimit    *bool    `toml:"no_rate_limit"`
	SyncHandlers   *bool    `toml:"sync_handlers"`
	AllowedOrigins []string `toml:"allowed_origins"`
	LogLevel       string   `toml:"log_level"`
}

// LoadFileConfig reads and parses a TOML config file.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// DefaultConfigPath returns the default configuration file path.
// Returns ~/.kephasrpc/config.toml if user home directory is accessible.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".kephasrpc", "config.toml")
	}
	return ""
}

// FileExists reports whether path names an existing regular file.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// ApplyFileConfig applies configuration from a file to the Config struct.
// It respects flags that have been explicitly set (changed map).
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("addr", fc.Addr, &cfg.Addr)
	s.setString("path", fc.Path, &cfg.Path)
	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)
	s.setStrings("allowed-origin", fc.AllowedOrigins, &cfg.AllowedOrigins)

	if err := s.setDuration("heartbeat", fc.Heartbeat, &cfg.HeartbeatDelay); err != nil {
		return err
	}
	if err := s.setDuration("read-timeout", fc.ReadTimeout, &cfg.ReadTimeout); err != nil {
		return err
	}

	s.setFloat("rate-limit", fc.RateLimit, &cfg.RateLimit)
	s.setInt("rate-burst", fc.RateBurst, &cfg.RateBurst)
	s.setBool("no-rate-limit", fc.NoRateLimit, &cfg.NoRateLimit)
	s.setBool("sync-handlers", fc.SyncHandlers, &cfg.SyncHandlers)

	return nil
}
