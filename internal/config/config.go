package config

import (
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/kephasrpc/internal/websocket"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = ":8080"

// Config is the server configuration assembled from defaults, a TOML file,
// KEPHASRPC_* environment variables and command line flags, in that order of
// increasing precedence.
type Config struct {
	Addr string
	Path string

	// HeartbeatDelay is the ping period; zero disables heartbeats.
	HeartbeatDelay time.Duration
	// ReadTimeout bounds how long a client may stay silent; zero derives it
	// from the heartbeat delay.
	ReadTimeout time.Duration

	RateLimit    float64
	RateBurst    int
	NoRateLimit  bool
	SyncHandlers bool

	// AllowedOrigins lists the accepted Origin headers; empty accepts all.
	AllowedOrigins []string

	LogLevel string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	limits := websocket.DefaultRateLimitConfig()
	return Config{
		Addr:           DefaultAddr,
		Path:           websocket.DefaultPath,
		HeartbeatDelay: 30 * time.Second,
		RateLimit:      float64(limits.MessagesPerSecond),
		RateBurst:      limits.Burst,
		LogLevel:       zerolog.InfoLevel.String(),
	}
}

// Validate checks the configuration for errors and sets derived defaults.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr is required")
	}
	if c.Path == "" {
		c.Path = websocket.DefaultPath
	}
	if !strings.HasPrefix(c.Path, "/") {
		return fmt.Errorf("path %q must start with /", c.Path)
	}

	if c.HeartbeatDelay < 0 {
		return fmt.Errorf("heartbeat must not be negative")
	}
	if c.ReadTimeout < 0 {
		return fmt.Errorf("read timeout must not be negative")
	}
	if c.ReadTimeout > 0 && c.HeartbeatDelay > 0 && c.ReadTimeout <= c.HeartbeatDelay {
		return fmt.Errorf("read timeout %s must exceed heartbeat %s", c.ReadTimeout, c.HeartbeatDelay)
	}

	if !c.NoRateLimit {
		if c.RateLimit <= 0 {
			return fmt.Errorf("rate limit must be positive")
		}
		if c.RateBurst <= 0 {
			return fmt.Errorf("rate burst must be positive")
		}
	}

	if c.LogLevel != "" {
		if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
			return fmt.Errorf("log level: %w", err)
		}
	}
	return nil
}

// ServerConfig converts the configuration for the websocket server. Callbacks
// and the exception handler are left to the caller.
func (c Config) ServerConfig() *websocket.ServerConfig {
	limits := websocket.NoRateLimit()
	if !c.NoRateLimit {
		limits = &websocket.RateLimitConfig{
			MessagesPerSecond: rate.Limit(c.RateLimit),
			Burst:             c.RateBurst,
			Enabled:           true,
		}
	}

	heartbeat := c.HeartbeatDelay
	if heartbeat <= 0 {
		heartbeat = -1
	}

	return &websocket.ServerConfig{
		Addr:            c.Addr,
		Path:            c.Path,
		RateLimitConfig: limits,
		CheckOrigin:     c.checkOrigin(),
		HeartbeatDelay:  heartbeat,
		ReadTimeout:     c.ReadTimeout,
		SyncHandlers:    c.SyncHandlers,
	}
}

// checkOrigin accepts requests without an Origin header (non-browser clients)
// and those whose origin is listed.
func (c Config) checkOrigin() websocket.CheckOriginFn {
	if len(c.AllowedOrigins) == 0 {
		return func(*http.Request) bool { return true }
	}
	allowed := slices.Clone(c.AllowedOrigins)
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, origin)
	}
}

// configSetter helps apply configuration values while respecting flag precedence.
// It only applies values if the corresponding flag hasn't been explicitly set.
type configSetter struct {
	changed map[string]bool
}

func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

// setString sets a string value if not empty and flag not changed.
func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

// setStrings sets a list if not empty and flag not changed.
func (s *configSetter) setStrings(flag string, value []string, dst *[]string) {
	if len(value) == 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setInt sets an int value if positive and flag not changed.
func (s *configSetter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setFloat sets a float64 value if positive and flag not changed.
func (s *configSetter) setFloat(flag string, value float64, dst *float64) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setBool sets a bool value from a pointer if not nil and flag not changed.
func (s *configSetter) setBool(flag string, value *bool, dst *bool) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

// setDuration parses and sets a duration from string if valid and flag not changed.
func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

// setIntFromString parses a string to int and sets the destination if valid.
func (s *configSetter) setIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	s.setInt(flag, i, dst)
	return nil
}

// setFloatFromString parses a string to float64 and sets the destination if valid.
func (s *configSetter) setFloatFromString(flag, value string, dst *float64) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	s.setFloat(flag, f, dst)
	return nil
}

// setBoolFromString parses a string to bool and sets the destination.
// Accepts "true", "1" as true, anything else as false.
func (s *configSetter) setBoolFromString(flag, value string, dst *bool) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value == "true" || value == "1"
}

// splitList splits a comma separated environment value.
func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
