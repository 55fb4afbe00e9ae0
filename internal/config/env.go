package config

import "os"

// ApplyEnvConfig applies configuration from environment variables (KEPHASRPC_*).
// It respects flags that have been explicitly set (changed map).
// Returns error if any environment variable has an invalid format.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("addr", os.Getenv("KEPHASRPC_ADDR"), &cfg.Addr)
	s.setString("path", os.Getenv("KEPHASRPC_PATH"), &cfg.Path)
	s.setString("log-level", os.Getenv("KEPHASRPC_LOG_LEVEL"), &cfg.LogLevel)
	s.setStrings("allowed-origin", splitList(os.Getenv("KEPHASRPC_ALLOWED_ORIGINS")), &cfg.AllowedOrigins)

	if err := s.setDuration("heartbeat", os.Getenv("KEPHASRPC_HEARTBEAT"), &cfg.HeartbeatDelay); err != nil {
		return err
	}
	if err := s.setDuration("read-timeout", os.Getenv("KEPHASRPC_READ_TIMEOUT"), &cfg.ReadTimeout); err != nil {
		return err
	}

	if err := s.setFloatFromString("rate-limit", os.Getenv("KEPHASRPC_RATE_LIMIT"), &cfg.RateLimit); err != nil {
		return err
	}
	if err := s.setIntFromString("rate-burst", os.Getenv("KEPHASRPC_RATE_BURST"), &cfg.RateBurst); err != nil {
		return err
	}

	s.setBoolFromString("no-rate-limit", os.Getenv("KEPHASRPC_NO_RATE_LIMIT"), &cfg.NoRateLimit)
	s.setBoolFromString("sync-handlers", os.Getenv("KEPHASRPC_SYNC_HANDLERS"), &cfg.SyncHandlers)

	return nil
}
