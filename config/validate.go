package config

import (
	"fmt"
	"log/slog"
	"strings"

	"loanledger/native/fees"
)

// Validate rejects configurations the node cannot run with.
func (c *Config) Validate() error {
	if !c.FeeSnapshot.Valid() {
		return fmt.Errorf("fee snapshot: unknown timing %d", c.FeeSnapshot)
	}
	if c.FlashPremiumBps > fees.MaxBps {
		return fmt.Errorf("flash premium: %d bps exceeds %d", c.FlashPremiumBps, fees.MaxBps)
	}
	if c.RateLimit.RequestsPerMinute < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("rate limit: negative limit")
	}
	if c.Auth.ClockSkewSeconds < 0 {
		return fmt.Errorf("auth: negative clock skew")
	}
	if _, err := ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	if c.Logging.MaxSizeMB < 0 || c.Logging.MaxBackups < 0 || c.Logging.MaxAgeDays < 0 {
		return fmt.Errorf("logging: negative rotation setting")
	}
	for _, module := range c.PausedModules {
		if strings.TrimSpace(module) == "" {
			return fmt.Errorf("paused modules: empty module name")
		}
	}
	return nil
}

// ParseLevel maps a configured level name to a slog level. Empty means info.
func ParseLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("logging: unknown level %q", raw)
	}
}
