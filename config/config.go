// Package config loads runtime configuration for schedflow from a yaml file
// and environment variables via viper. Every tunable the core exposes
// (cache TTL, lookahead window, iteration ceiling, conflict window,
// eviction idle timeout, recovery policy) is settable here.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration values.
type Config struct {
	Env      string `mapstructure:"ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	// Orchestration loop.
	MaxIterations      int  `mapstructure:"MAX_ITERATIONS"`
	AutoConfirmOnMatch bool `mapstructure:"AUTO_CONFIRM_ON_MATCH"`

	// Resource context cache.
	CacheTTLSeconds       int `mapstructure:"CACHE_TTL_SECONDS"`
	CacheFallbackSeconds  int `mapstructure:"CACHE_FALLBACK_SECONDS"`
	LookaheadDays         int `mapstructure:"LOOKAHEAD_DAYS"`
	ConflictWindowMinutes int `mapstructure:"CONFLICT_WINDOW_MINUTES"`

	// Session eviction.
	SessionIdleMinutes   int `mapstructure:"SESSION_IDLE_MINUTES"`
	SweepIntervalMinutes int `mapstructure:"SWEEP_INTERVAL_MINUTES"`

	// Redis session store (unset address selects the in-memory store).
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	// Tool executor retry policy.
	RetryMaxElapsedSeconds int `mapstructure:"RETRY_MAX_ELAPSED_SECONDS"`
}

// Load reads configuration from config.yaml (current and ./config
// directories) and the environment, applying defaults for anything unset.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AutomaticEnv()

	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("MAX_ITERATIONS", 8)
	v.SetDefault("AUTO_CONFIRM_ON_MATCH", false)
	v.SetDefault("CACHE_TTL_SECONDS", 300)
	v.SetDefault("CACHE_FALLBACK_SECONDS", 15)
	v.SetDefault("LOOKAHEAD_DAYS", 14)
	v.SetDefault("CONFLICT_WINDOW_MINUTES", 30)
	v.SetDefault("SESSION_IDLE_MINUTES", 60)
	v.SetDefault("SWEEP_INTERVAL_MINUTES", 5)
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("RETRY_MAX_ELAPSED_SECONDS", 20)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// No config file is fine; environment variables and defaults apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// CacheTTL returns the resource snapshot time-to-live.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// CacheFallbackTTL returns the short TTL used for fallback snapshots so the
// next call retries soon.
func (c *Config) CacheFallbackTTL() time.Duration {
	return time.Duration(c.CacheFallbackSeconds) * time.Second
}

// ConflictWindow returns the candidate booking duration used by conflict
// detection.
func (c *Config) ConflictWindow() time.Duration {
	return time.Duration(c.ConflictWindowMinutes) * time.Minute
}

// SessionIdle returns the idle duration after which a session is evictable.
func (c *Config) SessionIdle() time.Duration {
	return time.Duration(c.SessionIdleMinutes) * time.Minute
}

// SweepInterval returns how often the eviction sweeper runs.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMinutes) * time.Minute
}

// RetryMaxElapsed bounds total retry time for backend tool calls.
func (c *Config) RetryMaxElapsed() time.Duration {
	return time.Duration(c.RetryMaxElapsedSeconds) * time.Second
}

// IsProduction reports whether the environment is production.
func (c *Config) IsProduction() bool { return c.Env == "production" }
