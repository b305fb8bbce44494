// Package config loads dataview's TOML configuration, expanding
// ${VAR}-style environment references before parsing.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config mirrors the knobs enumerated in the external-interfaces section
// of the specification. Only non-zero / explicitly-set fields override
// the defaults returned by Default().
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Cache    CacheConfig    `toml:"cache"`
	Auth     AuthConfig     `toml:"auth"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
}

type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

type DatabaseConfig struct {
	URL            string `toml:"url"`
	MaxConnections int    `toml:"max_connections"`
	TimeoutSecs    int    `toml:"timeout_secs"`
}

type CacheConfig struct {
	Enabled    bool `toml:"enabled"`
	MaxEntries int  `toml:"max_entries"`
	TTLSeconds int  `toml:"ttl_seconds"`
}

type AuthConfig struct {
	Provider string `toml:"provider"`
	Secret   string `toml:"secret"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `toml:"requests_per_minute"`
}

// TTL returns the cache TTL as a duration, a convenience the raw seconds
// field doesn't give callers directly.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// Timeout returns the database timeout as a duration.
func (c DatabaseConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// Default returns the baseline configuration applied before a config
// file (if any) is layered on top: sane values for an empty/absent
// config (cache enabled with modest bounds, no auth beyond cleartext).
func Default() Config {
	return Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 5433},
		Database: DatabaseConfig{
			MaxConnections: 10,
			TimeoutSecs:    30,
		},
		Cache: CacheConfig{
			Enabled:    true,
			MaxEntries: 10_000,
			TTLSeconds: 60,
		},
		Auth: AuthConfig{Provider: "cleartext"},
	}
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces every ${VAR} occurrence with the value of the
// environment variable VAR, leaving the reference untouched if VAR is
// unset (rather than silently substituting an empty string, which would
// mask a misconfigured deployment).
func expandEnv(raw []byte) []byte {
	return envVarPattern.ReplaceAllFunc(raw, func(match []byte) []byte {
		name := envVarPattern.FindSubmatch(match)[1]
		if v, ok := os.LookupEnv(string(name)); ok {
			return []byte(v)
		}
		return match
	})
}

// Load reads a TOML configuration file from path, expands ${VAR}
// references, and layers it on top of Default(). A missing file returns
// the defaults unchanged rather than erroring, so a bare binary with no
// config file still starts with sane settings.
func Load(path string) (Config, error) {
	cfg := Default()

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}

	expanded := expandEnv(raw)
	if err := toml.Unmarshal(expanded, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}

	return cfg, nil
}
