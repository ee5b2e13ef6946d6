// Package config loads per-service TOML configuration with defaults
// applied for anything left unset.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds the settings shared by every service binary.
type Config struct {
	Addr           string   `toml:"addr"`
	DBPath         string   `toml:"db_path"`
	AllowedOrigins []string `toml:"allowed_origins"`
	MaxMessageSize int64    `toml:"max_message_size"`
	RateBurst      int      `toml:"rate_burst"`
	RateRefillSecs int      `toml:"rate_refill_seconds"`
}

// Default returns the configuration used when no file is supplied.
func Default(addr string) Config {
	return Config{
		Addr:           addr,
		DBPath:         "nexus.db",
		AllowedOrigins: []string{"*"},
		MaxMessageSize: 4096,
		RateBurst:      20,
		RateRefillSecs: 1,
	}
}

// Load reads a TOML config file, filling gaps from def. An empty path
// returns def unchanged.
func Load(path string, def Config) (Config, error) {
	if path == "" {
		return def, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}

	cfg := def
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}

	if cfg.Addr == "" {
		cfg.Addr = def.Addr
	}
	if cfg.DBPath == "" {
		cfg.DBPath = def.DBPath
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = def.RateBurst
	}
	if cfg.RateRefillSecs <= 0 {
		cfg.RateRefillSecs = def.RateRefillSecs
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = def.AllowedOrigins
	}

	return cfg, nil
}

// RateRefillInterval converts the configured refill seconds to a duration.
func (c Config) RateRefillInterval() time.Duration {
	return time.Duration(c.RateRefillSecs) * time.Second
}
