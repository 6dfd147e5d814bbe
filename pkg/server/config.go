package server

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds server configuration.
type Config struct {
	ListenAddr    string `yaml:"listen_addr"`    // TCP bind address (e.g. ":1805")
	DBPath        string `yaml:"db_path"`        // SQLite credential database path
	MetricsAddr   string `yaml:"metrics_addr"`   // HTTP bind address for /metrics (empty = disabled)
	HashPasswords bool   `yaml:"hash_passwords"` // store new passwords as argon2id hashes
	LogLevel      string `yaml:"log_level"`      // debug, info, warn, error
	LogFormat     string `yaml:"log_format"`     // text or json
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr: ":1805",
		DBPath:     "linechat.db",
		LogLevel:   "info",
		LogFormat:  "text",
	}
}

// LoadConfig reads a YAML config file over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path) //nolint:gosec // path from user-provided CLI flag
	if err != nil {
		return cfg, fmt.Errorf("server: read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("server: parse config: %w", err)
	}
	return cfg, nil
}
