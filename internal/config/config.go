// Package config loads the replica and authority configuration from an
// optional YAML file with environment overrides. Secrets come from the
// environment only; the YAML file is safe to commit.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full configuration tree for both the replica commands
// and the sync authority.
type Config struct {
	// Database is the path of the replica's event log database.
	Database string `yaml:"database"`

	Server ServerConfig `yaml:"server"`
	Sync   SyncConfig   `yaml:"sync"`
}

// ServerConfig configures the sync authority (tempolog serve).
type ServerConfig struct {
	Listen      string   `yaml:"listen"`
	AuthorityDB string   `yaml:"authority_db"`
	CORSOrigins []string `yaml:"cors_origins"`
	// RedisURL enables cross-instance pull wakeups; empty runs the
	// in-process notifier.
	RedisURL string `yaml:"redis_url"`
	// Secret is the HMAC key for bearer tokens. Environment only
	// (TEMPOLOG_SECRET); a value in the YAML file is rejected.
	Secret string `yaml:"-"`
}

// SyncConfig configures the replica's sync engine.
type SyncConfig struct {
	URL          string        `yaml:"url"`
	PollInterval time.Duration `yaml:"poll_interval"`
	LongPoll     time.Duration `yaml:"long_poll"`
	// Token is the bearer token presented to the authority.
	// Environment only (TEMPOLOG_TOKEN).
	Token string `yaml:"-"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Database: "tempolog.db",
		Server: ServerConfig{
			Listen:      ":8787",
			AuthorityDB: "authority.db",
		},
		Sync: SyncConfig{
			PollInterval: 10 * time.Second,
			LongPoll:     20 * time.Second,
		},
	}
}

// Load reads the configuration file at path (skipped when empty or
// missing) and applies environment overrides on top of the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Fall through to defaults plus environment.
		case err != nil:
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

// applyEnv layers environment variables over the file values.
func applyEnv(cfg *Config) {
	if v := getenv("TEMPOLOG_DATABASE"); v != "" {
		cfg.Database = v
	}
	if v := getenv("TEMPOLOG_LISTEN"); v != "" {
		cfg.Server.Listen = v
	}
	if v := getenv("TEMPOLOG_AUTHORITY_DB"); v != "" {
		cfg.Server.AuthorityDB = v
	}
	if v := getenv("TEMPOLOG_CORS_ORIGINS"); v != "" {
		cfg.Server.CORSOrigins = nil
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.Server.CORSOrigins = append(cfg.Server.CORSOrigins, o)
			}
		}
	}
	if v := getenv("TEMPOLOG_REDIS_URL"); v != "" {
		cfg.Server.RedisURL = v
	}
	if v := getenv("TEMPOLOG_SYNC_URL"); v != "" {
		cfg.Sync.URL = v
	}
	cfg.Server.Secret = getenv("TEMPOLOG_SECRET")
	cfg.Sync.Token = getenv("TEMPOLOG_TOKEN")
}

func getenv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}
