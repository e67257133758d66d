// Package config loads the hookline YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hookline-dev/hookline/pkg/signature"
)

// Config is the top-level process configuration.
type Config struct {
	Listen    string                    `yaml:"listen"`
	Redis     RedisConfig               `yaml:"redis"`
	Database  DatabaseConfig            `yaml:"database"`
	Dedup     DedupConfig               `yaml:"dedup"`
	Stream    StreamConfig              `yaml:"stream"`
	Workers   WorkersConfig             `yaml:"workers"`
	Providers map[string]ProviderConfig `yaml:"providers"`
	Control   ControlConfig             `yaml:"control"`
	Telemetry TelemetryConfig           `yaml:"telemetry"`
	// MappingsPath points at the optional payload-mapping YAML document.
	MappingsPath string `yaml:"mappings_path"`
}

// RedisConfig selects the Redis backend shared by the stream and the
// deduplicator.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// DatabaseConfig selects the execution store backend.
type DatabaseConfig struct {
	// Driver is postgres, sqlite or memory.
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// DedupConfig bounds the duplicate-suppression window.
type DedupConfig struct {
	// Backend is redis or memory.
	Backend string        `yaml:"backend"`
	TTL     time.Duration `yaml:"ttl"`
}

// StreamConfig names the durable log and its consumer group.
type StreamConfig struct {
	Name              string        `yaml:"name"`
	Group             string        `yaml:"group"`
	VisibilityTimeout time.Duration `yaml:"visibility_timeout"`
	BlockTimeout      time.Duration `yaml:"block_timeout"`
}

// WorkersConfig sizes the in-process pool.
type WorkersConfig struct {
	Count        int    `yaml:"count"`
	ConsumerName string `yaml:"consumer_name"`
}

// ProviderConfig is one provider's webhook authentication entry. A provider
// accepting unauthenticated deliveries must say so explicitly with
// auth_scheme none; a missing secret under any other scheme rejects events.
type ProviderConfig struct {
	AuthScheme  string            `yaml:"auth_scheme"`
	Secret      string            `yaml:"secret"`
	UserSecrets map[string]string `yaml:"user_secrets"`
}

// ControlConfig guards the /worker/* operator surface.
type ControlConfig struct {
	// JWTSecret signs and verifies control-API bearer tokens (HS256).
	// Empty fails closed: every control request is rejected.
	JWTSecret string `yaml:"jwt_secret"`
	// RatePerSecond and Burst bound per-client request rates.
	RatePerSecond int `yaml:"rate_per_second"`
	Burst         int `yaml:"burst"`
}

// TelemetryConfig configures OTLP export.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Endpoint     string  `yaml:"endpoint"`
	Environment  string  `yaml:"environment"`
	SampleRate   float64 `yaml:"sample_rate"`
	Insecure     bool    `yaml:"insecure"`
}

// Default returns the development defaults.
func Default() *Config {
	return &Config{
		Listen: ":8080",
		Redis:  RedisConfig{Addr: "localhost:6379"},
		Database: DatabaseConfig{
			Driver: "memory",
		},
		Dedup: DedupConfig{
			Backend: "memory",
			TTL:     24 * time.Hour,
		},
		Stream: StreamConfig{
			Name:              "hookline:executions",
			Group:             "hookline-workers",
			VisibilityTimeout: 30 * time.Second,
			BlockTimeout:      5 * time.Second,
		},
		Workers: WorkersConfig{Count: 4, ConsumerName: "worker"},
		Control: ControlConfig{RatePerSecond: 20, Burst: 40},
		Telemetry: TelemetryConfig{
			Endpoint:   "localhost:4317",
			SampleRate: 1.0,
		},
	}
}

// Load reads and validates a config file, applying defaults for anything
// omitted.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the process could not run under.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
		if c.Database.DSN == "" {
			return fmt.Errorf("database driver %s requires a dsn", c.Database.Driver)
		}
	case "memory":
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}

	switch c.Dedup.Backend {
	case "redis", "memory":
	default:
		return fmt.Errorf("unknown dedup backend %q", c.Dedup.Backend)
	}
	if c.Dedup.TTL <= 0 {
		return fmt.Errorf("dedup ttl must be positive")
	}
	if c.Stream.VisibilityTimeout <= 0 {
		return fmt.Errorf("stream visibility_timeout must be positive")
	}
	if c.Workers.Count < 0 {
		return fmt.Errorf("workers count must not be negative")
	}

	for name, p := range c.Providers {
		scheme, err := signature.ParseScheme(p.AuthScheme)
		if err != nil {
			return fmt.Errorf("provider %s: %w", name, err)
		}
		if scheme != signature.SchemeNone && p.Secret == "" && len(p.UserSecrets) == 0 {
			return fmt.Errorf("provider %s: scheme %s requires a secret", name, scheme)
		}
	}
	return nil
}
