package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, "hookline:executions", cfg.Stream.Name)
	assert.Equal(t, 24*time.Hour, cfg.Dedup.TTL)
	assert.Equal(t, 4, cfg.Workers.Count)
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hookline.yaml")
	doc := `
listen: ":9090"
database:
  driver: sqlite
  dsn: hookline.db
dedup:
  backend: memory
  ttl: 1h
providers:
  github:
    auth_scheme: github
    secret: gh-secret
  google:
    auth_scheme: none
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Listen)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, time.Hour, cfg.Dedup.TTL)
	// Omitted sections keep their defaults.
	assert.Equal(t, "hookline-workers", cfg.Stream.Group)
	assert.Equal(t, 30*time.Second, cfg.Stream.VisibilityTimeout)
	assert.Equal(t, "gh-secret", cfg.Providers["github"].Secret)
	assert.Equal(t, "none", cfg.Providers["google"].AuthScheme)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidateRejections(t *testing.T) {
	cases := map[string]func(*Config){
		"unknown driver":          func(c *Config) { c.Database.Driver = "oracle" },
		"postgres without dsn":    func(c *Config) { c.Database.Driver = "postgres" },
		"unknown dedup backend":   func(c *Config) { c.Dedup.Backend = "memcached" },
		"non-positive dedup ttl":  func(c *Config) { c.Dedup.TTL = 0 },
		"non-positive visibility": func(c *Config) { c.Stream.VisibilityTimeout = 0 },
		"negative workers":        func(c *Config) { c.Workers.Count = -1 },
		"unknown auth scheme": func(c *Config) {
			c.Providers = map[string]ProviderConfig{"github": {AuthScheme: "sha1", Secret: "x"}}
		},
		"signed scheme without secret": func(c *Config) {
			c.Providers = map[string]ProviderConfig{"github": {AuthScheme: "github"}}
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateAcceptsUserSecretsOnly(t *testing.T) {
	cfg := Default()
	cfg.Providers = map[string]ProviderConfig{
		"slack": {AuthScheme: "slack", UserSecrets: map[string]string{"u1": "s1"}},
	}
	assert.NoError(t, cfg.Validate())
}
