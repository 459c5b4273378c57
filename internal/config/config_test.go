package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.toml")
	require.NoError(t, os.WriteFile(path, nil, 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 8888, cfg.Server.Port)
	assert.Equal(t, 100, cfg.Sync.PageSize)
	assert.Equal(t, 3, cfg.Sync.MaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.Sync.LockWait)
	assert.Equal(t, 30*time.Second, cfg.Helpdesk.Timeout)
	assert.Equal(t, "https://slack.com/api", cfg.Chat.APIURL)
}

func TestInitThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ticketbridge.toml")
	require.NoError(t, InitConfig(path))
	require.Error(t, InitConfig(path), "refuses to overwrite")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "https://bridge.example.com", cfg.Server.PublicURL)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
	require.NoError(t, Validate(cfg))
}

func TestEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ticketbridge.toml")
	require.NoError(t, InitConfig(path))
	t.Setenv("TICKETBRIDGE_SERVER_PUBLIC_URL", "https://override.example.com")
	t.Setenv("TICKETBRIDGE_SYNC_LOCK_WAIT", "2s")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "https://override.example.com", cfg.Server.PublicURL)
	assert.Equal(t, 2*time.Second, cfg.Sync.LockWait)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		path := filepath.Join(t.TempDir(), "ticketbridge.toml")
		require.NoError(t, InitConfig(path))
		cfg, err := LoadConfig(path)
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing database", func(c *Config) { c.Database.URL = "" }, "database url"},
		{"missing secret", func(c *Config) { c.Server.JWTSecret = "" }, "jwt_secret"},
		{"relative public url", func(c *Config) { c.Server.PublicURL = "/hooks" }, "absolute"},
		{"missing bot token", func(c *Config) { c.Chat.BotToken = "" }, "bot_token"},
		{"page size too large", func(c *Config) { c.Sync.PageSize = 500 }, "page_size"},
		{"no attempts", func(c *Config) { c.Sync.MaxAttempts = 0 }, "max_attempts"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
