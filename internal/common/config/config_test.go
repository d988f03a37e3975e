package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://bundlealertstream.replit.app", cfg.API.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.API.Timeout)
	assert.Equal(t, 3, cfg.API.MaxRetries)
	assert.Equal(t, time.Second, cfg.API.RetryDelay)
	assert.Equal(t, 45*time.Second, cfg.Wallet.ConnectTimeout)
	assert.Equal(t, 20*time.Second, cfg.Wallet.InitTimeout)
	assert.Equal(t, 30*time.Second, cfg.Wallet.EnableTimeout)
	assert.Equal(t, 10*time.Second, cfg.Wallet.BalanceTimeout)
	assert.Equal(t, time.Second, cfg.Flow.StatusRefreshDelay)
	assert.Equal(t, int64(1), cfg.Wallet.DefaultChainID)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr())
	assert.Equal(t, []string{"WALLETCONNECT_PROJECT_ID"}, cfg.MissingRequired())
}

func TestLoadFromEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	content := "BOT_API_URL=http://localhost:9000/\n" +
		"WALLETCONNECT_PROJECT_ID=abc123\n" +
		"INJECTED_PRIVATE_KEY=0xdeadbeef\n" +
		"STORAGE_BACKEND=redis\n" +
		"CONNECT_TIMEOUT=50s\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	for _, key := range []string{"BOT_API_URL", "WALLETCONNECT_PROJECT_ID", "INJECTED_PRIVATE_KEY", "STORAGE_BACKEND", "CONNECT_TIMEOUT"} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9000", cfg.API.BaseURL)
	assert.Equal(t, "abc123", cfg.Wallet.ProjectID)
	assert.Equal(t, "deadbeef", cfg.Wallet.PrivateKey)
	assert.Equal(t, "redis", cfg.Storage.Backend)
	assert.Equal(t, 50*time.Second, cfg.Wallet.ConnectTimeout)
	assert.Empty(t, cfg.MissingRequired())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.env"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"bad storage", func(c *Config) { c.Storage.Backend = "sqlite" }, "STORAGE_BACKEND"},
		{"bad stub store", func(c *Config) { c.Stub.Store = "disk" }, "STUB_STORE"},
		{"empty url", func(c *Config) { c.API.BaseURL = "  " }, "BOT_API_URL"},
		{"outer shorter than enable", func(c *Config) { c.Wallet.ConnectTimeout = 5 * time.Second }, "CONNECT_TIMEOUT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	c := validConfig()
	c.API.MaxRetries = -2
	c.Wallet.DefaultChainID = 0
	require.NoError(t, c.Validate())
	assert.Equal(t, 0, c.API.MaxRetries)
	assert.Equal(t, int64(1), c.Wallet.DefaultChainID)
}

func validConfig() *Config {
	c := &Config{}
	c.API.BaseURL = "http://localhost"
	c.Storage.Backend = "memory"
	c.Stub.Store = "memory"
	c.Wallet.ConnectTimeout = 45 * time.Second
	c.Wallet.InitTimeout = 20 * time.Second
	c.Wallet.EnableTimeout = 30 * time.Second
	return c
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
