package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kuppel/kuppel.go/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	c, err := config.Load(config.WithEnv(map[string]string{
		config.EnvAPIURL: "wss://api.kuppel.co/rpc/",
	}))
	require.NoError(t, err)
	assert.Equal(t, "wss://api.kuppel.co/rpc", c.APIURL())
	assert.Equal(t, "es", c.Locale())
	assert.Equal(t, "America/Bogota", c.Location().String())
	assert.Equal(t, config.DefaultTimeout, c.Timeout())
	assert.Equal(t, "info", c.LogLevel())
	assert.False(t, c.UseMockData())
	assert.Empty(t, c.Features())
}

func TestMissingAPIURL(t *testing.T) {
	_, err := config.Load(config.WithEnv(map[string]string{}))
	require.ErrorIs(t, err, config.ErrMissingAPIURL)

	c, err := config.Load(config.WithEnv(map[string]string{config.EnvUseMockData: "true"}))
	require.NoError(t, err)
	assert.True(t, c.UseMockData())
}

func TestEnvironmentValues(t *testing.T) {
	c, err := config.Load(config.WithEnv(map[string]string{
		config.EnvAPIURL:        "postgres://pos@localhost/kuppel",
		config.EnvFeatures:      "Invoicing, tables ,,votes",
		config.EnvTimeout:       "5s",
		config.EnvTimezone:      "UTC",
		config.EnvLogLevel:      "DEBUG",
		config.EnvMonitoringDSN: "https://key@monitor.example/1",
	}))
	require.NoError(t, err)
	assert.True(t, c.Feature("invoicing"))
	assert.True(t, c.Feature("TABLES"))
	assert.False(t, c.Feature("kds"))
	assert.ElementsMatch(t, []string{"invoicing", "tables", "votes"}, c.Features())
	assert.Equal(t, 5*time.Second, c.Timeout())
	assert.Equal(t, time.UTC, c.Location())
	assert.Equal(t, "debug", c.LogLevel())
	assert.Equal(t, "https://key@monitor.example/1", c.MonitoringDSN())
}

func TestInvalidValues(t *testing.T) {
	for key, value := range map[string]string{
		config.EnvTimeout:     "soon",
		config.EnvTimezone:    "Mars/Olympus",
		config.EnvUseMockData: "maybe",
	} {
		_, err := config.Load(config.WithEnv(map[string]string{
			config.EnvAPIURL: "ws://localhost:8000",
			key:              value,
		}))
		assert.Error(t, err, key)
	}
}

func TestYAMLOverlayUnderEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kuppel.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
api_url: ws://from-file:8000
locale: en
features: [invoicing]
use_mock_data: true
timeout: 10s
`), 0o600))

	c, err := config.Load(config.WithYAML(path), config.WithEnv(map[string]string{
		config.EnvLocale: "es",
	}))
	require.NoError(t, err)
	assert.Equal(t, "ws://from-file:8000", c.APIURL())
	assert.Equal(t, "es", c.Locale())
	assert.True(t, c.Feature("invoicing"))
	assert.True(t, c.UseMockData())
	assert.Equal(t, 10*time.Second, c.Timeout())

	c, err = config.Load(config.WithEnv(map[string]string{config.EnvConfigFile: path, config.EnvFeatures: ""}))
	require.NoError(t, err)
	assert.Empty(t, c.Features())
}

func TestEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("KUPPEL_API_URL=ws://from-dotenv:8000\n"), 0o600))
	t.Setenv(config.EnvAPIURL, "")
	require.NoError(t, os.Unsetenv(config.EnvAPIURL))

	c, err := config.Load(config.WithEnvFiles(path, filepath.Join(t.TempDir(), "missing.env")))
	require.NoError(t, err)
	assert.Equal(t, "ws://from-dotenv:8000", c.APIURL())
}
