package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "swapd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfigExpandsEnvVars(t *testing.T) {
	os.Setenv("TEST_AGG_KEY", "key_from_env")
	defer os.Unsetenv("TEST_AGG_KEY")

	path := writeTempConfig(t, `
aggregator:
  base_url: https://aggregator.example.com/api/v2
  api_key: ${TEST_AGG_KEY}
database:
  url: postgres://localhost:5432/swapsmith
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, Secret("key_from_env"), cfg.Aggregator.APIKey)
}

func TestLoadConfigRejectsMissingAggregator(t *testing.T) {
	path := writeTempConfig(t, `
database:
  url: postgres://localhost:5432/swapsmith
`)

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "aggregator.base_url")
}

func TestLoadConfigRejectsBadPoolMax(t *testing.T) {
	path := writeTempConfig(t, `
aggregator:
  base_url: https://aggregator.example.com
database:
  url: postgres://localhost:5432/swapsmith
  pool_max: 500
`)

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.pool_max")
}

func TestLoadConfigRejectsBadPriceAsset(t *testing.T) {
	path := writeTempConfig(t, `
aggregator:
  base_url: https://aggregator.example.com
database:
  url: postgres://localhost:5432/swapsmith
price:
  assets: ["BTC"]
`)

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "price.assets")
}

func TestDurationDefaults(t *testing.T) {
	cfg := &Config{}

	assert.Equal(t, 20*time.Second, cfg.Aggregator.Timeout())
	assert.Equal(t, 10*time.Second, cfg.Monitor.TickInterval())
	assert.Equal(t, 60*time.Second, cfg.DCA.TickInterval())
	assert.Equal(t, 5*time.Minute, cfg.DCA.RetryDelay())
	assert.Equal(t, 10*time.Minute, cfg.DCA.MaxProcessingTime())
	assert.Equal(t, 30*time.Second, cfg.Limit.TickInterval())
	assert.Equal(t, 10*time.Minute, cfg.Limit.MaxStaleness())
}

func TestStringRedactsSecrets(t *testing.T) {
	cfg := DefaultConfig()
	out := cfg.String()
	assert.NotContains(t, out, "test_api_key")
	assert.Contains(t, out, "[REDACTED]")
}

func TestDefaultConfigValidates(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
}
