package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv(EnvAPIBaseURL, "")
	t.Setenv(EnvAPIKey, "")

	dir := t.TempDir()
	p := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`
api:
  base_url: "https://api.example.com/api/v1"
  api_key: "from-file"
  timeout_seconds: 15
  pending_limit: 50
carrier:
  mode: "ssw"
  timeout_seconds: 12
  utc_offset_hours: -2
  breaker:
    enabled: true
    failure_threshold: 3
sync:
  workers: 8
  run_budget_seconds: 600
  schedule: "*/60 * * * *"
  carrier_retries: 0
redis:
  host: "localhost"
  port: 6379
  rate_limit_per_minute: 30
kafka:
  host: "localhost"
  port: 9092
  sync_completed_topic_name: "tracking.sync.completed"
http:
  addr: ":8082"
log:
  level: "debug"
  format: "json"
`), 0o600))

	cfg, err := LoadConfig(p)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	require.Equal(t, "from-file", cfg.API.APIKey)
	require.Equal(t, 50, cfg.API.PendingLimit)
	require.Equal(t, 8, cfg.Sync.Workers)
	require.Equal(t, 10*time.Minute, Seconds(cfg.Sync.RunBudgetSeconds))
	require.NotNil(t, cfg.Sync.CarrierRetries)
	require.Zero(t, *cfg.Sync.CarrierRetries)
	require.Nil(t, cfg.Sync.APIRetries)
	require.True(t, cfg.Carrier.Breaker.Enabled)
	require.True(t, cfg.Redis.Enabled())
	require.Equal(t, "localhost:6379", cfg.Redis.Addr())
	require.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers())
	require.Equal(t, "json", cfg.Log.Format)

	_, off := time.Date(2025, 1, 1, 0, 0, 0, 0, cfg.Carrier.Location()).Zone()
	require.Equal(t, -2*3600, off)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv(EnvAPIBaseURL, "https://override.example.com")
	t.Setenv(EnvAPIKey, "from-env")

	p := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(p, []byte("api:\n  base_url: \"http://file\"\n"), 0o600))

	cfg, err := LoadConfig(p)
	require.NoError(t, err)
	require.Equal(t, "https://override.example.com", cfg.API.BaseURL)
	require.Equal(t, "from-env", cfg.API.APIKey)
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	p := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(p, []byte("api: [unterminated"), 0o600))
	_, err = LoadConfig(p)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	var cfg Config
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), EnvAPIBaseURL)
	require.Contains(t, err.Error(), EnvAPIKey)

	cfg.ApplyEnv(func(k string) (string, bool) {
		return map[string]string{EnvAPIBaseURL: "http://x", EnvAPIKey: "k"}[k], true
	})
	require.NoError(t, cfg.Validate())

	cfg.Carrier.Mode = "track24"
	require.Error(t, cfg.Validate())
}

func TestDefaults_Disabled(t *testing.T) {
	var cfg Config
	require.False(t, cfg.Redis.Enabled())
	require.False(t, cfg.Kafka.Enabled())
	_, off := time.Now().In(cfg.Carrier.Location()).Zone()
	require.Equal(t, -3*3600, off)
}
