package infra

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Policy.Store)
	assert.Equal(t, "calendar", cfg.Policy.DailyWindow)
	assert.Equal(t, "log", cfg.Audit.Sink)
	assert.Equal(t, 5*time.Minute, cfg.Auth.NonceTTL)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "public.pem")
	require.NoError(t, os.WriteFile(keyPath, []byte("PEM"), 0o600))

	path := filepath.Join(dir, "agentpay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
policy:
  store: redis
  daily_window: rolling
auth:
  public_key_path: `+keyPath+`
gateway:
  rate_limit_rps: 5
`), 0o600))

	t.Setenv("SERVER_PORT", "9100")
	t.Setenv("AUTH_PRIVATE_KEY_DATA", "PRIVATE")

	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "redis", cfg.Policy.Store)
	assert.Equal(t, "rolling", cfg.Policy.DailyWindow)
	assert.Equal(t, float64(5), cfg.Gateway.RateLimitRPS)
	assert.Equal(t, []byte("PEM"), cfg.Auth.PublicKey)
	assert.Equal(t, []byte("PRIVATE"), cfg.Auth.PrivateKey)
}

func TestLoadConfigFileOverridesDefaults(t *testing.T) {
	// рядом лежит config.yaml из поиска по умолчанию: явный путь должен победить
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("policy:\n  daily_window: rolling\n"), 0o600))

	path := filepath.Join(dir, "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
policy:
  daily_window: lifetime
audit:
  sink: postgres
database:
  url: postgres://localhost/agentpay
`), 0o600))

	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)
	assert.Equal(t, "lifetime", cfg.Policy.DailyWindow)
	assert.Equal(t, "postgres", cfg.Audit.Sink)
	assert.Equal(t, "postgres://localhost/agentpay", cfg.Database.URL)

	_, err = LoadConfigFile(filepath.Join(dir, "missing.yaml"))
	assert.ErrorContains(t, err, "error reading config file")
}

func TestLoadConfigValidation(t *testing.T) {
	t.Chdir(t.TempDir())

	t.Setenv("POLICY_STORE", "postgres")
	_, err := LoadConfig()
	assert.ErrorContains(t, err, "database.url")

	t.Setenv("POLICY_STORE", "etcd")
	_, err = LoadConfig()
	assert.ErrorContains(t, err, "policy.store")
}

func TestNewLogger(t *testing.T) {
	_, err := NewLogger(LoggerConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)

	_, err = NewLogger(LoggerConfig{Level: "loud"})
	assert.Error(t, err)

	_, err = NewLogger(LoggerConfig{Level: "info", Format: "xml"})
	assert.Error(t, err)
}
