package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusadvisory/llmgate/internal/ailink"
)

// isolate points XDG paths and the working directory at temp dirs so the
// developer's own config and .env never leak into a test.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config-home"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data-home"))
	t.Chdir(dir)
	return dir
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func TestLoad(t *testing.T) {
	ctx := context.Background()

	t.Run("LoadDefaults", func(t *testing.T) {
		isolate(t)

		cfg, err := Load(ctx)
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, "localhost", cfg.Server.Host)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
		assert.Equal(t, 120*time.Second, cfg.Server.IdleTimeout)
		assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)

		assert.Equal(t, "libsql", cfg.Store.Driver)
		assert.Equal(t, filepath.Join(gfconfig.GetAppDataDir(AppName), "llmgate.db"), cfg.Store.Path)

		assert.Equal(t, "info", cfg.Logging.Level)
		assert.True(t, cfg.Metrics.Enabled)

		gw := cfg.Gateway
		def := ailink.DefaultConfig()
		assert.Equal(t, def.MaxAttempts, gw.MaxAttempts)
		assert.Equal(t, 2*time.Second, gw.MinSpacing)
		assert.Equal(t, 5*time.Hour, gw.Quota.Window)
		assert.Equal(t, 120, gw.Quota.Limit)
		assert.Equal(t, "memory", gw.Quota.Store)
		assert.Equal(t, 5*time.Minute, gw.DefaultTimeout)
		assert.Equal(t, def.DefaultSystemPrompt, gw.DefaultSystemPrompt)

		require.Len(t, gw.Pool, len(ailink.DefaultPoolModels))
		for i, model := range ailink.DefaultPoolModels {
			assert.Equal(t, "openrouter", gw.Pool[i].Provider)
			assert.Equal(t, model, gw.Pool[i].Model)
			assert.True(t, gw.Pool[i].Structured)
		}
		assert.True(t, gw.Fallback.Enabled())
		assert.Equal(t, "zai", gw.Fallback.Provider)
		assert.Equal(t, "glm-4.7", gw.Fallback.Model)

		require.Contains(t, gw.Providers, "openrouter")
		require.Contains(t, gw.Providers, "zai")
		assert.Equal(t, "openai", gw.Providers["openrouter"].AIProvider)
		assert.Equal(t, ailink.ZAIBaseURL, gw.Providers["zai"].BaseURL)
		require.Len(t, gw.Providers["zai"].Credentials, 1)
		assert.Equal(t, "ZAI_API_KEY", gw.Providers["zai"].Credentials[0].APIKeyEnv)
	})

	t.Run("RuntimeOverrides", func(t *testing.T) {
		isolate(t)

		cfg, err := Load(ctx, map[string]any{
			"server":  map[string]any{"port": 9000, "host": "0.0.0.0"},
			"gateway": map[string]any{"max_attempts": 5, "quota": map[string]any{"limit": 7}},
		})
		require.NoError(t, err)

		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
		assert.Equal(t, 9000, cfg.Server.Port)
		assert.Equal(t, 5, cfg.Gateway.MaxAttempts)
		assert.Equal(t, 7, cfg.Gateway.Quota.Limit)
		assert.Equal(t, 5*time.Hour, cfg.Gateway.Quota.Window)
	})

	t.Run("EnvOverrides", func(t *testing.T) {
		isolate(t)
		t.Setenv("LLMGATE_PORT", "3000")
		t.Setenv("LLMGATE_LOG_LEVEL", "warn")
		t.Setenv("LLMGATE_METRICS_ENABLED", "false")
		t.Setenv("LLMGATE_GATEWAY_MIN_SPACING", "500ms")
		t.Setenv("LLMGATE_QUOTA_LIMIT", "3")
		t.Setenv("LLMGATE_GATEWAY_PROVIDERS_OPENROUTER_BASE_URL", "http://localhost:9999/v1")

		cfg, err := Load(ctx)
		require.NoError(t, err)

		assert.Equal(t, 3000, cfg.Server.Port)
		assert.Equal(t, "warn", cfg.Logging.Level)
		assert.False(t, cfg.Metrics.Enabled)
		assert.Equal(t, 500*time.Millisecond, cfg.Gateway.MinSpacing)
		assert.Equal(t, 3, cfg.Gateway.Quota.Limit)
		assert.Equal(t, "http://localhost:9999/v1", cfg.Gateway.Providers["openrouter"].BaseURL)
	})

	t.Run("DotEnv", func(t *testing.T) {
		dir := isolate(t)
		writeFile(t, filepath.Join(dir, ".env"), "LLMGATE_MAX_ATTEMPTS=9\n")
		t.Cleanup(func() { _ = os.Unsetenv("LLMGATE_MAX_ATTEMPTS") })

		cfg, err := Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, 9, cfg.Gateway.MaxAttempts)
	})

	t.Run("ConfigPrecedence", func(t *testing.T) {
		isolate(t)
		t.Setenv("LLMGATE_PORT", "4000")

		cfg, err := Load(ctx, map[string]any{"server": map[string]any{"port": 5000}})
		require.NoError(t, err)
		assert.Equal(t, 5000, cfg.Server.Port)
	})

	t.Run("XDGConfigFile", func(t *testing.T) {
		dir := isolate(t)
		writeFile(t, filepath.Join(dir, "config-home", AppName, "config.yaml"), `
gateway:
  pool:
    - provider: openrouter
      model: vendor/only-model:free
  fallback:
    disabled: true
`)

		cfg, err := Load(ctx)
		require.NoError(t, err)
		require.Len(t, cfg.Gateway.Pool, 1)
		assert.Equal(t, "vendor/only-model:free", cfg.Gateway.Pool[0].Model)
		assert.False(t, cfg.Gateway.Fallback.Enabled())
	})
}

func TestLoadFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "custom.yaml")
	writeFile(t, path, `
server:
  read_timeout: 45s
gateway:
  quota:
    store: redis
redis:
  addr: 127.0.0.1:6379
`)

	cfg, err := LoadFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "redis", cfg.Gateway.Quota.Store)
	assert.Equal(t, "llmgate:quota:", cfg.Redis.KeyPrefix)

	_, err = LoadFile(context.Background(), filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	ctx := context.Background()

	t.Run("UnknownProvider", func(t *testing.T) {
		isolate(t)
		_, err := Load(ctx, map[string]any{"gateway": map[string]any{"fallback": map[string]any{"provider": "nope"}}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), `unknown provider "nope"`)
	})

	t.Run("BadAttempts", func(t *testing.T) {
		isolate(t)
		_, err := Load(ctx, map[string]any{"gateway": map[string]any{"max_attempts": 0}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "MaxAttempts")
	})

	t.Run("BadQuotaStore", func(t *testing.T) {
		isolate(t)
		_, err := Load(ctx, map[string]any{"gateway": map[string]any{"quota": map[string]any{"store": "etcd"}}})
		require.Error(t, err)
	})

	t.Run("RedisWithoutAddr", func(t *testing.T) {
		isolate(t)
		_, err := Load(ctx, map[string]any{"gateway": map[string]any{"quota": map[string]any{"store": "redis"}}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "redis.addr")
	})

	t.Run("Nil", func(t *testing.T) {
		require.Error(t, Validate(nil))
	})
}

func TestGetConfig(t *testing.T) {
	isolate(t)
	cfg, err := Load(context.Background())
	require.NoError(t, err)

	retrieved := GetConfig()
	require.NotNil(t, retrieved)
	assert.Equal(t, cfg.Server.Port, retrieved.Server.Port)
}

func TestEnvNames(t *testing.T) {
	names := EnvNames()
	assert.Contains(t, names, "LLMGATE_LOG_LEVEL")
	assert.Contains(t, names, "LLMGATE_PORT")
	assert.Contains(t, names, "LLMGATE_DB_PATH")
	assert.Contains(t, names, "LLMGATE_QUOTA_LIMIT")
	assert.IsIncreasing(t, names)
}

func TestWriteDefault(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "out", "config.yaml")
	require.NoError(t, WriteDefault(path))
	require.Error(t, WriteDefault(path))

	cfg, err := LoadFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, ailink.DefaultConfig().MaxAttempts, cfg.Gateway.MaxAttempts)
	assert.Len(t, cfg.Gateway.Pool, len(ailink.DefaultPoolModels))
}
