// Package config loads llmgate configuration with viper. Layers, lowest first:
// built-in defaults, the YAML config file, environment (LLMGATE_* and .env),
// and runtime overrides passed by the caller.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/nexusadvisory/llmgate/internal/ailink"
)

const (
	// AppName names the XDG directories and the default store file.
	AppName = "llmgate"

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "LLMGATE"
)

var (
	appConfig *Config
	configMu  sync.RWMutex

	validate = validator.New(validator.WithRequiredStructEnabled())
)

// Load resolves configuration from the default search paths.
// This function is safe to call multiple times (e.g., for config reload)
func Load(ctx context.Context, runtimeOverrides ...map[string]any) (*Config, error) {
	return LoadFile(ctx, "", runtimeOverrides...)
}

// LoadFile is Load with an explicit config file. An empty path searches
// $XDG_CONFIG_HOME/llmgate/config.yaml and ./config/config.yaml; a missing
// file there is not an error.
func LoadFile(ctx context.Context, path string, runtimeOverrides ...map[string]any) (*Config, error) {
	// .env never overrides variables already present in the environment.
	_ = godotenv.Load(".env")

	v := NewViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		if dir := gfconfig.GetAppConfigDir(AppName); strings.TrimSpace(dir) != "" {
			v.AddConfigPath(dir)
		}
		v.AddConfigPath("./config")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	for _, overrides := range runtimeOverrides {
		applyOverrides(v, "", overrides)
	}

	cfg, err := Decode(v)
	if err != nil {
		return nil, err
	}

	setConfig(cfg)
	return cfg, nil
}

// NewViper returns a viper instance with defaults and environment bindings
// applied but no config file read.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for key, env := range envAliases() {
		_ = v.BindEnv(key, EnvPrefix+"_"+env)
	}
	return v
}

// Decode unmarshals and validates the resolved settings.
func Decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(cfg, hook); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if strings.TrimSpace(cfg.Store.URL) == "" && strings.TrimSpace(cfg.Store.Path) == "" {
		cfg.Store.Path = DefaultStorePath()
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct constraints and cross-references between gateway endpoints and providers.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.Gateway.Check(); err != nil {
		return fmt.Errorf("invalid config: gateway: %w", err)
	}
	if cfg.Gateway.Quota.Store == "redis" && strings.TrimSpace(cfg.Redis.Addr) == "" {
		return errors.New("invalid config: redis.addr is required when gateway.quota.store is redis")
	}
	return nil
}

// GetConfig returns the current application configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

// SetDefaults registers built-in values for every key so that environment
// overrides resolve during Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "5m30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "STRUCTURED")

	v.SetDefault("store.driver", "libsql")
	v.SetDefault("store.path", "")
	v.SetDefault("store.url", "")
	v.SetDefault("store.auth_token", "")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.username", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "llmgate:quota:")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 0)

	for key, value := range gatewayDefaults(ailink.DefaultConfig()) {
		v.SetDefault("gateway."+key, value)
	}
}

// gatewayDefaults flattens the gateway defaults to dotted keys. Pool and
// credential lists stay whole values; a config file replaces them entirely.
func gatewayDefaults(gw ailink.Config) map[string]any {
	out := map[string]any{
		"min_spacing":                 gw.MinSpacing.String(),
		"max_attempts":                gw.MaxAttempts,
		"default_timeout":             gw.DefaultTimeout.String(),
		"default_max_tokens":          gw.DefaultMaxTokens,
		"default_system_prompt":       gw.DefaultSystemPrompt,
		"prompts_dir":                 gw.PromptsDir,
		"debug.capture_raw_max_bytes": gw.Debug.CaptureRawMaxBytes,
		"quota.window":                gw.Quota.Window.String(),
		"quota.limit":                 gw.Quota.Limit,
		"quota.store":                 gw.Quota.Store,
		"quota.key":                   gw.Quota.Key,
		"fallback.provider":           gw.Fallback.Provider,
		"fallback.model":              gw.Fallback.Model,
		"fallback.structured":         gw.Fallback.Structured,
		"fallback.disabled":           gw.Fallback.Disabled,
	}

	pool := make([]any, 0, len(gw.Pool))
	for _, ep := range gw.Pool {
		pool = append(pool, map[string]any{
			"provider":   ep.Provider,
			"model":      ep.Model,
			"structured": ep.Structured,
		})
	}
	out["pool"] = pool

	for id, p := range gw.Providers {
		prefix := "providers." + id + "."
		out[prefix+"enabled"] = p.Enabled
		out[prefix+"ai_provider"] = p.AIProvider
		out[prefix+"base_url"] = p.BaseURL
		out[prefix+"selection_policy"] = p.SelectionPolicy
		out[prefix+"default_credential"] = p.DefaultCredential
		out[prefix+"timeout"] = p.Timeout.String()

		creds := make([]any, 0, len(p.Credentials))
		for _, c := range p.Credentials {
			creds = append(creds, map[string]any{
				"enabled":     c.Enabled,
				"label":       c.Label,
				"api_key":     c.APIKey,
				"api_key_env": c.APIKeyEnv,
				"priority":    c.Priority,
			})
		}
		out[prefix+"credentials"] = creds
	}
	return out
}

// envAliases maps short environment names (after the LLMGATE_ prefix) to
// config keys. Every other key is reachable as LLMGATE_<KEY_WITH_UNDERSCORES>.
func envAliases() map[string]string {
	return map[string]string{
		"server.host":               "HOST",
		"server.port":               "PORT",
		"server.read_timeout":       "READ_TIMEOUT",
		"server.write_timeout":      "WRITE_TIMEOUT",
		"server.idle_timeout":       "IDLE_TIMEOUT",
		"server.shutdown_timeout":   "SHUTDOWN_TIMEOUT",
		"logging.level":             "LOG_LEVEL",
		"logging.profile":           "LOG_PROFILE",
		"store.path":                "DB_PATH",
		"store.url":                 "DB_URL",
		"store.auth_token":          "DB_AUTH_TOKEN",
		"redis.addr":                "REDIS_ADDR",
		"redis.password":            "REDIS_PASSWORD",
		"gateway.min_spacing":       "MIN_SPACING",
		"gateway.max_attempts":      "MAX_ATTEMPTS",
		"gateway.default_timeout":   "DEFAULT_TIMEOUT",
		"gateway.quota.limit":       "QUOTA_LIMIT",
		"gateway.quota.window":      "QUOTA_WINDOW",
		"gateway.quota.store":       "QUOTA_STORE",
		"gateway.prompts_dir":       "PROMPTS_DIR",
		"gateway.fallback.model":    "FALLBACK_MODEL",
		"gateway.fallback.disabled": "FALLBACK_DISABLED",
	}
}

// EnvNames lists the short environment variable names, sorted.
func EnvNames() []string {
	aliases := envAliases()
	names := make([]string, 0, len(aliases))
	for _, env := range aliases {
		names = append(names, EnvPrefix+"_"+env)
	}
	sort.Strings(names)
	return names
}

// applyOverrides sets nested runtime overrides as dotted keys so they win over
// file and environment values.
func applyOverrides(v *viper.Viper, prefix string, overrides map[string]any) {
	for key, value := range overrides {
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}
		if nested, ok := value.(map[string]any); ok {
			applyOverrides(v, full, nested)
			continue
		}
		v.Set(full, value)
	}
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath() string {
	configDir := gfconfig.GetAppConfigDir(AppName)
	if strings.TrimSpace(configDir) == "" {
		return ""
	}
	return filepath.Join(configDir, "config.yaml")
}

// DefaultDataDir returns the XDG-compliant data directory for the app.
func DefaultDataDir() string {
	return gfconfig.GetAppDataDir(AppName)
}

// DefaultStorePath returns the XDG-compliant path to the database file.
func DefaultStorePath() string {
	dataDir := gfconfig.GetAppDataDir(AppName)
	if strings.TrimSpace(dataDir) == "" {
		return "./" + AppName + ".db"
	}
	return filepath.Join(dataDir, AppName+".db")
}

// WriteDefault writes the built-in defaults as YAML to path, refusing to
// overwrite an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	v := viper.New()
	SetDefaults(v)
	return v.WriteConfigAs(path)
}
