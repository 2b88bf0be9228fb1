package ailink

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config is the gateway configuration subtree.
type Config struct {
	// Providers is a set of provider instances keyed by a user-defined id (slug).
	// Each instance declares its underlying driver via AIProvider.
	Providers map[string]ProviderInstanceConfig `mapstructure:"providers" validate:"required,min=1,dive"`

	// Pool lists the rotating low-cost endpoints in dispatch order.
	Pool []EndpointConfig `mapstructure:"pool" validate:"required,min=1,dive"`

	// Fallback is the quota-metered endpoint.
	Fallback FallbackConfig `mapstructure:"fallback" validate:"-"`

	Quota QuotaConfig `mapstructure:"quota"`

	MinSpacing          time.Duration `mapstructure:"min_spacing" validate:"gte=0"`
	MaxAttempts         int           `mapstructure:"max_attempts" validate:"gte=1,lte=20"`
	DefaultTimeout      time.Duration `mapstructure:"default_timeout" validate:"gte=0"`
	DefaultMaxTokens    int           `mapstructure:"default_max_tokens" validate:"gte=1"`
	DefaultSystemPrompt string        `mapstructure:"default_system_prompt"`

	// PromptsDir overrides the built-in prompt set.
	PromptsDir string `mapstructure:"prompts_dir"`

	Debug DebugConfig `mapstructure:"debug"`
}

// Check verifies that every endpoint references a known provider.
func (c Config) Check() error {
	for i, ep := range c.Pool {
		if _, ok := c.Providers[strings.TrimSpace(ep.Provider)]; !ok {
			return fmt.Errorf("pool[%d]: unknown provider %q", i, ep.Provider)
		}
	}
	if c.Fallback.Enabled() {
		if _, ok := c.Providers[strings.TrimSpace(c.Fallback.Provider)]; !ok {
			return fmt.Errorf("fallback: unknown provider %q", c.Fallback.Provider)
		}
	}
	return nil
}

// EndpointConfig names one model on one provider instance.
type EndpointConfig struct {
	Provider   string `mapstructure:"provider" validate:"required"`
	Model      string `mapstructure:"model" validate:"required"`
	Structured bool   `mapstructure:"structured"`
}

// FallbackConfig is the fallback endpoint; Disabled turns the tier off.
type FallbackConfig struct {
	EndpointConfig `mapstructure:",squash"`
	Disabled       bool `mapstructure:"disabled"`
}

// Enabled reports whether a fallback endpoint is configured.
func (f FallbackConfig) Enabled() bool {
	return !f.Disabled && strings.TrimSpace(f.Provider) != "" && strings.TrimSpace(f.Model) != ""
}

// QuotaConfig bounds fallback usage per rolling window.
type QuotaConfig struct {
	Window time.Duration `mapstructure:"window" validate:"gte=0"`
	Limit  int           `mapstructure:"limit" validate:"gte=0"`
	// Store is memory, libsql, or redis.
	Store string `mapstructure:"store" validate:"omitempty,oneof=memory libsql redis"`
	Key   string `mapstructure:"key"`
}

type DebugConfig struct {
	CaptureRawMaxBytes int `mapstructure:"capture_raw_max_bytes"`
}

// ProviderInstanceConfig defines a configured provider instance (e.g. "openrouter").
type ProviderInstanceConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// AIProvider is the driver identifier: "openai" or "anthropic".
	AIProvider string `mapstructure:"ai_provider" validate:"required,oneof=openai anthropic"`

	// SelectionPolicy controls which credential is chosen.
	// Supported values: "priority" (default), "round_robin".
	SelectionPolicy string `mapstructure:"selection_policy" validate:"omitempty,oneof=priority round_robin"`

	// DefaultCredential, if set, forces selecting the matching credential label.
	// If missing/invalid, selection falls back to SelectionPolicy.
	DefaultCredential string `mapstructure:"default_credential"`

	BaseURL string            `mapstructure:"base_url"`
	Timeout time.Duration     `mapstructure:"timeout"`
	Headers map[string]string `mapstructure:"headers"`

	Credentials []CredentialConfig `mapstructure:"credentials"`
}

// CredentialConfig is a single credential for a provider instance.
//
// Multiple credentials enable key rotation across accounts.
type CredentialConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Label     string `mapstructure:"label"`
	APIKey    string `mapstructure:"api_key"`
	APIKeyEnv string `mapstructure:"api_key_env"`
	Priority  int    `mapstructure:"priority"`
}

// Key returns the literal key, else the value of APIKeyEnv.
func (c CredentialConfig) Key() string {
	if key := strings.TrimSpace(c.APIKey); key != "" {
		return key
	}
	if env := strings.TrimSpace(c.APIKeyEnv); env != "" {
		return strings.TrimSpace(os.Getenv(env))
	}
	return ""
}

// Default model pool and fallback.
const (
	OpenRouterBaseURL = "https://openrouter.ai/api/v1"
	ZAIBaseURL        = "https://api.z.ai/api/anthropic"
)

var DefaultPoolModels = []string{
	"upstage/solar-pro-3:free",
	"arcee-ai/trinity-large-preview:free",
	"nvidia/nemotron-3-nano-30b-a3b:free",
	"tngtech/tng-r1t-chimera:free",
}

// DefaultConfig returns the built-in gateway configuration.
func DefaultConfig() Config {
	pool := make([]EndpointConfig, 0, len(DefaultPoolModels))
	for _, model := range DefaultPoolModels {
		pool = append(pool, EndpointConfig{Provider: "openrouter", Model: model, Structured: true})
	}
	return Config{
		Providers: map[string]ProviderInstanceConfig{
			"openrouter": {
				Enabled:     true,
				AIProvider:  "openai",
				BaseURL:     OpenRouterBaseURL,
				Credentials: []CredentialConfig{{Enabled: true, Label: "default", APIKeyEnv: "OPENROUTER_API_KEY"}},
			},
			"zai": {
				Enabled:     true,
				AIProvider:  "anthropic",
				BaseURL:     ZAIBaseURL,
				Credentials: []CredentialConfig{{Enabled: true, Label: "default", APIKeyEnv: "ZAI_API_KEY"}},
			},
		},
		Pool:     pool,
		Fallback: FallbackConfig{EndpointConfig: EndpointConfig{Provider: "zai", Model: "glm-4.7"}},
		Quota: QuotaConfig{
			Window: DefaultQuotaWindow,
			Limit:  DefaultQuotaLimit,
			Store:  "memory",
			Key:    DefaultQuotaStoreKey,
		},
		MinSpacing:          DefaultMinSpacing,
		MaxAttempts:         DefaultMaxAttempts,
		DefaultTimeout:      5 * time.Minute,
		DefaultMaxTokens:    DefaultMaxTokens,
		DefaultSystemPrompt: DefaultSystemPrompt,
		Debug:               DebugConfig{CaptureRawMaxBytes: 2048},
	}
}
