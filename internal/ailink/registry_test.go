package ailink

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nexusadvisory/llmgate/internal/ailink/driver/anthropic"
	"github.com/nexusadvisory/llmgate/internal/ailink/driver/openai"
)

func TestRegistryBuildsDefaultEndpoints(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "or-key")
	t.Setenv("ZAI_API_KEY", "zai-key")

	reg := NewRegistry(DefaultConfig())
	pool, err := reg.Pool()
	require.NoError(t, err)
	require.Equal(t, len(DefaultPoolModels), pool.Len())
	require.Equal(t, "openrouter/upstage/solar-pro-3:free", pool.IDs()[0])

	ep, _ := pool.Select(0)
	client, ok := ep.Driver.(*openai.Client)
	require.True(t, ok)
	require.Equal(t, OpenRouterBaseURL, client.BaseURL)
	require.Equal(t, "or-key", client.APIKey)
	require.True(t, ep.Structured)

	fb, err := reg.Fallback()
	require.NoError(t, err)
	require.NotNil(t, fb)
	require.Equal(t, "zai/glm-4.7", fb.ID)
	zai, ok := fb.Driver.(*anthropic.Client)
	require.True(t, ok)
	require.Equal(t, ZAIBaseURL, zai.BaseURL)
	require.Equal(t, "zai-key", zai.APIKey)
}

func TestRegistryFallbackDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Fallback.Disabled = true
	fb, err := NewRegistry(cfg).Fallback()
	require.NoError(t, err)
	require.Nil(t, fb)
}

func TestRegistryRejectsUnknownProvider(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Pool = append(cfg.Pool, EndpointConfig{Provider: "nope", Model: "m"})
	require.ErrorContains(t, cfg.Check(), `unknown provider "nope"`)

	_, err := NewRegistry(cfg).Pool()
	require.Error(t, err)
}

func TestRegistryCachesDriverPerCredential(t *testing.T) {
	cfg := Config{
		Providers: map[string]ProviderInstanceConfig{
			"p": {Enabled: true, AIProvider: "openai", Credentials: []CredentialConfig{{APIKey: "k"}}},
		},
	}
	reg := NewRegistry(cfg)
	a, err := reg.Endpoint(EndpointConfig{Provider: "p", Model: "m1"})
	require.NoError(t, err)
	b, err := reg.Endpoint(EndpointConfig{Provider: "p", Model: "m2"})
	require.NoError(t, err)
	require.Same(t, a.Driver, b.Driver)
	require.Equal(t, "p/m1", a.ID)
}

func TestSelectCredentialRoundRobin(t *testing.T) {
	cfg := ProviderInstanceConfig{
		SelectionPolicy: "round_robin",
		Credentials: []CredentialConfig{
			{Enabled: true, Label: "a", APIKey: "ka", Priority: 1},
			{Enabled: true, Label: "b", APIKey: "kb", Priority: 1},
			{Enabled: true, Label: "low", APIKey: "kl", Priority: 0},
			{Enabled: false, Label: "off", APIKey: "ko", Priority: 5},
		},
	}
	reg := &Registry{}
	next := func(group string, n int) int { return reg.rrIndex("p:"+group, n) }

	first, _, err := selectCredential(cfg, next)
	require.NoError(t, err)
	second, _, err := selectCredential(cfg, next)
	require.NoError(t, err)
	third, _, err := selectCredential(cfg, next)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "a"}, []string{first.Label, second.Label, third.Label})
}

func TestSelectCredentialUsesEnvKeys(t *testing.T) {
	t.Setenv("TEST_PROVIDER_KEY", "from-env")
	cfg := ProviderInstanceConfig{
		DefaultCredential: "env",
		Credentials: []CredentialConfig{
			{Enabled: true, Label: "empty", APIKeyEnv: "TEST_PROVIDER_KEY_UNSET", Priority: 9},
			{Enabled: true, Label: "env", APIKeyEnv: "TEST_PROVIDER_KEY"},
		},
	}
	cred, key, err := selectCredential(cfg, nil)
	require.NoError(t, err)
	require.Equal(t, "env", key)
	require.Equal(t, "from-env", cred.Key())
}
