package ailink

import (
	"fmt"
	"strings"
	"sync"

	"github.com/nexusadvisory/llmgate/internal/ailink/driver"
	"github.com/nexusadvisory/llmgate/internal/ailink/driver/anthropic"
	"github.com/nexusadvisory/llmgate/internal/ailink/driver/openai"
)

// Registry turns endpoint configuration into driver-backed endpoints. Drivers
// are cached per provider and credential.
type Registry struct {
	cfg Config

	mu      sync.Mutex
	drivers map[string]driver.Driver
	rr      map[string]int
}

func NewRegistry(cfg Config) *Registry {
	return &Registry{cfg: cfg}
}

// Pool builds the provider pool in configured order.
func (r *Registry) Pool() (*ProviderPool, error) {
	if r == nil {
		return nil, fmt.Errorf("ailink registry not configured")
	}
	endpoints := make([]Endpoint, 0, len(r.cfg.Pool))
	for i, ec := range r.cfg.Pool {
		ep, err := r.Endpoint(ec)
		if err != nil {
			return nil, fmt.Errorf("pool[%d]: %w", i, err)
		}
		endpoints = append(endpoints, ep)
	}
	return NewProviderPool(endpoints)
}

// Fallback builds the fallback endpoint, or nil when disabled.
func (r *Registry) Fallback() (*Endpoint, error) {
	if r == nil {
		return nil, fmt.Errorf("ailink registry not configured")
	}
	if !r.cfg.Fallback.Enabled() {
		return nil, nil
	}
	ep, err := r.Endpoint(r.cfg.Fallback.EndpointConfig)
	if err != nil {
		return nil, fmt.Errorf("fallback: %w", err)
	}
	return &ep, nil
}

// Endpoint resolves provider, credential and driver for one endpoint.
func (r *Registry) Endpoint(ec EndpointConfig) (Endpoint, error) {
	providerID := strings.TrimSpace(ec.Provider)
	model := strings.TrimSpace(ec.Model)
	if model == "" {
		return Endpoint{}, fmt.Errorf("model not configured for provider %q", providerID)
	}

	providerCfg, ok := r.cfg.Providers[providerID]
	if !ok {
		return Endpoint{}, fmt.Errorf("unknown provider %q", providerID)
	}
	if !providerCfg.Enabled {
		return Endpoint{}, fmt.Errorf("provider %q is disabled", providerID)
	}

	cred, credKey, err := selectCredential(providerCfg, func(groupKey string, n int) int {
		return r.rrIndex(providerID+":"+groupKey, n)
	})
	if err != nil {
		return Endpoint{}, fmt.Errorf("provider %q: %w", providerID, err)
	}

	drv, err := r.driverFor(providerID, providerCfg, cred, credKey)
	if err != nil {
		return Endpoint{}, err
	}

	return Endpoint{
		ID:         endpointID(providerID, model),
		Provider:   providerID,
		Model:      model,
		Driver:     drv,
		Structured: ec.Structured,
	}, nil
}

func selectCredential(cfg ProviderInstanceConfig, rrNext func(groupKey string, n int) int) (CredentialConfig, string, error) {
	if len(cfg.Credentials) == 0 {
		return CredentialConfig{}, "", fmt.Errorf("no credentials configured")
	}

	enabled := make([]CredentialConfig, 0, len(cfg.Credentials))
	for _, cred := range cfg.Credentials {
		if !cred.Enabled && strings.TrimSpace(cred.Label) != "" {
			continue
		}
		if cred.Key() == "" {
			continue
		}
		enabled = append(enabled, cred)
	}
	if len(enabled) == 0 {
		// Credentials exist but are not usable; return first so caller can report missing key.
		cred := cfg.Credentials[0]
		key := strings.TrimSpace(cred.Label)
		if key == "" {
			key = "0"
		}
		return cred, key, nil
	}

	if label := strings.TrimSpace(cfg.DefaultCredential); label != "" {
		for _, cred := range enabled {
			if strings.EqualFold(strings.TrimSpace(cred.Label), label) {
				return cred, strings.TrimSpace(cred.Label), nil
			}
		}
	}

	policy := strings.ToLower(strings.TrimSpace(cfg.SelectionPolicy))
	if policy == "" {
		policy = "priority"
	}

	// Compute highest priority set.
	highest := enabled[0].Priority
	for _, cred := range enabled[1:] {
		if cred.Priority > highest {
			highest = cred.Priority
		}
	}
	group := make([]CredentialConfig, 0, len(enabled))
	for _, cred := range enabled {
		if cred.Priority == highest {
			group = append(group, cred)
		}
	}

	switch policy {
	case "round_robin":
		idx := 0
		if rrNext != nil {
			idx = rrNext(fmt.Sprintf("%d", highest), len(group))
		}
		cred := group[idx]
		key := strings.TrimSpace(cred.Label)
		if key == "" {
			key = fmt.Sprintf("p%d", highest)
		}
		return cred, key, nil
	case "priority":
		fallthrough
	default:
		cred := group[0]
		key := strings.TrimSpace(cred.Label)
		if key == "" {
			key = fmt.Sprintf("p%d", highest)
		}
		return cred, key, nil
	}
}

func (r *Registry) driverFor(providerID string, providerCfg ProviderInstanceConfig, cred CredentialConfig, credKey string) (driver.Driver, error) {
	if strings.TrimSpace(providerID) == "" {
		return nil, fmt.Errorf("provider id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.drivers == nil {
		r.drivers = map[string]driver.Driver{}
	}
	driverKey := providerID
	if strings.TrimSpace(credKey) != "" {
		driverKey += ":" + credKey
	}
	if drv, ok := r.drivers[driverKey]; ok {
		return drv, nil
	}

	timeout := providerCfg.Timeout
	if timeout <= 0 {
		timeout = r.cfg.DefaultTimeout
	}

	var drv driver.Driver
	providerType := strings.ToLower(strings.TrimSpace(providerCfg.AIProvider))
	switch providerType {
	case "openai":
		client := openai.NewClient(providerCfg.BaseURL, cred.Key())
		client.Timeout = timeout
		client.Headers = providerCfg.Headers
		drv = client
	case "anthropic":
		client := anthropic.NewClient(providerCfg.BaseURL, cred.Key())
		client.Timeout = timeout
		client.Headers = providerCfg.Headers
		drv = client
	default:
		if providerType == "" {
			providerType = "(unset)"
		}
		return nil, fmt.Errorf("unsupported ai_provider %q for provider %q", providerType, providerID)
	}
	r.drivers[driverKey] = drv
	return drv, nil
}

func (r *Registry) rrIndex(key string, n int) int {
	if n <= 1 {
		return 0
	}
	if r == nil {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rr == nil {
		r.rr = map[string]int{}
	}
	idx := r.rr[key] % n
	r.rr[key] = r.rr[key] + 1
	return idx
}
