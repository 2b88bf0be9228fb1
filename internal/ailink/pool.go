package ailink

import "fmt"

// ProviderPool is an ordered, cyclically indexed list of interchangeable
// endpoints. It is immutable after construction; the cursor lives in the
// dispatcher.
type ProviderPool struct {
	endpoints []Endpoint
}

// NewProviderPool validates and copies endpoints.
func NewProviderPool(endpoints []Endpoint) (*ProviderPool, error) {
	if len(endpoints) == 0 {
		return nil, ErrNoEndpoints
	}
	seen := make(map[string]struct{}, len(endpoints))
	out := make([]Endpoint, 0, len(endpoints))
	for i, ep := range endpoints {
		if ep.Driver == nil {
			return nil, fmt.Errorf("pool endpoint %d (%s) has no driver", i, ep.ID)
		}
		if ep.ID == "" {
			ep.ID = endpointID(ep.Provider, ep.Model)
		}
		if _, dup := seen[ep.ID]; dup {
			return nil, fmt.Errorf("duplicate pool endpoint %q", ep.ID)
		}
		seen[ep.ID] = struct{}{}
		out = append(out, ep)
	}
	return &ProviderPool{endpoints: out}, nil
}

// Len returns the pool size.
func (p *ProviderPool) Len() int {
	if p == nil {
		return 0
	}
	return len(p.endpoints)
}

// Select returns the endpoint at cursor and the advanced cursor.
func (p *ProviderPool) Select(cursor int) (Endpoint, int) {
	n := len(p.endpoints)
	idx := ((cursor % n) + n) % n
	return p.endpoints[idx], (idx + 1) % n
}

// IDs lists endpoint ids in pool order.
func (p *ProviderPool) IDs() []string {
	if p == nil {
		return nil
	}
	ids := make([]string, len(p.endpoints))
	for i, ep := range p.endpoints {
		ids[i] = ep.ID
	}
	return ids
}

// Endpoints returns a copy of the pool.
func (p *ProviderPool) Endpoints() []Endpoint {
	if p == nil {
		return nil
	}
	return append([]Endpoint(nil), p.endpoints...)
}

func endpointID(provider, model string) string {
	if provider == "" {
		return model
	}
	return provider + "/" + model
}
