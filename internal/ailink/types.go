package ailink

import (
	"context"
	"encoding/json"

	"github.com/nexusadvisory/llmgate/internal/ailink/driver"
)

// Mode is the dispatcher's sticky routing state.
type Mode int

const (
	ModePrimary Mode = iota
	ModeFallback
)

func (m Mode) String() string {
	if m == ModeFallback {
		return "FALLBACK"
	}
	return "PRIMARY"
}

// Tier names which side of the gateway served or failed a call.
type Tier string

const (
	TierPrimary  Tier = "primary"
	TierFallback Tier = "fallback"
)

// Endpoint is one callable model behind a driver.
type Endpoint struct {
	ID         string
	Provider   string
	Model      string
	Driver     driver.Driver
	Structured bool
}

// GenerationRequest is a single gateway call.
type GenerationRequest struct {
	Prompt       string
	SystemPrompt string
	MaxTokens    int
	Schema       Schema
}

// GenerationResult is the outcome of a successful call.
type GenerationResult struct {
	Text      string          `json:"text,omitempty"`
	Record    json.RawMessage `json:"record,omitempty"`
	Endpoint  string          `json:"endpoint"`
	Tier      Tier            `json:"tier"`
	Attempts  int             `json:"attempts"`
	RequestID string          `json:"request_id"`
}

type requestIDKey struct{}

// WithRequestID attaches the ID Generate reports and forwards to drivers.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFrom returns the ID set by WithRequestID, or "".
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// DispatchSnapshot is a point-in-time copy of dispatcher state.
type DispatchSnapshot struct {
	Mode      string      `json:"mode"`
	Cursor    int         `json:"cursor"`
	PoolSize  int         `json:"pool_size"`
	Pool      []string    `json:"pool"`
	Fallback  string      `json:"fallback,omitempty"`
	Quota     QuotaWindow `json:"quota"`
	LastError string      `json:"last_error,omitempty"`
	PlainMode []string    `json:"plain_mode_endpoints,omitempty"`
}
