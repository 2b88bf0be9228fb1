package ailink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nexusadvisory/llmgate/internal/ailink/prompt"
)

// Service is the gateway facade used by the CLI and HTTP server.
type Service struct {
	Dispatcher *Dispatcher
	Prompts    prompt.Registry
	Config     Config
}

// Deps carries collaborators that outlive configuration.
type Deps struct {
	QuotaStore QuotaStore
	Prompts    prompt.Registry
	Logger     Logger
}

// NewService builds drivers, pool, limiter and dispatcher from cfg and restores
// the persisted quota window.
func NewService(ctx context.Context, cfg Config, deps Deps) (*Service, error) {
	if err := cfg.Check(); err != nil {
		return nil, err
	}

	reg := NewRegistry(cfg)
	pool, err := reg.Pool()
	if err != nil {
		return nil, err
	}
	fallback, err := reg.Fallback()
	if err != nil {
		return nil, err
	}

	quotaKey := cfg.Quota.Key
	if quotaKey == "" && fallback != nil {
		quotaKey = fallback.ID
	}

	dispatcher, err := NewDispatcher(DispatcherOptions{
		Pool:                pool,
		Fallback:            fallback,
		Limiter:             NewRateLimiter(cfg.MinSpacing),
		QuotaLimit:          cfg.Quota.Limit,
		QuotaWindow:         cfg.Quota.Window,
		QuotaStore:          deps.QuotaStore,
		QuotaKey:            quotaKey,
		MaxAttempts:         cfg.MaxAttempts,
		DefaultTimeout:      cfg.DefaultTimeout,
		DefaultMaxTokens:    cfg.DefaultMaxTokens,
		DefaultSystemPrompt: cfg.DefaultSystemPrompt,
		Logger:              deps.Logger,
	})
	if err != nil {
		return nil, err
	}
	if err := dispatcher.Restore(ctx); err != nil {
		return nil, err
	}

	prompts := deps.Prompts
	if prompts == nil {
		prompts, err = LoadPrompts(cfg.PromptsDir)
		if err != nil {
			return nil, err
		}
	}

	return &Service{Dispatcher: dispatcher, Prompts: prompts, Config: cfg}, nil
}

// LoadPrompts returns the prompt set from dir, or the embedded defaults.
func LoadPrompts(dir string) (prompt.Registry, error) {
	if strings.TrimSpace(dir) == "" {
		return prompt.BuiltinRegistry()
	}
	prompts, err := prompt.LoadFromDir(dir)
	if err != nil {
		return nil, err
	}
	return prompt.NewRegistry(prompts)
}

// Do runs one request through the dispatcher.
func (s *Service) Do(ctx context.Context, req GenerationRequest) (*GenerationResult, error) {
	if s == nil || s.Dispatcher == nil {
		return nil, errors.New("gateway not configured")
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, errors.New("prompt is required")
	}
	return s.Dispatcher.Generate(ctx, req)
}

// Generate returns free-form text.
func (s *Service) Generate(ctx context.Context, prompt, systemPrompt string, maxTokens int) (string, error) {
	res, err := s.Do(ctx, GenerationRequest{Prompt: prompt, SystemPrompt: systemPrompt, MaxTokens: maxTokens})
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// GenerateStructured returns a record validated against schema.
func (s *Service) GenerateStructured(ctx context.Context, prompt string, schema Schema, systemPrompt string, maxTokens int) (json.RawMessage, error) {
	if schema == nil {
		return nil, errors.New("schema is required")
	}
	res, err := s.Do(ctx, GenerationRequest{Prompt: prompt, SystemPrompt: systemPrompt, MaxTokens: maxTokens, Schema: schema})
	if err != nil {
		return nil, err
	}
	return res.Record, nil
}

// Decode generates a record shaped like T.
func Decode[T any](ctx context.Context, s *Service, prompt, systemPrompt string, maxTokens int) (T, error) {
	var zero T
	schema, err := NewStructSchema[T]("")
	if err != nil {
		return zero, err
	}
	record, err := s.GenerateStructured(ctx, prompt, schema, systemPrompt, maxTokens)
	if err != nil {
		return zero, err
	}
	return schema.Decode(record)
}

// GeneratePrompt renders a stored prompt and runs it. Prompts with a
// response_schema return a record.
func (s *Service) GeneratePrompt(ctx context.Context, slug string, vars map[string]string) (*GenerationResult, error) {
	if s == nil || s.Prompts == nil {
		return nil, errors.New("prompt registry not configured")
	}
	def, err := s.Prompts.Get(slug)
	if err != nil {
		return nil, err
	}
	system, user, err := RenderPrompt(def, vars)
	if err != nil {
		return nil, fmt.Errorf("render prompt %s: %w", slug, err)
	}

	req := GenerationRequest{Prompt: user, SystemPrompt: system, MaxTokens: def.Config.MaxTokens}
	if def.Structured() {
		schema, err := NewJSONSchemaFromMap(def.Config.Slug, def.Config.ResponseSchema)
		if err != nil {
			return nil, err
		}
		req.Schema = schema
	}
	return s.Do(ctx, req)
}

// Probe checks every configured endpoint.
func (s *Service) Probe(ctx context.Context) ([]ProbeResult, error) {
	if s == nil || s.Dispatcher == nil {
		return nil, errors.New("gateway not configured")
	}
	return s.Dispatcher.Probe(ctx)
}

// Status returns the dispatch state.
func (s *Service) Status() DispatchSnapshot {
	return s.Dispatcher.Snapshot()
}
