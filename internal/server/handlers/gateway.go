package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/nexusadvisory/llmgate/internal/ailink"
	apperrors "github.com/nexusadvisory/llmgate/internal/errors"
)

// maxBodyBytes caps /v1/generate request bodies.
const maxBodyBytes = 1 << 20

var validate = validator.New(validator.WithRequiredStructEnabled())

// Gateway is the slice of ailink.Service the HTTP handlers call.
type Gateway interface {
	Do(ctx context.Context, req ailink.GenerationRequest) (*ailink.GenerationResult, error)
	GeneratePrompt(ctx context.Context, slug string, vars map[string]string) (*ailink.GenerationResult, error)
	Probe(ctx context.Context) ([]ailink.ProbeResult, error)
	Status() ailink.DispatchSnapshot
}

// GenerateRequest is the /v1/generate body. Either prompt or template is set.
type GenerateRequest struct {
	Prompt       string            `json:"prompt" validate:"required_without=Template"`
	SystemPrompt string            `json:"system_prompt,omitempty"`
	MaxTokens    int               `json:"max_tokens,omitempty" validate:"gte=0"`
	Schema       map[string]any    `json:"schema,omitempty"`
	SchemaName   string            `json:"schema_name,omitempty"`
	Template     string            `json:"template,omitempty" validate:"excluded_with=Prompt"`
	Vars         map[string]string `json:"vars,omitempty"`
}

// StatusResponse is the dispatch snapshot plus derived quota fields.
type StatusResponse struct {
	ailink.DispatchSnapshot
	QuotaRemaining int       `json:"quota_remaining"`
	QuotaResetsAt  time.Time `json:"quota_resets_at"`
}

// ProbeSummary lists per-endpoint probe outcomes.
type ProbeSummary struct {
	Healthy int                  `json:"healthy"`
	Total   int                  `json:"total"`
	Results []ailink.ProbeResult `json:"results"`
}

// GatewayHandler serves the /v1 API.
type GatewayHandler struct {
	gw Gateway
}

// NewGatewayHandler wraps gw.
func NewGatewayHandler(gw Gateway) *GatewayHandler {
	return &GatewayHandler{gw: gw}
}

// Status handles GET /v1/status.
func (h *GatewayHandler) Status(w http.ResponseWriter, r *http.Request) {
	snap := h.gw.Status()
	writeJSON(w, http.StatusOK, StatusResponse{
		DispatchSnapshot: snap,
		QuotaRemaining:   snap.Quota.Remaining(),
		QuotaResetsAt:    snap.Quota.WindowEnd(),
	})
}

// Generate handles POST /v1/generate.
func (h *GatewayHandler) Generate(w http.ResponseWriter, r *http.Request) {
	req, err := decodeGenerate(r)
	if err != nil {
		respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "invalid generate request"))
		return
	}

	var res *ailink.GenerationResult
	if req.Template != "" {
		res, err = h.gw.GeneratePrompt(r.Context(), req.Template, req.Vars)
	} else {
		var greq ailink.GenerationRequest
		greq, err = req.toGeneration()
		if err != nil {
			respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "invalid schema"))
			return
		}
		res, err = h.gw.Do(r.Context(), greq)
	}
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Probe handles POST /v1/probe.
func (h *GatewayHandler) Probe(w http.ResponseWriter, r *http.Request) {
	results, err := h.gw.Probe(r.Context())
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	summary := ProbeSummary{Total: len(results), Results: results}
	for _, res := range results {
		if res.OK {
			summary.Healthy++
		}
	}
	writeJSON(w, http.StatusOK, summary)
}

// CheckHealth reports unhealthy when the gateway has no endpoint to call.
func (h *GatewayHandler) CheckHealth(ctx context.Context) error {
	snap := h.gw.Status()
	if snap.PoolSize == 0 && snap.Fallback == "" {
		return ailink.ErrNoEndpoints
	}
	return nil
}

func decodeGenerate(r *http.Request) (*GenerateRequest, error) {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	var req GenerateRequest
	if err := dec.Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("request body is empty")
		}
		return nil, fmt.Errorf("decode body: %w", err)
	}
	req.Prompt = strings.TrimSpace(req.Prompt)
	req.Template = strings.TrimSpace(req.Template)

	if err := validate.Struct(&req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", strings.ToLower(fe.Field()), fe.Tag()))
			}
			return nil, errors.New(strings.Join(msgs, "; "))
		}
		return nil, err
	}
	return &req, nil
}

func (req *GenerateRequest) toGeneration() (ailink.GenerationRequest, error) {
	out := ailink.GenerationRequest{
		Prompt:       req.Prompt,
		SystemPrompt: req.SystemPrompt,
		MaxTokens:    req.MaxTokens,
	}
	if len(req.Schema) > 0 {
		name := req.SchemaName
		if name == "" {
			name = "request"
		}
		schema, err := ailink.NewJSONSchemaFromMap(name, req.Schema)
		if err != nil {
			return out, err
		}
		out.Schema = schema
	}
	return out, nil
}
