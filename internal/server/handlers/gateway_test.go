package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusadvisory/llmgate/internal/ailink"
)

type fakeGateway struct {
	lastReq  ailink.GenerationRequest
	lastSlug string
	lastVars map[string]string
	snapshot ailink.DispatchSnapshot
	probe    []ailink.ProbeResult
	err      error
}

func (f *fakeGateway) Do(ctx context.Context, req ailink.GenerationRequest) (*ailink.GenerationResult, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &ailink.GenerationResult{Text: "done", Endpoint: "p/m", Tier: ailink.TierPrimary, Attempts: 1, RequestID: "r"}, nil
}

func (f *fakeGateway) GeneratePrompt(ctx context.Context, slug string, vars map[string]string) (*ailink.GenerationResult, error) {
	f.lastSlug, f.lastVars = slug, vars
	return &ailink.GenerationResult{Record: json.RawMessage(`{"ok":true}`), Endpoint: "p/m", Tier: ailink.TierFallback, Attempts: 2}, nil
}

func (f *fakeGateway) Probe(ctx context.Context) ([]ailink.ProbeResult, error) {
	return f.probe, f.err
}

func (f *fakeGateway) Status() ailink.DispatchSnapshot { return f.snapshot }

func post(h http.HandlerFunc, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodPost, "/v1/generate", strings.NewReader(body)))
	return rec
}

func TestGatewayGenerate(t *testing.T) {
	t.Run("PassesRequestFields", func(t *testing.T) {
		gw := &fakeGateway{}
		h := NewGatewayHandler(gw)

		rec := post(h.Generate, `{"prompt":" hi ","system_prompt":"be brief","max_tokens":64,
			"schema":{"type":"object"},"schema_name":"thing"}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		assert.Equal(t, "hi", gw.lastReq.Prompt)
		assert.Equal(t, "be brief", gw.lastReq.SystemPrompt)
		assert.Equal(t, 64, gw.lastReq.MaxTokens)
		require.NotNil(t, gw.lastReq.Schema)
		assert.Equal(t, "thing", gw.lastReq.Schema.Name())
		assert.JSONEq(t, `{"text":"done","endpoint":"p/m","tier":"primary","attempts":1,"request_id":"r"}`, rec.Body.String())
	})

	t.Run("Template", func(t *testing.T) {
		gw := &fakeGateway{}
		h := NewGatewayHandler(gw)

		rec := post(h.Generate, `{"template":"summarize","vars":{"text":"abc"}}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, "summarize", gw.lastSlug)
		assert.Equal(t, map[string]string{"text": "abc"}, gw.lastVars)
		assert.Contains(t, rec.Body.String(), `"record":{"ok":true}`)
	})

	t.Run("MalformedBody", func(t *testing.T) {
		gw := &fakeGateway{}
		h := NewGatewayHandler(gw)
		rec := post(h.Generate, `{"prompt":`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), `"code":"INVALID_INPUT"`)
		assert.Empty(t, gw.lastReq.Prompt)
	})

	t.Run("GatewayError", func(t *testing.T) {
		h := NewGatewayHandler(&fakeGateway{err: &ailink.TimeoutError{Attempts: 1, Err: context.DeadlineExceeded}})
		rec := post(h.Generate, `{"prompt":"x"}`)
		assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
		assert.Contains(t, rec.Body.String(), `"code":"TIMEOUT"`)
	})
}

func TestGatewayStatus(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)
	gw := &fakeGateway{snapshot: ailink.DispatchSnapshot{
		Mode:     "FALLBACK",
		PoolSize: 2,
		Pool:     []string{"a", "b"},
		Fallback: "z",
		Quota:    ailink.QuotaWindow{Count: 5, Limit: 8, WindowStart: start, Duration: time.Hour},
	}}
	h := NewGatewayHandler(gw)

	rec := httptest.NewRecorder()
	h.Status(rec, httptest.NewRequest(http.MethodGet, "/v1/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp StatusResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "FALLBACK", resp.Mode)
	assert.Equal(t, 3, resp.QuotaRemaining)
	assert.True(t, start.Add(time.Hour).Equal(resp.QuotaResetsAt))

	require.NoError(t, h.CheckHealth(context.Background()))
	gw.snapshot = ailink.DispatchSnapshot{}
	require.ErrorIs(t, h.CheckHealth(context.Background()), ailink.ErrNoEndpoints)
}

func TestGatewayProbe(t *testing.T) {
	gw := &fakeGateway{probe: []ailink.ProbeResult{
		{Endpoint: "a", Tier: ailink.TierPrimary, OK: true},
		{Endpoint: "z", Tier: ailink.TierFallback, Skipped: true, Error: "quota exhausted"},
	}}
	h := NewGatewayHandler(gw)

	rec := httptest.NewRecorder()
	h.Probe(rec, httptest.NewRequest(http.MethodPost, "/v1/probe", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ProbeSummary
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 2, resp.Total)
	assert.Equal(t, 1, resp.Healthy)
}
