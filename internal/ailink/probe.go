package ailink

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nexusadvisory/llmgate/internal/ailink/driver"
)

const (
	probePrompt    = "Say 'ok'."
	probeMaxTokens = 50
	probeTimeout   = 30 * time.Second
)

// ProbeResult is the health of one endpoint.
type ProbeResult struct {
	Endpoint string        `json:"endpoint"`
	Model    string        `json:"model"`
	Tier     Tier          `json:"tier"`
	OK       bool          `json:"ok"`
	Skipped  bool          `json:"skipped,omitempty"`
	Latency  time.Duration `json:"latency_ns"`
	Reply    string        `json:"reply,omitempty"`
	Kind     ErrorKind     `json:"kind,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// Probe sends a tiny prompt to every pool endpoint and the fallback
// concurrently. It bypasses the state machine but still waits on the rate
// limiter, and the fallback probe counts against its quota.
func (d *Dispatcher) Probe(ctx context.Context) ([]ProbeResult, error) {
	endpoints := d.pool.Endpoints()
	tiers := make([]Tier, len(endpoints))
	for i := range tiers {
		tiers[i] = TierPrimary
	}
	if d.fallback != nil {
		endpoints = append(endpoints, *d.fallback)
		tiers = append(tiers, TierFallback)
	}

	results := make([]ProbeResult, len(endpoints))
	g, gctx := errgroup.WithContext(ctx)
	for i, ep := range endpoints {
		g.Go(func() error {
			results[i] = d.probeOne(gctx, ep, tiers[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, ctx.Err()
}

func (d *Dispatcher) probeOne(ctx context.Context, ep Endpoint, tier Tier) ProbeResult {
	res := ProbeResult{Endpoint: ep.ID, Model: ep.Model, Tier: tier}

	var reserve func(context.Context) error
	if tier == TierFallback {
		reserve = d.reserveWithoutModeChange
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	maxTokens := probeMaxTokens
	req := &driver.Request{
		Model:     ep.Model,
		Messages:  buildDriverRequest(ep, GenerationRequest{Prompt: probePrompt}, false, nil).Messages,
		MaxTokens: &maxTokens,
		Metadata:  map[string]string{driver.MetadataTier: string(tier), "probe": "true"},
	}

	start := time.Now()
	resp, err := d.complete(ctx, ep, tier, req, reserve)
	res.Latency = time.Since(start)
	if errors.Is(err, ErrFallbackQuotaExhausted) {
		res.Skipped = true
		res.Latency = 0
		res.Error = err.Error()
		return res
	}
	if err != nil {
		res.Kind = classifyError(err)
		res.Error = safeOneLine(err.Error())
		d.logger.Warn("Probe failed",
			zap.String("endpoint", ep.ID),
			zap.String("kind", string(res.Kind)),
			zap.Error(err))
		return res
	}
	res.Reply = strings.TrimSpace(resp.Text())
	res.OK = true
	return res
}

// reserveWithoutModeChange counts one fallback use and leaves the mode alone.
func (d *Dispatcher) reserveWithoutModeChange(ctx context.Context) error {
	w, ok := d.reserveQuota(ctx)
	observeState(d.Mode(), w)
	if !ok {
		return ErrFallbackQuotaExhausted
	}
	return nil
}
