package cmd

import (
	"context"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/nexusadvisory/llmgate/internal/ailink"
	"github.com/nexusadvisory/llmgate/internal/config"
	errwrap "github.com/nexusadvisory/llmgate/internal/errors"
	"github.com/nexusadvisory/llmgate/internal/observability"
)

// gatewayRuntime owns a Service and the quota store behind it.
type gatewayRuntime struct {
	cfg     *config.Config
	service *ailink.Service
	quota   quotaBackend
}

// buildGateway opens the configured quota store and constructs the service,
// restoring the persisted fallback window.
func buildGateway(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*gatewayRuntime, error) {
	backend, err := openQuotaBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}

	deps := ailink.Deps{}
	if backend != nil {
		deps.QuotaStore = backend
	}
	if logger != nil {
		deps.Logger = logger
	}

	svc, err := ailink.NewService(ctx, cfg.Gateway, deps)
	if err != nil {
		if backend != nil {
			_ = backend.Close()
		}
		return nil, err
	}

	if logger != nil {
		snap := svc.Status()
		logger.Debug("Gateway ready",
			zap.Int("pool_size", snap.PoolSize),
			zap.String("fallback", snap.Fallback),
			zap.String("quota_store", cfg.Gateway.Quota.Store),
			zap.Int("quota_used", snap.Quota.Count),
			zap.Int("quota_limit", snap.Quota.Limit))
	}
	return &gatewayRuntime{cfg: cfg, service: svc, quota: backend}, nil
}

// Close releases the quota store.
func (g *gatewayRuntime) Close() error {
	if g == nil || g.quota == nil {
		return nil
	}
	return g.quota.Close()
}

// openGateway loads configuration and builds the CLI gateway.
func openGateway(ctx context.Context) (*gatewayRuntime, error) {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return nil, err
	}
	return buildGateway(ctx, cfg, observability.CLILogger)
}

// gatewayError converts dispatcher failures to envelopes so the exit code
// reflects them; other errors pass through.
func gatewayError(ctx context.Context, err error) error {
	if env := errwrap.FromGateway(ctx, err); env != nil {
		return env
	}
	return err
}
