package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/nexusadvisory/llmgate/internal/ailink"
	"github.com/nexusadvisory/llmgate/internal/config"
	errwrap "github.com/nexusadvisory/llmgate/internal/errors"
	"github.com/nexusadvisory/llmgate/internal/store"
	"github.com/nexusadvisory/llmgate/internal/store/redisquota"
)

// quotaBackend is a persistent quota store with admin queries.
type quotaBackend interface {
	ailink.QuotaStore
	ListQuotas(ctx context.Context, q store.QuotaQuery) ([]store.QuotaEntry, error)
	CountQuotas(ctx context.Context, q store.QuotaQuery) (int, error)
	ResetQuotas(ctx context.Context, q store.QuotaQuery) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

var (
	_ quotaBackend = (*store.Store)(nil)
	_ quotaBackend = (*redisquota.Store)(nil)
)

// openQuotaBackend opens the store named by gateway.quota.store. The memory
// store persists nothing and returns nil.
func openQuotaBackend(ctx context.Context, cfg *config.Config) (quotaBackend, error) {
	switch kind := strings.ToLower(strings.TrimSpace(cfg.Gateway.Quota.Store)); kind {
	case "", "memory":
		return nil, nil
	case "libsql":
		db, err := store.Open(ctx, cfg.Store)
		if err != nil {
			return nil, errwrap.WrapDatabaseError(ctx, err, "failed to open quota store")
		}
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, errwrap.WrapDatabaseError(ctx, err, "failed to migrate quota store")
		}
		return db, nil
	case "redis":
		rs, err := redisquota.Open(ctx, cfg.Redis)
		if err != nil {
			return nil, errwrap.WrapDatabaseError(ctx, err, "failed to connect to redis quota store")
		}
		return rs, nil
	default:
		return nil, fmt.Errorf("unsupported quota store: %s", kind)
	}
}

// openAdminBackend is openQuotaBackend for the quota commands, which have
// nothing to inspect in memory mode.
func openAdminBackend(ctx context.Context) (quotaBackend, error) {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return nil, err
	}
	backend, err := openQuotaBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if backend == nil {
		return nil, fmt.Errorf("quota store is %q; set gateway.quota.store to libsql or redis to persist quota windows", cfg.Gateway.Quota.Store)
	}
	return backend, nil
}
