//go:build cgo

package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nexusadvisory/llmgate/internal/ailink"
	"github.com/nexusadvisory/llmgate/internal/config"
)

func TestOpenMemoryStore(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, config.StoreConfig{Driver: "libsql", Path: ":memory:"})
	require.NoError(t, err)
	require.NotNil(t, store)
	require.Equal(t, "libsql", store.Driver())
	require.NoError(t, store.Close())
}

func TestOpenLocalStore_ConfiguresSQLite(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, config.StoreConfig{
		Driver: "libsql",
		Path:   "file:" + t.TempDir() + "/llmgate.db",
	})
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	require.Equal(t, 1, store.DB.Stats().MaxOpenConnections)

	var journalMode string
	require.NoError(t, store.DB.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&journalMode))
	require.Contains(t, journalMode, "wal")

	var busyTimeout int
	require.NoError(t, store.DB.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&busyTimeout))
	require.GreaterOrEqual(t, busyTimeout, 1000)
}

func TestQuotaRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, config.StoreConfig{Path: "file:" + t.TempDir() + "/quota.db"})
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	require.NoError(t, store.Migrate(ctx))

	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i := 1; i <= 2; i++ {
		w, ok, err := store.ReserveQuota(ctx, "fallback", 2, time.Hour, start.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, i, w.Count)
	}
	w, ok, err := store.ReserveQuota(ctx, "fallback", 2, time.Hour, start.Add(30*time.Minute))
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 2, w.Count)

	got, err := store.LoadQuota(ctx, "fallback")
	require.NoError(t, err)
	require.Equal(t, &ailink.QuotaWindow{
		Count: 2, WindowStart: start.Add(time.Minute), Duration: time.Hour, Limit: 2,
	}, got)

	// Past the window end the count restarts.
	w, ok, err = store.ReserveQuota(ctx, "fallback", 2, time.Hour, start.Add(2*time.Hour))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, w.Count)
	require.Equal(t, start.Add(2*time.Hour), w.WindowStart)

	n, err := store.ResetQuotas(ctx, QuotaQuery{Key: "fallback"})
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	got, err = store.LoadQuota(ctx, "fallback")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestReserveQuotaConcurrent(t *testing.T) {
	ctx := context.Background()
	path := "file:" + t.TempDir() + "/quota.db"
	first, err := Open(ctx, config.StoreConfig{Path: path})
	require.NoError(t, err)
	defer func() { _ = first.Close() }()
	require.NoError(t, first.Migrate(ctx))
	second, err := Open(ctx, config.StoreConfig{Path: path})
	require.NoError(t, err)
	defer func() { _ = second.Close() }()

	now := time.Now().UTC()
	var (
		mu       sync.Mutex
		reserved int
		wg       sync.WaitGroup
	)
	for i := 0; i < 12; i++ {
		s := first
		if i%2 == 1 {
			s = second
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := s.ReserveQuota(ctx, "fallback", 3, time.Hour, now)
			if err != nil || !ok {
				return
			}
			mu.Lock()
			reserved++
			mu.Unlock()
		}()
	}
	wg.Wait()

	got, err := first.LoadQuota(ctx, "fallback")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.LessOrEqual(t, got.Count, 3)
	require.Equal(t, got.Count, reserved)
}
