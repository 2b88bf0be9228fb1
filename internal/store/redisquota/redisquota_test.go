package redisquota

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusadvisory/llmgate/internal/ailink"
	"github.com/nexusadvisory/llmgate/internal/ailink/driver"
	"github.com/nexusadvisory/llmgate/internal/config"
	"github.com/nexusadvisory/llmgate/internal/store"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, ""), mr
}

func window(count int) ailink.QuotaWindow {
	return ailink.QuotaWindow{
		Count:       count,
		WindowStart: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		Duration:    5 * time.Hour,
		Limit:       120,
	}
}

func seed(t *testing.T, mr *miniredis.Miniredis, key string, w ailink.QuotaWindow) {
	t.Helper()
	data, err := json.Marshal(record{Window: w, UpdatedAt: w.WindowStart})
	require.NoError(t, err)
	require.NoError(t, mr.Set(DefaultPrefix+key, string(data)))
	_, err = mr.SAdd("llmgate:quota-index", key)
	require.NoError(t, err)
}

func TestReserveAndLoad(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	got, err := s.LoadQuota(ctx, "fallback")
	require.NoError(t, err)
	assert.Nil(t, got)

	for i := 1; i <= 2; i++ {
		w, ok, err := s.ReserveQuota(ctx, "fallback", 2, time.Hour, start.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, i, w.Count)
	}
	w, ok, err := s.ReserveQuota(ctx, "fallback", 2, time.Hour, start.Add(10*time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 2, w.Count)

	got, err = s.LoadQuota(ctx, " fallback ")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, ailink.QuotaWindow{
		Count: 2, WindowStart: start.Add(time.Minute), Duration: time.Hour, Limit: 2,
	}, *got)

	assert.True(t, mr.Exists("llmgate:quota:fallback"))
	members, err := mr.SMembers("llmgate:quota-index")
	require.NoError(t, err)
	assert.Equal(t, []string{"fallback"}, members)

	// The spent window restarts once it has elapsed.
	w, ok, err = s.ReserveQuota(ctx, "fallback", 2, time.Hour, start.Add(2*time.Hour))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, w.Count)
	assert.Equal(t, start.Add(2*time.Hour), w.WindowStart)
}

func TestReserveSharedAcrossStores(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	now := time.Now().UTC()

	stores := make([]*Store, 2)
	for i := range stores {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		stores[i] = New(client, "")
	}

	var (
		mu       sync.Mutex
		reserved int
		wg       sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		s := stores[i%len(stores)]
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := s.ReserveQuota(ctx, "fallback", 4, time.Hour, now)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				reserved++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 4, reserved)
	got, err := stores[0].LoadQuota(ctx, "fallback")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 4, got.Count)
}

func TestLoadCorrupt(t *testing.T) {
	s, mr := newTestStore(t)
	require.NoError(t, mr.Set("llmgate:quota:fallback", "{not json"))
	_, err := s.LoadQuota(context.Background(), "fallback")
	require.Error(t, err)
}

func TestEmptyKey(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.LoadQuota(context.Background(), "")
	require.Error(t, err)
	_, _, err = s.ReserveQuota(context.Background(), " ", 1, time.Hour, time.Now())
	require.Error(t, err)
}

func TestAdminQueries(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	for i, key := range []string{"team-b", "fallback", "team-a"} {
		seed(t, mr, key, window(i))
	}

	entries, err := s.ListQuotas(ctx, store.QuotaQuery{All: true})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "fallback", entries[0].Key)
	assert.Equal(t, "team-a", entries[1].Key)
	assert.Equal(t, 2, entries[1].Window.Count)

	count, err := s.CountQuotas(ctx, store.QuotaQuery{Prefix: "team-"})
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// A value deleted behind the store's back is skipped in listings.
	mr.Del("llmgate:quota:team-b")
	entries, err = s.ListQuotas(ctx, store.QuotaQuery{Prefix: "team-"})
	require.NoError(t, err)
	require.Len(t, entries, 1)

	n, err := s.ResetQuotas(ctx, store.QuotaQuery{Prefix: "team-"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	count, err = s.CountQuotas(ctx, store.QuotaQuery{All: true})
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, err = s.ResetQuotas(ctx, store.QuotaQuery{})
	require.Error(t, err)

	n, err = s.ResetQuotas(ctx, store.QuotaQuery{Key: "missing"})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := Open(context.Background(), config.RedisConfig{Addr: mr.Addr(), KeyPrefix: "custom:"})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	require.NoError(t, s.Ping(context.Background()))
	_, ok, err := s.ReserveQuota(context.Background(), "fallback", 1, time.Hour, time.Now())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, mr.Exists("custom:fallback"))

	_, err = Open(context.Background(), config.RedisConfig{})
	require.Error(t, err)
}

func TestDispatcherRestoresFromRedis(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	seed(t, mr, "fallback", window(7))

	pool, err := ailink.NewProviderPool([]ailink.Endpoint{{Provider: "p", Model: "m", Driver: nopDriver{}}})
	require.NoError(t, err)
	d, err := ailink.NewDispatcher(ailink.DispatcherOptions{
		Pool:        pool,
		Fallback:    &ailink.Endpoint{Provider: "f", Model: "m", Driver: nopDriver{}},
		QuotaLimit:  120,
		QuotaWindow: 5 * time.Hour,
		QuotaStore:  s,
		Clock:       func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	require.NoError(t, d.Restore(ctx))
	assert.Equal(t, 7, d.Snapshot().Quota.Count)
}

type nopDriver struct{}

func (nopDriver) Complete(context.Context, *driver.Request) (*driver.Response, error) {
	return &driver.Response{}, nil
}
func (nopDriver) Name() string                      { return "nop" }
func (nopDriver) Capabilities() driver.Capabilities { return driver.Capabilities{} }
