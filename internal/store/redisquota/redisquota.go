// Package redisquota shares the fallback quota window between gateway
// processes through Redis. Reservations use optimistic WATCH/MULTI
// transactions so processes sharing a key never overspend it.
package redisquota

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nexusadvisory/llmgate/internal/ailink"
	"github.com/nexusadvisory/llmgate/internal/config"
	"github.com/nexusadvisory/llmgate/internal/store"
)

// DefaultPrefix namespaces quota keys when none is configured.
const DefaultPrefix = "llmgate:quota:"

var _ ailink.QuotaStore = (*Store)(nil)

// Store keeps one JSON value per quota key plus a set indexing every key.
type Store struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

type record struct {
	Window    ailink.QuotaWindow `json:"window"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// New wraps an existing client.
func New(client *redis.Client, prefix string) *Store {
	if strings.TrimSpace(prefix) == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: prefix, now: time.Now}
}

// Open dials Redis and verifies the connection.
func Open(ctx context.Context, cfg config.RedisConfig) (*Store, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, errors.New("redis addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	return New(client, cfg.KeyPrefix), nil
}

// Close releases the client.
func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) indexKey() string {
	return strings.TrimSuffix(s.prefix, ":") + "-index"
}

func (s *Store) redisKey(key string) string {
	return s.prefix + key
}

// LoadQuota returns the stored window for key, or nil when none exists.
func (s *Store) LoadQuota(ctx context.Context, key string) (*ailink.QuotaWindow, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, errors.New("quota key is required")
	}
	data, err := s.client.Get(ctx, s.redisKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch quota window %s: %w", key, err)
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode quota window %s: %w", key, err)
	}
	return &rec.Window, nil
}

// maxReserveRetries bounds optimistic retries when another process changes
// the key between WATCH and EXEC.
const maxReserveRetries = 16

// ReserveQuota counts one use against key when its window has room. The read
// and write run under WATCH, so a concurrent writer on the same key aborts
// the transaction and the reservation is retried against the fresh value.
func (s *Store) ReserveQuota(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (ailink.QuotaWindow, bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return ailink.QuotaWindow{}, false, errors.New("quota key is required")
	}
	rk := s.redisKey(key)

	var (
		result   ailink.QuotaWindow
		reserved bool
	)
	txf := func(tx *redis.Tx) error {
		var stored *ailink.QuotaWindow
		data, err := tx.Get(ctx, rk).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return fmt.Errorf("fetch quota window %s: %w", key, err)
		default:
			var rec record
			if err := json.Unmarshal(data, &rec); err != nil {
				return fmt.Errorf("decode quota window %s: %w", key, err)
			}
			stored = &rec.Window
		}

		result, reserved = ailink.ReserveWindow(stored, limit, window, now)
		if !reserved && stored != nil && stored.Count == result.Count && stored.WindowStart.Equal(result.WindowStart) {
			return nil
		}
		encoded, err := json.Marshal(record{Window: result, UpdatedAt: s.now().UTC()})
		if err != nil {
			return fmt.Errorf("encode quota window: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, rk, encoded, 0)
			pipe.SAdd(ctx, s.indexKey(), key)
			return nil
		})
		return err
	}

	for i := 0; i < maxReserveRetries; i++ {
		err := s.client.Watch(ctx, txf, rk)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return ailink.QuotaWindow{}, false, fmt.Errorf("reserve quota %s: %w", key, err)
		}
		return result, reserved, nil
	}
	return ailink.QuotaWindow{}, false, fmt.Errorf("reserve quota %s: too much contention", key)
}

func (s *Store) matching(ctx context.Context, q store.QuotaQuery) ([]string, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	keys, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list quota keys: %w", err)
	}
	out := keys[:0]
	for _, k := range keys {
		switch {
		case q.All:
		case strings.TrimSpace(q.Key) != "":
			if k != strings.TrimSpace(q.Key) {
				continue
			}
		default:
			if !strings.HasPrefix(k, strings.TrimSpace(q.Prefix)) {
				continue
			}
		}
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

// ListQuotas returns matching windows ordered by key. Index entries whose
// value has expired or been deleted are skipped.
func (s *Store) ListQuotas(ctx context.Context, q store.QuotaQuery) ([]store.QuotaEntry, error) {
	keys, err := s.matching(ctx, q)
	if err != nil {
		return nil, err
	}
	entries := []store.QuotaEntry{}
	if len(keys) == 0 {
		return entries, nil
	}

	redisKeys := make([]string, len(keys))
	for i, k := range keys {
		redisKeys[i] = s.redisKey(k)
	}
	values, err := s.client.MGet(ctx, redisKeys...).Result()
	if err != nil {
		return nil, fmt.Errorf("list quota windows: %w", err)
	}
	for i, val := range values {
		str, ok := val.(string)
		if !ok {
			continue
		}
		var rec record
		if err := json.Unmarshal([]byte(str), &rec); err != nil {
			return nil, fmt.Errorf("decode quota window %s: %w", keys[i], err)
		}
		entries = append(entries, store.QuotaEntry{Key: keys[i], Window: rec.Window, UpdatedAt: rec.UpdatedAt})
	}
	return entries, nil
}

// CountQuotas counts matching indexed keys.
func (s *Store) CountQuotas(ctx context.Context, q store.QuotaQuery) (int, error) {
	keys, err := s.matching(ctx, q)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// ResetQuotas deletes matching windows and their index entries.
func (s *Store) ResetQuotas(ctx context.Context, q store.QuotaQuery) (int64, error) {
	keys, err := s.matching(ctx, q)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}

	redisKeys := make([]string, len(keys))
	members := make([]any, len(keys))
	for i, k := range keys {
		redisKeys[i] = s.redisKey(k)
		members[i] = k
	}

	var del *redis.IntCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, redisKeys...)
		pipe.SRem(ctx, s.indexKey(), members...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("reset quota windows: %w", err)
	}
	return del.Val(), nil
}
