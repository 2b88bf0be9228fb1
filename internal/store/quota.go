package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nexusadvisory/llmgate/internal/ailink"
)

var _ ailink.QuotaStore = (*Store)(nil)

// LoadQuota returns the stored window for key, or nil when none exists.
func (s *Store) LoadQuota(ctx context.Context, key string) (*ailink.QuotaWindow, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	key = strings.TrimSpace(key)
	if key == "" {
		return nil, errors.New("quota key is required")
	}

	var (
		count, limit  int
		start, window int64
	)
	row := s.DB.QueryRowContext(ctx, `
		SELECT request_count, window_start, window_seconds, request_limit
		FROM quota_windows
		WHERE key = ?
	`, key)
	if err := row.Scan(&count, &start, &window, &limit); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch quota window: %w", err)
	}

	return &ailink.QuotaWindow{
		Count:       count,
		WindowStart: time.Unix(start, 0).UTC(),
		Duration:    time.Duration(window) * time.Second,
		Limit:       limit,
	}, nil
}

// ReserveQuota counts one use against key when its window has room. The
// window restarts lazily once it has elapsed. Every statement runs in one
// transaction and the first one takes the write lock, so concurrent
// reservations from other processes serialize on the database.
func (s *Store) ReserveQuota(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (ailink.QuotaWindow, bool, error) {
	if err := s.ready(); err != nil {
		return ailink.QuotaWindow{}, false, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	key = strings.TrimSpace(key)
	if key == "" {
		return ailink.QuotaWindow{}, false, errors.New("quota key is required")
	}

	nowUnix := now.UTC().Unix()
	seconds := int64(window / time.Second)

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return ailink.QuotaWindow{}, false, fmt.Errorf("begin quota reservation: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO quota_windows (key, request_count, window_start, window_seconds, request_limit, updated_at)
		VALUES (?, 0, ?, ?, ?, ?)
		ON CONFLICT(key) DO NOTHING
	`, key, nowUnix, seconds, limit, nowUnix); err != nil {
		return ailink.QuotaWindow{}, false, fmt.Errorf("create quota window: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE quota_windows
		SET request_count = 0, window_start = ?, updated_at = ?
		WHERE key = ? AND window_start + ? < ?
	`, nowUnix, nowUnix, key, seconds, nowUnix); err != nil {
		return ailink.QuotaWindow{}, false, fmt.Errorf("reset quota window: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE quota_windows
		SET request_count = request_count + 1, window_seconds = ?, request_limit = ?, updated_at = ?
		WHERE key = ? AND request_count < ?
	`, seconds, limit, nowUnix, key, limit)
	if err != nil {
		return ailink.QuotaWindow{}, false, fmt.Errorf("reserve quota: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return ailink.QuotaWindow{}, false, fmt.Errorf("reserve quota: %w", err)
	}

	var (
		count int
		start int64
	)
	if err := tx.QueryRowContext(ctx, `
		SELECT request_count, window_start FROM quota_windows WHERE key = ?
	`, key).Scan(&count, &start); err != nil {
		return ailink.QuotaWindow{}, false, fmt.Errorf("fetch quota window: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return ailink.QuotaWindow{}, false, fmt.Errorf("commit quota reservation: %w", err)
	}

	return ailink.QuotaWindow{
		Count:       count,
		WindowStart: time.Unix(start, 0).UTC(),
		Duration:    window,
		Limit:       limit,
	}, affected == 1, nil
}
