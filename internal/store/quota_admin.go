package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nexusadvisory/llmgate/internal/ailink"
)

// QuotaEntry is one persisted window.
type QuotaEntry struct {
	Key       string             `json:"key"`
	Window    ailink.QuotaWindow `json:"window"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// QuotaQuery selects windows for listing or reset.
type QuotaQuery struct {
	All    bool
	Key    string
	Prefix string
}

func (q QuotaQuery) Validate() error {
	if q.All {
		return nil
	}
	if strings.TrimSpace(q.Key) != "" {
		return nil
	}
	if strings.TrimSpace(q.Prefix) != "" {
		return nil
	}
	return errors.New("must specify --all, --key, or --prefix")
}

func (q QuotaQuery) whereClause() (string, []any, error) {
	if err := q.Validate(); err != nil {
		return "", nil, err
	}
	if q.All {
		return "", nil, nil
	}
	if key := strings.TrimSpace(q.Key); key != "" {
		return "WHERE key = ?", []any{key}, nil
	}
	return "WHERE key LIKE ?", []any{strings.TrimSpace(q.Prefix) + "%"}, nil
}

func (s *Store) ListQuotas(ctx context.Context, q QuotaQuery) ([]QuotaEntry, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	where, args, err := q.whereClause()
	if err != nil {
		return nil, err
	}

	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf(`
		SELECT key, request_count, window_start, window_seconds, request_limit, updated_at
		FROM quota_windows
		%s
		ORDER BY key
	`, where), args...)
	if err != nil {
		return nil, fmt.Errorf("list quota windows: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	entries := []QuotaEntry{}
	for rows.Next() {
		var (
			key                    string
			count, limit           int
			start, window, updated int64
		)
		if err := rows.Scan(&key, &count, &start, &window, &limit, &updated); err != nil {
			return nil, fmt.Errorf("scan quota windows: %w", err)
		}
		entries = append(entries, QuotaEntry{
			Key: key,
			Window: ailink.QuotaWindow{
				Count:       count,
				WindowStart: time.Unix(start, 0).UTC(),
				Duration:    time.Duration(window) * time.Second,
				Limit:       limit,
			},
			UpdatedAt: time.Unix(updated, 0).UTC(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list quota windows: %w", err)
	}
	return entries, nil
}

func (s *Store) CountQuotas(ctx context.Context, q QuotaQuery) (int, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	where, args, err := q.whereClause()
	if err != nil {
		return 0, err
	}

	var count int
	row := s.DB.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT COUNT(*)
		FROM quota_windows
		%s
	`, where), args...)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count quota windows: %w", err)
	}
	return count, nil
}

// ResetQuotas deletes matching windows; the next process start begins a fresh window.
func (s *Store) ResetQuotas(ctx context.Context, q QuotaQuery) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	where, args, err := q.whereClause()
	if err != nil {
		return 0, err
	}

	result, err := s.DB.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM quota_windows
		%s
	`, where), args...)
	if err != nil {
		return 0, fmt.Errorf("reset quota windows: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset quota windows: %w", err)
	}
	return affected, nil
}
