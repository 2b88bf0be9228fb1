package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return New(db), mock
}

func TestMigrate(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS quota_windows")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, s.Migrate(context.Background()))
}

func TestLoadQuota(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	query := regexp.QuoteMeta("FROM quota_windows")

	t.Run("Found", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery(query).WithArgs("fallback").WillReturnRows(
			sqlmock.NewRows([]string{"request_count", "window_start", "window_seconds", "request_limit"}).
				AddRow(17, start.Unix(), int64(5*3600), 120))

		w, err := s.LoadQuota(ctx, " fallback ")
		require.NoError(t, err)
		require.NotNil(t, w)
		assert.Equal(t, 17, w.Count)
		assert.Equal(t, start, w.WindowStart)
		assert.Equal(t, 5*time.Hour, w.Duration)
		assert.Equal(t, 120, w.Limit)
		assert.Equal(t, 103, w.Remaining())
	})

	t.Run("Missing", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery(query).WithArgs("fallback").WillReturnRows(
			sqlmock.NewRows([]string{"request_count", "window_start", "window_seconds", "request_limit"}))

		w, err := s.LoadQuota(ctx, "fallback")
		require.NoError(t, err)
		assert.Nil(t, w)
	})

	t.Run("EmptyKey", func(t *testing.T) {
		s, _ := newMockStore(t)
		_, err := s.LoadQuota(ctx, "  ")
		require.Error(t, err)
	})
}

func TestReserveQuota(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 30, 0, 0, time.FixedZone("X", 3600))
	start := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	nowUnix := now.UTC().Unix()

	expectReserve := func(mock sqlmock.Sqlmock, affected int64, count int) {
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT(key) DO NOTHING")).
			WithArgs("fallback", nowUnix, int64(3600), 2, nowUnix).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(regexp.QuoteMeta("SET request_count = 0")).
			WithArgs(nowUnix, nowUnix, "fallback", int64(3600), nowUnix).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(regexp.QuoteMeta("WHERE key = ? AND request_count < ?")).
			WithArgs(int64(3600), 2, nowUnix, "fallback", 2).
			WillReturnResult(sqlmock.NewResult(0, affected))
		mock.ExpectQuery(regexp.QuoteMeta("SELECT request_count, window_start")).
			WithArgs("fallback").
			WillReturnRows(sqlmock.NewRows([]string{"request_count", "window_start"}).AddRow(count, start.Unix()))
		mock.ExpectCommit()
	}

	t.Run("Reserved", func(t *testing.T) {
		s, mock := newMockStore(t)
		expectReserve(mock, 1, 2)

		w, ok, err := s.ReserveQuota(ctx, "fallback", 2, time.Hour, now)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 2, w.Count)
		assert.Equal(t, start, w.WindowStart)
		assert.Equal(t, time.Hour, w.Duration)
		assert.Equal(t, 2, w.Limit)
	})

	t.Run("Spent", func(t *testing.T) {
		s, mock := newMockStore(t)
		expectReserve(mock, 0, 2)

		w, ok, err := s.ReserveQuota(ctx, "fallback", 2, time.Hour, now)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, 2, w.Count)
	})

	t.Run("RollbackOnError", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT(key) DO NOTHING")).
			WillReturnError(assert.AnError)
		mock.ExpectRollback()

		_, ok, err := s.ReserveQuota(ctx, "fallback", 2, time.Hour, now)
		require.Error(t, err)
		assert.False(t, ok)
	})

	t.Run("EmptyKey", func(t *testing.T) {
		s, _ := newMockStore(t)
		_, _, err := s.ReserveQuota(ctx, " ", 2, time.Hour, now)
		require.Error(t, err)
	})
}

func TestQuotaQuery(t *testing.T) {
	require.Error(t, QuotaQuery{}.Validate())
	require.NoError(t, QuotaQuery{All: true}.Validate())

	where, args, err := QuotaQuery{Key: "fallback"}.whereClause()
	require.NoError(t, err)
	assert.Equal(t, "WHERE key = ?", where)
	assert.Equal(t, []any{"fallback"}, args)

	where, args, err = QuotaQuery{Prefix: "team-"}.whereClause()
	require.NoError(t, err)
	assert.Equal(t, "WHERE key LIKE ?", where)
	assert.Equal(t, []any{"team-%"}, args)

	where, args, err = QuotaQuery{All: true, Key: "ignored"}.whereClause()
	require.NoError(t, err)
	assert.Empty(t, where)
	assert.Nil(t, args)
}

func TestListQuotas(t *testing.T) {
	s, mock := newMockStore(t)
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("FROM quota_windows")).
		WillReturnRows(sqlmock.NewRows([]string{"key", "request_count", "window_start", "window_seconds", "request_limit", "updated_at"}).
			AddRow("fallback", 4, start.Unix(), int64(18000), 120, start.Add(time.Minute).Unix()).
			AddRow("staging", 0, start.Unix(), int64(3600), 5, start.Unix()))

	entries, err := s.ListQuotas(context.Background(), QuotaQuery{All: true})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "fallback", entries[0].Key)
	assert.Equal(t, 4, entries[0].Window.Count)
	assert.Equal(t, 5*time.Hour, entries[0].Window.Duration)
	assert.Equal(t, start.Add(time.Minute), entries[0].UpdatedAt)
	assert.Equal(t, 5, entries[1].Window.Limit)
}

func TestCountAndResetQuotas(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*)")).WithArgs("team-%").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM quota_windows")).WithArgs("team-%").
		WillReturnResult(sqlmock.NewResult(0, 2))

	q := QuotaQuery{Prefix: "team-"}
	count, err := s.CountQuotas(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	affected, err := s.ResetQuotas(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, int64(2), affected)

	_, err = s.ResetQuotas(ctx, QuotaQuery{})
	require.Error(t, err)
}
