package ailink

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProviderPoolSelectWraps(t *testing.T) {
	pool, err := NewProviderPool([]Endpoint{
		{Provider: "openrouter", Model: "a", Driver: &stubDriver{}},
		{Provider: "openrouter", Model: "b", Driver: &stubDriver{}},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"openrouter/a", "openrouter/b"}, pool.IDs())

	ep, next := pool.Select(0)
	require.Equal(t, "openrouter/a", ep.ID)
	require.Equal(t, 1, next)

	ep, next = pool.Select(next)
	require.Equal(t, "openrouter/b", ep.ID)
	require.Equal(t, 0, next)

	ep, _ = pool.Select(5)
	require.Equal(t, "openrouter/b", ep.ID)
}

func TestProviderPoolRejectsInvalid(t *testing.T) {
	_, err := NewProviderPool(nil)
	require.ErrorIs(t, err, ErrNoEndpoints)

	_, err = NewProviderPool([]Endpoint{{ID: "x"}})
	require.Error(t, err)

	_, err = NewProviderPool([]Endpoint{
		{ID: "x", Driver: &stubDriver{}},
		{ID: "x", Driver: &stubDriver{}},
	})
	require.ErrorContains(t, err, "duplicate")
}
