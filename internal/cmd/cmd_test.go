package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusadvisory/llmgate/internal/ailink"
	"github.com/nexusadvisory/llmgate/internal/config"
	errwrap "github.com/nexusadvisory/llmgate/internal/errors"
	"github.com/nexusadvisory/llmgate/internal/output"
	"github.com/nexusadvisory/llmgate/internal/store"
)

func TestReadPrompt(t *testing.T) {
	t.Run("Args", func(t *testing.T) {
		got, err := readPrompt([]string{"summarize", " this "}, strings.NewReader("ignored"))
		require.NoError(t, err)
		assert.Equal(t, "summarize  this", got)
	})

	t.Run("Stdin", func(t *testing.T) {
		got, err := readPrompt(nil, strings.NewReader("  from stdin\n"))
		require.NoError(t, err)
		assert.Equal(t, "from stdin", got)

		got, err = readPrompt([]string{"-"}, strings.NewReader("dash"))
		require.NoError(t, err)
		assert.Equal(t, "dash", got)
	})

	t.Run("Empty", func(t *testing.T) {
		_, err := readPrompt(nil, strings.NewReader("   "))
		require.Error(t, err)
		_, err = readPrompt([]string{"  "}, strings.NewReader(""))
		require.Error(t, err)
	})
}

func TestParseVars(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "body.txt")
	require.NoError(t, os.WriteFile(path, []byte("file contents"), 0o600))

	vars, err := parseVars([]string{"name=acme", "expr=a=b", "body=@" + path, "empty="})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"name":  "acme",
		"expr":  "a=b",
		"body":  "file contents",
		"empty": "",
	}, vars)

	_, err = parseVars([]string{"novalue"})
	require.Error(t, err)
	_, err = parseVars([]string{"=x"})
	require.Error(t, err)
	_, err = parseVars([]string{"body=@" + filepath.Join(dir, "missing.txt")})
	require.Error(t, err)
}

func TestLoadSchemaFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "verdict.schema.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
  "type": "object",
  "properties": {"ok": {"type": "boolean"}},
  "required": ["ok"]
}`), 0o600))

	schema, err := loadSchemaFile(path)
	require.NoError(t, err)
	require.NotNil(t, schema)
	assert.Equal(t, "verdict", schema.Name())

	_, err = loadSchemaFile(filepath.Join(dir, "missing.json"))
	require.Error(t, err)
}

func newQuotaFlagsCmd(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	c := &cobra.Command{Use: "test"}
	c.Flags().Bool("all", false, "")
	c.Flags().String("key", "", "")
	c.Flags().String("prefix", "", "")
	require.NoError(t, c.Flags().Parse(args))
	return c
}

func TestQuotaQueryFromFlags(t *testing.T) {
	q, err := quotaQueryFromFlags(newQuotaFlagsCmd(t, "--key", " gateway "))
	require.NoError(t, err)
	assert.Equal(t, "gateway", q.Key)
	assert.False(t, q.All)

	q, err = quotaQueryFromFlags(newQuotaFlagsCmd(t, "--all"))
	require.NoError(t, err)
	assert.True(t, q.All)

	_, err = quotaQueryFromFlags(newQuotaFlagsCmd(t, "--key", "a", "--prefix", "b"))
	require.Error(t, err)
}

func TestWriteQuotaResetResult(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeQuotaResetResult(output.FormatTable, &buf, 3, 2, false))
	assert.Equal(t, "Deleted 2/3 quota window(s)\n", buf.String())

	buf.Reset()
	require.NoError(t, writeQuotaResetResult(output.FormatTable, &buf, 4, 0, true))
	assert.Equal(t, "Would delete 4 quota window(s)\n", buf.String())

	buf.Reset()
	require.NoError(t, writeQuotaResetResult(output.FormatJSON, &buf, 1, 1, false))
	var payload map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &payload))
	assert.Equal(t, float64(1), payload["matched"])
	assert.Equal(t, float64(1), payload["deleted"])
	assert.Equal(t, false, payload["dry_run"])
}

func TestExitCodeFor(t *testing.T) {
	ctx := context.Background()

	assert.Equal(t, foundry.ExitCode(0), ExitCodeFor(nil))
	assert.Equal(t, foundry.ExitConfigInvalid,
		ExitCodeFor(errwrap.WrapConfigInvalid(ctx, errors.New("bad yaml"), "config invalid")))
	assert.Equal(t, foundry.ExitExternalServiceUnavailable,
		ExitCodeFor(errwrap.FromGateway(ctx, &ailink.ExhaustedError{Attempts: 2})))
	assert.Equal(t, foundry.ExitDatabaseUnavailable,
		ExitCodeFor(errwrap.WrapDatabaseError(ctx, errors.New("locked"), "failed to list quota windows")))
	assert.Equal(t, foundry.ExitFailure, ExitCodeFor(errors.New("boom")))
}

func TestOpenQuotaBackend(t *testing.T) {
	ctx := context.Background()

	t.Run("Memory", func(t *testing.T) {
		cfg := &config.Config{Gateway: ailink.Config{Quota: ailink.QuotaConfig{Store: "memory"}}}
		backend, err := openQuotaBackend(ctx, cfg)
		require.NoError(t, err)
		assert.Nil(t, backend)
	})

	t.Run("Redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		cfg := &config.Config{
			Gateway: ailink.Config{Quota: ailink.QuotaConfig{Store: "redis"}},
			Redis:   config.RedisConfig{Addr: mr.Addr(), KeyPrefix: "test:quota:"},
		}
		backend, err := openQuotaBackend(ctx, cfg)
		require.NoError(t, err)
		require.NotNil(t, backend)
		defer func() { _ = backend.Close() }()

		require.NoError(t, backend.Ping(ctx))
		start := time.Now().UTC().Truncate(time.Second)
		w, ok, err := backend.ReserveQuota(ctx, "gateway", 5, time.Hour, start)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 1, w.Count)
		n, err := backend.CountQuotas(ctx, store.QuotaQuery{All: true})
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("RedisUnreachable", func(t *testing.T) {
		cfg := &config.Config{
			Gateway: ailink.Config{Quota: ailink.QuotaConfig{Store: "redis"}},
			Redis:   config.RedisConfig{Addr: "127.0.0.1:1", KeyPrefix: "test:quota:"},
		}
		_, err := openQuotaBackend(ctx, cfg)
		require.Error(t, err)
		assert.Equal(t, foundry.ExitDatabaseUnavailable, ExitCodeFor(err))
	})

	t.Run("Unsupported", func(t *testing.T) {
		cfg := &config.Config{Gateway: ailink.Config{Quota: ailink.QuotaConfig{Store: "etcd"}}}
		_, err := openQuotaBackend(ctx, cfg)
		require.Error(t, err)
	})
}

func TestRootCommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "generate", "probe", "status", "prompts", "quota", "config", "version"} {
		assert.True(t, names[want], "missing command %s", want)
	}
}
