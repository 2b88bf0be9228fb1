package observability_test

import (
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/fulmenhq/gofulmen/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nexusadvisory/llmgate/internal/ailink"
	"github.com/nexusadvisory/llmgate/internal/observability"
)

func TestLoggers(t *testing.T) {
	t.Run("CLI logger creation", func(t *testing.T) {
		observability.InitCLILogger("llmgate-test", true)
		require.NotNil(t, observability.CLILogger)
		observability.CLILogger.Debug("Test CLI log message", zap.String("test", "value"))
	})

	t.Run("Structured server logger", func(t *testing.T) {
		observability.InitServerLogger("llmgate-test", "debug", "STRUCTURED")
		require.NotNil(t, observability.ServerLogger)
		observability.ServerLogger.Info("Test structured log message", zap.String("component", "test"))
	})

	t.Run("Simple server logger", func(t *testing.T) {
		cfg := observability.ServerLoggerConfig("llmgate-test", "warn", "simple")
		assert.Equal(t, logging.ProfileSimple, cfg.Profile)
		assert.Equal(t, "WARN", cfg.DefaultLevel)

		logger, err := logging.New(cfg)
		require.NoError(t, err)
		logger.Warn("simple profile")
	})

	t.Run("Unknown level defaults to info", func(t *testing.T) {
		cfg := observability.ServerLoggerConfig("llmgate-test", "loud", "")
		assert.Equal(t, "INFO", cfg.DefaultLevel)
		assert.Equal(t, logging.ProfileStructured, cfg.Profile)
	})

	t.Run("Satisfies gateway logger", func(t *testing.T) {
		logger, err := logging.NewCLI("llmgate-test")
		require.NoError(t, err)
		var _ ailink.Logger = logger
	})
}

func TestMetricsListener(t *testing.T) {
	require.NoError(t, observability.InitMetrics(0))
	t.Cleanup(func() { _ = observability.StopMetrics() })

	port := observability.GetMetricsPort()
	require.NotZero(t, port)

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/metrics", port))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "llmgate_gateway_mode")
}
