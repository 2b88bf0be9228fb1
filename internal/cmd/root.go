package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nexusadvisory/llmgate/internal/ailink/driver"
	"github.com/nexusadvisory/llmgate/internal/config"
	errwrap "github.com/nexusadvisory/llmgate/internal/errors"
	"github.com/nexusadvisory/llmgate/internal/observability"
)

var (
	cfgFile   string
	verbose   bool
	traceFile string

	stopTrace func()

	// Version info set by main package
	versionInfo = struct {
		Version   string
		Commit    string
		BuildDate string
	}{"dev", "unknown", "unknown"}
)

// SetVersionInfo is called by main package to set version information
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

var rootCmd = &cobra.Command{
	Use:   config.AppName,
	Short: "Resilient text-generation gateway",
	Long: `llmgate sends prompts to a rotating pool of free-tier model endpoints and
falls back to a quota-limited paid endpoint when the pool keeps failing.

Use the subcommands to generate text, probe endpoints, inspect quota, or run
the HTTP gateway.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initCLI()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if stopTrace != nil {
			stopTrace()
			stopTrace = nil
		}
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/llmgate/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (sets log level to debug)")
	rootCmd.PersistentFlags().StringVar(&traceFile, "trace", "", "trace provider requests/responses to an NDJSON file")
}

func initCLI() error {
	observability.InitCLILogger(config.AppName, verbose)

	if traceFile != "" {
		cleanup, err := driver.EnableTracing(traceFile)
		if err != nil {
			return fmt.Errorf("enable tracing: %w", err)
		}
		stopTrace = cleanup
		observability.CLILogger.Debug("Provider tracing enabled", zap.String("file", traceFile))
	}
	return nil
}

// loadConfig resolves configuration honoring --config.
func loadConfig(ctx context.Context) (*config.Config, error) {
	cfg, err := config.LoadFile(ctx, cfgFile)
	if err != nil {
		return nil, errwrap.WrapConfigInvalid(ctx, err, "failed to load configuration")
	}
	if verbose && observability.CLILogger != nil {
		observability.CLILogger.Debug("Configuration loaded",
			zap.String("config_file", cfgFile),
			zap.String("quota_store", cfg.Gateway.Quota.Store),
			zap.Int("pool_size", len(cfg.Gateway.Pool)))
	}
	return cfg, nil
}
