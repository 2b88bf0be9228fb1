package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nexusadvisory/llmgate/internal/output"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Check every configured endpoint",
	Long: `Send a tiny prompt to each pool endpoint and the fallback concurrently.

Probing does not move the dispatcher between modes, but the fallback probe
counts against the fallback quota and is skipped when the quota is spent.
Exits non-zero when no endpoint answered.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
		}
		outPath, err := resolveOutputPath(cmd, "probe", format)
		if err != nil {
			return err
		}

		gw, err := openGateway(cmd.Context())
		if err != nil {
			return err
		}
		defer gw.Close() // nolint:errcheck // best-effort cleanup

		results, err := gw.service.Probe(cmd.Context())
		if err != nil {
			return gatewayError(cmd.Context(), err)
		}

		rendered, err := output.NewFormatter(format).FormatProbe(results)
		if err != nil {
			return err
		}
		sink, err := openSink(outPath, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()
		if _, err := fmt.Fprintln(sink.writer, rendered); err != nil {
			return err
		}

		for _, r := range results {
			if r.OK {
				return nil
			}
		}
		return errors.New("no endpoint answered the probe")
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pool, fallback, and persisted quota state",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
		}

		gw, err := openGateway(cmd.Context())
		if err != nil {
			return err
		}
		defer gw.Close() // nolint:errcheck // best-effort cleanup

		rendered, err := output.NewFormatter(format).FormatStatus(gw.service.Status())
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), rendered)
		return err
	},
}

func init() {
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(statusCmd)

	probeCmd.Flags().String("output-format", string(output.FormatTable), "Output format: table|json|markdown")
	probeCmd.Flags().String("out", "", "Write output to a file (default stdout)")
	probeCmd.Flags().String("out-dir", "", "Write output to a directory")

	statusCmd.Flags().String("output-format", string(output.FormatTable), "Output format: table|json|markdown")
}
