package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	errwrap "github.com/nexusadvisory/llmgate/internal/errors"
	"github.com/nexusadvisory/llmgate/internal/output"
	"github.com/nexusadvisory/llmgate/internal/store"
)

var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Manage persisted fallback quota windows",
}

var quotaListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored quota windows",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
		}
		query, err := quotaQueryFromFlags(cmd)
		if err != nil {
			return err
		}
		if !query.All && query.Key == "" && query.Prefix == "" {
			query.All = true
		}
		outPath, err := resolveOutputPath(cmd, "quota.list", format)
		if err != nil {
			return err
		}

		backend, err := openAdminBackend(cmd.Context())
		if err != nil {
			return err
		}
		defer backend.Close() // nolint:errcheck // best-effort cleanup

		entries, err := backend.ListQuotas(cmd.Context(), query)
		if err != nil {
			return errwrap.WrapDatabaseError(cmd.Context(), err, "failed to list quota windows")
		}

		rendered, err := output.NewFormatter(format).FormatQuotas(entries)
		if err != nil {
			return err
		}
		sink, err := openSink(outPath, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()
		_, err = fmt.Fprintln(sink.writer, rendered)
		return err
	},
}

var quotaResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset stored quota windows",
	Long: `Delete stored quota windows so the next fallback call opens a fresh window.

Select entries with exactly one of --all, --key, or --prefix. --all requires
--yes unless --dry-run is given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
		}
		if format != output.FormatJSON && format != output.FormatTable && format != output.FormatText {
			return fmt.Errorf("unsupported output format: %s", format)
		}

		query, err := quotaQueryFromFlags(cmd)
		if err != nil {
			return err
		}
		if err := query.Validate(); err != nil {
			return err
		}
		yes, _ := cmd.Flags().GetBool("yes")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		if query.All && !yes && !dryRun {
			return errors.New("--all requires --yes (or use --dry-run)")
		}

		outPath, err := resolveOutputPath(cmd, "quota.reset", format)
		if err != nil {
			return err
		}

		backend, err := openAdminBackend(cmd.Context())
		if err != nil {
			return err
		}
		defer backend.Close() // nolint:errcheck // best-effort cleanup

		matched, err := backend.CountQuotas(cmd.Context(), query)
		if err != nil {
			return errwrap.WrapDatabaseError(cmd.Context(), err, "failed to count quota windows")
		}

		sink, err := openSink(outPath, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()

		if dryRun {
			return writeQuotaResetResult(format, sink.writer, matched, 0, true)
		}
		deleted, err := backend.ResetQuotas(cmd.Context(), query)
		if err != nil {
			return errwrap.WrapDatabaseError(cmd.Context(), err, "failed to reset quota windows")
		}
		return writeQuotaResetResult(format, sink.writer, matched, deleted, false)
	},
}

func quotaQueryFromFlags(cmd *cobra.Command) (store.QuotaQuery, error) {
	all, _ := cmd.Flags().GetBool("all")
	key, _ := cmd.Flags().GetString("key")
	prefix, _ := cmd.Flags().GetString("prefix")
	q := store.QuotaQuery{
		All:    all,
		Key:    strings.TrimSpace(key),
		Prefix: strings.TrimSpace(prefix),
	}
	if q.Key != "" && q.Prefix != "" {
		return q, errors.New("--key and --prefix are mutually exclusive")
	}
	return q, nil
}

func writeQuotaResetResult(format output.Format, w io.Writer, matched int, deleted int64, dryRun bool) error {
	if format == output.FormatJSON {
		payload, err := (&output.JSONFormatter{Indent: true}).Marshal(map[string]any{
			"matched": matched,
			"deleted": deleted,
			"dry_run": dryRun,
		})
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, payload)
		return err
	}

	if dryRun {
		_, err := fmt.Fprintf(w, "Would delete %d quota window(s)\n", matched)
		return err
	}
	_, err := fmt.Fprintf(w, "Deleted %d/%d quota window(s)\n", deleted, matched)
	return err
}

func init() {
	quotaCmd.AddCommand(quotaListCmd)
	quotaCmd.AddCommand(quotaResetCmd)
	rootCmd.AddCommand(quotaCmd)

	for _, c := range []*cobra.Command{quotaListCmd, quotaResetCmd} {
		c.Flags().Bool("all", false, "Select every quota key")
		c.Flags().String("key", "", "Select a single quota key (exact match)")
		c.Flags().String("prefix", "", "Select quota keys with a matching prefix")
		c.Flags().String("out", "", "Write output to a file (default stdout)")
		c.Flags().String("out-dir", "", "Write output to a directory")
	}
	quotaListCmd.Flags().String("output-format", string(output.FormatTable), "Output format: table|json|markdown")

	quotaResetCmd.Flags().Bool("yes", false, "Confirm destructive reset")
	quotaResetCmd.Flags().Bool("dry-run", false, "Show what would be deleted")
	quotaResetCmd.Flags().String("output-format", string(output.FormatTable), "Output format: table|json")
}
