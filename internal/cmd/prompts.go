package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nexusadvisory/llmgate/internal/ailink"
	"github.com/nexusadvisory/llmgate/internal/output"
)

var promptsCmd = &cobra.Command{
	Use:   "prompts",
	Short: "Inspect stored prompt templates",
}

var promptsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List prompt templates from gateway.prompts_dir or the built-in set",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
		}
		cfg, err := loadConfig(cmd.Context())
		if err != nil {
			return err
		}
		registry, err := ailink.LoadPrompts(cfg.Gateway.PromptsDir)
		if err != nil {
			return err
		}

		rendered, err := output.NewFormatter(format).FormatPrompts(registry.List())
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), rendered)
		return err
	},
}

func init() {
	promptsCmd.AddCommand(promptsListCmd)
	rootCmd.AddCommand(promptsCmd)

	promptsListCmd.Flags().String("output-format", string(output.FormatTable), "Output format: table|json|markdown")
}
