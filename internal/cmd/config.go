package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nexusadvisory/llmgate/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and initialize configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write the built-in defaults to a config file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.DefaultConfigPath()
		if len(args) == 1 {
			path = args[0]
		}
		if strings.TrimSpace(path) == "" {
			return fmt.Errorf("could not resolve a config path; pass one explicitly")
		}
		if err := config.WriteDefault(path); err != nil {
			return err
		}
		_, err := fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
		return err
	},
}

var configPathsCmd = &cobra.Command{
	Use:   "paths",
	Short: "Show config and data locations plus recognized environment variables",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		lines := []string{
			"Config file: " + config.DefaultConfigPath(),
			"Data dir:    " + config.DefaultDataDir(),
			"Store path:  " + config.DefaultStorePath(),
			"",
			"Environment (any key is also settable as " + config.EnvPrefix + "_<SECTION>_<KEY>):",
		}
		for _, name := range config.EnvNames() {
			lines = append(lines, "  "+name)
		}
		_, err := fmt.Fprintln(out, strings.Join(lines, "\n"))
		return err
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathsCmd)
	rootCmd.AddCommand(configCmd)
}
