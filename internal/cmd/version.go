package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nexusadvisory/llmgate/internal/server/handlers"
)

var extended bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  "Print version information. Use --extended for full details including Crucible and Go versions.",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		info := handlers.CurrentVersion()
		info.App.Version = versionInfo.Version
		info.App.Commit = versionInfo.Commit
		info.App.BuildDate = versionInfo.BuildDate

		if _, err := fmt.Fprintf(out, "%s %s\n", info.App.Name, info.App.Version); err != nil {
			return err
		}
		if !extended {
			return nil
		}
		_, err := fmt.Fprintf(out, "Commit: %s\nBuilt: %s\nGo: %s\nPlatform: %s\n\nGofulmen: %s\nCrucible: %s\n",
			info.App.Commit, info.App.BuildDate, info.App.GoVersion, info.Runtime.Platform,
			info.Dependencies.Gofulmen, info.Dependencies.Crucible)
		return err
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVarP(&extended, "extended", "e", false, "show extended version information")
}
