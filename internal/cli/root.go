package cli

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/synod/synod/internal/cli.version=1.2.3"
	version = "0.3.0"
	logo    = "\n" +
		"  ___ _   _ _ __   ___   __| |\n" +
		" / __| | | | '_ \\ / _ \\ / _` |\n" +
		" \\__ \\ |_| | | | | (_) | (_| |\n" +
		" |___/\\__, |_| |_|\\___/ \\__,_|\n" +
		"      |___/\n"
)

var rootCmd = &cobra.Command{
	Use:   "synod",
	Short: "synod - multi-agent organization coordinator",
	Long:  color.CyanString(logo) + "\nA durable coordination core for organizations of autonomous role agents.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(decideCmd)
	rootCmd.AddCommand(respondCmd)
	rootCmd.AddCommand(workflowCmd)
}
