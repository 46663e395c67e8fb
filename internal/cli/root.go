// Package cli implements the drover command line interface.
package cli

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/droverhq/drover/internal/cli.version=1.2.3"
	version = "0.3.0"
	commit  = "dev"
	date    = "unknown"

	logo = "\n" +
		"     _\n" +
		"  __| |_ __ _____   _____ _ __\n" +
		" / _` | '__/ _ \\ \\ / / _ \\ '__|\n" +
		"| (_| | | | (_) \\ V /  __/ |\n" +
		" \\__,_|_|  \\___/ \\_/ \\___|_|\n"
)

var rootCmd = &cobra.Command{
	Use:   "drover",
	Short: "Drover - chat-driven agent orchestrator",
	Long:  color.CyanString(logo) + "\nDrover keeps a herd of background agents moving from a chat surface.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(upCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}
