package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "hearth",
	Short: "Hearth chat server",
	Long: `Hearth is a group chat server with live presence.

Available commands:
  serve    Start the HTTP server and the realtime broadcast core

Use "hearth [command] --help" for more information about a specific command.`,
}

// Execute executes the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
