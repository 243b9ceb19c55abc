package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "shaken",
	Short: "shaken is a scriptable Twitch chat bot",
	Long: `shaken connects to Twitch chat and dispatches chat lines to commands
declared in a Lua manifest. The manifest is reloaded whenever the scripts
directory changes, so commands can be edited while the bot keeps running.`,
	SilenceUsage: true,
}

// Execute executes the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(patternCmd)
	rootCmd.AddCommand(versionCmd)
}
