// Package cli provides the onesided command-line interface.
package cli

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "onesided",
	Short: "Run one-sided message exchange scenarios over a pub/sub transport.",
	Long: `onesided starts a group of ranks, posts messages into their windows and ` +
		`exchanges them with the remote-get or broadcast discovery strategy. ` +
		`Configuration is read from ONESIDED_* variables and optional .env files.`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
