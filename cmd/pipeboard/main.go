package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "pipeboard",
	Short: "Content pipeline dashboard server",
	Long: `Pipeboard tracks marketing content as it moves through the
to-review, to-post and posted pipeline stages, keeps connected dashboard
clients in sync with the filesystem, and proxies cancellable streaming
requests to the agent runtime.`,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
