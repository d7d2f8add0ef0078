package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the pipeboard version",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Printf("pipeboard %s\n", version)
	},
}
