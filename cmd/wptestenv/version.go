package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Populated through -ldflags at release build time.
var (
	buildVersion = "dev"
	buildCommit  = ""
	buildDate    = ""
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the wptestenv version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("wptestenv %s\n", buildVersion)
		if buildCommit != "" {
			fmt.Printf("commit: %s\n", buildCommit)
		}
		if buildDate != "" {
			fmt.Printf("built: %s\n", buildDate)
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
