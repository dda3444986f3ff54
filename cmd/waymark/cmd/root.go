package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "waymark",
	Short: "Waymark is a self-hosted points-of-interest backend",
	Long: `Waymark manages a private map of points of interest behind a
single-administrator login. All runtime settings come from environment
variables; see the project README for the full list.`,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
