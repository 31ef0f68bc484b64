package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the Lattis node version.",
	Long:  ``,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("lattis", Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
