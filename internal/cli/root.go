// Package cli wires cobra commands for the cwm binary: run, status, and
// version, built the way the teacher's internal/cli package is built.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "cwm",
	Short: "Watch a CI pipeline, classify failures, and auto-fix them",
	Long: `cwm polls a CI provider for recent runs on a branch, classifies the
logs of every failed run into a closed set of fixable issue kinds,
applies the matching auto-fixer, and commits and pushes the result.
It stops after a configurable streak of all-green ticks, when its
retry budget is exhausted, or on an unrecoverable provider/VCS error.`,
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("cwm %s\n", Version)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
