// Package cli implements docparsectl, the operator command line for signing
// parse-service requests and inspecting status codes.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "docparsectl",
	Short: "Operator tools for the document-parse tracker",
	Long: `docparsectl signs and verifies parse-service parameters with the
credentials the tracker is configured with, and explains vendor status codes.

Configuration is read from the same environment variables as the API.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
