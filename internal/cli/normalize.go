package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"docparse-tracker/internal/status"
)

func init() {
	rootCmd.AddCommand(normalizeCmd)
}

var normalizeCmd = &cobra.Command{
	Use:   "normalize RAW...",
	Short: "Show the lifecycle state a vendor status maps to",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runNormalize,
}

func runNormalize(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	for _, arg := range args {
		var raw any = arg
		if n, err := strconv.ParseInt(arg, 10, 64); err == nil {
			raw = n
		}
		line := fmt.Sprintf("%-12s %s", arg, status.Normalize(raw))
		if status.IsDuplicate(raw) {
			line += " (duplicate submission)"
		}
		fmt.Fprintln(out, line)
	}
	return nil
}
