package cli

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"docparse-tracker/internal/config"
	"docparse-tracker/internal/docparse"
	"docparse-tracker/internal/signature"
	"docparse-tracker/internal/status"
)

var pollBaseURL string

func init() {
	pollCmd.Flags().StringVar(&pollBaseURL, "base-url", "", "parse service base URL (default DOC_PARSE_BASE_URL)")
	rootCmd.AddCommand(pollCmd)
}

var pollCmd = &cobra.Command{
	Use:   "poll TASK_ID",
	Short: "Query the parse service for a task's status without touching the tracker",
	Args:  cobra.ExactArgs(1),
	RunE:  runPoll,
}

func runPoll(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	base := pollBaseURL
	if base == "" {
		base = cfg.DocParseBaseURL
	}
	reg, appID, err := loadRegistry("", "")
	if err != nil {
		return err
	}

	params := map[string]any{
		"appId":     appID,
		"taskId":    args[0],
		"beginTime": time.Now().UnixMilli(),
		"validTime": cfg.StatusValidTime.Milliseconds(),
	}
	sig, err := reg.SignWith(appID, params)
	if err != nil {
		return err
	}
	params[signature.FieldSignature] = sig

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.StatusTimeout)
	defer cancel()
	res, err := docparse.New(base, &http.Client{Timeout: cfg.StatusTimeout}).Status(ctx, params)
	if err != nil {
		return err
	}
	if res.Code != 0 {
		return fmt.Errorf("parse service returned code %d: %s", res.Code, res.Message)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "task:   %s\n", args[0])
	fmt.Fprintf(out, "raw:    %s\n", status.Label(res.RawStatus))
	fmt.Fprintf(out, "state:  %s\n", status.Normalize(res.RawStatus))
	if res.Error != "" {
		fmt.Fprintf(out, "error:  %s\n", res.Error)
	}
	if loc, ok := res.Result["targetPath"].(string); ok {
		fmt.Fprintf(out, "result: %s\n", loc)
	}
	return nil
}
