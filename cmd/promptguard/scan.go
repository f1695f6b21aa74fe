package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentguard/prompt-scanner/internal/models"
	"github.com/agentguard/prompt-scanner/pkg/logging"
	"github.com/agentguard/prompt-scanner/pkg/poller"
)

const timedOutMessage = "scan timed out, try again"

func newScanCmd() *cobra.Command {
	var (
		interval    time.Duration
		maxAttempts int
		apiURL      string
		token       string
	)

	cmd := &cobra.Command{
		Use:   "scan <agentId>",
		Short: "Start a scan for an agent and wait for its result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := logging.NewFromConfig(cfg)

			if !cmd.Flags().Changed("interval") {
				interval = cfg.MustDuration(cfg.Poller.Interval)
			}
			if !cmd.Flags().Changed("max-attempts") {
				maxAttempts = cfg.Poller.MaxAttempts
			}
			if apiURL == "" {
				apiURL = cfg.Poller.APIURL
			}
			if token == "" {
				token = cfg.Poller.Token
			}

			client := poller.NewAPIClient(apiURL, token, 30*time.Second, logger)
			return runScan(cmd.Context(), cmd.OutOrStdout(), client, poller.New(client, logger), args[0], interval, maxAttempts)
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", poller.DefaultInterval, "delay between status checks")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", poller.DefaultMaxAttempts, "status checks before giving up")
	cmd.Flags().StringVar(&apiURL, "api-url", "", "API base URL (default from config)")
	cmd.Flags().StringVar(&token, "token", "", "bearer token (default from config)")

	return cmd
}

// runScan initiates one scan and reports its terminal state. A failed scan
// prints its error message and returns an error; a timeout prints a retry hint.
func runScan(ctx context.Context, out io.Writer, client *poller.APIClient, p *poller.Poller, agentID string, interval time.Duration, maxAttempts int) error {
	accepted, err := client.InitiateScan(ctx, agentID)
	if err != nil {
		return fmt.Errorf("failed to start scan: %w", err)
	}
	fmt.Fprintf(out, "scan %s queued\n", accepted.ScanID)

	scan, err := p.Poll(ctx, accepted.ScanID, interval, maxAttempts)
	var timeoutErr *models.TimeoutError
	switch {
	case errors.As(err, &timeoutErr):
		fmt.Fprintln(out, timedOutMessage)
		return err
	case err != nil:
		return err
	}

	if scan.Status == models.ScanStatusFailed {
		msg := "scan failed"
		if scan.ErrorMessage != nil {
			msg = *scan.ErrorMessage
		}
		fmt.Fprintln(out, msg)
		return fmt.Errorf("scan %s failed", scan.ID)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(scan)
}
