package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cookiekeeper/internal/config"
	"github.com/xkilldash9x/cookiekeeper/internal/observability"
	"github.com/xkilldash9x/cookiekeeper/internal/refresh"
)

// newRefreshCmd creates the one-shot `refresh` command, meant for cron or a
// systemd timer.
func newRefreshCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Refreshes the published cookies if they are due",
		Long: `Logs in with a headless browser, extracts the session cookies, publishes them
to the bot's env file and restarts the bot. Nothing happens while the current
cookies are younger than refresh.max_age unless --force is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			return runRefresh(cmd.Context(), cmd.OutOrStdout(), cfg, force, factory, observability.GetLogger())
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "refresh even when the stored cookies are not due")
	return cmd
}

// runRefresh performs a single run and reports it on out. A failed run is
// returned as an error so the process exits non-zero.
func runRefresh(ctx context.Context, out io.Writer, cfg *config.Config, force bool, f ComponentFactory, logger *zap.Logger) error {
	components, err := f.Create(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize components: %w", err)
	}

	var opts []refresh.RunOption
	if force {
		opts = append(opts, refresh.WithForce())
	}
	result := components.Refresher.Run(ctx, time.Now(), opts...)
	printResult(out, result)

	if result.Outcome == refresh.OutcomeFailed {
		return fmt.Errorf("refresh failed at %s (%s): %w", result.Stage, result.Kind, result.Err)
	}
	return nil
}

// printResult writes a short human summary of a run.
func printResult(out io.Writer, r refresh.RunResult) {
	switch r.Outcome {
	case refresh.OutcomeSkipped:
		fmt.Fprintf(out, "Skipped: %s\n", r.SkipReason)
	case refresh.OutcomeFailed:
		suffix := ""
		if r.TimedOut {
			suffix = " (timed out)"
		}
		fmt.Fprintf(out, "Failed at %s: %s%s\n", r.Stage, r.Kind, suffix)
	case refresh.OutcomeRefreshed:
		if r.Artifact != nil {
			fmt.Fprintf(out, "Refreshed: version %d, %d cookies\n", r.Artifact.Version, r.Artifact.CookieCount)
		} else {
			fmt.Fprintln(out, "Refreshed")
		}
		if len(r.MissingRequired) > 0 {
			fmt.Fprintf(out, "Warning: missing required cookies %v\n", r.MissingRequired)
		}
		if r.RestartFailed {
			fmt.Fprintf(out, "Warning: bot restart failed: %v\n", r.RestartErr)
		}
	}
	for _, f := range r.WarmUpFailures {
		fmt.Fprintf(out, "Warm-up page failed: %s\n", f.URL)
	}
}
