package cmd

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cookiekeeper/internal/config"
	"github.com/xkilldash9x/cookiekeeper/internal/observability"
)

// newDaemonCmd creates the long-running `daemon` command.
func newDaemonCmd() *cobra.Command {
	var (
		schedule string
		runNow   bool
	)

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Runs refreshes on a schedule until interrupted",
		Long: `Evaluates the refresh policy on a cron schedule (refresh.schedule, default @daily).
Runs that are not due are skipped, and a run never overlaps the previous one.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("schedule") {
				cfg.Refresh.Schedule = schedule
			}
			return runDaemon(cmd.Context(), cmd.OutOrStdout(), cfg, runNow, factory, observability.GetLogger())
		},
	}

	cmd.Flags().StringVar(&schedule, "schedule", "", "cron expression or descriptor overriding refresh.schedule")
	cmd.Flags().BoolVar(&runNow, "run-now", true, "evaluate the policy once at startup")
	return cmd
}

// runDaemon schedules refresh runs and blocks until ctx is done.
func runDaemon(ctx context.Context, out io.Writer, cfg *config.Config, runNow bool, f ComponentFactory, logger *zap.Logger) error {
	sched, err := cron.ParseStandard(cfg.Refresh.Schedule)
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", cfg.Refresh.Schedule, err)
	}

	components, err := f.Create(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize components: %w", err)
	}

	logger = logger.Named("daemon")
	cronLog := cronLogger{logger: logger}
	chain := cron.NewChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog))
	job := chain.Then(cron.FuncJob(func() {
		result := components.Refresher.Run(ctx, time.Now())
		printResult(out, result)
	}))

	c := cron.New(cron.WithLogger(cronLog))
	c.Schedule(sched, job)
	c.Start()
	logger.Info("Scheduler started.",
		zap.String("schedule", cfg.Refresh.Schedule),
		zap.Time("next", sched.Next(time.Now())),
	)

	var startup sync.WaitGroup
	if runNow {
		startup.Add(1)
		go func() {
			defer startup.Done()
			job.Run()
		}()
	}

	<-ctx.Done()
	logger.Info("Shutting down scheduler.")
	<-c.Stop().Done()
	startup.Wait()
	logger.Info("Scheduler stopped.")
	return nil
}

// cronLogger routes the scheduler's own messages through zap.
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
