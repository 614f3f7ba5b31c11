package cmd

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/hpcloud/tail"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/cookiekeeper/internal/observability"
)

// newLogsCmd creates the `logs` command that reads the JSON run log back.
func newLogsCmd() *cobra.Command {
	var (
		follow   bool
		lines    int
		runsOnly bool
		raw      bool
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Prints the run log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			path := observability.LogFile()
			if path == "" {
				path = cfg.Logger.LogFile
			}
			if path == "" {
				return fmt.Errorf("logger.log_file is not configured")
			}
			opts := logsOptions{follow: follow, lines: lines, runsOnly: runsOnly, raw: raw}
			return runLogs(cmd.Context(), cmd.OutOrStdout(), path, opts)
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing new records as they are written")
	cmd.Flags().IntVarP(&lines, "lines", "n", 20, "number of trailing records to print first; 0 prints all")
	cmd.Flags().BoolVar(&runsOnly, "runs", false, "only print refresh run results")
	cmd.Flags().BoolVar(&raw, "raw", false, "print the JSON records unformatted")
	return cmd
}

type logsOptions struct {
	follow   bool
	lines    int
	runsOnly bool
	raw      bool
}

// runLogs prints the tail of the log at path and, with follow, every record
// appended after it until ctx is done.
func runLogs(ctx context.Context, out io.Writer, path string, opts logsOptions) error {
	backlog, err := tail.TailFile(path, tail.Config{
		MustExist: true,
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	var (
		recent   []string
		consumed int64
	)
	for line := range backlog.Lines {
		if line.Err != nil {
			continue
		}
		consumed += int64(len(line.Text)) + 1
		text, ok := formatRecord(line.Text, opts)
		if !ok {
			continue
		}
		recent = append(recent, text)
		if opts.lines > 0 && len(recent) > opts.lines {
			recent = recent[1:]
		}
	}
	backlog.Cleanup()
	for _, text := range recent {
		fmt.Fprintln(out, text)
	}

	if !opts.follow {
		return nil
	}

	t, err := tail.TailFile(path, tail.Config{
		Follow:    true,
		ReOpen:    true,
		MustExist: true,
		Location:  &tail.SeekInfo{Offset: consumed, Whence: io.SeekStart},
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return fmt.Errorf("failed to follow log file: %w", err)
	}
	defer func() {
		t.Stop()
		t.Cleanup()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-t.Lines:
			if !ok {
				return nil
			}
			if line.Err != nil {
				continue
			}
			if text, ok := formatRecord(line.Text, opts); ok {
				fmt.Fprintln(out, text)
			}
		}
	}
}

// Keys every zap JSON record carries.
var baseKeys = map[string]bool{"ts": true, "level": true, "logger": true, "msg": true, "caller": true, "stacktrace": true}

// formatRecord renders one JSON log line as
// "ts LEVEL logger: msg key=value ...". Lines that are not JSON pass through
// unless only run results are wanted.
func formatRecord(line string, opts logsOptions) (string, bool) {
	line = strings.TrimRight(line, "\r")
	if strings.TrimSpace(line) == "" {
		return "", false
	}

	var record map[string]interface{}
	if err := json.UnmarshalFromString(line, &record); err != nil {
		return line, !opts.runsOnly
	}
	if _, isRun := record["outcome"]; opts.runsOnly && !isRun {
		return "", false
	}
	if opts.raw {
		return line, true
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%v %-5s %v: %v", record["ts"], strings.ToUpper(fmt.Sprint(record["level"])), record["logger"], record["msg"])

	keys := make([]string, 0, len(record))
	for k := range record {
		if !baseKeys[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, record[k])
	}
	return b.String(), true
}
