package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cookiekeeper/internal/config"
	"github.com/xkilldash9x/cookiekeeper/internal/cookies"
	"github.com/xkilldash9x/cookiekeeper/internal/observability"
	"github.com/xkilldash9x/cookiekeeper/internal/policy"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// StatusReport is what `status` prints.
type StatusReport struct {
	Present         bool          `json:"present"`
	Malformed       string        `json:"malformed,omitempty"`
	Version         uint64        `json:"version,omitempty"`
	FetchedAt       *time.Time    `json:"fetched_at,omitempty"`
	Age             time.Duration `json:"age_ns,omitempty"`
	Due             bool          `json:"due"`
	NextDue         *time.Time    `json:"next_due,omitempty"`
	CookieCount     int           `json:"cookie_count,omitempty"`
	SourceAccount   string        `json:"source_account,omitempty"`
	MissingRequired []string      `json:"missing_required,omitempty"`
	Published       bool          `json:"published"`
	PublishedMatch  bool          `json:"published_matches_record"`
	Service         string        `json:"service"`
	ServiceErr      string        `json:"service_error,omitempty"`
}

// newStatusCmd creates the `status` command.
func newStatusCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Shows the stored cookies, their age and the bot service state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			report, err := collectStatus(cmd.Context(), cfg, time.Now(), factory, observability.GetLogger())
			if err != nil {
				return err
			}
			return writeStatus(cmd.OutOrStdout(), report, asJSON)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

// collectStatus gathers the report without modifying anything.
func collectStatus(ctx context.Context, cfg *config.Config, now time.Time, f ComponentFactory, logger *zap.Logger) (StatusReport, error) {
	components, err := f.Create(cfg, logger)
	if err != nil {
		return StatusReport{}, fmt.Errorf("failed to initialize components: %w", err)
	}
	pol := components.Refresher.Policy()

	var report StatusReport
	artifact, err := components.Store.Read()
	switch {
	case errors.Is(err, cookies.ErrMalformedArtifact):
		report.Malformed = err.Error()
		report.Due = true
	case err != nil:
		return StatusReport{}, err
	case artifact == nil:
		report.Due = true
	default:
		fetched := artifact.FetchedAt
		next := pol.NextDue(fetched)
		report.Present = true
		report.Version = artifact.Version
		report.FetchedAt = &fetched
		report.Age = policy.Age(now, fetched)
		report.Due = pol.Due(now, fetched)
		report.NextDue = &next
		report.CookieCount = artifact.CookieCount
		report.SourceAccount = artifact.SourceAccount
		report.MissingRequired = cookies.MissingRequired(artifact.Cookies, cfg.Refresh.RequiredCookies)
	}

	published, ok, err := components.Store.Env().PublishedValue()
	if err != nil {
		logger.Warn("Could not read the published value.", zap.Error(err))
	}
	report.Published = ok
	report.PublishedMatch = ok && artifact != nil && published == artifact.Encoded

	state, err := components.Controller.Status(ctx)
	report.Service = string(state)
	if err != nil {
		report.ServiceErr = err.Error()
	}
	return report, nil
}

// writeStatus renders the report as text or JSON.
func writeStatus(out io.Writer, r StatusReport, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}

	switch {
	case r.Malformed != "":
		fmt.Fprintf(out, "Record:     malformed (%s)\n", r.Malformed)
	case !r.Present:
		fmt.Fprintln(out, "Record:     none")
	default:
		fmt.Fprintf(out, "Record:     version %d, %d cookies from %s\n", r.Version, r.CookieCount, r.SourceAccount)
		fmt.Fprintf(out, "Fetched:    %s (%s ago)\n", r.FetchedAt.Format(time.RFC3339), r.Age.Truncate(time.Second))
		fmt.Fprintf(out, "Next due:   %s\n", r.NextDue.Format(time.RFC3339))
		if len(r.MissingRequired) > 0 {
			fmt.Fprintf(out, "Missing:    %v\n", r.MissingRequired)
		}
	}
	fmt.Fprintf(out, "Due:        %t\n", r.Due)

	published := "no"
	if r.Published {
		published = "yes, differs from record"
		if r.PublishedMatch {
			published = "yes, matches record"
		}
	}
	fmt.Fprintf(out, "Published:  %s\n", published)

	if r.ServiceErr != "" {
		fmt.Fprintf(out, "Service:    %s (%s)\n", r.Service, r.ServiceErr)
	} else {
		fmt.Fprintf(out, "Service:    %s\n", r.Service)
	}
	return nil
}
