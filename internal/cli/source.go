package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/storydesk/internal/desk"
	"github.com/roach88/storydesk/internal/health"
)

// NewSourceCommand creates the source command group.
func NewSourceCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "source",
		Short: "Register sources and inspect their health",
	}

	var url string
	add := &cobra.Command{
		Use:   "add <name>",
		Short: "Register an active source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app) error {
				src, err := a.desk.RegisterSource(ctx, args[0], url)
				if err != nil {
					return a.out.DomainError(err, nil)
				}
				return a.out.Result(src, func(w io.Writer) {
					fmt.Fprintf(w, "Registered source %s (%s)\n", src.ID, src.Name)
				})
			})
		},
	}
	add.Flags().StringVar(&url, "url", "", "source URL")

	list := &cobra.Command{
		Use:   "list",
		Short: "List sources with their scrape metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app) error {
				sources, err := a.desk.ListSources(ctx)
				if err != nil {
					return a.out.DomainError(err, nil)
				}
				return a.out.Result(sources, func(w io.Writer) {
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "ID\tNAME\tACTIVE\tSUCCESS\tARTICLES\tLAST ERROR")
					for _, s := range sources {
						fmt.Fprintf(tw, "%s\t%s\t%t\t%.1f%%\t%d\t%s\n", s.ID, s.Name, s.IsActive, s.SuccessRate, s.ArticlesScraped, s.LastError)
					}
					tw.Flush()
				})
			})
		},
	}

	cmd.AddCommand(add, list,
		newSetActiveCommand(rootOpts, "activate", true),
		newSetActiveCommand(rootOpts, "deactivate", false),
		newSourceHealthCommand(rootOpts),
		newRecordRunCommand(rootOpts),
	)
	return cmd
}

func newSetActiveCommand(rootOpts *RootOptions, use string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <source-id>",
		Short: fmt.Sprintf("Set a source's active flag to %t", active),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app) error {
				src, err := a.desk.SetSourceActive(ctx, args[0], active)
				if err != nil {
					return a.out.DomainError(err, nil)
				}
				return a.out.Result(src, func(w io.Writer) {
					fmt.Fprintf(w, "Source %s active=%t\n", src.ID, src.IsActive)
				})
			})
		},
	}
}

func newSourceHealthCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Classify every source into a health tier",
		Long: `Classify every source into a health tier.

Sources needing attention (technical issues, reconnecting) are listed after
the table, followed by the active sources due for an early re-scrape.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app) error {
				report, err := a.desk.SourceHealth(ctx)
				if err != nil {
					return a.out.DomainError(err, nil)
				}
				return a.out.Result(report, func(w io.Writer) {
					writeHealth(w, report)
				})
			})
		},
	}
}

func writeHealth(w io.Writer, report health.Report) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tTIER\tWHY")
	for _, as := range report.Assessments {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", as.SourceID, as.Label, as.Rationale)
	}
	tw.Flush()
	if len(report.Attention) > 0 {
		fmt.Fprintf(w, "\n%d source(s) need attention\n", len(report.Attention))
	}
	if len(report.Rescrape) > 0 {
		fmt.Fprintf(w, "Re-scrape: %v\n", report.Rescrape)
	}
}

func newRecordRunCommand(rootOpts *RootOptions) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "record-run <source-id>",
		Short: "Record a scraper run result for a source",
		Long: `Record a run reported by an external scraper.

The run is read as JSON from --file (or stdin with "-"):
  {"articlesFound": 12, "articlesStored": 9, "duplicatesDetected": 2,
   "articlesDiscarded": 1, "errors": []}`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var run desk.RunResult
			if err := readJSON(cmd, file, &run); err != nil {
				return err
			}
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app) error {
				src, err := a.desk.RecordScrapeRun(ctx, args[0], run)
				if err != nil {
					return a.out.DomainError(err, nil)
				}
				return a.out.Result(src, func(w io.Writer) {
					fmt.Fprintf(w, "Source %s: success rate %.1f%%, %d articles\n", src.ID, src.SuccessRate, src.ArticlesScraped)
				})
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "JSON file with the run result (- for stdin)")
	return cmd
}

// NewScrapeCommand creates the scrape command.
func NewScrapeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "scrape <source-id>",
		Short: "Trigger a manual scrape of one source",
		Long: `Trigger a manual scrape of one source.

Candidates are read by the configured scraper (scrape.dir/<source-id>.yaml),
ingested through intake, and the run is recorded on the source.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app) error {
				report, err := a.desk.TriggerManualScrape(ctx, args[0])
				if err != nil {
					var details any
					if report.Source.ID != "" {
						details = report
					}
					return a.out.DomainError(err, details)
				}
				return a.out.Result(report, func(w io.Writer) {
					fmt.Fprintf(w, "Scraped %s: found %d, stored %d, discarded %d (%d duplicates)\n",
						report.Source.ID, report.ArticlesFound, report.ArticlesStored,
						report.ArticlesDiscarded, report.DuplicatesDetected)
				})
			})
		},
	}
}

// readJSON decodes path (or stdin for "-") into v.
func readJSON(cmd *cobra.Command, path string, v any) error {
	var r io.Reader
	if path == "-" || path == "" {
		r = cmd.InOrStdin()
	} else {
		f, err := os.Open(path)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open input", err)
		}
		defer f.Close()
		r = f
	}
	if err := json.NewDecoder(r).Decode(v); err != nil {
		return WrapExitError(ExitCommandError, "invalid JSON input", err)
	}
	return nil
}

func statusOrEmpty[T ~string](s string, parse func(string) (T, error)) (T, error) {
	if s == "" {
		return "", nil
	}
	v, err := parse(s)
	if err != nil {
		return "", WrapExitError(ExitCommandError, "invalid --status", err)
	}
	return v, nil
}
