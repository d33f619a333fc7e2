package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/storydesk/internal/domain"
	"github.com/roach88/storydesk/internal/queue"
)

// NewQueueCommand creates the queue command group.
func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Process and inspect story generation jobs",
	}

	process := &cobra.Command{
		Use:   "process",
		Short: "Claim and process every pending job",
		Long: `Claim and process every pending job.

Each claimed job is handed to the story generator. A valid result completes
the job and creates a draft story; anything else fails the job with the
reason recorded. Failed jobs are not retried automatically; use
"queue reset".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app) error {
				summary, err := a.desk.TriggerQueueProcessing(ctx)
				if err != nil {
					return a.out.DomainError(err, summary)
				}
				return a.out.Result(summary, func(w io.Writer) {
					fmt.Fprintf(w, "Claimed %d, completed %d, failed %d\n", summary.Claimed, summary.Completed, summary.Failed)
				})
			})
		},
	}

	reset := &cobra.Command{
		Use:   "reset <job-id>",
		Short: "Return a failed job to pending",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app) error {
				job, err := a.desk.Queue().Reset(ctx, args[0])
				if err != nil {
					return a.out.DomainError(err, nil)
				}
				return a.out.Result(job, func(w io.Writer) {
					fmt.Fprintf(w, "Job %s %s (attempt %d)\n", job.ID, job.Status, job.Attempts)
				})
			})
		},
	}

	var olderThan time.Duration
	release := &cobra.Command{
		Use:   "release",
		Short: "Fail jobs stuck in processing",
		Long: `Fail jobs stuck in processing.

A job stays in processing when the worker that claimed it exits without
recording an outcome. Claims older than --older-than are marked failed so
they can be reset with "queue reset" or abandoned by restoring or
discarding the article.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app) error {
				jobs, err := a.desk.Queue().ReleaseStale(ctx, olderThan)
				if err != nil {
					return a.out.DomainError(err, nil)
				}
				return a.out.Result(jobs, func(w io.Writer) {
					fmt.Fprintf(w, "Released %d job(s)\n", len(jobs))
					for _, j := range jobs {
						fmt.Fprintf(w, "  %s (article %s, claimed by %s)\n", j.ID, j.ArticleID, j.ClaimedBy)
					}
				})
			})
		},
	}
	release.Flags().DurationVar(&olderThan, "older-than", queue.DefaultStaleAfter, "minimum age of a claim to release")

	var status string
	list := &cobra.Command{
		Use:   "list",
		Short: "List jobs in queue order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := statusOrEmpty(status, domain.ParseJobStatus)
			if err != nil {
				return err
			}
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app) error {
				jobs, err := a.desk.Queue().List(ctx, st)
				if err != nil {
					return a.out.DomainError(err, nil)
				}
				return a.out.Result(jobs, func(w io.Writer) {
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "JOB\tARTICLE\tSTATUS\tATTEMPTS\tERROR")
					for _, j := range jobs {
						fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", j.ID, j.ArticleID, j.Status, j.Attempts, j.LastError)
					}
					tw.Flush()
				})
			})
		},
	}
	list.Flags().StringVar(&status, "status", "", "filter by job status")

	cmd.AddCommand(process, reset, release, list)
	return cmd
}
