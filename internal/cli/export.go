package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/storydesk/internal/domain"
)

// NewExportCommand creates the export command group.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Track asset exports for stories",
		Long: `Track asset exports for stories.

A story has at most one export. start moves it to generating; the renderer
reports back with complete or fail; a failed export can be retried, which
returns it to generating under the same ID.`,
	}

	start := &cobra.Command{
		Use:   "start <story-id>",
		Short: "Start exporting a story's assets",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app) error {
				exp, err := a.desk.Exports().Start(ctx, args[0])
				return a.exportResult(exp, err)
			})
		},
	}

	var files []string
	complete := &cobra.Command{
		Use:   "complete <export-id>",
		Short: "Mark an export completed with its output files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app) error {
				exp, err := a.desk.Exports().MarkComplete(ctx, args[0], files)
				return a.exportResult(exp, err)
			})
		},
	}
	complete.Flags().StringSliceVar(&files, "file", nil, "exported file path (repeatable)")

	var message string
	fail := &cobra.Command{
		Use:   "fail <export-id>",
		Short: "Mark an export failed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app) error {
				exp, err := a.desk.Exports().MarkFailed(ctx, args[0], message)
				return a.exportResult(exp, err)
			})
		},
	}
	fail.Flags().StringVarP(&message, "message", "m", "", "failure message")

	retry := &cobra.Command{
		Use:   "retry <export-id>",
		Short: "Retry a failed export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app) error {
				exp, err := a.desk.Exports().Retry(ctx, args[0])
				return a.exportResult(exp, err)
			})
		},
	}

	show := &cobra.Command{
		Use:   "show <story-id>",
		Short: "Show a story's export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app) error {
				exp, err := a.desk.Exports().ForStory(ctx, args[0])
				return a.exportResult(exp, err)
			})
		},
	}

	cmd.AddCommand(start, complete, fail, retry, show)
	return cmd
}

func (a *app) exportResult(exp domain.AssetExport, err error) error {
	if err != nil {
		return a.out.DomainError(err, nil)
	}
	return a.out.Result(exp, func(w io.Writer) {
		if exp.ID == "" {
			fmt.Fprintf(w, "Story %s: no export\n", exp.StoryID)
			return
		}
		fmt.Fprintf(w, "Export %s (story %s): %s, attempt %d\n", exp.ID, exp.StoryID, exp.Status, exp.Attempts)
		for _, p := range exp.FilePaths {
			fmt.Fprintf(w, "  %s\n", p)
		}
		if exp.ErrorMessage != "" {
			fmt.Fprintf(w, "  error: %s\n", exp.ErrorMessage)
		}
	})
}
