package cli

import (
	"context"
	"fmt"
	"io"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/storydesk/internal/store"
)

// NewBoardCommand creates the board command.
func NewBoardCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "board",
		Short: "Show status counts and source health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app) error {
				if err := a.board.Refresh(ctx, nil); err != nil {
					return a.out.DomainError(err, nil)
				}
				snap := a.board.Snapshot()
				return a.out.Result(snap, func(w io.Writer) {
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "ENTITY\tSTATUS\tCOUNT")
					writeCounts(tw, "articles", snap.Counts.Articles)
					writeCounts(tw, "jobs", snap.Counts.Jobs)
					writeCounts(tw, "stories", snap.Counts.Stories)
					writeCounts(tw, "exports", snap.Counts.Exports)
					tw.Flush()
					fmt.Fprintln(w)
					writeHealth(w, snap.Health)
				})
			})
		},
	}
}

func writeCounts(w io.Writer, entity string, counts store.StatusCounts) {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "%s\t%s\t%d\n", entity, k, counts[k])
	}
}
