package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/storydesk/internal/domain"
	"github.com/roach88/storydesk/internal/story"
)

// NewStoryCommand creates the story command group.
func NewStoryCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "story",
		Short: "Review, publish and edit stories",
		Long: `Review, publish and edit stories.

  draft --approve--> ready --publish--> published
  draft --reject-->  deleted; ready/published --reject--> rejected
  ready/published/rejected --review--> draft
  any --delete--> deleted (slides, export and jobs removed, article reset to new)

Repeating an action on a story already in its target state is a no-op.`,
	}

	type action struct {
		use, short string
		run        func(c *story.Controller, ctx context.Context, id string) (story.Outcome, error)
	}
	actions := []action{
		{"approve", "Approve a draft", (*story.Controller).Approve},
		{"reject", "Reject a story", (*story.Controller).Reject},
		{"publish", "Publish a ready story", (*story.Controller).Publish},
		{"review", "Return a story to draft for review", (*story.Controller).ReturnToReview},
		{"delete", "Delete a story and its dependents", (*story.Controller).Delete},
	}
	for _, act := range actions {
		act := act
		cmd.AddCommand(&cobra.Command{
			Use:   act.use + " <story-id>",
			Short: act.short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(rootOpts, cmd, func(ctx context.Context, a *app) error {
					out, err := act.run(a.desk.Stories(), ctx, args[0])
					if err != nil {
						var details any
						if out.Cascade != nil {
							details = out.Cascade
						}
						return a.out.DomainError(err, details)
					}
					return a.out.Result(out, func(w io.Writer) {
						writeOutcome(w, out)
					})
				})
			},
		})
	}

	cmd.AddCommand(newEditSlideCommand(rootOpts), newShowStoryCommand(rootOpts), newListStoriesCommand(rootOpts))
	return cmd
}

func writeOutcome(w io.Writer, out story.Outcome) {
	switch {
	case out.NoOp:
		fmt.Fprintf(w, "Story %s: %s had no effect (status %s)\n", out.StoryID, out.Action, out.To)
	case out.Deleted:
		fmt.Fprintf(w, "Story %s deleted", out.StoryID)
		if c := out.Cascade; c != nil {
			fmt.Fprintf(w, ": %d slide(s), %d export(s) removed; article %s reset to new", c.SlidesRemoved, c.ExportsRemoved, c.ArticleID)
		}
		fmt.Fprintln(w)
	default:
		fmt.Fprintf(w, "Story %s: %s -> %s\n", out.StoryID, out.From, out.To)
	}
}

func newEditSlideCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "edit-slide <story-id> <slide-number> <content...>",
		Short: "Replace a slide's content",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[1])
			if err != nil || n < 1 {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid slide number %q", args[1]))
			}
			content := strings.Join(args[2:], " ")
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app) error {
				sl, err := a.desk.Stories().EditSlide(ctx, args[0], n, content)
				if err != nil {
					return a.out.DomainError(err, nil)
				}
				return a.out.Result(sl, func(w io.Writer) {
					fmt.Fprintf(w, "Slide %d of %s: %d word(s)\n", sl.SlideNumber, sl.StoryID, sl.WordCount)
				})
			})
		},
	}
}

func newShowStoryCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <story-id>",
		Short: "Show a story with its slides and export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app) error {
				s, err := a.desk.Stories().Get(ctx, args[0])
				if err != nil {
					return a.out.DomainError(err, nil)
				}
				exp, err := a.desk.Exports().ForStory(ctx, s.ID)
				if err != nil {
					return a.out.DomainError(err, nil)
				}
				data := struct {
					domain.Story
					Export domain.AssetExport `json:"export"`
				}{s, exp}
				return a.out.Result(data, func(w io.Writer) {
					fmt.Fprintf(w, "%s  [%s]  %s\n", s.ID, s.Status, s.Title)
					for _, sl := range s.Slides {
						fmt.Fprintf(w, "  %d. (%d words) %s\n", sl.SlideNumber, sl.WordCount, sl.Content)
					}
					fmt.Fprintf(w, "Export: %s", exp.Status)
					if exp.ErrorMessage != "" {
						fmt.Fprintf(w, " (%s)", exp.ErrorMessage)
					}
					fmt.Fprintln(w)
				})
			})
		},
	}
}

func newListStoriesCommand(rootOpts *RootOptions) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := statusOrEmpty(status, domain.ParseStoryStatus)
			if err != nil {
				return err
			}
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app) error {
				stories, err := a.desk.Stories().List(ctx, st)
				if err != nil {
					return a.out.DomainError(err, nil)
				}
				return a.out.Result(stories, func(w io.Writer) {
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "STORY\tARTICLE\tSTATUS\tTITLE")
					for _, s := range stories {
						fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.ID, s.ArticleID, s.Status, s.Title)
					}
					tw.Flush()
				})
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by story status")
	return cmd
}
