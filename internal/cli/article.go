package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/storydesk/internal/desk"
	"github.com/roach88/storydesk/internal/domain"
	"github.com/roach88/storydesk/internal/intake"
	"github.com/roach88/storydesk/internal/store"
)

// NewIngestCommand creates the ingest command.
func NewIngestCommand(rootOpts *RootOptions) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest scraped article candidates",
		Long: `Ingest scraped article candidates and classify each one.

Candidates are read as a YAML (or JSON) list from --file, or stdin with "-".
Each one is validated, stored as a new article, and accepted into the
queue, discarded with a reason, or held for review.

Example:
  storydesk ingest -f candidates.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			candidates, err := readCandidates(cmd, file)
			if err != nil {
				return err
			}
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app) error {
				results := make([]desk.IngestResult, 0, len(candidates))
				for i, c := range candidates {
					res, err := a.desk.Ingest(ctx, c)
					if err != nil {
						return a.out.DomainError(err, map[string]any{"candidate": i + 1, "ingested": results})
					}
					results = append(results, res)
				}
				return a.out.Result(results, func(w io.Writer) {
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "ARTICLE\tDECISION\tREASON\tTITLE")
					for _, r := range results {
						fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Article.ID, r.Decision.Decision, r.Decision.Reason, r.Article.Title)
					}
					tw.Flush()
				})
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "YAML or JSON list of candidates (- for stdin)")
	return cmd
}

func readCandidates(cmd *cobra.Command, path string) ([]intake.Candidate, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" || path == "" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to read candidates", err)
	}
	var candidates []intake.Candidate
	if err := yaml.Unmarshal(data, &candidates); err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid candidates file", err)
	}
	return candidates, nil
}

// NewArticleCommand creates the article command group.
func NewArticleCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "article",
		Short: "Inspect, restore or discard articles",
	}

	var status, sourceID string
	var limit uint64
	list := &cobra.Command{
		Use:   "list",
		Short: "List articles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := statusOrEmpty(status, domain.ParseProcessingStatus)
			if err != nil {
				return err
			}
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app) error {
				articles, err := a.desk.ListArticles(ctx, store.ArticleQuery{Status: st, SourceID: sourceID, Limit: limit})
				if err != nil {
					return a.out.DomainError(err, nil)
				}
				return a.out.Result(articles, func(w io.Writer) {
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "ID\tSTATUS\tQUALITY\tRELEVANCE\tREASON\tTITLE")
					for _, ar := range articles {
						fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\n", ar.ID, ar.Status, ar.ContentQualityScore, ar.RegionalRelevanceScore, ar.RejectionReason, ar.Title)
					}
					tw.Flush()
				})
			})
		},
	}
	list.Flags().StringVar(&status, "status", "", "filter by processing status")
	list.Flags().StringVar(&sourceID, "source", "", "filter by source ID")
	list.Flags().Uint64Var(&limit, "limit", 0, "maximum rows (0 for all)")

	restore := &cobra.Command{
		Use:   "restore <article-id>",
		Short: "Return a discarded article to new and classify it again",
		Long: `Return a discarded article to new and classify it again.

An article whose generation jobs have all failed can be restored too; the
failed jobs are deleted and a fresh one is queued if intake accepts it.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app) error {
				res, err := a.desk.RestoreArticle(ctx, args[0])
				if err != nil {
					return a.out.DomainError(err, nil)
				}
				return a.out.Result(res, func(w io.Writer) {
					fmt.Fprintf(w, "Article %s restored and classified: %s", res.Article.ID, res.Decision.Decision)
					if res.Decision.Reason != domain.ReasonNone {
						fmt.Fprintf(w, " (%s)", res.Decision.Reason)
					}
					fmt.Fprintln(w)
				})
			})
		},
	}

	discard := &cobra.Command{
		Use:   "discard <article-id>",
		Short: "Discard a new article, or one whose jobs all failed, by hand",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app) error {
				ar, err := a.desk.DiscardArticle(ctx, args[0])
				if err != nil {
					return a.out.DomainError(err, nil)
				}
				return a.out.Result(ar, func(w io.Writer) {
					fmt.Fprintf(w, "Article %s %s\n", ar.ID, ar.Status)
				})
			})
		},
	}

	cmd.AddCommand(list, restore, discard)
	return cmd
}

// bulkFlags binds the bulk discard filter to flags.
type bulkFlags struct {
	keywords  []string
	domains   []string
	sources   []string
	quality   int
	relevance int
}

func (b *bulkFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&b.keywords, "keyword", nil, "match articles containing any keyword")
	cmd.Flags().StringSliceVar(&b.domains, "domain", nil, "match articles from any domain")
	cmd.Flags().StringSliceVar(&b.sources, "source", nil, "match articles from any source ID")
	cmd.Flags().IntVar(&b.quality, "max-quality", 0, "match articles with content quality at or below this")
	cmd.Flags().IntVar(&b.relevance, "max-relevance", 0, "match articles with regional relevance at or below this")
}

func (b *bulkFlags) filter(cmd *cobra.Command) intake.BulkFilter {
	f := intake.BulkFilter{Keywords: b.keywords, Domains: b.domains, SourceIDs: b.sources}
	if cmd.Flags().Changed("max-quality") {
		q := b.quality
		f.MaxQuality = &q
	}
	if cmd.Flags().Changed("max-relevance") {
		r := b.relevance
		f.MaxRelevance = &r
	}
	return f
}

// NewBulkDiscardCommand creates the bulk-discard command group.
func NewBulkDiscardCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bulk-discard",
		Short: "Discard every new article matching a filter",
		Long: `Discard every new article matching a filter.

preview and apply use the same predicate, so the count preview shows is the
count apply discards when nothing changed in between. A filter with no
criteria matches nothing.`,
	}

	var pf, af bulkFlags
	preview := &cobra.Command{
		Use:   "preview",
		Short: "Count the articles apply would discard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app) error {
				n, err := a.desk.PreviewBulkDiscard(ctx, pf.filter(cmd))
				if err != nil {
					return a.out.DomainError(err, nil)
				}
				return a.out.Result(map[string]int{"count": n}, func(w io.Writer) {
					fmt.Fprintf(w, "%d article(s) would be discarded\n", n)
				})
			})
		},
	}
	pf.register(preview)

	apply := &cobra.Command{
		Use:   "apply",
		Short: "Discard the matching articles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app) error {
				res, err := a.desk.ApplyBulkDiscard(ctx, af.filter(cmd))
				if err != nil {
					return a.out.DomainError(err, nil)
				}
				return a.out.Result(res, func(w io.Writer) {
					fmt.Fprintf(w, "%d article(s) discarded\n", res.Count)
				})
			})
		},
	}
	af.register(apply)

	cmd.AddCommand(preview, apply)
	return cmd
}
