package queue

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/storydesk/internal/domain"
)

// StoryGenerator turns an accepted article into story slides. Real
// implementations call out to a model; the core only checks the result.
type StoryGenerator interface {
	Generate(ctx context.Context, a domain.Article) (Draft, error)
}

// DefaultMaxSlides bounds ParagraphGenerator output.
const DefaultMaxSlides = 5

// ParagraphGenerator makes one slide per body paragraph. Paragraphs past
// MaxSlides are folded into the last slide so no text is dropped.
type ParagraphGenerator struct {
	MaxSlides int
}

// Generate implements StoryGenerator.
func (g ParagraphGenerator) Generate(ctx context.Context, a domain.Article) (Draft, error) {
	if err := ctx.Err(); err != nil {
		return Draft{}, err
	}
	limit := g.MaxSlides
	if limit <= 0 {
		limit = DefaultMaxSlides
	}

	var paras []string
	for _, p := range strings.Split(a.Body, "\n\n") {
		if p = strings.Join(strings.Fields(p), " "); p != "" {
			paras = append(paras, p)
		}
	}
	if len(paras) == 0 {
		return Draft{}, fmt.Errorf("article %s has no body text to split into slides", a.ID)
	}
	if len(paras) > limit {
		tail := strings.Join(paras[limit-1:], " ")
		paras = append(paras[:limit-1], tail)
	}

	draft := Draft{Title: a.Title}
	for i, p := range paras {
		draft.Slides = append(draft.Slides, domain.SlideDraft{
			SlideNumber:  i + 1,
			Content:      p,
			VisualPrompt: fmt.Sprintf("Editorial illustration for %q, part %d of %d", a.Title, i+1, len(paras)),
		})
	}
	return draft, nil
}

// GeneratorFunc adapts a function to StoryGenerator.
type GeneratorFunc func(ctx context.Context, a domain.Article) (Draft, error)

// Generate implements StoryGenerator.
func (f GeneratorFunc) Generate(ctx context.Context, a domain.Article) (Draft, error) {
	return f(ctx, a)
}
