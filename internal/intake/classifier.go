// Package intake decides whether a scraped article is promoted to the story
// queue, discarded, or held for review.
//
// Rules, in order:
//   - content quality below the quality threshold: discard, insufficient_content_quality
//   - regional relevance below the relevance threshold: discard, insufficient_regional_relevance
//   - a near-duplicate among recent non-discarded articles: discard, duplicate
//   - otherwise: accept
//
// When the duplicate check itself fails the article is held rather than
// guessed at, and stays new until an operator or a later pass decides.
package intake

import (
	"context"
	"log/slog"

	"github.com/roach88/storydesk/internal/domain"
)

// Decision is the outcome of classifying one article.
type Decision string

const (
	DecisionAccept  Decision = "accept"
	DecisionHold    Decision = "hold"
	DecisionDiscard Decision = "discard"
)

// Thresholds are the operator-configured discard cutoffs.
type Thresholds struct {
	Quality   int `yaml:"quality_threshold" json:"quality_threshold"`
	Relevance int `yaml:"relevance_threshold" json:"relevance_threshold"`
}

// DefaultThresholds returns the reference cutoffs.
func DefaultThresholds() Thresholds {
	return Thresholds{Quality: 50, Relevance: 50}
}

// Result is a classification with its reason.
type Result struct {
	Decision    Decision               `json:"decision"`
	Reason      domain.RejectionReason `json:"reason,omitempty"`
	DuplicateOf string                 `json:"duplicate_of,omitempty"`
}

// DuplicateFinder reports whether a near-duplicate of a exists.
type DuplicateFinder interface {
	FindDuplicate(ctx context.Context, a domain.Article) (duplicateID string, found bool, err error)
}

// Classifier applies the intake rules.
type Classifier struct {
	thresholds Thresholds
	dups       DuplicateFinder
	logger     *slog.Logger
}

// NewClassifier creates a Classifier. dups may be nil to skip duplicate detection.
func NewClassifier(t Thresholds, dups DuplicateFinder, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{thresholds: t, dups: dups, logger: logger}
}

// Thresholds returns the cutoffs in effect.
func (c *Classifier) Thresholds() Thresholds {
	return c.thresholds
}

// Classify decides the fate of a.
func (c *Classifier) Classify(ctx context.Context, a domain.Article) Result {
	if r, ok := c.scoreDecision(a); ok {
		return r
	}

	if c.dups != nil {
		dupID, found, err := c.dups.FindDuplicate(ctx, a)
		if err != nil {
			c.logger.Warn("duplicate check failed, holding article",
				"article_id", a.ID,
				"error", err)
			return Result{Decision: DecisionHold}
		}
		if found {
			return Result{Decision: DecisionDiscard, Reason: domain.ReasonDuplicate, DuplicateOf: dupID}
		}
	}

	return Result{Decision: DecisionAccept}
}

// scoreDecision applies only the score rules. It returns ok=false when both
// scores pass.
func (c *Classifier) scoreDecision(a domain.Article) (Result, bool) {
	if a.ContentQualityScore < c.thresholds.Quality {
		return Result{Decision: DecisionDiscard, Reason: domain.ReasonInsufficientQuality}, true
	}
	if a.RegionalRelevanceScore < c.thresholds.Relevance {
		return Result{Decision: DecisionDiscard, Reason: domain.ReasonInsufficientRelevance}, true
	}
	return Result{}, false
}
