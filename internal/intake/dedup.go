package intake

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/storydesk/internal/domain"
)

// RecentLister returns non-discarded articles created at or after since.
type RecentLister interface {
	RecentArticles(ctx context.Context, since time.Time) ([]domain.Article, error)
}

// DedupConfig tunes near-duplicate matching.
type DedupConfig struct {
	WindowDays     int     `yaml:"dedup_window_days" json:"dedup_window_days"`
	KeywordOverlap float64 `yaml:"keyword_overlap" json:"keyword_overlap"`
}

// DefaultDedupConfig returns a one-week window with 60% keyword overlap.
func DefaultDedupConfig() DedupConfig {
	return DedupConfig{WindowDays: 7, KeywordOverlap: 0.6}
}

// Matcher finds near-duplicates by normalized title, or by same domain with
// overlapping title keywords.
type Matcher struct {
	lister RecentLister
	cfg    DedupConfig
	now    func() time.Time
}

// NewMatcher creates a Matcher reading candidates from lister.
func NewMatcher(lister RecentLister, cfg DedupConfig, now func() time.Time) *Matcher {
	if now == nil {
		now = time.Now
	}
	return &Matcher{lister: lister, cfg: cfg, now: now}
}

// FindDuplicate implements DuplicateFinder.
func (m *Matcher) FindDuplicate(ctx context.Context, a domain.Article) (string, bool, error) {
	since := m.now().Add(-time.Duration(m.cfg.WindowDays) * 24 * time.Hour)
	recent, err := m.lister.RecentArticles(ctx, since)
	if err != nil {
		return "", false, fmt.Errorf("list recent articles: %w", err)
	}

	title := NormalizeTitle(a.Title)
	domainName := ArticleDomain(a)
	keys := Keywords(a.Title)

	for _, other := range recent {
		if other.ID == a.ID || other.Status == domain.ArticleDiscarded {
			continue
		}
		if title != "" && NormalizeTitle(other.Title) == title {
			return other.ID, true, nil
		}
		if domainName != "" && ArticleDomain(other) == domainName &&
			jaccard(keys, Keywords(other.Title)) >= m.cfg.KeywordOverlap {
			return other.ID, true, nil
		}
	}
	return "", false, nil
}

var fold = cases.Fold()

// NormalizeTitle folds case, applies NFKC and collapses everything that is
// not a letter or digit into single spaces.
func NormalizeTitle(s string) string {
	s = fold.String(norm.NFKC.String(s))
	var b strings.Builder
	space := false
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			b.WriteRune(r)
			space = false
			continue
		}
		space = true
	}
	return b.String()
}

var stopwords = map[string]bool{
	"about": true, "after": true, "also": true, "been": true, "before": true,
	"from": true, "have": true, "into": true, "more": true, "over": true,
	"says": true, "said": true, "than": true, "that": true, "their": true,
	"them": true, "they": true, "this": true, "what": true, "when": true,
	"will": true, "with": true, "were": true, "your": true,
}

// Keywords returns the significant words of a title: normalized, at least
// four runes long, and not a stopword.
func Keywords(title string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.Fields(NormalizeTitle(title)) {
		if len([]rune(w)) < 4 || stopwords[w] {
			continue
		}
		out[w] = true
	}
	return out
}

// ArticleDomain returns the lowercased host of the article URL without a
// leading "www.", or the source ID when the URL has no host.
func ArticleDomain(a domain.Article) string {
	if u, err := url.Parse(a.URL); err == nil && u.Host != "" {
		return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	}
	return a.SourceID
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for k := range a {
		if b[k] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
