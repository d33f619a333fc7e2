package intake

import (
	"strings"

	"github.com/roach88/storydesk/internal/domain"
)

// BulkFilter selects articles for a bulk discard. All set criteria must
// match. Keywords and domains match if any listed value matches.
type BulkFilter struct {
	Keywords     []string `json:"keywords,omitempty"`
	Domains      []string `json:"domains,omitempty"`
	SourceIDs    []string `json:"source_ids,omitempty"`
	MaxQuality   *int     `json:"max_quality,omitempty"`
	MaxRelevance *int     `json:"max_relevance,omitempty"`
}

// Empty reports whether the filter sets no criteria. An empty filter
// matches nothing rather than everything.
func (f BulkFilter) Empty() bool {
	return len(f.Keywords) == 0 && len(f.Domains) == 0 && len(f.SourceIDs) == 0 &&
		f.MaxQuality == nil && f.MaxRelevance == nil
}

// BulkEligible reports whether an article in s may be bulk discarded.
// Articles already promoted or discarded are left alone.
func BulkEligible(s domain.ProcessingStatus) bool {
	return s == domain.ArticleNew
}

// Matches is the single predicate used by both preview and apply.
func (f BulkFilter) Matches(a domain.Article) bool {
	if f.Empty() || !BulkEligible(a.Status) {
		return false
	}
	if len(f.SourceIDs) > 0 && !containsFold(f.SourceIDs, a.SourceID) {
		return false
	}
	if len(f.Domains) > 0 {
		d := ArticleDomain(a)
		ok := false
		for _, want := range f.Domains {
			want = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(want)), "www.")
			if want != "" && (d == want || strings.HasSuffix(d, "."+want)) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if len(f.Keywords) > 0 {
		text := NormalizeTitle(a.Title + " " + a.Body)
		padded := " " + text + " "
		ok := false
		for _, kw := range f.Keywords {
			kw = NormalizeTitle(kw)
			if kw != "" && strings.Contains(padded, " "+kw+" ") {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.MaxQuality != nil && a.ContentQualityScore > *f.MaxQuality {
		return false
	}
	if f.MaxRelevance != nil && a.RegionalRelevanceScore > *f.MaxRelevance {
		return false
	}
	return true
}

func containsFold(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(strings.TrimSpace(s), v) {
			return true
		}
	}
	return false
}
