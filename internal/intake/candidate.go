package intake

import (
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/roach88/storydesk/internal/domain"
)

// Candidate is an article as emitted by the scraper collaborator.
// Missing scores are nil and count as zero.
type Candidate struct {
	Title                  string    `json:"title" yaml:"title"`
	Body                   string    `json:"body" yaml:"body"`
	URL                    string    `json:"url,omitempty" yaml:"url"`
	SourceID               string    `json:"source_id" yaml:"source_id"`
	RegionalRelevanceScore *int      `json:"regional_relevance_score,omitempty" yaml:"regional_relevance_score"`
	ContentQualityScore    *int      `json:"content_quality_score,omitempty" yaml:"content_quality_score"`
	ScrapedAt              time.Time `json:"scraped_at" yaml:"scraped_at"`
}

// Validate rejects malformed candidates before they reach any state machine.
func (c Candidate) Validate() error {
	switch {
	case strings.TrimSpace(c.Title) == "":
		return domain.Invalid(domain.EntityArticle, "", "article title is required")
	case strings.TrimSpace(c.Body) == "":
		return domain.Invalid(domain.EntityArticle, "", "article body is required")
	case strings.TrimSpace(c.SourceID) == "":
		return domain.Invalid(domain.EntityArticle, "", "article source is required")
	}
	if !inScoreRange(c.RegionalRelevanceScore) {
		return domain.Invalid(domain.EntityArticle, "", "regional relevance score must be between 0 and 100")
	}
	if !inScoreRange(c.ContentQualityScore) {
		return domain.Invalid(domain.EntityArticle, "", "content quality score must be between 0 and 100")
	}
	return nil
}

// Article converts a validated candidate into a new article with the given ID.
// The body is reduced to plain text.
func (c Candidate) Article(id string, now time.Time) domain.Article {
	scraped := c.ScrapedAt
	if scraped.IsZero() {
		scraped = now
	}
	return domain.Article{
		ID:                     id,
		SourceID:               c.SourceID,
		Title:                  strings.TrimSpace(c.Title),
		Body:                   PlainText(c.Body),
		URL:                    strings.TrimSpace(c.URL),
		Status:                 domain.ArticleNew,
		RegionalRelevanceScore: scoreOrZero(c.RegionalRelevanceScore),
		ContentQualityScore:    scoreOrZero(c.ContentQualityScore),
		ScrapedAt:              scraped.UTC(),
		CreatedAt:              now,
		UpdatedAt:              now,
	}
}

// PlainText strips markup from body. Paragraph boundaries become blank lines
// so generators can still split on them. Bodies without markup are only trimmed.
func PlainText(body string) string {
	if !strings.Contains(body, "<") {
		return strings.TrimSpace(body)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return strings.TrimSpace(body)
	}
	doc.Find("script, style, noscript").Remove()

	var paras []string
	doc.Find("p, h1, h2, h3, h4, li, blockquote").Each(func(_ int, s *goquery.Selection) {
		if s.ParentsFiltered("p, li, blockquote").Length() > 0 {
			return
		}
		if text := collapse(s.Text()); text != "" {
			paras = append(paras, text)
		}
	})
	if len(paras) == 0 {
		return collapse(doc.Text())
	}
	return strings.Join(paras, "\n\n")
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func inScoreRange(v *int) bool {
	return v == nil || (*v >= 0 && *v <= 100)
}

func scoreOrZero(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}
