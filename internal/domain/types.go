package domain

import (
	"strings"
	"time"
)

// Source is an external content origin. The core reads its metrics; only
// scrape run accounting writes them.
type Source struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	URL             string     `json:"url"`
	IsActive        bool       `json:"is_active"`
	SuccessRate     float64    `json:"success_rate"`
	ArticlesScraped int        `json:"articles_scraped"`
	LastScrapedAt   *time.Time `json:"last_scraped_at,omitempty"`
	LastError       string     `json:"last_error,omitempty"`
	ScrapeRuns      int        `json:"scrape_runs"`
	ScrapeSuccesses int        `json:"scrape_successes"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Article is a single scraped news item.
type Article struct {
	ID                     string           `json:"id"`
	SourceID               string           `json:"source_id"`
	Title                  string           `json:"title"`
	Body                   string           `json:"body"`
	URL                    string           `json:"url,omitempty"`
	Status                 ProcessingStatus `json:"processing_status"`
	RegionalRelevanceScore int              `json:"regional_relevance_score"`
	ContentQualityScore    int              `json:"content_quality_score"`
	RejectionReason        RejectionReason  `json:"rejection_reason,omitempty"`
	ScrapedAt              time.Time        `json:"scraped_at"`
	CreatedAt              time.Time        `json:"created_at"`
	UpdatedAt              time.Time        `json:"updated_at"`
}

// QueueJob promotes one accepted article into a story.
type QueueJob struct {
	ID        string    `json:"id"`
	ArticleID string    `json:"article_id"`
	Status    JobStatus `json:"status"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
	ClaimedBy string    `json:"claimed_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Story is a curated multi-slide narrative derived from one article.
type Story struct {
	ID        string      `json:"id"`
	ArticleID string      `json:"article_id"`
	Title     string      `json:"title"`
	Status    StoryStatus `json:"status"`
	Slides    []Slide     `json:"slides,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Slide is one numbered unit of story content.
type Slide struct {
	ID           string `json:"id"`
	StoryID      string `json:"story_id"`
	SlideNumber  int    `json:"slide_number"`
	Content      string `json:"content"`
	VisualPrompt string `json:"visual_prompt,omitempty"`
	WordCount    int    `json:"word_count"`
}

// AssetExport is the generated carousel attached to a story.
type AssetExport struct {
	ID           string       `json:"id"`
	StoryID      string       `json:"story_id"`
	Status       ExportStatus `json:"status"`
	FilePaths    []string     `json:"file_paths,omitempty"`
	ErrorMessage string       `json:"error_message,omitempty"`
	Attempts     int          `json:"attempts"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// SlideDraft is a slide as returned by the story generator, before it is
// assigned an identity.
type SlideDraft struct {
	SlideNumber  int    `json:"slide_number"`
	Content      string `json:"content"`
	VisualPrompt string `json:"visual_prompt,omitempty"`
}

// WordCount counts whitespace-separated words in content.
func WordCount(content string) int {
	return len(strings.Fields(content))
}

// ValidateSlides checks generator output: non-empty, numbered contiguously
// from 1 in order, and no blank content.
func ValidateSlides(slides []SlideDraft) error {
	if len(slides) == 0 {
		return Invalid(EntityStory, "", "generator returned no slides")
	}
	for i, s := range slides {
		if s.SlideNumber != i+1 {
			return Invalid(EntityStory, "", "slide numbers must be contiguous from 1")
		}
		if strings.TrimSpace(s.Content) == "" {
			return Invalid(EntityStory, "", "slide content must not be blank")
		}
	}
	return nil
}
