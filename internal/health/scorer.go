// Package health classifies content sources into health tiers from their
// rolling scrape metrics.
//
// Classification is a pure function of the source, whether it is currently
// gathering, and the instant used as now. Rules are evaluated in priority
// order and the first match wins:
//
//  1. gathering right now                       -> gathering
//  2. deactivated                               -> inactive
//  3. rate >= productive, recent, articles >= n  -> productive
//  4. rate >= filtered, recent, articles < n     -> filtered
//  5. rate >= active, recent, articles >= n      -> active
//  6. rate < active, recent                      -> technical_issues
//  7. not recent, days < stale                   -> idle
//  8. days >= stale or (error and rate < floor)  -> reconnecting
//  9. otherwise                                  -> gathering
//
// A source that has never been scraped is infinitely many days old.
package health

import (
	"math"
	"time"

	"github.com/roach88/storydesk/internal/domain"
)

// Thresholds holds every numeric cutoff used by Classify.
type Thresholds struct {
	RecentDays float64 `yaml:"recent_days" json:"recent_days"`
	StaleDays  float64 `yaml:"stale_days" json:"stale_days"`

	ProductiveSuccessRate float64 `yaml:"productive_success_rate" json:"productive_success_rate"`
	ProductiveMinArticles int     `yaml:"productive_min_articles" json:"productive_min_articles"`

	FilteredSuccessRate float64 `yaml:"filtered_success_rate" json:"filtered_success_rate"`
	FilteredMaxArticles int     `yaml:"filtered_max_articles" json:"filtered_max_articles"`

	ActiveSuccessRate float64 `yaml:"active_success_rate" json:"active_success_rate"`
	ActiveMinArticles int     `yaml:"active_min_articles" json:"active_min_articles"`

	ReconnectErrorSuccessRate float64 `yaml:"reconnect_error_success_rate" json:"reconnect_error_success_rate"`
}

// DefaultThresholds returns the reference cutoffs.
func DefaultThresholds() Thresholds {
	return Thresholds{
		RecentDays:                7,
		StaleDays:                 30,
		ProductiveSuccessRate:     80,
		ProductiveMinArticles:     5,
		FilteredSuccessRate:       70,
		FilteredMaxArticles:       3,
		ActiveSuccessRate:         50,
		ActiveMinArticles:         3,
		ReconnectErrorSuccessRate: 20,
	}
}

// Assessment is the result of classifying one source.
type Assessment struct {
	SourceID  string `json:"source_id"`
	Tier      Tier   `json:"tier"`
	Label     string `json:"label"`
	Rationale string `json:"rationale"`

	// DaysSince is nil when the source has never been scraped.
	DaysSince *float64 `json:"days_since_last_scrape,omitempty"`
}

// Scorer classifies sources against a fixed set of thresholds.
type Scorer struct {
	t Thresholds
}

// NewScorer creates a Scorer.
func NewScorer(t Thresholds) *Scorer {
	return &Scorer{t: t}
}

// Thresholds returns the cutoffs the scorer applies.
func (s *Scorer) Thresholds() Thresholds {
	return s.t
}

// Classify assigns a tier to src. It never fails: missing metrics are zero
// and a missing scrape time counts as never.
func (s *Scorer) Classify(src domain.Source, gathering bool, now time.Time) Assessment {
	days := DaysSince(src.LastScrapedAt, now)
	tier := s.tier(src, gathering, days)
	d := Describe(tier)
	a := Assessment{
		SourceID:  src.ID,
		Tier:      tier,
		Label:     d.Label,
		Rationale: d.Rationale,
	}
	if !math.IsInf(days, 1) {
		a.DaysSince = &days
	}
	return a
}

func (s *Scorer) tier(src domain.Source, gathering bool, days float64) Tier {
	if gathering {
		return TierGathering
	}
	if !src.IsActive {
		return TierInactive
	}

	rate := src.SuccessRate
	if math.IsNaN(rate) {
		rate = 0
	}
	articles := src.ArticlesScraped
	recent := days <= s.t.RecentDays

	switch {
	case rate >= s.t.ProductiveSuccessRate && recent && articles >= s.t.ProductiveMinArticles:
		return TierProductive
	case rate >= s.t.FilteredSuccessRate && recent && articles < s.t.FilteredMaxArticles:
		return TierFiltered
	case rate >= s.t.ActiveSuccessRate && recent && articles >= s.t.ActiveMinArticles:
		return TierActive
	case rate < s.t.ActiveSuccessRate && recent:
		return TierTechnicalIssues
	case !recent && days < s.t.StaleDays:
		return TierIdle
	case days >= s.t.StaleDays || (src.LastError != "" && rate < s.t.ReconnectErrorSuccessRate):
		return TierReconnecting
	}
	return TierGathering
}

// DaysSince returns the fractional days between last and now. A nil last is
// +Inf; a last after now is 0.
func DaysSince(last *time.Time, now time.Time) float64 {
	if last == nil || last.IsZero() {
		return math.Inf(1)
	}
	d := now.Sub(*last)
	if d < 0 {
		return 0
	}
	return d.Hours() / 24
}
