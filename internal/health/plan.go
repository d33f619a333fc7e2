package health

import (
	"sort"
	"time"

	"github.com/roach88/storydesk/internal/domain"
)

// Report is the health board for a set of sources.
type Report struct {
	Assessments []Assessment `json:"assessments"`
	Counts      map[Tier]int `json:"counts"`

	// Attention holds the sources that should raise an operator alert.
	Attention []Assessment `json:"attention"`

	// Rescrape holds the IDs of active sources to re-scrape ahead of schedule.
	Rescrape []string `json:"rescrape"`
}

// Plan classifies every source and derives the alert and re-scrape lists.
// gathering reports whether a source is being scraped right now; it may be nil.
// Output is ordered by source ID.
func (s *Scorer) Plan(sources []domain.Source, gathering func(id string) bool, now time.Time) Report {
	sorted := make([]domain.Source, len(sources))
	copy(sorted, sources)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	r := Report{
		Assessments: make([]Assessment, 0, len(sorted)),
		Counts:      make(map[Tier]int, len(Tiers)),
		Attention:   []Assessment{},
		Rescrape:    []string{},
	}
	for _, t := range Tiers {
		r.Counts[t] = 0
	}

	for _, src := range sorted {
		g := gathering != nil && gathering(src.ID)
		a := s.Classify(src, g, now)
		r.Assessments = append(r.Assessments, a)
		r.Counts[a.Tier]++
		if a.Tier.NeedsAttention() {
			r.Attention = append(r.Attention, a)
		}
		if src.IsActive && a.Tier.WantsRescrape() {
			r.Rescrape = append(r.Rescrape, src.ID)
		}
	}
	return r
}
