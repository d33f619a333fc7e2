package desk

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/roach88/storydesk/internal/domain"
	"github.com/roach88/storydesk/internal/intake"
	"github.com/roach88/storydesk/internal/store"
)

// Scraper is the external collaborator that fetches candidates for a source.
type Scraper interface {
	Scrape(ctx context.Context, src domain.Source) ([]intake.Candidate, error)
}

// ScraperFunc adapts a function to Scraper.
type ScraperFunc func(ctx context.Context, src domain.Source) ([]intake.Candidate, error)

// Scrape implements Scraper.
func (f ScraperFunc) Scrape(ctx context.Context, src domain.Source) ([]intake.Candidate, error) {
	return f(ctx, src)
}

// RunResult is a scraper run as reported by the collaborator.
type RunResult struct {
	ArticlesFound      int      `json:"articlesFound" yaml:"articles_found"`
	ArticlesStored     int      `json:"articlesStored" yaml:"articles_stored"`
	DuplicatesDetected int      `json:"duplicatesDetected" yaml:"duplicates_detected"`
	ArticlesDiscarded  int      `json:"articlesDiscarded" yaml:"articles_discarded"`
	Errors             []string `json:"errors" yaml:"errors"`
}

// ScrapeReport is the outcome of TriggerManualScrape.
type ScrapeReport struct {
	RunResult
	Source domain.Source `json:"source"`
}

// RecordScrapeRun folds a run reported by an external scraper into the
// source's metrics.
func (s *Service) RecordScrapeRun(ctx context.Context, sourceID string, run RunResult) (domain.Source, error) {
	if run.ArticlesStored < 0 || run.ArticlesFound < 0 {
		return domain.Source{}, domain.Invalid(domain.EntitySource, sourceID, "article counts must not be negative")
	}
	src, err := s.store.RecordScrapeRun(ctx, sourceID, store.ScrapeRun{
		ArticlesStored: run.ArticlesStored,
		Errors:         run.Errors,
		FinishedAt:     s.now(),
	})
	if err != nil {
		return domain.Source{}, err
	}
	if len(run.Errors) > 0 {
		s.logger.Warn("scrape run reported errors", "source_id", sourceID, "errors", len(run.Errors), "first", run.Errors[0])
	} else {
		s.logger.Info("scrape run recorded", "source_id", sourceID, "stored", run.ArticlesStored, "success_rate", src.SuccessRate)
	}
	s.notifier.Notify(domain.Change{Entity: domain.EntitySource, ID: sourceID, Op: domain.OpUpdated})
	return src, nil
}

// TriggerManualScrape runs the scraper for one active source, ingests what
// it returns, and records the run. The source counts as gathering until the
// run is recorded. A scraper error is recorded on the source and returned as
// collaborator_failed alongside the report.
func (s *Service) TriggerManualScrape(ctx context.Context, sourceID string) (ScrapeReport, error) {
	src, err := s.store.GetSource(ctx, sourceID)
	if err != nil {
		return ScrapeReport{}, err
	}
	if !src.IsActive {
		return ScrapeReport{}, domain.PreconditionFailed(domain.EntitySource, sourceID, "inactive sources are not scraped")
	}
	if s.scraper == nil {
		return ScrapeReport{}, domain.PreconditionFailed(domain.EntitySource, sourceID, "no scraper is configured")
	}
	if !s.gathering.begin(sourceID) {
		return ScrapeReport{}, domain.AlreadyInProgress(domain.EntitySource, sourceID, "a scrape is already running for this source")
	}
	defer func() {
		s.gathering.end(sourceID)
		s.notifier.Notify(domain.Change{Entity: domain.EntitySource, ID: sourceID, Op: domain.OpUpdated})
	}()
	s.notifier.Notify(domain.Change{Entity: domain.EntitySource, ID: sourceID, Op: domain.OpUpdated})
	s.logger.Info("scrape started", "source_id", sourceID)

	var run RunResult
	candidates, scrapeErr := s.scraper.Scrape(ctx, src)
	if scrapeErr != nil {
		run.Errors = append(run.Errors, scrapeErr.Error())
	}
	run.ArticlesFound = len(candidates)

	for i, c := range candidates {
		if c.SourceID == "" {
			c.SourceID = sourceID
		}
		res, err := s.Ingest(ctx, c)
		if err != nil {
			var de *domain.Error
			if errors.As(err, &de) && de.Code != domain.CodeStorageFailed {
				run.Errors = append(run.Errors, fmt.Sprintf("candidate %d: %s", i+1, de.Reason))
				continue
			}
			return ScrapeReport{}, err
		}
		run.ArticlesStored++
		if res.Decision.Decision == intake.DecisionDiscard {
			run.ArticlesDiscarded++
			if res.Decision.Reason == domain.ReasonDuplicate {
				run.DuplicatesDetected++
			}
		}
	}

	updated, err := s.store.RecordScrapeRun(ctx, sourceID, store.ScrapeRun{
		ArticlesStored: run.ArticlesStored,
		Errors:         run.Errors,
		FinishedAt:     s.now(),
	})
	if err != nil {
		return ScrapeReport{}, err
	}
	if run.Errors == nil {
		run.Errors = []string{}
	}
	report := ScrapeReport{RunResult: run, Source: updated}

	if scrapeErr != nil {
		s.logger.Warn("scraper failed", "source_id", sourceID, "error", scrapeErr)
		return report, &domain.Error{
			Code:   domain.CodeCollaboratorFailed,
			Entity: domain.EntitySource,
			ID:     sourceID,
			Reason: "the scraper reported an error; it was recorded on the source",
			Err:    scrapeErr,
		}
	}
	s.logger.Info("scrape finished",
		"source_id", sourceID,
		"found", run.ArticlesFound,
		"stored", run.ArticlesStored,
		"discarded", run.ArticlesDiscarded,
		"duplicates", run.DuplicatesDetected,
	)
	return report, nil
}

// GatheringSources lists the sources with a scrape in flight.
func (s *Service) GatheringSources() []string { return s.gathering.list() }

type gatheringSet struct {
	mu     sync.Mutex
	active map[string]struct{}
}

func newGatheringSet() *gatheringSet {
	return &gatheringSet{active: make(map[string]struct{})}
}

func (g *gatheringSet) begin(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.active[id]; ok {
		return false
	}
	g.active[id] = struct{}{}
	return true
}

func (g *gatheringSet) end(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.active, id)
}

func (g *gatheringSet) has(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.active[id]
	return ok
}

func (g *gatheringSet) list() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	ids := make([]string, 0, len(g.active))
	for id := range g.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// FileScraper reads candidates from <Dir>/<source id>.yaml. It stands in for
// a network scraper in local runs and tests. JSON files are valid YAML.
type FileScraper struct {
	Dir string
}

// Scrape implements Scraper.
func (f FileScraper) Scrape(_ context.Context, src domain.Source) ([]intake.Candidate, error) {
	path := filepath.Join(f.Dir, src.ID+".yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read candidates for %s: %w", src.ID, err)
	}
	var candidates []intake.Candidate
	if err := yaml.Unmarshal(data, &candidates); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return candidates, nil
}
