// Package config loads storydesk settings.
//
// Values are layered: built-in defaults, then the YAML file, then
// STORYDESK_* environment variables. The result is checked against an
// embedded CUE schema before use.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/storydesk/internal/health"
	"github.com/roach88/storydesk/internal/intake"
	"github.com/roach88/storydesk/internal/queue"
)

// Config is the full set of settings.
type Config struct {
	Database DatabaseConfig    `yaml:"database" json:"database"`
	HTTP     HTTPConfig        `yaml:"http" json:"http"`
	NATS     NATSConfig        `yaml:"nats" json:"nats"`
	Logging  LoggingConfig     `yaml:"logging" json:"logging"`
	Intake   IntakeConfig      `yaml:"intake" json:"intake"`
	Health   health.Thresholds `yaml:"health" json:"health"`
	Queue    QueueConfig       `yaml:"queue" json:"queue"`
	Story    StoryConfig       `yaml:"story" json:"story"`
	Bus      BusConfig         `yaml:"bus" json:"bus"`
	Scrape   ScrapeConfig      `yaml:"scrape" json:"scrape"`
}

type DatabaseConfig struct {
	Path string `yaml:"path" json:"path"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr" json:"addr"`
}

// NATSConfig enables the change relay when URL is set.
type NATSConfig struct {
	URL           string `yaml:"url" json:"url"`
	SubjectPrefix string `yaml:"subject_prefix" json:"subject_prefix"`
	Node          string `yaml:"node" json:"node"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// IntakeConfig holds the discard thresholds and duplicate matching window.
type IntakeConfig struct {
	QualityThreshold   int     `yaml:"quality_threshold" json:"quality_threshold"`
	RelevanceThreshold int     `yaml:"relevance_threshold" json:"relevance_threshold"`
	DedupWindowDays    int     `yaml:"dedup_window_days" json:"dedup_window_days"`
	KeywordOverlap     float64 `yaml:"keyword_overlap" json:"keyword_overlap"`
}

// Thresholds returns the classifier cutoffs.
func (c IntakeConfig) Thresholds() intake.Thresholds {
	return intake.Thresholds{Quality: c.QualityThreshold, Relevance: c.RelevanceThreshold}
}

// Dedup returns the duplicate matcher settings.
func (c IntakeConfig) Dedup() intake.DedupConfig {
	return intake.DedupConfig{WindowDays: c.DedupWindowDays, KeywordOverlap: c.KeywordOverlap}
}

// QueueConfig is the retry policy and processor size. MaxAttempts zero
// means unlimited.
type QueueConfig struct {
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`
	Workers     int `yaml:"workers" json:"workers"`
	MaxSlides   int `yaml:"max_slides" json:"max_slides"`
}

type StoryConfig struct {
	AutoPublishOnApprove bool `yaml:"auto_publish_on_approve" json:"auto_publish_on_approve"`
}

type BusConfig struct {
	Debounce time.Duration `yaml:"debounce" json:"debounce"`
}

// ScrapeConfig points the file scraper at a directory of candidate files.
// Empty disables manual scrapes.
type ScrapeConfig struct {
	Dir string `yaml:"dir" json:"dir"`
}

// Default returns the reference configuration.
func Default() Config {
	in := intake.DefaultThresholds()
	dd := intake.DefaultDedupConfig()
	return Config{
		Database: DatabaseConfig{Path: "storydesk.db"},
		HTTP:     HTTPConfig{Addr: ":8080"},
		NATS:     NATSConfig{SubjectPrefix: "storydesk.changes"},
		Logging:  LoggingConfig{Level: "info", Format: "text"},
		Intake: IntakeConfig{
			QualityThreshold:   in.Quality,
			RelevanceThreshold: in.Relevance,
			DedupWindowDays:    dd.WindowDays,
			KeywordOverlap:     dd.KeywordOverlap,
		},
		Health: health.DefaultThresholds(),
		Queue:  QueueConfig{MaxAttempts: queue.DefaultMaxAttempts, Workers: 2, MaxSlides: queue.DefaultMaxSlides},
		Bus:    BusConfig{Debounce: 50 * time.Millisecond},
	}
}

// Load reads path (if non-empty), applies environment overrides and
// validates the result.
func Load(path string) (Config, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

// LoadWithEnv is Load with an explicit environment lookup.
func LoadWithEnv(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"STORYDESK_DB":        &cfg.Database.Path,
		"STORYDESK_NATS_URL":  &cfg.NATS.URL,
		"STORYDESK_HTTP_ADDR": &cfg.HTTP.Addr,
		"STORYDESK_LOG_LEVEL": &cfg.Logging.Level,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"STORYDESK_QUALITY_THRESHOLD":   &cfg.Intake.QualityThreshold,
		"STORYDESK_RELEVANCE_THRESHOLD": &cfg.Intake.RelevanceThreshold,
	}
	var errs []error
	for key, dst := range ints {
		v, ok := lookup(key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %q is not an integer", key, v))
			continue
		}
		*dst = n
	}
	return errors.Join(errs...)
}
