package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "storydesk.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Validate(Default()))

	cfg, err := LoadWithEnv("", env(nil))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, 50, cfg.Intake.Thresholds().Quality)
	assert.Equal(t, 7, cfg.Intake.Dedup().WindowDays)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := writeConfig(t, `
database:
  path: /var/lib/storydesk/desk.db
intake:
  quality_threshold: 60
  relevance_threshold: 40
health:
  recent_days: 5
  stale_days: 21
queue:
  max_attempts: 0
  workers: 4
story:
  auto_publish_on_approve: true
bus:
  debounce: 200ms
`)
	cfg, err := LoadWithEnv(path, env(map[string]string{
		"STORYDESK_RELEVANCE_THRESHOLD": "45",
		"STORYDESK_NATS_URL":            "nats://127.0.0.1:4222",
		"STORYDESK_LOG_LEVEL":           "debug",
	}))
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/storydesk/desk.db", cfg.Database.Path)
	assert.Equal(t, 60, cfg.Intake.QualityThreshold)
	assert.Equal(t, 45, cfg.Intake.RelevanceThreshold, "env wins over the file")
	assert.Equal(t, 7, cfg.Intake.DedupWindowDays, "unset keys keep their defaults")
	assert.Equal(t, 5.0, cfg.Health.RecentDays)
	assert.Equal(t, 80.0, cfg.Health.ProductiveSuccessRate)
	assert.Equal(t, 0, cfg.Queue.MaxAttempts)
	assert.Equal(t, 4, cfg.Queue.Workers)
	assert.True(t, cfg.Story.AutoPublishOnApprove)
	assert.Equal(t, 200*time.Millisecond, cfg.Bus.Debounce)
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.NATS.URL)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_RejectsOutOfRangeValues(t *testing.T) {
	cases := map[string]struct {
		file string
		env  map[string]string
		want string
	}{
		"threshold above 100": {
			env:  map[string]string{"STORYDESK_QUALITY_THRESHOLD": "120"},
			want: "quality_threshold",
		},
		"threshold not a number": {
			env:  map[string]string{"STORYDESK_QUALITY_THRESHOLD": "high"},
			want: "not an integer",
		},
		"negative attempts": {
			file: "queue:\n  max_attempts: -1\n",
			want: "max_attempts",
		},
		"stale window shorter than recent": {
			file: "health:\n  recent_days: 10\n  stale_days: 5\n",
			want: "stale_days",
		},
		"zero dedup window": {
			file: "intake:\n  dedup_window_days: 0\n",
			want: "dedup_window_days",
		},
		"unknown log format": {
			file: "logging:\n  format: xml\n",
			want: "format",
		},
	}
	for name, tc := range cases {
		name, tc := name, tc
		t.Run(name, func(t *testing.T) {
			path := ""
			if tc.file != "" {
				path = writeConfig(t, tc.file)
			}
			_, err := LoadWithEnv(path, env(tc.env))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := LoadWithEnv(filepath.Join(t.TempDir(), "nope.yaml"), env(nil))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoad_MalformedYAML(t *testing.T) {
	_, err := LoadWithEnv(writeConfig(t, "intake: [unclosed"), env(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}
