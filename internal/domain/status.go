package domain

import "fmt"

// ProcessingStatus is the intake state of an article.
type ProcessingStatus string

const (
	ArticleNew        ProcessingStatus = "new"
	ArticleProcessing ProcessingStatus = "processing"
	ArticleProcessed  ProcessingStatus = "processed"
	ArticleDiscarded  ProcessingStatus = "discarded"
)

// RejectionReason records why an article was discarded.
type RejectionReason string

const (
	ReasonNone                  RejectionReason = ""
	ReasonInsufficientQuality   RejectionReason = "insufficient_content_quality"
	ReasonInsufficientRelevance RejectionReason = "insufficient_regional_relevance"
	ReasonDuplicate             RejectionReason = "duplicate"
	ReasonManual                RejectionReason = "manual"
)

// JobStatus is the state of a promotion job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// StoryStatus is the review state of a story.
type StoryStatus string

const (
	StoryDraft     StoryStatus = "draft"
	StoryReady     StoryStatus = "ready"
	StoryPublished StoryStatus = "published"
	StoryRejected  StoryStatus = "rejected"
)

// ExportStatus is the state of an asset export.
type ExportStatus string

const (
	ExportNone       ExportStatus = "none"
	ExportGenerating ExportStatus = "generating"
	ExportCompleted  ExportStatus = "completed"
	ExportFailed     ExportStatus = "failed"
)

// ArticleStatuses lists every processing status in pipeline order.
var ArticleStatuses = []ProcessingStatus{ArticleNew, ArticleProcessing, ArticleProcessed, ArticleDiscarded}

// JobStatuses lists every job status in pipeline order.
var JobStatuses = []JobStatus{JobPending, JobProcessing, JobCompleted, JobFailed}

// StoryStatuses lists every story status in review order.
var StoryStatuses = []StoryStatus{StoryDraft, StoryReady, StoryPublished, StoryRejected}

// ExportStatuses lists every export status.
var ExportStatuses = []ExportStatus{ExportNone, ExportGenerating, ExportCompleted, ExportFailed}

// ParseProcessingStatus validates s against the declared article statuses.
func ParseProcessingStatus(s string) (ProcessingStatus, error) {
	for _, v := range ArticleStatuses {
		if string(v) == s {
			return v, nil
		}
	}
	return "", fmt.Errorf("unknown article status %q", s)
}

// ParseRejectionReason validates s against the declared rejection reasons.
// The empty string is ReasonNone.
func ParseRejectionReason(s string) (RejectionReason, error) {
	switch r := RejectionReason(s); r {
	case ReasonNone, ReasonInsufficientQuality, ReasonInsufficientRelevance, ReasonDuplicate, ReasonManual:
		return r, nil
	}
	return "", fmt.Errorf("unknown rejection reason %q", s)
}

// ParseJobStatus validates s against the declared job statuses.
func ParseJobStatus(s string) (JobStatus, error) {
	for _, v := range JobStatuses {
		if string(v) == s {
			return v, nil
		}
	}
	return "", fmt.Errorf("unknown job status %q", s)
}

// ParseStoryStatus validates s against the declared story statuses.
func ParseStoryStatus(s string) (StoryStatus, error) {
	for _, v := range StoryStatuses {
		if string(v) == s {
			return v, nil
		}
	}
	return "", fmt.Errorf("unknown story status %q", s)
}

// ParseExportStatus validates s against the declared export statuses.
func ParseExportStatus(s string) (ExportStatus, error) {
	for _, v := range ExportStatuses {
		if string(v) == s {
			return v, nil
		}
	}
	return "", fmt.Errorf("unknown export status %q", s)
}

// Terminal reports whether no further automatic transition leaves s.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Restorable reports whether an operator restore may act on an article in s.
func (s ProcessingStatus) Restorable() bool {
	return s == ArticleNew || s == ArticleDiscarded
}
