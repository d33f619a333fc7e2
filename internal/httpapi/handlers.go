package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/roach88/storydesk/internal/asset"
	"github.com/roach88/storydesk/internal/desk"
	"github.com/roach88/storydesk/internal/domain"
	"github.com/roach88/storydesk/internal/intake"
	"github.com/roach88/storydesk/internal/queue"
	"github.com/roach88/storydesk/internal/store"
	"github.com/roach88/storydesk/internal/story"
)

// response is the envelope shared with the CLI.
type response struct {
	Status string    `json:"status"`
	Data   any       `json:"data,omitempty"`
	Error  *apiError `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, response{Status: "ok", Data: data})
}

// fail writes err with the status code its domain code maps to. details is
// attached when the failed action still produced a partial report.
func (h *handler) fail(c *gin.Context, err error, details any) {
	code := domain.CodeOf(err)
	status := statusFor(code)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, response{
		Status: "error",
		Error:  &apiError{Code: string(code), Message: domain.Reason(err), Details: details},
	})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, response{
		Status: "error",
		Error:  &apiError{Code: string(domain.CodeInvalidInput), Message: msg},
	})
}

func statusFor(code domain.ErrorCode) int {
	switch code {
	case domain.CodeInvalidInput:
		return http.StatusBadRequest
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeIllegalTransition, domain.CodeAlreadyInProgress:
		return http.StatusConflict
	case domain.CodePreconditionFailed, domain.CodeRetryExhausted:
		return http.StatusUnprocessableEntity
	case domain.CodeCollaboratorFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *handler) getBoard(c *gin.Context) {
	ok(c, h.board.Snapshot())
}

// Sources

type registerSourceRequest struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

func (h *handler) listSources(c *gin.Context) {
	sources, err := h.desk.ListSources(c.Request.Context())
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	ok(c, sources)
}

func (h *handler) registerSource(c *gin.Context) {
	var req registerSourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "request body must be a JSON object with name and url")
		return
	}
	src, err := h.desk.RegisterSource(c.Request.Context(), req.Name, req.URL)
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	c.JSON(http.StatusCreated, response{Status: "ok", Data: src})
}

func (h *handler) sourceHealth(c *gin.Context) {
	report, err := h.desk.SourceHealth(c.Request.Context())
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	ok(c, report)
}

type setActiveRequest struct {
	Active *bool `json:"active"`
}

func (h *handler) setSourceActive(c *gin.Context) {
	var req setActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Active == nil {
		badRequest(c, "request body must set active to true or false")
		return
	}
	src, err := h.desk.SetSourceActive(c.Request.Context(), c.Param("id"), *req.Active)
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	ok(c, src)
}

func (h *handler) triggerScrape(c *gin.Context) {
	report, err := h.desk.TriggerManualScrape(c.Request.Context(), c.Param("id"))
	if err != nil {
		var details any
		if report.Source.ID != "" {
			details = report
		}
		h.fail(c, err, details)
		return
	}
	ok(c, report)
}

func (h *handler) recordRun(c *gin.Context) {
	var run desk.RunResult
	if err := c.ShouldBindJSON(&run); err != nil {
		badRequest(c, "request body must be a scrape run result")
		return
	}
	src, err := h.desk.RecordScrapeRun(c.Request.Context(), c.Param("id"), run)
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	ok(c, src)
}

// Articles

func (h *handler) listArticles(c *gin.Context) {
	q := store.ArticleQuery{SourceID: c.Query("source_id")}
	if s := c.Query("status"); s != "" {
		status, err := domain.ParseProcessingStatus(s)
		if err != nil {
			badRequest(c, err.Error())
			return
		}
		q.Status = status
	}
	if s := c.Query("limit"); s != "" {
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			badRequest(c, "limit must be a non-negative integer")
			return
		}
		q.Limit = n
	}
	articles, err := h.desk.ListArticles(c.Request.Context(), q)
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	ok(c, articles)
}

func (h *handler) ingest(c *gin.Context) {
	var cand intake.Candidate
	if err := c.ShouldBindJSON(&cand); err != nil {
		badRequest(c, "request body must be an article candidate")
		return
	}
	res, err := h.desk.Ingest(c.Request.Context(), cand)
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	c.JSON(http.StatusCreated, response{Status: "ok", Data: res})
}

func (h *handler) getArticle(c *gin.Context) {
	a, err := h.desk.GetArticle(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	ok(c, a)
}

func (h *handler) restoreArticle(c *gin.Context) {
	res, err := h.desk.RestoreArticle(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	ok(c, res)
}

func (h *handler) discardArticle(c *gin.Context) {
	a, err := h.desk.DiscardArticle(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	ok(c, a)
}

func (h *handler) bindFilter(c *gin.Context) (intake.BulkFilter, bool) {
	var f intake.BulkFilter
	if err := c.ShouldBindJSON(&f); err != nil {
		badRequest(c, "request body must be a bulk discard filter")
		return f, false
	}
	return f, true
}

func (h *handler) previewBulkDiscard(c *gin.Context) {
	f, valid := h.bindFilter(c)
	if !valid {
		return
	}
	n, err := h.desk.PreviewBulkDiscard(c.Request.Context(), f)
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	ok(c, gin.H{"count": n})
}

func (h *handler) applyBulkDiscard(c *gin.Context) {
	f, valid := h.bindFilter(c)
	if !valid {
		return
	}
	res, err := h.desk.ApplyBulkDiscard(c.Request.Context(), f)
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	ok(c, res)
}

// Queue

func (h *handler) listJobs(c *gin.Context) {
	var status domain.JobStatus
	if s := c.Query("status"); s != "" {
		parsed, err := domain.ParseJobStatus(s)
		if err != nil {
			badRequest(c, err.Error())
			return
		}
		status = parsed
	}
	jobs, err := h.desk.Queue().List(c.Request.Context(), status)
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	ok(c, jobs)
}

func (h *handler) processQueue(c *gin.Context) {
	summary, err := h.desk.TriggerQueueProcessing(c.Request.Context())
	if err != nil {
		h.fail(c, err, summary)
		return
	}
	ok(c, summary)
}

// releaseStaleJobs fails claims older than ?older_than (a Go duration,
// default 15m).
func (h *handler) releaseStaleJobs(c *gin.Context) {
	olderThan := queue.DefaultStaleAfter
	if v := c.Query("older_than"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			badRequest(c, "older_than must be a duration such as 15m")
			return
		}
		olderThan = d
	}
	jobs, err := h.desk.Queue().ReleaseStale(c.Request.Context(), olderThan)
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	ok(c, jobs)
}

func (h *handler) resetJob(c *gin.Context) {
	job, err := h.desk.Queue().Reset(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	ok(c, job)
}

// Stories

type storyActionKind int

const (
	actionApprove storyActionKind = iota
	actionReject
	actionPublish
	actionReview
	actionDelete
)

func (h *handler) storyAction(kind storyActionKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctrl := h.desk.Stories()
		ctx := c.Request.Context()
		id := c.Param("id")

		var (
			out story.Outcome
			err error
		)
		switch kind {
		case actionApprove:
			out, err = ctrl.Approve(ctx, id)
		case actionReject:
			out, err = ctrl.Reject(ctx, id)
		case actionPublish:
			out, err = ctrl.Publish(ctx, id)
		case actionReview:
			out, err = ctrl.ReturnToReview(ctx, id)
		case actionDelete:
			out, err = ctrl.Delete(ctx, id)
		}
		if err != nil {
			var details any
			if out.Cascade != nil {
				details = out.Cascade
			}
			h.fail(c, err, details)
			return
		}
		ok(c, out)
	}
}

func (h *handler) listStories(c *gin.Context) {
	var status domain.StoryStatus
	if s := c.Query("status"); s != "" {
		parsed, err := domain.ParseStoryStatus(s)
		if err != nil {
			badRequest(c, err.Error())
			return
		}
		status = parsed
	}
	stories, err := h.desk.Stories().List(c.Request.Context(), status)
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	ok(c, stories)
}

func (h *handler) getStory(c *gin.Context) {
	s, err := h.desk.Stories().Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	ok(c, s)
}

type editSlideRequest struct {
	Content string `json:"content"`
}

func (h *handler) editSlide(c *gin.Context) {
	n, err := strconv.Atoi(c.Param("n"))
	if err != nil || n < 1 {
		badRequest(c, "slide number must be a positive integer")
		return
	}
	var req editSlideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "request body must be a JSON object with content")
		return
	}
	sl, err := h.desk.Stories().EditSlide(c.Request.Context(), c.Param("id"), n, req.Content)
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	ok(c, sl)
}

// Exports

func (h *handler) getExport(c *gin.Context) {
	exp, err := h.desk.Exports().ForStory(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	ok(c, exp)
}

func (h *handler) startExport(c *gin.Context) {
	exp, err := h.desk.Exports().Start(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	c.JSON(http.StatusAccepted, response{Status: "ok", Data: exp})
}

type completeExportRequest struct {
	FilePaths []string `json:"file_paths"`
}

func (h *handler) completeExport(c *gin.Context) {
	var req completeExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "request body must list file_paths")
		return
	}
	exp, err := h.desk.Exports().MarkComplete(c.Request.Context(), c.Param("id"), req.FilePaths)
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	ok(c, exp)
}

type failExportRequest struct {
	ErrorMessage string `json:"error_message"`
}

func (h *handler) failExport(c *gin.Context) {
	var req failExportRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, "request body must be a JSON object with error_message")
		return
	}
	exp, err := h.desk.Exports().MarkFailed(c.Request.Context(), c.Param("id"), req.ErrorMessage)
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	ok(c, exp)
}

func (h *handler) retryExport(c *gin.Context) {
	exp, err := h.desk.Exports().Retry(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	c.JSON(http.StatusAccepted, response{Status: "ok", Data: exp})
}

func (h *handler) applyReport(c *gin.Context) {
	var r asset.Report
	if err := c.ShouldBindJSON(&r); err != nil {
		badRequest(c, "request body must be an asset generator report")
		return
	}
	exp, err := h.desk.Exports().Apply(c.Request.Context(), c.Param("id"), r)
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	ok(c, exp)
}
