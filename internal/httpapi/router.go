// Package httpapi exposes the operator control surface over HTTP.
//
// Every response uses the same envelope as the CLI's JSON output:
//
//	{"status": "ok", "data": ...}
//	{"status": "error", "error": {"code": "...", "message": "..."}}
//
// The error message is the domain reason string, shown verbatim by clients.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/storydesk/internal/board"
	"github.com/roach88/storydesk/internal/desk"
)

// Config wires the router. Board and Gatherer may be nil, which disables
// GET /board and GET /metrics.
type Config struct {
	Desk     *desk.Service
	Board    *board.Board
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

type handler struct {
	desk   *desk.Service
	board  *board.Board
	logger *slog.Logger
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(cfg Config) *gin.Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &handler{desk: cfg.Desk, board: cfg.Board, logger: logger.With("component", "http")}

	r := gin.New()
	r.Use(gin.Recovery(), h.requestLog())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "storydesk"})
	})
	if cfg.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}
	if cfg.Board != nil {
		r.GET("/board", h.getBoard)
	}

	sources := r.Group("/sources")
	sources.GET("", h.listSources)
	sources.POST("", h.registerSource)
	sources.GET("/health", h.sourceHealth)
	sources.POST("/:id/active", h.setSourceActive)
	sources.POST("/:id/scrape", h.triggerScrape)
	sources.POST("/:id/runs", h.recordRun)

	articles := r.Group("/articles")
	articles.GET("", h.listArticles)
	articles.POST("", h.ingest)
	articles.GET("/:id", h.getArticle)
	articles.POST("/:id/restore", h.restoreArticle)
	articles.POST("/:id/discard", h.discardArticle)

	r.POST("/bulk-discard/preview", h.previewBulkDiscard)
	r.POST("/bulk-discard/apply", h.applyBulkDiscard)

	q := r.Group("/queue")
	q.GET("/jobs", h.listJobs)
	q.POST("/process", h.processQueue)
	q.POST("/release", h.releaseStaleJobs)
	q.POST("/jobs/:id/reset", h.resetJob)

	stories := r.Group("/stories")
	stories.GET("", h.listStories)
	stories.GET("/:id", h.getStory)
	stories.POST("/:id/approve", h.storyAction(actionApprove))
	stories.POST("/:id/reject", h.storyAction(actionReject))
	stories.POST("/:id/publish", h.storyAction(actionPublish))
	stories.POST("/:id/review", h.storyAction(actionReview))
	stories.POST("/:id/delete", h.storyAction(actionDelete))
	stories.DELETE("/:id", h.storyAction(actionDelete))
	stories.PUT("/:id/slides/:n", h.editSlide)
	stories.GET("/:id/export", h.getExport)
	stories.POST("/:id/export", h.startExport)

	exports := r.Group("/exports")
	exports.POST("/:id/complete", h.completeExport)
	exports.POST("/:id/fail", h.failExport)
	exports.POST("/:id/retry", h.retryExport)
	exports.POST("/:id/report", h.applyReport)

	return r
}

// requestLog logs one line per request at Debug, and at Warn for 5xx.
func (h *handler) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		level := slog.LevelDebug
		if status >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		h.logger.Log(c.Request.Context(), level, "request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", status,
			"duration", time.Since(start),
		)
	}
}
