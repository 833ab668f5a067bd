package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mailai-go/internal/auditlog"
	"mailai-go/internal/config"
	"mailai-go/internal/dedup"
	"mailai-go/internal/processor"
)

// Handlers contains all HTTP handlers for the monitor surface.
type Handlers struct {
	cfg        *config.Config
	controller *processor.Controller
	tracker    *dedup.Tracker
	audit      *auditlog.Store
	startTime  time.Time
}

// NewHandlers creates the monitor handlers.
func NewHandlers(cfg *config.Config, controller *processor.Controller, tracker *dedup.Tracker, audit *auditlog.Store) *Handlers {
	return &Handlers{
		cfg:        cfg,
		controller: controller,
		tracker:    tracker,
		audit:      audit,
		startTime:  time.Now(),
	}
}

// SetupRoutes sets up all HTTP routes.
func (h *Handlers) SetupRoutes(router *gin.Engine) {
	router.GET("/healthz", h.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	if h.cfg.MonitorUser != "" {
		api.Use(gin.BasicAuth(gin.Accounts{h.cfg.MonitorUser: h.cfg.MonitorPass}))
	}
	api.GET("/stats", h.GetStats)
	api.GET("/logs", h.GetLogs)
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Mode      string    `json:"mode"`
	Personas  int       `json:"personas"`
}

// HealthCheck handles health check requests.
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Mode:      string(h.cfg.Mode),
		Personas:  len(h.cfg.Personas),
	})
}

// StatsResponse is the aggregate counters snapshot for operators.
type StatsResponse struct {
	UptimeSeconds int64     `json:"uptime_seconds"`
	Mode          string    `json:"mode"`
	Processed     int       `json:"processed"`
	Skipped       int       `json:"skipped"`
	Answered      int       `json:"answered"`
	BCCCopied     int       `json:"bcc_copied"`
	DailyCount    int       `json:"daily_count"`
	LastReset     time.Time `json:"last_reset"`
	KnownSenders  int       `json:"known_senders"`
	DedupTracked  int       `json:"dedup_tracked"`
}

// GetStats returns the current counters snapshot.
func (h *Handlers) GetStats(c *gin.Context) {
	counters := h.controller.Snapshot()
	c.JSON(http.StatusOK, StatsResponse{
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Mode:          string(h.cfg.Mode),
		Processed:     counters.Processed,
		Skipped:       counters.Skipped,
		Answered:      counters.Answered,
		BCCCopied:     counters.BCCCopied,
		DailyCount:    counters.DailyCount,
		LastReset:     counters.LastReset,
		KnownSenders:  len(counters.SenderHistory),
		DedupTracked:  h.tracker.Len(),
	})
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// GetLogs returns recent audit entries. 404s when no audit database is
// configured.
func (h *Handlers) GetLogs(c *gin.Context) {
	if !h.audit.Enabled() {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "audit_disabled",
			Message: "No audit database configured (set MAILAI_DB_DSN)",
			Code:    http.StatusNotFound,
		})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	entries, err := h.audit.List(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to fetch audit entries",
			Code:    http.StatusInternalServerError,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": entries, "count": len(entries)})
}
