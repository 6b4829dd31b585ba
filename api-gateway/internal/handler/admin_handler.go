package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"digestgenie/contracts/db"
	"digestgenie/internal/ops"
	"digestgenie/internal/repository"
	"digestgenie/pkg/featureflag"
	"digestgenie/pkg/logger"
	"digestgenie/pkg/outbox"
)

// Operations is implemented by *ops.Service.
type Operations interface {
	ListJobs(ctx context.Context, f repository.JobFilter) ([]*db.ProcessingJob, error)
	RetryJob(ctx context.Context, id string) error
	Reprocess(ctx context.Context, rawEmailID string) (string, error)
	ListUnprocessed(ctx context.Context, userID string, limit uint64) ([]*db.RawEmail, error)
	ListNewsletters(ctx context.Context, f repository.NewsletterFilter) ([]*db.Newsletter, error)
	ListFlags(ctx context.Context) ([]*featureflag.Flag, error)
	SetFlag(ctx context.Context, flag *featureflag.Flag) error
	ReplayEvent(ctx context.Context, eventID int64) error
	ReplayFailed(ctx context.Context, limit int) (int, error)
	AssignAddress(ctx context.Context, userID string) (string, error)
}

type AdminHandler struct {
	ops    Operations
	logger *zap.Logger
}

func NewAdminHandler(ops Operations, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		ops:    ops,
		logger: logger,
	}
}

// ListJobs GET /admin/jobs?status=failed&type=email_processing&limit=50&offset=0
func (h *AdminHandler) ListJobs(c *gin.Context) {
	f := repository.JobFilter{
		Status:  db.JobStatus(c.Query("status")),
		JobType: c.Query("type"),
		Limit:   queryUint(c, "limit"),
		Offset:  queryUint(c, "offset"),
	}
	jobs, err := h.ops.ListJobs(c.Request.Context(), f)
	if err != nil {
		h.fail(c, "list jobs", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs, "count": len(jobs)})
}

// RetryJob POST /admin/jobs/:id/retry
func (h *AdminHandler) RetryJob(c *gin.Context) {
	id := c.Param("id")
	if err := h.ops.RetryJob(c.Request.Context(), id); err != nil {
		h.fail(c, "retry job", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "pending", "job_id": id})
}

// ListUnprocessed GET /admin/emails/unprocessed?user_id=&limit=
func (h *AdminHandler) ListUnprocessed(c *gin.Context) {
	emails, err := h.ops.ListUnprocessed(c.Request.Context(), c.Query("user_id"), queryUint(c, "limit"))
	if err != nil {
		h.fail(c, "list unprocessed emails", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"emails": emails, "count": len(emails)})
}

// Reprocess POST /admin/emails/:id/reprocess
func (h *AdminHandler) Reprocess(c *gin.Context) {
	jobID, err := h.ops.Reprocess(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "reprocess email", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "job_id": jobID})
}

// ListNewsletters GET /admin/newsletters?domain=&active=true
func (h *AdminHandler) ListNewsletters(c *gin.Context) {
	f := repository.NewsletterFilter{
		Domain:     c.Query("domain"),
		ActiveOnly: c.Query("active") == "true",
		Limit:      queryUint(c, "limit"),
		Offset:     queryUint(c, "offset"),
	}
	newsletters, err := h.ops.ListNewsletters(c.Request.Context(), f)
	if err != nil {
		h.fail(c, "list newsletters", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"newsletters": newsletters, "count": len(newsletters)})
}

// ListFlags GET /admin/flags
func (h *AdminHandler) ListFlags(c *gin.Context) {
	flags, err := h.ops.ListFlags(c.Request.Context())
	if err != nil {
		h.fail(c, "list flags", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"flags": flags})
}

type flagRequest struct {
	Enabled           bool     `json:"enabled"`
	RolloutPercentage *int     `json:"rollout_percentage"`
	TargetUsers       []string `json:"target_users"`
	Description       string   `json:"description"`
}

// SetFlag PUT /admin/flags/:name
func (h *AdminHandler) SetFlag(c *gin.Context) {
	var req flagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid flag body"})
		return
	}
	flag := &featureflag.Flag{
		Name:              c.Param("name"),
		Enabled:           req.Enabled,
		RolloutPercentage: 100,
		TargetUsers:       req.TargetUsers,
		Description:       req.Description,
	}
	if req.RolloutPercentage != nil {
		flag.RolloutPercentage = *req.RolloutPercentage
	}
	if err := h.ops.SetFlag(c.Request.Context(), flag); err != nil {
		h.fail(c, "set flag", err)
		return
	}
	c.JSON(http.StatusOK, flag)
}

// ReplayOutboxEvent 重放指定的 Outbox 事件
// POST /admin/outbox/replay?id=xxx
func (h *AdminHandler) ReplayOutboxEvent(c *gin.Context) {
	idStr := c.Query("id")
	if idStr == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing id parameter"})
		return
	}

	eventID, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id parameter"})
		return
	}

	if err := h.ops.ReplayEvent(c.Request.Context(), eventID); err != nil {
		h.fail(c, "replay event", err, zap.Int64("event_id", eventID))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "replayed",
		"event_id": eventID,
	})
}

// ReplayFailedEvents 重放所有失败的事件
// POST /admin/outbox/replay-failed?limit=100
func (h *AdminHandler) ReplayFailedEvents(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit <= 0 {
		limit = 100
	}

	successCount, err := h.ops.ReplayFailed(c.Request.Context(), limit)
	if err != nil {
		h.fail(c, "replay failed events", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":        "completed",
		"success_count": successCount,
		"limit":         limit,
	})
}

// AssignAddress POST /admin/users/:id/address
func (h *AdminHandler) AssignAddress(c *gin.Context) {
	userID := c.Param("id")
	addr, err := h.ops.AssignAddress(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, "assign address", err, zap.String("user_id", userID))
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "system_email": addr})
}

// fail maps operator errors to status codes; anything unexpected is logged as a 500.
func (h *AdminHandler) fail(c *gin.Context, action string, err error, fields ...zap.Field) {
	var status int
	switch {
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, outbox.ErrEventNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ops.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, ops.ErrAlreadyProcessed):
		status = http.StatusConflict
	case errors.Is(err, ops.ErrNotConfigured):
		status = http.StatusServiceUnavailable
	default:
		logger.WithTrace(c.Request.Context(), h.logger).Error("Failed to "+action, append(fields, zap.Error(err))...)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to " + action})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func queryUint(c *gin.Context, key string) uint64 {
	v, err := strconv.ParseUint(c.Query(key), 10, 64)
	if err != nil {
		return 0
	}
	return v
}
