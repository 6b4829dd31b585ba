package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"digestgenie/mail-ingestion-service/internal/service/ingest"
	"digestgenie/mail-ingestion-service/internal/webhook"
	"digestgenie/pkg/logger"
	"digestgenie/pkg/metrics"
)

const defaultMaxBody = 25 << 20

type Ingester interface {
	Ingest(ctx context.Context, email *webhook.ParsedEmail) (*ingest.Result, error)
}

// TokenGuard records single-use signature tokens; *util.Deduper satisfies it.
type TokenGuard interface {
	AcquireOnce(ctx context.Context, handler, id string) bool
}

const replayTokenHandler = "mailgun-token"

type WebhookHandler struct {
	ingester   Ingester
	secret     string
	production bool
	maxBody    int64
	tokens     TokenGuard
	now        func() time.Time
	logger     *zap.Logger
}

// NewWebhookHandler skips signature checks only when secret is empty outside production.
func NewWebhookHandler(ingester Ingester, secret string, production bool, maxBody int64, logger *zap.Logger) *WebhookHandler {
	if maxBody <= 0 {
		maxBody = defaultMaxBody
	}
	return &WebhookHandler{
		ingester:   ingester,
		secret:     secret,
		production: production,
		maxBody:    maxBody,
		now:        time.Now,
		logger:     logger,
	}
}

// WithTokenGuard makes Receive reject a Mailgun signature token it has already accepted.
func (h *WebhookHandler) WithTokenGuard(g TokenGuard) *WebhookHandler {
	h.tokens = g
	return h
}

func (h *WebhookHandler) WithClock(now func() time.Time) *WebhookHandler {
	h.now = now
	return h
}

// Challenge handles GET /webhooks/email: providers verify the URL by expecting the
// challenge parameter back verbatim.
func (h *WebhookHandler) Challenge(c *gin.Context) {
	if challenge := c.Query("challenge"); challenge != "" {
		c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(challenge))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Receive handles POST /webhooks/email.
func (h *WebhookHandler) Receive(c *gin.Context) {
	ctx := c.Request.Context()
	log := logger.WithTrace(ctx, h.logger)

	req, err := webhook.NewRequest(c.Request, h.maxBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, webhook.ErrBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		metrics.IncrementWebhookReceived("unknown", "rejected")
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	provider := webhook.Detect(req)
	p := string(provider)

	switch {
	case h.secret != "":
		if err := webhook.Verify(provider, req, h.secret, h.now()); err != nil {
			log.Warn("Webhook signature rejected", zap.String("provider", p), zap.Error(err))
			metrics.IncrementWebhookReceived(p, "rejected")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}
		if token := webhook.ReplayToken(provider, req); token != "" && h.tokens != nil &&
			!h.tokens.AcquireOnce(ctx, replayTokenHandler, token) {
			log.Warn("Webhook signature token reused", zap.String("provider", p))
			metrics.IncrementWebhookReceived(p, "rejected")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}
	case h.production:
		log.Error("Webhook secret is not configured")
		metrics.IncrementWebhookReceived(p, "error")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "webhook verification unavailable"})
		return
	}

	email, err := webhook.Normalize(provider, req)
	if err != nil {
		log.Warn("Webhook payload rejected", zap.String("provider", p), zap.Error(err))
		metrics.IncrementWebhookReceived(p, "rejected")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	res, err := h.ingester.Ingest(ctx, email)
	switch {
	case errors.Is(err, ingest.ErrUnknownRecipient):
		metrics.IncrementWebhookReceived(p, "rejected")
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown recipient"})
		return
	case errors.Is(err, ingest.ErrNoRecipient):
		metrics.IncrementWebhookReceived(p, "rejected")
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing recipient"})
		return
	case err != nil:
		log.Error("Failed to store inbound email",
			zap.String("provider", p),
			zap.String("message_id", email.MessageID),
			zap.Error(err),
		)
		metrics.IncrementWebhookReceived(p, "error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "processing failed"})
		return
	}

	metrics.IncrementWebhookReceived(p, string(res.Status))
	body := gin.H{"status": res.Status}
	if res.RawEmailID != "" {
		body["raw_email_id"] = res.RawEmailID
	}
	c.JSON(http.StatusOK, body)
}
