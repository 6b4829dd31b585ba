package httpserver

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"digestgenie/internal/httpserver"
	"digestgenie/mail-ingestion-service/internal/handler"
)

// NewRouter registers the webhook endpoints on top of the shared health/metrics engine.
func NewRouter(log *zap.Logger, webhookHandler *handler.WebhookHandler, checks ...httpserver.ReadinessCheck) *gin.Engine {
	r := httpserver.NewEngine(log, checks...)

	hooks := r.Group("/webhooks")
	hooks.GET("/email", webhookHandler.Challenge)
	hooks.POST("/email", webhookHandler.Receive)

	return r
}
