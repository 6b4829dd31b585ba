package httpserver

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"digestgenie/api-gateway/internal/handler"
	"digestgenie/internal/httpserver"
	"digestgenie/pkg/rbac"
)

func NewRouter(
	log *zap.Logger,
	authHandler *handler.AuthHandler,
	adminHandler *handler.AdminHandler,
	jwtSecret string,
	allowedOrigins []string,
	checks ...httpserver.ReadinessCheck,
) *gin.Engine {
	r := httpserver.NewEngine(log, checks...)

	log.Info("CORS allowed origins", zap.Strings("origins", allowedOrigins))
	r.Use(cors.New(cors.Config{
		AllowOrigins: allowedOrigins,
		AllowMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
	}))

	// Public
	r.POST("/login", authHandler.Login)

	// Protected
	admin := r.Group("/admin")
	admin.Use(AuthMiddleware(jwtSecret))
	{
		admin.GET("/jobs", RequirePermission(rbac.PermissionReadJobs), adminHandler.ListJobs)
		admin.POST("/jobs/:id/retry", RequirePermission(rbac.PermissionRetryJobs), adminHandler.RetryJob)

		admin.GET("/emails/unprocessed", RequirePermission(rbac.PermissionReadJobs), adminHandler.ListUnprocessed)
		admin.POST("/emails/:id/reprocess", RequirePermission(rbac.PermissionReprocess), adminHandler.Reprocess)

		admin.GET("/newsletters", RequirePermission(rbac.PermissionReadNewsletters), adminHandler.ListNewsletters)

		admin.GET("/flags", RequirePermission(rbac.PermissionReadFlags), adminHandler.ListFlags)
		admin.PUT("/flags/:name", RequirePermission(rbac.PermissionWriteFlags), adminHandler.SetFlag)

		admin.POST("/outbox/replay", RequirePermission(rbac.PermissionReplayOutbox), adminHandler.ReplayOutboxEvent)
		admin.POST("/outbox/replay-failed", RequirePermission(rbac.PermissionReplayOutbox), adminHandler.ReplayFailedEvents)

		admin.POST("/users/:id/address", RequirePermission(rbac.PermissionAssignAddress), adminHandler.AssignAddress)
	}

	return r
}
