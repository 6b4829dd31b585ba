package httpserver

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"digestgenie/pkg/rbac"
	"digestgenie/pkg/util"
)

const (
	ctxSubject = "subject"
	ctxRole    = "role"
)

func AuthMiddleware(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := util.ExtractToken(c.Request)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}

		claims, err := util.ParseJWT(token, jwtSecret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		// store operator identity in context so handlers and RBAC can use it
		c.Set(ctxSubject, claims.Subject)
		c.Set(ctxRole, claims.Role)
		c.Next()
	}
}

// RequirePermission 中间件：要求操作员角色具有指定权限
func RequirePermission(permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		subject := c.GetString(ctxSubject)
		if subject == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "operator not authenticated"})
			return
		}

		if err := rbac.CheckPermission(subject, c.GetString(ctxRole), permission); err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": err.Error()})
			return
		}
		c.Next()
	}
}
