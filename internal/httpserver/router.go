// Package httpserver holds the gin setup shared by every service: health and readiness
// endpoints, Prometheus scraping, trace propagation and request metrics.
package httpserver

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"digestgenie/pkg/logger"
	"digestgenie/pkg/metrics"
	"digestgenie/pkg/trace"
)

// ReadinessCheck is run by /readyz; any error makes the service not ready.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// NewEngine returns a gin engine with the common middleware and endpoints registered.
func NewEngine(log *zap.Logger, checks ...ReadinessCheck) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), trace.Middleware(), RequestMetrics(), AccessLog(log))

	// Health endpoints (放在最前面)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		defer cancel()

		for _, check := range checks {
			if err := check.Check(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": check.Name + "_not_ready", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

// RequestMetrics records latency per route template, not per raw path.
func RequestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.RecordHTTPRequestDuration(c.Request.Method, path, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}

func AccessLog(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if c.FullPath() == "/healthz" || c.FullPath() == "/metrics" {
			return
		}
		logger.WithTrace(c.Request.Context(), log).Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)),
		)
	}
}

// Serve runs srv in the background; a listen failure other than a clean shutdown is fatal.
func Serve(srv *http.Server, log *zap.Logger) {
	go func() {
		log.Info("HTTP server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()
}

// Shutdown stops srv, waiting up to timeout for in-flight requests.
func Shutdown(srv *http.Server, timeout time.Duration, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
		return
	}
	log.Info("HTTP server stopped")
}
