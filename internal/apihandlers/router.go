package apihandlers

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"rustler/internal/metrics"
)

// NewRouter mounts every API route on a fresh gin engine.
func NewRouter(h *APIHandler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(), requestMetrics())

	v1 := router.Group("/api/v1")
	{
		files := v1.Group("/files")
		{
			files.POST("", h.UploadFileHandler)
			files.GET("", h.ListFilesHandler)
			files.GET("/:id", h.GetFileHandler)
		}

		admin := v1.Group("/admin")
		{
			admin.POST("/reconcile", h.ReconcileHandler)
		}
	}

	// Legacy upload path kept for existing clients.
	router.POST("/upload", h.UploadFileHandler)

	router.GET("/health", h.HealthHandler)
	router.GET("/health/:target", h.HealthHandler)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	return router
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		entry := log.WithFields(log.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start),
			"client":   c.ClientIP(),
		})
		if c.Writer.Status() >= 500 {
			entry.Warn("Request failed")
			return
		}
		entry.Debug("Request served")
	}
}

func requestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.HTTPDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
