package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"document-context-platform/internal/assembler"
	"document-context-platform/internal/config"
	"document-context-platform/internal/notifier"
	"document-context-platform/internal/pipeline"
	"document-context-platform/internal/store"
	"document-context-platform/internal/telemetry"
	"document-context-platform/middleware"
)

// SetupRoutes registers the owner-scoped API surface.
func SetupRoutes(
	router *gin.Engine,
	cfg *config.Config,
	recordStore *store.RecordStore,
	orchestrator *pipeline.Orchestrator,
	n *notifier.Notifier,
	asm *assembler.Assembler,
	rdb *redis.Client,
	metrics *telemetry.Metrics,
) {
	api := router.Group("/api")
	api.Use(middleware.RequestIDMiddleware())
	if rdb != nil {
		api.Use(middleware.RateLimitMiddleware(rdb, cfg))
	}
	api.Use(middleware.RequireOwner())

	api.POST("/uploads", HandleUpload(cfg, orchestrator, metrics))
	api.GET("/uploads", ListUploads(recordStore))
	api.GET("/uploads/events", StreamEvents(cfg, n, metrics))
	api.GET("/uploads/export", ExportUploads(recordStore))
	api.GET("/uploads/:id", GetUpload(recordStore))
	api.DELETE("/uploads/:id", DeleteUpload(recordStore))

	api.GET("/context", PreviewContext(cfg, asm, metrics))
}
