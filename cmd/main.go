package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"document-context-platform/internal/assembler"
	"document-context-platform/internal/config"
	"document-context-platform/internal/logger"
	"document-context-platform/internal/notifier"
	"document-context-platform/internal/pipeline"
	"document-context-platform/internal/queue"
	"document-context-platform/internal/retry"
	"document-context-platform/internal/store"
	"document-context-platform/internal/telemetry"
	"document-context-platform/routes"
	"document-context-platform/services"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}
	logger.InitLogger(cfg)

	if cfg.TracingEnabled {
		shutdown, err := telemetry.InitTracer("document-context-api", cfg.OTLPEndpoint)
		if err != nil {
			logger.Warn("tracing disabled", "error", err)
		} else {
			defer shutdown()
		}
	}
	metrics, err := telemetry.InitMetrics()
	if err != nil {
		logger.Warn("metrics unavailable", "error", err)
	}

	mongoClient, err := config.ConnectMongoDB(cfg)
	if err != nil {
		log.Fatal("Failed to connect to MongoDB:", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		mongoClient.Disconnect(ctx)
	}()

	recordStore := store.NewRecordStore(mongoClient.Database(cfg.DBName))

	// Redis backs the rate limiter and the task queue. Either degrades
	// gracefully: no limiter, and pipelines run in-process.
	rdb, err := config.NewRedisClient(cfg)
	if err != nil {
		logger.Warn("redis unavailable, rate limiting disabled and pipelines run in-process", "error", err)
		rdb = nil
	}

	extractor := services.NewExtractor(cfg)
	compressor, err := services.NewCompressor(cfg)
	if err != nil {
		log.Fatal("Failed to initialize compressor:", err)
	}
	defer compressor.Close()
	embedder, err := services.NewEmbedder(cfg)
	if err != nil {
		log.Fatal("Failed to initialize embedder:", err)
	}
	defer embedder.Close()

	writePolicy := retry.DefaultWritePolicy()
	if cfg.WriteRetryAttempts > 0 {
		writePolicy.MaxAttempts = cfg.WriteRetryAttempts
	}
	orchOpts := []pipeline.Option{
		pipeline.WithMaxSize(cfg.MaxFileSize),
		pipeline.WithWriteRetry(writePolicy),
	}
	if metrics != nil {
		orchOpts = append(orchOpts, pipeline.WithMetrics(metrics))
	}
	if rdb != nil {
		asynqClient := asynq.NewClient(asynq.RedisClientOpt{
			Addr:     cfg.RedisURL,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer asynqClient.Close()
		orchOpts = append(orchOpts, pipeline.WithEnqueuer(queue.NewEnqueuer(asynqClient)))
	}
	orchestrator := pipeline.NewOrchestrator(recordStore, extractor, compressor, embedder, orchOpts...)

	n := notifier.New(recordStore)
	asm := assembler.New(recordStore)

	if cfg.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("document-context-api"))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.CORSOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "X-Owner-ID", "X-Request-ID"}
	router.Use(cors.New(corsConfig))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": time.Now()})
	})

	routes.SetupRoutes(router, cfg, recordStore, orchestrator, n, asm, rdb, metrics)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info("Server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	logger.Info("Server exited")
}
