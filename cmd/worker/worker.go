package main

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/hibiken/asynq"

	"document-context-platform/internal/config"
	"document-context-platform/internal/logger"
	"document-context-platform/internal/pipeline"
	"document-context-platform/internal/queue"
	"document-context-platform/internal/retry"
	"document-context-platform/internal/store"
	"document-context-platform/internal/telemetry"
	"document-context-platform/services"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}
	logger.InitLogger(cfg)

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
	metrics, err := telemetry.InitMetrics()
	if err != nil {
		logger.Warn("metrics unavailable", "error", err)
	} else {
		orchOpts = append(orchOpts, pipeline.WithMetrics(metrics))
	}
	orchestrator := pipeline.NewOrchestrator(recordStore, extractor, compressor, embedder, orchOpts...)

	// Sweep records stuck in processing; covers worker crashes between
	// stage writes, which would otherwise leave rows non-terminal forever.
	scheduler := gocron.NewScheduler(time.UTC)
	staleAfter := time.Duration(cfg.StaleProcessingMins) * time.Minute
	_, err = scheduler.Every(5).Minutes().Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		n, err := recordStore.FailStale(ctx, staleAfter)
		if err != nil {
			logger.Error("stale record sweep failed", "error", err)
			return
		}
		if n > 0 {
			logger.Warn("failed stale processing records", "count", n)
		}
	})
	if err != nil {
		log.Fatal("Failed to schedule stale sweep:", err)
	}
	scheduler.StartAsync()
	defer scheduler.Stop()

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
			StrictPriority: true,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("task failed", "type", task.Type(), "error", err)
			}),
		},
	)

	processor := queue.NewTaskProcessor(orchestrator)

	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TaskProcessUpload, processor.ProcessUpload)

	logger.Info("Starting worker", "redis", redisOpt.Addr, "concurrency", 10)
	if err := server.Run(mux); err != nil {
		log.Fatal("Failed to start worker:", err)
	}
}
