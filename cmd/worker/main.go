package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/amillerrr/gif-pipeline/internal/config"
	"github.com/amillerrr/gif-pipeline/internal/converter"
	"github.com/amillerrr/gif-pipeline/internal/health"
	"github.com/amillerrr/gif-pipeline/internal/logger"
	"github.com/amillerrr/gif-pipeline/internal/observability"
	"github.com/amillerrr/gif-pipeline/internal/storage"
	"github.com/amillerrr/gif-pipeline/internal/worker"
)

const (
	AWSConfigTimeout = 10 * time.Second
	ShutdownTimeout  = 5 * time.Second
)

func main() {
	bootLog := logger.New("info")

	if err := godotenv.Load(); err != nil {
		logger.Info(context.Background(), bootLog, "No .env file found, relying on system ENV variables")
	}

	cfg, err := config.LoadWorker()
	if err != nil {
		logger.Error(context.Background(), bootLog, "Invalid configuration", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)

	// Initialize tracing
	shutdownTracer, err := observability.InitTracer(context.Background(), "gif-worker", cfg)
	if err != nil {
		logger.Error(context.Background(), log, "Failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Error(context.Background(), log, "Failed to shutdown tracer", "error", err)
		}
	}()

	// AWS Config and client initialization
	ctx, cancel := context.WithTimeout(context.Background(), AWSConfigTimeout)
	awsCfg, err := storage.LoadAWSConfig(ctx, cfg.AWS.Region)
	cancel()
	if err != nil {
		logger.Error(context.Background(), log, "Failed to load AWS config", "error", err)
		os.Exit(1)
	}

	jobRepo, err := storage.NewJobRepository(awsCfg, cfg.AWS.DynamoDBTable)
	if err != nil {
		logger.Error(context.Background(), log, "Failed to initialize job repository", "error", err)
		os.Exit(1)
	}

	s3Client := storage.NewS3Client(awsCfg)
	sqsClient := sqs.NewFromConfig(awsCfg)
	engine := converter.FromConfig(cfg, log)

	w := worker.New(worker.Config{
		Queue:             sqsClient,
		QueueURL:          cfg.AWS.SQSQueueURL,
		Jobs:              jobRepo,
		Converter:         engine,
		Objects:           s3Client,
		GIFBucket:         cfg.AWS.GIFBucket,
		TempDir:           cfg.Engine.TempDir,
		MaxConcurrentJobs: cfg.Worker.MaxConcurrentJobs,
		Logger:            log,
	})

	healthConfig := health.DefaultConfig("gif-worker", log)
	healthConfig.S3Client = s3Client
	healthConfig.S3Bucket = cfg.AWS.SourceBucket
	healthConfig.SQSClient = sqsClient
	healthConfig.SQSQueueURL = cfg.AWS.SQSQueueURL
	healthConfig.Components["ffmpeg"] = health.BinaryCheck(cfg.Engine.FFmpegPath)
	healthConfig.Components["ffprobe"] = health.BinaryCheck(cfg.Engine.FFprobePath)
	if cfg.LLM.Enabled() {
		healthConfig.Components["llm"] = engine.Ping
	}

	metricsServer := newMetricsServer(cfg.Worker.MetricsPort, health.NewChecker(healthConfig))
	go func() {
		logger.Info(context.Background(), log, "Starting metrics server", "port", cfg.Worker.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), log, "Metrics server error", "error", err)
		}
	}()

	// Graceful shutdown
	ctx, cancel = context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-quit
		logger.Info(context.Background(), log, "Shutting down worker...")
		cancel()
	}()

	w.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error(context.Background(), log, "Failed to shutdown metrics server", "error", err)
	}
}

func newMetricsServer(port int, checker *health.Checker) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", checker.Handler())
	mux.HandleFunc("/health/deep", checker.DeepHandler())

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
