package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/joho/godotenv"

	"github.com/amillerrr/gif-pipeline/internal/api"
	"github.com/amillerrr/gif-pipeline/internal/auth"
	"github.com/amillerrr/gif-pipeline/internal/config"
	"github.com/amillerrr/gif-pipeline/internal/converter"
	"github.com/amillerrr/gif-pipeline/internal/health"
	"github.com/amillerrr/gif-pipeline/internal/logger"
	"github.com/amillerrr/gif-pipeline/internal/observability"
	"github.com/amillerrr/gif-pipeline/internal/session"
	"github.com/amillerrr/gif-pipeline/internal/storage"
)

const (
	ShutdownTimeout       = 30 * time.Second
	TracerShutdownTimeout = 5 * time.Second
	AWSConfigTimeout      = 10 * time.Second
)

func main() {
	bootLog := logger.New("info")

	// Load .env file if present
	if err := godotenv.Load(); err != nil {
		bootLog.Info("No .env file found, using system environment variables")
	}

	// Load configuration
	cfg, err := config.LoadAPI()
	if err != nil {
		bootLog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)

	// Initialize tracer
	shutdownTracer, err := observability.InitTracer(context.Background(), "gif-api", cfg)
	if err != nil {
		log.Error("Failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), TracerShutdownTimeout)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			log.Error("Failed to shutdown tracer", "error", err)
		}
	}()

	engine := converter.FromConfig(cfg, log)

	sessions := session.NewStore(session.StoreConfig{
		Root:   filepath.Join(cfg.Engine.TempDir, "sessions"),
		TTL:    cfg.Engine.SessionTTL,
		Logger: log,
	})

	// Initialize JWT service
	jwtSecret, err := cfg.GetJWTSecret()
	if err != nil {
		log.Error("Failed to get JWT secret", "error", err)
		os.Exit(1)
	}
	jwtService, err := auth.NewJWTService(jwtSecret, auth.WithTTL(cfg.API.TokenTTL))
	if err != nil {
		log.Error("Failed to create JWT service", "error", err)
		os.Exit(1)
	}

	// Initialize rate limiter
	rateLimiter := auth.NewRateLimiter(auth.DefaultRateLimiterConfig())

	// Initialize health checker
	healthConfig := health.DefaultConfig("gif-api", log)
	healthConfig.Components["ffmpeg"] = health.BinaryCheck(cfg.Engine.FFmpegPath)
	healthConfig.Components["ffprobe"] = health.BinaryCheck(cfg.Engine.FFprobePath)
	if cfg.LLM.Enabled() {
		healthConfig.Components["llm"] = engine.Ping
	}

	serverConfig := &api.ServerConfig{
		Config:        cfg,
		Logger:        log,
		Engine:        engine,
		Sessions:      sessions,
		JWTService:    jwtService,
		RateLimiter:   rateLimiter,
		HealthChecker: health.NewChecker(healthConfig),
	}

	// AWS clients back the asynchronous job endpoints only
	if cfg.AsyncJobsEnabled() {
		ctx, cancel := context.WithTimeout(context.Background(), AWSConfigTimeout)
		awsCfg, err := storage.LoadAWSConfig(ctx, cfg.AWS.Region)
		cancel()
		if err != nil {
			log.Error("Failed to load AWS config", "error", err)
			os.Exit(1)
		}

		s3Client := storage.NewS3Client(awsCfg)
		sqsClient := sqs.NewFromConfig(awsCfg)
		jobRepo, err := storage.NewJobRepository(awsCfg, cfg.AWS.DynamoDBTable)
		if err != nil {
			log.Error("Failed to initialize job repository", "error", err)
			os.Exit(1)
		}
		log.Info("Asynchronous jobs enabled", "queue", cfg.AWS.SQSQueueURL, "table", cfg.AWS.DynamoDBTable)

		healthConfig.S3Client = s3Client
		healthConfig.S3Bucket = cfg.AWS.SourceBucket
		healthConfig.SQSClient = sqsClient
		healthConfig.SQSQueueURL = cfg.AWS.SQSQueueURL

		serverConfig.Objects = s3Client
		serverConfig.Jobs = jobRepo
		serverConfig.Queue = sqsClient
	}

	server := api.NewServer(serverConfig)

	// Start server in goroutine
	go func() {
		if err := server.Start(); err != nil {
			log.Error("Server error", "error", err)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}

	log.Info("Server shutdown complete")
}
