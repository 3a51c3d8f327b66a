// Package worker converts queued videos to GIFs: it polls SQS, downloads
// the source from S3, runs the converter and records the result.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/amillerrr/gif-pipeline/internal/converter"
	"github.com/amillerrr/gif-pipeline/internal/logger"
	"github.com/amillerrr/gif-pipeline/internal/metrics"
	"github.com/amillerrr/gif-pipeline/pkg/models"
)

// SQS configuration constants
const (
	SQSMaxMessages       = 1
	SQSWaitTimeSeconds   = 20
	SQSVisibilityTimeout = 900 // 15 minutes
	RetryBackoffPeriod   = 5 * time.Second
)

var tracer = otel.Tracer("gif-worker")

// Queue is the subset of the SQS client the worker uses.
type Queue interface {
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// JobStore records job progress.
type JobStore interface {
	MarkProcessing(ctx context.Context, jobID string) error
	CompleteJob(ctx context.Context, jobID string, res models.JobResult) error
	FailJob(ctx context.Context, jobID, errorMessage string) error
}

// Converter turns a local video into a GIF.
type Converter interface {
	ConvertFile(ctx context.Context, path string, req converter.Request) (*converter.Result, error)
}

// Worker handles conversion jobs from SQS.
type Worker struct {
	queue         Queue
	queueURL      string
	jobs          JobStore
	converter     Converter
	downloader    *Downloader
	uploader      *Uploader
	maxConcurrent int
	retryBackoff  time.Duration
	log           *slog.Logger
}

// Config holds worker dependencies.
type Config struct {
	Queue             Queue
	QueueURL          string
	Jobs              JobStore
	Converter         Converter
	Objects           ObjectStore
	GIFBucket         string
	TempDir           string
	MaxConcurrentJobs int
	Logger            *slog.Logger
}

// New creates a new Worker with the given configuration.
func New(cfg Config) *Worker {
	log := logger.OrDefault(cfg.Logger)
	if cfg.MaxConcurrentJobs <= 0 {
		cfg.MaxConcurrentJobs = 1
	}
	return &Worker{
		queue:         cfg.Queue,
		queueURL:      cfg.QueueURL,
		jobs:          cfg.Jobs,
		converter:     cfg.Converter,
		downloader:    NewDownloader(cfg.Objects, cfg.TempDir, log),
		uploader:      NewUploader(cfg.Objects, cfg.GIFBucket, log),
		maxConcurrent: cfg.MaxConcurrentJobs,
		retryBackoff:  RetryBackoffPeriod,
		log:           log,
	}
}

// Run polls the queue until ctx is cancelled, then waits for in-flight jobs.
func (w *Worker) Run(ctx context.Context) {
	logger.Info(ctx, w.log, "Starting queue polling",
		"queueURL", w.queueURL,
		"maxConcurrent", w.maxConcurrent,
	)

	sem := make(chan struct{}, w.maxConcurrent)
	var wg sync.WaitGroup
	defer func() {
		logger.Info(context.Background(), w.log, "Waiting for in-progress jobs to complete...")
		wg.Wait()
		logger.Info(context.Background(), w.log, "All jobs completed, shutting down")
	}()

	for {
		if ctx.Err() != nil {
			return
		}

		result, err := w.queue.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(w.queueURL),
			MaxNumberOfMessages: SQSMaxMessages,
			WaitTimeSeconds:     SQSWaitTimeSeconds,
			VisibilityTimeout:   SQSVisibilityTimeout,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error(ctx, w.log, "Failed to receive messages", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.retryBackoff):
			}
			continue
		}

		for _, msg := range result.Messages {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}

			wg.Add(1)
			go func(msg types.Message) {
				defer wg.Done()
				defer func() { <-sem }()
				w.handle(ctx, msg)
			}(msg)
		}
	}
}

// handle processes one message and deletes it unless a retry could help.
func (w *Worker) handle(ctx context.Context, msg types.Message) {
	metrics.ActiveJobs.Inc()
	defer metrics.ActiveJobs.Dec()

	err := w.processMessage(ctx, msg)
	if err != nil {
		logger.Error(ctx, w.log, "Failed to process message",
			"error", err,
			"messageId", aws.ToString(msg.MessageId),
		)
		metrics.RecordJobFailure()
		if !permanent(err) {
			return
		}
	} else {
		metrics.RecordJobSuccess()
	}

	_, delErr := w.queue.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(w.queueURL),
		ReceiptHandle: msg.ReceiptHandle,
	})
	if delErr != nil {
		logger.Error(ctx, w.log, "Failed to delete message", "error", delErr)
	}
}

// permanent reports whether redelivering the message would fail again.
func permanent(err error) bool {
	return errors.Is(err, models.ErrJobParseFailed) ||
		errors.Is(err, models.ErrProbeFailed) ||
		errors.Is(err, models.ErrInsufficientFrames) ||
		errors.Is(err, models.ErrInvalidParams)
}

func (w *Worker) processMessage(ctx context.Context, msg types.Message) error {
	ctx, span := tracer.Start(ctx, "process-message")
	defer span.End()

	if msg.Body == nil {
		return fmt.Errorf("%w: empty message body", models.ErrJobParseFailed)
	}

	var job models.ConversionJob
	if err := json.Unmarshal([]byte(*msg.Body), &job); err != nil {
		return fmt.Errorf("%w: %v", models.ErrJobParseFailed, err)
	}

	if err := job.Validate(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrJobParseFailed, err)
	}

	span.SetAttributes(
		attribute.String("job.id", job.JobID),
		attribute.String("job.s3_key", job.S3Key),
		attribute.String("job.filename", job.Filename),
	)

	if err := w.processJob(ctx, &job); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (w *Worker) processJob(ctx context.Context, job *models.ConversionJob) (processingErr error) {
	logger.Info(ctx, w.log, "Processing job",
		"jobId", job.JobID,
		"s3Key", job.S3Key,
		"filename", job.Filename,
	)

	if err := w.jobs.MarkProcessing(ctx, job.JobID); err != nil {
		logger.Warn(ctx, w.log, "Failed to update job status to processing",
			"jobId", job.JobID,
			"error", err,
		)
	}

	defer func() {
		if processingErr != nil {
			if failErr := w.jobs.FailJob(context.WithoutCancel(ctx), job.JobID, processingErr.Error()); failErr != nil {
				logger.Error(ctx, w.log, "Failed to mark job as failed",
					"jobId", job.JobID,
					"error", failErr,
				)
			}
		}
	}()

	downloadStart := time.Now()
	localPath, err := w.downloader.Download(ctx, job)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrDownloadFailed, err)
	}
	metrics.DownloadDuration.Observe(time.Since(downloadStart).Seconds())
	defer w.downloader.Cleanup(localPath)

	if ctx.Err() != nil {
		return fmt.Errorf("%w: before conversion", models.ErrContextCanceled)
	}

	res, err := w.converter.ConvertFile(ctx, localPath, jobRequest(job))
	if err != nil {
		return err
	}

	if ctx.Err() != nil {
		return fmt.Errorf("%w: before upload", models.ErrContextCanceled)
	}

	uploadStart := time.Now()
	key, err := w.uploader.Upload(ctx, job.JobID, res)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrUploadFailed, err)
	}
	metrics.UploadDuration.Observe(time.Since(uploadStart).Seconds())

	result := models.JobResult{
		GIFKey:             key,
		GIFSizeBytes:       res.SizeBytes,
		DurationSeconds:    res.Duration.Seconds(),
		FinalParams:        res.Params,
		ReportedConstraint: res.ReportedConstraint,
		BestEffort:         res.BestEffort,
	}
	if err := w.jobs.CompleteJob(ctx, job.JobID, result); err != nil {
		// The GIF is uploaded; only the record is stale.
		logger.Error(ctx, w.log, "Failed to mark job as completed",
			"jobId", job.JobID,
			"error", err,
		)
	}

	logger.Info(ctx, w.log, "Job processed successfully",
		"jobId", job.JobID,
		"gifKey", key,
		"sizeBytes", res.SizeBytes,
		"bestEffort", res.BestEffort,
		"durationSeconds", res.Duration.Seconds(),
	)

	return nil
}

// jobRequest maps a queued job onto a converter request. Zero params mean
// the defaults for the source; a hint asks for the first suggestion.
func jobRequest(job *models.ConversionJob) converter.Request {
	req := converter.Request{
		Constraint:    job.Constraint,
		Hint:          job.Hint,
		UseSuggestion: job.Hint != "",
	}
	if job.Params != (models.ConversionParams{}) {
		p := job.Params
		req.Params = &p
	}
	return req
}
