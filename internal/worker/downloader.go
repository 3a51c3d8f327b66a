package worker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.opentelemetry.io/otel/attribute"

	"github.com/amillerrr/gif-pipeline/internal/logger"
	"github.com/amillerrr/gif-pipeline/pkg/models"
)

// ObjectStore is the subset of the S3 client the worker uses.
type ObjectStore interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Downloader fetches source videos from S3.
type Downloader struct {
	objects ObjectStore
	dir     string
	log     *slog.Logger
}

// NewDownloader creates a Downloader writing under tempDir.
func NewDownloader(objects ObjectStore, tempDir string, log *slog.Logger) *Downloader {
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &Downloader{
		objects: objects,
		dir:     filepath.Join(tempDir, "jobs"),
		log:     logger.OrDefault(log),
	}
}

// Download copies the job's source video to a local temporary file.
func (d *Downloader) Download(ctx context.Context, job *models.ConversionJob) (string, error) {
	ctx, span := tracer.Start(ctx, "download-video")
	defer span.End()

	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create temp directory: %w", err)
	}

	ext := filepath.Ext(job.S3Key)
	tmpFile, err := os.CreateTemp(d.dir, fmt.Sprintf("%s-*%s", job.JobID, ext))
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	result, err := d.objects.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(job.Bucket),
		Key:    aws.String(job.S3Key),
	})
	if err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to get object from S3: %w", err)
	}
	defer result.Body.Close()

	written, err := io.Copy(tmpFile, result.Body)
	if err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to write file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}

	span.SetAttributes(attribute.Int64("video.size_bytes", written))
	logger.Info(ctx, d.log, "Downloaded video",
		"jobId", job.JobID,
		"sizeBytes", written,
	)

	return tmpPath, nil
}

// Cleanup removes a downloaded file.
func (d *Downloader) Cleanup(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		d.log.Warn("Failed to remove temp file", "path", path, "error", err)
	}
}
