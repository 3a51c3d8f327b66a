package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.opentelemetry.io/otel/attribute"

	"github.com/amillerrr/gif-pipeline/internal/converter"
	"github.com/amillerrr/gif-pipeline/internal/logger"
)

const gifContentType = "image/gif"

// Uploader stores finished GIFs and their conversion reports in S3.
type Uploader struct {
	objects ObjectStore
	bucket  string
	log     *slog.Logger
}

// NewUploader creates a new Uploader.
func NewUploader(objects ObjectStore, bucket string, log *slog.Logger) *Uploader {
	return &Uploader{
		objects: objects,
		bucket:  bucket,
		log:     logger.OrDefault(log),
	}
}

// GIFKey is the object key of a job's GIF.
func GIFKey(jobID string) string {
	return fmt.Sprintf("gifs/%s.gif", jobID)
}

// ReportKey is the object key of a job's conversion report.
func ReportKey(jobID string) string {
	return fmt.Sprintf("gifs/%s.json", jobID)
}

// Upload writes the GIF and its report and returns the GIF key.
func (u *Uploader) Upload(ctx context.Context, jobID string, res *converter.Result) (string, error) {
	ctx, span := tracer.Start(ctx, "upload-gif")
	defer span.End()

	key := GIFKey(jobID)
	_, err := u.objects.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(res.Data),
		ContentType: aws.String(gifContentType),
		Metadata: map[string]string{
			"best-effort": strconv.FormatBool(res.BestEffort),
			"params":      res.Params.String(),
			"constraint":  res.ReportedConstraint.String(),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", key, err)
	}

	report, err := json.Marshal(res)
	if err != nil {
		return "", fmt.Errorf("failed to encode report: %w", err)
	}
	_, err = u.objects.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(ReportKey(jobID)),
		Body:        bytes.NewReader(report),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload report: %w", err)
	}

	span.SetAttributes(
		attribute.String("gif.key", key),
		attribute.Int64("gif.size_bytes", res.SizeBytes),
	)
	logger.Info(ctx, u.log, "GIF upload complete",
		"jobId", jobID,
		"key", key,
		"sizeBytes", res.SizeBytes,
	)

	return key, nil
}
