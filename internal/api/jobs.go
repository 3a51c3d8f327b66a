package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/amillerrr/gif-pipeline/internal/logger"
	"github.com/amillerrr/gif-pipeline/internal/metrics"
	"github.com/amillerrr/gif-pipeline/internal/session"
	"github.com/amillerrr/gif-pipeline/pkg/models"
)

const (
	defaultJobListLimit = 20
	maxJobListLimit     = 100
)

// AllowedContentTypes are the accepted video upload content types.
var AllowedContentTypes = map[string]bool{
	"video/mp4":        true,
	"video/quicktime":  true,
	"video/x-msvideo":  true,
	"video/x-matroska": true,
	"video/webm":       true,
}

func (h *Handlers) jobsEnabled(ctx context.Context, w http.ResponseWriter) bool {
	if h.objects == nil || h.jobs == nil || h.queue == nil {
		h.writeError(ctx, w, http.StatusServiceUnavailable, "Asynchronous jobs are not configured")
		return false
	}
	return true
}

// InitJobRequest is the request payload for job upload initialization.
type InitJobRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
}

// InitJobResponse is the response payload for job upload initialization.
type InitJobResponse struct {
	UploadURL string `json:"uploadUrl"`
	JobID     string `json:"jobId"`
	Key       string `json:"key"`
}

// InitJobHandler returns a presigned URL the client uploads the source to.
func (h *Handlers) InitJobHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		h.writeError(ctx, w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !h.jobsEnabled(ctx, w) {
		return
	}

	ctx, span := tracer.Start(ctx, "init-job-handler")
	defer span.End()

	var req InitJobRequest
	if !h.decodeJSON(ctx, w, r, &req) {
		return
	}

	if err := validateFilename(req.Filename); err != nil {
		span.RecordError(err)
		h.writeError(ctx, w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validateContentType(req.ContentType); err != nil {
		span.RecordError(err)
		h.writeError(ctx, w, http.StatusBadRequest, err.Error())
		return
	}

	jobID := uuid.New().String()
	ext := strings.ToLower(filepath.Ext(req.Filename))
	key := fmt.Sprintf("uploads/%s%s", jobID, ext)

	span.SetAttributes(
		attribute.String("job.id", jobID),
		attribute.String("job.key", key),
	)

	uploadURL, err := h.objects.PresignUpload(ctx, h.cfg.AWS.SourceBucket, key, req.ContentType, PresignedURLExpiration)
	if err != nil {
		span.RecordError(err)
		logger.Error(ctx, h.log, "Failed to generate presigned URL", "error", err, "jobId", jobID)
		h.writeError(ctx, w, http.StatusInternalServerError, "Internal server error")
		return
	}

	logger.Info(ctx, h.log, "Generated presigned URL", "jobId", jobID, "key", key, "filename", req.Filename)
	h.writeJSON(ctx, w, http.StatusOK, InitJobResponse{UploadURL: uploadURL, JobID: jobID, Key: key})
}

// CreateJobRequest queues a conversion of an uploaded source.
type CreateJobRequest struct {
	JobID      string                  `json:"jobId"`
	Key        string                  `json:"key"`
	Filename   string                  `json:"filename"`
	Params     models.ConversionParams `json:"params"`
	Constraint models.SizeConstraint   `json:"constraint"`
	Hint       string                  `json:"hint,omitempty"`
}

// CreateJobResponse acknowledges a queued job.
type CreateJobResponse struct {
	JobID  string           `json:"jobId"`
	Status models.JobStatus `json:"status"`
}

// JobsHandler queues a job on POST and lists jobs on GET.
func (h *Handlers) JobsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.createJob(w, r)
	case http.MethodGet:
		h.listJobs(w, r)
	default:
		h.writeError(r.Context(), w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (h *Handlers) createJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.jobsEnabled(ctx, w) {
		return
	}

	ctx, span := tracer.Start(ctx, "create-job-handler")
	defer span.End()

	var req CreateJobRequest
	if !h.decodeJSON(ctx, w, r, &req) {
		return
	}

	if req.JobID == "" {
		h.writeError(ctx, w, http.StatusBadRequest, "jobId is required")
		return
	}
	if err := validateS3Key(req.Key, req.JobID); err != nil {
		span.RecordError(err)
		logger.Warn(ctx, h.log, "Invalid S3 key format", "key", req.Key, "jobId", req.JobID, "error", err)
		h.writeError(ctx, w, http.StatusBadRequest, err.Error())
		return
	}

	job := models.ConversionJob{
		JobID:      req.JobID,
		S3Key:      req.Key,
		Bucket:     h.cfg.AWS.SourceBucket,
		Filename:   req.Filename,
		Params:     req.Params,
		Constraint: req.Constraint,
		Hint:       req.Hint,
	}
	if err := job.Validate(); err != nil {
		h.writeError(ctx, w, http.StatusBadRequest, err.Error())
		return
	}

	span.SetAttributes(
		attribute.String("job.id", job.JobID),
		attribute.String("job.key", job.S3Key),
	)

	size, err := h.objects.ObjectSize(ctx, job.Bucket, job.S3Key)
	if err != nil {
		span.RecordError(err)
		logger.Warn(ctx, h.log, "Source not found in S3", "key", job.S3Key, "jobId", job.JobID, "error", err)
		h.writeError(ctx, w, http.StatusNotFound, "Video file not found in S3")
		return
	}
	span.SetAttributes(attribute.Int64("video.size_bytes", size))

	if _, err := h.jobs.CreateJob(ctx, job, size); err != nil {
		span.RecordError(err)
		logger.Error(ctx, h.log, "Failed to create job record", "jobId", job.JobID, "error", err)
		h.writeError(ctx, w, http.StatusInternalServerError, "Failed to create job")
		return
	}

	body, err := json.Marshal(job)
	if err != nil {
		span.RecordError(err)
		h.writeError(ctx, w, http.StatusInternalServerError, "Internal server error")
		return
	}

	_, err = h.queue.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(h.cfg.AWS.SQSQueueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		span.RecordError(err)
		logger.Error(ctx, h.log, "Failed to queue conversion job", "error", err, "jobId", job.JobID)
		h.writeError(ctx, w, http.StatusInternalServerError, "Failed to queue job")
		return
	}
	metrics.JobsQueued.Inc()

	logger.Info(ctx, h.log, "Conversion job queued", "jobId", job.JobID)
	h.writeJSON(ctx, w, http.StatusAccepted, CreateJobResponse{JobID: job.JobID, Status: models.StatusPending})
}

// JobListResponse is one page of jobs.
type JobListResponse struct {
	Jobs []models.JobRecord `json:"jobs"`
	More bool               `json:"more"`
}

func (h *Handlers) listJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.jobsEnabled(ctx, w) {
		return
	}

	limit := defaultJobListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			h.writeError(ctx, w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxJobListLimit)
	}

	jobs, next, err := h.jobs.ListJobs(ctx, int32(limit), nil)
	if err != nil {
		logger.Error(ctx, h.log, "Failed to list jobs", "error", err)
		h.writeError(ctx, w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []models.JobRecord{}
	}
	h.writeJSON(ctx, w, http.StatusOK, JobListResponse{Jobs: jobs, More: len(next) > 0})
}

// JobResponse is a job record plus a download URL once it completed.
type JobResponse struct {
	*models.JobRecord
	DownloadURL string `json:"downloadUrl,omitempty"`
}

// GetJobHandler returns one job.
func (h *Handlers) GetJobHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodGet {
		h.writeError(ctx, w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !h.jobsEnabled(ctx, w) {
		return
	}

	jobID := r.PathValue("id")
	ctx, span := tracer.Start(ctx, "get-job-handler",
		trace.WithAttributes(attribute.String("job.id", jobID)))
	defer span.End()

	rec, err := h.jobs.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, models.ErrJobNotFound) {
			h.writeError(ctx, w, http.StatusNotFound, "Job not found")
			return
		}
		span.RecordError(err)
		logger.Error(ctx, h.log, "Failed to get job", "jobId", jobID, "error", err)
		h.writeError(ctx, w, http.StatusInternalServerError, "Failed to retrieve job")
		return
	}

	resp := JobResponse{JobRecord: rec}
	if rec.Status == models.StatusCompleted && rec.S3GIFKey != "" {
		resp.DownloadURL, err = h.objects.PresignDownload(ctx, h.cfg.AWS.GIFBucket, rec.S3GIFKey, PresignedURLExpiration)
		if err != nil {
			span.RecordError(err)
			logger.Warn(ctx, h.log, "Failed to presign gif download", "jobId", jobID, "error", err)
		}
	}

	h.writeJSON(ctx, w, http.StatusOK, resp)
}

// Validation functions

func validateFilename(filename string) error {
	if filename == "" {
		return errors.New("filename is required")
	}
	if len(filename) > session.MaxFilenameLength {
		return models.ErrFilenameTooLong
	}
	if !session.AllowedExtension(filename) {
		return fmt.Errorf("%w: allowed extensions are mp4, mov, avi, mkv, webm", models.ErrInvalidFileType)
	}
	return nil
}

func validateContentType(contentType string) error {
	if contentType == "" {
		return errors.New("content type is required")
	}
	if !AllowedContentTypes[contentType] {
		return fmt.Errorf("%w: %s", models.ErrInvalidContentType, contentType)
	}
	return nil
}

func validateS3Key(key, jobID string) error {
	decodedKey, err := url.PathUnescape(key)
	if err != nil {
		return fmt.Errorf("%w: invalid URL encoding", models.ErrInvalidKeyFormat)
	}

	if strings.Contains(decodedKey, "..") || strings.Contains(key, "..") {
		return fmt.Errorf("%w: path traversal not allowed", models.ErrInvalidKeyFormat)
	}

	expectedPrefix := fmt.Sprintf("uploads/%s", jobID)
	if !strings.HasPrefix(key, expectedPrefix) {
		return fmt.Errorf("%w: key must start with %s", models.ErrInvalidKeyFormat, expectedPrefix)
	}

	if !session.AllowedExtension(key) {
		return fmt.Errorf("%w: invalid extension in key", models.ErrInvalidKeyFormat)
	}

	return nil
}
