package models

import (
	"errors"
	"fmt"
)

// Sentinel errors for conversion operations.
var (
	// Fatal pipeline errors
	ErrProbeFailed        = errors.New("video probe failed")
	ErrSampleFailed       = errors.New("frame sampling failed")
	ErrInsufficientFrames = errors.New("insufficient frames")
	ErrEncodeFailed       = errors.New("gif encode failed")
	ErrFFmpegFailed       = errors.New("ffmpeg execution failed")

	// Non-fatal signals, logged and flagged but never returned by Convert
	ErrEstimationFallback      = errors.New("size estimate is a conservative fallback")
	ErrSuggestionUnavailable   = errors.New("suggestion service unavailable")
	ErrConstraintUnsatisfiable = errors.New("size constraint not satisfiable")

	// Validation errors
	ErrInvalidConstraint = errors.New("invalid size constraint")
	ErrInvalidParams     = errors.New("invalid conversion parameters")
	ErrNoVideo           = errors.New("no video loaded in session")
	ErrSessionReset      = errors.New("session was reset during the request")

	// Job errors
	ErrMissingJobID    = errors.New("jobId is required")
	ErrMissingS3Key    = errors.New("s3Key is required")
	ErrMissingBucket   = errors.New("bucket is required")
	ErrJobParseFailed  = errors.New("failed to parse job")
	ErrDownloadFailed  = errors.New("failed to download video")
	ErrUploadFailed    = errors.New("failed to upload gif")
	ErrContextCanceled = errors.New("context canceled")

	// Storage errors
	ErrJobNotFound   = errors.New("job not found")
	ErrInvalidStatus = errors.New("invalid job status")

	// Upload validation errors
	ErrInvalidFileType    = errors.New("invalid file type")
	ErrFilenameTooLong    = errors.New("filename too long")
	ErrInvalidContentType = errors.New("invalid content type")
	ErrInvalidKeyFormat   = errors.New("invalid key format")
)

// Pipeline stage names used in StageError.
const (
	StageProbe  = "probe"
	StageSample = "sample"
	StageEncode = "encode"
)

// StageError reports which pipeline stage failed and why.
type StageError struct {
	Stage  string
	Reason string
	Err    error
}

func (e *StageError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", e.Stage, e.Err, e.Reason)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// NewStageError builds a StageError with a formatted reason.
func NewStageError(stage string, sentinel error, format string, args ...any) *StageError {
	return &StageError{
		Stage:  stage,
		Reason: fmt.Sprintf(format, args...),
		Err:    sentinel,
	}
}
