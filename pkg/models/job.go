package models

// JobStatus represents the processing status of a conversion job.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// IsValid returns true if the status is a valid JobStatus.
func (s JobStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// JobRecord is the DynamoDB item for an asynchronous conversion.
type JobRecord struct {
	// Keys
	PK     string `dynamodbav:"pk" json:"-"`
	SK     string `dynamodbav:"sk" json:"-"`
	GSI1PK string `dynamodbav:"gsi1pk,omitempty" json:"-"`
	GSI1SK string `dynamodbav:"gsi1sk,omitempty" json:"-"`

	// Attributes
	JobID              string            `dynamodbav:"job_id" json:"jobId"`
	Filename           string            `dynamodbav:"filename" json:"filename"`
	Status             JobStatus         `dynamodbav:"status" json:"status"`
	S3SourceKey        string            `dynamodbav:"s3_source_key" json:"s3SourceKey"`
	S3GIFKey           string            `dynamodbav:"s3_gif_key,omitempty" json:"s3GifKey,omitempty"`
	SourceSizeBytes    int64             `dynamodbav:"source_size_bytes,omitempty" json:"sourceSizeBytes,omitempty"`
	GIFSizeBytes       int64             `dynamodbav:"gif_size_bytes,omitempty" json:"gifSizeBytes,omitempty"`
	DurationSeconds    float64           `dynamodbav:"duration_seconds,omitempty" json:"durationSeconds,omitempty"`
	RequestedParams    ConversionParams  `dynamodbav:"requested_params" json:"requestedParams"`
	FinalParams        *ConversionParams `dynamodbav:"final_params,omitempty" json:"finalParams,omitempty"`
	Constraint         SizeConstraint    `dynamodbav:"constraint" json:"constraint"`
	ReportedConstraint *SizeConstraint   `dynamodbav:"reported_constraint,omitempty" json:"reportedConstraint,omitempty"`
	BestEffort         bool              `dynamodbav:"best_effort" json:"bestEffort"`
	CreatedAt          string            `dynamodbav:"created_at" json:"createdAt"`
	UpdatedAt          string            `dynamodbav:"updated_at" json:"updatedAt"`
	ProcessedAt        string            `dynamodbav:"processed_at,omitempty" json:"processedAt,omitempty"`
	ErrorMessage       string            `dynamodbav:"error_message,omitempty" json:"errorMessage,omitempty"`
}

// JobResult is what the worker records on completion.
type JobResult struct {
	GIFKey             string
	GIFSizeBytes       int64
	DurationSeconds    float64
	FinalParams        ConversionParams
	ReportedConstraint SizeConstraint
	BestEffort         bool
}

// ConversionJob represents a conversion job from SQS.
type ConversionJob struct {
	JobID      string           `json:"jobId"`
	S3Key      string           `json:"s3Key"`
	Bucket     string           `json:"bucket"`
	Filename   string           `json:"filename"`
	Params     ConversionParams `json:"params"`
	Constraint SizeConstraint   `json:"constraint"`
	Hint       string           `json:"hint,omitempty"`
}

// Validate checks if the job has all required fields.
func (j *ConversionJob) Validate() error {
	if j.JobID == "" {
		return ErrMissingJobID
	}
	if j.S3Key == "" {
		return ErrMissingS3Key
	}
	if j.Bucket == "" {
		return ErrMissingBucket
	}
	if j.Constraint.Enabled {
		if err := j.Constraint.Validate(); err != nil {
			return err
		}
	}
	return nil
}
