package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/amillerrr/gif-pipeline/pkg/models"
)

const (
	jobSortKey   = "METADATA"
	allJobsIndex = "GSI1"
	allJobsKey   = "ALL_JOBS"
)

// DynamoDBAPI is the subset of the DynamoDB client the repository uses.
type DynamoDBAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// JobRepository stores asynchronous conversion jobs in DynamoDB.
type JobRepository struct {
	client    DynamoDBAPI
	tableName string
	now       func() time.Time
}

// NewJobRepository creates a JobRepository on an AWS configuration.
func NewJobRepository(awsCfg aws.Config, tableName string) (*JobRepository, error) {
	if tableName == "" {
		return nil, errors.New("DynamoDB table name is required")
	}
	return NewJobRepositoryFromClient(dynamodb.NewFromConfig(awsCfg), tableName), nil
}

// NewJobRepositoryFromClient creates a JobRepository from an existing client.
func NewJobRepositoryFromClient(client DynamoDBAPI, tableName string) *JobRepository {
	return &JobRepository{
		client:    client,
		tableName: tableName,
		now:       time.Now,
	}
}

func jobKey(jobID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"pk": &types.AttributeValueMemberS{Value: "JOB#" + jobID},
		"sk": &types.AttributeValueMemberS{Value: jobSortKey},
	}
}

func (r *JobRepository) timestamp() string {
	return r.now().UTC().Format(time.RFC3339)
}

// CreateJob records a queued job.
func (r *JobRepository) CreateJob(ctx context.Context, job models.ConversionJob, sourceSizeBytes int64) (*models.JobRecord, error) {
	now := r.timestamp()

	rec := &models.JobRecord{
		PK:              "JOB#" + job.JobID,
		SK:              jobSortKey,
		GSI1PK:          allJobsKey,
		GSI1SK:          fmt.Sprintf("%s#%s", now, job.JobID),
		JobID:           job.JobID,
		Filename:        job.Filename,
		Status:          models.StatusPending,
		S3SourceKey:     job.S3Key,
		SourceSizeBytes: sourceSizeBytes,
		RequestedParams: job.Params,
		Constraint:      job.Constraint,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(pk)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return nil, fmt.Errorf("job already exists: %s", job.JobID)
		}
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	return rec, nil
}

// GetJob retrieves a job by ID.
func (r *JobRepository) GetJob(ctx context.Context, jobID string) (*models.JobRecord, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       jobKey(jobID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	if result.Item == nil {
		return nil, models.ErrJobNotFound
	}

	var rec models.JobRecord
	if err := attributevalue.UnmarshalMap(result.Item, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}

	return &rec, nil
}

// MarkProcessing moves a job to processing.
func (r *JobRepository) MarkProcessing(ctx context.Context, jobID string) error {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(r.tableName),
		Key:              jobKey(jobID),
		UpdateExpression: aws.String("SET #status = :status, updated_at = :updated_at"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status":     &types.AttributeValueMemberS{Value: string(models.StatusProcessing)},
			":updated_at": &types.AttributeValueMemberS{Value: r.timestamp()},
		},
		ConditionExpression: aws.String("attribute_exists(pk)"),
	})
	return r.updateErr(err, "failed to update job")
}

// CompleteJob records the finished GIF.
func (r *JobRepository) CompleteJob(ctx context.Context, jobID string, res models.JobResult) error {
	now := r.timestamp()

	params, err := attributevalue.Marshal(res.FinalParams)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}
	reported, err := attributevalue.Marshal(res.ReportedConstraint)
	if err != nil {
		return fmt.Errorf("failed to marshal constraint: %w", err)
	}

	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(r.tableName),
		Key:       jobKey(jobID),
		UpdateExpression: aws.String(`
			SET #status = :status,
			    updated_at = :updated_at,
			    processed_at = :processed_at,
			    s3_gif_key = :gif_key,
			    gif_size_bytes = :gif_size,
			    duration_seconds = :duration,
			    final_params = :params,
			    reported_constraint = :reported,
			    best_effort = :best_effort
		`),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status":       &types.AttributeValueMemberS{Value: string(models.StatusCompleted)},
			":updated_at":   &types.AttributeValueMemberS{Value: now},
			":processed_at": &types.AttributeValueMemberS{Value: now},
			":gif_key":      &types.AttributeValueMemberS{Value: res.GIFKey},
			":gif_size":     &types.AttributeValueMemberN{Value: fmt.Sprint(res.GIFSizeBytes)},
			":duration":     &types.AttributeValueMemberN{Value: fmt.Sprint(res.DurationSeconds)},
			":params":       params,
			":reported":     reported,
			":best_effort":  &types.AttributeValueMemberBOOL{Value: res.BestEffort},
		},
		ConditionExpression: aws.String("attribute_exists(pk)"),
	})
	return r.updateErr(err, "failed to complete job")
}

// FailJob marks a job as failed.
func (r *JobRepository) FailJob(ctx context.Context, jobID, errorMessage string) error {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(r.tableName),
		Key:              jobKey(jobID),
		UpdateExpression: aws.String("SET #status = :status, updated_at = :updated_at, error_message = :error"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status":     &types.AttributeValueMemberS{Value: string(models.StatusFailed)},
			":updated_at": &types.AttributeValueMemberS{Value: r.timestamp()},
			":error":      &types.AttributeValueMemberS{Value: errorMessage},
		},
		ConditionExpression: aws.String("attribute_exists(pk)"),
	})
	return r.updateErr(err, "failed to mark job as failed")
}

func (r *JobRepository) updateErr(err error, msg string) error {
	if err == nil {
		return nil
	}
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return models.ErrJobNotFound
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// ListJobs returns jobs newest first.
func (r *JobRepository) ListJobs(ctx context.Context, limit int32, startKey map[string]types.AttributeValue) ([]models.JobRecord, map[string]types.AttributeValue, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String(allJobsIndex),
		KeyConditionExpression: aws.String("gsi1pk = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: allJobsKey},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(limit),
	}

	if startKey != nil {
		input.ExclusiveStartKey = startKey
	}

	result, err := r.client.Query(ctx, input)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	var jobs []models.JobRecord
	if err := attributevalue.UnmarshalListOfMaps(result.Items, &jobs); err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal jobs: %w", err)
	}

	return jobs, result.LastEvaluatedKey, nil
}
