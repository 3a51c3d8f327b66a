package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"
)

// Default timeout for s3 operations
const DefaultS3Timeout = 30 * time.Second

// LoadAWSConfig loads the default AWS configuration for region with
// OpenTelemetry instrumentation.
func LoadAWSConfig(ctx context.Context, region string) (aws.Config, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return aws.Config{}, fmt.Errorf("unable to load SDK config: %w", err)
	}
	otelaws.AppendMiddlewares(&awsCfg.APIOptions)
	return awsCfg, nil
}

// Client wraps the S3 client with presigning helpers.
type Client struct {
	*s3.Client
	presign *s3.PresignClient
}

// NewS3Client creates a Client from an AWS configuration.
func NewS3Client(awsCfg aws.Config) *Client {
	c := s3.NewFromConfig(awsCfg)
	return &Client{Client: c, presign: s3.NewPresignClient(c)}
}

// PresignUpload returns a URL the caller can PUT the object to.
func (c *Client) PresignUpload(ctx context.Context, bucket, key, contentType string, lifetime time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultS3Timeout)
	defer cancel()

	req, err := c.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(lifetime))
	if err != nil {
		return "", fmt.Errorf("failed to presign upload: %w", err)
	}

	return req.URL, nil
}

// PresignDownload returns a URL the caller can GET the object from.
func (c *Client) PresignDownload(ctx context.Context, bucket, key string, lifetime time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultS3Timeout)
	defer cancel()

	req, err := c.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(lifetime))
	if err != nil {
		return "", fmt.Errorf("failed to presign download: %w", err)
	}

	return req.URL, nil
}

// ObjectSize returns the size of an uploaded object.
func (c *Client) ObjectSize(ctx context.Context, bucket, key string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultS3Timeout)
	defer cancel()

	head, err := c.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to head object: %w", err)
	}
	if head.ContentLength == nil {
		return 0, errors.New("object has no content length")
	}

	return *head.ContentLength, nil
}
