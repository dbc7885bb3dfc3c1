package state

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/flightdeck/flightdeck/internal/interfaces"
)

// maxRecordSize caps how much of an S3 object body is read when
// loading a record. Environment records are small; anything larger
// indicates corruption.
const maxRecordSize = 10 * 1024 * 1024

// S3StoreConfig holds the configuration for an S3-backed state store
type S3StoreConfig struct {
	Bucket   string
	Region   string
	Prefix   string
	Endpoint string // Custom endpoint for LocalStack
}

// S3Store persists environment records as JSON objects in S3, one
// object per environment under a configurable key prefix.
type S3Store struct {
	client *s3.Client
	config S3StoreConfig
}

// NewS3Store creates an S3-backed state store and ensures the bucket
// exists.
func NewS3Store(cfg S3StoreConfig) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("S3 bucket name is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("AWS region is required")
	}

	awsCfg, err := loadAWSConfig(cfg.Region, cfg.Endpoint)
	if err != nil {
		return nil, err
	}

	store := &S3Store{
		client: newS3Client(awsCfg, cfg.Endpoint),
		config: cfg,
	}

	if err := store.initializeBucket(); err != nil {
		return nil, fmt.Errorf("failed to initialize S3 bucket: %w", err)
	}

	return store, nil
}

// initializeBucket creates the bucket if it doesn't exist
func (s *S3Store) initializeBucket() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.config.Bucket),
	})
	if err == nil {
		return nil
	}

	var noBucket *types.NoSuchBucket
	if !errors.As(err, &noBucket) && !strings.Contains(err.Error(), "NotFound") {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	createInput := &s3.CreateBucketInput{
		Bucket: aws.String(s.config.Bucket),
	}
	// us-east-1 must not send a location constraint
	if s.config.Region != "us-east-1" {
		createInput.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(s.config.Region),
		}
	}

	if _, err := s.client.CreateBucket(ctx, createInput); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", s.config.Bucket, err)
	}

	return nil
}

// SaveRecord writes the record as a JSON object, replacing any
// previous one.
func (s *S3Store) SaveRecord(ctx context.Context, record *interfaces.EnvironmentRecord) error {
	if record == nil {
		return fmt.Errorf("record is nil")
	}
	if record.Environment == "" {
		return fmt.Errorf("record environment is empty")
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal record for %s: %w", record.Environment, err)
	}

	opCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, err = s.client.PutObject(opCtx, &s3.PutObjectInput{
		Bucket:      aws.String(s.config.Bucket),
		Key:         aws.String(s.objectKey(record.Environment)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"saved-at": time.Now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to store record for %s: %w", record.Environment, err)
	}

	return nil
}

// LoadRecord returns the record for an environment, or a wrapped
// interfaces.ErrRecordNotFound.
func (s *S3Store) LoadRecord(ctx context.Context, environment string) (*interfaces.EnvironmentRecord, error) {
	if environment == "" {
		return nil, fmt.Errorf("environment is empty")
	}

	opCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	result, err := s.client.GetObject(opCtx, &s3.GetObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(s.objectKey(environment)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, fmt.Errorf("environment %q: %w", environment, interfaces.ErrRecordNotFound)
		}
		return nil, fmt.Errorf("failed to get record for %s: %w", environment, err)
	}
	defer func() { _ = result.Body.Close() }()

	limited := &io.LimitedReader{R: result.Body, N: maxRecordSize}
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("failed to read record for %s: %w", environment, err)
	}

	var record interfaces.EnvironmentRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to parse record for %s: %w", environment, err)
	}

	return &record, nil
}

// DeleteRecord removes an environment's record. S3 deletes are
// idempotent, so missing records are a no-op.
func (s *S3Store) DeleteRecord(ctx context.Context, environment string) error {
	if environment == "" {
		return fmt.Errorf("environment is empty")
	}

	opCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := s.client.DeleteObject(opCtx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(s.objectKey(environment)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete record for %s: %w", environment, err)
	}

	return nil
}

// ListEnvironments returns the names of environments with records,
// sorted alphabetically.
func (s *S3Store) ListEnvironments(ctx context.Context) ([]string, error) {
	opCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	prefix := s.keyPrefix()
	environments := make([]string, 0)

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.config.Bucket),
		Prefix: aws.String(prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(opCtx)
		if err != nil {
			return nil, fmt.Errorf("failed to list records: %w", err)
		}

		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			name := strings.TrimPrefix(key, prefix)
			if !strings.HasSuffix(name, ".json") || strings.Contains(name, "/") {
				continue
			}
			environments = append(environments, strings.TrimSuffix(name, ".json"))
		}
	}

	sort.Strings(environments)
	return environments, nil
}

// Ping verifies the bucket is reachable
func (s *S3Store) Ping(ctx context.Context) error {
	opCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := s.client.HeadBucket(opCtx, &s3.HeadBucketInput{
		Bucket: aws.String(s.config.Bucket),
	})
	if err != nil {
		return fmt.Errorf("S3 bucket %s unreachable: %w", s.config.Bucket, err)
	}
	return nil
}

// objectKey returns the S3 key for an environment's record
func (s *S3Store) objectKey(environment string) string {
	return s.keyPrefix() + sanitizeEnvironmentName(environment) + ".json"
}

func (s *S3Store) keyPrefix() string {
	if s.config.Prefix == "" {
		return ""
	}
	return strings.TrimSuffix(s.config.Prefix, "/") + "/"
}
