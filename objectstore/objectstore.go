// Package objectstore contains the gateway to the S3 compatible object store (MinIO) that holds
// the dataset manifest and images
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/dimes/labelsync/retry"
	"github.com/dimes/labelsync/runlog"
)

const (
	// DefaultUploadAttempts is the number of transfer attempts made for one object
	DefaultUploadAttempts = 5

	errCodeNotFound = "NotFound"
)

var (
	// ErrBucketMissing is returned when uploading to a bucket that does not exist
	ErrBucketMissing = errors.New("bucket missing")

	// ErrUploadExhausted is returned when every transfer attempt for an object failed
	ErrUploadExhausted = errors.New("upload exhausted")
)

// BucketMissingError names the bucket that was not found
type BucketMissingError struct {
	Bucket string
}

func (e *BucketMissingError) Error() string {
	return fmt.Sprintf("bucket %s does not exist", e.Bucket)
}

func (e *BucketMissingError) Unwrap() error {
	return ErrBucketMissing
}

// UploadExhaustedError names the key whose upload ran out of attempts
type UploadExhaustedError struct {
	Key      string
	Attempts int
	Last     error
}

func (e *UploadExhaustedError) Error() string {
	return fmt.Sprintf("file %s not uploaded after %d attempts: %v", e.Key, e.Attempts, e.Last)
}

func (e *UploadExhaustedError) Unwrap() []error {
	return []error{ErrUploadExhausted, e.Last}
}

// S3API is the subset of the S3 client used by the gateway. *s3.S3 implements it.
type S3API interface {
	HeadBucketWithContext(aws.Context, *s3.HeadBucketInput, ...request.Option) (*s3.HeadBucketOutput, error)
	CreateBucketWithContext(aws.Context, *s3.CreateBucketInput, ...request.Option) (*s3.CreateBucketOutput, error)
	HeadObjectWithContext(aws.Context, *s3.HeadObjectInput, ...request.Option) (*s3.HeadObjectOutput, error)
	PutObjectWithContext(aws.Context, *s3.PutObjectInput, ...request.Option) (*s3.PutObjectOutput, error)
}

// UploadResult describes the outcome of a single upload
type UploadResult struct {
	Bucket   string
	Key      string
	Skipped  bool // The object already existed and overwrite was not requested
	Attempts int
	ETag     string
}

// Gateway stores objects in an S3 compatible object store
type Gateway struct {
	svc    S3API
	region string
	policy retry.Policy
	logger *runlog.Logger

	mu        sync.Mutex
	confirmed map[string]bool // buckets seen to exist
}

// Option configures a Gateway
type Option func(*Gateway)

// WithRetryPolicy sets the policy used for object transfers
func WithRetryPolicy(policy retry.Policy) Option {
	return func(g *Gateway) {
		g.policy = policy
	}
}

// WithRegion sets the location constraint used when creating buckets
func WithRegion(region string) Option {
	return func(g *Gateway) {
		g.region = region
	}
}

// WithLogger sets the logger
func WithLogger(logger *runlog.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// NewGateway returns a gateway backed by svc
func NewGateway(svc S3API, opts ...Option) *Gateway {
	g := &Gateway{
		svc:       svc,
		policy:    retry.Fixed(DefaultUploadAttempts),
		logger:    runlog.Default(),
		confirmed: make(map[string]bool),
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// BucketExists returns whether the bucket exists. Errors other than "not found" are returned.
func (g *Gateway) BucketExists(ctx context.Context, bucket string) (bool, error) {
	_, err := g.svc.HeadBucketWithContext(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err == nil {
		return true, nil
	}

	if awsErr, ok := err.(awserr.Error); ok &&
		(awsErr.Code() == errCodeNotFound || awsErr.Code() == s3.ErrCodeNoSuchBucket) {
		return false, nil
	}

	return false, fmt.Errorf("Error checking existence of bucket %s: %w", bucket, err)
}

func (g *Gateway) setConfirmed(bucket string, exists bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if exists {
		g.confirmed[bucket] = true
	} else {
		delete(g.confirmed, bucket)
	}
}

// bucketConfirmed probes the bucket until it has been seen once. Missing buckets are probed
// again on every call.
func (g *Gateway) bucketConfirmed(ctx context.Context, bucket string) (bool, error) {
	g.mu.Lock()
	confirmed := g.confirmed[bucket]
	g.mu.Unlock()
	if confirmed {
		return true, nil
	}

	exists, err := g.BucketExists(ctx, bucket)
	if err != nil {
		return false, err
	}

	g.setConfirmed(bucket, exists)
	return exists, nil
}

// EnsureBucket creates the bucket if it does not exist
func (g *Gateway) EnsureBucket(ctx context.Context, bucket string) error {
	exists, err := g.bucketConfirmed(ctx, bucket)
	if err != nil {
		return err
	}

	if exists {
		g.logger.Debugf("Bucket %s already exists", bucket)
		return nil
	}

	createBucketInput := &s3.CreateBucketInput{
		Bucket: aws.String(bucket),
	}

	if g.region != "" && g.region != "us-east-1" {
		createBucketInput.CreateBucketConfiguration = &s3.CreateBucketConfiguration{
			LocationConstraint: aws.String(g.region),
		}
	}

	if _, err := g.svc.CreateBucketWithContext(ctx, createBucketInput); err != nil {
		awsErr, ok := err.(awserr.Error)
		if !ok || (awsErr.Code() != s3.ErrCodeBucketAlreadyOwnedByYou &&
			awsErr.Code() != s3.ErrCodeBucketAlreadyExists) {
			return fmt.Errorf("Error creating bucket %s: %w", bucket, err)
		}

		g.logger.Warningf("Bucket %s already existed. It will be used as is", bucket)
		g.setConfirmed(bucket, true)
		return nil
	}

	g.logger.Infof("Created bucket %s", bucket)
	g.setConfirmed(bucket, true)
	return nil
}

// ObjectExists probes for an object. Any error, including transport errors, is reported as the
// object not existing.
func (g *Gateway) ObjectExists(ctx context.Context, bucket, key string) bool {
	_, err := g.svc.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		g.logger.Debugf("Object %s/%s treated as missing: %+v", bucket, key, err)
		return false
	}

	return true
}

// Upload transfers the file at localPath to bucket/key. If overwrite is false and the object
// already exists, nothing is transferred and the result is marked as skipped. The bucket must
// exist at call time. The bucket is probed until the gateway has seen it once.
func (g *Gateway) Upload(ctx context.Context, bucket, key, localPath string,
	overwrite bool) (*UploadResult, error) {
	exists, err := g.bucketConfirmed(ctx, bucket)
	if err != nil {
		return nil, err
	}

	if !exists {
		return nil, &BucketMissingError{Bucket: bucket}
	}

	result := &UploadResult{
		Bucket: bucket,
		Key:    key,
	}

	if !overwrite && g.ObjectExists(ctx, bucket, key) {
		g.logger.Debugf("Object %s/%s already exists, skipping upload", bucket, key)
		result.Skipped = true
		return result, nil
	}

	err = retry.Do(ctx, g.policy, func(attempt int) error {
		result.Attempts = attempt
		etag, err := g.put(ctx, bucket, key, localPath)
		if err != nil {
			g.logger.Infof("Error on attempt %d uploading %s to %s/%s: %+v",
				attempt, localPath, bucket, key, err)
			return err
		}

		result.ETag = etag
		return nil
	})
	if err != nil {
		if errors.Is(err, retry.ErrExhausted) {
			return nil, &UploadExhaustedError{Key: key, Attempts: result.Attempts, Last: err}
		}

		var awsErr awserr.Error
		if errors.As(err, &awsErr) && awsErr.Code() == s3.ErrCodeNoSuchBucket {
			g.setConfirmed(bucket, false)
			return nil, &BucketMissingError{Bucket: bucket}
		}

		return nil, fmt.Errorf("Error uploading %s to %s/%s: %w", localPath, bucket, key, err)
	}

	return result, nil
}

func (g *Gateway) put(ctx context.Context, bucket, key, localPath string) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", retry.Permanent(fmt.Errorf("Error opening %s: %w", localPath, err))
	}
	defer file.Close()

	putObjectInput := &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   file,
	}

	if contentType := mime.TypeByExtension(filepath.Ext(localPath)); contentType != "" {
		putObjectInput.ContentType = aws.String(contentType)
	}

	output, err := g.svc.PutObjectWithContext(ctx, putObjectInput)
	if err != nil {
		if isPermanent(err) {
			return "", retry.Permanent(err)
		}
		return "", err
	}

	return aws.StringValue(output.ETag), nil
}

func isPermanent(err error) bool {
	awsErr, ok := err.(awserr.Error)
	if !ok {
		return false
	}

	switch awsErr.Code() {
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch",
		s3.ErrCodeNoSuchBucket, "InvalidBucketName":
		return true
	}

	return false
}
