package objectstore

import (
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
)

const (
	// DefaultRegion is used when no region is configured. MinIO accepts any region.
	DefaultRegion = "us-east-1"
)

// SessionOptions describes how to reach the object store
type SessionOptions struct {
	Endpoint  string // host:port or URL of the S3 API, empty for AWS
	Region    string
	AccessKey string
	SecretKey string
	Secure    bool
}

// NewSession returns a new AWS session for the object store. Path style addressing is used
// because MinIO does not serve virtual hosted buckets by default.
func NewSession(opts SessionOptions) (*session.Session, error) {
	region := opts.Region
	if region == "" {
		region = DefaultRegion
	}

	config := aws.Config{
		Region:           aws.String(region),
		S3ForcePathStyle: aws.Bool(true),
		DisableSSL:       aws.Bool(!opts.Secure),
	}

	if opts.Endpoint != "" {
		config.Endpoint = aws.String(opts.Endpoint)
	}

	if opts.AccessKey != "" || opts.SecretKey != "" {
		config.Credentials = credentials.NewStaticCredentials(opts.AccessKey, opts.SecretKey, "")
	}

	sess, err := session.NewSessionWithOptions(session.Options{
		Config: config,
	})
	if err != nil {
		return nil, fmt.Errorf("Error creating session for %s: %w", opts.Endpoint, err)
	}

	return sess, nil
}
