// Package objectstoretest provides an in-memory S3 API for tests
package objectstoretest

import (
	"io"
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
)

// FakeS3 keeps buckets and objects in memory and counts calls per key
type FakeS3 struct {
	mu sync.Mutex

	buckets map[string]map[string][]byte
	puts    map[string]int
	creates int
	heads   int

	// FailPuts makes the next n PutObject calls for a key fail with a transient error
	FailPuts map[string]int

	// PutErr replaces the transient error returned for FailPuts
	PutErr error

	// HeadObjectErr, when set, is returned by every HeadObject call
	HeadObjectErr error
}

// NewFakeS3 returns a fake with the given buckets already created
func NewFakeS3(buckets ...string) *FakeS3 {
	f := &FakeS3{
		buckets:  make(map[string]map[string][]byte),
		puts:     make(map[string]int),
		FailPuts: make(map[string]int),
	}

	for _, bucket := range buckets {
		f.buckets[bucket] = make(map[string][]byte)
	}

	return f
}

// HeadBucketWithContext implements objectstore.S3API
func (f *FakeS3) HeadBucketWithContext(_ aws.Context, input *s3.HeadBucketInput,
	_ ...request.Option) (*s3.HeadBucketOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.heads++
	if _, ok := f.buckets[aws.StringValue(input.Bucket)]; !ok {
		return nil, awserr.New("NotFound", "Not Found", nil)
	}

	return &s3.HeadBucketOutput{}, nil
}

// CreateBucketWithContext implements objectstore.S3API
func (f *FakeS3) CreateBucketWithContext(_ aws.Context, input *s3.CreateBucketInput,
	_ ...request.Option) (*s3.CreateBucketOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.creates++
	bucket := aws.StringValue(input.Bucket)
	if _, ok := f.buckets[bucket]; ok {
		return nil, awserr.New(s3.ErrCodeBucketAlreadyOwnedByYou, "already owned", nil)
	}

	f.buckets[bucket] = make(map[string][]byte)
	return &s3.CreateBucketOutput{Location: aws.String("/" + bucket)}, nil
}

// HeadObjectWithContext implements objectstore.S3API
func (f *FakeS3) HeadObjectWithContext(_ aws.Context, input *s3.HeadObjectInput,
	_ ...request.Option) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.HeadObjectErr != nil {
		return nil, f.HeadObjectErr
	}

	objects, ok := f.buckets[aws.StringValue(input.Bucket)]
	if !ok {
		return nil, awserr.New("NotFound", "Not Found", nil)
	}

	body, ok := objects[aws.StringValue(input.Key)]
	if !ok {
		return nil, awserr.New("NotFound", "Not Found", nil)
	}

	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(body)))}, nil
}

// PutObjectWithContext implements objectstore.S3API
func (f *FakeS3) PutObjectWithContext(_ aws.Context, input *s3.PutObjectInput,
	_ ...request.Option) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	key := aws.StringValue(input.Key)
	f.puts[key]++
	if f.FailPuts[key] > 0 {
		f.FailPuts[key]--
		if f.PutErr != nil {
			return nil, f.PutErr
		}
		return nil, awserr.New("InternalError", "We encountered an internal error", nil)
	}

	objects, ok := f.buckets[aws.StringValue(input.Bucket)]
	if !ok {
		return nil, awserr.New(s3.ErrCodeNoSuchBucket, "The specified bucket does not exist", nil)
	}

	objects[key] = body
	return &s3.PutObjectOutput{ETag: aws.String("\"etag-" + key + "\"")}, nil
}

// Puts returns how many PutObject calls were made for key
func (f *FakeS3) Puts(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.puts[key]
}

// CreateBucketCalls returns how many CreateBucket calls were made
func (f *FakeS3) CreateBucketCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.creates
}

// HeadBucketCalls returns how many HeadBucket calls were made
func (f *FakeS3) HeadBucketCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.heads
}

// DeleteBucket drops a bucket and its objects
func (f *FakeS3) DeleteBucket(bucket string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.buckets, bucket)
}

// Object returns the stored body of bucket/key
func (f *FakeS3) Object(bucket, key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	body, ok := f.buckets[bucket][key]
	return body, ok
}

// Keys returns the sorted keys stored in bucket
func (f *FakeS3) Keys(bucket string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	keys := make([]string, 0, len(f.buckets[bucket]))
	for key := range f.buckets[bucket] {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	return keys
}

// PutObject stores an object directly, bypassing call counting
func (f *FakeS3) PutObject(bucket, key string, body []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.buckets[bucket]; !ok {
		f.buckets[bucket] = make(map[string][]byte)
	}
	f.buckets[bucket][key] = body
}
