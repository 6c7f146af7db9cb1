package objectstore_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dimes/labelsync/objectstore"
	"github.com/dimes/labelsync/objectstore/objectstoretest"
	"github.com/dimes/labelsync/retry"
	"github.com/dimes/labelsync/runlog"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func newGateway(svc objectstore.S3API) *objectstore.Gateway {
	return objectstore.NewGateway(svc, objectstore.WithLogger(runlog.Discard()))
}

func TestEnsureBucket(t *testing.T) {
	ctx := context.Background()

	t.Run("creates missing bucket", func(t *testing.T) {
		fake := objectstoretest.NewFakeS3()
		require.NoError(t, newGateway(fake).EnsureBucket(ctx, "images"))
		assert.Equal(t, 1, fake.CreateBucketCalls())

		exists, err := newGateway(fake).BucketExists(ctx, "images")
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("existing bucket is a no-op", func(t *testing.T) {
		fake := objectstoretest.NewFakeS3("images")
		require.NoError(t, newGateway(fake).EnsureBucket(ctx, "images"))
		assert.Equal(t, 0, fake.CreateBucketCalls())
	})
}

func TestObjectExistsTreatsErrorsAsMissing(t *testing.T) {
	ctx := context.Background()
	fake := objectstoretest.NewFakeS3("images")
	fake.PutObject("images", "a.jpg", []byte("a"))
	gateway := newGateway(fake)

	assert.True(t, gateway.ObjectExists(ctx, "images", "a.jpg"))
	assert.False(t, gateway.ObjectExists(ctx, "images", "b.jpg"))

	fake.HeadObjectErr = errors.New("dial tcp: connection refused")
	assert.False(t, gateway.ObjectExists(ctx, "images", "a.jpg"))
}

func TestUpload(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := writeFile(t, dir, "a.jpg", "jpeg bytes")

	t.Run("uploads new object", func(t *testing.T) {
		fake := objectstoretest.NewFakeS3("images")
		result, err := newGateway(fake).Upload(ctx, "images", "a.jpg", path, false)
		require.NoError(t, err)

		assert.False(t, result.Skipped)
		assert.Equal(t, 1, result.Attempts)
		assert.Equal(t, 1, fake.Puts("a.jpg"))
		body, ok := fake.Object("images", "a.jpg")
		require.True(t, ok)
		assert.Equal(t, "jpeg bytes", string(body))
	})

	t.Run("skips existing object without overwrite", func(t *testing.T) {
		fake := objectstoretest.NewFakeS3("images")
		fake.PutObject("images", "a.jpg", []byte("old"))

		result, err := newGateway(fake).Upload(ctx, "images", "a.jpg", path, false)
		require.NoError(t, err)
		assert.True(t, result.Skipped)
		assert.Equal(t, 0, fake.Puts("a.jpg"))
	})

	t.Run("overwrite always transfers", func(t *testing.T) {
		fake := objectstoretest.NewFakeS3("images")
		fake.PutObject("images", "a.jpg", []byte("jpeg bytes"))

		result, err := newGateway(fake).Upload(ctx, "images", "a.jpg", path, true)
		require.NoError(t, err)
		assert.False(t, result.Skipped)
		assert.Equal(t, 1, fake.Puts("a.jpg"))
	})

	t.Run("missing bucket fails without retry", func(t *testing.T) {
		fake := objectstoretest.NewFakeS3()
		_, err := newGateway(fake).Upload(ctx, "images", "a.jpg", path, false)

		assert.ErrorIs(t, err, objectstore.ErrBucketMissing)
		var missing *objectstore.BucketMissingError
		require.ErrorAs(t, err, &missing)
		assert.Equal(t, "images", missing.Bucket)
		assert.Equal(t, 0, fake.Puts("a.jpg"))
	})

	t.Run("transient failures are retried", func(t *testing.T) {
		fake := objectstoretest.NewFakeS3("images")
		fake.FailPuts["a.jpg"] = 4

		result, err := newGateway(fake).Upload(ctx, "images", "a.jpg", path, false)
		require.NoError(t, err)
		assert.Equal(t, 5, result.Attempts)
		assert.Equal(t, 5, fake.Puts("a.jpg"))
	})

	t.Run("exhausted after five attempts", func(t *testing.T) {
		fake := objectstoretest.NewFakeS3("images")
		fake.FailPuts["a.jpg"] = 10

		_, err := newGateway(fake).Upload(ctx, "images", "a.jpg", path, false)
		assert.ErrorIs(t, err, objectstore.ErrUploadExhausted)
		var exhausted *objectstore.UploadExhaustedError
		require.ErrorAs(t, err, &exhausted)
		assert.Equal(t, "a.jpg", exhausted.Key)
		assert.Equal(t, 5, exhausted.Attempts)
		assert.Equal(t, 5, fake.Puts("a.jpg"))
	})

	t.Run("permanent rejection is not retried", func(t *testing.T) {
		fake := objectstoretest.NewFakeS3("images")
		fake.FailPuts["a.jpg"] = 10
		fake.PutErr = awserr.New("AccessDenied", "Access Denied", nil)

		_, err := newGateway(fake).Upload(ctx, "images", "a.jpg", path, false)
		require.Error(t, err)
		assert.NotErrorIs(t, err, objectstore.ErrUploadExhausted)
		assert.Equal(t, 1, fake.Puts("a.jpg"))
	})

	t.Run("missing local file is permanent", func(t *testing.T) {
		fake := objectstoretest.NewFakeS3("images")
		_, err := newGateway(fake).Upload(ctx, "images", "gone.jpg", filepath.Join(dir, "gone.jpg"), false)
		require.Error(t, err)
		assert.ErrorIs(t, err, os.ErrNotExist)
		assert.Equal(t, 0, fake.Puts("gone.jpg"))
	})

	t.Run("custom policy", func(t *testing.T) {
		fake := objectstoretest.NewFakeS3("images")
		fake.FailPuts["a.jpg"] = 10
		gateway := objectstore.NewGateway(fake,
			objectstore.WithLogger(runlog.Discard()),
			objectstore.WithRetryPolicy(retry.Fixed(2)))

		_, err := gateway.Upload(ctx, "images", "a.jpg", path, false)
		assert.ErrorIs(t, err, objectstore.ErrUploadExhausted)
		assert.Equal(t, 2, fake.Puts("a.jpg"))
	})
}

func TestValidBucketName(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
	}{
		{"images", true},
		{"my-bucket.v2", true},
		{"ab", false},
		{"Images", false},
		{"bad..name", false},
		{"192.168.1.1", false},
		{"-leading", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := objectstore.ValidBucketName(tt.name)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestUploadProbesBucketOnce(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := writeFile(t, dir, "a.jpg", "jpeg bytes")

	t.Run("confirmed bucket is not probed again", func(t *testing.T) {
		fake := objectstoretest.NewFakeS3("images")
		gateway := newGateway(fake)
		for _, key := range []string{"a.jpg", "b.jpg", "c.jpg"} {
			_, err := gateway.Upload(ctx, "images", key, path, false)
			require.NoError(t, err)
		}
		assert.Equal(t, 1, fake.HeadBucketCalls())
	})

	t.Run("ensured bucket is not probed again", func(t *testing.T) {
		fake := objectstoretest.NewFakeS3()
		gateway := newGateway(fake)
		require.NoError(t, gateway.EnsureBucket(ctx, "images"))
		_, err := gateway.Upload(ctx, "images", "a.jpg", path, false)
		require.NoError(t, err)
		assert.Equal(t, 1, fake.HeadBucketCalls())
	})

	t.Run("missing bucket is probed every time", func(t *testing.T) {
		fake := objectstoretest.NewFakeS3()
		gateway := newGateway(fake)
		for i := 0; i < 2; i++ {
			_, err := gateway.Upload(ctx, "images", "a.jpg", path, false)
			assert.ErrorIs(t, err, objectstore.ErrBucketMissing)
		}
		assert.Equal(t, 2, fake.HeadBucketCalls())
	})

	t.Run("bucket removed after confirmation", func(t *testing.T) {
		fake := objectstoretest.NewFakeS3("images")
		gateway := newGateway(fake)
		_, err := gateway.Upload(ctx, "images", "a.jpg", path, true)
		require.NoError(t, err)

		fake.DeleteBucket("images")
		_, err = gateway.Upload(ctx, "images", "b.jpg", path, true)
		assert.ErrorIs(t, err, objectstore.ErrBucketMissing)
		assert.Equal(t, 1, fake.Puts("b.jpg"), "no such bucket is not retried")

		_, err = gateway.Upload(ctx, "images", "c.jpg", path, true)
		assert.ErrorIs(t, err, objectstore.ErrBucketMissing)
		assert.Equal(t, 0, fake.Puts("c.jpg"))
		assert.Equal(t, 2, fake.HeadBucketCalls())
	})
}
