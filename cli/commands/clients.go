package commands

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/redis/go-redis/v9"

	"github.com/dimes/labelsync/config"
	"github.com/dimes/labelsync/cvat"
	"github.com/dimes/labelsync/lock"
	"github.com/dimes/labelsync/manifest"
	"github.com/dimes/labelsync/objectstore"
	"github.com/dimes/labelsync/runlog"
)

func newObjectStore(cfg *config.Config, logger *runlog.Logger) (*objectstore.Gateway, error) {
	sess, err := objectstore.NewSession(objectstore.SessionOptions{
		Endpoint:  cfg.ObjectStoreHost,
		Region:    cfg.Region,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
		Secure:    cfg.Secure,
	})
	if err != nil {
		return nil, err
	}

	return objectstore.NewGateway(s3.New(sess),
		objectstore.WithRegion(cfg.Region),
		objectstore.WithRetryPolicy(cfg.Upload.Retry),
		objectstore.WithLogger(logger),
	), nil
}

// newPlatform logs into CVAT. The returned client must be closed.
func newPlatform(ctx context.Context, cfg *config.Config, logger *runlog.Logger) (*cvat.Gateway, *cvat.Client, error) {
	client, err := cvat.NewClient(cvat.ClientOptions{
		Host:      cfg.CVATHost,
		Username:  cfg.CVATUsername,
		Password:  cfg.CVATPassword,
		BasicAuth: cfg.CVAT.BasicAuth,
		Timeout:   cfg.CVAT.Timeout,
		Logger:    logger,
	})
	if err != nil {
		return nil, nil, &config.InvalidError{Key: "cvat_host", Reason: err.Error()}
	}

	if err := client.Login(ctx); err != nil {
		return nil, nil, err
	}

	gateway := cvat.NewGateway(client,
		cvat.WithExportPolicy(cfg.Export.Retry),
		cvat.WithGatewayLogger(logger),
	)
	return gateway, client, nil
}

// newAWSSession returns a session for the lock table. The object store endpoint and keys are not
// used: the table lives in AWS and is reached with the default credential chain.
func newAWSSession(region string) (*session.Session, error) {
	if region == "" {
		region = objectstore.DefaultRegion
	}

	sess, err := session.NewSessionWithOptions(session.Options{
		Config:            aws.Config{Region: aws.String(region)},
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		return nil, fmt.Errorf("Error creating AWS session: %w", err)
	}

	return sess, nil
}

func newDynamoLocker(cfg *config.Config, logger *runlog.Logger) (*lock.DynamoLocker, error) {
	sess, err := newAWSSession(cfg.Region)
	if err != nil {
		return nil, err
	}

	return lock.NewDynamoLocker(dynamodb.New(sess), cfg.Lock.DynamoTable, cfg.Lock.TTL, logger), nil
}

// newLocker returns the configured locker and a function releasing its connections
func newLocker(cfg *config.Config, logger *runlog.Logger) (lock.Locker, func(), error) {
	switch cfg.Lock.Type {
	case "", lock.NoneType:
		return lock.Noop(), func() {}, nil
	case lock.RedisType:
		client := redis.NewClient(&redis.Options{Addr: cfg.Lock.RedisAddr})
		closer := func() {
			if err := client.Close(); err != nil {
				logger.Warningf("Error closing redis client: %v", err)
			}
		}
		return lock.NewRedisLocker(client, cfg.Lock.TTL), closer, nil
	case lock.DynamoType:
		locker, err := newDynamoLocker(cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		return locker, func() {}, nil
	}

	return nil, nil, &config.InvalidError{Key: "lock.type", Reason: fmt.Sprintf("unknown lock type %q", cfg.Lock.Type)}
}

func newGenerator(cfg *config.Config, logger *runlog.Logger) (manifest.Generator, error) {
	docker := manifest.NewDockerGenerator()
	if cfg.Manifest.DockerImage != "" {
		docker.Image = cfg.Manifest.DockerImage
	}

	native := manifest.NewNativeGenerator()
	if cfg.Upload.ImageExtension != "" {
		native.Extensions = []string{cfg.Upload.ImageExtension}
	}

	if logger != nil {
		docker.Logger = logger
		native.Logger = logger
	}

	registry, err := manifest.NewRegistry(docker, native)
	if err != nil {
		return nil, err
	}

	generator := registry.GetGeneratorForType(cfg.Manifest.Generator)
	if generator == nil {
		return nil, &config.InvalidError{
			Key:    "manifest.generator",
			Reason: fmt.Sprintf("unknown generator %q, expected one of %v", cfg.Manifest.Generator, registry.Types()),
		}
	}

	return generator, nil
}

func closePlatform(client *cvat.Client, logger *runlog.Logger) {
	if err := client.Close(context.Background()); err != nil {
		logger.Warningf("Error logging out of CVAT: %v", err)
	}
}
