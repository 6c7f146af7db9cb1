package lock

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/google/uuid"

	"github.com/dimes/labelsync/runlog"
)

const (
	lockKey      = "lockKey"
	ownerKey     = "owner"
	expiresAtKey = "expiresAt"

	defaultTablePollInterval = 5 * time.Second
	tableActiveTimeout       = time.Minute
)

// DynamoAPI is the subset of the DynamoDB client used by DynamoLocker. *dynamodb.DynamoDB
// implements it.
type DynamoAPI interface {
	DescribeTableWithContext(aws.Context, *dynamodb.DescribeTableInput, ...request.Option) (*dynamodb.DescribeTableOutput, error)
	CreateTableWithContext(aws.Context, *dynamodb.CreateTableInput, ...request.Option) (*dynamodb.CreateTableOutput, error)
	PutItemWithContext(aws.Context, *dynamodb.PutItemInput, ...request.Option) (*dynamodb.PutItemOutput, error)
	DeleteItemWithContext(aws.Context, *dynamodb.DeleteItemInput, ...request.Option) (*dynamodb.DeleteItemOutput, error)
}

type lockItem struct {
	LockKey   string `dynamodbav:"lockKey"`
	Owner     string `dynamodbav:"owner"`
	ExpiresAt int64  `dynamodbav:"expiresAt"`
}

// DynamoLocker holds leases as items of a DynamoDB table. Expired items may be taken over.
type DynamoLocker struct {
	svc          DynamoAPI
	table        string
	ttl          time.Duration
	pollInterval time.Duration
	now          func() time.Time
	logger       *runlog.Logger
}

// NewDynamoLocker returns a locker using the given table
func NewDynamoLocker(svc DynamoAPI, table string, ttl time.Duration, logger *runlog.Logger) *DynamoLocker {
	if logger == nil {
		logger = runlog.Default()
	}

	return &DynamoLocker{
		svc:          svc,
		table:        table,
		ttl:          ttl,
		pollInterval: defaultTablePollInterval,
		now:          time.Now,
		logger:       logger,
	}
}

// Setup creates the lock table if it does not exist and waits for it to become active
func (d *DynamoLocker) Setup(ctx context.Context) error {
	describeTableInput := &dynamodb.DescribeTableInput{
		TableName: aws.String(d.table),
	}

	_, err := d.svc.DescribeTableWithContext(ctx, describeTableInput)
	if err == nil {
		d.logger.Warningf("Table %s already existed. It will be used as is", d.table)
		return nil
	}

	if awsErr, ok := err.(awserr.Error); !ok || awsErr.Code() != dynamodb.ErrCodeResourceNotFoundException {
		return fmt.Errorf("Error checking existence of table %s: %w", d.table, err)
	}

	createTableInput := &dynamodb.CreateTableInput{
		AttributeDefinitions: []*dynamodb.AttributeDefinition{
			{
				AttributeName: aws.String(lockKey),
				AttributeType: aws.String(dynamodb.ScalarAttributeTypeS),
			},
		},
		KeySchema: []*dynamodb.KeySchemaElement{
			{
				AttributeName: aws.String(lockKey),
				KeyType:       aws.String(dynamodb.KeyTypeHash),
			},
		},
		BillingMode: aws.String(dynamodb.BillingModePayPerRequest),
		TableName:   aws.String(d.table),
	}

	if _, err := d.svc.CreateTableWithContext(ctx, createTableInput); err != nil {
		return fmt.Errorf("Error creating table %s: %w", d.table, err)
	}

	createCtx, createCtxCancel := context.WithTimeout(ctx, tableActiveTimeout)
	defer createCtxCancel()

	for {
		describeTableOutput, err := d.svc.DescribeTableWithContext(createCtx, describeTableInput)
		if err == nil && aws.StringValue(describeTableOutput.Table.TableStatus) == dynamodb.TableStatusActive {
			d.logger.Infof("Created table %s", d.table)
			return nil
		}

		select {
		case <-createCtx.Done():
			return fmt.Errorf("Error waiting for table %s to become active: %w", d.table, createCtx.Err())
		case <-time.After(d.pollInterval):
		}
	}
}

type dynamoLease struct {
	locker *DynamoLocker
	key    string
	token  string
}

// Acquire puts the lock item unless an unexpired item exists for the key
func (d *DynamoLocker) Acquire(ctx context.Context, key string) (Lease, error) {
	now := d.now()
	token := uuid.NewString()
	item, err := dynamodbattribute.MarshalMap(&lockItem{
		LockKey:   key,
		Owner:     token,
		ExpiresAt: now.Add(d.ttl).Unix(),
	})
	if err != nil {
		return nil, fmt.Errorf("Error marshaling lock %s: %w", key, err)
	}

	putItemInput := &dynamodb.PutItemInput{
		TableName:           aws.String(d.table),
		Item:                item,
		ConditionExpression: aws.String(fmt.Sprintf("attribute_not_exists(%s) OR %s < :now", lockKey, expiresAtKey)),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":now": {N: aws.String(strconv.FormatInt(now.Unix(), 10))},
		},
	}

	if _, err := d.svc.PutItemWithContext(ctx, putItemInput); err != nil {
		if awsErr, ok := err.(awserr.Error); ok && awsErr.Code() == dynamodb.ErrCodeConditionalCheckFailedException {
			return nil, &LockedError{Key: key}
		}
		return nil, fmt.Errorf("Error acquiring lock %s: %w", key, err)
	}

	return &dynamoLease{locker: d, key: key, token: token}, nil
}

// Release deletes the lock item if this lease still owns it
func (l *dynamoLease) Release(ctx context.Context) error {
	deleteItemInput := &dynamodb.DeleteItemInput{
		TableName: aws.String(l.locker.table),
		Key: map[string]*dynamodb.AttributeValue{
			lockKey: {S: aws.String(l.key)},
		},
		ConditionExpression:      aws.String("#owner = :owner"),
		ExpressionAttributeNames: map[string]*string{"#owner": aws.String(ownerKey)},
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":owner": {S: aws.String(l.token)},
		},
	}

	if _, err := l.locker.svc.DeleteItemWithContext(ctx, deleteItemInput); err != nil {
		if awsErr, ok := err.(awserr.Error); ok && awsErr.Code() == dynamodb.ErrCodeConditionalCheckFailedException {
			return fmt.Errorf("Error releasing lock %s: %w", l.key, ErrLeaseLost)
		}
		return fmt.Errorf("Error releasing lock %s: %w", l.key, err)
	}

	return nil
}
