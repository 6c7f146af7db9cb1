package lock

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dimes/labelsync/runlog"
)

func TestNoopNeverConflicts(t *testing.T) {
	ctx := context.Background()
	locker := Noop()

	first, err := locker.Acquire(ctx, "images/t1")
	require.NoError(t, err)
	second, err := locker.Acquire(ctx, "images/t1")
	require.NoError(t, err)
	assert.NoError(t, first.Release(ctx))
	assert.NoError(t, second.Release(ctx))
}

func TestRedisLocker(t *testing.T) {
	ctx := context.Background()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer client.Close()

	locker := NewRedisLocker(client, time.Minute)
	lease, err := locker.Acquire(ctx, "images/t1")
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, "images/t1")
	assert.ErrorIs(t, err, ErrLocked)

	other, err := locker.Acquire(ctx, "images/t2")
	require.NoError(t, err)
	require.NoError(t, other.Release(ctx))

	require.NoError(t, lease.Release(ctx))
	lease, err = locker.Acquire(ctx, "images/t1")
	require.NoError(t, err)

	server.FastForward(2 * time.Minute)
	takeover, err := locker.Acquire(ctx, "images/t1")
	require.NoError(t, err)
	assert.ErrorIs(t, lease.Release(ctx), ErrLeaseLost)
	assert.NoError(t, takeover.Release(ctx))
}

type fakeDynamo struct {
	mu            sync.Mutex
	tableExists   bool
	creates       int
	pendingChecks int
	items         map[string]lockItem
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]lockItem)}
}

func conditionFailed() error {
	return awserr.New(dynamodb.ErrCodeConditionalCheckFailedException, "The conditional request failed", nil)
}

func (f *fakeDynamo) DescribeTableWithContext(_ aws.Context, input *dynamodb.DescribeTableInput,
	_ ...request.Option) (*dynamodb.DescribeTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.tableExists {
		return nil, awserr.New(dynamodb.ErrCodeResourceNotFoundException, "Requested resource not found", nil)
	}

	status := dynamodb.TableStatusActive
	if f.pendingChecks > 0 {
		f.pendingChecks--
		status = dynamodb.TableStatusCreating
	}

	return &dynamodb.DescribeTableOutput{Table: &dynamodb.TableDescription{
		TableName:   input.TableName,
		TableStatus: aws.String(status),
	}}, nil
}

func (f *fakeDynamo) CreateTableWithContext(_ aws.Context, _ *dynamodb.CreateTableInput,
	_ ...request.Option) (*dynamodb.CreateTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.creates++
	f.tableExists = true
	return &dynamodb.CreateTableOutput{}, nil
}

func (f *fakeDynamo) PutItemWithContext(_ aws.Context, input *dynamodb.PutItemInput,
	_ ...request.Option) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var item lockItem
	if err := dynamodbattribute.UnmarshalMap(input.Item, &item); err != nil {
		return nil, err
	}

	now, err := strconv.ParseInt(aws.StringValue(input.ExpressionAttributeValues[":now"].N), 10, 64)
	if err != nil {
		return nil, err
	}

	if existing, ok := f.items[item.LockKey]; ok && existing.ExpiresAt >= now {
		return nil, conditionFailed()
	}

	f.items[item.LockKey] = item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) DeleteItemWithContext(_ aws.Context, input *dynamodb.DeleteItemInput,
	_ ...request.Option) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := aws.StringValue(input.Key[lockKey].S)
	owner := aws.StringValue(input.ExpressionAttributeValues[":owner"].S)
	existing, ok := f.items[key]
	if !ok || existing.Owner != owner {
		return nil, conditionFailed()
	}

	delete(f.items, key)
	return &dynamodb.DeleteItemOutput{}, nil
}

func TestDynamoLockerSetup(t *testing.T) {
	ctx := context.Background()
	fake := newFakeDynamo()
	fake.pendingChecks = 2

	locker := NewDynamoLocker(fake, "labelsync-locks", time.Minute, runlog.Discard())
	locker.pollInterval = time.Millisecond
	require.NoError(t, locker.Setup(ctx))
	assert.Equal(t, 1, fake.creates)

	require.NoError(t, locker.Setup(ctx))
	assert.Equal(t, 1, fake.creates, "existing table is used as is")
}

func TestDynamoLocker(t *testing.T) {
	ctx := context.Background()
	fake := newFakeDynamo()
	fake.tableExists = true

	now := time.Unix(1700000000, 0)
	locker := NewDynamoLocker(fake, "labelsync-locks", time.Minute, runlog.Discard())
	locker.now = func() time.Time { return now }

	lease, err := locker.Acquire(ctx, "images/t1")
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, "images/t1")
	var locked *LockedError
	require.ErrorAs(t, err, &locked)
	assert.Equal(t, "images/t1", locked.Key)

	require.NoError(t, lease.Release(ctx))
	lease, err = locker.Acquire(ctx, "images/t1")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	takeover, err := locker.Acquire(ctx, "images/t1")
	require.NoError(t, err)
	assert.ErrorIs(t, lease.Release(ctx), ErrLeaseLost)
	assert.NoError(t, takeover.Release(ctx))
}
