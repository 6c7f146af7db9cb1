package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisPrefix = "labelsync:lock:"
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisClient is the subset of the go-redis client used by RedisLocker
type RedisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	redis.Scripter
}

// RedisLocker holds leases as keys expiring after ttl
type RedisLocker struct {
	client RedisClient
	ttl    time.Duration
	prefix string
}

// NewRedisLocker returns a locker storing leases in redis
func NewRedisLocker(client RedisClient, ttl time.Duration) *RedisLocker {
	return &RedisLocker{
		client: client,
		ttl:    ttl,
		prefix: defaultRedisPrefix,
	}
}

type redisLease struct {
	locker *RedisLocker
	key    string
	token  string
}

// Acquire sets the key if it is not set
func (r *RedisLocker) Acquire(ctx context.Context, key string) (Lease, error) {
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, r.prefix+key, token, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("Error acquiring lock %s: %w", key, err)
	}

	if !ok {
		return nil, &LockedError{Key: key}
	}

	return &redisLease{locker: r, key: key, token: token}, nil
}

// Release deletes the key if this lease still owns it
func (l *redisLease) Release(ctx context.Context) error {
	deleted, err := releaseScript.Run(ctx, l.locker.client, []string{l.locker.prefix + l.key}, l.token).Int()
	if err != nil {
		return fmt.Errorf("Error releasing lock %s: %w", l.key, err)
	}

	if deleted == 0 {
		return fmt.Errorf("Error releasing lock %s: %w", l.key, ErrLeaseLost)
	}

	return nil
}
