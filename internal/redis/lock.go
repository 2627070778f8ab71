package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("request lock not acquired")
)

// Locker guards the claim critical section per request. It sheds
// concurrent claim stampedes before they hit the database; the
// conditional update inside the transaction remains the correctness
// mechanism.
type Locker interface {
	WithRequestLock(ctx context.Context, requestID uuid.UUID, fn func(ctx context.Context) error) error
}

type redisRequestLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisRequestLocker creates a locker that uses a per request Redis key
func NewRedisRequestLocker(client *redis.Client, ttl time.Duration) Locker {
	return &redisRequestLocker{
		client: client,
		ttl:    ttl,
	}
}

func (l *redisRequestLocker) WithRequestLock(ctx context.Context, requestID uuid.UUID, fn func(ctx context.Context) error) error {
	key := fmt.Sprintf("lock:request:%s", requestID.String())
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire request lock: %w", err)
	}
	if !ok {
		return ErrLockNotAcquired
	}

	defer func() {
		_ = l.release(ctx, key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisRequestLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release request lock: %w", err)
	}
	return nil
}
