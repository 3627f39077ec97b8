package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned when the key stays held by another owner until the wait ends.
var ErrNotAcquired = errors.New("lock not acquired")

// Only the owner that set the value may delete the key.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLocker hands out short-lived exclusive locks backed by SET NX.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
	retry  time.Duration
}

// NewRedisLocker creates a locker. ttl bounds how long a crashed holder can
// block others; wait bounds how long Lock polls for a held key.
func NewRedisLocker(client *redis.Client, ttl, wait time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &RedisLocker{client: client, ttl: ttl, wait: wait, retry: 50 * time.Millisecond}
}

// StaffKey builds the lock key serializing bookings of one staff member.
func StaffKey(tenantID, orgID, staffID string) string {
	if staffID == "" {
		staffID = "*"
	}
	return "reservation_lock:" + tenantID + ":" + orgID + ":" + staffID
}

// Lock acquires key and returns the function that releases it.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(context.Context) error, error) {
	owner := uuid.NewString()
	deadline := time.Now().Add(l.wait)

	for {
		ok, err := l.client.SetNX(ctx, key, owner, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		if ok {
			return func(ctx context.Context) error {
				return unlockScript.Run(ctx, l.client, []string{key}, owner).Err()
			}, nil
		}
		if !time.Now().Before(deadline) {
			return nil, ErrNotAcquired
		}

		timer := time.NewTimer(l.retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}
