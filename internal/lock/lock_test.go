package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestRedisLocker_LockUnlock(t *testing.T) {
	client, mr := setup(t)
	locker := NewRedisLocker(client, time.Minute, 0)
	ctx := context.Background()
	key := StaffKey("t1", "o1", "s1")

	unlock, err := locker.Lock(ctx, key)
	require.NoError(t, err)
	assert.True(t, mr.Exists(key))

	_, err = locker.Lock(ctx, key)
	assert.ErrorIs(t, err, ErrNotAcquired)

	require.NoError(t, unlock(ctx))
	assert.False(t, mr.Exists(key))

	unlock2, err := locker.Lock(ctx, key)
	require.NoError(t, err)
	require.NoError(t, unlock2(ctx))
}

func TestRedisLocker_UnlockKeepsForeignOwner(t *testing.T) {
	client, mr := setup(t)
	locker := NewRedisLocker(client, time.Minute, 0)
	ctx := context.Background()
	key := StaffKey("t1", "o1", "s1")

	unlock, err := locker.Lock(ctx, key)
	require.NoError(t, err)

	// The first holder expired and someone else took the key.
	mr.FastForward(2 * time.Minute)
	require.NoError(t, mr.Set(key, "someone-else"))

	require.NoError(t, unlock(ctx))
	got, err := mr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestRedisLocker_WaitsForRelease(t *testing.T) {
	client, _ := setup(t)
	locker := NewRedisLocker(client, time.Minute, 2*time.Second)
	ctx := context.Background()
	key := StaffKey("t1", "o1", "")

	unlock, err := locker.Lock(ctx, key)
	require.NoError(t, err)

	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = unlock(context.Background())
	}()

	unlock2, err := locker.Lock(ctx, key)
	require.NoError(t, err)
	require.NoError(t, unlock2(ctx))
}

func TestRedisLocker_ContextCanceled(t *testing.T) {
	client, _ := setup(t)
	locker := NewRedisLocker(client, time.Minute, time.Minute)
	key := StaffKey("t1", "o1", "s1")

	_, err := locker.Lock(context.Background(), key)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, key)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStaffKey(t *testing.T) {
	assert.Equal(t, "reservation_lock:t1:o1:s1", StaffKey("t1", "o1", "s1"))
	assert.Equal(t, "reservation_lock:t1:o1:*", StaffKey("t1", "o1", ""))
}
