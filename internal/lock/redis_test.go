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

func newMiniRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb
}

func TestRedisAcquireRelease(t *testing.T) {
	mr, rdb := newMiniRedis(t)
	l := NewRedis(rdb, "test", time.Minute)

	lease, err := l.Acquire(context.Background(), "room:1")
	require.NoError(t, err)
	assert.True(t, mr.Exists("test:room:1"))
	assert.Equal(t, time.Minute, mr.TTL("test:room:1"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, "room:1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	lease.Release()
	assert.False(t, mr.Exists("test:room:1"))

	again, err := l.Acquire(context.Background(), "room:1")
	require.NoError(t, err)
	again.Release()
}

func TestRedisWaiterGetsKeyAfterRelease(t *testing.T) {
	_, rdb := newMiniRedis(t)
	l := NewRedis(rdb, "", 0)

	lease, err := l.Acquire(context.Background(), "owner:7")
	require.NoError(t, err)

	acquired := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		r, err := l.Acquire(ctx, "owner:7")
		if err == nil {
			r.Release()
		}
		acquired <- err
	}()
	time.Sleep(30 * time.Millisecond)
	lease.Release()
	require.NoError(t, <-acquired)
}

func TestRedisReleaseKeepsForeignLease(t *testing.T) {
	mr, rdb := newMiniRedis(t)
	l := NewRedis(rdb, "lock", time.Second)

	lease, err := l.Acquire(context.Background(), "room:2")
	require.NoError(t, err)

	// Our lease expires and someone else takes the key.
	mr.FastForward(2 * time.Second)
	require.False(t, mr.Exists("lock:room:2"))
	require.NoError(t, mr.Set("lock:room:2", "someone-else"))

	lease.Release()
	got, err := mr.Get("lock:room:2")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestRedisWithoutClient(t *testing.T) {
	_, err := NewRedis(nil, "", 0).Acquire(context.Background(), "k")
	assert.ErrorIs(t, err, ErrNoClient)
}

func TestRedisServerDown(t *testing.T) {
	mr, rdb := newMiniRedis(t)
	mr.Close()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := NewRedis(rdb, "", 0).Acquire(ctx, "k")
	assert.Error(t, err)
}

func TestRedisConfirmRenewsLease(t *testing.T) {
	mr, rdb := newMiniRedis(t)
	l := NewRedis(rdb, "lock", 10*time.Second)
	assert.Equal(t, 10*time.Second, l.TTL())

	lease, err := l.Acquire(context.Background(), "room:3")
	require.NoError(t, err)
	defer lease.Release()

	mr.FastForward(8 * time.Second)
	require.NoError(t, lease.Confirm(context.Background()))
	assert.Equal(t, 10*time.Second, mr.TTL("lock:room:3"))
}

func TestRedisConfirmDetectsExpiredLease(t *testing.T) {
	mr, rdb := newMiniRedis(t)
	l := NewRedis(rdb, "lock", time.Second)

	lease, err := l.Acquire(context.Background(), "room:4")
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)
	assert.ErrorIs(t, lease.Confirm(context.Background()), ErrLost)

	other, err := l.Acquire(context.Background(), "room:4")
	require.NoError(t, err)
	assert.ErrorIs(t, lease.Confirm(context.Background()), ErrLost, "the key now carries another token")
	assert.NoError(t, other.Confirm(context.Background()))

	lease.Release()
	assert.True(t, mr.Exists("lock:room:4"), "a lost lease never frees the new holder")
	other.Release()
	assert.ErrorIs(t, other.Confirm(context.Background()), ErrLost)
}
