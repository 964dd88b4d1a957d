package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only when it still carries our token so
// that a holder whose lease expired never frees someone else's lock.
var releaseScript = redis.NewScript(`
    if redis.call('GET', KEYS[1]) == ARGV[1] then
        return redis.call('DEL', KEYS[1])
    end
    return 0
`)

// renewScript restarts the expiry only while the key still carries our
// token.  It returns 0 once the lease has been lost.
var renewScript = redis.NewScript(`
    if redis.call('GET', KEYS[1]) == ARGV[1] then
        return redis.call('PEXPIRE', KEYS[1], ARGV[2])
    end
    return 0
`)

// ErrNoClient is returned by Acquire when the Redis client is nil.
var ErrNoClient = errors.New("lock: redis client not configured")

// Redis is a lease-based distributed lock.  A key is held by setting
// prefix:key to a random token with SET NX PX; the lease bounds how long
// a crashed holder can block others.
type Redis struct {
	rdb      *redis.Client
	prefix   string
	ttl      time.Duration
	minRetry time.Duration
	maxRetry time.Duration
}

// NewRedis returns a Redis lock.  ttl is the lease length; it defaults
// to 10s.  Holders are expected to finish within TTL and to Confirm the
// lease before writing.
func NewRedis(rdb *redis.Client, prefix string, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = "lock"
	}
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &Redis{
		rdb:      rdb,
		prefix:   prefix,
		ttl:      ttl,
		minRetry: 5 * time.Millisecond,
		maxRetry: 200 * time.Millisecond,
	}
}

// TTL is the lease length.  A hold not confirmed within TTL may be
// taken by another caller.
func (r *Redis) TTL() time.Duration { return r.ttl }

// Acquire polls with exponential backoff until key is held or ctx is done.
func (r *Redis) Acquire(ctx context.Context, key string) (Lease, error) {
	if r.rdb == nil {
		return nil, ErrNoClient
	}
	full := r.prefix + ":" + key
	token := uuid.NewString()
	wait := r.minRetry
	for {
		ok, err := r.rdb.SetNX(ctx, full, token, r.ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		if wait < r.maxRetry {
			wait *= 2
		}
	}
	return &redisLease{r: r, key: full, token: token}, nil
}

type redisLease struct {
	r     *Redis
	key   string
	token string

	mu       sync.Mutex
	released bool
}

func (l *redisLease) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return
	}
	l.released = true
	// Release even when the caller's context is already cancelled.
	rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = releaseScript.Run(rctx, l.r.rdb, []string{l.key}, l.token).Err()
}

func (l *redisLease) Confirm(ctx context.Context) error {
	l.mu.Lock()
	released := l.released
	l.mu.Unlock()
	if released {
		return ErrLost
	}
	n, err := renewScript.Run(ctx, l.r.rdb, []string{l.key}, l.token, l.r.ttl.Milliseconds()).Int64()
	if err != nil {
		return err
	}
	if n != 1 {
		return ErrLost
	}
	return nil
}
