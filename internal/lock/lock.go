// Package lock serializes concurrent deliveries of the same payment.
//
// A held lock is not an error condition for the caller's caller: the
// webhook handler answers 503 and the gateway delivers again later, by
// which time the first delivery has finished and the replay is a no-op.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tuckshop-za/tuckshop/internal/idgen"
	"github.com/tuckshop-za/tuckshop/internal/syncutil"
)

// ErrHeld is returned when the key stays locked for the whole wait.
var ErrHeld = errors.New("lock: held by another worker")

// Locker acquires short-lived exclusive locks.
type Locker interface {
	// Acquire waits up to wait for key; a wait of zero or less tries once.
	// The lock expires after ttl even if release is never called.
	Acquire(ctx context.Context, key string, ttl, wait time.Duration) (release func(), err error)
}

// Local locks within one process.
type Local struct {
	mu *syncutil.ContextShardedMutex
}

var _ Locker = (*Local)(nil)

// NewLocal creates an in-process locker.
func NewLocal() *Local {
	return &Local{mu: syncutil.NewContextShardedMutex()}
}

// Acquire implements Locker. Like the Redis lock, a holder that outlives
// ttl loses the lock; release is idempotent either way.
func (l *Local) Acquire(ctx context.Context, key string, ttl, wait time.Duration) (func(), error) {
	if wait <= 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		unlock, ok := l.mu.TryLock(key)
		if !ok {
			return nil, ErrHeld
		}
		return expiring(unlock, ttl), nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	unlock, err := l.mu.LockContext(waitCtx, key)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrHeld
	}
	return expiring(unlock, ttl), nil
}

// expiring makes unlock idempotent and runs it after ttl if the holder has
// not released by then.
func expiring(unlock func(), ttl time.Duration) func() {
	var once sync.Once
	release := func() { once.Do(unlock) }
	if ttl <= 0 {
		return release
	}
	expiry := time.AfterFunc(ttl, release)
	return func() {
		expiry.Stop()
		release()
	}
}

const redisPrefix = "tuckshop:lock:"

// Compare-and-delete so a lock that expired and was re-acquired elsewhere
// is not released by the old holder.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis locks across instances with SET NX PX.
type Redis struct {
	client redis.UniversalClient
	poll   time.Duration
}

var _ Locker = (*Redis)(nil)

// NewRedis creates a Redis locker.
func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client, poll: 100 * time.Millisecond}
}

// Connect parses url, pings the server and returns the client.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("lock: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("lock: ping redis: %w", err)
	}
	return client, nil
}

// Acquire implements Locker.
func (r *Redis) Acquire(ctx context.Context, key string, ttl, wait time.Duration) (func(), error) {
	k := redisPrefix + key
	token := idgen.Hex(16)
	deadline := time.Now().Add(wait)

	for {
		ok, err := r.client.SetNX(ctx, k, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("lock: setnx: %w", err)
		}
		if ok {
			return func() {
				// Detached: the request context may already be done.
				relCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_ = releaseScript.Run(relCtx, r.client, []string{k}, token).Err()
			}, nil
		}
		if !time.Now().Add(r.poll).Before(deadline) {
			return nil, ErrHeld
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.poll):
		}
	}
}
