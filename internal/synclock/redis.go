package synclock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultLeaseTTL     = 30 * time.Second
	DefaultPollInterval = 50 * time.Millisecond
)

// releaseScript deletes the key only while it still holds our token, so an
// expired lease never frees a lock someone else has since taken.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// renewScript extends the key's TTL only while it still holds our token.
var renewScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker hands out leases stored as Redis keys with a TTL. A held
// lease is renewed every third of the TTL until it is released.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	poll   time.Duration
}

type RedisOption func(*RedisLocker)

func WithLeaseTTL(ttl time.Duration) RedisOption {
	return func(l *RedisLocker) { l.ttl = ttl }
}

func WithPollInterval(d time.Duration) RedisOption {
	return func(l *RedisLocker) { l.poll = d }
}

func WithKeyPrefix(prefix string) RedisOption {
	return func(l *RedisLocker) { l.prefix = prefix }
}

func NewRedisLocker(client redis.UniversalClient, opts ...RedisOption) *RedisLocker {
	l := &RedisLocker{
		client: client,
		prefix: "lock:",
		ttl:    DefaultLeaseTTL,
		poll:   DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, wait time.Duration) (Lease, error) {
	redisKey := l.prefix + key
	token := uuid.NewString()
	deadline := time.Now().Add(wait)

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire %s: %w", key, err)
		}
		if ok {
			return l.hold(ctx, redisKey, token), nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, key)
		}
		sleep := l.poll
		if sleep > remaining {
			sleep = remaining
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(sleep):
		}
	}
}

func (l *RedisLocker) hold(ctx context.Context, key, token string) *redisLease {
	renewCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	lease := &redisLease{
		client: l.client,
		key:    key,
		token:  token,
		stop:   cancel,
		done:   make(chan struct{}),
	}
	go lease.renew(renewCtx, l.ttl)
	return lease
}

type redisLease struct {
	client redis.UniversalClient
	key    string
	token  string
	stop   context.CancelFunc
	done   chan struct{}
	once   sync.Once
	err    error
}

// renew keeps the key alive until stopped or until the key no longer holds
// our token.
func (l *redisLease) renew(ctx context.Context, ttl time.Duration) {
	defer close(l.done)
	interval := ttl / 3
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		held, err := renewScript.Run(ctx, l.client, []string{l.key}, l.token, ttl.Milliseconds()).Int()
		if err != nil {
			// transient; the next tick retries while the TTL lasts
			continue
		}
		if held == 0 {
			return
		}
	}
}

func (l *redisLease) Release(ctx context.Context) error {
	l.once.Do(func() {
		l.stop()
		<-l.done
		l.err = releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err()
	})
	return l.err
}
