package synclock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(server.Close)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return server, client
}

func TestKey(t *testing.T) {
	assert.Equal(t, "ticketbridge:12:https://acme.zendesk.com/api/v2/tickets/42.json",
		Key("ticketbridge", 12, "https://acme.zendesk.com/api/v2/tickets/42.json"))
}

func lockers(t *testing.T) map[string]Locker {
	_, client := startTestRedis(t)
	return map[string]Locker{
		"local": NewLocalLocker(),
		"redis": NewRedisLocker(client, WithPollInterval(5*time.Millisecond)),
	}
}

func TestLockerExclusive(t *testing.T) {
	for name, locker := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			lease, err := locker.Acquire(ctx, "k", time.Second)
			require.NoError(t, err)

			_, err = locker.Acquire(ctx, "k", 30*time.Millisecond)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrLockTimeout))

			other, err := locker.Acquire(ctx, "other", 30*time.Millisecond)
			require.NoError(t, err, "different keys do not contend")
			require.NoError(t, other.Release(ctx))

			require.NoError(t, lease.Release(ctx))
			require.NoError(t, lease.Release(ctx), "release is idempotent")

			again, err := locker.Acquire(ctx, "k", 30*time.Millisecond)
			require.NoError(t, err)
			require.NoError(t, again.Release(ctx))
		})
	}
}

func TestLockerWaitsForRelease(t *testing.T) {
	for name, locker := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			lease, err := locker.Acquire(ctx, "k", time.Second)
			require.NoError(t, err)

			go func() {
				time.Sleep(20 * time.Millisecond)
				_ = lease.Release(ctx)
			}()

			next, err := locker.Acquire(ctx, "k", 2*time.Second)
			require.NoError(t, err)
			require.NoError(t, next.Release(ctx))
		})
	}
}

func TestLockerSerializesWorkers(t *testing.T) {
	for name, locker := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var inside, maxInside int32
			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					lease, err := locker.Acquire(ctx, "shared", 5*time.Second)
					if err != nil {
						t.Errorf("acquire: %v", err)
						return
					}
					defer lease.Release(ctx)
					n := atomic.AddInt32(&inside, 1)
					for {
						m := atomic.LoadInt32(&maxInside)
						if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
							break
						}
					}
					time.Sleep(2 * time.Millisecond)
					atomic.AddInt32(&inside, -1)
				}()
			}
			wg.Wait()
			assert.Equal(t, int32(1), maxInside)
		})
	}
}

func TestLockerContextCancel(t *testing.T) {
	locker := NewLocalLocker()
	lease, err := locker.Acquire(context.Background(), "k", time.Second)
	require.NoError(t, err)
	defer lease.Release(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = locker.Acquire(ctx, "k", time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRedisLeaseExpiresAndDoesNotFreeNewHolder(t *testing.T) {
	server, client := startTestRedis(t)
	ctx := context.Background()
	locker := NewRedisLocker(client, WithLeaseTTL(time.Second), WithPollInterval(5*time.Millisecond))

	stale, err := locker.Acquire(ctx, "k", 0)
	require.NoError(t, err)

	server.FastForward(2 * time.Second)

	fresh, err := locker.Acquire(ctx, "k", 0)
	require.NoError(t, err, "expired lease frees the key")

	require.NoError(t, stale.Release(ctx))
	assert.True(t, server.Exists("lock:k"), "stale release must not delete the new holder's key")

	require.NoError(t, fresh.Release(ctx))
	assert.False(t, server.Exists("lock:k"))
}

func TestRedisLeaseIsRenewedWhileHeld(t *testing.T) {
	server, client := startTestRedis(t)
	ctx := context.Background()
	ttl := 300 * time.Millisecond
	locker := NewRedisLocker(client, WithLeaseTTL(ttl), WithPollInterval(5*time.Millisecond))

	lease, err := locker.Acquire(ctx, "ticketbridge:1:t42", 0)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		server.FastForward(200 * time.Millisecond)
		require.Eventually(t, func() bool {
			return server.TTL("lock:ticketbridge:1:t42") > 200*time.Millisecond
		}, 2*time.Second, 10*time.Millisecond, "lease renewed")
	}

	_, err = locker.Acquire(ctx, "ticketbridge:1:t42", 0)
	assert.ErrorIs(t, err, ErrLockTimeout, "a renewed lease stays exclusive past its TTL")

	require.NoError(t, lease.Release(ctx))
	assert.False(t, server.Exists("lock:ticketbridge:1:t42"))

	next, err := locker.Acquire(ctx, "ticketbridge:1:t42", 0)
	require.NoError(t, err)
	require.NoError(t, next.Release(ctx))
}
