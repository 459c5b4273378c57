// Package synclock serializes work on a shared resource across workers.
package synclock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrLockTimeout is returned when a lock could not be acquired within the
// requested wait.
var ErrLockTimeout = errors.New("lock wait timed out")

// Lease is a held lock. Release is safe to call more than once.
type Lease interface {
	Release(ctx context.Context) error
}

type Locker interface {
	// Acquire blocks up to wait for key to become free.
	Acquire(ctx context.Context, key string, wait time.Duration) (Lease, error)
}

// Key builds the lock name for one resource of one organization.
func Key(engine string, orgID int64, resource string) string {
	return fmt.Sprintf("%s:%d:%s", engine, orgID, resource)
}

// LocalLocker is an in-process Locker for single-node deployments and tests.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]chan struct{})}
}

func (l *LocalLocker) Acquire(ctx context.Context, key string, wait time.Duration) (Lease, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		l.mu.Lock()
		ch, busy := l.held[key]
		if !busy {
			ch = make(chan struct{})
			l.held[key] = ch
			l.mu.Unlock()
			return &localLease{locker: l, key: key, ch: ch}, nil
		}
		l.mu.Unlock()

		select {
		case <-ch:
		case <-timer.C:
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, key)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

type localLease struct {
	locker *LocalLocker
	key    string
	ch     chan struct{}
	once   sync.Once
}

func (l *localLease) Release(ctx context.Context) error {
	l.once.Do(func() {
		l.locker.mu.Lock()
		if l.locker.held[l.key] == l.ch {
			delete(l.locker.held, l.key)
		}
		l.locker.mu.Unlock()
		close(l.ch)
	})
	return nil
}
