package snapshot

import (
	"context"
	"sync"

	"github.com/emcifuntik/twitch-overlay-widgets/internal/db"
	"golang.org/x/sync/semaphore"
)

type keyLock struct {
	sem  *semaphore.Weighted
	refs int
}

// keyLocks hands out one lock per snapshot key and forgets it once nobody
// holds or waits on it.
type keyLocks struct {
	mu    sync.Mutex
	locks map[db.SnapshotKey]*keyLock
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[db.SnapshotKey]*keyLock)}
}

// lock waits for key until ctx is done and returns the release func.
func (k *keyLocks) lock(ctx context.Context, key db.SnapshotKey) (func(), error) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{sem: semaphore.NewWeighted(1)}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	if err := l.sem.Acquire(ctx, 1); err != nil {
		k.release(key, l)
		return nil, err
	}
	return func() {
		l.sem.Release(1)
		k.release(key, l)
	}, nil
}

func (k *keyLocks) release(key db.SnapshotKey, l *keyLock) {
	k.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()
}

func (k *keyLocks) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
