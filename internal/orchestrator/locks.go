package orchestrator

import (
	"context"
	"sort"
	"sync"
)

// LockSet is a set of per-key single-flight locks. A held key has a
// channel that is closed on release so waiters can block on it.
type LockSet struct {
	held  map[string]chan struct{}
	mutex sync.Mutex
}

// NewLockSet creates an empty lock set.
func NewLockSet() *LockSet {
	return &LockSet{held: make(map[string]chan struct{})}
}

// TryAcquire takes the lock for key and reports whether it succeeded. It
// never blocks.
func (l *LockSet) TryAcquire(key string) bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if _, busy := l.held[key]; busy {
		return false
	}
	l.held[key] = make(chan struct{})
	return true
}

// Release frees key and wakes its waiters. Releasing a free key is a no-op.
func (l *LockSet) Release(key string) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if done, ok := l.held[key]; ok {
		close(done)
		delete(l.held, key)
	}
}

// Wait blocks until key is not held or ctx is done. It does not take the
// lock, so another goroutine may acquire key right after Wait returns.
func (l *LockSet) Wait(ctx context.Context, key string) error {
	l.mutex.Lock()
	done, busy := l.held[key]
	l.mutex.Unlock()

	if !busy {
		return nil
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Held reports whether key is currently locked.
func (l *LockSet) Held(key string) bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	_, busy := l.held[key]
	return busy
}

// Keys returns the held keys in sorted order.
func (l *LockSet) Keys() []string {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	keys := make([]string, 0, len(l.held))
	for key := range l.held {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
