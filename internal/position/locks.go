package position

import (
	"sync"
)

// lockRegistry provides per-(strategy account, symbol) try-locks. SQLite has
// no FOR UPDATE SKIP LOCKED, so contention detection happens in-process: a
// failed TryLock means another goroutine is applying a fill for the same
// position right now and this caller should skip, not block.
type lockRegistry struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newLockRegistry() *lockRegistry {
	return &lockRegistry{locks: make(map[string]*sync.Mutex)}
}

func (r *lockRegistry) get(key string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.locks[key]
	if !ok {
		m = &sync.Mutex{}
		r.locks[key] = m
	}
	return m
}

// TryAcquire attempts the lock without blocking; returns the release func and
// whether the lock was taken.
func (r *lockRegistry) TryAcquire(key string) (func(), bool) {
	m := r.get(key)
	if !m.TryLock() {
		return nil, false
	}
	return m.Unlock, true
}
