package workflow

import (
	"context"
	"sync"
)

// instanceLocks serializes work per instance id. Entries are reference
// counted and removed once no caller holds or waits for them.
type instanceLocks struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newInstanceLocks() *instanceLocks {
	return &instanceLocks{locks: make(map[string]*lockEntry)}
}

func (l *instanceLocks) acquire(id string) *lockEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.locks[id]
	if !ok {
		entry = &lockEntry{}
		l.locks[id] = entry
	}
	entry.refs++
	return entry
}

func (l *instanceLocks) release(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.locks[id]
	if !ok {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(l.locks, id)
	}
}

// withLock runs fn while holding the lock for id.
func (l *instanceLocks) withLock(ctx context.Context, id string, fn func(context.Context) error) error {
	entry := l.acquire(id)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		l.release(id)
	}()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}

// size returns the number of live entries.
func (l *instanceLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
