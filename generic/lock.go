package generic

import (
	"context"
	"sync"
)

// =============================================================================
// LOCKER - Single-slot exclusion for jobs
// =============================================================================

// ReleaseFunc gives a held slot back.
type ReleaseFunc func(ctx context.Context) error

// Locker grants at most one holder per key. Obtain never waits: if the
// slot is taken it returns ErrLockNotObtained immediately.
type Locker interface {
	Obtain(ctx context.Context, key string) (ReleaseFunc, error)
}

// LocalLocker is an in-process Locker. store/redis provides one that
// spans processes.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]struct{})}
}

func (l *LocalLocker) Obtain(_ context.Context, key string) (ReleaseFunc, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, taken := l.held[key]; taken {
		return nil, ErrLockNotObtained
	}
	l.held[key] = struct{}{}

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
		return nil
	}, nil
}
