/*
lock.go - Leased job slots in the job_locks table

PURPOSE:
  Lets the server and cmd/rebuild share one rebuild slot through the
  database file they already share. A slot is a job_locks row with an
  owner and a lease deadline. Obtain inserts the row, or takes it over
  only when the previous lease has lapsed; both happen in one upsert, so
  two processes racing for a free slot cannot both win.

LEASE:
  The holder extends expires_at every ttl/2. A process that dies while
  holding the slot stops extending it, and the slot frees itself once
  the lease passes.

SEE ALSO:
  - generic/lock.go: Locker contract
  - store/redis: the same contract over redislock
*/
package sqlite

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/trade-ledger/generic"
)

// DefaultLockTTL is the lease length when none is given.
const DefaultLockTTL = time.Minute

// Locker implements generic.Locker on the job_locks table.
type Locker struct {
	store  *Store
	ttl    time.Duration
	logger *zap.Logger
}

// Locker returns a cross-process Locker leasing slots for ttl.
func (s *Store) Locker(ttl time.Duration, logger *zap.Logger) *Locker {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Locker{store: s, ttl: ttl, logger: logger}
}

func (l *Locker) Obtain(ctx context.Context, key string) (generic.ReleaseFunc, error) {
	owner := uuid.NewString()

	ok, err := l.acquire(ctx, key, owner)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, generic.ErrLockNotObtained
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(l.ttl / 2)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := l.extend(context.Background(), key, owner); err != nil {
					l.logger.Warn("failed to extend job lease",
						zap.String("key", key), zap.Error(err))
				}
			}
		}
	}()

	var once sync.Once
	return func(ctx context.Context) error {
		var rerr error
		once.Do(func() {
			close(stop)
			wg.Wait()
			rerr = l.release(ctx, key, owner)
		})
		return rerr
	}, nil
}

// acquire takes the slot when it is free or its lease has lapsed.
func (l *Locker) acquire(ctx context.Context, key, owner string) (bool, error) {
	s := l.store
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO job_locks (key, owner, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			owner = excluded.owner,
			expires_at = excluded.expires_at
		WHERE job_locks.expires_at < ?
	`, key, owner, now.Add(l.ttl).UnixMilli(), now.UnixMilli())
	if err != nil {
		return false, fmt.Errorf("failed to obtain job slot %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to obtain job slot %s: %w", key, err)
	}
	return n == 1, nil
}

func (l *Locker) extend(ctx context.Context, key, owner string) error {
	s := l.store
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"UPDATE job_locks SET expires_at = ? WHERE key = ? AND owner = ?",
		time.Now().Add(l.ttl).UnixMilli(), key, owner)
	return err
}

// release deletes the row only while this owner still holds it.
func (l *Locker) release(ctx context.Context, key, owner string) error {
	s := l.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM job_locks WHERE key = ? AND owner = ?", key, owner); err != nil {
		return fmt.Errorf("failed to release job slot %s: %w", key, err)
	}
	return nil
}
