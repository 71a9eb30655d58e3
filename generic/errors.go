/*
errors.go - Centralized error types for the generic engine

PURPOSE:
  All infrastructure error types in one place. Domain packages wrap these
  with their own context and add their own sentinels alongside.

ERROR CATEGORIES:
  1. Cache errors - Derived view has not been computed yet
  2. Job errors - Single-slot job already in flight
  3. Store errors - Persistence failures

USAGE:
    result, err := cache.Get(ctx, key)
    if errors.Is(err, generic.ErrNotGenerated) {
        // tell the caller to trigger a refresh
    }

SEE ALSO:
  - cache.go: Returns ErrNotGenerated
  - job.go: Returns ErrJobRunning
  - ledger/errors.go: Domain errors
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotGenerated is returned by a TTL cache on a miss. The caller must
	// request an explicit refresh; the cache never computes it implicitly.
	ErrNotGenerated = errors.New("not generated yet, please refresh")

	// ErrJobRunning is returned when a single-slot job is started while a
	// previous run is still in flight.
	ErrJobRunning = errors.New("job already running")

	// ErrLockNotObtained is returned by a Locker that could not acquire the slot.
	ErrLockNotObtained = errors.New("lock not obtained")

	// ErrNoRecompute is returned when a cache without a recompute function
	// is asked to refresh.
	ErrNoRecompute = errors.New("cache has no recompute function")

	// ErrStoreFailed is returned when the cache persistence layer fails.
	ErrStoreFailed = errors.New("cache store failed")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NotGeneratedError names the cache and key that missed.
type NotGeneratedError struct {
	Cache string
	Key   string
}

func (e *NotGeneratedError) Error() string {
	return fmt.Sprintf("%s[%s]: %v", e.Cache, e.Key, ErrNotGenerated)
}

func (e *NotGeneratedError) Unwrap() error {
	return ErrNotGenerated
}

// StoreError wraps a KVStore failure with the operation and key.
type StoreError struct {
	Op  string
	Key string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("cache store %s %q: %v", e.Op, e.Key, e.Err)
}

// Is lets errors.Is match both the sentinel and the underlying cause.
func (e *StoreError) Is(target error) bool {
	return target == ErrStoreFailed
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotGenerated returns true if the error is a TTL cache miss.
func IsNotGenerated(err error) bool {
	return errors.Is(err, ErrNotGenerated)
}

// IsConflict returns true if the error is a rejected concurrent start.
func IsConflict(err error) bool {
	return errors.Is(err, ErrJobRunning) ||
		errors.Is(err, ErrLockNotObtained)
}
