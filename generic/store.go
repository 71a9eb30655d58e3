package generic

import "context"

// =============================================================================
// KV STORE - Persistence contract for derived-aggregate caches
// =============================================================================

// KVStore persists opaque cache payloads under string keys.
//
// Put MUST replace the previous value atomically: a concurrent Get sees
// either the old payload or the new one, never a partial write. The
// implementations achieve this with temp-file rename (store/file), a single
// upsert statement (store/sqlite) or a single SET (store/redis).
type KVStore interface {
	// Get returns the payload and true, or nil and false when absent.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Put replaces the payload stored under key.
	Put(ctx context.Context, key string, value []byte) error
}

// KVDeleter is implemented by stores that can drop a key entirely.
type KVDeleter interface {
	Delete(ctx context.Context, key string) error
}
