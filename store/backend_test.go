package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/trade-ledger/config"
	"github.com/warp/trade-ledger/generic"
	"github.com/warp/trade-ledger/store/sqlite"
)

func TestOpen_LocalBackends(t *testing.T) {
	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	for _, name := range []string{config.CacheBackendSQLite, config.CacheBackendFile, config.CacheBackendMemory} {
		t.Run(name, func(t *testing.T) {
			cfg := config.Config{CacheBackend: name, CacheDir: filepath.Join(t.TempDir(), "data")}

			backend, err := Open(ctx, cfg, db, nil)
			require.NoError(t, err)
			defer backend.Close()

			// Round trip through the chosen KV
			require.NoError(t, backend.Cache.Put(ctx, "stock-cache", []byte(`{"entries":{}}`)))
			raw, ok, err := backend.Cache.Get(ctx, "stock-cache")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.JSONEq(t, `{"entries":{}}`, string(raw))

			release, err := backend.Locker.Obtain(ctx, "job:stock-rebuild")
			require.NoError(t, err)
			assert.NoError(t, release(ctx))
		})
	}
}

func TestOpen_RebuildSlotIsSharedThroughTheDatabaseFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.db")
	ctx := context.Background()

	for _, name := range []string{config.CacheBackendSQLite, config.CacheBackendFile, config.CacheBackendMemory} {
		t.Run(name, func(t *testing.T) {
			// GIVEN: Two processes' handles on one database file
			server, err := sqlite.New(path)
			require.NoError(t, err)
			defer server.Close()
			cli, err := sqlite.New(path)
			require.NoError(t, err)
			defer cli.Close()

			cfg := config.Config{CacheBackend: name, CacheDir: filepath.Join(dir, "data")}
			a, err := Open(ctx, cfg, server, nil)
			require.NoError(t, err)
			b, err := Open(ctx, cfg, cli, nil)
			require.NoError(t, err)

			// WHEN: One holds the rebuild slot
			release, err := a.Locker.Obtain(ctx, "job:stock-rebuild")
			require.NoError(t, err)

			// THEN: The other is refused until it is released
			_, err = b.Locker.Obtain(ctx, "job:stock-rebuild")
			assert.ErrorIs(t, err, generic.ErrLockNotObtained)

			require.NoError(t, release(ctx))
			again, err := b.Locker.Obtain(ctx, "job:stock-rebuild")
			require.NoError(t, err)
			require.NoError(t, again(ctx))
		})
	}
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), config.Config{CacheBackend: "tape"}, nil, nil)
	assert.Error(t, err)
}
