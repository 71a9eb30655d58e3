/*
Package store selects the cache backend named by configuration.

PURPOSE:
  The ledger itself always lives in SQLite. Derived-aggregate caches and
  the rebuild slot can live next to it, in flat files, in Redis, or in
  memory. Open returns the pair the engine needs plus a closer.

  Backend   Cache KV                Rebuild slot
  sqlite    cache_entries table     job_locks lease
  file      CACHE_DIR/*.json        job_locks lease
  redis     SET trade-ledger:*      redislock lease
  memory    process map             job_locks lease

  The rebuild rewrites the stock_ledger table in the shared database
  file, so every backend hands out a slot that spans processes: either
  the Redis lease or a leased row next to the table it guards.

SEE ALSO:
  - store/sqlite, store/file, store/redis
  - generic/store/memory.go
*/
package store

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/warp/trade-ledger/config"
	"github.com/warp/trade-ledger/generic"
	memstore "github.com/warp/trade-ledger/generic/store"
	"github.com/warp/trade-ledger/store/file"
	"github.com/warp/trade-ledger/store/redis"
	"github.com/warp/trade-ledger/store/sqlite"
)

// RebuildLockTTL bounds how long a crashed holder keeps the Redis slot.
const RebuildLockTTL = 10 * time.Minute

// LedgerLockTTL bounds how long a crashed holder keeps a job_locks row.
const LedgerLockTTL = sqlite.DefaultLockTTL

// Backend is an opened cache backend.
type Backend struct {
	Name   string
	Cache  generic.KVStore
	Locker generic.Locker
	Close  func() error
}

// Open builds the backend cfg.CacheBackend names. ledgerDB serves the
// sqlite backend.
func Open(ctx context.Context, cfg config.Config, ledgerDB *sqlite.Store, logger *zap.Logger) (Backend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	noop := func() error { return nil }
	ledgerLocker := ledgerDB.Locker(LedgerLockTTL, logger)

	switch cfg.CacheBackend {
	case config.CacheBackendSQLite:
		return Backend{Name: cfg.CacheBackend, Cache: ledgerDB, Locker: ledgerLocker, Close: noop}, nil

	case config.CacheBackendFile:
		fs, err := file.New(cfg.CacheDir)
		if err != nil {
			return Backend{}, err
		}
		return Backend{Name: cfg.CacheBackend, Cache: fs, Locker: ledgerLocker, Close: noop}, nil

	case config.CacheBackendRedis:
		client := redis.NewClient(redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Logger:   logger,
		})
		if err := client.Ping(ctx); err != nil {
			client.Close()
			return Backend{}, fmt.Errorf("failed to reach redis at %s: %w", cfg.RedisAddr, err)
		}
		return Backend{
			Name:   cfg.CacheBackend,
			Cache:  client.KV(),
			Locker: client.Locker(RebuildLockTTL),
			Close:  client.Close,
		}, nil

	case config.CacheBackendMemory:
		return Backend{Name: cfg.CacheBackend, Cache: memstore.NewMemory(), Locker: ledgerLocker, Close: noop}, nil

	default:
		return Backend{}, fmt.Errorf("unknown cache backend %q", cfg.CacheBackend)
	}
}
