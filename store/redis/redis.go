/*
Package redis provides a Redis-backed cache KVStore and job Locker.

PURPOSE:
  Lets several engine processes share derived-aggregate caches and the
  rebuild slot. Cache payloads are written with a single SET, which
  replaces the value atomically. The rebuild slot is a redislock lease
  that is refreshed while the job runs.

USAGE:
  client := redis.NewClient(redis.Options{Addr: "localhost:6379"})
  defer client.Close()

  engine := ledger.NewEngine(ledger.Config{
      Cache:  client.KV(),
      Locker: client.Locker(10 * time.Minute),
      ...
  })

SEE ALSO:
  - generic/store.go: KVStore contract
  - generic/lock.go: Locker contract
*/
package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/warp/trade-ledger/generic"
)

// DefaultPrefix namespaces every key this package writes.
const DefaultPrefix = "trade-ledger:"

// Options configures the client.
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	Logger   *zap.Logger
}

// Client wraps a go-redis client.
type Client struct {
	rdb    goredis.UniversalClient
	prefix string
	logger *zap.Logger
}

func NewClient(opts Options) *Client {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return Wrap(rdb, opts.Prefix, opts.Logger)
}

// Wrap adopts an existing client.
func Wrap(rdb goredis.UniversalClient, prefix string, logger *zap.Logger) *Client {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{rdb: rdb, prefix: prefix, logger: logger}
}

func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

// =============================================================================
// KV STORE
// =============================================================================

// KV returns the cache KVStore view of the client.
func (c *Client) KV() *KV { return &KV{c: c} }

type KV struct {
	c *Client
}

func (k *KV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := k.c.rdb.Get(ctx, k.c.prefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, true, nil
}

// Put writes without expiry; staleness is the cache manager's concern.
func (k *KV) Put(ctx context.Context, key string, value []byte) error {
	if err := k.c.rdb.Set(ctx, k.c.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (k *KV) Delete(ctx context.Context, key string) error {
	if err := k.c.rdb.Del(ctx, k.c.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// =============================================================================
// LOCKER
// =============================================================================

// Locker returns a generic.Locker backed by redislock. The lease lasts
// ttl and is refreshed every ttl/2 until released.
func (c *Client) Locker(ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Locker{
		client: redislock.New(c.rdb),
		prefix: c.prefix + "lock:",
		ttl:    ttl,
		logger: c.logger,
	}
}

type Locker struct {
	client *redislock.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

func (l *Locker) Obtain(ctx context.Context, key string) (generic.ReleaseFunc, error) {
	lock, err := l.client.Obtain(ctx, l.prefix+key, l.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, generic.ErrLockNotObtained
	}
	if err != nil {
		return nil, fmt.Errorf("redis lock %s: %w", key, err)
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
				if err := lock.Refresh(context.Background(), l.ttl, nil); err != nil {
					l.logger.Warn("failed to refresh lock lease",
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
			rerr = lock.Release(ctx)
			if errors.Is(rerr, redislock.ErrLockNotHeld) {
				rerr = nil
			}
		})
		return rerr
	}, nil
}
