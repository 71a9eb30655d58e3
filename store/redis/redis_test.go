package redis

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/trade-ledger/generic"
)

// newTestClient connects to REDIS_ADDR under a unique prefix, or skips.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	c := NewClient(Options{Addr: addr, Prefix: "trade-ledger-test:" + uuid.NewString() + ":"})
	require.NoError(t, c.Ping(context.Background()))
	t.Cleanup(func() { c.Close() })
	return c
}

func TestKV_RoundTrip(t *testing.T) {
	c := newTestClient(t)
	kv := c.KV()
	ctx := context.Background()

	_, ok, err := kv.Get(ctx, "stock-cache")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, kv.Put(ctx, "stock-cache", []byte(`{"a":1}`)))
	got, ok, err := kv.Get(ctx, "stock-cache")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"a":1}`, string(got))

	require.NoError(t, kv.Delete(ctx, "stock-cache"))
	_, ok, err = kv.Get(ctx, "stock-cache")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLocker_SingleHolder(t *testing.T) {
	c := newTestClient(t)
	locker := c.Locker(time.Second)
	ctx := context.Background()

	// GIVEN: One holder
	release, err := locker.Obtain(ctx, "job:stock-rebuild")
	require.NoError(t, err)

	// WHEN: A second process tries the same slot
	_, err = locker.Obtain(ctx, "job:stock-rebuild")

	// THEN: It is refused until the first releases
	assert.True(t, errors.Is(err, generic.ErrLockNotObtained))

	require.NoError(t, release(ctx))
	require.NoError(t, release(ctx))

	again, err := locker.Obtain(ctx, "job:stock-rebuild")
	require.NoError(t, err)
	require.NoError(t, again(ctx))
}

func TestLocker_LeaseOutlivesTTLWhileHeld(t *testing.T) {
	c := newTestClient(t)
	locker := c.Locker(400 * time.Millisecond)
	ctx := context.Background()

	release, err := locker.Obtain(ctx, "job:long")
	require.NoError(t, err)
	defer release(ctx)

	time.Sleep(time.Second)

	_, err = locker.Obtain(ctx, "job:long")
	assert.True(t, errors.Is(err, generic.ErrLockNotObtained))
}
