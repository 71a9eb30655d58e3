package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/trade-ledger/generic"
	"github.com/warp/trade-ledger/ledger"
)

func openShared(t *testing.T, path string) *Store {
	t.Helper()
	s, err := New(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// blockingWriter holds a rebuild inside its clear step until released.
type blockingWriter struct {
	*Store
	entered chan struct{}
	release chan struct{}
}

func (w *blockingWriter) ClearStockLedger(ctx context.Context) error {
	close(w.entered)
	<-w.release
	return w.Store.ClearStockLedger(ctx)
}

func TestLocker_TwoEnginesOnOneFileRejectConcurrentRebuild(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()

	// GIVEN: A server and a CLI process opening the same database
	server := openShared(t, path)
	cli := openShared(t, path)
	_, err := server.AppendEntries(ctx, []ledger.Entry{{
		Direction:    ledger.Inbound,
		ProductModel: "P1",
		Quantity:     decimal.NewFromInt(5),
		UnitPrice:    decimal.NewFromInt(2),
		Date:         generic.NewDate(2024, 1, 1),
	}})
	require.NoError(t, err)

	writer := &blockingWriter{Store: server, entered: make(chan struct{}), release: make(chan struct{})}
	serverEngine := ledger.NewEngine(ledger.Config{
		Query: server, Registry: server, Writer: writer, Cache: server,
		Locker: server.Locker(time.Minute, nil),
	})
	cliEngine := ledger.NewEngine(ledger.Config{
		Query: cli, Registry: cli, Writer: cli, Cache: cli,
		Locker: cli.Locker(time.Minute, nil),
	})

	// WHEN: The server's rebuild is in flight
	done := make(chan error, 1)
	go func() {
		_, err := serverEngine.RebuildStockLedger(ctx)
		done <- err
	}()
	<-writer.entered

	// THEN: The CLI's rebuild is rejected without touching the table
	_, err = cliEngine.RebuildStockLedger(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, generic.ErrJobRunning)

	close(writer.release)
	require.NoError(t, <-done)

	res, err := cliEngine.RebuildStockLedger(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.RecordsProcessed)
}

func TestLocker_LapsedLeaseIsTakenOver(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// GIVEN: A slot left behind by a holder that died
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO job_locks (key, owner, expires_at) VALUES (?, ?, ?)",
		"job:stock-rebuild", "dead", time.Now().Add(-time.Second).UnixMilli())
	require.NoError(t, err)

	// WHEN: Another process asks for it
	release, err := s.Locker(time.Minute, nil).Obtain(ctx, "job:stock-rebuild")

	// THEN: It is granted
	require.NoError(t, err)
	require.NoError(t, release(ctx))
}

func TestLocker_LeaseIsExtendedWhileHeld(t *testing.T) {
	s := newTestStore(t)
	locker := s.Locker(100*time.Millisecond, nil)
	ctx := context.Background()

	release, err := locker.Obtain(ctx, "job:long")
	require.NoError(t, err)

	time.Sleep(300 * time.Millisecond)

	_, err = locker.Obtain(ctx, "job:long")
	assert.ErrorIs(t, err, generic.ErrLockNotObtained)

	require.NoError(t, release(ctx))
	require.NoError(t, release(ctx))

	again, err := locker.Obtain(ctx, "job:long")
	require.NoError(t, err)
	require.NoError(t, again(ctx))
}
