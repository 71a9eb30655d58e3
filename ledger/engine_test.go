package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/trade-ledger/generic"
	memstore "github.com/warp/trade-ledger/generic/store"
)

type engineFixture struct {
	engine *Engine
	ledger *memLedger
	store  *memstore.Memory
	locker *generic.LocalLocker
	clock  *fakeClock
}

func newEngineFixture(l *memLedger) engineFixture {
	f := engineFixture{
		ledger: l,
		store:  memstore.NewMemory(),
		locker: generic.NewLocalLocker(),
		clock:  newFakeClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)),
	}
	f.engine = NewEngine(Config{
		Query:    l,
		Registry: l,
		Writer:   l,
		Cache:    f.store,
		Locker:   f.locker,
		Clock:    f.clock.Now,
	})
	return f
}

func scenarioLedger() *memLedger {
	return newMemLedger().
		in("P1", "100", "10", d(2024, 1, 5)).
		out("P1", "40", "15", d(2024, 2, 10), "C1")
}

// =============================================================================
// ANALYSIS
// =============================================================================

func TestEngine_AnalysisLifecycle(t *testing.T) {
	f := newEngineFixture(scenarioLedger())
	ctx := context.Background()
	filter := yearFilter(t, "ALL", "ALL")

	// GIVEN: Nothing has been refreshed
	_, err := f.engine.GetAnalysis(ctx, filter)
	require.Error(t, err)
	assert.True(t, IsNotGenerated(err))

	// WHEN: The filter is refreshed
	res, err := f.engine.RefreshAnalysis(ctx, filter)
	require.NoError(t, err)
	assert.Equal(t, "600", res.SalesAmount.String())
	assert.Equal(t, f.clock.Now(), res.LastUpdated)

	// THEN: It is served until the TTL passes
	f.clock.Advance(29 * 24 * time.Hour)
	got, err := f.engine.GetAnalysis(ctx, filter)
	require.NoError(t, err)
	assert.Equal(t, "33.33", got.ProfitRate.String())

	f.clock.Advance(2 * 24 * time.Hour)
	_, err = f.engine.GetAnalysis(ctx, filter)
	assert.True(t, IsNotGenerated(err))
}

func TestEngine_AnalysisKeysExpireIndependently(t *testing.T) {
	f := newEngineFixture(scenarioLedger())
	ctx := context.Background()
	all := yearFilter(t, "ALL", "ALL")
	byCustomer := yearFilter(t, "C1", "ALL")

	// GIVEN: Two filters refreshed 20 days apart
	_, err := f.engine.RefreshAnalysis(ctx, all)
	require.NoError(t, err)
	f.clock.Advance(20 * 24 * time.Hour)
	_, err = f.engine.RefreshAnalysis(ctx, byCustomer)
	require.NoError(t, err)

	// WHEN: 35 days have passed since the first
	f.clock.Advance(15 * 24 * time.Hour)
	pruned, err := f.engine.PruneAnalysis(ctx)
	require.NoError(t, err)

	// THEN: Only the first is dropped
	assert.Equal(t, 2, pruned.OriginalSize)
	assert.Equal(t, 1, pruned.NewSize)
	assert.Equal(t, 1, pruned.Removed())

	_, err = f.engine.GetAnalysis(ctx, all)
	assert.True(t, IsNotGenerated(err))
	_, err = f.engine.GetAnalysis(ctx, byCustomer)
	assert.NoError(t, err)
}

func TestEngine_AnalysisDetailEmptyWhenAbsent(t *testing.T) {
	f := newEngineFixture(scenarioLedger())

	details, err := f.engine.GetAnalysisDetail(context.Background(), yearFilter(t, "ALL", "P1"))

	require.NoError(t, err)
	assert.NotNil(t, details)
	assert.Empty(t, details)
}

func TestEngine_FailedCacheWriteKeepsPreviousResult(t *testing.T) {
	f := newEngineFixture(scenarioLedger())
	ctx := context.Background()
	filter := yearFilter(t, "ALL", "ALL")

	// GIVEN: A stored result, then more sales and a failing store
	_, err := f.engine.RefreshAnalysis(ctx, filter)
	require.NoError(t, err)
	f.ledger.out("P1", "10", "15", d(2024, 2, 20), "C1")
	f.store.FailPuts = errors.New("read-only filesystem")

	// WHEN: Refreshing again
	_, err = f.engine.RefreshAnalysis(ctx, filter)

	// THEN: The refresh fails and the old result is still served
	require.Error(t, err)
	assert.True(t, errors.Is(err, generic.ErrStoreFailed))

	f.store.FailPuts = nil
	got, err := f.engine.GetAnalysis(ctx, filter)
	require.NoError(t, err)
	assert.Equal(t, "600", got.SalesAmount.String())
}

// =============================================================================
// STOCK
// =============================================================================

func TestEngine_StockSelfHealsThenServesCachedValue(t *testing.T) {
	f := newEngineFixture(scenarioLedger())
	ctx := context.Background()

	// GIVEN: An empty cache; the first read computes
	page, err := f.engine.GetStock(ctx, StockQuery{Page: 1, PageSize: 10})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "60", page.Items[0].CurrentQuantity.String())

	// WHEN: The ledger moves without a refresh
	f.ledger.out("P1", "10", "15", d(2024, 2, 20), "C1")
	page, err = f.engine.GetStock(ctx, StockQuery{Page: 1, PageSize: 10})
	require.NoError(t, err)

	// THEN: The cached value is served until refreshed
	assert.Equal(t, "60", page.Items[0].CurrentQuantity.String())

	refreshed, err := f.engine.RefreshStock(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, refreshed.ProductsCount)

	page, err = f.engine.GetStock(ctx, StockQuery{Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, "50", page.Items[0].CurrentQuantity.String())

	est, err := f.engine.StockCostEstimate(ctx)
	require.NoError(t, err)
	assert.Equal(t, "500.00", est.TotalCostEstimate)
}

// =============================================================================
// REBUILD
// =============================================================================

func TestEngine_RebuildRejectsConcurrentStart(t *testing.T) {
	f := newEngineFixture(scenarioLedger())
	ctx := context.Background()

	// GIVEN: Another process holds the rebuild slot
	release, err := f.locker.Obtain(ctx, "job:stock-rebuild")
	require.NoError(t, err)

	// WHEN: A rebuild starts
	_, err = f.engine.RebuildStockLedger(ctx)

	// THEN: It is rejected and nothing is written
	require.Error(t, err)
	assert.True(t, errors.Is(err, generic.ErrJobRunning))
	assert.True(t, generic.IsConflict(err))
	assert.Zero(t, f.ledger.cleared)

	// WHEN: The slot is freed
	require.NoError(t, release(ctx))
	res, err := f.engine.RebuildStockLedger(ctx)

	// THEN: The rebuild runs to completion
	require.NoError(t, err)
	assert.Equal(t, 2, res.RecordsProcessed)
	status := f.engine.RebuildProgress()
	assert.False(t, status.Running)
	assert.Equal(t, 2, status.Current)
	assert.Equal(t, 2, status.Total)
	assert.NotEmpty(t, status.ID)
}

func TestEngine_RebuildAbortIsReported(t *testing.T) {
	f := newEngineFixture(scenarioLedger())
	f.ledger.failAt = 2

	_, err := f.engine.RebuildStockLedger(context.Background())

	aborted, ok := IsRebuildAborted(err)
	require.True(t, ok)
	assert.Equal(t, 1, aborted.Processed)
	assert.Equal(t, 2, aborted.Expected)
	assert.NotEmpty(t, f.engine.RebuildProgress().Error)
}

// =============================================================================
// OVERVIEW
// =============================================================================

func TestEngine_MonthlyStockChange(t *testing.T) {
	l := scenarioLedger()
	l.products = []string{"P1"}
	f := newEngineFixture(l)
	ctx := context.Background()

	change, err := f.engine.GetMonthlyStockChange(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, "60", change.CurrentStock.String())

	_, err = f.engine.GetMonthlyStockChange(ctx, "NOPE")
	assert.True(t, errors.Is(err, ErrProductNotFound))
	assert.True(t, IsNotFound(err))
}

// =============================================================================
// INVOICES
// =============================================================================

func TestEngine_InvoiceRefreshIsPerPartner(t *testing.T) {
	l := newMemLedger().
		addInvoiced(Outbound, "P1", "1", "10", d(2024, 1, 1), "C1", "A-1", d(2024, 1, 2)).
		addInvoiced(Outbound, "P1", "1", "20", d(2024, 1, 1), "C2", "B-1", d(2024, 1, 2))
	f := newEngineFixture(l)
	ctx := context.Background()

	// GIVEN: Both customers cached
	_, err := f.engine.RefreshInvoiceGroups(ctx, Receivable, "C1")
	require.NoError(t, err)
	_, err = f.engine.RefreshInvoiceGroups(ctx, Receivable, "C2")
	require.NoError(t, err)

	// WHEN: Both get a new invoice but only C1 is refreshed
	l.addInvoiced(Outbound, "P1", "1", "5", d(2024, 2, 1), "C1", "A-2", d(2024, 2, 1))
	l.addInvoiced(Outbound, "P1", "1", "5", d(2024, 2, 1), "C2", "B-2", d(2024, 2, 1))
	groups, err := f.engine.RefreshInvoiceGroups(ctx, Receivable, "C1")
	require.NoError(t, err)

	// THEN: C1 sees its new invoice first; C2 is untouched
	require.Len(t, groups, 2)
	assert.Equal(t, "A-2", groups[0].InvoiceNumber)

	page, err := f.engine.GetInvoiceGroups(ctx, Receivable, "C2", 1, 10)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "B-1", page.Items[0].InvoiceNumber)
	assert.Equal(t, 1, page.Pagination.Total)
}

func TestEngine_InvoiceRequiresPartner(t *testing.T) {
	f := newEngineFixture(scenarioLedger())

	_, err := f.engine.GetInvoiceGroups(context.Background(), Payable, "", 1, 10)

	assert.True(t, IsClientError(err))
}
