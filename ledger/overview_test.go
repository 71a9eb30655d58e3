package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOverviewBuild(t *testing.T) {
	// GIVEN: Activity before and inside a 30 day window ending 2024-03-15
	l := newMemLedger().
		in("P1", "100", "10", d(2024, 1, 5)).
		out("P1", "5", "15", d(2024, 1, 20), "C1").
		out("P1", "40", "15", d(2024, 3, 2), "C1").
		in("P1", "1", "-100", d(2024, 3, 3)).
		out("P2", "2", "50", d(2024, 3, 4), "C2")
	l.products = []string{"P1", "P2"}
	l.partners["S1"] = Partner{Code: "S1", Kind: Supplier}
	l.partners["C1"] = Partner{Code: "C1", Kind: Customer}
	l.partners["C2"] = Partner{Code: "C2", Kind: Customer}

	clock := newFakeClock(time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC))
	b := NewOverviewBuilder(l, l, OverviewConfig{LookbackDays: 30, Clock: clock.Now})

	// WHEN: Building
	stats, err := b.Build(context.Background())
	require.NoError(t, err)

	// THEN: Windowed totals exclude January
	assert.Equal(t, "2024-02-14", stats.WindowStart.String())
	o := stats.Overview
	assert.Equal(t, 1, o.TotalInbound)
	assert.Equal(t, 2, o.TotalOutbound)
	assert.Equal(t, 1, o.Suppliers)
	assert.Equal(t, 2, o.Customers)
	assert.Equal(t, 2, o.Products)
	assert.Equal(t, 2, o.StockedProducts)
	assert.Equal(t, "-100", o.PurchaseAmount.String())
	assert.Equal(t, "700", o.SalesAmount.String())
	// 40 x 10 for P1, P2 at its own price, less the 100 rebate
	assert.Equal(t, "400", o.SoldGoodsCost.String())

	assert.Equal(t, []string{"P2"}, stats.OutOfStockProducts)

	require.Len(t, stats.TopSalesProducts, 2)
	assert.Equal(t, "P1", stats.TopSalesProducts[0].ProductModel)
	assert.Equal(t, "600", stats.TopSalesProducts[0].TotalSales.String())

	p1 := stats.MonthlyStockChanges["P1"]
	assert.Equal(t, "95", p1.MonthStartStock.String())
	assert.Equal(t, "-39", p1.MonthlyChange.String())
	assert.Equal(t, "56", p1.CurrentStock.String())
	assert.Equal(t, "-2", stats.MonthlyStockChanges["P2"].CurrentStock.String())
}

func TestTopSales_OthersBucket(t *testing.T) {
	l := newMemLedger().
		out("A", "3", "100", d(2024, 1, 1), "C1").
		out("B", "2", "100", d(2024, 1, 1), "C1").
		out("C", "1", "60", d(2024, 1, 1), "C1").
		out("D", "1", "40", d(2024, 1, 1), "C1")
	lines, _ := l.ListEntries(context.Background(), Outbound, EntryFilter{})

	top := TopSales(lines, 2)

	require.Len(t, top, 3)
	assert.Equal(t, "A", top[0].ProductModel)
	assert.Equal(t, "B", top[1].ProductModel)
	assert.Equal(t, OthersBucket, top[2].ProductModel)
	assert.Equal(t, "100", top[2].TotalSales.String())
}

func TestTopSales_NoOthersWhenRemainderIsZero(t *testing.T) {
	l := newMemLedger().
		out("A", "3", "100", d(2024, 1, 1), "C1").
		out("B", "2", "100", d(2024, 1, 1), "C1").
		out("Z", "1", "0", d(2024, 1, 1), "C1")
	lines, _ := l.ListEntries(context.Background(), Outbound, EntryFilter{})

	top := TopSales(lines, 2)

	require.Len(t, top, 2)
	assert.Equal(t, "B", top[1].ProductModel)
}

func TestTopSales_TiesOrderByModel(t *testing.T) {
	l := newMemLedger().
		out("B", "1", "10", d(2024, 1, 1), "C1").
		out("A", "1", "10", d(2024, 1, 1), "C1")
	lines, _ := l.ListEntries(context.Background(), Outbound, EntryFilter{})

	top := TopSales(lines, 10)

	require.Len(t, top, 2)
	assert.Equal(t, "A", top[0].ProductModel)
}

func TestMonthlyChanges_UnmovedProductIsZero(t *testing.T) {
	l := newMemLedger().in("P1", "4", "1", d(2024, 3, 2))
	lines, _ := l.ListEntries(context.Background(), Inbound, EntryFilter{})
	now := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

	changes := MonthlyChanges([]string{"P1", "IDLE"}, lines, d(2024, 3, 1), now)

	require.Len(t, changes, 2)
	assert.True(t, changes["P1"].MonthStartStock.IsZero())
	assert.Equal(t, "4", changes["P1"].MonthlyChange.String())
	assert.True(t, changes["IDLE"].CurrentStock.IsZero())
	assert.Equal(t, now, changes["IDLE"].QueryDate)
}
