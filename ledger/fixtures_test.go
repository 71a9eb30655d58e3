package ledger

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/trade-ledger/generic"
)

// =============================================================================
// IN-MEMORY LEDGER
// =============================================================================

// memLedger implements Query, Registry and StockLedgerWriter over slices.
type memLedger struct {
	mu       sync.Mutex
	entries  []Entry
	nextID   map[Direction]int64
	products []string
	partners map[string]Partner

	rows    []StockLedgerRow
	cleared int
	failAt  int // 1-based write that fails; 0 never fails
	writes  int
}

func newMemLedger() *memLedger {
	return &memLedger{
		nextID:   map[Direction]int64{Inbound: 1, Outbound: 1},
		partners: make(map[string]Partner),
	}
}

func (m *memLedger) add(dir Direction, model string, qty, price string, date generic.Date, partner string) *memLedger {
	return m.addInvoiced(dir, model, qty, price, date, partner, "", generic.Date{})
}

func (m *memLedger) addInvoiced(dir Direction, model string, qty, price string, date generic.Date, partner, invoice string, invoiceDate generic.Date) *memLedger {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := Entry{
		ID:            m.nextID[dir],
		Direction:     dir,
		ProductModel:  model,
		Quantity:      generic.MustDecimal(qty),
		UnitPrice:     generic.MustDecimal(price),
		Date:          date,
		PartnerCode:   partner,
		InvoiceNumber: invoice,
		InvoiceDate:   invoiceDate,
	}
	e.TotalPrice = e.Amount()
	m.nextID[dir]++
	m.entries = append(m.entries, e)
	return m
}

func (m *memLedger) in(model, qty, price string, date generic.Date) *memLedger {
	return m.add(Inbound, model, qty, price, date, "S1")
}

func (m *memLedger) out(model, qty, price string, date generic.Date, customer string) *memLedger {
	return m.add(Outbound, model, qty, price, date, customer)
}

func (m *memLedger) SumQuantity(_ context.Context, dir Direction, sign PriceSign) (map[string]decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f := EntryFilter{Sign: sign}
	sums := make(map[string]decimal.Decimal)
	for _, e := range m.entries {
		if e.Direction == dir && f.Match(e) {
			sums[e.ProductModel] = sums[e.ProductModel].Add(e.Quantity)
		}
	}
	return sums, nil
}

func (m *memLedger) ListEntries(_ context.Context, dir Direction, f EntryFilter) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Entry
	for _, e := range m.entries {
		if e.Direction == dir && f.Match(e) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *memLedger) LatestDates(_ context.Context, dir Direction) (map[string]generic.Date, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	latest := make(map[string]generic.Date)
	for _, e := range m.entries {
		if e.Direction != dir {
			continue
		}
		if cur, ok := latest[e.ProductModel]; !ok || e.Date.After(cur) {
			latest[e.ProductModel] = e.Date
		}
	}
	return latest, nil
}

func (m *memLedger) ProductModels(context.Context) ([]string, error) {
	return append([]string{}, m.products...), nil
}

func (m *memLedger) CountProducts(context.Context) (int, error) {
	return len(m.products), nil
}

func (m *memLedger) CountPartners(_ context.Context, kind PartnerKind) (int, error) {
	n := 0
	for _, p := range m.partners {
		if p.Kind == kind {
			n++
		}
	}
	return n, nil
}

func (m *memLedger) Partner(_ context.Context, code string) (Partner, bool, error) {
	p, ok := m.partners[code]
	return p, ok, nil
}

var errDiskFull = errors.New("disk full")

func (m *memLedger) ClearStockLedger(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = nil
	m.cleared++
	return nil
}

func (m *memLedger) WriteStockLedger(_ context.Context, row StockLedgerRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	if m.failAt > 0 && m.writes == m.failAt {
		return errDiskFull
	}
	m.rows = append(m.rows, row)
	return nil
}

// =============================================================================
// CLOCK
// =============================================================================

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func d(year int, month time.Month, day int) generic.Date {
	return generic.NewDate(year, month, day)
}

func dec(s string) decimal.Decimal { return generic.MustDecimal(s) }
