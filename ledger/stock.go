/*
stock.go - Stock reconstruction, serving path

PURPOSE:
  Computes current stock per product from the ledger without replaying
  it: sum(inbound) - sum(outbound), plus the latest inbound and outbound
  date of each product. This is the single source of truth for stock.
  The replay in rebuild.go must agree with it product by product.

COST ESTIMATE:
  The stock cache also carries a total cost estimate: for every product
  with positive stock, current quantity times the unit price of its
  most recent non-negative inbound line.

SEE ALSO:
  - rebuild.go: Chronological replay into the stock ledger table
  - engine.go: Stock cache instance
*/
package ledger

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/warp/trade-ledger/generic"
)

// StockEngine derives stock from the ledger.
type StockEngine struct {
	query Query
}

func NewStockEngine(q Query) *StockEngine {
	return &StockEngine{query: q}
}

// Aggregate returns a snapshot for every product that appears in either
// ledger table.
func (s *StockEngine) Aggregate(ctx context.Context) (map[string]StockSnapshot, error) {
	var (
		inQty, outQty   map[string]decimal.Decimal
		inDate, outDate map[string]generic.Date
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		inQty, err = s.query.SumQuantity(gctx, Inbound, AnyPrice)
		return err
	})
	g.Go(func() (err error) {
		outQty, err = s.query.SumQuantity(gctx, Outbound, AnyPrice)
		return err
	})
	g.Go(func() (err error) {
		inDate, err = s.query.LatestDates(gctx, Inbound)
		return err
	})
	g.Go(func() (err error) {
		outDate, err = s.query.LatestDates(gctx, Outbound)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("aggregate stock: %w", err)
	}

	products := make(map[string]StockSnapshot, len(inQty)+len(outQty))
	touch := func(model string) StockSnapshot {
		snap, ok := products[model]
		if !ok {
			snap = StockSnapshot{ProductModel: model, CurrentQuantity: decimal.Zero}
		}
		return snap
	}
	for model, qty := range inQty {
		snap := touch(model)
		snap.CurrentQuantity = snap.CurrentQuantity.Add(qty)
		products[model] = snap
	}
	for model, qty := range outQty {
		snap := touch(model)
		snap.CurrentQuantity = snap.CurrentQuantity.Sub(qty)
		products[model] = snap
	}
	for model, date := range inDate {
		snap := touch(model)
		snap.LastInboundDate = date
		products[model] = snap
	}
	for model, date := range outDate {
		snap := touch(model)
		snap.LastOutboundDate = date
		products[model] = snap
	}
	return products, nil
}

// Summary is Aggregate plus the total cost estimate. It is the stock
// cache's recompute function.
func (s *StockEngine) Summary(ctx context.Context) (StockSummary, error) {
	products, err := s.Aggregate(ctx)
	if err != nil {
		return StockSummary{}, err
	}

	purchases, err := s.query.ListEntries(ctx, Inbound, EntryFilter{Sign: NonNegativePrice})
	if err != nil {
		return StockSummary{}, fmt.Errorf("latest inbound prices: %w", err)
	}
	// Entries arrive in (date, id) order, so the last write wins.
	latest := make(map[string]decimal.Decimal)
	for _, e := range purchases {
		latest[e.ProductModel] = e.UnitPrice
	}

	total := decimal.Zero
	for model, snap := range products {
		if !snap.CurrentQuantity.IsPositive() {
			continue
		}
		if price, ok := latest[model]; ok {
			total = total.Add(snap.CurrentQuantity.Mul(price))
		}
	}

	return StockSummary{
		Products:          products,
		TotalCostEstimate: generic.RoundMoney(total),
	}, nil
}

// =============================================================================
// LISTING
// =============================================================================

// StockQuery filters and pages the stock listing. Product matches as a
// case-insensitive substring of the product model.
type StockQuery struct {
	Product  string
	Page     int
	PageSize int
}

// StockPage is one page of the stock listing.
type StockPage struct {
	Items       []StockSnapshot `json:"data"`
	Pagination  Pagination      `json:"pagination"`
	LastUpdated time.Time       `json:"last_updated"`
}

// List filters and sorts snapshots by product model.
func (s StockSummary) List(q StockQuery) ([]StockSnapshot, Pagination) {
	needle := strings.ToLower(strings.TrimSpace(q.Product))
	items := make([]StockSnapshot, 0, len(s.Products))
	for _, snap := range s.Products {
		if needle != "" && !strings.Contains(strings.ToLower(snap.ProductModel), needle) {
			continue
		}
		items = append(items, snap)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ProductModel < items[j].ProductModel })
	return paginate(items, q.Page, q.PageSize)
}

// OutOfStock lists products with quantity <= 0, sorted.
func (s StockSummary) OutOfStock() []string {
	return outOfStock(s.Products)
}

func outOfStock(products map[string]StockSnapshot) []string {
	out := []string{}
	for model, snap := range products {
		if !snap.CurrentQuantity.IsPositive() {
			out = append(out, model)
		}
	}
	sort.Strings(out)
	return out
}
