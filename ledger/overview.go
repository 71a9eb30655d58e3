/*
overview.go - Dashboard overview statistics

PURPOSE:
  Builds the value held by the overview cache: ledger counts and
  amounts over a trailing window, products out of stock, the best
  selling products, and each product's stock movement this month.

SECTIONS:
  Overview        counts over the window, partner and product counts,
                  purchase total (net of special income), sales total
                  (net of special expense), sold-goods cost
  OutOfStock      products whose aggregate stock is <= 0
  TopSales        top N products by sales over the window, plus an
                  "Others" bucket when the remainder is positive
  MonthlyChanges  per registered product: stock at the start of the
                  month, movement since, and current stock

  Sections are computed concurrently and joined; any failing section
  fails the whole build so a partial overview is never cached.

COST BASIS:
  Sold-goods cost uses the all-time weighted-average basis, like every
  other cost figure; only the outbound side and rebates are windowed.

SEE ALSO:
  - cost.go: SoldGoodsCost
  - stock.go: Aggregate
*/
package ledger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/warp/trade-ledger/generic"
)

// OthersBucket labels the remainder after the top products.
const OthersBucket = "Others"

// OverviewTotals are the headline numbers.
type OverviewTotals struct {
	TotalInbound    int             `json:"total_inbound"`
	TotalOutbound   int             `json:"total_outbound"`
	Suppliers       int             `json:"suppliers_count"`
	Customers       int             `json:"customers_count"`
	Products        int             `json:"products_count"`
	PurchaseAmount  decimal.Decimal `json:"purchase_amount"`
	SalesAmount     decimal.Decimal `json:"sales_amount"`
	SoldGoodsCost   decimal.Decimal `json:"sold_goods_cost"`
	StockedProducts int             `json:"stocked_products"`
}

// ProductSales is one slice of the top-sales chart.
type ProductSales struct {
	ProductModel string          `json:"product_model"`
	TotalSales   decimal.Decimal `json:"total_sales"`
}

// MonthlyStockChange is one product's stock movement this month.
type MonthlyStockChange struct {
	ProductModel    string          `json:"product_model"`
	MonthStartStock decimal.Decimal `json:"month_start_stock"`
	MonthlyChange   decimal.Decimal `json:"monthly_change"`
	CurrentStock    decimal.Decimal `json:"current_stock"`
	QueryDate       time.Time       `json:"query_date"`
}

// OverviewStats is the value held by the overview cache.
type OverviewStats struct {
	WindowStart         generic.Date                  `json:"window_start"`
	OutOfStockProducts  []string                      `json:"out_of_stock_products"`
	Overview            OverviewTotals                `json:"overview"`
	TopSalesProducts    []ProductSales                `json:"top_sales_products"`
	MonthlyStockChanges map[string]MonthlyStockChange `json:"monthly_stock_changes"`
}

// OverviewConfig tunes the overview build.
type OverviewConfig struct {
	LookbackDays int // default 365
	TopProducts  int // default 10
	Clock        generic.Clock
}

// OverviewBuilder computes OverviewStats.
type OverviewBuilder struct {
	query    Query
	registry Registry
	stock    *StockEngine
	calc     *CostCalculator
	cfg      OverviewConfig
}

func NewOverviewBuilder(q Query, r Registry, cfg OverviewConfig) *OverviewBuilder {
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = 365
	}
	if cfg.TopProducts <= 0 {
		cfg.TopProducts = 10
	}
	if cfg.Clock == nil {
		cfg.Clock = generic.SystemClock
	}
	return &OverviewBuilder{
		query:    q,
		registry: r,
		stock:    NewStockEngine(q),
		calc:     NewCostCalculator(q, r),
		cfg:      cfg,
	}
}

// Build computes every section. It is the overview cache's recompute
// function.
func (b *OverviewBuilder) Build(ctx context.Context) (OverviewStats, error) {
	now := b.cfg.Clock()
	today := generic.DateOf(now)
	window := EntryFilter{From: today.AddDays(-b.cfg.LookbackDays)}

	var (
		totals  OverviewTotals
		stock   map[string]StockSnapshot
		top     []ProductSales
		monthly map[string]MonthlyStockChange
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		totals, err = b.totals(gctx, window)
		return err
	})
	g.Go(func() (err error) {
		stock, err = b.stock.Aggregate(gctx)
		return err
	})
	g.Go(func() (err error) {
		top, err = b.topSales(gctx, window)
		return err
	})
	g.Go(func() (err error) {
		monthly, err = b.monthlyChanges(gctx, today, now)
		return err
	})
	if err := g.Wait(); err != nil {
		return OverviewStats{}, fmt.Errorf("build overview: %w", err)
	}

	totals.StockedProducts = len(stock)
	return OverviewStats{
		WindowStart:         window.From,
		OutOfStockProducts:  outOfStock(stock),
		Overview:            totals,
		TopSalesProducts:    top,
		MonthlyStockChanges: monthly,
	}, nil
}

// totals fills everything in OverviewTotals except StockedProducts.
func (b *OverviewBuilder) totals(ctx context.Context, window EntryFilter) (OverviewTotals, error) {
	var t OverviewTotals

	inbound, err := b.query.ListEntries(ctx, Inbound, window)
	if err != nil {
		return t, err
	}
	outbound, err := b.query.ListEntries(ctx, Outbound, window)
	if err != nil {
		return t, err
	}
	t.TotalInbound = len(inbound)
	t.TotalOutbound = len(outbound)
	t.PurchaseAmount = netAmount(inbound)
	t.SalesAmount = netAmount(outbound)

	if t.Suppliers, err = b.registry.CountPartners(ctx, Supplier); err != nil {
		return t, err
	}
	if t.Customers, err = b.registry.CountPartners(ctx, Customer); err != nil {
		return t, err
	}
	if t.Products, err = b.registry.CountProducts(ctx); err != nil {
		return t, err
	}

	basis, err := b.calc.CostBasis(ctx)
	if err != nil {
		return t, err
	}
	t.SoldGoodsCost, err = b.calc.SoldGoodsCost(ctx, basis, window, window)
	return t, err
}

func (b *OverviewBuilder) topSales(ctx context.Context, window EntryFilter) ([]ProductSales, error) {
	window.Sign = NonNegativePrice
	lines, err := b.query.ListEntries(ctx, Outbound, window)
	if err != nil {
		return nil, err
	}
	return TopSales(lines, b.cfg.TopProducts), nil
}

// TopSales ranks products by sales amount, keeps the top n and folds the
// rest into an "Others" bucket when it is positive.
func TopSales(lines []Entry, n int) []ProductSales {
	totals := make(map[string]decimal.Decimal)
	for _, e := range lines {
		totals[e.ProductModel] = totals[e.ProductModel].Add(e.Amount())
	}

	ranked := make([]ProductSales, 0, len(totals))
	for model, total := range totals {
		ranked = append(ranked, ProductSales{ProductModel: model, TotalSales: generic.RoundMoney(total)})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if !ranked[i].TotalSales.Equal(ranked[j].TotalSales) {
			return ranked[i].TotalSales.GreaterThan(ranked[j].TotalSales)
		}
		return ranked[i].ProductModel < ranked[j].ProductModel
	})

	if len(ranked) <= n {
		return ranked
	}
	top := append([]ProductSales{}, ranked[:n]...)
	others := decimal.Zero
	for _, r := range ranked[n:] {
		others = others.Add(r.TotalSales)
	}
	if others.IsPositive() {
		top = append(top, ProductSales{ProductModel: OthersBucket, TotalSales: others})
	}
	return top
}

func (b *OverviewBuilder) monthlyChanges(ctx context.Context, today generic.Date, now time.Time) (map[string]MonthlyStockChange, error) {
	models, err := b.registry.ProductModels(ctx)
	if err != nil {
		return nil, err
	}
	changes := make(map[string]MonthlyStockChange, len(models))
	if len(models) == 0 {
		return changes, nil
	}

	inbound, err := b.query.ListEntries(ctx, Inbound, EntryFilter{})
	if err != nil {
		return nil, err
	}
	outbound, err := b.query.ListEntries(ctx, Outbound, EntryFilter{})
	if err != nil {
		return nil, err
	}
	return MonthlyChanges(models, append(inbound, outbound...), today.StartOfMonth(), now), nil
}

// MonthlyChanges splits each product's stock movement at monthStart.
func MonthlyChanges(models []string, entries []Entry, monthStart generic.Date, now time.Time) map[string]MonthlyStockChange {
	before := make(map[string]decimal.Decimal)
	during := make(map[string]decimal.Decimal)
	for _, e := range entries {
		if e.Date.Before(monthStart) {
			before[e.ProductModel] = before[e.ProductModel].Add(e.Delta())
		} else {
			during[e.ProductModel] = during[e.ProductModel].Add(e.Delta())
		}
	}

	changes := make(map[string]MonthlyStockChange, len(models))
	for _, model := range models {
		start := before[model]
		delta := during[model]
		changes[model] = MonthlyStockChange{
			ProductModel:    model,
			MonthStartStock: start,
			MonthlyChange:   delta,
			CurrentStock:    start.Add(delta),
			QueryDate:       now,
		}
	}
	return changes
}
