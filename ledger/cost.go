/*
cost.go - Weighted-average cost calculator

PURPOSE:
  Computes cost of goods sold, sales and profit for any filtered subset
  of outbound lines using a single blended unit cost per product.

ALGORITHM:
  1. CostBasis per product:
       avg = sum(qty * price) / sum(qty)
     over inbound lines with price >= 0, over the whole ledger. The
     basis is never date-filtered; only the outbound side is windowed.
  2. Select outbound lines with price >= 0 matching the filter.
  3. line_cost = qty * avg, or qty * outbound price when the product
     has no inbound history (zero-margin fallback).
  4. special_income = sum |qty * price| over inbound lines with
     price < 0 in the date range (and product, when filtered).
  5. cost = max(0, sum(line_cost) - special_income)
  6. sales = sum(qty * price | price >= 0) - sum |qty * price| (price < 0)
     over outbound lines matching the filter
  7. profit = sales - cost; rate = profit / sales * 100, or 0 when
     sales <= 0

PRECISION:
  Unit cost keeps 4 places. Sales, cost, profit and rate are rounded
  half-up to 2 places. No division can fail: empty denominators are 0.

SEE ALSO:
  - generic/decimal.go: Rounding and safe division
  - engine.go: Analysis cache instance
*/
package ledger

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/warp/trade-ledger/generic"
)

// CostCalculator computes weighted-average costing over the ledger.
type CostCalculator struct {
	query    Query
	registry Registry
}

// NewCostCalculator builds a calculator. registry may be nil; it is only
// used to label detail rows.
func NewCostCalculator(q Query, r Registry) *CostCalculator {
	return &CostCalculator{query: q, registry: r}
}

// =============================================================================
// COST BASIS
// =============================================================================

// CostBasis returns the weighted-average unit cost of every product with
// non-negative-priced inbound history.
func (c *CostCalculator) CostBasis(ctx context.Context) (map[string]CostBasis, error) {
	purchases, err := c.query.ListEntries(ctx, Inbound, EntryFilter{Sign: NonNegativePrice})
	if err != nil {
		return nil, fmt.Errorf("load cost basis: %w", err)
	}
	return costBasisOf(purchases), nil
}

func costBasisOf(purchases []Entry) map[string]CostBasis {
	type acc struct{ value, qty decimal.Decimal }
	sums := make(map[string]acc)
	for _, e := range purchases {
		a := sums[e.ProductModel]
		a.value = a.value.Add(e.Amount())
		a.qty = a.qty.Add(e.Quantity)
		sums[e.ProductModel] = a
	}

	basis := make(map[string]CostBasis, len(sums))
	for model, a := range sums {
		basis[model] = CostBasis{
			ProductModel:         model,
			WeightedAvgUnitPrice: generic.RoundRatio(generic.SafeDiv(a.value, a.qty)),
			TotalInboundQuantity: a.qty,
		}
	}
	return basis
}

// =============================================================================
// COST, SALES, PROFIT
// =============================================================================

// SoldGoodsCost is the rebate-adjusted cost of outbound lines matching
// out, using basis. Rebates are selected by income.
func (c *CostCalculator) SoldGoodsCost(ctx context.Context, basis map[string]CostBasis, out, income EntryFilter) (decimal.Decimal, error) {
	out.Sign = NonNegativePrice
	sold, err := c.query.ListEntries(ctx, Outbound, out)
	if err != nil {
		return decimal.Zero, fmt.Errorf("load sold goods: %w", err)
	}
	if len(sold) == 0 {
		return decimal.Zero, nil
	}

	total := lineCost(basis, sold)

	income.Sign = NegativePrice
	rebates, err := c.query.ListEntries(ctx, Inbound, income)
	if err != nil {
		return decimal.Zero, fmt.Errorf("load special income: %w", err)
	}
	special := absAmount(rebates)

	return generic.RoundMoney(generic.ClampZero(total.Sub(special))), nil
}

func lineCost(basis map[string]CostBasis, sold []Entry) decimal.Decimal {
	total := decimal.Zero
	for _, e := range sold {
		if b, ok := basis[e.ProductModel]; ok {
			total = total.Add(e.Quantity.Mul(b.WeightedAvgUnitPrice))
			continue
		}
		// No purchase history: assume zero margin rather than invent a cost.
		total = total.Add(e.Amount())
	}
	return total
}

func absAmount(entries []Entry) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.Amount().Abs())
	}
	return total
}

// Sales is net sales over outbound lines matching out: normal sales
// minus special expense.
func (c *CostCalculator) Sales(ctx context.Context, out EntryFilter) (decimal.Decimal, error) {
	out.Sign = AnyPrice
	lines, err := c.query.ListEntries(ctx, Outbound, out)
	if err != nil {
		return decimal.Zero, fmt.Errorf("load sales: %w", err)
	}
	return netAmount(lines), nil
}

func netAmount(lines []Entry) decimal.Decimal {
	normal, special := decimal.Zero, decimal.Zero
	for _, e := range lines {
		if e.IsSpecial() {
			special = special.Add(e.Amount().Abs())
			continue
		}
		normal = normal.Add(e.Amount())
	}
	return generic.RoundMoney(normal.Sub(special))
}

// profit derives profit and rate from rounded sales and cost.
func profit(sales, cost decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	p := generic.RoundMoney(sales.Sub(cost))
	return p, generic.Percent(p, sales)
}

// Compute returns the analysis for f, including the detail breakdown.
func (c *CostCalculator) Compute(ctx context.Context, f Filter) (CostAnalysisResult, error) {
	basis, err := c.CostBasis(ctx)
	if err != nil {
		return CostAnalysisResult{}, err
	}

	sales, err := c.Sales(ctx, f.outbound(AnyPrice))
	if err != nil {
		return CostAnalysisResult{}, err
	}
	cost, err := c.SoldGoodsCost(ctx, basis, f.outbound(NonNegativePrice), f.specialIncome())
	if err != nil {
		return CostAnalysisResult{}, err
	}
	p, rate := profit(sales, cost)

	details, err := c.Details(ctx, f, basis)
	if err != nil {
		return CostAnalysisResult{}, err
	}

	return CostAnalysisResult{
		SalesAmount:  sales,
		CostAmount:   cost,
		ProfitAmount: p,
		ProfitRate:   rate,
		QueryParams:  f.Params(),
		Details:      details,
	}, nil
}

// =============================================================================
// DETAIL BREAKDOWN
// =============================================================================

// Details breaks a filter down by its open dimension. When the product is
// fixed and the customer is ALL, rows are per customer; when the customer
// is fixed and the product is ALL, rows are per product. Otherwise there
// is nothing to break down and the result is empty. Only groups with
// positive net sales are returned, sorted by group key.
func (c *CostCalculator) Details(ctx context.Context, f Filter, basis map[string]CostBasis) ([]DetailItem, error) {
	byCustomer := f.Customer == "" && f.Product != ""
	byProduct := f.Product == "" && f.Customer != ""
	if !byCustomer && !byProduct {
		return []DetailItem{}, nil
	}

	lines, err := c.query.ListEntries(ctx, Outbound, f.outbound(AnyPrice))
	if err != nil {
		return nil, fmt.Errorf("load detail lines: %w", err)
	}

	groups := make(map[string][]Entry)
	for _, e := range lines {
		key := e.ProductModel
		if byCustomer {
			key = e.PartnerCode
		}
		groups[key] = append(groups[key], e)
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	items := []DetailItem{}
	for _, key := range keys {
		sub := f
		if byCustomer {
			sub.Customer = key
		} else {
			sub.Product = key
		}

		sales := netAmount(groups[key])
		if !sales.IsPositive() {
			continue
		}
		cost, err := c.SoldGoodsCost(ctx, basis, sub.outbound(NonNegativePrice), sub.specialIncome())
		if err != nil {
			return nil, err
		}
		p, rate := profit(sales, cost)

		item := DetailItem{
			GroupKey:     key,
			Customer:     orAll(sub.Customer),
			Product:      orAll(sub.Product),
			SalesAmount:  sales,
			CostAmount:   cost,
			ProfitAmount: p,
			ProfitRate:   rate,
		}
		if byCustomer {
			item.GroupLabel = c.partnerLabel(ctx, key)
		}
		items = append(items, item)
	}
	return items, nil
}

// partnerLabel is best effort; a registry failure leaves the label empty.
func (c *CostCalculator) partnerLabel(ctx context.Context, code string) string {
	if c.registry == nil {
		return ""
	}
	p, ok, err := c.registry.Partner(ctx, code)
	if err != nil || !ok {
		return ""
	}
	return p.ShortName
}
