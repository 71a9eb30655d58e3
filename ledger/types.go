/*
types.go - Core types for the inventory ledger and cost engine

PURPOSE:
  The ledger is two append-only tables of quantity-and-price events:
  inbound (purchases from suppliers) and outbound (sales to customers).
  Everything else in this package is derived from them and can be
  regenerated at any time.

KEY CONCEPTS:
  - Entry: One inbound or outbound ledger line
  - StockSnapshot: Current quantity of one product (derived)
  - CostBasis: Weighted-average unit cost of one product (derived)
  - CostAnalysisResult: Sales, cost and profit over a filter (derived)
  - InvoiceGroup: Ledger lines of one partner grouped by invoice number

NEGATIVE PRICES:
  A negative unit price is not a purchase or a sale. On the inbound side
  it is special income (a rebate or credit) and reduces cost. On the
  outbound side it is special expense and reduces sales.

SEE ALSO:
  - store.go: Read-only query contracts over the ledger
  - cost.go: Weighted-average cost calculator
  - stock.go: Stock aggregate and replay
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/trade-ledger/generic"
)

// =============================================================================
// LEDGER ENTRY
// =============================================================================

// Direction distinguishes the two ledger tables.
type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

func (d Direction) Valid() bool { return d == Inbound || d == Outbound }

// Entry is one ledger line. PartnerCode is the supplier for inbound
// lines and the customer for outbound lines.
type Entry struct {
	ID            int64           `json:"id"`
	Direction     Direction       `json:"direction"`
	ProductModel  string          `json:"product_model"`
	Quantity      decimal.Decimal `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	TotalPrice    decimal.Decimal `json:"total_price"`
	Date          generic.Date    `json:"transaction_date"`
	PartnerCode   string          `json:"partner_code"`
	InvoiceNumber string          `json:"invoice_number,omitempty"`
	InvoiceDate   generic.Date    `json:"invoice_date"`
}

// Amount is quantity times unit price, signed.
func (e Entry) Amount() decimal.Decimal { return e.Quantity.Mul(e.UnitPrice) }

// IsSpecial reports a negative-priced line (rebate or special expense).
func (e Entry) IsSpecial() bool { return e.UnitPrice.IsNegative() }

// Delta is the signed effect of the entry on stock.
func (e Entry) Delta() decimal.Decimal {
	if e.Direction == Outbound {
		return e.Quantity.Neg()
	}
	return e.Quantity
}

// =============================================================================
// PARTNERS
// =============================================================================

type PartnerKind int

const (
	Supplier PartnerKind = 0
	Customer PartnerKind = 1
)

// Partner is a registry record, used for labels only.
type Partner struct {
	Code      string      `json:"code"`
	ShortName string      `json:"short_name"`
	FullName  string      `json:"full_name"`
	Kind      PartnerKind `json:"type"`
}

// =============================================================================
// STOCK
// =============================================================================

// StockSnapshot is the derived current state of one product.
// CurrentQuantity = sum(inbound.quantity) - sum(outbound.quantity) over
// the whole ledger.
type StockSnapshot struct {
	ProductModel     string          `json:"product_model"`
	CurrentQuantity  decimal.Decimal `json:"current_stock"`
	LastInboundDate  generic.Date    `json:"last_inbound"`
	LastOutboundDate generic.Date    `json:"last_outbound"`
}

// StockSummary is the value held by the stock cache.
type StockSummary struct {
	Products          map[string]StockSnapshot `json:"products"`
	TotalCostEstimate decimal.Decimal          `json:"total_cost_estimate"`
}

// StockLedgerRow is one step of a chronological replay.
type StockLedgerRow struct {
	RecordID     int64           `json:"record_id"`
	Direction    Direction       `json:"direction"`
	ProductModel string          `json:"product_model"`
	Delta        decimal.Decimal `json:"delta"`
	Balance      decimal.Decimal `json:"stock_quantity"`
	Date         generic.Date    `json:"update_time"`
}

// =============================================================================
// COST
// =============================================================================

// CostBasis is the blended unit cost of a product from inbound lines with
// a non-negative price, over the whole ledger.
type CostBasis struct {
	ProductModel         string          `json:"product_model"`
	WeightedAvgUnitPrice decimal.Decimal `json:"weighted_avg_unit_price"`
	TotalInboundQuantity decimal.Decimal `json:"total_inbound_quantity"`
}

// QueryParams echoes the filter that produced a result.
type QueryParams struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Customer  string `json:"customer_code"`
	Product   string `json:"product_model"`
}

// CostAnalysisResult is sales, cost and profit over one filter.
// CostAmount >= 0; ProfitAmount = SalesAmount - CostAmount;
// ProfitRate = 0 when SalesAmount <= 0.
type CostAnalysisResult struct {
	SalesAmount  decimal.Decimal `json:"sales_amount"`
	CostAmount   decimal.Decimal `json:"cost_amount"`
	ProfitAmount decimal.Decimal `json:"profit_amount"`
	ProfitRate   decimal.Decimal `json:"profit_rate"`
	QueryParams  QueryParams     `json:"query_params"`
	LastUpdated  time.Time       `json:"last_updated"`
	Details      []DetailItem    `json:"details"`
}

// DetailItem is the breakdown of a result by customer or by product.
type DetailItem struct {
	GroupKey     string          `json:"group_key"`
	GroupLabel   string          `json:"group_label,omitempty"`
	Customer     string          `json:"customer_code"`
	Product      string          `json:"product_model"`
	SalesAmount  decimal.Decimal `json:"sales_amount"`
	CostAmount   decimal.Decimal `json:"cost_amount"`
	ProfitAmount decimal.Decimal `json:"profit_amount"`
	ProfitRate   decimal.Decimal `json:"profit_rate"`
}

// =============================================================================
// INVOICES
// =============================================================================

// InvoiceGroup aggregates one partner's lines sharing an invoice number.
type InvoiceGroup struct {
	InvoiceNumber string          `json:"invoice_number"`
	InvoiceDate   generic.Date    `json:"invoice_date"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	RecordCount   int             `json:"record_count"`
}

// =============================================================================
// PAGINATION
// =============================================================================

const (
	DefaultPageSize = 20
	MaxPageSize     = 1000
)

type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

// paginate slices items for a 1-based page. Out-of-range pages are empty.
func paginate[T any](items []T, page, size int) ([]T, Pagination) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	p := Pagination{Page: page, Limit: size, Total: len(items)}
	p.Pages = (len(items) + size - 1) / size

	// Compare before multiplying; a huge page would overflow start.
	if page-1 >= (len(items)+size-1)/size {
		return []T{}, p
	}
	start := (page - 1) * size
	end := start + size
	if end > len(items) {
		end = len(items)
	}
	return items[start:end], p
}
