package ledger

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/warp/trade-ledger/generic"
)

// =============================================================================
// QUERY - Read-only access to the ledger tables
// =============================================================================

// PriceSign restricts a query to one side of the zero price line.
type PriceSign int

const (
	AnyPrice         PriceSign = iota
	NonNegativePrice           // purchases and sales
	NegativePrice              // special income / special expense
)

// EntryFilter narrows ListEntries. Zero values mean unfiltered.
type EntryFilter struct {
	From         generic.Date // inclusive
	To           generic.Date // inclusive
	PartnerCode  string
	ProductModel string
	Sign         PriceSign
	InvoicedOnly bool // only lines with a non-empty invoice number
}

// Match applies the filter to one entry. Stores may push the same
// predicate into SQL; in-memory callers use this directly.
func (f EntryFilter) Match(e Entry) bool {
	if !f.From.IsZero() && e.Date.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.Date.After(f.To) {
		return false
	}
	if f.PartnerCode != "" && e.PartnerCode != f.PartnerCode {
		return false
	}
	if f.ProductModel != "" && e.ProductModel != f.ProductModel {
		return false
	}
	switch f.Sign {
	case NonNegativePrice:
		if e.UnitPrice.IsNegative() {
			return false
		}
	case NegativePrice:
		if !e.UnitPrice.IsNegative() {
			return false
		}
	}
	if f.InvoicedOnly && e.InvoiceNumber == "" {
		return false
	}
	return true
}

// Query is the ledger read interface the engine consumes. The ledger is
// owned by the CRUD layer; the engine never writes to it.
type Query interface {
	// SumQuantity returns total quantity per product for one direction.
	SumQuantity(ctx context.Context, dir Direction, sign PriceSign) (map[string]decimal.Decimal, error)

	// ListEntries returns matching entries ordered by (date, id) ascending.
	ListEntries(ctx context.Context, dir Direction, f EntryFilter) ([]Entry, error)

	// LatestDates returns MAX(date) per product for one direction.
	LatestDates(ctx context.Context, dir Direction) (map[string]generic.Date, error)
}

// =============================================================================
// REGISTRY - Partner and product labels
// =============================================================================

type Registry interface {
	ProductModels(ctx context.Context) ([]string, error)
	CountProducts(ctx context.Context) (int, error)
	CountPartners(ctx context.Context, kind PartnerKind) (int, error)
	Partner(ctx context.Context, code string) (Partner, bool, error)
}

// =============================================================================
// STOCK LEDGER WRITER - Point-in-time replay table
// =============================================================================

// StockLedgerWriter owns the replay audit table. It is not the source of
// truth for stock; Aggregate is.
type StockLedgerWriter interface {
	ClearStockLedger(ctx context.Context) error
	WriteStockLedger(ctx context.Context, row StockLedgerRow) error
}
