package ledger

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/trade-ledger/generic"
)

// =============================================================================
// INVOICE SIDES
// =============================================================================

// Side selects which ledger an invoice grouping reads. Receivables are
// customer invoices on outbound lines; payables are supplier invoices on
// inbound lines.
type Side string

const (
	Receivable Side = "receivable"
	Payable    Side = "payable"
)

// ParseSide accepts "receivable" or "payable" in any case.
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToLower(strings.TrimSpace(s))) {
	case Receivable:
		return Receivable, nil
	case Payable:
		return Payable, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownSide, s)
	}
}

func (s Side) Direction() Direction {
	if s == Payable {
		return Inbound
	}
	return Outbound
}

// cacheKey is the invoice cache sub-key: one sub-collection per partner
// per side, so customer and supplier codes never collide.
func (s Side) cacheKey(partnerCode string) string {
	return string(s) + "/" + partnerCode
}

func splitSideKey(key string) (Side, string, error) {
	side, code, ok := strings.Cut(key, "/")
	if !ok || code == "" {
		return "", "", fmt.Errorf("%w: malformed invoice key %q", ErrInvalidFilter, key)
	}
	s, err := ParseSide(side)
	return s, code, err
}

// =============================================================================
// GROUPING
// =============================================================================

// GroupInvoices groups invoiced lines by invoice number. Each group has
// the earliest invoice date among its lines, the summed total price and
// the line count. Groups are ordered by invoice date descending, then by
// invoice number.
func GroupInvoices(lines []Entry) []InvoiceGroup {
	index := make(map[string]int)
	groups := []InvoiceGroup{}
	for _, e := range lines {
		number := strings.TrimSpace(e.InvoiceNumber)
		if number == "" {
			continue
		}
		i, ok := index[number]
		if !ok {
			i = len(groups)
			index[number] = i
			groups = append(groups, InvoiceGroup{InvoiceNumber: number, TotalAmount: decimal.Zero})
		}
		g := &groups[i]
		g.TotalAmount = g.TotalAmount.Add(e.TotalPrice)
		g.RecordCount++
		if !e.InvoiceDate.IsZero() && (g.InvoiceDate.IsZero() || e.InvoiceDate.Before(g.InvoiceDate)) {
			g.InvoiceDate = e.InvoiceDate
		}
	}

	sort.SliceStable(groups, func(i, j int) bool {
		a, b := groups[i], groups[j]
		if !a.InvoiceDate.Equal(b.InvoiceDate) {
			return a.InvoiceDate.After(b.InvoiceDate)
		}
		return a.InvoiceNumber < b.InvoiceNumber
	})
	for i := range groups {
		groups[i].TotalAmount = generic.RoundMoney(groups[i].TotalAmount)
	}
	return groups
}

// InvoiceGrouper loads one partner's invoiced lines and groups them.
type InvoiceGrouper struct {
	query Query
}

func NewInvoiceGrouper(q Query) *InvoiceGrouper {
	return &InvoiceGrouper{query: q}
}

// Group is the invoice cache's recompute function for one partner.
func (g *InvoiceGrouper) Group(ctx context.Context, side Side, partnerCode string) ([]InvoiceGroup, error) {
	lines, err := g.query.ListEntries(ctx, side.Direction(), EntryFilter{
		PartnerCode:  partnerCode,
		InvoicedOnly: true,
	})
	if err != nil {
		return nil, fmt.Errorf("load %s invoices for %s: %w", side, partnerCode, err)
	}
	return GroupInvoices(lines), nil
}

// InvoicePage is one page of a partner's invoice groups.
type InvoicePage struct {
	Items       []InvoiceGroup `json:"invoiced_records"`
	Pagination  Pagination     `json:"pagination"`
	LastUpdated time.Time      `json:"last_updated"`
}
