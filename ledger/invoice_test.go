package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/trade-ledger/generic"
)

func TestGroupInvoices(t *testing.T) {
	// GIVEN: Three lines on INV-1 with different invoice dates, one on
	// INV-2, and one uninvoiced line
	l := newMemLedger().
		addInvoiced(Outbound, "P1", "1", "10.005", d(2024, 1, 1), "C1", "INV-1", d(2024, 1, 10)).
		addInvoiced(Outbound, "P2", "2", "5", d(2024, 1, 2), "C1", "INV-1", d(2024, 1, 8)).
		addInvoiced(Outbound, "P1", "1", "1", d(2024, 1, 3), "C1", "INV-1", generic.Date{}).
		addInvoiced(Outbound, "P1", "3", "4", d(2024, 2, 1), "C1", "INV-2", d(2024, 2, 2)).
		out("P1", "9", "9", d(2024, 2, 3), "C1")
	lines, err := l.ListEntries(context.Background(), Outbound, EntryFilter{})
	require.NoError(t, err)

	// WHEN: Grouping
	groups := GroupInvoices(lines)

	// THEN: Newest invoice first, earliest date per group, rounded totals
	require.Len(t, groups, 2)
	assert.Equal(t, "INV-2", groups[0].InvoiceNumber)
	assert.Equal(t, "12", groups[0].TotalAmount.String())
	assert.Equal(t, 1, groups[0].RecordCount)

	assert.Equal(t, "INV-1", groups[1].InvoiceNumber)
	assert.Equal(t, "2024-01-08", groups[1].InvoiceDate.String())
	assert.Equal(t, "21.01", groups[1].TotalAmount.String())
	assert.Equal(t, 3, groups[1].RecordCount)
}

func TestGroupInvoices_TieBreaksOnNumber(t *testing.T) {
	l := newMemLedger().
		addInvoiced(Outbound, "P1", "1", "1", d(2024, 1, 1), "C1", "B", d(2024, 1, 5)).
		addInvoiced(Outbound, "P1", "1", "1", d(2024, 1, 1), "C1", "A", d(2024, 1, 5))
	lines, _ := l.ListEntries(context.Background(), Outbound, EntryFilter{})

	groups := GroupInvoices(lines)

	require.Len(t, groups, 2)
	assert.Equal(t, "A", groups[0].InvoiceNumber)
	assert.Equal(t, "B", groups[1].InvoiceNumber)
}

func TestInvoiceGrouper_SidesReadTheirOwnLedger(t *testing.T) {
	l := newMemLedger().
		addInvoiced(Outbound, "P1", "1", "10", d(2024, 1, 1), "X", "R-1", d(2024, 1, 1)).
		addInvoiced(Inbound, "P1", "1", "7", d(2024, 1, 1), "X", "P-1", d(2024, 1, 1))
	g := NewInvoiceGrouper(l)

	recv, err := g.Group(context.Background(), Receivable, "X")
	require.NoError(t, err)
	pay, err := g.Group(context.Background(), Payable, "X")
	require.NoError(t, err)

	require.Len(t, recv, 1)
	assert.Equal(t, "R-1", recv[0].InvoiceNumber)
	require.Len(t, pay, 1)
	assert.Equal(t, "P-1", pay[0].InvoiceNumber)
}

func TestParseSide(t *testing.T) {
	side, err := ParseSide(" Payable ")
	require.NoError(t, err)
	assert.Equal(t, Payable, side)
	assert.Equal(t, Inbound, side.Direction())
	assert.Equal(t, Outbound, Receivable.Direction())

	_, err = ParseSide("ledger")
	assert.True(t, errors.Is(err, ErrUnknownSide))
}

func TestSideKeyRoundTrip(t *testing.T) {
	side, code, err := splitSideKey(Receivable.cacheKey("C/01"))
	require.NoError(t, err)
	assert.Equal(t, Receivable, side)
	assert.Equal(t, "C/01", code)

	_, _, err = splitSideKey("receivable")
	assert.Error(t, err)
}
