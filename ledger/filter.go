package ledger

import (
	"strings"

	"github.com/warp/trade-ledger/generic"
)

// All is the sentinel for an unfiltered customer or product.
const All = "ALL"

// Filter selects the outbound side of a cost analysis. The date range is
// required; empty Customer or Product means all.
type Filter struct {
	StartDate generic.Date
	EndDate   generic.Date
	Customer  string
	Product   string
}

// ParseFilter validates raw query parameters. Dates are YYYY-MM-DD and
// start must not be after end. "ALL" in any case, or empty, clears the
// customer or product filter.
func ParseFilter(start, end, customer, product string) (Filter, error) {
	if strings.TrimSpace(start) == "" {
		return Filter{}, &FilterError{Field: "start_date", Value: start, Reason: "required"}
	}
	if strings.TrimSpace(end) == "" {
		return Filter{}, &FilterError{Field: "end_date", Value: end, Reason: "required"}
	}
	s, err := generic.ParseDate(strings.TrimSpace(start))
	if err != nil {
		return Filter{}, &FilterError{Field: "start_date", Value: start, Reason: "expected YYYY-MM-DD"}
	}
	e, err := generic.ParseDate(strings.TrimSpace(end))
	if err != nil {
		return Filter{}, &FilterError{Field: "end_date", Value: end, Reason: "expected YYYY-MM-DD"}
	}
	if s.After(e) {
		return Filter{}, ErrInvalidDateRange
	}
	return Filter{
		StartDate: s,
		EndDate:   e,
		Customer:  normalizeParty(customer),
		Product:   normalizeParty(product),
	}, nil
}

func normalizeParty(v string) string {
	v = strings.TrimSpace(v)
	if strings.EqualFold(v, All) {
		return ""
	}
	return v
}

// Key is the analysis cache sub-key: start_end_customer_product.
func (f Filter) Key() string {
	return f.StartDate.String() + "_" + f.EndDate.String() + "_" + orAll(f.Customer) + "_" + orAll(f.Product)
}

// Params echoes the filter in result form.
func (f Filter) Params() QueryParams {
	return QueryParams{
		StartDate: f.StartDate.String(),
		EndDate:   f.EndDate.String(),
		Customer:  orAll(f.Customer),
		Product:   orAll(f.Product),
	}
}

// outbound is the filter applied to sales lines.
func (f Filter) outbound(sign PriceSign) EntryFilter {
	return EntryFilter{
		From:         f.StartDate,
		To:           f.EndDate,
		PartnerCode:  f.Customer,
		ProductModel: f.Product,
		Sign:         sign,
	}
}

// specialIncome is the filter applied to rebate lines. Inbound lines
// carry a supplier code, so the customer filter does not apply.
func (f Filter) specialIncome() EntryFilter {
	return EntryFilter{
		From:         f.StartDate,
		To:           f.EndDate,
		ProductModel: f.Product,
		Sign:         NegativePrice,
	}
}

func orAll(v string) string {
	if v == "" {
		return All
	}
	return v
}
