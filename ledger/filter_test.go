package ledger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFilter(t *testing.T) {
	cases := []struct {
		name              string
		start, end        string
		customer, product string
		wantErr           error
		wantKey           string
	}{
		{
			name:  "all",
			start: "2024-01-01", end: "2024-12-31", customer: "ALL", product: "all",
			wantKey: "2024-01-01_2024-12-31_ALL_ALL",
		},
		{
			name:  "empty means all",
			start: "2024-01-01", end: "2024-01-01",
			wantKey: "2024-01-01_2024-01-01_ALL_ALL",
		},
		{
			name:  "fixed customer and product",
			start: " 2024-01-01 ", end: "2024-06-30", customer: " C1 ", product: "P1",
			wantKey: "2024-01-01_2024-06-30_C1_P1",
		},
		{name: "missing start", end: "2024-01-01", wantErr: ErrInvalidFilter},
		{name: "missing end", start: "2024-01-01", wantErr: ErrInvalidFilter},
		{name: "bad date", start: "2024-13-01", end: "2024-12-31", wantErr: ErrInvalidFilter},
		{name: "reversed", start: "2024-12-31", end: "2024-01-01", wantErr: ErrInvalidDateRange},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f, err := ParseFilter(tc.start, tc.end, tc.customer, tc.product)
			if tc.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tc.wantErr))
				assert.True(t, IsClientError(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantKey, f.Key())
		})
	}
}

func TestFilterError_NamesField(t *testing.T) {
	_, err := ParseFilter("yesterday", "2024-01-01", "", "")

	var fe *FilterError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "start_date", fe.Field)
	assert.Equal(t, "yesterday", fe.Value)
}

func TestFilter_SpecialIncomeDropsCustomer(t *testing.T) {
	f, err := ParseFilter("2024-01-01", "2024-12-31", "C1", "P1")
	require.NoError(t, err)

	out := f.outbound(NonNegativePrice)
	income := f.specialIncome()

	assert.Equal(t, "C1", out.PartnerCode)
	assert.Empty(t, income.PartnerCode)
	assert.Equal(t, "P1", income.ProductModel)
	assert.Equal(t, NegativePrice, income.Sign)
}
