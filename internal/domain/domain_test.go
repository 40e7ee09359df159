package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableFor(t *testing.T) {
	cases := []struct {
		in    string
		table string
	}{
		{"product", "product_config"},
		{"orders", "orders_config"},
		{"expenses", "expenses_config"},
		{"ads", "ads_config"},
		{"employee", "employee_config"},
		{"delivery", "delivery_config"},
		{"  Product ", "product_config"},
		{"ORDERS", "orders_config"},
	}
	for _, tc := range cases {
		table, err := TableFor(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.table, table)
	}
}

func TestTableForUnsupported(t *testing.T) {
	_, err := TableFor("bogus")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedDomain))

	_, err = TableFor("")
	assert.True(t, errors.Is(err, ErrUnsupportedDomain))
}

func TestAllIsStable(t *testing.T) {
	first := All()
	second := All()
	assert.Equal(t, first, second)
	assert.Contains(t, first, "orders")
	assert.Len(t, first, 6)
}
