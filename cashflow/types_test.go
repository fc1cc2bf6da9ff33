package cashflow_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/cashflow-engine/cashflow"
)

func TestParseEntryType(t *testing.T) {
	tests := []struct {
		in      string
		want    cashflow.EntryType
		wantErr bool
	}{
		{"INCOME", cashflow.TypeIncome, false},
		{"income", cashflow.TypeIncome, false},
		{" product_sale ", cashflow.TypeProductSale, false},
		{"Refund", cashflow.TypeRefund, false},
		{"expense", cashflow.TypeExpense, false},
		{"transfer", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := cashflow.ParseEntryType(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, cashflow.ErrInvalidEntryType)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFromMinorUnits(t *testing.T) {
	assert.True(t, cashflow.FromMinorUnits(5000).Equal(decimal.NewFromInt(50)))
	assert.Equal(t, "12.34", cashflow.FromMinorUnits(1234).String())
	assert.True(t, cashflow.FromMinorUnits(0).IsZero())
}

func TestNewTransaction_Normalize(t *testing.T) {
	tx := cashflow.NewTransaction{
		Date:   time.Date(2025, 3, 10, 15, 30, 0, 0, time.UTC),
		Amount: decimal.NewFromInt(10),
		Type:   "income",
	}
	got, err := tx.Normalize()
	require.NoError(t, err)
	assert.Equal(t, cashflow.TypeIncome, got.Type)
	assert.Equal(t, cashflow.DefaultCategory, got.Category)
	assert.Equal(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), got.Date)

	tx.Amount = decimal.NewFromInt(-1)
	_, err = tx.Normalize()
	assert.ErrorIs(t, err, cashflow.ErrInvalidAmount)
	assert.True(t, cashflow.IsClientError(err))

	tx.Amount = decimal.NewFromInt(1)
	tx.Date = time.Time{}
	_, err = tx.Normalize()
	assert.ErrorIs(t, err, cashflow.ErrInvalidEntry)
}

func TestFilter_Matches(t *testing.T) {
	apt := int64(7)
	e := cashflow.Entry{
		Date:          time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
		Type:          cashflow.TypeIncome,
		Category:      "service",
		AppointmentID: &apt,
	}

	other := int64(8)
	expense := cashflow.TypeExpense
	cat := "service"
	from := time.Date(2025, 3, 10, 23, 0, 0, 0, time.UTC)

	assert.True(t, cashflow.Filter{}.Matches(e))
	assert.True(t, cashflow.Filter{AppointmentID: &apt, Category: &cat}.Matches(e))
	assert.True(t, cashflow.Filter{From: &from}.Matches(e), "from compares calendar dates")
	assert.False(t, cashflow.Filter{AppointmentID: &other}.Matches(e))
	assert.False(t, cashflow.Filter{Type: &expense}.Matches(e))
}
