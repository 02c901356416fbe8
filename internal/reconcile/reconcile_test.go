package reconcile

import (
	"testing"
	"time"

	"fjacquet/bank-sync/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func balanceRow(account string, occurred time.Time, balance string) models.LedgerRow {
	return models.LedgerRow{
		Transaction: models.Transaction{
			ID:         account + occurred.String(),
			Account:    account,
			OccurredAt: occurred,
			Balance:    decimal.RequireFromString(balance),
			HasBalance: true,
		},
	}
}

func TestCheck_ThresholdBoundary(t *testing.T) {
	occurred := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	reported := decimal.RequireFromString("100.00")

	tests := []struct {
		name          string
		ledgerBalance string
		wantOK        bool
		wantDrift     string
	}{
		{"drift above threshold fails", "99.89", false, "0.11"},
		{"drift at threshold is ok", "99.90", true, "0.10"},
		{"exact match", "100.00", true, "0.00"},
		{"negative drift above threshold", "100.11", false, "-0.11"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows := []models.LedgerRow{balanceRow("Everyday", occurred, tt.ledgerBalance)}
			result := Check("Everyday", rows, reported, DefaultThreshold)

			assert.Equal(t, tt.wantOK, result.OK)
			assert.True(t, result.Checked)
			assert.True(t, result.Drift.Equal(decimal.RequireFromString(tt.wantDrift)),
				"drift %s != %s", result.Drift, tt.wantDrift)
		})
	}
}

func TestCheck_UsesMostRecentBalance(t *testing.T) {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	rows := []models.LedgerRow{
		balanceRow("Everyday", base.AddDate(0, 0, 5), "500.00"),
		balanceRow("Everyday", base.AddDate(0, 0, 1), "100.00"),
		balanceRow("Everyday", base.AddDate(0, 0, 3), "300.00"),
	}

	result := Check("Everyday", rows, decimal.RequireFromString("500.00"), DefaultThreshold)
	assert.True(t, result.OK)
	assert.True(t, result.LedgerBalance.Equal(decimal.RequireFromString("500.00")))
}

func TestCheck_SkipsRowsWithoutBalance(t *testing.T) {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	withBalance := balanceRow("Everyday", base, "250.00")
	noBalance := models.LedgerRow{
		Transaction: models.Transaction{
			ID:         "later",
			Account:    "Everyday",
			OccurredAt: base.AddDate(0, 0, 2),
		},
	}

	result := Check("Everyday", []models.LedgerRow{withBalance, noBalance}, decimal.RequireFromString("250.00"), DefaultThreshold)
	assert.True(t, result.OK, "the newest row without a balance must fall back to the prior one")
}

func TestCheck_EmptyLedgerBalanceIsZero(t *testing.T) {
	result := Check("Everyday", nil, decimal.RequireFromString("10.00"), DefaultThreshold)
	assert.False(t, result.OK)
	assert.True(t, result.LedgerBalance.IsZero())
}

func TestSum_NetMovement(t *testing.T) {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	amountRow := func(id, amount string, occurred time.Time) models.LedgerRow {
		return models.LedgerRow{Transaction: models.Transaction{
			ID:         id,
			Account:    "Everyday",
			OccurredAt: occurred,
			Amount:     decimal.RequireFromString(amount),
		}}
	}
	rows := []models.LedgerRow{
		amountRow("a", "10.00", base),
		amountRow("b", "-2.50", base.AddDate(0, 0, 1)),
		amountRow("c", "0.25", base.AddDate(0, 0, 2)),
	}

	result := Sum("Everyday", rows)
	assert.Equal(t, "Everyday", result.Account)
	assert.True(t, result.OK)
	assert.False(t, result.Checked, "a summed result has no bank balance to check against")
	assert.True(t, result.LedgerBalance.Equal(decimal.RequireFromString("7.75")))
	assert.True(t, result.Drift.IsZero())
}

func TestSum_EmptyLedgerIsZero(t *testing.T) {
	result := Sum("Everyday", nil)
	assert.True(t, result.OK)
	assert.True(t, result.LedgerBalance.IsZero())
}

func TestGroupByAccount(t *testing.T) {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	rows := []models.LedgerRow{
		balanceRow("A", base, "1"),
		balanceRow("B", base, "2"),
		balanceRow("A", base.AddDate(0, 0, 1), "3"),
		{Transaction: models.Transaction{ID: "n", OccurredAt: base}},
	}

	grouped := GroupByAccount(rows)
	require.Len(t, grouped, 3)
	assert.Len(t, grouped["A"], 2)
	assert.Len(t, grouped["B"], 1)
	assert.Len(t, grouped["unknown"], 1)
}
