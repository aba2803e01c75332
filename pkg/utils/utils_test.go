package utils

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateMonthlyPayment(t *testing.T) {
	tests := []struct {
		name      string
		principal decimal.Decimal
		rate      decimal.Decimal
		months    int
		expected  decimal.Decimal
	}{
		{
			name:      "standard amortized loan",
			principal: decimal.NewFromInt(12000),
			rate:      decimal.NewFromInt(6),
			months:    12,
			expected:  decimal.RequireFromString("1032.80"),
		},
		{
			name:      "thirty year mortgage",
			principal: decimal.NewFromInt(200000),
			rate:      decimal.NewFromInt(6),
			months:    360,
			expected:  decimal.RequireFromString("1199.10"),
		},
		{
			name:      "zero interest rate",
			principal: decimal.NewFromInt(1000),
			rate:      decimal.Zero,
			months:    3,
			expected:  decimal.RequireFromString("333.33"),
		},
		{
			name:      "invalid term",
			principal: decimal.NewFromInt(1000),
			rate:      decimal.NewFromInt(5),
			months:    0,
			expected:  decimal.Zero,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CalculateMonthlyPayment(tt.principal, tt.rate, tt.months)
			assert.True(t, result.Equal(tt.expected),
				"Expected %v, but got %v", tt.expected, result)
		})
	}
}

func TestCalculateMonthlyInterest(t *testing.T) {
	interest := CalculateMonthlyInterest(decimal.NewFromInt(12000), decimal.NewFromInt(6))
	assert.True(t, interest.Equal(decimal.RequireFromString("60.00")), "got %v", interest)

	interest = CalculateMonthlyInterest(decimal.RequireFromString("11028.00"), decimal.NewFromInt(6))
	assert.True(t, interest.Equal(decimal.RequireFromString("55.14")), "got %v", interest)
}

func TestRoundMoney_HalfUp(t *testing.T) {
	assert.Equal(t, "0.13", RoundMoney(decimal.RequireFromString("0.125")).StringFixed(2))
	assert.Equal(t, "0.12", RoundMoney(decimal.RequireFromString("0.1249")).StringFixed(2))
	assert.Equal(t, "10.00", RoundMoney(decimal.RequireFromString("9.995")).StringFixed(2))
}

func TestBuildAmortizationSchedule(t *testing.T) {
	principal := decimal.NewFromInt(12000)
	rate := decimal.NewFromInt(6)
	payment := CalculateMonthlyPayment(principal, rate, 12)
	firstDue := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)

	schedule := BuildAmortizationSchedule(principal, rate, 12, payment, firstDue)
	require.Len(t, schedule, 12)

	totalPrincipal := decimal.Zero
	for i, row := range schedule {
		assert.Equal(t, i+1, row.Number)
		assert.True(t, row.Amount.Equal(row.Principal.Add(row.Interest)))
		totalPrincipal = totalPrincipal.Add(row.Principal)
		if i < len(schedule)-1 {
			assert.True(t, row.Amount.Equal(payment), "installment %d: %v", row.Number, row.Amount)
		}
	}

	assert.True(t, totalPrincipal.Equal(principal), "principal sum %v", totalPrincipal)
	assert.True(t, schedule[11].BalanceAfter.IsZero())
	assert.True(t, schedule[0].Interest.Equal(decimal.RequireFromString("60.00")))

	// final installment absorbs the rounding residual, so it may differ by a few cents
	diff := schedule[11].Amount.Sub(payment).Abs()
	assert.True(t, diff.LessThan(decimal.NewFromInt(1)), "final installment %v", schedule[11].Amount)

	assert.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), schedule[1].DueDate)
	assert.Equal(t, time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC), schedule[2].DueDate)
}

func TestAddMonths(t *testing.T) {
	tests := []struct {
		name     string
		start    time.Time
		months   int
		expected time.Time
	}{
		{
			name:     "mid month",
			start:    time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC),
			months:   1,
			expected: time.Date(2024, 2, 15, 10, 0, 0, 0, time.UTC),
		},
		{
			name:     "end of month clamps in leap year",
			start:    time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
			months:   1,
			expected: time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "end of month clamps in common year",
			start:    time.Date(2023, 1, 31, 0, 0, 0, 0, time.UTC),
			months:   1,
			expected: time.Date(2023, 2, 28, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "year rollover",
			start:    time.Date(2023, 12, 5, 0, 0, 0, 0, time.UTC),
			months:   2,
			expected: time.Date(2024, 2, 5, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "zero months",
			start:    time.Date(2023, 6, 30, 0, 0, 0, 0, time.UTC),
			months:   0,
			expected: time.Date(2023, 6, 30, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, AddMonths(tt.start, tt.months))
		})
	}
}

func TestIsPaymentLate(t *testing.T) {
	due := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	assert.False(t, IsPaymentLate(due, due, 5))
	assert.False(t, IsPaymentLate(due, due.AddDate(0, 0, 5), 5))
	assert.True(t, IsPaymentLate(due, due.AddDate(0, 0, 5).Add(time.Second), 5))
	assert.True(t, IsPaymentLate(due, due.Add(time.Second), 0))
}

func TestCalculateLateFee(t *testing.T) {
	fee := CalculateLateFee(decimal.NewFromInt(25), decimal.Zero, decimal.RequireFromString("1032.80"))
	assert.True(t, fee.Equal(decimal.NewFromInt(25)))

	fee = CalculateLateFee(decimal.Zero, decimal.NewFromInt(5), decimal.RequireFromString("1032.80"))
	assert.True(t, fee.Equal(decimal.RequireFromString("51.64")), "got %v", fee)
}
