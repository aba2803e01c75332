package utils

import (
	"time"

	"github.com/shopspring/decimal"
)

// MoneyPlaces is the number of decimal places of the smallest currency unit
const MoneyPlaces = 2

// powPlaces bounds the precision of the compounding factor used by the amortization formula
const powPlaces = 18

var (
	hundred      = decimal.NewFromInt(100)
	monthsInYear = decimal.NewFromInt(12)
)

// RoundMoney rounds an amount to the smallest currency unit, half up
func RoundMoney(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(MoneyPlaces)
}

// MonthlyRate converts an annual percentage rate into the per-month fraction
// Formula: (rate / 100) / 12
func MonthlyRate(annualRatePercent decimal.Decimal) decimal.Decimal {
	return annualRatePercent.Div(hundred).Div(monthsInYear)
}

// CalculateMonthlyInterest returns the simple monthly interest on a balance, rounded to cents
func CalculateMonthlyInterest(balance decimal.Decimal, annualRatePercent decimal.Decimal) decimal.Decimal {
	return RoundMoney(balance.Mul(MonthlyRate(annualRatePercent)))
}

// CalculateMonthlyPayment calculates the constant payment of a declining-balance loan
// Formula: P * r * (1+r)^n / ((1+r)^n - 1), or P / n when the rate is zero
func CalculateMonthlyPayment(principal decimal.Decimal, annualRatePercent decimal.Decimal, termMonths int) decimal.Decimal {
	if termMonths <= 0 {
		return decimal.Zero
	}

	n := decimal.NewFromInt(int64(termMonths))
	r := MonthlyRate(annualRatePercent)
	if r.IsZero() {
		return RoundMoney(principal.Div(n))
	}

	factor := decimal.NewFromInt(1).Add(r).Pow(n).Round(powPlaces)
	payment := principal.Mul(r).Mul(factor).Div(factor.Sub(decimal.NewFromInt(1)))

	return RoundMoney(payment)
}

// Installment is a single row of an amortization schedule
type Installment struct {
	Number       int
	DueDate      time.Time
	Amount       decimal.Decimal
	Principal    decimal.Decimal
	Interest     decimal.Decimal
	BalanceAfter decimal.Decimal
}

// BuildAmortizationSchedule splits a constant monthly payment into interest and principal.
// The final installment pays off whatever balance is left, so the rounding residual of the
// monthly payment ends up there.
func BuildAmortizationSchedule(principal, annualRatePercent decimal.Decimal, termMonths int, payment decimal.Decimal, firstDue time.Time) []Installment {
	schedule := make([]Installment, 0, termMonths)
	balance := principal

	for number := 1; number <= termMonths && balance.IsPositive(); number++ {
		interest := CalculateMonthlyInterest(balance, annualRatePercent)
		principalPart := payment.Sub(interest)

		if number == termMonths || principalPart.GreaterThanOrEqual(balance) {
			principalPart = balance
		}
		if principalPart.IsNegative() {
			principalPart = decimal.Zero
		}

		balance = balance.Sub(principalPart)
		schedule = append(schedule, Installment{
			Number:       number,
			DueDate:      AddMonths(firstDue, number-1),
			Amount:       principalPart.Add(interest),
			Principal:    principalPart,
			Interest:     interest,
			BalanceAfter: balance,
		})
	}

	return schedule
}

// CalculateLateFee returns the fee charged for a late installment:
// a flat amount plus a percentage of the scheduled monthly payment
func CalculateLateFee(flat, percent, monthlyPayment decimal.Decimal) decimal.Decimal {
	return RoundMoney(flat.Add(monthlyPayment.Mul(percent).Div(hundred)))
}

// AddMonths moves t forward by n calendar months, clamping to the last day of the
// target month (Jan 31 + 1 month is Feb 28/29, not Mar 3)
func AddMonths(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	firstOfTarget := time.Date(year, month+time.Month(months), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	lastDay := firstOfTarget.AddDate(0, 1, -1).Day()
	if day > lastDay {
		day = lastDay
	}
	return time.Date(firstOfTarget.Year(), firstOfTarget.Month(), day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// CalculateDueDate calculates the first due date of a freshly disbursed loan
func CalculateDueDate(disbursedAt time.Time, days int) time.Time {
	return disbursedAt.AddDate(0, 0, days)
}

// IsPaymentLate checks if asOf is past the due date plus the grace period
func IsPaymentLate(dueDate time.Time, asOf time.Time, graceDays int) bool {
	return asOf.After(dueDate.AddDate(0, 0, graceDays))
}

// MinDecimal returns the smaller of two decimals
func MinDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}
