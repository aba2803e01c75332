package service

import (
	"time"

	"github.com/segyhp/loan-engine/internal/domain"
	"github.com/segyhp/loan-engine/pkg/utils"

	"github.com/shopspring/decimal"
)

// Allocation splits a tendered amount across late fee, interest and principal, in that order.
// Whatever exceeds the payoff amount is Refund and is not part of the applied amount.
type Allocation struct {
	LateFee      decimal.Decimal
	Interest     decimal.Decimal
	Principal    decimal.Decimal
	Refund       decimal.Decimal
	BalanceAfter decimal.Decimal
}

// Applied is the amount that reduces what the borrower owes
func (a Allocation) Applied() decimal.Decimal {
	return a.LateFee.Add(a.Interest).Add(a.Principal)
}

// Settles reports whether the allocation pays the loan off
func (a Allocation) Settles() bool {
	return a.BalanceAfter.IsZero()
}

// LateFeeDue is the fee owed when asOf is past the next due date plus the grace period
func LateFeeDue(loan *domain.Loan, asOf time.Time, p Policy) decimal.Decimal {
	if loan.NextPaymentDate == nil || !utils.IsPaymentLate(*loan.NextPaymentDate, asOf, p.LateFeeGraceDays) {
		return decimal.Zero
	}
	return utils.CalculateLateFee(p.LateFeeFlat, p.LateFeePercent, loan.MonthlyPayment)
}

// PayoffAmount is what settles the loan as of asOf: late fee, one month of interest and the balance
func PayoffAmount(loan *domain.Loan, asOf time.Time, p Policy) decimal.Decimal {
	interest := utils.CalculateMonthlyInterest(loan.RemainingBalance, loan.InterestRate)
	return LateFeeDue(loan, asOf, p).Add(interest).Add(loan.RemainingBalance)
}

// Allocate does not mutate the loan
func Allocate(loan *domain.Loan, amount decimal.Decimal, asOf time.Time, p Policy) Allocation {
	remaining := utils.RoundMoney(amount)

	fee := utils.MinDecimal(remaining, LateFeeDue(loan, asOf, p))
	remaining = remaining.Sub(fee)

	interest := utils.MinDecimal(remaining, utils.CalculateMonthlyInterest(loan.RemainingBalance, loan.InterestRate))
	remaining = remaining.Sub(interest)

	principal := utils.MinDecimal(remaining, loan.RemainingBalance)
	remaining = remaining.Sub(principal)

	return Allocation{
		LateFee:      fee,
		Interest:     interest,
		Principal:    principal,
		Refund:       remaining,
		BalanceAfter: loan.RemainingBalance.Sub(principal),
	}
}
