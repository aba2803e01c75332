package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/segyhp/loan-engine/internal/domain"
	"github.com/segyhp/loan-engine/internal/repository"
)

// DepositGate decides whether a loan's required deposit has been confirmed. It never mutates.
type DepositGate struct {
	loans                 repository.LoanRepository
	deposits              repository.DepositStatusProvider
	requiredConfirmations int
}

func NewDepositGate(loans repository.LoanRepository, deposits repository.DepositStatusProvider, requiredConfirmations int) *DepositGate {
	return &DepositGate{
		loans:                 loans,
		deposits:              deposits,
		requiredConfirmations: requiredConfirmations,
	}
}

// IsVerified looks the loan up and checks its deposit
func (g *DepositGate) IsVerified(ctx context.Context, loanID string) (bool, error) {
	loan, err := g.loans.GetByLoanID(ctx, loanID)
	if err != nil {
		return false, err
	}
	return g.Check(ctx, g.deposits, loan)
}

// Check evaluates the gate for loan using the given provider, so callers inside a
// transaction read the deposit through the same transaction.
func (g *DepositGate) Check(ctx context.Context, deposits repository.DepositStatusProvider, loan *domain.Loan) (bool, error) {
	if !loan.HasDepositGate() {
		return true, nil
	}

	record, err := deposits.GetDepositStatus(ctx, loan.LoanID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return record.IsVerified(loan.DepositRequired.Decimal, g.requiredConfirmations), nil
}

// Status renders the deposit summary for loan detail
func (g *DepositGate) Status(ctx context.Context, deposits repository.DepositStatusProvider, loan *domain.Loan) (*domain.DepositStatus, error) {
	status := &domain.DepositStatus{Required: loan.HasDepositGate()}
	if !status.Required {
		status.Verified = true
		return status, nil
	}
	status.RequiredAmount = loan.DepositRequired.Decimal

	record, err := deposits.GetDepositStatus(ctx, loan.LoanID)
	if errors.Is(err, sql.ErrNoRows) {
		return status, nil
	}
	if err != nil {
		return nil, err
	}

	status.DepositedAmount = record.DepositedAmount
	status.Confirmations = record.Confirmations
	status.Source = record.Source
	status.Verified = record.IsVerified(loan.DepositRequired.Decimal, g.requiredConfirmations)
	return status, nil
}
