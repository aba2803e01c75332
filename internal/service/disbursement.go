package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/segyhp/loan-engine/internal/domain"
	"github.com/segyhp/loan-engine/internal/repository"
	customError "github.com/segyhp/loan-engine/pkg/errors"
	"github.com/segyhp/loan-engine/pkg/utils"
)

// Disburser moves the principal of an approved loan into the borrower account
type Disburser struct {
	firstPaymentDays int
}

func NewDisburser(firstPaymentDays int) *Disburser {
	return &Disburser{firstPaymentDays: firstPaymentDays}
}

// Disburse runs inside the approval transaction. On success the loan carries its balance,
// monthly payment, disbursement time and first due date, and its schedule has been written.
// Every failure is a DisbursementFailed business error; the caller rolls back.
func (d *Disburser) Disburse(ctx context.Context, r repository.Repos, loan *domain.Loan, now time.Time) (*domain.Receipt, error) {
	account, err := r.Accounts.GetAccount(ctx, loan.AccountID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, customError.WrapAccountUnavailable(loan.AccountID.String(), "missing")
	}
	if err != nil {
		return nil, customError.WrapDisbursementFailed(loan.LoanID, err)
	}
	if !account.InGoodStanding() {
		return nil, customError.WrapAccountUnavailable(account.ID.String(), string(account.Status))
	}

	receipt, err := r.Accounts.Credit(ctx, loan.AccountID, loan.Principal, domain.TransactionLoanDisbursement, loan.LoanID)
	if errors.Is(err, repository.ErrAccountNotCreditable) {
		return nil, customError.WrapAccountUnavailable(account.ID.String(), string(account.Status))
	}
	if err != nil {
		return nil, customError.WrapDisbursementFailed(loan.LoanID, err)
	}

	monthly := utils.CalculateMonthlyPayment(loan.Principal, loan.InterestRate, loan.TermMonths)
	firstDue := utils.CalculateDueDate(now, d.firstPaymentDays)

	installments := utils.BuildAmortizationSchedule(loan.Principal, loan.InterestRate, loan.TermMonths, monthly, firstDue)
	schedule := make([]*domain.LoanSchedule, 0, len(installments))
	for _, inst := range installments {
		schedule = append(schedule, &domain.LoanSchedule{
			ID:                uuid.New(),
			LoanID:            loan.LoanID,
			InstallmentNumber: inst.Number,
			DueDate:           inst.DueDate,
			AmountDue:         inst.Amount,
			PrincipalDue:      inst.Principal,
			InterestDue:       inst.Interest,
			Status:            domain.ScheduleStatusPending,
			CreatedAt:         now,
		})
	}
	if err := r.Loans.CreateSchedule(ctx, schedule); err != nil {
		return nil, customError.WrapDisbursementFailed(loan.LoanID, err)
	}

	disbursedAt := now
	loan.RemainingBalance = loan.Principal
	loan.MonthlyPayment = monthly
	loan.PaymentsMade = 0
	loan.DisbursedAt = &disbursedAt
	loan.NextPaymentDate = &firstDue

	return receipt, nil
}
