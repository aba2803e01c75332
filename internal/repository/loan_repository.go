package repository

import (
	"context"

	"github.com/segyhp/loan-engine/internal/domain"

	"github.com/jmoiron/sqlx"
)

const loanColumns = `id, loan_id, account_id, principal, interest_rate, term_months, status,
		remaining_balance, monthly_payment_amount, payments_made, next_payment_date,
		deposit_required, disbursed_at, closed_at, approval_notes, approval_request_id,
		rejection_reason, version, created_at, updated_at`

type loanRepository struct {
	db sqlx.ExtContext
}

// NewLoanRepository accepts either *sqlx.DB or *sqlx.Tx
func NewLoanRepository(db sqlx.ExtContext) LoanRepository {
	return &loanRepository{db: db}
}

func (r *loanRepository) Create(ctx context.Context, loan *domain.Loan) error {
	query := `
		INSERT INTO loans (` + loanColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`

	_, err := r.db.ExecContext(ctx, query,
		loan.ID,
		loan.LoanID,
		loan.AccountID,
		loan.Principal,
		loan.InterestRate,
		loan.TermMonths,
		loan.Status,
		loan.RemainingBalance,
		loan.MonthlyPayment,
		loan.PaymentsMade,
		loan.NextPaymentDate,
		loan.DepositRequired,
		loan.DisbursedAt,
		loan.ClosedAt,
		loan.ApprovalNotes,
		loan.ApprovalRequestID,
		loan.RejectionReason,
		loan.Version,
		loan.CreatedAt,
		loan.UpdatedAt,
	)

	return err
}

func (r *loanRepository) GetByLoanID(ctx context.Context, loanID string) (*domain.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans WHERE loan_id = $1`

	var loan domain.Loan
	err := sqlx.GetContext(ctx, r.db, &loan, query, loanID)
	if err != nil {
		return nil, err
	}

	return &loan, nil
}

func (r *loanRepository) GetByLoanIDForUpdate(ctx context.Context, loanID string) (*domain.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans WHERE loan_id = $1 FOR UPDATE`

	var loan domain.Loan
	err := sqlx.GetContext(ctx, r.db, &loan, query, loanID)
	if err != nil {
		return nil, err
	}

	return &loan, nil
}

// Update never touches principal, which is immutable once the loan exists.
// updated_at is taken from loan.UpdatedAt so callers stamp it with their own clock.
func (r *loanRepository) Update(ctx context.Context, loan *domain.Loan) error {
	query := `
		UPDATE loans
		SET status = $3, remaining_balance = $4, monthly_payment_amount = $5, payments_made = $6,
			next_payment_date = $7, disbursed_at = $8, closed_at = $9, approval_notes = $10,
			approval_request_id = $11, rejection_reason = $12, version = version + 1, updated_at = $13
		WHERE loan_id = $1 AND version = $2
	`

	result, err := r.db.ExecContext(ctx, query,
		loan.LoanID,
		loan.Version,
		loan.Status,
		loan.RemainingBalance,
		loan.MonthlyPayment,
		loan.PaymentsMade,
		loan.NextPaymentDate,
		loan.DisbursedAt,
		loan.ClosedAt,
		loan.ApprovalNotes,
		loan.ApprovalRequestID,
		loan.RejectionReason,
		loan.UpdatedAt,
	)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrConflict
	}

	loan.Version++
	return nil
}

func (r *loanRepository) ListByStatus(ctx context.Context, status domain.LoanStatus) ([]*domain.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans WHERE status = $1 ORDER BY created_at`

	var loans []*domain.Loan
	err := sqlx.SelectContext(ctx, r.db, &loans, query, status)
	if err != nil {
		return nil, err
	}

	return loans, nil
}

// CreateSchedule expects to run inside the caller's transaction
func (r *loanRepository) CreateSchedule(ctx context.Context, schedules []*domain.LoanSchedule) error {
	query := `
		INSERT INTO loan_schedule (id, loan_id, installment_number, due_date, amount_due, principal_due, interest_due, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	for _, schedule := range schedules {
		_, err := r.db.ExecContext(ctx, query,
			schedule.ID,
			schedule.LoanID,
			schedule.InstallmentNumber,
			schedule.DueDate,
			schedule.AmountDue,
			schedule.PrincipalDue,
			schedule.InterestDue,
			schedule.Status,
			schedule.CreatedAt,
		)
		if err != nil {
			return err
		}
	}

	return nil
}

func (r *loanRepository) GetScheduleByLoanID(ctx context.Context, loanID string) ([]*domain.LoanSchedule, error) {
	query := `
		SELECT id, loan_id, installment_number, due_date, amount_due, principal_due, interest_due, status, created_at
		FROM loan_schedule
		WHERE loan_id = $1
		ORDER BY installment_number
	`

	var schedules []*domain.LoanSchedule
	err := sqlx.SelectContext(ctx, r.db, &schedules, query, loanID)
	if err != nil {
		return nil, err
	}

	return schedules, nil
}

func (r *loanRepository) UpdateScheduleStatus(ctx context.Context, loanID string, installmentNumber int, status string) error {
	query := `
		UPDATE loan_schedule
		SET status = $3
		WHERE loan_id = $1 AND installment_number = $2
	`

	_, err := r.db.ExecContext(ctx, query, loanID, installmentNumber, status)
	return err
}
