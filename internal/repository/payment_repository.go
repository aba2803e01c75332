package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/segyhp/loan-engine/internal/domain"

	"github.com/jmoiron/sqlx"
)

const paymentColumns = `id, loan_id, request_id, amount, principal_amount, interest_amount, late_fee,
		refunded_amount, payment_type, status, payment_date, balance_after, rejection_reason,
		recorded_by, processed_by, processed_at, approval_request_id, created_at`

type paymentRepository struct {
	db sqlx.ExtContext
}

func NewPaymentRepository(db sqlx.ExtContext) PaymentRepository {
	return &paymentRepository{db: db}
}

func (r *paymentRepository) Create(ctx context.Context, payment *domain.Payment) error {
	query := `
		INSERT INTO payments (` + paymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`

	_, err := r.db.ExecContext(ctx, query,
		payment.ID,
		payment.LoanID,
		payment.RequestID,
		payment.Amount,
		payment.PrincipalAmount,
		payment.InterestAmount,
		payment.LateFee,
		payment.RefundedAmount,
		payment.PaymentType,
		payment.Status,
		payment.PaymentDate,
		payment.BalanceAfter,
		payment.RejectionReason,
		payment.RecordedBy,
		payment.ProcessedBy,
		payment.ProcessedAt,
		payment.ApprovalRequestID,
		payment.CreatedAt,
	)

	return err
}

func (r *paymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`

	var payment domain.Payment
	if err := sqlx.GetContext(ctx, r.db, &payment, query, id); err != nil {
		return nil, err
	}

	return &payment, nil
}

func (r *paymentRepository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1 FOR UPDATE`

	var payment domain.Payment
	if err := sqlx.GetContext(ctx, r.db, &payment, query, id); err != nil {
		return nil, err
	}

	return &payment, nil
}

func (r *paymentRepository) GetByRequestID(ctx context.Context, loanID string, requestID string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE loan_id = $1 AND request_id = $2`

	var payment domain.Payment
	if err := sqlx.GetContext(ctx, r.db, &payment, query, loanID, requestID); err != nil {
		return nil, err
	}

	return &payment, nil
}

func (r *paymentRepository) GetByLoanID(ctx context.Context, loanID string) ([]*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE loan_id = $1 ORDER BY created_at, id`

	var payments []*domain.Payment
	if err := sqlx.SelectContext(ctx, r.db, &payments, query, loanID); err != nil {
		return nil, err
	}

	return payments, nil
}

// Update only moves pending payments, so a terminal payment is never rewritten
func (r *paymentRepository) Update(ctx context.Context, payment *domain.Payment) error {
	query := `
		UPDATE payments
		SET amount = $2, principal_amount = $3, interest_amount = $4, late_fee = $5, refunded_amount = $6,
			status = $7, balance_after = $8, rejection_reason = $9, processed_by = $10, processed_at = $11,
			approval_request_id = $12
		WHERE id = $1 AND status = 'pending'
	`

	result, err := r.db.ExecContext(ctx, query,
		payment.ID,
		payment.Amount,
		payment.PrincipalAmount,
		payment.InterestAmount,
		payment.LateFee,
		payment.RefundedAmount,
		payment.Status,
		payment.BalanceAfter,
		payment.RejectionReason,
		payment.ProcessedBy,
		payment.ProcessedAt,
		payment.ApprovalRequestID,
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

	return nil
}
