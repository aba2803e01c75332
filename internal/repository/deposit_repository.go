package repository

import (
	"context"

	"github.com/segyhp/loan-engine/internal/domain"

	"github.com/jmoiron/sqlx"
)

type depositRepository struct {
	db sqlx.ExtContext
}

func NewDepositRepository(db sqlx.ExtContext) DepositRepository {
	return &depositRepository{db: db}
}

func (r *depositRepository) Create(ctx context.Context, deposit *domain.DepositRecord) error {
	query := `
		INSERT INTO deposit_records (id, loan_id, required_amount, deposited_amount, verified, source, confirmations, confirmed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.ExecContext(ctx, query,
		deposit.ID,
		deposit.LoanID,
		deposit.RequiredAmount,
		deposit.DepositedAmount,
		deposit.Verified,
		deposit.Source,
		deposit.Confirmations,
		deposit.ConfirmedAt,
		deposit.CreatedAt,
		deposit.UpdatedAt,
	)

	return err
}

func (r *depositRepository) GetDepositStatus(ctx context.Context, loanID string) (*domain.DepositRecord, error) {
	query := `
		SELECT id, loan_id, required_amount, deposited_amount, verified, source, confirmations, confirmed_at, created_at, updated_at
		FROM deposit_records
		WHERE loan_id = $1
	`

	var deposit domain.DepositRecord
	if err := sqlx.GetContext(ctx, r.db, &deposit, query, loanID); err != nil {
		return nil, err
	}

	return &deposit, nil
}
