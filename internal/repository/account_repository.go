package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/segyhp/loan-engine/internal/domain"
	"github.com/shopspring/decimal"

	"github.com/jmoiron/sqlx"
)

type accountRepository struct {
	db sqlx.ExtContext
}

func NewAccountRepository(db sqlx.ExtContext) AccountRepository {
	return &accountRepository{db: db}
}

func (r *accountRepository) Create(ctx context.Context, account *domain.Account) error {
	query := `
		INSERT INTO accounts (id, status, balance, currency, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.ExecContext(ctx, query,
		account.ID,
		account.Status,
		account.Balance,
		account.Currency,
		account.CreatedAt,
		account.UpdatedAt,
	)

	return err
}

func (r *accountRepository) GetAccount(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	query := `
		SELECT id, status, balance, currency, created_at, updated_at
		FROM accounts
		WHERE id = $1
	`

	var account domain.Account
	if err := sqlx.GetContext(ctx, r.db, &account, query, accountID); err != nil {
		return nil, err
	}

	return &account, nil
}

// Credit adds amount to an active account and writes the matching ledger transaction.
// Both statements must share the caller's transaction.
func (r *accountRepository) Credit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, kind string, reference string) (*domain.Receipt, error) {
	now := time.Now().UTC()

	var balance decimal.Decimal
	err := sqlx.GetContext(ctx, r.db, &balance, `
		UPDATE accounts
		SET balance = balance + $2, updated_at = $3
		WHERE id = $1 AND status = 'active'
		RETURNING balance
	`, accountID, amount, now)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotCreditable
	}
	if err != nil {
		return nil, err
	}

	txn := &domain.AccountTransaction{
		ID:           uuid.New(),
		AccountID:    accountID,
		Kind:         kind,
		Reference:    reference,
		Amount:       amount,
		BalanceAfter: balance,
		CreatedAt:    now,
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO account_transactions (id, account_id, kind, reference, amount, balance_after, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, txn.ID, txn.AccountID, txn.Kind, txn.Reference, txn.Amount, txn.BalanceAfter, txn.CreatedAt)
	if err != nil {
		return nil, err
	}

	return &domain.Receipt{
		TransactionID: txn.ID,
		AccountID:     accountID,
		Amount:        amount,
		BalanceAfter:  balance,
	}, nil
}

func (r *accountRepository) ListTransactionsByKind(ctx context.Context, kind string) ([]*domain.AccountTransaction, error) {
	query := `
		SELECT id, account_id, kind, reference, amount, balance_after, created_at
		FROM account_transactions
		WHERE kind = $1
		ORDER BY created_at
	`

	var txns []*domain.AccountTransaction
	if err := sqlx.SelectContext(ctx, r.db, &txns, query, kind); err != nil {
		return nil, err
	}

	return txns, nil
}
