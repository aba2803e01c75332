package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segyhp/loan-engine/internal/domain"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Postgres error codes that mean the transaction lost a race
const (
	pqSerializationFailure = pq.ErrorCode("40001")
	pqDeadlockDetected     = pq.ErrorCode("40P01")
	pqLockNotAvailable     = pq.ErrorCode("55P03")
)

type sqlxUnitOfWork struct {
	db          *sqlx.DB
	lockTimeout time.Duration
}

// NewUnitOfWork returns a UnitOfWork backed by Postgres transactions.
// lockTimeout bounds how long WithinLoanTx waits for the loan row lock.
func NewUnitOfWork(db *sqlx.DB, lockTimeout time.Duration) UnitOfWork {
	return &sqlxUnitOfWork{db: db, lockTimeout: lockTimeout}
}

// NewRepos binds every repository to the same connection or transaction
func NewRepos(db sqlx.ExtContext) Repos {
	return Repos{
		Loans:    NewLoanRepository(db),
		Payments: NewPaymentRepository(db),
		Deposits: NewDepositRepository(db),
		Accounts: NewAccountRepository(db),
		Audit:    NewAuditRepository(db),
	}
}

func (u *sqlxUnitOfWork) WithinTx(ctx context.Context, fn func(r Repos) error) error {
	return u.run(ctx, func(tx *sqlx.Tx) error {
		return fn(NewRepos(tx))
	})
}

func (u *sqlxUnitOfWork) WithinLoanTx(ctx context.Context, loanID string, fn func(r Repos, loan *domain.Loan) error) error {
	return u.run(ctx, func(tx *sqlx.Tx) error {
		if u.lockTimeout > 0 {
			// SET does not take bind parameters; the value is an integer we format ourselves
			stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", u.lockTimeout.Milliseconds())
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}

		r := NewRepos(tx)
		// lock the loan row up-front to prevent races
		loan, err := r.Loans.GetByLoanIDForUpdate(ctx, loanID)
		if err != nil {
			return err
		}
		return fn(r, loan)
	})
}

func (u *sqlxUnitOfWork) run(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := u.db.BeginTxx(ctx, nil)
	if err != nil {
		return translateError(err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return translateError(err)
	}

	return translateError(tx.Commit())
}

// translateError maps lost-race Postgres failures onto ErrConflict
func translateError(err error) error {
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pqSerializationFailure, pqDeadlockDetected, pqLockNotAvailable:
			return fmt.Errorf("%w: %s", ErrConflict, pqErr.Message)
		}
	}

	return err
}
