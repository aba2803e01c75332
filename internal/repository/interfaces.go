package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/segyhp/loan-engine/internal/domain"
	"github.com/shopspring/decimal"
)

// ErrConflict is returned when a write lost a race with another writer on the same row
var ErrConflict = errors.New("repository: concurrent modification")

// ErrAccountNotCreditable is returned by Credit when the account is not active
var ErrAccountNotCreditable = errors.New("repository: account cannot be credited")

// LoanRepository defines the interface for loan data operations
type LoanRepository interface {
	// Create creates a new loan
	Create(ctx context.Context, loan *domain.Loan) error

	// GetByLoanID retrieves a loan by its loan ID
	GetByLoanID(ctx context.Context, loanID string) (*domain.Loan, error)

	// GetByLoanIDForUpdate retrieves a loan and locks its row until the transaction ends
	GetByLoanIDForUpdate(ctx context.Context, loanID string) (*domain.Loan, error)

	// Update writes the mutable loan fields if loan.Version is still current,
	// returning ErrConflict otherwise. On success loan.Version is incremented.
	Update(ctx context.Context, loan *domain.Loan) error

	// ListByStatus retrieves all loans in the given status
	ListByStatus(ctx context.Context, status domain.LoanStatus) ([]*domain.Loan, error)

	// CreateSchedule creates loan schedule entries
	CreateSchedule(ctx context.Context, schedules []*domain.LoanSchedule) error

	// GetScheduleByLoanID retrieves loan schedule by loan ID
	GetScheduleByLoanID(ctx context.Context, loanID string) ([]*domain.LoanSchedule, error)

	// UpdateScheduleStatus updates the status of a specific schedule entry
	UpdateScheduleStatus(ctx context.Context, loanID string, installmentNumber int, status string) error
}

// PaymentRepository defines the interface for payment data operations
type PaymentRepository interface {
	// Create creates a new payment record
	Create(ctx context.Context, payment *domain.Payment) error

	// GetByID retrieves a payment by its ID
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error)

	// GetByIDForUpdate retrieves a payment and locks its row until the transaction ends
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.Payment, error)

	// GetByRequestID retrieves the payment recorded for an idempotency key
	GetByRequestID(ctx context.Context, loanID string, requestID string) (*domain.Payment, error)

	// GetByLoanID retrieves all payments for a loan
	GetByLoanID(ctx context.Context, loanID string) ([]*domain.Payment, error)

	// Update writes the status and allocation of a payment
	Update(ctx context.Context, payment *domain.Payment) error
}

// DepositStatusProvider is the read side of the deposit subsystem
type DepositStatusProvider interface {
	GetDepositStatus(ctx context.Context, loanID string) (*domain.DepositRecord, error)
}

// DepositRepository defines the interface for deposit record operations
type DepositRepository interface {
	DepositStatusProvider

	// Create creates a deposit record, used when a transfer instruction is issued
	Create(ctx context.Context, deposit *domain.DepositRecord) error
}

// AccountLedger is the account ledger collaborator credited on disbursement
type AccountLedger interface {
	GetAccount(ctx context.Context, accountID uuid.UUID) (*domain.Account, error)
	Credit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, kind string, reference string) (*domain.Receipt, error)
}

// AccountRepository defines the interface for account data operations
type AccountRepository interface {
	AccountLedger

	// Create creates a new account
	Create(ctx context.Context, account *domain.Account) error

	// ListTransactionsByKind retrieves ledger transactions of one kind
	ListTransactionsByKind(ctx context.Context, kind string) ([]*domain.AccountTransaction, error)
}

// AuditSink appends audit entries
type AuditSink interface {
	Append(ctx context.Context, entry *domain.AuditEntry) error
}

// AuditRepository defines the interface for audit log operations
type AuditRepository interface {
	AuditSink

	// ListBySubject retrieves the most recent entries for a subject, newest first
	ListBySubject(ctx context.Context, subject string, limit int) ([]*domain.AuditEntry, error)
}

// Repos groups repositories bound to the same connection or transaction
type Repos struct {
	Loans    LoanRepository
	Payments PaymentRepository
	Deposits DepositRepository
	Accounts AccountRepository
	Audit    AuditRepository
}

// UnitOfWork runs a function inside a single data-store transaction
type UnitOfWork interface {
	// WithinTx runs fn in a plain transaction
	WithinTx(ctx context.Context, fn func(r Repos) error) error

	// WithinLoanTx locks the loan first, then passes it in
	WithinLoanTx(ctx context.Context, loanID string, fn func(r Repos, loan *domain.Loan) error) error
}
