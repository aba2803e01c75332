package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type AccountStatus string

const (
	AccountStatusActive AccountStatus = "active"
	AccountStatusFrozen AccountStatus = "frozen"
	AccountStatusClosed AccountStatus = "closed"
)

// Ledger transaction kinds
const (
	TransactionLoanDisbursement  = "loan_disbursement"
	TransactionOverpaymentRefund = "loan_overpayment_refund"
)

// Account is the borrower account credited on disbursement
type Account struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	Status    AccountStatus   `json:"status" db:"status"`
	Balance   decimal.Decimal `json:"balance" db:"balance"`
	Currency  string          `json:"currency" db:"currency"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// InGoodStanding reports whether the account can receive funds
func (a *Account) InGoodStanding() bool {
	return a.Status == AccountStatusActive
}

// AccountTransaction is the ledger-visible record of a credit, used for reconciliation
type AccountTransaction struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	AccountID    uuid.UUID       `json:"account_id" db:"account_id"`
	Kind         string          `json:"kind" db:"kind"`
	Reference    string          `json:"reference" db:"reference"`
	Amount       decimal.Decimal `json:"amount" db:"amount"`
	BalanceAfter decimal.Decimal `json:"balance_after" db:"balance_after"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// Receipt is returned by the account ledger for every credit
type Receipt struct {
	TransactionID uuid.UUID       `json:"transaction_id"`
	AccountID     uuid.UUID       `json:"account_id"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
}
