package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type DepositSource string

const (
	DepositSourceBankTransfer DepositSource = "bank_transfer"
	DepositSourceCrypto       DepositSource = "crypto"
)

// DepositRecord is the funding/collateral deposit tied to a pending loan.
// It is owned by the deposit subsystem; the engine only reads it.
type DepositRecord struct {
	ID              uuid.UUID       `json:"id" db:"id"`
	LoanID          string          `json:"loan_id" db:"loan_id"`
	RequiredAmount  decimal.Decimal `json:"required_amount" db:"required_amount"`
	DepositedAmount decimal.Decimal `json:"deposited_amount" db:"deposited_amount"`
	Verified        bool            `json:"verified" db:"verified"`
	Source          DepositSource   `json:"source" db:"source"`
	Confirmations   int             `json:"confirmations" db:"confirmations"`
	ConfirmedAt     *time.Time      `json:"confirmed_at,omitempty" db:"confirmed_at"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
}

// IsVerified requires a flagged record whose deposited amount covers the requirement.
// Crypto deposits also need requiredConfirmations.
func (d *DepositRecord) IsVerified(required decimal.Decimal, requiredConfirmations int) bool {
	if d == nil || !d.Verified {
		return false
	}
	if d.DepositedAmount.LessThan(required) || d.DepositedAmount.LessThan(d.RequiredAmount) {
		return false
	}
	switch d.Source {
	case DepositSourceBankTransfer:
		return true
	case DepositSourceCrypto:
		return d.Confirmations >= requiredConfirmations
	default:
		return false
	}
}

// DepositStatus is the deposit summary shown in loan detail
type DepositStatus struct {
	Required        bool            `json:"required"`
	RequiredAmount  decimal.Decimal `json:"required_amount"`
	DepositedAmount decimal.Decimal `json:"deposited_amount"`
	Confirmations   int             `json:"confirmations"`
	Source          DepositSource   `json:"source,omitempty"`
	Verified        bool            `json:"verified"`
}
