package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Business logic constants
const (
	ScheduleStatusPending = "pending"
	ScheduleStatusPaid    = "paid"
)

// LoanSchedule represents one monthly installment of an amortization schedule
type LoanSchedule struct {
	ID                uuid.UUID       `json:"id" db:"id"`
	LoanID            string          `json:"loan_id" db:"loan_id"`
	InstallmentNumber int             `json:"installment_number" db:"installment_number"`
	DueDate           time.Time       `json:"due_date" db:"due_date"`
	AmountDue         decimal.Decimal `json:"amount_due" db:"amount_due"`
	PrincipalDue      decimal.Decimal `json:"principal_due" db:"principal_due"`
	InterestDue       decimal.Decimal `json:"interest_due" db:"interest_due"`
	Status            string          `json:"status" db:"status"` // pending, paid
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
}
