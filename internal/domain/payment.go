package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PaymentType string

const (
	PaymentTypeRegular     PaymentType = "regular"
	PaymentTypeManual      PaymentType = "manual"
	PaymentTypeAutoPayment PaymentType = "auto_payment"
	PaymentTypeEarlyPayoff PaymentType = "early_payoff"
	PaymentTypeLateFee     PaymentType = "late_fee"
)

// IsValid reports whether t is a known payment type
func (t PaymentType) IsValid() bool {
	switch t {
	case PaymentTypeRegular, PaymentTypeManual, PaymentTypeAutoPayment, PaymentTypeEarlyPayoff, PaymentTypeLateFee:
		return true
	}
	return false
}

// RequiresApproval reports whether payments of this type wait for an admin decision
func (t PaymentType) RequiresApproval() bool {
	return t == PaymentTypeManual
}

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// Payment represents a repayment received against a loan.
// Amount always equals PrincipalAmount + InterestAmount + LateFee.
type Payment struct {
	ID                uuid.UUID           `json:"id" db:"id"`
	LoanID            string              `json:"loan_id" db:"loan_id"`
	RequestID         *string             `json:"request_id,omitempty" db:"request_id"`
	Amount            decimal.Decimal     `json:"amount" db:"amount"`
	PrincipalAmount   decimal.Decimal     `json:"principal_amount" db:"principal_amount"`
	InterestAmount    decimal.Decimal     `json:"interest_amount" db:"interest_amount"`
	LateFee           decimal.Decimal     `json:"late_fee" db:"late_fee"`
	RefundedAmount    decimal.Decimal     `json:"refunded_amount" db:"refunded_amount"`
	PaymentType       PaymentType         `json:"payment_type" db:"payment_type"`
	Status            PaymentStatus       `json:"status" db:"status"`
	PaymentDate       time.Time           `json:"payment_date" db:"payment_date"`
	BalanceAfter      decimal.NullDecimal `json:"balance_after" db:"balance_after"`
	RejectionReason   *string             `json:"rejection_reason,omitempty" db:"rejection_reason"`
	RecordedBy        string              `json:"recorded_by" db:"recorded_by"`
	ProcessedBy       *string             `json:"processed_by,omitempty" db:"processed_by"`
	ProcessedAt       *time.Time          `json:"processed_at,omitempty" db:"processed_at"`
	ApprovalRequestID *string             `json:"-" db:"approval_request_id"`
	CreatedAt         time.Time           `json:"created_at" db:"created_at"`
}

// Clone returns a copy that does not share pointer fields with the original
func (p *Payment) Clone() *Payment {
	c := *p
	c.RequestID = cloneString(p.RequestID)
	c.RejectionReason = cloneString(p.RejectionReason)
	c.ProcessedBy = cloneString(p.ProcessedBy)
	c.ApprovalRequestID = cloneString(p.ApprovalRequestID)
	if p.ProcessedAt != nil {
		t := *p.ProcessedAt
		c.ProcessedAt = &t
	}
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
