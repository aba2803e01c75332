package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type LoanStatus string

const (
	LoanStatusPending  LoanStatus = "pending"
	LoanStatusApproved LoanStatus = "approved"
	LoanStatusActive   LoanStatus = "active"
	LoanStatusClosed   LoanStatus = "closed"
	LoanStatusRejected LoanStatus = "rejected"
)

// loanTransitions lists the legal lifecycle edges
var loanTransitions = map[LoanStatus][]LoanStatus{
	LoanStatusPending:  {LoanStatusApproved, LoanStatusRejected},
	LoanStatusApproved: {LoanStatusActive},
	LoanStatusActive:   {LoanStatusClosed},
}

// CanTransition reports whether the lifecycle allows moving from one status to another
func (s LoanStatus) CanTransition(to LoanStatus) bool {
	for _, next := range loanTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions exist
func (s LoanStatus) IsTerminal() bool {
	return len(loanTransitions[s]) == 0
}

// Loan represents a loan entity
type Loan struct {
	ID                uuid.UUID           `json:"id" db:"id"`
	LoanID            string              `json:"loan_id" db:"loan_id"`
	AccountID         uuid.UUID           `json:"account_id" db:"account_id"`
	Principal         decimal.Decimal     `json:"principal" db:"principal"`
	InterestRate      decimal.Decimal     `json:"interest_rate" db:"interest_rate"`
	TermMonths        int                 `json:"term_months" db:"term_months"`
	Status            LoanStatus          `json:"status" db:"status"`
	RemainingBalance  decimal.Decimal     `json:"remaining_balance" db:"remaining_balance"`
	MonthlyPayment    decimal.Decimal     `json:"monthly_payment_amount" db:"monthly_payment_amount"`
	PaymentsMade      int                 `json:"payments_made" db:"payments_made"`
	NextPaymentDate   *time.Time          `json:"next_payment_date,omitempty" db:"next_payment_date"`
	DepositRequired   decimal.NullDecimal `json:"deposit_required" db:"deposit_required"`
	DisbursedAt       *time.Time          `json:"disbursed_at,omitempty" db:"disbursed_at"`
	ClosedAt          *time.Time          `json:"closed_at,omitempty" db:"closed_at"`
	ApprovalNotes     string              `json:"approval_notes,omitempty" db:"approval_notes"`
	ApprovalRequestID *string             `json:"-" db:"approval_request_id"`
	RejectionReason   string              `json:"rejection_reason,omitempty" db:"rejection_reason"`
	Version           int64               `json:"version" db:"version"`
	CreatedAt         time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at" db:"updated_at"`
}

// HasDepositGate reports whether approval must wait for a verified deposit
func (l *Loan) HasDepositGate() bool {
	return l.DepositRequired.Valid && l.DepositRequired.Decimal.IsPositive()
}

// Clone returns a copy that does not share pointer fields with the original
func (l *Loan) Clone() *Loan {
	c := *l
	if l.NextPaymentDate != nil {
		t := *l.NextPaymentDate
		c.NextPaymentDate = &t
	}
	if l.DisbursedAt != nil {
		t := *l.DisbursedAt
		c.DisbursedAt = &t
	}
	if l.ClosedAt != nil {
		t := *l.ClosedAt
		c.ClosedAt = &t
	}
	if l.ApprovalRequestID != nil {
		id := *l.ApprovalRequestID
		c.ApprovalRequestID = &id
	}
	return &c
}

// DTOs for requests and responses

type CreateLoanRequest struct {
	LoanID          string           `json:"loan_id" validate:"required,max=64"`
	AccountID       uuid.UUID        `json:"account_id" validate:"required"`
	Principal       decimal.Decimal  `json:"principal" validate:"decimal_gt=0"`
	InterestRate    decimal.Decimal  `json:"interest_rate" validate:"decimal_gte=0"`
	TermMonths      int              `json:"term_months" validate:"required,gt=0,lte=600"`
	DepositRequired *decimal.Decimal `json:"deposit_required,omitempty"`
}

type ApproveLoanRequest struct {
	Notes string `json:"approval_notes" validate:"max=1000"`
}

type RejectRequest struct {
	Reason string `json:"reason" validate:"required,max=1000"`
}

type RecordPaymentRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	PaymentType PaymentType     `json:"payment_type" validate:"required,oneof=regular manual auto_payment early_payoff late_fee"`
	AsOf        *time.Time      `json:"as_of,omitempty"`
}

// LoanDetail is the read-only view returned by loanDetail
type LoanDetail struct {
	Loan        *Loan           `json:"loan"`
	Payments    []*Payment      `json:"payments"`
	Schedule    []*LoanSchedule `json:"schedule"`
	Deposit     *DepositStatus  `json:"deposit"`
	RecentAudit []*AuditEntry   `json:"recent_audit"`
}
