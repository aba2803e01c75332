package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
)

// Audit actions
const (
	AuditLoanCreated           = "loan_created"
	AuditLoanApprovedDisbursed = "loan_approved_disbursed"
	AuditLoanRejected          = "loan_rejected"
	AuditPaymentRecorded       = "payment_recorded"
	AuditPaymentSubmitted      = "payment_submitted"
	AuditPaymentApproved       = "payment_approved"
	AuditPaymentRejected       = "payment_rejected"
)

// AuditEntry is an immutable record of a state change
type AuditEntry struct {
	ID        uuid.UUID      `json:"id" db:"id"`
	Subject   string         `json:"subject" db:"subject"`
	Action    string         `json:"action" db:"action"`
	Actor     string         `json:"actor" db:"actor"`
	Before    types.JSONText `json:"before" db:"before_state"`
	After     types.JSONText `json:"after" db:"after_state"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
}
