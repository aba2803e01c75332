package errors

import (
	"errors"
	"fmt"
)

// Domain errors
var (
	ErrLoanNotFound           = errors.New("loan not found")
	ErrLoanAlreadyExists      = errors.New("loan already exists")
	ErrPaymentNotFound        = errors.New("payment not found")
	ErrAccountNotFound        = errors.New("account not found")
	ErrValidation             = errors.New("validation error")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrDepositNotVerified     = errors.New("deposit not verified")
	ErrAccountUnavailable     = errors.New("account unavailable")
	ErrDisbursementFailed     = errors.New("disbursement failed")
	ErrOverpaymentNotAllowed  = errors.New("overpayment not allowed")
	ErrConcurrencyConflict    = errors.New("concurrency conflict")
)

// Kind tells the caller whether retrying can help
type Kind string

const (
	KindBusiness  Kind = "business"
	KindTransient Kind = "transient"
)

// BusinessError represents a business logic error
type BusinessError struct {
	Code    string
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

// Kind classifies the error as a rule violation or a transient failure
func (e *BusinessError) Kind() Kind {
	switch e.Code {
	case ErrCodeConcurrencyConflict, ErrCodeDatabaseError, ErrCodeCacheError:
		return KindTransient
	default:
		return KindBusiness
	}
}

// NewBusinessError creates a new business error
func NewBusinessError(code, message string, err error) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Error codes
const (
	ErrCodeLoanNotFound           = "LOAN_NOT_FOUND"
	ErrCodeLoanAlreadyExists      = "LOAN_ALREADY_EXISTS"
	ErrCodePaymentNotFound        = "PAYMENT_NOT_FOUND"
	ErrCodeValidation             = "VALIDATION_ERROR"
	ErrCodeInvalidStateTransition = "INVALID_STATE_TRANSITION"
	ErrCodeDepositNotVerified     = "DEPOSIT_NOT_VERIFIED"
	ErrCodeAccountUnavailable     = "ACCOUNT_UNAVAILABLE"
	ErrCodeDisbursementFailed     = "DISBURSEMENT_FAILED"
	ErrCodeOverpaymentNotAllowed  = "OVERPAYMENT_NOT_ALLOWED"
	ErrCodeConcurrencyConflict    = "CONCURRENCY_CONFLICT"
	ErrCodeDatabaseError          = "DATABASE_ERROR"
	ErrCodeCacheError             = "CACHE_ERROR"
)

// AsBusinessError extracts the BusinessError from an error chain
func AsBusinessError(err error) (*BusinessError, bool) {
	var be *BusinessError
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}

// IsRetryable reports whether the whole operation may be retried by the caller
func IsRetryable(err error) bool {
	if be, ok := AsBusinessError(err); ok {
		return be.Kind() == KindTransient
	}
	return false
}

// Wrap common errors with business context
func WrapLoanNotFound(loanID string) *BusinessError {
	return NewBusinessError(
		ErrCodeLoanNotFound,
		fmt.Sprintf("Loan with ID %s not found", loanID),
		ErrLoanNotFound,
	)
}

func WrapLoanAlreadyExists(loanID string) *BusinessError {
	return NewBusinessError(
		ErrCodeLoanAlreadyExists,
		fmt.Sprintf("Loan with ID %s already exists", loanID),
		ErrLoanAlreadyExists,
	)
}

func WrapPaymentNotFound(paymentID string) *BusinessError {
	return NewBusinessError(
		ErrCodePaymentNotFound,
		fmt.Sprintf("Payment with ID %s not found", paymentID),
		ErrPaymentNotFound,
	)
}

func WrapValidation(message string) *BusinessError {
	return NewBusinessError(ErrCodeValidation, message, ErrValidation)
}

func WrapInvalidStateTransition(entity, id, from, action string) *BusinessError {
	return NewBusinessError(
		ErrCodeInvalidStateTransition,
		fmt.Sprintf("Cannot %s %s %s in status %s", action, entity, id, from),
		ErrInvalidStateTransition,
	)
}

func WrapDepositNotVerified(loanID string) *BusinessError {
	return NewBusinessError(
		ErrCodeDepositNotVerified,
		fmt.Sprintf("Required deposit for loan %s has not been verified", loanID),
		ErrDepositNotVerified,
	)
}

// WrapAccountUnavailable matches both ErrAccountUnavailable and ErrDisbursementFailed,
// since an unusable account aborts the disbursement.
func WrapAccountUnavailable(accountID, status string) *BusinessError {
	return NewBusinessError(
		ErrCodeAccountUnavailable,
		fmt.Sprintf("Account %s is not available for disbursement (status %s)", accountID, status),
		fmt.Errorf("%w: %w", ErrAccountUnavailable, ErrDisbursementFailed),
	)
}

func WrapDisbursementFailed(loanID string, err error) *BusinessError {
	return NewBusinessError(
		ErrCodeDisbursementFailed,
		fmt.Sprintf("Disbursement for loan %s failed", loanID),
		fmt.Errorf("%w: %w", ErrDisbursementFailed, err),
	)
}

func WrapOverpaymentNotAllowed(amount string) *BusinessError {
	return NewBusinessError(
		ErrCodeOverpaymentNotAllowed,
		fmt.Sprintf("Payment amount %s must be greater than zero", amount),
		ErrOverpaymentNotAllowed,
	)
}

func WrapConcurrencyConflict(loanID string, err error) *BusinessError {
	cause := ErrConcurrencyConflict
	if err != nil {
		cause = fmt.Errorf("%w: %w", ErrConcurrencyConflict, err)
	}
	return NewBusinessError(
		ErrCodeConcurrencyConflict,
		fmt.Sprintf("Loan %s was modified concurrently, retry the operation", loanID),
		cause,
	)
}

func WrapDatabaseError(err error) *BusinessError {
	return NewBusinessError(
		ErrCodeDatabaseError,
		"database operation failed",
		err,
	)
}

func WrapCacheError(err error) *BusinessError {
	return NewBusinessError(
		ErrCodeCacheError,
		"Cache operation failed",
		err,
	)
}
