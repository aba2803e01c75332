package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/segyhp/loan-engine/internal/domain"
	"github.com/segyhp/loan-engine/internal/lock"
	"github.com/segyhp/loan-engine/internal/repository"
	customError "github.com/segyhp/loan-engine/pkg/errors"
	"github.com/segyhp/loan-engine/pkg/utils"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type RecordPaymentCommand struct {
	LoanID      string
	Amount      decimal.Decimal
	PaymentType domain.PaymentType
	AsOf        *time.Time
	Admin       string
	RequestID   string
}

type ApprovePaymentCommand struct {
	PaymentID uuid.UUID
	Admin     string
	RequestID string
}

type RejectPaymentCommand struct {
	PaymentID uuid.UUID
	Admin     string
	Reason    string
}

// PaymentService records repayments and settles manual payments
type PaymentService struct {
	deps   Dependencies
	audit  *AuditRecorder
	logger *zap.Logger
}

func NewPaymentService(deps Dependencies) *PaymentService {
	deps = deps.withDefaults()
	return &PaymentService{
		deps:   deps,
		audit:  NewAuditRecorder(deps.Clock),
		logger: deps.Logger.Named("payment_service"),
	}
}

type paymentSnapshot struct {
	Payment *domain.Payment `json:"payment"`
	Loan    *domain.Loan    `json:"loan"`
}

// RecordPayment applies a payment to an active loan. Manual payments are stored pending
// until an admin approves them. A repeated RequestID returns the payment stored first.
func (s *PaymentService) RecordPayment(ctx context.Context, cmd RecordPaymentCommand) (result *domain.Payment, err error) {
	started := time.Now()
	defer func() { s.deps.Metrics.ObserveOperation("record_payment", outcome(err), started) }()

	if err := requireAdmin(cmd.Admin); err != nil {
		return nil, err
	}
	if !cmd.Amount.IsPositive() {
		return nil, customError.WrapOverpaymentNotAllowed(cmd.Amount.String())
	}
	if !cmd.Amount.Equal(utils.RoundMoney(cmd.Amount)) {
		return nil, customError.WrapValidation("amount must have at most two decimal places")
	}
	if !cmd.PaymentType.IsValid() {
		return nil, customError.WrapValidation(fmt.Sprintf("unknown payment type %q", cmd.PaymentType))
	}

	now := s.deps.Clock()
	asOf := now
	if cmd.AsOf != nil {
		asOf = *cmd.AsOf
	}

	replayed := false
	err = s.deps.Locker.WithLock(ctx, lock.LoanKey(cmd.LoanID), func(ctx context.Context) error {
		return s.deps.UoW.WithinLoanTx(ctx, cmd.LoanID, func(r repository.Repos, loan *domain.Loan) error {
			if cmd.RequestID != "" {
				existing, err := r.Payments.GetByRequestID(ctx, loan.LoanID, cmd.RequestID)
				if err == nil {
					result, replayed = existing, true
					return nil
				}
				if !errors.Is(err, sql.ErrNoRows) {
					return err
				}
			}

			if loan.Status != domain.LoanStatusActive {
				return customError.WrapInvalidStateTransition("loan", loan.LoanID, string(loan.Status), "record payment on")
			}

			payment := &domain.Payment{
				ID:          uuid.New(),
				LoanID:      loan.LoanID,
				PaymentType: cmd.PaymentType,
				PaymentDate: asOf,
				RecordedBy:  cmd.Admin,
				CreatedAt:   now,
			}
			if cmd.RequestID != "" {
				requestID := cmd.RequestID
				payment.RequestID = &requestID
			}

			if cmd.PaymentType.RequiresApproval() {
				alloc := Allocate(loan, cmd.Amount, asOf, s.deps.Policy)
				if err := s.checkSettlement(loan, cmd.PaymentType, alloc, asOf); err != nil {
					return err
				}
				setAllocation(payment, alloc)
				payment.Status = domain.PaymentStatusPending

				if err := r.Payments.Create(ctx, payment); err != nil {
					return err
				}
				if err := s.audit.Record(ctx, r.Audit, loan.LoanID, domain.AuditPaymentSubmitted, cmd.Admin, nil, payment); err != nil {
					return err
				}
				result = payment
				return nil
			}

			before := paymentSnapshot{Loan: loan.Clone()}
			if err := s.apply(ctx, r, loan, payment, cmd.Amount, asOf, cmd.Admin); err != nil {
				return err
			}
			if err := r.Payments.Create(ctx, payment); err != nil {
				return err
			}
			after := paymentSnapshot{Payment: payment, Loan: loan}
			if err := s.audit.Record(ctx, r.Audit, loan.LoanID, domain.AuditPaymentRecorded, cmd.Admin, before, after); err != nil {
				return err
			}
			result = payment
			return nil
		})
	})
	if err != nil {
		return nil, mapError(s.logger, cmd.LoanID, err)
	}

	if replayed {
		s.logger.Info("payment request replayed",
			zap.String("loan_id", cmd.LoanID),
			zap.String("request_id", cmd.RequestID),
			zap.String("payment_id", result.ID.String()),
		)
		return result, nil
	}

	s.invalidate(ctx, cmd.LoanID)
	if result.Status == domain.PaymentStatusCompleted {
		s.deps.Metrics.ObservePayment(string(result.PaymentType), result.Amount)
	}
	s.logger.Info("payment recorded",
		zap.String("loan_id", cmd.LoanID),
		zap.String("payment_id", result.ID.String()),
		zap.String("actor", cmd.Admin),
		zap.String("type", string(result.PaymentType)),
		zap.String("status", string(result.Status)),
		zap.String("amount", result.Amount.StringFixed(2)),
	)
	return result, nil
}

// ApproveManualPayment applies a pending payment as of now. Re-sending the RequestID of a
// successful approval returns the completed payment.
func (s *PaymentService) ApproveManualPayment(ctx context.Context, cmd ApprovePaymentCommand) (result *domain.Payment, err error) {
	started := time.Now()
	defer func() { s.deps.Metrics.ObserveOperation("approve_payment", outcome(err), started) }()

	if err := requireAdmin(cmd.Admin); err != nil {
		return nil, err
	}

	loanID, err := s.loanOf(ctx, cmd.PaymentID)
	if err != nil {
		return nil, err
	}

	replayed := false
	err = s.deps.Locker.WithLock(ctx, lock.LoanKey(loanID), func(ctx context.Context) error {
		return s.deps.UoW.WithinLoanTx(ctx, loanID, func(r repository.Repos, loan *domain.Loan) error {
			payment, err := r.Payments.GetByIDForUpdate(ctx, cmd.PaymentID)
			if err != nil {
				return err
			}

			if payment.Status == domain.PaymentStatusCompleted && cmd.RequestID != "" &&
				payment.ApprovalRequestID != nil && *payment.ApprovalRequestID == cmd.RequestID {
				result, replayed = payment, true
				return nil
			}
			if payment.Status != domain.PaymentStatusPending {
				return customError.WrapInvalidStateTransition("payment", payment.ID.String(), string(payment.Status), "approve")
			}
			if loan.Status != domain.LoanStatusActive {
				return customError.WrapInvalidStateTransition("loan", loan.LoanID, string(loan.Status), "approve payment on")
			}

			before := paymentSnapshot{Payment: payment.Clone(), Loan: loan.Clone()}
			tendered := payment.Amount.Add(payment.RefundedAmount)

			if err := s.apply(ctx, r, loan, payment, tendered, s.deps.Clock(), cmd.Admin); err != nil {
				return err
			}
			if cmd.RequestID != "" {
				requestID := cmd.RequestID
				payment.ApprovalRequestID = &requestID
			}
			if err := r.Payments.Update(ctx, payment); err != nil {
				return err
			}

			after := paymentSnapshot{Payment: payment, Loan: loan}
			if err := s.audit.Record(ctx, r.Audit, loan.LoanID, domain.AuditPaymentApproved, cmd.Admin, before, after); err != nil {
				return err
			}
			result = payment
			return nil
		})
	})
	if err != nil {
		return nil, s.mapPaymentError(loanID, cmd.PaymentID, err)
	}

	if !replayed {
		s.invalidate(ctx, loanID)
		s.deps.Metrics.ObservePayment(string(result.PaymentType), result.Amount)
		s.logger.Info("manual payment approved",
			zap.String("loan_id", loanID),
			zap.String("payment_id", result.ID.String()),
			zap.String("actor", cmd.Admin),
			zap.String("amount", result.Amount.StringFixed(2)),
		)
	}
	return result, nil
}

// RejectManualPayment marks a pending payment failed. The loan is not touched.
func (s *PaymentService) RejectManualPayment(ctx context.Context, cmd RejectPaymentCommand) (result *domain.Payment, err error) {
	started := time.Now()
	defer func() { s.deps.Metrics.ObserveOperation("reject_payment", outcome(err), started) }()

	if err := requireAdmin(cmd.Admin); err != nil {
		return nil, err
	}
	reason := strings.TrimSpace(cmd.Reason)
	if reason == "" {
		return nil, customError.WrapValidation("rejection reason is required")
	}

	loanID, err := s.loanOf(ctx, cmd.PaymentID)
	if err != nil {
		return nil, err
	}

	err = s.deps.Locker.WithLock(ctx, lock.LoanKey(loanID), func(ctx context.Context) error {
		return s.deps.UoW.WithinLoanTx(ctx, loanID, func(r repository.Repos, loan *domain.Loan) error {
			payment, err := r.Payments.GetByIDForUpdate(ctx, cmd.PaymentID)
			if err != nil {
				return err
			}
			if payment.Status != domain.PaymentStatusPending {
				return customError.WrapInvalidStateTransition("payment", payment.ID.String(), string(payment.Status), "reject")
			}

			before := payment.Clone()
			now := s.deps.Clock()
			payment.Status = domain.PaymentStatusFailed
			payment.RejectionReason = &reason
			payment.ProcessedBy = &cmd.Admin
			payment.ProcessedAt = &now

			if err := r.Payments.Update(ctx, payment); err != nil {
				return err
			}
			if err := s.audit.Record(ctx, r.Audit, loan.LoanID, domain.AuditPaymentRejected, cmd.Admin, before, payment); err != nil {
				return err
			}
			result = payment
			return nil
		})
	})
	if err != nil {
		return nil, s.mapPaymentError(loanID, cmd.PaymentID, err)
	}

	s.invalidate(ctx, loanID)
	s.logger.Info("manual payment rejected",
		zap.String("loan_id", loanID),
		zap.String("payment_id", result.ID.String()),
		zap.String("actor", cmd.Admin),
	)
	return result, nil
}

// apply allocates tendered onto loan and completes payment. Neither is persisted here,
// except for the refund credit of an overpayment.
func (s *PaymentService) apply(ctx context.Context, r repository.Repos, loan *domain.Loan, payment *domain.Payment, tendered decimal.Decimal, asOf time.Time, actor string) error {
	alloc := Allocate(loan, tendered, asOf, s.deps.Policy)
	if err := s.checkSettlement(loan, payment.PaymentType, alloc, asOf); err != nil {
		return err
	}

	now := s.deps.Clock()
	setAllocation(payment, alloc)
	payment.Status = domain.PaymentStatusCompleted
	payment.BalanceAfter = decimal.NewNullDecimal(alloc.BalanceAfter)
	payment.ProcessedBy = &actor
	payment.ProcessedAt = &now

	if alloc.Refund.IsPositive() {
		_, err := r.Accounts.Credit(ctx, loan.AccountID, alloc.Refund, domain.TransactionOverpaymentRefund, loan.LoanID)
		if errors.Is(err, repository.ErrAccountNotCreditable) || errors.Is(err, sql.ErrNoRows) {
			return customError.NewBusinessError(
				customError.ErrCodeAccountUnavailable,
				fmt.Sprintf("Overpayment of %s cannot be refunded to account %s", alloc.Refund.StringFixed(2), loan.AccountID),
				customError.ErrAccountUnavailable,
			)
		}
		if err != nil {
			return err
		}
	}

	if err := s.markInstallmentsPaid(ctx, r, payment, alloc.Settles()); err != nil {
		return err
	}

	loan.RemainingBalance = alloc.BalanceAfter
	loan.UpdatedAt = now
	loan.PaymentsMade++
	if loan.NextPaymentDate != nil {
		next := utils.AddMonths(*loan.NextPaymentDate, 1)
		loan.NextPaymentDate = &next
	}
	if alloc.Settles() {
		loan.Status = domain.LoanStatusClosed
		loan.ClosedAt = &now
		loan.NextPaymentDate = nil
	}

	return r.Loans.Update(ctx, loan)
}

// checkSettlement enforces the payments that must pay the loan off
func (s *PaymentService) checkSettlement(loan *domain.Loan, paymentType domain.PaymentType, alloc Allocation, asOf time.Time) error {
	if alloc.Settles() {
		return nil
	}
	payoff := PayoffAmount(loan, asOf, s.deps.Policy)

	if paymentType == domain.PaymentTypeEarlyPayoff {
		return customError.WrapValidation(fmt.Sprintf("early payoff requires at least %s", payoff.StringFixed(2)))
	}
	if loan.PaymentsMade >= loan.TermMonths {
		return customError.WrapValidation(fmt.Sprintf("loan term is exhausted, payment must settle the remaining %s", payoff.StringFixed(2)))
	}
	return nil
}

// markInstallmentsPaid marks pending installments paid once the interest and principal
// applied so far cover them in order, or all of them on payoff. Late fees never count.
func (s *PaymentService) markInstallmentsPaid(ctx context.Context, r repository.Repos, payment *domain.Payment, settles bool) error {
	schedule, err := r.Loans.GetScheduleByLoanID(ctx, payment.LoanID)
	if err != nil {
		return err
	}

	paid, err := r.Payments.GetByLoanID(ctx, payment.LoanID)
	if err != nil {
		return err
	}
	covered := payment.InterestAmount.Add(payment.PrincipalAmount)
	for _, p := range paid {
		if p.ID == payment.ID || p.Status != domain.PaymentStatusCompleted {
			continue
		}
		covered = covered.Add(p.InterestAmount).Add(p.PrincipalAmount)
	}

	due := decimal.Zero
	for _, row := range schedule {
		due = due.Add(row.AmountDue)
		if row.Status != domain.ScheduleStatusPending {
			continue
		}
		if !settles && due.GreaterThan(covered) {
			return nil
		}
		if err := r.Loans.UpdateScheduleStatus(ctx, payment.LoanID, row.InstallmentNumber, domain.ScheduleStatusPaid); err != nil {
			return err
		}
	}
	return nil
}

func setAllocation(payment *domain.Payment, alloc Allocation) {
	payment.LateFee = alloc.LateFee
	payment.InterestAmount = alloc.Interest
	payment.PrincipalAmount = alloc.Principal
	payment.RefundedAmount = alloc.Refund
	payment.Amount = alloc.Applied()
}

// loanOf resolves the loan a payment belongs to, so the loan can be locked first
func (s *PaymentService) loanOf(ctx context.Context, paymentID uuid.UUID) (string, error) {
	payment, err := s.deps.Repos.Payments.GetByID(ctx, paymentID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", customError.WrapPaymentNotFound(paymentID.String())
	}
	if err != nil {
		return "", mapError(s.logger, "", err)
	}
	return payment.LoanID, nil
}

func (s *PaymentService) mapPaymentError(loanID string, paymentID uuid.UUID, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return customError.WrapPaymentNotFound(paymentID.String())
	}
	return mapError(s.logger, loanID, err)
}

func (s *PaymentService) invalidate(ctx context.Context, loanID string) {
	invalidate(ctx, s.deps.Cache, s.logger, loanID)
}
