package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/segyhp/loan-engine/internal/cache"
	"github.com/segyhp/loan-engine/internal/domain"
	"github.com/segyhp/loan-engine/internal/lock"
	"github.com/segyhp/loan-engine/internal/repository"
	customError "github.com/segyhp/loan-engine/pkg/errors"
	"github.com/segyhp/loan-engine/pkg/utils"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type CreateLoanCommand struct {
	Request domain.CreateLoanRequest
	Admin   string
}

type ApproveLoanCommand struct {
	LoanID    string
	Admin     string
	Notes     string
	RequestID string
}

type RejectLoanCommand struct {
	LoanID string
	Admin  string
	Reason string
}

// LoanService drives the loan state machine
type LoanService struct {
	deps      Dependencies
	gate      *DepositGate
	disburser *Disburser
	audit     *AuditRecorder
	logger    *zap.Logger
}

func NewLoanService(deps Dependencies) *LoanService {
	deps = deps.withDefaults()
	return &LoanService{
		deps:      deps,
		gate:      NewDepositGate(deps.Repos.Loans, deps.Repos.Deposits, deps.Policy.RequiredConfirmations),
		disburser: NewDisburser(deps.Policy.FirstPaymentDays),
		audit:     NewAuditRecorder(deps.Clock),
		logger:    deps.Logger.Named("loan_service"),
	}
}

// Gate exposes the deposit verification gate
func (s *LoanService) Gate() *DepositGate {
	return s.gate
}

// CreateLoan records a loan application in pending status
func (s *LoanService) CreateLoan(ctx context.Context, cmd CreateLoanCommand) (loan *domain.Loan, err error) {
	started := time.Now()
	defer func() { s.deps.Metrics.ObserveOperation("create_loan", outcome(err), started) }()

	req := cmd.Request
	if err := requireAdmin(cmd.Admin); err != nil {
		return nil, err
	}
	if err := validateCreateLoan(req); err != nil {
		return nil, err
	}

	now := s.deps.Clock()
	loan = &domain.Loan{
		ID:             uuid.New(),
		LoanID:         req.LoanID,
		AccountID:      req.AccountID,
		Principal:      req.Principal,
		InterestRate:   req.InterestRate,
		TermMonths:     req.TermMonths,
		Status:         domain.LoanStatusPending,
		MonthlyPayment: utils.CalculateMonthlyPayment(req.Principal, req.InterestRate, req.TermMonths),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if req.DepositRequired != nil {
		loan.DepositRequired = decimal.NewNullDecimal(*req.DepositRequired)
	}

	err = s.deps.UoW.WithinTx(ctx, func(r repository.Repos) error {
		// Check if loan already exists
		_, err := r.Loans.GetByLoanID(ctx, req.LoanID)
		if err == nil {
			return customError.WrapLoanAlreadyExists(req.LoanID)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		if err := r.Loans.Create(ctx, loan); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return customError.WrapLoanAlreadyExists(req.LoanID)
			}
			return err
		}
		return s.audit.Record(ctx, r.Audit, loan.LoanID, domain.AuditLoanCreated, cmd.Admin, nil, loan)
	})
	if err != nil {
		return nil, mapError(s.logger, req.LoanID, err)
	}

	s.logger.Info("loan created",
		zap.String("loan_id", loan.LoanID),
		zap.String("actor", cmd.Admin),
		zap.String("principal", loan.Principal.StringFixed(2)),
	)
	return loan, nil
}

func validateCreateLoan(req domain.CreateLoanRequest) error {
	switch {
	case strings.TrimSpace(req.LoanID) == "":
		return customError.WrapValidation("loan_id is required")
	case req.AccountID == uuid.Nil:
		return customError.WrapValidation("account_id is required")
	case !req.Principal.IsPositive():
		return customError.WrapValidation("principal must be greater than zero")
	case !req.Principal.Equal(utils.RoundMoney(req.Principal)):
		return customError.WrapValidation("principal must have at most two decimal places")
	case req.InterestRate.IsNegative():
		return customError.WrapValidation("interest_rate must not be negative")
	case req.TermMonths <= 0:
		return customError.WrapValidation("term_months must be greater than zero")
	case req.DepositRequired != nil && req.DepositRequired.IsNegative():
		return customError.WrapValidation("deposit_required must not be negative")
	}
	return nil
}

// Approve moves a pending loan through approved to active, disbursing the principal in
// the same transaction. A failed gate or disbursement leaves the loan pending.
// Re-sending the RequestID of a successful approval returns the active loan.
func (s *LoanService) Approve(ctx context.Context, cmd ApproveLoanCommand) (result *domain.Loan, err error) {
	started := time.Now()
	defer func() { s.deps.Metrics.ObserveOperation("approve_loan", outcome(err), started) }()

	if err := requireAdmin(cmd.Admin); err != nil {
		return nil, err
	}

	var receipt *domain.Receipt
	replayed := false
	err = s.deps.Locker.WithLock(ctx, lock.LoanKey(cmd.LoanID), func(ctx context.Context) error {
		return s.deps.UoW.WithinLoanTx(ctx, cmd.LoanID, func(r repository.Repos, loan *domain.Loan) error {
			if cmd.RequestID != "" && loan.ApprovalRequestID != nil && *loan.ApprovalRequestID == cmd.RequestID {
				result, replayed = loan, true
				return nil
			}
			if loan.Status != domain.LoanStatusPending {
				return customError.WrapInvalidStateTransition("loan", loan.LoanID, string(loan.Status), "approve")
			}

			verified, err := s.gate.Check(ctx, r.Deposits, loan)
			if err != nil {
				return err
			}
			if !verified {
				return customError.WrapDepositNotVerified(loan.LoanID)
			}

			before := loan.Clone()
			now := s.deps.Clock()

			transitions := []domain.LoanStatus{domain.LoanStatusApproved, domain.LoanStatusActive}
			loan.Status = domain.LoanStatusApproved
			loan.ApprovalNotes = cmd.Notes

			receipt, err = s.disburser.Disburse(ctx, r, loan, now)
			if err != nil {
				return err
			}
			loan.Status = domain.LoanStatusActive
			loan.UpdatedAt = now
			if cmd.RequestID != "" {
				requestID := cmd.RequestID
				loan.ApprovalRequestID = &requestID
			}

			if err := r.Loans.Update(ctx, loan); err != nil {
				return err
			}

			after := map[string]interface{}{
				"transitions":  transitions,
				"loan":         loan,
				"disbursement": receipt,
			}
			if err := s.audit.Record(ctx, r.Audit, loan.LoanID, domain.AuditLoanApprovedDisbursed, cmd.Admin, before, after); err != nil {
				return err
			}

			result = loan
			return nil
		})
	})
	if err != nil {
		s.logger.Info("loan approval refused", zap.String("loan_id", cmd.LoanID), zap.String("actor", cmd.Admin), zap.Error(err))
		return nil, mapError(s.logger, cmd.LoanID, err)
	}

	if replayed {
		s.logger.Info("loan approval replayed", zap.String("loan_id", result.LoanID), zap.String("request_id", cmd.RequestID))
		return result, nil
	}

	s.invalidate(ctx, result.LoanID)
	s.deps.Metrics.ObserveDisbursement(result.Principal)
	s.logger.Info("loan approved and disbursed",
		zap.String("loan_id", result.LoanID),
		zap.String("actor", cmd.Admin),
		zap.String("request_id", cmd.RequestID),
		zap.String("transaction_id", receipt.TransactionID.String()),
		zap.String("monthly_payment", result.MonthlyPayment.StringFixed(2)),
	)
	return result, nil
}

// Reject closes a pending application with a reason
func (s *LoanService) Reject(ctx context.Context, cmd RejectLoanCommand) (result *domain.Loan, err error) {
	started := time.Now()
	defer func() { s.deps.Metrics.ObserveOperation("reject_loan", outcome(err), started) }()

	if err := requireAdmin(cmd.Admin); err != nil {
		return nil, err
	}
	reason := strings.TrimSpace(cmd.Reason)
	if reason == "" {
		return nil, customError.WrapValidation("rejection reason is required")
	}

	err = s.deps.Locker.WithLock(ctx, lock.LoanKey(cmd.LoanID), func(ctx context.Context) error {
		return s.deps.UoW.WithinLoanTx(ctx, cmd.LoanID, func(r repository.Repos, loan *domain.Loan) error {
			if !loan.Status.CanTransition(domain.LoanStatusRejected) {
				return customError.WrapInvalidStateTransition("loan", loan.LoanID, string(loan.Status), "reject")
			}

			before := loan.Clone()
			loan.Status = domain.LoanStatusRejected
			loan.RejectionReason = reason
			loan.UpdatedAt = s.deps.Clock()

			if err := r.Loans.Update(ctx, loan); err != nil {
				return err
			}
			if err := s.audit.Record(ctx, r.Audit, loan.LoanID, domain.AuditLoanRejected, cmd.Admin, before, loan); err != nil {
				return err
			}

			result = loan
			return nil
		})
	})
	if err != nil {
		return nil, mapError(s.logger, cmd.LoanID, err)
	}

	s.invalidate(ctx, result.LoanID)
	s.logger.Info("loan rejected", zap.String("loan_id", result.LoanID), zap.String("actor", cmd.Admin))
	return result, nil
}

// GetLoanDetail returns the loan with its payments, schedule, deposit status and recent audit
func (s *LoanService) GetLoanDetail(ctx context.Context, loanID string) (*domain.LoanDetail, error) {
	// the generation is taken before any read so a concurrent invalidation retires what we store
	gen, err := s.deps.Cache.Generation(ctx, loanID)
	cacheable := err == nil
	if err != nil {
		s.logger.Warn("loan cache read failed", zap.String("loan_id", loanID), zap.Error(err))
	}

	if cacheable {
		detail, err := s.deps.Cache.Get(ctx, loanID, gen)
		if err == nil {
			return detail, nil
		}
		if !errors.Is(err, cache.ErrMiss) {
			s.logger.Warn("loan cache read failed", zap.String("loan_id", loanID), zap.Error(err))
		}
	}

	repos := s.deps.Repos
	loan, err := repos.Loans.GetByLoanID(ctx, loanID)
	if err != nil {
		return nil, mapError(s.logger, loanID, err)
	}

	payments, err := repos.Payments.GetByLoanID(ctx, loanID)
	if err != nil {
		return nil, mapError(s.logger, loanID, err)
	}

	schedule, err := repos.Loans.GetScheduleByLoanID(ctx, loanID)
	if err != nil {
		return nil, mapError(s.logger, loanID, err)
	}

	deposit, err := s.gate.Status(ctx, repos.Deposits, loan)
	if err != nil {
		return nil, mapError(s.logger, loanID, err)
	}

	audit, err := repos.Audit.ListBySubject(ctx, loanID, s.deps.Policy.AuditRecentLimit)
	if err != nil {
		return nil, mapError(s.logger, loanID, err)
	}

	detail := &domain.LoanDetail{
		Loan:        loan,
		Payments:    payments,
		Schedule:    schedule,
		Deposit:     deposit,
		RecentAudit: audit,
	}

	if !cacheable {
		return detail, nil
	}
	if err := s.deps.Cache.Set(ctx, loanID, gen, detail); err != nil {
		s.logger.Warn("loan cache write failed", zap.String("loan_id", loanID), zap.Error(err))
	}
	return detail, nil
}

func (s *LoanService) invalidate(ctx context.Context, loanID string) {
	invalidate(ctx, s.deps.Cache, s.logger, loanID)
}

func invalidate(ctx context.Context, c cache.LoanCache, logger *zap.Logger, loanID string) {
	if err := c.Invalidate(context.WithoutCancel(ctx), loanID); err != nil {
		logger.Warn("loan cache invalidation failed", zap.String("loan_id", loanID), zap.Error(err))
	}
}
