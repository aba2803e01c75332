package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/segyhp/loan-engine/internal/cache"
	"github.com/segyhp/loan-engine/internal/config"
	"github.com/segyhp/loan-engine/internal/lock"
	"github.com/segyhp/loan-engine/internal/metrics"
	"github.com/segyhp/loan-engine/internal/repository"
	customError "github.com/segyhp/loan-engine/pkg/errors"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Policy holds the configurable business rules
type Policy struct {
	FirstPaymentDays      int
	LateFeeGraceDays      int
	LateFeeFlat           decimal.Decimal
	LateFeePercent        decimal.Decimal
	RequiredConfirmations int
	AuditRecentLimit      int
}

// PolicyFromConfig reads the business section of the configuration
func PolicyFromConfig(cfg *config.Config) Policy {
	return Policy{
		FirstPaymentDays:      cfg.Business.FirstPaymentDays,
		LateFeeGraceDays:      cfg.Business.LateFeeGraceDays,
		LateFeeFlat:           cfg.GetLateFeeFlat(),
		LateFeePercent:        cfg.GetLateFeePercent(),
		RequiredConfirmations: cfg.Business.RequiredConfirmations,
		AuditRecentLimit:      cfg.Business.AuditRecentLimit,
	}
}

// Dependencies are shared by the loan and payment services.
// UoW and Repos are required; the rest fall back to no-op implementations.
type Dependencies struct {
	UoW     repository.UnitOfWork
	Repos   repository.Repos
	Policy  Policy
	Locker  lock.Locker
	Cache   cache.LoanCache
	Metrics *metrics.Metrics
	Logger  *zap.Logger
	Clock   func() time.Time
}

func (d Dependencies) withDefaults() Dependencies {
	if d.Locker == nil {
		d.Locker = lock.Noop{}
	}
	if d.Cache == nil {
		d.Cache = cache.Noop{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Clock == nil {
		d.Clock = func() time.Time { return time.Now().UTC() }
	}
	return d
}

// mapError turns store and lock failures into business errors. Business errors pass through.
// A remaining sql.ErrNoRows can only come from the loan lookup of WithinLoanTx.
func mapError(logger *zap.Logger, loanID string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := customError.AsBusinessError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, sql.ErrNoRows):
		return customError.WrapLoanNotFound(loanID)
	case errors.Is(err, repository.ErrConflict), errors.Is(err, lock.ErrNotAcquired):
		logger.Warn("concurrent modification", zap.String("loan_id", loanID), zap.Error(err))
		return customError.WrapConcurrencyConflict(loanID, err)
	default:
		logger.Error("data store failure", zap.String("loan_id", loanID), zap.Error(err))
		return customError.WrapDatabaseError(err)
	}
}

func outcome(err error) string {
	if err == nil {
		return metrics.OutcomeSuccess
	}
	if be, ok := customError.AsBusinessError(err); ok && be.Kind() == customError.KindBusiness {
		return metrics.OutcomeRejected
	}
	return metrics.OutcomeError
}

func requireAdmin(admin string) error {
	if admin == "" {
		return customError.WrapValidation("acting admin is required")
	}
	return nil
}
