package service

import (
	"context"
	"fmt"
	"time"

	"github.com/segyhp/loan-engine/internal/domain"
	"github.com/segyhp/loan-engine/internal/metrics"
	"github.com/segyhp/loan-engine/internal/repository"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Reconciliation checks
const (
	CheckMissingDisbursement   = "missing_disbursement"
	CheckDuplicateDisbursement = "duplicate_disbursement"
	CheckDisbursementAmount    = "disbursement_amount"
	CheckOrphanDisbursement    = "orphan_disbursement"
	CheckBalanceRange          = "balance_range"
	CheckClosedBalance         = "closed_balance"
	CheckPrincipalLedger       = "principal_ledger"
	CheckPaymentAllocation     = "payment_allocation"
)

type Discrepancy struct {
	LoanID string `json:"loan_id"`
	Check  string `json:"check"`
	Detail string `json:"detail"`
}

type ReconcileReport struct {
	StartedAt     time.Time     `json:"started_at"`
	FinishedAt    time.Time     `json:"finished_at"`
	LoansChecked  int           `json:"loans_checked"`
	Discrepancies []Discrepancy `json:"discrepancies"`
}

// Reconciler compares the disbursement ledger with disbursed loans and re-checks the
// balance invariants. It only reads and reports.
type Reconciler struct {
	repos   repository.Repos
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

func NewReconciler(deps Dependencies) *Reconciler {
	deps = deps.withDefaults()
	return &Reconciler{
		repos:   deps.Repos,
		metrics: deps.Metrics,
		logger:  deps.Logger.Named("reconciler"),
		now:     deps.Clock,
	}
}

func (rc *Reconciler) Run(ctx context.Context) (*ReconcileReport, error) {
	report := &ReconcileReport{StartedAt: rc.now()}

	disbursements, err := rc.repos.Accounts.ListTransactionsByKind(ctx, domain.TransactionLoanDisbursement)
	if err != nil {
		return nil, fmt.Errorf("list disbursements: %w", err)
	}
	byLoan := make(map[string][]*domain.AccountTransaction)
	for _, txn := range disbursements {
		byLoan[txn.Reference] = append(byLoan[txn.Reference], txn)
	}

	seen := make(map[string]bool)
	for _, status := range []domain.LoanStatus{domain.LoanStatusActive, domain.LoanStatusClosed} {
		loans, err := rc.repos.Loans.ListByStatus(ctx, status)
		if err != nil {
			return nil, fmt.Errorf("list %s loans: %w", status, err)
		}

		for _, loan := range loans {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			seen[loan.LoanID] = true
			report.LoansChecked++

			rc.checkDisbursement(report, loan, byLoan[loan.LoanID])
			rc.checkBalance(report, loan)
			if err := rc.checkPayments(ctx, report, loan); err != nil {
				return nil, err
			}
		}
	}

	for loanID, txns := range byLoan {
		if !seen[loanID] {
			rc.add(report, loanID, CheckOrphanDisbursement,
				fmt.Sprintf("%d disbursement(s) for a loan that is neither active nor closed", len(txns)))
		}
	}

	report.FinishedAt = rc.now()
	rc.logger.Info("reconciliation finished",
		zap.Int("loans_checked", report.LoansChecked),
		zap.Int("discrepancies", len(report.Discrepancies)),
		zap.Duration("took", report.FinishedAt.Sub(report.StartedAt)),
	)
	return report, nil
}

func (rc *Reconciler) checkDisbursement(report *ReconcileReport, loan *domain.Loan, txns []*domain.AccountTransaction) {
	switch len(txns) {
	case 0:
		rc.add(report, loan.LoanID, CheckMissingDisbursement, "no disbursement ledger row")
		return
	case 1:
	default:
		rc.add(report, loan.LoanID, CheckDuplicateDisbursement, fmt.Sprintf("%d disbursement ledger rows", len(txns)))
	}

	if !txns[0].Amount.Equal(loan.Principal) {
		rc.add(report, loan.LoanID, CheckDisbursementAmount,
			fmt.Sprintf("credited %s, principal %s", txns[0].Amount.StringFixed(2), loan.Principal.StringFixed(2)))
	}
}

func (rc *Reconciler) checkBalance(report *ReconcileReport, loan *domain.Loan) {
	if loan.RemainingBalance.IsNegative() || loan.RemainingBalance.GreaterThan(loan.Principal) {
		rc.add(report, loan.LoanID, CheckBalanceRange,
			fmt.Sprintf("balance %s outside [0, %s]", loan.RemainingBalance.StringFixed(2), loan.Principal.StringFixed(2)))
	}

	closed := loan.Status == domain.LoanStatusClosed
	if closed != loan.RemainingBalance.IsZero() {
		rc.add(report, loan.LoanID, CheckClosedBalance,
			fmt.Sprintf("status %s with balance %s", loan.Status, loan.RemainingBalance.StringFixed(2)))
	}
}

func (rc *Reconciler) checkPayments(ctx context.Context, report *ReconcileReport, loan *domain.Loan) error {
	payments, err := rc.repos.Payments.GetByLoanID(ctx, loan.LoanID)
	if err != nil {
		return fmt.Errorf("list payments of %s: %w", loan.LoanID, err)
	}

	repaid := decimal.Zero
	for _, p := range payments {
		if p.Status != domain.PaymentStatusCompleted {
			continue
		}
		if !p.Amount.Equal(p.PrincipalAmount.Add(p.InterestAmount).Add(p.LateFee)) {
			rc.add(report, loan.LoanID, CheckPaymentAllocation, fmt.Sprintf("payment %s does not add up", p.ID))
		}
		repaid = repaid.Add(p.PrincipalAmount)
	}

	if expected := loan.Principal.Sub(loan.RemainingBalance); !repaid.Equal(expected) {
		rc.add(report, loan.LoanID, CheckPrincipalLedger,
			fmt.Sprintf("payments repaid %s, balance implies %s", repaid.StringFixed(2), expected.StringFixed(2)))
	}
	return nil
}

func (rc *Reconciler) add(report *ReconcileReport, loanID, check, detail string) {
	report.Discrepancies = append(report.Discrepancies, Discrepancy{LoanID: loanID, Check: check, Detail: detail})
	rc.metrics.ObserveDiscrepancy(check)
	rc.logger.Warn("reconciliation discrepancy",
		zap.String("loan_id", loanID),
		zap.String("check", check),
		zap.String("detail", detail),
	)
}
