package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segyhp/loan-engine/internal/domain"
	"github.com/segyhp/loan-engine/internal/repository/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const testAdmin = "admin-1"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	store    *memory.Store
	clock    *fakeClock
	loans    *LoanService
	payments *PaymentService
	deps     Dependencies
}

func testPolicy() Policy {
	return Policy{
		FirstPaymentDays:      30,
		LateFeeGraceDays:      5,
		LateFeeFlat:           decimal.RequireFromString("25.00"),
		LateFeePercent:        decimal.Zero,
		RequiredConfirmations: 3,
		AuditRecentLimit:      20,
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := memory.NewStore()
	clock := &fakeClock{now: time.Date(2025, time.January, 15, 10, 0, 0, 0, time.UTC)}
	deps := Dependencies{
		UoW:    store,
		Repos:  store.Repos(),
		Policy: testPolicy(),
		Logger: zaptest.NewLogger(t),
		Clock:  clock.Now,
	}

	return &fixture{
		store:    store,
		clock:    clock,
		loans:    NewLoanService(deps),
		payments: NewPaymentService(deps),
		deps:     deps,
	}
}

func (f *fixture) seedAccount(t *testing.T, status domain.AccountStatus) uuid.UUID {
	t.Helper()

	account := &domain.Account{
		ID:        uuid.New(),
		Status:    status,
		Balance:   decimal.Zero,
		Currency:  "USD",
		CreatedAt: f.clock.Now(),
		UpdatedAt: f.clock.Now(),
	}
	require.NoError(t, f.store.Repos().Accounts.Create(context.Background(), account))
	return account.ID
}

func (f *fixture) account(t *testing.T, id uuid.UUID) *domain.Account {
	t.Helper()

	account, err := f.store.Repos().Accounts.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return account
}

func (f *fixture) loan(t *testing.T, loanID string) *domain.Loan {
	t.Helper()

	loan, err := f.store.Repos().Loans.GetByLoanID(context.Background(), loanID)
	require.NoError(t, err)
	return loan
}

func (f *fixture) audit(t *testing.T, loanID string) []*domain.AuditEntry {
	t.Helper()

	entries, err := f.store.Repos().Audit.ListBySubject(context.Background(), loanID, 0)
	require.NoError(t, err)
	return entries
}

func (f *fixture) auditActions(t *testing.T, loanID string) []string {
	t.Helper()

	var actions []string
	for _, e := range f.audit(t, loanID) {
		actions = append(actions, e.Action)
	}
	return actions
}

// createLoan submits a 12,000 / 6% / 12 month application
func (f *fixture) createLoan(t *testing.T, loanID string, accountID uuid.UUID, deposit *decimal.Decimal) *domain.Loan {
	t.Helper()

	return f.createLoanWith(t, domain.CreateLoanRequest{
		LoanID:          loanID,
		AccountID:       accountID,
		Principal:       decimal.NewFromInt(12000),
		InterestRate:    decimal.NewFromInt(6),
		TermMonths:      12,
		DepositRequired: deposit,
	})
}

func (f *fixture) createLoanWith(t *testing.T, req domain.CreateLoanRequest) *domain.Loan {
	t.Helper()

	loan, err := f.loans.CreateLoan(context.Background(), CreateLoanCommand{Request: req, Admin: testAdmin})
	require.NoError(t, err)
	return loan
}

// activeLoan creates and disburses the standard loan
func (f *fixture) activeLoan(t *testing.T, loanID string) (*domain.Loan, uuid.UUID) {
	t.Helper()

	accountID := f.seedAccount(t, domain.AccountStatusActive)
	f.createLoan(t, loanID, accountID, nil)

	loan, err := f.loans.Approve(context.Background(), ApproveLoanCommand{LoanID: loanID, Admin: testAdmin})
	require.NoError(t, err)
	return loan, accountID
}

func (f *fixture) pay(t *testing.T, loanID string, amount string, paymentType domain.PaymentType) *domain.Payment {
	t.Helper()

	payment, err := f.payments.RecordPayment(context.Background(), RecordPaymentCommand{
		LoanID:      loanID,
		Amount:      decimal.RequireFromString(amount),
		PaymentType: paymentType,
		Admin:       testAdmin,
	})
	require.NoError(t, err)
	return payment
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func assertDecimal(t *testing.T, expected string, actual decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	require.Truef(t, dec(expected).Equal(actual), "expected %s, got %s %v", expected, actual.String(), msgAndArgs)
}
