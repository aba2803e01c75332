// Package memory is an in-process implementation of the repository interfaces.
// Writes made inside a unit of work are buffered and applied atomically on commit;
// WithinLoanTx serializes work on the same loan id.
package memory

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segyhp/loan-engine/internal/domain"
	"github.com/segyhp/loan-engine/internal/repository"
	"github.com/shopspring/decimal"
)

var _ repository.UnitOfWork = (*Store)(nil)

type Store struct {
	mu        sync.Mutex
	loanLocks map[string]*sync.Mutex

	loans        map[string]*domain.Loan
	schedules    map[string][]*domain.LoanSchedule
	payments     map[uuid.UUID]*domain.Payment
	deposits     map[string]*domain.DepositRecord
	accounts     map[uuid.UUID]*domain.Account
	transactions []*domain.AccountTransaction
	audit        []*domain.AuditEntry

	creditErr error
}

func NewStore() *Store {
	return &Store{
		loanLocks: make(map[string]*sync.Mutex),
		loans:     make(map[string]*domain.Loan),
		schedules: make(map[string][]*domain.LoanSchedule),
		payments:  make(map[uuid.UUID]*domain.Payment),
		deposits:  make(map[string]*domain.DepositRecord),
		accounts:  make(map[uuid.UUID]*domain.Account),
	}
}

// FailCredits makes every subsequent Credit return err (nil restores normal behaviour)
func (s *Store) FailCredits(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creditErr = err
}

// Repos returns repositories whose writes commit immediately
func (s *Store) Repos() repository.Repos {
	return newTx(s, true).repos()
}

func (s *Store) WithinTx(ctx context.Context, fn func(r repository.Repos) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t := newTx(s, false)
	if err := fn(t.repos()); err != nil {
		return err
	}
	return t.commit()
}

func (s *Store) WithinLoanTx(ctx context.Context, loanID string, fn func(r repository.Repos, loan *domain.Loan) error) error {
	lock := s.loanLock(loanID)
	lock.Lock()
	defer lock.Unlock()

	return s.WithinTx(ctx, func(r repository.Repos) error {
		loan, err := r.Loans.GetByLoanIDForUpdate(ctx, loanID)
		if err != nil {
			return err
		}
		return fn(r, loan)
	})
}

func (s *Store) loanLock(loanID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.loanLocks[loanID]
	if !ok {
		lock = &sync.Mutex{}
		s.loanLocks[loanID] = lock
	}
	return lock
}

// tx buffers writes until commit
type tx struct {
	s    *Store
	auto bool

	loans        map[string]*domain.Loan
	loanBase     map[string]int64
	newLoans     map[string]bool
	schedules    map[string][]*domain.LoanSchedule
	payments     map[uuid.UUID]*domain.Payment
	deposits     map[string]*domain.DepositRecord
	accounts     map[uuid.UUID]*domain.Account
	newAccounts  map[uuid.UUID]*domain.Account
	credits      map[uuid.UUID]decimal.Decimal
	transactions []*domain.AccountTransaction
	audit        []*domain.AuditEntry
}

func newTx(s *Store, auto bool) *tx {
	return &tx{
		s:         s,
		auto:      auto,
		loans:     make(map[string]*domain.Loan),
		loanBase:  make(map[string]int64),
		newLoans:  make(map[string]bool),
		schedules: make(map[string][]*domain.LoanSchedule),
		payments:  make(map[uuid.UUID]*domain.Payment),
		deposits:  make(map[string]*domain.DepositRecord),
		accounts:  make(map[uuid.UUID]*domain.Account),

		newAccounts: make(map[uuid.UUID]*domain.Account),
		credits:     make(map[uuid.UUID]decimal.Decimal),
	}
}

func (t *tx) repos() repository.Repos {
	return repository.Repos{
		Loans:    &loanRepo{t: t},
		Payments: &paymentRepo{t: t},
		Deposits: &depositRepo{t: t},
		Accounts: &accountRepo{t: t},
		Audit:    &auditRepo{t: t},
	}
}

// written applies a write immediately when the tx is in autocommit mode
func (t *tx) written() error {
	if !t.auto {
		return nil
	}
	err := t.commit()
	*t = *newTx(t.s, true)
	return err
}

func (t *tx) commit() error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, base := range t.loanBase {
		if t.newLoans[id] {
			if _, exists := s.loans[id]; exists {
				return repository.ErrConflict
			}
			continue
		}
		current, ok := s.loans[id]
		if !ok || current.Version != base {
			return repository.ErrConflict
		}
	}

	for id, loan := range t.loans {
		s.loans[id] = loan.Clone()
	}
	for id, rows := range t.schedules {
		s.schedules[id] = cloneSchedules(rows)
	}
	for id, payment := range t.payments {
		s.payments[id] = payment.Clone()
	}
	for id, deposit := range t.deposits {
		d := *deposit
		s.deposits[id] = &d
	}
	for id, account := range t.newAccounts {
		a := *account
		s.accounts[id] = &a
	}
	// credits are applied as deltas so concurrent units of work on different loans of
	// the same account do not overwrite each other
	for id, amount := range t.credits {
		if account, ok := s.accounts[id]; ok {
			account.Balance = account.Balance.Add(amount)
		}
	}
	s.transactions = append(s.transactions, t.transactions...)
	s.audit = append(s.audit, t.audit...)

	return nil
}

func (t *tx) loan(loanID string) (*domain.Loan, bool) {
	if loan, ok := t.loans[loanID]; ok {
		return loan.Clone(), true
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	loan, ok := t.s.loans[loanID]
	if !ok {
		return nil, false
	}
	return loan.Clone(), true
}

func (t *tx) payment(id uuid.UUID) (*domain.Payment, bool) {
	if p, ok := t.payments[id]; ok {
		return p.Clone(), true
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	p, ok := t.s.payments[id]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

func (t *tx) account(id uuid.UUID) (*domain.Account, bool) {
	if a, ok := t.accounts[id]; ok {
		c := *a
		return &c, true
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	a, ok := t.s.accounts[id]
	if !ok {
		return nil, false
	}
	c := *a
	return &c, true
}

// allPayments merges committed and buffered payments
func (t *tx) allPayments() []*domain.Payment {
	t.s.mu.Lock()
	merged := make(map[uuid.UUID]*domain.Payment, len(t.s.payments))
	for id, p := range t.s.payments {
		merged[id] = p.Clone()
	}
	t.s.mu.Unlock()

	for id, p := range t.payments {
		merged[id] = p.Clone()
	}

	out := make([]*domain.Payment, 0, len(merged))
	for _, p := range merged {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func cloneSchedules(rows []*domain.LoanSchedule) []*domain.LoanSchedule {
	out := make([]*domain.LoanSchedule, len(rows))
	for i, row := range rows {
		r := *row
		out[i] = &r
	}
	return out
}

type loanRepo struct{ t *tx }

func (r *loanRepo) Create(_ context.Context, loan *domain.Loan) error {
	if _, exists := r.t.loan(loan.LoanID); exists {
		return repository.ErrConflict
	}
	r.t.loans[loan.LoanID] = loan.Clone()
	r.t.loanBase[loan.LoanID] = loan.Version
	r.t.newLoans[loan.LoanID] = true
	return r.t.written()
}

func (r *loanRepo) GetByLoanID(_ context.Context, loanID string) (*domain.Loan, error) {
	loan, ok := r.t.loan(loanID)
	if !ok {
		return nil, sql.ErrNoRows
	}
	return loan, nil
}

func (r *loanRepo) GetByLoanIDForUpdate(ctx context.Context, loanID string) (*domain.Loan, error) {
	return r.GetByLoanID(ctx, loanID)
}

func (r *loanRepo) Update(_ context.Context, loan *domain.Loan) error {
	current, ok := r.t.loan(loan.LoanID)
	if !ok || current.Version != loan.Version {
		return repository.ErrConflict
	}
	if _, tracked := r.t.loanBase[loan.LoanID]; !tracked {
		r.t.loanBase[loan.LoanID] = current.Version
	}

	loan.Version++

	updated := loan.Clone()
	updated.Principal = current.Principal
	r.t.loans[loan.LoanID] = updated
	return r.t.written()
}

func (r *loanRepo) ListByStatus(_ context.Context, status domain.LoanStatus) ([]*domain.Loan, error) {
	r.t.s.mu.Lock()
	defer r.t.s.mu.Unlock()

	var out []*domain.Loan
	for _, loan := range r.t.s.loans {
		if loan.Status == status {
			out = append(out, loan.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LoanID < out[j].LoanID })
	return out, nil
}

func (r *loanRepo) CreateSchedule(ctx context.Context, schedules []*domain.LoanSchedule) error {
	for _, row := range schedules {
		current, err := r.GetScheduleByLoanID(ctx, row.LoanID)
		if err != nil {
			return err
		}
		c := *row
		r.t.schedules[row.LoanID] = append(current, &c)
	}
	return r.t.written()
}

func (r *loanRepo) GetScheduleByLoanID(_ context.Context, loanID string) ([]*domain.LoanSchedule, error) {
	if rows, ok := r.t.schedules[loanID]; ok {
		return cloneSchedules(rows), nil
	}
	r.t.s.mu.Lock()
	defer r.t.s.mu.Unlock()
	return cloneSchedules(r.t.s.schedules[loanID]), nil
}

func (r *loanRepo) UpdateScheduleStatus(ctx context.Context, loanID string, installmentNumber int, status string) error {
	rows, err := r.GetScheduleByLoanID(ctx, loanID)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if row.InstallmentNumber == installmentNumber {
			row.Status = status
		}
	}
	r.t.schedules[loanID] = rows
	return r.t.written()
}

type paymentRepo struct{ t *tx }

func (r *paymentRepo) Create(_ context.Context, payment *domain.Payment) error {
	if _, exists := r.t.payment(payment.ID); exists {
		return repository.ErrConflict
	}
	r.t.payments[payment.ID] = payment.Clone()
	return r.t.written()
}

func (r *paymentRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Payment, error) {
	p, ok := r.t.payment(id)
	if !ok {
		return nil, sql.ErrNoRows
	}
	return p, nil
}

func (r *paymentRepo) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	return r.GetByID(ctx, id)
}

func (r *paymentRepo) GetByRequestID(_ context.Context, loanID string, requestID string) (*domain.Payment, error) {
	for _, p := range r.t.allPayments() {
		if p.LoanID == loanID && p.RequestID != nil && *p.RequestID == requestID {
			return p, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (r *paymentRepo) GetByLoanID(_ context.Context, loanID string) ([]*domain.Payment, error) {
	var out []*domain.Payment
	for _, p := range r.t.allPayments() {
		if p.LoanID == loanID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *paymentRepo) Update(_ context.Context, payment *domain.Payment) error {
	current, ok := r.t.payment(payment.ID)
	if !ok || current.Status != domain.PaymentStatusPending {
		return repository.ErrConflict
	}
	r.t.payments[payment.ID] = payment.Clone()
	return r.t.written()
}

type depositRepo struct{ t *tx }

func (r *depositRepo) Create(_ context.Context, deposit *domain.DepositRecord) error {
	d := *deposit
	r.t.deposits[deposit.LoanID] = &d
	return r.t.written()
}

func (r *depositRepo) GetDepositStatus(_ context.Context, loanID string) (*domain.DepositRecord, error) {
	if d, ok := r.t.deposits[loanID]; ok {
		c := *d
		return &c, nil
	}
	r.t.s.mu.Lock()
	defer r.t.s.mu.Unlock()
	d, ok := r.t.s.deposits[loanID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	c := *d
	return &c, nil
}

type accountRepo struct{ t *tx }

func (r *accountRepo) Create(_ context.Context, account *domain.Account) error {
	a := *account
	r.t.accounts[account.ID] = &a
	n := *account
	r.t.newAccounts[account.ID] = &n
	return r.t.written()
}

func (r *accountRepo) GetAccount(_ context.Context, accountID uuid.UUID) (*domain.Account, error) {
	a, ok := r.t.account(accountID)
	if !ok {
		return nil, sql.ErrNoRows
	}
	return a, nil
}

func (r *accountRepo) Credit(_ context.Context, accountID uuid.UUID, amount decimal.Decimal, kind string, reference string) (*domain.Receipt, error) {
	r.t.s.mu.Lock()
	failure := r.t.s.creditErr
	r.t.s.mu.Unlock()
	if failure != nil {
		return nil, failure
	}

	account, ok := r.t.account(accountID)
	if !ok || !account.InGoodStanding() {
		return nil, repository.ErrAccountNotCreditable
	}

	now := time.Now().UTC()
	account.Balance = account.Balance.Add(amount)
	account.UpdatedAt = now
	r.t.accounts[accountID] = account
	r.t.credits[accountID] = r.t.credits[accountID].Add(amount)

	txn := &domain.AccountTransaction{
		ID:           uuid.New(),
		AccountID:    accountID,
		Kind:         kind,
		Reference:    reference,
		Amount:       amount,
		BalanceAfter: account.Balance,
		CreatedAt:    now,
	}
	r.t.transactions = append(r.t.transactions, txn)

	if err := r.t.written(); err != nil {
		return nil, err
	}
	return &domain.Receipt{
		TransactionID: txn.ID,
		AccountID:     accountID,
		Amount:        amount,
		BalanceAfter:  account.Balance,
	}, nil
}

func (r *accountRepo) ListTransactionsByKind(_ context.Context, kind string) ([]*domain.AccountTransaction, error) {
	r.t.s.mu.Lock()
	defer r.t.s.mu.Unlock()

	var out []*domain.AccountTransaction
	for _, txn := range r.t.s.transactions {
		if txn.Kind == kind {
			c := *txn
			out = append(out, &c)
		}
	}
	return out, nil
}

type auditRepo struct{ t *tx }

func (r *auditRepo) Append(_ context.Context, entry *domain.AuditEntry) error {
	e := *entry
	r.t.audit = append(r.t.audit, &e)
	return r.t.written()
}

func (r *auditRepo) ListBySubject(_ context.Context, subject string, limit int) ([]*domain.AuditEntry, error) {
	r.t.s.mu.Lock()
	defer r.t.s.mu.Unlock()

	var out []*domain.AuditEntry
	for i := len(r.t.s.audit) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if r.t.s.audit[i].Subject == subject {
			e := *r.t.s.audit[i]
			out = append(out, &e)
		}
	}
	return out, nil
}
