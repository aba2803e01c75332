package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segyhp/loan-engine/internal/domain"
	customError "github.com/segyhp/loan-engine/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordPayment_FirstPaymentScenario(t *testing.T) {
	f := newFixture(t)
	disbursed, _ := f.activeLoan(t, "LN-1")

	payment := f.pay(t, "LN-1", "1032.00", domain.PaymentTypeRegular)

	assert.Equal(t, domain.PaymentStatusCompleted, payment.Status)
	assertDecimal(t, "1032.00", payment.Amount)
	assertDecimal(t, "60.00", payment.InterestAmount)
	assertDecimal(t, "972.00", payment.PrincipalAmount)
	assertDecimal(t, "0", payment.LateFee)
	assertDecimal(t, "0", payment.RefundedAmount)
	require.True(t, payment.BalanceAfter.Valid)
	assertDecimal(t, "11028.00", payment.BalanceAfter.Decimal)

	loan := f.loan(t, "LN-1")
	assertDecimal(t, "11028.00", loan.RemainingBalance)
	assert.Equal(t, 1, loan.PaymentsMade)
	assert.Equal(t, domain.LoanStatusActive, loan.Status)
	assert.True(t, loan.NextPaymentDate.Equal(disbursed.NextPaymentDate.AddDate(0, 1, 0)))

	// 1032.00 falls short of the 1032.80 installment
	schedule, err := f.store.Repos().Loans.GetScheduleByLoanID(context.Background(), "LN-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ScheduleStatusPending, schedule[0].Status)

	entries := f.audit(t, "LN-1")
	assert.Equal(t, domain.AuditPaymentRecorded, entries[0].Action)
	assert.Contains(t, entries[0].After.String(), payment.ID.String())
}

func TestRecordPayment_InstallmentPaidOnceCovered(t *testing.T) {
	f := newFixture(t)
	f.activeLoan(t, "LN-1")

	statuses := func() []string {
		schedule, err := f.store.Repos().Loans.GetScheduleByLoanID(context.Background(), "LN-1")
		require.NoError(t, err)
		var out []string
		for _, row := range schedule[:4] {
			out = append(out, row.Status)
		}
		return out
	}
	pending, paid := domain.ScheduleStatusPending, domain.ScheduleStatusPaid

	payment := f.pay(t, "LN-1", "1.00", domain.PaymentTypeRegular)
	assertDecimal(t, "1.00", payment.InterestAmount)
	assertDecimal(t, "0", payment.PrincipalAmount)
	assert.Equal(t, []string{pending, pending, pending, pending}, statuses())

	f.pay(t, "LN-1", "1031.00", domain.PaymentTypeRegular)
	assert.Equal(t, []string{pending, pending, pending, pending}, statuses())

	f.pay(t, "LN-1", "0.80", domain.PaymentTypeRegular)
	assert.Equal(t, []string{paid, pending, pending, pending}, statuses())

	// 3532.80 applied in total covers three 1032.80 installments but not the fourth
	f.pay(t, "LN-1", "2500.00", domain.PaymentTypeRegular)
	assert.Equal(t, []string{paid, paid, paid, pending}, statuses())
}

func TestRecordPayment_PendingManualPaymentDoesNotCoverInstallments(t *testing.T) {
	f := newFixture(t)
	f.activeLoan(t, "LN-1")

	_, err := f.payments.RecordPayment(context.Background(), RecordPaymentCommand{
		LoanID: "LN-1", Amount: dec("1032.80"), PaymentType: domain.PaymentTypeManual, Admin: testAdmin,
	})
	require.NoError(t, err)
	f.pay(t, "LN-1", "500.00", domain.PaymentTypeRegular)

	schedule, err := f.store.Repos().Loans.GetScheduleByLoanID(context.Background(), "LN-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ScheduleStatusPending, schedule[0].Status)
}

func TestRecordPayment_LateFee(t *testing.T) {
	tests := []struct {
		name          string
		daysAfterDue  int
		wantFee       string
		wantPrincipal string
	}{
		{name: "on due date", daysAfterDue: 0, wantFee: "0", wantPrincipal: "972.00"},
		{name: "last day of grace", daysAfterDue: 5, wantFee: "0", wantPrincipal: "972.00"},
		{name: "past grace", daysAfterDue: 6, wantFee: "25.00", wantPrincipal: "947.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			loan, _ := f.activeLoan(t, "LN-1")
			asOf := loan.NextPaymentDate.AddDate(0, 0, tt.daysAfterDue)

			payment, err := f.payments.RecordPayment(context.Background(), RecordPaymentCommand{
				LoanID:      "LN-1",
				Amount:      dec("1032.00"),
				PaymentType: domain.PaymentTypeRegular,
				AsOf:        &asOf,
				Admin:       testAdmin,
			})
			require.NoError(t, err)

			assertDecimal(t, tt.wantFee, payment.LateFee)
			assertDecimal(t, "60.00", payment.InterestAmount)
			assertDecimal(t, tt.wantPrincipal, payment.PrincipalAmount)
			assert.True(t, payment.Amount.Equal(payment.LateFee.Add(payment.InterestAmount).Add(payment.PrincipalAmount)))
			assert.True(t, payment.PaymentDate.Equal(asOf))
		})
	}
}

func TestRecordPayment_NonPositiveAmount(t *testing.T) {
	for _, amount := range []string{"0", "-10.00"} {
		t.Run(amount, func(t *testing.T) {
			f := newFixture(t)
			f.activeLoan(t, "LN-1")

			_, err := f.payments.RecordPayment(context.Background(), RecordPaymentCommand{
				LoanID:      "LN-1",
				Amount:      dec(amount),
				PaymentType: domain.PaymentTypeRegular,
				Admin:       testAdmin,
			})

			requireCode(t, err, customError.ErrCodeOverpaymentNotAllowed)
			assert.ErrorIs(t, err, customError.ErrOverpaymentNotAllowed)
			assertDecimal(t, "12000", f.loan(t, "LN-1").RemainingBalance)
		})
	}
}

func TestRecordPayment_InvalidInput(t *testing.T) {
	f := newFixture(t)
	f.activeLoan(t, "LN-1")

	tests := []struct {
		name string
		cmd  RecordPaymentCommand
		code string
	}{
		{
			name: "sub-cent amount",
			cmd:  RecordPaymentCommand{LoanID: "LN-1", Amount: dec("10.005"), PaymentType: domain.PaymentTypeRegular, Admin: testAdmin},
			code: customError.ErrCodeValidation,
		},
		{
			name: "unknown type",
			cmd:  RecordPaymentCommand{LoanID: "LN-1", Amount: dec("10"), PaymentType: "cash", Admin: testAdmin},
			code: customError.ErrCodeValidation,
		},
		{
			name: "missing admin",
			cmd:  RecordPaymentCommand{LoanID: "LN-1", Amount: dec("10"), PaymentType: domain.PaymentTypeRegular},
			code: customError.ErrCodeValidation,
		},
		{
			name: "unknown loan",
			cmd:  RecordPaymentCommand{LoanID: "LN-404", Amount: dec("10"), PaymentType: domain.PaymentTypeRegular, Admin: testAdmin},
			code: customError.ErrCodeLoanNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.payments.RecordPayment(context.Background(), tt.cmd)
			requireCode(t, err, tt.code)
		})
	}

	assert.Equal(t, 0, f.loan(t, "LN-1").PaymentsMade)
}

func TestRecordPayment_LoanNotActive(t *testing.T) {
	f := newFixture(t)
	accountID := f.seedAccount(t, domain.AccountStatusActive)
	f.createLoan(t, "LN-P", accountID, nil)

	_, err := f.payments.RecordPayment(context.Background(), RecordPaymentCommand{
		LoanID:      "LN-P",
		Amount:      dec("100"),
		PaymentType: domain.PaymentTypeRegular,
		Admin:       testAdmin,
	})

	requireCode(t, err, customError.ErrCodeInvalidStateTransition)
	payments, err := f.store.Repos().Payments.GetByLoanID(context.Background(), "LN-P")
	require.NoError(t, err)
	assert.Empty(t, payments)
}

func TestRecordPayment_IdempotentRequest(t *testing.T) {
	f := newFixture(t)
	f.activeLoan(t, "LN-1")

	cmd := RecordPaymentCommand{
		LoanID:      "LN-1",
		Amount:      dec("1032.00"),
		PaymentType: domain.PaymentTypeAutoPayment,
		Admin:       testAdmin,
		RequestID:   "req-1",
	}

	first, err := f.payments.RecordPayment(context.Background(), cmd)
	require.NoError(t, err)
	second, err := f.payments.RecordPayment(context.Background(), cmd)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	loan := f.loan(t, "LN-1")
	assertDecimal(t, "11028.00", loan.RemainingBalance)
	assert.Equal(t, 1, loan.PaymentsMade)

	recorded := 0
	for _, action := range f.auditActions(t, "LN-1") {
		if action == domain.AuditPaymentRecorded {
			recorded++
		}
	}
	assert.Equal(t, 1, recorded)
}

func TestRecordPayment_OverpaymentIsRefunded(t *testing.T) {
	f := newFixture(t)
	_, accountID := f.activeLoan(t, "LN-1")

	payment := f.pay(t, "LN-1", "20000.00", domain.PaymentTypeRegular)

	assertDecimal(t, "60.00", payment.InterestAmount)
	assertDecimal(t, "12000.00", payment.PrincipalAmount)
	assertDecimal(t, "12060.00", payment.Amount)
	assertDecimal(t, "7940.00", payment.RefundedAmount)
	assertDecimal(t, "0", payment.BalanceAfter.Decimal)

	loan := f.loan(t, "LN-1")
	assert.Equal(t, domain.LoanStatusClosed, loan.Status)
	assert.True(t, loan.RemainingBalance.IsZero())
	require.NotNil(t, loan.ClosedAt)
	assert.True(t, loan.UpdatedAt.Equal(*loan.ClosedAt))
	assert.Nil(t, loan.NextPaymentDate)

	assertDecimal(t, "19940.00", f.account(t, accountID).Balance)
	refunds, err := f.store.Repos().Accounts.ListTransactionsByKind(context.Background(), domain.TransactionOverpaymentRefund)
	require.NoError(t, err)
	require.Len(t, refunds, 1)
	assertDecimal(t, "7940.00", refunds[0].Amount)

	schedule, err := f.store.Repos().Loans.GetScheduleByLoanID(context.Background(), "LN-1")
	require.NoError(t, err)
	for _, row := range schedule {
		assert.Equal(t, domain.ScheduleStatusPaid, row.Status)
	}

	_, err = f.payments.RecordPayment(context.Background(), RecordPaymentCommand{
		LoanID: "LN-1", Amount: dec("1"), PaymentType: domain.PaymentTypeRegular, Admin: testAdmin,
	})
	requireCode(t, err, customError.ErrCodeInvalidStateTransition)
}

func TestRecordPayment_EarlyPayoff(t *testing.T) {
	f := newFixture(t)
	f.activeLoan(t, "LN-1")

	_, err := f.payments.RecordPayment(context.Background(), RecordPaymentCommand{
		LoanID: "LN-1", Amount: dec("12059.99"), PaymentType: domain.PaymentTypeEarlyPayoff, Admin: testAdmin,
	})
	requireCode(t, err, customError.ErrCodeValidation)
	assert.Contains(t, err.Error(), "12060.00")
	assertDecimal(t, "12000", f.loan(t, "LN-1").RemainingBalance)

	payment := f.pay(t, "LN-1", "12060.00", domain.PaymentTypeEarlyPayoff)

	assertDecimal(t, "0", payment.RefundedAmount)
	assert.Equal(t, domain.LoanStatusClosed, f.loan(t, "LN-1").Status)
}

func TestRecordPayment_TermExhausted(t *testing.T) {
	f := newFixture(t)
	accountID := f.seedAccount(t, domain.AccountStatusActive)
	f.createLoanWith(t, domain.CreateLoanRequest{
		LoanID:       "LN-Z",
		AccountID:    accountID,
		Principal:    dec("1000"),
		InterestRate: decimal.Zero,
		TermMonths:   2,
	})
	_, err := f.loans.Approve(context.Background(), ApproveLoanCommand{LoanID: "LN-Z", Admin: testAdmin})
	require.NoError(t, err)

	f.pay(t, "LN-Z", "100", domain.PaymentTypeRegular)
	f.pay(t, "LN-Z", "100", domain.PaymentTypeRegular)

	_, err = f.payments.RecordPayment(context.Background(), RecordPaymentCommand{
		LoanID: "LN-Z", Amount: dec("100"), PaymentType: domain.PaymentTypeRegular, Admin: testAdmin,
	})
	requireCode(t, err, customError.ErrCodeValidation)

	f.pay(t, "LN-Z", "800", domain.PaymentTypeRegular)

	loan := f.loan(t, "LN-Z")
	assert.Equal(t, domain.LoanStatusClosed, loan.Status)
	assert.Equal(t, 3, loan.PaymentsMade)
}

func TestRecordPayment_FullTermKeepsLedgerConsistent(t *testing.T) {
	f := newFixture(t)
	f.activeLoan(t, "LN-1")

	schedule, err := f.store.Repos().Loans.GetScheduleByLoanID(context.Background(), "LN-1")
	require.NoError(t, err)
	scheduledInterest := decimal.Zero
	for _, row := range schedule {
		scheduledInterest = scheduledInterest.Add(row.InterestDue)
	}

	previous := dec("12000")
	principalPaid, interestPaid := decimal.Zero, decimal.Zero

	for i := 0; i < 20; i++ {
		loan := f.loan(t, "LN-1")
		if loan.Status == domain.LoanStatusClosed {
			break
		}

		amount := "1032.80"
		if loan.PaymentsMade == loan.TermMonths-1 {
			amount = PayoffAmount(loan, f.clock.Now(), testPolicy()).StringFixed(2)
		}
		payment := f.pay(t, "LN-1", amount, domain.PaymentTypeRegular)

		assert.True(t, payment.Amount.Equal(payment.PrincipalAmount.Add(payment.InterestAmount).Add(payment.LateFee)))
		after := f.loan(t, "LN-1")
		assert.True(t, after.RemainingBalance.LessThanOrEqual(previous))
		assert.False(t, after.RemainingBalance.IsNegative())
		assert.True(t, payment.BalanceAfter.Decimal.Equal(after.RemainingBalance))
		assert.Equal(t, after.Status == domain.LoanStatusClosed, after.RemainingBalance.IsZero())
		assert.LessOrEqual(t, after.PaymentsMade, after.TermMonths)

		previous = after.RemainingBalance
		principalPaid = principalPaid.Add(payment.PrincipalAmount)
		interestPaid = interestPaid.Add(payment.InterestAmount)
	}

	loan := f.loan(t, "LN-1")
	assert.Equal(t, domain.LoanStatusClosed, loan.Status)
	assert.Equal(t, 12, loan.PaymentsMade)
	assertDecimal(t, "12000", principalPaid)
	assertDecimal(t, scheduledInterest.String(), interestPaid)
}

func TestRecordPayment_ConcurrentPaymentsSerialize(t *testing.T) {
	const payers = 10

	f := newFixture(t)
	f.activeLoan(t, "LN-1")

	var wg sync.WaitGroup
	errs := make([]error, payers)
	for i := 0; i < payers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.payments.RecordPayment(context.Background(), RecordPaymentCommand{
				LoanID:      "LN-1",
				Amount:      dec("1032.80"),
				PaymentType: domain.PaymentTypeRegular,
				Admin:       testAdmin,
			})
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	sequential := newFixture(t)
	sequential.activeLoan(t, "LN-1")
	for i := 0; i < payers; i++ {
		sequential.pay(t, "LN-1", "1032.80", domain.PaymentTypeRegular)
	}

	got := f.loan(t, "LN-1")
	want := sequential.loan(t, "LN-1")
	assert.Equal(t, payers, got.PaymentsMade)
	assertDecimal(t, want.RemainingBalance.String(), got.RemainingBalance)

	payments, err := f.store.Repos().Payments.GetByLoanID(context.Background(), "LN-1")
	require.NoError(t, err)
	require.Len(t, payments, payers)
	principal := decimal.Zero
	for _, p := range payments {
		principal = principal.Add(p.PrincipalAmount)
	}
	assertDecimal(t, principal.String(), dec("12000").Sub(got.RemainingBalance))
}

func TestManualPayment_ApproveRerunsAllocation(t *testing.T) {
	f := newFixture(t)
	f.activeLoan(t, "LN-1")

	pending := f.pay(t, "LN-1", "1032.00", domain.PaymentTypeManual)

	assert.Equal(t, domain.PaymentStatusPending, pending.Status)
	assertDecimal(t, "1032.00", pending.Amount)
	assertDecimal(t, "972.00", pending.PrincipalAmount)
	assert.False(t, pending.BalanceAfter.Valid)

	untouched := f.loan(t, "LN-1")
	assertDecimal(t, "12000", untouched.RemainingBalance)
	assert.Equal(t, 0, untouched.PaymentsMade)
	assert.Equal(t, domain.AuditPaymentSubmitted, f.auditActions(t, "LN-1")[0])

	// approval happens after the grace period, so the late fee now applies
	f.clock.Advance(40 * 24 * time.Hour)

	approved, err := f.payments.ApproveManualPayment(context.Background(), ApprovePaymentCommand{
		PaymentID: pending.ID,
		Admin:     "admin-2",
		RequestID: "approve-1",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentStatusCompleted, approved.Status)
	assertDecimal(t, "25.00", approved.LateFee)
	assertDecimal(t, "60.00", approved.InterestAmount)
	assertDecimal(t, "947.00", approved.PrincipalAmount)
	assertDecimal(t, "11053.00", approved.BalanceAfter.Decimal)
	require.NotNil(t, approved.ProcessedBy)
	assert.Equal(t, "admin-2", *approved.ProcessedBy)

	loan := f.loan(t, "LN-1")
	assertDecimal(t, "11053.00", loan.RemainingBalance)
	assert.Equal(t, 1, loan.PaymentsMade)
	assert.Equal(t, domain.AuditPaymentApproved, f.auditActions(t, "LN-1")[0])

	replayed, err := f.payments.ApproveManualPayment(context.Background(), ApprovePaymentCommand{
		PaymentID: pending.ID,
		Admin:     "admin-2",
		RequestID: "approve-1",
	})
	require.NoError(t, err)
	assert.Equal(t, approved.ID, replayed.ID)
	assertDecimal(t, "11053.00", f.loan(t, "LN-1").RemainingBalance)

	_, err = f.payments.ApproveManualPayment(context.Background(), ApprovePaymentCommand{
		PaymentID: pending.ID,
		Admin:     "admin-2",
		RequestID: "approve-2",
	})
	requireCode(t, err, customError.ErrCodeInvalidStateTransition)
	assert.Equal(t, 1, f.loan(t, "LN-1").PaymentsMade)
}

func TestManualPayment_Reject(t *testing.T) {
	f := newFixture(t)
	f.activeLoan(t, "LN-1")
	pending := f.pay(t, "LN-1", "500.00", domain.PaymentTypeManual)
	loanBefore := f.loan(t, "LN-1")

	_, err := f.payments.RejectManualPayment(context.Background(), RejectPaymentCommand{PaymentID: pending.ID, Admin: testAdmin})
	requireCode(t, err, customError.ErrCodeValidation)

	rejected, err := f.payments.RejectManualPayment(context.Background(), RejectPaymentCommand{
		PaymentID: pending.ID,
		Admin:     testAdmin,
		Reason:    "cheque bounced",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentStatusFailed, rejected.Status)
	require.NotNil(t, rejected.RejectionReason)
	assert.Equal(t, "cheque bounced", *rejected.RejectionReason)
	assert.Equal(t, loanBefore, f.loan(t, "LN-1"))
	assert.Equal(t, domain.AuditPaymentRejected, f.auditActions(t, "LN-1")[0])

	_, err = f.payments.RejectManualPayment(context.Background(), RejectPaymentCommand{
		PaymentID: pending.ID,
		Admin:     testAdmin,
		Reason:    "again",
	})
	requireCode(t, err, customError.ErrCodeInvalidStateTransition)

	_, err = f.payments.ApproveManualPayment(context.Background(), ApprovePaymentCommand{PaymentID: pending.ID, Admin: testAdmin})
	requireCode(t, err, customError.ErrCodeInvalidStateTransition)
}

func TestManualPayment_ApproveCompletedPayment(t *testing.T) {
	f := newFixture(t)
	f.activeLoan(t, "LN-1")
	completed := f.pay(t, "LN-1", "1032.00", domain.PaymentTypeRegular)

	_, err := f.payments.ApproveManualPayment(context.Background(), ApprovePaymentCommand{
		PaymentID: completed.ID,
		Admin:     testAdmin,
		RequestID: "approve-1",
	})

	requireCode(t, err, customError.ErrCodeInvalidStateTransition)
}

func TestManualPayment_NotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.payments.ApproveManualPayment(context.Background(), ApprovePaymentCommand{PaymentID: uuid.New(), Admin: testAdmin})
	requireCode(t, err, customError.ErrCodePaymentNotFound)

	_, err = f.payments.RejectManualPayment(context.Background(), RejectPaymentCommand{PaymentID: uuid.New(), Admin: testAdmin, Reason: "x"})
	requireCode(t, err, customError.ErrCodePaymentNotFound)
}
