// Package metrics exposes the engine's Prometheus instruments.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
)

// Operation outcomes
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

type Metrics struct {
	Operations      *prometheus.CounterVec
	OperationTime   *prometheus.HistogramVec
	Disbursements   prometheus.Counter
	DisbursedAmount prometheus.Counter
	PaymentsApplied *prometheus.CounterVec
	AmountCollected prometheus.Counter
	Discrepancies   *prometheus.CounterVec
	HTTPRequests    *prometheus.HistogramVec
}

// New registers every instrument on reg
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		Operations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "loan_engine_operations_total",
			Help: "Core operations by name and outcome.",
		}, []string{"operation", "outcome"}),

		OperationTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "loan_engine_operation_duration_seconds",
			Help:    "Core operation latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),

		Disbursements: f.NewCounter(prometheus.CounterOpts{
			Name: "loan_engine_disbursements_total",
			Help: "Loans disbursed.",
		}),

		DisbursedAmount: f.NewCounter(prometheus.CounterOpts{
			Name: "loan_engine_disbursed_amount_total",
			Help: "Principal credited to borrower accounts.",
		}),

		PaymentsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "loan_engine_payments_applied_total",
			Help: "Payments applied to loans by type.",
		}, []string{"payment_type"}),

		AmountCollected: f.NewCounter(prometheus.CounterOpts{
			Name: "loan_engine_amount_collected_total",
			Help: "Amount applied to loans across principal, interest and fees.",
		}),

		Discrepancies: f.NewCounterVec(prometheus.CounterOpts{
			Name: "loan_engine_reconcile_discrepancies_total",
			Help: "Discrepancies found by reconciliation runs.",
		}, []string{"check"}),

		HTTPRequests: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "loan_engine_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}

// ObserveOperation records one core operation. A nil receiver is a no-op.
func (m *Metrics) ObserveOperation(operation, outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(operation, outcome).Inc()
	m.OperationTime.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

func (m *Metrics) ObserveDisbursement(amount decimal.Decimal) {
	if m == nil {
		return
	}
	m.Disbursements.Inc()
	m.DisbursedAmount.Add(amount.InexactFloat64())
}

func (m *Metrics) ObservePayment(paymentType string, amount decimal.Decimal) {
	if m == nil {
		return
	}
	m.PaymentsApplied.WithLabelValues(paymentType).Inc()
	m.AmountCollected.Add(amount.InexactFloat64())
}

func (m *Metrics) ObserveDiscrepancy(check string) {
	if m == nil {
		return
	}
	m.Discrepancies.WithLabelValues(check).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware observes request latency labelled by the matched mux route template
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := "unmatched"
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		m.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).
			Observe(time.Since(start).Seconds())
	})
}
