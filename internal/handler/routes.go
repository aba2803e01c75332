package handler

import (
	"net/http"

	"github.com/gorilla/mux"
)

// RegisterRoutes mounts the loan and payment endpoints on api, which is
// expected to be the /api/v1 subrouter
func RegisterRoutes(api *mux.Router, loans *LoanHandler, payments *PaymentHandler) {
	api.HandleFunc("/loans", loans.CreateLoan).Methods(http.MethodPost)
	api.HandleFunc("/loans/{loanId}", loans.GetLoan).Methods(http.MethodGet)
	api.HandleFunc("/loans/{loanId}/approve", loans.Approve).Methods(http.MethodPost)
	api.HandleFunc("/loans/{loanId}/reject", loans.Reject).Methods(http.MethodPost)
	api.HandleFunc("/loans/{loanId}/payments", payments.RecordPayment).Methods(http.MethodPost)

	api.HandleFunc("/payments/{paymentId}/approve", payments.ApprovePayment).Methods(http.MethodPost)
	api.HandleFunc("/payments/{paymentId}/reject", payments.RejectPayment).Methods(http.MethodPost)
}
