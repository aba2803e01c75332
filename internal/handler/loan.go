package handler

import (
	"context"
	"net/http"

	"github.com/segyhp/loan-engine/internal/domain"
	"github.com/segyhp/loan-engine/internal/middleware"
	"github.com/segyhp/loan-engine/internal/service"
	"github.com/segyhp/loan-engine/pkg/response"

	"github.com/go-playground/validator/v10"
)

type LoanService interface {
	CreateLoan(ctx context.Context, cmd service.CreateLoanCommand) (*domain.Loan, error)
	Approve(ctx context.Context, cmd service.ApproveLoanCommand) (*domain.Loan, error)
	Reject(ctx context.Context, cmd service.RejectLoanCommand) (*domain.Loan, error)
	GetLoanDetail(ctx context.Context, loanID string) (*domain.LoanDetail, error)
}

type LoanHandler struct {
	service   LoanService
	validator *validator.Validate
}

func NewLoanHandler(service LoanService) *LoanHandler {
	return &LoanHandler{
		service:   service,
		validator: NewValidator(),
	}
}

// CreateLoan handles POST /loans
func (h *LoanHandler) CreateLoan(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateLoanRequest
	if err := decode(r, h.validator, &req); err != nil {
		response.FromError(w, err)
		return
	}

	loan, err := h.service.CreateLoan(r.Context(), service.CreateLoanCommand{
		Request: req,
		Admin:   middleware.AdminFrom(r.Context()),
	})
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.Created(w, loan)
}

// Approve handles POST /loans/{loanId}/approve
func (h *LoanHandler) Approve(w http.ResponseWriter, r *http.Request) {
	var req domain.ApproveLoanRequest
	if err := decode(r, h.validator, &req); err != nil {
		response.FromError(w, err)
		return
	}

	loan, err := h.service.Approve(r.Context(), service.ApproveLoanCommand{
		LoanID:    pathVar(r, "loanId"),
		Admin:     middleware.AdminFrom(r.Context()),
		Notes:     req.Notes,
		RequestID: middleware.IdempotencyKey(r),
	})
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.Success(w, loan)
}

// Reject handles POST /loans/{loanId}/reject
func (h *LoanHandler) Reject(w http.ResponseWriter, r *http.Request) {
	var req domain.RejectRequest
	if err := decode(r, h.validator, &req); err != nil {
		response.FromError(w, err)
		return
	}

	loan, err := h.service.Reject(r.Context(), service.RejectLoanCommand{
		LoanID: pathVar(r, "loanId"),
		Admin:  middleware.AdminFrom(r.Context()),
		Reason: req.Reason,
	})
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.Success(w, loan)
}

// GetLoan handles GET /loans/{loanId}
func (h *LoanHandler) GetLoan(w http.ResponseWriter, r *http.Request) {
	detail, err := h.service.GetLoanDetail(r.Context(), pathVar(r, "loanId"))
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.Success(w, detail)
}
