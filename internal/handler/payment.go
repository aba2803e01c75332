package handler

import (
	"context"
	"net/http"

	"github.com/segyhp/loan-engine/internal/domain"
	"github.com/segyhp/loan-engine/internal/middleware"
	"github.com/segyhp/loan-engine/internal/service"
	customError "github.com/segyhp/loan-engine/pkg/errors"
	"github.com/segyhp/loan-engine/pkg/response"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

type PaymentService interface {
	RecordPayment(ctx context.Context, cmd service.RecordPaymentCommand) (*domain.Payment, error)
	ApproveManualPayment(ctx context.Context, cmd service.ApprovePaymentCommand) (*domain.Payment, error)
	RejectManualPayment(ctx context.Context, cmd service.RejectPaymentCommand) (*domain.Payment, error)
}

type PaymentHandler struct {
	service   PaymentService
	validator *validator.Validate
}

func NewPaymentHandler(service PaymentService) *PaymentHandler {
	return &PaymentHandler{
		service:   service,
		validator: NewValidator(),
	}
}

// RecordPayment handles POST /loans/{loanId}/payments.
// Manual payments come back pending with 202.
func (h *PaymentHandler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	var req domain.RecordPaymentRequest
	if err := decode(r, h.validator, &req); err != nil {
		response.FromError(w, err)
		return
	}

	payment, err := h.service.RecordPayment(r.Context(), service.RecordPaymentCommand{
		LoanID:      pathVar(r, "loanId"),
		Amount:      req.Amount,
		PaymentType: req.PaymentType,
		AsOf:        req.AsOf,
		Admin:       middleware.AdminFrom(r.Context()),
		RequestID:   middleware.IdempotencyKey(r),
	})
	if err != nil {
		response.FromError(w, err)
		return
	}

	if payment.Status == domain.PaymentStatusPending {
		response.JSON(w, http.StatusAccepted, payment)
		return
	}
	response.Created(w, payment)
}

// ApprovePayment handles POST /payments/{paymentId}/approve
func (h *PaymentHandler) ApprovePayment(w http.ResponseWriter, r *http.Request) {
	id, err := paymentID(r)
	if err != nil {
		response.FromError(w, err)
		return
	}

	payment, err := h.service.ApproveManualPayment(r.Context(), service.ApprovePaymentCommand{
		PaymentID: id,
		Admin:     middleware.AdminFrom(r.Context()),
		RequestID: middleware.IdempotencyKey(r),
	})
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.Success(w, payment)
}

// RejectPayment handles POST /payments/{paymentId}/reject
func (h *PaymentHandler) RejectPayment(w http.ResponseWriter, r *http.Request) {
	id, err := paymentID(r)
	if err != nil {
		response.FromError(w, err)
		return
	}

	var req domain.RejectRequest
	if err := decode(r, h.validator, &req); err != nil {
		response.FromError(w, err)
		return
	}

	payment, err := h.service.RejectManualPayment(r.Context(), service.RejectPaymentCommand{
		PaymentID: id,
		Admin:     middleware.AdminFrom(r.Context()),
		Reason:    req.Reason,
	})
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.Success(w, payment)
}

func paymentID(r *http.Request) (uuid.UUID, error) {
	raw := pathVar(r, "paymentId")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, customError.WrapPaymentNotFound(raw)
	}
	return id, nil
}
