package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiwari-pos/dinein/internal/auth"
	"github.com/kiwari-pos/dinein/internal/database"
	"github.com/kiwari-pos/dinein/internal/middleware"
	"github.com/kiwari-pos/dinein/internal/service"
)

// PaymentServicer defines the payment operations used by staff.
// Satisfied by *service.PaymentService.
type PaymentServicer interface {
	CreatePending(ctx context.Context, req service.CreatePaymentRequest) (*database.Payment, error)
	Confirm(ctx context.Context, outletID, paymentID uuid.UUID) (*service.ConfirmResult, error)
	Void(ctx context.Context, outletID, paymentID uuid.UUID) (*database.Payment, error)
}

// PaymentHandler handles payment endpoints.
type PaymentHandler struct {
	svc PaymentServicer
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(svc PaymentServicer) *PaymentHandler {
	return &PaymentHandler{svc: svc}
}

// RegisterRoutes mounts under /outlets/{oid}/payments.
func (h *PaymentHandler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.Create)
	r.Post("/{pid}/confirm", h.Confirm)
	r.With(middleware.RequireRole(auth.RoleOwner, auth.RoleManager, auth.RoleCashier)).
		Post("/{pid}/void", h.Void)
}

type createPaymentRequest struct {
	Scope          string    `json:"scope" validate:"required,oneof=ORDER GROUP"`
	TargetID       uuid.UUID `json:"target_id" validate:"required"`
	Method         string    `json:"method" validate:"required,oneof=CASH TRANSFER QRIS EWALLET"`
	Amount         string    `json:"amount" validate:"required,numeric"`
	AmountReceived string    `json:"amount_received" validate:"omitempty,numeric"`
}

// Create handles POST /outlets/{oid}/payments. Electronic payments come back
// PENDING with a payment code for the provider.
func (h *PaymentHandler) Create(w http.ResponseWriter, r *http.Request) {
	outletID, ok := urlUUID(w, r, "oid")
	if !ok {
		return
	}
	var req createPaymentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	p, err := h.svc.CreatePending(r.Context(), service.CreatePaymentRequest{
		OutletID:       outletID,
		Scope:          req.Scope,
		TargetID:       req.TargetID,
		Method:         req.Method,
		Amount:         req.Amount,
		AmountReceived: req.AmountReceived,
		ProcessedBy:    middleware.UserIDFromContext(r.Context()),
	})
	if err != nil {
		writeServiceError(w, "create payment", err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// Confirm handles POST /outlets/{oid}/payments/{pid}/confirm. Confirming
// twice returns the first result.
func (h *PaymentHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	outletID, ok := urlUUID(w, r, "oid")
	if !ok {
		return
	}
	pid, ok := urlUUID(w, r, "pid")
	if !ok {
		return
	}
	res, err := h.svc.Confirm(r.Context(), outletID, pid)
	if err != nil {
		writeServiceError(w, "confirm payment", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Void handles POST /outlets/{oid}/payments/{pid}/void.
func (h *PaymentHandler) Void(w http.ResponseWriter, r *http.Request) {
	outletID, ok := urlUUID(w, r, "oid")
	if !ok {
		return
	}
	pid, ok := urlUUID(w, r, "pid")
	if !ok {
		return
	}
	p, err := h.svc.Void(r.Context(), outletID, pid)
	if err != nil {
		writeServiceError(w, "void payment", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
