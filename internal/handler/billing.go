package handler

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/kiwari-pos/dinein/internal/service"
)

// BillingServicer computes what is owed.
// Satisfied by *service.BillingService.
type BillingServicer interface {
	OrderTotals(ctx context.Context, outletID, orderID uuid.UUID) (*service.Totals, error)
	GroupTotals(ctx context.Context, outletID, groupID uuid.UUID) (*service.Totals, error)
}

// BillingHandler serves bill totals for orders and billing groups.
type BillingHandler struct {
	svc BillingServicer
}

// NewBillingHandler creates a new BillingHandler.
func NewBillingHandler(svc BillingServicer) *BillingHandler {
	return &BillingHandler{svc: svc}
}

// OrderTotals handles GET /outlets/{oid}/orders/{id}/totals.
func (h *BillingHandler) OrderTotals(w http.ResponseWriter, r *http.Request) {
	outletID, ok := urlUUID(w, r, "oid")
	if !ok {
		return
	}
	orderID, ok := urlUUID(w, r, "id")
	if !ok {
		return
	}
	t, err := h.svc.OrderTotals(r.Context(), outletID, orderID)
	if err != nil {
		writeServiceError(w, "order totals", err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// GroupTotals handles GET /outlets/{oid}/groups/{gid}/totals.
func (h *BillingHandler) GroupTotals(w http.ResponseWriter, r *http.Request) {
	outletID, ok := urlUUID(w, r, "oid")
	if !ok {
		return
	}
	groupID, ok := urlUUID(w, r, "gid")
	if !ok {
		return
	}
	t, err := h.svc.GroupTotals(r.Context(), outletID, groupID)
	if err != nil {
		writeServiceError(w, "group totals", err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}
