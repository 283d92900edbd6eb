package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiwari-pos/dinein/internal/database"
	"github.com/kiwari-pos/dinein/internal/middleware"
	"github.com/kiwari-pos/dinein/internal/service"
)

// GroupServicer defines the billing group operations.
// Satisfied by *service.GroupService.
type GroupServicer interface {
	Create(ctx context.Context, outletID uuid.UUID, createdBy *uuid.UUID) (*database.BillingGroup, error)
	Get(ctx context.Context, outletID, groupID uuid.UUID) (*service.GroupDetail, error)
	Attach(ctx context.Context, outletID, groupID, orderID uuid.UUID) (*service.GroupResult, error)
	Detach(ctx context.Context, outletID, groupID, orderID uuid.UUID) (*service.GroupResult, error)
	SetDiscount(ctx context.Context, outletID, groupID uuid.UUID, discountType, value string) (*service.GroupResult, error)
	Close(ctx context.Context, outletID, groupID uuid.UUID) (*service.GroupResult, error)
}

// GroupHandler handles billing group endpoints.
type GroupHandler struct {
	svc GroupServicer
}

// NewGroupHandler creates a new GroupHandler.
func NewGroupHandler(svc GroupServicer) *GroupHandler {
	return &GroupHandler{svc: svc}
}

// RegisterRoutes mounts under /outlets/{oid}/groups.
func (h *GroupHandler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.Create)
	r.Get("/{gid}", h.Get)
	r.Post("/{gid}/orders/{id}", h.Attach)
	r.Delete("/{gid}/orders/{id}", h.Detach)
	r.Put("/{gid}/discount", h.SetDiscount)
	r.Post("/{gid}/close", h.Close)
}

// groupDiscountRequest clears the discount when both fields are empty.
type groupDiscountRequest struct {
	DiscountType string `json:"discount_type" validate:"omitempty,oneof=PERCENT AMOUNT"`
	Value        string `json:"value" validate:"omitempty,numeric"`
}

// Create handles POST /outlets/{oid}/groups.
func (h *GroupHandler) Create(w http.ResponseWriter, r *http.Request) {
	outletID, ok := urlUUID(w, r, "oid")
	if !ok {
		return
	}
	g, err := h.svc.Create(r.Context(), outletID, middleware.UserIDFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, "create group", err)
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

// Get handles GET /outlets/{oid}/groups/{gid}.
func (h *GroupHandler) Get(w http.ResponseWriter, r *http.Request) {
	outletID, groupID, ok := groupIDs(w, r)
	if !ok {
		return
	}
	d, err := h.svc.Get(r.Context(), outletID, groupID)
	if err != nil {
		writeServiceError(w, "get group", err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// Attach handles POST /outlets/{oid}/groups/{gid}/orders/{id}.
func (h *GroupHandler) Attach(w http.ResponseWriter, r *http.Request) {
	outletID, groupID, ok := groupIDs(w, r)
	if !ok {
		return
	}
	orderID, ok := urlUUID(w, r, "id")
	if !ok {
		return
	}
	res, err := h.svc.Attach(r.Context(), outletID, groupID, orderID)
	if err != nil {
		writeServiceError(w, "attach order", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Detach handles DELETE /outlets/{oid}/groups/{gid}/orders/{id}.
func (h *GroupHandler) Detach(w http.ResponseWriter, r *http.Request) {
	outletID, groupID, ok := groupIDs(w, r)
	if !ok {
		return
	}
	orderID, ok := urlUUID(w, r, "id")
	if !ok {
		return
	}
	res, err := h.svc.Detach(r.Context(), outletID, groupID, orderID)
	if err != nil {
		writeServiceError(w, "detach order", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// SetDiscount handles PUT /outlets/{oid}/groups/{gid}/discount.
func (h *GroupHandler) SetDiscount(w http.ResponseWriter, r *http.Request) {
	outletID, groupID, ok := groupIDs(w, r)
	if !ok {
		return
	}
	var req groupDiscountRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := h.svc.SetDiscount(r.Context(), outletID, groupID, req.DiscountType, req.Value)
	if err != nil {
		writeServiceError(w, "set group discount", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Close handles POST /outlets/{oid}/groups/{gid}/close.
func (h *GroupHandler) Close(w http.ResponseWriter, r *http.Request) {
	outletID, groupID, ok := groupIDs(w, r)
	if !ok {
		return
	}
	res, err := h.svc.Close(r.Context(), outletID, groupID)
	if err != nil {
		writeServiceError(w, "close group", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func groupIDs(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	outletID, ok := urlUUID(w, r, "oid")
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	groupID, ok := urlUUID(w, r, "gid")
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	return outletID, groupID, true
}
