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

// OrderServicer defines the order operations used by staff.
// Satisfied by *service.OrderService; narrow interface for testability.
type OrderServicer interface {
	OpenOrReuse(ctx context.Context, req service.OpenOrderRequest) (*service.OpenOrderResult, error)
	Get(ctx context.Context, outletID, orderID uuid.UUID) (*service.OrderDetail, error)
	AddItem(ctx context.Context, req service.AddItemRequest) (*service.OrderItemResult, error)
	PatchItem(ctx context.Context, req service.PatchItemRequest) (*database.OrderItem, error)
	VoidItem(ctx context.Context, outletID, orderID, itemID uuid.UUID) (*database.OrderItem, error)
	SetDiscount(ctx context.Context, req service.SetDiscountRequest) (*service.OrderResult, error)
	RemoveDiscount(ctx context.Context, outletID, orderID uuid.UUID) (*service.OrderResult, error)
	LinkTable(ctx context.Context, outletID, orderID, tableID uuid.UUID) (*database.OrderTable, error)
	UnlinkTable(ctx context.Context, outletID, orderID, tableID uuid.UUID) error
	Close(ctx context.Context, outletID, orderID uuid.UUID, mode database.OrderStatus) (*service.OrderResult, error)
	Void(ctx context.Context, outletID, orderID uuid.UUID, reason string) (*service.OrderResult, error)
}

// TicketSubmitter fires an order's new items to the kitchen.
// Satisfied by *service.KitchenService.
type TicketSubmitter interface {
	SubmitTicket(ctx context.Context, outletID, orderID uuid.UUID) (int64, error)
}

// OrderHandler handles staff order endpoints.
type OrderHandler struct {
	svc     OrderServicer
	kitchen TicketSubmitter
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(svc OrderServicer, kitchen TicketSubmitter) *OrderHandler {
	return &OrderHandler{svc: svc, kitchen: kitchen}
}

// RegisterRoutes registers order endpoints on the given Chi router.
// Expected to be mounted inside an outlet-scoped subrouter: /outlets/{oid}/orders
func (h *OrderHandler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.Open)
	r.Get("/{id}", h.Get)
	r.Post("/{id}/items", h.AddItem)
	r.Patch("/{id}/items/{iid}", h.PatchItem)
	r.Delete("/{id}/items/{iid}", h.VoidItem)
	r.Post("/{id}/tickets", h.SubmitTicket)
	r.Put("/{id}/discount", h.SetDiscount)
	r.Delete("/{id}/discount", h.RemoveDiscount)
	r.Post("/{id}/tables/{tid}", h.LinkTable)
	r.Delete("/{id}/tables/{tid}", h.UnlinkTable)
	r.Post("/{id}/close", h.Close)
	r.With(middleware.RequireRole(auth.RoleOwner, auth.RoleManager)).Post("/{id}/void", h.Void)
}

// --- Request types ---

type openOrderRequest struct {
	TableID     uuid.UUID  `json:"table_id" validate:"required"`
	QrSessionID *uuid.UUID `json:"qr_session_id"`
	Notes       string     `json:"notes" validate:"max=500"`
}

type itemRequest struct {
	MenuItemID      uuid.UUID   `json:"menu_item_id" validate:"required"`
	MenuItemPriceID uuid.UUID   `json:"menu_item_price_id" validate:"required"`
	Quantity        int32       `json:"quantity" validate:"min=1"`
	OptionIDs       []uuid.UUID `json:"option_ids" validate:"dive,required"`
	DiscountType    string      `json:"discount_type" validate:"omitempty,oneof=PERCENT AMOUNT"`
	DiscountValue   string      `json:"discount_value" validate:"omitempty,numeric"`
	Notes           string      `json:"notes" validate:"max=500"`
}

type patchItemRequest struct {
	Quantity *int32  `json:"quantity" validate:"omitempty,min=1"`
	Notes    *string `json:"notes" validate:"omitempty,max=500"`
}

type discountRequest struct {
	DiscountType string `json:"discount_type" validate:"required,oneof=PERCENT AMOUNT"`
	Value        string `json:"value" validate:"required,numeric"`
	Note         string `json:"note" validate:"max=500"`
}

type closeOrderRequest struct {
	Mode string `json:"mode" validate:"omitempty,oneof=PAID CLOSED"`
}

type voidOrderRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// --- Handlers ---

// Open handles POST /outlets/{oid}/orders. It answers 201 when it created the
// table's order and 200 when it reused the one already open.
func (h *OrderHandler) Open(w http.ResponseWriter, r *http.Request) {
	outletID, ok := urlUUID(w, r, "oid")
	if !ok {
		return
	}
	var req openOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := h.svc.OpenOrReuse(r.Context(), service.OpenOrderRequest{
		OutletID:    outletID,
		TableID:     req.TableID,
		QrSessionID: req.QrSessionID,
		OpenedBy:    middleware.UserIDFromContext(r.Context()),
		Notes:       req.Notes,
	})
	if err != nil {
		writeServiceError(w, "open order", err)
		return
	}

	status := http.StatusCreated
	if res.Reused {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

// Get handles GET /outlets/{oid}/orders/{id}.
func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	outletID, orderID, ok := orderIDs(w, r)
	if !ok {
		return
	}
	detail, err := h.svc.Get(r.Context(), outletID, orderID)
	if err != nil {
		writeServiceError(w, "get order", err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// AddItem handles POST /outlets/{oid}/orders/{id}/items.
func (h *OrderHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	outletID, orderID, ok := orderIDs(w, r)
	if !ok {
		return
	}
	var req itemRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := h.svc.AddItem(r.Context(), service.AddItemRequest{
		OutletID:        outletID,
		OrderID:         orderID,
		MenuItemID:      req.MenuItemID,
		MenuItemPriceID: req.MenuItemPriceID,
		Quantity:        req.Quantity,
		OptionIDs:       req.OptionIDs,
		DiscountType:    req.DiscountType,
		DiscountValue:   req.DiscountValue,
		Notes:           req.Notes,
	})
	if err != nil {
		writeServiceError(w, "add item", err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// PatchItem handles PATCH /outlets/{oid}/orders/{id}/items/{iid}.
func (h *OrderHandler) PatchItem(w http.ResponseWriter, r *http.Request) {
	outletID, orderID, ok := orderIDs(w, r)
	if !ok {
		return
	}
	itemID, ok := urlUUID(w, r, "iid")
	if !ok {
		return
	}
	var req patchItemRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Quantity == nil && req.Notes == nil {
		writeErrorMsg(w, http.StatusBadRequest, "nothing to update")
		return
	}

	item, err := h.svc.PatchItem(r.Context(), service.PatchItemRequest{
		OutletID: outletID,
		OrderID:  orderID,
		ItemID:   itemID,
		Quantity: req.Quantity,
		Notes:    req.Notes,
	})
	if err != nil {
		writeServiceError(w, "patch item", err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// VoidItem handles DELETE /outlets/{oid}/orders/{id}/items/{iid}. Voiding an
// already voided item is a no-op and still answers 200.
func (h *OrderHandler) VoidItem(w http.ResponseWriter, r *http.Request) {
	outletID, orderID, ok := orderIDs(w, r)
	if !ok {
		return
	}
	itemID, ok := urlUUID(w, r, "iid")
	if !ok {
		return
	}
	item, err := h.svc.VoidItem(r.Context(), outletID, orderID, itemID)
	if err != nil {
		writeServiceError(w, "void item", err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// SubmitTicket handles POST /outlets/{oid}/orders/{id}/tickets.
func (h *OrderHandler) SubmitTicket(w http.ResponseWriter, r *http.Request) {
	outletID, orderID, ok := orderIDs(w, r)
	if !ok {
		return
	}
	fired, err := h.kitchen.SubmitTicket(r.Context(), outletID, orderID)
	if err != nil {
		writeServiceError(w, "submit ticket", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"fired": fired})
}

// SetDiscount handles PUT /outlets/{oid}/orders/{id}/discount.
func (h *OrderHandler) SetDiscount(w http.ResponseWriter, r *http.Request) {
	outletID, orderID, ok := orderIDs(w, r)
	if !ok {
		return
	}
	var req discountRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := h.svc.SetDiscount(r.Context(), service.SetDiscountRequest{
		OutletID:     outletID,
		OrderID:      orderID,
		DiscountType: req.DiscountType,
		Value:        req.Value,
		Note:         req.Note,
	})
	if err != nil {
		writeServiceError(w, "set order discount", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// RemoveDiscount handles DELETE /outlets/{oid}/orders/{id}/discount.
func (h *OrderHandler) RemoveDiscount(w http.ResponseWriter, r *http.Request) {
	outletID, orderID, ok := orderIDs(w, r)
	if !ok {
		return
	}
	res, err := h.svc.RemoveDiscount(r.Context(), outletID, orderID)
	if err != nil {
		writeServiceError(w, "remove order discount", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// LinkTable handles POST /outlets/{oid}/orders/{id}/tables/{tid}.
func (h *OrderHandler) LinkTable(w http.ResponseWriter, r *http.Request) {
	outletID, orderID, ok := orderIDs(w, r)
	if !ok {
		return
	}
	tableID, ok := urlUUID(w, r, "tid")
	if !ok {
		return
	}
	link, err := h.svc.LinkTable(r.Context(), outletID, orderID, tableID)
	if err != nil {
		writeServiceError(w, "link table", err)
		return
	}
	writeJSON(w, http.StatusOK, link)
}

// UnlinkTable handles DELETE /outlets/{oid}/orders/{id}/tables/{tid}.
func (h *OrderHandler) UnlinkTable(w http.ResponseWriter, r *http.Request) {
	outletID, orderID, ok := orderIDs(w, r)
	if !ok {
		return
	}
	tableID, ok := urlUUID(w, r, "tid")
	if !ok {
		return
	}
	if err := h.svc.UnlinkTable(r.Context(), outletID, orderID, tableID); err != nil {
		writeServiceError(w, "unlink table", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Close handles POST /outlets/{oid}/orders/{id}/close. Mode defaults to PAID;
// an administrative CLOSED needs a manager.
func (h *OrderHandler) Close(w http.ResponseWriter, r *http.Request) {
	outletID, orderID, ok := orderIDs(w, r)
	if !ok {
		return
	}
	var req closeOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	mode := database.OrderStatusPAID
	if req.Mode != "" {
		mode = database.OrderStatus(req.Mode)
	}
	if mode == database.OrderStatusCLOSED && !isSupervisor(r) {
		writeErrorMsg(w, http.StatusForbidden, "insufficient permissions")
		return
	}

	res, err := h.svc.Close(r.Context(), outletID, orderID, mode)
	if err != nil {
		writeServiceError(w, "close order", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Void handles POST /outlets/{oid}/orders/{id}/void.
func (h *OrderHandler) Void(w http.ResponseWriter, r *http.Request) {
	outletID, orderID, ok := orderIDs(w, r)
	if !ok {
		return
	}
	var req voidOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := h.svc.Void(r.Context(), outletID, orderID, req.Reason)
	if err != nil {
		writeServiceError(w, "void order", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func orderIDs(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	outletID, ok := urlUUID(w, r, "oid")
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	orderID, ok := urlUUID(w, r, "id")
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	return outletID, orderID, true
}

func isSupervisor(r *http.Request) bool {
	claims := middleware.ClaimsFromContext(r.Context())
	return claims != nil && (claims.Role == auth.RoleOwner || claims.Role == auth.RoleManager)
}
