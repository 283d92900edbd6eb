package handler

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiwari-pos/dinein/internal/database"
	"github.com/kiwari-pos/dinein/internal/service"
)

// TableServicer defines the table and QR session operations.
// Satisfied by *service.TableService.
type TableServicer interface {
	Resolve(ctx context.Context, outletID uuid.UUID, code, deviceFingerprint string) (*service.ResolveResult, error)
	OpenSession(ctx context.Context, req service.OpenSessionRequest) (*database.QrSession, error)
	Heartbeat(ctx context.Context, outletID, sessionID uuid.UUID) (time.Time, error)
	CloseSession(ctx context.Context, outletID, sessionID uuid.UUID) error
	CloseSessionsForTable(ctx context.Context, outletID, tableID uuid.UUID) (int64, error)
}

// SessionOrderer adds items on behalf of a customer session.
// Satisfied by *service.OrderService.
type SessionOrderer interface {
	AddItemForSession(ctx context.Context, outletID, sessionID uuid.UUID, req service.AddItemRequest) (*service.OrderItemResult, error)
}

// QRHandler serves the customer-facing QR ordering endpoints. They are public:
// the session ID returned by OpenSession is the customer's credential.
type QRHandler struct {
	tables TableServicer
	orders SessionOrderer
}

// NewQRHandler creates a new QRHandler.
func NewQRHandler(tables TableServicer, orders SessionOrderer) *QRHandler {
	return &QRHandler{tables: tables, orders: orders}
}

// RegisterRoutes mounts under /outlets/{oid}/qr.
func (h *QRHandler) RegisterRoutes(r chi.Router) {
	r.Get("/tables/{code}", h.Resolve)
	r.Post("/sessions", h.OpenSession)
	r.Post("/sessions/{sid}/heartbeat", h.Heartbeat)
	r.Delete("/sessions/{sid}", h.CloseSession)
	r.Post("/sessions/{sid}/items", h.AddItem)
}

// RegisterStaffRoutes mounts under /outlets/{oid}/tables behind staff auth.
func (h *QRHandler) RegisterStaffRoutes(r chi.Router) {
	r.Delete("/{tid}/sessions", h.CloseTableSessions)
}

type openSessionRequest struct {
	TableID           uuid.UUID `json:"table_id" validate:"required"`
	DeviceFingerprint string    `json:"device_fingerprint" validate:"required,max=256"`
}

// customerItemRequest is an item ordered from a table's QR code. Customers
// cannot discount their own items.
type customerItemRequest struct {
	MenuItemID      uuid.UUID   `json:"menu_item_id" validate:"required"`
	MenuItemPriceID uuid.UUID   `json:"menu_item_price_id" validate:"required"`
	Quantity        int32       `json:"quantity" validate:"min=1"`
	OptionIDs       []uuid.UUID `json:"option_ids" validate:"dive,required"`
	Notes           string      `json:"notes" validate:"max=500"`
}

// Resolve handles GET /outlets/{oid}/qr/tables/{code}?device=.
func (h *QRHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	outletID, ok := urlUUID(w, r, "oid")
	if !ok {
		return
	}
	res, err := h.tables.Resolve(r.Context(), outletID, chi.URLParam(r, "code"), r.URL.Query().Get("device"))
	if err != nil {
		writeServiceError(w, "resolve table", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// OpenSession handles POST /outlets/{oid}/qr/sessions.
func (h *QRHandler) OpenSession(w http.ResponseWriter, r *http.Request) {
	outletID, ok := urlUUID(w, r, "oid")
	if !ok {
		return
	}
	var req openSessionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	sess, err := h.tables.OpenSession(r.Context(), service.OpenSessionRequest{
		OutletID:          outletID,
		TableID:           req.TableID,
		DeviceFingerprint: req.DeviceFingerprint,
		IPAddress:         clientIP(r),
	})
	if err != nil {
		writeServiceError(w, "open session", err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

// Heartbeat handles POST /outlets/{oid}/qr/sessions/{sid}/heartbeat.
func (h *QRHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	outletID, ok := urlUUID(w, r, "oid")
	if !ok {
		return
	}
	sid, ok := urlUUID(w, r, "sid")
	if !ok {
		return
	}
	seen, err := h.tables.Heartbeat(r.Context(), outletID, sid)
	if err != nil {
		writeServiceError(w, "session heartbeat", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]time.Time{"last_seen_at": seen})
}

// CloseSession handles DELETE /outlets/{oid}/qr/sessions/{sid}.
func (h *QRHandler) CloseSession(w http.ResponseWriter, r *http.Request) {
	outletID, ok := urlUUID(w, r, "oid")
	if !ok {
		return
	}
	sid, ok := urlUUID(w, r, "sid")
	if !ok {
		return
	}
	if err := h.tables.CloseSession(r.Context(), outletID, sid); err != nil {
		writeServiceError(w, "close session", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddItem handles POST /outlets/{oid}/qr/sessions/{sid}/items.
func (h *QRHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	outletID, ok := urlUUID(w, r, "oid")
	if !ok {
		return
	}
	sid, ok := urlUUID(w, r, "sid")
	if !ok {
		return
	}
	var req customerItemRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := h.orders.AddItemForSession(r.Context(), outletID, sid, service.AddItemRequest{
		MenuItemID:      req.MenuItemID,
		MenuItemPriceID: req.MenuItemPriceID,
		Quantity:        req.Quantity,
		OptionIDs:       req.OptionIDs,
		Notes:           req.Notes,
	})
	if err != nil {
		writeServiceError(w, "add session item", err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// CloseTableSessions handles DELETE /outlets/{oid}/tables/{tid}/sessions.
func (h *QRHandler) CloseTableSessions(w http.ResponseWriter, r *http.Request) {
	outletID, ok := urlUUID(w, r, "oid")
	if !ok {
		return
	}
	tid, ok := urlUUID(w, r, "tid")
	if !ok {
		return
	}
	n, err := h.tables.CloseSessionsForTable(r.Context(), outletID, tid)
	if err != nil {
		writeServiceError(w, "close table sessions", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"closed": n})
}

// clientIP prefers the address chi's RealIP middleware put in RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
