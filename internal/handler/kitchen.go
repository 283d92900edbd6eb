package handler

import (
	"context"
	"iter"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiwari-pos/dinein/internal/auth"
	"github.com/kiwari-pos/dinein/internal/database"
	"github.com/kiwari-pos/dinein/internal/middleware"
	"github.com/kiwari-pos/dinein/internal/service"
)

const (
	defaultFeedLimit = 200
	maxFeedLimit     = 500
)

// KitchenServicer defines the kitchen display operations.
// Satisfied by *service.KitchenService.
type KitchenServicer interface {
	Advance(ctx context.Context, outletID, itemID uuid.UUID, target database.OrderItemStatus) (*database.OrderItem, error)
	Feed(ctx context.Context, q service.FeedQuery) iter.Seq2[service.KitchenTicket, error]
}

// KitchenHandler serves the kitchen display.
type KitchenHandler struct {
	svc KitchenServicer
}

// NewKitchenHandler creates a new KitchenHandler.
func NewKitchenHandler(svc KitchenServicer) *KitchenHandler {
	return &KitchenHandler{svc: svc}
}

// RegisterRoutes mounts under /outlets/{oid}/kitchen.
func (h *KitchenHandler) RegisterRoutes(r chi.Router) {
	r.Get("/feed", h.Feed)
	r.With(middleware.RequireRole(auth.RoleOwner, auth.RoleManager, auth.RoleKitchen)).
		Post("/items/{iid}/advance", h.Advance)
}

type advanceRequest struct {
	Status string `json:"status" validate:"required,oneof=IN_PROGRESS READY SERVED"`
}

type feedResponse struct {
	Tickets   []service.KitchenTicket `json:"tickets"`
	NextSince time.Time               `json:"next_since"`
	More      bool                    `json:"more"`
	Next      *service.FeedCursor     `json:"next,omitempty"`
}

// Feed handles GET /outlets/{oid}/kitchen/feed?since=&status=&limit=.
// since is RFC 3339; status may repeat or be comma separated. Pass
// next_since back as since to poll for changes. A truncated page sets more,
// keeps next_since at since and returns next; pass next.created_at and
// next.id back as after_created_at and after_id to read the rest.
func (h *KitchenHandler) Feed(w http.ResponseWriter, r *http.Request) {
	outletID, ok := urlUUID(w, r, "oid")
	if !ok {
		return
	}
	q := r.URL.Query()

	var since time.Time
	if s := q.Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			writeErrorMsg(w, http.StatusBadRequest, "invalid since, use RFC 3339")
			return
		}
		since = t
	}

	var after *service.FeedCursor
	if s := q.Get("after_created_at"); s != "" {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			writeErrorMsg(w, http.StatusBadRequest, "invalid after_created_at, use RFC 3339")
			return
		}
		id, err := uuid.Parse(q.Get("after_id"))
		if err != nil {
			writeErrorMsg(w, http.StatusBadRequest, "after_id is required with after_created_at")
			return
		}
		after = &service.FeedCursor{CreatedAt: t, ID: id}
	}

	limit := defaultFeedLimit
	if s := q.Get("limit"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			limit = v
		}
	}
	if limit > maxFeedLimit {
		limit = maxFeedLimit
	}

	var statuses []database.OrderItemStatus
	for _, v := range q["status"] {
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				statuses = append(statuses, database.OrderItemStatus(strings.ToUpper(s)))
			}
		}
	}

	resp := feedResponse{Tickets: []service.KitchenTicket{}, NextSince: since}
	feed := h.svc.Feed(r.Context(), service.FeedQuery{OutletID: outletID, Since: since, Statuses: statuses, After: after})
	for t, err := range feed {
		if err != nil {
			writeServiceError(w, "kitchen feed", err)
			return
		}
		if len(resp.Tickets) == limit {
			resp.More = true
			break
		}
		resp.Tickets = append(resp.Tickets, t)
		if t.Item.UpdatedAt.After(resp.NextSince) {
			resp.NextSince = t.Item.UpdatedAt
		}
	}
	if resp.More {
		// The page is in creation order, so an advanced since could skip
		// older items touched later. Resume by position instead.
		resp.NextSince = since
		resp.Next = service.CursorOf(resp.Tickets[len(resp.Tickets)-1])
	}
	writeJSON(w, http.StatusOK, resp)
}

// Advance handles POST /outlets/{oid}/kitchen/items/{iid}/advance.
func (h *KitchenHandler) Advance(w http.ResponseWriter, r *http.Request) {
	outletID, ok := urlUUID(w, r, "oid")
	if !ok {
		return
	}
	itemID, ok := urlUUID(w, r, "iid")
	if !ok {
		return
	}
	var req advanceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	item, err := h.svc.Advance(r.Context(), outletID, itemID, database.OrderItemStatus(req.Status))
	if err != nil {
		writeServiceError(w, "advance item", err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}
