package service

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
	"github.com/kiwari-pos/dinein/internal/database"
)

const defaultFeedPageSize = 50

// KitchenStore defines the DB methods needed by the kitchen workflow.
// Satisfied by *database.Queries.
type KitchenStore interface {
	GetOrderForUpdate(ctx context.Context, arg database.GetOrderForUpdateParams) (database.Order, error)
	MarkOrderInProgress(ctx context.Context, id uuid.UUID) (int64, error)
	FireNewOrderItems(ctx context.Context, arg database.FireNewOrderItemsParams) (int64, error)
	GetOutletOrderItem(ctx context.Context, arg database.GetOutletOrderItemParams) (database.OrderItem, error)
	AdvanceOrderItem(ctx context.Context, arg database.AdvanceOrderItemParams) (database.OrderItem, error)
	ListKitchenItems(ctx context.Context, arg database.ListKitchenItemsParams) ([]database.ListKitchenItemsRow, error)
}

// NewKitchenStore creates a KitchenStore from a DBTX (pool or tx).
type NewKitchenStore func(db database.DBTX) KitchenStore

// KitchenTicket is one item on the kitchen display with its order context.
type KitchenTicket struct {
	Item        database.OrderItem `json:"item"`
	OrderNumber string             `json:"order_number"`
	TableID     *uuid.UUID         `json:"table_id,omitempty"`
	TableCode   string             `json:"table_code,omitempty"`
	MenuItem    string             `json:"menu_item"`
	Station     string             `json:"station,omitempty"`
}

// FeedQuery selects kitchen items touched since a cursor time. An empty
// Statuses means everything the kitchen still has to act on.
type FeedQuery struct {
	OutletID uuid.UUID
	Since    time.Time
	Statuses []database.OrderItemStatus
	// After resumes a truncated read past the given ticket.
	After *FeedCursor
}

// FeedCursor is a position in the feed's (created_at, id) order.
type FeedCursor struct {
	CreatedAt time.Time `json:"created_at"`
	ID        uuid.UUID `json:"id"`
}

// CursorOf returns the position just past t.
func CursorOf(t KitchenTicket) *FeedCursor {
	return &FeedCursor{CreatedAt: t.Item.CreatedAt, ID: t.Item.ID}
}

// KitchenService moves items through preparation.
type KitchenService struct {
	pool     TxBeginner
	newStore NewKitchenStore
	clock    Clock
	notifier Notifier
	pageSize int32
}

// NewKitchenService creates a new KitchenService.
func NewKitchenService(pool TxBeginner, newStore NewKitchenStore, clock Clock, notifier Notifier) *KitchenService {
	return &KitchenService{
		pool:     pool,
		newStore: newStore,
		clock:    clock,
		notifier: notifierOrNop(notifier),
		pageSize: defaultFeedPageSize,
	}
}

// SubmitTicket fires every NEW item of the order in one conditional update
// and returns how many moved. Zero is a valid answer: a second submit right
// after the first fires nothing.
func (s *KitchenService) SubmitTicket(ctx context.Context, outletID, orderID uuid.UUID) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	order, err := lockOrder(ctx, store, outletID, orderID)
	if err != nil {
		return 0, err
	}
	if err := requireActiveOrder(order); err != nil {
		return 0, err
	}

	fired, err := store.FireNewOrderItems(ctx, database.FireNewOrderItemsParams{OrderID: order.ID, FiredAt: s.clock.Now()})
	if err != nil {
		return 0, fmt.Errorf("fire items: %w", err)
	}
	if fired > 0 && order.Status == database.OrderStatusOPEN {
		if err := checkOrderTransition(order.Status, database.OrderStatusINPROGRESS); err != nil {
			return 0, err
		}
		if _, err := store.MarkOrderInProgress(ctx, order.ID); err != nil {
			return 0, fmt.Errorf("mark order in progress: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}

	if fired > 0 {
		s.notifier.Notify(ctx, Event{
			Type:     EventTicketSubmitted,
			OutletID: order.OutletID,
			OrderID:  order.ID,
			Data:     map[string]any{"order_number": order.OrderNumber, "fired": fired},
		})
	}
	return fired, nil
}

// Advance moves an item one step forward on the kitchen display. The update
// only applies if the row still holds the expected predecessor; losing that
// race, or finding the item voided or already at target, is ErrConflict and
// the caller must refetch.
func (s *KitchenService) Advance(ctx context.Context, outletID, itemID uuid.UUID, target database.OrderItemStatus) (*database.OrderItem, error) {
	from, err := itemPredecessor(target)
	if err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	item, err := store.GetOutletOrderItem(ctx, database.GetOutletOrderItemParams{ID: itemID, OutletID: outletID})
	if err != nil {
		return nil, lookupErr(err, "order item")
	}
	if item.Status == database.OrderItemStatusVOIDED || item.Status == target {
		return nil, fmt.Errorf("item is %s: %w", item.Status, ErrConflict)
	}
	if item.Status != from {
		cur, err := itemRank(item.Status)
		if err != nil {
			return nil, err
		}
		want, err := itemRank(target)
		if err != nil {
			return nil, err
		}
		if cur > want {
			return nil, fmt.Errorf("item %s -> %s moves backward: %w", item.Status, target, ErrInvalidTransition)
		}
		return nil, fmt.Errorf("item %s -> %s skips a step: %w", item.Status, target, ErrInvalidTransition)
	}

	updated, err := store.AdvanceOrderItem(ctx, database.AdvanceOrderItemParams{
		ID:         item.ID,
		FromStatus: from,
		ToStatus:   target,
		At:         s.clock.Now(),
	})
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("advance item: %w", ErrConflict)
		}
		return nil, fmt.Errorf("advance item: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	s.notifier.Notify(ctx, Event{Type: EventItemAdvanced, OutletID: outletID, OrderID: updated.OrderID, Data: updated})
	return &updated, nil
}

// Feed lazily pages through the kitchen projection in item creation order.
// Every range over the returned sequence starts from the first page again, so
// a poller can restart it freely; it owns its own Since cursor.
func (s *KitchenService) Feed(ctx context.Context, q FeedQuery) iter.Seq2[KitchenTicket, error] {
	return func(yield func(KitchenTicket, error) bool) {
		statuses, err := feedStatuses(q.Statuses)
		if err != nil {
			yield(KitchenTicket{}, err)
			return
		}

		params := database.ListKitchenItemsParams{
			OutletID: q.OutletID,
			Since:    q.Since,
			Statuses: statuses,
			Limit:    s.pageSize,
		}
		if q.After != nil {
			params.AfterCreatedAt = timestamptz(q.After.CreatedAt)
			params.AfterID = uuidOf(q.After.ID)
		}
		for {
			rows, err := s.feedPage(ctx, params)
			if err != nil {
				yield(KitchenTicket{}, err)
				return
			}
			for _, r := range rows {
				if !yield(ticketFromRow(r), nil) {
					return
				}
			}
			if int32(len(rows)) < params.Limit {
				return
			}
			last := rows[len(rows)-1].OrderItem
			params.AfterCreatedAt = timestamptz(last.CreatedAt)
			params.AfterID = uuidOf(last.ID)
		}
	}
}

func (s *KitchenService) feedPage(ctx context.Context, params database.ListKitchenItemsParams) ([]database.ListKitchenItemsRow, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	rows, err := s.newStore(tx).ListKitchenItems(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("list kitchen items: %w", err)
	}
	return rows, nil
}

func feedStatuses(in []database.OrderItemStatus) ([]string, error) {
	if len(in) == 0 {
		return []string{
			string(database.OrderItemStatusFIRED),
			string(database.OrderItemStatusINPROGRESS),
			string(database.OrderItemStatusREADY),
		}, nil
	}
	out := make([]string, 0, len(in))
	for _, st := range in {
		if !st.Valid() {
			return nil, fmt.Errorf("item status %q: %w", st, ErrInvalidStatus)
		}
		out = append(out, string(st))
	}
	return out, nil
}

func ticketFromRow(r database.ListKitchenItemsRow) KitchenTicket {
	t := KitchenTicket{
		Item:        r.OrderItem,
		OrderNumber: r.OrderNumber,
		MenuItem:    r.MenuItem,
		TableCode:   r.TableCode.String,
		Station:     r.Station.String,
	}
	if r.TableID.Valid {
		id := uuid.UUID(r.TableID.Bytes)
		t.TableID = &id
	}
	return t
}
