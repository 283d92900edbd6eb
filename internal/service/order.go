package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/kiwari-pos/dinein/internal/database"
	"github.com/shopspring/decimal"
)

const maxOrderNumberRetries = 3

// TxBeginner starts a new database transaction.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// OrderStore defines the DB methods needed by the order aggregate.
// Satisfied by *database.Queries (and its WithTx variant).
type OrderStore interface {
	balanceStore
	releaseStore
	GetTableForUpdate(ctx context.Context, arg database.GetTableForUpdateParams) (database.Table, error)
	GetActiveOrderForTable(ctx context.Context, tableID uuid.UUID) (database.Order, error)
	GetQrSession(ctx context.Context, id uuid.UUID) (database.QrSession, error)
	GetNextOrderNumber(ctx context.Context, outletID uuid.UUID) (int32, error)
	CreateOrder(ctx context.Context, arg database.CreateOrderParams) (database.Order, error)
	GetOrderForUpdate(ctx context.Context, arg database.GetOrderForUpdateParams) (database.Order, error)
	GetBillingGroupByIDForUpdate(ctx context.Context, id uuid.UUID) (database.BillingGroup, error)
	CloseOrder(ctx context.Context, arg database.CloseOrderParams) (database.Order, error)
	VoidOrder(ctx context.Context, arg database.VoidOrderParams) (database.Order, error)
	CreateOrderTable(ctx context.Context, arg database.CreateOrderTableParams) (database.OrderTable, error)
	GetOpenOrderTable(ctx context.Context, arg database.GetOpenOrderTableParams) (database.OrderTable, error)
	UnlinkOrderTable(ctx context.Context, arg database.UnlinkOrderTableParams) (int64, error)
	ListOrderTables(ctx context.Context, orderID uuid.UUID) ([]database.OrderTable, error)
	GetMenuPriceForOrder(ctx context.Context, arg database.GetMenuPriceForOrderParams) (database.GetMenuPriceForOrderRow, error)
	GetMenuOptionForOrder(ctx context.Context, id uuid.UUID) (database.GetMenuOptionForOrderRow, error)
	CreateOrderItem(ctx context.Context, arg database.CreateOrderItemParams) (database.OrderItem, error)
	CreateOrderItemOption(ctx context.Context, arg database.CreateOrderItemOptionParams) (database.OrderItemOptionSelection, error)
	GetOrderItem(ctx context.Context, arg database.GetOrderItemParams) (database.OrderItem, error)
	PatchOrderItem(ctx context.Context, arg database.PatchOrderItemParams) (database.OrderItem, error)
	VoidOrderItem(ctx context.Context, arg database.VoidOrderItemParams) (database.OrderItem, error)
	CountUnsettledOrderItems(ctx context.Context, orderID uuid.UUID) (int64, error)
	ListOrderItemsByOrder(ctx context.Context, orderID uuid.UUID) ([]database.OrderItem, error)
	ListOrderItemOptionsByOrder(ctx context.Context, orderID uuid.UUID) ([]database.OrderItemOptionSelection, error)
	UpsertOrderDiscount(ctx context.Context, arg database.UpsertOrderDiscountParams) (database.OrderDiscount, error)
	DeleteOrderDiscount(ctx context.Context, orderID uuid.UUID) (int64, error)
	CountConfirmedPaymentsByOrder(ctx context.Context, orderID uuid.UUID) (int64, error)
	ListPaymentsByOrder(ctx context.Context, orderID uuid.UUID) ([]database.Payment, error)
	RemoveBillingGroupOrder(ctx context.Context, arg database.RemoveBillingGroupOrderParams) (int64, error)
}

// NewOrderStore creates an OrderStore from a DBTX (pool or tx).
type NewOrderStore func(db database.DBTX) OrderStore

// OpenOrderRequest opens (or reuses) the active order of a table.
type OpenOrderRequest struct {
	OutletID    uuid.UUID
	TableID     uuid.UUID
	QrSessionID *uuid.UUID
	OpenedBy    *uuid.UUID
	Notes       string
}

// OpenOrderResult is the table's active order. Reused is false when the call
// created it.
type OpenOrderResult struct {
	Order  database.Order `json:"order"`
	Reused bool           `json:"reused"`
}

// AddItemRequest is a single line added to an order.
type AddItemRequest struct {
	OutletID        uuid.UUID
	OrderID         uuid.UUID
	MenuItemID      uuid.UUID
	MenuItemPriceID uuid.UUID
	Quantity        int32
	OptionIDs       []uuid.UUID
	DiscountType    string
	DiscountValue   string
	Notes           string
}

// PatchItemRequest changes an item the kitchen has not started. Nil fields
// are left alone.
type PatchItemRequest struct {
	OutletID uuid.UUID
	OrderID  uuid.UUID
	ItemID   uuid.UUID
	Quantity *int32
	Notes    *string
}

// SetDiscountRequest sets the single order-level discount.
type SetDiscountRequest struct {
	OutletID     uuid.UUID
	OrderID      uuid.UUID
	DiscountType string
	Value        string
	Note         string
}

// OrderItemResult is an item with its option selections.
type OrderItemResult struct {
	Item    database.OrderItem                   `json:"item"`
	Options []database.OrderItemOptionSelection `json:"options"`
}

// OrderResult is an order with freshly computed totals.
type OrderResult struct {
	Order  database.Order `json:"order"`
	Totals Totals         `json:"totals"`
}

// OrderDetail is the full read model of an order.
type OrderDetail struct {
	Order    database.Order          `json:"order"`
	Items    []OrderItemResult       `json:"items"`
	Tables   []database.OrderTable   `json:"tables"`
	Discount *database.OrderDiscount `json:"discount,omitempty"`
	Payments []database.Payment      `json:"payments"`
	Totals   Totals                  `json:"totals"`
}

// OrderService handles the order aggregate.
type OrderService struct {
	pool     TxBeginner
	newStore NewOrderStore
	clock    Clock
	notifier Notifier
}

// NewOrderService creates a new OrderService.
func NewOrderService(pool TxBeginner, newStore NewOrderStore, clock Clock, notifier Notifier) *OrderService {
	return &OrderService{pool: pool, newStore: newStore, clock: clock, notifier: notifierOrNop(notifier)}
}

type orderLocker interface {
	GetOrderForUpdate(ctx context.Context, arg database.GetOrderForUpdateParams) (database.Order, error)
}

func lockOrder(ctx context.Context, store orderLocker, outletID, orderID uuid.UUID) (database.Order, error) {
	order, err := store.GetOrderForUpdate(ctx, database.GetOrderForUpdateParams{ID: orderID, OutletID: outletID})
	if err != nil {
		return database.Order{}, lookupErr(err, "order")
	}
	return order, nil
}

type billableOrderLocker interface {
	orderLocker
	memberGroupLocker
}

// lockBillableOrder locks an order whose balance the caller is about to
// refresh, after the open group it belongs to.
func lockBillableOrder(ctx context.Context, store billableOrderLocker, outletID, orderID uuid.UUID) (database.Order, error) {
	if err := lockGroupsOfOrder(ctx, store, orderID); err != nil {
		return database.Order{}, err
	}
	return lockOrder(ctx, store, outletID, orderID)
}

// OpenOrReuse returns the table's active order or opens a new one. The table
// row is locked for the duration so two callers cannot both open a tab.
// Retries up to maxOrderNumberRetries times when two outlets' callers race
// for the same order number.
func (s *OrderService) OpenOrReuse(ctx context.Context, req OpenOrderRequest) (*OpenOrderResult, error) {
	var lastErr error
	for attempt := 0; attempt < maxOrderNumberRetries; attempt++ {
		result, err := s.openOrReuseTx(ctx, req)
		if err == nil {
			if !result.Reused {
				s.notifier.Notify(ctx, Event{Type: EventOrderOpened, OutletID: req.OutletID, OrderID: result.Order.ID, Data: result.Order})
			}
			return result, nil
		}
		if isUniqueViolation(err, "orders_outlet_id_order_number_key") {
			lastErr = err
			continue
		}
		return nil, err
	}
	return nil, lastErr
}

func (s *OrderService) openOrReuseTx(ctx context.Context, req OpenOrderRequest) (*OpenOrderResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)
	now := s.clock.Now()

	table, err := store.GetTableForUpdate(ctx, database.GetTableForUpdateParams{ID: req.TableID, OutletID: req.OutletID})
	if err != nil {
		return nil, lookupErr(err, "table")
	}
	if table.IsDeleted {
		return nil, fmt.Errorf("table: %w", ErrNotFound)
	}
	if table.Status == database.TableStatusOUTOFSERVICE {
		return nil, fmt.Errorf("table %s: %w", table.Code, ErrTableUnavailable)
	}

	if req.QrSessionID != nil {
		sess, err := store.GetQrSession(ctx, *req.QrSessionID)
		if err != nil {
			return nil, lookupErr(err, "qr session")
		}
		if sess.OutletID != req.OutletID || sess.TableID != table.ID {
			return nil, fmt.Errorf("qr session: %w", ErrNotFound)
		}
		if !IsSessionAlive(sess, now) {
			return nil, fmt.Errorf("qr session: %w", ErrExpired)
		}
	}

	existing, err := store.GetActiveOrderForTable(ctx, table.ID)
	if err == nil {
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("commit tx: %w", err)
		}
		return &OpenOrderResult{Order: existing, Reused: true}, nil
	}
	if !isNoRows(err) {
		return nil, fmt.Errorf("get active order: %w", err)
	}

	nextNum, err := store.GetNextOrderNumber(ctx, req.OutletID)
	if err != nil {
		return nil, fmt.Errorf("get next order number: %w", err)
	}
	order, err := store.CreateOrder(ctx, database.CreateOrderParams{
		OutletID:    req.OutletID,
		OrderNumber: fmt.Sprintf("DIN-%03d", nextNum),
		TableID:     uuidOf(table.ID),
		QrSessionID: optionalUUID(req.QrSessionID),
		OpenedBy:    optionalUUID(req.OpenedBy),
		Notes:       optionalText(req.Notes),
	})
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	if _, err := store.CreateOrderTable(ctx, database.CreateOrderTableParams{
		OrderID:  order.ID,
		TableID:  table.ID,
		LinkedAt: now,
	}); err != nil {
		return nil, fmt.Errorf("link table: %w", err)
	}
	if table.Status != database.TableStatusOCCUPIED {
		if _, err := store.UpdateTableStatus(ctx, database.UpdateTableStatusParams{
			ID:     table.ID,
			Status: database.TableStatusOCCUPIED,
		}); err != nil {
			return nil, fmt.Errorf("occupy table: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return &OpenOrderResult{Order: order}, nil
}

// AddItem snapshots the menu price plus option extras and appends a NEW item.
// Later menu price changes never touch existing items.
func (s *OrderService) AddItem(ctx context.Context, req AddItemRequest) (*OrderItemResult, error) {
	if req.Quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	discType := database.NullDiscountType{}
	discValue := decimal.Zero
	if req.DiscountType != "" {
		dv, err := decimal.NewFromString(req.DiscountValue)
		if err != nil {
			return nil, fmt.Errorf("discount value %q: %w", req.DiscountValue, ErrInvalidDiscount)
		}
		t := database.DiscountType(req.DiscountType)
		if err := validateDiscount(t, dv); err != nil {
			return nil, err
		}
		discType = database.NullDiscountType{DiscountType: t, Valid: true}
		discValue = dv
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	order, err := lockBillableOrder(ctx, store, req.OutletID, req.OrderID)
	if err != nil {
		return nil, err
	}
	if err := requireActiveOrder(order); err != nil {
		return nil, err
	}

	price, err := store.GetMenuPriceForOrder(ctx, database.GetMenuPriceForOrderParams{
		PriceID:    req.MenuItemPriceID,
		MenuItemID: req.MenuItemID,
		OutletID:   req.OutletID,
	})
	if err != nil {
		return nil, lookupErr(err, "menu price")
	}

	unitPrice := numericToDecimal(price.Price)
	options := make([]database.GetMenuOptionForOrderRow, 0, len(req.OptionIDs))
	for i, oid := range req.OptionIDs {
		opt, err := store.GetMenuOptionForOrder(ctx, oid)
		if err != nil {
			return nil, lookupErr(err, fmt.Sprintf("options[%d]", i))
		}
		if opt.MenuItemID != req.MenuItemID {
			return nil, fmt.Errorf("options[%d] belongs to another menu item: %w", i, ErrNotFound)
		}
		unitPrice = unitPrice.Add(numericToDecimal(opt.ExtraPrice))
		options = append(options, opt)
	}

	gross := unitPrice.Mul(decimal.NewFromInt32(req.Quantity))
	itemDiscount := decimal.Zero
	discValueNumeric := pgtype.Numeric{}
	if discType.Valid {
		itemDiscount, err = discountAmount(discType.DiscountType, discValue, gross)
		if err != nil {
			return nil, err
		}
		discValueNumeric = decimalToNumeric(discValue)
	}

	item, err := store.CreateOrderItem(ctx, database.CreateOrderItemParams{
		OrderID:         order.ID,
		MenuItemID:      req.MenuItemID,
		MenuItemPriceID: req.MenuItemPriceID,
		Quantity:        req.Quantity,
		UnitPrice:       decimalToNumeric(unitPrice),
		DiscountType:    discType,
		DiscountValue:   discValueNumeric,
		DiscountAmount:  decimalToNumeric(itemDiscount),
		TotalAmount:     decimalToNumeric(gross.Sub(itemDiscount)),
		Notes:           optionalText(req.Notes),
	})
	if err != nil {
		return nil, fmt.Errorf("create order item: %w", err)
	}

	result := &OrderItemResult{Item: item, Options: []database.OrderItemOptionSelection{}}
	for _, opt := range options {
		sel, err := store.CreateOrderItemOption(ctx, database.CreateOrderItemOptionParams{
			OrderItemID:      item.ID,
			MenuItemOptionID: opt.ID,
			Name:             opt.Name,
			ExtraPrice:       opt.ExtraPrice,
		})
		if err != nil {
			return nil, fmt.Errorf("create order item option: %w", err)
		}
		result.Options = append(result.Options, sel)
	}

	if _, err := recomputeOrderBalance(ctx, store, &order); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	s.notifier.Notify(ctx, Event{Type: EventItemAdded, OutletID: order.OutletID, OrderID: order.ID, Data: result})
	return result, nil
}

// AddItemForSession is the customer self-ordering path: the QR session must
// be alive, then its table's active order is opened or reused.
func (s *OrderService) AddItemForSession(ctx context.Context, outletID, sessionID uuid.UUID, req AddItemRequest) (*OrderItemResult, error) {
	if req.Quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	sess, err := s.session(ctx, outletID, sessionID)
	if err != nil {
		return nil, err
	}
	if !IsSessionAlive(sess, s.clock.Now()) {
		return nil, fmt.Errorf("qr session: %w", ErrExpired)
	}

	opened, err := s.OpenOrReuse(ctx, OpenOrderRequest{
		OutletID:    outletID,
		TableID:     sess.TableID,
		QrSessionID: &sess.ID,
	})
	if err != nil {
		return nil, err
	}
	req.OutletID = outletID
	req.OrderID = opened.Order.ID
	return s.AddItem(ctx, req)
}

func (s *OrderService) session(ctx context.Context, outletID, sessionID uuid.UUID) (database.QrSession, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return database.QrSession{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	sess, err := s.newStore(tx).GetQrSession(ctx, sessionID)
	if err != nil {
		return database.QrSession{}, lookupErr(err, "qr session")
	}
	if sess.OutletID != outletID {
		return database.QrSession{}, fmt.Errorf("qr session: %w", ErrNotFound)
	}
	return sess, nil
}

// PatchItem changes quantity or notes while the item is NEW or FIRED. The
// item-level discount is re-applied to the new line gross.
func (s *OrderService) PatchItem(ctx context.Context, req PatchItemRequest) (*database.OrderItem, error) {
	if req.Quantity != nil && *req.Quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	order, err := lockBillableOrder(ctx, store, req.OutletID, req.OrderID)
	if err != nil {
		return nil, err
	}
	if err := requireActiveOrder(order); err != nil {
		return nil, err
	}

	item, err := store.GetOrderItem(ctx, database.GetOrderItemParams{ID: req.ItemID, OrderID: order.ID})
	if err != nil {
		return nil, lookupErr(err, "order item")
	}
	editable, err := isItemEditable(item.Status)
	if err != nil {
		return nil, err
	}
	if !editable {
		return nil, fmt.Errorf("item is %s: %w", item.Status, ErrItemLocked)
	}

	qty := item.Quantity
	if req.Quantity != nil {
		qty = *req.Quantity
	}
	notes := item.Notes
	if req.Notes != nil {
		notes = optionalText(*req.Notes)
	}

	gross := numericToDecimal(item.UnitPrice).Mul(decimal.NewFromInt32(qty))
	itemDiscount := decimal.Zero
	if item.DiscountType.Valid {
		itemDiscount, err = discountAmount(item.DiscountType.DiscountType, numericToDecimal(item.DiscountValue), gross)
		if err != nil {
			return nil, err
		}
	}

	updated, err := store.PatchOrderItem(ctx, database.PatchOrderItemParams{
		ID:             item.ID,
		OrderID:        order.ID,
		Quantity:       qty,
		DiscountAmount: decimalToNumeric(itemDiscount),
		TotalAmount:    decimalToNumeric(gross.Sub(itemDiscount)),
		Notes:          notes,
	})
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("item changed while editing: %w", ErrItemLocked)
		}
		return nil, fmt.Errorf("patch order item: %w", err)
	}

	if _, err := recomputeOrderBalance(ctx, store, &order); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	s.notifier.Notify(ctx, Event{Type: EventItemUpdated, OutletID: order.OutletID, OrderID: order.ID, Data: updated})
	return &updated, nil
}

// VoidItem cancels an item that has not been served. The row is kept for
// audit and drops out of every total and the kitchen feed. Voiding a voided
// item returns it unchanged.
func (s *OrderService) VoidItem(ctx context.Context, outletID, orderID, itemID uuid.UUID) (*database.OrderItem, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	order, err := lockBillableOrder(ctx, store, outletID, orderID)
	if err != nil {
		return nil, err
	}

	item, err := store.GetOrderItem(ctx, database.GetOrderItemParams{ID: itemID, OrderID: order.ID})
	if err != nil {
		return nil, lookupErr(err, "order item")
	}
	noop, err := checkItemVoid(item.Status)
	if err != nil {
		return nil, err
	}
	if noop {
		return &item, nil
	}
	if err := requireActiveOrder(order); err != nil {
		return nil, err
	}

	voided, err := store.VoidOrderItem(ctx, database.VoidOrderItemParams{
		ID:       item.ID,
		OrderID:  order.ID,
		VoidedAt: s.clock.Now(),
	})
	if err != nil {
		if isNoRows(err) {
			// The kitchen served it between our read and the update.
			return nil, fmt.Errorf("void order item: %w", ErrConflict)
		}
		return nil, fmt.Errorf("void order item: %w", err)
	}

	if _, err := recomputeOrderBalance(ctx, store, &order); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	s.notifier.Notify(ctx, Event{Type: EventItemVoided, OutletID: order.OutletID, OrderID: order.ID, Data: voided})
	return &voided, nil
}

// Close settles an order as PAID, or CLOSED for an admin close. Both need a
// zero balance and every item SERVED or VOIDED. An overpaid order may close;
// the refund shows up in the returned totals.
func (s *OrderService) Close(ctx context.Context, outletID, orderID uuid.UUID, mode database.OrderStatus) (*OrderResult, error) {
	switch mode {
	case database.OrderStatusPAID, database.OrderStatusCLOSED:
	default:
		return nil, fmt.Errorf("close mode %q: %w", mode, ErrInvalidStatus)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)
	now := s.clock.Now()

	order, err := lockBillableOrder(ctx, store, outletID, orderID)
	if err != nil {
		return nil, err
	}
	if err := checkOrderTransition(order.Status, mode); err != nil {
		return nil, err
	}

	totals, err := orderTotals(ctx, store, order)
	if err != nil {
		return nil, err
	}
	if totals.RawBalance.IsPositive() {
		return nil, &BalanceError{Owed: totals.RawBalance}
	}
	unsettled, err := store.CountUnsettledOrderItems(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("count unsettled items: %w", err)
	}
	if unsettled > 0 {
		return nil, fmt.Errorf("%d items outstanding: %w", unsettled, ErrItemsNotServed)
	}

	closed, err := store.CloseOrder(ctx, database.CloseOrderParams{ID: order.ID, Status: mode, ClosedAt: now})
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("close order: %w", ErrConflict)
		}
		return nil, fmt.Errorf("close order: %w", err)
	}
	if err := releaseOrder(ctx, store, closed, now); err != nil {
		return nil, err
	}
	totals, err = recomputeOrderBalance(ctx, store, &closed)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	s.notifier.Notify(ctx, Event{Type: EventOrderClosed, OutletID: closed.OutletID, OrderID: closed.ID, Data: closed})
	return &OrderResult{Order: closed, Totals: totals}, nil
}

// Void cancels an order that has no confirmed payment. Pending payments are
// voided with it and the order leaves any open billing group.
func (s *OrderService) Void(ctx context.Context, outletID, orderID uuid.UUID, reason string) (*OrderResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)
	now := s.clock.Now()

	order, err := lockBillableOrder(ctx, store, outletID, orderID)
	if err != nil {
		return nil, err
	}
	if err := checkOrderTransition(order.Status, database.OrderStatusVOIDED); err != nil {
		return nil, err
	}
	confirmed, err := store.CountConfirmedPaymentsByOrder(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("count confirmed payments: %w", err)
	}
	if confirmed > 0 {
		return nil, ErrPaymentConfirmed
	}

	voided, err := store.VoidOrder(ctx, database.VoidOrderParams{
		ID:         order.ID,
		VoidReason: optionalText(reason),
		ClosedAt:   now,
	})
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("void order: %w", ErrConflict)
		}
		return nil, fmt.Errorf("void order: %w", err)
	}

	groupIDs, err := store.ListOpenGroupIDsForOrder(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("list open groups: %w", err)
	}
	for _, gid := range groupIDs {
		if _, err := store.RemoveBillingGroupOrder(ctx, database.RemoveBillingGroupOrderParams{GroupID: gid, OrderID: order.ID}); err != nil {
			return nil, fmt.Errorf("leave billing group: %w", err)
		}
		group, err := store.GetBillingGroup(ctx, database.GetBillingGroupParams{ID: gid, OutletID: order.OutletID})
		if err != nil {
			return nil, lookupErr(err, "billing group")
		}
		if _, err := recomputeGroupBalance(ctx, store, &group); err != nil {
			return nil, err
		}
	}

	if err := releaseOrder(ctx, store, voided, now); err != nil {
		return nil, err
	}
	totals, err := recomputeOrderBalance(ctx, store, &voided)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	s.notifier.Notify(ctx, Event{Type: EventOrderVoided, OutletID: voided.OutletID, OrderID: voided.ID, Data: voided})
	return &OrderResult{Order: voided, Totals: totals}, nil
}

// Get loads an order with its items, tables, discount, payments and totals
// from one snapshot.
func (s *OrderService) Get(ctx context.Context, outletID, orderID uuid.UUID) (*OrderDetail, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	order, err := store.GetOrder(ctx, database.GetOrderParams{ID: orderID, OutletID: outletID})
	if err != nil {
		return nil, lookupErr(err, "order")
	}

	items, err := store.ListOrderItemsByOrder(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("list order items: %w", err)
	}
	options, err := store.ListOrderItemOptionsByOrder(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("list order item options: %w", err)
	}
	optionsByItem := make(map[uuid.UUID][]database.OrderItemOptionSelection)
	for _, o := range options {
		optionsByItem[o.OrderItemID] = append(optionsByItem[o.OrderItemID], o)
	}

	detail := &OrderDetail{
		Order:    order,
		Items:    make([]OrderItemResult, 0, len(items)),
		Tables:   []database.OrderTable{},
		Payments: []database.Payment{},
	}
	for _, it := range items {
		opts := optionsByItem[it.ID]
		if opts == nil {
			opts = []database.OrderItemOptionSelection{}
		}
		detail.Items = append(detail.Items, OrderItemResult{Item: it, Options: opts})
	}

	tables, err := store.ListOrderTables(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("list order tables: %w", err)
	}
	if tables != nil {
		detail.Tables = tables
	}

	disc, err := store.GetOrderDiscount(ctx, order.ID)
	switch {
	case err == nil:
		detail.Discount = &disc
	case isNoRows(err):
	default:
		return nil, fmt.Errorf("get order discount: %w", err)
	}

	payments, err := store.ListPaymentsByOrder(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	if payments != nil {
		detail.Payments = payments
	}

	detail.Totals, err = orderTotals(ctx, store, order)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return detail, nil
}

// LinkTable merges another table onto an active order. Linking a table that
// is already linked is a no-op.
func (s *OrderService) LinkTable(ctx context.Context, outletID, orderID, tableID uuid.UUID) (*database.OrderTable, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	order, err := lockBillableOrder(ctx, store, outletID, orderID)
	if err != nil {
		return nil, err
	}
	if err := requireActiveOrder(order); err != nil {
		return nil, err
	}

	table, err := store.GetTableForUpdate(ctx, database.GetTableForUpdateParams{ID: tableID, OutletID: outletID})
	if err != nil {
		return nil, lookupErr(err, "table")
	}
	if table.IsDeleted {
		return nil, fmt.Errorf("table: %w", ErrNotFound)
	}
	if table.Status == database.TableStatusOUTOFSERVICE {
		return nil, fmt.Errorf("table %s: %w", table.Code, ErrTableUnavailable)
	}

	existing, err := store.GetOpenOrderTable(ctx, database.GetOpenOrderTableParams{OrderID: order.ID, TableID: table.ID})
	if err == nil {
		return &existing, nil
	}
	if !isNoRows(err) {
		return nil, fmt.Errorf("get order table: %w", err)
	}

	other, err := store.GetActiveOrderForTable(ctx, table.ID)
	switch {
	case err == nil && other.ID != order.ID:
		return nil, fmt.Errorf("table %s held by %s: %w", table.Code, other.OrderNumber, ErrTableOccupied)
	case err != nil && !isNoRows(err):
		return nil, fmt.Errorf("get active order: %w", err)
	}

	link, err := store.CreateOrderTable(ctx, database.CreateOrderTableParams{
		OrderID:  order.ID,
		TableID:  table.ID,
		LinkedAt: s.clock.Now(),
	})
	if err != nil {
		return nil, fmt.Errorf("link table: %w", err)
	}
	if table.Status != database.TableStatusOCCUPIED {
		if _, err := store.UpdateTableStatus(ctx, database.UpdateTableStatusParams{
			ID:     table.ID,
			Status: database.TableStatusOCCUPIED,
		}); err != nil {
			return nil, fmt.Errorf("occupy table: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return &link, nil
}

// UnlinkTable splits a table off an active order. The order keeps at least
// one table.
func (s *OrderService) UnlinkTable(ctx context.Context, outletID, orderID, tableID uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)
	now := s.clock.Now()

	order, err := lockBillableOrder(ctx, store, outletID, orderID)
	if err != nil {
		return err
	}
	if err := requireActiveOrder(order); err != nil {
		return err
	}

	links, err := store.ListOrderTables(ctx, order.ID)
	if err != nil {
		return fmt.Errorf("list order tables: %w", err)
	}
	open, linked := 0, false
	for _, l := range links {
		if l.UnlinkedAt.Valid {
			continue
		}
		open++
		if l.TableID == tableID {
			linked = true
		}
	}
	if !linked {
		return fmt.Errorf("order table: %w", ErrNotFound)
	}
	if open == 1 {
		return ErrLastTable
	}

	n, err := store.UnlinkOrderTable(ctx, database.UnlinkOrderTableParams{OrderID: order.ID, TableID: tableID, UnlinkedAt: now})
	if err != nil {
		return fmt.Errorf("unlink table: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("unlink table: %w", ErrConflict)
	}
	if err := releaseTable(ctx, store, outletID, tableID, now); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// SetDiscount replaces the order's single discount.
func (s *OrderService) SetDiscount(ctx context.Context, req SetDiscountRequest) (*OrderResult, error) {
	value, err := decimal.NewFromString(req.Value)
	if err != nil {
		return nil, fmt.Errorf("discount value %q: %w", req.Value, ErrInvalidDiscount)
	}
	discType := database.DiscountType(req.DiscountType)
	if err := validateDiscount(discType, value); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	order, err := lockBillableOrder(ctx, store, req.OutletID, req.OrderID)
	if err != nil {
		return nil, err
	}
	if err := requireActiveOrder(order); err != nil {
		return nil, err
	}

	if _, err := store.UpsertOrderDiscount(ctx, database.UpsertOrderDiscountParams{
		OrderID:      order.ID,
		DiscountType: discType,
		Value:        decimalToNumeric(value),
		Note:         optionalText(req.Note),
	}); err != nil {
		return nil, fmt.Errorf("upsert order discount: %w", err)
	}
	totals, err := recomputeOrderBalance(ctx, store, &order)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return &OrderResult{Order: order, Totals: totals}, nil
}

// RemoveDiscount drops the order discount. Removing a missing discount is a
// no-op.
func (s *OrderService) RemoveDiscount(ctx context.Context, outletID, orderID uuid.UUID) (*OrderResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	order, err := lockBillableOrder(ctx, store, outletID, orderID)
	if err != nil {
		return nil, err
	}
	if err := requireActiveOrder(order); err != nil {
		return nil, err
	}
	if _, err := store.DeleteOrderDiscount(ctx, order.ID); err != nil {
		return nil, fmt.Errorf("delete order discount: %w", err)
	}
	totals, err := recomputeOrderBalance(ctx, store, &order)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return &OrderResult{Order: order, Totals: totals}, nil
}
