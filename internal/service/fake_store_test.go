package service

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/kiwari-pos/dinein/internal/database"
	"github.com/shopspring/decimal"
)

// fakeStore is an in-memory stand-in for *database.Queries. Every
// conditional UPDATE is applied under one mutex, so the compare-and-set
// behaviour the services rely on holds across goroutines the same way it
// does in Postgres. Row locks are not modelled, only recorded in the order
// they are taken.
type fakeStore struct {
	mu    sync.Mutex
	clock *fakeClock
	hooks map[string]func()

	tables      map[uuid.UUID]*database.Table
	sessions    []*database.QrSession
	orders      []*database.Order
	orderTables []*database.OrderTable
	items       []*database.OrderItem
	selections  []*database.OrderItemOptionSelection
	discounts   map[uuid.UUID]*database.OrderDiscount
	groups      map[uuid.UUID]*database.BillingGroup
	members     []database.BillingGroupOrder
	payments    []*database.Payment

	menuItems   map[uuid.UUID]fakeMenuItem
	prices      map[uuid.UUID]fakePrice
	menuOptions map[uuid.UUID]database.GetMenuOptionForOrderRow

	// failCreateOrder makes the next n CreateOrder calls fail with an order
	// number collision.
	failCreateOrder int

	locks []string
}

var (
	_ TableStore   = (*fakeStore)(nil)
	_ OrderStore   = (*fakeStore)(nil)
	_ KitchenStore = (*fakeStore)(nil)
	_ GroupStore   = (*fakeStore)(nil)
	_ PaymentStore = (*fakeStore)(nil)
	_ BillingStore = (*fakeStore)(nil)
)

type fakeMenuItem struct {
	outletID uuid.UUID
	name     string
	station  string
}

type fakePrice struct {
	menuItemID uuid.UUID
	price      decimal.Decimal
}

func newFakeStore(clock *fakeClock) *fakeStore {
	return &fakeStore{
		clock:       clock,
		hooks:       make(map[string]func()),
		tables:      make(map[uuid.UUID]*database.Table),
		discounts:   make(map[uuid.UUID]*database.OrderDiscount),
		groups:      make(map[uuid.UUID]*database.BillingGroup),
		menuItems:   make(map[uuid.UUID]fakeMenuItem),
		prices:      make(map[uuid.UUID]fakePrice),
		menuOptions: make(map[uuid.UUID]database.GetMenuOptionForOrderRow),
	}
}

// onNext runs fn once, the next time the named store method is called and
// before it touches any state.
func (f *fakeStore) onNext(method string, fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hooks[method] = fn
}

func (f *fakeStore) hook(method string) {
	f.mu.Lock()
	fn := f.hooks[method]
	delete(f.hooks, method)
	f.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// --- Seeding and inspection ---

func (f *fakeStore) seedTable(outletID uuid.UUID, code string, status database.TableStatus) database.Table {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.clock.Now()
	t := &database.Table{
		ID:        uuid.New(),
		OutletID:  outletID,
		Code:      code,
		Status:    status,
		QrCode:    "qr-" + code,
		CreatedAt: now,
		UpdatedAt: now,
	}
	f.tables[t.ID] = t
	return *t
}

func (f *fakeStore) seedMenuItem(outletID uuid.UUID, name, station, price string) (uuid.UUID, uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	itemID, priceID := uuid.New(), uuid.New()
	f.menuItems[itemID] = fakeMenuItem{outletID: outletID, name: name, station: station}
	f.prices[priceID] = fakePrice{menuItemID: itemID, price: decimal.RequireFromString(price)}
	return itemID, priceID
}

func (f *fakeStore) seedOption(menuItemID uuid.UUID, name, extra string) uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.New()
	f.menuOptions[id] = database.GetMenuOptionForOrderRow{
		ID:         id,
		MenuItemID: menuItemID,
		Name:       name,
		ExtraPrice: decimalToNumeric(decimal.RequireFromString(extra)),
	}
	return id
}

func (f *fakeStore) setPrice(priceID uuid.UUID, price string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.prices[priceID]
	p.price = decimal.RequireFromString(price)
	f.prices[priceID] = p
}

func (f *fakeStore) setTableStatus(id uuid.UUID, status database.TableStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tables[id].Status = status
}

func (f *fakeStore) softDeleteTable(id uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tables[id].IsDeleted = true
}

func (f *fakeStore) noteLock(kind string, id uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.locks = append(f.locks, kind+":"+id.String())
}

// takeLocks returns the row locks taken since the last call.
func (f *fakeStore) takeLocks() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.locks
	f.locks = nil
	return out
}

func (f *fakeStore) table(id uuid.UUID) database.Table {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.tables[id]
}

func (f *fakeStore) order(id uuid.UUID) database.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	if o := f.findOrder(id); o != nil {
		return *o
	}
	return database.Order{}
}

func (f *fakeStore) item(id uuid.UUID) database.OrderItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	if it := f.findItem(id); it != nil {
		return *it
	}
	return database.OrderItem{}
}

func (f *fakeStore) itemsOf(orderID uuid.UUID) []database.OrderItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []database.OrderItem
	for _, it := range f.items {
		if it.OrderID == orderID {
			out = append(out, *it)
		}
	}
	return out
}

func (f *fakeStore) payment(id uuid.UUID) database.Payment {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p := f.findPayment(id); p != nil {
		return *p
	}
	return database.Payment{}
}

func (f *fakeStore) group(id uuid.UUID) database.BillingGroup {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.groups[id]
}

func (f *fakeStore) sessionsOf(tableID uuid.UUID) []database.QrSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []database.QrSession
	for _, s := range f.sessions {
		if s.TableID == tableID {
			out = append(out, *s)
		}
	}
	return out
}

// --- Internal lookups, callers hold f.mu ---

func (f *fakeStore) findOrder(id uuid.UUID) *database.Order {
	for _, o := range f.orders {
		if o.ID == id {
			return o
		}
	}
	return nil
}

func (f *fakeStore) findItem(id uuid.UUID) *database.OrderItem {
	for _, it := range f.items {
		if it.ID == id {
			return it
		}
	}
	return nil
}

func (f *fakeStore) findPayment(id uuid.UUID) *database.Payment {
	for _, p := range f.payments {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func (f *fakeStore) findSession(id uuid.UUID) *database.QrSession {
	for _, s := range f.sessions {
		if s.ID == id {
			return s
		}
	}
	return nil
}

func active(s database.OrderStatus) bool {
	return s == database.OrderStatusOPEN || s == database.OrderStatusINPROGRESS
}

func alive(s *database.QrSession, now time.Time) bool {
	return !s.ClosedAt.Valid && (!s.ExpiresAt.Valid || s.ExpiresAt.Time.After(now))
}

func (f *fakeStore) isMember(groupID, orderID uuid.UUID) bool {
	for _, m := range f.members {
		if m.GroupID == groupID && m.OrderID == orderID {
			return true
		}
	}
	return false
}

func (f *fakeStore) activeOrdersForTable(tableID uuid.UUID) []*database.Order {
	var out []*database.Order
	for _, o := range f.orders {
		if !active(o.Status) {
			continue
		}
		for _, l := range f.orderTables {
			if l.OrderID == o.ID && l.TableID == tableID && !l.UnlinkedAt.Valid {
				out = append(out, o)
				break
			}
		}
	}
	return out
}

// --- Tables and QR sessions ---

func (f *fakeStore) GetTableByCode(ctx context.Context, arg database.GetTableByCodeParams) (database.Table, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.tables {
		if t.OutletID == arg.OutletID && t.Code == arg.Code && !t.IsDeleted {
			return *t, nil
		}
	}
	return database.Table{}, pgx.ErrNoRows
}

func (f *fakeStore) GetTable(ctx context.Context, arg database.GetTableParams) (database.Table, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tables[arg.ID]
	if !ok || t.OutletID != arg.OutletID || t.IsDeleted {
		return database.Table{}, pgx.ErrNoRows
	}
	return *t, nil
}

func (f *fakeStore) GetTableForUpdate(ctx context.Context, arg database.GetTableForUpdateParams) (database.Table, error) {
	return f.GetTable(ctx, database.GetTableParams{ID: arg.ID, OutletID: arg.OutletID})
}

func (f *fakeStore) UpdateTableStatus(ctx context.Context, arg database.UpdateTableStatusParams) (database.Table, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tables[arg.ID]
	if !ok {
		return database.Table{}, pgx.ErrNoRows
	}
	t.Status = arg.Status
	t.UpdatedAt = f.clock.Now()
	return *t, nil
}

func (f *fakeStore) GetAliveSessionForDevice(ctx context.Context, arg database.GetAliveSessionForDeviceParams) (database.QrSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.sessions) - 1; i >= 0; i-- {
		s := f.sessions[i]
		if s.TableID == arg.TableID && s.DeviceFingerprint == arg.DeviceFingerprint && alive(s, arg.Now) {
			return *s, nil
		}
	}
	return database.QrSession{}, pgx.ErrNoRows
}

func (f *fakeStore) GetLatestAliveSession(ctx context.Context, arg database.GetLatestAliveSessionParams) (database.QrSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.sessions) - 1; i >= 0; i-- {
		s := f.sessions[i]
		if s.TableID == arg.TableID && alive(s, arg.Now) {
			return *s, nil
		}
	}
	return database.QrSession{}, pgx.ErrNoRows
}

func (f *fakeStore) CreateQrSession(ctx context.Context, arg database.CreateQrSessionParams) (database.QrSession, error) {
	f.hook("CreateQrSession")
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &database.QrSession{
		ID:                uuid.New(),
		OutletID:          arg.OutletID,
		TableID:           arg.TableID,
		DeviceFingerprint: arg.DeviceFingerprint,
		IpAddress:         arg.IpAddress,
		CreatedAt:         arg.CreatedAt,
		LastSeenAt:        arg.CreatedAt,
		ExpiresAt:         arg.ExpiresAt,
	}
	f.sessions = append(f.sessions, s)
	return *s, nil
}

func (f *fakeStore) GetQrSession(ctx context.Context, id uuid.UUID) (database.QrSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s := f.findSession(id); s != nil {
		return *s, nil
	}
	return database.QrSession{}, pgx.ErrNoRows
}

func (f *fakeStore) TouchQrSession(ctx context.Context, arg database.TouchQrSessionParams) (database.QrSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.findSession(arg.ID)
	if s == nil || !alive(s, arg.LastSeenAt) {
		return database.QrSession{}, pgx.ErrNoRows
	}
	s.LastSeenAt = arg.LastSeenAt
	return *s, nil
}

func (f *fakeStore) CloseQrSession(ctx context.Context, arg database.CloseQrSessionParams) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.findSession(arg.ID)
	if s == nil || s.ClosedAt.Valid {
		return 0, nil
	}
	s.ClosedAt = timestamptz(arg.ClosedAt)
	return 1, nil
}

func (f *fakeStore) CloseQrSessionsForTable(ctx context.Context, arg database.CloseQrSessionsForTableParams) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, s := range f.sessions {
		if s.TableID == arg.TableID && !s.ClosedAt.Valid {
			s.ClosedAt = timestamptz(arg.ClosedAt)
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) CloseExpiredQrSessions(ctx context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, s := range f.sessions {
		if !s.ClosedAt.Valid && s.ExpiresAt.Valid && !s.ExpiresAt.Time.After(now) {
			s.ClosedAt = s.ExpiresAt
			n++
		}
	}
	return n, nil
}

// --- Orders ---

func (f *fakeStore) GetNextOrderNumber(ctx context.Context, outletID uuid.UUID) (int32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int32
	for _, o := range f.orders {
		if o.OutletID == outletID {
			n++
		}
	}
	return n + 1, nil
}

func (f *fakeStore) CreateOrder(ctx context.Context, arg database.CreateOrderParams) (database.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	collision := &pgconn.PgError{Code: "23505", ConstraintName: "orders_outlet_id_order_number_key"}
	if f.failCreateOrder > 0 {
		f.failCreateOrder--
		return database.Order{}, collision
	}
	for _, o := range f.orders {
		if o.OutletID == arg.OutletID && o.OrderNumber == arg.OrderNumber {
			return database.Order{}, collision
		}
	}
	now := f.clock.Now()
	o := &database.Order{
		ID:            uuid.New(),
		OutletID:      arg.OutletID,
		OrderNumber:   arg.OrderNumber,
		TableID:       arg.TableID,
		QrSessionID:   arg.QrSessionID,
		OpenedBy:      arg.OpenedBy,
		Status:        database.OrderStatusOPEN,
		BalanceAmount: decimalToNumeric(decimal.Zero),
		Notes:         arg.Notes,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	f.orders = append(f.orders, o)
	return *o, nil
}

func (f *fakeStore) GetOrder(ctx context.Context, arg database.GetOrderParams) (database.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o := f.findOrder(arg.ID)
	if o == nil || o.OutletID != arg.OutletID {
		return database.Order{}, pgx.ErrNoRows
	}
	return *o, nil
}

func (f *fakeStore) GetOrderForUpdate(ctx context.Context, arg database.GetOrderForUpdateParams) (database.Order, error) {
	f.noteLock("order", arg.ID)
	return f.GetOrder(ctx, database.GetOrderParams{ID: arg.ID, OutletID: arg.OutletID})
}

func (f *fakeStore) GetOrderByIDForUpdate(ctx context.Context, id uuid.UUID) (database.Order, error) {
	f.noteLock("order", id)
	f.mu.Lock()
	defer f.mu.Unlock()
	if o := f.findOrder(id); o != nil {
		return *o, nil
	}
	return database.Order{}, pgx.ErrNoRows
}

func (f *fakeStore) GetActiveOrderForTable(ctx context.Context, tableID uuid.UUID) (database.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	orders := f.activeOrdersForTable(tableID)
	if len(orders) == 0 {
		return database.Order{}, pgx.ErrNoRows
	}
	return *orders[len(orders)-1], nil
}

func (f *fakeStore) CountActiveOrdersForTable(ctx context.Context, tableID uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.activeOrdersForTable(tableID))), nil
}

func (f *fakeStore) MarkOrderInProgress(ctx context.Context, id uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o := f.findOrder(id)
	if o == nil || o.Status != database.OrderStatusOPEN {
		return 0, nil
	}
	o.Status = database.OrderStatusINPROGRESS
	return 1, nil
}

func (f *fakeStore) CloseOrder(ctx context.Context, arg database.CloseOrderParams) (database.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o := f.findOrder(arg.ID)
	if o == nil || !active(o.Status) {
		return database.Order{}, pgx.ErrNoRows
	}
	o.Status = arg.Status
	o.ClosedAt = timestamptz(arg.ClosedAt)
	return *o, nil
}

func (f *fakeStore) VoidOrder(ctx context.Context, arg database.VoidOrderParams) (database.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o := f.findOrder(arg.ID)
	if o == nil || !active(o.Status) {
		return database.Order{}, pgx.ErrNoRows
	}
	o.Status = database.OrderStatusVOIDED
	o.VoidReason = arg.VoidReason
	o.ClosedAt = timestamptz(arg.ClosedAt)
	return *o, nil
}

func (f *fakeStore) UpdateOrderBalance(ctx context.Context, arg database.UpdateOrderBalanceParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if o := f.findOrder(arg.ID); o != nil {
		o.BalanceAmount = arg.BalanceAmount
	}
	return nil
}

func (f *fakeStore) CreateOrderTable(ctx context.Context, arg database.CreateOrderTableParams) (database.OrderTable, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l := &database.OrderTable{ID: uuid.New(), OrderID: arg.OrderID, TableID: arg.TableID, LinkedAt: arg.LinkedAt}
	f.orderTables = append(f.orderTables, l)
	return *l, nil
}

func (f *fakeStore) GetOpenOrderTable(ctx context.Context, arg database.GetOpenOrderTableParams) (database.OrderTable, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range f.orderTables {
		if l.OrderID == arg.OrderID && l.TableID == arg.TableID && !l.UnlinkedAt.Valid {
			return *l, nil
		}
	}
	return database.OrderTable{}, pgx.ErrNoRows
}

func (f *fakeStore) UnlinkOrderTable(ctx context.Context, arg database.UnlinkOrderTableParams) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, l := range f.orderTables {
		if l.OrderID == arg.OrderID && l.TableID == arg.TableID && !l.UnlinkedAt.Valid {
			l.UnlinkedAt = timestamptz(arg.UnlinkedAt)
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) UnlinkAllOrderTables(ctx context.Context, arg database.UnlinkAllOrderTablesParams) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []uuid.UUID
	for _, l := range f.orderTables {
		if l.OrderID == arg.OrderID && !l.UnlinkedAt.Valid {
			l.UnlinkedAt = timestamptz(arg.UnlinkedAt)
			ids = append(ids, l.TableID)
		}
	}
	return ids, nil
}

func (f *fakeStore) ListOrderTables(ctx context.Context, orderID uuid.UUID) ([]database.OrderTable, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []database.OrderTable
	for _, l := range f.orderTables {
		if l.OrderID == orderID {
			out = append(out, *l)
		}
	}
	return out, nil
}

func (f *fakeStore) GetOrderDiscount(ctx context.Context, orderID uuid.UUID) (database.OrderDiscount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.discounts[orderID]; ok {
		return *d, nil
	}
	return database.OrderDiscount{}, pgx.ErrNoRows
}

func (f *fakeStore) UpsertOrderDiscount(ctx context.Context, arg database.UpsertOrderDiscountParams) (database.OrderDiscount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.clock.Now()
	d, ok := f.discounts[arg.OrderID]
	if !ok {
		d = &database.OrderDiscount{ID: uuid.New(), OrderID: arg.OrderID, CreatedAt: now}
		f.discounts[arg.OrderID] = d
	}
	d.DiscountType = arg.DiscountType
	d.Value = arg.Value
	d.Note = arg.Note
	d.UpdatedAt = now
	return *d, nil
}

func (f *fakeStore) DeleteOrderDiscount(ctx context.Context, orderID uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.discounts[orderID]; !ok {
		return 0, nil
	}
	delete(f.discounts, orderID)
	return 1, nil
}

func (f *fakeStore) GetMenuPriceForOrder(ctx context.Context, arg database.GetMenuPriceForOrderParams) (database.GetMenuPriceForOrderRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.prices[arg.PriceID]
	if !ok || p.menuItemID != arg.MenuItemID {
		return database.GetMenuPriceForOrderRow{}, pgx.ErrNoRows
	}
	if mi, ok := f.menuItems[arg.MenuItemID]; !ok || mi.outletID != arg.OutletID {
		return database.GetMenuPriceForOrderRow{}, pgx.ErrNoRows
	}
	return database.GetMenuPriceForOrderRow{
		MenuItemID: arg.MenuItemID,
		PriceID:    arg.PriceID,
		Price:      decimalToNumeric(p.price),
	}, nil
}

func (f *fakeStore) GetMenuOptionForOrder(ctx context.Context, id uuid.UUID) (database.GetMenuOptionForOrderRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if o, ok := f.menuOptions[id]; ok {
		return o, nil
	}
	return database.GetMenuOptionForOrderRow{}, pgx.ErrNoRows
}

// --- Order items ---

func (f *fakeStore) CreateOrderItem(ctx context.Context, arg database.CreateOrderItemParams) (database.OrderItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.clock.Now()
	it := &database.OrderItem{
		ID:              uuid.New(),
		OrderID:         arg.OrderID,
		MenuItemID:      arg.MenuItemID,
		MenuItemPriceID: arg.MenuItemPriceID,
		Quantity:        arg.Quantity,
		UnitPrice:       arg.UnitPrice,
		DiscountType:    arg.DiscountType,
		DiscountValue:   arg.DiscountValue,
		DiscountAmount:  arg.DiscountAmount,
		TotalAmount:     arg.TotalAmount,
		Notes:           arg.Notes,
		Status:          database.OrderItemStatusNEW,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	f.items = append(f.items, it)
	return *it, nil
}

func (f *fakeStore) CreateOrderItemOption(ctx context.Context, arg database.CreateOrderItemOptionParams) (database.OrderItemOptionSelection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &database.OrderItemOptionSelection{
		ID:               uuid.New(),
		OrderItemID:      arg.OrderItemID,
		MenuItemOptionID: arg.MenuItemOptionID,
		Name:             arg.Name,
		ExtraPrice:       arg.ExtraPrice,
	}
	f.selections = append(f.selections, s)
	return *s, nil
}

func (f *fakeStore) ListOrderItemOptionsByOrder(ctx context.Context, orderID uuid.UUID) ([]database.OrderItemOptionSelection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []database.OrderItemOptionSelection
	for _, s := range f.selections {
		if it := f.findItem(s.OrderItemID); it != nil && it.OrderID == orderID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeStore) GetOrderItem(ctx context.Context, arg database.GetOrderItemParams) (database.OrderItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	it := f.findItem(arg.ID)
	if it == nil || it.OrderID != arg.OrderID {
		return database.OrderItem{}, pgx.ErrNoRows
	}
	return *it, nil
}

func (f *fakeStore) GetOutletOrderItem(ctx context.Context, arg database.GetOutletOrderItemParams) (database.OrderItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	it := f.findItem(arg.ID)
	if it == nil {
		return database.OrderItem{}, pgx.ErrNoRows
	}
	if o := f.findOrder(it.OrderID); o == nil || o.OutletID != arg.OutletID {
		return database.OrderItem{}, pgx.ErrNoRows
	}
	return *it, nil
}

func (f *fakeStore) ListOrderItemsByOrder(ctx context.Context, orderID uuid.UUID) ([]database.OrderItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []database.OrderItem
	for _, it := range f.items {
		if it.OrderID == orderID {
			out = append(out, *it)
		}
	}
	return out, nil
}

func (f *fakeStore) PatchOrderItem(ctx context.Context, arg database.PatchOrderItemParams) (database.OrderItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	it := f.findItem(arg.ID)
	if it == nil || it.OrderID != arg.OrderID ||
		(it.Status != database.OrderItemStatusNEW && it.Status != database.OrderItemStatusFIRED) {
		return database.OrderItem{}, pgx.ErrNoRows
	}
	it.Quantity = arg.Quantity
	it.DiscountAmount = arg.DiscountAmount
	it.TotalAmount = arg.TotalAmount
	it.Notes = arg.Notes
	it.UpdatedAt = f.clock.Now()
	return *it, nil
}

func (f *fakeStore) VoidOrderItem(ctx context.Context, arg database.VoidOrderItemParams) (database.OrderItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	it := f.findItem(arg.ID)
	if it == nil || it.OrderID != arg.OrderID ||
		it.Status == database.OrderItemStatusSERVED || it.Status == database.OrderItemStatusVOIDED {
		return database.OrderItem{}, pgx.ErrNoRows
	}
	it.Status = database.OrderItemStatusVOIDED
	it.VoidedAt = timestamptz(arg.VoidedAt)
	it.UpdatedAt = f.clock.Now()
	return *it, nil
}

func (f *fakeStore) FireNewOrderItems(ctx context.Context, arg database.FireNewOrderItemsParams) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, it := range f.items {
		if it.OrderID == arg.OrderID && it.Status == database.OrderItemStatusNEW {
			it.Status = database.OrderItemStatusFIRED
			it.FiredAt = timestamptz(arg.FiredAt)
			it.UpdatedAt = f.clock.Now()
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) AdvanceOrderItem(ctx context.Context, arg database.AdvanceOrderItemParams) (database.OrderItem, error) {
	f.hook("AdvanceOrderItem")
	f.mu.Lock()
	defer f.mu.Unlock()
	it := f.findItem(arg.ID)
	if it == nil || it.Status != arg.FromStatus {
		return database.OrderItem{}, pgx.ErrNoRows
	}
	it.Status = arg.ToStatus
	switch arg.ToStatus {
	case database.OrderItemStatusREADY:
		it.ReadyAt = timestamptz(arg.At)
	case database.OrderItemStatusSERVED:
		it.ServedAt = timestamptz(arg.At)
	}
	it.UpdatedAt = f.clock.Now()
	return *it, nil
}

func (f *fakeStore) CountUnsettledOrderItems(ctx context.Context, orderID uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, it := range f.items {
		if it.OrderID == orderID && it.Status != database.OrderItemStatusSERVED && it.Status != database.OrderItemStatusVOIDED {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) sumItems(match func(*database.OrderItem) bool) (pgtype.Numeric, pgtype.Numeric) {
	sub, disc := decimal.Zero, decimal.Zero
	for _, it := range f.items {
		if it.Status == database.OrderItemStatusVOIDED || !match(it) {
			continue
		}
		sub = sub.Add(numericToDecimal(it.UnitPrice).Mul(decimal.NewFromInt32(it.Quantity)))
		disc = disc.Add(numericToDecimal(it.DiscountAmount))
	}
	return decimalToNumeric(sub), decimalToNumeric(disc)
}

func (f *fakeStore) SumOrderItems(ctx context.Context, orderID uuid.UUID) (database.SumOrderItemsRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, disc := f.sumItems(func(it *database.OrderItem) bool { return it.OrderID == orderID })
	return database.SumOrderItemsRow{SubTotal: sub, ItemDiscountTotal: disc}, nil
}

func (f *fakeStore) ListKitchenItems(ctx context.Context, arg database.ListKitchenItemsParams) ([]database.ListKitchenItemsRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	wanted := make(map[database.OrderItemStatus]bool, len(arg.Statuses))
	for _, s := range arg.Statuses {
		wanted[database.OrderItemStatus(s)] = true
	}
	afterID := uuid.UUID(arg.AfterID.Bytes)

	var rows []database.ListKitchenItemsRow
	for _, it := range f.items {
		o := f.findOrder(it.OrderID)
		if o == nil || o.OutletID != arg.OutletID || o.Status == database.OrderStatusVOIDED {
			continue
		}
		if it.Status == database.OrderItemStatusVOIDED || !wanted[it.Status] || it.UpdatedAt.Before(arg.Since) {
			continue
		}
		if arg.AfterCreatedAt.Valid && !itemAfter(it, arg.AfterCreatedAt.Time, afterID) {
			continue
		}
		row := database.ListKitchenItemsRow{
			OrderItem:   *it,
			OrderNumber: o.OrderNumber,
			TableID:     o.TableID,
		}
		if mi, ok := f.menuItems[it.MenuItemID]; ok {
			row.MenuItem = mi.name
			row.Station = optionalText(mi.station)
		}
		if o.TableID.Valid {
			if t, ok := f.tables[o.TableID.Bytes]; ok {
				row.TableCode = optionalText(t.Code)
			}
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i].OrderItem, rows[j].OrderItem
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return bytes.Compare(a.ID[:], b.ID[:]) < 0
	})
	if arg.Limit > 0 && int32(len(rows)) > arg.Limit {
		rows = rows[:arg.Limit]
	}
	return rows, nil
}

func itemAfter(it *database.OrderItem, createdAt time.Time, id uuid.UUID) bool {
	if !it.CreatedAt.Equal(createdAt) {
		return it.CreatedAt.After(createdAt)
	}
	return bytes.Compare(it.ID[:], id[:]) > 0
}

// --- Billing groups ---

func (f *fakeStore) CreateBillingGroup(ctx context.Context, arg database.CreateBillingGroupParams) (database.BillingGroup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.clock.Now()
	g := &database.BillingGroup{
		ID:            uuid.New(),
		OutletID:      arg.OutletID,
		Status:        database.BillingGroupStatusOPEN,
		BalanceAmount: decimalToNumeric(decimal.Zero),
		CreatedBy:     arg.CreatedBy,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	f.groups[g.ID] = g
	return *g, nil
}

func (f *fakeStore) GetBillingGroup(ctx context.Context, arg database.GetBillingGroupParams) (database.BillingGroup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.groups[arg.ID]
	if !ok || g.OutletID != arg.OutletID {
		return database.BillingGroup{}, pgx.ErrNoRows
	}
	return *g, nil
}

func (f *fakeStore) GetBillingGroupForUpdate(ctx context.Context, arg database.GetBillingGroupForUpdateParams) (database.BillingGroup, error) {
	f.noteLock("group", arg.ID)
	return f.GetBillingGroup(ctx, database.GetBillingGroupParams{ID: arg.ID, OutletID: arg.OutletID})
}

func (f *fakeStore) GetBillingGroupByIDForUpdate(ctx context.Context, id uuid.UUID) (database.BillingGroup, error) {
	f.noteLock("group", id)
	f.mu.Lock()
	defer f.mu.Unlock()
	if g, ok := f.groups[id]; ok {
		return *g, nil
	}
	return database.BillingGroup{}, pgx.ErrNoRows
}

func (f *fakeStore) SetBillingGroupDiscount(ctx context.Context, arg database.SetBillingGroupDiscountParams) (database.BillingGroup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.groups[arg.ID]
	if !ok || g.Status != database.BillingGroupStatusOPEN {
		return database.BillingGroup{}, pgx.ErrNoRows
	}
	g.DiscountType = arg.DiscountType
	g.DiscountValue = arg.DiscountValue
	return *g, nil
}

func (f *fakeStore) UpdateBillingGroupBalance(ctx context.Context, arg database.UpdateBillingGroupBalanceParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if g, ok := f.groups[arg.ID]; ok {
		g.BalanceAmount = arg.BalanceAmount
	}
	return nil
}

func (f *fakeStore) CloseBillingGroup(ctx context.Context, arg database.CloseBillingGroupParams) (database.BillingGroup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.groups[arg.ID]
	if !ok || g.Status != database.BillingGroupStatusOPEN {
		return database.BillingGroup{}, pgx.ErrNoRows
	}
	g.Status = database.BillingGroupStatusCLOSED
	g.ClosedAt = timestamptz(arg.ClosedAt)
	g.BalanceAmount = decimalToNumeric(decimal.Zero)
	return *g, nil
}

func (f *fakeStore) AddBillingGroupOrder(ctx context.Context, arg database.AddBillingGroupOrderParams) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.isMember(arg.GroupID, arg.OrderID) {
		return 0, nil
	}
	f.members = append(f.members, database.BillingGroupOrder{
		ID:        uuid.New(),
		GroupID:   arg.GroupID,
		OrderID:   arg.OrderID,
		CreatedAt: f.clock.Now(),
	})
	return 1, nil
}

func (f *fakeStore) RemoveBillingGroupOrder(ctx context.Context, arg database.RemoveBillingGroupOrderParams) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.members[:0]
	var n int64
	for _, m := range f.members {
		if m.GroupID == arg.GroupID && m.OrderID == arg.OrderID {
			n++
			continue
		}
		kept = append(kept, m)
	}
	f.members = kept
	return n, nil
}

func (f *fakeStore) ListBillingGroupOrderIDs(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []uuid.UUID
	for _, m := range f.members {
		if m.GroupID == groupID {
			ids = append(ids, m.OrderID)
		}
	}
	return ids, nil
}

func (f *fakeStore) ListOpenGroupIDsForOrder(ctx context.Context, orderID uuid.UUID) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []uuid.UUID
	for _, m := range f.members {
		if m.OrderID == orderID && f.groups[m.GroupID].Status == database.BillingGroupStatusOPEN {
			ids = append(ids, m.GroupID)
		}
	}
	return ids, nil
}

func (f *fakeStore) ListActiveGroupMembersForUpdate(ctx context.Context, groupID uuid.UUID) ([]database.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []database.Order
	for _, m := range f.members {
		if m.GroupID != groupID {
			continue
		}
		if o := f.findOrder(m.OrderID); o != nil && active(o.Status) {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0 })
	for _, o := range out {
		f.locks = append(f.locks, "order:"+o.ID.String())
	}
	return out, nil
}

func (f *fakeStore) SettleGroupOrders(ctx context.Context, arg database.SettleGroupOrdersParams) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, m := range f.members {
		if m.GroupID != arg.GroupID {
			continue
		}
		if o := f.findOrder(m.OrderID); o != nil && active(o.Status) {
			o.Status = database.OrderStatusPAID
			o.ClosedAt = timestamptz(arg.ClosedAt)
			o.BalanceAmount = decimalToNumeric(decimal.Zero)
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) IsOrderSettledByGroup(ctx context.Context, orderID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.members {
		if m.OrderID == orderID && f.groups[m.GroupID].Status == database.BillingGroupStatusCLOSED {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) SumGroupItems(ctx context.Context, groupID uuid.UUID) (database.SumGroupItemsRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, disc := f.sumItems(func(it *database.OrderItem) bool {
		o := f.findOrder(it.OrderID)
		return o != nil && o.Status != database.OrderStatusVOIDED && f.isMember(groupID, it.OrderID)
	})
	return database.SumGroupItemsRow{SubTotal: sub, ItemDiscountTotal: disc}, nil
}

// --- Payments ---

func (f *fakeStore) CreatePayment(ctx context.Context, arg database.CreatePaymentParams) (database.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := &database.Payment{
		ID:             uuid.New(),
		OutletID:       arg.OutletID,
		Scope:          arg.Scope,
		OrderID:        arg.OrderID,
		GroupID:        arg.GroupID,
		Method:         arg.Method,
		Status:         database.PaymentStatusPENDING,
		Amount:         arg.Amount,
		AmountReceived: arg.AmountReceived,
		ChangeAmount:   arg.ChangeAmount,
		Provider:       arg.Provider,
		PaymentCode:    arg.PaymentCode,
		ProcessedBy:    arg.ProcessedBy,
		ExpiresAt:      arg.ExpiresAt,
		CreatedAt:      f.clock.Now(),
	}
	f.payments = append(f.payments, p)
	return *p, nil
}

func (f *fakeStore) GetPayment(ctx context.Context, id uuid.UUID) (database.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p := f.findPayment(id); p != nil {
		return *p, nil
	}
	return database.Payment{}, pgx.ErrNoRows
}

func (f *fakeStore) GetPaymentForUpdate(ctx context.Context, id uuid.UUID) (database.Payment, error) {
	return f.GetPayment(ctx, id)
}

func (f *fakeStore) GetPaymentByCode(ctx context.Context, paymentCode string) (database.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.payments {
		if p.PaymentCode.Valid && p.PaymentCode.String == paymentCode {
			return *p, nil
		}
	}
	return database.Payment{}, pgx.ErrNoRows
}

func (f *fakeStore) GetPaymentByProviderTxn(ctx context.Context, arg database.GetPaymentByProviderTxnParams) (database.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.payments {
		if p.Provider.String == arg.Provider && p.ProviderTxnID.Valid && p.ProviderTxnID.String == arg.ProviderTxnID {
			return *p, nil
		}
	}
	return database.Payment{}, pgx.ErrNoRows
}

func (f *fakeStore) ConfirmPayment(ctx context.Context, arg database.ConfirmPaymentParams) (database.Payment, error) {
	f.hook("ConfirmPayment")
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.findPayment(arg.ID)
	if p == nil || p.Status != database.PaymentStatusPENDING {
		return database.Payment{}, pgx.ErrNoRows
	}
	provider, txn := p.Provider, p.ProviderTxnID
	if arg.Provider.Valid {
		provider = arg.Provider
	}
	if arg.ProviderTxnID.Valid {
		txn = arg.ProviderTxnID
	}
	if txn.Valid {
		for _, other := range f.payments {
			if other.ID != p.ID && other.Provider == provider && other.ProviderTxnID == txn {
				return database.Payment{}, &pgconn.PgError{Code: "23505", ConstraintName: "payments_provider_txn_key"}
			}
		}
	}
	p.Status = database.PaymentStatusCONFIRMED
	p.Provider = provider
	p.ProviderTxnID = txn
	if !p.ReceivedAt.Valid {
		p.ReceivedAt = timestamptz(arg.ConfirmedAt)
	}
	p.ConfirmedAt = timestamptz(arg.ConfirmedAt)
	return *p, nil
}

func (f *fakeStore) VoidPayment(ctx context.Context, arg database.VoidPaymentParams) (database.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.findPayment(arg.ID)
	if p == nil || p.Status != database.PaymentStatusPENDING {
		return database.Payment{}, pgx.ErrNoRows
	}
	p.Status = database.PaymentStatusVOIDED
	p.VoidedAt = timestamptz(arg.VoidedAt)
	return *p, nil
}

func (f *fakeStore) voidPendingWhere(match func(*database.Payment) bool, at time.Time) int64 {
	var n int64
	for _, p := range f.payments {
		if p.Status == database.PaymentStatusPENDING && match(p) {
			p.Status = database.PaymentStatusVOIDED
			p.VoidedAt = timestamptz(at)
			n++
		}
	}
	return n
}

func (f *fakeStore) VoidPendingPaymentsByOrder(ctx context.Context, arg database.VoidPendingPaymentsByOrderParams) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.voidPendingWhere(func(p *database.Payment) bool {
		return p.OrderID.Valid && p.OrderID.Bytes == arg.OrderID
	}, arg.VoidedAt), nil
}

func (f *fakeStore) VoidPendingPaymentsByGroup(ctx context.Context, arg database.VoidPendingPaymentsByGroupParams) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.voidPendingWhere(func(p *database.Payment) bool {
		return p.GroupID.Valid && p.GroupID.Bytes == arg.GroupID
	}, arg.VoidedAt), nil
}

func (f *fakeStore) ExpireStalePendingPayments(ctx context.Context, now time.Time) ([]database.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []database.Payment
	for _, p := range f.payments {
		if p.Status == database.PaymentStatusPENDING && p.ExpiresAt.Valid && !p.ExpiresAt.Time.After(now) {
			p.Status = database.PaymentStatusVOIDED
			p.VoidedAt = timestamptz(now)
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeStore) ListPaymentsByOrder(ctx context.Context, orderID uuid.UUID) ([]database.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []database.Payment
	for _, p := range f.payments {
		if p.OrderID.Valid && p.OrderID.Bytes == orderID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeStore) CountConfirmedPaymentsByOrder(ctx context.Context, orderID uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, p := range f.payments {
		if p.OrderID.Valid && p.OrderID.Bytes == orderID && p.Status == database.PaymentStatusCONFIRMED {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) SumConfirmedPaymentsByOrder(ctx context.Context, orderID uuid.UUID) (pgtype.Numeric, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sum := decimal.Zero
	for _, p := range f.payments {
		if p.Scope == database.PaymentScopeORDER && p.OrderID.Bytes == orderID && p.Status == database.PaymentStatusCONFIRMED {
			sum = sum.Add(numericToDecimal(p.Amount))
		}
	}
	return decimalToNumeric(sum), nil
}

func (f *fakeStore) SumConfirmedPaymentsByGroup(ctx context.Context, groupID uuid.UUID) (pgtype.Numeric, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sum := decimal.Zero
	for _, p := range f.payments {
		if p.Status != database.PaymentStatusCONFIRMED {
			continue
		}
		switch {
		case p.Scope == database.PaymentScopeGROUP && p.GroupID.Bytes == groupID:
			sum = sum.Add(numericToDecimal(p.Amount))
		case p.Scope == database.PaymentScopeORDER && f.isMember(groupID, p.OrderID.Bytes):
			sum = sum.Add(numericToDecimal(p.Amount))
		}
	}
	return decimalToNumeric(sum), nil
}
