package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/kiwari-pos/dinein/internal/database"
	"github.com/shopspring/decimal"
)

// --- Mock implementations ---

// mockTx implements pgx.Tx with only the methods we need.
// The unused methods panic so we catch accidental calls.
type mockTx struct {
	commitErr   error
	rollbackErr error
}

func (m *mockTx) Begin(ctx context.Context) (pgx.Tx, error) { panic("not implemented") }
func (m *mockTx) Commit(ctx context.Context) error          { return m.commitErr }
func (m *mockTx) Rollback(ctx context.Context) error        { return m.rollbackErr }
func (m *mockTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}
func (m *mockTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}
func (m *mockTx) LargeObjects() pgx.LargeObjects { panic("not implemented") }
func (m *mockTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}
func (m *mockTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}
func (m *mockTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	panic("not implemented")
}
func (m *mockTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	panic("not implemented")
}
func (m *mockTx) Conn() *pgx.Conn { panic("not implemented") }

// mockTxBeginner implements TxBeginner.
type mockTxBeginner struct {
	tx  pgx.Tx
	err error
}

func (m *mockTxBeginner) Begin(ctx context.Context) (pgx.Tx, error) {
	return m.tx, m.err
}

// fakeClock is a settable Clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingNotifier keeps every event it is handed.
type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingNotifier) Notify(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingNotifier) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func (r *recordingNotifier) count(eventType string) int {
	n := 0
	for _, t := range r.types() {
		if t == eventType {
			n++
		}
	}
	return n
}

// --- Test helpers ---

func makeNumeric(val string) pgtype.Numeric {
	var n pgtype.Numeric
	_ = n.Scan(val)
	return n
}

func numericEquals(n pgtype.Numeric, expected string) bool {
	d := numericToDecimal(n)
	exp, _ := decimal.NewFromString(expected)
	return d.Equal(exp)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDecimal(t *testing.T, name string, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Equal(dec(want)) {
		t.Errorf("%s: expected %s, got %s", name, want, got)
	}
}

// fixture wires every service to one in-memory store.
type fixture struct {
	store    *fakeStore
	clock    *fakeClock
	notifier *recordingNotifier
	tx       *mockTx

	tables   *TableService
	orders   *OrderService
	kitchen  *KitchenService
	groups   *GroupService
	payments *PaymentService
	billing  *BillingService

	outletID uuid.UUID
}

const (
	testSessionTTL = 2 * time.Hour
	testPaymentTTL = 15 * time.Minute
)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := newFakeClock()
	store := newFakeStore(clock)
	tx := &mockTx{}
	pool := &mockTxBeginner{tx: tx}
	rec := &recordingNotifier{}

	f := &fixture{
		store:    store,
		clock:    clock,
		notifier: rec,
		tx:       tx,
		outletID: uuid.New(),
	}
	f.tables = NewTableService(store, clock, testSessionTTL)
	f.orders = NewOrderService(pool, func(database.DBTX) OrderStore { return store }, clock, rec)
	f.kitchen = NewKitchenService(pool, func(database.DBTX) KitchenStore { return store }, clock, rec)
	f.groups = NewGroupService(pool, func(database.DBTX) GroupStore { return store }, clock, rec)
	f.payments = NewPaymentService(pool, func(database.DBTX) PaymentStore { return store }, clock, rec, testPaymentTTL)
	f.billing = NewBillingService(store)
	return f
}

// menuLine is a seeded menu item with one price.
type menuLine struct {
	itemID  uuid.UUID
	priceID uuid.UUID
}

func (f *fixture) addTable(t *testing.T, code string) database.Table {
	t.Helper()
	return f.store.seedTable(f.outletID, code, database.TableStatusAVAILABLE)
}

func (f *fixture) addMenu(t *testing.T, name, price string) menuLine {
	t.Helper()
	itemID, priceID := f.store.seedMenuItem(f.outletID, name, "grill", price)
	return menuLine{itemID: itemID, priceID: priceID}
}

func (f *fixture) openOrder(t *testing.T, table database.Table) database.Order {
	t.Helper()
	res, err := f.orders.OpenOrReuse(context.Background(), OpenOrderRequest{OutletID: f.outletID, TableID: table.ID})
	if err != nil {
		t.Fatalf("open order: %v", err)
	}
	return res.Order
}

func (f *fixture) addItem(t *testing.T, orderID uuid.UUID, m menuLine, qty int32) database.OrderItem {
	t.Helper()
	res, err := f.orders.AddItem(context.Background(), AddItemRequest{
		OutletID:        f.outletID,
		OrderID:         orderID,
		MenuItemID:      m.itemID,
		MenuItemPriceID: m.priceID,
		Quantity:        qty,
	})
	if err != nil {
		t.Fatalf("add item: %v", err)
	}
	return res.Item
}

// serveAll walks every item of the order through the kitchen.
func (f *fixture) serveAll(t *testing.T, orderID uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	if _, err := f.kitchen.SubmitTicket(ctx, f.outletID, orderID); err != nil {
		t.Fatalf("submit ticket: %v", err)
	}
	for _, it := range f.store.itemsOf(orderID) {
		if it.Status == database.OrderItemStatusVOIDED || it.Status == database.OrderItemStatusSERVED {
			continue
		}
		for _, st := range []database.OrderItemStatus{
			database.OrderItemStatusINPROGRESS,
			database.OrderItemStatusREADY,
			database.OrderItemStatusSERVED,
		} {
			if _, err := f.kitchen.Advance(ctx, f.outletID, it.ID, st); err != nil {
				t.Fatalf("advance %s to %s: %v", it.ID, st, err)
			}
		}
	}
}

func (f *fixture) pay(t *testing.T, scope database.PaymentScope, targetID uuid.UUID, amount string) *ConfirmResult {
	t.Helper()
	ctx := context.Background()
	p, err := f.payments.CreatePending(ctx, CreatePaymentRequest{
		OutletID: f.outletID,
		Scope:    string(scope),
		TargetID: targetID,
		Method:   string(database.PaymentMethodCASH),
		Amount:   amount,
	})
	if err != nil {
		t.Fatalf("create payment: %v", err)
	}
	res, err := f.payments.Confirm(ctx, f.outletID, p.ID)
	if err != nil {
		t.Fatalf("confirm payment: %v", err)
	}
	return res
}
