package database

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const orderColumns = `id, outlet_id, order_number, table_id, qr_session_id, opened_by, status, balance_amount, payment_code, notes, void_reason, created_at, updated_at, closed_at`

func scanOrder(row interface{ Scan(...any) error }) (Order, error) {
	var i Order
	err := row.Scan(
		&i.ID,
		&i.OutletID,
		&i.OrderNumber,
		&i.TableID,
		&i.QrSessionID,
		&i.OpenedBy,
		&i.Status,
		&i.BalanceAmount,
		&i.PaymentCode,
		&i.Notes,
		&i.VoidReason,
		&i.CreatedAt,
		&i.UpdatedAt,
		&i.ClosedAt,
	)
	return i, err
}

const getNextOrderNumber = `-- name: GetNextOrderNumber :one
SELECT (COUNT(*) + 1)::int4 FROM orders WHERE outlet_id = $1
`

func (q *Queries) GetNextOrderNumber(ctx context.Context, outletID uuid.UUID) (int32, error) {
	var n int32
	err := q.db.QueryRow(ctx, getNextOrderNumber, outletID).Scan(&n)
	return n, err
}

const createOrder = `-- name: CreateOrder :one
INSERT INTO orders (outlet_id, order_number, table_id, qr_session_id, opened_by, notes)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING ` + orderColumns

type CreateOrderParams struct {
	OutletID    uuid.UUID   `json:"outlet_id"`
	OrderNumber string      `json:"order_number"`
	TableID     pgtype.UUID `json:"table_id"`
	QrSessionID pgtype.UUID `json:"qr_session_id"`
	OpenedBy    pgtype.UUID `json:"opened_by"`
	Notes       pgtype.Text `json:"notes"`
}

func (q *Queries) CreateOrder(ctx context.Context, arg CreateOrderParams) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, createOrder,
		arg.OutletID,
		arg.OrderNumber,
		arg.TableID,
		arg.QrSessionID,
		arg.OpenedBy,
		arg.Notes,
	))
}

const getOrder = `-- name: GetOrder :one
SELECT ` + orderColumns + ` FROM orders
WHERE id = $1 AND outlet_id = $2
`

type GetOrderParams struct {
	ID       uuid.UUID `json:"id"`
	OutletID uuid.UUID `json:"outlet_id"`
}

func (q *Queries) GetOrder(ctx context.Context, arg GetOrderParams) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, getOrder, arg.ID, arg.OutletID))
}

const getOrderForUpdate = `-- name: GetOrderForUpdate :one
SELECT ` + orderColumns + ` FROM orders
WHERE id = $1 AND outlet_id = $2
FOR NO KEY UPDATE
`

type GetOrderForUpdateParams struct {
	ID       uuid.UUID `json:"id"`
	OutletID uuid.UUID `json:"outlet_id"`
}

func (q *Queries) GetOrderForUpdate(ctx context.Context, arg GetOrderForUpdateParams) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, getOrderForUpdate, arg.ID, arg.OutletID))
}

const getOrderByIDForUpdate = `-- name: GetOrderByIDForUpdate :one
SELECT ` + orderColumns + ` FROM orders
WHERE id = $1
FOR NO KEY UPDATE
`

// GetOrderByIDForUpdate is used by provider callbacks, which carry no outlet.
func (q *Queries) GetOrderByIDForUpdate(ctx context.Context, id uuid.UUID) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, getOrderByIDForUpdate, id))
}

const getActiveOrderForTable = `-- name: GetActiveOrderForTable :one
SELECT o.id, o.outlet_id, o.order_number, o.table_id, o.qr_session_id, o.opened_by, o.status,
       o.balance_amount, o.payment_code, o.notes, o.void_reason, o.created_at, o.updated_at, o.closed_at
FROM orders o
JOIN order_tables ot ON ot.order_id = o.id AND ot.unlinked_at IS NULL
WHERE ot.table_id = $1
  AND o.status IN ('OPEN', 'IN_PROGRESS')
ORDER BY o.created_at DESC
LIMIT 1
`

func (q *Queries) GetActiveOrderForTable(ctx context.Context, tableID uuid.UUID) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, getActiveOrderForTable, tableID))
}

const countActiveOrdersForTable = `-- name: CountActiveOrdersForTable :one
SELECT COUNT(*) FROM orders o
JOIN order_tables ot ON ot.order_id = o.id AND ot.unlinked_at IS NULL
WHERE ot.table_id = $1
  AND o.status IN ('OPEN', 'IN_PROGRESS')
`

func (q *Queries) CountActiveOrdersForTable(ctx context.Context, tableID uuid.UUID) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, countActiveOrdersForTable, tableID).Scan(&n)
	return n, err
}

const markOrderInProgress = `-- name: MarkOrderInProgress :execrows
UPDATE orders SET status = 'IN_PROGRESS', updated_at = now()
WHERE id = $1 AND status = 'OPEN'
`

func (q *Queries) MarkOrderInProgress(ctx context.Context, id uuid.UUID) (int64, error) {
	result, err := q.db.Exec(ctx, markOrderInProgress, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const closeOrder = `-- name: CloseOrder :one
UPDATE orders SET status = $2, closed_at = $3, updated_at = now()
WHERE id = $1 AND status IN ('OPEN', 'IN_PROGRESS')
RETURNING ` + orderColumns

type CloseOrderParams struct {
	ID       uuid.UUID   `json:"id"`
	Status   OrderStatus `json:"status"`
	ClosedAt time.Time   `json:"closed_at"`
}

// CloseOrder moves an active order to a terminal status. pgx.ErrNoRows means
// the order was no longer active.
func (q *Queries) CloseOrder(ctx context.Context, arg CloseOrderParams) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, closeOrder, arg.ID, arg.Status, arg.ClosedAt))
}

const voidOrder = `-- name: VoidOrder :one
UPDATE orders SET status = 'VOIDED', void_reason = $2, closed_at = $3, updated_at = now()
WHERE id = $1 AND status IN ('OPEN', 'IN_PROGRESS')
RETURNING ` + orderColumns

type VoidOrderParams struct {
	ID         uuid.UUID   `json:"id"`
	VoidReason pgtype.Text `json:"void_reason"`
	ClosedAt   time.Time   `json:"closed_at"`
}

func (q *Queries) VoidOrder(ctx context.Context, arg VoidOrderParams) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, voidOrder, arg.ID, arg.VoidReason, arg.ClosedAt))
}

const updateOrderBalance = `-- name: UpdateOrderBalance :exec
UPDATE orders SET balance_amount = $2, updated_at = now()
WHERE id = $1
`

type UpdateOrderBalanceParams struct {
	ID            uuid.UUID      `json:"id"`
	BalanceAmount pgtype.Numeric `json:"balance_amount"`
}

func (q *Queries) UpdateOrderBalance(ctx context.Context, arg UpdateOrderBalanceParams) error {
	_, err := q.db.Exec(ctx, updateOrderBalance, arg.ID, arg.BalanceAmount)
	return err
}

const orderTableColumns = `id, order_id, table_id, linked_at, unlinked_at`

func scanOrderTable(row interface{ Scan(...any) error }) (OrderTable, error) {
	var i OrderTable
	err := row.Scan(
		&i.ID,
		&i.OrderID,
		&i.TableID,
		&i.LinkedAt,
		&i.UnlinkedAt,
	)
	return i, err
}

const createOrderTable = `-- name: CreateOrderTable :one
INSERT INTO order_tables (order_id, table_id, linked_at)
VALUES ($1, $2, $3)
RETURNING ` + orderTableColumns

type CreateOrderTableParams struct {
	OrderID  uuid.UUID `json:"order_id"`
	TableID  uuid.UUID `json:"table_id"`
	LinkedAt time.Time `json:"linked_at"`
}

func (q *Queries) CreateOrderTable(ctx context.Context, arg CreateOrderTableParams) (OrderTable, error) {
	return scanOrderTable(q.db.QueryRow(ctx, createOrderTable, arg.OrderID, arg.TableID, arg.LinkedAt))
}

const getOpenOrderTable = `-- name: GetOpenOrderTable :one
SELECT ` + orderTableColumns + ` FROM order_tables
WHERE order_id = $1 AND table_id = $2 AND unlinked_at IS NULL
`

type GetOpenOrderTableParams struct {
	OrderID uuid.UUID `json:"order_id"`
	TableID uuid.UUID `json:"table_id"`
}

func (q *Queries) GetOpenOrderTable(ctx context.Context, arg GetOpenOrderTableParams) (OrderTable, error) {
	return scanOrderTable(q.db.QueryRow(ctx, getOpenOrderTable, arg.OrderID, arg.TableID))
}

const unlinkOrderTable = `-- name: UnlinkOrderTable :execrows
UPDATE order_tables SET unlinked_at = $3
WHERE order_id = $1 AND table_id = $2 AND unlinked_at IS NULL
`

type UnlinkOrderTableParams struct {
	OrderID    uuid.UUID `json:"order_id"`
	TableID    uuid.UUID `json:"table_id"`
	UnlinkedAt time.Time `json:"unlinked_at"`
}

func (q *Queries) UnlinkOrderTable(ctx context.Context, arg UnlinkOrderTableParams) (int64, error) {
	result, err := q.db.Exec(ctx, unlinkOrderTable, arg.OrderID, arg.TableID, arg.UnlinkedAt)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const unlinkAllOrderTables = `-- name: UnlinkAllOrderTables :many
UPDATE order_tables SET unlinked_at = $2
WHERE order_id = $1 AND unlinked_at IS NULL
RETURNING table_id
`

type UnlinkAllOrderTablesParams struct {
	OrderID    uuid.UUID `json:"order_id"`
	UnlinkedAt time.Time `json:"unlinked_at"`
}

func (q *Queries) UnlinkAllOrderTables(ctx context.Context, arg UnlinkAllOrderTablesParams) ([]uuid.UUID, error) {
	rows, err := q.db.Query(ctx, unlinkAllOrderTables, arg.OrderID, arg.UnlinkedAt)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []uuid.UUID
	for rows.Next() {
		var tableID uuid.UUID
		if err := rows.Scan(&tableID); err != nil {
			return nil, err
		}
		items = append(items, tableID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listOrderTables = `-- name: ListOrderTables :many
SELECT ` + orderTableColumns + ` FROM order_tables
WHERE order_id = $1
ORDER BY linked_at
`

// ListOrderTables returns the full link history, unlinked rows included.
func (q *Queries) ListOrderTables(ctx context.Context, orderID uuid.UUID) ([]OrderTable, error) {
	rows, err := q.db.Query(ctx, listOrderTables, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []OrderTable
	for rows.Next() {
		i, err := scanOrderTable(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const orderDiscountColumns = `id, order_id, discount_type, value, note, created_at, updated_at`

func scanOrderDiscount(row interface{ Scan(...any) error }) (OrderDiscount, error) {
	var i OrderDiscount
	err := row.Scan(
		&i.ID,
		&i.OrderID,
		&i.DiscountType,
		&i.Value,
		&i.Note,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const getOrderDiscount = `-- name: GetOrderDiscount :one
SELECT ` + orderDiscountColumns + ` FROM order_discounts
WHERE order_id = $1
`

func (q *Queries) GetOrderDiscount(ctx context.Context, orderID uuid.UUID) (OrderDiscount, error) {
	return scanOrderDiscount(q.db.QueryRow(ctx, getOrderDiscount, orderID))
}

const upsertOrderDiscount = `-- name: UpsertOrderDiscount :one
INSERT INTO order_discounts (order_id, discount_type, value, note)
VALUES ($1, $2, $3, $4)
ON CONFLICT (order_id) DO UPDATE
SET discount_type = EXCLUDED.discount_type,
    value = EXCLUDED.value,
    note = EXCLUDED.note,
    updated_at = now()
RETURNING ` + orderDiscountColumns

type UpsertOrderDiscountParams struct {
	OrderID      uuid.UUID      `json:"order_id"`
	DiscountType DiscountType   `json:"discount_type"`
	Value        pgtype.Numeric `json:"value"`
	Note         pgtype.Text    `json:"note"`
}

func (q *Queries) UpsertOrderDiscount(ctx context.Context, arg UpsertOrderDiscountParams) (OrderDiscount, error) {
	return scanOrderDiscount(q.db.QueryRow(ctx, upsertOrderDiscount, arg.OrderID, arg.DiscountType, arg.Value, arg.Note))
}

const deleteOrderDiscount = `-- name: DeleteOrderDiscount :execrows
DELETE FROM order_discounts WHERE order_id = $1
`

func (q *Queries) DeleteOrderDiscount(ctx context.Context, orderID uuid.UUID) (int64, error) {
	result, err := q.db.Exec(ctx, deleteOrderDiscount, orderID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const getMenuPriceForOrder = `-- name: GetMenuPriceForOrder :one
SELECT mi.id, p.id, p.price
FROM menu_item_prices p
JOIN menu_items mi ON mi.id = p.menu_item_id
WHERE p.id = $1 AND mi.id = $2 AND mi.outlet_id = $3
  AND mi.is_active = true AND p.is_active = true
`

type GetMenuPriceForOrderParams struct {
	PriceID    uuid.UUID `json:"price_id"`
	MenuItemID uuid.UUID `json:"menu_item_id"`
	OutletID   uuid.UUID `json:"outlet_id"`
}

type GetMenuPriceForOrderRow struct {
	MenuItemID uuid.UUID      `json:"menu_item_id"`
	PriceID    uuid.UUID      `json:"price_id"`
	Price      pgtype.Numeric `json:"price"`
}

func (q *Queries) GetMenuPriceForOrder(ctx context.Context, arg GetMenuPriceForOrderParams) (GetMenuPriceForOrderRow, error) {
	var i GetMenuPriceForOrderRow
	err := q.db.QueryRow(ctx, getMenuPriceForOrder, arg.PriceID, arg.MenuItemID, arg.OutletID).Scan(
		&i.MenuItemID,
		&i.PriceID,
		&i.Price,
	)
	return i, err
}

const getMenuOptionForOrder = `-- name: GetMenuOptionForOrder :one
SELECT id, menu_item_id, name, extra_price
FROM menu_item_options
WHERE id = $1 AND is_active = true
`

type GetMenuOptionForOrderRow struct {
	ID         uuid.UUID      `json:"id"`
	MenuItemID uuid.UUID      `json:"menu_item_id"`
	Name       string         `json:"name"`
	ExtraPrice pgtype.Numeric `json:"extra_price"`
}

func (q *Queries) GetMenuOptionForOrder(ctx context.Context, id uuid.UUID) (GetMenuOptionForOrderRow, error) {
	var i GetMenuOptionForOrderRow
	err := q.db.QueryRow(ctx, getMenuOptionForOrder, id).Scan(
		&i.ID,
		&i.MenuItemID,
		&i.Name,
		&i.ExtraPrice,
	)
	return i, err
}
