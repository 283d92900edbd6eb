package database

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const orderItemColumns = `id, order_id, menu_item_id, menu_item_price_id, quantity, unit_price, discount_type, discount_value, discount_amount, total_amount, notes, status, created_at, updated_at, fired_at, ready_at, served_at, voided_at`

func orderItemFields(i *OrderItem) []any {
	return []any{
		&i.ID,
		&i.OrderID,
		&i.MenuItemID,
		&i.MenuItemPriceID,
		&i.Quantity,
		&i.UnitPrice,
		&i.DiscountType,
		&i.DiscountValue,
		&i.DiscountAmount,
		&i.TotalAmount,
		&i.Notes,
		&i.Status,
		&i.CreatedAt,
		&i.UpdatedAt,
		&i.FiredAt,
		&i.ReadyAt,
		&i.ServedAt,
		&i.VoidedAt,
	}
}

func scanOrderItem(row interface{ Scan(...any) error }) (OrderItem, error) {
	var i OrderItem
	err := row.Scan(orderItemFields(&i)...)
	return i, err
}

const createOrderItem = `-- name: CreateOrderItem :one
INSERT INTO order_items (
    order_id, menu_item_id, menu_item_price_id, quantity, unit_price,
    discount_type, discount_value, discount_amount, total_amount, notes
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING ` + orderItemColumns

type CreateOrderItemParams struct {
	OrderID         uuid.UUID        `json:"order_id"`
	MenuItemID      uuid.UUID        `json:"menu_item_id"`
	MenuItemPriceID uuid.UUID        `json:"menu_item_price_id"`
	Quantity        int32            `json:"quantity"`
	UnitPrice       pgtype.Numeric   `json:"unit_price"`
	DiscountType    NullDiscountType `json:"discount_type"`
	DiscountValue   pgtype.Numeric   `json:"discount_value"`
	DiscountAmount  pgtype.Numeric   `json:"discount_amount"`
	TotalAmount     pgtype.Numeric   `json:"total_amount"`
	Notes           pgtype.Text      `json:"notes"`
}

func (q *Queries) CreateOrderItem(ctx context.Context, arg CreateOrderItemParams) (OrderItem, error) {
	return scanOrderItem(q.db.QueryRow(ctx, createOrderItem,
		arg.OrderID,
		arg.MenuItemID,
		arg.MenuItemPriceID,
		arg.Quantity,
		arg.UnitPrice,
		arg.DiscountType,
		arg.DiscountValue,
		arg.DiscountAmount,
		arg.TotalAmount,
		arg.Notes,
	))
}

const createOrderItemOption = `-- name: CreateOrderItemOption :one
INSERT INTO order_item_option_selections (order_item_id, menu_item_option_id, name, extra_price)
VALUES ($1, $2, $3, $4)
RETURNING id, order_item_id, menu_item_option_id, name, extra_price
`

type CreateOrderItemOptionParams struct {
	OrderItemID      uuid.UUID      `json:"order_item_id"`
	MenuItemOptionID uuid.UUID      `json:"menu_item_option_id"`
	Name             string         `json:"name"`
	ExtraPrice       pgtype.Numeric `json:"extra_price"`
}

func (q *Queries) CreateOrderItemOption(ctx context.Context, arg CreateOrderItemOptionParams) (OrderItemOptionSelection, error) {
	var i OrderItemOptionSelection
	err := q.db.QueryRow(ctx, createOrderItemOption,
		arg.OrderItemID,
		arg.MenuItemOptionID,
		arg.Name,
		arg.ExtraPrice,
	).Scan(
		&i.ID,
		&i.OrderItemID,
		&i.MenuItemOptionID,
		&i.Name,
		&i.ExtraPrice,
	)
	return i, err
}

const listOrderItemOptionsByOrder = `-- name: ListOrderItemOptionsByOrder :many
SELECT s.id, s.order_item_id, s.menu_item_option_id, s.name, s.extra_price
FROM order_item_option_selections s
JOIN order_items oi ON oi.id = s.order_item_id
WHERE oi.order_id = $1
ORDER BY s.order_item_id, s.id
`

func (q *Queries) ListOrderItemOptionsByOrder(ctx context.Context, orderID uuid.UUID) ([]OrderItemOptionSelection, error) {
	rows, err := q.db.Query(ctx, listOrderItemOptionsByOrder, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []OrderItemOptionSelection
	for rows.Next() {
		var i OrderItemOptionSelection
		if err := rows.Scan(
			&i.ID,
			&i.OrderItemID,
			&i.MenuItemOptionID,
			&i.Name,
			&i.ExtraPrice,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const getOrderItem = `-- name: GetOrderItem :one
SELECT ` + orderItemColumns + ` FROM order_items
WHERE id = $1 AND order_id = $2
`

type GetOrderItemParams struct {
	ID      uuid.UUID `json:"id"`
	OrderID uuid.UUID `json:"order_id"`
}

func (q *Queries) GetOrderItem(ctx context.Context, arg GetOrderItemParams) (OrderItem, error) {
	return scanOrderItem(q.db.QueryRow(ctx, getOrderItem, arg.ID, arg.OrderID))
}

const getOutletOrderItem = `-- name: GetOutletOrderItem :one
SELECT oi.id, oi.order_id, oi.menu_item_id, oi.menu_item_price_id, oi.quantity, oi.unit_price,
       oi.discount_type, oi.discount_value, oi.discount_amount, oi.total_amount, oi.notes, oi.status,
       oi.created_at, oi.updated_at, oi.fired_at, oi.ready_at, oi.served_at, oi.voided_at
FROM order_items oi
JOIN orders o ON o.id = oi.order_id
WHERE oi.id = $1 AND o.outlet_id = $2
`

type GetOutletOrderItemParams struct {
	ID       uuid.UUID `json:"id"`
	OutletID uuid.UUID `json:"outlet_id"`
}

func (q *Queries) GetOutletOrderItem(ctx context.Context, arg GetOutletOrderItemParams) (OrderItem, error) {
	return scanOrderItem(q.db.QueryRow(ctx, getOutletOrderItem, arg.ID, arg.OutletID))
}

const listOrderItemsByOrder = `-- name: ListOrderItemsByOrder :many
SELECT ` + orderItemColumns + ` FROM order_items
WHERE order_id = $1
ORDER BY created_at, id
`

func (q *Queries) ListOrderItemsByOrder(ctx context.Context, orderID uuid.UUID) ([]OrderItem, error) {
	rows, err := q.db.Query(ctx, listOrderItemsByOrder, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []OrderItem
	for rows.Next() {
		i, err := scanOrderItem(rows)
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

const patchOrderItem = `-- name: PatchOrderItem :one
UPDATE order_items
SET quantity = $3, discount_amount = $4, total_amount = $5, notes = $6, updated_at = clock_timestamp()
WHERE id = $1 AND order_id = $2 AND status IN ('NEW', 'FIRED')
RETURNING ` + orderItemColumns

type PatchOrderItemParams struct {
	ID             uuid.UUID      `json:"id"`
	OrderID        uuid.UUID      `json:"order_id"`
	Quantity       int32          `json:"quantity"`
	DiscountAmount pgtype.Numeric `json:"discount_amount"`
	TotalAmount    pgtype.Numeric `json:"total_amount"`
	Notes          pgtype.Text    `json:"notes"`
}

// PatchOrderItem only touches items the kitchen has not started; pgx.ErrNoRows
// means the item is locked (or gone).
func (q *Queries) PatchOrderItem(ctx context.Context, arg PatchOrderItemParams) (OrderItem, error) {
	return scanOrderItem(q.db.QueryRow(ctx, patchOrderItem,
		arg.ID,
		arg.OrderID,
		arg.Quantity,
		arg.DiscountAmount,
		arg.TotalAmount,
		arg.Notes,
	))
}

const voidOrderItem = `-- name: VoidOrderItem :one
UPDATE order_items SET status = 'VOIDED', voided_at = $3, updated_at = clock_timestamp()
WHERE id = $1 AND order_id = $2 AND status NOT IN ('SERVED', 'VOIDED')
RETURNING ` + orderItemColumns

type VoidOrderItemParams struct {
	ID       uuid.UUID `json:"id"`
	OrderID  uuid.UUID `json:"order_id"`
	VoidedAt time.Time `json:"voided_at"`
}

func (q *Queries) VoidOrderItem(ctx context.Context, arg VoidOrderItemParams) (OrderItem, error) {
	return scanOrderItem(q.db.QueryRow(ctx, voidOrderItem, arg.ID, arg.OrderID, arg.VoidedAt))
}

const fireNewOrderItems = `-- name: FireNewOrderItems :execrows
UPDATE order_items SET status = 'FIRED', fired_at = $2, updated_at = clock_timestamp()
WHERE order_id = $1 AND status = 'NEW'
`

type FireNewOrderItemsParams struct {
	OrderID uuid.UUID `json:"order_id"`
	FiredAt time.Time `json:"fired_at"`
}

// FireNewOrderItems is the ticket submission: a single conditional update, so
// concurrent submitters can never both advance the same row.
func (q *Queries) FireNewOrderItems(ctx context.Context, arg FireNewOrderItemsParams) (int64, error) {
	result, err := q.db.Exec(ctx, fireNewOrderItems, arg.OrderID, arg.FiredAt)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const advanceOrderItem = `-- name: AdvanceOrderItem :one
UPDATE order_items
SET status = $3,
    ready_at = CASE WHEN $3 = 'READY' THEN $4 ELSE ready_at END,
    served_at = CASE WHEN $3 = 'SERVED' THEN $4 ELSE served_at END,
    updated_at = clock_timestamp()
WHERE id = $1 AND status = $2
RETURNING ` + orderItemColumns

type AdvanceOrderItemParams struct {
	ID         uuid.UUID       `json:"id"`
	FromStatus OrderItemStatus `json:"from_status"`
	ToStatus   OrderItemStatus `json:"to_status"`
	At         time.Time       `json:"at"`
}

// AdvanceOrderItem is a compare-and-set on status. pgx.ErrNoRows means the row
// no longer holds FromStatus.
func (q *Queries) AdvanceOrderItem(ctx context.Context, arg AdvanceOrderItemParams) (OrderItem, error) {
	return scanOrderItem(q.db.QueryRow(ctx, advanceOrderItem, arg.ID, arg.FromStatus, arg.ToStatus, arg.At))
}

const countUnsettledOrderItems = `-- name: CountUnsettledOrderItems :one
SELECT COUNT(*) FROM order_items
WHERE order_id = $1 AND status NOT IN ('SERVED', 'VOIDED')
`

func (q *Queries) CountUnsettledOrderItems(ctx context.Context, orderID uuid.UUID) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, countUnsettledOrderItems, orderID).Scan(&n)
	return n, err
}

const sumOrderItems = `-- name: SumOrderItems :one
SELECT COALESCE(SUM(unit_price * quantity), 0)::numeric AS sub_total,
       COALESCE(SUM(discount_amount), 0)::numeric AS item_discount_total
FROM order_items
WHERE order_id = $1 AND status <> 'VOIDED'
`

type SumOrderItemsRow struct {
	SubTotal          pgtype.Numeric `json:"sub_total"`
	ItemDiscountTotal pgtype.Numeric `json:"item_discount_total"`
}

func (q *Queries) SumOrderItems(ctx context.Context, orderID uuid.UUID) (SumOrderItemsRow, error) {
	var i SumOrderItemsRow
	err := q.db.QueryRow(ctx, sumOrderItems, orderID).Scan(&i.SubTotal, &i.ItemDiscountTotal)
	return i, err
}

const listKitchenItems = `-- name: ListKitchenItems :many
SELECT oi.id, oi.order_id, oi.menu_item_id, oi.menu_item_price_id, oi.quantity, oi.unit_price,
       oi.discount_type, oi.discount_value, oi.discount_amount, oi.total_amount, oi.notes, oi.status,
       oi.created_at, oi.updated_at, oi.fired_at, oi.ready_at, oi.served_at, oi.voided_at,
       o.order_number, o.table_id, t.code, mi.name, mi.station
FROM order_items oi
JOIN orders o ON o.id = oi.order_id
JOIN menu_items mi ON mi.id = oi.menu_item_id
LEFT JOIN tables t ON t.id = o.table_id
WHERE o.outlet_id = $1
  AND oi.updated_at >= $2
  AND oi.status = ANY($3::text[])
  AND oi.status <> 'VOIDED'
  AND o.status <> 'VOIDED'
  AND ($4::timestamptz IS NULL OR (oi.created_at, oi.id) > ($4::timestamptz, $5::uuid))
ORDER BY oi.created_at, oi.id
LIMIT $6
`

type ListKitchenItemsParams struct {
	OutletID       uuid.UUID          `json:"outlet_id"`
	Since          time.Time          `json:"since"`
	Statuses       []string           `json:"statuses"`
	AfterCreatedAt pgtype.Timestamptz `json:"after_created_at"`
	AfterID        pgtype.UUID        `json:"after_id"`
	Limit          int32              `json:"limit"`
}

type ListKitchenItemsRow struct {
	OrderItem   OrderItem   `json:"order_item"`
	OrderNumber string      `json:"order_number"`
	TableID     pgtype.UUID `json:"table_id"`
	TableCode   pgtype.Text `json:"table_code"`
	MenuItem    string      `json:"menu_item"`
	Station     pgtype.Text `json:"station"`
}

// ListKitchenItems pages through the kitchen projection with a keyset cursor
// on (created_at, id).
func (q *Queries) ListKitchenItems(ctx context.Context, arg ListKitchenItemsParams) ([]ListKitchenItemsRow, error) {
	rows, err := q.db.Query(ctx, listKitchenItems,
		arg.OutletID,
		arg.Since,
		arg.Statuses,
		arg.AfterCreatedAt,
		arg.AfterID,
		arg.Limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ListKitchenItemsRow
	for rows.Next() {
		var i ListKitchenItemsRow
		fields := append(orderItemFields(&i.OrderItem),
			&i.OrderNumber,
			&i.TableID,
			&i.TableCode,
			&i.MenuItem,
			&i.Station,
		)
		if err := rows.Scan(fields...); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
