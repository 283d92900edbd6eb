package database

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const billingGroupColumns = `id, outlet_id, status, discount_type, discount_value, balance_amount, created_by, created_at, updated_at, closed_at`

func scanBillingGroup(row interface{ Scan(...any) error }) (BillingGroup, error) {
	var i BillingGroup
	err := row.Scan(
		&i.ID,
		&i.OutletID,
		&i.Status,
		&i.DiscountType,
		&i.DiscountValue,
		&i.BalanceAmount,
		&i.CreatedBy,
		&i.CreatedAt,
		&i.UpdatedAt,
		&i.ClosedAt,
	)
	return i, err
}

const createBillingGroup = `-- name: CreateBillingGroup :one
INSERT INTO billing_groups (outlet_id, created_by)
VALUES ($1, $2)
RETURNING ` + billingGroupColumns

type CreateBillingGroupParams struct {
	OutletID  uuid.UUID   `json:"outlet_id"`
	CreatedBy pgtype.UUID `json:"created_by"`
}

func (q *Queries) CreateBillingGroup(ctx context.Context, arg CreateBillingGroupParams) (BillingGroup, error) {
	return scanBillingGroup(q.db.QueryRow(ctx, createBillingGroup, arg.OutletID, arg.CreatedBy))
}

const getBillingGroup = `-- name: GetBillingGroup :one
SELECT ` + billingGroupColumns + ` FROM billing_groups
WHERE id = $1 AND outlet_id = $2
`

type GetBillingGroupParams struct {
	ID       uuid.UUID `json:"id"`
	OutletID uuid.UUID `json:"outlet_id"`
}

func (q *Queries) GetBillingGroup(ctx context.Context, arg GetBillingGroupParams) (BillingGroup, error) {
	return scanBillingGroup(q.db.QueryRow(ctx, getBillingGroup, arg.ID, arg.OutletID))
}

const getBillingGroupForUpdate = `-- name: GetBillingGroupForUpdate :one
SELECT ` + billingGroupColumns + ` FROM billing_groups
WHERE id = $1 AND outlet_id = $2
FOR UPDATE
`

type GetBillingGroupForUpdateParams struct {
	ID       uuid.UUID `json:"id"`
	OutletID uuid.UUID `json:"outlet_id"`
}

func (q *Queries) GetBillingGroupForUpdate(ctx context.Context, arg GetBillingGroupForUpdateParams) (BillingGroup, error) {
	return scanBillingGroup(q.db.QueryRow(ctx, getBillingGroupForUpdate, arg.ID, arg.OutletID))
}

const getBillingGroupByIDForUpdate = `-- name: GetBillingGroupByIDForUpdate :one
SELECT ` + billingGroupColumns + ` FROM billing_groups
WHERE id = $1
FOR UPDATE
`

func (q *Queries) GetBillingGroupByIDForUpdate(ctx context.Context, id uuid.UUID) (BillingGroup, error) {
	return scanBillingGroup(q.db.QueryRow(ctx, getBillingGroupByIDForUpdate, id))
}

const setBillingGroupDiscount = `-- name: SetBillingGroupDiscount :one
UPDATE billing_groups SET discount_type = $2, discount_value = $3, updated_at = now()
WHERE id = $1 AND status = 'OPEN'
RETURNING ` + billingGroupColumns

type SetBillingGroupDiscountParams struct {
	ID            uuid.UUID        `json:"id"`
	DiscountType  NullDiscountType `json:"discount_type"`
	DiscountValue pgtype.Numeric   `json:"discount_value"`
}

func (q *Queries) SetBillingGroupDiscount(ctx context.Context, arg SetBillingGroupDiscountParams) (BillingGroup, error) {
	return scanBillingGroup(q.db.QueryRow(ctx, setBillingGroupDiscount, arg.ID, arg.DiscountType, arg.DiscountValue))
}

const updateBillingGroupBalance = `-- name: UpdateBillingGroupBalance :exec
UPDATE billing_groups SET balance_amount = $2, updated_at = now()
WHERE id = $1
`

type UpdateBillingGroupBalanceParams struct {
	ID            uuid.UUID      `json:"id"`
	BalanceAmount pgtype.Numeric `json:"balance_amount"`
}

func (q *Queries) UpdateBillingGroupBalance(ctx context.Context, arg UpdateBillingGroupBalanceParams) error {
	_, err := q.db.Exec(ctx, updateBillingGroupBalance, arg.ID, arg.BalanceAmount)
	return err
}

const closeBillingGroup = `-- name: CloseBillingGroup :one
UPDATE billing_groups SET status = 'CLOSED', closed_at = $2, balance_amount = 0, updated_at = now()
WHERE id = $1 AND status = 'OPEN'
RETURNING ` + billingGroupColumns

type CloseBillingGroupParams struct {
	ID       uuid.UUID `json:"id"`
	ClosedAt time.Time `json:"closed_at"`
}

func (q *Queries) CloseBillingGroup(ctx context.Context, arg CloseBillingGroupParams) (BillingGroup, error) {
	return scanBillingGroup(q.db.QueryRow(ctx, closeBillingGroup, arg.ID, arg.ClosedAt))
}

const addBillingGroupOrder = `-- name: AddBillingGroupOrder :execrows
INSERT INTO billing_group_orders (group_id, order_id)
VALUES ($1, $2)
ON CONFLICT (group_id, order_id) DO NOTHING
`

type AddBillingGroupOrderParams struct {
	GroupID uuid.UUID `json:"group_id"`
	OrderID uuid.UUID `json:"order_id"`
}

func (q *Queries) AddBillingGroupOrder(ctx context.Context, arg AddBillingGroupOrderParams) (int64, error) {
	result, err := q.db.Exec(ctx, addBillingGroupOrder, arg.GroupID, arg.OrderID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const removeBillingGroupOrder = `-- name: RemoveBillingGroupOrder :execrows
DELETE FROM billing_group_orders WHERE group_id = $1 AND order_id = $2
`

type RemoveBillingGroupOrderParams struct {
	GroupID uuid.UUID `json:"group_id"`
	OrderID uuid.UUID `json:"order_id"`
}

func (q *Queries) RemoveBillingGroupOrder(ctx context.Context, arg RemoveBillingGroupOrderParams) (int64, error) {
	result, err := q.db.Exec(ctx, removeBillingGroupOrder, arg.GroupID, arg.OrderID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const listBillingGroupOrderIDs = `-- name: ListBillingGroupOrderIDs :many
SELECT order_id FROM billing_group_orders
WHERE group_id = $1
ORDER BY created_at, order_id
`

func (q *Queries) ListBillingGroupOrderIDs(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error) {
	return q.queryUUIDs(ctx, listBillingGroupOrderIDs, groupID)
}

const listOpenGroupIDsForOrder = `-- name: ListOpenGroupIDsForOrder :many
SELECT g.id FROM billing_groups g
JOIN billing_group_orders bgo ON bgo.group_id = g.id
WHERE bgo.order_id = $1 AND g.status = 'OPEN'
`

func (q *Queries) ListOpenGroupIDsForOrder(ctx context.Context, orderID uuid.UUID) ([]uuid.UUID, error) {
	return q.queryUUIDs(ctx, listOpenGroupIDsForOrder, orderID)
}

const listActiveGroupMembersForUpdate = `-- name: ListActiveGroupMembersForUpdate :many
SELECT o.id, o.outlet_id, o.order_number, o.table_id, o.qr_session_id, o.opened_by, o.status,
       o.balance_amount, o.payment_code, o.notes, o.void_reason, o.created_at, o.updated_at, o.closed_at
FROM orders o
JOIN billing_group_orders bgo ON bgo.order_id = o.id
WHERE bgo.group_id = $1 AND o.status IN ('OPEN', 'IN_PROGRESS')
ORDER BY o.id
FOR NO KEY UPDATE OF o
`

// ListActiveGroupMembersForUpdate locks the active member orders in id order
// so concurrent group closes cannot deadlock each other.
func (q *Queries) ListActiveGroupMembersForUpdate(ctx context.Context, groupID uuid.UUID) ([]Order, error) {
	rows, err := q.db.Query(ctx, listActiveGroupMembersForUpdate, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Order
	for rows.Next() {
		i, err := scanOrder(rows)
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

const settleGroupOrders = `-- name: SettleGroupOrders :execrows
UPDATE orders SET status = 'PAID', closed_at = $2, balance_amount = 0, updated_at = now()
WHERE id IN (SELECT order_id FROM billing_group_orders WHERE group_id = $1)
  AND status IN ('OPEN', 'IN_PROGRESS')
`

type SettleGroupOrdersParams struct {
	GroupID  uuid.UUID `json:"group_id"`
	ClosedAt time.Time `json:"closed_at"`
}

func (q *Queries) SettleGroupOrders(ctx context.Context, arg SettleGroupOrdersParams) (int64, error) {
	result, err := q.db.Exec(ctx, settleGroupOrders, arg.GroupID, arg.ClosedAt)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const isOrderSettledByGroup = `-- name: IsOrderSettledByGroup :one
SELECT EXISTS (
    SELECT 1 FROM billing_group_orders bgo
    JOIN billing_groups g ON g.id = bgo.group_id
    WHERE bgo.order_id = $1 AND g.status = 'CLOSED'
)
`

func (q *Queries) IsOrderSettledByGroup(ctx context.Context, orderID uuid.UUID) (bool, error) {
	var ok bool
	err := q.db.QueryRow(ctx, isOrderSettledByGroup, orderID).Scan(&ok)
	return ok, err
}

const sumGroupItems = `-- name: SumGroupItems :one
SELECT COALESCE(SUM(oi.unit_price * oi.quantity), 0)::numeric AS sub_total,
       COALESCE(SUM(oi.discount_amount), 0)::numeric AS item_discount_total
FROM order_items oi
JOIN billing_group_orders bgo ON bgo.order_id = oi.order_id
JOIN orders o ON o.id = oi.order_id
WHERE bgo.group_id = $1 AND oi.status <> 'VOIDED' AND o.status <> 'VOIDED'
`

type SumGroupItemsRow struct {
	SubTotal          pgtype.Numeric `json:"sub_total"`
	ItemDiscountTotal pgtype.Numeric `json:"item_discount_total"`
}

func (q *Queries) SumGroupItems(ctx context.Context, groupID uuid.UUID) (SumGroupItemsRow, error) {
	var i SumGroupItemsRow
	err := q.db.QueryRow(ctx, sumGroupItems, groupID).Scan(&i.SubTotal, &i.ItemDiscountTotal)
	return i, err
}

func (q *Queries) queryUUIDs(ctx context.Context, query string, args ...interface{}) ([]uuid.UUID, error) {
	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		items = append(items, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
