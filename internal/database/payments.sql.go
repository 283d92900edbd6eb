package database

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const paymentColumns = `id, outlet_id, scope, order_id, group_id, method, status, amount, amount_received, change_amount, provider, provider_txn_id, payment_code, processed_by, received_at, confirmed_at, expires_at, voided_at, created_at`

func scanPayment(row interface{ Scan(...any) error }) (Payment, error) {
	var i Payment
	err := row.Scan(
		&i.ID,
		&i.OutletID,
		&i.Scope,
		&i.OrderID,
		&i.GroupID,
		&i.Method,
		&i.Status,
		&i.Amount,
		&i.AmountReceived,
		&i.ChangeAmount,
		&i.Provider,
		&i.ProviderTxnID,
		&i.PaymentCode,
		&i.ProcessedBy,
		&i.ReceivedAt,
		&i.ConfirmedAt,
		&i.ExpiresAt,
		&i.VoidedAt,
		&i.CreatedAt,
	)
	return i, err
}

func (q *Queries) queryPayments(ctx context.Context, query string, args ...interface{}) ([]Payment, error) {
	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Payment
	for rows.Next() {
		i, err := scanPayment(rows)
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

const createPayment = `-- name: CreatePayment :one
INSERT INTO payments (
    outlet_id, scope, order_id, group_id, method, amount, amount_received,
    change_amount, provider, payment_code, processed_by, expires_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
RETURNING ` + paymentColumns

type CreatePaymentParams struct {
	OutletID       uuid.UUID          `json:"outlet_id"`
	Scope          PaymentScope       `json:"scope"`
	OrderID        pgtype.UUID        `json:"order_id"`
	GroupID        pgtype.UUID        `json:"group_id"`
	Method         PaymentMethod      `json:"method"`
	Amount         pgtype.Numeric     `json:"amount"`
	AmountReceived pgtype.Numeric     `json:"amount_received"`
	ChangeAmount   pgtype.Numeric     `json:"change_amount"`
	Provider       pgtype.Text        `json:"provider"`
	PaymentCode    pgtype.Text        `json:"payment_code"`
	ProcessedBy    pgtype.UUID        `json:"processed_by"`
	ExpiresAt      pgtype.Timestamptz `json:"expires_at"`
}

func (q *Queries) CreatePayment(ctx context.Context, arg CreatePaymentParams) (Payment, error) {
	return scanPayment(q.db.QueryRow(ctx, createPayment,
		arg.OutletID,
		arg.Scope,
		arg.OrderID,
		arg.GroupID,
		arg.Method,
		arg.Amount,
		arg.AmountReceived,
		arg.ChangeAmount,
		arg.Provider,
		arg.PaymentCode,
		arg.ProcessedBy,
		arg.ExpiresAt,
	))
}

const getPayment = `-- name: GetPayment :one
SELECT ` + paymentColumns + ` FROM payments
WHERE id = $1
`

func (q *Queries) GetPayment(ctx context.Context, id uuid.UUID) (Payment, error) {
	return scanPayment(q.db.QueryRow(ctx, getPayment, id))
}

const getPaymentForUpdate = `-- name: GetPaymentForUpdate :one
SELECT ` + paymentColumns + ` FROM payments
WHERE id = $1
FOR UPDATE
`

func (q *Queries) GetPaymentForUpdate(ctx context.Context, id uuid.UUID) (Payment, error) {
	return scanPayment(q.db.QueryRow(ctx, getPaymentForUpdate, id))
}

const getPaymentByCode = `-- name: GetPaymentByCode :one
SELECT ` + paymentColumns + ` FROM payments
WHERE payment_code = $1
`

func (q *Queries) GetPaymentByCode(ctx context.Context, paymentCode string) (Payment, error) {
	return scanPayment(q.db.QueryRow(ctx, getPaymentByCode, paymentCode))
}

const getPaymentByProviderTxn = `-- name: GetPaymentByProviderTxn :one
SELECT ` + paymentColumns + ` FROM payments
WHERE provider = $1 AND provider_txn_id = $2
`

type GetPaymentByProviderTxnParams struct {
	Provider      string `json:"provider"`
	ProviderTxnID string `json:"provider_txn_id"`
}

func (q *Queries) GetPaymentByProviderTxn(ctx context.Context, arg GetPaymentByProviderTxnParams) (Payment, error) {
	return scanPayment(q.db.QueryRow(ctx, getPaymentByProviderTxn, arg.Provider, arg.ProviderTxnID))
}

const confirmPayment = `-- name: ConfirmPayment :one
UPDATE payments
SET status = 'CONFIRMED',
    provider = COALESCE($2, provider),
    provider_txn_id = COALESCE($3, provider_txn_id),
    received_at = COALESCE(received_at, $4),
    confirmed_at = $4
WHERE id = $1 AND status = 'PENDING'
RETURNING ` + paymentColumns

type ConfirmPaymentParams struct {
	ID            uuid.UUID   `json:"id"`
	Provider      pgtype.Text `json:"provider"`
	ProviderTxnID pgtype.Text `json:"provider_txn_id"`
	ConfirmedAt   time.Time   `json:"confirmed_at"`
}

// ConfirmPayment can fail with a 23505 on payments_provider_txn_key when the
// provider transaction was already recorded on another row.
func (q *Queries) ConfirmPayment(ctx context.Context, arg ConfirmPaymentParams) (Payment, error) {
	return scanPayment(q.db.QueryRow(ctx, confirmPayment, arg.ID, arg.Provider, arg.ProviderTxnID, arg.ConfirmedAt))
}

const voidPayment = `-- name: VoidPayment :one
UPDATE payments SET status = 'VOIDED', voided_at = $2
WHERE id = $1 AND status = 'PENDING'
RETURNING ` + paymentColumns

type VoidPaymentParams struct {
	ID       uuid.UUID `json:"id"`
	VoidedAt time.Time `json:"voided_at"`
}

func (q *Queries) VoidPayment(ctx context.Context, arg VoidPaymentParams) (Payment, error) {
	return scanPayment(q.db.QueryRow(ctx, voidPayment, arg.ID, arg.VoidedAt))
}

const voidPendingPaymentsByOrder = `-- name: VoidPendingPaymentsByOrder :execrows
UPDATE payments SET status = 'VOIDED', voided_at = $2
WHERE order_id = $1 AND status = 'PENDING'
`

type VoidPendingPaymentsByOrderParams struct {
	OrderID  uuid.UUID `json:"order_id"`
	VoidedAt time.Time `json:"voided_at"`
}

func (q *Queries) VoidPendingPaymentsByOrder(ctx context.Context, arg VoidPendingPaymentsByOrderParams) (int64, error) {
	result, err := q.db.Exec(ctx, voidPendingPaymentsByOrder, arg.OrderID, arg.VoidedAt)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const voidPendingPaymentsByGroup = `-- name: VoidPendingPaymentsByGroup :execrows
UPDATE payments SET status = 'VOIDED', voided_at = $2
WHERE group_id = $1 AND status = 'PENDING'
`

type VoidPendingPaymentsByGroupParams struct {
	GroupID  uuid.UUID `json:"group_id"`
	VoidedAt time.Time `json:"voided_at"`
}

func (q *Queries) VoidPendingPaymentsByGroup(ctx context.Context, arg VoidPendingPaymentsByGroupParams) (int64, error) {
	result, err := q.db.Exec(ctx, voidPendingPaymentsByGroup, arg.GroupID, arg.VoidedAt)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const expireStalePendingPayments = `-- name: ExpireStalePendingPayments :many
UPDATE payments SET status = 'VOIDED', voided_at = $1
WHERE status = 'PENDING' AND expires_at IS NOT NULL AND expires_at <= $1
RETURNING ` + paymentColumns

func (q *Queries) ExpireStalePendingPayments(ctx context.Context, now time.Time) ([]Payment, error) {
	return q.queryPayments(ctx, expireStalePendingPayments, now)
}

const listPaymentsByOrder = `-- name: ListPaymentsByOrder :many
SELECT ` + paymentColumns + ` FROM payments
WHERE order_id = $1
ORDER BY created_at
`

func (q *Queries) ListPaymentsByOrder(ctx context.Context, orderID uuid.UUID) ([]Payment, error) {
	return q.queryPayments(ctx, listPaymentsByOrder, orderID)
}

const listPaymentsByGroup = `-- name: ListPaymentsByGroup :many
SELECT ` + paymentColumns + ` FROM payments
WHERE group_id = $1
ORDER BY created_at
`

func (q *Queries) ListPaymentsByGroup(ctx context.Context, groupID uuid.UUID) ([]Payment, error) {
	return q.queryPayments(ctx, listPaymentsByGroup, groupID)
}

const countConfirmedPaymentsByOrder = `-- name: CountConfirmedPaymentsByOrder :one
SELECT COUNT(*) FROM payments
WHERE order_id = $1 AND status = 'CONFIRMED'
`

func (q *Queries) CountConfirmedPaymentsByOrder(ctx context.Context, orderID uuid.UUID) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, countConfirmedPaymentsByOrder, orderID).Scan(&n)
	return n, err
}

const sumConfirmedPaymentsByOrder = `-- name: SumConfirmedPaymentsByOrder :one
SELECT COALESCE(SUM(amount), 0)::numeric FROM payments
WHERE order_id = $1 AND scope = 'ORDER' AND status = 'CONFIRMED'
`

func (q *Queries) SumConfirmedPaymentsByOrder(ctx context.Context, orderID uuid.UUID) (pgtype.Numeric, error) {
	var n pgtype.Numeric
	err := q.db.QueryRow(ctx, sumConfirmedPaymentsByOrder, orderID).Scan(&n)
	return n, err
}

const sumConfirmedPaymentsByGroup = `-- name: SumConfirmedPaymentsByGroup :one
SELECT COALESCE(SUM(p.amount), 0)::numeric FROM payments p
WHERE p.status = 'CONFIRMED'
  AND (
    (p.scope = 'GROUP' AND p.group_id = $1) OR
    (p.scope = 'ORDER' AND p.order_id IN (SELECT order_id FROM billing_group_orders WHERE group_id = $1))
  )
`

// SumConfirmedPaymentsByGroup counts group-scoped payments plus order-scoped
// payments already taken on member orders.
func (q *Queries) SumConfirmedPaymentsByGroup(ctx context.Context, groupID uuid.UUID) (pgtype.Numeric, error) {
	var n pgtype.Numeric
	err := q.db.QueryRow(ctx, sumConfirmedPaymentsByGroup, groupID).Scan(&n)
	return n, err
}
