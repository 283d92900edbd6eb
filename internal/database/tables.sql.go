package database

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const tableColumns = `id, outlet_id, code, name, status, qr_code, is_deleted, created_at, updated_at`

func scanTable(row interface{ Scan(...any) error }) (Table, error) {
	var i Table
	err := row.Scan(
		&i.ID,
		&i.OutletID,
		&i.Code,
		&i.Name,
		&i.Status,
		&i.QrCode,
		&i.IsDeleted,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const getTableByCode = `-- name: GetTableByCode :one
SELECT ` + tableColumns + ` FROM tables
WHERE outlet_id = $1 AND code = $2 AND is_deleted = false
`

type GetTableByCodeParams struct {
	OutletID uuid.UUID `json:"outlet_id"`
	Code     string    `json:"code"`
}

func (q *Queries) GetTableByCode(ctx context.Context, arg GetTableByCodeParams) (Table, error) {
	return scanTable(q.db.QueryRow(ctx, getTableByCode, arg.OutletID, arg.Code))
}

const getTable = `-- name: GetTable :one
SELECT ` + tableColumns + ` FROM tables
WHERE id = $1 AND outlet_id = $2 AND is_deleted = false
`

type GetTableParams struct {
	ID       uuid.UUID `json:"id"`
	OutletID uuid.UUID `json:"outlet_id"`
}

func (q *Queries) GetTable(ctx context.Context, arg GetTableParams) (Table, error) {
	return scanTable(q.db.QueryRow(ctx, getTable, arg.ID, arg.OutletID))
}

const getTableForUpdate = `-- name: GetTableForUpdate :one
SELECT ` + tableColumns + ` FROM tables
WHERE id = $1 AND outlet_id = $2 AND is_deleted = false
FOR UPDATE
`

type GetTableForUpdateParams struct {
	ID       uuid.UUID `json:"id"`
	OutletID uuid.UUID `json:"outlet_id"`
}

func (q *Queries) GetTableForUpdate(ctx context.Context, arg GetTableForUpdateParams) (Table, error) {
	return scanTable(q.db.QueryRow(ctx, getTableForUpdate, arg.ID, arg.OutletID))
}

const updateTableStatus = `-- name: UpdateTableStatus :one
UPDATE tables SET status = $2, updated_at = now()
WHERE id = $1
RETURNING ` + tableColumns

type UpdateTableStatusParams struct {
	ID     uuid.UUID   `json:"id"`
	Status TableStatus `json:"status"`
}

func (q *Queries) UpdateTableStatus(ctx context.Context, arg UpdateTableStatusParams) (Table, error) {
	return scanTable(q.db.QueryRow(ctx, updateTableStatus, arg.ID, arg.Status))
}

const qrSessionColumns = `id, outlet_id, table_id, device_fingerprint, ip_address, created_at, last_seen_at, expires_at, closed_at`

func scanQrSession(row interface{ Scan(...any) error }) (QrSession, error) {
	var i QrSession
	err := row.Scan(
		&i.ID,
		&i.OutletID,
		&i.TableID,
		&i.DeviceFingerprint,
		&i.IpAddress,
		&i.CreatedAt,
		&i.LastSeenAt,
		&i.ExpiresAt,
		&i.ClosedAt,
	)
	return i, err
}

const getAliveSessionForDevice = `-- name: GetAliveSessionForDevice :one
SELECT ` + qrSessionColumns + ` FROM qr_sessions
WHERE table_id = $1
  AND device_fingerprint = $2
  AND closed_at IS NULL
  AND (expires_at IS NULL OR expires_at > $3)
ORDER BY created_at DESC
LIMIT 1
`

type GetAliveSessionForDeviceParams struct {
	TableID           uuid.UUID `json:"table_id"`
	DeviceFingerprint string    `json:"device_fingerprint"`
	Now               time.Time `json:"now"`
}

func (q *Queries) GetAliveSessionForDevice(ctx context.Context, arg GetAliveSessionForDeviceParams) (QrSession, error) {
	return scanQrSession(q.db.QueryRow(ctx, getAliveSessionForDevice, arg.TableID, arg.DeviceFingerprint, arg.Now))
}

const getLatestAliveSession = `-- name: GetLatestAliveSession :one
SELECT ` + qrSessionColumns + ` FROM qr_sessions
WHERE table_id = $1
  AND closed_at IS NULL
  AND (expires_at IS NULL OR expires_at > $2)
ORDER BY created_at DESC
LIMIT 1
`

type GetLatestAliveSessionParams struct {
	TableID uuid.UUID `json:"table_id"`
	Now     time.Time `json:"now"`
}

func (q *Queries) GetLatestAliveSession(ctx context.Context, arg GetLatestAliveSessionParams) (QrSession, error) {
	return scanQrSession(q.db.QueryRow(ctx, getLatestAliveSession, arg.TableID, arg.Now))
}

const createQrSession = `-- name: CreateQrSession :one
INSERT INTO qr_sessions (outlet_id, table_id, device_fingerprint, ip_address, created_at, last_seen_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $5, $6)
RETURNING ` + qrSessionColumns

type CreateQrSessionParams struct {
	OutletID          uuid.UUID          `json:"outlet_id"`
	TableID           uuid.UUID          `json:"table_id"`
	DeviceFingerprint string             `json:"device_fingerprint"`
	IpAddress         pgtype.Text        `json:"ip_address"`
	CreatedAt         time.Time          `json:"created_at"`
	ExpiresAt         pgtype.Timestamptz `json:"expires_at"`
}

func (q *Queries) CreateQrSession(ctx context.Context, arg CreateQrSessionParams) (QrSession, error) {
	return scanQrSession(q.db.QueryRow(ctx, createQrSession,
		arg.OutletID,
		arg.TableID,
		arg.DeviceFingerprint,
		arg.IpAddress,
		arg.CreatedAt,
		arg.ExpiresAt,
	))
}

const getQrSession = `-- name: GetQrSession :one
SELECT ` + qrSessionColumns + ` FROM qr_sessions
WHERE id = $1
`

func (q *Queries) GetQrSession(ctx context.Context, id uuid.UUID) (QrSession, error) {
	return scanQrSession(q.db.QueryRow(ctx, getQrSession, id))
}

const touchQrSession = `-- name: TouchQrSession :one
UPDATE qr_sessions SET last_seen_at = $2
WHERE id = $1
  AND closed_at IS NULL
  AND (expires_at IS NULL OR expires_at > $2)
RETURNING ` + qrSessionColumns

type TouchQrSessionParams struct {
	ID         uuid.UUID `json:"id"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

// TouchQrSession only updates alive sessions; pgx.ErrNoRows means the
// session is missing, closed or expired.
func (q *Queries) TouchQrSession(ctx context.Context, arg TouchQrSessionParams) (QrSession, error) {
	return scanQrSession(q.db.QueryRow(ctx, touchQrSession, arg.ID, arg.LastSeenAt))
}

const closeQrSession = `-- name: CloseQrSession :execrows
UPDATE qr_sessions SET closed_at = $2
WHERE id = $1 AND closed_at IS NULL
`

type CloseQrSessionParams struct {
	ID       uuid.UUID `json:"id"`
	ClosedAt time.Time `json:"closed_at"`
}

func (q *Queries) CloseQrSession(ctx context.Context, arg CloseQrSessionParams) (int64, error) {
	result, err := q.db.Exec(ctx, closeQrSession, arg.ID, arg.ClosedAt)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const closeQrSessionsForTable = `-- name: CloseQrSessionsForTable :execrows
UPDATE qr_sessions SET closed_at = $2
WHERE table_id = $1 AND closed_at IS NULL
`

type CloseQrSessionsForTableParams struct {
	TableID  uuid.UUID `json:"table_id"`
	ClosedAt time.Time `json:"closed_at"`
}

func (q *Queries) CloseQrSessionsForTable(ctx context.Context, arg CloseQrSessionsForTableParams) (int64, error) {
	result, err := q.db.Exec(ctx, closeQrSessionsForTable, arg.TableID, arg.ClosedAt)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const closeExpiredQrSessions = `-- name: CloseExpiredQrSessions :execrows
UPDATE qr_sessions SET closed_at = expires_at
WHERE closed_at IS NULL AND expires_at IS NOT NULL AND expires_at <= $1
`

func (q *Queries) CloseExpiredQrSessions(ctx context.Context, now time.Time) (int64, error) {
	result, err := q.db.Exec(ctx, closeExpiredQrSessions, now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
