package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kiwari-pos/dinein/internal/database"
)

// TableStore defines the DB methods needed by the table and QR session
// manager. Satisfied by *database.Queries.
type TableStore interface {
	GetTableByCode(ctx context.Context, arg database.GetTableByCodeParams) (database.Table, error)
	GetTable(ctx context.Context, arg database.GetTableParams) (database.Table, error)
	GetActiveOrderForTable(ctx context.Context, tableID uuid.UUID) (database.Order, error)
	GetAliveSessionForDevice(ctx context.Context, arg database.GetAliveSessionForDeviceParams) (database.QrSession, error)
	GetLatestAliveSession(ctx context.Context, arg database.GetLatestAliveSessionParams) (database.QrSession, error)
	CreateQrSession(ctx context.Context, arg database.CreateQrSessionParams) (database.QrSession, error)
	GetQrSession(ctx context.Context, id uuid.UUID) (database.QrSession, error)
	TouchQrSession(ctx context.Context, arg database.TouchQrSessionParams) (database.QrSession, error)
	CloseQrSession(ctx context.Context, arg database.CloseQrSessionParams) (int64, error)
	CloseQrSessionsForTable(ctx context.Context, arg database.CloseQrSessionsForTableParams) (int64, error)
	CloseExpiredQrSessions(ctx context.Context, now time.Time) (int64, error)
}

// ResolveResult is what a scanned table code resolves to.
type ResolveResult struct {
	Table          database.Table      `json:"table"`
	ActiveOrder    *database.Order     `json:"active_order,omitempty"`
	CurrentSession *database.QrSession `json:"current_session,omitempty"`
}

// OpenSessionRequest binds a customer device to a table.
type OpenSessionRequest struct {
	OutletID          uuid.UUID
	TableID           uuid.UUID
	DeviceFingerprint string
	IPAddress         string
}

// TableService owns table lookup and customer QR sessions.
//
// Sessions are deduplicated by look-up-then-create, not by a constraint:
// two devices racing may both create a session, and the newest alive one is
// treated as current.
type TableService struct {
	store      TableStore
	clock      Clock
	sessionTTL time.Duration
}

// NewTableService creates a new TableService. A zero sessionTTL creates
// sessions that never expire on their own.
func NewTableService(store TableStore, clock Clock, sessionTTL time.Duration) *TableService {
	return &TableService{store: store, clock: clock, sessionTTL: sessionTTL}
}

// IsSessionAlive reports whether s is neither closed nor past its expiry.
func IsSessionAlive(s database.QrSession, now time.Time) bool {
	if s.ClosedAt.Valid {
		return false
	}
	return !s.ExpiresAt.Valid || s.ExpiresAt.Time.After(now)
}

// Resolve looks a table up by its code along with the order currently open on
// it and the newest alive session, restricted to the device when one is given.
func (s *TableService) Resolve(ctx context.Context, outletID uuid.UUID, code, deviceFingerprint string) (*ResolveResult, error) {
	table, err := s.store.GetTableByCode(ctx, database.GetTableByCodeParams{OutletID: outletID, Code: code})
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("table %q: %w", code, ErrNotFound)
		}
		return nil, fmt.Errorf("get table: %w", err)
	}
	if table.IsDeleted {
		return nil, fmt.Errorf("table %q: %w", code, ErrNotFound)
	}

	res := &ResolveResult{Table: table}

	order, err := s.store.GetActiveOrderForTable(ctx, table.ID)
	switch {
	case err == nil:
		res.ActiveOrder = &order
	case isNoRows(err):
	default:
		return nil, fmt.Errorf("get active order: %w", err)
	}

	now := s.clock.Now()
	var sess database.QrSession
	if deviceFingerprint != "" {
		sess, err = s.store.GetAliveSessionForDevice(ctx, database.GetAliveSessionForDeviceParams{
			TableID:           table.ID,
			DeviceFingerprint: deviceFingerprint,
			Now:               now,
		})
	} else {
		sess, err = s.store.GetLatestAliveSession(ctx, database.GetLatestAliveSessionParams{TableID: table.ID, Now: now})
	}
	switch {
	case err == nil:
		res.CurrentSession = &sess
	case isNoRows(err):
	default:
		return nil, fmt.Errorf("get current session: %w", err)
	}
	return res, nil
}

// OpenSession returns the device's alive session on the table, creating one
// when there is none.
func (s *TableService) OpenSession(ctx context.Context, req OpenSessionRequest) (*database.QrSession, error) {
	table, err := s.store.GetTable(ctx, database.GetTableParams{ID: req.TableID, OutletID: req.OutletID})
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("table: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("get table: %w", err)
	}
	if table.IsDeleted {
		return nil, fmt.Errorf("table: %w", ErrNotFound)
	}
	if table.Status == database.TableStatusOUTOFSERVICE {
		return nil, fmt.Errorf("table %s: %w", table.Code, ErrTableUnavailable)
	}

	now := s.clock.Now()
	existing, err := s.store.GetAliveSessionForDevice(ctx, database.GetAliveSessionForDeviceParams{
		TableID:           table.ID,
		DeviceFingerprint: req.DeviceFingerprint,
		Now:               now,
	})
	if err == nil {
		return &existing, nil
	}
	if !isNoRows(err) {
		return nil, fmt.Errorf("get alive session: %w", err)
	}

	params := database.CreateQrSessionParams{
		OutletID:          req.OutletID,
		TableID:           table.ID,
		DeviceFingerprint: req.DeviceFingerprint,
		IpAddress:         optionalText(req.IPAddress),
		CreatedAt:         now,
	}
	if s.sessionTTL > 0 {
		params.ExpiresAt = timestamptz(now.Add(s.sessionTTL))
	}
	sess, err := s.store.CreateQrSession(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("create qr session: %w", err)
	}
	return &sess, nil
}

// Heartbeat records that the device is still there. ErrExpired means the
// session is closed or past its expiry and the device must resolve again.
func (s *TableService) Heartbeat(ctx context.Context, outletID, sessionID uuid.UUID) (time.Time, error) {
	sess, err := s.getSession(ctx, outletID, sessionID)
	if err != nil {
		return time.Time{}, err
	}
	now := s.clock.Now()
	if !IsSessionAlive(sess, now) {
		return time.Time{}, fmt.Errorf("qr session: %w", ErrExpired)
	}
	touched, err := s.store.TouchQrSession(ctx, database.TouchQrSessionParams{ID: sess.ID, LastSeenAt: now})
	if err != nil {
		if isNoRows(err) {
			return time.Time{}, fmt.Errorf("qr session: %w", ErrExpired)
		}
		return time.Time{}, fmt.Errorf("touch qr session: %w", err)
	}
	return touched.LastSeenAt, nil
}

// CloseSession closes a session. Closing a closed session is a no-op.
func (s *TableService) CloseSession(ctx context.Context, outletID, sessionID uuid.UUID) error {
	if _, err := s.getSession(ctx, outletID, sessionID); err != nil {
		return err
	}
	if _, err := s.store.CloseQrSession(ctx, database.CloseQrSessionParams{ID: sessionID, ClosedAt: s.clock.Now()}); err != nil {
		return fmt.Errorf("close qr session: %w", err)
	}
	return nil
}

// CloseSessionsForTable closes every open session on a table, used on table
// turnover.
func (s *TableService) CloseSessionsForTable(ctx context.Context, outletID, tableID uuid.UUID) (int64, error) {
	if _, err := s.store.GetTable(ctx, database.GetTableParams{ID: tableID, OutletID: outletID}); err != nil {
		if isNoRows(err) {
			return 0, fmt.Errorf("table: %w", ErrNotFound)
		}
		return 0, fmt.Errorf("get table: %w", err)
	}
	n, err := s.store.CloseQrSessionsForTable(ctx, database.CloseQrSessionsForTableParams{TableID: tableID, ClosedAt: s.clock.Now()})
	if err != nil {
		return 0, fmt.Errorf("close table sessions: %w", err)
	}
	return n, nil
}

// CloseExpiredSessions stamps closed_at on sessions past their expiry. Expired
// sessions are already dead to IsSessionAlive; this only tidies the rows.
func (s *TableService) CloseExpiredSessions(ctx context.Context) (int64, error) {
	n, err := s.store.CloseExpiredQrSessions(ctx, s.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("close expired sessions: %w", err)
	}
	return n, nil
}

func (s *TableService) getSession(ctx context.Context, outletID, sessionID uuid.UUID) (database.QrSession, error) {
	sess, err := s.store.GetQrSession(ctx, sessionID)
	if err != nil {
		if isNoRows(err) {
			return database.QrSession{}, fmt.Errorf("qr session: %w", ErrNotFound)
		}
		return database.QrSession{}, fmt.Errorf("get qr session: %w", err)
	}
	if sess.OutletID != outletID {
		return database.QrSession{}, fmt.Errorf("qr session: %w", ErrNotFound)
	}
	return sess, nil
}
