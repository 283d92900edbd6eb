package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kiwari-pos/dinein/internal/database"
)

// tableReleaseStore frees a table once nothing holds it.
type tableReleaseStore interface {
	GetTable(ctx context.Context, arg database.GetTableParams) (database.Table, error)
	CountActiveOrdersForTable(ctx context.Context, tableID uuid.UUID) (int64, error)
	UpdateTableStatus(ctx context.Context, arg database.UpdateTableStatusParams) (database.Table, error)
	CloseQrSessionsForTable(ctx context.Context, arg database.CloseQrSessionsForTableParams) (int64, error)
}

// releaseStore tears down what an order held once it turns terminal.
type releaseStore interface {
	tableReleaseStore
	VoidPendingPaymentsByOrder(ctx context.Context, arg database.VoidPendingPaymentsByOrderParams) (int64, error)
	UnlinkAllOrderTables(ctx context.Context, arg database.UnlinkAllOrderTablesParams) ([]uuid.UUID, error)
}

// releaseOrder runs after the order row has moved to a terminal status:
// pending payments are voided, tables unlinked and, when no other active
// order holds them, turned over.
func releaseOrder(ctx context.Context, store releaseStore, order database.Order, now time.Time) error {
	if _, err := store.VoidPendingPaymentsByOrder(ctx, database.VoidPendingPaymentsByOrderParams{
		OrderID:  order.ID,
		VoidedAt: now,
	}); err != nil {
		return fmt.Errorf("void pending payments: %w", err)
	}
	tableIDs, err := store.UnlinkAllOrderTables(ctx, database.UnlinkAllOrderTablesParams{
		OrderID:    order.ID,
		UnlinkedAt: now,
	})
	if err != nil {
		return fmt.Errorf("unlink tables: %w", err)
	}
	for _, tid := range tableIDs {
		if err := releaseTable(ctx, store, order.OutletID, tid, now); err != nil {
			return err
		}
	}
	return nil
}

func releaseTable(ctx context.Context, store tableReleaseStore, outletID, tableID uuid.UUID, now time.Time) error {
	n, err := store.CountActiveOrdersForTable(ctx, tableID)
	if err != nil {
		return fmt.Errorf("count active orders: %w", err)
	}
	if n > 0 {
		return nil
	}
	// A table soft-deleted under a live order has no status left to turn
	// over, but its sessions still close.
	table, err := store.GetTable(ctx, database.GetTableParams{ID: tableID, OutletID: outletID})
	switch {
	case isNoRows(err):
	case err != nil:
		return fmt.Errorf("get table: %w", err)
	case table.Status == database.TableStatusOCCUPIED:
		if _, err := store.UpdateTableStatus(ctx, database.UpdateTableStatusParams{
			ID:     tableID,
			Status: database.TableStatusAVAILABLE,
		}); err != nil {
			return fmt.Errorf("release table: %w", err)
		}
	}
	if _, err := store.CloseQrSessionsForTable(ctx, database.CloseQrSessionsForTableParams{
		TableID:  tableID,
		ClosedAt: now,
	}); err != nil {
		return fmt.Errorf("close table sessions: %w", err)
	}
	return nil
}
