package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/kiwari-pos/dinein/internal/database"
	"github.com/shopspring/decimal"
)

// GroupStore defines the DB methods needed by billing groups.
// Satisfied by *database.Queries.
type GroupStore interface {
	balanceStore
	releaseStore
	CreateBillingGroup(ctx context.Context, arg database.CreateBillingGroupParams) (database.BillingGroup, error)
	GetBillingGroupForUpdate(ctx context.Context, arg database.GetBillingGroupForUpdateParams) (database.BillingGroup, error)
	SetBillingGroupDiscount(ctx context.Context, arg database.SetBillingGroupDiscountParams) (database.BillingGroup, error)
	CloseBillingGroup(ctx context.Context, arg database.CloseBillingGroupParams) (database.BillingGroup, error)
	AddBillingGroupOrder(ctx context.Context, arg database.AddBillingGroupOrderParams) (int64, error)
	RemoveBillingGroupOrder(ctx context.Context, arg database.RemoveBillingGroupOrderParams) (int64, error)
	ListBillingGroupOrderIDs(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error)
	ListActiveGroupMembersForUpdate(ctx context.Context, groupID uuid.UUID) ([]database.Order, error)
	SettleGroupOrders(ctx context.Context, arg database.SettleGroupOrdersParams) (int64, error)
	GetOrderForUpdate(ctx context.Context, arg database.GetOrderForUpdateParams) (database.Order, error)
	CountUnsettledOrderItems(ctx context.Context, orderID uuid.UUID) (int64, error)
	VoidPendingPaymentsByGroup(ctx context.Context, arg database.VoidPendingPaymentsByGroupParams) (int64, error)
}

// NewGroupStore creates a GroupStore from a DBTX (pool or tx).
type NewGroupStore func(db database.DBTX) GroupStore

// GroupResult is a group with freshly computed totals.
type GroupResult struct {
	Group  database.BillingGroup `json:"group"`
	Totals Totals                `json:"totals"`
}

// GroupDetail is the read model of a billing group.
type GroupDetail struct {
	Group    database.BillingGroup `json:"group"`
	OrderIDs []uuid.UUID           `json:"order_ids"`
	Totals   Totals                `json:"totals"`
}

// GroupService manages billing groups: several orders settled as one bill.
// Groups reference orders through billing_group_orders only.
type GroupService struct {
	pool     TxBeginner
	newStore NewGroupStore
	clock    Clock
	notifier Notifier
}

// NewGroupService creates a new GroupService.
func NewGroupService(pool TxBeginner, newStore NewGroupStore, clock Clock, notifier Notifier) *GroupService {
	return &GroupService{pool: pool, newStore: newStore, clock: clock, notifier: notifierOrNop(notifier)}
}

type memberGroupLocker interface {
	ListOpenGroupIDsForOrder(ctx context.Context, orderID uuid.UUID) ([]uuid.UUID, error)
	GetBillingGroupByIDForUpdate(ctx context.Context, id uuid.UUID) (database.BillingGroup, error)
}

// lockGroupsOfOrder locks the open billing groups an order belongs to.
// Refreshing an order balance also writes its group, so any path that locks
// both rows takes the group first and the order second.
func lockGroupsOfOrder(ctx context.Context, store memberGroupLocker, orderID uuid.UUID) error {
	groupIDs, err := store.ListOpenGroupIDsForOrder(ctx, orderID)
	if err != nil {
		return fmt.Errorf("list open groups: %w", err)
	}
	for _, gid := range groupIDs {
		if _, err := store.GetBillingGroupByIDForUpdate(ctx, gid); err != nil && !isNoRows(err) {
			return fmt.Errorf("lock billing group: %w", err)
		}
	}
	return nil
}

func lockOpenGroup(ctx context.Context, store GroupStore, outletID, groupID uuid.UUID) (database.BillingGroup, error) {
	group, err := store.GetBillingGroupForUpdate(ctx, database.GetBillingGroupForUpdateParams{ID: groupID, OutletID: outletID})
	if err != nil {
		return database.BillingGroup{}, lookupErr(err, "billing group")
	}
	if err := requireOpenGroup(group); err != nil {
		return database.BillingGroup{}, err
	}
	return group, nil
}

// Create opens an empty billing group.
func (s *GroupService) Create(ctx context.Context, outletID uuid.UUID, createdBy *uuid.UUID) (*database.BillingGroup, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	group, err := s.newStore(tx).CreateBillingGroup(ctx, database.CreateBillingGroupParams{
		OutletID:  outletID,
		CreatedBy: optionalUUID(createdBy),
	})
	if err != nil {
		return nil, fmt.Errorf("create billing group: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return &group, nil
}

// Attach adds an active order to an open group. Attaching twice is a no-op.
// An order belongs to at most one open group.
func (s *GroupService) Attach(ctx context.Context, outletID, groupID, orderID uuid.UUID) (*GroupResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	group, err := lockOpenGroup(ctx, store, outletID, groupID)
	if err != nil {
		return nil, err
	}
	order, err := lockOrder(ctx, store, outletID, orderID)
	if err != nil {
		return nil, err
	}
	if err := requireActiveOrder(order); err != nil {
		return nil, err
	}

	openGroups, err := store.ListOpenGroupIDsForOrder(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("list open groups: %w", err)
	}
	for _, gid := range openGroups {
		if gid != group.ID {
			return nil, ErrOrderInGroup
		}
	}

	if _, err := store.AddBillingGroupOrder(ctx, database.AddBillingGroupOrderParams{GroupID: group.ID, OrderID: order.ID}); err != nil {
		return nil, fmt.Errorf("attach order: %w", err)
	}
	totals, err := recomputeGroupBalance(ctx, store, &group)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return &GroupResult{Group: group, Totals: totals}, nil
}

// Detach removes an active order from an open group.
func (s *GroupService) Detach(ctx context.Context, outletID, groupID, orderID uuid.UUID) (*GroupResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	group, err := lockOpenGroup(ctx, store, outletID, groupID)
	if err != nil {
		return nil, err
	}
	order, err := lockOrder(ctx, store, outletID, orderID)
	if err != nil {
		return nil, err
	}
	if err := requireActiveOrder(order); err != nil {
		return nil, err
	}

	n, err := store.RemoveBillingGroupOrder(ctx, database.RemoveBillingGroupOrderParams{GroupID: group.ID, OrderID: order.ID})
	if err != nil {
		return nil, fmt.Errorf("detach order: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("group member: %w", ErrNotFound)
	}
	totals, err := recomputeGroupBalance(ctx, store, &group)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return &GroupResult{Group: group, Totals: totals}, nil
}

// SetDiscount sets the group-level discount. An empty type clears it. Order
// discounts of members never apply at group scope.
func (s *GroupService) SetDiscount(ctx context.Context, outletID, groupID uuid.UUID, discountType, value string) (*GroupResult, error) {
	discType := database.NullDiscountType{}
	discValue := pgtype.Numeric{}
	if discountType != "" {
		dv, err := decimal.NewFromString(value)
		if err != nil {
			return nil, fmt.Errorf("discount value %q: %w", value, ErrInvalidDiscount)
		}
		t := database.DiscountType(discountType)
		if err := validateDiscount(t, dv); err != nil {
			return nil, err
		}
		discType = database.NullDiscountType{DiscountType: t, Valid: true}
		discValue = decimalToNumeric(dv)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	group, err := lockOpenGroup(ctx, store, outletID, groupID)
	if err != nil {
		return nil, err
	}
	group, err = store.SetBillingGroupDiscount(ctx, database.SetBillingGroupDiscountParams{
		ID:            group.ID,
		DiscountType:  discType,
		DiscountValue: discValue,
	})
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("set group discount: %w", ErrConflict)
		}
		return nil, fmt.Errorf("set group discount: %w", err)
	}
	totals, err := recomputeGroupBalance(ctx, store, &group)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return &GroupResult{Group: group, Totals: totals}, nil
}

// Close settles the group: every still-active member moves to PAID and the
// group to CLOSED in one transaction. Any member with unserved items fails
// the whole close with ErrGroupNotSettleable before anything is written.
func (s *GroupService) Close(ctx context.Context, outletID, groupID uuid.UUID) (*GroupResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)
	now := s.clock.Now()

	group, err := lockOpenGroup(ctx, store, outletID, groupID)
	if err != nil {
		return nil, err
	}
	members, err := store.ListActiveGroupMembersForUpdate(ctx, group.ID)
	if err != nil {
		return nil, fmt.Errorf("lock group members: %w", err)
	}

	totals, err := groupTotals(ctx, store, group)
	if err != nil {
		return nil, err
	}
	if totals.RawBalance.IsPositive() {
		return nil, &BalanceError{Owed: totals.RawBalance}
	}
	for _, m := range members {
		if err := checkOrderTransition(m.Status, database.OrderStatusPAID); err != nil {
			return nil, fmt.Errorf("order %s: %w", m.OrderNumber, err)
		}
		n, err := store.CountUnsettledOrderItems(ctx, m.ID)
		if err != nil {
			return nil, fmt.Errorf("count unsettled items: %w", err)
		}
		if n > 0 {
			return nil, fmt.Errorf("order %s has %d items outstanding: %w", m.OrderNumber, n, ErrGroupNotSettleable)
		}
	}

	settled, err := store.SettleGroupOrders(ctx, database.SettleGroupOrdersParams{GroupID: group.ID, ClosedAt: now})
	if err != nil {
		return nil, fmt.Errorf("settle group orders: %w", err)
	}
	if settled != int64(len(members)) {
		return nil, fmt.Errorf("settled %d of %d orders: %w", settled, len(members), ErrConflict)
	}
	closed, err := store.CloseBillingGroup(ctx, database.CloseBillingGroupParams{ID: group.ID, ClosedAt: now})
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("close billing group: %w", ErrConflict)
		}
		return nil, fmt.Errorf("close billing group: %w", err)
	}
	if _, err := store.VoidPendingPaymentsByGroup(ctx, database.VoidPendingPaymentsByGroupParams{
		GroupID:  group.ID,
		VoidedAt: now,
	}); err != nil {
		return nil, fmt.Errorf("void pending group payments: %w", err)
	}

	for _, m := range members {
		m.Status = database.OrderStatusPAID
		if err := releaseOrder(ctx, store, m, now); err != nil {
			return nil, err
		}
		if _, err := recomputeOrderBalance(ctx, store, &m); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	s.notifier.Notify(ctx, Event{Type: EventGroupClosed, OutletID: outletID, Data: closed})
	for _, m := range members {
		s.notifier.Notify(ctx, Event{Type: EventOrderClosed, OutletID: outletID, OrderID: m.ID, Data: m})
	}
	// Totals are the figures the group was settled on.
	return &GroupResult{Group: closed, Totals: totals}, nil
}

// Get loads a group with its member order ids and totals.
func (s *GroupService) Get(ctx context.Context, outletID, groupID uuid.UUID) (*GroupDetail, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	group, err := store.GetBillingGroup(ctx, database.GetBillingGroupParams{ID: groupID, OutletID: outletID})
	if err != nil {
		return nil, lookupErr(err, "billing group")
	}
	ids, err := store.ListBillingGroupOrderIDs(ctx, group.ID)
	if err != nil {
		return nil, fmt.Errorf("list group orders: %w", err)
	}
	if ids == nil {
		ids = []uuid.UUID{}
	}
	totals, err := groupTotals(ctx, store, group)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return &GroupDetail{Group: group, OrderIDs: ids, Totals: totals}, nil
}
