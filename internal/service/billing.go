package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/kiwari-pos/dinein/internal/database"
	"github.com/shopspring/decimal"
)

// BillingStore is the read side of the billing calculator.
// Satisfied by *database.Queries.
type BillingStore interface {
	GetOrder(ctx context.Context, arg database.GetOrderParams) (database.Order, error)
	GetBillingGroup(ctx context.Context, arg database.GetBillingGroupParams) (database.BillingGroup, error)
	SumOrderItems(ctx context.Context, orderID uuid.UUID) (database.SumOrderItemsRow, error)
	GetOrderDiscount(ctx context.Context, orderID uuid.UUID) (database.OrderDiscount, error)
	SumConfirmedPaymentsByOrder(ctx context.Context, orderID uuid.UUID) (pgtype.Numeric, error)
	IsOrderSettledByGroup(ctx context.Context, orderID uuid.UUID) (bool, error)
	SumGroupItems(ctx context.Context, groupID uuid.UUID) (database.SumGroupItemsRow, error)
	SumConfirmedPaymentsByGroup(ctx context.Context, groupID uuid.UUID) (pgtype.Numeric, error)
}

// balanceStore adds the cache writes every mutating path performs.
type balanceStore interface {
	BillingStore
	UpdateOrderBalance(ctx context.Context, arg database.UpdateOrderBalanceParams) error
	UpdateBillingGroupBalance(ctx context.Context, arg database.UpdateBillingGroupBalanceParams) error
	ListOpenGroupIDsForOrder(ctx context.Context, orderID uuid.UUID) ([]uuid.UUID, error)
}

// Totals is the monetary state of an order or a billing group.
//
// DiscountAmount is the order-level discount for an order and the group
// discount for a group; order discounts are never applied at group scope.
// Balance is floored at zero, RawBalance is not: a negative RawBalance is an
// overpayment reported as RefundDue.
type Totals struct {
	SubTotal          decimal.Decimal `json:"sub_total"`
	ItemDiscountTotal decimal.Decimal `json:"item_discount_total"`
	DiscountAmount    decimal.Decimal `json:"discount_amount"`
	GrandTotal        decimal.Decimal `json:"grand_total"`
	Paid              decimal.Decimal `json:"paid"`
	Balance           decimal.Decimal `json:"balance"`
	RawBalance        decimal.Decimal `json:"raw_balance"`
	RefundDue         decimal.Decimal `json:"refund_due"`
	SettledByGroup    bool            `json:"settled_by_group,omitempty"`
}

func (t *Totals) settle(raw decimal.Decimal) {
	t.RawBalance = raw
	t.Balance = decimal.Max(raw, decimal.Zero)
	t.RefundDue = decimal.Max(raw.Neg(), decimal.Zero)
}

// discountAmount applies a PERCENT or AMOUNT discount to base. The result is
// never negative and never larger than base.
func discountAmount(t database.DiscountType, value, base decimal.Decimal) (decimal.Decimal, error) {
	if !base.IsPositive() {
		return decimal.Zero, nil
	}
	var amount decimal.Decimal
	switch t {
	case database.DiscountTypePERCENT:
		amount = base.Mul(value).Div(hundred).Round(2)
	case database.DiscountTypeAMOUNT:
		amount = value
	default:
		return decimal.Zero, fmt.Errorf("discount type %q: %w", t, ErrInvalidDiscount)
	}
	amount = decimal.Max(amount, decimal.Zero)
	return decimal.Min(amount, base), nil
}

func validateDiscount(t database.DiscountType, value decimal.Decimal) error {
	if !t.Valid() {
		return fmt.Errorf("discount type %q: %w", t, ErrInvalidDiscount)
	}
	if value.IsNegative() {
		return fmt.Errorf("discount value %s: %w", value, ErrInvalidDiscount)
	}
	return nil
}

// orderTotals derives an order's totals from its items, discount record and
// confirmed payments. It never reads the cached balance.
func orderTotals(ctx context.Context, store BillingStore, order database.Order) (Totals, error) {
	sums, err := store.SumOrderItems(ctx, order.ID)
	if err != nil {
		return Totals{}, fmt.Errorf("sum order items: %w", err)
	}
	t := Totals{
		SubTotal:          numericToDecimal(sums.SubTotal),
		ItemDiscountTotal: numericToDecimal(sums.ItemDiscountTotal),
	}
	base := t.SubTotal.Sub(t.ItemDiscountTotal)

	disc, err := store.GetOrderDiscount(ctx, order.ID)
	switch {
	case err == nil:
		t.DiscountAmount, err = discountAmount(disc.DiscountType, numericToDecimal(disc.Value), base)
		if err != nil {
			return Totals{}, err
		}
	case isNoRows(err):
	default:
		return Totals{}, fmt.Errorf("get order discount: %w", err)
	}
	t.GrandTotal = base.Sub(t.DiscountAmount)

	paid, err := store.SumConfirmedPaymentsByOrder(ctx, order.ID)
	if err != nil {
		return Totals{}, fmt.Errorf("sum order payments: %w", err)
	}
	t.Paid = numericToDecimal(paid)

	settled, err := store.IsOrderSettledByGroup(ctx, order.ID)
	if err != nil {
		return Totals{}, fmt.Errorf("check group settlement: %w", err)
	}
	switch {
	case settled:
		t.SettledByGroup = true
		t.settle(decimal.Zero)
	case order.Status == database.OrderStatusVOIDED:
		t.settle(decimal.Zero)
	default:
		t.settle(t.GrandTotal.Sub(t.Paid))
	}
	return t, nil
}

// groupTotals sums every member order's items and layers the group's own
// discount on top. Paid counts group payments and order payments of members.
func groupTotals(ctx context.Context, store BillingStore, group database.BillingGroup) (Totals, error) {
	sums, err := store.SumGroupItems(ctx, group.ID)
	if err != nil {
		return Totals{}, fmt.Errorf("sum group items: %w", err)
	}
	t := Totals{
		SubTotal:          numericToDecimal(sums.SubTotal),
		ItemDiscountTotal: numericToDecimal(sums.ItemDiscountTotal),
	}
	base := t.SubTotal.Sub(t.ItemDiscountTotal)
	if group.DiscountType.Valid {
		t.DiscountAmount, err = discountAmount(group.DiscountType.DiscountType, numericToDecimal(group.DiscountValue), base)
		if err != nil {
			return Totals{}, err
		}
	}
	t.GrandTotal = base.Sub(t.DiscountAmount)

	paid, err := store.SumConfirmedPaymentsByGroup(ctx, group.ID)
	if err != nil {
		return Totals{}, fmt.Errorf("sum group payments: %w", err)
	}
	t.Paid = numericToDecimal(paid)
	if group.Status == database.BillingGroupStatusCLOSED {
		t.settle(decimal.Zero)
	} else {
		t.settle(t.GrandTotal.Sub(t.Paid))
	}
	return t, nil
}

// recomputeOrderBalance refreshes the cached balance of the order and of any
// open group it belongs to, and patches order to match the stored row.
// Callers run it inside the mutating transaction.
func recomputeOrderBalance(ctx context.Context, store balanceStore, order *database.Order) (Totals, error) {
	t, err := orderTotals(ctx, store, *order)
	if err != nil {
		return Totals{}, err
	}
	balance := decimalToNumeric(t.RawBalance)
	if err := store.UpdateOrderBalance(ctx, database.UpdateOrderBalanceParams{
		ID:            order.ID,
		BalanceAmount: balance,
	}); err != nil {
		return Totals{}, fmt.Errorf("update order balance: %w", err)
	}
	order.BalanceAmount = balance

	groupIDs, err := store.ListOpenGroupIDsForOrder(ctx, order.ID)
	if err != nil {
		return Totals{}, fmt.Errorf("list open groups: %w", err)
	}
	for _, gid := range groupIDs {
		group, err := store.GetBillingGroup(ctx, database.GetBillingGroupParams{ID: gid, OutletID: order.OutletID})
		if err != nil {
			return Totals{}, fmt.Errorf("get billing group: %w", err)
		}
		if _, err := recomputeGroupBalance(ctx, store, &group); err != nil {
			return Totals{}, err
		}
	}
	return t, nil
}

func recomputeGroupBalance(ctx context.Context, store balanceStore, group *database.BillingGroup) (Totals, error) {
	t, err := groupTotals(ctx, store, *group)
	if err != nil {
		return Totals{}, err
	}
	balance := decimalToNumeric(t.RawBalance)
	if err := store.UpdateBillingGroupBalance(ctx, database.UpdateBillingGroupBalanceParams{
		ID:            group.ID,
		BalanceAmount: balance,
	}); err != nil {
		return Totals{}, fmt.Errorf("update group balance: %w", err)
	}
	group.BalanceAmount = balance
	return t, nil
}

// BillingService answers "what is owed" straight from persisted state.
type BillingService struct {
	store BillingStore
}

// NewBillingService creates a new BillingService.
func NewBillingService(store BillingStore) *BillingService {
	return &BillingService{store: store}
}

// OrderTotals computes the totals of one order.
func (s *BillingService) OrderTotals(ctx context.Context, outletID, orderID uuid.UUID) (*Totals, error) {
	order, err := s.store.GetOrder(ctx, database.GetOrderParams{ID: orderID, OutletID: outletID})
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("order: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	t, err := orderTotals(ctx, s.store, order)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// GroupTotals computes the totals of one billing group.
func (s *BillingService) GroupTotals(ctx context.Context, outletID, groupID uuid.UUID) (*Totals, error) {
	group, err := s.store.GetBillingGroup(ctx, database.GetBillingGroupParams{ID: groupID, OutletID: outletID})
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("billing group: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("get billing group: %w", err)
	}
	t, err := groupTotals(ctx, s.store, group)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
