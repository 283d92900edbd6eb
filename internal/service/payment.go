package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/kiwari-pos/dinein/internal/database"
	"github.com/shopspring/decimal"
)

const providerTxnConstraint = "payments_provider_txn_key"

// PaymentStore defines the DB methods needed for payment reconciliation.
// Satisfied by *database.Queries.
type PaymentStore interface {
	balanceStore
	releaseStore
	GetOrderForUpdate(ctx context.Context, arg database.GetOrderForUpdateParams) (database.Order, error)
	GetOrderByIDForUpdate(ctx context.Context, id uuid.UUID) (database.Order, error)
	GetBillingGroupForUpdate(ctx context.Context, arg database.GetBillingGroupForUpdateParams) (database.BillingGroup, error)
	GetBillingGroupByIDForUpdate(ctx context.Context, id uuid.UUID) (database.BillingGroup, error)
	CloseOrder(ctx context.Context, arg database.CloseOrderParams) (database.Order, error)
	CountUnsettledOrderItems(ctx context.Context, orderID uuid.UUID) (int64, error)
	CreatePayment(ctx context.Context, arg database.CreatePaymentParams) (database.Payment, error)
	GetPayment(ctx context.Context, id uuid.UUID) (database.Payment, error)
	GetPaymentForUpdate(ctx context.Context, id uuid.UUID) (database.Payment, error)
	GetPaymentByCode(ctx context.Context, paymentCode string) (database.Payment, error)
	GetPaymentByProviderTxn(ctx context.Context, arg database.GetPaymentByProviderTxnParams) (database.Payment, error)
	ConfirmPayment(ctx context.Context, arg database.ConfirmPaymentParams) (database.Payment, error)
	VoidPayment(ctx context.Context, arg database.VoidPaymentParams) (database.Payment, error)
	ExpireStalePendingPayments(ctx context.Context, now time.Time) ([]database.Payment, error)
}

// NewPaymentStore creates a PaymentStore from a DBTX (pool or tx).
type NewPaymentStore func(db database.DBTX) PaymentStore

// CreatePaymentRequest is a payment attempt against an order or a group.
// AmountReceived is only read for CASH.
type CreatePaymentRequest struct {
	OutletID       uuid.UUID
	Scope          string
	TargetID       uuid.UUID
	Method         string
	Amount         string
	AmountReceived string
	ProcessedBy    *uuid.UUID
}

// ProviderConfirmation is a verified callback from an electronic payment
// provider.
type ProviderConfirmation struct {
	Provider      string
	ProviderTxnID string
	PaymentCode   string
}

// ConfirmResult is returned by every confirmation, duplicates included, so a
// repeated callback sees the same shape as the first one.
type ConfirmResult struct {
	Payment     database.Payment `json:"payment"`
	Totals      Totals           `json:"totals"`
	OrderClosed bool             `json:"order_closed"`
	Duplicate   bool             `json:"-"`
}

// PaymentService records and reconciles payments.
type PaymentService struct {
	pool       TxBeginner
	newStore   NewPaymentStore
	clock      Clock
	notifier   Notifier
	paymentTTL time.Duration
}

// NewPaymentService creates a new PaymentService. Electronic payments expire
// paymentTTL after creation; zero disables expiry.
func NewPaymentService(pool TxBeginner, newStore NewPaymentStore, clock Clock, notifier Notifier, paymentTTL time.Duration) *PaymentService {
	return &PaymentService{
		pool:       pool,
		newStore:   newStore,
		clock:      clock,
		notifier:   notifierOrNop(notifier),
		paymentTTL: paymentTTL,
	}
}

func newPaymentCode() string {
	return "PAY-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
}

// CreatePending records a PENDING payment. Electronic methods get a payment
// code for correlating the provider callback and an expiry.
func (s *PaymentService) CreatePending(ctx context.Context, req CreatePaymentRequest) (*database.Payment, error) {
	scope := database.PaymentScope(req.Scope)
	if !scope.Valid() {
		return nil, fmt.Errorf("scope %q: %w", req.Scope, ErrInvalidScope)
	}
	method := database.PaymentMethod(req.Method)
	electronic, err := isElectronic(method)
	if err != nil {
		return nil, err
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || !amount.IsPositive() {
		return nil, fmt.Errorf("amount %q: %w", req.Amount, ErrInvalidAmount)
	}

	now := s.clock.Now()
	params := database.CreatePaymentParams{
		OutletID:    req.OutletID,
		Scope:       scope,
		Method:      method,
		Amount:      decimalToNumeric(amount),
		ProcessedBy: optionalUUID(req.ProcessedBy),
	}
	if method == database.PaymentMethodCASH && req.AmountReceived != "" {
		received, err := decimal.NewFromString(req.AmountReceived)
		if err != nil || received.LessThan(amount) {
			return nil, fmt.Errorf("amount received %q: %w", req.AmountReceived, ErrInvalidAmount)
		}
		params.AmountReceived = decimalToNumeric(received)
		params.ChangeAmount = decimalToNumeric(received.Sub(amount))
	}
	if electronic {
		params.PaymentCode = optionalText(newPaymentCode())
		if s.paymentTTL > 0 {
			params.ExpiresAt = timestamptz(now.Add(s.paymentTTL))
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	var orderID uuid.UUID
	switch scope {
	case database.PaymentScopeORDER:
		order, err := lockBillableOrder(ctx, store, req.OutletID, req.TargetID)
		if err != nil {
			return nil, err
		}
		if err := requireActiveOrder(order); err != nil {
			return nil, err
		}
		params.OrderID = uuidOf(order.ID)
		orderID = order.ID
	case database.PaymentScopeGROUP:
		group, err := store.GetBillingGroupForUpdate(ctx, database.GetBillingGroupForUpdateParams{ID: req.TargetID, OutletID: req.OutletID})
		if err != nil {
			return nil, lookupErr(err, "billing group")
		}
		if err := requireOpenGroup(group); err != nil {
			return nil, err
		}
		params.GroupID = uuidOf(group.ID)
	default:
		return nil, invariant("unknown payment scope %q", scope)
	}

	payment, err := store.CreatePayment(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	s.notifier.Notify(ctx, Event{Type: EventPaymentCreated, OutletID: payment.OutletID, OrderID: orderID, Data: payment})
	return &payment, nil
}

// Confirm marks a payment CONFIRMED from the cashier side. Confirming a
// confirmed payment succeeds without counting it twice.
func (s *PaymentService) Confirm(ctx context.Context, outletID, paymentID uuid.UUID) (*ConfirmResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	p, err := store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, lookupErr(err, "payment")
	}
	if p.OutletID != outletID {
		return nil, fmt.Errorf("payment: %w", ErrNotFound)
	}
	return s.confirmTx(ctx, tx, store, p, pgtype.Text{}, pgtype.Text{})
}

// ConfirmProvider is the single entry point for provider callbacks. The
// (provider, provider_txn_id) pair is the idempotency key: a redelivered
// callback returns the already confirmed payment. Signature checks belong to
// the caller.
func (s *PaymentService) ConfirmProvider(ctx context.Context, c ProviderConfirmation) (*ConfirmResult, error) {
	if c.Provider == "" || c.ProviderTxnID == "" {
		return nil, fmt.Errorf("provider transaction: %w", ErrNotFound)
	}
	result, err := s.confirmProviderTx(ctx, c)
	if isUniqueViolation(err, providerTxnConstraint) {
		// Another delivery of the same transaction committed first.
		return s.duplicateByTxn(ctx, c)
	}
	return result, err
}

func (s *PaymentService) confirmProviderTx(ctx context.Context, c ProviderConfirmation) (*ConfirmResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	existing, err := store.GetPaymentByProviderTxn(ctx, database.GetPaymentByProviderTxnParams{
		Provider:      c.Provider,
		ProviderTxnID: c.ProviderTxnID,
	})
	if err == nil {
		result, err := s.duplicate(ctx, store, existing)
		if err != nil {
			return nil, err
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("commit tx: %w", err)
		}
		return result, nil
	}
	if !isNoRows(err) {
		return nil, fmt.Errorf("get payment by provider txn: %w", err)
	}

	p, err := store.GetPaymentByCode(ctx, c.PaymentCode)
	if err != nil {
		return nil, lookupErr(err, "payment")
	}
	return s.confirmTx(ctx, tx, store, p, optionalText(c.Provider), optionalText(c.ProviderTxnID))
}

func (s *PaymentService) duplicateByTxn(ctx context.Context, c ProviderConfirmation) (*ConfirmResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)
	existing, err := store.GetPaymentByProviderTxn(ctx, database.GetPaymentByProviderTxnParams{
		Provider:      c.Provider,
		ProviderTxnID: c.ProviderTxnID,
	})
	if err != nil {
		return nil, lookupErr(err, "payment")
	}
	result, err := s.duplicate(ctx, store, existing)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return result, nil
}

// duplicate builds the response for an already confirmed payment.
func (s *PaymentService) duplicate(ctx context.Context, store PaymentStore, p database.Payment) (*ConfirmResult, error) {
	totals, err := paymentOwnerTotals(ctx, store, p)
	if err != nil {
		return nil, err
	}
	return &ConfirmResult{Payment: p, Totals: totals, Duplicate: true}, nil
}

func paymentOwnerTotals(ctx context.Context, store BillingStore, p database.Payment) (Totals, error) {
	switch p.Scope {
	case database.PaymentScopeORDER:
		order, err := store.GetOrder(ctx, database.GetOrderParams{ID: p.OrderID.Bytes, OutletID: p.OutletID})
		if err != nil {
			return Totals{}, lookupErr(err, "order")
		}
		return orderTotals(ctx, store, order)
	case database.PaymentScopeGROUP:
		group, err := store.GetBillingGroup(ctx, database.GetBillingGroupParams{ID: p.GroupID.Bytes, OutletID: p.OutletID})
		if err != nil {
			return Totals{}, lookupErr(err, "billing group")
		}
		return groupTotals(ctx, store, group)
	default:
		return Totals{}, invariant("unknown payment scope %q", p.Scope)
	}
}

// lockPayment locks the owning order or group first, then the payment, the
// same order order-closing paths take their locks in. An order is locked
// after its open group.
func lockPayment(ctx context.Context, store PaymentStore, p database.Payment) (database.Payment, *database.Order, *database.BillingGroup, error) {
	var (
		order *database.Order
		group *database.BillingGroup
	)
	switch p.Scope {
	case database.PaymentScopeORDER:
		if err := lockGroupsOfOrder(ctx, store, p.OrderID.Bytes); err != nil {
			return database.Payment{}, nil, nil, err
		}
		o, err := store.GetOrderByIDForUpdate(ctx, p.OrderID.Bytes)
		if err != nil {
			return database.Payment{}, nil, nil, lookupErr(err, "order")
		}
		order = &o
	case database.PaymentScopeGROUP:
		g, err := store.GetBillingGroupByIDForUpdate(ctx, p.GroupID.Bytes)
		if err != nil {
			return database.Payment{}, nil, nil, lookupErr(err, "billing group")
		}
		group = &g
	default:
		return database.Payment{}, nil, nil, invariant("unknown payment scope %q", p.Scope)
	}
	locked, err := store.GetPaymentForUpdate(ctx, p.ID)
	if err != nil {
		return database.Payment{}, nil, nil, lookupErr(err, "payment")
	}
	return locked, order, group, nil
}

func (s *PaymentService) confirmTx(ctx context.Context, tx pgx.Tx, store PaymentStore, p database.Payment, provider, txnID pgtype.Text) (*ConfirmResult, error) {
	now := s.clock.Now()

	locked, order, group, err := lockPayment(ctx, store, p)
	if err != nil {
		return nil, err
	}
	if locked.Status == database.PaymentStatusCONFIRMED {
		result, err := s.duplicate(ctx, store, locked)
		if err != nil {
			return nil, err
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("commit tx: %w", err)
		}
		return result, nil
	}
	if err := checkPaymentTransition(locked.Status, database.PaymentStatusCONFIRMED); err != nil {
		return nil, err
	}

	confirmed, err := store.ConfirmPayment(ctx, database.ConfirmPaymentParams{
		ID:            locked.ID,
		Provider:      provider,
		ProviderTxnID: txnID,
		ConfirmedAt:   now,
	})
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("confirm payment: %w", ErrConflict)
		}
		return nil, fmt.Errorf("confirm payment: %w", err)
	}

	result := &ConfirmResult{Payment: confirmed}
	var closed *database.Order
	switch {
	case order != nil:
		result.Totals, err = recomputeOrderBalance(ctx, store, order)
		if err != nil {
			return nil, err
		}
		closed, err = s.autoClose(ctx, store, *order, result.Totals, now)
		if err != nil {
			return nil, err
		}
		result.OrderClosed = closed != nil
	case group != nil:
		result.Totals, err = recomputeGroupBalance(ctx, store, group)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	var orderID uuid.UUID
	if order != nil {
		orderID = order.ID
	}
	s.notifier.Notify(ctx, Event{Type: EventPaymentConfirmed, OutletID: confirmed.OutletID, OrderID: orderID, Data: confirmed})
	if closed != nil {
		s.notifier.Notify(ctx, Event{Type: EventOrderClosed, OutletID: closed.OutletID, OrderID: closed.ID, Data: closed})
	}
	return result, nil
}

// autoClose moves a fully paid order with nothing left in the kitchen to
// PAID. It returns nil when the order stays open.
func (s *PaymentService) autoClose(ctx context.Context, store PaymentStore, order database.Order, totals Totals, now time.Time) (*database.Order, error) {
	if totals.RawBalance.IsPositive() {
		return nil, nil
	}
	active, err := isActiveOrder(order.Status)
	if err != nil || !active {
		return nil, err
	}
	unsettled, err := store.CountUnsettledOrderItems(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("count unsettled items: %w", err)
	}
	if unsettled > 0 {
		return nil, nil
	}
	closed, err := store.CloseOrder(ctx, database.CloseOrderParams{ID: order.ID, Status: database.OrderStatusPAID, ClosedAt: now})
	if err != nil {
		return nil, fmt.Errorf("close paid order: %w", err)
	}
	if err := releaseOrder(ctx, store, closed, now); err != nil {
		return nil, err
	}
	if _, err := recomputeOrderBalance(ctx, store, &closed); err != nil {
		return nil, err
	}
	return &closed, nil
}

// Void cancels a PENDING payment. A confirmed payment is never un-confirmed;
// it needs a compensating record instead.
func (s *PaymentService) Void(ctx context.Context, outletID, paymentID uuid.UUID) (*database.Payment, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	p, err := store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, lookupErr(err, "payment")
	}
	if p.OutletID != outletID {
		return nil, fmt.Errorf("payment: %w", ErrNotFound)
	}
	locked, _, _, err := lockPayment(ctx, store, p)
	if err != nil {
		return nil, err
	}
	if err := checkPaymentTransition(locked.Status, database.PaymentStatusVOIDED); err != nil {
		return nil, err
	}
	voided, err := store.VoidPayment(ctx, database.VoidPaymentParams{ID: locked.ID, VoidedAt: s.clock.Now()})
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("void payment: %w", ErrConflict)
		}
		return nil, fmt.Errorf("void payment: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	s.notifier.Notify(ctx, Event{Type: EventPaymentVoided, OutletID: voided.OutletID, OrderID: voided.OrderID.Bytes, Data: voided})
	return &voided, nil
}

// ExpireStalePending voids every PENDING payment past its expiry and returns
// how many were voided. It is driven by the scheduler.
func (s *PaymentService) ExpireStalePending(ctx context.Context) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	expired, err := s.newStore(tx).ExpireStalePendingPayments(ctx, s.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("expire pending payments: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}

	for _, p := range expired {
		s.notifier.Notify(ctx, Event{Type: EventPaymentVoided, OutletID: p.OutletID, OrderID: p.OrderID.Bytes, Data: p})
	}
	return len(expired), nil
}
