package service

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Errors returned by the order engine. Handlers map them to HTTP statuses;
// the services never retry on them.
var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidQuantity    = errors.New("quantity must be > 0")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrItemLocked         = errors.New("item is already being prepared")
	ErrConflict           = errors.New("concurrent modification, refetch and retry")
	ErrBalanceNotZero     = errors.New("balance is not zero")
	ErrGroupNotSettleable = errors.New("billing group has orders that cannot be settled")
	ErrAlreadyVoided      = errors.New("already voided")
	ErrExpired            = errors.New("expired")
	ErrInvariantViolation = errors.New("invariant violation")

	ErrInvalidDiscount  = errors.New("invalid discount")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrInvalidMethod    = errors.New("invalid payment method")
	ErrInvalidScope     = errors.New("invalid payment scope")
	ErrInvalidStatus    = errors.New("invalid status")
	ErrOrderNotActive   = errors.New("order is not active")
	ErrGroupNotOpen     = errors.New("billing group is not open")
	ErrOrderInGroup     = errors.New("order already belongs to another open billing group")
	ErrPaymentConfirmed = errors.New("order has confirmed payments")
	ErrItemsNotServed   = errors.New("order has items that are not served")
	ErrLastTable        = errors.New("cannot unlink the last table of an order")
	ErrTableUnavailable = errors.New("table is not available")
	ErrTableOccupied    = errors.New("table has another active order")
)

// BalanceError reports the exact amount still owed when a close is refused.
type BalanceError struct {
	Owed decimal.Decimal
}

func (e *BalanceError) Error() string {
	return fmt.Sprintf("balance is not zero: %s owed", e.Owed.StringFixed(2))
}

func (e *BalanceError) Unwrap() error { return ErrBalanceNotZero }

// lookupErr maps pgx.ErrNoRows to ErrNotFound and wraps anything else.
func lookupErr(err error, what string) error {
	if isNoRows(err) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("get %s: %w", what, err)
}
