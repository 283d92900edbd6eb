package service

import (
	"fmt"
	"log"

	"github.com/kiwari-pos/dinein/internal/database"
)

// invariant logs and wraps an unreachable state so it is never swallowed.
func invariant(format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	log.Printf("ERROR: invariant violation: %s", msg)
	return fmt.Errorf("%w: %s", ErrInvariantViolation, msg)
}

// isActiveOrder reports whether an order still accepts items and payments.
func isActiveOrder(s database.OrderStatus) (bool, error) {
	switch s {
	case database.OrderStatusOPEN, database.OrderStatusINPROGRESS:
		return true, nil
	case database.OrderStatusPAID, database.OrderStatusVOIDED, database.OrderStatusCLOSED:
		return false, nil
	default:
		return false, invariant("unknown order status %q", s)
	}
}

// requireActiveOrder returns ErrOrderNotActive for terminal orders.
func requireActiveOrder(o database.Order) error {
	active, err := isActiveOrder(o.Status)
	if err != nil {
		return err
	}
	if !active {
		return fmt.Errorf("order %s is %s: %w", o.OrderNumber, o.Status, ErrOrderNotActive)
	}
	return nil
}

// checkOrderTransition enforces OPEN -> IN_PROGRESS -> (PAID | VOIDED | CLOSED).
// Terminal states never move again.
func checkOrderTransition(from, to database.OrderStatus) error {
	switch from {
	case database.OrderStatusOPEN:
		switch to {
		case database.OrderStatusINPROGRESS, database.OrderStatusPAID,
			database.OrderStatusVOIDED, database.OrderStatusCLOSED:
			return nil
		}
	case database.OrderStatusINPROGRESS:
		switch to {
		case database.OrderStatusPAID, database.OrderStatusVOIDED, database.OrderStatusCLOSED:
			return nil
		}
	case database.OrderStatusPAID, database.OrderStatusVOIDED, database.OrderStatusCLOSED:
		return fmt.Errorf("order is %s: %w", from, ErrOrderNotActive)
	default:
		return invariant("unknown order status %q", from)
	}
	return fmt.Errorf("order %s -> %s: %w", from, to, ErrInvalidTransition)
}

// itemPredecessor is the only status an item may advance to target from on
// the kitchen display. NEW -> FIRED happens through ticket submission only.
func itemPredecessor(target database.OrderItemStatus) (database.OrderItemStatus, error) {
	switch target {
	case database.OrderItemStatusINPROGRESS:
		return database.OrderItemStatusFIRED, nil
	case database.OrderItemStatusREADY:
		return database.OrderItemStatusINPROGRESS, nil
	case database.OrderItemStatusSERVED:
		return database.OrderItemStatusREADY, nil
	case database.OrderItemStatusNEW, database.OrderItemStatusFIRED, database.OrderItemStatusVOIDED:
		return "", fmt.Errorf("cannot advance to %s: %w", target, ErrInvalidTransition)
	default:
		return "", fmt.Errorf("item status %q: %w", target, ErrInvalidStatus)
	}
}

// itemRank orders the kitchen states so backward moves can be told apart from
// races.
func itemRank(s database.OrderItemStatus) (int, error) {
	switch s {
	case database.OrderItemStatusNEW:
		return 0, nil
	case database.OrderItemStatusFIRED:
		return 1, nil
	case database.OrderItemStatusINPROGRESS:
		return 2, nil
	case database.OrderItemStatusREADY:
		return 3, nil
	case database.OrderItemStatusSERVED:
		return 4, nil
	case database.OrderItemStatusVOIDED:
		return -1, nil
	default:
		return 0, invariant("unknown item status %q", s)
	}
}

// isItemEditable reports whether quantity and notes may still change.
func isItemEditable(s database.OrderItemStatus) (bool, error) {
	switch s {
	case database.OrderItemStatusNEW, database.OrderItemStatusFIRED:
		return true, nil
	case database.OrderItemStatusINPROGRESS, database.OrderItemStatusREADY,
		database.OrderItemStatusSERVED, database.OrderItemStatusVOIDED:
		return false, nil
	default:
		return false, invariant("unknown item status %q", s)
	}
}

// checkItemVoid returns (noop, err). Voiding a voided item is a no-op.
func checkItemVoid(s database.OrderItemStatus) (bool, error) {
	switch s {
	case database.OrderItemStatusNEW, database.OrderItemStatusFIRED,
		database.OrderItemStatusINPROGRESS, database.OrderItemStatusREADY:
		return false, nil
	case database.OrderItemStatusVOIDED:
		return true, nil
	case database.OrderItemStatusSERVED:
		return false, fmt.Errorf("served item cannot be voided: %w", ErrInvalidTransition)
	default:
		return false, invariant("unknown item status %q", s)
	}
}

// checkPaymentTransition enforces the one-shot PENDING -> CONFIRMED | VOIDED.
func checkPaymentTransition(from, to database.PaymentStatus) error {
	switch from {
	case database.PaymentStatusPENDING:
		switch to {
		case database.PaymentStatusCONFIRMED, database.PaymentStatusVOIDED:
			return nil
		}
		return fmt.Errorf("payment %s -> %s: %w", from, to, ErrInvalidTransition)
	case database.PaymentStatusCONFIRMED:
		return fmt.Errorf("payment is confirmed: %w", ErrInvalidTransition)
	case database.PaymentStatusVOIDED:
		return fmt.Errorf("payment: %w", ErrAlreadyVoided)
	default:
		return invariant("unknown payment status %q", from)
	}
}

func requireOpenGroup(g database.BillingGroup) error {
	switch g.Status {
	case database.BillingGroupStatusOPEN:
		return nil
	case database.BillingGroupStatusCLOSED:
		return ErrGroupNotOpen
	default:
		return invariant("unknown billing group status %q", g.Status)
	}
}

func isElectronic(m database.PaymentMethod) (bool, error) {
	switch m {
	case database.PaymentMethodQRIS, database.PaymentMethodEWALLET:
		return true, nil
	case database.PaymentMethodCASH, database.PaymentMethodTRANSFER:
		return false, nil
	default:
		return false, fmt.Errorf("method %q: %w", m, ErrInvalidMethod)
	}
}
