package service

import (
	"context"

	"github.com/google/uuid"
)

// Event types published after a state change commits.
const (
	EventOrderOpened      = "order.opened"
	EventOrderClosed      = "order.closed"
	EventOrderVoided      = "order.voided"
	EventItemAdded        = "item.added"
	EventItemUpdated      = "item.updated"
	EventItemVoided       = "item.voided"
	EventTicketSubmitted  = "ticket.submitted"
	EventItemAdvanced     = "item.advanced"
	EventGroupClosed      = "group.closed"
	EventPaymentCreated   = "payment.created"
	EventPaymentConfirmed = "payment.confirmed"
	EventPaymentVoided    = "payment.voided"
)

// Event is a committed change, fanned out to the kitchen display and the
// message broker.
type Event struct {
	Type     string    `json:"type"`
	OutletID uuid.UUID `json:"outlet_id"`
	OrderID  uuid.UUID `json:"order_id"`
	Data     any       `json:"data,omitempty"`
}

// Notifier receives events once the transaction that produced them has
// committed. Implementations must not block the caller for long.
type Notifier interface {
	Notify(ctx context.Context, e Event)
}

// NopNotifier drops every event.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Event) {}

// MultiNotifier fans an event out to several notifiers in order.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, e Event) {
	for _, n := range m {
		n.Notify(ctx, e)
	}
}

func notifierOrNop(n Notifier) Notifier {
	if n == nil {
		return NopNotifier{}
	}
	return n
}
