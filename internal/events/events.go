// Package events publishes domain events to subscribers outside the
// request path (storefront realtime channel, analytics, fulfilment).
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	OrderCreated       = "order.created"
	OrderPaid          = "order.paid"
	OrderPaymentFailed = "order.payment_failed"
	OrderRefunded      = "order.refunded"
	NotificationInApp  = "notification.in_app"
)

type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	OrderID    string    `json:"order_id,omitempty"`
	PaymentID  string    `json:"payment_id,omitempty"`
	UserID     string    `json:"user_id,omitempty"`
	Payload    any       `json:"payload,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// New stamps an id and time on an event of the given type.
func New(typ string) Event {
	return Event{ID: uuid.NewString(), Type: typ, OccurredAt: time.Now().UTC()}
}

type Sink interface {
	Publish(ctx context.Context, e Event) error
}

// Discard drops every event; used when no broker is configured.
type Discard struct{}

func (Discard) Publish(context.Context, Event) error { return nil }
