// Package notify fans order notifications out to the operations chat, the
// buyer's mailbox and the storefront's in-app feed.
package notify

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/MikeMC777/ordenes-pagos/internal/order"
)

// Notifier is what the reconciliation path depends on.
type Notifier interface {
	Notify(ctx context.Context, o *order.Order, title string) error
}

type Message struct {
	Title string
	Text  string
	HTML  string
	Order *order.Order
}

type Channel interface {
	Name() string
	Send(ctx context.Context, m Message) error
}

type Dispatcher struct {
	channels []Channel
	log      *zap.Logger
}

func NewDispatcher(log *zap.Logger, channels ...Channel) *Dispatcher {
	return &Dispatcher{channels: channels, log: log}
}

// Notify sends to every channel. A failing channel does not stop the
// others; failures are logged and returned joined.
func (d *Dispatcher) Notify(ctx context.Context, o *order.Order, title string) error {
	m := Message{
		Title: title,
		Text:  FormatText(o, title),
		HTML:  FormatHTML(o, title),
		Order: o,
	}
	var errs []error
	for _, ch := range d.channels {
		if err := ch.Send(ctx, m); err != nil {
			d.log.Warn("[notify] channel failed",
				zap.String("channel", ch.Name()), zap.String("order_id", o.ID), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", ch.Name(), err))
		}
	}
	return errors.Join(errs...)
}
