package gateway

import (
	"context"
	"net/http"

	"github.com/MikeMC777/ordenes-pagos/internal/order"
)

// CashAdapter handles cash on delivery: no external call, no callback and
// no refund.
type CashAdapter struct{}

func NewCashAdapter() *CashAdapter { return &CashAdapter{} }

func (*CashAdapter) Method() order.PaymentMethod { return order.MethodCash }
func (*CashAdapter) Name() string                { return "cash" }

func (*CashAdapter) Instructions(_ context.Context, o *order.Order) (*Instructions, error) {
	return &Instructions{
		Gateway:     "cash",
		PaymentType: "offline",
		Amount:      o.Total.StringFixed(2),
		Currency:    o.Currency,
		Message:     "Pay with cash on delivery",
	}, nil
}

func (*CashAdapter) ParseCallback(context.Context, http.Header, []byte) (*Event, error) {
	return nil, ErrNoCallback
}
