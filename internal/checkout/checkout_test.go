package checkout

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/MikeMC777/ordenes-pagos/internal/apperr"
	"github.com/MikeMC777/ordenes-pagos/internal/auth"
	"github.com/MikeMC777/ordenes-pagos/internal/cart"
	"github.com/MikeMC777/ordenes-pagos/internal/gateway"
	"github.com/MikeMC777/ordenes-pagos/internal/khqr"
	"github.com/MikeMC777/ordenes-pagos/internal/memstore"
	"github.com/MikeMC777/ordenes-pagos/internal/order"
	"github.com/MikeMC777/ordenes-pagos/internal/payment"
	"github.com/MikeMC777/ordenes-pagos/internal/product"
)

// stubCard stands in for the hosted checkout gateway.
type stubCard struct {
	calls int
	err   error
}

func (*stubCard) Method() order.PaymentMethod { return order.MethodCard }
func (*stubCard) Name() string                { return "stripe" }
func (s *stubCard) Instructions(_ context.Context, o *order.Order) (*gateway.Instructions, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &gateway.Instructions{Gateway: "stripe", SessionID: "cs_" + o.ID, CheckoutURL: "https://pay.test/" + o.ID}, nil
}
func (*stubCard) ParseCallback(context.Context, http.Header, []byte) (*gateway.Event, error) {
	return nil, nil
}

type fixture struct {
	store *memstore.Store
	card  *stubCard
	svc   *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memstore.New()
	card := &stubCard{}
	qr := gateway.NewQRAdapter(gateway.QRConfig{Merchant: khqr.Merchant{
		Name: "Ordenes Store", City: "Phnom Penh", PostalCode: "12000",
		Bank: "ABA", MerchantID: "M123", TerminalID: "T01",
	}}, zap.NewNop())
	svc := New(Deps{
		Orders:   st.Orders,
		Payments: st.Payments,
		Carts:    st.Carts,
		Products: st.Products,
		Gateways: gateway.NewRegistry(gateway.NewCashAdapter(), qr, card),
	})
	return &fixture{store: st, card: card, svc: svc}
}

var buyer = auth.Actor{UserID: "u1", Email: "buyer@example.com"}

func address() *order.Address {
	return &order.Address{Address: "St. 271", City: "Phnom Penh", PostalCode: "12000", Country: "KH"}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func TestCashCheckoutFromCart(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	f.store.Products.Put(&product.Product{ID: "p1", Name: "Beans", Price: dec("10.00"), Active: true})
	f.store.Carts.Put(&cart.Cart{UserID: "u1", Items: []cart.Item{{ProductID: "p1", Quantity: 3}}})

	res, err := f.svc.Checkout(ctx, Input{Actor: buyer, Request: order.CreateOrderRequest{
		ShippingAddress: address(),
		PaymentMethod:   "cod",
	}})
	require.NoError(t, err)

	assert.Equal(t, order.StatusConfirmed, res.Order.Status)
	assert.Equal(t, order.PaymentPendingCollection, res.Order.PaymentStatus)
	assert.Equal(t, "30.00", res.Order.Total)
	assert.Equal(t, "Beans", res.Order.Items[0].Name)
	assert.Equal(t, 0, f.card.calls)
	assert.Equal(t, "cash", res.PaymentData.Gateway)

	c, err := f.store.Carts.GetByUser(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, c.Empty())

	p, err := f.store.Payments.GetByID(ctx, res.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusPending, p.Status)
	assert.Equal(t, "cash", p.Gateway)
}

func TestQRCheckout(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Checkout(ctx, Input{Actor: buyer, Request: order.CreateOrderRequest{
		Items:           []order.CreateOrderItem{{ProductID: "p1", Name: "Tea", Quantity: 1, Price: dec("25.50")}},
		ShippingAddress: address(),
		PaymentMethod:   "qr-bank",
		Currency:        "KHR",
		Total:           decPtr("25.50"),
	}})
	require.NoError(t, err)

	assert.Equal(t, order.StatusPending, res.Order.Status)
	assert.Equal(t, "25.50", res.Order.Total)
	require.NotEmpty(t, res.PaymentData.Payload)
	assert.Regexp(t, regexp.MustCompile(`[0-9A-F]{4}$`), res.PaymentData.Payload)
	assert.Equal(t, "KHQR_"+res.Order.ID, res.PaymentData.PaymentReference)

	p, err := f.store.Payments.GetByID(ctx, res.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusPending, p.Status)
	assert.Equal(t, "KHQR_"+res.Order.ID, p.GatewayPaymentID)

	o, err := f.store.Orders.FindByReference(ctx, "KHQR_"+res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Order.ID, o.ID)
}

func TestGatewayFailureKeepsOrder(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	f.card.err = errors.New("timeout")

	res, err := f.svc.Checkout(ctx, Input{Actor: buyer, Request: order.CreateOrderRequest{
		Items:           []order.CreateOrderItem{{ProductID: "p1", Quantity: 2, Price: dec("5")}},
		ShippingAddress: address(),
		PaymentMethod:   "stripe",
	}})
	require.NoError(t, err)
	assert.Equal(t, order.StatusPending, res.Order.Status)
	assert.True(t, res.PaymentData.Retryable)
	assert.NotEmpty(t, res.PaymentData.Error)

	p, err := f.store.Payments.FindOpenByOrder(ctx, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, "10", p.Amount.String())

	// retry succeeds and reuses the open payment
	f.card.err = nil
	ins, err := f.svc.Instructions(ctx, buyer, res.Order.ID, "stripe")
	require.NoError(t, err)
	assert.Equal(t, "cs_"+res.Order.ID, ins.SessionID)

	p2, err := f.store.Payments.FindOpenByOrder(ctx, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, p2.ID)
	assert.Equal(t, "cs_"+res.Order.ID, p2.GatewayPaymentID)
}

func TestCheckoutValidation(t *testing.T) {
	t.Parallel()

	cases := map[string]order.CreateOrderRequest{
		"no address": {PaymentMethod: "cod",
			Items: []order.CreateOrderItem{{ProductID: "p1", Quantity: 1, Price: dec("1")}}},
		"no method": {ShippingAddress: address(),
			Items: []order.CreateOrderItem{{ProductID: "p1", Quantity: 1, Price: dec("1")}}},
		"bad method": {ShippingAddress: address(), PaymentMethod: "bitcoin",
			Items: []order.CreateOrderItem{{ProductID: "p1", Quantity: 1, Price: dec("1")}}},
		"empty cart": {ShippingAddress: address(), PaymentMethod: "cod"},
		"zero qty": {ShippingAddress: address(), PaymentMethod: "cod",
			Items: []order.CreateOrderItem{{ProductID: "p1", Quantity: 0, Price: dec("1")}}},
		"total mismatch": {ShippingAddress: address(), PaymentMethod: "cod", Total: decPtr("9.00"),
			Items: []order.CreateOrderItem{{ProductID: "p1", Quantity: 1, Price: dec("10")}}},
		"currency": {ShippingAddress: address(), PaymentMethod: "cod", Currency: "EUR",
			Items: []order.CreateOrderItem{{ProductID: "p1", Quantity: 1, Price: dec("10")}}},
	}
	for name, req := range cases {
		f := newFixture(t)
		_, err := f.svc.Checkout(context.Background(), Input{Actor: buyer, Request: req})
		require.Error(t, err, name)
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err), name)
	}
}

func TestInstructionsGuards(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Checkout(ctx, Input{Actor: buyer, Request: order.CreateOrderRequest{
		Items:           []order.CreateOrderItem{{ProductID: "p1", Quantity: 1, Price: dec("7")}},
		ShippingAddress: address(),
		PaymentMethod:   "khqr",
	}})
	require.NoError(t, err)
	id := res.Order.ID

	_, err = f.svc.Instructions(ctx, buyer, "missing", "khqr")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	_, err = f.svc.Instructions(ctx, auth.Actor{UserID: "intruder"}, id, "khqr")
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	_, err = f.svc.Instructions(ctx, buyer, id, "stripe")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	f.card.err = errors.New("down")
	ins, err := f.svc.Instructions(ctx, buyer, id, "khqr")
	require.NoError(t, err)
	assert.NotEmpty(t, ins.Payload)

	_, err = f.store.Orders.Transition(ctx, id, order.Transition{To: order.StatusConfirmed, Payment: order.PaymentPaid})
	require.NoError(t, err)
	_, err = f.svc.Instructions(ctx, buyer, id, "khqr")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestUpstreamErrorOnRetry(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	f.card.err = errors.New("down")

	res, err := f.svc.Checkout(ctx, Input{Actor: buyer, Request: order.CreateOrderRequest{
		Items:           []order.CreateOrderItem{{ProductID: "p1", Quantity: 1, Price: dec("7")}},
		ShippingAddress: address(),
		PaymentMethod:   "stripe",
	}})
	require.NoError(t, err)

	_, err = f.svc.Instructions(ctx, buyer, res.Order.ID, "paypal")
	assert.Equal(t, apperr.KindUpstream, apperr.KindOf(err))
}

func TestGetAndList(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Checkout(ctx, Input{Actor: buyer, Request: order.CreateOrderRequest{
		Items:           []order.CreateOrderItem{{ProductID: "p1", Quantity: 1, Price: dec("7")}},
		ShippingAddress: address(),
		PaymentMethod:   "cash",
	}})
	require.NoError(t, err)

	v, err := f.svc.Get(ctx, buyer, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, "7.00", v.Total)

	_, err = f.svc.Get(ctx, auth.Actor{UserID: "u2"}, res.Order.ID)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	_, err = f.svc.Get(ctx, auth.Actor{UserID: "ops", Admin: true}, res.Order.ID)
	assert.NoError(t, err)

	list, err := f.svc.ListMine(ctx, buyer, 10, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
