package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"
	"go.uber.org/zap"

	"github.com/MikeMC777/ordenes-pagos/internal/khqr"
	"github.com/MikeMC777/ordenes-pagos/internal/order"
	"github.com/MikeMC777/ordenes-pagos/internal/payment"
)

func testOrder(method order.PaymentMethod, total string) *order.Order {
	t := decimal.RequireFromString(total)
	return &order.Order{
		ID:            "ord-1",
		UserID:        "u1",
		Items:         []order.Item{{ProductID: "p1", Name: "Beans", Quantity: 1, Price: t}},
		Subtotal:      t,
		Total:         t,
		Currency:      "USD",
		PaymentMethod: method,
		Status:        order.StatusPending,
		PaymentStatus: order.PaymentPending,
	}
}

func qrAdapter(secret string, production bool) *QRAdapter {
	return NewQRAdapter(QRConfig{
		Merchant: khqr.Merchant{
			Name: "Ordenes Store", City: "Phnom Penh", PostalCode: "12000",
			Bank: "ABA", MerchantID: "M123", TerminalID: "T01",
		},
		WebhookSecret: secret,
		Production:    production,
	}, zap.NewNop())
}

func TestQRInstructions(t *testing.T) {
	t.Parallel()

	ins, err := qrAdapter("s", true).Instructions(context.Background(), testOrder(order.MethodQR, "25.50"))
	require.NoError(t, err)
	assert.Equal(t, "KHQR_ord-1", ins.PaymentReference)
	assert.Regexp(t, `6304[0-9A-F]{4}$`, ins.Payload)
	assert.True(t, strings.HasPrefix(ins.ImageData, "data:image/png;base64,"))
	assert.Equal(t, "25.50", ins.Amount)
	assert.Equal(t, "ABA", ins.MerchantInfo.Bank)
	assert.Equal(t, "KHQR_ord-1", ins.Ref())
}

func TestQRCallbackSignature(t *testing.T) {
	t.Parallel()

	body := []byte(`{"event":"payment.completed","transaction_reference":"KHQR_ord-1","transaction_id":"bank-9","amount":"25.50","status":"success"}`)

	t.Run("valid", func(t *testing.T) {
		h := http.Header{}
		h.Set("X-KHQR-Signature", Sign("s3cret", body))
		ev, err := qrAdapter("s3cret", true).ParseCallback(context.Background(), h, body)
		require.NoError(t, err)
		require.NotNil(t, ev)
		assert.Equal(t, EventCompleted, ev.Status)
		assert.Equal(t, "ord-1", ev.OrderID)
		assert.Equal(t, "bank-9", ev.GatewayTransactionID)
		assert.Equal(t, "25.5", ev.Amount.String())
	})

	t.Run("alternate header", func(t *testing.T) {
		h := http.Header{}
		h.Set("X-Signature", Sign("s3cret", body))
		_, err := qrAdapter("s3cret", true).ParseCallback(context.Background(), h, body)
		require.NoError(t, err)
	})

	t.Run("mismatch", func(t *testing.T) {
		h := http.Header{}
		h.Set("X-KHQR-Signature", Sign("other", body))
		_, err := qrAdapter("s3cret", false).ParseCallback(context.Background(), h, body)
		assert.True(t, errors.Is(err, ErrInvalidSignature))
	})

	t.Run("missing in production", func(t *testing.T) {
		_, err := qrAdapter("s3cret", true).ParseCallback(context.Background(), http.Header{}, body)
		assert.True(t, errors.Is(err, ErrInvalidSignature))
	})

	t.Run("missing outside production", func(t *testing.T) {
		ev, err := qrAdapter("s3cret", false).ParseCallback(context.Background(), http.Header{}, body)
		require.NoError(t, err)
		assert.Equal(t, EventCompleted, ev.Status)
	})
}

func TestQRCallbackStatuses(t *testing.T) {
	t.Parallel()
	a := qrAdapter("", false)

	ev, err := a.ParseCallback(context.Background(), http.Header{},
		[]byte(`{"event":"payment.failed","transaction_reference":"KHQR_ord-1","status":"failed"}`))
	require.NoError(t, err)
	assert.Equal(t, EventFailed, ev.Status)

	ev, err = a.ParseCallback(context.Background(), http.Header{},
		[]byte(`{"event":"payment.pending","transaction_reference":"KHQR_ord-1","status":"pending"}`))
	require.NoError(t, err)
	assert.Nil(t, ev)
}

func TestQRRefundIsPendingApproval(t *testing.T) {
	t.Parallel()

	a := qrAdapter("", false)
	a.now = func() time.Time { return time.UnixMilli(1700000000000) }
	res, err := a.Refund(context.Background(), &payment.Payment{ID: "p1", Amount: decimal.RequireFromString("25.5")}, "changed mind")
	require.NoError(t, err)
	assert.Equal(t, "khqr_refund_1700000000000", res.ID)
	assert.Equal(t, "pending_approval", res.Status)
	assert.Equal(t, "25.50", res.Amount)
}

type fakeSessions struct {
	got *stripe.CheckoutSessionParams
	err error
}

func (f *fakeSessions) New(p *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	f.got = p
	if f.err != nil {
		return nil, f.err
	}
	return &stripe.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.stripe.test/cs_test_1"}, nil
}

type fakeRefunds struct{ got *stripe.RefundParams }

func (f *fakeRefunds) New(p *stripe.RefundParams) (*stripe.Refund, error) {
	f.got = p
	return &stripe.Refund{ID: "re_1", Status: stripe.RefundStatusSucceeded, Amount: *p.Amount}, nil
}

func cardAdapter(s SessionAPI, r RefundAPI) *CardAdapter {
	return NewCardAdapter(CardConfig{
		SecretKey: "sk_test", WebhookSecret: "whsec_test", ClientURL: "https://shop.test",
	}, zap.NewNop()).WithAPIs(s, r)
}

func TestCardInstructions(t *testing.T) {
	t.Parallel()

	fs := &fakeSessions{}
	o := testOrder(order.MethodCard, "10.00")
	o.Shipping = decimal.RequireFromString("2.50")
	o.Total = decimal.RequireFromString("12.50")

	ins, err := cardAdapter(fs, &fakeRefunds{}).Instructions(context.Background(), o)
	require.NoError(t, err)
	assert.Equal(t, "cs_test_1", ins.SessionID)
	assert.Equal(t, "cs_test_1", ins.Ref())
	assert.Equal(t, "https://checkout.stripe.test/cs_test_1", ins.CheckoutURL)

	require.NotNil(t, fs.got)
	require.Len(t, fs.got.LineItems, 2)
	assert.Equal(t, int64(1000), *fs.got.LineItems[0].PriceData.UnitAmount)
	assert.Equal(t, int64(250), *fs.got.LineItems[1].PriceData.UnitAmount)
	assert.Equal(t, "ord-1", fs.got.Metadata["orderId"])
	assert.Contains(t, *fs.got.SuccessURL, "order_id=ord-1")
}

func TestCardInstructionsGatewayError(t *testing.T) {
	t.Parallel()

	fs := &fakeSessions{err: errors.New("stripe down")}
	_, err := cardAdapter(fs, &fakeRefunds{}).Instructions(context.Background(), testOrder(order.MethodCard, "10"))
	assert.Error(t, err)
}

func stripeSignature(secret string, payload []byte, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func TestCardCallback(t *testing.T) {
	t.Parallel()

	payload := []byte(`{"id":"evt_1","object":"event","type":"checkout.session.completed",` +
		`"data":{"object":{"id":"cs_test_1","object":"checkout.session","payment_status":"paid",` +
		`"metadata":{"orderId":"ord-1"},"payment_intent":"pi_1","amount_total":1250}}}`)
	a := cardAdapter(&fakeSessions{}, &fakeRefunds{})

	h := http.Header{}
	h.Set("Stripe-Signature", stripeSignature("whsec_test", payload, time.Now()))
	ev, err := a.ParseCallback(context.Background(), h, payload)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, EventCompleted, ev.Status)
	assert.Equal(t, "ord-1", ev.OrderID)
	assert.Equal(t, "pi_1", ev.GatewayTransactionID)
	assert.Equal(t, "12.5", ev.Amount.String())
	assert.Equal(t, "webhook:stripe:evt_1", ev.DedupeKey())

	bad := http.Header{}
	bad.Set("Stripe-Signature", stripeSignature("whsec_other", payload, time.Now()))
	_, err = a.ParseCallback(context.Background(), bad, payload)
	assert.True(t, errors.Is(err, ErrInvalidSignature))
}

func TestCardCallbackIgnoresOtherEvents(t *testing.T) {
	t.Parallel()

	payload := []byte(`{"id":"evt_2","object":"event","type":"customer.created","data":{"object":{"id":"cus_1"}}}`)
	h := http.Header{}
	h.Set("Stripe-Signature", stripeSignature("whsec_test", payload, time.Now()))
	ev, err := cardAdapter(&fakeSessions{}, &fakeRefunds{}).ParseCallback(context.Background(), h, payload)
	require.NoError(t, err)
	assert.Nil(t, ev)
}

func TestCardRefund(t *testing.T) {
	t.Parallel()

	fr := &fakeRefunds{}
	a := cardAdapter(&fakeSessions{}, fr)
	p := &payment.Payment{ID: "p1", Amount: decimal.RequireFromString("12.50"), GatewayTransactionID: "pi_1"}
	res, err := a.Refund(context.Background(), p, "damaged")
	require.NoError(t, err)
	assert.Equal(t, "re_1", res.ID)
	assert.Equal(t, "succeeded", res.Status)
	assert.Equal(t, "12.50", res.Amount)
	assert.Equal(t, "pi_1", *fr.got.PaymentIntent)

	_, err = a.Refund(context.Background(), &payment.Payment{ID: "p2"}, "x")
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := NewRegistry(NewCashAdapter(), qrAdapter("", false), cardAdapter(&fakeSessions{}, &fakeRefunds{}))
	for name, want := range map[string]string{"stripe": "stripe", "paypal": "stripe", "khqr": "khqr", "cod": "cash"} {
		a, err := r.ForGateway(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, a.Name(), name)
	}
	_, err := r.ForGateway("bitcoin")
	assert.ErrorIs(t, err, ErrUnsupported)

	cash, _ := r.For(order.MethodCash)
	_, isRefunder := cash.(Refunder)
	assert.False(t, isRefunder)
	_, err = cash.ParseCallback(context.Background(), nil, nil)
	assert.ErrorIs(t, err, ErrNoCallback)
}
