package reconcile

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/MikeMC777/ordenes-pagos/internal/apperr"
	"github.com/MikeMC777/ordenes-pagos/internal/auth"
	"github.com/MikeMC777/ordenes-pagos/internal/gateway"
	"github.com/MikeMC777/ordenes-pagos/internal/khqr"
	"github.com/MikeMC777/ordenes-pagos/internal/memstore"
	"github.com/MikeMC777/ordenes-pagos/internal/order"
	"github.com/MikeMC777/ordenes-pagos/internal/payment"
)

type countingNotifier struct{ n atomic.Int32 }

func (c *countingNotifier) Notify(context.Context, *order.Order, string) error {
	c.n.Add(1)
	return nil
}

// stubCard is a card gateway whose refunds are scripted.
type stubCard struct {
	refundErr error
	refunds   int
}

func (*stubCard) Method() order.PaymentMethod { return order.MethodCard }
func (*stubCard) Name() string                { return "stripe" }
func (*stubCard) Instructions(context.Context, *order.Order) (*gateway.Instructions, error) {
	return &gateway.Instructions{Gateway: "stripe"}, nil
}
func (*stubCard) ParseCallback(context.Context, http.Header, []byte) (*gateway.Event, error) {
	return nil, nil
}
func (s *stubCard) Refund(_ context.Context, p *payment.Payment, _ string) (*gateway.RefundResult, error) {
	s.refunds++
	if s.refundErr != nil {
		return nil, s.refundErr
	}
	return &gateway.RefundResult{ID: "re_1", Status: "succeeded", Amount: p.Amount.StringFixed(2)}, nil
}

// flakyTxs fails the next refund appends.
type flakyTxs struct {
	payment.TransactionRepository
	failures int
}

func (f *flakyTxs) Append(ctx context.Context, t *payment.Transaction) (bool, error) {
	if t.Type == payment.TxRefund && f.failures > 0 {
		f.failures--
		return false, errors.New("db: connection reset")
	}
	return f.TransactionRepository.Append(ctx, t)
}

const qrSecret = "s3cret"

type fixture struct {
	store    *memstore.Store
	card     *stubCard
	notifier *countingNotifier
	deps     Deps
	svc      *Service
}

func newFixture(t *testing.T, adminOnly bool) *fixture {
	t.Helper()
	st := memstore.New()
	card := &stubCard{}
	qr := gateway.NewQRAdapter(gateway.QRConfig{
		Merchant: khqr.Merchant{
			Name: "Ordenes Store", City: "Phnom Penh", Bank: "ABA", MerchantID: "M123",
		},
		WebhookSecret: qrSecret,
		Production:    true,
	}, zap.NewNop())
	n := &countingNotifier{}
	d := Deps{
		Orders:                st.Orders,
		Payments:              st.Payments,
		Transactions:          st.Transactions,
		Gateways:              gateway.NewRegistry(gateway.NewCashAdapter(), qr, card),
		Notifier:              n,
		ManualVerifyAdminOnly: adminOnly,
	}
	return &fixture{store: st, card: card, notifier: n, deps: d, svc: New(d)}
}

var owner = auth.Actor{UserID: "u1"}

// seed stores a pending order with its open payment.
func (f *fixture) seed(t *testing.T, id string, method order.PaymentMethod, gw, total string) *payment.Payment {
	t.Helper()
	ctx := context.Background()
	amt := decimal.RequireFromString(total)
	require.NoError(t, f.store.Orders.Create(ctx, &order.Order{
		ID: id, UserID: "u1",
		Items:    []order.Item{{ProductID: "p1", Name: "Beans", Quantity: 1, Price: amt}},
		Subtotal: amt, Total: amt, Currency: "USD",
		PaymentMethod: method, Status: order.StatusPending, PaymentStatus: order.PaymentPending,
		PaymentReference: "KHQR_" + id,
	}))
	p := &payment.Payment{
		ID: "pay-" + id, OrderID: id, Method: method, Amount: amt, Currency: "USD",
		Status: payment.StatusPending, Gateway: gw,
	}
	require.NoError(t, f.store.Payments.Create(ctx, p))
	return p
}

func completed(orderID, txn string) *gateway.Event {
	return &gateway.Event{
		Gateway: "stripe", ID: "evt_" + txn, OrderID: orderID,
		GatewayTransactionID: txn, Status: gateway.EventCompleted, Source: "webhook",
	}
}

func (f *fixture) count(t *testing.T, paymentID string, typ payment.TxType) int {
	t.Helper()
	txs, err := f.store.Transactions.ListByPayment(context.Background(), paymentID)
	require.NoError(t, err)
	n := 0
	for _, tx := range txs {
		if tx.Type == typ {
			n++
		}
	}
	return n
}

func (f *fixture) captures(t *testing.T, paymentID string) int {
	t.Helper()
	return f.count(t, paymentID, payment.TxCapture)
}

func TestCompletionIsIdempotent(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false)
	ctx := context.Background()
	p := f.seed(t, "o1", order.MethodCard, "stripe", "12.50")

	out, err := f.svc.Apply(ctx, completed("o1", "pi_1"))
	require.NoError(t, err)
	assert.Equal(t, Applied, out)

	out, err = f.svc.Apply(ctx, completed("o1", "pi_1"))
	require.NoError(t, err)
	assert.Equal(t, Duplicate, out)

	o, err := f.store.Orders.GetByID(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusConfirmed, o.Status)
	assert.Equal(t, order.PaymentPaid, o.PaymentStatus)
	require.NotNil(t, o.PaidAt)
	assert.Equal(t, "pi_1", o.PaymentResult.ID)

	got, err := f.store.Payments.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusCompleted, got.Status)
	assert.True(t, got.Captured)
	assert.Equal(t, 1, f.captures(t, p.ID))
	assert.EqualValues(t, 1, f.notifier.n.Load())
}

func TestConcurrentCompletionsCaptureOnce(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false)
	p := f.seed(t, "o1", order.MethodCard, "stripe", "12.50")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Apply(context.Background(), completed("o1", "pi_1"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, f.captures(t, p.ID))
	assert.EqualValues(t, 1, f.notifier.n.Load())
}

func TestCompletionRepairsPartialWrite(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false)
	ctx := context.Background()
	p := f.seed(t, "o1", order.MethodCard, "stripe", "5")

	// payment row committed but the order update never happened
	ok, err := f.store.Payments.Transition(ctx, p.ID, payment.Transition{
		From: payment.Open, To: payment.StatusCompleted, Captured: true,
	})
	require.NoError(t, err)
	require.True(t, ok)

	out, err := f.svc.Apply(ctx, completed("o1", "pi_1"))
	require.NoError(t, err)
	assert.Equal(t, Applied, out)

	o, _ := f.store.Orders.GetByID(ctx, "o1")
	assert.Equal(t, order.PaymentPaid, o.PaymentStatus)
	assert.Equal(t, 1, f.captures(t, p.ID))
	assert.EqualValues(t, 1, f.notifier.n.Load())
}

func TestFailureAfterCompletionIsIgnored(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false)
	ctx := context.Background()
	f.seed(t, "o1", order.MethodCard, "stripe", "5")

	_, err := f.svc.Apply(ctx, completed("o1", "pi_1"))
	require.NoError(t, err)

	ev := completed("o1", "pi_1")
	ev.Status = gateway.EventFailed
	out, err := f.svc.Apply(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, Duplicate, out)

	o, _ := f.store.Orders.GetByID(ctx, "o1")
	assert.Equal(t, order.StatusConfirmed, o.Status)
}

func TestFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false)
	ctx := context.Background()
	p := f.seed(t, "o1", order.MethodCard, "stripe", "5")

	ev := completed("o1", "")
	ev.Status = gateway.EventFailed
	out, err := f.svc.Apply(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, Applied, out)

	o, _ := f.store.Orders.GetByID(ctx, "o1")
	assert.Equal(t, order.StatusFailed, o.Status)
	assert.Equal(t, order.PaymentFailed, o.PaymentStatus)
	got, _ := f.store.Payments.GetByID(ctx, p.ID)
	assert.Equal(t, payment.StatusFailed, got.Status)
	assert.Zero(t, f.notifier.n.Load())
}

func TestAuthorizeThenComplete(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false)
	ctx := context.Background()
	p := f.seed(t, "o1", order.MethodCard, "stripe", "5")

	ev := completed("o1", "pi_1")
	ev.Status = gateway.EventAuthorized
	out, err := f.svc.Apply(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, Applied, out)

	o, _ := f.store.Orders.GetByID(ctx, "o1")
	assert.Equal(t, order.StatusPending, o.Status)
	assert.Equal(t, order.PaymentProcessing, o.PaymentStatus)

	_, err = f.svc.Apply(ctx, completed("o1", "pi_1"))
	require.NoError(t, err)

	txs, err := f.store.Transactions.ListByPayment(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, payment.TxAuthorization, txs[0].Type)
	assert.Equal(t, payment.TxCapture, txs[1].Type)
}

func TestAmountMismatchWritesNothing(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false)
	ctx := context.Background()
	p := f.seed(t, "o1", order.MethodCard, "stripe", "12.50")

	ev := completed("o1", "pi_1")
	amt := decimal.RequireFromString("12.52")
	ev.Amount = &amt
	_, err := f.svc.Apply(ctx, ev)
	assert.ErrorIs(t, err, ErrAmountMismatch)

	got, _ := f.store.Payments.GetByID(ctx, p.ID)
	assert.Equal(t, payment.StatusPending, got.Status)

	amt = decimal.RequireFromString("12.51")
	_, err = f.svc.Apply(ctx, ev)
	assert.NoError(t, err)
}

func qrBody(orderID string) []byte {
	return []byte(`{"event":"payment.completed","transaction_reference":"KHQR_` + orderID +
		`","transaction_id":"bank-9","amount":"25.50","status":"success"}`)
}

func TestQRWebhook(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false)
	ctx := context.Background()
	p := f.seed(t, "o1", order.MethodQR, "khqr", "25.50")
	body := qrBody("o1")

	h := http.Header{}
	h.Set("X-KHQR-Signature", gateway.Sign(qrSecret, body))
	out, err := f.svc.HandleWebhook(ctx, "khqr", h, body)
	require.NoError(t, err)
	assert.Equal(t, Applied, out)

	out, err = f.svc.HandleWebhook(ctx, "khqr", h, body)
	require.NoError(t, err)
	assert.Equal(t, Duplicate, out)

	got, _ := f.store.Payments.GetByID(ctx, p.ID)
	assert.Equal(t, "bank-9", got.GatewayTransactionID)
	assert.EqualValues(t, 1, f.notifier.n.Load())
}

func TestQRWebhookBadSignature(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false)
	ctx := context.Background()
	p := f.seed(t, "o1", order.MethodQR, "khqr", "25.50")
	body := qrBody("o1")

	h := http.Header{}
	h.Set("X-KHQR-Signature", gateway.Sign("wrong", body))
	_, err := f.svc.HandleWebhook(ctx, "khqr", h, body)
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))

	_, err = f.svc.HandleWebhook(ctx, "khqr", http.Header{}, body)
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))

	got, _ := f.store.Payments.GetByID(ctx, p.ID)
	assert.Equal(t, payment.StatusPending, got.Status)
	assert.Zero(t, f.notifier.n.Load())
}

func TestWebhookUnknownOrderIsAcknowledged(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false)
	body := qrBody("ghost")
	h := http.Header{}
	h.Set("X-KHQR-Signature", gateway.Sign(qrSecret, body))

	out, err := f.svc.HandleWebhook(context.Background(), "khqr", h, body)
	require.NoError(t, err)
	assert.Equal(t, Ignored, out)

	_, err = f.svc.HandleWebhook(context.Background(), "bitcoin", h, body)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestVerify(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false)
	ctx := context.Background()
	f.seed(t, "o1", order.MethodQR, "khqr", "25.50")
	f.seed(t, "cash1", order.MethodCash, "cash", "3")

	_, _, err := f.svc.Verify(ctx, auth.Actor{UserID: "u2"}, "o1",
		payment.VerifyPaymentRequest{Gateway: "khqr", TransactionID: "t1", Status: "completed"})
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	_, _, err = f.svc.Verify(ctx, owner, "cash1",
		payment.VerifyPaymentRequest{Gateway: "cash", Status: "completed"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, _, err = f.svc.Verify(ctx, owner, "o1",
		payment.VerifyPaymentRequest{Gateway: "stripe", TransactionID: "t1", Status: "completed"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, _, err = f.svc.Verify(ctx, owner, "o1",
		payment.VerifyPaymentRequest{Gateway: "khqr", TransactionID: "t1", Status: "maybe"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	v, out, err := f.svc.Verify(ctx, owner, "o1",
		payment.VerifyPaymentRequest{Gateway: "khqr", TransactionID: "t1", Status: "paid"})
	require.NoError(t, err)
	assert.Equal(t, Applied, out)
	assert.Equal(t, order.PaymentPaid, v.PaymentStatus)

	o, _ := f.store.Orders.GetByID(ctx, "o1")
	assert.Equal(t, "manual:u1", o.PaymentResult.Source)

	_, out, err = f.svc.Verify(ctx, owner, "o1",
		payment.VerifyPaymentRequest{Gateway: "khqr", TransactionID: "t1", Status: "paid"})
	require.NoError(t, err)
	assert.Equal(t, Duplicate, out)
	assert.EqualValues(t, 1, f.notifier.n.Load())
}

func TestVerifyAdminOnly(t *testing.T) {
	t.Parallel()
	f := newFixture(t, true)
	ctx := context.Background()
	f.seed(t, "o1", order.MethodQR, "khqr", "25.50")
	req := payment.VerifyPaymentRequest{Gateway: "khqr", TransactionID: "t1", Status: "completed"}

	_, _, err := f.svc.Verify(ctx, owner, "o1", req)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	_, _, err = f.svc.Verify(ctx, auth.Actor{UserID: "ops", Admin: true}, "o1", req)
	assert.NoError(t, err)
}

func TestRefund(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false)
	ctx := context.Background()
	p := f.seed(t, "o1", order.MethodCard, "stripe", "12.50")

	_, err := f.svc.Refund(ctx, owner, p.ID, "")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err), "pending payment")

	_, err = f.svc.Apply(ctx, completed("o1", "pi_1"))
	require.NoError(t, err)

	_, err = f.svc.Refund(ctx, auth.Actor{UserID: "u2"}, p.ID, "")
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	r, err := f.svc.Refund(ctx, owner, p.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "re_1", r.ID)
	assert.Equal(t, "12.50", r.Amount)
	assert.Equal(t, "Requested by customer", r.Reason)

	o, _ := f.store.Orders.GetByID(ctx, "o1")
	assert.Equal(t, order.StatusRefunded, o.Status)
	assert.Equal(t, order.PaymentRefunded, o.PaymentStatus)

	v, err := f.svc.PaymentStatus(ctx, owner, p.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusRefunded, v.Status)
	assert.NotEmpty(t, v.RefundData)
	require.Len(t, v.Transactions, 2)
	assert.Equal(t, payment.TxRefund, v.Transactions[1].Type)

	_, err = f.svc.Refund(ctx, owner, p.ID, "again")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.Equal(t, 1, f.card.refunds)
}

func TestRefundGatewayFailureReleasesClaim(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false)
	ctx := context.Background()
	p := f.seed(t, "o1", order.MethodCard, "stripe", "12.50")
	_, err := f.svc.Apply(ctx, completed("o1", "pi_1"))
	require.NoError(t, err)

	f.card.refundErr = errors.New("stripe down")
	_, err = f.svc.Refund(ctx, owner, p.ID, "damaged")
	assert.Equal(t, apperr.KindUpstream, apperr.KindOf(err))

	got, _ := f.store.Payments.GetByID(ctx, p.ID)
	assert.Equal(t, payment.StatusCompleted, got.Status)
	o, _ := f.store.Orders.GetByID(ctx, "o1")
	assert.Equal(t, order.StatusConfirmed, o.Status)
}

func TestRefundNotSupportedForCash(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false)
	ctx := context.Background()
	p := f.seed(t, "o1", order.MethodCash, "cash", "3")
	_, err := f.store.Payments.Transition(ctx, p.ID, payment.Transition{From: payment.Open, To: payment.StatusCompleted})
	require.NoError(t, err)

	_, err = f.svc.Refund(ctx, owner, p.ID, "")
	require.Error(t, err)
	assert.Equal(t, "Refund not supported for this payment method", apperr.MessageOf(err))

	_, err = f.svc.Refund(ctx, owner, "missing", "")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestPaymentStatusUnknown(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false)
	_, err := f.svc.PaymentStatus(context.Background(), owner, "missing")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestFailureDoesNotOverrideCompletedPayment(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false)
	ctx := context.Background()
	p := f.seed(t, "o1", order.MethodCard, "stripe", "5")

	// payment captured, order write not reached yet
	_, err := f.store.Payments.Transition(ctx, p.ID, payment.Transition{
		From: payment.Open, To: payment.StatusCompleted, Captured: true,
	})
	require.NoError(t, err)

	ev := completed("o1", "")
	ev.Status = gateway.EventFailed
	out, err := f.svc.Apply(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, Duplicate, out)

	o, _ := f.store.Orders.GetByID(ctx, "o1")
	assert.Equal(t, order.StatusPending, o.Status)

	_, err = f.svc.Apply(ctx, completed("o1", "pi_1"))
	require.NoError(t, err)
	o, _ = f.store.Orders.GetByID(ctx, "o1")
	assert.Equal(t, order.StatusConfirmed, o.Status)
}

func TestSupersededSessionCannotFailOrder(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false)
	ctx := context.Background()
	p := f.seed(t, "o1", order.MethodCard, "stripe", "5")
	require.NoError(t, f.store.Payments.UpdateInstructions(ctx, p.ID, "cs_new", nil))

	expired := &gateway.Event{
		Gateway: "stripe", ID: "evt_old", OrderID: "o1", Reference: "cs_old",
		Status: gateway.EventFailed, Source: "webhook",
	}
	out, err := f.svc.Apply(ctx, expired)
	require.NoError(t, err)
	assert.Equal(t, Ignored, out)

	authorized := *expired
	authorized.Status = gateway.EventAuthorized
	out, err = f.svc.Apply(ctx, &authorized)
	require.NoError(t, err)
	assert.Equal(t, Ignored, out)

	paid := completed("o1", "pi_1")
	paid.Reference = "cs_new"
	out, err = f.svc.Apply(ctx, paid)
	require.NoError(t, err)
	assert.Equal(t, Applied, out)

	got, _ := f.store.Payments.GetByID(ctx, p.ID)
	assert.Equal(t, payment.StatusCompleted, got.Status)
	o, _ := f.store.Orders.GetByID(ctx, "o1")
	assert.Equal(t, order.StatusConfirmed, o.Status)
	assert.Equal(t, order.PaymentPaid, o.PaymentStatus)
	assert.Equal(t, 1, f.captures(t, p.ID))
}

func TestWebhookUnusableSignedBodyIsAcknowledged(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false)
	ctx := context.Background()

	for _, body := range [][]byte{
		[]byte("not json"),
		[]byte(`{"event":"payment.completed","transaction_id":"bank-9","amount":"25.50","status":"success"}`),
	} {
		h := http.Header{}
		h.Set("X-KHQR-Signature", gateway.Sign(qrSecret, body))
		out, err := f.svc.HandleWebhook(ctx, "khqr", h, body)
		require.NoError(t, err, string(body))
		assert.Equal(t, Ignored, out)
	}

	_, err := f.svc.HandleWebhook(ctx, "cash", http.Header{}, []byte("{}"))
	assert.ErrorIs(t, err, gateway.ErrNoCallback)
}

func TestRefundRetryFinishesLedger(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false)
	ctx := context.Background()
	p := f.seed(t, "o1", order.MethodCard, "stripe", "12.50")
	_, err := f.svc.Apply(ctx, completed("o1", "pi_1"))
	require.NoError(t, err)

	d := f.deps
	d.Transactions = &flakyTxs{TransactionRepository: f.store.Transactions, failures: 1}
	svc := New(d)

	_, err = svc.Refund(ctx, owner, p.ID, "damaged")
	require.Error(t, err)
	assert.Equal(t, 1, f.card.refunds)
	assert.Equal(t, 0, f.count(t, p.ID, payment.TxRefund))

	r, err := svc.Refund(ctx, owner, p.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "re_1", r.ID)
	assert.Equal(t, "damaged", r.Reason)
	assert.Equal(t, 1, f.card.refunds)
	assert.Equal(t, 1, f.count(t, p.ID, payment.TxRefund))

	o, _ := f.store.Orders.GetByID(ctx, "o1")
	assert.Equal(t, order.StatusRefunded, o.Status)
	assert.Equal(t, order.PaymentRefunded, o.PaymentStatus)

	_, err = svc.Refund(ctx, owner, p.ID, "")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.Equal(t, 1, f.count(t, p.ID, payment.TxRefund))
	assert.EqualValues(t, 2, f.notifier.n.Load())
}

func TestRefundClaimWithoutOutcome(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false)
	ctx := context.Background()
	p := f.seed(t, "o1", order.MethodCard, "stripe", "12.50")
	_, err := f.svc.Apply(ctx, completed("o1", "pi_1"))
	require.NoError(t, err)

	// another request holds the claim and has not heard back from the gateway
	_, err = f.store.Payments.Transition(ctx, p.ID, payment.Transition{
		From: []payment.Status{payment.StatusCompleted}, To: payment.StatusRefunded,
	})
	require.NoError(t, err)

	_, err = f.svc.Refund(ctx, owner, p.ID, "")
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.Zero(t, f.card.refunds)
}
