package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/refund"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"

	"github.com/MikeMC777/ordenes-pagos/internal/apperr"
	"github.com/MikeMC777/ordenes-pagos/internal/order"
	"github.com/MikeMC777/ordenes-pagos/internal/payment"
)

// SessionAPI and RefundAPI are the parts of the Stripe client the adapter
// calls; session.Client and refund.Client satisfy them.
type SessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

type RefundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

type CardConfig struct {
	SecretKey     string
	WebhookSecret string
	ClientURL     string
}

// CardAdapter uses hosted Stripe Checkout sessions.
type CardAdapter struct {
	cfg      CardConfig
	sessions SessionAPI
	refunds  RefundAPI
	log      *zap.Logger
}

func NewCardAdapter(cfg CardConfig, log *zap.Logger) *CardAdapter {
	backend := stripe.GetBackend(stripe.APIBackend)
	return &CardAdapter{
		cfg:      cfg,
		sessions: &session.Client{B: backend, Key: cfg.SecretKey},
		refunds:  &refund.Client{B: backend, Key: cfg.SecretKey},
		log:      log,
	}
}

// WithAPIs swaps the Stripe clients, used by tests.
func (a *CardAdapter) WithAPIs(s SessionAPI, r RefundAPI) *CardAdapter {
	a.sessions, a.refunds = s, r
	return a
}

func (*CardAdapter) Method() order.PaymentMethod { return order.MethodCard }
func (*CardAdapter) Name() string                { return "stripe" }

func lineItem(name, image string, unit decimal.Decimal, qty int, currency string) *stripe.CheckoutSessionLineItemParams {
	product := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{Name: stripe.String(name)}
	if image != "" {
		product.Images = stripe.StringSlice([]string{image})
	}
	return &stripe.CheckoutSessionLineItemParams{
		PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
			Currency:    stripe.String(currency),
			ProductData: product,
			UnitAmount:  stripe.Int64(minorUnits(unit)),
		},
		Quantity: stripe.Int64(int64(qty)),
	}
}

func (a *CardAdapter) Instructions(ctx context.Context, o *order.Order) (*Instructions, error) {
	if a.cfg.SecretKey == "" {
		return nil, ErrNotConfigured
	}
	currency := strings.ToLower(o.Currency)
	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		SuccessURL:         stripe.String(a.cfg.ClientURL + "/payment/success?session_id={CHECKOUT_SESSION_ID}&order_id=" + o.ID),
		CancelURL:          stripe.String(a.cfg.ClientURL + "/payment/cancel?order_id=" + o.ID),
		ClientReferenceID:  stripe.String(o.ID),
	}
	if o.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(o.CustomerEmail)
	}
	for _, it := range o.Items {
		params.LineItems = append(params.LineItems, lineItem(it.Name, it.Image, it.Price, it.Quantity, currency))
	}
	if o.Shipping.IsPositive() {
		params.LineItems = append(params.LineItems, lineItem("Shipping", "", o.Shipping, 1, currency))
	}
	if o.Tax.IsPositive() {
		params.LineItems = append(params.LineItems, lineItem("Tax", "", o.Tax, 1, currency))
	}
	params.AddMetadata("orderId", o.ID)
	params.AddMetadata("paymentMethod", string(o.PaymentMethod))
	params.Context = ctx

	s, err := a.sessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe checkout session: %w", err)
	}
	return &Instructions{
		Gateway:     a.Name(),
		PaymentType: "redirect",
		SessionID:   s.ID,
		CheckoutURL: s.URL,
		Amount:      o.Total.StringFixed(2),
		Currency:    o.Currency,
	}, nil
}

func (a *CardAdapter) ParseCallback(_ context.Context, h http.Header, body []byte) (*Event, error) {
	if a.cfg.WebhookSecret == "" {
		return nil, ErrInvalidSignature
	}
	ev, err := webhook.ConstructEventWithOptions(body, h.Get("Stripe-Signature"), a.cfg.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		a.log.Warn("[stripe] webhook rejected", zap.Error(err))
		return nil, ErrInvalidSignature
	}

	var status EventStatus
	switch ev.Type {
	case "checkout.session.completed":
		status = EventAuthorized
	case "checkout.session.async_payment_succeeded":
		status = EventCompleted
	case "checkout.session.async_payment_failed", "checkout.session.expired":
		status = EventFailed
	default:
		return nil, nil
	}

	var s stripe.CheckoutSession
	if err := json.Unmarshal(ev.Data.Raw, &s); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "malformed checkout session", err)
	}
	if ev.Type == "checkout.session.completed" && s.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid {
		status = EventCompleted
	}

	orderID := s.Metadata["orderId"]
	if orderID == "" {
		orderID = s.ClientReferenceID
	}
	out := &Event{
		Gateway:   a.Name(),
		ID:        ev.ID,
		OrderID:   orderID,
		Reference: s.ID,
		Status:    status,
		Source:    "webhook",
		Raw:       append(json.RawMessage(nil), ev.Data.Raw...),
	}
	if s.PaymentIntent != nil {
		out.GatewayTransactionID = s.PaymentIntent.ID
	}
	if s.AmountTotal > 0 {
		amt := decimal.New(s.AmountTotal, -2)
		out.Amount = &amt
	}
	return out, nil
}

func (a *CardAdapter) Refund(ctx context.Context, p *payment.Payment, reason string) (*RefundResult, error) {
	if p.GatewayTransactionID == "" {
		return nil, apperr.Validation("payment has no captured card transaction")
	}
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(p.GatewayTransactionID),
		Amount:        stripe.Int64(minorUnits(p.Amount)),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	params.AddMetadata("paymentId", p.ID)
	params.AddMetadata("reason", reason)
	params.Context = ctx

	r, err := a.refunds.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe refund: %w", err)
	}
	raw, _ := json.Marshal(r)
	return &RefundResult{
		ID:     r.ID,
		Status: string(r.Status),
		Amount: decimal.New(r.Amount, -2).StringFixed(2),
		Raw:    raw,
	}, nil
}
