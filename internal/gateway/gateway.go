// Package gateway adapts the three payment gateways to one interface:
// issuing payment instructions for an order, verifying and normalizing
// gateway callbacks, and (where supported) refunding.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/MikeMC777/ordenes-pagos/internal/apperr"
	"github.com/MikeMC777/ordenes-pagos/internal/order"
	"github.com/MikeMC777/ordenes-pagos/internal/payment"
)

var (
	ErrInvalidSignature = apperr.Unauthorized("invalid webhook signature")
	ErrNoCallback       = apperr.Validation("gateway does not send callbacks")
	ErrUnsupported      = apperr.Validation("unsupported payment method")
	ErrNotConfigured    = errors.New("gateway not configured")
)

type Adapter interface {
	Method() order.PaymentMethod
	// Name is the gateway name stored on payments and transactions.
	Name() string
	Instructions(ctx context.Context, o *order.Order) (*Instructions, error)
	// ParseCallback authenticates a raw callback and normalizes it. A nil
	// event with a nil error means the callback is valid but carries nothing
	// to reconcile.
	ParseCallback(ctx context.Context, h http.Header, body []byte) (*Event, error)
}

// Refunder is implemented by gateways that can return captured funds.
type Refunder interface {
	Refund(ctx context.Context, p *payment.Payment, reason string) (*RefundResult, error)
}

type MerchantInfo struct {
	Name string `json:"name"`
	City string `json:"city"`
	Bank string `json:"bank"`
}

// Instructions is what the buyer needs to complete payment. Only the fields
// relevant to the gateway are set.
type Instructions struct {
	Gateway          string        `json:"gateway"`
	PaymentType      string        `json:"payment_type,omitempty"`
	PaymentReference string        `json:"payment_reference,omitempty"`
	SessionID        string        `json:"session_id,omitempty"`
	CheckoutURL      string        `json:"checkout_url,omitempty"`
	Payload          string        `json:"payload,omitempty"`
	ImageData        string        `json:"image_data,omitempty"`
	PaymentURL       string        `json:"payment_url,omitempty"`
	MerchantInfo     *MerchantInfo `json:"merchant_info,omitempty"`
	Amount           string        `json:"amount,omitempty"`
	Currency         string        `json:"currency,omitempty"`
	Message          string        `json:"message,omitempty"`
	Error            string        `json:"error,omitempty"`
	Retryable        bool          `json:"retryable,omitempty"`
}

// Failed is the marker returned to the buyer when instructions could not
// be generated; the order stays pending and can be retried.
func Failed(gateway string) *Instructions {
	return &Instructions{
		Gateway:   gateway,
		Error:     "payment_instructions_unavailable",
		Message:   "Payment instructions could not be generated, please retry",
		Retryable: true,
	}
}

// Ref is the gateway-side correlation id for these instructions.
func (i *Instructions) Ref() string {
	if i.SessionID != "" {
		return i.SessionID
	}
	return i.PaymentReference
}

func (i *Instructions) JSON() json.RawMessage {
	b, _ := json.Marshal(i)
	return b
}

type EventStatus string

const (
	EventAuthorized EventStatus = "authorized"
	EventCompleted  EventStatus = "completed"
	EventFailed     EventStatus = "failed"
)

// Event is a gateway confirmation normalized for reconciliation.
type Event struct {
	Gateway string
	// ID is the gateway's own event id, when it has one.
	ID                   string
	OrderID              string
	Reference            string
	GatewayTransactionID string
	Status               EventStatus
	Amount               *decimal.Decimal
	Source               string
	Raw                  json.RawMessage
}

// DedupeKey identifies a delivery for replay suppression.
func (e *Event) DedupeKey() string {
	id := e.ID
	if id == "" {
		id = e.Reference + ":" + e.GatewayTransactionID + ":" + string(e.Status)
	}
	return "webhook:" + e.Gateway + ":" + id
}

type RefundResult struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Amount string          `json:"amount"`
	Raw    json.RawMessage `json:"raw,omitempty"`
}

// Registry is the single place a payment method is mapped to its adapter.
type Registry struct {
	byMethod map[order.PaymentMethod]Adapter
	byName   map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{
		byMethod: map[order.PaymentMethod]Adapter{},
		byName:   map[string]Adapter{},
	}
	for _, a := range adapters {
		r.byMethod[a.Method()] = a
		r.byName[a.Name()] = a
	}
	return r
}

func (r *Registry) For(m order.PaymentMethod) (Adapter, error) {
	a, ok := r.byMethod[m]
	if !ok {
		return nil, ErrUnsupported
	}
	return a, nil
}

// ForGateway resolves a gateway name or any accepted method alias
// ("stripe", "paypal", "khqr", "cod").
func (r *Registry) ForGateway(name string) (Adapter, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if a, ok := r.byName[name]; ok {
		return a, nil
	}
	if m, ok := order.ParseMethod(name); ok {
		return r.For(m)
	}
	return nil, ErrUnsupported
}

func minorUnits(d decimal.Decimal) int64 {
	return d.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}
