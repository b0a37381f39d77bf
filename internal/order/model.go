package order

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	MethodCard PaymentMethod = "card-network"
	MethodQR   PaymentMethod = "qr-bank"
	MethodCash PaymentMethod = "cash"
)

var methodAliases = map[string]PaymentMethod{
	"card-network": MethodCard,
	"stripe":       MethodCard,
	"paypal":       MethodCard,
	"card":         MethodCard,
	"qr-bank":      MethodQR,
	"khqr":         MethodQR,
	"cash":         MethodCash,
	"cod":          MethodCash,
}

// ParseMethod accepts the canonical tags and the storefront aliases
// (stripe, paypal, khqr, cod).
func ParseMethod(s string) (PaymentMethod, bool) {
	m, ok := methodAliases[strings.ToLower(strings.TrimSpace(s))]
	return m, ok
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
	StatusRefunded   Status = "refunded"
	StatusFailed     Status = "failed"
)

type PaymentStatus string

const (
	PaymentPending           PaymentStatus = "pending"
	PaymentPendingCollection PaymentStatus = "pending_collection"
	PaymentProcessing        PaymentStatus = "processing"
	PaymentPaid              PaymentStatus = "paid"
	PaymentFailed            PaymentStatus = "failed"
	PaymentRefunded          PaymentStatus = "refunded"
)

type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type Address struct {
	Address     string       `json:"address" example:"St. 271, House 12"`
	City        string       `json:"city" example:"Phnom Penh"`
	PostalCode  string       `json:"postal_code" example:"12000"`
	Country     string       `json:"country" example:"KH"`
	Coordinates *Coordinates `json:"coordinates,omitempty"`
}

// UnmarshalJSON also accepts postalCode.
func (a *Address) UnmarshalJSON(b []byte) error {
	type plain Address
	var aux struct {
		plain
		PostalCodeCamel string `json:"postalCode"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	*a = Address(aux.plain)
	if a.PostalCode == "" {
		a.PostalCode = aux.PostalCodeCamel
	}
	return nil
}

// Complete reports whether every line needed for delivery is present.
func (a *Address) Complete() bool {
	return a != nil &&
		strings.TrimSpace(a.Address) != "" &&
		strings.TrimSpace(a.City) != "" &&
		strings.TrimSpace(a.PostalCode) != "" &&
		strings.TrimSpace(a.Country) != ""
}

// PaymentResult records who confirmed the payment and how.
type PaymentResult struct {
	ID         string    `json:"id"`
	Status     string    `json:"status"`
	Gateway    string    `json:"gateway"`
	Source     string    `json:"source"`
	VerifiedAt time.Time `json:"verified_at"`
}

type Item struct {
	ID        string
	OrderID   string
	ProductID string
	Name      string
	Image     string
	Quantity  int
	Price     decimal.Decimal // unit price snapshot
}

func (it Item) LineTotal() decimal.Decimal {
	return it.Price.Mul(decimal.NewFromInt(int64(it.Quantity)))
}

type Order struct {
	ID              string
	UserID          string
	CustomerEmail   string
	Items           []Item
	Subtotal        decimal.Decimal
	Shipping        decimal.Decimal
	Tax             decimal.Decimal
	Total           decimal.Decimal
	Currency        string
	PaymentMethod   PaymentMethod
	Status          Status
	PaymentStatus   PaymentStatus
	ShippingAddress Address

	CheckoutSessionID string
	PaymentReference  string
	PaymentResult     *PaymentResult
	PaidAt            *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// AwaitingPayment is true while new payment instructions may be issued.
func (o *Order) AwaitingPayment() bool {
	return o.Status == StatusPending &&
		(o.PaymentStatus == PaymentPending || o.PaymentStatus == PaymentProcessing)
}

// Refundable statuses are those reached after a confirmed payment.
func (o *Order) Refundable() bool {
	switch o.Status {
	case StatusConfirmed, StatusProcessing, StatusShipped, StatusDelivered:
		return true
	}
	return false
}

type Totals struct {
	Subtotal decimal.Decimal
	Shipping decimal.Decimal
	Tax      decimal.Decimal
	Total    decimal.Decimal
}

func ComputeTotals(items []Item, shipping, tax decimal.Decimal) Totals {
	sub := decimal.Zero
	for _, it := range items {
		sub = sub.Add(it.LineTotal())
	}
	return Totals{
		Subtotal: sub,
		Shipping: shipping,
		Tax:      tax,
		Total:    sub.Add(shipping).Add(tax),
	}
}

// Transition is a conditional update: it applies only while the order's
// current status is in From and its payment status is in FromPayment
// (an empty list matches anything). Zero-valued targets are left untouched.
type Transition struct {
	From        []Status
	FromPayment []PaymentStatus
	To          Status
	Payment     PaymentStatus
	PaidAt      *time.Time
	Result      *PaymentResult
}

// Matches evaluates the transition guard against o.
func (t Transition) Matches(o *Order) bool {
	if len(t.From) > 0 && !containsStatus(t.From, o.Status) {
		return false
	}
	if len(t.FromPayment) > 0 && !containsPayment(t.FromPayment, o.PaymentStatus) {
		return false
	}
	return true
}

// Apply mutates o with the transition targets; callers check Matches first.
func (t Transition) Apply(o *Order, now time.Time) {
	if t.To != "" {
		o.Status = t.To
	}
	if t.Payment != "" {
		o.PaymentStatus = t.Payment
	}
	if t.PaidAt != nil {
		at := *t.PaidAt
		o.PaidAt = &at
	}
	if t.Result != nil {
		r := *t.Result
		o.PaymentResult = &r
	}
	o.UpdatedAt = now
}

func containsStatus(list []Status, s Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsPayment(list []PaymentStatus, s PaymentStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func statusStrings(list []Status) []string {
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = string(s)
	}
	return out
}

func paymentStrings(list []PaymentStatus) []string {
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = string(s)
	}
	return out
}
