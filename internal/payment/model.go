package payment

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/MikeMC777/ordenes-pagos/internal/order"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRefunded   Status = "refunded"
)

// Open statuses are the non-terminal ones; at most one open payment may
// exist per order.
var Open = []Status{StatusPending, StatusProcessing}

func (s Status) IsOpen() bool { return s == StatusPending || s == StatusProcessing }

type Payment struct {
	ID       string
	OrderID  string
	Method   order.PaymentMethod
	Amount   decimal.Decimal
	Currency string
	Status   Status
	Gateway  string
	// GatewayPaymentID is the checkout session id or QR reference issued
	// with the instructions; GatewayTransactionID is what the gateway
	// reports once money moved.
	GatewayPaymentID     string
	GatewayTransactionID string
	Payload              json.RawMessage
	PaidAt               *time.Time
	Captured             bool
	RefundData           json.RawMessage
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

type TxType string

const (
	TxAuthorization TxType = "authorization"
	TxCapture       TxType = "capture"
	TxRefund        TxType = "refund"
	TxVoid          TxType = "void"
)

// Transaction is an append-only ledger row.
type Transaction struct {
	ID                   string
	OrderID              string
	PaymentID            string
	Type                 TxType
	Amount               decimal.Decimal
	Currency             string
	Gateway              string
	GatewayTransactionID string
	Status               string
	Response             json.RawMessage
	Metadata             json.RawMessage
	ProcessedAt          time.Time
}

// Transition is a conditional update applied only while the payment's
// status is one of From.
type Transition struct {
	From                 []Status
	To                   Status
	GatewayTransactionID string
	PaidAt               *time.Time
	Captured             bool
}

func (t Transition) Matches(p *Payment) bool {
	for _, s := range t.From {
		if p.Status == s {
			return true
		}
	}
	return false
}

func (t Transition) Apply(p *Payment, now time.Time) {
	p.Status = t.To
	if t.GatewayTransactionID != "" {
		p.GatewayTransactionID = t.GatewayTransactionID
	}
	if t.PaidAt != nil {
		at := *t.PaidAt
		p.PaidAt = &at
	}
	if t.Captured {
		p.Captured = true
	}
	p.UpdatedAt = now
}

var tolerance = decimal.RequireFromString("0.01")

// WithinTolerance reports whether two amounts differ by at most one minor
// currency unit.
func WithinTolerance(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(tolerance)
}

func statusStrings(list []Status) []string {
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = string(s)
	}
	return out
}
