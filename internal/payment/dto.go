package payment

import (
	"encoding/json"
	"time"
)

// VerifyPaymentRequest is the client-polled confirmation.
// swagger:model VerifyPaymentRequest
type VerifyPaymentRequest struct {
	Gateway       string `json:"paymentGateway" example:"stripe"`
	TransactionID string `json:"transactionId" example:"pi_3P..."`
	Status        string `json:"status" example:"completed"`
}

// UnmarshalJSON also accepts gateway and transaction_id.
func (r *VerifyPaymentRequest) UnmarshalJSON(b []byte) error {
	type plain VerifyPaymentRequest
	var aux struct {
		plain
		GatewaySnake       string `json:"gateway"`
		TransactionIDSnake string `json:"transaction_id"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	*r = VerifyPaymentRequest(aux.plain)
	if r.Gateway == "" {
		r.Gateway = aux.GatewaySnake
	}
	if r.TransactionID == "" {
		r.TransactionID = aux.TransactionIDSnake
	}
	return nil
}

// RefundRequest carries an optional reason.
// swagger:model RefundRequest
type RefundRequest struct {
	Reason string `json:"reason" example:"Requested by customer"`
}

type TransactionView struct {
	ID                   string          `json:"id"`
	Type                 TxType          `json:"type"`
	Amount               string          `json:"amount"`
	Currency             string          `json:"currency"`
	Gateway              string          `json:"gateway"`
	GatewayTransactionID string          `json:"gateway_transaction_id,omitempty"`
	Status               string          `json:"status"`
	Metadata             json.RawMessage `json:"metadata,omitempty" swaggertype:"object"`
	ProcessedAt          time.Time       `json:"processed_at"`
}

// swagger:model PaymentView
type View struct {
	ID                   string            `json:"id"`
	OrderID              string            `json:"order_id"`
	Method               string            `json:"method"`
	Amount               string            `json:"amount" example:"25.50"`
	Currency             string            `json:"currency"`
	Status               Status            `json:"status"`
	Gateway              string            `json:"gateway"`
	GatewayPaymentID     string            `json:"gateway_payment_id,omitempty"`
	GatewayTransactionID string            `json:"gateway_transaction_id,omitempty"`
	PaidAt               *time.Time        `json:"paid_at,omitempty"`
	Captured             bool              `json:"captured"`
	RefundData           json.RawMessage   `json:"refund_data,omitempty" swaggertype:"object"`
	Transactions         []TransactionView `json:"transactions,omitempty"`
	CreatedAt            time.Time         `json:"created_at"`
}

func (p *Payment) View(txs []Transaction) View {
	v := View{
		ID:                   p.ID,
		OrderID:              p.OrderID,
		Method:               string(p.Method),
		Amount:               p.Amount.StringFixed(2),
		Currency:             p.Currency,
		Status:               p.Status,
		Gateway:              p.Gateway,
		GatewayPaymentID:     p.GatewayPaymentID,
		GatewayTransactionID: p.GatewayTransactionID,
		PaidAt:               p.PaidAt,
		Captured:             p.Captured,
		RefundData:           p.RefundData,
		CreatedAt:            p.CreatedAt,
	}
	for _, t := range txs {
		v.Transactions = append(v.Transactions, TransactionView{
			ID:                   t.ID,
			Type:                 t.Type,
			Amount:               t.Amount.StringFixed(2),
			Currency:             t.Currency,
			Gateway:              t.Gateway,
			GatewayTransactionID: t.GatewayTransactionID,
			Status:               t.Status,
			Metadata:             t.Metadata,
			ProcessedAt:          t.ProcessedAt,
		})
	}
	return v
}
