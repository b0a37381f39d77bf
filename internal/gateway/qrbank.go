package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/MikeMC777/ordenes-pagos/internal/apperr"
	"github.com/MikeMC777/ordenes-pagos/internal/khqr"
	"github.com/MikeMC777/ordenes-pagos/internal/order"
	"github.com/MikeMC777/ordenes-pagos/internal/payment"
)

const qrImageSize = 300

type QRConfig struct {
	Merchant      khqr.Merchant
	WebhookSecret string
	// Production rejects callbacks without a signature; elsewhere an
	// unsigned callback is accepted and logged.
	Production bool
}

// QRAdapter issues KHQR codes and verifies bank callbacks.
type QRAdapter struct {
	cfg QRConfig
	log *zap.Logger
	now func() time.Time
}

func NewQRAdapter(cfg QRConfig, log *zap.Logger) *QRAdapter {
	return &QRAdapter{cfg: cfg, log: log, now: time.Now}
}

func (*QRAdapter) Method() order.PaymentMethod { return order.MethodQR }
func (*QRAdapter) Name() string                { return "khqr" }

func (a *QRAdapter) Instructions(_ context.Context, o *order.Order) (*Instructions, error) {
	total := o.Total
	payload, err := khqr.Encode(khqr.Request{
		OrderID:  o.ID,
		Amount:   &total,
		Currency: o.Currency,
		Merchant: a.cfg.Merchant,
	})
	if err != nil {
		return nil, fmt.Errorf("khqr encode: %w", err)
	}
	img, err := khqr.DataURL(payload, qrImageSize)
	if err != nil {
		return nil, fmt.Errorf("khqr image: %w", err)
	}
	return &Instructions{
		Gateway:          a.Name(),
		PaymentType:      "qr",
		PaymentReference: khqr.Reference(o.ID),
		Payload:          payload,
		ImageData:        img,
		PaymentURL:       khqr.DeepLink(payload),
		MerchantInfo: &MerchantInfo{
			Name: a.cfg.Merchant.Name,
			City: a.cfg.Merchant.City,
			Bank: strings.ToUpper(a.cfg.Merchant.Bank),
		},
		Amount:   o.Total.StringFixed(2),
		Currency: o.Currency,
	}, nil
}

type qrCallback struct {
	Event                string           `json:"event"`
	TransactionReference string           `json:"transaction_reference"`
	TransactionID        string           `json:"transaction_id"`
	Amount               *decimal.Decimal `json:"amount"`
	Status               string           `json:"status"`
}

// Sign returns the hex HMAC-SHA256 of body, as the bank computes it.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (a *QRAdapter) verify(h http.Header, body []byte) error {
	sig := h.Get("X-KHQR-Signature")
	if sig == "" {
		sig = h.Get("X-Signature")
	}
	if a.cfg.WebhookSecret == "" || sig == "" {
		if a.cfg.Production {
			return ErrInvalidSignature
		}
		a.log.Warn("[khqr] accepting unsigned callback outside production",
			zap.Bool("secret_configured", a.cfg.WebhookSecret != ""))
		return nil
	}
	want := Sign(a.cfg.WebhookSecret, body)
	if !hmac.Equal([]byte(strings.ToLower(sig)), []byte(want)) {
		return ErrInvalidSignature
	}
	return nil
}

func (a *QRAdapter) ParseCallback(_ context.Context, h http.Header, body []byte) (*Event, error) {
	if err := a.verify(h, body); err != nil {
		return nil, err
	}
	var cb qrCallback
	if err := json.Unmarshal(body, &cb); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "malformed callback", err)
	}

	var status EventStatus
	switch {
	case cb.Event == "payment.completed" && cb.Status == "success":
		status = EventCompleted
	case cb.Status == "failed" || cb.Status == "cancelled" || cb.Event == "payment.failed":
		status = EventFailed
	default:
		a.log.Info("[khqr] ignoring callback", zap.String("event", cb.Event), zap.String("status", cb.Status))
		return nil, nil
	}
	if cb.TransactionReference == "" {
		return nil, apperr.Validation("callback without transaction reference")
	}
	return &Event{
		Gateway:              a.Name(),
		OrderID:              strings.TrimPrefix(cb.TransactionReference, "KHQR_"),
		Reference:            cb.TransactionReference,
		GatewayTransactionID: cb.TransactionID,
		Status:               status,
		Amount:               cb.Amount,
		Source:               "webhook",
		Raw:                  append(json.RawMessage(nil), body...),
	}, nil
}

// Refund records a bank refund request; the bank settles it out of band.
func (a *QRAdapter) Refund(_ context.Context, p *payment.Payment, reason string) (*RefundResult, error) {
	raw, _ := json.Marshal(map[string]string{
		"reference": p.GatewayPaymentID,
		"reason":    reason,
	})
	return &RefundResult{
		ID:     fmt.Sprintf("khqr_refund_%d", a.now().UnixMilli()),
		Status: "pending_approval",
		Amount: p.Amount.StringFixed(2),
		Raw:    raw,
	}, nil
}
