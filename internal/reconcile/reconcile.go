// Package reconcile applies gateway confirmations to the ledger. Every
// write is a compare-and-set, so duplicated, reordered or concurrent
// deliveries of the same confirmation converge on one outcome with a
// single capture and a single notification.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MikeMC777/ordenes-pagos/internal/apperr"
	"github.com/MikeMC777/ordenes-pagos/internal/auth"
	"github.com/MikeMC777/ordenes-pagos/internal/cache"
	"github.com/MikeMC777/ordenes-pagos/internal/events"
	"github.com/MikeMC777/ordenes-pagos/internal/gateway"
	"github.com/MikeMC777/ordenes-pagos/internal/notify"
	"github.com/MikeMC777/ordenes-pagos/internal/order"
	"github.com/MikeMC777/ordenes-pagos/internal/payment"
)

type Outcome string

const (
	Applied   Outcome = "applied"
	Duplicate Outcome = "duplicate"
	Ignored   Outcome = "ignored"
)

const (
	replayTTL     = 24 * time.Hour
	defaultReason = "Requested by customer"
)

var ErrAmountMismatch = apperr.Validation("confirmed amount does not match the payment")

type Deps struct {
	Orders       order.Repository
	Payments     payment.Repository
	Transactions payment.TransactionRepository
	Gateways     *gateway.Registry
	Notifier     notify.Notifier
	Events       events.Sink
	Cache        cache.Store
	Log          *zap.Logger

	GatewayTimeout        time.Duration
	ManualVerifyAdminOnly bool
}

type Service struct {
	orders    order.Repository
	payments  payment.Repository
	txs       payment.TransactionRepository
	gateways  *gateway.Registry
	notifier  notify.Notifier
	events    events.Sink
	cache     cache.Store
	log       *zap.Logger
	timeout   time.Duration
	adminOnly bool
	now       func() time.Time
	newID     func() string
}

func New(d Deps) *Service {
	if d.Events == nil {
		d.Events = events.Discard{}
	}
	if d.Cache == nil {
		d.Cache = cache.NewMemoryStore()
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.GatewayTimeout <= 0 {
		d.GatewayTimeout = 10 * time.Second
	}
	return &Service{
		orders:    d.Orders,
		payments:  d.Payments,
		txs:       d.Transactions,
		gateways:  d.Gateways,
		notifier:  d.Notifier,
		events:    d.Events,
		cache:     d.Cache,
		log:       d.Log,
		timeout:   d.GatewayTimeout,
		adminOnly: d.ManualVerifyAdminOnly,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
}

// Apply drives the order and its payment to the state the event reports.
func (s *Service) Apply(ctx context.Context, ev *gateway.Event) (Outcome, error) {
	o, err := s.resolveOrder(ctx, ev)
	if err != nil {
		return Ignored, err
	}
	p, err := s.payments.FindOpenByOrder(ctx, o.ID)
	if errors.Is(err, payment.ErrNotFound) {
		p, err = s.payments.LatestByOrder(ctx, o.ID)
	}
	if err != nil {
		return Ignored, err
	}
	// Failures and authorizations from a superseded session are dropped.
	// Completions apply whichever session they come from.
	if ev.Status != gateway.EventCompleted && ev.Reference != "" &&
		p.GatewayPaymentID != "" && ev.Reference != p.GatewayPaymentID {
		s.log.Info("[reconcile] event for a superseded session ignored",
			zap.String("order_id", o.ID), zap.String("payment_id", p.ID),
			zap.String("reference", ev.Reference), zap.String("current", p.GatewayPaymentID),
			zap.String("status", string(ev.Status)))
		return Ignored, nil
	}
	if ev.Amount != nil && !payment.WithinTolerance(*ev.Amount, p.Amount) {
		s.log.Warn("[reconcile] amount mismatch",
			zap.String("order_id", o.ID), zap.String("payment_id", p.ID),
			zap.String("expected", p.Amount.StringFixed(2)), zap.String("got", ev.Amount.StringFixed(2)))
		return Ignored, ErrAmountMismatch
	}

	switch ev.Status {
	case gateway.EventCompleted:
		return s.complete(ctx, o, p, ev)
	case gateway.EventFailed:
		return s.fail(ctx, o, p, ev)
	case gateway.EventAuthorized:
		return s.authorize(ctx, o, p, ev)
	}
	return Ignored, nil
}

func (s *Service) resolveOrder(ctx context.Context, ev *gateway.Event) (*order.Order, error) {
	if ev.OrderID != "" {
		o, err := s.orders.GetByID(ctx, ev.OrderID)
		if err == nil || !errors.Is(err, order.ErrNotFound) || ev.Reference == "" {
			return o, err
		}
	}
	return s.orders.FindByReference(ctx, ev.Reference)
}

func (s *Service) complete(ctx context.Context, o *order.Order, p *payment.Payment, ev *gateway.Event) (Outcome, error) {
	now := s.now()
	ok, err := s.payments.Transition(ctx, p.ID, payment.Transition{
		From:                 payment.Open,
		To:                   payment.StatusCompleted,
		GatewayTransactionID: ev.GatewayTransactionID,
		PaidAt:               &now,
		Captured:             true,
	})
	if err != nil {
		return Ignored, err
	}
	if !ok {
		// Lost the race or a replay: continue only to repair the order and
		// ledger rows a previous attempt may not have reached.
		cur, err := s.payments.GetByID(ctx, p.ID)
		if err != nil {
			return Ignored, err
		}
		if cur.Status != payment.StatusCompleted {
			s.log.Info("[reconcile] completion ignored",
				zap.String("payment_id", p.ID), zap.String("status", string(cur.Status)))
			return Ignored, nil
		}
		p = cur
	}

	if _, err := s.orders.Transition(ctx, o.ID, order.Transition{
		From:    []order.Status{order.StatusPending},
		To:      order.StatusConfirmed,
		Payment: order.PaymentPaid,
		PaidAt:  &now,
		Result: &order.PaymentResult{
			ID:         ev.GatewayTransactionID,
			Status:     string(gateway.EventCompleted),
			Gateway:    ev.Gateway,
			Source:     ev.Source,
			VerifiedAt: now,
		},
	}); err != nil {
		return Ignored, err
	}

	inserted, err := s.txs.Append(ctx, &payment.Transaction{
		ID:                   s.newID(),
		OrderID:              o.ID,
		PaymentID:            p.ID,
		Type:                 payment.TxCapture,
		Amount:               p.Amount,
		Currency:             p.Currency,
		Gateway:              ev.Gateway,
		GatewayTransactionID: ev.GatewayTransactionID,
		Status:               string(payment.StatusCompleted),
		Response:             ev.Raw,
		Metadata:             metadata(map[string]string{"source": ev.Source}),
		ProcessedAt:          now,
	})
	if err != nil {
		return Ignored, err
	}
	if !inserted {
		return Duplicate, nil
	}

	s.log.Info("[reconcile] payment captured",
		zap.String("order_id", o.ID), zap.String("payment_id", p.ID),
		zap.String("gateway", ev.Gateway), zap.String("source", ev.Source))
	s.announce(ctx, o.ID, p.ID, events.OrderPaid, "Payment received")
	return Applied, nil
}

func (s *Service) fail(ctx context.Context, o *order.Order, p *payment.Payment, ev *gateway.Event) (Outcome, error) {
	paymentChanged, err := s.payments.Transition(ctx, p.ID, payment.Transition{
		From:                 payment.Open,
		To:                   payment.StatusFailed,
		GatewayTransactionID: ev.GatewayTransactionID,
	})
	if err != nil {
		return Ignored, err
	}
	if !paymentChanged {
		// the order follows the payment only when the payment really failed
		cur, err := s.payments.GetByID(ctx, p.ID)
		if err != nil {
			return Ignored, err
		}
		if cur.Status != payment.StatusFailed {
			return Duplicate, nil
		}
	}
	orderChanged, err := s.orders.Transition(ctx, o.ID, order.Transition{
		From:    []order.Status{order.StatusPending},
		To:      order.StatusFailed,
		Payment: order.PaymentFailed,
	})
	if err != nil {
		return Ignored, err
	}
	if !paymentChanged && !orderChanged {
		return Duplicate, nil
	}
	s.log.Info("[reconcile] payment failed",
		zap.String("order_id", o.ID), zap.String("payment_id", p.ID), zap.String("source", ev.Source))
	if paymentChanged {
		s.publish(ctx, events.OrderPaymentFailed, o.ID, p.ID, o.UserID)
	}
	return Applied, nil
}

func (s *Service) authorize(ctx context.Context, o *order.Order, p *payment.Payment, ev *gateway.Event) (Outcome, error) {
	ok, err := s.payments.Transition(ctx, p.ID, payment.Transition{
		From:                 []payment.Status{payment.StatusPending},
		To:                   payment.StatusProcessing,
		GatewayTransactionID: ev.GatewayTransactionID,
	})
	if err != nil {
		return Ignored, err
	}
	if _, err := s.orders.Transition(ctx, o.ID, order.Transition{
		From:        []order.Status{order.StatusPending},
		FromPayment: []order.PaymentStatus{order.PaymentPending},
		Payment:     order.PaymentProcessing,
	}); err != nil {
		return Ignored, err
	}
	if !ok {
		return Duplicate, nil
	}
	if _, err := s.txs.Append(ctx, &payment.Transaction{
		ID:                   s.newID(),
		OrderID:              o.ID,
		PaymentID:            p.ID,
		Type:                 payment.TxAuthorization,
		Amount:               p.Amount,
		Currency:             p.Currency,
		Gateway:              ev.Gateway,
		GatewayTransactionID: ev.GatewayTransactionID,
		Status:               string(payment.StatusProcessing),
		Response:             ev.Raw,
		Metadata:             metadata(map[string]string{"source": ev.Source}),
		ProcessedAt:          s.now(),
	}); err != nil {
		return Ignored, err
	}
	return Applied, nil
}

// HandleWebhook authenticates and applies a raw gateway callback. Callbacks
// that are valid but cannot be matched to a payment are acknowledged so the
// gateway stops retrying; only storage failures surface as errors.
func (s *Service) HandleWebhook(ctx context.Context, gatewayName string, h http.Header, body []byte) (Outcome, error) {
	a, err := s.gateways.ForGateway(gatewayName)
	if err != nil {
		return Ignored, apperr.NotFound("unknown gateway")
	}
	ev, err := a.ParseCallback(ctx, h, body)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindUnauthorized || errors.Is(err, gateway.ErrNoCallback) {
			return Ignored, err
		}
		// signed but unusable; retries would repeat it
		s.log.Warn("[reconcile] unusable callback acknowledged",
			zap.String("gateway", a.Name()), zap.Error(err))
		return Ignored, nil
	}
	if ev == nil {
		return Ignored, nil
	}

	key := ev.DedupeKey()
	if seen, err := s.cache.Seen(ctx, key); err != nil {
		s.log.Warn("[reconcile] replay cache unavailable", zap.Error(err))
	} else if seen {
		return Duplicate, nil
	}

	out, err := s.Apply(ctx, ev)
	switch apperr.KindOf(err) {
	case apperr.KindNotFound, apperr.KindValidation, apperr.KindConflict:
		s.log.Warn("[reconcile] webhook not applied",
			zap.String("gateway", ev.Gateway), zap.String("reference", ev.Reference),
			zap.String("order_id", ev.OrderID), zap.Error(err))
		return Ignored, nil
	}
	if err != nil {
		return out, err
	}
	if err := s.cache.Mark(ctx, key, replayTTL); err != nil {
		s.log.Warn("[reconcile] replay cache mark failed", zap.Error(err))
	}
	return out, nil
}

// Verify is the client-polled confirmation path. It applies the same
// transitions as a webhook, recorded with a manual source and the actor.
func (s *Service) Verify(ctx context.Context, actor auth.Actor, orderID string, req payment.VerifyPaymentRequest) (*order.View, Outcome, error) {
	if s.adminOnly && !actor.Admin {
		return nil, Ignored, apperr.Forbidden("manual verification is restricted to administrators")
	}
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, Ignored, err
	}
	if !actor.CanAccess(o.UserID) {
		return nil, Ignored, apperr.Forbidden("not allowed to access this order")
	}
	if o.PaymentMethod == order.MethodCash {
		return nil, Ignored, apperr.Validation("cash orders are settled on delivery")
	}
	a, err := s.gateways.ForGateway(req.Gateway)
	if err != nil {
		return nil, Ignored, err
	}
	if a.Method() != o.PaymentMethod {
		return nil, Ignored, apperr.Validation("gateway does not match the order's payment method")
	}

	var status gateway.EventStatus
	switch strings.ToLower(strings.TrimSpace(req.Status)) {
	case "completed", "paid", "success", "succeeded":
		status = gateway.EventCompleted
	case "failed", "cancelled", "canceled", "declined":
		status = gateway.EventFailed
	default:
		return nil, Ignored, apperr.Validation("unknown payment status: " + req.Status)
	}

	raw, _ := json.Marshal(map[string]string{
		"source":         "manual",
		"actor":          actor.UserID,
		"transaction_id": req.TransactionID,
		"status":         req.Status,
	})
	out, err := s.Apply(ctx, &gateway.Event{
		Gateway:              a.Name(),
		OrderID:              o.ID,
		Reference:            o.PaymentReference,
		GatewayTransactionID: req.TransactionID,
		Status:               status,
		Source:               "manual:" + actor.UserID,
		Raw:                  raw,
	})
	if err != nil {
		return nil, out, err
	}
	s.log.Info("[reconcile] manual verification",
		zap.String("order_id", o.ID), zap.String("actor", actor.UserID),
		zap.String("status", string(status)), zap.String("outcome", string(out)))

	if o, err = s.orders.GetByID(ctx, orderID); err != nil {
		return nil, out, err
	}
	v := o.View()
	return &v, out, nil
}

type RefundView struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Status    string `json:"status"`
	Amount    string `json:"amount"`
	Reason    string `json:"reason"`
}

// Refund returns a completed payment's funds. The payment is claimed with
// a completed->refunded transition before the gateway call, so concurrent
// requests cannot refund twice; a gateway failure releases the claim.
// Calling Refund again on a refunded payment finishes any ledger writes an
// earlier call did not reach.
func (s *Service) Refund(ctx context.Context, actor auth.Actor, paymentID, reason string) (*RefundView, error) {
	if strings.TrimSpace(reason) == "" {
		reason = defaultReason
	}
	p, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	o, err := s.orders.GetByID(ctx, p.OrderID)
	if err != nil {
		return nil, err
	}
	if !actor.CanAccess(o.UserID) {
		return nil, apperr.Forbidden("not allowed to refund this payment")
	}
	if p.Status == payment.StatusRefunded {
		return s.resumeRefund(ctx, actor, o, p, reason)
	}
	if p.Status != payment.StatusCompleted {
		return nil, apperr.Validation("Cannot refund incomplete payment")
	}
	a, err := s.gateways.ForGateway(p.Gateway)
	if err != nil {
		return nil, err
	}
	refunder, ok := a.(gateway.Refunder)
	if !ok {
		return nil, apperr.Validation("Refund not supported for this payment method")
	}

	claimed, err := s.payments.Transition(ctx, p.ID, payment.Transition{
		From: []payment.Status{payment.StatusCompleted},
		To:   payment.StatusRefunded,
	})
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, apperr.Conflict("refund already in progress")
	}

	gctx, cancel := context.WithTimeout(ctx, s.timeout)
	res, err := refunder.Refund(gctx, p, reason)
	cancel()
	if err != nil {
		if _, rerr := s.payments.Transition(ctx, p.ID, payment.Transition{
			From: []payment.Status{payment.StatusRefunded},
			To:   payment.StatusCompleted,
		}); rerr != nil {
			s.log.Error("[reconcile] refund claim not released", zap.String("payment_id", p.ID), zap.Error(rerr))
		}
		s.log.Warn("[reconcile] gateway refund failed", zap.String("payment_id", p.ID), zap.Error(err))
		if apperr.KindOf(err) == apperr.KindValidation {
			return nil, err
		}
		return nil, apperr.Upstream("refund failed at the gateway", err)
	}

	rec := refundRecord{
		ID:         res.ID,
		Status:     res.Status,
		Amount:     res.Amount,
		Reason:     reason,
		RefundedAt: s.now(),
		RefundedBy: actor.UserID,
	}
	if _, err := s.recordRefund(ctx, o, p, rec, res.Raw, true, true); err != nil {
		return nil, err
	}
	s.log.Info("[reconcile] payment refunded",
		zap.String("order_id", o.ID), zap.String("payment_id", p.ID), zap.String("refund_id", res.ID))
	s.announce(ctx, o.ID, p.ID, events.OrderRefunded, "Order refunded")
	return rec.view(p.ID), nil
}

// refundRecord is the payment's refund_data document.
type refundRecord struct {
	ID         string    `json:"id"`
	Status     string    `json:"status"`
	Amount     string    `json:"amount"`
	Reason     string    `json:"reason"`
	RefundedAt time.Time `json:"refunded_at"`
	RefundedBy string    `json:"refunded_by"`
}

func (r refundRecord) view(paymentID string) *RefundView {
	return &RefundView{ID: r.ID, PaymentID: paymentID, Status: r.Status, Amount: r.Amount, Reason: r.Reason}
}

// recordRefund writes the refund to the payment row and the ledger, then
// moves the order. The two refund writes are attempted independently so
// either one is enough for a later call to finish the rest.
func (s *Service) recordRefund(ctx context.Context, o *order.Order, p *payment.Payment, rec refundRecord, raw json.RawMessage, writeData, writeTx bool) (bool, error) {
	changed := false
	var dataErr, txErr error
	if writeData {
		data, _ := json.Marshal(rec)
		dataErr = s.payments.SetRefundData(ctx, p.ID, data)
	}
	if writeTx {
		var inserted bool
		inserted, txErr = s.txs.Append(ctx, &payment.Transaction{
			ID:                   s.newID(),
			OrderID:              o.ID,
			PaymentID:            p.ID,
			Type:                 payment.TxRefund,
			Amount:               p.Amount,
			Currency:             p.Currency,
			Gateway:              p.Gateway,
			GatewayTransactionID: rec.ID,
			Status:               rec.Status,
			Response:             raw,
			Metadata:             metadata(map[string]string{"reason": rec.Reason, "actor": rec.RefundedBy}),
			ProcessedAt:          rec.RefundedAt,
		})
		changed = changed || inserted
	}
	if dataErr != nil && txErr != nil {
		s.log.Error("[reconcile] refund not recorded",
			zap.String("payment_id", p.ID), zap.String("refund_id", rec.ID),
			zap.NamedError("data_error", dataErr), zap.NamedError("tx_error", txErr))
	}
	if err := errors.Join(dataErr, txErr); err != nil {
		return changed, err
	}

	moved, err := s.orders.Transition(ctx, o.ID, order.Transition{
		From:    []order.Status{order.StatusConfirmed, order.StatusProcessing, order.StatusShipped, order.StatusDelivered},
		To:      order.StatusRefunded,
		Payment: order.PaymentRefunded,
	})
	if err != nil {
		return changed, err
	}
	return changed || moved, nil
}

// resumeRefund completes a refund whose gateway call succeeded but whose
// ledger writes were cut short. A fully recorded refund is rejected.
func (s *Service) resumeRefund(ctx context.Context, actor auth.Actor, o *order.Order, p *payment.Payment, reason string) (*RefundView, error) {
	txs, err := s.txs.ListByPayment(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	var prior *payment.Transaction
	for i := range txs {
		if txs[i].Type == payment.TxRefund {
			prior = &txs[i]
			break
		}
	}

	var rec refundRecord
	var raw json.RawMessage
	switch {
	case len(p.RefundData) > 0 && json.Unmarshal(p.RefundData, &rec) == nil && rec.ID != "":
		raw = p.RefundData
	case prior != nil:
		rec = refundRecord{
			ID:         prior.GatewayTransactionID,
			Status:     prior.Status,
			Amount:     prior.Amount.StringFixed(2),
			Reason:     reason,
			RefundedAt: prior.ProcessedAt,
			RefundedBy: actor.UserID,
		}
		var meta map[string]string
		if json.Unmarshal(prior.Metadata, &meta) == nil {
			if meta["reason"] != "" {
				rec.Reason = meta["reason"]
			}
			if meta["actor"] != "" {
				rec.RefundedBy = meta["actor"]
			}
		}
	default:
		// claimed, but the gateway outcome was never recorded
		return nil, apperr.Conflict("refund already in progress")
	}

	changed, err := s.recordRefund(ctx, o, p, rec, raw, len(p.RefundData) == 0, prior == nil)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, apperr.Validation("Payment already refunded")
	}
	s.log.Info("[reconcile] refund completed on retry",
		zap.String("order_id", o.ID), zap.String("payment_id", p.ID), zap.String("refund_id", rec.ID))
	s.announce(ctx, o.ID, p.ID, events.OrderRefunded, "Order refunded")
	return rec.view(p.ID), nil
}

// PaymentStatus returns the payment with its ledger rows.
func (s *Service) PaymentStatus(ctx context.Context, actor auth.Actor, paymentID string) (*payment.View, error) {
	p, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	o, err := s.orders.GetByID(ctx, p.OrderID)
	if err != nil {
		return nil, err
	}
	if !actor.CanAccess(o.UserID) {
		return nil, apperr.Forbidden("not allowed to access this payment")
	}
	txs, err := s.txs.ListByPayment(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	v := p.View(txs)
	return &v, nil
}

// announce notifies and publishes after a state change. Neither can undo
// the change, so failures are only logged.
func (s *Service) announce(ctx context.Context, orderID, paymentID, eventType, title string) {
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		s.log.Warn("[reconcile] reload for notification failed", zap.String("order_id", orderID), zap.Error(err))
		return
	}
	if s.notifier != nil {
		if err := s.notifier.Notify(ctx, o, title); err != nil {
			s.log.Warn("[reconcile] notification incomplete", zap.String("order_id", orderID), zap.Error(err))
		}
	}
	s.publish(ctx, eventType, o.ID, paymentID, o.UserID)
}

func (s *Service) publish(ctx context.Context, typ, orderID, paymentID, userID string) {
	e := events.New(typ)
	e.OrderID, e.PaymentID, e.UserID = orderID, paymentID, userID
	if err := s.events.Publish(ctx, e); err != nil {
		s.log.Warn("[reconcile] event not published", zap.String("type", typ), zap.Error(err))
	}
}

func metadata(m map[string]string) json.RawMessage {
	b, _ := json.Marshal(m)
	return b
}
