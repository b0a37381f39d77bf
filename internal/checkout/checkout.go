// Package checkout turns a cart or an explicit item list into an order and
// obtains payment instructions from the selected gateway.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/MikeMC777/ordenes-pagos/internal/apperr"
	"github.com/MikeMC777/ordenes-pagos/internal/auth"
	"github.com/MikeMC777/ordenes-pagos/internal/cart"
	"github.com/MikeMC777/ordenes-pagos/internal/events"
	"github.com/MikeMC777/ordenes-pagos/internal/gateway"
	"github.com/MikeMC777/ordenes-pagos/internal/order"
	"github.com/MikeMC777/ordenes-pagos/internal/payment"
	"github.com/MikeMC777/ordenes-pagos/internal/product"
)

type Deps struct {
	Orders          order.Repository
	Payments        payment.Repository
	Carts           cart.Repository
	Products        product.Repository
	Gateways        *gateway.Registry
	Events          events.Sink
	Log             *zap.Logger
	GatewayTimeout  time.Duration
	DefaultCurrency string
}

type Service struct {
	orders   order.Repository
	payments payment.Repository
	carts    cart.Repository
	products product.Repository
	gateways *gateway.Registry
	events   events.Sink
	log      *zap.Logger
	timeout  time.Duration
	currency string
	now      func() time.Time
	newID    func() string
}

func New(d Deps) *Service {
	if d.Events == nil {
		d.Events = events.Discard{}
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.GatewayTimeout <= 0 {
		d.GatewayTimeout = 10 * time.Second
	}
	if d.DefaultCurrency == "" {
		d.DefaultCurrency = "USD"
	}
	return &Service{
		orders:   d.Orders,
		payments: d.Payments,
		carts:    d.Carts,
		products: d.Products,
		gateways: d.Gateways,
		events:   d.Events,
		log:      d.Log,
		timeout:  d.GatewayTimeout,
		currency: d.DefaultCurrency,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
}

type Input struct {
	Actor   auth.Actor
	Request order.CreateOrderRequest
}

type Result struct {
	Order       order.View            `json:"order"`
	PaymentID   string                `json:"payment_id"`
	PaymentData *gateway.Instructions `json:"payment_data"`
}

var tolerance = decimal.RequireFromString("0.01")

// Checkout validates the request, persists the order, clears the cart when
// it was the item source and asks the gateway for payment instructions. A
// gateway failure does not fail the checkout: the order stays pending and
// the result carries a retryable error marker instead of instructions.
func (s *Service) Checkout(ctx context.Context, in Input) (*Result, error) {
	req := in.Request
	if !req.ShippingAddress.Complete() {
		return nil, apperr.Validation("shipping address is required (address, city, postal code, country)")
	}
	if strings.TrimSpace(req.PaymentMethod) == "" {
		return nil, apperr.Validation("payment method is required")
	}
	method, ok := order.ParseMethod(req.PaymentMethod)
	if !ok {
		return nil, apperr.Validation("unsupported payment method: " + req.PaymentMethod)
	}
	adapter, err := s.gateways.For(method)
	if err != nil {
		return nil, err
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = s.currency
	}
	if currency != "USD" && currency != "KHR" {
		return nil, apperr.Validation("unsupported currency: " + currency)
	}

	shipping, tax := decimal.Zero, decimal.Zero
	if req.Shipping != nil {
		shipping = *req.Shipping
	}
	if req.Tax != nil {
		tax = *req.Tax
	}
	if shipping.IsNegative() || tax.IsNegative() {
		return nil, apperr.Validation("shipping and tax must not be negative")
	}

	fromCart := len(req.Items) == 0
	var items []order.Item
	if fromCart {
		items, err = s.cartItems(ctx, in.Actor.UserID)
	} else {
		items, err = s.explicitItems(req.Items)
	}
	if err != nil {
		return nil, err
	}

	totals := order.ComputeTotals(items, shipping, tax)
	if req.Subtotal != nil && req.Subtotal.Sub(totals.Subtotal).Abs().GreaterThan(tolerance) {
		return nil, apperr.Validation(fmt.Sprintf("subtotal mismatch: expected %s", totals.Subtotal.StringFixed(2)))
	}
	if req.Total != nil && req.Total.Sub(totals.Total).Abs().GreaterThan(tolerance) {
		return nil, apperr.Validation(fmt.Sprintf("total mismatch: expected %s", totals.Total.StringFixed(2)))
	}

	now := s.now()
	o := &order.Order{
		ID:              s.newID(),
		UserID:          in.Actor.UserID,
		CustomerEmail:   in.Actor.Email,
		Items:           items,
		Subtotal:        totals.Subtotal,
		Shipping:        totals.Shipping,
		Tax:             totals.Tax,
		Total:           totals.Total,
		Currency:        currency,
		PaymentMethod:   method,
		Status:          order.StatusPending,
		PaymentStatus:   order.PaymentPending,
		ShippingAddress: *req.ShippingAddress,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if method == order.MethodCash {
		o.Status = order.StatusConfirmed
		o.PaymentStatus = order.PaymentPendingCollection
	}
	for i := range o.Items {
		o.Items[i].ID = s.newID()
		o.Items[i].OrderID = o.ID
	}

	if err := s.orders.Create(ctx, o); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	s.log.Info("[checkout] order created",
		zap.String("order_id", o.ID), zap.String("user_id", o.UserID),
		zap.String("method", string(method)), zap.String("total", o.Total.StringFixed(2)))

	if fromCart {
		if err := s.carts.Clear(ctx, o.UserID); err != nil {
			s.log.Warn("[checkout] cart not cleared", zap.String("user_id", o.UserID), zap.Error(err))
		}
	}
	s.publish(ctx, events.OrderCreated, o)

	ins, err := s.instructions(ctx, adapter, o)
	if err != nil {
		s.log.Warn("[checkout] payment instructions failed",
			zap.String("order_id", o.ID), zap.String("gateway", adapter.Name()), zap.Error(err))
		ins = gateway.Failed(adapter.Name())
	}

	p := &payment.Payment{
		ID:               s.newID(),
		OrderID:          o.ID,
		Method:           method,
		Amount:           o.Total,
		Currency:         o.Currency,
		Status:           payment.StatusPending,
		Gateway:          adapter.Name(),
		GatewayPaymentID: ins.Ref(),
		Payload:          ins.JSON(),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.payments.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}

	return &Result{Order: o.View(), PaymentID: p.ID, PaymentData: ins}, nil
}

// instructions calls the gateway under the configured timeout and records
// the correlation id on the order.
func (s *Service) instructions(ctx context.Context, a gateway.Adapter, o *order.Order) (*gateway.Instructions, error) {
	gctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ins, err := a.Instructions(gctx, o)
	if err != nil {
		return nil, err
	}
	if ins.SessionID != "" || ins.PaymentReference != "" {
		if err := s.orders.SetGatewayRefs(ctx, o.ID, ins.SessionID, ins.PaymentReference); err != nil {
			return nil, fmt.Errorf("store gateway refs: %w", err)
		}
		o.CheckoutSessionID = ins.SessionID
		o.PaymentReference = ins.PaymentReference
	}
	return ins, nil
}

func (s *Service) explicitItems(in []order.CreateOrderItem) ([]order.Item, error) {
	items := make([]order.Item, 0, len(in))
	for i, it := range in {
		if strings.TrimSpace(it.ProductID) == "" {
			return nil, apperr.Validation(fmt.Sprintf("items[%d]: product_id is required", i))
		}
		if it.Quantity <= 0 {
			return nil, apperr.Validation(fmt.Sprintf("items[%d]: quantity must be positive", i))
		}
		if it.Price.IsNegative() {
			return nil, apperr.Validation(fmt.Sprintf("items[%d]: price must not be negative", i))
		}
		items = append(items, order.Item{
			ProductID: it.ProductID,
			Name:      it.Name,
			Image:     it.Image,
			Quantity:  it.Quantity,
			Price:     it.Price,
		})
	}
	return items, nil
}

// cartItems snapshots the current catalog name, image and price for every
// line in the user's cart.
func (s *Service) cartItems(ctx context.Context, userID string) ([]order.Item, error) {
	c, err := s.carts.GetByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	if c.Empty() {
		return nil, apperr.Validation("cart is empty")
	}
	items := make([]order.Item, 0, len(c.Items))
	for _, ci := range c.Items {
		p, err := s.products.GetByID(ctx, ci.ProductID)
		if errors.Is(err, product.ErrNotFound) || (err == nil && !p.Active) {
			return nil, apperr.Validation("product " + ci.ProductID + " is no longer available")
		}
		if err != nil {
			return nil, fmt.Errorf("load product %s: %w", ci.ProductID, err)
		}
		if ci.Quantity <= 0 {
			continue
		}
		items = append(items, order.Item{
			ProductID: p.ID,
			Name:      p.Name,
			Image:     p.Image,
			Quantity:  ci.Quantity,
			Price:     p.Price,
		})
	}
	if len(items) == 0 {
		return nil, apperr.Validation("cart is empty")
	}
	return items, nil
}

// Instructions re-issues payment instructions for a pending order, for
// buyers who abandoned or lost the first set.
func (s *Service) Instructions(ctx context.Context, actor auth.Actor, orderID, methodTag string) (*gateway.Instructions, error) {
	method, ok := order.ParseMethod(methodTag)
	if !ok {
		return nil, apperr.Validation("unsupported payment method: " + methodTag)
	}
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !actor.CanAccess(o.UserID) {
		return nil, apperr.Forbidden("not allowed to access this order")
	}
	if o.PaymentMethod != method {
		return nil, apperr.Validation(fmt.Sprintf("order payment method is %s", o.PaymentMethod))
	}
	if !o.AwaitingPayment() {
		return nil, apperr.Validation("order is not awaiting payment")
	}
	adapter, err := s.gateways.For(method)
	if err != nil {
		return nil, err
	}
	ins, err := s.instructions(ctx, adapter, o)
	if err != nil {
		return nil, apperr.Upstream("failed to generate payment instructions", err)
	}
	if err := s.recordInstructions(ctx, o, adapter, ins); err != nil {
		return nil, err
	}
	return ins, nil
}

// recordInstructions refreshes the open payment, or opens a new one when
// the previous attempt already ended.
func (s *Service) recordInstructions(ctx context.Context, o *order.Order, a gateway.Adapter, ins *gateway.Instructions) error {
	for attempt := 0; attempt < 2; attempt++ {
		open, err := s.payments.FindOpenByOrder(ctx, o.ID)
		if err == nil {
			return s.payments.UpdateInstructions(ctx, open.ID, ins.Ref(), ins.JSON())
		}
		if !errors.Is(err, payment.ErrNotFound) {
			return err
		}
		now := s.now()
		err = s.payments.Create(ctx, &payment.Payment{
			ID:               s.newID(),
			OrderID:          o.ID,
			Method:           o.PaymentMethod,
			Amount:           o.Total,
			Currency:         o.Currency,
			Status:           payment.StatusPending,
			Gateway:          a.Name(),
			GatewayPaymentID: ins.Ref(),
			Payload:          ins.JSON(),
			CreatedAt:        now,
			UpdatedAt:        now,
		})
		if !errors.Is(err, payment.ErrOpenPaymentExists) {
			return err
		}
	}
	return payment.ErrOpenPaymentExists
}

func (s *Service) Get(ctx context.Context, actor auth.Actor, id string) (*order.View, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.CanAccess(o.UserID) {
		return nil, apperr.Forbidden("not allowed to access this order")
	}
	v := o.View()
	return &v, nil
}

func (s *Service) ListMine(ctx context.Context, actor auth.Actor, limit, offset int) ([]order.View, error) {
	list, err := s.orders.ListByUser(ctx, actor.UserID, limit, offset)
	if err != nil {
		return nil, err
	}
	out := make([]order.View, 0, len(list))
	for i := range list {
		out = append(out, list[i].View())
	}
	return out, nil
}

func (s *Service) publish(ctx context.Context, typ string, o *order.Order) {
	e := events.New(typ)
	e.OrderID = o.ID
	e.UserID = o.UserID
	e.Payload = map[string]string{
		"status": string(o.Status),
		"total":  o.Total.StringFixed(2),
		"method": string(o.PaymentMethod),
	}
	if err := s.events.Publish(ctx, e); err != nil {
		s.log.Warn("[checkout] event not published", zap.String("type", typ), zap.Error(err))
	}
}
