// Package memstore holds in-process implementations of the ledger, cart
// and catalog repositories. Every guarded update runs under a mutex so the
// compare-and-set semantics match the PostgreSQL repositories.
package memstore

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/MikeMC777/ordenes-pagos/internal/cart"
	"github.com/MikeMC777/ordenes-pagos/internal/order"
	"github.com/MikeMC777/ordenes-pagos/internal/payment"
	"github.com/MikeMC777/ordenes-pagos/internal/product"
)

type Store struct {
	Orders       *Orders
	Payments     *Payments
	Transactions *Transactions
	Carts        *Carts
	Products     *Products
}

func New() *Store {
	return &Store{
		Orders:       &Orders{m: map[string]*order.Order{}},
		Payments:     &Payments{m: map[string]*payment.Payment{}},
		Transactions: &Transactions{},
		Carts:        &Carts{m: map[string]*cart.Cart{}},
		Products:     &Products{m: map[string]*product.Product{}},
	}
}

// ---------- orders ----------

type Orders struct {
	mu sync.Mutex
	m  map[string]*order.Order
}

var _ order.Repository = (*Orders)(nil)

func copyOrder(o *order.Order) *order.Order {
	cp := *o
	cp.Items = append([]order.Item(nil), o.Items...)
	if o.PaidAt != nil {
		at := *o.PaidAt
		cp.PaidAt = &at
	}
	if o.PaymentResult != nil {
		r := *o.PaymentResult
		cp.PaymentResult = &r
	}
	if o.ShippingAddress.Coordinates != nil {
		c := *o.ShippingAddress.Coordinates
		cp.ShippingAddress.Coordinates = &c
	}
	return &cp
}

func (s *Orders) Create(_ context.Context, o *order.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := copyOrder(o)
	for i := range cp.Items {
		cp.Items[i].OrderID = cp.ID
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = cp.CreatedAt
	}
	s.m[o.ID] = cp
	return nil
}

func (s *Orders) GetByID(_ context.Context, id string) (*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.m[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return copyOrder(o), nil
}

func (s *Orders) FindByReference(_ context.Context, ref string) (*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ref == "" {
		return nil, order.ErrNotFound
	}
	for _, o := range s.m {
		if o.PaymentReference == ref || o.CheckoutSessionID == ref {
			return copyOrder(o), nil
		}
	}
	return nil, order.ErrNotFound
}

func (s *Orders) ListByUser(_ context.Context, userID string, limit, offset int) ([]order.Order, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []order.Order
	for _, o := range s.m {
		if o.UserID == userID {
			all = append(all, *copyOrder(o))
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	if offset >= len(all) {
		return []order.Order{}, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (s *Orders) SetGatewayRefs(_ context.Context, id, sessionID, reference string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.m[id]
	if !ok {
		return order.ErrNotFound
	}
	if sessionID != "" {
		o.CheckoutSessionID = sessionID
	}
	if reference != "" {
		o.PaymentReference = reference
	}
	o.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Orders) Transition(_ context.Context, id string, t order.Transition) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.m[id]
	if !ok || !t.Matches(o) {
		return false, nil
	}
	t.Apply(o, time.Now().UTC())
	return true, nil
}

// ---------- payments ----------

type Payments struct {
	mu sync.Mutex
	m  map[string]*payment.Payment
}

var _ payment.Repository = (*Payments)(nil)

func copyPayment(p *payment.Payment) *payment.Payment {
	cp := *p
	cp.Payload = append(json.RawMessage(nil), p.Payload...)
	cp.RefundData = append(json.RawMessage(nil), p.RefundData...)
	if p.PaidAt != nil {
		at := *p.PaidAt
		cp.PaidAt = &at
	}
	return &cp
}

func (s *Payments) Create(_ context.Context, p *payment.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.Status.IsOpen() {
		for _, existing := range s.m {
			if existing.OrderID == p.OrderID && existing.Status.IsOpen() {
				return payment.ErrOpenPaymentExists
			}
		}
	}
	cp := copyPayment(p)
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = cp.CreatedAt
	}
	s.m[p.ID] = cp
	return nil
}

func (s *Payments) GetByID(_ context.Context, id string) (*payment.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.m[id]
	if !ok {
		return nil, payment.ErrNotFound
	}
	return copyPayment(p), nil
}

func (s *Payments) latest(orderID string, match func(*payment.Payment) bool) (*payment.Payment, error) {
	var best *payment.Payment
	for _, p := range s.m {
		if p.OrderID != orderID || !match(p) {
			continue
		}
		if best == nil || p.CreatedAt.After(best.CreatedAt) {
			best = p
		}
	}
	if best == nil {
		return nil, payment.ErrNotFound
	}
	return copyPayment(best), nil
}

func (s *Payments) FindOpenByOrder(_ context.Context, orderID string) (*payment.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest(orderID, func(p *payment.Payment) bool { return p.Status.IsOpen() })
}

func (s *Payments) LatestByOrder(_ context.Context, orderID string) (*payment.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest(orderID, func(*payment.Payment) bool { return true })
}

func (s *Payments) UpdateInstructions(_ context.Context, id, gatewayPaymentID string, payload json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.m[id]
	if !ok || !p.Status.IsOpen() {
		return payment.ErrNotFound
	}
	if gatewayPaymentID != "" {
		p.GatewayPaymentID = gatewayPaymentID
	}
	p.Payload = append(json.RawMessage(nil), payload...)
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Payments) Transition(_ context.Context, id string, t payment.Transition) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.m[id]
	if !ok || !t.Matches(p) {
		return false, nil
	}
	t.Apply(p, time.Now().UTC())
	return true, nil
}

func (s *Payments) SetRefundData(_ context.Context, id string, data json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.m[id]
	if !ok {
		return payment.ErrNotFound
	}
	p.RefundData = append(json.RawMessage(nil), data...)
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// ---------- transactions ----------

type Transactions struct {
	mu   sync.Mutex
	rows []payment.Transaction
}

var _ payment.TransactionRepository = (*Transactions)(nil)

func (s *Transactions) Append(_ context.Context, t *payment.Transaction) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.Type == payment.TxCapture || t.Type == payment.TxRefund {
		for _, r := range s.rows {
			if r.PaymentID == t.PaymentID && r.Type == t.Type {
				return false, nil
			}
		}
	}
	s.rows = append(s.rows, *t)
	return true, nil
}

func (s *Transactions) ListByPayment(_ context.Context, paymentID string) ([]payment.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []payment.Transaction
	for _, r := range s.rows {
		if r.PaymentID == paymentID {
			out = append(out, r)
		}
	}
	return out, nil
}

// ---------- carts ----------

type Carts struct {
	mu sync.Mutex
	m  map[string]*cart.Cart
}

var _ cart.Repository = (*Carts)(nil)

// Put replaces a user's cart; used to seed development data and tests.
func (s *Carts) Put(c *cart.Cart) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	cp.Items = append([]cart.Item(nil), c.Items...)
	s.m[c.UserID] = &cp
}

func (s *Carts) GetByUser(_ context.Context, userID string) (*cart.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.m[userID]
	if !ok {
		return &cart.Cart{UserID: userID}, nil
	}
	cp := *c
	cp.Items = append([]cart.Item(nil), c.Items...)
	return &cp, nil
}

func (s *Carts) Clear(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.m[userID]; ok {
		c.Items = nil
		c.UpdatedAt = time.Now().UTC()
	}
	return nil
}

// ---------- products ----------

type Products struct {
	mu sync.Mutex
	m  map[string]*product.Product
}

var _ product.Repository = (*Products)(nil)

func (s *Products) Put(p *product.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.m[p.ID] = &cp
}

func (s *Products) GetByID(_ context.Context, id string) (*product.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.m[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	cp := *p
	return &cp, nil
}
