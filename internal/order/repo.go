package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/MikeMC777/ordenes-pagos/internal/apperr"
)

var (
	ErrNotFound = apperr.NotFound("order not found")
)

type Repository interface {
	// Create stores the order and its item snapshots atomically.
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id string) (*Order, error)
	// FindByReference resolves a gateway correlation id (checkout session
	// id or QR payment reference).
	FindByReference(ctx context.Context, ref string) (*Order, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]Order, error)
	SetGatewayRefs(ctx context.Context, id, sessionID, reference string) error
	// Transition reports whether the guarded update was applied.
	Transition(ctx context.Context, id string, t Transition) (bool, error)
}

type PGRepo struct{ db *pgxpool.Pool }

func NewPGRepo(db *pgxpool.Pool) *PGRepo { return &PGRepo{db: db} }

const orderColumns = `id, user_id, customer_email, subtotal::text, shipping::text, tax::text, total::text,
    currency, payment_method, status, payment_status, shipping_address,
    checkout_session_id, payment_reference, payment_result, paid_at, created_at, updated_at`

func (r *PGRepo) Create(ctx context.Context, o *Order) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	addr, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
    INSERT INTO orders (id, user_id, customer_email, subtotal, shipping, tax, total, currency,
      payment_method, status, payment_status, shipping_address, created_at, updated_at)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$13)
  `, o.ID, o.UserID, o.CustomerEmail, o.Subtotal.String(), o.Shipping.String(), o.Tax.String(),
		o.Total.String(), o.Currency, string(o.PaymentMethod), string(o.Status), string(o.PaymentStatus),
		addr, o.CreatedAt); err != nil {
		return err
	}

	for _, it := range o.Items {
		if _, err := tx.Exec(ctx, `
      INSERT INTO order_items (id, order_id, product_id, name, image, quantity, price)
      VALUES ($1,$2,$3,$4,$5,$6,$7)
    `, it.ID, o.ID, it.ProductID, it.Name, it.Image, it.Quantity, it.Price.String()); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *PGRepo) GetByID(ctx context.Context, id string) (*Order, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	o, err := scanOrder(r.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id))
	if err != nil {
		return nil, err
	}
	if o.Items, err = r.items(ctx, o.ID); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *PGRepo) FindByReference(ctx context.Context, ref string) (*Order, error) {
	if ref == "" {
		return nil, ErrNotFound
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	o, err := scanOrder(r.db.QueryRow(ctx, `
    SELECT `+orderColumns+` FROM orders
    WHERE payment_reference=$1 OR checkout_session_id=$1
    LIMIT 1
  `, ref))
	if err != nil {
		return nil, err
	}
	if o.Items, err = r.items(ctx, o.ID); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *PGRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]Order, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := r.db.Query(ctx, `
    SELECT `+orderColumns+` FROM orders WHERE user_id=$1
    ORDER BY created_at DESC LIMIT $2 OFFSET $3
  `, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].Items, err = r.items(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *PGRepo) SetGatewayRefs(ctx context.Context, id, sessionID, reference string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tag, err := r.db.Exec(ctx, `
    UPDATE orders
    SET checkout_session_id = COALESCE(NULLIF($2,''), checkout_session_id),
        payment_reference   = COALESCE(NULLIF($3,''), payment_reference),
        updated_at = NOW()
    WHERE id = $1
  `, id, sessionID, reference)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepo) Transition(ctx context.Context, id string, t Transition) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var result any
	if t.Result != nil {
		b, err := json.Marshal(t.Result)
		if err != nil {
			return false, err
		}
		result = b
	}

	tag, err := r.db.Exec(ctx, `
    UPDATE orders
    SET status         = COALESCE(NULLIF($2,''), status),
        payment_status = COALESCE(NULLIF($3,''), payment_status),
        paid_at        = COALESCE($4, paid_at),
        payment_result = COALESCE($5::jsonb, payment_result),
        updated_at     = NOW()
    WHERE id = $1
      AND (cardinality($6::text[]) = 0 OR status = ANY($6::text[]))
      AND (cardinality($7::text[]) = 0 OR payment_status = ANY($7::text[]))
  `, id, string(t.To), string(t.Payment), t.PaidAt, result,
		statusStrings(t.From), paymentStrings(t.FromPayment))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PGRepo) items(ctx context.Context, orderID string) ([]Item, error) {
	rows, err := r.db.Query(ctx, `
    SELECT id, order_id, product_id, name, image, quantity, price::text
    FROM order_items
    WHERE order_id = $1
    ORDER BY id
  `, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var (
			it    Item
			price string
		)
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Name, &it.Image, &it.Quantity, &price); err != nil {
			return nil, err
		}
		if it.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("order item %s price: %w", it.ID, err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func scanOrder(row pgx.Row) (*Order, error) {
	var (
		o                         Order
		sub, ship, tax, total     string
		method, status, payStatus string
		addr, result              []byte
	)
	err := row.Scan(&o.ID, &o.UserID, &o.CustomerEmail, &sub, &ship, &tax, &total,
		&o.Currency, &method, &status, &payStatus, &addr,
		&o.CheckoutSessionID, &o.PaymentReference, &result, &o.PaidAt, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	o.PaymentMethod = PaymentMethod(method)
	o.Status = Status(status)
	o.PaymentStatus = PaymentStatus(payStatus)

	for dst, src := range map[*decimal.Decimal]string{&o.Subtotal: sub, &o.Shipping: ship, &o.Tax: tax, &o.Total: total} {
		if *dst, err = decimal.NewFromString(src); err != nil {
			return nil, fmt.Errorf("order %s money: %w", o.ID, err)
		}
	}
	if len(addr) > 0 {
		if err := json.Unmarshal(addr, &o.ShippingAddress); err != nil {
			return nil, err
		}
	}
	if len(result) > 0 {
		o.PaymentResult = &PaymentResult{}
		if err := json.Unmarshal(result, o.PaymentResult); err != nil {
			return nil, err
		}
	}
	return &o, nil
}
