package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/MikeMC777/ordenes-pagos/internal/apperr"
	"github.com/MikeMC777/ordenes-pagos/internal/order"
)

var (
	ErrNotFound          = apperr.NotFound("payment not found")
	ErrOpenPaymentExists = apperr.Conflict("order already has an open payment")
)

type Repository interface {
	// Create fails with ErrOpenPaymentExists when the order already has a
	// pending or processing payment.
	Create(ctx context.Context, p *Payment) error
	GetByID(ctx context.Context, id string) (*Payment, error)
	FindOpenByOrder(ctx context.Context, orderID string) (*Payment, error)
	// LatestByOrder returns the most recently created payment in any status.
	LatestByOrder(ctx context.Context, orderID string) (*Payment, error)
	UpdateInstructions(ctx context.Context, id, gatewayPaymentID string, payload json.RawMessage) error
	Transition(ctx context.Context, id string, t Transition) (bool, error)
	SetRefundData(ctx context.Context, id string, data json.RawMessage) error
}

// TransactionRepository has no update or delete path.
type TransactionRepository interface {
	// Append reports false when the row collides with an existing capture
	// or refund for the same payment.
	Append(ctx context.Context, t *Transaction) (bool, error)
	ListByPayment(ctx context.Context, paymentID string) ([]Transaction, error)
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

type PGRepo struct{ db *pgxpool.Pool }

func NewPGRepo(db *pgxpool.Pool) *PGRepo { return &PGRepo{db: db} }

const paymentColumns = `id, order_id, method, amount::text, currency, status, gateway,
    gateway_payment_id, gateway_transaction_id, payload, paid_at, captured, refund_data,
    created_at, updated_at`

func (r *PGRepo) Create(ctx context.Context, p *Payment) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := r.db.Exec(ctx, `
    INSERT INTO payments (id, order_id, method, amount, currency, status, gateway,
      gateway_payment_id, gateway_transaction_id, payload, captured, created_at, updated_at)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$12)
  `, p.ID, p.OrderID, string(p.Method), p.Amount.String(), p.Currency, string(p.Status), p.Gateway,
		p.GatewayPaymentID, p.GatewayTransactionID, nullJSON(p.Payload), p.Captured, p.CreatedAt)
	if isUniqueViolation(err) {
		return ErrOpenPaymentExists
	}
	return err
}

func (r *PGRepo) GetByID(ctx context.Context, id string) (*Payment, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return scanPayment(r.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id=$1`, id))
}

func (r *PGRepo) FindOpenByOrder(ctx context.Context, orderID string) (*Payment, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return scanPayment(r.db.QueryRow(ctx, `
    SELECT `+paymentColumns+` FROM payments
    WHERE order_id=$1 AND status = ANY($2)
    ORDER BY created_at DESC LIMIT 1
  `, orderID, statusStrings(Open)))
}

func (r *PGRepo) LatestByOrder(ctx context.Context, orderID string) (*Payment, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return scanPayment(r.db.QueryRow(ctx, `
    SELECT `+paymentColumns+` FROM payments
    WHERE order_id=$1
    ORDER BY created_at DESC LIMIT 1
  `, orderID))
}

func (r *PGRepo) UpdateInstructions(ctx context.Context, id, gatewayPaymentID string, payload json.RawMessage) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tag, err := r.db.Exec(ctx, `
    UPDATE payments
    SET gateway_payment_id = COALESCE(NULLIF($2,''), gateway_payment_id),
        payload = $3, updated_at = NOW()
    WHERE id = $1 AND status = ANY($4)
  `, id, gatewayPaymentID, nullJSON(payload), statusStrings(Open))
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

	tag, err := r.db.Exec(ctx, `
    UPDATE payments
    SET status = $2,
        gateway_transaction_id = COALESCE(NULLIF($3,''), gateway_transaction_id),
        paid_at  = COALESCE($4, paid_at),
        captured = captured OR $5,
        updated_at = NOW()
    WHERE id = $1 AND status = ANY($6)
  `, id, string(t.To), t.GatewayTransactionID, t.PaidAt, t.Captured, statusStrings(t.From))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PGRepo) SetRefundData(ctx context.Context, id string, data json.RawMessage) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tag, err := r.db.Exec(ctx, `
    UPDATE payments SET refund_data = $2, updated_at = NOW() WHERE id = $1
  `, id, nullJSON(data))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type PGTransactionRepo struct{ db *pgxpool.Pool }

func NewPGTransactionRepo(db *pgxpool.Pool) *PGTransactionRepo {
	return &PGTransactionRepo{db: db}
}

func (r *PGTransactionRepo) Append(ctx context.Context, t *Transaction) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tag, err := r.db.Exec(ctx, `
    INSERT INTO transactions (id, order_id, payment_id, transaction_type, amount, currency, gateway,
      gateway_transaction_id, status, gateway_response, metadata, processed_at)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
    ON CONFLICT DO NOTHING
  `, t.ID, t.OrderID, t.PaymentID, string(t.Type), t.Amount.String(), t.Currency, t.Gateway,
		t.GatewayTransactionID, t.Status, nullJSON(t.Response), nullJSON(t.Metadata), t.ProcessedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PGTransactionRepo) ListByPayment(ctx context.Context, paymentID string) ([]Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := r.db.Query(ctx, `
    SELECT id, order_id, payment_id, transaction_type, amount::text, currency, gateway,
      gateway_transaction_id, status, gateway_response, metadata, processed_at
    FROM transactions WHERE payment_id = $1
    ORDER BY processed_at
  `, paymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var (
			t              Transaction
			typ, amount    string
			resp, metadata []byte
		)
		if err := rows.Scan(&t.ID, &t.OrderID, &t.PaymentID, &typ, &amount, &t.Currency, &t.Gateway,
			&t.GatewayTransactionID, &t.Status, &resp, &metadata, &t.ProcessedAt); err != nil {
			return nil, err
		}
		t.Type = TxType(typ)
		t.Response, t.Metadata = resp, metadata
		if t.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("transaction %s amount: %w", t.ID, err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanPayment(row pgx.Row) (*Payment, error) {
	var (
		p                      Payment
		method, status, amount string
		payload, refund        []byte
	)
	err := row.Scan(&p.ID, &p.OrderID, &method, &amount, &p.Currency, &status, &p.Gateway,
		&p.GatewayPaymentID, &p.GatewayTransactionID, &payload, &p.PaidAt, &p.Captured, &refund,
		&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.Payload, p.RefundData = payload, refund
	p.Method = order.PaymentMethod(method)
	p.Status = Status(status)
	if p.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("payment %s amount: %w", p.ID, err)
	}
	return &p, nil
}

// nullJSON maps an empty document to SQL NULL.
func nullJSON(b json.RawMessage) any {
	if len(b) == 0 {
		return nil
	}
	return []byte(b)
}
