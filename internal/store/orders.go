package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Order is the payment service's read view of a storefront order. The columns
// this service writes are limited to the eSewa reference pair and the payment
// status; everything else belongs to the storefront.
type Order struct {
	ID                   int64      `json:"id"`
	UserID               int64      `json:"user_id"`
	OrderNumber          string     `json:"order_number"`
	CustomerName         string     `json:"customer_name"`
	CustomerEmail        string     `json:"customer_email"`
	TotalCents           int64      `json:"total_cents"`
	Currency             string     `json:"currency"`
	PaymentStatus        string     `json:"payment_status"` // unpaid, pending, paid, failed
	EsewaTransactionUUID *string    `json:"esewa_transaction_uuid,omitempty"`
	EsewaProductCode     *string    `json:"esewa_product_code,omitempty"`
	PaidAt               *time.Time `json:"paid_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
}

// Total is the order total in NPR.
func (o *Order) Total() float64 {
	return float64(o.TotalCents) / 100.0
}

type OrdersStore struct {
	q Querier
}

func (s *OrdersStore) GetByID(ctx context.Context, id int64) (*Order, error) {
	ctx, cancel := context.WithTimeout(ctx, QueryTimeoutDuration)
	defer cancel()

	var o Order
	err := s.q.QueryRow(ctx, `
		SELECT id, user_id, order_number, customer_name, customer_email, total_cents, currency,
		       payment_status, esewa_transaction_uuid, esewa_product_code, paid_at, created_at
		FROM orders WHERE id = $1
	`, id).Scan(
		&o.ID, &o.UserID, &o.OrderNumber, &o.CustomerName, &o.CustomerEmail, &o.TotalCents, &o.Currency,
		&o.PaymentStatus, &o.EsewaTransactionUUID, &o.EsewaProductCode, &o.PaidAt, &o.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return &o, nil
}

// SetEsewaRef records the transaction uuid and product code of the latest
// attempt against the order. The callback validator later treats this pair as
// ground truth.
func (s *OrdersStore) SetEsewaRef(ctx context.Context, orderID int64, transactionUUID, productCode string) error {
	ctx, cancel := context.WithTimeout(ctx, QueryTimeoutDuration)
	defer cancel()

	tag, err := s.q.Exec(ctx, `
		UPDATE orders
		SET esewa_transaction_uuid = $2, esewa_product_code = $3, payment_status = 'pending', updated_at = now()
		WHERE id = $1
	`, orderID, transactionUUID, productCode)
	if err != nil {
		return fmt.Errorf("set esewa ref: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetPaymentStatus moves the order through the unpaid/pending/failed states.
// A paid order is final: the guard makes a late write from a stale attempt a
// no-op, same as MarkPaid's.
func (s *OrdersStore) SetPaymentStatus(ctx context.Context, orderID int64, status string) error {
	ctx, cancel := context.WithTimeout(ctx, QueryTimeoutDuration)
	defer cancel()

	_, err := s.q.Exec(ctx, `
		UPDATE orders SET payment_status = $2, updated_at = now()
		WHERE id = $1 AND payment_status <> 'paid'
	`, orderID, status)
	if err != nil {
		return fmt.Errorf("set order payment status: %w", err)
	}
	return nil
}

func (s *OrdersStore) MarkPaid(ctx context.Context, orderID int64) error {
	ctx, cancel := context.WithTimeout(ctx, QueryTimeoutDuration)
	defer cancel()

	// Zero affected rows means the order was already paid; callers treat that
	// as success.
	_, err := s.q.Exec(ctx, `
		UPDATE orders SET payment_status = 'paid', paid_at = now(), updated_at = now()
		WHERE id = $1 AND payment_status <> 'paid'
	`, orderID)
	if err != nil {
		return fmt.Errorf("mark order paid: %w", err)
	}
	return nil
}
