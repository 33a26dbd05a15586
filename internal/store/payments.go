package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Payment is one gateway attempt for an order. ProviderRef holds the eSewa
// transaction uuid; every retry gets a fresh one.
type Payment struct {
	ID          int64     `json:"id"`
	OrderID     int64     `json:"order_id"`
	Provider    string    `json:"provider"`
	ProviderRef *string   `json:"provider_ref,omitempty"`
	AmountCents int64     `json:"amount_cents"`
	Currency    string    `json:"currency"`
	Status      string    `json:"status"` // pending, paid, failed
	GatewayResp any       `json:"gateway_response,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Amount is the attempt amount in NPR.
func (p *Payment) Amount() float64 {
	return float64(p.AmountCents) / 100.0
}

type PaymentsStore struct {
	q Querier
}

func (s *PaymentsStore) Create(ctx context.Context, p *Payment) (*Payment, error) {
	ctx, cancel := context.WithTimeout(ctx, QueryTimeoutDuration)
	defer cancel()

	err := s.q.QueryRow(ctx, `
		INSERT INTO payments (order_id, provider, amount_cents, currency, status)
		VALUES ($1, $2, $3, COALESCE(NULLIF($4, ''), 'NPR'), COALESCE(NULLIF($5, ''), 'pending'))
		RETURNING id, currency, status, created_at, updated_at
	`, p.OrderID, p.Provider, p.AmountCents, p.Currency, p.Status).
		Scan(&p.ID, &p.Currency, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}
	return p, nil
}

func (s *PaymentsStore) GetByID(ctx context.Context, id int64) (*Payment, error) {
	ctx, cancel := context.WithTimeout(ctx, QueryTimeoutDuration)
	defer cancel()

	var p Payment
	err := s.q.QueryRow(ctx, `
		SELECT id, order_id, provider, provider_ref, amount_cents, currency, status, created_at, updated_at
		FROM payments WHERE id = $1
	`, id).Scan(
		&p.ID, &p.OrderID, &p.Provider, &p.ProviderRef, &p.AmountCents, &p.Currency, &p.Status,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get payment: %w", err)
	}
	return &p, nil
}

func (s *PaymentsStore) GetByProviderRef(ctx context.Context, provider, ref string) (*Payment, error) {
	ctx, cancel := context.WithTimeout(ctx, QueryTimeoutDuration)
	defer cancel()

	var p Payment
	err := s.q.QueryRow(ctx, `
		SELECT id, order_id, provider, provider_ref, amount_cents, currency, status, created_at, updated_at
		FROM payments WHERE provider = $1 AND provider_ref = $2
	`, provider, ref).Scan(
		&p.ID, &p.OrderID, &p.Provider, &p.ProviderRef, &p.AmountCents, &p.Currency, &p.Status,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get payment by provider ref: %w", err)
	}
	return &p, nil
}

// SetProviderRef stores the transaction uuid of the current attempt plus the
// signed form fields the gateway was given, for later reconciliation.
func (s *PaymentsStore) SetProviderRef(ctx context.Context, paymentID int64, ref string, raw any) error {
	ctx, cancel := context.WithTimeout(ctx, QueryTimeoutDuration)
	defer cancel()

	payload, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("marshal gateway response: %w", err)
	}

	tag, err := s.q.Exec(ctx, `
		UPDATE payments SET provider_ref = $2, gateway_response = $3, updated_at = now() WHERE id = $1
	`, paymentID, ref, payload)
	if err != nil {
		return fmt.Errorf("set provider ref: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListPendingOlderThan returns pending attempts that already went to the
// gateway (have a provider ref) and have not moved since the cutoff. The
// reconciler re-verifies these.
func (s *PaymentsStore) ListPendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*Payment, error) {
	ctx, cancel := context.WithTimeout(ctx, QueryTimeoutDuration)
	defer cancel()

	rows, err := s.q.Query(ctx, `
		SELECT id, order_id, provider, provider_ref, amount_cents, currency, status, created_at, updated_at
		FROM payments
		WHERE status = 'pending' AND provider_ref IS NOT NULL AND updated_at < $1
		ORDER BY updated_at
		LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending payments: %w", err)
	}
	defer rows.Close()

	var payments []*Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(
			&p.ID, &p.OrderID, &p.Provider, &p.ProviderRef, &p.AmountCents, &p.Currency, &p.Status,
			&p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan pending payment: %w", err)
		}
		payments = append(payments, &p)
	}
	return payments, rows.Err()
}

// ListRecent returns a page of attempts, newest first, plus the total count
// for pagination metadata. Support tooling only.
func (s *PaymentsStore) ListRecent(ctx context.Context, limit, offset int) ([]*Payment, int, error) {
	ctx, cancel := context.WithTimeout(ctx, QueryTimeoutDuration)
	defer cancel()

	var total int
	if err := s.q.QueryRow(ctx, `SELECT COUNT(*) FROM payments`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count payments: %w", err)
	}

	rows, err := s.q.Query(ctx, `
		SELECT id, order_id, provider, provider_ref, amount_cents, currency, status, created_at, updated_at
		FROM payments
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	var payments []*Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(
			&p.ID, &p.OrderID, &p.Provider, &p.ProviderRef, &p.AmountCents, &p.Currency, &p.Status,
			&p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan payment: %w", err)
		}
		payments = append(payments, &p)
	}
	return payments, total, rows.Err()
}

func (s *PaymentsStore) MarkPaid(ctx context.Context, paymentID int64) error {
	ctx, cancel := context.WithTimeout(ctx, QueryTimeoutDuration)
	defer cancel()

	_, err := s.q.Exec(ctx, `
		UPDATE payments SET status = 'paid', updated_at = now()
		WHERE id = $1 AND status <> 'paid'
	`, paymentID)
	if err != nil {
		return fmt.Errorf("mark payment paid: %w", err)
	}
	return nil
}

func (s *PaymentsStore) SetStatus(ctx context.Context, paymentID int64, status string) error {
	ctx, cancel := context.WithTimeout(ctx, QueryTimeoutDuration)
	defer cancel()

	tag, err := s.q.Exec(ctx, `
		UPDATE payments SET status = $2, updated_at = now() WHERE id = $1
	`, paymentID, status)
	if err != nil {
		return fmt.Errorf("set payment status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
