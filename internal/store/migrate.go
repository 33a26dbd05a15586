package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// RunMigrations bootstraps the schema. Statements are idempotent so running
// at every startup is safe; production deployments usually manage the schema
// out of band and leave this disabled.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{

		`CREATE TABLE IF NOT EXISTS orders (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL,
			order_number TEXT NOT NULL UNIQUE,
			customer_name TEXT NOT NULL DEFAULT '',
			customer_email TEXT NOT NULL DEFAULT '',
			total_cents BIGINT NOT NULL CHECK (total_cents >= 0),
			currency TEXT NOT NULL DEFAULT 'NPR',
			payment_status TEXT NOT NULL DEFAULT 'unpaid',
			esewa_transaction_uuid TEXT,
			esewa_product_code TEXT,
			paid_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,

		`CREATE TABLE IF NOT EXISTS payments (
			id BIGSERIAL PRIMARY KEY,
			order_id BIGINT NOT NULL REFERENCES orders (id),
			provider TEXT NOT NULL,
			provider_ref TEXT,
			amount_cents BIGINT NOT NULL CHECK (amount_cents >= 0),
			currency TEXT NOT NULL DEFAULT 'NPR',
			status TEXT NOT NULL DEFAULT 'pending',
			gateway_response JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,

		`CREATE UNIQUE INDEX IF NOT EXISTS payments_provider_ref_idx
			ON payments (provider, provider_ref)
			WHERE provider_ref IS NOT NULL;`,

		`CREATE INDEX IF NOT EXISTS payments_pending_idx
			ON payments (updated_at)
			WHERE status = 'pending';`,

		`CREATE TABLE IF NOT EXISTS payment_logs (
			id BIGSERIAL PRIMARY KEY,
			log_uid TEXT NOT NULL UNIQUE,
			payment_id BIGINT NOT NULL REFERENCES payments (id),
			stage TEXT NOT NULL,
			payload JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,

		`CREATE INDEX IF NOT EXISTS payment_logs_payment_idx
			ON payment_logs (payment_id, created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	return nil
}
