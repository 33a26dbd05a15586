package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound          = errors.New("resource not found")
	QueryTimeoutDuration = time.Second * 5
)

// Querier is the slice of pgx the stores need; *pgxpool.Pool and pgx.Tx both
// satisfy it.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type Storage struct {
	Orders interface {
		GetByID(ctx context.Context, id int64) (*Order, error)
		SetEsewaRef(ctx context.Context, orderID int64, transactionUUID, productCode string) error
		SetPaymentStatus(ctx context.Context, orderID int64, status string) error
		MarkPaid(ctx context.Context, orderID int64) error
	}
	Payments interface {
		Create(ctx context.Context, p *Payment) (*Payment, error)
		GetByID(ctx context.Context, id int64) (*Payment, error)
		GetByProviderRef(ctx context.Context, provider, ref string) (*Payment, error)
		SetProviderRef(ctx context.Context, paymentID int64, ref string, raw any) error
		ListPendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*Payment, error)
		ListRecent(ctx context.Context, limit, offset int) ([]*Payment, int, error)
		MarkPaid(ctx context.Context, paymentID int64) error
		SetStatus(ctx context.Context, paymentID int64, status string) error
	}
	PaymentLogs interface {
		Insert(ctx context.Context, paymentID int64, stage string, payload any) error
	}
}

func NewStorage(pool *pgxpool.Pool) Storage {
	return Storage{
		Orders:      &OrdersStore{q: pool},
		Payments:    &PaymentsStore{q: pool},
		PaymentLogs: &PaymentLogsStore{q: pool},
	}
}
