package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// PaymentLogsStore is an append-only trail of everything that happened to a
// payment attempt: the initiate request, the raw redirect payload, status-check
// results and errors. Support reads it, nothing else does.
type PaymentLogsStore struct {
	q Querier
}

func (s *PaymentLogsStore) Insert(ctx context.Context, paymentID int64, stage string, payload any) error {
	ctx, cancel := context.WithTimeout(ctx, QueryTimeoutDuration)
	defer cancel()

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payment log payload: %w", err)
	}

	_, err = s.q.Exec(ctx, `
		INSERT INTO payment_logs (log_uid, payment_id, stage, payload)
		VALUES ($1, $2, $3, $4)
	`, uuid.NewString(), paymentID, stage, body)
	if err != nil {
		return fmt.Errorf("insert payment log: %w", err)
	}
	return nil
}
