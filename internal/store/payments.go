package store

import (
	"context"
	"fmt"

	"material-orders/internal/models"

	"github.com/jmoiron/sqlx"
)

const paymentColumns = `id, order_id, provider_id, amount, status, type, metadata, created_at, updated_at`

// RecordPayment inserts payment and saves the re-projected order in one
// transaction. source, when set, is claimed in processed_events first.
func (s *Store) RecordPayment(ctx context.Context, payment *models.Payment, order *models.Order, expectedVersion int64, source *models.BaseEvent) error {
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if source != nil {
			if err := claimEvent(ctx, tx, source.EventID, source.EventType); err != nil {
				return err
			}
		}

		_, err := tx.ExecContext(ctx,
			"INSERT INTO payments ("+paymentColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)",
			payment.ID, payment.OrderID, payment.ProviderID, payment.Amount, payment.Status,
			payment.Type, payment.Metadata, payment.CreatedAt, payment.UpdatedAt)
		if err != nil {
			return storageErr("insert payment", err)
		}
		return updateOrder(ctx, tx, order, expectedVersion)
	})
	if err != nil {
		return err
	}

	order.Version = expectedVersion + 1
	return nil
}

func claimEvent(ctx context.Context, tx *sqlx.Tx, eventID, eventType string) error {
	res, err := tx.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	if err != nil {
		return storageErr("claim processed event", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("claim processed event", err)
	}
	if n == 0 {
		return fmt.Errorf("event %s: %w", eventID, models.ErrEventProcessed)
	}
	return nil
}

// GetPaymentsByOrderID retrieves every payment recorded for an order, oldest first
func (s *Store) GetPaymentsByOrderID(ctx context.Context, orderID string) ([]models.Payment, error) {
	payments := []models.Payment{}
	err := s.db.SelectContext(ctx, &payments,
		"SELECT "+paymentColumns+" FROM payments WHERE order_id = $1 ORDER BY created_at", orderID)
	if err != nil {
		return nil, storageErr("list payments", err)
	}
	return payments, nil
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	if err != nil {
		return false, storageErr("check processed event", err)
	}
	return exists, nil
}

// MarkEventProcessed marks an event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	if err != nil {
		return storageErr("mark processed event", err)
	}
	return nil
}
