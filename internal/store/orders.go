package store

import (
	"context"
	"database/sql"
	"errors"

	"material-orders/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const orderColumns = `id, customer_id, seller_id, items, subtotal, delivery_charges, total,
	payment_method, prepayment_amount, status, payment_status, delivery_address,
	contact_attempts, seller_response, buyer_response, reject_reason, verified_by_admin_id,
	idempotency_key, version, created_at, updated_at`

const historyColumns = `id, order_id, status, changed_by, note, created_at`

// CreateOrder inserts an order together with its opening history rows
func (s *Store) CreateOrder(ctx context.Context, order *models.Order, history []models.OrderStateHistory) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO orders (`+orderColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`,
			order.ID, order.CustomerID, order.SellerID, order.Items, order.Subtotal, order.DeliveryCharges,
			order.Total, order.PaymentMethod, order.PrepaymentAmount, order.Status, order.PaymentStatus,
			order.DeliveryAddress, order.ContactAttempts, order.SellerResponse, order.BuyerResponse,
			order.RejectReason, order.VerifiedByAdminID, order.IdempotencyKey, order.Version,
			order.CreatedAt, order.UpdatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return models.ErrDuplicateOrder
			}
			return storageErr("insert order", err)
		}

		for i := range history {
			if err := insertHistory(ctx, tx, &history[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrOrderNotFound
	}
	if err != nil {
		return nil, storageErr("get order", err)
	}
	return &order, nil
}

// GetOrderByIdempotencyKey retrieves an order by idempotency key
func (s *Store) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT "+orderColumns+" FROM orders WHERE idempotency_key = $1", key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get order by idempotency key", err)
	}
	return &order, nil
}

// SaveOrder writes the mutable fields of order if its stored version still
// equals expectedVersion, and appends entry in the same transaction.
// On success order.Version is expectedVersion+1.
func (s *Store) SaveOrder(ctx context.Context, order *models.Order, expectedVersion int64, entry *models.OrderStateHistory) error {
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := updateOrder(ctx, tx, order, expectedVersion); err != nil {
			return err
		}
		if entry != nil {
			return insertHistory(ctx, tx, entry)
		}
		return nil
	})
	if err != nil {
		return err
	}

	order.Version = expectedVersion + 1
	return nil
}

func updateOrder(ctx context.Context, tx *sqlx.Tx, order *models.Order, expectedVersion int64) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE orders SET
			status = $1, payment_status = $2, contact_attempts = $3,
			seller_response = $4, buyer_response = $5, reject_reason = $6,
			verified_by_admin_id = $7, version = $8, updated_at = $9
		WHERE id = $10 AND version = $11`,
		order.Status, order.PaymentStatus, order.ContactAttempts,
		order.SellerResponse, order.BuyerResponse, order.RejectReason,
		order.VerifiedByAdminID, expectedVersion+1, order.UpdatedAt,
		order.ID, expectedVersion)
	if err != nil {
		return storageErr("update order", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("update order", err)
	}
	if n == 1 {
		return nil
	}

	var exists bool
	if err := tx.GetContext(ctx, &exists, "SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)", order.ID); err != nil {
		return storageErr("check order", err)
	}
	if !exists {
		return models.ErrOrderNotFound
	}
	return models.ErrVersionConflict
}

func insertHistory(ctx context.Context, tx *sqlx.Tx, entry *models.OrderStateHistory) error {
	_, err := tx.ExecContext(ctx,
		"INSERT INTO order_state_history ("+historyColumns+") VALUES ($1, $2, $3, $4, $5, $6)",
		entry.ID, entry.OrderID, entry.Status, entry.ChangedBy, entry.Note, entry.CreatedAt)
	if err != nil {
		return storageErr("append history", err)
	}
	return nil
}

// GetOrdersByStatus retrieves orders whose status is in statuses, newest first
func (s *Store) GetOrdersByStatus(ctx context.Context, statuses []models.OrderStatus) ([]models.Order, error) {
	if len(statuses) == 0 {
		return []models.Order{}, nil
	}

	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}

	orders := []models.Order{}
	err := s.db.SelectContext(ctx, &orders,
		"SELECT "+orderColumns+" FROM orders WHERE status = ANY($1::order_status[]) ORDER BY created_at DESC",
		pq.Array(names))
	if err != nil {
		return nil, storageErr("list orders by status", err)
	}
	return orders, nil
}

// GetOrdersByCustomerID retrieves orders for a customer, newest first
func (s *Store) GetOrdersByCustomerID(ctx context.Context, customerID string) ([]models.Order, error) {
	orders := []models.Order{}
	err := s.db.SelectContext(ctx, &orders,
		"SELECT "+orderColumns+" FROM orders WHERE customer_id = $1 ORDER BY created_at DESC", customerID)
	if err != nil {
		return nil, storageErr("list customer orders", err)
	}
	return orders, nil
}

// GetOrdersBySellerID retrieves orders for a seller, newest first
func (s *Store) GetOrdersBySellerID(ctx context.Context, sellerID string) ([]models.Order, error) {
	orders := []models.Order{}
	err := s.db.SelectContext(ctx, &orders,
		"SELECT "+orderColumns+" FROM orders WHERE seller_id = $1 ORDER BY created_at DESC", sellerID)
	if err != nil {
		return nil, storageErr("list seller orders", err)
	}
	return orders, nil
}

// GetOrderHistory retrieves the audit trail of an order, oldest first
func (s *Store) GetOrderHistory(ctx context.Context, orderID string) ([]models.OrderStateHistory, error) {
	history := []models.OrderStateHistory{}
	err := s.db.SelectContext(ctx, &history,
		"SELECT "+historyColumns+" FROM order_state_history WHERE order_id = $1 ORDER BY created_at, seq", orderID)
	if err != nil {
		return nil, storageErr("get order history", err)
	}
	return history, nil
}
