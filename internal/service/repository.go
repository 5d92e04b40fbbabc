package service

import (
	"context"
	"time"

	"material-orders/internal/models"
)

// OrderRepository is the order side of the storage collaborator
type OrderRepository interface {
	CreateOrder(ctx context.Context, order *models.Order, history []models.OrderStateHistory) error
	GetOrderByID(ctx context.Context, id string) (*models.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error)
	// SaveOrder must apply the order update and append entry atomically, and
	// fail with models.ErrVersionConflict if the stored version moved on.
	SaveOrder(ctx context.Context, order *models.Order, expectedVersion int64, entry *models.OrderStateHistory) error
	GetOrdersByStatus(ctx context.Context, statuses []models.OrderStatus) ([]models.Order, error)
	GetOrdersByCustomerID(ctx context.Context, customerID string) ([]models.Order, error)
	GetOrdersBySellerID(ctx context.Context, sellerID string) ([]models.Order, error)
	GetOrderHistory(ctx context.Context, orderID string) ([]models.OrderStateHistory, error)
}

// PaymentRepository stores payments reported by the processor integration
type PaymentRepository interface {
	// RecordPayment stores payment and the re-projected order atomically. A
	// non-nil source is marked processed in the same transaction; if it
	// already was, nothing is written and models.ErrEventProcessed is returned.
	RecordPayment(ctx context.Context, payment *models.Payment, order *models.Order, expectedVersion int64, source *models.BaseEvent) error
	GetPaymentsByOrderID(ctx context.Context, orderID string) ([]models.Payment, error)
}

// EventLedger remembers which consumed events were already handled
type EventLedger interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// Repository is everything the services need from storage
type Repository interface {
	OrderRepository
	PaymentRepository
	EventLedger
}

// OrderLocker provides a short-lived exclusive section per order
type OrderLocker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	ReleaseLock(ctx context.Context, key, token string) error
}

// IdempotencyCache maps placement idempotency keys to order ids
type IdempotencyCache interface {
	GetIdempotencyKey(ctx context.Context, key string) (string, error)
	SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// EventPublisher emits domain events after a change is committed
type EventPublisher interface {
	PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error
	PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
	PublishPaymentStatusChanged(ctx context.Context, event *models.PaymentStatusChangedEvent) error
}
