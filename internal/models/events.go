package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeOrderPlaced          = "ORDER_PLACED"
	EventTypeOrderStatusChanged   = "ORDER_STATUS_CHANGED"
	EventTypePaymentStatusChanged = "PAYMENT_STATUS_CHANGED"
	EventTypePaymentRecorded      = "PAYMENT_RECORDED"
	EventTypeFulfillmentUpdated   = "FULFILLMENT_UPDATED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderPlacedEvent published when an order enters verification
type OrderPlacedEvent struct {
	BaseEvent
	OrderID       string          `json:"order_id"`
	CustomerID    string          `json:"customer_id"`
	SellerID      string          `json:"seller_id"`
	Total         decimal.Decimal `json:"total"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	Items         []OrderItem     `json:"items"`
}

// OrderStatusChangedEvent published after every committed transition
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID         string      `json:"order_id"`
	Action          string      `json:"action"`
	FromStatus      OrderStatus `json:"from_status"`
	ToStatus        OrderStatus `json:"to_status"`
	ActorID         string      `json:"actor_id"`
	Note            string      `json:"note,omitempty"`
	ContactAttempts int         `json:"contact_attempts"`
}

// PaymentStatusChangedEvent published when the projected payment status changes
type PaymentStatusChangedEvent struct {
	BaseEvent
	OrderID    string        `json:"order_id"`
	FromStatus PaymentStatus `json:"from_status"`
	ToStatus   PaymentStatus `json:"to_status"`
}

// PaymentRecordedEvent is emitted by the payment processor integration
type PaymentRecordedEvent struct {
	BaseEvent
	OrderID    string                 `json:"order_id"`
	ProviderID string                 `json:"provider_id,omitempty"`
	Amount     decimal.Decimal        `json:"amount"`
	Status     PaymentRecordStatus    `json:"status"`
	Type       PaymentType            `json:"type"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// FulfillmentUpdatedEvent is emitted by the delivery side when an order moves forward
type FulfillmentUpdatedEvent struct {
	BaseEvent
	OrderID string      `json:"order_id"`
	Status  OrderStatus `json:"status"`
	ActorID string      `json:"actor_id"`
	Note    string      `json:"note,omitempty"`
}
