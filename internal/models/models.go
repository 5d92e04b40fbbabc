package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Sentinel errors shared by the store and the services
var (
	ErrOrderNotFound   = errors.New("order not found")
	ErrVersionConflict = errors.New("order was modified concurrently, re-read and retry")
	ErrStorageFailure  = errors.New("storage failure")
	ErrInvalidOrder    = errors.New("invalid order")
	ErrDuplicateOrder  = errors.New("order with this idempotency key already exists")
	ErrInvalidPayment  = errors.New("invalid payment")
	ErrEventProcessed  = errors.New("event already processed")
)

// OrderStatus is the lifecycle state of an order
type OrderStatus string

// Order statuses
const (
	OrderStatusCreated             OrderStatus = "created"
	OrderStatusPendingVerification OrderStatus = "pending_verification"
	OrderStatusSellerContacted     OrderStatus = "seller_contacted"
	OrderStatusSellerAccepted      OrderStatus = "seller_accepted"
	OrderStatusSellerRejected      OrderStatus = "seller_rejected"
	OrderStatusBuyerContacted      OrderStatus = "buyer_contacted"
	OrderStatusBuyerConfirmed      OrderStatus = "buyer_confirmed"
	OrderStatusBuyerRejected       OrderStatus = "buyer_rejected"
	OrderStatusConfirmed           OrderStatus = "confirmed"
	OrderStatusOutForDelivery      OrderStatus = "out_for_delivery"
	OrderStatusDelivered           OrderStatus = "delivered"
	OrderStatusCompleted           OrderStatus = "completed"
	OrderStatusRejected            OrderStatus = "rejected"
)

var allStatuses = []OrderStatus{
	OrderStatusCreated,
	OrderStatusPendingVerification,
	OrderStatusSellerContacted,
	OrderStatusSellerAccepted,
	OrderStatusSellerRejected,
	OrderStatusBuyerContacted,
	OrderStatusBuyerConfirmed,
	OrderStatusBuyerRejected,
	OrderStatusConfirmed,
	OrderStatusOutForDelivery,
	OrderStatusDelivered,
	OrderStatusCompleted,
	OrderStatusRejected,
}

// AllOrderStatuses returns every known status in declaration order
func AllOrderStatuses() []OrderStatus {
	out := make([]OrderStatus, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// Valid reports whether s is a known status
func (s OrderStatus) Valid() bool {
	for _, known := range allStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is defined from s
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusCompleted, OrderStatusRejected, OrderStatusSellerRejected, OrderStatusBuyerRejected:
		return true
	}
	return false
}

func (s OrderStatus) String() string {
	return string(s)
}

// PaymentMethod is how the buyer pays for an order
type PaymentMethod string

const (
	PaymentMethodOnline PaymentMethod = "online"
	PaymentMethodCOD    PaymentMethod = "cod"
)

// Valid reports whether m is a supported payment method
func (m PaymentMethod) Valid() bool {
	return m == PaymentMethodOnline || m == PaymentMethodCOD
}

// PaymentStatus is the derived payment state of an order
type PaymentStatus string

const (
	PaymentStatusPending        PaymentStatus = "pending"
	PaymentStatusPartialPending PaymentStatus = "partial_pending"
	PaymentStatusPartialPaid    PaymentStatus = "partial_paid"
	PaymentStatusPaid           PaymentStatus = "paid"
	PaymentStatusFailed         PaymentStatus = "failed"
	PaymentStatusRefunded       PaymentStatus = "refunded"
)

// PrepaymentRate is the share of the total collected upfront for cash-on-delivery orders
var PrepaymentRate = decimal.NewFromFloat(0.20)

// CurrencyPlaces is the number of decimal places amounts are rounded to
const CurrencyPlaces = 2

// PrepaymentFor returns the upfront amount owed for a cash-on-delivery order of the given total
func PrepaymentFor(total decimal.Decimal) decimal.Decimal {
	return total.Mul(PrepaymentRate).Round(CurrencyPlaces)
}

// OrderItem is a line of an order, snapshotted at placement
type OrderItem struct {
	ProductID string          `json:"product_id"`
	Title     string          `json:"title"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Unit      string          `json:"unit"`
}

// LineTotal returns quantity times unit price
func (i OrderItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// OrderItems is stored as a jsonb column
type OrderItems []OrderItem

// Value implements driver.Valuer
func (items OrderItems) Value() (driver.Value, error) {
	if items == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(items)
}

// Scan implements sql.Scanner
func (items *OrderItems) Scan(src interface{}) error {
	return scanJSON(src, items)
}

// DeliveryAddress is the address snapshot taken at placement
type DeliveryAddress struct {
	Line1   string `json:"line1"`
	Line2   string `json:"line2,omitempty"`
	City    string `json:"city"`
	State   string `json:"state"`
	PinCode string `json:"pin_code"`
}

// Validate checks the required address fields
func (a DeliveryAddress) Validate() error {
	if a.Line1 == "" || a.City == "" || a.State == "" || a.PinCode == "" {
		return fmt.Errorf("%w: delivery address requires line1, city, state and pin_code", ErrInvalidOrder)
	}
	return nil
}

// Value implements driver.Valuer
func (a DeliveryAddress) Value() (driver.Value, error) {
	return json.Marshal(a)
}

// Scan implements sql.Scanner
func (a *DeliveryAddress) Scan(src interface{}) error {
	return scanJSON(src, a)
}

// Order represents a buyer's order with a single seller
type Order struct {
	ID                string           `db:"id" json:"id"`
	CustomerID        string           `db:"customer_id" json:"customer_id"`
	SellerID          string           `db:"seller_id" json:"seller_id"`
	Items             OrderItems       `db:"items" json:"items"`
	Subtotal          decimal.Decimal  `db:"subtotal" json:"subtotal"`
	DeliveryCharges   decimal.Decimal  `db:"delivery_charges" json:"delivery_charges"`
	Total             decimal.Decimal  `db:"total" json:"total"`
	PaymentMethod     PaymentMethod    `db:"payment_method" json:"payment_method"`
	PrepaymentAmount  *decimal.Decimal `db:"prepayment_amount" json:"prepayment_amount,omitempty"`
	Status            OrderStatus      `db:"status" json:"status"`
	PaymentStatus     PaymentStatus    `db:"payment_status" json:"payment_status"`
	DeliveryAddress   DeliveryAddress  `db:"delivery_address" json:"delivery_address"`
	ContactAttempts   int              `db:"contact_attempts" json:"contact_attempts"`
	SellerResponse    *string          `db:"seller_response" json:"seller_response,omitempty"`
	BuyerResponse     *string          `db:"buyer_response" json:"buyer_response,omitempty"`
	RejectReason      *string          `db:"reject_reason" json:"reject_reason,omitempty"`
	VerifiedByAdminID *string          `db:"verified_by_admin_id" json:"verified_by_admin_id,omitempty"`
	IdempotencyKey    *string          `db:"idempotency_key" json:"-"`
	Version           int64            `db:"version" json:"version"`
	CreatedAt         time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time        `db:"updated_at" json:"updated_at"`
}

// Validate checks the monetary invariants of an order
func (o *Order) Validate() error {
	if len(o.Items) == 0 {
		return fmt.Errorf("%w: order has no items", ErrInvalidOrder)
	}
	if !o.PaymentMethod.Valid() {
		return fmt.Errorf("%w: unknown payment method %q", ErrInvalidOrder, o.PaymentMethod)
	}
	if !o.Subtotal.Add(o.DeliveryCharges).Equal(o.Total) {
		return fmt.Errorf("%w: total %s != subtotal %s + delivery charges %s",
			ErrInvalidOrder, o.Total, o.Subtotal, o.DeliveryCharges)
	}

	switch o.PaymentMethod {
	case PaymentMethodCOD:
		want := PrepaymentFor(o.Total)
		if o.PrepaymentAmount == nil || !o.PrepaymentAmount.Equal(want) {
			return fmt.Errorf("%w: cod order requires prepayment of %s", ErrInvalidOrder, want)
		}
	case PaymentMethodOnline:
		if o.PrepaymentAmount != nil {
			return fmt.Errorf("%w: online order must not carry a prepayment", ErrInvalidOrder)
		}
	}
	return nil
}

// Clone returns a deep copy so callers can mutate without touching the original
func (o *Order) Clone() *Order {
	c := *o
	c.Items = append(OrderItems(nil), o.Items...)
	c.PrepaymentAmount = cloneDecimal(o.PrepaymentAmount)
	c.SellerResponse = cloneString(o.SellerResponse)
	c.BuyerResponse = cloneString(o.BuyerResponse)
	c.RejectReason = cloneString(o.RejectReason)
	c.VerifiedByAdminID = cloneString(o.VerifiedByAdminID)
	c.IdempotencyKey = cloneString(o.IdempotencyKey)
	return &c
}

// OrderStateHistory is one row of the append-only audit trail
type OrderStateHistory struct {
	ID        string      `db:"id" json:"id"`
	OrderID   string      `db:"order_id" json:"order_id"`
	Status    OrderStatus `db:"status" json:"status"`
	ChangedBy *string     `db:"changed_by" json:"changed_by,omitempty"`
	Note      *string     `db:"note" json:"note,omitempty"`
	CreatedAt time.Time   `db:"created_at" json:"created_at"`
}

// PaymentType identifies which leg of the order a payment settles
type PaymentType string

const (
	PaymentTypeFull       PaymentType = "full"
	PaymentTypePrepayment PaymentType = "prepayment"
	PaymentTypeSettlement PaymentType = "settlement"
	PaymentTypeRefund     PaymentType = "refund"
)

// Valid reports whether t is a known payment type
func (t PaymentType) Valid() bool {
	switch t {
	case PaymentTypeFull, PaymentTypePrepayment, PaymentTypeSettlement, PaymentTypeRefund:
		return true
	}
	return false
}

// PaymentRecordStatus is the processor-reported state of a single payment
type PaymentRecordStatus string

const (
	PaymentRecordPending   PaymentRecordStatus = "pending"
	PaymentRecordSucceeded PaymentRecordStatus = "succeeded"
	PaymentRecordFailed    PaymentRecordStatus = "failed"
)

// Valid reports whether s is a known payment record status
func (s PaymentRecordStatus) Valid() bool {
	return s == PaymentRecordPending || s == PaymentRecordSucceeded || s == PaymentRecordFailed
}

// Payment represents a transfer reported by the payment processor integration
type Payment struct {
	ID         string              `db:"id" json:"id"`
	OrderID    string              `db:"order_id" json:"order_id"`
	ProviderID *string             `db:"provider_id" json:"provider_id,omitempty"`
	Amount     decimal.Decimal     `db:"amount" json:"amount"`
	Status     PaymentRecordStatus `db:"status" json:"status"`
	Type       PaymentType         `db:"type" json:"type"`
	Metadata   Metadata            `db:"metadata" json:"metadata,omitempty"`
	CreatedAt  time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time           `db:"updated_at" json:"updated_at"`
}

// Metadata is free-form processor data stored as jsonb
type Metadata map[string]interface{}

// Value implements driver.Valuer
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner
func (m *Metadata) Scan(src interface{}) error {
	if src == nil {
		*m = nil
		return nil
	}
	return scanJSON(src, m)
}

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}

func scanJSON(src interface{}, dest interface{}) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, dest)
	case string:
		return json.Unmarshal([]byte(v), dest)
	case nil:
		return nil
	default:
		return fmt.Errorf("unsupported json column type %T", src)
	}
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneDecimal(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	v := *d
	return &v
}

// StringPtr returns a pointer to s
func StringPtr(s string) *string {
	return &s
}
