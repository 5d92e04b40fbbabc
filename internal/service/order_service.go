package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"material-orders/internal/lifecycle"
	"material-orders/internal/models"
	"material-orders/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultQueueStatuses are the statuses an admin still has work to do on
var DefaultQueueStatuses = []models.OrderStatus{
	models.OrderStatusPendingVerification,
	models.OrderStatusSellerContacted,
	models.OrderStatusSellerAccepted,
	models.OrderStatusBuyerContacted,
}

// OrderServiceConfig holds the business knobs of order placement
type OrderServiceConfig struct {
	DeliveryCharges     decimal.Decimal
	ContactAttemptsWarn int
	IdempotencyTTL      time.Duration
}

// OrderService handles order placement and read access
type OrderService struct {
	repo      Repository
	cache     IdempotencyCache
	publisher EventPublisher
	cfg       OrderServiceConfig
	now       func() time.Time
	logger    *zap.Logger
}

// NewOrderService creates a new order service. cache may be nil.
func NewOrderService(
	repo Repository,
	cache IdempotencyCache,
	publisher EventPublisher,
	cfg OrderServiceConfig,
) *OrderService {
	return &OrderService{
		repo:      repo,
		cache:     cache,
		publisher: publisher,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    util.GetLogger(),
	}
}

// PlaceOrderRequest represents a request to place an order
type PlaceOrderRequest struct {
	CustomerID      string                 `json:"customer_id" binding:"required"`
	SellerID        string                 `json:"seller_id" binding:"required"`
	Items           []OrderItemRequest     `json:"items" binding:"required,min=1,dive"`
	PaymentMethod   string                 `json:"payment_method" binding:"required"`
	DeliveryAddress models.DeliveryAddress `json:"delivery_address"`
	IdempotencyKey  string                 `json:"idempotency_key,omitempty"`
}

// OrderItemRequest represents an item in an order
type OrderItemRequest struct {
	ProductID string          `json:"product_id" binding:"required"`
	Title     string          `json:"title"`
	Quantity  int             `json:"quantity" binding:"required,min=1"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Unit      string          `json:"unit"`
}

// QueueEntry is an order in the admin verification queue
type QueueEntry struct {
	Order          models.Order       `json:"order"`
	ContactWarning bool               `json:"contact_warning"`
	AllowedActions []lifecycle.Action `json:"allowed_actions"`
}

// PlaceOrder validates and stores a new order ready for verification.
// A repeated idempotency key returns the order placed first.
func (s *OrderService) PlaceOrder(ctx context.Context, req *PlaceOrderRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.PlaceOrder")
	defer span.End()

	if req.IdempotencyKey != "" {
		existing, err := s.findByIdempotencyKey(ctx, req.IdempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("failed to check idempotency: %w", err)
		}
		if existing != nil {
			s.logger.Info("Duplicate order request detected",
				zap.String("idempotency_key", req.IdempotencyKey),
				zap.String("order_id", existing.ID))
			return existing, nil
		}
	}

	order, err := s.buildOrder(req)
	if err != nil {
		return nil, err
	}

	now := order.CreatedAt
	history := []models.OrderStateHistory{
		{
			ID:        uuid.New().String(),
			OrderID:   order.ID,
			Status:    models.OrderStatusCreated,
			ChangedBy: models.StringPtr(order.CustomerID),
			CreatedAt: now,
		},
		{
			ID:        uuid.New().String(),
			OrderID:   order.ID,
			Status:    models.OrderStatusPendingVerification,
			Note:      models.StringPtr("awaiting admin verification"),
			CreatedAt: now,
		},
	}

	if err := s.repo.CreateOrder(ctx, order, history); err != nil {
		if errors.Is(err, models.ErrDuplicateOrder) && req.IdempotencyKey != "" {
			// lost a race with a concurrent request carrying the same key
			existing, getErr := s.repo.GetOrderByIdempotencyKey(ctx, req.IdempotencyKey)
			if getErr == nil && existing != nil {
				return existing, nil
			}
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	util.OrdersPlacedTotal.WithLabelValues(string(order.PaymentMethod)).Inc()
	s.logger.Info("Order placed", append(util.OrderFields(order.ID, string(order.Status)),
		zap.String("payment_method", string(order.PaymentMethod)),
		zap.String("total", order.Total.StringFixed(models.CurrencyPlaces)))...)

	if s.cache != nil && req.IdempotencyKey != "" {
		if err := s.cache.SetIdempotencyKey(ctx, req.IdempotencyKey, order.ID, s.cfg.IdempotencyTTL); err != nil {
			s.logger.Warn("Failed to cache idempotency key", zap.Error(err))
		}
	}

	s.publishPlaced(ctx, order)
	return order, nil
}

func (s *OrderService) buildOrder(req *PlaceOrderRequest) (*models.Order, error) {
	method := models.PaymentMethod(req.PaymentMethod)
	if !method.Valid() {
		return nil, fmt.Errorf("%w: unknown payment method %q", models.ErrInvalidOrder, req.PaymentMethod)
	}
	if req.CustomerID == "" || req.SellerID == "" {
		return nil, fmt.Errorf("%w: customer and seller are required", models.ErrInvalidOrder)
	}
	if err := req.DeliveryAddress.Validate(); err != nil {
		return nil, err
	}
	if len(req.Items) == 0 {
		return nil, fmt.Errorf("%w: order has no items", models.ErrInvalidOrder)
	}

	items := make(models.OrderItems, 0, len(req.Items))
	subtotal := decimal.Zero
	for i, it := range req.Items {
		if it.Quantity <= 0 {
			return nil, fmt.Errorf("%w: item %d quantity must be positive", models.ErrInvalidOrder, i)
		}
		if it.UnitPrice.IsNegative() {
			return nil, fmt.Errorf("%w: item %d unit price must not be negative", models.ErrInvalidOrder, i)
		}
		if !it.UnitPrice.Equal(it.UnitPrice.Round(models.CurrencyPlaces)) {
			return nil, fmt.Errorf("%w: item %d unit price has more than %d decimal places", models.ErrInvalidOrder, i, models.CurrencyPlaces)
		}
		item := models.OrderItem{
			ProductID: it.ProductID,
			Title:     it.Title,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			Unit:      it.Unit,
		}
		items = append(items, item)
		subtotal = subtotal.Add(item.LineTotal())
	}

	now := s.now()
	order := &models.Order{
		ID:              uuid.New().String(),
		CustomerID:      req.CustomerID,
		SellerID:        req.SellerID,
		Items:           items,
		Subtotal:        subtotal,
		DeliveryCharges: s.cfg.DeliveryCharges,
		Total:           subtotal.Add(s.cfg.DeliveryCharges),
		PaymentMethod:   method,
		Status:          models.OrderStatusPendingVerification,
		DeliveryAddress: req.DeliveryAddress,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if method == models.PaymentMethodCOD {
		prepayment := models.PrepaymentFor(order.Total)
		order.PrepaymentAmount = &prepayment
	}
	if req.IdempotencyKey != "" {
		order.IdempotencyKey = models.StringPtr(req.IdempotencyKey)
	}
	order.PaymentStatus = lifecycle.ProjectPaymentStatus(order, nil)

	if err := order.Validate(); err != nil {
		return nil, err
	}
	return order, nil
}

func (s *OrderService) findByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	if s.cache != nil {
		orderID, err := s.cache.GetIdempotencyKey(ctx, key)
		if err != nil {
			s.logger.Warn("Idempotency cache lookup failed", zap.Error(err))
		} else if orderID != "" {
			order, err := s.repo.GetOrderByID(ctx, orderID)
			if err == nil {
				return order, nil
			}
			if !errors.Is(err, models.ErrOrderNotFound) {
				return nil, err
			}
		}
	}
	return s.repo.GetOrderByIdempotencyKey(ctx, key)
}

func (s *OrderService) publishPlaced(ctx context.Context, order *models.Order) {
	if s.publisher == nil {
		return
	}

	event := &models.OrderPlacedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderPlaced,
			Timestamp: s.now(),
		},
		OrderID:       order.ID,
		CustomerID:    order.CustomerID,
		SellerID:      order.SellerID,
		Total:         order.Total,
		PaymentMethod: order.PaymentMethod,
		Items:         order.Items,
	}

	if err := s.publisher.PublishOrderPlaced(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderPlaced event",
			zap.String("order_id", order.ID), zap.Error(err))
	}
}

// GetOrder retrieves an order by ID
func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	ctx, span := util.StartOrderSpan(ctx, "OrderService.GetOrder", orderID)
	defer span.End()

	return s.repo.GetOrderByID(ctx, orderID)
}

// ListOrdersByStatus returns orders in any of statuses, newest first.
// An empty list means the admin verification queue.
func (s *OrderService) ListOrdersByStatus(ctx context.Context, statuses []models.OrderStatus) ([]models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ListOrdersByStatus")
	defer span.End()

	if len(statuses) == 0 {
		statuses = DefaultQueueStatuses
	}
	for _, st := range statuses {
		if !st.Valid() {
			return nil, fmt.Errorf("%w: unknown status %q", models.ErrInvalidOrder, st)
		}
	}
	return s.repo.GetOrdersByStatus(ctx, statuses)
}

// AdminQueue returns the verification queue annotated with what an admin can do next
func (s *OrderService) AdminQueue(ctx context.Context, statuses []models.OrderStatus) ([]QueueEntry, error) {
	orders, err := s.ListOrdersByStatus(ctx, statuses)
	if err != nil {
		return nil, err
	}

	entries := make([]QueueEntry, 0, len(orders))
	for _, o := range orders {
		actions := lifecycle.AllowedActions(o.Status, lifecycle.RoleAdmin)
		if actions == nil {
			actions = []lifecycle.Action{}
		}
		entries = append(entries, QueueEntry{
			Order:          o,
			ContactWarning: s.cfg.ContactAttemptsWarn > 0 && o.ContactAttempts >= s.cfg.ContactAttemptsWarn,
			AllowedActions: actions,
		})
	}
	return entries, nil
}

// ListOrdersByCustomer returns a customer's orders, newest first
func (s *OrderService) ListOrdersByCustomer(ctx context.Context, customerID string) ([]models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ListOrdersByCustomer")
	defer span.End()

	return s.repo.GetOrdersByCustomerID(ctx, customerID)
}

// ListOrdersBySeller returns a seller's orders, newest first
func (s *OrderService) ListOrdersBySeller(ctx context.Context, sellerID string) ([]models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ListOrdersBySeller")
	defer span.End()

	return s.repo.GetOrdersBySellerID(ctx, sellerID)
}

// GetHistory returns the audit trail of an order, oldest first
func (s *OrderService) GetHistory(ctx context.Context, orderID string) ([]models.OrderStateHistory, error) {
	ctx, span := util.StartOrderSpan(ctx, "OrderService.GetHistory", orderID)
	defer span.End()

	if _, err := s.repo.GetOrderByID(ctx, orderID); err != nil {
		return nil, err
	}
	return s.repo.GetOrderHistory(ctx, orderID)
}
