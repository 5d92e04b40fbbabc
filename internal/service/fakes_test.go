package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"material-orders/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

// memRepo is an in-memory Repository with the same version-check semantics as
// the Postgres store
type memRepo struct {
	mu        sync.Mutex
	orders    map[string]*models.Order
	history   map[string][]models.OrderStateHistory
	payments  map[string][]models.Payment
	processed map[string]string

	// readBarrier, when set, holds every GetOrderByID until all readers arrived
	readBarrier *sync.WaitGroup
	saveErr     error
	createErr   error
	markErr     error
}

func newMemRepo() *memRepo {
	return &memRepo{
		orders:    map[string]*models.Order{},
		history:   map[string][]models.OrderStateHistory{},
		payments:  map[string][]models.Payment{},
		processed: map[string]string{},
	}
}

func (r *memRepo) put(order *models.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders[order.ID] = order.Clone()
}

func (r *memRepo) stored(id string) *models.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.orders[id].Clone()
}

func (r *memRepo) historyOf(id string) []models.OrderStateHistory {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.OrderStateHistory(nil), r.history[id]...)
}

func (r *memRepo) CreateOrder(_ context.Context, order *models.Order, history []models.OrderStateHistory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	if order.IdempotencyKey != nil {
		for _, o := range r.orders {
			if o.IdempotencyKey != nil && *o.IdempotencyKey == *order.IdempotencyKey {
				return models.ErrDuplicateOrder
			}
		}
	}
	r.orders[order.ID] = order.Clone()
	r.history[order.ID] = append(r.history[order.ID], history...)
	return nil
}

func (r *memRepo) GetOrderByID(_ context.Context, id string) (*models.Order, error) {
	if r.readBarrier != nil {
		r.readBarrier.Done()
		r.readBarrier.Wait()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, models.ErrOrderNotFound
	}
	return o.Clone(), nil
}

func (r *memRepo) GetOrderByIdempotencyKey(_ context.Context, key string) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		if o.IdempotencyKey != nil && *o.IdempotencyKey == key {
			return o.Clone(), nil
		}
	}
	return nil, nil
}

func (r *memRepo) checkVersion(order *models.Order, expectedVersion int64) error {
	current, ok := r.orders[order.ID]
	if !ok {
		return models.ErrOrderNotFound
	}
	if current.Version != expectedVersion {
		return models.ErrVersionConflict
	}
	return nil
}

func (r *memRepo) SaveOrder(_ context.Context, order *models.Order, expectedVersion int64, entry *models.OrderStateHistory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkVersion(order, expectedVersion); err != nil {
		return err
	}
	if r.saveErr != nil {
		return r.saveErr
	}
	order.Version = expectedVersion + 1
	r.orders[order.ID] = order.Clone()
	if entry != nil {
		r.history[order.ID] = append(r.history[order.ID], *entry)
	}
	return nil
}

func (r *memRepo) filter(keep func(*models.Order) bool) []models.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []models.Order{}
	for _, o := range r.orders {
		if keep(o) {
			out = append(out, *o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (r *memRepo) GetOrdersByStatus(_ context.Context, statuses []models.OrderStatus) ([]models.Order, error) {
	return r.filter(func(o *models.Order) bool {
		for _, s := range statuses {
			if o.Status == s {
				return true
			}
		}
		return false
	}), nil
}

func (r *memRepo) GetOrdersByCustomerID(_ context.Context, customerID string) ([]models.Order, error) {
	return r.filter(func(o *models.Order) bool { return o.CustomerID == customerID }), nil
}

func (r *memRepo) GetOrdersBySellerID(_ context.Context, sellerID string) ([]models.Order, error) {
	return r.filter(func(o *models.Order) bool { return o.SellerID == sellerID }), nil
}

func (r *memRepo) GetOrderHistory(_ context.Context, orderID string) ([]models.OrderStateHistory, error) {
	return r.historyOf(orderID), nil
}

func (r *memRepo) RecordPayment(_ context.Context, payment *models.Payment, order *models.Order, expectedVersion int64, source *models.BaseEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if source != nil {
		if _, ok := r.processed[source.EventID]; ok {
			return models.ErrEventProcessed
		}
	}
	if err := r.checkVersion(order, expectedVersion); err != nil {
		return err
	}
	if r.saveErr != nil {
		return r.saveErr
	}
	if source != nil {
		r.processed[source.EventID] = source.EventType
	}
	order.Version = expectedVersion + 1
	r.orders[order.ID] = order.Clone()
	r.payments[order.ID] = append(r.payments[order.ID], *payment)
	return nil
}

func (r *memRepo) GetPaymentsByOrderID(_ context.Context, orderID string) ([]models.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Payment{}, r.payments[orderID]...), nil
}

func (r *memRepo) IsEventProcessed(_ context.Context, eventID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.processed[eventID]
	return ok, nil
}

func (r *memRepo) MarkEventProcessed(_ context.Context, eventID, eventType string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.markErr != nil {
		return r.markErr
	}
	r.processed[eventID] = eventType
	return nil
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error {
	return m.Called(ctx, event).Error(0)
}

func (m *mockPublisher) PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error {
	return m.Called(ctx, event).Error(0)
}

func (m *mockPublisher) PublishPaymentStatusChanged(ctx context.Context, event *models.PaymentStatusChangedEvent) error {
	return m.Called(ctx, event).Error(0)
}

// quietPublisher accepts every event
func quietPublisher() *mockPublisher {
	p := &mockPublisher{}
	p.On("PublishOrderPlaced", mock.Anything, mock.Anything).Return(nil).Maybe()
	p.On("PublishOrderStatusChanged", mock.Anything, mock.Anything).Return(nil).Maybe()
	p.On("PublishPaymentStatusChanged", mock.Anything, mock.Anything).Return(nil).Maybe()
	return p
}

type mockLocker struct {
	mock.Mock
}

func (m *mockLocker) AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	args := m.Called(ctx, key, ttl)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *mockLocker) ReleaseLock(ctx context.Context, key, token string) error {
	return m.Called(ctx, key, token).Error(0)
}

type memCache struct {
	mu   sync.Mutex
	keys map[string]string
}

func (c *memCache) GetIdempotencyKey(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.keys[key], nil
}

func (c *memCache) SetIdempotencyKey(_ context.Context, key string, value interface{}, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.keys == nil {
		c.keys = map[string]string{}
	}
	c.keys[key] = value.(string)
	return nil
}

var fixedNow = time.Date(2026, 10, 1, 10, 0, 0, 0, time.UTC)

func testOrder(id string, status models.OrderStatus, method models.PaymentMethod) *models.Order {
	subtotal := decimal.RequireFromString("1000.00")
	delivery := decimal.RequireFromString("50.00")
	o := &models.Order{
		ID:         id,
		CustomerID: "cust-1",
		SellerID:   "seller-1",
		Items: models.OrderItems{{
			ProductID: "cement-opc-53",
			Title:     "OPC 53 cement",
			Quantity:  4,
			UnitPrice: decimal.RequireFromString("250.00"),
			Unit:      "bag",
		}},
		Subtotal:        subtotal,
		DeliveryCharges: delivery,
		Total:           subtotal.Add(delivery),
		PaymentMethod:   method,
		Status:          status,
		PaymentStatus:   models.PaymentStatusPending,
		DeliveryAddress: models.DeliveryAddress{Line1: "12 Site Rd", City: "Pune", State: "MH", PinCode: "411001"},
		Version:         1,
		CreatedAt:       fixedNow.Add(-time.Hour),
		UpdatedAt:       fixedNow.Add(-time.Hour),
	}
	if method == models.PaymentMethodCOD {
		prepay := models.PrepaymentFor(o.Total)
		o.PrepaymentAmount = &prepay
		o.PaymentStatus = models.PaymentStatusPartialPending
	}
	return o
}
