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

// PaymentService records processor-reported payments and keeps the order's
// payment status in step with them
type PaymentService struct {
	repo      Repository
	publisher EventPublisher
	now       func() time.Time
	logger    *zap.Logger
}

// NewPaymentService creates a new payment service
func NewPaymentService(repo Repository, publisher EventPublisher) *PaymentService {
	return &PaymentService{
		repo:      repo,
		publisher: publisher,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    util.GetLogger(),
	}
}

// RecordPaymentRequest represents a payment reported for an order
type RecordPaymentRequest struct {
	ProviderID string                 `json:"provider_id"`
	Amount     decimal.Decimal        `json:"amount"`
	Status     string                 `json:"status" binding:"required"`
	Type       string                 `json:"type" binding:"required"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// RecordPayment stores a payment and re-projects the order's payment status in
// the same transaction
func (ps *PaymentService) RecordPayment(ctx context.Context, orderID string, req *RecordPaymentRequest) (*models.Payment, *models.Order, error) {
	return ps.recordPayment(ctx, orderID, req, nil)
}

func (ps *PaymentService) recordPayment(ctx context.Context, orderID string, req *RecordPaymentRequest, source *models.BaseEvent) (*models.Payment, *models.Order, error) {
	ctx, span := util.StartOrderSpan(ctx, "PaymentService.RecordPayment", orderID)
	defer span.End()

	order, err := ps.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}

	payment, err := ps.buildPayment(order, req)
	if err != nil {
		return nil, nil, err
	}

	existing, err := ps.repo.GetPaymentsByOrderID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}

	next := order.Clone()
	next.PaymentStatus = lifecycle.ProjectPaymentStatus(next, append(existing, *payment))
	next.UpdatedAt = payment.CreatedAt

	if err := ps.repo.RecordPayment(ctx, payment, next, order.Version, source); err != nil {
		span.RecordError(err)
		return nil, nil, fmt.Errorf("failed to record payment: %w", err)
	}

	util.PaymentsRecordedTotal.WithLabelValues(string(payment.Type), string(payment.Status)).Inc()
	ps.logger.Info("Payment recorded",
		zap.String("order_id", orderID),
		zap.String("payment_id", payment.ID),
		zap.String("type", string(payment.Type)),
		zap.String("status", string(payment.Status)),
		zap.String("amount", payment.Amount.StringFixed(models.CurrencyPlaces)),
		zap.String("payment_status", string(next.PaymentStatus)))

	if next.PaymentStatus != order.PaymentStatus {
		ps.publishPaymentStatusChanged(ctx, orderID, order.PaymentStatus, next.PaymentStatus)
	}

	return payment, next, nil
}

func (ps *PaymentService) buildPayment(order *models.Order, req *RecordPaymentRequest) (*models.Payment, error) {
	status := models.PaymentRecordStatus(req.Status)
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", models.ErrInvalidPayment, req.Status)
	}
	typ := models.PaymentType(req.Type)
	if !typ.Valid() {
		return nil, fmt.Errorf("%w: unknown type %q", models.ErrInvalidPayment, req.Type)
	}
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", models.ErrInvalidPayment)
	}
	if !req.Amount.Equal(req.Amount.Round(models.CurrencyPlaces)) {
		return nil, fmt.Errorf("%w: amount has more than %d decimal places", models.ErrInvalidPayment, models.CurrencyPlaces)
	}

	switch typ {
	case models.PaymentTypeFull:
		if order.PaymentMethod != models.PaymentMethodOnline {
			return nil, fmt.Errorf("%w: full payment on a %s order", models.ErrInvalidPayment, order.PaymentMethod)
		}
	case models.PaymentTypePrepayment, models.PaymentTypeSettlement:
		if order.PaymentMethod != models.PaymentMethodCOD {
			return nil, fmt.Errorf("%w: %s payment on a %s order", models.ErrInvalidPayment, typ, order.PaymentMethod)
		}
	}

	now := ps.now()
	payment := &models.Payment{
		ID:        uuid.New().String(),
		OrderID:   order.ID,
		Amount:    req.Amount,
		Status:    status,
		Type:      typ,
		Metadata:  req.Metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if req.ProviderID != "" {
		payment.ProviderID = models.StringPtr(req.ProviderID)
	}
	return payment, nil
}

// ListPayments returns the payments of an order, oldest first
func (ps *PaymentService) ListPayments(ctx context.Context, orderID string) ([]models.Payment, error) {
	ctx, span := util.StartOrderSpan(ctx, "PaymentService.ListPayments", orderID)
	defer span.End()

	if _, err := ps.repo.GetOrderByID(ctx, orderID); err != nil {
		return nil, err
	}
	return ps.repo.GetPaymentsByOrderID(ctx, orderID)
}

// HandlePaymentRecorded records a payment event once
func (ps *PaymentService) HandlePaymentRecorded(ctx context.Context, event *models.PaymentRecordedEvent) error {
	processed, err := ps.repo.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return fmt.Errorf("failed to check event processed: %w", err)
	}
	if processed {
		ps.logger.Info("Event already processed", zap.String("event_id", event.EventID))
		return nil
	}

	_, _, err = ps.recordPayment(ctx, event.OrderID, &RecordPaymentRequest{
		ProviderID: event.ProviderID,
		Amount:     event.Amount,
		Status:     string(event.Status),
		Type:       string(event.Type),
		Metadata:   event.Metadata,
	}, &event.BaseEvent)
	switch {
	case err == nil:
		// marked processed together with the payment
		return nil
	case errors.Is(err, models.ErrEventProcessed):
		ps.logger.Info("Event already processed", zap.String("event_id", event.EventID))
		return nil
	case errors.Is(err, models.ErrInvalidPayment), errors.Is(err, models.ErrOrderNotFound):
		ps.logger.Warn("Dropping payment event",
			zap.String("event_id", event.EventID),
			zap.String("order_id", event.OrderID),
			zap.Error(err))
	default:
		return err
	}

	if err := ps.repo.MarkEventProcessed(ctx, event.EventID, event.EventType); err != nil {
		ps.logger.Error("Failed to mark event processed", zap.Error(err))
	}
	return nil
}

func (ps *PaymentService) publishPaymentStatusChanged(ctx context.Context, orderID string, from, to models.PaymentStatus) {
	if ps.publisher == nil {
		return
	}

	event := &models.PaymentStatusChangedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypePaymentStatusChanged,
			Timestamp: ps.now(),
		},
		OrderID:    orderID,
		FromStatus: from,
		ToStatus:   to,
	}

	if err := ps.publisher.PublishPaymentStatusChanged(ctx, event); err != nil {
		ps.logger.Error("Failed to publish PaymentStatusChanged event",
			zap.String("order_id", orderID), zap.Error(err))
	}
}
