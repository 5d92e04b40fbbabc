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
	"go.uber.org/zap"
)

// LifecycleService is the only writer of order status
type LifecycleService struct {
	repo      Repository
	locker    OrderLocker
	publisher EventPublisher
	lockTTL   time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

// NewLifecycleService creates a new lifecycle service. locker may be nil, in
// which case the version check alone serialises writers.
func NewLifecycleService(
	repo Repository,
	locker OrderLocker,
	publisher EventPublisher,
	lockTTL time.Duration,
) *LifecycleService {
	return &LifecycleService{
		repo:      repo,
		locker:    locker,
		publisher: publisher,
		lockTTL:   lockTTL,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    util.GetLogger(),
	}
}

// ApplyTransition runs one verification step on an order.
// Errors: models.ErrOrderNotFound, lifecycle.ErrInvalidTransition,
// models.ErrVersionConflict, models.ErrStorageFailure.
func (s *LifecycleService) ApplyTransition(ctx context.Context, orderID string, action lifecycle.Action, actorID, note string) (*models.Order, error) {
	ctx, span := util.StartOrderSpan(ctx, "LifecycleService.ApplyTransition", orderID)
	defer span.End()

	start := time.Now()
	defer func() {
		util.OrderTransitionLatency.Observe(time.Since(start).Seconds())
	}()

	var (
		from    models.OrderStatus
		updated *models.Order
	)
	err := s.withOrderLock(ctx, orderID, func() error {
		order, err := s.repo.GetOrderByID(ctx, orderID)
		if err != nil {
			return err
		}
		from = order.Status

		t, err := lifecycle.Lookup(order.Status, action, lifecycle.RoleAdmin)
		if err != nil {
			return err
		}

		next := order.Clone()
		t.Apply(next, actorID, note, s.now())

		entry := s.historyEntry(next, actorID, note)
		if err := s.repo.SaveOrder(ctx, next, order.Version, entry); err != nil {
			return err
		}
		updated = next
		return nil
	})
	if err != nil {
		span.RecordError(err)
		s.rejected(orderID, string(action), err)
		return nil, err
	}

	util.OrderTransitionsTotal.WithLabelValues(string(action)).Inc()
	switch action {
	case lifecycle.ActionContactSeller:
		util.ContactAttemptsTotal.WithLabelValues("seller").Inc()
	case lifecycle.ActionContactBuyer:
		util.ContactAttemptsTotal.WithLabelValues("buyer").Inc()
	}

	s.logger.Info("Order transitioned",
		zap.String("order_id", orderID),
		zap.String("action", string(action)),
		zap.String("from", string(from)),
		zap.String("to", string(updated.Status)),
		zap.String("actor_id", actorID),
		zap.Int("contact_attempts", updated.ContactAttempts))

	s.publishStatusChanged(ctx, updated, string(action), from, actorID, note)
	return updated, nil
}

// AdvanceFulfillment moves a confirmed order forward along the delivery path.
// Regressions and repeats are rejected with lifecycle.ErrInvalidTransition.
func (s *LifecycleService) AdvanceFulfillment(ctx context.Context, orderID string, target models.OrderStatus, actorID, note string) (*models.Order, error) {
	ctx, span := util.StartOrderSpan(ctx, "LifecycleService.AdvanceFulfillment", orderID)
	defer span.End()

	action := lifecycle.FulfillmentAction(target)

	var (
		from    models.OrderStatus
		updated *models.Order
	)
	err := s.withOrderLock(ctx, orderID, func() error {
		order, err := s.repo.GetOrderByID(ctx, orderID)
		if err != nil {
			return err
		}
		from = order.Status

		if err := lifecycle.CheckFulfillment(order.Status, target); err != nil {
			return err
		}

		next := order.Clone()
		next.Status = target
		next.UpdatedAt = s.now()

		entry := s.historyEntry(next, actorID, note)
		if err := s.repo.SaveOrder(ctx, next, order.Version, entry); err != nil {
			return err
		}
		updated = next
		return nil
	})
	if err != nil {
		span.RecordError(err)
		s.rejected(orderID, action, err)
		return nil, err
	}

	util.OrderTransitionsTotal.WithLabelValues(action).Inc()
	s.logger.Info("Order fulfilment advanced",
		zap.String("order_id", orderID),
		zap.String("from", string(from)),
		zap.String("to", string(target)),
		zap.String("actor_id", actorID))

	s.publishStatusChanged(ctx, updated, action, from, actorID, note)
	return updated, nil
}

// HandleFulfillmentUpdated applies a fulfilment event once
func (s *LifecycleService) HandleFulfillmentUpdated(ctx context.Context, event *models.FulfillmentUpdatedEvent) error {
	processed, err := s.repo.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return fmt.Errorf("failed to check event processed: %w", err)
	}
	if processed {
		s.logger.Info("Event already processed", zap.String("event_id", event.EventID))
		return nil
	}

	_, err = s.AdvanceFulfillment(ctx, event.OrderID, event.Status, event.ActorID, event.Note)
	switch {
	case err == nil:
	case errors.Is(err, lifecycle.ErrInvalidTransition), errors.Is(err, models.ErrOrderNotFound):
		// replays and out-of-order deliveries cannot succeed later either
		s.logger.Warn("Dropping fulfilment event",
			zap.String("event_id", event.EventID),
			zap.String("order_id", event.OrderID),
			zap.Error(err))
	default:
		return err
	}

	if err := s.repo.MarkEventProcessed(ctx, event.EventID, event.EventType); err != nil {
		s.logger.Error("Failed to mark event processed", zap.Error(err))
	}
	return nil
}

// withOrderLock runs fn while holding the per-order lock when a locker is set.
// A lock held by someone else is reported as a retryable conflict.
func (s *LifecycleService) withOrderLock(ctx context.Context, orderID string, fn func() error) error {
	if s.locker == nil {
		return fn()
	}

	key := "order:" + orderID
	token, ok, err := s.locker.AcquireLock(ctx, key, s.lockTTL)
	if err != nil {
		s.logger.Warn("Order lock unavailable, relying on version check",
			zap.String("order_id", orderID), zap.Error(err))
		return fn()
	}
	if !ok {
		return fmt.Errorf("order %s is being modified: %w", orderID, models.ErrVersionConflict)
	}
	defer func() {
		if err := s.locker.ReleaseLock(context.WithoutCancel(ctx), key, token); err != nil {
			s.logger.Warn("Failed to release order lock", zap.String("order_id", orderID), zap.Error(err))
		}
	}()

	return fn()
}

func (s *LifecycleService) historyEntry(order *models.Order, actorID, note string) *models.OrderStateHistory {
	entry := &models.OrderStateHistory{
		ID:        uuid.New().String(),
		OrderID:   order.ID,
		Status:    order.Status,
		CreatedAt: order.UpdatedAt,
	}
	if actorID != "" {
		entry.ChangedBy = models.StringPtr(actorID)
	}
	if note != "" {
		entry.Note = models.StringPtr(note)
	}
	return entry
}

func (s *LifecycleService) rejected(orderID, action string, err error) {
	reason := "storage"
	switch {
	case errors.Is(err, models.ErrOrderNotFound):
		reason = "not_found"
	case errors.Is(err, lifecycle.ErrInvalidTransition):
		reason = "invalid_transition"
	case errors.Is(err, models.ErrVersionConflict):
		reason = "conflict"
	}
	util.OrderTransitionsRejected.WithLabelValues(reason).Inc()

	fields := []zap.Field{
		zap.String("order_id", orderID),
		zap.String("action", action),
		zap.Error(err),
	}
	if reason == "storage" {
		s.logger.Error("Transition failed", fields...)
		return
	}
	s.logger.Warn("Transition rejected", fields...)
}

func (s *LifecycleService) publishStatusChanged(ctx context.Context, order *models.Order, action string, from models.OrderStatus, actorID, note string) {
	if s.publisher == nil {
		return
	}

	event := &models.OrderStatusChangedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderStatusChanged,
			Timestamp: s.now(),
		},
		OrderID:         order.ID,
		Action:          action,
		FromStatus:      from,
		ToStatus:        order.Status,
		ActorID:         actorID,
		Note:            note,
		ContactAttempts: order.ContactAttempts,
	}

	if err := s.publisher.PublishOrderStatusChanged(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderStatusChanged event",
			zap.String("order_id", order.ID), zap.Error(err))
	}
}
