package worker

import (
	"context"
	"errors"
	"time"

	"material-orders/internal/broker"
	"material-orders/internal/models"
	"material-orders/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	conflictAttempts = 3
	conflictBackoff  = 50 * time.Millisecond
)

// MessageSource is the part of broker.Consumer a worker drives
type MessageSource interface {
	StartConsuming(ctx context.Context, handler broker.MessageHandler) error
	Close() error
}

// PaymentRecorder applies processor payment events
type PaymentRecorder interface {
	HandlePaymentRecorded(ctx context.Context, event *models.PaymentRecordedEvent) error
}

// FulfillmentAdvancer applies delivery progress events
type FulfillmentAdvancer interface {
	HandleFulfillmentUpdated(ctx context.Context, event *models.FulfillmentUpdatedEvent) error
}

// PaymentWorker consumes PAYMENT_RECORDED events
type PaymentWorker struct {
	consumer MessageSource
	handler  *broker.EventHandler
	logger   *zap.Logger
}

// NewPaymentWorker creates a new payment worker
func NewPaymentWorker(consumer MessageSource, payments PaymentRecorder) *PaymentWorker {
	logger := util.GetLogger().With(zap.String("worker", "payment"))

	handler := broker.NewEventHandler()
	handler.OnPaymentRecorded(func(ctx context.Context, e *models.PaymentRecordedEvent) error {
		return retryOnConflict(ctx, logger, func() error {
			return payments.HandlePaymentRecorded(ctx, e)
		})
	})

	return &PaymentWorker{consumer: consumer, handler: handler, logger: logger}
}

// Start starts the payment worker
func (w *PaymentWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting payment worker")
	return w.consumer.StartConsuming(ctx, w.Handle)
}

// Handle processes a single message. A returned error leaves the message
// uncommitted so the consumer handles it again.
func (w *PaymentWorker) Handle(ctx context.Context, msg kafka.Message) error {
	return dispatch(ctx, w.logger, w.handler, msg)
}

// Stop stops the payment worker
func (w *PaymentWorker) Stop() error {
	w.logger.Info("Stopping payment worker")
	return w.consumer.Close()
}

// FulfillmentWorker consumes FULFILLMENT_UPDATED events
type FulfillmentWorker struct {
	consumer MessageSource
	handler  *broker.EventHandler
	logger   *zap.Logger
}

// NewFulfillmentWorker creates a new fulfilment worker
func NewFulfillmentWorker(consumer MessageSource, lifecycle FulfillmentAdvancer) *FulfillmentWorker {
	logger := util.GetLogger().With(zap.String("worker", "fulfillment"))

	handler := broker.NewEventHandler()
	handler.OnFulfillmentUpdated(func(ctx context.Context, e *models.FulfillmentUpdatedEvent) error {
		return retryOnConflict(ctx, logger, func() error {
			return lifecycle.HandleFulfillmentUpdated(ctx, e)
		})
	})

	return &FulfillmentWorker{consumer: consumer, handler: handler, logger: logger}
}

// Start starts the fulfilment worker
func (w *FulfillmentWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting fulfillment worker")
	return w.consumer.StartConsuming(ctx, w.Handle)
}

// Handle processes a single message
func (w *FulfillmentWorker) Handle(ctx context.Context, msg kafka.Message) error {
	return dispatch(ctx, w.logger, w.handler, msg)
}

// Stop stops the fulfilment worker
func (w *FulfillmentWorker) Stop() error {
	w.logger.Info("Stopping fulfillment worker")
	return w.consumer.Close()
}

// dispatch routes msg and drops it only when it can never be decoded.
// Storage failures and lost version checks are returned to the consumer.
func dispatch(ctx context.Context, logger *zap.Logger, handler *broker.EventHandler, msg kafka.Message) error {
	err := handler.HandleMessage(ctx, msg)
	if errors.Is(err, broker.ErrMalformedEvent) {
		logger.Error("Dropping malformed message",
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Error(err))
		return nil
	}
	return err
}

// retryOnConflict re-runs fn a few times while it loses optimistic concurrency
// races. Past that the consumer's slower redelivery takes over.
func retryOnConflict(ctx context.Context, logger *zap.Logger, fn func() error) error {
	var err error
	for attempt := 1; attempt <= conflictAttempts; attempt++ {
		err = fn()
		if err == nil || !errors.Is(err, models.ErrVersionConflict) {
			return err
		}

		logger.Debug("Version conflict, retrying", zap.Int("attempt", attempt), zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * conflictBackoff):
		}
	}
	return err
}
