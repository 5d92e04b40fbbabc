package broker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"material-orders/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockWriter struct {
	mock.Mock
}

func (m *mockWriter) PublishEvent(ctx context.Context, key string, event interface{}) error {
	args := m.Called(ctx, key, event)
	return args.Error(0)
}

func TestEventPublisher_KeysByOrder(t *testing.T) {
	w := &mockWriter{}
	ep := NewEventPublisher(w)

	changed := &models.OrderStatusChangedEvent{OrderID: "abc"}
	w.On("PublishEvent", mock.Anything, "order-abc", changed).Return(nil).Once()

	require.NoError(t, ep.PublishOrderStatusChanged(context.Background(), changed))
	w.AssertExpectations(t)
}

func message(t *testing.T, event interface{}) kafka.Message {
	t.Helper()
	data, err := json.Marshal(event)
	require.NoError(t, err)
	return kafka.Message{Value: data}
}

func TestEventHandler_RoutesPaymentRecorded(t *testing.T) {
	eh := NewEventHandler()

	var got *models.PaymentRecordedEvent
	eh.OnPaymentRecorded(func(_ context.Context, e *models.PaymentRecordedEvent) error {
		got = e
		return nil
	})
	eh.OnFulfillmentUpdated(func(context.Context, *models.FulfillmentUpdatedEvent) error {
		t.Fatal("fulfilment handler must not run")
		return nil
	})

	event := models.PaymentRecordedEvent{
		BaseEvent: models.BaseEvent{EventID: "e-1", EventType: models.EventTypePaymentRecorded, Timestamp: time.Now()},
		OrderID:   "o-1",
		Amount:    decimal.RequireFromString("210.00"),
		Status:    models.PaymentRecordSucceeded,
		Type:      models.PaymentTypePrepayment,
	}

	require.NoError(t, eh.HandleMessage(context.Background(), message(t, event)))
	require.NotNil(t, got)
	assert.Equal(t, "o-1", got.OrderID)
	assert.True(t, got.Amount.Equal(decimal.RequireFromString("210")))
	assert.Equal(t, models.PaymentTypePrepayment, got.Type)
}

func TestEventHandler_RoutesFulfillment(t *testing.T) {
	eh := NewEventHandler()

	var got *models.FulfillmentUpdatedEvent
	eh.OnFulfillmentUpdated(func(_ context.Context, e *models.FulfillmentUpdatedEvent) error {
		got = e
		return nil
	})

	event := models.FulfillmentUpdatedEvent{
		BaseEvent: models.BaseEvent{EventID: "e-2", EventType: models.EventTypeFulfillmentUpdated},
		OrderID:   "o-9",
		Status:    models.OrderStatusDelivered,
		ActorID:   "courier-1",
	}

	require.NoError(t, eh.HandleMessage(context.Background(), message(t, event)))
	require.NotNil(t, got)
	assert.Equal(t, models.OrderStatusDelivered, got.Status)
}

func TestEventHandler_IgnoresUnknownAndRejectsGarbage(t *testing.T) {
	eh := NewEventHandler()

	unknown := models.BaseEvent{EventID: "e-3", EventType: "SOMETHING_ELSE"}
	assert.NoError(t, eh.HandleMessage(context.Background(), message(t, unknown)))

	err := eh.HandleMessage(context.Background(), kafka.Message{Value: []byte("not json")})
	assert.ErrorIs(t, err, ErrMalformedEvent)
}
