package broker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"venue-orders/internal/models"
)

type mockWriter struct {
	mock.Mock
}

func (m *mockWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	args := m.Called(ctx, msgs)
	return args.Error(0)
}

func (m *mockWriter) Close() error {
	return m.Called().Error(0)
}

func TestPublishStatusChanged_KeyedByOrder(t *testing.T) {
	writer := &mockWriter{}
	var written []kafka.Message
	writer.On("WriteMessages", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { written = args.Get(1).([]kafka.Message) }).
		Return(nil)

	publisher := NewEventPublisher(NewProducerWithWriter(writer))
	event := &models.StatusChangedEvent{
		BaseEvent: models.BaseEvent{EventID: "evt-1", EventType: models.EventTypeOrderStatusChanged},
		OrderID:   "o-42",
		NewStatus: models.OrderStatusReady,
		Version:   3,
	}
	require.NoError(t, publisher.PublishStatusChanged(context.Background(), event))

	require.Len(t, written, 1)
	assert.Equal(t, "order-o-42", string(written[0].Key))

	var decoded models.StatusChangedEvent
	require.NoError(t, json.Unmarshal(written[0].Value, &decoded))
	assert.Equal(t, models.OrderStatusReady, decoded.NewStatus)
	assert.Equal(t, int64(3), decoded.Version)
}

func TestPublishStatusChanged_WrapsWriterError(t *testing.T) {
	writer := &mockWriter{}
	boom := errors.New("leader not available")
	writer.On("WriteMessages", mock.Anything, mock.Anything).Return(boom)

	publisher := NewEventPublisher(NewProducerWithWriter(writer))
	err := publisher.PublishStatusChanged(context.Background(), &models.StatusChangedEvent{OrderID: "o-1"})
	assert.ErrorIs(t, err, boom)
}

func message(t *testing.T, event interface{}) kafka.Message {
	t.Helper()
	value, err := json.Marshal(event)
	require.NoError(t, err)
	return kafka.Message{Value: value}
}

func TestHandleMessage_RoutesByType(t *testing.T) {
	handler := NewEventHandler()
	var completed, failed []string
	handler.OnPaymentCompleted(func(_ context.Context, e *models.PaymentCompletedEvent) error {
		completed = append(completed, e.OrderID)
		return nil
	})
	handler.OnPaymentFailed(func(_ context.Context, e *models.PaymentFailedEvent) error {
		failed = append(failed, e.OrderID)
		return nil
	})
	ctx := context.Background()

	require.NoError(t, handler.HandleMessage(ctx, message(t, models.PaymentCompletedEvent{
		BaseEvent: models.BaseEvent{EventID: "e1", EventType: models.EventTypePaymentCompleted},
		OrderID:   "o-1",
		ActorRole: models.RoleSystem,
	})))
	require.NoError(t, handler.HandleMessage(ctx, message(t, models.PaymentFailedEvent{
		BaseEvent: models.BaseEvent{EventID: "e2", EventType: models.EventTypePaymentFailed},
		OrderID:   "o-2",
	})))
	require.NoError(t, handler.HandleMessage(ctx, message(t, models.StatusChangedEvent{
		BaseEvent: models.BaseEvent{EventID: "e3", EventType: models.EventTypeOrderStatusChanged},
		OrderID:   "o-3",
	})))

	assert.Equal(t, []string{"o-1"}, completed)
	assert.Equal(t, []string{"o-2"}, failed)
}

func TestHandleMessage_SkipsMalformed(t *testing.T) {
	handler := NewEventHandler()
	called := false
	handler.OnPaymentCompleted(func(context.Context, *models.PaymentCompletedEvent) error {
		called = true
		return nil
	})

	assert.NoError(t, handler.HandleMessage(context.Background(), kafka.Message{Value: []byte("{not json")}))
	assert.NoError(t, handler.HandleMessage(context.Background(), message(t, models.PaymentCompletedEvent{
		BaseEvent: models.BaseEvent{EventID: "e1", EventType: models.EventTypePaymentCompleted},
	})))
	assert.False(t, called)
}

func TestHandleMessage_PropagatesHandlerError(t *testing.T) {
	handler := NewEventHandler()
	handler.OnPaymentCompleted(func(context.Context, *models.PaymentCompletedEvent) error {
		return models.ErrBusy
	})

	err := handler.HandleMessage(context.Background(), message(t, models.PaymentCompletedEvent{
		BaseEvent: models.BaseEvent{EventID: "e1", EventType: models.EventTypePaymentCompleted},
		OrderID:   "o-1",
	}))
	assert.ErrorIs(t, err, models.ErrBusy)
}
