package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cart-service/internal/models"
	"cart-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

func cartKey(cartID int64) string {
	return fmt.Sprintf("cart-%d", cartID)
}

// EventPublisher handles publishing cart events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishCartTotalsUpdated publishes CartTotalsUpdated event
func (ep *EventPublisher) PublishCartTotalsUpdated(ctx context.Context, event *models.CartTotalsUpdatedEvent) error {
	return ep.producer.PublishEvent(ctx, cartKey(event.CartID), event)
}

// PublishCartCompleted publishes CartCompleted event
func (ep *EventPublisher) PublishCartCompleted(ctx context.Context, event *models.CartCompletedEvent) error {
	return ep.producer.PublishEvent(ctx, cartKey(event.CartID), event)
}

// PublishCartExpired publishes CartExpired event
func (ep *EventPublisher) PublishCartExpired(ctx context.Context, event *models.CartExpiredEvent) error {
	return ep.producer.PublishEvent(ctx, cartKey(event.CartID), event)
}

// EventHandler handles incoming events
type EventHandler struct {
	onCheckoutCompleted func(context.Context, *models.CheckoutCompletedEvent) error
	logger              *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnCheckoutCompleted registers a handler for CheckoutCompleted events
func (eh *EventHandler) OnCheckoutCompleted(handler func(context.Context, *models.CheckoutCompletedEvent) error) {
	eh.onCheckoutCompleted = handler
}

// HandleMessage routes messages to appropriate handlers. Payloads that do not
// decode, and handler errors no retry can fix, are reported as
// ErrUnprocessable.
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("%w: failed to unmarshal base event: %v", ErrUnprocessable, err)
	}

	eh.logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeCheckoutCompleted:
		if eh.onCheckoutCompleted != nil {
			var event models.CheckoutCompletedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("%w: failed to unmarshal CheckoutCompleted event: %v", ErrUnprocessable, err)
			}
			if event.EventID == "" {
				return fmt.Errorf("%w: %w: CheckoutCompleted event without event_id", ErrUnprocessable, models.ErrInvalidInput)
			}
			return permanentAsUnprocessable(eh.onCheckoutCompleted(ctx, &event))
		}

	default:
		eh.logger.Debug("Unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}

// permanentAsUnprocessable tags errors that name a cart which cannot be
// settled by retrying, such as an unknown cart or one owned by someone else.
func permanentAsUnprocessable(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, models.ErrCartNotFound) ||
		errors.Is(err, models.ErrInvalidCartID) ||
		errors.Is(err, models.ErrInvalidInput) {
		return fmt.Errorf("%w: %w", ErrUnprocessable, err)
	}
	return err
}
