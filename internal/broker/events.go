package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"workshop-service/internal/models"
	"workshop-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

func workshopKey(workshopID int64) string {
	return fmt.Sprintf("workshop-%d", workshopID)
}

// PublishRegistrationInitiated publishes RegistrationInitiated event
func (ep *EventPublisher) PublishRegistrationInitiated(ctx context.Context, event *models.RegistrationInitiatedEvent) error {
	return ep.producer.PublishEvent(ctx, workshopKey(event.WorkshopID), event.EventType, event)
}

// PublishRegistrationConfirmed publishes RegistrationConfirmed event
func (ep *EventPublisher) PublishRegistrationConfirmed(ctx context.Context, event *models.RegistrationConfirmedEvent) error {
	return ep.producer.PublishEvent(ctx, workshopKey(event.WorkshopID), event.EventType, event)
}

// PublishPaymentCaptured publishes PaymentCaptured event
func (ep *EventPublisher) PublishPaymentCaptured(ctx context.Context, event *models.PaymentCapturedEvent) error {
	return ep.producer.PublishEvent(ctx, workshopKey(event.WorkshopID), event.EventType, event)
}

// PublishPaymentFailed publishes PaymentFailed event
func (ep *EventPublisher) PublishPaymentFailed(ctx context.Context, event *models.PaymentFailedEvent) error {
	return ep.producer.PublishEvent(ctx, workshopKey(event.WorkshopID), event.EventType, event)
}

// PublishWorkshopsClosed publishes WorkshopsClosed event
func (ep *EventPublisher) PublishWorkshopsClosed(ctx context.Context, event *models.WorkshopsClosedEvent) error {
	return ep.producer.PublishEvent(ctx, "workshops-closed", event.EventType, event)
}

// EventHandler handles incoming events
type EventHandler struct {
	onPaymentCaptured       func(context.Context, *models.PaymentCapturedEvent) error
	onRegistrationConfirmed func(context.Context, *models.RegistrationConfirmedEvent) error
	logger                  *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnPaymentCaptured registers a handler for PaymentCaptured events
func (eh *EventHandler) OnPaymentCaptured(handler func(context.Context, *models.PaymentCapturedEvent) error) {
	eh.onPaymentCaptured = handler
}

// OnRegistrationConfirmed registers a handler for RegistrationConfirmed events
func (eh *EventHandler) OnRegistrationConfirmed(handler func(context.Context, *models.RegistrationConfirmedEvent) error) {
	eh.onRegistrationConfirmed = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Debug("Handling event",
		zap.String("event_type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypePaymentCaptured:
		if eh.onPaymentCaptured != nil {
			var event models.PaymentCapturedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal PaymentCaptured event: %w", err)
			}
			return eh.onPaymentCaptured(ctx, &event)
		}

	case models.EventTypeRegistrationConfirmed:
		if eh.onRegistrationConfirmed != nil {
			var event models.RegistrationConfirmedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal RegistrationConfirmed event: %w", err)
			}
			return eh.onRegistrationConfirmed(ctx, &event)
		}

	default:
		eh.logger.Debug("Unhandled event type", zap.String("event_type", baseEvent.EventType))
	}

	return nil
}
