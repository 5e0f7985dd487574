package interfaces

import (
	"context"

	"github.com/superkabe/healthstack/dto"
)

type EventPublisher interface {
	PublishDeliveryEvent(ctx context.Context, event dto.DeliveryEventReceived) error
	PublishNotification(ctx context.Context, notification dto.HealthNotification)
	Close() error
}

type EventListener interface {
	Handle(ctx context.Context, event any) error
	GetEventType() string
	GetQueueName() string
}

type EventSubscriber interface {
	RegisterListener(listener EventListener)
	ListenQueue(queueName string) error
	ListenQueueExclusive(queueName string) error
	Close() error
}

// DeliveryEventProcessor runs a persisted delivery event through risk, health and healing.
type DeliveryEventProcessor interface {
	ProcessDeliveryEvent(ctx context.Context, deliveryEventID string) error
}
