package listeners

import (
	"context"

	"github.com/opentracing/opentracing-go"

	"github.com/superkabe/healthstack/dto"
	"github.com/superkabe/healthstack/interfaces"
	"github.com/superkabe/healthstack/internal/logger"
	"github.com/superkabe/healthstack/internal/tracing"
	"github.com/superkabe/healthstack/services/events"
)

// DeliveryEventListener applies persisted delivery events announced on the bus.
type DeliveryEventListener struct {
	events.BaseEventListener
	processor interfaces.DeliveryEventProcessor
}

func NewDeliveryEventListener(logger logger.Logger, processor interfaces.DeliveryEventProcessor) interfaces.EventListener {
	return &DeliveryEventListener{
		BaseEventListener: events.NewBaseEventListener(
			logger,
			events.GetEventType[dto.DeliveryEventReceived](),
			events.QueueDeliveryEvents,
		),
		processor: processor,
	}
}

func (l *DeliveryEventListener) Handle(ctx context.Context, baseEvent any) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "DeliveryEventListener.Handle")
	defer span.Finish()
	tracing.SetDefaultListenerSpanTags(ctx, span)

	validatedEvent, err := l.ValidateBaseEvent(ctx, baseEvent)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	received, err := events.DecodeEventData[dto.DeliveryEventReceived](ctx, validatedEvent)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	tracing.TagEntity(span, received.DeliveryEventID)
	span.LogKV("mailboxId", received.MailboxID, "type", string(received.Type))

	if err := l.processor.ProcessDeliveryEvent(ctx, received.DeliveryEventID); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}
