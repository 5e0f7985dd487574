package listeners

import (
	"context"

	"github.com/opentracing/opentracing-go"
	"go.uber.org/zap"

	"github.com/superkabe/healthstack/dto"
	"github.com/superkabe/healthstack/interfaces"
	"github.com/superkabe/healthstack/internal/logger"
	"github.com/superkabe/healthstack/internal/tracing"
	"github.com/superkabe/healthstack/services/events"
)

// NotificationLogListener writes health notifications to the structured log.
// Alerts are logged at warn level so they surface in log based alerting.
type NotificationLogListener struct {
	events.BaseEventListener
}

func NewNotificationLogListener(logger logger.Logger) interfaces.EventListener {
	return &NotificationLogListener{
		BaseEventListener: events.NewBaseEventListener(
			logger,
			events.GetEventType[dto.HealthNotification](),
			events.QueueNotifications,
		),
	}
}

func (l *NotificationLogListener) Handle(ctx context.Context, baseEvent any) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "NotificationLogListener.Handle")
	defer span.Finish()
	tracing.SetDefaultListenerSpanTags(ctx, span)

	validatedEvent, err := l.ValidateBaseEvent(ctx, baseEvent)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	n, err := events.DecodeEventData[dto.HealthNotification](ctx, validatedEvent)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	log := l.Logger().With(
		zap.String("kind", string(n.Kind)),
		zap.String("organizationId", n.OrganizationID),
		zap.String("entityType", string(n.EntityType)),
		zap.String("entityId", n.EntityID),
		zap.String("systemMode", string(n.SystemMode)),
	)
	if n.Kind == dto.NotificationAlert {
		log.Warnf("health alert: %s", n.Reason)
		return nil
	}
	log.Infof("%s %s -> %s: %s", n.EntityType, n.From, n.To, n.Reason)
	return nil
}
