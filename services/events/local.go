package events

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/superkabe/healthstack/dto"
	"github.com/superkabe/healthstack/interfaces"
	"github.com/superkabe/healthstack/internal/enum"
	"github.com/superkabe/healthstack/internal/logger"
	"github.com/superkabe/healthstack/internal/tracing"
	"github.com/superkabe/healthstack/internal/utils"
)

var ErrBusClosed = errors.New("event bus closed")

type localMessage struct {
	queue string
	body  []byte
}

// LocalBus is the in-process dispatcher used when no broker is configured.
// Messages go through the same JSON envelope as RabbitMQ so listeners cannot
// tell the transports apart. Failed deliveries are logged, not retried.
type LocalBus struct {
	log       logger.Logger
	listeners map[string]interfaces.EventListener
	lmu       sync.RWMutex
	queue     chan localMessage
	mu        sync.RWMutex
	closed    bool
	wg        sync.WaitGroup
}

func NewLocalBus(log logger.Logger, workers, buffer int) *LocalBus {
	if workers <= 0 {
		workers = 1
	}
	bus := &LocalBus{
		log:       log,
		listeners: make(map[string]interfaces.EventListener),
		queue:     make(chan localMessage, buffer),
	}
	bus.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go bus.work()
	}
	return bus
}

var (
	_ interfaces.EventPublisher  = (*LocalBus)(nil)
	_ interfaces.EventSubscriber = (*LocalBus)(nil)
)

func (b *LocalBus) RegisterListener(listener interfaces.EventListener) {
	b.lmu.Lock()
	defer b.lmu.Unlock()
	b.listeners[listener.GetEventType()] = listener
	b.log.Infof("Registered local listener for event type: %s", listener.GetEventType())
}

// ListenQueue is a no-op; workers start with the bus.
func (b *LocalBus) ListenQueue(string) error {
	return nil
}

func (b *LocalBus) ListenQueueExclusive(string) error {
	return nil
}

func (b *LocalBus) PublishDeliveryEvent(ctx context.Context, event dto.DeliveryEventReceived) error {
	ctx = utils.SetTenantInContext(ctx, event.OrganizationID)
	return b.publish(ctx, event.DeliveryEventID, enum.DELIVERY_EVENT, event, QueueDeliveryEvents)
}

func (b *LocalBus) PublishNotification(ctx context.Context, notification dto.HealthNotification) {
	ctx = utils.SetTenantInContext(ctx, notification.OrganizationID)
	if err := b.publish(ctx, notification.EntityID, notification.EntityType, notification, QueueNotifications); err != nil {
		b.log.Errorf("Failed to publish health notification: %v", err)
	}
}

func (b *LocalBus) publish(ctx context.Context, entityId string, entityType enum.EntityType, message interface{}, queue string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "LocalBus.Publish")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	if err := utils.ValidateTenant(ctx); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	body, err := json.Marshal(newEnvelope(ctx, span, entityId, entityType, message))
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "failed to marshal message")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}
	select {
	case b.queue <- localMessage{queue: queue, body: body}:
		return nil
	case <-ctx.Done():
		tracing.TraceErr(span, ctx.Err())
		return ctx.Err()
	}
}

func (b *LocalBus) work() {
	defer b.wg.Done()
	for msg := range b.queue {
		b.handle(msg)
	}
}

func (b *LocalBus) handle(msg localMessage) {
	defer tracing.RecoverAndLogToJaeger(b.log)

	var event dto.Event
	if err := json.Unmarshal(msg.body, &event); err != nil {
		b.log.Errorf("Failed to decode local message: %v", err)
		return
	}

	ctx := utils.WithCustomContext(context.Background(), &utils.CustomContext{
		AppSource: event.Metadata.AppSource,
		Tenant:    event.Event.Tenant,
	})
	ctx, span := tracing.StartRabbitMQMessageTracerSpanWithHeader(ctx, "LocalBus.ProcessMessage", event.Metadata.UberTraceId)
	defer span.Finish()
	span.LogKV("event_type", event.Event.EventType, "queue_name", msg.queue)

	b.lmu.RLock()
	listener, ok := b.listeners[event.Event.EventType]
	b.lmu.RUnlock()
	if !ok || listener.GetQueueName() != msg.queue {
		b.log.Debugf("No local listener for event type %s on %s", event.Event.EventType, msg.queue)
		return
	}

	if err := listener.Handle(ctx, event); err != nil {
		tracing.TraceErr(span, err)
		b.log.Errorf("Failed to process %s on %s: %v", event.Event.EventType, msg.queue, err)
	}
}

// Close stops accepting messages and waits for queued ones to drain.
func (b *LocalBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.queue)
	b.mu.Unlock()

	b.wg.Wait()
	return nil
}
