package listeners

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/superkabe/healthstack/dto"
	"github.com/superkabe/healthstack/internal/enum"
	"github.com/superkabe/healthstack/internal/logger"
	"github.com/superkabe/healthstack/internal/utils"
	"github.com/superkabe/healthstack/services/events"
)

type fakeProcessor struct {
	ids []string
	err error
}

func (p *fakeProcessor) ProcessDeliveryEvent(_ context.Context, id string) error {
	p.ids = append(p.ids, id)
	return p.err
}

func testLogger() logger.Logger {
	l := logger.NewAppLogger(&logger.Config{LogLevel: "error"})
	l.InitLogger()
	return l
}

// envelope mirrors what a subscriber hands to a listener after decoding the JSON body.
func envelope(t *testing.T, entityID string, eventType string, data any) dto.Event {
	t.Helper()
	body, err := json.Marshal(dto.Event{
		Event: dto.EventDetails{
			Id:        "event_1",
			Tenant:    "org_1",
			EntityId:  entityID,
			EventType: eventType,
			Data:      data,
		},
	})
	require.NoError(t, err)
	var event dto.Event
	require.NoError(t, json.Unmarshal(body, &event))
	return event
}

func TestDeliveryEventListener_ProcessesEvent(t *testing.T) {
	processor := &fakeProcessor{}
	listener := NewDeliveryEventListener(testLogger(), processor)
	assert.Equal(t, events.QueueDeliveryEvents, listener.GetQueueName())

	event := envelope(t, "dev_1", events.GetEventType[dto.DeliveryEventReceived](), dto.DeliveryEventReceived{
		DeliveryEventID: "dev_1", OrganizationID: "org_1", MailboxID: "mbox_1", Type: enum.EventHardBounce,
	})
	ctx := utils.SetTenantInContext(context.Background(), "org_1")

	require.NoError(t, listener.Handle(ctx, event))
	assert.Equal(t, []string{"dev_1"}, processor.ids)
}

func TestDeliveryEventListener_PropagatesProcessorError(t *testing.T) {
	processor := &fakeProcessor{err: errors.New("db down")}
	listener := NewDeliveryEventListener(testLogger(), processor)

	event := envelope(t, "dev_1", events.GetEventType[dto.DeliveryEventReceived](), dto.DeliveryEventReceived{DeliveryEventID: "dev_1"})
	ctx := utils.SetTenantInContext(context.Background(), "org_1")

	assert.Error(t, listener.Handle(ctx, event))
}

func TestDeliveryEventListener_RejectsWithoutTenant(t *testing.T) {
	processor := &fakeProcessor{}
	listener := NewDeliveryEventListener(testLogger(), processor)

	event := envelope(t, "dev_1", events.GetEventType[dto.DeliveryEventReceived](), dto.DeliveryEventReceived{DeliveryEventID: "dev_1"})

	assert.Error(t, listener.Handle(context.Background(), event))
	assert.Empty(t, processor.ids)
}

func TestNotificationLogListener_AcceptsNotification(t *testing.T) {
	listener := NewNotificationLogListener(testLogger())
	assert.Equal(t, events.QueueNotifications, listener.GetQueueName())

	event := envelope(t, "mbox_1", events.GetEventType[dto.HealthNotification](), dto.HealthNotification{
		Kind: dto.NotificationAlert, OrganizationID: "org_1", EntityType: enum.MAILBOX, EntityID: "mbox_1", Reason: "provider command failed",
	})
	ctx := utils.SetTenantInContext(context.Background(), "org_1")

	assert.NoError(t, listener.Handle(ctx, event))
}

func TestNotificationLogListener_RejectsWrongEventType(t *testing.T) {
	listener := NewNotificationLogListener(testLogger())
	event := envelope(t, "dev_1", events.GetEventType[dto.DeliveryEventReceived](), dto.DeliveryEventReceived{DeliveryEventID: "dev_1"})
	ctx := utils.SetTenantInContext(context.Background(), "org_1")

	assert.Error(t, listener.Handle(ctx, event))
}
