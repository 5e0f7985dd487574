package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/superkabe/healthstack/dto"
	"github.com/superkabe/healthstack/internal/enum"
	"github.com/superkabe/healthstack/internal/logger"
	"github.com/superkabe/healthstack/internal/utils"
)

type recordingListener struct {
	BaseEventListener
	mu       sync.Mutex
	received []dto.DeliveryEventReceived
	tenants  []string
}

func (l *recordingListener) Handle(ctx context.Context, baseEvent any) error {
	event, err := l.ValidateBaseEvent(ctx, baseEvent)
	if err != nil {
		return err
	}
	data, err := DecodeEventData[dto.DeliveryEventReceived](ctx, event)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.received = append(l.received, data)
	l.tenants = append(l.tenants, utils.GetTenantFromContext(ctx))
	return nil
}

func testLogger() logger.Logger {
	l := logger.NewAppLogger(&logger.Config{LogLevel: "error"})
	l.InitLogger()
	return l
}

func TestLocalBus_DeliversThroughEnvelope(t *testing.T) {
	log := testLogger()
	bus := NewLocalBus(log, 2, 16)
	listener := &recordingListener{
		BaseEventListener: NewBaseEventListener(log, GetEventType[dto.DeliveryEventReceived](), QueueDeliveryEvents),
	}
	bus.RegisterListener(listener)

	occurred := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	err := bus.PublishDeliveryEvent(context.Background(), dto.DeliveryEventReceived{
		DeliveryEventID: "dev_1",
		OrganizationID:  "org-1",
		MailboxID:       "mbox_1",
		Type:            enum.EventHardBounce,
		OccurredAt:      occurred,
	})
	require.NoError(t, err)
	require.NoError(t, bus.Close())

	require.Len(t, listener.received, 1)
	got := listener.received[0]
	assert.Equal(t, "dev_1", got.DeliveryEventID)
	assert.Equal(t, enum.EventHardBounce, got.Type)
	assert.True(t, occurred.Equal(got.OccurredAt))
	assert.Equal(t, []string{"org-1"}, listener.tenants)
}

func TestLocalBus_NotificationsWithoutListenerAreDropped(t *testing.T) {
	bus := NewLocalBus(testLogger(), 1, 4)
	bus.PublishNotification(context.Background(), dto.HealthNotification{
		Kind:           dto.NotificationAlert,
		OrganizationID: "org-1",
		EntityType:     enum.MAILBOX,
		EntityID:       "mbox_1",
		Reason:         "provider command failed",
	})
	require.NoError(t, bus.Close())
}

func TestLocalBus_RejectsAfterClose(t *testing.T) {
	bus := NewLocalBus(testLogger(), 1, 1)
	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())

	err := bus.PublishDeliveryEvent(context.Background(), dto.DeliveryEventReceived{DeliveryEventID: "dev_2", OrganizationID: "org-1"})
	assert.ErrorIs(t, err, ErrBusClosed)
}

func TestLocalBus_RequiresTenant(t *testing.T) {
	bus := NewLocalBus(testLogger(), 1, 1)
	defer bus.Close()

	err := bus.PublishDeliveryEvent(context.Background(), dto.DeliveryEventReceived{DeliveryEventID: "dev_3"})
	assert.Error(t, err)
}

func TestValidateBaseEvent_RejectsWrongType(t *testing.T) {
	log := testLogger()
	base := NewBaseEventListener(log, GetEventType[dto.DeliveryEventReceived](), QueueDeliveryEvents)
	ctx := utils.SetTenantInContext(context.Background(), "org-1")

	_, err := base.ValidateBaseEvent(ctx, dto.Event{Event: dto.EventDetails{
		Tenant:    "org-1",
		EntityId:  "mbox_1",
		EventType: "HealthNotification",
		Data:      map[string]interface{}{},
	}})
	assert.Error(t, err)

	_, err = base.ValidateBaseEvent(context.Background(), dto.Event{})
	assert.Error(t, err)

	assert.Equal(t, "DeliveryEventReceived", GetEventType[*dto.DeliveryEventReceived]())
}
