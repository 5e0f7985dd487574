package ingest

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hserrors "github.com/superkabe/healthstack/errors"
	"github.com/superkabe/healthstack/internal/enum"
)

func TestSmartleadMapper(t *testing.T) {
	body := []byte(`{
		"event_type": "EMAIL_BOUNCE",
		"event_id": 991,
		"campaign_id": 4412,
		"from_email": " Ops@Acme.io ",
		"to_email": "jane@example.com",
		"event_timestamp": "2026-04-02T09:15:00Z",
		"bounce_type": "hard",
		"bounce_reason": "550 5.1.1 user unknown"
	}`)

	events, err := smartleadMapper{}.Map(body)
	require.NoError(t, err)
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, "991", ev.ProviderEventID)
	assert.Equal(t, "4412", ev.CampaignID)
	assert.Equal(t, enum.EventHardBounce, ev.Type)
	assert.Equal(t, "Ops@Acme.io", ev.MailboxEmail)
	assert.Equal(t, time.Date(2026, 4, 2, 9, 15, 0, 0, time.UTC), ev.OccurredAt)
}

func TestSmartleadMapper_UnclassifiedBounceAndEventTypes(t *testing.T) {
	events, err := smartleadMapper{}.Map([]byte(`[
		{"event_type":"email_bounce","message_id":"m-1","from_email":"ops@acme.io","to_email":"a@b.io"},
		{"event_type":"EMAIL_SENT","message_id":"m-2","from_email":"ops@acme.io","to_email":"a@b.io","event_timestamp":1775121300},
		{"event_type":"email_spam_complaint","message_id":"m-3","from_email":"ops@acme.io"}
	]`))
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, eventBounce, events[0].Type)
	assert.Equal(t, "m-1:email_bounce", events[0].ProviderEventID)
	assert.Equal(t, enum.EventSent, events[1].Type)
	assert.Equal(t, time.Unix(1775121300, 0).UTC(), events[1].OccurredAt)
	assert.Equal(t, enum.EventComplaint, events[2].Type)
}

func TestInstantlyMapper(t *testing.T) {
	events, err := instantlyMapper{}.Map([]byte(`{
		"event_type": "email_bounced",
		"id": "evt_77",
		"timestamp": 1775121300000,
		"campaign_id": "c-uuid",
		"email_account": "ops@acme.io",
		"lead_email": "jane@example.com",
		"bounce_type": "soft",
		"error_message": "452 4.2.2 mailbox full"
	}`))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, enum.EventSoftBounce, events[0].Type)
	assert.Equal(t, "evt_77", events[0].ProviderEventID)
	assert.Equal(t, time.UnixMilli(1775121300000).UTC(), events[0].OccurredAt)

	for raw, want := range map[string]enum.DeliveryEventType{
		"reply_received":     enum.EventReplied,
		"email_link_clicked": enum.EventClicked,
		"lead_unsubscribed":  enum.EventUnsubscribed,
		"email_complaint":    enum.EventComplaint,
	} {
		events, err := instantlyMapper{}.Map([]byte(`{"event_type":"` + raw + `","email_account":"ops@acme.io"}`))
		require.NoError(t, err, raw)
		assert.Equal(t, want, events[0].Type, raw)
	}
}

func TestGenericMapper(t *testing.T) {
	events, err := genericMapper{}.Map([]byte(`{"event_id":"g-1","type":"bounce","mailbox_id":"mbox_1","recipient":"x@y.io","bounce_code":"5.7.1"}`))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "mbox_1", events[0].MailboxID)
	assert.Equal(t, eventBounce, events[0].Type)
}

func TestMappers_Malformed(t *testing.T) {
	cases := map[string]struct {
		mapper Mapper
		body   string
	}{
		"not json":         {smartleadMapper{}, `{"event_type":`},
		"empty":            {instantlyMapper{}, ``},
		"empty batch":      {genericMapper{}, `[]`},
		"unknown type":     {smartleadMapper{}, `{"event_type":"EMAIL_TELEPORTED","from_email":"ops@acme.io"}`},
		"no mailbox":       {instantlyMapper{}, `{"event_type":"email_sent","lead_email":"a@b.io"}`},
		"bad timestamp":    {genericMapper{}, `{"type":"sent","mailbox_id":"m","occurred_at":"yesterday"}`},
		"generic bad type": {genericMapper{}, `{"type":"email_sent","mailbox_id":"m"}`},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := tc.mapper.Map([]byte(tc.body))
			require.Error(t, err)
			assert.True(t, errors.Is(err, hserrors.ErrMalformedPayload), err.Error())
		})
	}
}

func TestFallbackEventID_StableAcrossRetries(t *testing.T) {
	body := []byte(`{"type":"sent","mailbox_id":"mbox_1","recipient":"a@b.io","occurred_at":"2026-04-02T09:15:00Z"}`)
	first, err := genericMapper{}.Map(body)
	require.NoError(t, err)
	second, err := genericMapper{}.Map(body)
	require.NoError(t, err)
	assert.Equal(t, first[0].ProviderEventID, second[0].ProviderEventID)
	assert.Contains(t, first[0].ProviderEventID, "sha256:")

	other, err := genericMapper{}.Map([]byte(`{"type":"sent","mailbox_id":"mbox_1","recipient":"c@b.io","occurred_at":"2026-04-02T09:15:00Z"}`))
	require.NoError(t, err)
	assert.NotEqual(t, first[0].ProviderEventID, other[0].ProviderEventID)
}
