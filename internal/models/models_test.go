package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/superkabe/healthstack/internal/enum"
)

func TestMailboxHealth_RecordSendResetsOnDayChange(t *testing.T) {
	mb := &MailboxHealth{}
	day1 := time.Date(2026, 3, 1, 23, 50, 0, 0, time.UTC)
	mb.RecordSend(day1)
	mb.RecordSend(day1)
	assert.Equal(t, 2, mb.DailyCount(day1))

	day2 := day1.Add(20 * time.Minute)
	assert.Equal(t, 0, mb.DailyCount(day2))
	mb.RecordSend(day2)
	assert.Equal(t, 1, mb.DailyCount(day2))
	assert.Equal(t, "2026-03-02", mb.SendsTodayDate)
}

func TestMailboxHealth_CloneCopiesCampaignIDs(t *testing.T) {
	mb := &MailboxHealth{ID: "mbox_1", ExternalCampaignIDs: []string{"c1"}}
	cp := mb.Clone()
	cp.ExternalCampaignIDs[0] = "c2"
	assert.Equal(t, "c1", mb.ExternalCampaignIDs[0])
	assert.Equal(t, enum.MAILBOX, cp.EntityType())
}

func TestDomainHealth_DNSAuthValid(t *testing.T) {
	d := &DomainHealth{SpfValid: true, DkimValid: true}
	assert.True(t, d.DNSAuthValid(false))
	assert.False(t, d.DNSAuthValid(true))
	d.DmarcValid = true
	assert.True(t, d.DNSAuthValid(true))
}

func TestJSONMap_Scan(t *testing.T) {
	var m JSONMap
	require.NoError(t, m.Scan([]byte(`{"a":1}`)))
	assert.Equal(t, float64(1), m["a"])
	require.NoError(t, m.Scan(`{"b":"x"}`))
	assert.Equal(t, "x", m["b"])
	assert.Error(t, m.Scan(42))
}
