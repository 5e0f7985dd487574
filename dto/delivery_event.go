package dto

import (
	"time"

	"github.com/superkabe/healthstack/internal/enum"
)

// DeliveryEventReceived is published once a canonical delivery event is persisted.
type DeliveryEventReceived struct {
	DeliveryEventID string                 `json:"deliveryEventId"`
	OrganizationID  string                 `json:"organizationId"`
	MailboxID       string                 `json:"mailboxId"`
	Type            enum.DeliveryEventType `json:"type"`
	OccurredAt      time.Time              `json:"occurredAt"`
}
