package dto

import (
	"time"

	"github.com/superkabe/healthstack/internal/enum"
)

type HealthNotificationKind string

const (
	NotificationTransition HealthNotificationKind = "transition"
	NotificationGraduation HealthNotificationKind = "graduation"
	NotificationAlert      HealthNotificationKind = "alert"
)

// HealthNotification is fanned out for operators and downstream consumers.
type HealthNotification struct {
	Kind           HealthNotificationKind `json:"kind"`
	OrganizationID string                 `json:"organizationId"`
	EntityType     enum.EntityType        `json:"entityType"`
	EntityID       string                 `json:"entityId"`
	From           string                 `json:"from,omitempty"`
	To             string                 `json:"to,omitempty"`
	Reason         string                 `json:"reason"`
	SystemMode     enum.SystemMode        `json:"systemMode"`
	At             time.Time              `json:"at"`
}
