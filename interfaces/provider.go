package interfaces

import "context"

// ProviderCommander issues the provider call that enforces a health decision.
type ProviderCommander interface {
	PauseCampaign(ctx context.Context, organizationID, campaignID, reason string) error
	ResumeCampaign(ctx context.Context, organizationID, campaignID string) error
	RemoveMailboxFromCampaign(ctx context.Context, organizationID, mailboxID, campaignID string) error
	AddMailboxToCampaign(ctx context.Context, organizationID, mailboxID, campaignID string) error
	ConfigureWarmup(ctx context.Context, organizationID, mailboxID string, dailyLimit, rampUp int) error
}
