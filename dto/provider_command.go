package dto

import "time"

type ProviderCommandType string

const (
	CommandPauseCampaign   ProviderCommandType = "pause_campaign"
	CommandResumeCampaign  ProviderCommandType = "resume_campaign"
	CommandRemoveMailbox   ProviderCommandType = "remove_mailbox_from_campaign"
	CommandAddMailbox      ProviderCommandType = "add_mailbox_to_campaign"
	CommandConfigureWarmup ProviderCommandType = "configure_warmup"
)

// ProviderCommand is the JSON body posted to the provider command endpoint.
type ProviderCommand struct {
	ID             string              `json:"id"`
	Type           ProviderCommandType `json:"type"`
	OrganizationID string              `json:"organizationId"`
	MailboxID      string              `json:"mailboxId,omitempty"`
	CampaignID     string              `json:"campaignId,omitempty"`
	DailyLimit     int                 `json:"dailyLimit,omitempty"`
	RampUp         int                 `json:"rampUp,omitempty"`
	Reason         string              `json:"reason,omitempty"`
	IssuedAt       time.Time           `json:"issuedAt"`
}
