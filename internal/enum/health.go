package enum

type MailboxStatus string

const (
	MailboxHealthy      MailboxStatus = "healthy"
	MailboxWarning      MailboxStatus = "warning"
	MailboxPaused       MailboxStatus = "paused"
	MailboxDisconnected MailboxStatus = "disconnected"
)

func (s MailboxStatus) String() string {
	return string(s)
}

// Unhealthy reports whether the mailbox cannot send at all.
func (s MailboxStatus) Unhealthy() bool {
	return s == MailboxPaused || s == MailboxDisconnected
}

type DomainStatus string

const (
	DomainHealthy DomainStatus = "healthy"
	DomainWarning DomainStatus = "warning"
	DomainPaused  DomainStatus = "paused"
)

func (s DomainStatus) String() string {
	return string(s)
}

type CampaignStatus string

const (
	CampaignActive    CampaignStatus = "active"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
)

func (s CampaignStatus) String() string {
	return string(s)
}

type RecoveryPhase string

const (
	PhaseNone           RecoveryPhase = "none"
	PhasePaused         RecoveryPhase = "paused"
	PhaseQuarantine     RecoveryPhase = "quarantine"
	PhaseRestrictedSend RecoveryPhase = "restricted_send"
	PhaseWarmRecovery   RecoveryPhase = "warm_recovery"
	PhaseHealthy        RecoveryPhase = "healthy"
)

var phaseRank = map[RecoveryPhase]int{
	PhasePaused:         1,
	PhaseQuarantine:     2,
	PhaseRestrictedSend: 3,
	PhaseWarmRecovery:   4,
	PhaseHealthy:        5,
}

func (p RecoveryPhase) String() string {
	return string(p)
}

// Rank orders the recovery sequence; none and unknown phases rank 0.
func (p RecoveryPhase) Rank() int {
	return phaseRank[p]
}

// InRecovery is true for the phases the healing worker still has to drive.
func (p RecoveryPhase) InRecovery() bool {
	switch p {
	case PhasePaused, PhaseQuarantine, PhaseRestrictedSend, PhaseWarmRecovery:
		return true
	}
	return false
}

// Sending is true for the capped phases where any bounce is a relapse.
func (p RecoveryPhase) Sending() bool {
	return p == PhaseRestrictedSend || p == PhaseWarmRecovery
}

// Next is the graduation target of a phase.
func (p RecoveryPhase) Next() RecoveryPhase {
	switch p {
	case PhasePaused:
		return PhaseQuarantine
	case PhaseQuarantine:
		return PhaseRestrictedSend
	case PhaseRestrictedSend:
		return PhaseWarmRecovery
	case PhaseWarmRecovery:
		return PhaseHealthy
	}
	return p
}

type Signal string

const (
	SignalNone    Signal = "none"
	SignalWarning Signal = "warning"
	SignalPause   Signal = "pause"
)

type DenyReason string

const (
	ReasonNone                DenyReason = ""
	ReasonMailboxDisconnected DenyReason = "mailbox_disconnected"
	ReasonVolumeCapReached    DenyReason = "volume_cap_reached"
	ReasonMailboxPaused       DenyReason = "mailbox_paused"
	ReasonDomainGated         DenyReason = "domain_gated"
	ReasonCampaignPaused      DenyReason = "campaign_paused"
	ReasonMailboxUnknown      DenyReason = "mailbox_unknown"
)

type InterventionPolicy string

const (
	InterventionAdvisory InterventionPolicy = "advisory"
	InterventionBlocking InterventionPolicy = "blocking"
)
