package balancer

import (
	"github.com/superkabe/healthstack/config"
	"github.com/superkabe/healthstack/internal/enum"
	"github.com/superkabe/healthstack/internal/models"
)

type Factors struct {
	Overload      float64
	Underutilized float64
}

func DefaultFactors() Factors {
	return Factors{Overload: 1.5, Underutilized: 0.5}
}

func FactorsFromConfig(cfg *config.BalancerConfig) Factors {
	f := DefaultFactors()
	if cfg == nil {
		return f
	}
	if cfg.OverloadFactor > 0 {
		f.Overload = cfg.OverloadFactor
	}
	if cfg.UnderutilizedFactor > 0 {
		f.Underutilized = cfg.UnderutilizedFactor
	}
	return f
}

// Classify places a mailbox's campaign count against its domain mean.
func (f Factors) Classify(count int, mean float64) enum.LoadClass {
	c := float64(count)
	if mean > 0 && c > f.Overload*mean && c >= mean+1 {
		return enum.LoadOverloaded
	}
	if mean > 0 && (c < f.Underutilized*mean || count == 0) {
		return enum.LoadUnderutilized
	}
	return enum.LoadOptimal
}

// eligibleTarget is true for mailboxes that may receive more campaigns.
func eligibleTarget(mb *models.MailboxHealth) bool {
	if !mb.Active {
		return false
	}
	switch mb.Status {
	case enum.MailboxHealthy:
		return true
	case enum.MailboxWarning:
		return !mb.RecoveryPhase.InRecovery()
	}
	return false
}
