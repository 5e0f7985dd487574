package risk

import (
	"github.com/superkabe/healthstack/config"
	"github.com/superkabe/healthstack/internal/enum"
)

type Thresholds struct {
	WarningWindow          int
	PauseWindow            int
	AggregateWindow        int
	WarningBounces         int
	PauseBounces           int
	RecoveryWarningBounces int
	MinSample              int
	ComplaintWeight        int
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		WarningWindow:          60,
		PauseWindow:            100,
		AggregateWindow:        100,
		WarningBounces:         3,
		PauseBounces:           5,
		RecoveryWarningBounces: 2,
		MinSample:              10,
		ComplaintWeight:        2,
	}
}

func ThresholdsFromConfig(cfg *config.RiskConfig) Thresholds {
	t := DefaultThresholds()
	if cfg == nil {
		return t
	}
	if cfg.WarningWindow > 0 {
		t.WarningWindow = cfg.WarningWindow
	}
	if cfg.PauseWindow > 0 {
		t.PauseWindow = cfg.PauseWindow
		t.AggregateWindow = cfg.PauseWindow
	}
	if cfg.WarningBounces > 0 {
		t.WarningBounces = cfg.WarningBounces
	}
	if cfg.PauseBounces > 0 {
		t.PauseBounces = cfg.PauseBounces
	}
	if cfg.RecoveryWarningBounces > 0 {
		t.RecoveryWarningBounces = cfg.RecoveryWarningBounces
	}
	if cfg.MinSample > 0 {
		t.MinSample = cfg.MinSample
	}
	if cfg.ComplaintWeight > 0 {
		t.ComplaintWeight = cfg.ComplaintWeight
	}
	return t
}

// Evaluation is the outcome of checking a mailbox's windows.
// Evaluable=false means the sample is too small and the signal is none by default.
type Evaluation struct {
	Signal         enum.Signal `json:"signal"`
	Evaluable      bool        `json:"evaluable"`
	WarningSent    int         `json:"warningSent"`
	WarningBounces int         `json:"warningBounces"`
	PauseSent      int         `json:"pauseSent"`
	PauseBounces   int         `json:"pauseBounces"`
	Ratio          float64     `json:"ratio"`
}

// Evaluate applies the thresholds. recoveryContext selects the stricter
// warning threshold used during the sustained-health grace period.
func (t Thresholds) Evaluate(w *MailboxWindows, recoveryContext bool) Evaluation {
	ev := Evaluation{
		Signal:         enum.SignalNone,
		WarningSent:    w.Warning.Sent(),
		WarningBounces: w.Warning.Bounces(),
		PauseSent:      w.Pause.Sent(),
		PauseBounces:   w.Pause.Bounces(),
		Ratio:          w.Pause.Ratio(),
	}
	if w.Pause.Sent() < t.MinSample {
		return ev
	}
	ev.Evaluable = true

	warningAt := t.WarningBounces
	if recoveryContext {
		warningAt = t.RecoveryWarningBounces
	}
	switch {
	case w.Pause.Bounces() >= t.PauseBounces:
		ev.Signal = enum.SignalPause
	case w.Warning.Bounces() >= warningAt:
		ev.Signal = enum.SignalWarning
	}
	return ev
}

// Weight maps a canonical event to its window weight; ok is false for events
// that do not enter the windows.
func (t Thresholds) Weight(eventType enum.DeliveryEventType, countsTowardRisk bool, storedWeight int) (int, bool) {
	if eventType == enum.EventSent {
		return 0, true
	}
	if !countsTowardRisk {
		return 0, false
	}
	if storedWeight > 0 {
		return storedWeight, true
	}
	if eventType == enum.EventComplaint {
		return t.ComplaintWeight, true
	}
	return 1, true
}
