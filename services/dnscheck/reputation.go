package dnscheck

import (
	"github.com/customeros/mailwatcher/blscan"
	"github.com/customeros/mailwatcher/domainage"
	"github.com/pkg/errors"
)

type BlacklistResult struct {
	Major    int
	Minor    int
	SpamTrap int
}

type BlacklistScanner interface {
	Scan(domain string) BlacklistResult
}

type AgeLookup interface {
	// AgeDays returns the registration age; ok is false when WHOIS has no answer.
	AgeDays(domain string) (days int, ok bool, err error)
}

type mailwatcherBlacklists struct{}

func NewBlacklistScanner() BlacklistScanner {
	return mailwatcherBlacklists{}
}

func (mailwatcherBlacklists) Scan(domain string) BlacklistResult {
	lists := blscan.ScanBlacklists(domain, "domain")
	return BlacklistResult{
		Major:    lists.MajorLists,
		Minor:    lists.MinorLists,
		SpamTrap: lists.SpamTrapLists,
	}
}

type mailwatcherAges struct{}

func NewAgeLookup() AgeLookup {
	return mailwatcherAges{}
}

func (mailwatcherAges) AgeDays(domain string) (int, bool, error) {
	dates, err := domainage.GetDomainDates(domain)
	if err != nil {
		return 0, false, errors.Wrap(err, "cannot determine domain dates")
	}
	if !dates.Success {
		return 0, false, nil
	}
	return dates.CreationAge, true, nil
}

// AgePenalty scores young domains; the same scale drives the risk report.
func AgePenalty(days int) int {
	switch {
	case days <= 1:
		return 75
	case days <= 7:
		return 60
	case days <= 10:
		return 50
	case days <= 15:
		return 40
	case days <= 30:
		return 30
	case days <= 90:
		return 15
	default:
		return 0
	}
}
