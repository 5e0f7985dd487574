package healing

import (
	"strings"
	"time"

	"github.com/superkabe/healthstack/internal/models"
)

// CheckDomain builds the quarantine verdict from the stored domain checks.
// A missing or stale DNS check fails so the caller refreshes it first.
func (p *Policy) CheckDomain(d *models.DomainHealth, now time.Time) QuarantineCheck {
	if d == nil {
		return QuarantineCheck{Reason: "domain unknown"}
	}
	if d.LastDNSCheckAt == nil || now.Sub(*d.LastDNSCheckAt) > p.DNSCheckMaxAge {
		return QuarantineCheck{Reason: "DNS check missing or stale"}
	}
	var missing []string
	if !d.SpfValid {
		missing = append(missing, "SPF")
	}
	if !d.DkimValid {
		missing = append(missing, "DKIM")
	}
	if p.RequireDMARC && !d.DmarcValid {
		missing = append(missing, "DMARC")
	}
	if len(missing) > 0 {
		return QuarantineCheck{Reason: "invalid " + strings.Join(missing, ", ")}
	}
	if d.Blacklisted {
		return QuarantineCheck{Reason: "listed on " + strings.Join(d.BlacklistHits, ", ")}
	}
	return QuarantineCheck{Passed: true}
}

// NeedsDNSRefresh is true when the stored check is older than the allowed age.
func (p *Policy) NeedsDNSRefresh(d *models.DomainHealth, now time.Time) bool {
	return d != nil && (d.LastDNSCheckAt == nil || now.Sub(*d.LastDNSCheckAt) > p.DNSCheckMaxAge)
}
