package dnscheck

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/opentracing/opentracing-go"
	"golang.org/x/sync/errgroup"

	"github.com/superkabe/healthstack/internal/logger"
	"github.com/superkabe/healthstack/internal/models"
	"github.com/superkabe/healthstack/internal/tracing"
	"github.com/superkabe/healthstack/internal/utils"
)

type Result struct {
	Domain       string    `json:"domain"`
	SPF          bool      `json:"spf"`
	DKIM         bool      `json:"dkim"`
	DKIMSelector string    `json:"dkimSelector,omitempty"`
	DMARC        bool      `json:"dmarc"`
	Blacklisted  bool      `json:"blacklisted"`
	Hits         []string  `json:"hits,omitempty"`
	AgeDays      int       `json:"ageDays"`
	AgeKnown     bool      `json:"ageKnown"`
	CheckedAt    time.Time `json:"checkedAt"`
}

// Apply copies the verdict onto the stored domain record.
func (r *Result) Apply(d *models.DomainHealth) {
	d.SpfValid = r.SPF
	d.DkimValid = r.DKIM
	d.DmarcValid = r.DMARC
	d.Blacklisted = r.Blacklisted
	d.BlacklistHits = append(d.BlacklistHits[:0], r.Hits...)
	if r.AgeKnown {
		d.DomainAgeDays = r.AgeDays
	}
	checked := r.CheckedAt
	d.LastDNSCheckAt = &checked
}

type Checker struct {
	log        logger.Logger
	resolver   TXTResolver
	blacklists BlacklistScanner
	ages       AgeLookup
	selectors  []string
}

func NewChecker(log logger.Logger, resolver TXTResolver, blacklists BlacklistScanner, ages AgeLookup, selectors []string) *Checker {
	return &Checker{log: log, resolver: resolver, blacklists: blacklists, ages: ages, selectors: selectors}
}

// Check runs SPF, DKIM, DMARC, blacklist and age lookups in parallel. DNS
// lookup errors fail the check; reputation lookups are best effort.
func (c *Checker) Check(ctx context.Context, domain string) (*Result, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "DNSChecker.Check")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.LogKV("domain", domain)

	res := &Result{Domain: domain}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		records, err := c.resolver.LookupTXT(gctx, domain)
		if err != nil {
			return err
		}
		res.SPF = hasRecord(records, "v=spf1")
		return nil
	})
	g.Go(func() error {
		records, err := c.resolver.LookupTXT(gctx, "_dmarc."+domain)
		if err != nil {
			return err
		}
		res.DMARC = hasRecord(records, "v=dmarc1")
		return nil
	})
	g.Go(func() error {
		for _, selector := range c.selectors {
			records, err := c.resolver.LookupTXT(gctx, selector+"._domainkey."+domain)
			if err != nil {
				c.log.Warnf("DKIM lookup for selector %s of %s failed: %v", selector, domain, err)
				continue
			}
			if validDKIM(records) {
				res.DKIM = true
				res.DKIMSelector = selector
				return nil
			}
		}
		return nil
	})
	if c.blacklists != nil {
		g.Go(func() error {
			bl := c.blacklists.Scan(domain)
			if bl.Major > 0 {
				res.Hits = append(res.Hits, fmt.Sprintf("major:%d", bl.Major))
			}
			if bl.SpamTrap > 0 {
				res.Hits = append(res.Hits, fmt.Sprintf("spamtrap:%d", bl.SpamTrap))
			}
			if bl.Minor > 0 {
				res.Hits = append(res.Hits, fmt.Sprintf("minor:%d", bl.Minor))
			}
			// minor lists alone do not block recovery
			res.Blacklisted = bl.Major > 0 || bl.SpamTrap > 0
			return nil
		})
	}
	if c.ages != nil {
		g.Go(func() error {
			days, ok, err := c.ages.AgeDays(domain)
			if err != nil {
				c.log.Warnf("domain age lookup for %s failed: %v", domain, err)
				return nil
			}
			res.AgeDays, res.AgeKnown = days, ok
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	res.CheckedAt = utils.Now()
	tracing.LogObjectAsJson(span, "result", res)
	return res, nil
}

func hasRecord(records []string, prefix string) bool {
	for _, r := range records {
		if strings.HasPrefix(strings.ToLower(strings.TrimSpace(r)), prefix) {
			return true
		}
	}
	return false
}

// validDKIM needs a published, non-revoked public key.
func validDKIM(records []string) bool {
	for _, r := range records {
		for _, tag := range strings.Split(r, ";") {
			k, v, found := strings.Cut(strings.TrimSpace(tag), "=")
			if found && strings.TrimSpace(k) == "p" && strings.TrimSpace(v) != "" {
				return true
			}
		}
	}
	return false
}
