package dnscheck

import (
	"context"
	"strings"

	"github.com/miekg/dns"
	"github.com/pkg/errors"

	"github.com/superkabe/healthstack/config"
)

// TXTResolver returns the TXT strings published at a name. A missing name is
// an empty result, not an error.
type TXTResolver interface {
	LookupTXT(ctx context.Context, name string) ([]string, error)
}

type dnsResolver struct {
	client *dns.Client
	server string
}

func NewResolver(cfg *config.DNSConfig) TXTResolver {
	server := "1.1.1.1:53"
	c := &dns.Client{Net: "udp"}
	if cfg != nil {
		if cfg.Resolver != "" {
			server = cfg.Resolver
		}
		c.Timeout = cfg.Timeout
	}
	return &dnsResolver{client: c, server: server}
}

func (r *dnsResolver) LookupTXT(ctx context.Context, name string) ([]string, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), dns.TypeTXT)
	msg.RecursionDesired = true

	in, _, err := r.client.ExchangeContext(ctx, msg, r.server)
	if err != nil {
		return nil, errors.Wrapf(err, "TXT lookup %s", name)
	}
	if in.Truncated {
		tcp := &dns.Client{Net: "tcp", Timeout: r.client.Timeout}
		if in, _, err = tcp.ExchangeContext(ctx, msg, r.server); err != nil {
			return nil, errors.Wrapf(err, "TXT lookup %s over tcp", name)
		}
	}
	switch in.Rcode {
	case dns.RcodeSuccess, dns.RcodeNameError:
	default:
		return nil, errors.Errorf("TXT lookup %s: %s", name, dns.RcodeToString[in.Rcode])
	}

	var out []string
	for _, rr := range in.Answer {
		if txt, ok := rr.(*dns.TXT); ok {
			// long records are split into 255 byte strings
			out = append(out, strings.Join(txt.Txt, ""))
		}
	}
	return out, nil
}
