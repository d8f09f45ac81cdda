// Package dns resolves SIP targets (RFC 3263) on top of net.Resolver and miekg/dns.
package dns

//go:generate go tool errtrace -w .

import (
	"cmp"
	"context"
	"net"
	"net/netip"
	"slices"
	"time"

	"braces.dev/errtrace"
	"github.com/miekg/dns"
)

const defaultTimeout = 5 * time.Second

// Resolver extends net.Resolver with NAPTR queries
// and SIP target selection.
// The zero value uses the system configuration.
type Resolver struct {
	net.Resolver

	// NameServer is the "host[:port]" queried for records net.Resolver cannot look up.
	// If empty, the first server of /etc/resolv.conf is used.
	NameServer string
	// Timeout bounds a single NAPTR exchange, 5 seconds if zero.
	Timeout time.Duration
}

// SRV is a resolved SRV record.
type SRV = net.SRV

// NAPTR is a naming authority pointer record (RFC 3403).
type NAPTR struct {
	Order      uint16
	Preference uint16
	// Flags is "s" when Replacement names an SRV record.
	Flags string
	// Service is "SIP+D2U", "SIP+D2T", "SIPS+D2T" for SIP.
	Service     string
	Regexp      string
	Replacement string
}

// LookupAddrs returns the IP addresses of the host with IPv4-mapped addresses unmapped.
func (r *Resolver) LookupAddrs(ctx context.Context, host string) ([]netip.Addr, error) {
	addrs, err := r.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	for i := range addrs {
		addrs[i] = addrs[i].Unmap()
	}
	return addrs, nil
}

// LookupSRV returns the SRV records of _service._proto.name.
// Empty service and proto query name directly.
func (r *Resolver) LookupSRV(ctx context.Context, service, proto, name string) ([]*SRV, error) {
	_, srvs, err := r.Resolver.LookupSRV(ctx, service, proto, name)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	return srvs, nil
}

// LookupNAPTR returns the NAPTR records of the host ordered by Order and Preference.
func (r *Resolver) LookupNAPTR(ctx context.Context, host string) ([]*NAPTR, error) {
	answers, err := r.exchange(ctx, host, dns.TypeNAPTR)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}

	recs := make([]*NAPTR, 0, len(answers))
	for _, ans := range answers {
		rr, ok := ans.(*dns.NAPTR)
		if !ok {
			continue
		}
		recs = append(recs, &NAPTR{
			Order:       rr.Order,
			Preference:  rr.Preference,
			Flags:       rr.Flags,
			Service:     rr.Service,
			Regexp:      rr.Regexp,
			Replacement: rr.Replacement,
		})
	}
	slices.SortStableFunc(recs, func(a, b *NAPTR) int {
		return cmp.Or(cmp.Compare(a.Order, b.Order), cmp.Compare(a.Preference, b.Preference))
	})
	return recs, nil
}

func (r *Resolver) exchange(ctx context.Context, host string, qtype uint16) ([]dns.RR, error) {
	server, err := r.server()
	if err != nil {
		return nil, errtrace.Wrap(err)
	}

	req := new(dns.Msg)
	req.SetQuestion(dns.Fqdn(host), qtype)
	req.RecursionDesired = true

	c := &dns.Client{Timeout: cmp.Or(r.Timeout, defaultTimeout)}
	res, _, err := c.ExchangeContext(ctx, req, server)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	if res.Rcode != dns.RcodeSuccess {
		return nil, errtrace.Wrap(&net.DNSError{
			Err:        dns.RcodeToString[res.Rcode],
			Name:       host,
			IsNotFound: res.Rcode == dns.RcodeNameError,
		})
	}
	return res.Answer, nil
}

func (r *Resolver) server() (string, error) {
	if r.NameServer != "" {
		if _, _, err := net.SplitHostPort(r.NameServer); err == nil {
			return r.NameServer, nil
		}
		return net.JoinHostPort(r.NameServer, "53"), nil
	}

	conf, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil {
		return "", errtrace.Wrap(err)
	}
	if len(conf.Servers) == 0 {
		return "", errtrace.Wrap(&net.DNSError{Err: "no name servers", Name: "resolv.conf"})
	}
	return net.JoinHostPort(conf.Servers[0], conf.Port), nil
}

var defResolver = &Resolver{}

// DefaultResolver returns the resolver used by the package-level functions.
func DefaultResolver() *Resolver { return defResolver }

func LookupNAPTR(ctx context.Context, host string) ([]*NAPTR, error) {
	return errtrace.Wrap2(defResolver.LookupNAPTR(ctx, host))
}
