package dns

import (
	"cmp"
	"context"
	"net"
	"net/netip"
	"slices"
	"strings"

	"braces.dev/errtrace"
)

// DefaultPort is the SIP port used when neither the URI nor DNS provides one.
const DefaultPort = 5060

// naptrServices maps transports to NAPTR service fields (RFC 3263 Section 4.1).
var naptrServices = map[string]string{
	"udp": "SIP+D2U",
	"tcp": "SIP+D2T",
	"tls": "SIPS+D2T",
}

// LookupTargets returns the addresses to contact the host over the transport
// in the order defined by RFC 3263 Section 4: an IP literal or a host with an explicit port
// resolve directly, otherwise NAPTR, then SRV records are consulted,
// falling back to A/AAAA records of the host with the default port.
// Zero port means no explicit port.
func (r *Resolver) LookupTargets(ctx context.Context, host string, port uint16, transport string) ([]netip.AddrPort, error) {
	if host == "" {
		return nil, errtrace.Wrap(&net.DNSError{Err: "empty host", Name: host, IsNotFound: true})
	}
	transport = strings.ToLower(transport)
	if transport == "" {
		transport = "udp"
	}

	if addr, err := netip.ParseAddr(strings.Trim(host, "[]")); err == nil {
		return []netip.AddrPort{netip.AddrPortFrom(addr.Unmap(), cmp.Or(port, DefaultPort))}, nil
	}
	if port != 0 {
		return errtrace.Wrap2(r.lookupAddrs(ctx, host, port))
	}

	if srvName := r.lookupNAPTRService(ctx, host, transport); srvName != "" {
		if addrs := r.lookupSRVAddrs(ctx, "", "", srvName); len(addrs) > 0 {
			return addrs, nil
		}
	}

	proto := transport
	service := "sip"
	if transport == "tls" {
		service, proto = "sips", "tcp"
	}
	if addrs := r.lookupSRVAddrs(ctx, service, proto, host); len(addrs) > 0 {
		return addrs, nil
	}

	return errtrace.Wrap2(r.lookupAddrs(ctx, host, DefaultPort))
}

// lookupNAPTRService returns the SRV name of the first NAPTR record matching the transport.
func (r *Resolver) lookupNAPTRService(ctx context.Context, host, transport string) string {
	want, ok := naptrServices[transport]
	if !ok {
		return ""
	}
	recs, err := r.LookupNAPTR(ctx, host)
	if err != nil {
		return ""
	}
	for _, rec := range recs {
		if strings.EqualFold(rec.Flags, "s") && strings.EqualFold(rec.Service, want) && rec.Replacement != "" {
			return rec.Replacement
		}
	}
	return ""
}

func (r *Resolver) lookupSRVAddrs(ctx context.Context, service, proto, name string) []netip.AddrPort {
	srvs, err := r.LookupSRV(ctx, service, proto, name)
	if err != nil {
		return nil
	}
	slices.SortStableFunc(srvs, func(a, b *SRV) int {
		if c := cmp.Compare(a.Priority, b.Priority); c != 0 {
			return c
		}
		return cmp.Compare(b.Weight, a.Weight)
	})

	var out []netip.AddrPort
	for _, srv := range srvs {
		addrs, err := r.lookupAddrs(ctx, srv.Target, srv.Port)
		if err != nil {
			continue
		}
		out = append(out, addrs...)
	}
	return out
}

func (r *Resolver) lookupAddrs(ctx context.Context, host string, port uint16) ([]netip.AddrPort, error) {
	addrs, err := r.LookupAddrs(ctx, host)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	if len(addrs) == 0 {
		return nil, errtrace.Wrap(&net.DNSError{Err: "no addresses", Name: host, IsNotFound: true})
	}
	out := make([]netip.AddrPort, len(addrs))
	for i, addr := range addrs {
		out[i] = netip.AddrPortFrom(addr, port)
	}
	return out, nil
}

// LookupTargets resolves the host with the default resolver.
func LookupTargets(ctx context.Context, host string, port uint16, transport string) ([]netip.AddrPort, error) {
	return errtrace.Wrap2(defResolver.LookupTargets(ctx, host, port, transport))
}
