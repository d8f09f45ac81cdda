package dns_test

import (
	"context"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	mdns "github.com/miekg/dns"
	"go.uber.org/goleak"

	"github.com/ghettovoice/sipua/dns"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// zone answers the queries of the test resolver.
var zone = map[uint16][]string{
	mdns.TypeNAPTR: {
		`naptr.example.com. 60 IN NAPTR 20 10 "s" "SIP+D2T" "" _sip._tcp.naptr.example.com.`,
		`naptr.example.com. 60 IN NAPTR 10 10 "s" "SIP+D2U" "" _sip._udp.naptr.example.com.`,
	},
	mdns.TypeSRV: {
		`_sip._udp.naptr.example.com. 60 IN SRV 10 10 5070 sip1.example.com.`,
		`_sip._udp.srv.example.com. 60 IN SRV 20 10 5080 sip2.example.com.`,
		`_sip._udp.srv.example.com. 60 IN SRV 10 10 5090 sip1.example.com.`,
	},
	mdns.TypeA: {
		`sip1.example.com. 60 IN A 192.0.2.10`,
		`sip2.example.com. 60 IN A 192.0.2.20`,
		`plain.example.com. 60 IN A 192.0.2.30`,
	},
}

func startServer(tb testing.TB) string {
	tb.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		tb.Fatalf("net.ListenPacket() error = %v, want nil", err)
	}

	mux := mdns.NewServeMux()
	mux.HandleFunc(".", func(w mdns.ResponseWriter, req *mdns.Msg) {
		res := new(mdns.Msg)
		res.SetReply(req)
		q := req.Question[0]
		for _, s := range zone[q.Qtype] {
			rr, err := mdns.NewRR(s)
			if err != nil {
				continue
			}
			if mdns.CanonicalName(rr.Header().Name) == mdns.CanonicalName(q.Name) {
				res.Answer = append(res.Answer, rr)
			}
		}
		if len(res.Answer) == 0 && q.Qtype != mdns.TypeAAAA {
			res.SetRcode(req, mdns.RcodeNameError)
		}
		w.WriteMsg(res) //nolint:errcheck
	})

	started := make(chan struct{})
	srv := &mdns.Server{PacketConn: pc, Handler: mux, NotifyStartedFunc: func() { close(started) }}
	go srv.ActivateAndServe() //nolint:errcheck
	<-started
	tb.Cleanup(func() { srv.Shutdown() }) //nolint:errcheck

	return pc.LocalAddr().String()
}

func newResolver(tb testing.TB) *dns.Resolver {
	tb.Helper()

	addr := startServer(tb)
	r := &dns.Resolver{NameServer: addr, Timeout: time.Second}
	r.PreferGo = true
	r.Dial = func(ctx context.Context, _, _ string) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "udp", addr)
	}
	return r
}

func TestResolver_LookupNAPTR(t *testing.T) {
	t.Parallel()

	r := newResolver(t)
	recs, err := r.LookupNAPTR(t.Context(), "naptr.example.com")
	if err != nil {
		t.Fatalf("r.LookupNAPTR() error = %v, want nil", err)
	}
	want := []*dns.NAPTR{
		{Order: 10, Preference: 10, Flags: "s", Service: "SIP+D2U", Replacement: "_sip._udp.naptr.example.com."},
		{Order: 20, Preference: 10, Flags: "s", Service: "SIP+D2T", Replacement: "_sip._tcp.naptr.example.com."},
	}
	if diff := cmp.Diff(want, recs); diff != "" {
		t.Fatalf("r.LookupNAPTR() mismatch (-want +got):\n%s", diff)
	}
}

func TestResolver_LookupTargets(t *testing.T) {
	t.Parallel()

	r := newResolver(t)
	cases := []struct {
		name string
		host string
		port uint16
		want []netip.AddrPort
	}{
		{"ipv4 literal", "203.0.113.5", 0, []netip.AddrPort{netip.MustParseAddrPort("203.0.113.5:5060")}},
		{"ipv6 literal", "[2001:db8::1]", 5070, []netip.AddrPort{netip.MustParseAddrPort("[2001:db8::1]:5070")}},
		{"explicit port", "sip2.example.com", 5099, []netip.AddrPort{netip.MustParseAddrPort("192.0.2.20:5099")}},
		{"naptr", "naptr.example.com", 0, []netip.AddrPort{netip.MustParseAddrPort("192.0.2.10:5070")}},
		{"srv", "srv.example.com", 0, []netip.AddrPort{
			netip.MustParseAddrPort("192.0.2.10:5090"),
			netip.MustParseAddrPort("192.0.2.20:5080"),
		}},
		{"a fallback", "plain.example.com", 0, []netip.AddrPort{netip.MustParseAddrPort("192.0.2.30:5060")}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := r.LookupTargets(t.Context(), c.host, c.port, "udp")
			if err != nil {
				t.Fatalf("r.LookupTargets(%q, %d) error = %v, want nil", c.host, c.port, err)
			}
			if diff := cmp.Diff(c.want, got, cmp.Comparer(func(a, b netip.AddrPort) bool { return a == b })); diff != "" {
				t.Fatalf("r.LookupTargets(%q, %d) mismatch (-want +got):\n%s", c.host, c.port, diff)
			}
		})
	}
}

func TestResolver_LookupTargets_NotFound(t *testing.T) {
	t.Parallel()

	r := newResolver(t)
	if _, err := r.LookupTargets(t.Context(), "missing.example.com", 0, "udp"); err == nil {
		t.Fatal("r.LookupTargets(missing) error = nil, want error")
	}
	if _, err := r.LookupTargets(t.Context(), "", 0, "udp"); err == nil {
		t.Fatal("r.LookupTargets(\"\") error = nil, want error")
	}
}
