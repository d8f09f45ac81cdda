package transport_test

import (
	"context"
	"errors"
	"net/netip"
	"strconv"
	"testing"
	"time"

	"github.com/emiago/sipgo/sip"
	"go.uber.org/goleak"

	"github.com/ghettovoice/sipua/log"
	"github.com/ghettovoice/sipua/message"
	"github.com/ghettovoice/sipua/transport"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newRequest(tb testing.TB, cseq uint32, target sip.Uri, via message.ViaParams) *sip.Request {
	tb.Helper()

	return message.NewRequest(message.RequestParams{
		Method:     sip.OPTIONS,
		RequestURI: target,
		CallID:     "call-1234@alice.example.com",
		From:       sip.Uri{Scheme: "sip", User: "alice", Host: "alice.example.com"},
		FromTag:    "from-1234",
		To:         target,
		CSeq:       cseq,
		Via:        via,
	})
}

func recv(tb testing.TB, ch <-chan sip.Message) sip.Message {
	tb.Helper()

	select {
	case msg := <-ch:
		return msg
	case <-time.After(time.Second):
		tb.Fatal("no message received")
		return nil
	}
}

func TestPipe(t *testing.T) {
	t.Parallel()

	a, b := transport.NewPipe(&transport.PipeOptions{Reliable: true, Log: log.Noop})
	defer a.Close()
	defer b.Close()

	if !a.Reliable() || !b.Reliable() {
		t.Fatal("Reliable() = false, want true")
	}

	got := make(chan sip.Message, 8)
	b.OnMessage(func(_ context.Context, msg sip.Message) { got <- msg })

	target := sip.Uri{Scheme: "sip", User: "bob", Host: "bob.example.com"}
	sent := make([]*sip.Request, 3)
	for i := range sent {
		sent[i] = newRequest(t, uint32(i+1), target, message.ViaParams{Host: "10.0.0.1", Port: 5060})
		if err := a.Send(t.Context(), sent[i]); err != nil {
			t.Fatalf("a.Send(req %d) error = %v, want nil", i, err)
		}
	}

	for i, want := range sent {
		msg := recv(t, got)
		req, ok := msg.(*sip.Request)
		if !ok {
			t.Fatalf("message %d is %T, want *sip.Request", i, msg)
		}
		if req == want {
			t.Fatal("received message is the sent instance, want a parsed copy")
		}
		if gotSeq, _ := message.CSeq(req); gotSeq != uint32(i+1) {
			t.Fatalf("message %d CSeq = %d, want %d", i, gotSeq, i+1)
		}
		if message.Branch(req) != message.Branch(want) {
			t.Fatalf("message %d branch = %q, want %q", i, message.Branch(req), message.Branch(want))
		}
	}
}

func TestPipe_Closed(t *testing.T) {
	t.Parallel()

	a, b := transport.NewPipe(nil)
	if a.Reliable() {
		t.Fatal("Reliable() = true, want false")
	}
	b.Close()
	defer a.Close()

	req := newRequest(t, 1, sip.Uri{Scheme: "sip", Host: "bob.example.com"}, message.ViaParams{Host: "10.0.0.1"})
	if err := a.Send(t.Context(), req); !errors.Is(err, transport.ErrTransportClosed) {
		t.Fatalf("a.Send() error = %v, want %v", err, transport.ErrTransportClosed)
	}
	if err := a.Send(t.Context(), nil); !errors.Is(err, transport.ErrInvalidArgument) {
		t.Fatalf("a.Send(nil) error = %v, want %v", err, transport.ErrInvalidArgument)
	}
}

type staticResolver map[string]netip.AddrPort

func (r staticResolver) LookupTargets(_ context.Context, host string, port uint16, _ string) ([]netip.AddrPort, error) {
	if addr, err := netip.ParseAddr(host); err == nil {
		return []netip.AddrPort{netip.AddrPortFrom(addr, port)}, nil
	}
	if ap, ok := r[host]; ok {
		return []netip.AddrPort{ap}, nil
	}
	return nil, errors.New("not found")
}

func TestUDP(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	srv, err := transport.ListenUDP(ctx, "127.0.0.1:0", &transport.UDPOptions{Log: log.Noop})
	if err != nil {
		t.Fatalf("ListenUDP(srv) error = %v, want nil", err)
	}
	defer srv.Close()

	cln, err := transport.ListenUDP(ctx, "127.0.0.1:0", &transport.UDPOptions{
		Resolver: staticResolver{"bob.example.com": srv.LocalAddr()},
		Log:      log.Noop,
	})
	if err != nil {
		t.Fatalf("ListenUDP(cln) error = %v, want nil", err)
	}
	defer cln.Close()

	if cln.Reliable() {
		t.Fatal("Reliable() = true, want false")
	}

	srvIn := make(chan sip.Message, 4)
	srv.OnMessage(func(_ context.Context, msg sip.Message) { srvIn <- msg })
	clnIn := make(chan sip.Message, 4)
	cln.OnMessage(func(_ context.Context, msg sip.Message) { clnIn <- msg })

	// Via carries a host the server cannot reach, the response must follow received/rport
	req := newRequest(t, 1, sip.Uri{Scheme: "sip", User: "bob", Host: "bob.example.com"}, message.ViaParams{
		Host: "192.0.2.1",
		Port: 5999,
	})
	req.Via().Params["rport"] = ""
	if err := cln.Send(ctx, req); err != nil {
		t.Fatalf("cln.Send(req) error = %v, want nil", err)
	}

	in, ok := recv(t, srvIn).(*sip.Request)
	if !ok {
		t.Fatal("server received a non-request message")
	}
	via := in.Via()
	if got, want := via.Params["received"], "127.0.0.1"; got != want {
		t.Fatalf("Via received = %q, want %q", got, want)
	}
	if got, want := via.Params["rport"], cln.LocalAddr().Port(); got != strconv.Itoa(int(want)) {
		t.Fatalf("Via rport = %q, want %d", got, want)
	}

	res := message.NewResponse(in, 200, "", message.ResponseParams{ToTag: "to-1234"})
	if err := srv.Send(ctx, res); err != nil {
		t.Fatalf("srv.Send(res) error = %v, want nil", err)
	}
	out, ok := recv(t, clnIn).(*sip.Response)
	if !ok {
		t.Fatal("client received a non-response message")
	}
	if out.StatusCode != 200 {
		t.Fatalf("response status = %d, want 200", out.StatusCode)
	}
}

func TestUDP_NoTarget(t *testing.T) {
	t.Parallel()

	tp, err := transport.ListenUDP(t.Context(), "127.0.0.1:0", &transport.UDPOptions{
		Resolver: staticResolver{},
		Log:      log.Noop,
	})
	if err != nil {
		t.Fatalf("ListenUDP() error = %v, want nil", err)
	}

	req := newRequest(t, 1, sip.Uri{Scheme: "sip", Host: "unknown.invalid"}, message.ViaParams{Host: "127.0.0.1"})
	if err := tp.Send(t.Context(), req); !errors.Is(err, transport.ErrNoTarget) {
		t.Fatalf("Send() error = %v, want %v", err, transport.ErrNoTarget)
	}

	if err := tp.Close(); err != nil {
		t.Fatalf("Close() error = %v, want nil", err)
	}
	if err := tp.Send(t.Context(), req); !errors.Is(err, transport.ErrTransportClosed) {
		t.Fatalf("Send() after Close error = %v, want %v", err, transport.ErrTransportClosed)
	}
}
