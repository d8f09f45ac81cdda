package ua_test

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/goleak"

	"github.com/ghettovoice/sipua/log"
	"github.com/ghettovoice/sipua/message"
	"github.com/ghettovoice/sipua/metrics"
	"github.com/ghettovoice/sipua/transaction"
	"github.com/ghettovoice/sipua/transport"
	"github.com/ghettovoice/sipua/ua"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const waitTimeout = 2 * time.Second

// fastTimings shortens T1 for tests waiting for protocol timeouts.
func fastTimings(o *ua.Options) {
	t1 := 20 * time.Millisecond
	o.Timings = transaction.NewTimings(t1, 8*t1, 10*t1, 64*t1)
}

// testTimings keeps reliable provisional retransmissions slower than a PRACK round trip over the pipe.
func testTimings() transaction.Timings {
	t1 := 200 * time.Millisecond
	return transaction.NewTimings(t1, 8*t1, 10*t1, 64*t1)
}

// recordingTransport counts the messages sent by a core.
type recordingTransport struct {
	*transport.PipeEnd

	mu   sync.Mutex
	sent []sip.Message
}

func (tp *recordingTransport) Send(ctx context.Context, msg sip.Message) error {
	tp.mu.Lock()
	tp.sent = append(tp.sent, msg)
	tp.mu.Unlock()
	return tp.PipeEnd.Send(ctx, msg)
}

// labels describes the sent messages: requests by method, responses by code and CSeq method.
func (tp *recordingTransport) labels() []string {
	tp.mu.Lock()
	defer tp.mu.Unlock()

	out := make([]string, 0, len(tp.sent))
	for _, msg := range tp.sent {
		out = append(out, label(msg))
	}
	return out
}

func label(msg sip.Message) string {
	switch m := msg.(type) {
	case *sip.Request:
		return string(m.Method)
	case *sip.Response:
		_, method := message.CSeq(m)
		return strconv.Itoa(int(m.StatusCode)) + " " + string(method)
	default:
		return fmt.Sprintf("%T", msg)
	}
}

type endpoint struct {
	core    *ua.Core
	tp      *recordingTransport
	invites chan *ua.Invitation
}

func newEndpoint(tb testing.TB, name string, end *transport.PipeEnd, configure func(*ua.Options)) *endpoint {
	tb.Helper()

	ep := &endpoint{
		tp:      &recordingTransport{PipeEnd: end},
		invites: make(chan *ua.Invitation, 4),
	}
	host := name + ".example.com"
	opts := &ua.Options{
		Transport:   ep.tp,
		URI:         sip.Uri{Scheme: "sip", User: name, Host: host},
		DisplayName: name,
		Contact:     sip.Uri{Scheme: "sip", User: name, Host: host},
		Via:         message.ViaParams{Transport: "TCP", Host: host},
		UserAgent:   "sipua-test",
		Timings:     testTimings(),
		OnInvite:    func(_ context.Context, inv *ua.Invitation) { ep.invites <- inv },
		Log:         log.Noop,
	}
	if configure != nil {
		configure(opts)
	}

	c, err := ua.NewCore(opts)
	if err != nil {
		tb.Fatalf("ua.NewCore(%s) error = %v, want nil", name, err)
	}
	ep.core = c
	end.OnMessage(c.HandleMessage)
	return ep
}

// newPair connects two cores over a reliable pipe.
func newPair(tb testing.TB, uacOpts, uasOpts func(*ua.Options)) (uac, uas *endpoint) {
	tb.Helper()

	a, b := transport.NewPipe(&transport.PipeOptions{Reliable: true, Log: log.Noop})
	uac = newEndpoint(tb, "alice", a, uacOpts)
	uas = newEndpoint(tb, "bob", b, uasOpts)
	tb.Cleanup(func() {
		uac.core.Close(context.Background()) //nolint:errcheck
		uas.core.Close(context.Background()) //nolint:errcheck
		a.Close()
		b.Close()
	})
	return uac, uas
}

func (ep *endpoint) waitInvite(tb testing.TB) *ua.Invitation {
	tb.Helper()

	select {
	case inv := <-ep.invites:
		return inv
	case <-time.After(waitTimeout):
		tb.Fatal("no incoming INVITE")
		return nil
	}
}

// peer is a bare pipe end driven by the test in place of a remote user agent.
type peer struct {
	end *transport.PipeEnd
	in  chan sip.Message
}

func newPeer(tb testing.TB, uacOpts func(*ua.Options)) (*endpoint, *peer) {
	tb.Helper()

	a, b := transport.NewPipe(&transport.PipeOptions{Reliable: true, Log: log.Noop})
	ep := newEndpoint(tb, "alice", a, uacOpts)
	p := &peer{end: b, in: make(chan sip.Message, 32)}
	b.OnMessage(func(_ context.Context, msg sip.Message) { p.in <- msg })
	tb.Cleanup(func() {
		ep.core.Close(context.Background()) //nolint:errcheck
		a.Close()
		b.Close()
	})
	return ep, p
}

// newCaller connects a UAS core to a peer sending INVITEs over a reliable pipe.
func newCaller(tb testing.TB, uasOpts func(*ua.Options)) (*endpoint, *peer) {
	tb.Helper()

	a, b := transport.NewPipe(&transport.PipeOptions{Reliable: true, Log: log.Noop})
	ep := newEndpoint(tb, "bob", a, uasOpts)
	p := &peer{end: b, in: make(chan sip.Message, 32)}
	b.OnMessage(func(_ context.Context, msg sip.Message) { p.in <- msg })
	tb.Cleanup(func() {
		ep.core.Close(context.Background()) //nolint:errcheck
		a.Close()
		b.Close()
	})
	return ep, p
}

func (p *peer) send(tb testing.TB, msg sip.Message) {
	tb.Helper()

	if err := p.end.Send(context.Background(), msg); err != nil {
		tb.Fatalf("peer.Send(%s) error = %v, want nil", label(msg), err)
	}
}

func (p *peer) recv(tb testing.TB) sip.Message {
	tb.Helper()

	select {
	case msg := <-p.in:
		return msg
	case <-time.After(waitTimeout):
		tb.Fatal("peer received no message")
		return nil
	}
}

func (p *peer) recvRequest(tb testing.TB, method sip.RequestMethod) *sip.Request {
	tb.Helper()

	msg := p.recv(tb)
	req, ok := msg.(*sip.Request)
	if !ok || req.Method != method {
		tb.Fatalf("peer received %q, want %s request", label(msg), method)
	}
	return req
}

func (p *peer) recvResponse(tb testing.TB) *sip.Response {
	tb.Helper()

	for {
		msg := p.recv(tb)
		res, ok := msg.(*sip.Response)
		if !ok {
			tb.Fatalf("peer received %q, want a response", label(msg))
		}
		if res.StatusCode != message.StatusTrying {
			return res
		}
	}
}

func (p *peer) respond(tb testing.TB, req *sip.Request, code int, toTag string, body *message.Body) *sip.Response {
	tb.Helper()

	res := message.NewResponse(req, code, "", message.ResponseParams{
		ToTag:   toTag,
		Contact: &sip.Uri{Scheme: "sip", User: "bob", Host: "peer.example.com"},
		Body:    body,
	})
	if err := p.end.Send(context.Background(), res); err != nil {
		tb.Fatalf("peer.Send(%d) error = %v, want nil", code, err)
	}
	return res
}

// events records session events in order.
type events struct {
	mu   sync.Mutex
	list []ua.Event
}

func watch(s *ua.Session) *events {
	e := new(events)
	s.OnEvent(func(_ context.Context, _ *ua.Session, evt ua.Event) {
		e.mu.Lock()
		e.list = append(e.list, evt)
		e.mu.Unlock()
	})
	return e
}

func (e *events) names() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]string, 0, len(e.list))
	for _, evt := range e.list {
		name := fmt.Sprintf("%T", evt)
		out = append(out, name[len("ua."):])
	}
	return out
}

func (e *events) has(name string) bool {
	for _, n := range e.names() {
		if n == name {
			return true
		}
	}
	return false
}

func waitForStatus(tb testing.TB, s *ua.Session, want ua.Status) {
	tb.Helper()

	deadline := time.Now().Add(waitTimeout)
	for s.Status() != want {
		if time.Now().After(deadline) {
			tb.Fatalf("session status = %q, want %q", s.Status(), want)
		}
		time.Sleep(time.Millisecond)
	}
}

func waitDone(tb testing.TB, s *ua.Session) {
	tb.Helper()

	select {
	case <-s.Done():
	case <-time.After(waitTimeout):
		tb.Fatalf("session is not done, status = %q", s.Status())
	}
}

func TestNewCore(t *testing.T) {
	t.Parallel()

	if _, err := ua.NewCore(nil); !errors.Is(err, ua.ErrInvalidArgument) {
		t.Fatalf("ua.NewCore(nil) error = %v, want %v", err, ua.ErrInvalidArgument)
	}

	a, b := transport.NewPipe(nil)
	defer a.Close()
	defer b.Close()

	if _, err := ua.NewCore(&ua.Options{Transport: a}); !errors.Is(err, ua.ErrInvalidArgument) {
		t.Fatalf("ua.NewCore(no contact) error = %v, want %v", err, ua.ErrInvalidArgument)
	}

	c, err := ua.NewCore(&ua.Options{Transport: a, Contact: sip.Uri{Scheme: "sip", Host: "127.0.0.1"}, Log: log.Noop})
	if err != nil {
		t.Fatalf("ua.NewCore() error = %v, want nil", err)
	}
	if _, err := c.NewInviter(sip.Uri{}, nil); !errors.Is(err, ua.ErrInvalidArgument) {
		t.Fatalf("c.NewInviter(empty target) error = %v, want %v", err, ua.ErrInvalidArgument)
	}
	if err := c.Close(t.Context()); err != nil {
		t.Fatalf("c.Close() error = %v, want nil", err)
	}
	if _, err := c.NewInviter(sip.Uri{Scheme: "sip", Host: "bob.example.com"}, nil); !errors.Is(err, ua.ErrCoreClosed) {
		t.Fatalf("c.NewInviter() after Close error = %v, want %v", err, ua.ErrCoreClosed)
	}
}

func TestRel100Policy_String(t *testing.T) {
	t.Parallel()

	cases := []struct {
		policy ua.Rel100Policy
		want   string
	}{
		{ua.Rel100Supported, "supported"},
		{ua.Rel100Required, "required"},
		{ua.Rel100None, "none"},
	}
	for _, c := range cases {
		if got := c.policy.String(); got != c.want {
			t.Fatalf("Rel100Policy(%d).String() = %q, want %q", int(c.policy), got, c.want)
		}
	}
}

func TestStatus_CanTransit(t *testing.T) {
	t.Parallel()

	cases := []struct {
		from, to ua.Status
		want     bool
	}{
		{ua.StatusInitial, ua.StatusInviteSent, true},
		{ua.StatusInitial, ua.StatusConfirmed, false},
		{ua.StatusInviteSent, ua.StatusConfirmed, true},
		{ua.Status1xxReceived, ua.StatusEarlyMedia, true},
		{ua.Status1xxReceived, ua.Status1xxReceived, true},
		{ua.StatusEarlyMedia, ua.StatusEarlyMedia, true},
		{ua.StatusConfirmed, ua.StatusConfirmed, false},
		{ua.StatusInviteReceived, ua.StatusConfirmed, false},
		{ua.StatusWaitingForAnswer, ua.StatusWaitingForPrack, true},
		{ua.StatusWaitingForPrack, ua.StatusAnsweredWaitingForPrack, true},
		{ua.StatusAnsweredWaitingForPrack, ua.StatusAnswered, true},
		{ua.StatusAnswered, ua.StatusWaitingForAck, true},
		{ua.StatusWaitingForAck, ua.StatusConfirmed, true},
		{ua.StatusWaitingForAck, ua.StatusCanceled, false},
		{ua.StatusConfirmed, ua.StatusCanceled, false},
		{ua.StatusCanceled, ua.StatusTerminated, true},
		{ua.StatusTerminated, ua.StatusConfirmed, false},
	}
	for _, c := range cases {
		if got := c.from.CanTransit(c.to); got != c.want {
			t.Fatalf("Status(%q).CanTransit(%q) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
	if !ua.StatusCanceled.IsEnded() || !ua.StatusTerminated.IsEnded() || ua.StatusConfirmed.IsEnded() {
		t.Fatal("IsEnded() is true only for canceled and terminated statuses")
	}
}

func TestCauseFromStatus(t *testing.T) {
	t.Parallel()

	cases := []struct {
		code int
		want ua.Cause
	}{
		{302, ua.CauseRedirected},
		{401, ua.CauseAuthenticationError},
		{403, ua.CauseRejected},
		{404, ua.CauseNotFound},
		{408, ua.CauseUnavailable},
		{480, ua.CauseUnavailable},
		{484, ua.CauseAddressIncomplete},
		{486, ua.CauseBusy},
		{488, ua.CauseIncompatibleSDP},
		{500, ua.CauseSIPFailureCode},
		{603, ua.CauseRejected},
	}
	for _, c := range cases {
		if got := ua.CauseFromStatus(c.code); got != c.want {
			t.Fatalf("CauseFromStatus(%d) = %q, want %q", c.code, got, c.want)
		}
	}
}

func TestCore_RejectWithoutHandler(t *testing.T) {
	t.Parallel()

	_, p := newCaller(t, func(o *ua.Options) { o.OnInvite = nil })

	p.send(t, newInvite(t, nil))
	res := p.recvResponse(t)
	if res.StatusCode != message.StatusTemporarilyUnavailable {
		t.Fatalf("response status = %d, want %d", res.StatusCode, message.StatusTemporarilyUnavailable)
	}
	if message.ToTag(res) == "" {
		t.Fatal("rejection has no To tag")
	}
}

func TestCore_UnsupportedExtension(t *testing.T) {
	t.Parallel()

	uas, p := newCaller(t, nil)

	p.send(t, newInvite(t, []sip.Header{sip.NewHeader("Require", "foo")}))
	res := p.recvResponse(t)
	if res.StatusCode != message.StatusBadExtension {
		t.Fatalf("response status = %d, want %d", res.StatusCode, message.StatusBadExtension)
	}
	if !message.HasOptionTag(res, "Unsupported", "foo") {
		t.Fatalf("Unsupported = %q, want foo", message.HeaderValue(res, "Unsupported"))
	}
	if uas.core.Sessions() != 0 {
		t.Fatalf("core.Sessions() = %d, want 0", uas.core.Sessions())
	}
}

func TestCore_Metrics(t *testing.T) {
	t.Parallel()

	m := metrics.New("sipua")
	uac, uas := newPair(t, func(o *ua.Options) { o.Metrics = m }, nil)

	inv, err := uac.core.NewInviter(sip.Uri{Scheme: "sip", User: "bob", Host: "bob.example.com"}, nil)
	if err != nil {
		t.Fatalf("core.NewInviter() error = %v, want nil", err)
	}
	if err := inv.Invite(t.Context(), nil); err != nil {
		t.Fatalf("inv.Invite() error = %v, want nil", err)
	}
	uas.waitInvite(t).Reject(&ua.RejectOptions{StatusCode: message.StatusBusyHere}) //nolint:errcheck
	waitDone(t, inv.Session)

	if uac.core.Sessions() != 0 {
		t.Fatalf("core.Sessions() = %d, want 0", uac.core.Sessions())
	}
	if got := testutil.CollectAndCount(m, "sipua_sessions_started_total"); got != 1 {
		t.Fatalf("sessions_started_total series = %d, want 1", got)
	}
	if got := testutil.CollectAndCount(m, "sipua_sessions_ended_total"); got != 1 {
		t.Fatalf("sessions_ended_total series = %d, want 1", got)
	}
}

func newInvite(tb testing.TB, hdrs []sip.Header) *sip.Request {
	tb.Helper()

	return message.NewRequest(message.RequestParams{
		Method:     sip.INVITE,
		RequestURI: sip.Uri{Scheme: "sip", User: "bob", Host: "bob.example.com"},
		CallID:     message.NewCallID("peer.example.com"),
		From:       sip.Uri{Scheme: "sip", User: "carol", Host: "peer.example.com"},
		FromTag:    message.NewTag(),
		To:         sip.Uri{Scheme: "sip", User: "bob", Host: "bob.example.com"},
		CSeq:       1,
		Via:        message.ViaParams{Transport: "TCP", Host: "peer.example.com"},
		Contact:    &sip.Uri{Scheme: "sip", User: "carol", Host: "peer.example.com"},
		Headers:    hdrs,
	})
}
