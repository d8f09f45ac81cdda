package dialog_test

import (
	"context"
	"errors"
	"testing"

	"github.com/emiago/sipgo/sip"
	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/ghettovoice/sipua/dialog"
	"github.com/ghettovoice/sipua/message"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	aliceURI   = sip.Uri{Scheme: "sip", User: "alice", Host: "alice.example.com"}
	bobURI     = sip.Uri{Scheme: "sip", User: "bob", Host: "bob.example.com"}
	aliceCtURI = sip.Uri{Scheme: "sip", User: "alice", Host: "10.0.0.1", Port: 5060}
	bobCtURI   = sip.Uri{Scheme: "sip", User: "bob", Host: "10.0.0.2", Port: 5060}
)

func newInvite(tb testing.TB, recordRoute ...string) *sip.Request {
	tb.Helper()

	req := message.NewRequest(message.RequestParams{
		Method:     sip.INVITE,
		RequestURI: bobURI,
		CallID:     "call-1@alice.example.com",
		From:       aliceURI,
		FromName:   "Alice",
		FromTag:    "alice-tag",
		To:         bobURI,
		CSeq:       10,
		Via:        message.ViaParams{Host: "10.0.0.1", Port: 5060},
		Contact:    &aliceCtURI,
	})
	if recordRoute == nil {
		recordRoute = []string{"<sip:p2.example.com;lr>", "<sip:p1.example.com;lr>"}
	}
	for _, rr := range recordRoute {
		req.AppendHeader(sip.NewHeader("Record-Route", rr))
	}
	return req
}

func newResponse(tb testing.TB, invite *sip.Request, code int, toTag string) *sip.Response {
	tb.Helper()
	return message.NewResponse(invite, code, "", message.ResponseParams{ToTag: toTag, Contact: &bobCtURI})
}

func TestNewUAC(t *testing.T) {
	t.Parallel()

	invite := newInvite(t)
	res := newResponse(t, invite, 180, "bob-tag")

	d, err := dialog.NewUAC(invite, res, &dialog.Options{Via: message.ViaParams{Host: "10.0.0.1", Port: 5060}})
	if err != nil {
		t.Fatalf("dialog.NewUAC(INVITE, 180) error = %v, want nil", err)
	}

	want := dialog.ID{CallID: "call-1@alice.example.com", LocalTag: "alice-tag", RemoteTag: "bob-tag"}
	if diff := cmp.Diff(want, d.ID()); diff != "" {
		t.Errorf("d.ID() mismatch (-want +got):\n%s", diff)
	}
	if !d.IsEarly() {
		t.Errorf("d.State() = %q, want %q", d.State(), dialog.StateEarly)
	}
	if got := d.RemoteTarget(); got.Host != bobCtURI.Host {
		t.Errorf("d.RemoteTarget() = %v, want %v", &got, &bobCtURI)
	}
	routes := d.RouteSet()
	if len(routes) != 2 || routes[0].Host != "p1.example.com" || routes[1].Host != "p2.example.com" {
		t.Errorf("d.RouteSet() = %v, want reversed Record-Route", routes)
	}
	if got := d.LocalSeq(); got != 10 {
		t.Errorf("d.LocalSeq() = %d, want 10", got)
	}

	bye := d.NewRequest(sip.BYE, nil)
	if seq, m := message.CSeq(bye); seq != 11 || m != sip.BYE {
		t.Errorf("BYE CSeq = %d %s, want 11 BYE", seq, m)
	}
	if got := message.ToTag(bye); got != "bob-tag" {
		t.Errorf("BYE To-tag = %q, want %q", got, "bob-tag")
	}
	if got := bye.Recipient.Host; got != bobCtURI.Host {
		t.Errorf("BYE Request-URI host = %q, want %q", got, bobCtURI.Host)
	}
	if got := len(bye.GetHeaders("Route")); got != 2 {
		t.Errorf("BYE Route count = %d, want 2", got)
	}

	ack := d.NewAck(10, nil)
	if seq, m := message.CSeq(ack); seq != 10 || m != sip.ACK {
		t.Errorf("ACK CSeq = %d %s, want 10 ACK", seq, m)
	}
	if message.Branch(ack) == message.Branch(invite) {
		t.Error("2xx ACK reuses the INVITE branch")
	}
	if got := d.LocalSeq(); got != 11 {
		t.Errorf("d.LocalSeq() after ACK = %d, want 11", got)
	}
}

func TestNewUAC_Errors(t *testing.T) {
	t.Parallel()

	invite := newInvite(t)
	if _, err := dialog.NewUAC(invite, newResponse(t, invite, 180, ""), nil); !errors.Is(err, dialog.ErrMissingTag) {
		t.Errorf("dialog.NewUAC(180 without tag) error = %v, want %v", err, dialog.ErrMissingTag)
	}

	res := message.NewResponse(invite, 200, "", message.ResponseParams{ToTag: "bob-tag"})
	if _, err := dialog.NewUAC(invite, res, nil); !errors.Is(err, dialog.ErrMissingContact) {
		t.Errorf("dialog.NewUAC(200 without Contact) error = %v, want %v", err, dialog.ErrMissingContact)
	}
}

func TestNewUAS(t *testing.T) {
	t.Parallel()

	invite := newInvite(t)
	d, err := dialog.NewUAS(invite, "bob-tag", &dialog.Options{Contact: &bobCtURI})
	if err != nil {
		t.Fatalf("dialog.NewUAS(INVITE) error = %v, want nil", err)
	}
	want := dialog.ID{CallID: "call-1@alice.example.com", LocalTag: "bob-tag", RemoteTag: "alice-tag"}
	if diff := cmp.Diff(want, d.ID()); diff != "" {
		t.Errorf("d.ID() mismatch (-want +got):\n%s", diff)
	}
	if seq, ok := d.RemoteSeq(); !ok || seq != 10 {
		t.Errorf("d.RemoteSeq() = %d, %v, want 10, true", seq, ok)
	}
	routes := d.RouteSet()
	if len(routes) != 2 || routes[0].Host != "p2.example.com" {
		t.Errorf("d.RouteSet() = %v, want Record-Route order", routes)
	}

	ctx := t.Context()
	if err := d.Confirm(ctx, nil); err != nil {
		t.Fatalf("d.Confirm() error = %v, want nil", err)
	}

	bye := message.NewRequest(message.RequestParams{
		Method: sip.BYE, RequestURI: bobCtURI, CallID: "call-1@alice.example.com",
		From: aliceURI, FromTag: "alice-tag", To: bobURI, ToTag: "bob-tag", CSeq: 9,
	})
	if err := d.RecvRequest(bye); !errors.Is(err, dialog.ErrCSeqOutOfOrder) {
		t.Errorf("d.RecvRequest(BYE cseq 9) error = %v, want %v", err, dialog.ErrCSeqOutOfOrder)
	}
	ack := d.NewAck(10, nil)
	if err := d.RecvRequest(ack); err != nil {
		t.Errorf("d.RecvRequest(ACK cseq 10) error = %v, want nil", err)
	}

	if _, err := dialog.NewUAS(invite, "", nil); !errors.Is(err, dialog.ErrMissingTag) {
		t.Errorf("dialog.NewUAS(empty tag) error = %v, want %v", err, dialog.ErrMissingTag)
	}
}

func TestDialog_Lifecycle(t *testing.T) {
	t.Parallel()

	invite := newInvite(t)
	d, err := dialog.NewUAC(invite, newResponse(t, invite, 183, "bob-tag"), nil)
	if err != nil {
		t.Fatalf("dialog.NewUAC(INVITE, 183) error = %v, want nil", err)
	}

	var trans [][2]dialog.State
	d.OnStateChanged(func(_ context.Context, _ *dialog.Dialog, from, to dialog.State) {
		trans = append(trans, [2]dialog.State{from, to})
	})

	ctx := t.Context()
	if err := d.Confirm(ctx, newResponse(t, invite, 200, "bob-tag")); err != nil {
		t.Fatalf("d.Confirm(200) error = %v, want nil", err)
	}
	if err := d.Confirm(ctx, nil); err != nil {
		t.Fatalf("d.Confirm() on confirmed error = %v, want nil", err)
	}
	if err := d.Terminate(ctx); err != nil {
		t.Fatalf("d.Terminate() error = %v, want nil", err)
	}
	if err := d.Terminate(ctx); err != nil {
		t.Fatalf("d.Terminate() twice error = %v, want nil", err)
	}
	if err := d.Confirm(ctx, nil); !errors.Is(err, dialog.ErrDialogTerminated) {
		t.Fatalf("d.Confirm() on terminated error = %v, want %v", err, dialog.ErrDialogTerminated)
	}
	if got := d.Signaling().State(); got != dialog.SignalingClosed {
		t.Errorf("signaling state after Terminate = %q, want %q", got, dialog.SignalingClosed)
	}

	want := [][2]dialog.State{
		{dialog.StateEarly, dialog.StateConfirmed},
		{dialog.StateConfirmed, dialog.StateTerminated},
	}
	if diff := cmp.Diff(want, trans); diff != "" {
		t.Errorf("transitions mismatch (-want +got):\n%s", diff)
	}
}

func TestDialog_Pracked(t *testing.T) {
	t.Parallel()

	invite := newInvite(t)
	d, err := dialog.NewUAC(invite, newResponse(t, invite, 183, "bob-tag"), nil)
	if err != nil {
		t.Fatalf("dialog.NewUAC(INVITE, 183) error = %v, want nil", err)
	}

	if d.Pracked(100) {
		t.Error("d.Pracked(100) on empty list = true, want false")
	}
	d.AddPracked(100)
	for _, tc := range []struct {
		rseq uint32
		want bool
	}{
		{100, true},
		{99, true},
		{101, false},
	} {
		if got := d.Pracked(tc.rseq); got != tc.want {
			t.Errorf("d.Pracked(%d) = %v, want %v", tc.rseq, got, tc.want)
		}
	}
	d.RemovePracked(100)
	if d.Pracked(100) {
		t.Error("d.Pracked(100) after remove = true, want false")
	}
}

func TestDialog_StrictRoute(t *testing.T) {
	t.Parallel()

	invite := newInvite(t, "<sip:strict.example.com>")
	res := newResponse(t, invite, 200, "bob-tag")

	d, err := dialog.NewUAC(invite, res, nil)
	if err != nil {
		t.Fatalf("dialog.NewUAC(INVITE, 200) error = %v, want nil", err)
	}
	bye := d.NewRequest(sip.BYE, nil)
	if got := bye.Recipient.Host; got != "strict.example.com" {
		t.Errorf("BYE Request-URI host = %q, want %q", got, "strict.example.com")
	}
	routes := message.HeaderURIs(bye, "Route")
	if len(routes) != 1 || routes[0].Host != bobCtURI.Host {
		t.Errorf("BYE Route = %v, want remote target", routes)
	}
}
