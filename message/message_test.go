package message_test

import (
	"testing"

	"github.com/emiago/sipgo/sip"
	"github.com/google/go-cmp/cmp"

	"github.com/ghettovoice/sipua/message"
)

func newInvite(t *testing.T) *sip.Request {
	t.Helper()

	contact := sip.Uri{Scheme: "sip", User: "alice", Host: "10.0.0.1", Port: 5060}
	return message.NewRequest(message.RequestParams{
		Method:     sip.INVITE,
		RequestURI: sip.Uri{Scheme: "sip", User: "bob", Host: "example.com"},
		CallID:     "call-1",
		From:       sip.Uri{Scheme: "sip", User: "alice", Host: "example.com"},
		FromTag:    "ftag",
		To:         sip.Uri{Scheme: "sip", User: "bob", Host: "example.com"},
		CSeq:       7,
		Via:        message.ViaParams{Host: "10.0.0.1", Port: 5060, Branch: "z9hG4bK.abc"},
		Contact:    &contact,
		RouteSet:   []sip.Uri{{Scheme: "sip", Host: "proxy.example.com", UriParams: sip.HeaderParams{"lr": ""}}},
		Headers:    []sip.Header{sip.NewHeader("Supported", "timer, 100rel")},
		Body:       &message.Body{ContentType: message.ContentTypeSDP, Content: []byte("v=0\r\n")},
	})
}

func TestNewRequest(t *testing.T) {
	t.Parallel()

	req := newInvite(t)
	if got, want := message.CallID(req), "call-1"; got != want {
		t.Errorf("CallID() = %q, want %q", got, want)
	}
	if got, want := message.FromTag(req), "ftag"; got != want {
		t.Errorf("FromTag() = %q, want %q", got, want)
	}
	if got := message.ToTag(req); got != "" {
		t.Errorf("ToTag() = %q, want empty", got)
	}
	if seq, m := message.CSeq(req); seq != 7 || m != sip.INVITE {
		t.Errorf("CSeq() = (%d, %s), want (7, INVITE)", seq, m)
	}
	if got, want := message.Branch(req), "z9hG4bK.abc"; got != want {
		t.Errorf("Branch() = %q, want %q", got, want)
	}
	if !message.HasOptionTag(req, "Supported", message.OptionTag100rel) {
		t.Error("HasOptionTag(Supported, 100rel) = false, want true")
	}
	if message.HasOptionTag(req, "Require", message.OptionTag100rel) {
		t.Error("HasOptionTag(Require, 100rel) = true, want false")
	}
	if got := len(req.GetHeaders("Route")); got != 1 {
		t.Errorf("len(Route) = %d, want 1", got)
	}
	if !message.IsSessionBody(req) {
		t.Error("IsSessionBody() = false, want true")
	}
}

func TestGetBody(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body *message.Body
		want *message.Body
	}{
		{"nil", nil, nil},
		{
			"sdp default disposition",
			&message.Body{ContentType: "application/SDP", Content: []byte("v=0")},
			&message.Body{ContentType: "application/sdp", Content: []byte("v=0"), Disposition: message.DispositionSession},
		},
		{
			"other default disposition",
			&message.Body{ContentType: "text/plain", Content: []byte("hi")},
			&message.Body{ContentType: "text/plain", Content: []byte("hi"), Disposition: message.DispositionRender},
		},
		{
			"explicit disposition",
			&message.Body{ContentType: "application/sdp", Content: []byte("v=0"), Disposition: "early-session"},
			&message.Body{ContentType: "application/sdp", Content: []byte("v=0"), Disposition: "early-session"},
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()

			req := sip.NewRequest(sip.INFO, sip.Uri{Scheme: "sip", Host: "example.com"})
			message.SetBody(req, c.body)
			if diff := cmp.Diff(c.want, message.GetBody(req)); diff != "" {
				t.Errorf("GetBody() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSetBody_ReplacesContentHeaders(t *testing.T) {
	t.Parallel()

	req := newInvite(t)
	message.SetBody(req, &message.Body{ContentType: "text/plain", Content: []byte("hi"), Disposition: "render"})
	if got := len(req.GetHeaders("Content-Type")); got != 1 {
		t.Fatalf("len(Content-Type) = %d, want 1", got)
	}
	if got, want := message.HeaderValue(req, "Content-Type"), "text/plain"; got != want {
		t.Fatalf("HeaderValue(Content-Type) = %q, want %q", got, want)
	}
	if got := len(req.GetHeaders("Content-Disposition")); got != 1 {
		t.Fatalf("len(Content-Disposition) = %d, want 1", got)
	}

	message.SetBody(req, nil)
	if got := len(req.GetHeaders("Content-Type")); got != 0 {
		t.Fatalf("len(Content-Type) after clear = %d, want 0", got)
	}
	if got := len(req.Body()); got != 0 {
		t.Fatalf("len(Body()) after clear = %d, want 0", got)
	}
	if message.IsSessionBody(req) {
		t.Fatal("IsSessionBody() after clear = true, want false")
	}
}

func TestRSeqRAck(t *testing.T) {
	t.Parallel()

	res := sip.NewResponseFromRequest(newInvite(t), 183, "Session Progress", nil)
	if _, ok := message.RSeq(res); ok {
		t.Fatal("RSeq() ok = true, want false")
	}
	res.AppendHeader(message.RSeqHeader(42))
	if got, ok := message.RSeq(res); !ok || got != 42 {
		t.Errorf("RSeq() = (%d, %v), want (42, true)", got, ok)
	}

	rack := message.RAckValue{RSeq: 42, CSeq: 7, Method: sip.INVITE}
	if got, want := rack.String(), "42 7 INVITE"; got != want {
		t.Errorf("RAckValue.String() = %q, want %q", got, want)
	}
	prack := sip.NewRequest(sip.PRACK, sip.Uri{Scheme: "sip", Host: "example.com"})
	prack.AppendHeader(rack.Header())
	got, ok := message.RAck(prack)
	if !ok {
		t.Fatal("RAck() ok = false, want true")
	}
	if diff := cmp.Diff(rack, got); diff != "" {
		t.Errorf("RAck() mismatch (-want +got):\n%s", diff)
	}

	if _, err := message.ParseRAck("1 INVITE"); err == nil {
		t.Error("ParseRAck(\"1 INVITE\") error = nil, want error")
	}
}

func TestParseAddrURI(t *testing.T) {
	t.Parallel()

	uris, err := message.ParseAddrURI(`"Bob, Jr" <sip:bob@10.0.0.2:5070;transport=udp>;expires=30, sip:carol@example.com;q=0.5`)
	if err != nil {
		t.Fatalf("ParseAddrURI() error = %v, want nil", err)
	}
	if len(uris) != 2 {
		t.Fatalf("len(ParseAddrURI()) = %d, want 2", len(uris))
	}
	if uris[0].User != "bob" || uris[0].Host != "10.0.0.2" || uris[0].Port != 5070 {
		t.Errorf("ParseAddrURI()[0] = %v, want sip:bob@10.0.0.2:5070", uris[0].String())
	}
	if uris[1].User != "carol" || uris[1].Host != "example.com" {
		t.Errorf("ParseAddrURI()[1] = %v, want sip:carol@example.com", uris[1].String())
	}

	if _, err := message.ParseAddrURI("<sip:broken"); err == nil {
		t.Error("ParseAddrURI(\"<sip:broken\") error = nil, want error")
	}
}

func TestPAssertedIdentity(t *testing.T) {
	t.Parallel()

	req := newInvite(t)
	if _, ok := message.PAssertedIdentity(req); ok {
		t.Fatal("PAssertedIdentity() ok = true, want false")
	}
	req.AppendHeader(sip.NewHeader("P-Asserted-Identity", `"Alice" <sip:+15550001@example.com>`))
	u, ok := message.PAssertedIdentity(req)
	if !ok {
		t.Fatal("PAssertedIdentity() ok = false, want true")
	}
	if u.User != "+15550001" {
		t.Errorf("PAssertedIdentity().User = %q, want %q", u.User, "+15550001")
	}
}

func TestNewResponse(t *testing.T) {
	t.Parallel()

	req := newInvite(t)
	contact := sip.Uri{Scheme: "sip", User: "bob", Host: "10.0.0.2", Port: 5070}
	res := message.NewResponse(req, message.StatusOK, "", message.ResponseParams{
		ToTag:   "ttag",
		Contact: &contact,
		Body:    &message.Body{ContentType: message.ContentTypeSDP, Content: []byte("v=0\r\n")},
	})
	if got, want := res.Reason, "OK"; got != want {
		t.Errorf("res.Reason = %q, want %q", got, want)
	}
	if got, want := message.ToTag(res), "ttag"; got != want {
		t.Errorf("ToTag() = %q, want %q", got, want)
	}
	if got, want := message.FromTag(res), "ftag"; got != want {
		t.Errorf("FromTag() = %q, want %q", got, want)
	}
	if got := message.ToTag(req); got != "" {
		t.Errorf("request ToTag() = %q, want empty", got)
	}
	if u, ok := message.ContactURI(res); !ok || u.Host != "10.0.0.2" {
		t.Errorf("ContactURI() = (%v, %v), want 10.0.0.2", u.String(), ok)
	}

	trying := message.NewResponse(req, message.StatusTrying, "", message.ResponseParams{ToTag: "ttag"})
	if got := message.ToTag(trying); got != "" {
		t.Errorf("100 ToTag() = %q, want empty", got)
	}
}

func TestNewCancelAndAck(t *testing.T) {
	t.Parallel()

	inv := newInvite(t)
	cancel := message.NewCancel(inv)
	if cancel.Method != sip.CANCEL {
		t.Errorf("cancel.Method = %s, want CANCEL", cancel.Method)
	}
	if got, want := message.Branch(cancel), message.Branch(inv); got != want {
		t.Errorf("cancel Branch() = %q, want %q", got, want)
	}
	if seq, m := message.CSeq(cancel); seq != 7 || m != sip.CANCEL {
		t.Errorf("cancel CSeq() = (%d, %s), want (7, CANCEL)", seq, m)
	}
	if got := len(cancel.GetHeaders("Route")); got != 1 {
		t.Errorf("len(cancel Route) = %d, want 1", got)
	}

	res := message.NewResponse(inv, message.StatusBusyHere, "", message.ResponseParams{ToTag: "ttag"})
	ack := message.NewNon2xxAck(inv, res)
	if ack.Method != sip.ACK {
		t.Errorf("ack.Method = %s, want ACK", ack.Method)
	}
	if got, want := message.ToTag(ack), "ttag"; got != want {
		t.Errorf("ack ToTag() = %q, want %q", got, want)
	}
	if got, want := message.Branch(ack), message.Branch(inv); got != want {
		t.Errorf("ack Branch() = %q, want %q", got, want)
	}
	if seq, m := message.CSeq(ack); seq != 7 || m != sip.ACK {
		t.Errorf("ack CSeq() = (%d, %s), want (7, ACK)", seq, m)
	}
}

func TestReasonHeader(t *testing.T) {
	t.Parallel()

	if got, want := message.ReasonHeader(488, "Not Acceptable Here").Value(), `SIP ;cause=488 ;text="Not Acceptable Here"`; got != want {
		t.Errorf("ReasonHeader().Value() = %q, want %q", got, want)
	}
	if got, want := message.ReasonPhrase(487), "Request Terminated"; got != want {
		t.Errorf("ReasonPhrase(487) = %q, want %q", got, want)
	}
	if got, want := message.ReasonPhrase(799), "Unknown"; got != want {
		t.Errorf("ReasonPhrase(799) = %q, want %q", got, want)
	}
}

func TestTags(t *testing.T) {
	t.Parallel()

	if a, b := message.NewTag(), message.NewTag(); a == b || a == "" {
		t.Errorf("NewTag() = %q, %q, want distinct non-empty", a, b)
	}
	if b := message.NewBranch(); len(b) <= len(message.MagicCookie) || b[:len(message.MagicCookie)] != message.MagicCookie {
		t.Errorf("NewBranch() = %q, want magic cookie prefix", b)
	}
	if id := message.NewCallID("example.com"); len(id) < len("@example.com") || id[len(id)-len("@example.com"):] != "@example.com" {
		t.Errorf("NewCallID() = %q, want @example.com suffix", id)
	}
}
