package transaction_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/emiago/sipgo/sip"
	"go.uber.org/goleak"

	"github.com/ghettovoice/sipua/message"
	"github.com/ghettovoice/sipua/transaction"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testTimings() transaction.Timings {
	t1 := 10 * time.Millisecond
	return transaction.NewTimings(t1, 8*t1, 10*t1, 64*t1)
}

type stubTransport struct {
	reliable bool

	mu  sync.Mutex
	err error

	sent chan sip.Message
}

func newStubTransport(reliable bool) *stubTransport {
	return &stubTransport{reliable: reliable, sent: make(chan sip.Message, 128)}
}

func (tp *stubTransport) Send(_ context.Context, msg sip.Message) error {
	tp.mu.Lock()
	err := tp.err
	tp.mu.Unlock()
	if err != nil {
		return err
	}
	select {
	case tp.sent <- msg:
	default:
	}
	return nil
}

func (tp *stubTransport) Reliable() bool { return tp.reliable }

func (tp *stubTransport) setErr(err error) {
	tp.mu.Lock()
	tp.err = err
	tp.mu.Unlock()
}

func (tp *stubTransport) waitSend(tb testing.TB, timeout time.Duration) sip.Message {
	tb.Helper()

	select {
	case msg := <-tp.sent:
		return msg
	case <-time.After(timeout):
		tb.Fatalf("no message sent in %v", timeout)
		return nil
	}
}

func (tp *stubTransport) ensureNoSend(tb testing.TB, d time.Duration) {
	tb.Helper()

	select {
	case msg := <-tp.sent:
		tb.Fatalf("unexpected message sent:\n%s", msg)
	case <-time.After(d):
	}
}

func (tp *stubTransport) drain() int {
	var n int
	for {
		select {
		case <-tp.sent:
			n++
		default:
			return n
		}
	}
}

func newRequest(tb testing.TB, method sip.RequestMethod, branch string) *sip.Request {
	tb.Helper()

	if branch == "" {
		branch = message.NewBranch()
	}
	return message.NewRequest(message.RequestParams{
		Method:     method,
		RequestURI: sip.Uri{Scheme: "sip", User: "bob", Host: "bob.example.com"},
		CallID:     "call-1234@alice.example.com",
		From:       sip.Uri{Scheme: "sip", User: "alice", Host: "alice.example.com"},
		FromTag:    "from-1234",
		To:         sip.Uri{Scheme: "sip", User: "bob", Host: "bob.example.com"},
		CSeq:       1,
		Via:        message.ViaParams{Host: "10.0.0.1", Port: 5060, Branch: branch},
	})
}

func newResponse(tb testing.TB, req *sip.Request, code int) *sip.Response {
	tb.Helper()
	return message.NewResponse(req, code, "", message.ResponseParams{ToTag: "to-1234"})
}

func statusOf(tb testing.TB, msg sip.Message) int {
	tb.Helper()

	res, ok := msg.(*sip.Response)
	if !ok {
		tb.Fatalf("sent message is not a response:\n%s", msg)
	}
	return int(res.StatusCode)
}

func methodOf(tb testing.TB, msg sip.Message) sip.RequestMethod {
	tb.Helper()

	req, ok := msg.(*sip.Request)
	if !ok {
		tb.Fatalf("sent message is not a request:\n%s", msg)
	}
	return req.Method
}

func waitForState(tb testing.TB, tx transaction.Transaction, want transaction.State, timeout time.Duration) {
	tb.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if tx.State() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	tb.Fatalf("transaction state did not reach %q, got %q", want, tx.State())
}

func terminateOnCleanup(tb testing.TB, tx transaction.Transaction) {
	tb.Helper()
	tb.Cleanup(func() { tx.Terminate(context.Background()) }) //nolint:errcheck
}

func TestKey(t *testing.T) {
	t.Parallel()

	invite := newRequest(t, sip.INVITE, "z9hG4bK.key")
	srvKey, err := transaction.ServerKey(invite)
	if err != nil {
		t.Fatalf("transaction.ServerKey(INVITE) error = %v, want nil", err)
	}
	if want := (transaction.Key{Branch: "z9hG4bK.key", Method: sip.INVITE}); srvKey != want {
		t.Errorf("transaction.ServerKey(INVITE) = %v, want %v", srvKey, want)
	}

	ack := message.NewNon2xxAck(invite, newResponse(t, invite, 486))
	ackKey, err := transaction.ServerKey(ack)
	if err != nil {
		t.Fatalf("transaction.ServerKey(ACK) error = %v, want nil", err)
	}
	if ackKey != srvKey {
		t.Errorf("transaction.ServerKey(ACK) = %v, want %v", ackKey, srvKey)
	}

	cancel := message.NewCancel(invite)
	cancelKey, _ := transaction.ServerKey(cancel)
	if cancelKey == srvKey {
		t.Errorf("transaction.ServerKey(CANCEL) = %v, want key distinct from INVITE", cancelKey)
	}

	resKey, err := transaction.ClientKey(newResponse(t, invite, 180))
	if err != nil {
		t.Fatalf("transaction.ClientKey(180) error = %v, want nil", err)
	}
	if resKey != srvKey {
		t.Errorf("transaction.ClientKey(180) = %v, want %v", resKey, srvKey)
	}

	req := sip.NewRequest(sip.INVITE, sip.Uri{Scheme: "sip", Host: "example.com"})
	if _, err := transaction.ServerKey(req); err == nil {
		t.Error("transaction.ServerKey(no Via) error = nil, want error")
	}
}

func TestTimings(t *testing.T) {
	t.Parallel()

	var def transaction.Timings
	if got := def.TimeB(); got != 64*transaction.T1 {
		t.Errorf("Timings{}.TimeB() = %v, want %v", got, 64*transaction.T1)
	}
	if got := def.TimeI(); got != transaction.T4 {
		t.Errorf("Timings{}.TimeI() = %v, want %v", got, transaction.T4)
	}

	tm := testTimings()
	data, err := tm.MarshalJSON()
	if err != nil {
		t.Fatalf("tm.MarshalJSON() error = %v, want nil", err)
	}
	var got transaction.Timings
	if err := got.UnmarshalJSON(data); err != nil {
		t.Fatalf("tm.UnmarshalJSON(%s) error = %v, want nil", data, err)
	}
	if got != tm {
		t.Errorf("unmarshaled timings = %+v, want %+v", got, tm)
	}
}
