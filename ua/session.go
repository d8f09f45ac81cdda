package ua

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"braces.dev/errtrace"
	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"

	"github.com/ghettovoice/sipua/dialog"
	"github.com/ghettovoice/sipua/internal/errorutil"
	"github.com/ghettovoice/sipua/internal/timeutil"
	"github.com/ghettovoice/sipua/internal/types"
	"github.com/ghettovoice/sipua/log"
	"github.com/ghettovoice/sipua/message"
	"github.com/ghettovoice/sipua/sdh"
	"github.com/ghettovoice/sipua/transaction"
)

// AcceptsInvite is implemented by sessions answering an INVITE.
type AcceptsInvite interface {
	Progress(ctx context.Context, opts *ProgressOptions) error
	Accept(ctx context.Context, opts *AcceptOptions) error
	Reject(opts *RejectOptions) error
}

// NegotiatesOfferAnswer is implemented by sessions negotiating media.
type NegotiatesOfferAnswer interface {
	SessionDescriptionHandler() sdh.Handler
	SignalingState() dialog.SignalingState
}

// EmitsProtocolEvents is implemented by sessions emitting [Event].
type EmitsProtocolEvents interface {
	OnEvent(fn EventHandler) (remove func())
}

var (
	_ AcceptsInvite         = (*Invitation)(nil)
	_ NegotiatesOfferAnswer = (*Session)(nil)
	_ EmitsProtocolEvents   = (*Session)(nil)
)

// TerminateOptions are options of [Inviter.Terminate] and [Invitation.Terminate].
type TerminateOptions struct {
	// Headers are extra headers of the BYE, CANCEL or rejection response.
	Headers []sip.Header
	// Reason adds a Reason header to the BYE or CANCEL.
	Reason *ReasonOptions
}

// ReasonOptions describe a Reason header (RFC 3326).
type ReasonOptions struct {
	Code int
	Text string
}

func (o *TerminateOptions) headers() []sip.Header {
	if o == nil {
		return nil
	}
	hdrs := o.Headers
	if o.Reason != nil {
		hdrs = append(hdrs, message.ReasonHeader(o.Reason.Code, o.Reason.Text))
	}
	return hdrs
}

// Session is the state common to outgoing and incoming INVITE sessions.
// It is embedded in [Inviter] and [Invitation].
type Session struct {
	core     *Core
	impl     session
	id       string
	outgoing bool
	log      *slog.Logger
	created  time.Time
	// ctx is passed to the session description handler and canceled when the session ends
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	status  Status
	dlg     *dialog.Dialog
	handler sdh.Handler
	pai     *sip.Uri
	cause   Cause
	timers  map[string]*timeutil.Timer

	onEvent types.CallbackManager[EventHandler]
}

func newSession(c *Core, impl session, outgoing bool) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		core:     c,
		impl:     impl,
		id:       uuid.NewString(),
		outgoing: outgoing,
		created:  time.Now(),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		status:   StatusInitial,
		timers:   make(map[string]*timeutil.Timer),
	}
	s.log = c.log.With(slog.String("session_id", s.id))
	return s
}

func (s *Session) base() *Session { return s }

// ID returns the local session identifier.
func (s *Session) ID() string { return s.id }

// Outgoing reports whether the session was initiated locally.
func (s *Session) Outgoing() bool { return s.outgoing }

// Status returns the current session status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Dialog returns the dialog of the session, nil until a dialog is established.
func (s *Session) Dialog() *dialog.Dialog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dlg
}

// SessionDescriptionHandler returns the session description handler, nil until created.
func (s *Session) SessionDescriptionHandler() sdh.Handler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handler
}

// SignalingState returns the offer/answer state of the session dialog.
func (s *Session) SignalingState() dialog.SignalingState {
	if d := s.Dialog(); d != nil {
		return d.Signaling().State()
	}
	if s.Status() == StatusTerminated {
		return dialog.SignalingClosed
	}
	return dialog.SignalingInitial
}

// AssertedIdentity returns the P-Asserted-Identity of the remote party, if any.
func (s *Session) AssertedIdentity() (sip.Uri, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pai == nil {
		return sip.Uri{}, false
	}
	return *s.pai, true
}

// Cause returns the cause the session terminated with.
func (s *Session) Cause() Cause {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cause
}

// Done returns a channel closed when the session terminates.
func (s *Session) Done() <-chan struct{} { return s.done }

// OnEvent registers the session event handler.
func (s *Session) OnEvent(fn EventHandler) (remove func()) { return s.onEvent.Add(fn) }

// LogValue implements [slog.LogValuer].
func (s *Session) LogValue() slog.Value {
	if s == nil {
		return slog.Value{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	attrs := []slog.Attr{
		slog.String("id", s.id),
		slog.String("status", string(s.status)),
		slog.Bool("outgoing", s.outgoing),
	}
	if s.dlg != nil {
		attrs = append(attrs, slog.Any("dialog", s.dlg.ID()))
	}
	return slog.GroupValue(attrs...)
}

func (s *Session) direction() string {
	if s.outgoing {
		return "outgoing"
	}
	return "incoming"
}

// transit moves the session to the status. Invalid transitions are logged and refused.
func (s *Session) transit(ctx context.Context, to Status) bool {
	s.mu.Lock()
	from, ok := s.transitLocked(to)
	s.mu.Unlock()

	if !ok {
		s.log.LogAttrs(ctx, slog.LevelWarn, "invalid session status transition",
			slog.String("from", string(from)),
			slog.String("to", string(to)),
		)
		return false
	}
	s.log.LogAttrs(ctx, slog.LevelDebug, "session status changed",
		slog.String("from", string(from)),
		slog.String("to", string(to)),
	)
	return true
}

func (s *Session) transitLocked(to Status) (Status, bool) {
	from := s.status
	if err := transit(&s.status, to); err != nil {
		return from, false
	}
	return from, true
}

// expect returns [ErrInvalidState] unless the session is in one of the statuses.
func (s *Session) expect(sts ...Status) error {
	if st := s.Status(); !st.in(sts...) {
		if st == StatusTerminated {
			return errtrace.Wrap(errorutil.NewWrapperError(ErrSessionTerminated, NewInvalidStateError(st)))
		}
		return errtrace.Wrap(NewInvalidStateError(st))
	}
	return nil
}

func (s *Session) setDialog(d *dialog.Dialog) {
	s.mu.Lock()
	s.dlg = d
	s.mu.Unlock()
}

func (s *Session) setHandler(ctx context.Context, h sdh.Handler) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()

	s.emit(ctx, SDHCreatedEvent{EventInfo: EventInfo{}, Handler: h})
}

func (s *Session) capturePAI(msg sip.Message) {
	u, ok := message.PAssertedIdentity(msg)
	if !ok {
		return
	}
	s.mu.Lock()
	s.pai = u
	s.mu.Unlock()
}

// emit delivers the events to the session handlers. It must be called without the session lock.
func (s *Session) emit(ctx context.Context, evts ...Event) {
	for _, evt := range evts {
		for fn := range s.onEvent.All() {
			fn(ctx, s, evt)
		}
	}
}

// startTimer starts or restarts the named session timer.
// The callback is not called if the timer was stopped or replaced meanwhile.
func (s *Session) startTimer(name string, d time.Duration, fn func(ctx context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == StatusTerminated {
		return
	}
	if t := s.timers[name]; t != nil {
		t.Stop()
	}
	var t *timeutil.Timer
	t = timeutil.AfterFunc(d, func() {
		s.mu.Lock()
		if s.timers[name] != t {
			s.mu.Unlock()
			return
		}
		delete(s.timers, name)
		s.mu.Unlock()

		s.core.metrics.TimerExpired(name)
		s.log.LogAttrs(s.ctx, slog.LevelDebug, "session timer expired", slog.String("timer", name))
		fn(s.ctx)
	})
	s.timers[name] = t
}

func (s *Session) stopTimer(names ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range names {
		if t := s.timers[name]; t != nil {
			t.Stop()
			delete(s.timers, name)
		}
	}
}

func (s *Session) stopTimersLocked() {
	for name, t := range s.timers {
		t.Stop()
		delete(s.timers, name)
	}
}

// end terminates the session with the cause and emits the events followed by [TerminatedEvent].
// It returns false if the session was already terminated.
func (s *Session) end(ctx context.Context, cause Cause, msg sip.Message, evts ...Event) bool {
	s.mu.Lock()
	if s.status == StatusTerminated {
		s.mu.Unlock()
		return false
	}
	from := s.status
	transit(&s.status, StatusTerminated) //nolint:errcheck
	s.cause = cause
	s.stopTimersLocked()
	h, d := s.handler, s.dlg
	s.mu.Unlock()

	if h != nil {
		h.Close()
	}
	if d != nil {
		d.Terminate(ctx) //nolint:errcheck
	}
	s.impl.dispose(ctx)
	s.core.forget(s)
	s.cancel()

	s.core.metrics.SessionEnded(s.direction(), string(cause))
	s.log.LogAttrs(ctx, slog.LevelDebug, "session terminated",
		slog.String("from", string(from)),
		slog.String("cause", string(cause)),
	)

	s.emit(ctx, append(evts, TerminatedEvent{newInfo(msg, cause)})...)
	close(s.done)
	return true
}

func (s *Session) sendBye(ctx context.Context, d *dialog.Dialog, hdrs []sip.Header) error {
	req := d.NewRequest(sip.BYE, &dialog.RequestOptions{Headers: hdrs})
	tx, err := s.core.sendRequest(ctx, req)
	if err != nil {
		s.log.LogAttrs(ctx, slog.LevelWarn, "failed to send BYE",
			slog.Any("request", log.Message(req)),
			slog.Any("error", err),
		)
		return errtrace.Wrap(err)
	}
	s.log.LogAttrs(ctx, slog.LevelDebug, "BYE sent", slog.Any("transaction", tx))
	return nil
}

// bye sends BYE on the session dialog and terminates the session.
func (s *Session) bye(ctx context.Context, cause Cause, hdrs []sip.Header) error {
	d := s.Dialog()
	if d == nil {
		return errtrace.Wrap(ErrNoDialog)
	}
	err := s.sendBye(ctx, d, hdrs)
	s.end(ctx, cause, nil, ByeEvent{newInfo(nil, cause)})
	return errtrace.Wrap(err)
}

// recvRequest dispatches the in-dialog request.
func (s *Session) recvRequest(ctx context.Context, tx transaction.ServerTransaction, req *sip.Request, d *dialog.Dialog) {
	if err := d.RecvRequest(req); err != nil {
		code := message.StatusInternalServerError
		if errors.Is(err, dialog.ErrDialogTerminated) {
			code = message.StatusCallTransactionNotExist
		}
		s.log.LogAttrs(ctx, slog.LevelWarn, "in-dialog request refused",
			slog.Any("request", log.Message(req)),
			slog.Any("error", err),
		)
		s.core.respond(ctx, tx, req, code, "", message.ResponseParams{}) //nolint:errcheck
		return
	}

	switch req.Method {
	case sip.BYE:
		s.impl.recvBye(ctx, tx, req, d)
	case sip.PRACK:
		s.impl.recvPrack(ctx, tx, req, d)
	case sip.INFO:
		s.core.respond(ctx, tx, req, message.StatusOK, "", message.ResponseParams{}) //nolint:errcheck
	case sip.INVITE, sip.UPDATE:
		s.core.respond(ctx, tx, req, message.StatusNotImplemented, "", message.ResponseParams{}) //nolint:errcheck
	default:
		s.core.respond(ctx, tx, req, message.StatusMethodNotAllowed, "", message.ResponseParams{ //nolint:errcheck
			Headers: []sip.Header{allowHeader()},
		})
	}
}

// recvBye answers BYE and terminates the session.
func (s *Session) recvBye(ctx context.Context, tx transaction.ServerTransaction, req *sip.Request, _ *dialog.Dialog) {
	s.core.respond(ctx, tx, req, message.StatusOK, "", message.ResponseParams{}) //nolint:errcheck
	s.end(ctx, CauseBye, req, ByeEvent{newInfo(req, CauseBye)})
}

// DTMF sends the tones through the session description handler.
func (s *Session) DTMF(tones string, opts *sdh.DTMFOptions) bool {
	if s.Status() != StatusConfirmed {
		return false
	}
	h := s.SessionDescriptionHandler()
	return h != nil && h.SendDTMF(tones, opts)
}

// sdhContext derives the context of a session description handler call,
// it is canceled when the session terminates.
func (s *Session) sdhContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
