package ua

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"braces.dev/errtrace"
	"github.com/emiago/sipgo/sip"

	"github.com/ghettovoice/sipua/dialog"
	"github.com/ghettovoice/sipua/internal/util"
	"github.com/ghettovoice/sipua/log"
	"github.com/ghettovoice/sipua/message"
	"github.com/ghettovoice/sipua/sdh"
	"github.com/ghettovoice/sipua/transaction"
)

// Session timer names.
const (
	timerNoAnswer = "no_answer"
	timerExpires  = "expires"
	timerRel1xx   = "reliable_1xx"
	timerPrack    = "prack"
	timer2xx      = "2xx"
	timerAck      = "ack"
)

// ProgressOptions are options of [Invitation.Progress].
type ProgressOptions struct {
	// StatusCode of the provisional response, 180 when zero.
	StatusCode int
	// Reason phrase, the default one for the code when empty.
	Reason string
	// Headers are extra headers of the response.
	Headers []sip.Header
	// Rel100 sends the response reliably if the peer supports 100rel.
	Rel100 bool
	// SDHOptions are passed to the session description handler.
	SDHOptions *sdh.Options
	// Modifiers are applied to the local session description.
	Modifiers []sdh.Modifier
}

// AcceptOptions are options of [Invitation.Accept].
type AcceptOptions struct {
	// Headers are extra headers of the 2xx response.
	Headers []sip.Header
	// SDHOptions are passed to the session description handler.
	SDHOptions *sdh.Options
	// Modifiers are applied to the local session description.
	Modifiers []sdh.Modifier
}

// RejectOptions are options of [Invitation.Reject].
type RejectOptions struct {
	// StatusCode of the final response, 480 when zero.
	StatusCode int
	// Reason phrase, the default one for the code when empty.
	Reason string
	// Headers are extra headers of the response.
	Headers []sip.Header
	// Body of the response.
	Body *message.Body
}

// Invitation is an incoming INVITE session (UAS).
type Invitation struct {
	*Session

	tx  transaction.ServerTransaction
	req *sip.Request
	// reliable provisional responses may be used
	rel100 bool
	// every provisional response except 100 must be reliable
	rel100Required bool

	// guarded by Session.mu
	offer    *message.Body
	final    bool
	rseq     uint32
	relRes   *sip.Response
	prackCh  chan struct{}
	prackErr error
	okRes    *sip.Response
	// BYE is held by the core
	byeOnAck bool
}

func newInvitation(
	ctx context.Context,
	c *Core,
	tx transaction.ServerTransaction,
	req *sip.Request,
) (*Invitation, error) {
	refuse := func(code int, hdrs ...sip.Header) error {
		c.respond(ctx, tx, req, code, "", message.ResponseParams{Headers: hdrs}) //nolint:errcheck
		return errtrace.Wrap(NewInvalidArgumentError("refused with %d", code))
	}

	supported := []string{}
	if c.opts.Rel100 != Rel100None {
		supported = append(supported, message.OptionTag100rel)
	}
	var unsupported []string
	for _, tag := range message.OptionTags(req, "Require") {
		if !slices.Contains(supported, tag) {
			unsupported = append(unsupported, tag)
		}
	}
	if len(unsupported) > 0 {
		return nil, refuse(message.StatusBadExtension, optionTagsHeader("Unsupported", unsupported))
	}

	peerRel100 := message.HasOptionTag(req, "Supported", message.OptionTag100rel) ||
		message.HasOptionTag(req, "Require", message.OptionTag100rel)
	if c.opts.Rel100 == Rel100Required && !peerRel100 {
		return nil, refuse(message.StatusExtensionRequired,
			optionTagsHeader("Require", []string{message.OptionTag100rel}))
	}

	inv := &Invitation{
		tx:             tx,
		req:            req,
		rel100:         c.opts.Rel100 != Rel100None && peerRel100,
		rel100Required: c.opts.Rel100 == Rel100Required || message.HasOptionTag(req, "Require", message.OptionTag100rel),
	}
	inv.Session = newSession(c, inv, false)

	h, err := c.opts.sdhFactory()(inv.ctx, sdh.Info{SessionID: inv.id, Outgoing: false})
	if err != nil {
		inv.log.LogAttrs(ctx, slog.LevelError, "failed to create session description handler", slog.Any("error", err))
		inv.cancel()
		return nil, errtrace.Wrap(refuse(message.StatusInternalServerError))
	}
	body := message.GetBody(req)
	if body.IsSession() {
		if !h.HasDescription(body.ContentType) {
			h.Close()
			inv.cancel()
			return nil, refuse(message.StatusUnsupportedMediaType, sip.NewHeader("Accept", message.ContentTypeSDP))
		}
		inv.offer = body
	}

	d, err := dialog.NewUAS(req, message.NewTag(), &dialog.Options{
		Via:     c.opts.Via,
		Contact: &c.opts.Contact,
		Log:     inv.log,
	})
	if err != nil {
		h.Close()
		inv.cancel()
		return nil, refuse(message.StatusBadRequest)
	}

	inv.dlg = d
	inv.handler = h
	inv.capturePAI(req)
	inv.transit(ctx, StatusInviteReceived)

	c.addSession(inv)
	c.addDialog(d, inv.id)
	c.invites.Set(tx.Key(), inv.id)
	c.metrics.SessionStarted(inv.direction())

	if inv.offer != nil {
		d.Signaling().Transition(dialog.Remote, req) //nolint:errcheck
	}

	tx.OnTransportError(func(ctx context.Context, err error) {
		inv.log.LogAttrs(ctx, slog.LevelWarn, "INVITE transaction transport failed", slog.Any("error", err))
		inv.mu.Lock()
		inv.final = true
		inv.mu.Unlock()
		inv.end(ctx, CauseConnectionError, nil, FailedEvent{newInfo(nil, CauseConnectionError)})
	})

	inv.start(ctx)
	return inv, nil
}

func optionTagsHeader(name string, tags []string) sip.Header {
	return sip.NewHeader(name, strings.Join(tags, ", "))
}

// start sends the automatic 180 and starts the no-answer and expiration timers.
func (inv *Invitation) start(ctx context.Context) {
	if !inv.transit(ctx, StatusWaitingForAnswer) {
		return
	}

	if !inv.rel100Required {
		inv.respond(ctx, inv.newResponse(message.StatusRinging, "", nil, nil)) //nolint:errcheck
	}

	inv.startTimer(timerNoAnswer, inv.core.opts.noAnswerTimeout(), func(ctx context.Context) {
		inv.reject(ctx, message.StatusRequestTimeout, "", nil, CauseNoAnswer) //nolint:errcheck
	})
	if exp, ok := message.Expires(inv.req); ok {
		inv.startTimer(timerExpires, time.Duration(exp)*time.Second, func(ctx context.Context) {
			inv.reject(ctx, message.StatusRequestTerminated, "", nil, CauseExpires) //nolint:errcheck
		})
	}
}

// Request returns the INVITE request.
func (inv *Invitation) Request() *sip.Request { return inv.req }

func (inv *Invitation) newResponse(code int, reason string, hdrs []sip.Header, body *message.Body) *sip.Response {
	p := message.ResponseParams{
		ToTag:   inv.dlg.ID().LocalTag,
		Headers: hdrs,
		Body:    body,
	}
	if code > message.StatusTrying && code < 300 {
		p.Contact = &inv.core.opts.Contact
	}
	res := message.NewResponse(inv.req, code, reason, p)
	inv.core.stampUserAgent(res)
	return res
}

func (inv *Invitation) respond(ctx context.Context, res *sip.Response) error {
	if err := inv.tx.Respond(ctx, res); err != nil {
		inv.log.LogAttrs(ctx, slog.LevelWarn, "failed to send response",
			slog.Any("response", log.Message(res)),
			slog.Any("error", err),
		)
		return errtrace.Wrap(err)
	}
	return nil
}

// Progress sends a provisional response.
// A reliable response carries the answer to the offer of the INVITE,
// or an offer if the INVITE had none.
func (inv *Invitation) Progress(ctx context.Context, opts *ProgressOptions) error {
	if opts == nil {
		opts = &ProgressOptions{}
	}
	code := opts.StatusCode
	if code == 0 {
		code = message.StatusRinging
	}
	if !message.IsProvisional(code) {
		return errtrace.Wrap(NewInvalidArgumentError("invalid provisional status code %d", code))
	}
	if err := inv.expect(StatusWaitingForAnswer, StatusEarlyMedia); err != nil {
		return errtrace.Wrap(err)
	}

	if code == message.StatusTrying {
		return errtrace.Wrap(inv.respond(ctx, inv.newResponse(code, opts.Reason, opts.Headers, nil)))
	}

	reliable := inv.rel100Required || (opts.Rel100 && inv.rel100)
	if !reliable {
		if opts.Rel100 {
			inv.log.LogAttrs(ctx, slog.LevelDebug, "peer does not support 100rel, sending provisional response unreliably")
		}
		if err := inv.respond(ctx, inv.newResponse(code, opts.Reason, opts.Headers, nil)); err != nil {
			return errtrace.Wrap(err)
		}
		inv.emit(ctx, ProgressEvent{newInfo(inv.tx.LastResponse(), CauseNone)})
		return nil
	}
	return errtrace.Wrap(inv.progressReliable(ctx, code, opts))
}

func (inv *Invitation) progressReliable(ctx context.Context, code int, opts *ProgressOptions) error {
	body, err := inv.negotiate(ctx, opts.SDHOptions, opts.Modifiers)
	if err != nil {
		inv.failMedia(ctx, err)
		return errtrace.Wrap(err)
	}

	inv.mu.Lock()
	if st := inv.status; inv.final || !st.in(StatusWaitingForAnswer, StatusEarlyMedia) {
		inv.mu.Unlock()
		return errtrace.Wrap(NewInvalidStateError(st))
	}
	if inv.rseq == 0 {
		inv.rseq = util.RandUint32(10000)
	} else {
		inv.rseq++
	}
	hdrs := append(slices.Clone(opts.Headers),
		optionTagsHeader("Require", []string{message.OptionTag100rel}),
		message.RSeqHeader(inv.rseq),
	)
	res := inv.newResponse(code, opts.Reason, hdrs, body)
	inv.relRes = res
	inv.prackCh = make(chan struct{})
	inv.prackErr = nil
	inv.transitLocked(StatusWaitingForPrack)
	inv.mu.Unlock()

	if err := inv.respond(ctx, res); err != nil {
		return errtrace.Wrap(err)
	}

	t1 := inv.core.opts.Timings.T1()
	inv.scheduleRel1xx(res, t1)
	inv.startTimer(timerPrack, 64*t1, func(ctx context.Context) {
		inv.mu.Lock()
		if inv.relRes != res {
			inv.mu.Unlock()
			return
		}
		inv.relRes = nil
		inv.prackErr = ErrNoPrack
		ch := inv.prackCh
		inv.prackCh = nil
		inv.mu.Unlock()

		inv.stopTimer(timerRel1xx)
		inv.reject(ctx, message.StatusServerTimeout, "", nil, CauseNoPrack) //nolint:errcheck
		if ch != nil {
			close(ch)
		}
	})

	inv.emit(ctx, ProgressEvent{newInfo(res, CauseNone)})
	return nil
}

func (inv *Invitation) scheduleRel1xx(res *sip.Response, d time.Duration) {
	inv.startTimer(timerRel1xx, d, func(ctx context.Context) {
		inv.mu.Lock()
		pending := inv.relRes == res
		inv.mu.Unlock()
		if !pending {
			return
		}
		inv.core.metrics.Retransmitted("reliable_1xx")
		inv.respond(ctx, res) //nolint:errcheck
		inv.scheduleRel1xx(res, 2*d)
	})
}

// negotiate returns the local session description to send in the next reliable response:
// the answer to a pending remote offer, an offer when nothing was exchanged yet, or nil.
func (inv *Invitation) negotiate(ctx context.Context, opts *sdh.Options, mods []sdh.Modifier) (*message.Body, error) {
	sig := inv.dlg.Signaling()
	inv.mu.Lock()
	offer := inv.offer
	inv.mu.Unlock()

	ctx, cancel := inv.sdhContext(ctx)
	defer cancel()

	switch sig.State() {
	case dialog.SignalingHaveRemoteOffer:
		if offer != nil {
			if err := inv.handler.SetDescription(ctx, offer, opts, mods...); err != nil {
				return nil, errtrace.Wrap(err)
			}
			inv.mu.Lock()
			inv.offer = nil
			inv.mu.Unlock()
		}
		body, err := inv.handler.GetDescription(ctx, opts, mods...)
		if err != nil {
			return nil, errtrace.Wrap(err)
		}
		if err := sig.Answer(dialog.Local); err != nil {
			return nil, errtrace.Wrap(err)
		}
		return body, nil
	case dialog.SignalingInitial:
		body, err := inv.handler.GetDescription(ctx, opts, mods...)
		if err != nil {
			return nil, errtrace.Wrap(err)
		}
		if err := sig.Offer(dialog.Local); err != nil {
			return nil, errtrace.Wrap(err)
		}
		return body, nil
	default:
		return nil, nil
	}
}

// failMedia rejects the INVITE after a session description failure.
func (inv *Invitation) failMedia(ctx context.Context, err error) {
	inv.log.LogAttrs(ctx, slog.LevelWarn, "session description negotiation failed", slog.Any("error", err))
	inv.reject(ctx, message.StatusNotAcceptableHere, "", nil, CauseBadMediaDescription) //nolint:errcheck
}

// Accept answers the INVITE with 200 OK.
// While a reliable provisional response is not acknowledged, Accept blocks until
// the PRACK arrives, ctx is done or the session terminates.
func (inv *Invitation) Accept(ctx context.Context, opts *AcceptOptions) error {
	if opts == nil {
		opts = &AcceptOptions{}
	}
	if err := inv.expect(
		StatusWaitingForAnswer,
		StatusEarlyMedia,
		StatusWaitingForPrack,
		StatusAnsweredWaitingForPrack,
	); err != nil {
		return errtrace.Wrap(err)
	}

	inv.mu.Lock()
	if inv.status.in(StatusWaitingForPrack, StatusAnsweredWaitingForPrack) && inv.prackCh != nil {
		ch := inv.prackCh
		if inv.status == StatusWaitingForPrack {
			inv.transitLocked(StatusAnsweredWaitingForPrack)
		}
		inv.mu.Unlock()

		if err := inv.waitPrack(ctx, ch); err != nil {
			return errtrace.Wrap(err)
		}
		inv.mu.Lock()
	}
	if st := inv.status; inv.final || !st.in(StatusWaitingForAnswer, StatusEarlyMedia, StatusAnsweredWaitingForPrack) {
		inv.mu.Unlock()
		return errtrace.Wrap(inv.expect())
	}
	inv.transitLocked(StatusAnswered)
	inv.mu.Unlock()

	inv.stopTimer(timerNoAnswer, timerExpires)

	body, err := inv.negotiate(ctx, opts.SDHOptions, opts.Modifiers)
	if err != nil {
		inv.failMedia(ctx, err)
		return errtrace.Wrap(err)
	}

	res := inv.newResponse(message.StatusOK, "", opts.Headers, body)
	inv.mu.Lock()
	if st := inv.status; inv.final || st != StatusAnswered {
		inv.mu.Unlock()
		return errtrace.Wrap(inv.expect())
	}
	inv.final = true
	inv.okRes = res
	inv.transitLocked(StatusWaitingForAck)
	inv.mu.Unlock()

	inv.dlg.Confirm(ctx, nil) //nolint:errcheck
	if err := inv.respond(ctx, res); err != nil {
		inv.end(ctx, CauseConnectionError, nil, FailedEvent{newInfo(nil, CauseConnectionError)})
		return errtrace.Wrap(err)
	}

	t1 := inv.core.opts.Timings.T1()
	if !inv.core.opts.Transport.Reliable() {
		inv.schedule2xx(res, t1)
	}
	inv.startTimer(timerAck, 64*t1, func(ctx context.Context) {
		inv.stopTimer(timer2xx)
		inv.log.LogAttrs(ctx, slog.LevelWarn, "no ACK received")
		inv.bye(ctx, CauseNoAck, nil) //nolint:errcheck
	})

	inv.emit(ctx, AcceptedEvent{newInfo(res, CauseNone)})
	return nil
}

func (inv *Invitation) waitPrack(ctx context.Context, ch <-chan struct{}) error {
	select {
	case <-ch:
	case <-inv.done:
	case <-ctx.Done():
		return errtrace.Wrap(ctx.Err())
	}

	inv.mu.Lock()
	defer inv.mu.Unlock()
	if inv.prackErr != nil {
		return errtrace.Wrap(inv.prackErr)
	}
	return nil
}

func (inv *Invitation) schedule2xx(res *sip.Response, d time.Duration) {
	inv.startTimer(timer2xx, d, func(ctx context.Context) {
		if inv.Status() != StatusWaitingForAck {
			return
		}
		inv.core.metrics.Retransmitted("2xx")
		if err := inv.core.send(ctx, res); err != nil {
			inv.log.LogAttrs(ctx, slog.LevelWarn, "failed to retransmit 2xx response", slog.Any("error", err))
		}
		inv.schedule2xx(res, min(2*d, inv.core.opts.Timings.T2()))
	})
}

// Reject answers the INVITE with a final non-2xx response.
func (inv *Invitation) Reject(opts *RejectOptions) error {
	if opts == nil {
		opts = &RejectOptions{}
	}
	code := opts.StatusCode
	if code == 0 {
		code = message.StatusTemporarilyUnavailable
	}
	if code < 300 || code > 699 {
		return errtrace.Wrap(NewInvalidArgumentError("invalid final status code %d", code))
	}
	return errtrace.Wrap(inv.rejectWithBody(inv.ctx, code, opts.Reason, opts.Headers, opts.Body, CauseFromStatus(code)))
}

func (inv *Invitation) reject(ctx context.Context, code int, reason string, hdrs []sip.Header, cause Cause) error {
	return errtrace.Wrap(inv.rejectWithBody(ctx, code, reason, hdrs, nil, cause))
}

func (inv *Invitation) rejectWithBody(
	ctx context.Context,
	code int,
	reason string,
	hdrs []sip.Header,
	body *message.Body,
	cause Cause,
) error {
	inv.mu.Lock()
	if st := inv.status; inv.final || st.IsEnded() || st == StatusInitial {
		inv.mu.Unlock()
		return errtrace.Wrap(inv.expect())
	}
	inv.final = true
	inv.mu.Unlock()

	res := inv.newResponse(code, reason, hdrs, body)
	err := inv.respond(ctx, res)
	inv.end(ctx, cause, res,
		RejectedEvent{newInfo(res, cause)},
		FailedEvent{newInfo(res, cause)},
	)
	return errtrace.Wrap(err)
}

// Terminate ends the session in any status:
// an unanswered INVITE is rejected with 480, a confirmed session is ended with BYE.
// When the 2xx is not acknowledged yet, the session ends at once and
// the core sends BYE when the ACK arrives or after 64*T1 without it.
func (inv *Invitation) Terminate(opts *TerminateOptions) error {
	ctx := inv.ctx
	inv.mu.Lock()
	st := inv.status
	switch st {
	case StatusTerminated:
		inv.mu.Unlock()
		return errtrace.Wrap(inv.expect())
	case StatusCanceled:
		inv.mu.Unlock()
		return nil
	case StatusWaitingForAck:
		bye := inv.dlg.NewRequest(sip.BYE, &dialog.RequestOptions{Headers: opts.headers()})
		inv.core.holdBye(inv.dlg.ID(), bye, inv.okRes)
		inv.byeOnAck = true
		inv.mu.Unlock()
		inv.end(ctx, CauseBye, nil, ByeEvent{newInfo(nil, CauseBye)})
		return nil
	case StatusConfirmed:
		inv.mu.Unlock()
		return errtrace.Wrap(inv.bye(ctx, CauseBye, opts.headers()))
	default:
		inv.mu.Unlock()
		var hdrs []sip.Header
		if opts != nil {
			hdrs = opts.Headers
		}
		return errtrace.Wrap(inv.reject(ctx, message.StatusTemporarilyUnavailable, "", hdrs,
			CauseFromStatus(message.StatusTemporarilyUnavailable)))
	}
}

func (inv *Invitation) recvPrack(ctx context.Context, tx transaction.ServerTransaction, req *sip.Request, d *dialog.Dialog) {
	rack, ok := message.RAck(req)
	cseq, _ := message.CSeq(inv.req)

	inv.mu.Lock()
	res, rseq := inv.relRes, inv.rseq
	inv.mu.Unlock()

	if res == nil || !ok || rack.RSeq != rseq || rack.CSeq != cseq || rack.Method != sip.INVITE {
		inv.log.LogAttrs(ctx, slog.LevelDebug, "PRACK does not match any reliable provisional response",
			slog.Any("request", log.Message(req)),
		)
		inv.core.respond(ctx, tx, req, message.StatusCallTransactionNotExist, "", message.ResponseParams{}) //nolint:errcheck
		return
	}
	inv.stopTimer(timerRel1xx, timerPrack)

	answer, err := inv.applyPrack(ctx, req, d)
	if err != nil {
		inv.log.LogAttrs(ctx, slog.LevelWarn, "PRACK session description refused", slog.Any("error", err))
		inv.core.respond(ctx, tx, req, message.StatusNotAcceptableHere, "", message.ResponseParams{}) //nolint:errcheck
		inv.mu.Lock()
		inv.relRes = nil
		inv.prackErr = err
		ch := inv.prackCh
		inv.prackCh = nil
		inv.mu.Unlock()
		inv.failMedia(ctx, err)
		if ch != nil {
			close(ch)
		}
		return
	}
	inv.core.respond(ctx, tx, req, message.StatusOK, "", message.ResponseParams{Body: answer}) //nolint:errcheck

	inv.mu.Lock()
	inv.relRes = nil
	ch := inv.prackCh
	inv.prackCh = nil
	next := StatusWaitingForAnswer
	if d.Signaling().State() == dialog.SignalingStable {
		next = StatusEarlyMedia
	}
	if inv.status == StatusWaitingForPrack {
		inv.transitLocked(next)
	}
	inv.mu.Unlock()
	if ch != nil {
		close(ch)
	}
}

// applyPrack applies the session description of the PRACK:
// the answer to the offer of the reliable response, or a new offer answered in the 200 to the PRACK.
func (inv *Invitation) applyPrack(ctx context.Context, req *sip.Request, d *dialog.Dialog) (*message.Body, error) {
	sig := d.Signaling()
	body := message.GetBody(req)

	ctx, cancel := inv.sdhContext(ctx)
	defer cancel()

	if !body.IsSession() {
		if sig.State() == dialog.SignalingHaveLocalOffer {
			return nil, errtrace.Wrap(sdh.ErrNoOffer)
		}
		return nil, nil
	}

	switch sig.State() {
	case dialog.SignalingHaveLocalOffer:
		if err := inv.handler.SetDescription(ctx, body, nil); err != nil {
			return nil, errtrace.Wrap(err)
		}
		return nil, errtrace.Wrap(sig.Answer(dialog.Remote))
	case dialog.SignalingStable:
		if err := sig.Offer(dialog.Remote); err != nil {
			return nil, errtrace.Wrap(err)
		}
		if err := inv.handler.SetDescription(ctx, body, nil); err != nil {
			sig.Rollback() //nolint:errcheck
			return nil, errtrace.Wrap(err)
		}
		answer, err := inv.handler.GetDescription(ctx, nil)
		if err != nil {
			return nil, errtrace.Wrap(err)
		}
		return answer, errtrace.Wrap(sig.Answer(dialog.Local))
	default:
		return nil, errtrace.Wrap(dialog.NewSignalingError(dialog.ErrOfferOutstanding, sig.State(), dialog.Remote))
	}
}

func (inv *Invitation) recvAck(ctx context.Context, req *sip.Request, d *dialog.Dialog) {
	inv.mu.Lock()
	if inv.status != StatusWaitingForAck {
		inv.mu.Unlock()
		inv.log.LogAttrs(ctx, slog.LevelDebug, "ACK ignored", slog.Any("request", log.Message(req)))
		return
	}
	if inv.byeOnAck {
		inv.mu.Unlock()
		inv.core.releaseBye(ctx, d.ID())
		return
	}
	inv.mu.Unlock()

	inv.stopTimer(timer2xx, timerAck)
	if err := d.RecvRequest(req); err != nil {
		inv.log.LogAttrs(ctx, slog.LevelWarn, "ACK refused", slog.Any("error", err))
		return
	}

	mediaErr := inv.applyAck(ctx, req, d)

	if !inv.transit(ctx, StatusConfirmed) {
		return
	}
	inv.core.invites.Del(inv.tx.Key())
	inv.core.metrics.SessionConfirmed(inv.direction(), time.Since(inv.created))
	inv.emit(ctx, AckEvent{newInfo(req, CauseNone)})

	if mediaErr != nil {
		inv.log.LogAttrs(ctx, slog.LevelWarn, "ACK session description refused", slog.Any("error", mediaErr))
		inv.bye(ctx, CauseBadMediaDescription, []sip.Header{ //nolint:errcheck
			message.ReasonHeader(message.StatusNotAcceptableHere, message.ReasonPhrase(message.StatusNotAcceptableHere)),
		})
	}
}

// applyAck applies the answer carried by the ACK when the 2xx carried the offer.
func (inv *Invitation) applyAck(ctx context.Context, req *sip.Request, d *dialog.Dialog) error {
	sig := d.Signaling()
	if sig.State() != dialog.SignalingHaveLocalOffer {
		return nil
	}
	body := message.GetBody(req)
	if !body.IsSession() {
		return errtrace.Wrap(sdh.ErrNoOffer)
	}

	ctx, cancel := inv.sdhContext(ctx)
	defer cancel()
	if err := inv.handler.SetDescription(ctx, body, nil); err != nil {
		return errtrace.Wrap(err)
	}
	return errtrace.Wrap(sig.Answer(dialog.Remote))
}

func (inv *Invitation) recvBye(ctx context.Context, tx transaction.ServerTransaction, req *sip.Request, d *dialog.Dialog) {
	inv.mu.Lock()
	pending := !inv.final
	inv.final = true
	inv.mu.Unlock()

	inv.core.respond(ctx, tx, req, message.StatusOK, "", message.ResponseParams{}) //nolint:errcheck
	if pending {
		inv.respond(ctx, inv.newResponse(message.StatusRequestTerminated, "", nil, nil)) //nolint:errcheck
	}
	inv.end(ctx, CauseBye, req, ByeEvent{newInfo(req, CauseBye)})
}

func (inv *Invitation) recvCancel(ctx context.Context, req *sip.Request) {
	inv.mu.Lock()
	st := inv.status
	if inv.final || !st.in(
		StatusInviteReceived,
		StatusWaitingForAnswer,
		StatusWaitingForPrack,
		StatusAnsweredWaitingForPrack,
		StatusEarlyMedia,
		StatusAnswered,
	) {
		inv.mu.Unlock()
		return
	}
	inv.final = true
	inv.transitLocked(StatusCanceled)
	inv.stopTimersLocked()
	inv.mu.Unlock()

	inv.log.LogAttrs(ctx, slog.LevelDebug, "INVITE canceled", slog.String("from", string(st)))

	res := inv.newResponse(message.StatusRequestTerminated, "", nil, nil)
	inv.respond(ctx, res) //nolint:errcheck
	inv.end(ctx, CauseCanceled, req,
		CanceledEvent{newInfo(req, CauseCanceled)},
		RejectedEvent{newInfo(res, CauseCanceled)},
		FailedEvent{newInfo(res, CauseCanceled)},
	)
}

// recvInviteRetransmission resends the 2xx to a retransmitted INVITE.
func (inv *Invitation) recvInviteRetransmission(ctx context.Context, _ *sip.Request) {
	inv.mu.Lock()
	res := inv.okRes
	st := inv.status
	inv.mu.Unlock()
	if res == nil || st != StatusWaitingForAck {
		return
	}
	inv.core.metrics.Retransmitted("2xx")
	inv.core.send(ctx, res) //nolint:errcheck
}

func (*Invitation) dispose(context.Context) {}

func (inv *Invitation) shutdown(ctx context.Context) {
	switch inv.Status() {
	case StatusWaitingForAck, StatusConfirmed:
		inv.bye(ctx, CauseBye, nil) //nolint:errcheck
	case StatusCanceled:
		inv.end(ctx, CauseCanceled, nil)
	case StatusTerminated:
	default:
		inv.reject(ctx, message.StatusTemporarilyUnavailable, "", nil, CauseUnavailable) //nolint:errcheck
	}
}
