package ua

import (
	"context"
	"errors"
	"log/slog"
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

const timerCancel = "cancel"

// ErrMissingDescription is returned when a 2xx response misses the expected session description.
const ErrMissingDescription Error = "missing session description"

// InviterOptions are options of [Core.NewInviter].
type InviterOptions struct {
	// From overrides [Options.URI].
	From *sip.Uri
	// DisplayName overrides [Options.DisplayName].
	DisplayName string
	// Headers are extra headers of the INVITE.
	Headers []sip.Header
}

// InviteOptions are options of [Inviter.Invite].
type InviteOptions struct {
	// WithoutSDP sends the INVITE without an offer, the offer is expected in a reliable 1xx or the 2xx.
	WithoutSDP bool
	// Headers are extra headers of the INVITE.
	Headers []sip.Header
	// SDHOptions are passed to the session description handler.
	SDHOptions *sdh.Options
	// Modifiers are applied to the local session description.
	Modifiers []sdh.Modifier
}

// CancelOptions are options of [Inviter.Cancel].
type CancelOptions struct {
	// Headers are extra headers of the CANCEL.
	Headers []sip.Header
	// Reason adds a Reason header to the CANCEL.
	Reason *ReasonOptions
}

func (o *CancelOptions) headers() []sip.Header {
	if o == nil {
		return nil
	}
	return (&TerminateOptions{Headers: o.Headers, Reason: o.Reason}).headers()
}

// Inviter is an outgoing INVITE session (UAC).
type Inviter struct {
	*Session

	target sip.Uri
	opts   InviterOptions

	// guarded by Session.mu
	req          *sip.Request
	tx           transaction.ClientTransaction
	set          *dialog.Set
	withOffer    bool
	provisional  bool
	cancelIntent bool
	cancelOpts   *CancelOptions
	cancelSent   bool
	confirmed    dialog.ID
	acks         map[dialog.ID]*sip.Request
	earlyMedia   map[dialog.ID]sdh.Handler
	earlyAnswers map[dialog.ID]*message.Body
}

// NewInviter creates an outgoing session to the target.
func (c *Core) NewInviter(target sip.Uri, opts *InviterOptions) (*Inviter, error) {
	if c.closed.Load() {
		return nil, errtrace.Wrap(ErrCoreClosed)
	}
	if target.Host == "" {
		return nil, errtrace.Wrap(NewInvalidArgumentError("invalid target URI"))
	}
	inv := &Inviter{
		target:       target,
		acks:         make(map[dialog.ID]*sip.Request),
		earlyMedia:   make(map[dialog.ID]sdh.Handler),
		earlyAnswers: make(map[dialog.ID]*message.Body),
	}
	if opts != nil {
		inv.opts = *opts
	}
	inv.Session = newSession(c, inv, true)
	return inv, nil
}

// Request returns the INVITE request, nil before [Inviter.Invite].
func (inv *Inviter) Request() *sip.Request {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.req
}

func (inv *Inviter) dialogOptions() *dialog.Options {
	return &dialog.Options{
		Via:     inv.core.opts.Via,
		Contact: &inv.core.opts.Contact,
		Log:     inv.log,
	}
}

// Invite sends the INVITE.
// Responses are reported with session events, Invite returns once the request is sent.
func (inv *Inviter) Invite(ctx context.Context, opts *InviteOptions) error {
	if opts == nil {
		opts = &InviteOptions{}
	}
	if err := inv.expect(StatusInitial); err != nil {
		return errtrace.Wrap(err)
	}

	c := inv.core
	sdhCtx, cancel := inv.sdhContext(ctx)
	defer cancel()

	h, err := c.opts.sdhFactory()(inv.ctx, sdh.Info{SessionID: inv.id, Outgoing: true})
	if err != nil {
		inv.end(ctx, CauseInternalError, nil, FailedEvent{newInfo(nil, CauseInternalError)})
		return errtrace.Wrap(err)
	}
	inv.setHandler(ctx, h)

	var body *message.Body
	if !opts.WithoutSDP {
		if body, err = h.GetDescription(sdhCtx, opts.SDHOptions, opts.Modifiers...); err != nil {
			inv.end(ctx, CauseBadMediaDescription, nil, FailedEvent{newInfo(nil, CauseBadMediaDescription)})
			return errtrace.Wrap(err)
		}
	}

	hdrs := append([]sip.Header{}, inv.opts.Headers...)
	switch c.opts.Rel100 {
	case Rel100Supported:
		hdrs = append(hdrs, optionTagsHeader("Supported", []string{message.OptionTag100rel}))
	case Rel100Required:
		hdrs = append(hdrs, optionTagsHeader("Require", []string{message.OptionTag100rel}))
	}
	hdrs = append(hdrs, opts.Headers...)

	from, name := c.opts.URI, c.opts.DisplayName
	if inv.opts.From != nil {
		from = *inv.opts.From
	}
	if inv.opts.DisplayName != "" {
		name = inv.opts.DisplayName
	}
	req := message.NewRequest(message.RequestParams{
		Method:     sip.INVITE,
		RequestURI: inv.target,
		CallID:     message.NewCallID(c.opts.Contact.Host),
		From:       from,
		FromName:   name,
		FromTag:    message.NewTag(),
		To:         inv.target,
		CSeq:       util.RandUint32(10000),
		Via:        c.opts.Via,
		Contact:    &c.opts.Contact,
		Headers:    hdrs,
		Body:       body,
	})

	inv.mu.Lock()
	if st := inv.status; st != StatusInitial {
		inv.mu.Unlock()
		return errtrace.Wrap(NewInvalidStateError(st))
	}
	inv.req = req
	inv.withOffer = body != nil
	inv.set = dialog.NewSet(req, inv.dialogOptions())
	inv.transitLocked(StatusInviteSent)
	inv.mu.Unlock()

	c.addSession(inv)
	c.inviters.Set(dialogSetKey{message.CallID(req), message.FromTag(req)}, inv.id)
	c.metrics.SessionStarted(inv.direction())

	tx, err := c.sendRequest(ctx, req)
	if err != nil {
		inv.log.LogAttrs(ctx, slog.LevelWarn, "failed to send INVITE", slog.Any("error", err))
		inv.end(ctx, CauseConnectionError, nil, FailedEvent{newInfo(nil, CauseConnectionError)})
		return errtrace.Wrap(err)
	}

	inv.mu.Lock()
	inv.tx = tx
	inv.mu.Unlock()

	tx.OnStateChanged(func(ctx context.Context, _, to transaction.State) {
		if to == transaction.StateTerminated {
			inv.txTerminated(ctx, tx)
		}
	})
	tx.OnResponse(inv.recvResponse)
	if tx.State() == transaction.StateTerminated {
		inv.txTerminated(ctx, tx)
	}
	return nil
}

func (inv *Inviter) txTerminated(ctx context.Context, tx transaction.ClientTransaction) {
	err := tx.Err()
	if err == nil {
		return
	}

	inv.mu.Lock()
	st, intent := inv.status, inv.cancelIntent
	inv.mu.Unlock()
	if !st.in(StatusInviteSent, Status1xxReceived, StatusEarlyMedia, StatusCanceled) {
		return
	}

	var cause Cause
	switch {
	case errors.Is(err, transaction.ErrTransactionTimedOut) && intent:
		// CANCEL was never sent, no provisional response arrived
		cause = CauseCanceled
	case errors.Is(err, transaction.ErrTransactionTimedOut):
		cause = CauseRequestTimeout
	default:
		cause = CauseConnectionError
	}
	inv.log.LogAttrs(ctx, slog.LevelDebug, "INVITE transaction failed", slog.Any("error", err))
	inv.end(ctx, cause, nil, FailedEvent{newInfo(nil, cause)})
}

func (inv *Inviter) recvResponse(ctx context.Context, _ transaction.ClientTransaction, res *sip.Response) {
	switch code := int(res.StatusCode); {
	case code == message.StatusTrying:
		inv.recvTrying(ctx)
	case message.IsProvisional(code):
		inv.recv1xx(ctx, res)
	case message.IsSuccess(code):
		inv.recv2xx(ctx, res)
	default:
		inv.recvFailure(ctx, res)
	}
}

// recvTrying dispatches a pending CANCEL, any provisional response allows it (RFC 3261 Section 9.1).
func (inv *Inviter) recvTrying(ctx context.Context) {
	inv.mu.Lock()
	if inv.status == StatusTerminated || inv.confirmed.IsValid() {
		inv.mu.Unlock()
		return
	}
	inv.provisional = true
	send := inv.cancelIntent && !inv.cancelSent
	if send {
		inv.cancelSent = true
	}
	st := inv.status
	inv.mu.Unlock()

	if send {
		inv.sendCancel(ctx)
	}
	if st == StatusInviteSent {
		inv.transit(ctx, Status1xxReceived)
	}
}

func (inv *Inviter) recv1xx(ctx context.Context, res *sip.Response) {
	inv.capturePAI(res)
	hasTag := message.ToTag(res) != ""

	inv.mu.Lock()
	st := inv.status
	if st == StatusTerminated || inv.confirmed.IsValid() {
		inv.mu.Unlock()
		return
	}
	inv.provisional = true
	sendCancel := false
	if inv.cancelIntent && !inv.cancelSent {
		inv.cancelSent = true
		sendCancel = true
	}
	set, withOffer := inv.set, inv.withOffer
	inv.mu.Unlock()

	if sendCancel {
		inv.sendCancel(ctx)
	}
	if st == StatusCanceled {
		return
	}
	if !hasTag {
		if st.in(StatusInviteSent, Status1xxReceived) {
			inv.transit(ctx, Status1xxReceived)
		}
		inv.emit(ctx, ProgressEvent{newInfo(res, CauseNone)})
		return
	}

	d, created, err := set.Early(res)
	if err != nil {
		inv.log.LogAttrs(ctx, slog.LevelWarn, "failed to create early dialog",
			slog.Any("response", log.Message(res)),
			slog.Any("error", err),
		)
		return
	}
	if created {
		inv.core.addDialog(d, inv.id)
		if withOffer {
			d.Signaling().Offer(dialog.Local) //nolint:errcheck
		}
	}

	earlyMedia := false
	if rseq, ok := message.RSeq(res); ok && message.HasOptionTag(res, "Require", message.OptionTag100rel) {
		if d.Pracked(rseq) {
			inv.log.LogAttrs(ctx, slog.LevelDebug, "reliable provisional response retransmission ignored",
				slog.Uint64("rseq", uint64(rseq)),
			)
			return
		}
		d.AddPracked(rseq)
		earlyMedia = inv.sendPrack(ctx, d, res, rseq)
	} else if message.IsSessionBody(res) {
		inv.log.LogAttrs(ctx, slog.LevelDebug, "session description of unreliable provisional response discarded")
	}

	switch st := inv.Status(); {
	case earlyMedia && st.in(StatusInviteSent, Status1xxReceived, StatusEarlyMedia):
		inv.transit(ctx, StatusEarlyMedia)
	case st.in(StatusInviteSent, Status1xxReceived):
		inv.transit(ctx, Status1xxReceived)
	}
	inv.emit(ctx, ProgressEvent{newInfo(res, CauseNone)})
}

// sendPrack acknowledges the reliable provisional response.
// When the INVITE had no offer, the offer of the response is answered in the PRACK
// by the early media handler of the dialog, sendPrack reports whether it happened.
func (inv *Inviter) sendPrack(ctx context.Context, d *dialog.Dialog, res *sip.Response, rseq uint32) bool {
	cseq, _ := message.CSeq(res)
	body := message.GetBody(res)
	sig := d.Signaling()

	var answer *message.Body
	if body.IsSession() {
		switch sig.State() {
		case dialog.SignalingHaveLocalOffer:
			// the answer is applied with the 2xx
			if err := sig.Answer(dialog.Remote); err == nil {
				inv.mu.Lock()
				inv.earlyAnswers[d.ID()] = body.Clone()
				inv.mu.Unlock()
			}
		case dialog.SignalingInitial:
			var err error
			if answer, err = inv.answerEarly(ctx, d, body); err != nil {
				inv.log.LogAttrs(ctx, slog.LevelWarn, "early offer refused", slog.Any("error", err))
				answer = nil
			}
		default:
			inv.log.LogAttrs(ctx, slog.LevelDebug, "unexpected session description in reliable provisional response",
				slog.Any("signaling", sig),
			)
		}
	}

	req := d.NewRequest(sip.PRACK, &dialog.RequestOptions{
		Headers: []sip.Header{message.RAckValue{RSeq: rseq, CSeq: cseq, Method: sip.INVITE}.Header()},
		Body:    answer,
	})
	if _, err := inv.core.sendRequest(ctx, req); err != nil {
		inv.log.LogAttrs(ctx, slog.LevelWarn, "failed to send PRACK", slog.Any("error", err))
		d.RemovePracked(rseq)
		return false
	}
	return answer != nil
}

func (inv *Inviter) answerEarly(ctx context.Context, d *dialog.Dialog, offer *message.Body) (*message.Body, error) {
	id := d.ID()
	inv.mu.Lock()
	h, ok := inv.earlyMedia[id]
	inv.mu.Unlock()

	if !ok {
		var err error
		h, err = inv.core.opts.sdhFactory()(inv.ctx, sdh.Info{SessionID: inv.id, Outgoing: true})
		if err != nil {
			return nil, errtrace.Wrap(err)
		}
		inv.mu.Lock()
		inv.earlyMedia[id] = h
		inv.mu.Unlock()
	}

	ctx, cancel := inv.sdhContext(ctx)
	defer cancel()

	sig := d.Signaling()
	if err := sig.Offer(dialog.Remote); err != nil {
		return nil, errtrace.Wrap(err)
	}
	if err := h.SetDescription(ctx, offer, nil); err != nil {
		sig.Rollback() //nolint:errcheck
		return nil, errtrace.Wrap(err)
	}
	answer, err := h.GetDescription(ctx, nil)
	if err != nil {
		sig.Rollback() //nolint:errcheck
		return nil, errtrace.Wrap(err)
	}
	return answer, errtrace.Wrap(sig.Answer(dialog.Local))
}

func (inv *Inviter) recv2xx(ctx context.Context, res *sip.Response) {
	id := dialog.UACID(res)
	inv.capturePAI(res)

	inv.mu.Lock()
	st, set := inv.status, inv.set
	if ack, ok := inv.acks[id]; ok {
		inv.mu.Unlock()
		inv.core.metrics.Retransmitted("ack")
		inv.core.send(ctx, ack) //nolint:errcheck
		return
	}
	lost := inv.confirmed.IsValid() || st.IsEnded()
	if !lost {
		inv.confirmed = id
	}
	inv.mu.Unlock()

	if set == nil {
		return
	}
	if lost {
		inv.log.LogAttrs(ctx, slog.LevelDebug, "2xx response on a losing branch, sending ACK and BYE",
			slog.Any("dialog", id),
			slog.String("status", string(st)),
		)
		inv.ackAndBye(ctx, set, res)
		if st == StatusCanceled {
			inv.end(ctx, CauseCanceled, res, ByeEvent{newInfo(res, CauseCanceled)})
		}
		return
	}

	others := set.EarlyDialogs()
	d, err := set.Confirm(ctx, res)
	if d == nil {
		inv.log.LogAttrs(ctx, slog.LevelWarn, "failed to confirm dialog", slog.Any("error", err))
		inv.end(ctx, CauseDialogError, res, FailedEvent{newInfo(res, CauseDialogError)})
		return
	}
	for _, o := range others {
		if o != d {
			inv.core.removeDialog(o)
		}
	}
	inv.core.addDialog(d, inv.id)
	inv.setDialog(d)
	inv.adoptEarlyMedia(ctx, d)

	inv.mu.Lock()
	withOffer := inv.withOffer
	inv.mu.Unlock()
	if withOffer && d.Signaling().State() == dialog.SignalingInitial {
		d.Signaling().Offer(dialog.Local) //nolint:errcheck
	}

	ackBody, err := inv.negotiate(ctx, d, res)
	switch {
	case errors.Is(err, ErrMissingDescription):
		inv.acceptAndTerminate(ctx, d, res, message.StatusBadRequest, "Missing session description")
		return
	case err != nil:
		inv.log.LogAttrs(ctx, slog.LevelWarn, "session description of 2xx refused", slog.Any("error", err))
		inv.acceptAndTerminate(ctx, d, res, message.StatusNotAcceptableHere, "Not Acceptable Here")
		return
	}

	cseq, _ := message.CSeq(res)
	ack := d.NewAck(cseq, ackBody)

	inv.mu.Lock()
	st = inv.status
	if !st.in(StatusInviteSent, Status1xxReceived, StatusEarlyMedia) {
		inv.mu.Unlock()
		// canceled while negotiating
		inv.ackAndBye(ctx, set, res)
		inv.end(ctx, CauseCanceled, res, ByeEvent{newInfo(res, CauseCanceled)})
		return
	}
	inv.acks[id] = ack
	inv.transitLocked(StatusConfirmed)
	inv.mu.Unlock()

	if err := inv.core.send(ctx, ack); err != nil {
		inv.log.LogAttrs(ctx, slog.LevelWarn, "failed to send ACK", slog.Any("error", err))
	}
	inv.core.metrics.SessionConfirmed(inv.direction(), time.Since(inv.created))
	inv.emit(ctx, AcceptedEvent{newInfo(res, CauseNone)})
}

// adoptEarlyMedia makes the early media handler of the confirmed dialog the session handler,
// handlers of the other early dialogs are closed.
func (inv *Inviter) adoptEarlyMedia(ctx context.Context, d *dialog.Dialog) {
	inv.mu.Lock()
	h, ok := inv.earlyMedia[d.ID()]
	delete(inv.earlyMedia, d.ID())
	var closing []sdh.Handler
	for id, o := range inv.earlyMedia {
		closing = append(closing, o)
		delete(inv.earlyMedia, id)
	}
	var prev sdh.Handler
	if ok {
		prev = inv.handler
		inv.handler = h
	}
	inv.mu.Unlock()

	for _, o := range closing {
		o.Close()
	}
	if prev != nil {
		prev.Close()
		inv.emit(ctx, SDHCreatedEvent{Handler: h})
	}
}

// negotiate applies the session description of the 2xx and returns the body of the ACK.
func (inv *Inviter) negotiate(ctx context.Context, d *dialog.Dialog, res *sip.Response) (*message.Body, error) {
	sig := d.Signaling()
	body := message.GetBody(res)
	h := inv.SessionDescriptionHandler()

	inv.mu.Lock()
	withOffer := inv.withOffer
	stored := inv.earlyAnswers[d.ID()]
	inv.mu.Unlock()

	ctx, cancel := inv.sdhContext(ctx)
	defer cancel()

	switch sig.State() {
	case dialog.SignalingHaveLocalOffer:
		if !body.IsSession() {
			return nil, errtrace.Wrap(ErrMissingDescription)
		}
		if err := h.SetDescription(ctx, body, nil); err != nil {
			return nil, errtrace.Wrap(err)
		}
		return nil, errtrace.Wrap(sig.Answer(dialog.Remote))
	case dialog.SignalingStable:
		if !withOffer {
			// offer and answer were exchanged in the reliable provisional response and PRACK
			return nil, nil
		}
		answer := stored
		if body.IsSession() {
			answer = body
		}
		if answer == nil {
			return nil, errtrace.Wrap(ErrMissingDescription)
		}
		return nil, errtrace.Wrap(h.SetDescription(ctx, answer, nil))
	case dialog.SignalingInitial:
		if !body.IsSession() {
			return nil, errtrace.Wrap(ErrMissingDescription)
		}
		if err := sig.Offer(dialog.Remote); err != nil {
			return nil, errtrace.Wrap(err)
		}
		if err := h.SetDescription(ctx, body, nil); err != nil {
			return nil, errtrace.Wrap(err)
		}
		answer, err := h.GetDescription(ctx, nil)
		if err != nil {
			return nil, errtrace.Wrap(err)
		}
		return answer, errtrace.Wrap(sig.Answer(dialog.Local))
	default:
		return nil, errtrace.Wrap(dialog.NewSignalingError(dialog.ErrOfferOutstanding, sig.State(), dialog.Remote))
	}
}

// acceptAndTerminate acknowledges the 2xx and ends the dialog with BYE carrying the Reason.
func (inv *Inviter) acceptAndTerminate(ctx context.Context, d *dialog.Dialog, res *sip.Response, code int, text string) {
	cseq, _ := message.CSeq(res)
	ack := d.NewAck(cseq, nil)
	inv.mu.Lock()
	inv.acks[d.ID()] = ack
	inv.mu.Unlock()

	inv.core.send(ctx, ack) //nolint:errcheck
	inv.sendBye(ctx, d, []sip.Header{message.ReasonHeader(code, text)}) //nolint:errcheck
	inv.end(ctx, CauseBadMediaDescription, res,
		ByeEvent{newInfo(res, CauseBadMediaDescription)},
		FailedEvent{newInfo(res, CauseBadMediaDescription)},
	)
}

// ackAndBye acknowledges the 2xx and ends its dialog right away.
func (inv *Inviter) ackAndBye(ctx context.Context, set *dialog.Set, res *sip.Response) {
	d, ok := set.Get(dialog.UACID(res))
	if !ok {
		var err error
		if d, err = dialog.NewUAC(inv.Request(), res, inv.dialogOptions()); err != nil {
			inv.log.LogAttrs(ctx, slog.LevelWarn, "failed to create dialog of 2xx response",
				slog.Any("response", log.Message(res)),
				slog.Any("error", err),
			)
			return
		}
	}
	cseq, _ := message.CSeq(res)
	ack := d.NewAck(cseq, nil)
	inv.mu.Lock()
	inv.acks[d.ID()] = ack
	inv.mu.Unlock()

	inv.core.send(ctx, ack)  //nolint:errcheck
	inv.sendBye(ctx, d, nil) //nolint:errcheck
	d.Terminate(ctx)         //nolint:errcheck
}

func (inv *Inviter) recvFailure(ctx context.Context, res *sip.Response) {
	inv.capturePAI(res)

	inv.mu.Lock()
	st, intent, confirmed := inv.status, inv.cancelIntent, inv.confirmed.IsValid()
	inv.mu.Unlock()
	if confirmed || st == StatusTerminated {
		return
	}

	code := int(res.StatusCode)
	cause := CauseFromStatus(code)
	if code == message.StatusRequestTerminated && intent {
		cause = CauseCanceled
	}
	inv.end(ctx, cause, res,
		RejectedEvent{newInfo(res, cause)},
		FailedEvent{newInfo(res, cause)},
	)
}

// Cancel cancels the INVITE (RFC 3261 Section 9).
// The CANCEL is sent once a provisional response arrived,
// before that the intent is kept and the session ends on the final response or the timeout.
func (inv *Inviter) Cancel(opts *CancelOptions) error {
	inv.mu.Lock()
	st := inv.status
	if !st.in(StatusInviteSent, Status1xxReceived, StatusEarlyMedia) {
		inv.mu.Unlock()
		return errtrace.Wrap(inv.expect(StatusInviteSent, Status1xxReceived, StatusEarlyMedia))
	}
	inv.transitLocked(StatusCanceled)
	inv.cancelIntent = true
	inv.cancelOpts = opts
	send := inv.provisional && !inv.cancelSent
	if send {
		inv.cancelSent = true
	}
	inv.mu.Unlock()

	inv.log.LogAttrs(inv.ctx, slog.LevelDebug, "INVITE canceled",
		slog.String("from", string(st)),
		slog.Bool("dispatched", send),
	)
	inv.emit(inv.ctx, CanceledEvent{newInfo(nil, CauseCanceled)})
	// the INVITE may never get a final response, neither may a CANCEL be dispatched (RFC 3261 Section 9.1)
	inv.startTimer(timerCancel, inv.core.opts.Timings.TimeB(), func(ctx context.Context) {
		inv.end(ctx, CauseCanceled, nil)
	})
	if send {
		inv.sendCancel(inv.ctx)
	}
	return nil
}

func (inv *Inviter) sendCancel(ctx context.Context) {
	inv.mu.Lock()
	req, opts := inv.req, inv.cancelOpts
	inv.mu.Unlock()

	cancel := message.NewCancel(req)
	for _, h := range opts.headers() {
		cancel.AppendHeader(h)
	}
	if _, err := inv.core.sendRequest(ctx, cancel); err != nil {
		inv.log.LogAttrs(ctx, slog.LevelWarn, "failed to send CANCEL", slog.Any("error", err))
	}
}

// Terminate ends the session in any status:
// the INVITE is canceled while unanswered, a confirmed session is ended with BYE.
func (inv *Inviter) Terminate(opts *TerminateOptions) error {
	ctx := inv.ctx
	switch st := inv.Status(); st {
	case StatusInitial:
		inv.end(ctx, CauseCanceled, nil)
		return nil
	case StatusInviteSent, Status1xxReceived, StatusEarlyMedia:
		var copts *CancelOptions
		if opts != nil {
			copts = &CancelOptions{Headers: opts.Headers, Reason: opts.Reason}
		}
		return errtrace.Wrap(inv.Cancel(copts))
	case StatusCanceled:
		return nil
	case StatusConfirmed:
		return errtrace.Wrap(inv.bye(ctx, CauseBye, opts.headers()))
	default:
		return errtrace.Wrap(inv.expect())
	}
}

func (inv *Inviter) recvPrack(ctx context.Context, tx transaction.ServerTransaction, req *sip.Request, _ *dialog.Dialog) {
	inv.core.respond(ctx, tx, req, message.StatusCallTransactionNotExist, "", message.ResponseParams{}) //nolint:errcheck
}

func (inv *Inviter) recvAck(ctx context.Context, req *sip.Request, _ *dialog.Dialog) {
	inv.log.LogAttrs(ctx, slog.LevelDebug, "ACK ignored", slog.Any("request", log.Message(req)))
}

func (inv *Inviter) dispose(ctx context.Context) {
	inv.mu.Lock()
	set := inv.set
	handlers := make([]sdh.Handler, 0, len(inv.earlyMedia))
	for id, h := range inv.earlyMedia {
		handlers = append(handlers, h)
		delete(inv.earlyMedia, id)
	}
	inv.mu.Unlock()

	for _, h := range handlers {
		h.Close()
	}
	if set != nil {
		set.Terminate(ctx) //nolint:errcheck
	}
}

func (inv *Inviter) shutdown(ctx context.Context) {
	switch inv.Status() {
	case StatusConfirmed:
		inv.bye(ctx, CauseBye, nil) //nolint:errcheck
	case StatusInviteSent, Status1xxReceived, StatusEarlyMedia:
		inv.Cancel(nil) //nolint:errcheck
		inv.end(ctx, CauseCanceled, nil)
	case StatusTerminated:
	default:
		inv.end(ctx, CauseCanceled, nil)
	}
}
