// Package ua implements INVITE sessions of a SIP user agent (RFC 3261, RFC 3262, RFC 6026).
//
// [Core] owns the transaction layer, dialogs and sessions of one user agent
// and routes inbound messages to them. Outgoing sessions are created with [Core.NewInviter],
// incoming ones are delivered with [Options.OnInvite] as [Invitation].
package ua

//go:generate go tool errtrace -w .

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"braces.dev/errtrace"
	"github.com/emiago/sipgo/sip"

	"github.com/ghettovoice/sipua/dialog"
	"github.com/ghettovoice/sipua/internal/errorutil"
	"github.com/ghettovoice/sipua/internal/syncutil"
	"github.com/ghettovoice/sipua/log"
	"github.com/ghettovoice/sipua/message"
	"github.com/ghettovoice/sipua/metrics"
	"github.com/ghettovoice/sipua/sdh"
	"github.com/ghettovoice/sipua/transaction"
)

type Error = errorutil.Error

const (
	ErrInvalidState      Error = "invalid session state"
	ErrSessionTerminated Error = "session terminated"
	ErrNoPrack           Error = "no PRACK received"
	ErrCoreClosed        Error = "user agent core closed"
	ErrNoDialog          Error = "no dialog"
)

// ErrInvalidArgument is returned on invalid method arguments.
const ErrInvalidArgument = errorutil.ErrInvalidArgument

// NewInvalidStateError wraps [ErrInvalidState] with the current status.
func NewInvalidStateError(st Status) error {
	return errorutil.NewWrapperError(ErrInvalidState, "status %q", st) //errtrace:skip
}

// NewInvalidArgumentError wraps args with [ErrInvalidArgument].
func NewInvalidArgumentError(args ...any) error {
	return errorutil.NewInvalidArgumentError(args...) //errtrace:skip
}

// Rel100Policy is the reliable provisional response policy (RFC 3262).
type Rel100Policy int

const (
	// Rel100Supported advertises 100rel and sends reliable 1xx on request.
	Rel100Supported Rel100Policy = iota
	// Rel100Required requires peers to support 100rel.
	Rel100Required
	// Rel100None neither advertises nor uses 100rel.
	Rel100None
)

func (p Rel100Policy) String() string {
	switch p {
	case Rel100Required:
		return "required"
	case Rel100None:
		return "none"
	default:
		return "supported"
	}
}

// DefaultNoAnswerTimeout is the no-answer timeout used when [Options.NoAnswerTimeout] is zero.
const DefaultNoAnswerTimeout = 60 * time.Second

// InviteHandler receives incoming INVITE sessions.
// It is called from the message handling goroutine and must not block,
// blocking session calls like [Invitation.Accept] should be made from another goroutine.
type InviteHandler = func(ctx context.Context, inv *Invitation)

// Options configure the user agent core.
type Options struct {
	// Transport sends messages of the core. Required.
	Transport transaction.Transport
	// URI is the address-of-record used in From of outgoing sessions.
	URI sip.Uri
	// DisplayName of the From header of outgoing sessions.
	DisplayName string
	// Contact is the local contact URI. Required.
	Contact sip.Uri
	// Via describes the sent-by of outgoing requests.
	Via message.ViaParams
	// UserAgent is the value of the User-Agent header, omitted when empty.
	UserAgent string
	// Timings of transactions and session timers. Zero value uses RFC 3261 defaults.
	Timings transaction.Timings
	// Rel100 is the 100rel policy.
	Rel100 Rel100Policy
	// NoAnswerTimeout rejects unanswered incoming sessions with 408, [DefaultNoAnswerTimeout] when zero.
	NoAnswerTimeout time.Duration
	// SDHFactory creates session description handlers, [sdh.NewSDPFactory] with defaults when nil.
	SDHFactory sdh.Factory
	// OnInvite receives incoming sessions. Incoming INVITEs are rejected with 480 when nil.
	OnInvite InviteHandler
	// Metrics collects the core metrics, optional.
	Metrics *metrics.Metrics
	// Log is the logger. If nil, the [log.Default] is used.
	Log *slog.Logger
}

func (o *Options) log() *slog.Logger {
	if o == nil || o.Log == nil {
		return log.Default()
	}
	return o.Log
}

func (o *Options) noAnswerTimeout() time.Duration {
	if o.NoAnswerTimeout <= 0 {
		return DefaultNoAnswerTimeout
	}
	return o.NoAnswerTimeout
}

func (o *Options) sdhFactory() sdh.Factory {
	if o.SDHFactory == nil {
		return sdh.NewSDPFactory(&sdh.SDPOptions{Log: o.log()})
	}
	return o.SDHFactory
}

type dialogEntry struct {
	dlg       *dialog.Dialog
	sessionID string
}

type dialogSetKey struct {
	callID  string
	fromTag string
}

// session is the role specific part of a session.
type session interface {
	base() *Session
	// recvRequest handles the in-dialog request received on the dialog.
	recvRequest(ctx context.Context, tx transaction.ServerTransaction, req *sip.Request, d *dialog.Dialog)
	recvBye(ctx context.Context, tx transaction.ServerTransaction, req *sip.Request, d *dialog.Dialog)
	recvPrack(ctx context.Context, tx transaction.ServerTransaction, req *sip.Request, d *dialog.Dialog)
	// recvAck handles the ACK to a 2xx response.
	recvAck(ctx context.Context, req *sip.Request, d *dialog.Dialog)
	// dispose releases role specific resources of the terminated session.
	dispose(ctx context.Context)
	// shutdown ends the session when the core closes.
	shutdown(ctx context.Context)
}

// Core is the user agent core (RFC 3261 Section 8).
// It owns the transaction layer, the dialog table and the session table;
// sessions refer to each other and to dialogs by identifiers looked up here.
type Core struct {
	opts    *Options
	layer   *transaction.Layer
	log     *slog.Logger
	metrics *metrics.Metrics

	sessions syncutil.Map[string, session]
	dialogs  syncutil.Map[dialog.ID, dialogEntry]
	// outgoing INVITE dialog sets for 2xx arriving after the transaction ended
	inviters syncutil.Map[dialogSetKey, string]
	// answered incoming INVITEs for retransmissions arriving after the transaction ended
	invites syncutil.Map[transaction.Key, string]
	// BYEs of sessions terminated before their 2xx was acknowledged
	byes syncutil.Map[dialog.ID, *heldBye]

	closed atomic.Bool
}

// NewCore creates a user agent core.
func NewCore(opts *Options) (*Core, error) {
	if opts == nil || opts.Transport == nil {
		return nil, errtrace.Wrap(NewInvalidArgumentError("missing transport"))
	}
	if opts.Contact.Host == "" {
		return nil, errtrace.Wrap(NewInvalidArgumentError("missing contact"))
	}
	return &Core{
		opts: opts,
		layer: transaction.NewLayer(opts.Transport, &transaction.Options{
			Timings: opts.Timings,
			Log:     opts.log(),
		}),
		log:     opts.log(),
		metrics: opts.Metrics,
	}, nil
}

// Layer returns the transaction layer of the core.
func (c *Core) Layer() *transaction.Layer { return c.layer }

// Session returns the live session by id.
func (c *Core) Session(id string) (*Session, bool) {
	s, ok := c.sessions.Get(id)
	if !ok {
		return nil, false
	}
	return s.base(), true
}

// Sessions returns the number of live sessions.
func (c *Core) Sessions() int { return c.sessions.Len() }

// HandleMessage passes the inbound message to the core.
// Messages are expected to arrive in the order they were received per transport flow.
func (c *Core) HandleMessage(ctx context.Context, msg sip.Message) {
	if c.closed.Load() {
		return
	}
	switch m := msg.(type) {
	case *sip.Response:
		c.handleResponse(ctx, m)
	case *sip.Request:
		c.handleRequest(ctx, m)
	}
}

func (c *Core) handleResponse(ctx context.Context, res *sip.Response) {
	err := c.layer.HandleResponse(ctx, res)
	if err == nil {
		return
	}
	if errors.Is(err, transaction.ErrTransactionNotFound) {
		// 2xx retransmissions and forked 2xx after the INVITE transaction ended
		if _, method := message.CSeq(res); method == sip.INVITE && message.IsSuccess(int(res.StatusCode)) {
			if id, ok := c.inviters.Get(dialogSetKey{message.CallID(res), message.FromTag(res)}); ok {
				if s, ok := c.sessions.Get(id); ok {
					if inv, ok := s.(*Inviter); ok {
						inv.recvResponse(ctx, nil, res)
						return
					}
				}
			}
		}
	}

	c.discard(ctx, res, "stray_response", err)
}

func (c *Core) handleRequest(ctx context.Context, req *sip.Request) {
	switch req.Method {
	case sip.ACK:
		c.handleAck(ctx, req)
		return
	case sip.INVITE:
		if message.ToTag(req) == "" {
			c.handleInvite(ctx, req)
			return
		}
	}

	tx, isNew, err := c.layer.HandleRequest(ctx, req)
	if err != nil {
		c.discard(ctx, req, "bad_request", err)
		return
	}
	if !isNew {
		return
	}
	c.metrics.TransactionCreated(string(tx.Type()))

	if req.Method == sip.CANCEL {
		c.handleCancel(ctx, tx, req)
		return
	}

	if message.ToTag(req) == "" {
		c.respond(ctx, tx, req, message.StatusMethodNotAllowed, "", message.ResponseParams{
			Headers: []sip.Header{allowHeader()},
		})
		return
	}

	s, d, ok := c.lookupDialog(dialog.UASID(req))
	if !ok {
		c.respond(ctx, tx, req, message.StatusCallTransactionNotExist, "", message.ResponseParams{})
		return
	}
	s.recvRequest(ctx, tx, req, d)
}

func (c *Core) handleInvite(ctx context.Context, req *sip.Request) {
	if key, err := transaction.ServerKey(req); err == nil {
		if id, ok := c.invites.Get(key); ok {
			if tx, ok := c.layer.ServerTransaction(key); ok {
				tx.RecvRequest(ctx, req) //nolint:errcheck
				return
			}
			// the transaction ended on 2xx
			if s, ok := c.sessions.Get(id); ok {
				if inv, ok := s.(*Invitation); ok {
					inv.recvInviteRetransmission(ctx, req)
				}
			}
			return
		}
	}

	tx, isNew, err := c.layer.HandleRequest(ctx, req)
	if err != nil {
		c.discard(ctx, req, "bad_request", err)
		return
	}
	if !isNew {
		return
	}
	c.metrics.TransactionCreated(string(tx.Type()))

	if c.opts.OnInvite == nil {
		c.respond(ctx, tx, req, message.StatusTemporarilyUnavailable, "", message.ResponseParams{ToTag: message.NewTag()})
		return
	}

	inv, err := newInvitation(ctx, c, tx, req)
	if err != nil {
		c.log.LogAttrs(ctx, slog.LevelDebug, "incoming INVITE refused",
			slog.Any("request", log.Message(req)),
			slog.Any("error", err),
		)
		return
	}
	c.opts.OnInvite(ctx, inv)
}

func (c *Core) handleAck(ctx context.Context, req *sip.Request) {
	_, _, err := c.layer.HandleRequest(ctx, req)
	if err == nil {
		// ACK to a non-2xx response absorbed by the INVITE server transaction
		return
	}
	if !errors.Is(err, transaction.ErrTransactionNotFound) {
		c.discard(ctx, req, "bad_request", err)
		return
	}

	id := dialog.UASID(req)
	if c.releaseBye(ctx, id) {
		return
	}
	s, d, ok := c.lookupDialog(id)
	if !ok {
		c.discard(ctx, req, "no_dialog", nil)
		return
	}
	s.recvAck(ctx, req, d)
}

func (c *Core) handleCancel(ctx context.Context, tx transaction.ServerTransaction, req *sip.Request) {
	invTx, ok := c.layer.Cancelable(req)
	if !ok {
		c.respond(ctx, tx, req, message.StatusCallTransactionNotExist, "", message.ResponseParams{})
		return
	}
	c.respond(ctx, tx, req, message.StatusOK, "", message.ResponseParams{ToTag: message.ToTag(invTx.LastResponse())})

	id, ok := c.invites.Get(invTx.Key())
	if !ok {
		return
	}
	if s, ok := c.sessions.Get(id); ok {
		if inv, ok := s.(*Invitation); ok {
			inv.recvCancel(ctx, req)
		}
	}
}

func (c *Core) lookupDialog(id dialog.ID) (session, *dialog.Dialog, bool) {
	e, ok := c.dialogs.Get(id)
	if !ok {
		return nil, nil, false
	}
	s, ok := c.sessions.Get(e.sessionID)
	if !ok {
		return nil, nil, false
	}
	return s, e.dlg, true
}

func (c *Core) discard(ctx context.Context, msg sip.Message, reason string, err error) {
	c.metrics.MessageDiscarded(reason)
	c.log.LogAttrs(ctx, slog.LevelWarn, "message discarded",
		slog.Any("message", log.Message(msg)),
		slog.String("reason", reason),
		slog.Any("error", err),
	)
}

func (c *Core) respond(
	ctx context.Context,
	tx transaction.ServerTransaction,
	req *sip.Request,
	code int,
	reason string,
	params message.ResponseParams,
) error {
	if params.ToTag == "" && message.ToTag(req) == "" && code > message.StatusTrying {
		params.ToTag = message.NewTag()
	}
	res := message.NewResponse(req, code, reason, params)
	c.stampUserAgent(res)
	if err := tx.Respond(ctx, res); err != nil {
		c.log.LogAttrs(ctx, slog.LevelWarn, "failed to send response",
			slog.Any("response", log.Message(res)),
			slog.Any("error", err),
		)
		return errtrace.Wrap(err)
	}
	return nil
}

// sendRequest sends the request in a new client transaction.
func (c *Core) sendRequest(ctx context.Context, req *sip.Request) (transaction.ClientTransaction, error) {
	if c.closed.Load() {
		return nil, errtrace.Wrap(ErrCoreClosed)
	}
	c.stampUserAgent(req)
	tx, err := c.layer.NewClientTransaction(ctx, req)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	c.metrics.TransactionCreated(string(tx.Type()))
	return tx, nil
}

// send sends the message outside of any transaction, like ACK to 2xx and 2xx retransmissions.
func (c *Core) send(ctx context.Context, msg sip.Message) error {
	if req, ok := msg.(*sip.Request); ok {
		c.stampUserAgent(req)
	}
	return errtrace.Wrap(c.opts.Transport.Send(ctx, msg))
}

func (c *Core) stampUserAgent(msg sip.Message) {
	if c.opts.UserAgent == "" || len(msg.GetHeaders("User-Agent")) > 0 {
		return
	}
	name := "User-Agent"
	if _, ok := msg.(*sip.Response); ok {
		name = "Server"
		if len(msg.GetHeaders(name)) > 0 {
			return
		}
	}
	msg.AppendHeader(sip.NewHeader(name, c.opts.UserAgent))
}

func (c *Core) addSession(s session) {
	c.sessions.Set(s.base().id, s)
}

func (c *Core) addDialog(d *dialog.Dialog, sessionID string) {
	c.dialogs.Set(d.ID(), dialogEntry{d, sessionID})
}

func (c *Core) removeDialog(d *dialog.Dialog) {
	c.dialogs.DelIf(d.ID(), func(e dialogEntry) bool { return e.dlg == d })
}

// forget removes the session and everything indexed by it.
func (c *Core) forget(s *Session) {
	c.sessions.Del(s.id)
	for id, e := range c.dialogs.All() {
		if e.sessionID == s.id {
			c.dialogs.DelIf(id, func(e dialogEntry) bool { return e.sessionID == s.id })
		}
	}
	for k, id := range c.inviters.All() {
		if id == s.id {
			c.inviters.Del(k)
		}
	}
	for k, id := range c.invites.All() {
		if id == s.id {
			c.invites.Del(k)
		}
	}
}

// Close terminates all live sessions and the transaction layer.
// Calls of the core after Close fail with [ErrCoreClosed].
func (c *Core) Close(ctx context.Context) error {
	if c.closed.Load() {
		return nil
	}
	for _, s := range c.sessions.All() {
		s.shutdown(ctx)
	}
	for id := range c.byes.All() {
		c.releaseBye(ctx, id)
	}
	c.closed.Store(true)
	return errtrace.Wrap(c.layer.Close(ctx))
}

var allowedMethods = []string{"INVITE", "ACK", "CANCEL", "BYE", "PRACK", "INFO"}

func allowHeader() sip.Header {
	return sip.NewHeader("Allow", strings.Join(allowedMethods, ", "))
}
