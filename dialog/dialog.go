// Package dialog implements SIP dialogs (RFC 3261 Section 12)
// and the offer/answer signaling state of a dialog (RFC 3264, RFC 6337).
package dialog

//go:generate go tool errtrace -w .

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"braces.dev/errtrace"
	"github.com/emiago/sipgo/sip"
	"github.com/looplab/fsm"

	"github.com/ghettovoice/sipua/internal/errorutil"
	"github.com/ghettovoice/sipua/internal/types"
	"github.com/ghettovoice/sipua/internal/util"
	"github.com/ghettovoice/sipua/log"
	"github.com/ghettovoice/sipua/message"
)

type Error = errorutil.Error

const (
	ErrMissingTag       Error = "missing dialog tag"
	ErrMissingContact   Error = "missing Contact header"
	ErrCSeqOutOfOrder   Error = "CSeq out of order"
	ErrDialogTerminated Error = "dialog terminated"
	ErrOfferOutstanding Error = "offer outstanding"
	ErrNoOffer          Error = "no outstanding offer"
	ErrSignalingClosed  Error = "signaling closed"
)

// NewSignalingError wraps the sentinel with the signaling state and the description direction.
func NewSignalingError(sentinel Error, st SignalingState, dir Direction) error {
	return fmt.Errorf("%w: %s description in %q state", sentinel, dir, st) //errtrace:skip
}

// ID identifies a dialog (RFC 3261 Section 12).
type ID struct {
	CallID    string
	LocalTag  string
	RemoteTag string
}

// UACID returns the UAC side identifier of the dialog the message belongs to.
func UACID(msg sip.Message) ID {
	return ID{message.CallID(msg), message.FromTag(msg), message.ToTag(msg)}
}

// UASID returns the UAS side identifier of the dialog the message belongs to.
func UASID(msg sip.Message) ID {
	return ID{message.CallID(msg), message.ToTag(msg), message.FromTag(msg)}
}

func (id ID) IsValid() bool { return id.CallID != "" && id.LocalTag != "" && id.RemoteTag != "" }

func (id ID) String() string { return id.CallID + id.LocalTag + id.RemoteTag }

func (id ID) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("call_id", id.CallID),
		slog.String("local_tag", id.LocalTag),
		slog.String("remote_tag", id.RemoteTag),
	)
}

// State is a dialog lifecycle state.
type State string

const (
	StateEarly      State = "early"
	StateConfirmed  State = "confirmed"
	StateTerminated State = "terminated"
)

const (
	dlgEvtConfirm   = "confirm"
	dlgEvtTerminate = "terminate"
)

type StateHandler = func(ctx context.Context, d *Dialog, from, to State)

// Options are dialog options.
type Options struct {
	// Via is the template of the Via header of in-dialog requests, the branch is generated per request.
	Via message.ViaParams
	// Contact is the local target. For UAC dialogs it defaults to the INVITE's Contact.
	Contact *sip.Uri
	// Log is the logger. If nil, the [log.Default] is used.
	Log *slog.Logger
}

func (o *Options) log() *slog.Logger {
	if o == nil || o.Log == nil {
		return log.Default()
	}
	return o.Log
}

// Dialog is a peer-to-peer relationship between two user agents (RFC 3261 Section 12).
type Dialog struct {
	id  ID
	fsm *fsm.FSM
	sig *Signaling
	via message.ViaParams
	log *slog.Logger

	mu           sync.Mutex
	routeSet     []sip.Uri
	localSeq     uint32
	remoteSeq    uint32
	hasRemoteSeq bool
	localURI     sip.Uri
	localName    string
	remoteURI    sip.Uri
	remoteName   string
	remoteTarget sip.Uri
	localContact *sip.Uri
	secure       bool
	pracked      []uint32

	onState types.CallbackManager[StateHandler]
}

// NewUAC creates the UAC side of the dialog established by the response to the INVITE
// (RFC 3261 Section 12.1.2). A 1xx response creates an early dialog, a 2xx a confirmed one.
func NewUAC(invite *sip.Request, res *sip.Response, opts *Options) (*Dialog, error) {
	if invite == nil || res == nil {
		return nil, errtrace.Wrap(errorutil.NewInvalidArgumentError("invalid request or response"))
	}
	id := UACID(res)
	if !id.IsValid() {
		return nil, errtrace.Wrap(ErrMissingTag)
	}

	code := int(res.StatusCode)
	target, ok := message.ContactURI(res)
	if !ok {
		if message.IsSuccess(code) {
			return nil, errtrace.Wrap(ErrMissingContact)
		}
		target = invite.Recipient
	}

	routes := message.HeaderURIs(res, "Record-Route")
	slices.Reverse(routes)

	seq, _ := message.CSeq(invite)
	d := &Dialog{
		id:           id,
		sig:          NewSignaling(),
		via:          opts.via(),
		log:          opts.log(),
		routeSet:     routes,
		localSeq:     seq,
		remoteTarget: target,
		secure:       invite.Recipient.Scheme == "sips",
	}
	if from := invite.From(); from != nil {
		d.localURI, d.localName = from.Address, from.DisplayName
	}
	if to := invite.To(); to != nil {
		d.remoteURI, d.remoteName = to.Address, to.DisplayName
	}
	if opts != nil && opts.Contact != nil {
		d.localContact = opts.Contact
	} else if c, ok := message.ContactURI(invite); ok {
		d.localContact = &c
	}

	start := StateEarly
	if message.IsSuccess(code) {
		start = StateConfirmed
	}
	d.initFSM(start)
	return d, nil
}

// NewUAS creates the UAS side of the dialog for the INVITE (RFC 3261 Section 12.1.1).
// The dialog starts early, the local tag must be used as the To-tag of responses.
func NewUAS(invite *sip.Request, localTag string, opts *Options) (*Dialog, error) {
	if invite == nil {
		return nil, errtrace.Wrap(errorutil.NewInvalidArgumentError("invalid request"))
	}
	id := ID{message.CallID(invite), localTag, message.FromTag(invite)}
	if !id.IsValid() {
		return nil, errtrace.Wrap(ErrMissingTag)
	}
	target, ok := message.ContactURI(invite)
	if !ok {
		return nil, errtrace.Wrap(ErrMissingContact)
	}

	seq, _ := message.CSeq(invite)
	d := &Dialog{
		id:           id,
		sig:          NewSignaling(),
		via:          opts.via(),
		log:          opts.log(),
		routeSet:     message.HeaderURIs(invite, "Record-Route"),
		localSeq:     util.RandUint32(10000),
		remoteSeq:    seq,
		hasRemoteSeq: true,
		remoteTarget: target,
		secure:       invite.Recipient.Scheme == "sips",
	}
	if to := invite.To(); to != nil {
		d.localURI, d.localName = to.Address, to.DisplayName
	}
	if from := invite.From(); from != nil {
		d.remoteURI, d.remoteName = from.Address, from.DisplayName
	}
	if opts != nil && opts.Contact != nil {
		d.localContact = opts.Contact
	}

	d.initFSM(StateEarly)
	return d, nil
}

func (o *Options) via() message.ViaParams {
	if o == nil {
		return message.ViaParams{}
	}
	return o.Via
}

func (d *Dialog) initFSM(start State) {
	d.fsm = fsm.NewFSM(
		string(start),
		fsm.Events{
			{Name: dlgEvtConfirm, Src: []string{string(StateEarly)}, Dst: string(StateConfirmed)},
			{Name: dlgEvtTerminate, Src: []string{string(StateEarly), string(StateConfirmed)}, Dst: string(StateTerminated)},
		},
		fsm.Callbacks{
			"enter_" + string(StateTerminated): func(context.Context, *fsm.Event) {
				d.sig.Close()
			},
			"after_event": func(ctx context.Context, e *fsm.Event) {
				from, to := State(e.Src), State(e.Dst)
				d.log.LogAttrs(ctx, slog.LevelDebug, "dialog state changed",
					slog.Any("dialog", d),
					slog.String("from", string(from)),
				)
				for fn := range d.onState.All() {
					fn(ctx, d, from, to)
				}
			},
		},
	)
}

// LogValue implements [slog.LogValuer].
func (d *Dialog) LogValue() slog.Value {
	if d == nil {
		return slog.Value{}
	}
	return slog.GroupValue(
		slog.Any("id", d.id),
		slog.String("state", string(d.State())),
		slog.Any("signaling", d.sig),
	)
}

func (d *Dialog) ID() ID { return d.id }

// State returns the current lifecycle state.
func (d *Dialog) State() State { return State(d.fsm.Current()) }

func (d *Dialog) IsEarly() bool { return d.State() == StateEarly }

func (d *Dialog) IsConfirmed() bool { return d.State() == StateConfirmed }

func (d *Dialog) IsTerminated() bool { return d.State() == StateTerminated }

// Signaling returns the offer/answer state machine of the dialog.
func (d *Dialog) Signaling() *Signaling { return d.sig }

// OnStateChanged registers a callback called on each lifecycle transition.
func (d *Dialog) OnStateChanged(fn StateHandler) (remove func()) { return d.onState.Add(fn) }

// Confirm moves the early dialog to the confirmed state.
// The 2xx response, if given, recomputes the remote target and, on the UAC side, the route set.
// Confirming a confirmed dialog only refreshes the remote target.
func (d *Dialog) Confirm(ctx context.Context, res *sip.Response) error {
	if res != nil {
		d.mu.Lock()
		if target, ok := message.ContactURI(res); ok {
			d.remoteTarget = target
		}
		if d.IsEarly() && message.FromTag(res) == d.id.LocalTag {
			routes := message.HeaderURIs(res, "Record-Route")
			slices.Reverse(routes)
			d.routeSet = routes
		}
		d.mu.Unlock()
	}

	switch d.State() {
	case StateConfirmed:
		return nil
	case StateTerminated:
		return errtrace.Wrap(ErrDialogTerminated)
	}
	return errtrace.Wrap(d.fsm.Event(ctx, dlgEvtConfirm))
}

// Terminate moves the dialog to the terminated state and closes its signaling.
// Terminating a terminated dialog is a no-op.
func (d *Dialog) Terminate(ctx context.Context) error {
	if d.IsTerminated() {
		return nil
	}
	return errtrace.Wrap(d.fsm.Event(ctx, dlgEvtTerminate))
}

// RecvRequest validates the in-dialog request (RFC 3261 Section 12.2.2).
// The remote sequence number must increase, ACK and CANCEL reuse the sequence number of the INVITE.
// Target refresh requests update the remote target.
func (d *Dialog) RecvRequest(req *sip.Request) error {
	if d.IsTerminated() {
		return errtrace.Wrap(ErrDialogTerminated)
	}

	seq, _ := message.CSeq(req)

	d.mu.Lock()
	defer d.mu.Unlock()

	if req.Method != sip.ACK && req.Method != sip.CANCEL {
		if d.hasRemoteSeq && seq <= d.remoteSeq {
			return errtrace.Wrap(fmt.Errorf("%w: got %d, last %d", ErrCSeqOutOfOrder, seq, d.remoteSeq))
		}
		d.remoteSeq = seq
		d.hasRemoteSeq = true
	}
	if req.Method == sip.INVITE || req.Method == sip.UPDATE {
		if target, ok := message.ContactURI(req); ok {
			d.remoteTarget = target
		}
	}
	return nil
}

// LocalSeq returns the last local CSeq number.
func (d *Dialog) LocalSeq() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.localSeq
}

// RemoteSeq returns the last remote CSeq number.
func (d *Dialog) RemoteSeq() (uint32, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.remoteSeq, d.hasRemoteSeq
}

// RemoteTarget returns the URI in-dialog requests are sent to.
func (d *Dialog) RemoteTarget() sip.Uri {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.remoteTarget
}

// RouteSet returns a copy of the route set.
func (d *Dialog) RouteSet() []sip.Uri {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.routeSet)
}

func (d *Dialog) LocalURI() sip.Uri { return d.localURI }

func (d *Dialog) RemoteURI() sip.Uri { return d.remoteURI }

func (d *Dialog) Secure() bool { return d.secure }

// RequestOptions are extra parts of an in-dialog request.
type RequestOptions struct {
	Headers []sip.Header
	Body    *message.Body
}

// NewRequest builds the in-dialog request (RFC 3261 Section 12.2.1.1).
// The local sequence number is incremented for methods other than ACK and CANCEL.
func (d *Dialog) NewRequest(method sip.RequestMethod, opts *RequestOptions) *sip.Request {
	d.mu.Lock()
	if method != sip.ACK && method != sip.CANCEL {
		d.localSeq++
	}
	seq := d.localSeq
	d.mu.Unlock()
	return d.newRequest(method, seq, opts)
}

// NewAck builds the ACK for a 2xx response to the INVITE with the CSeq number (RFC 3261 Section 13.2.2.4).
func (d *Dialog) NewAck(cseq uint32, body *message.Body) *sip.Request {
	return d.newRequest(sip.ACK, cseq, &RequestOptions{Body: body})
}

func (d *Dialog) newRequest(method sip.RequestMethod, seq uint32, opts *RequestOptions) *sip.Request {
	d.mu.Lock()
	ruri := d.remoteTarget
	routes := slices.Clone(d.routeSet)
	contact := d.localContact
	d.mu.Unlock()

	// strict routing (RFC 3261 Section 12.2.1.1)
	if len(routes) > 0 && !isLooseRoute(routes[0]) {
		ruri, routes = routes[0], append(routes[1:], d.remoteTarget)
	}

	p := message.RequestParams{
		Method:     method,
		RequestURI: ruri,
		CallID:     d.id.CallID,
		From:       d.localURI,
		FromName:   d.localName,
		FromTag:    d.id.LocalTag,
		To:         d.remoteURI,
		ToName:     d.remoteName,
		ToTag:      d.id.RemoteTag,
		CSeq:       seq,
		Via:        d.via,
		RouteSet:   routes,
	}
	p.Via.Branch = ""
	if method == sip.INVITE || method == sip.UPDATE {
		p.Contact = contact
	}
	if opts != nil {
		p.Headers = opts.Headers
		p.Body = opts.Body
	}
	return message.NewRequest(p)
}

func isLooseRoute(u sip.Uri) bool {
	_, ok := u.UriParams["lr"]
	return ok
}

// Pracked reports whether the reliable provisional response with the RSeq must be ignored:
// it was already acknowledged or is not newer than the last acknowledged one (RFC 3262 Section 4).
func (d *Dialog) Pracked(rseq uint32) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.pracked) == 0 {
		return false
	}
	return slices.Contains(d.pracked, rseq) || rseq <= d.pracked[len(d.pracked)-1]
}

// AddPracked records the RSeq as acknowledged.
func (d *Dialog) AddPracked(rseq uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !slices.Contains(d.pracked, rseq) {
		d.pracked = append(d.pracked, rseq)
	}
}

// RemovePracked forgets the acknowledged RSeq.
func (d *Dialog) RemovePracked(rseq uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pracked = slices.DeleteFunc(d.pracked, func(v uint32) bool { return v == rseq })
}
