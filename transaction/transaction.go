// Package transaction implements SIP transactions defined in RFC 3261 Section 17
// with the INVITE client transaction patch of RFC 6026.
package transaction

//go:generate go tool errtrace -w .
//go:generate go tool mockgen -typed -destination=transactionmock/mock.go -package=transactionmock . Transport

import (
	"context"
	"log/slog"

	"braces.dev/errtrace"
	"github.com/emiago/sipgo/sip"

	"github.com/ghettovoice/sipua/internal/errorutil"
	"github.com/ghettovoice/sipua/internal/util"
	"github.com/ghettovoice/sipua/log"
	"github.com/ghettovoice/sipua/message"
)

type Error = errorutil.Error

const (
	ErrTransactionTimedOut   Error = "transaction timed out"
	ErrTransportFailure      Error = "transport failure"
	ErrTransactionNotMatched Error = "transaction not matched"
	ErrTransactionNotFound   Error = "transaction not found"
	ErrTransactionExists     Error = "transaction already exists"
	ErrMethodNotAllowed      Error = "request method not allowed"
	ErrLayerClosed           Error = "transaction layer closed"
)

// NewInvalidArgumentError wraps args with [errorutil.ErrInvalidArgument].
func NewInvalidArgumentError(args ...any) error {
	return errorutil.NewInvalidArgumentError(args...) //errtrace:skip
}

// State is a transaction state.
type State string

const (
	StateCalling    State = "calling"
	StateTrying     State = "trying"
	StateProceeding State = "proceeding"
	StateAccepted   State = "accepted"
	StateCompleted  State = "completed"
	StateConfirmed  State = "confirmed"
	StateTerminated State = "terminated"
)

// Type is a transaction type.
type Type string

const (
	TypeClientInvite    Type = "client_invite"
	TypeClientNonInvite Type = "client_non_invite"
	TypeServerInvite    Type = "server_invite"
	TypeServerNonInvite Type = "server_non_invite"
)

// Transport sends messages on behalf of transactions.
type Transport interface {
	// Send sends the message to its destination.
	Send(ctx context.Context, msg sip.Message) error
	// Reliable reports whether the transport is reliable (TCP, TLS, SCTP).
	Reliable() bool
}

type (
	StateHandler    = func(ctx context.Context, from, to State)
	ErrorHandler    = func(ctx context.Context, err error)
	ResponseHandler = func(ctx context.Context, tx ClientTransaction, res *sip.Response)
	RequestHandler  = func(ctx context.Context, tx ServerTransaction, req *sip.Request)
)

// Transaction is a common interface of client and server transactions.
type Transaction interface {
	slog.LogValuer
	// Type returns the transaction type.
	Type() Type
	// Key returns the transaction key.
	Key() Key
	// State returns the current transaction state.
	State() State
	// Request returns the request that created the transaction.
	Request() *sip.Request
	// Err returns the error the transaction terminated with, if any.
	Err() error
	// Done returns a channel closed when the transaction terminates.
	Done() <-chan struct{}
	// Terminate terminates the transaction immediately.
	Terminate(ctx context.Context) error
	// OnStateChanged registers a callback called on each state transition.
	OnStateChanged(fn StateHandler) (remove func())
	// OnTransportError registers a callback called when the transport fails to send a message.
	OnTransportError(fn ErrorHandler) (remove func())
}

// ClientTransaction is a client transaction.
type ClientTransaction interface {
	Transaction
	// LastResponse returns the last response received by the transaction.
	LastResponse() *sip.Response
	// MatchResponse checks whether the response matches the transaction (RFC 3261 Section 17.1.3).
	MatchResponse(res *sip.Response) error
	// RecvResponse passes the response from the transport to the transaction.
	RecvResponse(ctx context.Context, res *sip.Response) error
	// OnResponse registers a callback called for each response passed to the TU.
	// Responses received before any callback was registered are delivered on registration.
	OnResponse(fn ResponseHandler) (remove func())
}

// ServerTransaction is a server transaction.
type ServerTransaction interface {
	Transaction
	// LastResponse returns the last response sent by the transaction.
	LastResponse() *sip.Response
	// MatchRequest checks whether the request matches the transaction (RFC 3261 Section 17.2.3).
	MatchRequest(req *sip.Request) error
	// RecvRequest passes the request from the transport to the transaction.
	RecvRequest(ctx context.Context, req *sip.Request) error
	// Respond sends the response built for the transaction's request.
	Respond(ctx context.Context, res *sip.Response) error
}

// Key identifies a transaction.
// ACK matches the INVITE server transaction it acknowledges, CANCEL has its own transaction.
type Key struct {
	Branch string
	Method sip.RequestMethod
}

// ClientKey returns the key of the client transaction matching the message.
func ClientKey(msg sip.Message) (Key, error) {
	branch := message.Branch(msg)
	_, method := message.CSeq(msg)
	if branch == "" || method == "" {
		return Key{}, errtrace.Wrap(NewInvalidArgumentError("missing Via branch or CSeq"))
	}
	return Key{branch, sip.RequestMethod(util.UCase(string(method)))}, nil
}

// ServerKey returns the key of the server transaction matching the request.
func ServerKey(req *sip.Request) (Key, error) {
	branch := message.Branch(req)
	if branch == "" {
		return Key{}, errtrace.Wrap(NewInvalidArgumentError("missing Via branch"))
	}
	method := sip.RequestMethod(util.UCase(string(req.Method)))
	if method == sip.ACK {
		method = sip.INVITE
	}
	return Key{branch, method}, nil
}

func (k Key) IsValid() bool { return k.Branch != "" && k.Method != "" }

func (k Key) String() string { return k.Branch + "/" + string(k.Method) }

func (k Key) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("branch", k.Branch),
		slog.String("method", string(k.Method)),
	)
}

// Options are transaction options.
type Options struct {
	// Timings is the timer config. Zero value uses RFC 3261 defaults.
	Timings Timings
	// Log is the logger. If nil, the [log.Default] is used.
	Log *slog.Logger
}

func (o *Options) timings() Timings {
	if o == nil {
		return Timings{}
	}
	return o.Timings
}

func (o *Options) log() *slog.Logger {
	if o == nil || o.Log == nil {
		return log.Default()
	}
	return o.Log
}
