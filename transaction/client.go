package transaction

import (
	"context"
	"log/slog"
	"reflect"
	"sync/atomic"

	"braces.dev/errtrace"
	"github.com/emiago/sipgo/sip"

	"github.com/ghettovoice/sipua/internal/types"
	"github.com/ghettovoice/sipua/log"
	"github.com/ghettovoice/sipua/message"
)

// NewClientTransaction creates a client transaction for the request
// and sends the request.
func NewClientTransaction(ctx context.Context, req *sip.Request, tp Transport, opts *Options) (ClientTransaction, error) {
	if req != nil && req.Method == sip.INVITE {
		return errtrace.Wrap2(NewInviteClient(ctx, req, tp, opts))
	}
	return errtrace.Wrap2(NewNonInviteClient(ctx, req, tp, opts))
}

type clientTransact struct {
	*baseTransact
	lastRes atomic.Pointer[sip.Response]

	onRes       types.CallbackManager[ResponseHandler]
	pendingRess types.Deque[*sip.Response]
}

func newClientTransact(typ Type, impl ClientTransaction, req *sip.Request, tp Transport, opts *Options) (*clientTransact, error) {
	if req == nil {
		return nil, errtrace.Wrap(NewInvalidArgumentError("invalid request"))
	}
	if tp == nil {
		return nil, errtrace.Wrap(NewInvalidArgumentError("invalid transport"))
	}
	key, err := ClientKey(req)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	return &clientTransact{
		baseTransact: newBaseTransact(typ, key, impl, req, tp, opts),
	}, nil
}

func (tx *clientTransact) clnImpl() ClientTransaction {
	return tx.impl.(ClientTransaction) //nolint:forcetypeassert
}

// LastResponse returns the last response received by the transaction.
func (tx *clientTransact) LastResponse() *sip.Response {
	if tx == nil {
		return nil
	}
	return tx.lastRes.Load()
}

// MatchResponse checks whether the response matches the client transaction.
func (tx *clientTransact) MatchResponse(res *sip.Response) error {
	key, err := ClientKey(res)
	if err != nil {
		return errtrace.Wrap(err)
	}
	if key != tx.key {
		return errtrace.Wrap(ErrTransactionNotMatched)
	}
	return nil
}

// RecvResponse is called on each inbound response received by the transport layer.
func (tx *clientTransact) RecvResponse(ctx context.Context, res *sip.Response) error {
	if err := tx.MatchResponse(res); err != nil {
		return errtrace.Wrap(err)
	}

	code := int(res.StatusCode)
	switch {
	case message.IsProvisional(code):
		return errtrace.Wrap(tx.fsm.FireCtx(ctx, txEvtRecv1xx, res))
	case message.IsSuccess(code):
		return errtrace.Wrap(tx.fsm.FireCtx(ctx, txEvtRecv2xx, res))
	case message.IsFinal(code):
		return errtrace.Wrap(tx.fsm.FireCtx(ctx, txEvtRecv300699, res))
	default:
		return errtrace.Wrap(NewInvalidArgumentError("invalid status code %d", code))
	}
}

// OnResponse registers a callback to be called when the transaction passes a response to the TU.
// Pending responses are delivered to the new callback immediately.
func (tx *clientTransact) OnResponse(fn ResponseHandler) (remove func()) {
	remove = tx.onRes.Add(fn)
	tx.deliverPendingRess()
	return remove
}

const (
	txEvtRecv1xx    = "recv_1xx"
	txEvtRecv2xx    = "recv_2xx"
	txEvtRecv300699 = "recv_300-699"
)

func (tx *clientTransact) initFSM(start State) {
	tx.baseTransact.initFSM(start)

	resType := reflect.TypeOf((*sip.Response)(nil))
	tx.fsm.SetTriggerParameters(txEvtRecv1xx, resType)
	tx.fsm.SetTriggerParameters(txEvtRecv2xx, resType)
	tx.fsm.SetTriggerParameters(txEvtRecv300699, resType)
}

func (tx *clientTransact) sendReq(ctx context.Context, req *sip.Request) error {
	return errtrace.Wrap(tx.send(ctx, req, string(req.Method)+" request"))
}

func (tx *clientTransact) actSendReq(ctx context.Context, _ ...any) error {
	tx.log.LogAttrs(ctx, slog.LevelDebug, "send request",
		slog.Any("transaction", tx.impl),
		slog.Any("request", log.Message(tx.req)),
	)

	tx.sendReq(ctx, tx.req) //nolint:errcheck
	return nil
}

func (tx *clientTransact) actPassRes(ctx context.Context, args ...any) error {
	res := args[0].(*sip.Response) //nolint:forcetypeassert
	tx.lastRes.Store(res)

	tx.log.LogAttrs(ctx, slog.LevelDebug, "pass response",
		slog.Any("transaction", tx.impl),
		slog.Any("response", log.Message(res)),
	)

	tx.pendingRess.Append(res)
	if tx.onRes.Len() > 0 {
		tx.deliverPendingRess()
	}
	return nil
}

func (tx *clientTransact) deliverPendingRess() {
	ress := tx.pendingRess.Drain()
	if len(ress) == 0 {
		return
	}

	impl := tx.clnImpl()
	for _, res := range ress {
		for fn := range tx.onRes.All() {
			fn(tx.ctx, impl, res)
		}
	}
}

func (tx *clientTransact) actProceeding(ctx context.Context, _ ...any) error {
	tx.log.LogAttrs(ctx, slog.LevelDebug, "transaction proceeding", slog.Any("transaction", tx.impl))
	return nil
}

func (tx *clientTransact) actCompleted(ctx context.Context, _ ...any) error {
	tx.log.LogAttrs(ctx, slog.LevelDebug, "transaction completed", slog.Any("transaction", tx.impl))
	return nil
}
