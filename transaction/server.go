package transaction

import (
	"context"
	"log/slog"
	"reflect"
	"sync/atomic"

	"braces.dev/errtrace"
	"github.com/emiago/sipgo/sip"

	"github.com/ghettovoice/sipua/log"
	"github.com/ghettovoice/sipua/message"
)

// NewServerTransaction creates a server transaction for the request.
func NewServerTransaction(ctx context.Context, req *sip.Request, tp Transport, opts *Options) (ServerTransaction, error) {
	if req != nil && req.Method == sip.INVITE {
		return errtrace.Wrap2(NewInviteServer(ctx, req, tp, opts))
	}
	return errtrace.Wrap2(NewNonInviteServer(ctx, req, tp, opts))
}

type serverTransact struct {
	*baseTransact
	lastRes atomic.Pointer[sip.Response]
}

func newServerTransact(typ Type, impl ServerTransaction, req *sip.Request, tp Transport, opts *Options) (*serverTransact, error) {
	if req == nil {
		return nil, errtrace.Wrap(NewInvalidArgumentError("invalid request"))
	}
	if tp == nil {
		return nil, errtrace.Wrap(NewInvalidArgumentError("invalid transport"))
	}
	key, err := ServerKey(req)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	return &serverTransact{
		baseTransact: newBaseTransact(typ, key, impl, req, tp, opts),
	}, nil
}

// LastResponse returns the last response sent by the transaction.
func (tx *serverTransact) LastResponse() *sip.Response {
	if tx == nil {
		return nil
	}
	return tx.lastRes.Load()
}

// MatchRequest checks whether the request matches the server transaction.
func (tx *serverTransact) MatchRequest(req *sip.Request) error {
	key, err := ServerKey(req)
	if err != nil {
		return errtrace.Wrap(err)
	}
	if key != tx.key {
		return errtrace.Wrap(ErrTransactionNotMatched)
	}
	return nil
}

// RecvRequest is called on each inbound request matched to the transaction.
func (tx *serverTransact) RecvRequest(ctx context.Context, req *sip.Request) error {
	if err := tx.MatchRequest(req); err != nil {
		return errtrace.Wrap(err)
	}
	if req.Method == sip.ACK {
		if v, ok := tx.impl.(interface {
			recvAck(ctx context.Context, req *sip.Request) error
		}); ok {
			return errtrace.Wrap(v.recvAck(ctx, req))
		}
		return errtrace.Wrap(NewInvalidArgumentError(ErrMethodNotAllowed))
	}
	return errtrace.Wrap(tx.fsm.FireCtx(ctx, txEvtRecvReq, req))
}

// Respond passes the response to the transaction state machine which sends it.
// The response must be created for the transaction's request.
func (tx *serverTransact) Respond(ctx context.Context, res *sip.Response) error {
	if res == nil {
		return errtrace.Wrap(NewInvalidArgumentError("invalid response"))
	}
	if key, err := ClientKey(res); err != nil || key.Branch != tx.key.Branch {
		return errtrace.Wrap(NewInvalidArgumentError("response does not match the transaction"))
	}

	code := int(res.StatusCode)
	switch {
	case message.IsProvisional(code):
		return errtrace.Wrap(tx.fsm.FireCtx(ctx, txEvtSend1xx, res))
	case message.IsSuccess(code):
		return errtrace.Wrap(tx.fsm.FireCtx(ctx, txEvtSend2xx, res))
	case message.IsFinal(code):
		return errtrace.Wrap(tx.fsm.FireCtx(ctx, txEvtSend300699, res))
	default:
		return errtrace.Wrap(NewInvalidArgumentError("invalid status code %d", code))
	}
}

const (
	txEvtRecvReq    = "recv_req"
	txEvtSend1xx    = "send_1xx"
	txEvtSend2xx    = "send_2xx"
	txEvtSend300699 = "send_300-699"
)

func (tx *serverTransact) initFSM(start State) {
	tx.baseTransact.initFSM(start)

	tx.fsm.SetTriggerParameters(txEvtRecvReq, reflect.TypeOf((*sip.Request)(nil)))
	resType := reflect.TypeOf((*sip.Response)(nil))
	tx.fsm.SetTriggerParameters(txEvtSend1xx, resType)
	tx.fsm.SetTriggerParameters(txEvtSend2xx, resType)
	tx.fsm.SetTriggerParameters(txEvtSend300699, resType)
}

func (tx *serverTransact) sendRes(ctx context.Context, res *sip.Response) error {
	return errtrace.Wrap(tx.send(ctx, res, res.Reason+" response"))
}

func (tx *serverTransact) actSendRes(ctx context.Context, args ...any) error {
	res := args[0].(*sip.Response) //nolint:forcetypeassert
	tx.lastRes.Store(res)

	tx.log.LogAttrs(ctx, slog.LevelDebug, "send response",
		slog.Any("transaction", tx.impl),
		slog.Any("response", log.Message(res)),
	)

	tx.sendRes(ctx, res) //nolint:errcheck
	return nil
}

func (tx *serverTransact) actResendRes(ctx context.Context, _ ...any) error {
	res := tx.LastResponse()
	if res == nil {
		return nil
	}

	tx.log.LogAttrs(ctx, slog.LevelDebug, "re-send response",
		slog.Any("transaction", tx.impl),
		slog.Any("response", log.Message(res)),
	)

	tx.sendRes(ctx, res) //nolint:errcheck
	return nil
}

func (tx *serverTransact) actCompleted(ctx context.Context, _ ...any) error {
	tx.log.LogAttrs(ctx, slog.LevelDebug, "transaction completed", slog.Any("transaction", tx.impl))
	return nil
}
