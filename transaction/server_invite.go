package transaction

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync/atomic"
	"time"

	"braces.dev/errtrace"
	"github.com/emiago/sipgo/sip"

	"github.com/ghettovoice/sipua/internal/timeutil"
	"github.com/ghettovoice/sipua/internal/types"
	"github.com/ghettovoice/sipua/message"
)

// InviteServer is the INVITE server transaction (RFC 3261 Section 17.2.1).
//
// The transaction sends 100 Trying as soon as it is created.
// It terminates right after a 2xx is sent, 2xx retransmissions and
// the matching ACK are handled by the TU.
type InviteServer struct {
	*serverTransact

	tmrG atomic.Pointer[timeutil.Timer]
	tmrH atomic.Pointer[timeutil.Timer]
	tmrI atomic.Pointer[timeutil.Timer]

	onAck       types.CallbackManager[RequestHandler]
	pendingAcks types.Deque[*sip.Request]
}

// NewInviteServer creates a new INVITE server transaction and sends 100 Trying.
func NewInviteServer(ctx context.Context, req *sip.Request, tp Transport, opts *Options) (*InviteServer, error) {
	if req == nil || req.Method != sip.INVITE {
		return nil, errtrace.Wrap(NewInvalidArgumentError(ErrMethodNotAllowed))
	}

	tx := new(InviteServer)
	srvTx, err := newServerTransact(TypeServerInvite, tx, req, tp, opts)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	tx.serverTransact = srvTx

	tx.initFSM(StateProceeding)
	if err := tx.actProceeding(ctx); err != nil {
		return nil, errtrace.Wrap(err)
	}
	return tx, nil
}

const (
	txEvtRecvAck = "recv_ack"
	txEvtTimerG  = "timer_g"
	txEvtTimerH  = "timer_h"
	txEvtTimerI  = "timer_i"
)

func (tx *InviteServer) initFSM(start State) {
	tx.serverTransact.initFSM(start)

	tx.fsm.SetTriggerParameters(txEvtRecvAck, reflect.TypeOf((*sip.Request)(nil)))

	tx.fsm.Configure(StateProceeding).
		InternalTransition(txEvtRecvReq, tx.actResendRes).
		InternalTransition(txEvtSend1xx, tx.actSendRes).
		Ignore(txEvtRecvAck).
		Permit(txEvtSend2xx, StateTerminated).
		Permit(txEvtSend300699, StateCompleted).
		Permit(txEvtTranspErr, StateTerminated).
		Permit(txEvtTerminate, StateTerminated)

	tx.fsm.Configure(StateCompleted).
		OnEntryFrom(txEvtSend300699, tx.actSendRes).
		OnEntry(tx.actCompleted).
		InternalTransition(txEvtRecvReq, tx.actResendRes).
		InternalTransition(txEvtTimerG, tx.actResendRes).
		Permit(txEvtRecvAck, StateConfirmed).
		Permit(txEvtTimerH, StateTerminated).
		Permit(txEvtTranspErr, StateTerminated).
		Permit(txEvtTerminate, StateTerminated)

	tx.fsm.Configure(StateConfirmed).
		OnEntryFrom(txEvtRecvAck, tx.actPassAck).
		OnEntry(tx.actConfirmed).
		Ignore(txEvtRecvReq).
		Ignore(txEvtRecvAck).
		Ignore(txEvtTranspErr).
		Ignore(txEvtTimerG).
		Ignore(txEvtTimerH).
		Permit(txEvtTimerI, StateTerminated).
		Permit(txEvtTerminate, StateTerminated)

	tx.fsm.Configure(StateTerminated).
		OnEntryFrom(txEvtSend2xx, tx.actSendRes).
		OnEntryFrom(txEvtTimerH, tx.actTimedOut).
		OnEntryFrom(txEvtTranspErr, tx.actTranspErr).
		OnEntry(tx.actTerminated).
		Ignore(txEvtRecvReq).
		Ignore(txEvtRecvAck).
		Ignore(txEvtSend1xx).
		Ignore(txEvtSend2xx).
		Ignore(txEvtSend300699).
		Ignore(txEvtTimerG).
		Ignore(txEvtTimerH).
		Ignore(txEvtTimerI).
		InternalTransition(txEvtTranspErr, tx.actTranspErr).
		InternalTransition(txEvtTerminate, tx.actNoop)
}

func (tx *InviteServer) actProceeding(ctx context.Context, _ ...any) error {
	tx.log.LogAttrs(ctx, slog.LevelDebug, "transaction proceeding", slog.Any("transaction", tx))

	res := message.NewResponse(tx.req, message.StatusTrying, "", message.ResponseParams{})
	tx.lastRes.Store(res)
	return errtrace.Wrap(tx.sendRes(ctx, res))
}

func (tx *InviteServer) recvAck(ctx context.Context, req *sip.Request) error {
	return errtrace.Wrap(tx.fsm.FireCtx(ctx, txEvtRecvAck, req))
}

func (tx *InviteServer) actPassAck(ctx context.Context, args ...any) error {
	ack := args[0].(*sip.Request) //nolint:forcetypeassert

	tx.log.LogAttrs(ctx, slog.LevelDebug, "pass ACK", slog.Any("transaction", tx))

	tx.pendingAcks.Append(ack)
	if tx.onAck.Len() > 0 {
		tx.deliverPendingAcks()
	}
	return nil
}

func (tx *InviteServer) deliverPendingAcks() {
	acks := tx.pendingAcks.Drain()
	for _, ack := range acks {
		for fn := range tx.onAck.All() {
			fn(tx.ctx, tx, ack)
		}
	}
}

// OnAck registers a callback called with the ACK to a non-2xx final response.
func (tx *InviteServer) OnAck(fn RequestHandler) (remove func()) {
	remove = tx.onAck.Add(fn)
	tx.deliverPendingAcks()
	return remove
}

func (tx *InviteServer) actCompleted(ctx context.Context, args ...any) error {
	tx.serverTransact.actCompleted(ctx, args...) //nolint:errcheck

	if !tx.tp.Reliable() {
		tmr := timeutil.AfterFunc(tx.timings.TimeG(), tx.onTimerG)
		tx.tmrG.Store(tmr)

		tx.log.LogAttrs(ctx, slog.LevelDebug,
			"timer G started",
			slog.Any("transaction", tx),
			slog.Time("expires_at", time.Now().Add(tmr.Left())),
		)
	}

	tmr := timeutil.AfterFunc(tx.timings.TimeH(), tx.onTimerH)
	tx.tmrH.Store(tmr)

	tx.log.LogAttrs(ctx, slog.LevelDebug,
		"timer H started",
		slog.Any("transaction", tx),
		slog.Time("expires_at", time.Now().Add(tmr.Left())),
	)

	return nil
}

func (tx *InviteServer) onTimerG() {
	tx.log.LogAttrs(tx.ctx, slog.LevelDebug, "timer G expired", slog.Any("transaction", tx))

	if tx.State() != StateCompleted {
		tx.tmrG.Store(nil)
		return
	}

	if err := tx.fsm.FireCtx(tx.ctx, txEvtTimerG); err != nil {
		panic(fmt.Errorf("fire %q in state %q: %w", txEvtTimerG, tx.State(), err))
	}

	if tmr := tx.tmrG.Load(); tmr != nil {
		tmr.Reset(min(2*tmr.Duration(), tx.timings.T2()))

		tx.log.LogAttrs(tx.ctx, slog.LevelDebug,
			"timer G reset",
			slog.Any("transaction", tx),
			slog.Time("expires_at", time.Now().Add(tmr.Left())),
		)
	}
}

func (tx *InviteServer) onTimerH() {
	tx.log.LogAttrs(tx.ctx, slog.LevelDebug, "timer H expired", slog.Any("transaction", tx))

	tx.tmrH.Store(nil)

	if tx.State() != StateCompleted {
		return
	}

	if err := tx.fsm.FireCtx(tx.ctx, txEvtTimerH); err != nil {
		panic(fmt.Errorf("fire %q in state %q: %w", txEvtTimerH, tx.State(), err))
	}
}

func (tx *InviteServer) actConfirmed(ctx context.Context, _ ...any) error {
	tx.log.LogAttrs(ctx, slog.LevelDebug, "transaction confirmed", slog.Any("transaction", tx))

	tx.stopTimer(ctx, "G", tx.tmrG.Swap(nil))
	tx.stopTimer(ctx, "H", tx.tmrH.Swap(nil))

	if tx.tp.Reliable() {
		// timer I is zero on reliable transports
		return errtrace.Wrap(tx.fsm.FireCtx(ctx, txEvtTimerI))
	}

	tmr := timeutil.AfterFunc(tx.timings.TimeI(), tx.onTimerI)
	tx.tmrI.Store(tmr)

	tx.log.LogAttrs(ctx, slog.LevelDebug,
		"timer I started",
		slog.Any("transaction", tx),
		slog.Time("expires_at", time.Now().Add(tmr.Left())),
	)

	return nil
}

func (tx *InviteServer) onTimerI() {
	tx.log.LogAttrs(tx.ctx, slog.LevelDebug, "timer I expired", slog.Any("transaction", tx))

	tx.tmrI.Store(nil)

	if tx.State() != StateConfirmed {
		return
	}

	if err := tx.fsm.FireCtx(tx.ctx, txEvtTimerI); err != nil {
		panic(fmt.Errorf("fire %q in state %q: %w", txEvtTimerI, tx.State(), err))
	}
}

func (tx *InviteServer) actTerminated(ctx context.Context, args ...any) error {
	tx.stopTimer(ctx, "G", tx.tmrG.Swap(nil))
	tx.stopTimer(ctx, "H", tx.tmrH.Swap(nil))
	tx.stopTimer(ctx, "I", tx.tmrI.Swap(nil))

	return errtrace.Wrap(tx.serverTransact.actTerminated(ctx, args...))
}
