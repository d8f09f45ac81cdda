package transaction

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"braces.dev/errtrace"
	"github.com/emiago/sipgo/sip"

	"github.com/ghettovoice/sipua/internal/timeutil"
)

// NonInviteServer is the non-INVITE server transaction (RFC 3261 Section 17.2.2).
type NonInviteServer struct {
	*serverTransact

	tmrJ atomic.Pointer[timeutil.Timer]
}

// NewNonInviteServer creates a new non-INVITE server transaction.
func NewNonInviteServer(_ context.Context, req *sip.Request, tp Transport, opts *Options) (*NonInviteServer, error) {
	if req == nil || req.Method == sip.INVITE || req.Method == sip.ACK {
		return nil, errtrace.Wrap(NewInvalidArgumentError(ErrMethodNotAllowed))
	}

	tx := new(NonInviteServer)
	srvTx, err := newServerTransact(TypeServerNonInvite, tx, req, tp, opts)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	tx.serverTransact = srvTx

	tx.initFSM(StateTrying)
	return tx, nil
}

const txEvtTimerJ = "timer_j"

func (tx *NonInviteServer) initFSM(start State) {
	tx.serverTransact.initFSM(start)

	tx.fsm.Configure(StateTrying).
		Ignore(txEvtRecvReq).
		Permit(txEvtSend1xx, StateProceeding).
		Permit(txEvtSend2xx, StateCompleted).
		Permit(txEvtSend300699, StateCompleted).
		Permit(txEvtTranspErr, StateTerminated).
		Permit(txEvtTerminate, StateTerminated)

	tx.fsm.Configure(StateProceeding).
		OnEntryFrom(txEvtSend1xx, tx.actSendRes).
		InternalTransition(txEvtSend1xx, tx.actSendRes).
		InternalTransition(txEvtRecvReq, tx.actResendRes).
		Permit(txEvtSend2xx, StateCompleted).
		Permit(txEvtSend300699, StateCompleted).
		Permit(txEvtTranspErr, StateTerminated).
		Permit(txEvtTerminate, StateTerminated)

	tx.fsm.Configure(StateCompleted).
		OnEntryFrom(txEvtSend2xx, tx.actSendRes).
		OnEntryFrom(txEvtSend300699, tx.actSendRes).
		OnEntry(tx.actCompleted).
		InternalTransition(txEvtRecvReq, tx.actResendRes).
		Ignore(txEvtSend1xx).
		Ignore(txEvtSend2xx).
		Ignore(txEvtSend300699).
		Permit(txEvtTimerJ, StateTerminated).
		Permit(txEvtTranspErr, StateTerminated).
		Permit(txEvtTerminate, StateTerminated)

	tx.fsm.Configure(StateTerminated).
		OnEntryFrom(txEvtTranspErr, tx.actTranspErr).
		OnEntry(tx.actTerminated).
		Ignore(txEvtRecvReq).
		Ignore(txEvtSend1xx).
		Ignore(txEvtSend2xx).
		Ignore(txEvtSend300699).
		Ignore(txEvtTranspErr).
		Ignore(txEvtTimerJ).
		InternalTransition(txEvtTerminate, tx.actNoop)
}

func (tx *NonInviteServer) actCompleted(ctx context.Context, args ...any) error {
	tx.serverTransact.actCompleted(ctx, args...) //nolint:errcheck

	if tx.tp.Reliable() {
		// timer J is zero on reliable transports
		return errtrace.Wrap(tx.fsm.FireCtx(ctx, txEvtTimerJ))
	}

	tmr := timeutil.AfterFunc(tx.timings.TimeJ(), tx.onTimerJ)
	tx.tmrJ.Store(tmr)

	tx.log.LogAttrs(ctx, slog.LevelDebug,
		"timer J started",
		slog.Any("transaction", tx),
		slog.Time("expires_at", time.Now().Add(tmr.Left())),
	)

	return nil
}

func (tx *NonInviteServer) onTimerJ() {
	tx.log.LogAttrs(tx.ctx, slog.LevelDebug, "timer J expired", slog.Any("transaction", tx))

	tx.tmrJ.Store(nil)

	if tx.State() != StateCompleted {
		return
	}

	if err := tx.fsm.FireCtx(tx.ctx, txEvtTimerJ); err != nil {
		panic(fmt.Errorf("fire %q in state %q: %w", txEvtTimerJ, tx.State(), err))
	}
}

func (tx *NonInviteServer) actTerminated(ctx context.Context, args ...any) error {
	tx.stopTimer(ctx, "J", tx.tmrJ.Swap(nil))

	return errtrace.Wrap(tx.serverTransact.actTerminated(ctx, args...))
}
