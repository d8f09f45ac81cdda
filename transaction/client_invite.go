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
	"github.com/ghettovoice/sipua/log"
	"github.com/ghettovoice/sipua/message"
)

// InviteClient is the INVITE client transaction (RFC 3261 Section 17.1.1, RFC 6026 Section 7.2).
// Non-2xx final responses are acknowledged by the transaction itself,
// 2xx responses received in Accepted state are passed to the TU.
type InviteClient struct {
	*clientTransact

	tmrA atomic.Pointer[timeutil.Timer]
	tmrB atomic.Pointer[timeutil.Timer]
	tmrD atomic.Pointer[timeutil.Timer]
	tmrM atomic.Pointer[timeutil.Timer]

	ack atomic.Pointer[sip.Request]
}

// NewInviteClient creates a new INVITE client transaction and sends the request.
func NewInviteClient(ctx context.Context, req *sip.Request, tp Transport, opts *Options) (*InviteClient, error) {
	if req == nil || req.Method != sip.INVITE {
		return nil, errtrace.Wrap(NewInvalidArgumentError(ErrMethodNotAllowed))
	}

	tx := new(InviteClient)
	clnTx, err := newClientTransact(TypeClientInvite, tx, req, tp, opts)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	tx.clientTransact = clnTx

	tx.initFSM(StateCalling)
	if err := tx.actCalling(ctx); err != nil {
		return nil, errtrace.Wrap(err)
	}
	return tx, nil
}

const (
	txEvtTimerA = "timer_a"
	txEvtTimerB = "timer_b"
	txEvtTimerD = "timer_d"
	txEvtTimerM = "timer_m"
)

func (tx *InviteClient) initFSM(start State) {
	tx.clientTransact.initFSM(start)

	tx.fsm.Configure(StateCalling).
		InternalTransition(txEvtTimerA, tx.actSendReq).
		Permit(txEvtRecv1xx, StateProceeding).
		Permit(txEvtRecv2xx, StateAccepted).
		Permit(txEvtRecv300699, StateCompleted).
		Permit(txEvtTimerB, StateTerminated).
		Permit(txEvtTranspErr, StateTerminated).
		Permit(txEvtTerminate, StateTerminated)

	tx.fsm.Configure(StateProceeding).
		OnEntry(tx.actProceeding).
		OnEntryFrom(txEvtRecv1xx, tx.actPassRes).
		InternalTransition(txEvtRecv1xx, tx.actPassRes).
		Ignore(txEvtTimerA).
		Ignore(txEvtTimerB).
		Permit(txEvtRecv2xx, StateAccepted).
		Permit(txEvtRecv300699, StateCompleted).
		Permit(txEvtTranspErr, StateTerminated).
		Permit(txEvtTerminate, StateTerminated)

	tx.fsm.Configure(StateCompleted).
		OnEntry(tx.actCompleted).
		OnEntryFrom(txEvtRecv300699, tx.actPassResSendAck).
		InternalTransition(txEvtRecv300699, tx.actSendAck).
		Ignore(txEvtRecv1xx).
		Ignore(txEvtRecv2xx).
		Ignore(txEvtTimerA).
		Ignore(txEvtTimerB).
		Permit(txEvtTimerD, StateTerminated).
		Permit(txEvtTranspErr, StateTerminated).
		Permit(txEvtTerminate, StateTerminated)

	tx.fsm.Configure(StateAccepted).
		OnEntry(tx.actAccepted).
		OnEntryFrom(txEvtRecv2xx, tx.actPassRes).
		InternalTransition(txEvtRecv2xx, tx.actPassRes).
		Ignore(txEvtRecv1xx).
		Ignore(txEvtRecv300699).
		Ignore(txEvtTimerA).
		Ignore(txEvtTimerB).
		Permit(txEvtTimerM, StateTerminated).
		Permit(txEvtTranspErr, StateTerminated).
		Permit(txEvtTerminate, StateTerminated)

	tx.fsm.Configure(StateTerminated).
		OnEntryFrom(txEvtTimerB, tx.actTimedOut).
		OnEntryFrom(txEvtTranspErr, tx.actTranspErr).
		OnEntry(tx.actTerminated).
		Ignore(txEvtRecv1xx).
		Ignore(txEvtRecv2xx).
		Ignore(txEvtRecv300699).
		Ignore(txEvtTranspErr).
		Ignore(txEvtTimerA).
		Ignore(txEvtTimerB).
		Ignore(txEvtTimerD).
		Ignore(txEvtTimerM).
		InternalTransition(txEvtTerminate, tx.actNoop)
}

func (tx *InviteClient) actCalling(ctx context.Context, _ ...any) error {
	tx.log.LogAttrs(ctx, slog.LevelDebug, "transaction calling", slog.Any("transaction", tx))

	if err := tx.sendReq(ctx, tx.req); err != nil {
		return errtrace.Wrap(err)
	}

	if !tx.tp.Reliable() {
		tmr := timeutil.AfterFunc(tx.timings.TimeA(), tx.onTimerA)
		tx.tmrA.Store(tmr)

		tx.log.LogAttrs(ctx, slog.LevelDebug,
			"timer A started",
			slog.Any("transaction", tx),
			slog.Time("expires_at", time.Now().Add(tmr.Left())),
		)
	}

	tmr := timeutil.AfterFunc(tx.timings.TimeB(), tx.onTimerB)
	tx.tmrB.Store(tmr)

	tx.log.LogAttrs(ctx, slog.LevelDebug,
		"timer B started",
		slog.Any("transaction", tx),
		slog.Time("expires_at", time.Now().Add(tmr.Left())),
	)

	return nil
}

func (tx *InviteClient) onTimerA() {
	tx.log.LogAttrs(tx.ctx, slog.LevelDebug, "timer A expired", slog.Any("transaction", tx))

	if tx.State() != StateCalling {
		tx.tmrA.Store(nil)
		return
	}

	if err := tx.fsm.FireCtx(tx.ctx, txEvtTimerA); err != nil {
		panic(fmt.Errorf("fire %q in state %q: %w", txEvtTimerA, tx.State(), err))
	}

	if tmr := tx.tmrA.Load(); tmr != nil {
		tmr.Reset(2 * tmr.Duration())

		tx.log.LogAttrs(tx.ctx, slog.LevelDebug,
			"timer A reset",
			slog.Any("transaction", tx),
			slog.Time("expires_at", time.Now().Add(tmr.Left())),
		)
	}
}

func (tx *InviteClient) onTimerB() {
	tx.log.LogAttrs(tx.ctx, slog.LevelDebug, "timer B expired", slog.Any("transaction", tx))

	tx.tmrB.Store(nil)

	if tx.State() != StateCalling {
		return
	}

	if err := tx.fsm.FireCtx(tx.ctx, txEvtTimerB); err != nil {
		panic(fmt.Errorf("fire %q in state %q: %w", txEvtTimerB, tx.State(), err))
	}
}

func (tx *InviteClient) stopCallingTimers(ctx context.Context) {
	tx.stopTimer(ctx, "A", tx.tmrA.Swap(nil))
	tx.stopTimer(ctx, "B", tx.tmrB.Swap(nil))
}

func (tx *InviteClient) actProceeding(ctx context.Context, args ...any) error {
	tx.clientTransact.actProceeding(ctx, args...) //nolint:errcheck
	tx.stopCallingTimers(ctx)
	return nil
}

func (tx *InviteClient) actPassResSendAck(ctx context.Context, args ...any) error {
	tx.actPassRes(ctx, args...) //nolint:errcheck
	tx.actSendAck(ctx, args...) //nolint:errcheck
	return nil
}

func (tx *InviteClient) actSendAck(ctx context.Context, args ...any) error {
	ack := tx.ack.Load()
	if ack == nil {
		res := args[0].(*sip.Response) //nolint:forcetypeassert
		ack = message.NewNon2xxAck(tx.req, res)
		tx.ack.Store(ack)
	}

	tx.log.LogAttrs(ctx, slog.LevelDebug, "send ACK",
		slog.Any("transaction", tx),
		slog.Any("request", log.Message(ack)),
	)

	tx.sendReq(ctx, ack) //nolint:errcheck
	return nil
}

func (tx *InviteClient) actCompleted(ctx context.Context, args ...any) error {
	tx.clientTransact.actCompleted(ctx, args...) //nolint:errcheck
	tx.stopCallingTimers(ctx)

	if tx.tp.Reliable() {
		// timer D is zero on reliable transports
		return errtrace.Wrap(tx.fsm.FireCtx(ctx, txEvtTimerD))
	}

	tmr := timeutil.AfterFunc(tx.timings.TimeD(), tx.onTimerD)
	tx.tmrD.Store(tmr)

	tx.log.LogAttrs(ctx, slog.LevelDebug,
		"timer D started",
		slog.Any("transaction", tx),
		slog.Time("expires_at", time.Now().Add(tmr.Left())),
	)

	return nil
}

func (tx *InviteClient) onTimerD() {
	tx.log.LogAttrs(tx.ctx, slog.LevelDebug, "timer D expired", slog.Any("transaction", tx))

	tx.tmrD.Store(nil)

	if tx.State() != StateCompleted {
		return
	}

	if err := tx.fsm.FireCtx(tx.ctx, txEvtTimerD); err != nil {
		panic(fmt.Errorf("fire %q in state %q: %w", txEvtTimerD, tx.State(), err))
	}
}

func (tx *InviteClient) actAccepted(ctx context.Context, _ ...any) error {
	tx.log.LogAttrs(ctx, slog.LevelDebug, "transaction accepted", slog.Any("transaction", tx))

	tx.stopCallingTimers(ctx)

	tmr := timeutil.AfterFunc(tx.timings.TimeM(), tx.onTimerM)
	tx.tmrM.Store(tmr)

	tx.log.LogAttrs(ctx, slog.LevelDebug,
		"timer M started",
		slog.Any("transaction", tx),
		slog.Time("expires_at", time.Now().Add(tmr.Left())),
	)

	return nil
}

func (tx *InviteClient) onTimerM() {
	tx.log.LogAttrs(tx.ctx, slog.LevelDebug, "timer M expired", slog.Any("transaction", tx))

	tx.tmrM.Store(nil)

	if tx.State() != StateAccepted {
		return
	}

	if err := tx.fsm.FireCtx(tx.ctx, txEvtTimerM); err != nil {
		panic(fmt.Errorf("fire %q in state %q: %w", txEvtTimerM, tx.State(), err))
	}
}

func (tx *InviteClient) actTerminated(ctx context.Context, args ...any) error {
	tx.stopCallingTimers(ctx)
	tx.stopTimer(ctx, "D", tx.tmrD.Swap(nil))
	tx.stopTimer(ctx, "M", tx.tmrM.Swap(nil))

	return errtrace.Wrap(tx.clientTransact.actTerminated(ctx, args...))
}
