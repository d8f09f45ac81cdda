package transaction

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"

	"braces.dev/errtrace"
	"github.com/emiago/sipgo/sip"
	"github.com/qmuntal/stateless"

	"github.com/ghettovoice/sipua/internal/types"
)

const (
	txEvtTranspErr = "transp_err"
	txEvtTerminate = "terminate"
)

const txCtxKey types.ContextKey = "transaction"

// FromContext returns the transaction stored in the context by transaction callbacks.
func FromContext(ctx context.Context) (Transaction, bool) {
	tx, ok := ctx.Value(txCtxKey).(Transaction)
	return tx, ok
}

type baseTransact struct {
	typ     Type
	key     Key
	impl    Transaction
	req     *sip.Request
	tp      Transport
	timings Timings
	log     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	fsm    *stateless.StateMachine

	mu   sync.Mutex
	err  error
	done chan struct{}

	onState types.CallbackManager[StateHandler]
	onTpErr types.CallbackManager[ErrorHandler]
}

func newBaseTransact(typ Type, key Key, impl Transaction, req *sip.Request, tp Transport, opts *Options) *baseTransact {
	ctx, cancel := context.WithCancel(context.WithValue(context.Background(), txCtxKey, impl))
	return &baseTransact{
		typ:     typ,
		key:     key,
		impl:    impl,
		req:     req,
		tp:      tp,
		timings: opts.timings(),
		log:     opts.log(),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

func (tx *baseTransact) initFSM(start State) {
	tx.fsm = stateless.NewStateMachine(start)
	tx.fsm.SetTriggerParameters(txEvtTranspErr, reflect.TypeOf((*error)(nil)).Elem())
	tx.fsm.OnTransitioned(func(ctx context.Context, t stateless.Transition) {
		from, _ := t.Source.(State)
		to, _ := t.Destination.(State)
		if from == to {
			return
		}
		for fn := range tx.onState.All() {
			fn(tx.ctx, from, to)
		}
	})
}

// LogValue implements [slog.LogValuer].
func (tx *baseTransact) LogValue() slog.Value {
	if tx == nil {
		return slog.Value{}
	}
	return slog.GroupValue(
		slog.Any("key", tx.key),
		slog.Any("type", tx.typ),
		slog.Any("state", tx.State()),
	)
}

func (tx *baseTransact) Type() Type { return tx.typ }

func (tx *baseTransact) Key() Key { return tx.key }

func (tx *baseTransact) Request() *sip.Request { return tx.req }

// State returns the current state of the transaction.
func (tx *baseTransact) State() State {
	if tx == nil || tx.fsm == nil {
		return ""
	}
	return tx.fsm.MustState().(State) //nolint:forcetypeassert
}

// Err returns [ErrTransactionTimedOut] or [ErrTransportFailure] wrapped error
// when the transaction terminated due to timeout or transport failure.
func (tx *baseTransact) Err() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.err
}

func (tx *baseTransact) setErr(err error) {
	tx.mu.Lock()
	if tx.err == nil {
		tx.err = err
	}
	tx.mu.Unlock()
}

func (tx *baseTransact) Done() <-chan struct{} { return tx.done }

// Terminate terminates the transaction immediately.
// Terminating already terminated transaction is a no-op.
func (tx *baseTransact) Terminate(ctx context.Context) error {
	if tx.State() == StateTerminated {
		return nil
	}
	return errtrace.Wrap(tx.fsm.FireCtx(ctx, txEvtTerminate))
}

func (tx *baseTransact) OnStateChanged(fn StateHandler) (remove func()) {
	return tx.onState.Add(fn)
}

func (tx *baseTransact) OnTransportError(fn ErrorHandler) (remove func()) {
	return tx.onTpErr.Add(fn)
}

func (tx *baseTransact) send(ctx context.Context, msg sip.Message, what string) error {
	if err := tx.tp.Send(ctx, msg); err != nil {
		err = fmt.Errorf("send %s: %w", what, err)
		if err := tx.fsm.FireCtx(ctx, txEvtTranspErr, err); err != nil {
			panic(fmt.Errorf("fire %q in state %q: %w", txEvtTranspErr, tx.State(), err))
		}
		return errtrace.Wrap(err)
	}
	return nil
}

func (*baseTransact) actNoop(context.Context, ...any) error { return nil }

func (tx *baseTransact) actTimedOut(ctx context.Context, _ ...any) error {
	tx.log.LogAttrs(ctx, slog.LevelDebug, "transaction timed out", slog.Any("transaction", tx.impl))

	tx.setErr(errtrace.Wrap(ErrTransactionTimedOut))
	return nil
}

func (tx *baseTransact) actTranspErr(ctx context.Context, args ...any) error {
	err := args[0].(error) //nolint:forcetypeassert

	tx.log.LogAttrs(ctx, slog.LevelDebug, "transport error",
		slog.Any("transaction", tx.impl),
		slog.Any("error", err),
	)

	err = fmt.Errorf("%w: %w", ErrTransportFailure, err)
	tx.setErr(err)
	for fn := range tx.onTpErr.All() {
		fn(tx.ctx, err)
	}
	return nil
}

func (tx *baseTransact) actTerminated(ctx context.Context, _ ...any) error {
	tx.log.LogAttrs(ctx, slog.LevelDebug, "transaction terminated", slog.Any("transaction", tx.impl))

	close(tx.done)
	tx.cancel()
	return nil
}

type timerSlot interface {
	Stop() bool
}

func (tx *baseTransact) stopTimer(ctx context.Context, name string, tmr timerSlot) {
	if tmr != nil && tmr.Stop() {
		tx.log.LogAttrs(ctx, slog.LevelDebug, "timer "+name+" stopped", slog.Any("transaction", tx.impl))
	}
}
