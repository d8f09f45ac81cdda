package transaction

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"braces.dev/errtrace"
	"github.com/emiago/sipgo/sip"

	"github.com/ghettovoice/sipua/internal/syncutil"
)

// Layer keeps client and server transactions sharing one transport
// and routes inbound messages to them.
// Terminated transactions are removed from the layer automatically.
type Layer struct {
	tp   Transport
	opts *Options

	clnTxs syncutil.Map[Key, ClientTransaction]
	srvTxs syncutil.Map[Key, ServerTransaction]
	// client transactions being created, the request may be answered before the constructor returns
	starting syncutil.Map[Key, chan struct{}]
	closed   atomic.Bool
}

// NewLayer creates a transaction layer over the transport.
func NewLayer(tp Transport, opts *Options) *Layer {
	return &Layer{tp: tp, opts: opts}
}

// Transport returns the layer's transport.
func (l *Layer) Transport() Transport { return l.tp }

// NewClientTransaction creates a client transaction and sends the request.
func (l *Layer) NewClientTransaction(ctx context.Context, req *sip.Request) (ClientTransaction, error) {
	if l.closed.Load() {
		return nil, errtrace.Wrap(ErrLayerClosed)
	}

	key, err := ClientKey(req)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	if _, ok := l.clnTxs.Get(key); ok {
		return nil, errtrace.Wrap(ErrTransactionExists)
	}
	started := make(chan struct{})
	if _, loaded := l.starting.SetIfAbsent(key, started); loaded {
		return nil, errtrace.Wrap(ErrTransactionExists)
	}
	defer func() {
		l.starting.Del(key)
		close(started)
	}()

	tx, err := NewClientTransaction(ctx, req, l.tp, l.opts)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	l.track(ctx, tx, func() {
		l.clnTxs.DelIf(key, func(v ClientTransaction) bool { return v == tx })
	})
	if _, loaded := l.clnTxs.SetIfAbsent(key, tx); loaded {
		tx.Terminate(ctx) //nolint:errcheck
		return nil, errtrace.Wrap(ErrTransactionExists)
	}
	if tx.State() == StateTerminated {
		l.clnTxs.Del(key)
	}
	return tx, nil
}

// NewServerTransaction creates a server transaction for the inbound request.
// An INVITE server transaction sends 100 Trying immediately.
func (l *Layer) NewServerTransaction(ctx context.Context, req *sip.Request) (ServerTransaction, error) {
	if l.closed.Load() {
		return nil, errtrace.Wrap(ErrLayerClosed)
	}

	key, err := ServerKey(req)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	if _, ok := l.srvTxs.Get(key); ok {
		return nil, errtrace.Wrap(ErrTransactionExists)
	}

	tx, err := NewServerTransaction(ctx, req, l.tp, l.opts)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	l.track(ctx, tx, func() {
		l.srvTxs.DelIf(key, func(v ServerTransaction) bool { return v == tx })
	})
	if _, loaded := l.srvTxs.SetIfAbsent(key, tx); loaded {
		tx.Terminate(ctx) //nolint:errcheck
		return nil, errtrace.Wrap(ErrTransactionExists)
	}
	if tx.State() == StateTerminated {
		l.srvTxs.Del(key)
	}
	return tx, nil
}

func (l *Layer) track(ctx context.Context, tx Transaction, remove func()) {
	tx.OnStateChanged(func(ctx context.Context, _, to State) {
		if to != StateTerminated {
			return
		}
		remove()
		l.opts.log().LogAttrs(ctx, slog.LevelDebug, "transaction removed", slog.Any("transaction", tx))
	})
	l.opts.log().LogAttrs(ctx, slog.LevelDebug, "transaction created", slog.Any("transaction", tx))
}

// ClientTransaction returns the client transaction by key.
func (l *Layer) ClientTransaction(key Key) (ClientTransaction, bool) {
	return l.clnTxs.Get(key)
}

// ServerTransaction returns the server transaction by key.
func (l *Layer) ServerTransaction(key Key) (ServerTransaction, bool) {
	return l.srvTxs.Get(key)
}

// HandleResponse passes the inbound response to the matching client transaction.
// It returns [ErrTransactionNotFound] for a stray response,
// 2xx retransmissions of an INVITE after Timer M are such responses.
func (l *Layer) HandleResponse(ctx context.Context, res *sip.Response) error {
	key, err := ClientKey(res)
	if err != nil {
		return errtrace.Wrap(err)
	}
	tx, ok := l.clnTxs.Get(key)
	if !ok {
		started, starting := l.starting.Get(key)
		if !starting {
			return errtrace.Wrap(ErrTransactionNotFound)
		}
		select {
		case <-started:
		case <-ctx.Done():
			return errtrace.Wrap(ctx.Err())
		}
		if tx, ok = l.clnTxs.Get(key); !ok {
			return errtrace.Wrap(ErrTransactionNotFound)
		}
	}
	return errtrace.Wrap(tx.RecvResponse(ctx, res))
}

// HandleRequest passes the inbound request to the matching server transaction.
// When no transaction matches, a new one is created and returned with isNew set.
// ACK without a matching transaction acknowledges a 2xx and yields [ErrTransactionNotFound].
func (l *Layer) HandleRequest(ctx context.Context, req *sip.Request) (tx ServerTransaction, isNew bool, err error) {
	key, err := ServerKey(req)
	if err != nil {
		return nil, false, errtrace.Wrap(err)
	}

	if tx, ok := l.srvTxs.Get(key); ok {
		return tx, false, errtrace.Wrap(tx.RecvRequest(ctx, req))
	}
	if req.Method == sip.ACK {
		return nil, false, errtrace.Wrap(ErrTransactionNotFound)
	}

	tx, err = l.NewServerTransaction(ctx, req)
	if errors.Is(err, ErrTransactionExists) {
		if tx, ok := l.srvTxs.Get(key); ok {
			return tx, false, errtrace.Wrap(tx.RecvRequest(ctx, req))
		}
	}
	if err != nil {
		return nil, false, errtrace.Wrap(err)
	}
	return tx, true, nil
}

// Cancelable returns the INVITE server transaction the CANCEL request targets (RFC 3261 Section 9.2).
func (l *Layer) Cancelable(cancel *sip.Request) (ServerTransaction, bool) {
	key, err := ServerKey(cancel)
	if err != nil {
		return nil, false
	}
	key.Method = sip.INVITE
	return l.srvTxs.Get(key)
}

// Close terminates all transactions. New transactions are rejected with [ErrLayerClosed].
func (l *Layer) Close(ctx context.Context) error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}

	var errs []error
	for _, tx := range l.clnTxs.Clear() {
		errs = append(errs, tx.Terminate(ctx))
	}
	for _, tx := range l.srvTxs.Clear() {
		errs = append(errs, tx.Terminate(ctx))
	}
	return errtrace.Wrap(errors.Join(errs...))
}
