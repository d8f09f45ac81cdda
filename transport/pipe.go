package transport

import (
	"context"
	"log/slog"
	"sync"

	"braces.dev/errtrace"
	"github.com/emiago/sipgo/sip"

	"github.com/ghettovoice/sipua/internal/types"
	"github.com/ghettovoice/sipua/log"
)

// PipeOptions are options of [NewPipe].
type PipeOptions struct {
	// Reliable marks both ends as a reliable transport, so transactions run no retransmission timers.
	Reliable bool
	// Log is used to log delivery events.
	// If nil, [log.Default] is used.
	Log *slog.Logger
}

func (o *PipeOptions) reliable() bool { return o != nil && o.Reliable }

func (o *PipeOptions) log() *slog.Logger {
	if o == nil {
		return logger(nil)
	}
	return logger(o.Log)
}

// PipeEnd is one end of an in-memory transport pair.
// Messages are serialized on send and parsed again on the peer end,
// so each end sees its own copy. Delivery preserves the send order.
type PipeEnd struct {
	name     string
	reliable bool
	log      *slog.Logger
	parser   *sip.Parser
	peer     *PipeEnd

	queue  types.Deque[[]byte]
	notify chan struct{}
	onMsg  types.CallbackManager[MessageHandler]

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewPipe creates a connected pair of in-memory transports.
func NewPipe(opts *PipeOptions) (*PipeEnd, *PipeEnd) {
	a := newPipeEnd("a", opts)
	b := newPipeEnd("b", opts)
	a.peer, b.peer = b, a
	a.start()
	b.start()
	return a, b
}

func newPipeEnd(name string, opts *PipeOptions) *PipeEnd {
	ctx, cancel := context.WithCancel(context.Background())
	return &PipeEnd{
		name:     name,
		reliable: opts.reliable(),
		log:      opts.log().With(slog.String("pipe", name)),
		parser:   sip.NewParser(),
		notify:   make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (p *PipeEnd) start() {
	p.wg.Add(1)
	go p.deliver()
}

// Reliable reports whether the pair is marked reliable.
func (p *PipeEnd) Reliable() bool { return p.reliable }

// OnMessage registers a handler of inbound messages.
func (p *PipeEnd) OnMessage(fn MessageHandler) (remove func()) { return p.onMsg.Add(fn) }

// Send enqueues the message for the peer end. It never blocks.
func (p *PipeEnd) Send(ctx context.Context, msg sip.Message) error {
	if msg == nil {
		return errtrace.Wrap(NewInvalidArgumentError("nil message"))
	}
	if p.ctx.Err() != nil || p.peer.ctx.Err() != nil {
		return errtrace.Wrap(ErrTransportClosed)
	}
	p.log.LogAttrs(ctx, slog.LevelDebug, "message sent", slog.Any("message", log.Message(msg)))
	p.peer.enqueue([]byte(msg.String()))
	return nil
}

func (p *PipeEnd) enqueue(data []byte) {
	p.queue.Append(data)
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

func (p *PipeEnd) deliver() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-p.notify:
		}
		for _, data := range p.queue.Drain() {
			if p.ctx.Err() != nil {
				return
			}
			msg, err := parse(p.parser, data)
			if err != nil {
				p.log.LogAttrs(p.ctx, slog.LevelWarn, "discard malformed message", slog.Any("error", err))
				continue
			}
			for fn := range p.onMsg.All() {
				fn(p.ctx, msg)
			}
		}
	}
}

// Close stops the delivery of this end and waits for the running handlers.
// Sends from either end fail afterwards.
func (p *PipeEnd) Close() error {
	p.closeOnce.Do(func() {
		p.cancel()
		p.wg.Wait()
		p.onMsg.Clear()
	})
	return nil
}
