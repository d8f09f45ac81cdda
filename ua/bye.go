package ua

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/emiago/sipgo/sip"

	"github.com/ghettovoice/sipua/dialog"
	"github.com/ghettovoice/sipua/internal/timeutil"
	"github.com/ghettovoice/sipua/log"
)

// heldBye is a BYE of a locally terminated session that waits for the ACK of its 2xx.
type heldBye struct {
	req *sip.Request

	mu     sync.Mutex
	done   bool
	timers []*timeutil.Timer
}

func (h *heldBye) addTimer(t *timeutil.Timer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.done {
		t.Stop()
		return
	}
	h.timers = append(h.timers, t)
}

// release reports whether the caller won the right to send the BYE.
func (h *heldBye) release() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.done {
		return false
	}
	h.done = true
	for _, t := range h.timers {
		t.Stop()
	}
	h.timers = nil
	return true
}

func (h *heldBye) released() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.done
}

// holdBye keeps the BYE of the dialog until its ACK arrives or 64*T1 pass without one.
// The 2xx is retransmitted meanwhile over unreliable transports (RFC 3261 Section 13.3.1.4).
func (c *Core) holdBye(id dialog.ID, bye *sip.Request, ok *sip.Response) {
	h := &heldBye{req: bye}
	c.byes.Set(id, h)

	t1 := c.opts.Timings.T1()
	h.addTimer(timeutil.AfterFunc(64*t1, func() {
		ctx := context.Background()
		c.log.LogAttrs(ctx, slog.LevelDebug, "no ACK received, sending held BYE", slog.Any("dialog", id))
		c.releaseBye(ctx, id)
	}))
	if ok != nil && !c.opts.Transport.Reliable() {
		c.retransmitHeld(h, ok, t1)
	}
}

func (c *Core) retransmitHeld(h *heldBye, res *sip.Response, d time.Duration) {
	h.addTimer(timeutil.AfterFunc(d, func() {
		if h.released() {
			return
		}
		ctx := context.Background()
		c.metrics.Retransmitted("2xx")
		if err := c.send(ctx, res); err != nil {
			c.log.LogAttrs(ctx, slog.LevelWarn, "failed to retransmit 2xx response", slog.Any("error", err))
		}
		c.retransmitHeld(h, res, min(2*d, c.opts.Timings.T2()))
	}))
}

// releaseBye sends the BYE held for the dialog, reporting whether one was held.
func (c *Core) releaseBye(ctx context.Context, id dialog.ID) bool {
	h, ok := c.byes.Get(id)
	if !ok {
		return false
	}
	c.byes.DelIf(id, func(v *heldBye) bool { return v == h })
	if !h.release() {
		return true
	}
	if _, err := c.sendRequest(ctx, h.req); err != nil {
		c.log.LogAttrs(ctx, slog.LevelWarn, "failed to send held BYE",
			slog.Any("request", log.Message(h.req)),
			slog.Any("error", err),
		)
	}
	return true
}
