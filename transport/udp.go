package transport

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"time"

	"braces.dev/errtrace"
	"github.com/emiago/sipgo/sip"

	"github.com/ghettovoice/sipua/dns"
	"github.com/ghettovoice/sipua/internal/types"
	"github.com/ghettovoice/sipua/log"
	"github.com/ghettovoice/sipua/message"
)

// udpBufSize is the largest UDP payload over IPv4.
const udpBufSize = 65535 - 20 - 8

// Resolver resolves SIP hosts into socket addresses.
type Resolver interface {
	LookupTargets(ctx context.Context, host string, port uint16, transport string) ([]netip.AddrPort, error)
}

// UDPOptions are options of [ListenUDP].
type UDPOptions struct {
	// Resolver resolves message destinations.
	// If nil, [dns.DefaultResolver] is used.
	Resolver Resolver
	// Log is used to log transport events.
	// If nil, [log.Default] is used.
	Log *slog.Logger
}

func (o *UDPOptions) resolver() Resolver {
	if o == nil || o.Resolver == nil {
		return dns.DefaultResolver()
	}
	return o.Resolver
}

func (o *UDPOptions) log() *slog.Logger {
	if o == nil {
		return logger(nil)
	}
	return logger(o.Log)
}

// UDP is an unreliable transport over a single UDP socket.
// Requests are sent to the first Route or the Request-URI,
// responses to the address of the top Via (RFC 3261 Section 18.2.2, RFC 3581).
type UDP struct {
	conn     *net.UDPConn
	laddr    netip.AddrPort
	parser   *sip.Parser
	resolver Resolver
	log      *slog.Logger
	onMsg    types.CallbackManager[MessageHandler]

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// ListenUDP binds the address and starts reading datagrams.
func ListenUDP(ctx context.Context, addr string, opts *UDPOptions) (*UDP, error) {
	var lc net.ListenConfig
	pc, err := lc.ListenPacket(ctx, "udp", addr)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	conn, ok := pc.(*net.UDPConn)
	if !ok {
		pc.Close()
		return nil, errtrace.Wrap(NewInvalidArgumentError("not a UDP address"))
	}

	t := &UDP{
		conn:     conn,
		laddr:    conn.LocalAddr().(*net.UDPAddr).AddrPort(),
		parser:   sip.NewParser(),
		resolver: opts.resolver(),
		log:      opts.log(),
	}
	t.ctx, t.cancel = context.WithCancel(context.Background())
	t.wg.Add(1)
	go t.serve()

	t.log.LogAttrs(ctx, slog.LevelDebug, "UDP transport listening", slog.Any("address", t.laddr))
	return t, nil
}

// LocalAddr returns the bound address.
func (t *UDP) LocalAddr() netip.AddrPort { return t.laddr }

func (*UDP) Reliable() bool { return false }

// OnMessage registers a handler of inbound messages.
func (t *UDP) OnMessage(fn MessageHandler) (remove func()) { return t.onMsg.Add(fn) }

// Send writes the message to its destination.
func (t *UDP) Send(ctx context.Context, msg sip.Message) error {
	if t.ctx.Err() != nil {
		return errtrace.Wrap(ErrTransportClosed)
	}

	raddr, err := t.destination(ctx, msg)
	if err != nil {
		return errtrace.Wrap(err)
	}
	if d, ok := ctx.Deadline(); ok {
		if err := t.conn.SetWriteDeadline(d); err != nil {
			return errtrace.Wrap(err)
		}
		defer t.conn.SetWriteDeadline(time.Time{}) //nolint:errcheck
	}
	if _, err := t.conn.WriteToUDPAddrPort([]byte(msg.String()), raddr); err != nil {
		return errtrace.Wrap(err)
	}

	t.log.LogAttrs(ctx, slog.LevelDebug, "message sent",
		slog.Any("message", log.Message(msg)),
		slog.Any("remote_addr", raddr),
	)
	return nil
}

func (t *UDP) destination(ctx context.Context, msg sip.Message) (netip.AddrPort, error) {
	var (
		host string
		port int
	)
	switch m := msg.(type) {
	case *sip.Request:
		u := m.Recipient
		if routes := message.HeaderURIs(m, "Route"); len(routes) > 0 {
			u = routes[0]
		}
		if maddr, ok := u.UriParams["maddr"]; ok && maddr != "" {
			host = maddr
		} else {
			host = u.Host
		}
		port = u.Port
	case *sip.Response:
		via := m.Via()
		if via == nil {
			return netip.AddrPort{}, errtrace.Wrap(NewInvalidArgumentError("response without Via"))
		}
		host, port = via.Host, via.Port
		if received := via.Params["received"]; received != "" {
			host = received
		}
		if rport, err := strconv.Atoi(via.Params["rport"]); err == nil && rport > 0 {
			port = rport
		}
	default:
		return netip.AddrPort{}, errtrace.Wrap(NewInvalidArgumentError("unsupported message"))
	}

	if port < 0 || port > 65535 {
		return netip.AddrPort{}, errtrace.Wrap(NewInvalidArgumentError("invalid port"))
	}
	addrs, err := t.resolver.LookupTargets(ctx, host, uint16(port), "udp")
	if err != nil {
		return netip.AddrPort{}, errtrace.Wrap(errors.Join(ErrNoTarget, err))
	}
	if len(addrs) == 0 {
		return netip.AddrPort{}, errtrace.Wrap(ErrNoTarget)
	}
	return addrs[0], nil
}

func (t *UDP) serve() {
	defer t.wg.Done()

	buf := make([]byte, udpBufSize)
	for {
		n, raddr, err := t.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if t.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			t.log.LogAttrs(t.ctx, slog.LevelWarn, "failed to read datagram", slog.Any("error", err))
			continue
		}
		if n == 0 {
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		msg, err := parse(t.parser, data)
		if err != nil {
			t.log.LogAttrs(t.ctx, slog.LevelWarn, "discard malformed datagram",
				slog.Any("remote_addr", raddr),
				slog.Any("error", err),
			)
			continue
		}
		if req, ok := msg.(*sip.Request); ok {
			stampReceived(req, raddr)
		}
		for fn := range t.onMsg.All() {
			fn(t.ctx, msg)
		}
	}
}

// stampReceived sets "received" and "rport" of the top Via (RFC 3261 Section 18.2.1, RFC 3581).
func stampReceived(req *sip.Request, raddr netip.AddrPort) {
	via := req.Via()
	if via == nil {
		return
	}
	if via.Params == nil {
		via.Params = sip.HeaderParams{}
	}
	ip := raddr.Addr().Unmap().String()
	if via.Host != ip {
		via.Params["received"] = ip
	}
	if _, ok := via.Params["rport"]; ok {
		via.Params["received"] = ip
		via.Params["rport"] = strconv.Itoa(int(raddr.Port()))
	}
}

// Close closes the socket and waits for the running handlers.
func (t *UDP) Close() error {
	t.closeOnce.Do(func() {
		t.cancel()
		t.closeErr = t.conn.Close()
		t.wg.Wait()
		t.onMsg.Clear()
	})
	return errtrace.Wrap(t.closeErr)
}
