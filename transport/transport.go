// Package transport provides message transports for the user agent core:
// an in-memory [PipeEnd] pair and a UDP transport.
//
// Both implement transaction.Transport and deliver inbound messages
// through handlers registered with OnMessage.
package transport

//go:generate go tool errtrace -w .

import (
	"context"
	"log/slog"

	"braces.dev/errtrace"
	"github.com/emiago/sipgo/sip"

	"github.com/ghettovoice/sipua/internal/errorutil"
	"github.com/ghettovoice/sipua/log"
)

type Error = errorutil.Error

const (
	ErrTransportClosed Error = "transport closed"
	ErrNoTarget        Error = "no target address"
	// ErrInvalidArgument is returned on invalid arguments.
	ErrInvalidArgument = errorutil.ErrInvalidArgument
)

// MessageHandler is called for each inbound message.
type MessageHandler = func(ctx context.Context, msg sip.Message)

// DefaultPort is the default SIP port over UDP.
const DefaultPort = 5060

// NewInvalidArgumentError wraps [ErrInvalidArgument].
func NewInvalidArgumentError(args ...any) error {
	return errtrace.Wrap(errorutil.NewInvalidArgumentError(args...))
}

// parse decodes a single datagram or in-memory frame.
func parse(p *sip.Parser, data []byte) (sip.Message, error) {
	msg, err := p.ParseSIP(data)
	if err != nil {
		return nil, errtrace.Wrap(NewInvalidArgumentError(err))
	}
	return msg, nil
}

func logger(l *slog.Logger) *slog.Logger {
	if l == nil {
		return log.Default()
	}
	return l
}
