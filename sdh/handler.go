// Package sdh defines the session description handler a session uses to negotiate media
// and provides a default handler producing SDP offers and answers.
package sdh

//go:generate go tool errtrace -w .
//go:generate go tool mockgen -typed -destination=sdhmock/mock.go -package=sdhmock . Handler

import (
	"context"
	"log/slog"
	"time"

	"github.com/pion/sdp/v3"

	"github.com/ghettovoice/sipua/internal/errorutil"
	"github.com/ghettovoice/sipua/message"
)

type Error = errorutil.Error

const (
	ErrHandlerClosed          Error = "session description handler closed"
	ErrUnsupportedContentType Error = "unsupported content type"
	ErrInvalidDescription     Error = "invalid session description"
	ErrNoCommonCodec          Error = "no common codec"
	ErrNoOffer                Error = "no offer to answer"
)

// Handler negotiates media of one session.
//
// Calls may block for an unbounded time. The context passed by the session
// is canceled when the session terminates, so the handler should give up then.
type Handler interface {
	// GetDescription returns the local offer or the answer to the remote offer.
	GetDescription(ctx context.Context, opts *Options, mods ...Modifier) (*message.Body, error)
	// SetDescription applies the remote offer or answer.
	SetDescription(ctx context.Context, body *message.Body, opts *Options, mods ...Modifier) error
	// HasDescription reports whether the handler understands bodies of the content type.
	HasDescription(contentType string) bool
	// SendDTMF sends the tones, reporting whether they were accepted.
	SendDTMF(tones string, opts *DTMFOptions) bool
	// Close releases the handler. A closed handler refuses further descriptions.
	Close()
}

// Info identifies the session a handler is created for.
type Info struct {
	SessionID string
	// Outgoing is set for sessions created by this side.
	Outgoing bool
}

// Factory creates a handler for the session.
type Factory func(ctx context.Context, info Info) (Handler, error)

// Options control a single offer/answer step.
type Options struct {
	// Hold marks the produced media as sendonly.
	Hold bool
}

// Modifier adjusts a session description before it is sent or after it is received.
type Modifier func(sd *sdp.SessionDescription) error

// DTMFOptions control DTMF tone generation.
type DTMFOptions struct {
	// Duration of each tone, 100ms when zero.
	Duration time.Duration
	// InterToneGap between tones, 70ms when zero.
	InterToneGap time.Duration
}

func (o *DTMFOptions) duration() time.Duration {
	if o == nil || o.Duration <= 0 {
		return 100 * time.Millisecond
	}
	return o.Duration
}

func (o *DTMFOptions) interToneGap() time.Duration {
	if o == nil || o.InterToneGap <= 0 {
		return 70 * time.Millisecond
	}
	return o.InterToneGap
}

// LogValue implements [slog.LogValuer].
func (o *DTMFOptions) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Duration("duration", o.duration()),
		slog.Duration("inter_tone_gap", o.interToneGap()),
	)
}
