package ua

import (
	"context"

	"github.com/emiago/sipgo/sip"

	"github.com/ghettovoice/sipua/sdh"
)

// Event is an outcome of a session emitted to [Session.OnEvent] handlers.
//
// It is one of [AcceptedEvent], [ProgressEvent], [RejectedEvent], [FailedEvent],
// [TerminatedEvent], [AckEvent], [ByeEvent], [CanceledEvent], [SDHCreatedEvent].
type Event interface {
	// Info returns the triggering message and the cause of the event.
	Info() EventInfo
	isEvent()
}

// EventInfo is the common payload of events.
type EventInfo struct {
	// Message triggered the event, nil for local outcomes.
	Message sip.Message
	// Cause of the outcome, empty for successful steps.
	Cause Cause
	// Reason phrase of the response, if the message is a response.
	Reason string
}

func (e EventInfo) Info() EventInfo { return e }

func (EventInfo) isEvent() {}

type (
	// AcceptedEvent is emitted when the session is answered with 2xx.
	AcceptedEvent struct{ EventInfo }
	// ProgressEvent is emitted on a provisional response.
	ProgressEvent struct{ EventInfo }
	// RejectedEvent is emitted when the INVITE gets a 3xx-6xx response.
	RejectedEvent struct{ EventInfo }
	// FailedEvent is emitted when the session fails to establish.
	FailedEvent struct{ EventInfo }
	// TerminatedEvent is the last event of a session.
	TerminatedEvent struct{ EventInfo }
	// AckEvent is emitted when the ACK to the 2xx is received.
	AckEvent struct{ EventInfo }
	// ByeEvent is emitted when BYE is received or sent on a dialog of the session.
	ByeEvent struct{ EventInfo }
	// CanceledEvent is emitted when the INVITE is canceled.
	CanceledEvent struct{ EventInfo }
	// SDHCreatedEvent is emitted when the session description handler is created.
	SDHCreatedEvent struct {
		EventInfo
		Handler sdh.Handler
	}
)

// EventHandler receives session events.
// It is called outside of the session lock and may call session methods.
type EventHandler = func(ctx context.Context, s *Session, evt Event)

func newInfo(msg sip.Message, cause Cause) EventInfo {
	info := EventInfo{Message: msg, Cause: cause}
	if res, ok := msg.(*sip.Response); ok && res != nil {
		info.Reason = res.Reason
	}
	return info
}
