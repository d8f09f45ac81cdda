package dialog

import (
	"context"
	"log/slog"
	"sync"

	"braces.dev/errtrace"
	"github.com/emiago/sipgo/sip"
	"github.com/looplab/fsm"

	"github.com/ghettovoice/sipua/message"
)

// SignalingState is the offer/answer state of a dialog (RFC 3264, RFC 6337).
type SignalingState string

const (
	SignalingInitial         SignalingState = "initial"
	SignalingHaveLocalOffer  SignalingState = "have_local_offer"
	SignalingHaveRemoteOffer SignalingState = "have_remote_offer"
	SignalingStable          SignalingState = "stable"
	SignalingClosed          SignalingState = "closed"
)

// Direction tells who produced a session description.
type Direction int

const (
	// Local description is generated by this side.
	Local Direction = iota
	// Remote description is received from the peer.
	Remote
)

func (d Direction) String() string {
	if d == Local {
		return "local"
	}
	return "remote"
}

const (
	sigEvtLocalOffer   = "local_offer"
	sigEvtRemoteOffer  = "remote_offer"
	sigEvtLocalAnswer  = "local_answer"
	sigEvtRemoteAnswer = "remote_answer"
	sigEvtRollback     = "rollback"
	sigEvtClose        = "close"
)

// Signaling tracks offer/answer exchanges of one dialog.
// Only one offer may be outstanding at a time (RFC 3261 Section 13.2.1),
// a second offer while an offer is outstanding is always refused with [ErrOfferOutstanding].
type Signaling struct {
	mu  sync.Mutex
	fsm *fsm.FSM
	// state before the outstanding offer, rollback target
	prev SignalingState
}

// NewSignaling returns a signaling state machine in [SignalingInitial] state.
func NewSignaling() *Signaling {
	offerSrc := []string{string(SignalingInitial), string(SignalingStable)}
	pendSrc := []string{string(SignalingHaveLocalOffer), string(SignalingHaveRemoteOffer)}
	return &Signaling{
		prev: SignalingInitial,
		fsm: fsm.NewFSM(
			string(SignalingInitial),
			fsm.Events{
				{Name: sigEvtLocalOffer, Src: offerSrc, Dst: string(SignalingHaveLocalOffer)},
				{Name: sigEvtRemoteOffer, Src: offerSrc, Dst: string(SignalingHaveRemoteOffer)},
				{Name: sigEvtLocalAnswer, Src: []string{string(SignalingHaveRemoteOffer)}, Dst: string(SignalingStable)},
				{Name: sigEvtRemoteAnswer, Src: []string{string(SignalingHaveLocalOffer)}, Dst: string(SignalingStable)},
				{Name: sigEvtRollback + "_" + string(SignalingInitial), Src: pendSrc, Dst: string(SignalingInitial)},
				{Name: sigEvtRollback + "_" + string(SignalingStable), Src: pendSrc, Dst: string(SignalingStable)},
				{
					Name: sigEvtClose,
					Src: []string{
						string(SignalingInitial),
						string(SignalingHaveLocalOffer),
						string(SignalingHaveRemoteOffer),
						string(SignalingStable),
					},
					Dst: string(SignalingClosed),
				},
			},
			nil,
		),
	}
}

// State returns the current signaling state.
func (s *Signaling) State() SignalingState {
	return SignalingState(s.fsm.Current())
}

// LogValue implements [slog.LogValuer].
func (s *Signaling) LogValue() slog.Value {
	if s == nil {
		return slog.Value{}
	}
	return slog.StringValue(string(s.State()))
}

// Offer registers an offer from the direction.
func (s *Signaling) Offer(dir Direction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch st := s.State(); st {
	case SignalingClosed:
		return errtrace.Wrap(ErrSignalingClosed)
	case SignalingHaveLocalOffer, SignalingHaveRemoteOffer:
		return errtrace.Wrap(NewSignalingError(ErrOfferOutstanding, st, dir))
	default:
		s.prev = st
	}

	evt := sigEvtLocalOffer
	if dir == Remote {
		evt = sigEvtRemoteOffer
	}
	return errtrace.Wrap(s.fire(evt))
}

// Answer registers an answer from the direction to the outstanding offer of the opposite side.
func (s *Signaling) Answer(dir Direction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.State()
	switch {
	case st == SignalingClosed:
		return errtrace.Wrap(ErrSignalingClosed)
	case dir == Local && st == SignalingHaveRemoteOffer:
		return errtrace.Wrap(s.fire(sigEvtLocalAnswer))
	case dir == Remote && st == SignalingHaveLocalOffer:
		return errtrace.Wrap(s.fire(sigEvtRemoteAnswer))
	default:
		return errtrace.Wrap(NewSignalingError(ErrNoOffer, st, dir))
	}
}

// Transition applies the session description carried by the message.
// It decides from the current state whether the description is an offer or an answer.
// Messages without a session body leave the state unchanged.
func (s *Signaling) Transition(dir Direction, msg sip.Message) error {
	if !message.IsSessionBody(msg) {
		return nil
	}
	return errtrace.Wrap(s.TransitionBody(dir))
}

// TransitionBody applies a session description from the direction.
func (s *Signaling) TransitionBody(dir Direction) error {
	switch st := s.State(); st {
	case SignalingInitial, SignalingStable, SignalingClosed:
		return errtrace.Wrap(s.Offer(dir))
	case SignalingHaveLocalOffer:
		if dir == Local {
			return errtrace.Wrap(NewSignalingError(ErrOfferOutstanding, st, dir))
		}
		return errtrace.Wrap(s.Answer(dir))
	default:
		if dir == Remote {
			return errtrace.Wrap(NewSignalingError(ErrOfferOutstanding, st, dir))
		}
		return errtrace.Wrap(s.Answer(dir))
	}
}

// Rollback withdraws the outstanding offer and restores the state it was made in.
func (s *Signaling) Rollback() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch st := s.State(); st {
	case SignalingHaveLocalOffer, SignalingHaveRemoteOffer:
		return errtrace.Wrap(s.fire(sigEvtRollback + "_" + string(s.prev)))
	case SignalingClosed:
		return errtrace.Wrap(ErrSignalingClosed)
	default:
		return errtrace.Wrap(NewSignalingError(ErrNoOffer, st, Local))
	}
}

// Close moves the signaling to the terminal [SignalingClosed] state.
// Closing twice is a no-op.
func (s *Signaling) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() != SignalingClosed {
		s.fire(sigEvtClose) //nolint:errcheck
	}
}

func (s *Signaling) fire(evt string) error {
	return errtrace.Wrap(s.fsm.Event(context.Background(), evt))
}
