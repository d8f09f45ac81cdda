package ua

import (
	"context"
	"slices"

	"braces.dev/errtrace"
	"github.com/qmuntal/stateless"
)

// Status is the lifecycle status of an INVITE session.
type Status string

const (
	StatusInitial                 Status = "initial"
	StatusInviteSent              Status = "invite_sent"
	Status1xxReceived             Status = "1xx_received"
	StatusInviteReceived          Status = "invite_received"
	StatusWaitingForAnswer        Status = "waiting_for_answer"
	StatusAnswered                Status = "answered"
	StatusWaitingForPrack         Status = "waiting_for_prack"
	StatusAnsweredWaitingForPrack Status = "answered_waiting_for_prack"
	StatusEarlyMedia              Status = "early_media"
	StatusWaitingForAck           Status = "waiting_for_ack"
	StatusConfirmed               Status = "confirmed"
	StatusCanceled                Status = "canceled"
	StatusTerminated              Status = "terminated"
)

// statusMachine is the graph of session statuses, triggered by the target status.
// The current status travels in the context, so one machine serves all sessions.
var statusMachine = newStatusMachine()

type statusCtxKey struct{}

func withStatus(ctx context.Context, st *Status) context.Context {
	return context.WithValue(ctx, statusCtxKey{}, st)
}

func newStatusMachine() *stateless.StateMachine {
	sm := stateless.NewStateMachineWithExternalStorage(
		func(ctx context.Context) (stateless.State, error) {
			st, _ := ctx.Value(statusCtxKey{}).(*Status)
			if st == nil {
				return nil, errtrace.Wrap(errNoStatus)
			}
			return *st, nil
		},
		func(ctx context.Context, state stateless.State) error {
			st, _ := ctx.Value(statusCtxKey{}).(*Status)
			if st == nil {
				return errtrace.Wrap(errNoStatus)
			}
			*st = state.(Status) //nolint:forcetypeassert
			return nil
		},
		stateless.FiringImmediate,
	)

	sm.Configure(StatusInitial).
		Permit(StatusInviteSent, StatusInviteSent).
		Permit(StatusInviteReceived, StatusInviteReceived).
		Permit(StatusTerminated, StatusTerminated)

	sm.Configure(StatusInviteSent).
		Permit(Status1xxReceived, Status1xxReceived).
		Permit(StatusEarlyMedia, StatusEarlyMedia).
		Permit(StatusConfirmed, StatusConfirmed).
		Permit(StatusCanceled, StatusCanceled).
		Permit(StatusTerminated, StatusTerminated)

	sm.Configure(Status1xxReceived).
		PermitReentry(Status1xxReceived).
		Permit(StatusEarlyMedia, StatusEarlyMedia).
		Permit(StatusConfirmed, StatusConfirmed).
		Permit(StatusCanceled, StatusCanceled).
		Permit(StatusTerminated, StatusTerminated)

	sm.Configure(StatusInviteReceived).
		Permit(StatusWaitingForAnswer, StatusWaitingForAnswer).
		Permit(StatusCanceled, StatusCanceled).
		Permit(StatusTerminated, StatusTerminated)

	sm.Configure(StatusWaitingForAnswer).
		Permit(StatusWaitingForPrack, StatusWaitingForPrack).
		Permit(StatusAnswered, StatusAnswered).
		Permit(StatusEarlyMedia, StatusEarlyMedia).
		Permit(StatusCanceled, StatusCanceled).
		Permit(StatusTerminated, StatusTerminated)

	sm.Configure(StatusWaitingForPrack).
		Permit(StatusWaitingForAnswer, StatusWaitingForAnswer).
		Permit(StatusAnsweredWaitingForPrack, StatusAnsweredWaitingForPrack).
		Permit(StatusEarlyMedia, StatusEarlyMedia).
		Permit(StatusCanceled, StatusCanceled).
		Permit(StatusTerminated, StatusTerminated)

	sm.Configure(StatusAnsweredWaitingForPrack).
		Permit(StatusAnswered, StatusAnswered).
		Permit(StatusCanceled, StatusCanceled).
		Permit(StatusTerminated, StatusTerminated)

	sm.Configure(StatusEarlyMedia).
		PermitReentry(StatusEarlyMedia).
		Permit(StatusWaitingForPrack, StatusWaitingForPrack).
		Permit(StatusAnswered, StatusAnswered).
		Permit(StatusConfirmed, StatusConfirmed).
		Permit(StatusCanceled, StatusCanceled).
		Permit(StatusTerminated, StatusTerminated)

	sm.Configure(StatusAnswered).
		Permit(StatusWaitingForAck, StatusWaitingForAck).
		Permit(StatusCanceled, StatusCanceled).
		Permit(StatusTerminated, StatusTerminated)

	sm.Configure(StatusWaitingForAck).
		Permit(StatusConfirmed, StatusConfirmed).
		Permit(StatusTerminated, StatusTerminated)

	sm.Configure(StatusConfirmed).
		Permit(StatusTerminated, StatusTerminated)

	sm.Configure(StatusCanceled).
		Permit(StatusTerminated, StatusTerminated)

	return sm
}

const errNoStatus Error = "no session status"

// CanTransit reports whether the session may move from the status to another.
func (s Status) CanTransit(to Status) bool {
	ok, err := statusMachine.CanFireCtx(withStatus(context.Background(), &s), to)
	return err == nil && ok
}

// transit moves *st to the status, it fails on a transition missing in the graph.
func transit(st *Status, to Status) error {
	return errtrace.Wrap(statusMachine.FireCtx(withStatus(context.Background(), st), to))
}

// IsEnded reports whether the session is canceled or terminated.
func (s Status) IsEnded() bool {
	return s == StatusCanceled || s == StatusTerminated
}

// in reports whether the status is one of the given.
func (s Status) in(sts ...Status) bool { return slices.Contains(sts, s) }
