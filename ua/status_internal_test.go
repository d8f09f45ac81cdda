package ua

import (
	"sync"
	"testing"
)

func TestTransit(t *testing.T) {
	t.Parallel()

	st := StatusInitial
	for _, to := range []Status{StatusInviteReceived, StatusWaitingForAnswer, StatusAnswered, StatusWaitingForAck} {
		if err := transit(&st, to); err != nil {
			t.Fatalf("transit(%q) error = %v, want nil", to, err)
		}
		if st != to {
			t.Fatalf("status = %q, want %q", st, to)
		}
	}

	if err := transit(&st, StatusCanceled); err == nil {
		t.Fatal("transit(canceled) error = nil, want error")
	}
	if st != StatusWaitingForAck {
		t.Fatalf("status after refused transition = %q, want %q", st, StatusWaitingForAck)
	}

	if err := transit(&st, StatusTerminated); err != nil {
		t.Fatalf("transit(terminated) error = %v, want nil", err)
	}
	if err := transit(&st, StatusTerminated); err == nil {
		t.Fatal("transit(terminated) from terminated error = nil, want error")
	}
}

func TestTransit_Concurrent(t *testing.T) {
	t.Parallel()

	var wg sync.WaitGroup
	for range 32 {
		wg.Go(func() {
			st := StatusInitial
			for _, to := range []Status{StatusInviteSent, Status1xxReceived, Status1xxReceived, StatusConfirmed} {
				if err := transit(&st, to); err != nil {
					t.Errorf("transit(%q) error = %v, want nil", to, err)
					return
				}
			}
		})
	}
	wg.Wait()
}
