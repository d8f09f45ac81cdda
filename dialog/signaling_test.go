package dialog_test

import (
	"errors"
	"testing"

	"github.com/ghettovoice/sipua/dialog"
	"github.com/ghettovoice/sipua/message"
)

func TestSignaling(t *testing.T) {
	t.Parallel()

	type step struct {
		op      string
		dir     dialog.Direction
		want    dialog.SignalingState
		wantErr error
	}
	cases := []struct {
		name  string
		steps []step
	}{
		{
			"local offer remote answer",
			[]step{
				{"offer", dialog.Local, dialog.SignalingHaveLocalOffer, nil},
				{"answer", dialog.Remote, dialog.SignalingStable, nil},
			},
		},
		{
			"remote offer local answer then new offer",
			[]step{
				{"offer", dialog.Remote, dialog.SignalingHaveRemoteOffer, nil},
				{"answer", dialog.Local, dialog.SignalingStable, nil},
				{"offer", dialog.Local, dialog.SignalingHaveLocalOffer, nil},
			},
		},
		{
			"second offer refused",
			[]step{
				{"offer", dialog.Local, dialog.SignalingHaveLocalOffer, nil},
				{"offer", dialog.Remote, dialog.SignalingHaveLocalOffer, dialog.ErrOfferOutstanding},
				{"offer", dialog.Local, dialog.SignalingHaveLocalOffer, dialog.ErrOfferOutstanding},
			},
		},
		{
			"answer without offer",
			[]step{
				{"answer", dialog.Remote, dialog.SignalingInitial, dialog.ErrNoOffer},
			},
		},
		{
			"answer from offerer",
			[]step{
				{"offer", dialog.Remote, dialog.SignalingHaveRemoteOffer, nil},
				{"answer", dialog.Remote, dialog.SignalingHaveRemoteOffer, dialog.ErrNoOffer},
			},
		},
		{
			"rollback",
			[]step{
				{"offer", dialog.Local, dialog.SignalingHaveLocalOffer, nil},
				{"rollback", dialog.Local, dialog.SignalingInitial, nil},
				{"offer", dialog.Remote, dialog.SignalingHaveRemoteOffer, nil},
				{"answer", dialog.Local, dialog.SignalingStable, nil},
				{"offer", dialog.Remote, dialog.SignalingHaveRemoteOffer, nil},
				{"rollback", dialog.Local, dialog.SignalingStable, nil},
			},
		},
		{
			"closed",
			[]step{
				{"close", dialog.Local, dialog.SignalingClosed, nil},
				{"offer", dialog.Local, dialog.SignalingClosed, dialog.ErrSignalingClosed},
				{"answer", dialog.Remote, dialog.SignalingClosed, dialog.ErrSignalingClosed},
				{"close", dialog.Local, dialog.SignalingClosed, nil},
			},
		},
		{
			"body transitions",
			[]step{
				{"body", dialog.Remote, dialog.SignalingHaveRemoteOffer, nil},
				{"body", dialog.Remote, dialog.SignalingHaveRemoteOffer, dialog.ErrOfferOutstanding},
				{"body", dialog.Local, dialog.SignalingStable, nil},
				{"body", dialog.Local, dialog.SignalingHaveLocalOffer, nil},
				{"body", dialog.Local, dialog.SignalingHaveLocalOffer, dialog.ErrOfferOutstanding},
				{"body", dialog.Remote, dialog.SignalingStable, nil},
			},
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()

			sig := dialog.NewSignaling()
			for i, s := range c.steps {
				var err error
				switch s.op {
				case "offer":
					err = sig.Offer(s.dir)
				case "answer":
					err = sig.Answer(s.dir)
				case "rollback":
					err = sig.Rollback()
				case "close":
					sig.Close()
				case "body":
					err = sig.TransitionBody(s.dir)
				}
				if !errors.Is(err, s.wantErr) {
					t.Fatalf("step #%d %s(%s) error = %v, want %v", i, s.op, s.dir, err, s.wantErr)
				}
				if got := sig.State(); got != s.want {
					t.Fatalf("step #%d %s(%s) state = %q, want %q", i, s.op, s.dir, got, s.want)
				}
			}
		})
	}
}

func TestSignaling_TransitionMessage(t *testing.T) {
	t.Parallel()

	sig := dialog.NewSignaling()
	invite := newInvite(t)

	// no session body
	if err := sig.Transition(dialog.Remote, invite); err != nil {
		t.Fatalf("sig.Transition(INVITE without body) error = %v, want nil", err)
	}
	if got := sig.State(); got != dialog.SignalingInitial {
		t.Fatalf("sig.State() = %q, want %q", got, dialog.SignalingInitial)
	}

	message.SetBody(invite, &message.Body{ContentType: message.ContentTypeSDP, Content: []byte("v=0\r\n")})
	if err := sig.Transition(dialog.Remote, invite); err != nil {
		t.Fatalf("sig.Transition(INVITE with SDP) error = %v, want nil", err)
	}
	if got := sig.State(); got != dialog.SignalingHaveRemoteOffer {
		t.Fatalf("sig.State() = %q, want %q", got, dialog.SignalingHaveRemoteOffer)
	}

	rendered := newResponse(t, invite, 200, "bob-tag")
	message.SetBody(rendered, &message.Body{ContentType: "text/plain", Content: []byte("hi")})
	if err := sig.Transition(dialog.Local, rendered); err != nil {
		t.Fatalf("sig.Transition(render body) error = %v, want nil", err)
	}
	if got := sig.State(); got != dialog.SignalingHaveRemoteOffer {
		t.Fatalf("sig.State() after render body = %q, want %q", got, dialog.SignalingHaveRemoteOffer)
	}
}
