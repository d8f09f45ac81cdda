package dialog

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"

	"braces.dev/errtrace"
	"github.com/emiago/sipgo/sip"
)

// Set keeps the dialogs created by the responses to one INVITE.
// A forked INVITE may create several early dialogs, at most one dialog is confirmed.
type Set struct {
	invite *sip.Request
	opts   *Options

	mu        sync.Mutex
	early     map[ID]*Dialog
	confirmed *Dialog
}

// NewSet creates a dialog set for the INVITE sent by this side.
func NewSet(invite *sip.Request, opts *Options) *Set {
	return &Set{invite: invite, opts: opts, early: make(map[ID]*Dialog)}
}

// Early returns the early dialog of the provisional response, creating it if needed.
// Repeated calls for the same dialog return the existing one with created unset.
func (s *Set) Early(res *sip.Response) (d *Dialog, created bool, err error) {
	id := UACID(res)

	s.mu.Lock()
	defer s.mu.Unlock()

	if d, ok := s.early[id]; ok {
		return d, false, nil
	}
	if s.confirmed != nil && s.confirmed.ID() == id {
		return s.confirmed, false, nil
	}

	d, err = NewUAC(s.invite, res, s.opts)
	if err != nil {
		return nil, false, errtrace.Wrap(err)
	}
	s.early[id] = d
	return d, true, nil
}

// Confirm returns the confirmed dialog of the 2xx response.
// A matching early dialog is promoted and replaces any previously confirmed dialog,
// all other early dialogs are terminated.
// Otherwise a new confirmed dialog is created.
func (s *Set) Confirm(ctx context.Context, res *sip.Response) (*Dialog, error) {
	id := UACID(res)

	s.mu.Lock()
	if s.confirmed != nil && s.confirmed.ID() == id {
		d := s.confirmed
		s.mu.Unlock()
		return d, errtrace.Wrap(d.Confirm(ctx, res))
	}

	d, ok := s.early[id]
	if ok {
		delete(s.early, id)
	} else {
		var err error
		if d, err = NewUAC(s.invite, res, s.opts); err != nil {
			s.mu.Unlock()
			return nil, errtrace.Wrap(err)
		}
	}
	s.confirmed = d
	others := slices.Collect(maps.Values(s.early))
	clear(s.early)
	s.mu.Unlock()

	errs := []error{d.Confirm(ctx, res)}
	for _, o := range others {
		errs = append(errs, o.Terminate(ctx))
	}
	return d, errtrace.Wrap(errors.Join(errs...))
}

// Get returns the dialog by id.
func (s *Set) Get(id ID) (*Dialog, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.confirmed != nil && s.confirmed.ID() == id {
		return s.confirmed, true
	}
	d, ok := s.early[id]
	return d, ok
}

// Confirmed returns the confirmed dialog, if any.
func (s *Set) Confirmed() *Dialog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.confirmed
}

// EarlyDialogs returns the early dialogs.
func (s *Set) EarlyDialogs() []*Dialog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Collect(maps.Values(s.early))
}

// Remove forgets the early dialog.
func (s *Set) Remove(id ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.early, id)
}

// Terminate terminates all dialogs of the set.
func (s *Set) Terminate(ctx context.Context) error {
	s.mu.Lock()
	all := slices.Collect(maps.Values(s.early))
	if s.confirmed != nil {
		all = append(all, s.confirmed)
	}
	s.mu.Unlock()

	var errs []error
	for _, d := range all {
		errs = append(errs, d.Terminate(ctx))
	}
	return errtrace.Wrap(errors.Join(errs...))
}
