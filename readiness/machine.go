////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package readiness tracks whether the offline store of the current identity
// has been provisioned and decides when the foreground has to be sent to
// onboarding.
package readiness

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"

	"gitlab.com/transcrobes/offline-proxy/proxy"
)

// Worker is the part of the [proxy.Proxy] used by the machine.
type Worker interface {
	IsInitialised(ctx context.Context, username string) (bool, error)
	Init(ctx context.Context, identity string) (*proxy.Session, error)
}

// Decision is the outcome of resolving a route. Redirect is nil unless the
// caller should navigate to onboarding.
type Decision struct {
	State    State
	Identity Identity
	Redirect *Redirect
}

// Machine is the readiness state machine of one foreground. It is safe for
// concurrent use.
type Machine struct {
	src IdentitySource
	w   Worker

	state    State
	identity Identity

	// failure is the provisioning error that moved the identity to Failed.
	failure error

	observers []func(Redirect)

	mux sync.Mutex
}

// NewMachine returns a machine in the Unknown state.
func NewMachine(src IdentitySource, w Worker) *Machine {
	return &Machine{src: src, w: w}
}

// OnRedirect registers an observer that is called with every redirect
// instruction the machine emits.
func (m *Machine) OnRedirect(cb func(Redirect)) {
	m.mux.Lock()
	defer m.mux.Unlock()
	m.observers = append(m.observers, cb)
}

// State returns the current state.
func (m *Machine) State() State {
	m.mux.Lock()
	defer m.mux.Unlock()
	return m.state
}

// Identity returns the identity the state belongs to.
func (m *Machine) Identity() Identity {
	m.mux.Lock()
	defer m.mux.Unlock()
	return m.identity
}

// Ready returns true if an identity is resolved and its store is provisioned.
func (m *Machine) Ready() bool {
	return m.State() == Ready
}

// Resolve resolves the identity and its readiness for the given route.
//
// A ConfigurationError is returned if neither a username nor a language pair is
// available, or if a username is available without a language pair. Without a
// username the machine stays Unknown. A new identity resets the machine to
// Unknown before its readiness flag is queried. Ready, Initializing and Failed
// are kept without querying the worker. If the identity is Uninitialized and
// the route is not exempt, the decision carries a redirect to
// [OnboardingRoute] that is also passed to every observer.
func (m *Machine) Resolve(ctx context.Context, route string) (Decision, error) {
	id, err := m.src.Identity(ctx)
	if err != nil {
		return Decision{}, errors.Wrap(err, "failed to resolve identity")
	}
	if err = id.check(); err != nil {
		m.reset(Identity{})
		return Decision{}, err
	}

	m.mux.Lock()
	if id != m.identity {
		jww.INFO.Printf("[READINESS] Identity changed from %q to %q.",
			m.identity.Username, id.Username)
		m.resetLocked(id)
	}
	if id.Username == "" {
		m.mux.Unlock()
		return Decision{State: Unknown, Identity: id}, nil
	}
	switch m.state {
	case Ready, Initializing, Failed:
		d := Decision{State: m.state, Identity: id}
		m.mux.Unlock()
		return d, nil
	}
	m.mux.Unlock()

	initialised, err := m.w.IsInitialised(ctx, id.Username)
	if err != nil {
		return Decision{State: m.State(), Identity: id}, errors.Wrapf(err,
			"failed to query readiness of %q", id.Username)
	}

	m.mux.Lock()
	if m.identity != id {
		// Another Resolve switched identity while the flag was queried
		d := Decision{State: m.state, Identity: m.identity}
		m.mux.Unlock()
		return d, nil
	}
	if m.state == Unknown || m.state == Uninitialized {
		if initialised {
			m.state = Ready
		} else {
			m.state = Uninitialized
		}
	}
	d := Decision{State: m.state, Identity: id}
	if d.State == Uninitialized && !IsExempt(route) {
		d.Redirect = &Redirect{From: route, To: OnboardingRoute}
	}
	observers := append([]func(Redirect){}, m.observers...)
	m.mux.Unlock()

	if d.Redirect != nil {
		jww.INFO.Printf("[READINESS] Store for %q is not initialised; "+
			"redirecting from %s to %s.", id.Username, route, OnboardingRoute)
		for _, cb := range observers {
			cb(*d.Redirect)
		}
	}
	return d, nil
}

// Init provisions the store of the resolved identity and returns one outcome
// per call. On success the machine is Ready. A provisioning failure moves the
// identity to Failed, after which Init returns the same failure without
// contacting the worker. If ctx is done before provisioning finishes, the
// machine goes back to Uninitialized and provisioning carries on in the worker.
func (m *Machine) Init(ctx context.Context) error {
	m.mux.Lock()
	id := m.identity
	switch m.state {
	case Unknown:
		m.mux.Unlock()
		return errors.New("cannot initialise before an identity is resolved")
	case Ready:
		m.mux.Unlock()
		return nil
	case Failed:
		err := m.failure
		m.mux.Unlock()
		return err
	}
	m.state = Initializing
	m.mux.Unlock()

	jww.INFO.Printf("[READINESS] Initialising store for %q.", id.Username)
	_, err := m.w.Init(ctx, id.Username)

	m.mux.Lock()
	defer m.mux.Unlock()
	if m.identity != id {
		if err == nil {
			err = errors.Errorf("identity changed from %q while initialising",
				id.Username)
		}
		return err
	}

	switch {
	case err == nil:
		m.state = Ready
		jww.INFO.Printf("[READINESS] Store for %q is ready.", id.Username)
	case ctx.Err() != nil:
		m.state = Uninitialized
	default:
		m.state = Failed
		m.failure = err
		jww.ERROR.Printf("[READINESS] Failed to initialise store for %q: %+v",
			id.Username, err)
	}
	return err
}

// reset moves the machine to Unknown for the identity.
func (m *Machine) reset(id Identity) {
	m.mux.Lock()
	defer m.mux.Unlock()
	m.resetLocked(id)
}

func (m *Machine) resetLocked(id Identity) {
	m.identity = id
	m.state = Unknown
	m.failure = nil
}
