////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package readiness

import (
	"context"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"gitlab.com/transcrobes/offline-proxy/proxy"
)

// fakeWorker answers readiness queries from a map and counts calls.
type fakeWorker struct {
	initialised map[string]bool
	initErr     error
	queries     int
	inits       int
	mux         sync.Mutex
}

func newFakeWorker() *fakeWorker {
	return &fakeWorker{initialised: make(map[string]bool)}
}

func (f *fakeWorker) IsInitialised(_ context.Context, username string) (bool, error) {
	f.mux.Lock()
	defer f.mux.Unlock()
	f.queries++
	return f.initialised[username], nil
}

func (f *fakeWorker) Init(_ context.Context, identity string) (*proxy.Session, error) {
	f.mux.Lock()
	defer f.mux.Unlock()
	f.inits++
	if f.initErr != nil {
		return nil, f.initErr
	}
	f.initialised[identity] = true
	return nil, nil
}

var alice = Identity{Username: "alice", LangPair: "zh-Hans:en"}

// Tests that an uninitialised identity is redirected to onboarding from
// ordinary routes but not from the exempt ones.
func TestMachine_Resolve_Redirect(t *testing.T) {
	tests := []struct {
		route    string
		redirect bool
	}{
		{"/#/repetrobes", true},
		{"/#/", true},
		{"/#/login", false},
		{"/#/init", false},
		{"/#/signup", false},
		{"/#/reset-password", false},
		{"/#/recover-password", false},
		{"/#/login?next=%2Frepetrobes", false},
	}

	for _, tt := range tests {
		var got []Redirect
		m := NewMachine(StaticIdentity(alice), newFakeWorker())
		m.OnRedirect(func(r Redirect) { got = append(got, r) })

		d, err := m.Resolve(context.Background(), tt.route)
		require.NoError(t, err, tt.route)
		require.Equal(t, Uninitialized, d.State, tt.route)

		if tt.redirect {
			want := Redirect{From: tt.route, To: OnboardingRoute}
			require.Equal(t, &want, d.Redirect, tt.route)
			require.Equal(t, []Redirect{want}, got, tt.route)
		} else {
			require.Nil(t, d.Redirect, tt.route)
			require.Empty(t, got, tt.route)
		}
	}
}

// Tests the configuration errors and the unresolved identity.
func TestMachine_Resolve_Identity(t *testing.T) {
	tests := []struct {
		id      Identity
		missing []string
	}{
		{Identity{}, []string{"username", "langPair"}},
		{Identity{Username: "alice"}, []string{"langPair"}},
		{Identity{LangPair: "zh-Hans:en"}, nil},
	}

	for _, tt := range tests {
		w := newFakeWorker()
		m := NewMachine(StaticIdentity(tt.id), w)
		d, err := m.Resolve(context.Background(), "/#/repetrobes")
		if tt.missing != nil {
			var ce *ConfigurationError
			require.True(t, errors.As(err, &ce), "%+v", tt.id)
			require.Equal(t, tt.missing, ce.Missing)
			continue
		}
		require.NoError(t, err)
		require.Equal(t, Unknown, d.State)
		require.Nil(t, d.Redirect)
		require.Zero(t, w.queries)
	}
}

// Tests that Ready is sticky and that switching identity resets the machine.
func TestMachine_Resolve_ReadySticky(t *testing.T) {
	w := newFakeWorker()
	w.initialised["alice"] = true
	id := alice
	m := NewMachine(IdentityFunc(func(context.Context) (Identity, error) {
		return id, nil
	}), w)

	for i := 0; i < 3; i++ {
		d, err := m.Resolve(context.Background(), "/#/repetrobes")
		require.NoError(t, err)
		require.Equal(t, Ready, d.State)
		require.Nil(t, d.Redirect)
	}
	require.Equal(t, 1, w.queries)

	id = Identity{Username: "bob", LangPair: "zh-Hans:en"}
	d, err := m.Resolve(context.Background(), "/#/repetrobes")
	require.NoError(t, err)
	require.Equal(t, Uninitialized, d.State)
	require.Equal(t, id, m.Identity())
	require.NotNil(t, d.Redirect)
	require.Equal(t, 2, w.queries)
}

// Tests Uninitialized to Ready through Init.
func TestMachine_Init(t *testing.T) {
	w := newFakeWorker()
	m := NewMachine(StaticIdentity(alice), w)

	require.Error(t, m.Init(context.Background()))

	_, err := m.Resolve(context.Background(), "/#/init")
	require.NoError(t, err)
	require.NoError(t, m.Init(context.Background()))
	require.True(t, m.Ready())

	require.NoError(t, m.Init(context.Background()))
	require.Equal(t, 1, w.inits)
}

// Tests that a failed initialisation is terminal for the identity.
func TestMachine_Init_Failed(t *testing.T) {
	w := newFakeWorker()
	w.initErr = errors.New("quota exceeded")
	m := NewMachine(StaticIdentity(alice), w)

	_, err := m.Resolve(context.Background(), "/#/init")
	require.NoError(t, err)

	require.Equal(t, w.initErr, m.Init(context.Background()))
	require.Equal(t, Failed, m.State())

	require.Equal(t, w.initErr, m.Init(context.Background()))
	d, err := m.Resolve(context.Background(), "/#/repetrobes")
	require.NoError(t, err)
	require.Equal(t, Failed, d.State)
	require.Equal(t, 1, w.inits)
}

func TestIsExempt(t *testing.T) {
	require.True(t, IsExempt("#/signup"))
	require.True(t, IsExempt("/#/init/step2"))
	require.False(t, IsExempt("/#/repetrobes"))
	require.False(t, IsExempt(""))
}
