////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package readiness

import (
	"context"
	"strings"
)

// Identity is the user the foreground works on behalf of and their language
// pair preference (for example "zh-Hans:en").
type Identity struct {
	Username string `json:"username"`
	LangPair string `json:"langPair"`
}

// IdentitySource resolves the current identity, for example from local
// storage or configuration.
type IdentitySource interface {
	Identity(ctx context.Context) (Identity, error)
}

// IdentityFunc adapts a function to an IdentitySource.
type IdentityFunc func(ctx context.Context) (Identity, error)

// Identity calls f.
func (f IdentityFunc) Identity(ctx context.Context) (Identity, error) {
	return f(ctx)
}

// StaticIdentity is an IdentitySource that always returns itself.
type StaticIdentity Identity

// Identity returns s as an Identity.
func (s StaticIdentity) Identity(context.Context) (Identity, error) {
	return Identity(s), nil
}

// ConfigurationError is returned when identity data required by the foreground
// is absent. It is fatal to the foreground session.
type ConfigurationError struct {
	Missing []string
}

func (e *ConfigurationError) Error() string {
	return "missing required configuration: " + strings.Join(e.Missing, ", ")
}

// check returns a ConfigurationError if the identity cannot be used. An
// identity with only a language pair is valid but unresolved.
func (id Identity) check() error {
	switch {
	case id.Username == "" && id.LangPair == "":
		return &ConfigurationError{Missing: []string{"username", "langPair"}}
	case id.Username != "" && id.LangPair == "":
		return &ConfigurationError{Missing: []string{"langPair"}}
	}
	return nil
}
