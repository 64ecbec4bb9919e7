////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package readiness

import "strings"

// OnboardingRoute is where an uninitialised identity is sent.
const OnboardingRoute = "/#/init"

// exemptRoutes are reachable without a provisioned store.
var exemptRoutes = map[string]bool{
	"login":            true,
	"init":             true,
	"signup":           true,
	"reset-password":   true,
	"recover-password": true,
}

// Redirect is a navigation instruction. The machine never navigates itself.
type Redirect struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// IsExempt returns true if the route may be shown to an uninitialised
// identity. Routes are hash routes such as "/#/login"; query strings and
// sub-paths are ignored.
func IsExempt(route string) bool {
	return exemptRoutes[routeName(route)]
}

// routeName returns the first path segment of a hash route.
func routeName(route string) string {
	if i := strings.IndexByte(route, '#'); i >= 0 {
		route = route[i+1:]
	}
	if i := strings.IndexByte(route, '?'); i >= 0 {
		route = route[:i]
	}
	route = strings.TrimPrefix(route, "/")
	if i := strings.IndexByte(route, '/'); i >= 0 {
		route = route[:i]
	}
	return route
}
