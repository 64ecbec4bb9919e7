////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package readiness

import "strconv"

// State is the readiness of the offline store for the resolved identity.
type State uint8

const (
	// Unknown means no identity has been resolved yet.
	Unknown State = iota

	// Uninitialized means the worker has not provisioned the identity's store.
	Uninitialized

	// Initializing means provisioning is running.
	Initializing

	// Ready means the store is provisioned. It is sticky for the identity.
	Ready

	// Failed means provisioning failed. It is terminal for the identity.
	Failed
)

// String returns a human-readable name for the State for logging and
// debugging. This function adheres to the fmt.Stringer interface.
func (s State) String() string {
	switch s {
	case Unknown:
		return "Unknown"
	case Uninitialized:
		return "Uninitialized"
	case Initializing:
		return "Initializing"
	case Ready:
		return "Ready"
	case Failed:
		return "Failed"
	default:
		return "INVALID STATE " + strconv.Itoa(int(s))
	}
}
