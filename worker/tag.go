////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package worker

// Tag selects the handler on the receiving side of a message. On the wire it
// is the "type" field of the message.
type Tag string

// List of tags that can be used when sending a message or registering a handler
// to receive a message.
const (
	// ReadyTag is posted once by the worker when all of its handlers are
	// registered. The foreground does not send anything before receiving it.
	ReadyTag Tag = "Ready"

	// DataProviderTag carries a resource descriptor for one of the generic
	// collection verbs.
	DataProviderTag Tag = "DataProvider"

	IsInitialisedTag      Tag = "isInitialised"
	InitialiseTag         Tag = "initialise"
	NeedsReloadTag        Tag = "NEEDS_RELOAD"
	ResetDBConnectionsTag Tag = "resetDBConnections"
	GetCardWordsTag       Tag = "getCardWords"
	GetAllFromDBTag       Tag = "getAllFromDB"

	// ReloadRequiredTag is an unsolicited push from the worker announcing that
	// foreground state is stale.
	ReloadRequiredTag Tag = "reloadRequired"
)

// noResponseID is the ID set on messages that do not expect a reply. Correlation
// tokens start after it.
const noResponseID uint64 = 0
