////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package main

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"gitlab.com/transcrobes/offline-proxy/dataprovider"
)

// addDataCommands adds one subcommand per data provider verb. Each takes the
// collection and optional JSON params and prints the worker's reply.
func addDataCommands(root *cobra.Command) {
	for _, m := range dataprovider.Methods {
		root.AddCommand(dataCommand(m))
	}
}

func dataCommand(m dataprovider.Method) *cobra.Command {
	return &cobra.Command{
		Use:   string(m) + " COLLECTION [PARAMS]",
		Short: fmt.Sprintf("Sends a %s request for the collection.", m),
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var params json.RawMessage
			if len(args) == 2 {
				if !json.Valid([]byte(args[1])) {
					return errors.Errorf("params for %s are not valid JSON", m)
				}
				params = json.RawMessage(args[1])
			}

			c, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			reply, err := dataprovider.New(c.p, "proxyctl").Do(cmd.Context(),
				dataprovider.Descriptor{
					Collection: args[0], Method: m, Params: params})
			if err != nil {
				return err
			}
			fmt.Println(string(reply))
			return nil
		},
	}
}
