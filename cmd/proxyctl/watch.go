////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package main

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	jww "github.com/spf13/jwalterweatherman"

	"gitlab.com/transcrobes/offline-proxy/watchdog"
	"gitlab.com/transcrobes/offline-proxy/worker"
)

var watchCmd = &cobra.Command{
	Use: "watch",
	Short: "Keeps a session open and reconnects whenever the worker reports " +
		"that the foreground must reload.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		for {
			reload, err := watchOnce(ctx)
			if err != nil || !reload {
				return err
			}
			jww.INFO.Printf("Reloading foreground of %q.", params.Username)
		}
	},
}

// watchOnce runs one foreground until it must reload, which returns true, or
// until ctx is done.
func watchOnce(ctx context.Context) (bool, error) {
	c, err := open(ctx)
	if err != nil {
		return false, err
	}
	defer c.Close()

	reload := make(chan struct{}, 1)
	trigger := func() {
		select {
		case reload <- struct{}{}:
		default:
		}
	}
	c.p.OnBroadcast(worker.ReloadRequiredTag,
		func(_ string, value json.RawMessage) {
			jww.INFO.Printf("Worker pushed reloadRequired: %s", value)
			trigger()
		})

	wd := watchdog.New(
		c.p, watchdog.ReloadFunc(trigger), c.m.Ready, params.Watchdog)
	wd.Start(ctx)
	defer wd.Stop()

	jww.INFO.Printf("Watching session of %q.", params.Username)
	select {
	case <-ctx.Done():
		return false, nil
	case <-reload:
		return true, nil
	case <-c.p.Done():
		return false, errors.New("worker disconnected")
	}
}
