////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Command workerhost runs the reference background worker as a process. Each
// websocket connection to /worker is served as one foreground.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	jww "github.com/spf13/jwalterweatherman"

	"gitlab.com/transcrobes/offline-proxy/backend"
	"gitlab.com/transcrobes/offline-proxy/config"
	"gitlab.com/transcrobes/offline-proxy/logging"
	"gitlab.com/transcrobes/offline-proxy/storage"
	"gitlab.com/transcrobes/offline-proxy/worker"
)

const shutdownTimeout = 5 * time.Second

var (
	params     = config.DefaultParams()
	configPath string
	seedPath   string
	staticDir  string
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

var cmd = &cobra.Command{
	Use:   "workerhost",
	Short: "Serves the offline store to foregrounds over websockets.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Load(&params, cmd.Flags(), configPath); err != nil {
			return err
		}
		if err := logging.InitLog(params.LogLevel, params.LogFile); err != nil {
			return err
		}

		seed, err := loadSeed(seedPath)
		if err != nil {
			return err
		}
		store := storage.NewStore(storage.SchemaVersion, seed)
		hub := backend.NewHub()

		ctx, stop := signal.NotifyContext(
			context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if params.SchemaVersionFile != "" {
			vw, err := backend.NewVersionWatcher(
				params.SchemaVersionFile, store, hub.ReloadRequired)
			if err != nil {
				return err
			}
			go func() {
				if err := vw.Run(ctx); err != nil {
					jww.ERROR.Printf("Schema version watcher stopped: %+v", err)
				}
			}()
		}

		mux := http.NewServeMux()
		mux.HandleFunc("/worker", func(w http.ResponseWriter, r *http.Request) {
			port, err := worker.AcceptWebSocket(w, r)
			if err != nil {
				jww.WARN.Printf("Rejected connection from %s: %+v",
					r.RemoteAddr, err)
				return
			}
			name := "worker-" + r.RemoteAddr
			err = backend.Serve(
				ctx, port, name, store, hub, params.Worker.MessageLogging)
			if err != nil {
				jww.ERROR.Printf("Failed to serve %s: %+v", r.RemoteAddr, err)
			}
		})

		if staticDir != "" {
			mux.Handle("/", http.FileServer(http.Dir(staticDir)))
			jww.INFO.Printf("Serving static files from %s", staticDir)
		}

		srv := &http.Server{Addr: params.ListenAddress, Handler: mux}
		served := make(chan error, 1)
		go func() { served <- srv.ListenAndServe() }()
		jww.INFO.Printf("Worker host listening on %s", params.ListenAddress)

		select {
		case err = <-served:
			return errors.Wrap(err, "worker host stopped")
		case <-ctx.Done():
		}

		jww.INFO.Printf("Shutting down worker host.")
		shutdownCtx, cancel :=
			context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

// loadSeed reads the initial content of every new user's database from a JSON
// object of collection name to records. An empty path seeds nothing.
func loadSeed(path string) (map[string][]storage.Record, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read seed file %s", path)
	}
	var seed map[string][]storage.Record
	if err = json.Unmarshal(data, &seed); err != nil {
		return nil, errors.Wrapf(err, "failed to parse seed file %s", path)
	}
	jww.INFO.Printf("Loaded %d seed collections from %s", len(seed), path)
	return seed, nil
}

// init is the initialization function for Cobra which defines flags.
func init() {
	config.BindFlags(cmd.Flags(), &params)
	cmd.Flags().StringVarP(&configPath, "config", "c", "",
		"Path to a TOML config file. Defaults to "+config.DefaultPath()+".")
	cmd.Flags().StringVar(&seedPath, "seed", "",
		"JSON file of collections copied into each new user's database.")
	cmd.Flags().StringVar(&staticDir, "static", "",
		"Directory of the WebAssembly foreground and worker files to serve.")
}
