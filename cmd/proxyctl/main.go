////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Command proxyctl is a foreground for a worker host. It sends data provider
// and control requests through the message proxy and can run the reload
// watchdog.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	jww "github.com/spf13/jwalterweatherman"

	"gitlab.com/transcrobes/offline-proxy/config"
	"gitlab.com/transcrobes/offline-proxy/logging"
	"gitlab.com/transcrobes/offline-proxy/proxy"
	"gitlab.com/transcrobes/offline-proxy/readiness"
	"gitlab.com/transcrobes/offline-proxy/worker"
)

var (
	params     = config.DefaultParams()
	configPath string
	dumpLog    bool
	logFile    *logging.LogFile
)

func main() {
	ctx, stop := signal.NotifyContext(
		context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if dumpLog && logFile != nil {
		_, _ = os.Stderr.Write(logFile.GetFile())
	}
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "proxyctl",
	Short: "Talks to an offline worker through the message proxy.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Load(&params, cmd.Flags(), configPath); err != nil {
			return err
		}
		if err := logging.InitLog(params.LogLevel, params.LogFile); err != nil {
			return err
		}
		if params.LogBufferSize > 0 {
			var err error
			logFile, err = logging.EnableLogFile(
				"proxyctl", params.LogLevel, params.LogBufferSize)
			if err != nil {
				return err
			}
		}
		return nil
	},
	SilenceUsage: true,
}

// conn is an open connection to the worker with the readiness of the
// configured identity.
type conn struct {
	p *proxy.Proxy
	m *readiness.Machine
}

// dial connects to the worker and resolves the configured identity.
func dial(ctx context.Context) (*conn, error) {
	port, err := worker.DialWebSocket(ctx, params.WorkerURL)
	if err != nil {
		return nil, err
	}
	p, err := proxy.Connect(ctx, port, "proxyctl", params.Worker)
	if err != nil {
		_ = port.Close()
		return nil, err
	}

	id := readiness.StaticIdentity{
		Username: params.Username, LangPair: params.LangPair}
	c := &conn{p: p, m: readiness.NewMachine(id, p)}
	c.m.OnRedirect(func(r readiness.Redirect) {
		jww.WARN.Printf("Store of %q is not initialised; run proxyctl init.",
			params.Username)
	})
	return c, nil
}

// open dials and establishes the session of the configured identity. The store
// must already be initialised.
func open(ctx context.Context) (*conn, error) {
	c, err := dial(ctx)
	if err != nil {
		return nil, err
	}
	if err = c.session(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// session binds the proxy to the identity once the machine reports it ready.
func (c *conn) session(ctx context.Context) error {
	d, err := c.m.Resolve(ctx, "/")
	if err != nil {
		return err
	}
	switch d.State {
	case readiness.Ready:
		_, err = c.p.Init(ctx, d.Identity.Username)
		return err
	case readiness.Unknown:
		return errors.New("no username configured")
	default:
		return errors.Errorf("store of %q is %s", d.Identity.Username, d.State)
	}
}

func (c *conn) Close() {
	c.p.Close()
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Provisions the offline store of the configured user.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dial(cmd.Context())
		if err != nil {
			return err
		}
		defer c.Close()

		if _, err = c.m.Resolve(cmd.Context(), readiness.OnboardingRoute); err != nil {
			return err
		}
		if err = c.m.Init(cmd.Context()); err != nil {
			return err
		}
		fmt.Printf("%s is %s\n", params.Username, c.m.State())
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status [route]",
	Short: "Prints the readiness of the configured user for a route.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		route := "/"
		if len(args) == 1 {
			route = args[0]
		}
		c, err := dial(cmd.Context())
		if err != nil {
			return err
		}
		defer c.Close()

		d, err := c.m.Resolve(cmd.Context(), route)
		if err != nil {
			return err
		}
		fmt.Printf("%s is %s\n", d.Identity.Username, d.State)
		if d.Redirect != nil {
			fmt.Printf("redirect %s -> %s\n", d.Redirect.From, d.Redirect.To)
		}
		return nil
	},
}

var needsReloadCmd = &cobra.Command{
	Use:   "needs-reload",
	Short: "Asks the worker whether the foreground must reload.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dial(cmd.Context())
		if err != nil {
			return err
		}
		defer c.Close()

		reload, err := c.p.NeedsReload(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Println(reload)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Ends the session and closes the worker's database connections.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := open(cmd.Context())
		if err != nil {
			return err
		}
		defer c.Close()
		return c.p.Logout(cmd.Context())
	},
}

// init is the initialization function for Cobra which defines flags and
// subcommands.
func init() {
	config.BindFlags(rootCmd.PersistentFlags(), &params)
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Path to a TOML config file. Defaults to "+config.DefaultPath()+".")
	rootCmd.PersistentFlags().BoolVar(&dumpLog, "dump-log", false,
		"Print the in-memory log file to stderr on exit.")

	rootCmd.AddCommand(initCmd, statusCmd, needsReloadCmd, logoutCmd, watchCmd)
	addDataCommands(rootCmd)
}
