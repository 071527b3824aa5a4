package main

import (
	"context"
	"os"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bradfitz/android-squeezer-sub002/internal/adapters/clock"
	"github.com/bradfitz/android-squeezer-sub002/internal/adapters/config"
	"github.com/bradfitz/android-squeezer-sub002/internal/adapters/output"
	"github.com/bradfitz/android-squeezer-sub002/internal/adapters/prefs"
	"github.com/bradfitz/android-squeezer-sub002/internal/core"
	"github.com/bradfitz/android-squeezer-sub002/internal/session"
)

type app struct {
	service core.Service
	printer output.Printer
	json    bool
	timeout time.Duration
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	root := newRootCommand()
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		return core.ExitCode(err)
	}
	return core.ExitOK
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "squeezectl",
		Short:         "Control players on a SqueezeCenter / Logitech Media Server",
		SilenceUsage: true,
	}

	var (
		server     string
		player     string
		configPath string
		timeout    time.Duration
		pageSize   int
		jsonOut    bool
		noColor    bool
		verbose    bool
	)

	root.PersistentFlags().StringVarP(&server, "server", "s", "", "server host[:port]")
	root.PersistentFlags().StringVarP(&player, "player", "p", "", "player name, id or alias")
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default $XDG_CONFIG_HOME/squeezer/config.toml)")
	root.PersistentFlags().DurationVarP(&timeout, "timeout", "t", 5*time.Second, "command timeout")
	root.PersistentFlags().IntVar(&pageSize, "page-size", 0, "list page size")
	root.PersistentFlags().BoolVarP(&jsonOut, "json", "j", false, "output json")
	root.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable color")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log protocol traffic to stderr")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if noColor || jsonOut {
			pterm.DisableStyling()
		}

		var (
			cfg config.Config
			err error
		)
		if configPath != "" {
			cfg, err = config.LoadFile(configPath)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return &core.CLIError{Code: core.ExitUsage, Msg: "config", Err: err}
		}
		coreCfg := cfg.Core()
		if server != "" {
			coreCfg.Server = server
		}
		if player != "" {
			coreCfg.Player = player
		}
		if pageSize > 0 {
			coreCfg.PageSize = pageSize
		}

		logger := zap.NewNop()
		if verbose {
			if logger, err = zap.NewDevelopment(); err != nil {
				return err
			}
		}

		opts := session.Options{
			Logger:         logger,
			PageSize:       coreCfg.PageSize,
			ConnectTimeout: timeout,
		}
		if store, err := prefs.NewStore(); err == nil {
			opts.Players = store
		}

		cmd.SetContext(context.WithValue(cmd.Context(), appKey{}, &app{
			service: core.Service{
				Session: session.New(opts),
				Clock:   clock.Clock{},
				Config:  coreCfg,
			},
			printer: output.New(os.Stdout, jsonOut),
			json:    jsonOut,
			timeout: timeout,
		}))
		return nil
	}
	root.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		if app := fromContext(cmd); app != nil {
			app.service.Session.Disconnect()
		}
	}

	root.AddCommand(playersCommand())
	root.AddCommand(statusCommand())
	root.AddCommand(listCommand())
	root.AddCommand(searchCommand())
	root.AddCommand(loadCommand())
	root.AddCommand(watchCommand())
	root.AddCommand(volumeCommand())
	for _, cmd := range playbackCommands() {
		root.AddCommand(cmd)
	}
	return root
}

type appKey struct{}

func fromContext(cmd *cobra.Command) *app {
	val := cmd.Context().Value(appKey{})
	if val == nil {
		return nil
	}
	return val.(*app)
}

// connect opens the session with the command timeout applied.
func (a *app) connect(parent context.Context) (context.Context, context.CancelFunc, error) {
	ctx, cancel := context.WithTimeout(parent, a.timeout)
	if err := a.service.Connect(ctx, ""); err != nil {
		cancel()
		return nil, nil, err
	}
	return ctx, cancel, nil
}

func optionalArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
