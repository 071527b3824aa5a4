package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bradfitz/android-squeezer-sub002/internal/core"
)

func watchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch [player]",
		Short: "Stream player changes until interrupted",
		Args:  cobra.RangeArgs(0, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			// The timeout covers connecting only.
			connectCtx, cancel := context.WithTimeout(ctx, app.timeout)
			err := app.service.Connect(connectCtx, "")
			cancel()
			if err != nil {
				return err
			}

			return app.service.Watch(ctx, optionalArg(args), func(ev core.WatchEvent) error {
				return app.printer.Print(ev)
			})
		},
	}
}
