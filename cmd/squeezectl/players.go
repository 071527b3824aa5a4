package main

import (
	"github.com/spf13/cobra"
)

func playersCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "players",
		Short: "List players known to the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, cancel, err := app.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer cancel()
			result, err := app.service.Players(ctx)
			if err != nil {
				return err
			}
			return app.printer.Print(result)
		},
	}
}

func statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status [player]",
		Short: "Show player status",
		Args:  cobra.RangeArgs(0, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, cancel, err := app.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer cancel()
			result, err := app.service.Status(ctx, optionalArg(args))
			if err != nil {
				return err
			}
			return app.printer.Print(result)
		},
	}
}
