package main

import (
	"github.com/spf13/cobra"

	"github.com/bradfitz/android-squeezer-sub002/internal/core"
	"github.com/bradfitz/android-squeezer-sub002/internal/session"
)

func loadCommand() *cobra.Command {
	var (
		add    bool
		insert bool
	)

	cmd := &cobra.Command{
		Use:   "load <album|artist|genre|song|playlist|folder> <id>",
		Short: "Load an item into the player's playlist",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if add && insert {
				return &core.CLIError{Code: core.ExitUsage, Msg: "use only --add or --insert"}
			}
			action := session.PlaylistLoad
			switch {
			case add:
				action = session.PlaylistAdd
			case insert:
				action = session.PlaylistInsert
			}

			app := fromContext(cmd)
			ctx, cancel, err := app.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer cancel()
			result, err := app.service.Load(ctx, "", action, args[0], args[1])
			if err != nil {
				return err
			}
			return app.printer.Print(result)
		},
	}
	cmd.Flags().BoolVar(&add, "add", false, "append instead of replacing the playlist")
	cmd.Flags().BoolVar(&insert, "insert", false, "insert after the current track")
	return cmd
}
