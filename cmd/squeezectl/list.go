package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bradfitz/android-squeezer-sub002/internal/core"
)

func listCommand() *cobra.Command {
	var req core.ListRequest

	cmd := &cobra.Command{
		Use:   "list <kind>",
		Short: "Browse a library list",
		Long:  fmt.Sprintf("Browse a complete library list. Kinds: %s.", strings.Join(core.ListKinds(), ", ")),
		Args:  cobra.ExactArgs(1),
		ValidArgsFunction: func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
			return core.ListKinds(), cobra.ShellCompDirectiveNoFileComp
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, cancel, err := app.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer cancel()
			req.Kind = strings.ToLower(args[0])
			if req.Player == "" {
				req.Player = app.service.Config.Player
			}
			result, err := app.service.List(ctx, req)
			if err != nil {
				return err
			}
			return app.printer.Print(result)
		},
	}

	cmd.Flags().StringVar(&req.Search, "search", "", "filter by search text")
	cmd.Flags().StringVar(&req.ArtistID, "artist", "", "filter by artist id")
	cmd.Flags().StringVar(&req.AlbumID, "album", "", "filter by album id")
	cmd.Flags().StringVar(&req.GenreID, "genre", "", "filter by genre id")
	cmd.Flags().StringVar(&req.Year, "year", "", "filter by year")
	cmd.Flags().StringVar(&req.PlaylistID, "playlist", "", "playlist id (tracks)")
	cmd.Flags().StringVar(&req.FolderID, "folder", "", "music folder id")
	cmd.Flags().StringVar(&req.ItemID, "item", "", "plugin item id (items)")
	cmd.Flags().StringVar(&req.Plugin, "plugin", "", "plugin command (items), e.g. podcast")
	return cmd
}

func searchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "search <term...>",
		Short: "Search artists, albums, genres and songs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, cancel, err := app.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer cancel()
			result, err := app.service.Search(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			return app.printer.Print(result)
		},
	}
}
