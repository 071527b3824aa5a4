package main

import (
	"github.com/spf13/cobra"

	"github.com/bradfitz/android-squeezer-sub002/internal/core"
)

type playbackSpec struct {
	use   string
	typ   string
	short string
	value string // value argument name, empty for none
	alias []string
}

var playbackSpecs = []playbackSpec{
	{use: "play", typ: "play", short: "Start playback"},
	{use: "pause", typ: "pause", short: "Pause playback"},
	{use: "stop", typ: "stop", short: "Stop playback"},
	{use: "toggle", typ: "toggle", short: "Toggle pause and play"},
	{use: "next", typ: "next", short: "Skip to the next track"},
	{use: "prev", typ: "prev", short: "Go back to the previous track", alias: []string{"previous"}},
	{use: "index", typ: "index", short: "Jump to a playlist position (0-based)", value: "position"},
	{use: "seek", typ: "seek", short: "Seek to a position in seconds", value: "seconds"},
	{use: "power", typ: "power", short: "Switch the player on or off", value: "on|off"},
	{use: "shuffle", typ: "shuffle", short: "Set shuffle mode", value: "off|songs|albums"},
	{use: "repeat", typ: "repeat", short: "Set repeat mode", value: "off|song|playlist"},
	{use: "sleep", typ: "sleep", short: "Set the sleep timer (0 cancels)", value: "duration"},
}

func playbackCommands() []*cobra.Command {
	cmds := make([]*cobra.Command, 0, len(playbackSpecs))
	for _, spec := range playbackSpecs {
		cmds = append(cmds, playbackCommand(spec))
	}
	return cmds
}

func playbackCommand(spec playbackSpec) *cobra.Command {
	use := spec.use + " [player]"
	args := cobra.RangeArgs(0, 1)
	if spec.value != "" {
		use = spec.use + " [player] <" + spec.value + ">"
		args = cobra.RangeArgs(1, 2)
	}

	return &cobra.Command{
		Use:     use,
		Short:   spec.short,
		Aliases: spec.alias,
		Args:    args,
		RunE: func(cmd *cobra.Command, args []string) error {
			selector, value := "", ""
			if spec.value != "" {
				value = args[len(args)-1]
				args = args[:len(args)-1]
			}
			selector = optionalArg(args)
			return runControl(cmd, selector, core.Command{Type: spec.typ, Value: value})
		},
	}
}

func runControl(cmd *cobra.Command, selector string, c core.Command) error {
	app := fromContext(cmd)
	ctx, cancel, err := app.connect(cmd.Context())
	if err != nil {
		return err
	}
	defer cancel()
	result, err := app.service.Control(ctx, selector, c)
	if err != nil {
		return err
	}
	return app.printer.Print(result)
}
