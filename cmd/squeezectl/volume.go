package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bradfitz/android-squeezer-sub002/internal/core"
)

func volumeCommand() *cobra.Command {
	var step int

	cmd := &cobra.Command{
		Use:     "volume [player] <0..100|+n|-n|up|down>",
		Aliases: []string{"vol"},
		Short:   "Set or adjust volume",
		Long:    "Set or adjust volume. Negative steps need \"--\", e.g. squeezectl volume -- -5.",
		Args:    cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			selector := ""
			arg := args[len(args)-1]
			if len(args) == 2 {
				selector = args[0]
			}
			value, err := volumeValue(arg, step)
			if err != nil {
				return err
			}
			return runControl(cmd, selector, core.Command{Type: "volume", Value: value})
		},
	}
	cmd.Flags().IntVar(&step, "step", 5, "step for up and down")
	return cmd
}

// volumeValue maps the CLI volume argument onto a volume command value.
func volumeValue(arg string, step int) (string, error) {
	switch strings.ToLower(arg) {
	case "up":
		return fmt.Sprintf("+%d", step), nil
	case "down":
		return fmt.Sprintf("-%d", step), nil
	}
	if !looksLikeVolume(arg) {
		return "", &core.CLIError{Code: core.ExitUsage, Msg: fmt.Sprintf("invalid volume %q", arg)}
	}
	return arg, nil
}

func looksLikeVolume(arg string) bool {
	if arg == "" {
		return false
	}
	if strings.HasPrefix(arg, "+") || strings.HasPrefix(arg, "-") {
		arg = arg[1:]
	}
	if arg == "" {
		return false
	}
	for _, r := range arg {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
