package core

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/bradfitz/android-squeezer-sub002/internal/session"
)

// ErrNotSent reports a player command that could not be written.
var ErrNotSent = errors.New("not connected or no active player")

// Transport is the player control surface commands are applied to.
type Transport interface {
	Play() bool
	Pause() bool
	Stop() bool
	TogglePausePlay() bool
	NextTrack() bool
	PreviousTrack() bool
	PlaylistIndex(index int) bool
	AdjustVolumeBy(delta int) bool
	SetVolume(volume int) bool
	SetSecondsElapsed(seconds int) bool
	SetPower(on bool) bool
	SetShuffle(mode session.ShuffleMode) bool
	SetRepeat(mode session.RepeatMode) bool
	Sleep(d time.Duration) bool
}

// Command is a named player command with an optional argument, shared by the
// CLI and the MQTT bridge.
type Command struct {
	Type  string
	Value string
}

// CommandTypes lists the command names Apply understands.
var CommandTypes = []string{
	"play", "pause", "stop", "toggle", "next", "prev", "index",
	"volume", "seek", "power", "shuffle", "repeat", "sleep",
}

// Apply runs cmd against t.
func Apply(t Transport, cmd Command) error {
	value := strings.TrimSpace(cmd.Value)
	var sent bool
	switch strings.ToLower(cmd.Type) {
	case "play":
		sent = t.Play()
	case "pause":
		sent = t.Pause()
	case "stop":
		sent = t.Stop()
	case "toggle":
		sent = t.TogglePausePlay()
	case "next":
		sent = t.NextTrack()
	case "prev", "previous":
		sent = t.PreviousTrack()
	case "index":
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return &CLIError{Code: ExitUsage, Msg: fmt.Sprintf("invalid playlist index %q", value)}
		}
		sent = t.PlaylistIndex(n)
	case "volume":
		n, err := strconv.Atoi(value)
		if err != nil {
			return &CLIError{Code: ExitUsage, Msg: fmt.Sprintf("invalid volume %q", value)}
		}
		if strings.HasPrefix(value, "+") || strings.HasPrefix(value, "-") {
			if n == 0 {
				return &CLIError{Code: ExitUsage, Msg: fmt.Sprintf("volume change %q does nothing", value)}
			}
			sent = t.AdjustVolumeBy(n)
		} else {
			sent = t.SetVolume(n)
		}
	case "seek":
		secs, err := strconv.ParseFloat(value, 64)
		if err != nil || secs < 0 {
			return &CLIError{Code: ExitUsage, Msg: fmt.Sprintf("invalid position %q", value)}
		}
		sent = t.SetSecondsElapsed(int(math.Round(secs)))
	case "power":
		on, err := parseOnOff(value)
		if err != nil {
			return err
		}
		sent = t.SetPower(on)
	case "shuffle":
		mode, err := parseShuffle(value)
		if err != nil {
			return err
		}
		sent = t.SetShuffle(mode)
	case "repeat":
		mode, err := parseRepeat(value)
		if err != nil {
			return err
		}
		sent = t.SetRepeat(mode)
	case "sleep":
		d, err := parseSleep(value)
		if err != nil {
			return err
		}
		sent = t.Sleep(d)
	default:
		return &CLIError{Code: ExitUsage, Msg: fmt.Sprintf("unknown command %q", cmd.Type)}
	}
	if !sent {
		return WrapError(ExitConnect, cmd.Type+" not sent", ErrNotSent)
	}
	return nil
}

func parseOnOff(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "on", "1", "true":
		return true, nil
	case "off", "0", "false":
		return false, nil
	}
	return false, &CLIError{Code: ExitUsage, Msg: fmt.Sprintf("expected on or off, got %q", v)}
}

func parseShuffle(v string) (session.ShuffleMode, error) {
	for _, m := range []session.ShuffleMode{session.ShuffleOff, session.ShuffleSongs, session.ShuffleAlbums} {
		if strings.EqualFold(v, m.String()) {
			return m, nil
		}
	}
	if m, err := session.ParseShuffle(v); err == nil {
		return m, nil
	}
	return session.ShuffleOff, &CLIError{Code: ExitUsage, Msg: fmt.Sprintf("invalid shuffle mode %q", v)}
}

func parseRepeat(v string) (session.RepeatMode, error) {
	for _, m := range []session.RepeatMode{session.RepeatOff, session.RepeatSong, session.RepeatPlaylist} {
		if strings.EqualFold(v, m.String()) {
			return m, nil
		}
	}
	if m, err := session.ParseRepeat(v); err == nil {
		return m, nil
	}
	return session.RepeatOff, &CLIError{Code: ExitUsage, Msg: fmt.Sprintf("invalid repeat mode %q", v)}
}

// parseSleep accepts a Go duration ("15m") or plain seconds.
func parseSleep(v string) (time.Duration, error) {
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, nil
	}
	if d, err := time.ParseDuration(v); err == nil && d >= 0 {
		return d, nil
	}
	return 0, &CLIError{Code: ExitUsage, Msg: fmt.Sprintf("invalid sleep duration %q", v)}
}
