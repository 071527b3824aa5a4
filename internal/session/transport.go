package session

import (
	"fmt"
	"strconv"
	"time"

	"github.com/bradfitz/android-squeezer-sub002/pkg/slim"
)

// PlaylistAction is the cmd of a playlistcontrol request.
type PlaylistAction string

const (
	PlaylistLoad   PlaylistAction = "load"
	PlaylistAdd    PlaylistAction = "add"
	PlaylistInsert PlaylistAction = "insert"
	PlaylistDelete PlaylistAction = "delete"
)

// playerCommand sends words to the active player. It reports false when
// nothing was sent.
func (s *Session) playerCommand(words ...string) bool {
	id := s.player.id()
	if id == "" || !s.Connected() {
		return false
	}
	return s.send(slim.CommandLine(id, words...))
}

// Play starts playback on the active player.
func (s *Session) Play() bool { return s.playerCommand("play") }

// Pause pauses playback. It does not resume a paused player.
func (s *Session) Pause() bool { return s.playerCommand("pause", "1") }

// Stop stops playback.
func (s *Session) Stop() bool { return s.playerCommand("stop") }

// TogglePausePlay pauses a playing player and resumes a paused one.
func (s *Session) TogglePausePlay() bool { return s.playerCommand("pause") }

// NextTrack skips to the next playlist entry.
func (s *Session) NextTrack() bool { return s.playerCommand("playlist", "index", "+1") }

// PreviousTrack goes back one playlist entry.
func (s *Session) PreviousTrack() bool { return s.playerCommand("playlist", "index", "-1") }

// PlaylistIndex jumps to the track at index in the current playlist.
func (s *Session) PlaylistIndex(index int) bool {
	return s.playerCommand("playlist", "index", strconv.Itoa(index))
}

// PlaylistMove moves the track at from to position to.
func (s *Session) PlaylistMove(from, to int) bool {
	return s.playerCommand("playlist", "move", strconv.Itoa(from), strconv.Itoa(to))
}

// PlaylistRemove deletes the track at index from the current playlist.
func (s *Session) PlaylistRemove(index int) bool {
	return s.playerCommand("playlist", "delete", strconv.Itoa(index))
}

// AdjustVolumeBy changes the volume relative to its current value.
func (s *Session) AdjustVolumeBy(delta int) bool {
	if delta == 0 {
		return false
	}
	return s.playerCommand("mixer", "volume", fmt.Sprintf("%+d", delta))
}

// SetVolume sets the absolute volume, clamped to 0..100.
func (s *Session) SetVolume(volume int) bool {
	volume = max(0, min(100, volume))
	return s.playerCommand("mixer", "volume", strconv.Itoa(volume))
}

// SetSecondsElapsed seeks within the current track. The local position is
// updated immediately so extrapolation continues from the new point.
func (s *Session) SetSecondsElapsed(seconds int) bool {
	if seconds < 0 {
		return false
	}
	if !s.playerCommand("time", strconv.Itoa(seconds)) {
		return false
	}
	s.update(func(st *PlayerState, now time.Time) {
		st.Elapsed = float64(seconds)
		st.ObservedAt = now
	})
	return true
}

// SetPower switches the player on or off.
func (s *Session) SetPower(on bool) bool {
	v := "0"
	if on {
		v = "1"
	}
	return s.playerCommand("power", v)
}

// SetShuffle sets the playlist shuffle mode.
func (s *Session) SetShuffle(mode ShuffleMode) bool {
	return s.playerCommand("playlist", "shuffle", strconv.Itoa(int(mode)))
}

// SetRepeat sets the playlist repeat mode.
func (s *Session) SetRepeat(mode RepeatMode) bool {
	return s.playerCommand("playlist", "repeat", strconv.Itoa(int(mode)))
}

// Sleep sets the sleep timer. Zero cancels it.
func (s *Session) Sleep(d time.Duration) bool {
	if d < 0 {
		return false
	}
	return s.playerCommand("sleep", strconv.Itoa(int(d.Seconds())))
}

// PlaylistControl loads, adds, inserts or deletes library items in the
// current playlist. key names the item kind, e.g. "album_id" or "track_id".
func (s *Session) PlaylistControl(action PlaylistAction, key, id string) bool {
	if key == "" || id == "" {
		return false
	}
	return s.playerCommand("playlistcontrol", slim.Param("cmd", string(action)), slim.Param(key, id))
}
