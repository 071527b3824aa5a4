package session

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bradfitz/android-squeezer-sub002/internal/ports"
	"github.com/bradfitz/android-squeezer-sub002/pkg/slim"
	"go.uber.org/zap"
)

// PlayStatus is the transport state of a player.
type PlayStatus int

const (
	PlayStatusStopped PlayStatus = iota
	PlayStatusPlaying
	PlayStatusPaused
)

func (p PlayStatus) String() string {
	switch p {
	case PlayStatusPlaying:
		return "play"
	case PlayStatusPaused:
		return "pause"
	default:
		return "stop"
	}
}

// ParsePlayStatus decodes a status "mode" value.
func ParsePlayStatus(mode string) (PlayStatus, error) {
	switch mode {
	case "play":
		return PlayStatusPlaying, nil
	case "pause":
		return PlayStatusPaused, nil
	case "stop":
		return PlayStatusStopped, nil
	}
	return PlayStatusStopped, fmt.Errorf("unknown play status %q", mode)
}

// ShuffleMode is the playlist shuffle setting.
type ShuffleMode int

const (
	ShuffleOff ShuffleMode = iota
	ShuffleSongs
	ShuffleAlbums
)

func (m ShuffleMode) String() string {
	switch m {
	case ShuffleSongs:
		return "songs"
	case ShuffleAlbums:
		return "albums"
	default:
		return "off"
	}
}

// ParseShuffle decodes the server's numeric shuffle code.
func ParseShuffle(code string) (ShuffleMode, error) {
	n, err := strconv.Atoi(code)
	if err != nil || n < int(ShuffleOff) || n > int(ShuffleAlbums) {
		return ShuffleOff, fmt.Errorf("unknown shuffle mode %q", code)
	}
	return ShuffleMode(n), nil
}

// RepeatMode is the playlist repeat setting.
type RepeatMode int

const (
	RepeatOff RepeatMode = iota
	RepeatSong
	RepeatPlaylist
)

func (m RepeatMode) String() string {
	switch m {
	case RepeatSong:
		return "song"
	case RepeatPlaylist:
		return "playlist"
	default:
		return "off"
	}
}

// ParseRepeat decodes the server's numeric repeat code.
func ParseRepeat(code string) (RepeatMode, error) {
	n, err := strconv.Atoi(code)
	if err != nil || n < int(RepeatOff) || n > int(RepeatPlaylist) {
		return RepeatOff, fmt.Errorf("unknown repeat mode %q", code)
	}
	return RepeatMode(n), nil
}

// PlayerState is a snapshot of the active player.
type PlayerState struct {
	Player          slim.Player `json:"player"`
	Status          PlayStatus  `json:"status"`
	Power           bool        `json:"power"`
	Shuffle         ShuffleMode `json:"shuffle"`
	Repeat          RepeatMode  `json:"repeat"`
	Current         *slim.Song  `json:"current,omitempty"`
	PlaylistName    string      `json:"playlistName,omitempty"`
	PlaylistIndex   int         `json:"playlistIndex"`
	PlaylistTracks  int         `json:"playlistTracks"`
	Elapsed         float64     `json:"elapsed"`
	ObservedAt      time.Time   `json:"observedAt"`
	Duration        float64     `json:"duration"`
	Volume          int         `json:"volume"`
	SleepDuration   float64     `json:"sleepDuration,omitempty"`
	SleepRemaining  float64     `json:"sleepRemaining,omitempty"`
	SleepObservedAt time.Time   `json:"sleepObservedAt,omitempty"`
	SyncMaster      string      `json:"syncMaster,omitempty"`
	SyncSlaves      []string    `json:"syncSlaves,omitempty"`
}

// Playing reports whether the player is playing.
func (p PlayerState) Playing() bool {
	return p.Status == PlayStatusPlaying
}

// ElapsedAt extrapolates the track position to now from the last snapshot.
func (p PlayerState) ElapsedAt(now time.Time) float64 {
	rate := 0.0
	if p.Playing() {
		rate = 1
	}
	v := p.Elapsed + rate*now.Sub(p.ObservedAt).Seconds()
	if v < 0 {
		v = 0
	}
	if p.Duration > 0 && v > p.Duration {
		v = p.Duration
	}
	return v
}

// SleepingIn returns the seconds left on the sleep timer at now. The server
// timer runs on wall-clock time, so it counts down whether or not the player
// is playing.
func (p PlayerState) SleepingIn(now time.Time) float64 {
	if p.SleepRemaining <= 0 {
		return 0
	}
	return math.Max(0, p.SleepRemaining-now.Sub(p.SleepObservedAt).Seconds())
}

func (p PlayerState) currentID() string {
	if p.Current == nil {
		return ""
	}
	return p.Current.ID
}

// timeChangeThreshold is the smallest position jump reported as a time change.
const timeChangeThreshold = 1.0

type changes struct {
	music  bool
	time   bool
	status bool
	volume bool
	power  bool
}

func (c changes) any() bool {
	return c.music || c.time || c.status || c.volume || c.power
}

func diff(prev, next PlayerState, now time.Time) changes {
	c := changes{
		music:  prev.currentID() != next.currentID(),
		status: prev.Status != next.Status,
		volume: prev.Volume != next.Volume,
		power:  prev.Power != next.Power,
	}
	moved := math.Abs(next.ElapsedAt(now)-prev.ElapsedAt(now)) >= timeChangeThreshold
	c.time = c.music || moved || prev.Duration != next.Duration
	return c
}

// playerTracker owns the state of the active player.
type playerTracker struct {
	log   *zap.Logger
	clock ports.Clock

	mu     sync.RWMutex
	state  PlayerState
	active bool
}

func newPlayerTracker(log *zap.Logger, clock ports.Clock) *playerTracker {
	return &playerTracker{log: log, clock: clock}
}

func (t *playerTracker) snapshot() (PlayerState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st := t.state
	st.SyncSlaves = append([]string(nil), t.state.SyncSlaves...)
	return st, t.active
}

func (t *playerTracker) id() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.active {
		return ""
	}
	return t.state.Player.ID
}

// setPlayer selects p, resetting state when the player changes.
// It returns the previously active id and whether the selection changed.
func (t *playerTracker) setPlayer(p slim.Player) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev := ""
	if t.active {
		prev = t.state.Player.ID
	}
	if prev == p.ID {
		t.state.Player = p
		return prev, false
	}
	t.state = PlayerState{Player: p, ObservedAt: t.clock.Now()}
	t.active = true
	return prev, true
}

func (t *playerTracker) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = PlayerState{}
	t.active = false
}

// apply mutates a copy of the state and reports what changed.
func (t *playerTracker) apply(fn func(st *PlayerState, now time.Time)) (PlayerState, changes) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active {
		return PlayerState{}, changes{}
	}
	now := t.clock.Now()
	prev := t.state
	next := prev
	next.SyncSlaves = append([]string(nil), prev.SyncSlaves...)
	fn(&next, now)
	t.state = next
	return next, diff(prev, next, now)
}

func (t *playerTracker) applyStatus(st slim.Status) (PlayerState, changes) {
	return t.apply(func(ps *PlayerState, now time.Time) {
		t.updateFromStatus(ps, st, now)
	})
}

func (t *playerTracker) updateFromStatus(ps *PlayerState, st slim.Status, now time.Time) {
	p := st.Params
	if v, ok := p["player_name"]; ok {
		ps.Player.Name = v
	}
	if v, ok := p["player_connected"]; ok {
		ps.Player.Connected = v == "1"
	}
	if v, ok := p["mode"]; ok {
		if mode, err := ParsePlayStatus(v); err == nil {
			if _, hasTime := p["time"]; !hasTime {
				ps.Elapsed = ps.ElapsedAt(now)
				ps.ObservedAt = now
			}
			ps.Status = mode
		} else {
			t.log.Warn("keeping play status", zap.Error(err))
		}
	}
	if v, ok := p["power"]; ok {
		ps.Power = v == "1"
	}
	if v, ok := p["playlist shuffle"]; ok {
		if mode, err := ParseShuffle(v); err == nil {
			ps.Shuffle = mode
		} else {
			t.log.Warn("keeping shuffle mode", zap.Error(err))
		}
	}
	if v, ok := p["playlist repeat"]; ok {
		if mode, err := ParseRepeat(v); err == nil {
			ps.Repeat = mode
		} else {
			t.log.Warn("keeping repeat mode", zap.Error(err))
		}
	}
	if v, ok := p["mixer volume"]; ok {
		if vol, err := parseVolume(v); err == nil {
			ps.Volume = vol
		}
	}
	if v, ok := p["playlist_cur_index"]; ok {
		ps.PlaylistIndex = atoi(v)
	}
	if v, ok := p["playlist_tracks"]; ok {
		ps.PlaylistTracks = atoi(v)
	}
	ps.PlaylistName = p["playlist_name"]
	if v, ok := p["duration"]; ok {
		ps.Duration = atof(v)
	}
	if v, ok := p["time"]; ok {
		ps.Elapsed = atof(v)
		ps.ObservedAt = now
	}
	if v, ok := p["will_sleep_in"]; ok {
		ps.SleepRemaining = atof(v)
		ps.SleepObservedAt = now
	} else {
		ps.SleepRemaining = 0
	}
	ps.SleepDuration = atof(p["sleep"])
	ps.SyncMaster = p["sync_master"]
	ps.SyncSlaves = nil
	if v := p["sync_slaves"]; v != "" {
		ps.SyncSlaves = strings.Split(v, ",")
	}

	if track, ok := st.CurrentTrack(); ok {
		song := slim.NewSong(track)
		ps.Current = &song
		if _, ok := p["duration"]; !ok {
			ps.Duration = song.Duration
		}
	} else if ps.PlaylistTracks == 0 {
		ps.Current = nil
		ps.Duration = 0
	}
}

func parseVolume(v string) (int, error) {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, err
	}
	return int(math.Round(f)), nil
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func atof(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
