package session

import (
	"github.com/bradfitz/android-squeezer-sub002/pkg/slim"
	"go.uber.org/zap"
)

// Listener receives session events. Nil fields are skipped. Callbacks run on
// the goroutine that observed the event, usually the connection reader, and
// must not block.
type Listener struct {
	// Connection reports connection transitions. postConnect is true once the
	// handshake has been answered and the session is fully usable. It must
	// not call Connect or Disconnect.
	Connection          func(connected, postConnect bool)
	MusicChanged        func(PlayerState)
	TimeChanged         func(secondsIn, secondsTotal int)
	PlayStatusChanged   func(playing bool)
	VolumeChanged       func(volume int)
	PowerChanged        func(on bool)
	ActivePlayerChanged func(slim.Player)
	// StateChanged receives the full snapshot after any of the changes above.
	StateChanged func(PlayerState)
}

// AddListener registers l and returns a function that removes it.
func (s *Session) AddListener(l Listener) func() {
	s.listenersMu.Lock()
	s.nextListener++
	id := s.nextListener
	s.listeners[id] = l
	s.listenersMu.Unlock()

	return func() {
		s.listenersMu.Lock()
		delete(s.listeners, id)
		s.listenersMu.Unlock()
	}
}

func (s *Session) snapshotListeners() []Listener {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	out := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		out = append(out, l)
	}
	return out
}

func (s *Session) fireConnection(connected, postConnect bool) {
	for _, l := range s.snapshotListeners() {
		if l.Connection == nil {
			continue
		}
		s.safeCall("connection", func() { l.Connection(connected, postConnect) })
	}
}

func (s *Session) fireActivePlayer(p slim.Player) {
	for _, l := range s.snapshotListeners() {
		if l.ActivePlayerChanged == nil {
			continue
		}
		s.safeCall("active_player", func() { l.ActivePlayerChanged(p) })
	}
}

// publish fans a state change out to the matching callbacks.
func (s *Session) publish(st PlayerState, c changes) {
	if !c.any() {
		return
	}
	secondsIn := int(st.ElapsedAt(s.clock.Now()))
	secondsTotal := int(st.Duration)
	for _, l := range s.snapshotListeners() {
		if c.music && l.MusicChanged != nil {
			s.safeCall("music", func() { l.MusicChanged(st) })
		}
		if c.time && l.TimeChanged != nil {
			s.safeCall("time", func() { l.TimeChanged(secondsIn, secondsTotal) })
		}
		if c.status && l.PlayStatusChanged != nil {
			s.safeCall("play_status", func() { l.PlayStatusChanged(st.Playing()) })
		}
		if c.volume && l.VolumeChanged != nil {
			s.safeCall("volume", func() { l.VolumeChanged(st.Volume) })
		}
		if c.power && l.PowerChanged != nil {
			s.safeCall("power", func() { l.PowerChanged(st.Power) })
		}
		if l.StateChanged != nil {
			s.safeCall("state", func() { l.StateChanged(st) })
		}
	}
}

func (s *Session) safeCall(event string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("listener panicked", zap.String("event", event), zap.Any("panic", r))
		}
	}()
	fn()
}
