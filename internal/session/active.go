package session

import (
	"github.com/bradfitz/android-squeezer-sub002/pkg/slim"
	"go.uber.org/zap"
)

// statusTags selects the track fields carried by status notifications.
const statusTags = "aAdlKtxyJ"

// ActivePlayer returns the selected player.
func (s *Session) ActivePlayer() (slim.Player, bool) {
	st, ok := s.player.snapshot()
	return st.Player, ok
}

// PlayerState returns a snapshot of the active player's state.
func (s *Session) PlayerState() (PlayerState, bool) {
	return s.player.snapshot()
}

// SetActivePlayer makes p the player that status notifications and player
// commands refer to, and remembers it for the next connection.
func (s *Session) SetActivePlayer(p slim.Player) {
	prev, changed := s.player.setPlayer(p)
	if !changed {
		return
	}
	s.log.Info("active player changed", zap.String("player", p.ID), zap.String("name", p.Name))

	if prev != "" {
		s.sendBatch(slim.CommandLine(prev, "status", "-", "1", "subscribe:-"))
	}
	s.sendBatch(slim.CommandLine(p.ID, "status", "-", "1", "subscribe:1", slim.Param("tags", statusTags)))

	s.mu.Lock()
	s.remembered = p.ID
	s.mu.Unlock()
	if s.store != nil {
		go s.saveLastPlayer()
	}

	s.fireActivePlayer(p)
}

// saveLastPlayer stores the most recently selected player. Saves run in
// the background and may finish out of order, so each writes the latest id.
func (s *Session) saveLastPlayer() {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	s.mu.Lock()
	id := s.remembered
	s.mu.Unlock()
	if err := s.store.SetLastPlayer(id); err != nil {
		s.log.Warn("cannot save last player", zap.String("player", id), zap.Error(err))
	}
}

// playersReceived selects a player as the player list arrives: the remembered
// player if present, otherwise the first player once the list is complete.
func (s *Session) playersReceived(start, count int, records []slim.Record) {
	activeID := s.player.id()

	s.mu.Lock()
	remembered := s.remembered
	if start == 0 {
		s.fallback = nil
	}
	if s.fallback == nil && len(records) > 0 {
		first := slim.NewPlayer(records[0])
		s.fallback = &first
	}
	fallback := s.fallback
	s.mu.Unlock()

	for _, rec := range records {
		p := slim.NewPlayer(rec)
		if activeID != "" && p.ID == activeID {
			// refresh name and connection flags
			s.player.setPlayer(p)
			return
		}
		if activeID == "" && remembered != "" && p.ID == remembered {
			s.SetActivePlayer(p)
			return
		}
	}

	final := start+len(records) >= count
	if activeID == "" && final && fallback != nil {
		s.SetActivePlayer(*fallback)
	}
}
