package session

import (
	"bufio"
	"errors"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/bradfitz/android-squeezer-sub002/pkg/slim"
	"go.uber.org/zap"
)

// maxLineSize bounds a single server line; long list pages can be large.
const maxLineSize = 4 << 20

type handler func(tokens []string)

// handlerTables map command words to handlers. Lookup order is global,
// prefixed, player specific, then prefixed player specific.
type handlerTables struct {
	global         map[string]handler
	prefixed       map[string]handler
	player         map[string]handler
	prefixedPlayer map[string]handler
}

func newHandlerTables(s *Session) handlerTables {
	t := handlerTables{
		global:         map[string]handler{},
		prefixed:       map[string]handler{},
		player:         map[string]handler{},
		prefixedPlayer: map[string]handler{},
	}
	for _, q := range slim.Queries() {
		q := q
		h := func(tokens []string) { s.handleQueryReply(q, tokens) }
		switch {
		case q.PlayerSpecific && q.Prefixed:
			t.prefixedPlayer[q.Name] = h
		case q.PlayerSpecific:
			t.player[q.Name] = h
		case q.Prefixed:
			t.prefixed[q.Name] = h
		default:
			t.global[q.Name] = h
		}
	}

	t.global["pref httpport"] = s.handleHTTPPort
	t.global["can"] = s.handleCan
	t.global["version"] = s.handleVersion

	t.prefixed["client"] = s.handleClient

	t.player["status"] = s.handleStatus
	t.player["playlist"] = s.handlePlaylist
	t.player["mixer"] = s.handleMixer
	t.player["prefset"] = s.handlePrefset
	t.player["power"] = s.handlePower
	t.player["play"] = s.handlePlay
	t.player["pause"] = s.handlePause
	t.player["stop"] = s.handleStop
	t.player["time"] = s.handleTime
	return t
}

// lookup finds the handler for the command at tokens[at], preferring a
// two-word command.
func lookup(table map[string]handler, tokens []string, at int) (handler, bool) {
	if len(tokens) <= at {
		return nil, false
	}
	if len(tokens) > at+1 {
		if h, ok := table[tokens[at]+" "+tokens[at+1]]; ok {
			return h, true
		}
	}
	h, ok := table[tokens[at]]
	return h, ok
}

func (s *Session) readLoop(conn net.Conn, gen uint64) {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		if !s.isCurrent(gen) {
			return
		}
		s.handleLine(scanner.Text())
	}
	err := scanner.Err()
	if err == nil {
		err = errors.New("server closed connection")
	}
	s.connectionLost(gen, err)
}

func (s *Session) handleLine(line string) {
	tokens := slim.Tokens(line)
	if len(tokens) == 0 {
		return
	}
	if ce := s.log.Check(zap.DebugLevel, "cli recv"); ce != nil {
		ce.Write(zap.String("line", line))
	}

	if h, ok := lookup(s.tables.global, tokens, 0); ok {
		h(tokens)
		return
	}
	if h, ok := lookup(s.tables.prefixed, tokens, 1); ok {
		h(tokens)
		return
	}

	active := s.player.id()
	if active == "" {
		return
	}
	if id, err := slim.Unescape(tokens[0]); err != nil || id != active {
		return
	}
	if h, ok := lookup(s.tables.player, tokens, 1); ok {
		h(tokens)
		return
	}
	if h, ok := lookup(s.tables.prefixedPlayer, tokens, 2); ok {
		h(tokens)
		return
	}
	s.log.Debug("unhandled line", zap.String("command", tokens[min(1, len(tokens)-1)]))
}

// arg returns the unescaped positional token i, or "".
func arg(tokens []string, i int) string {
	if i >= len(tokens) {
		return ""
	}
	v, err := slim.Unescape(tokens[i])
	if err != nil {
		return ""
	}
	return v
}

func (s *Session) handleHTTPPort(tokens []string) {
	port, err := strconv.Atoi(arg(tokens, 2))
	if err != nil {
		s.log.Warn("bad httpport reply", zap.Strings("tokens", tokens))
		return
	}
	s.mu.Lock()
	s.httpPort = port
	s.mu.Unlock()
	s.log.Info("handshake complete", zap.Int("http_port", port))
	s.fireConnection(true, true)
}

func (s *Session) handleCan(tokens []string) {
	name := arg(tokens, 1)
	if name == "" {
		return
	}
	s.mu.Lock()
	s.caps[name] = arg(tokens, 2) == "1"
	s.mu.Unlock()
}

func (s *Session) handleVersion(tokens []string) {
	v := arg(tokens, 1)
	if v == "?" {
		return
	}
	s.mu.Lock()
	s.version = v
	s.mu.Unlock()
}

// handleClient refreshes the player list when a player appears or goes away.
func (s *Session) handleClient(tokens []string) {
	s.log.Debug("player list changed", zap.String("player", arg(tokens, 0)), zap.String("event", arg(tokens, 2)))
	s.Fetch(Query{Command: "players", All: true}, 0)
}

func (s *Session) handleStatus(tokens []string) {
	st, err := slim.ParseStatus(tokens)
	if err != nil {
		s.log.Warn("dropping malformed status", zap.Error(err))
		return
	}
	state, c := s.player.applyStatus(st)
	s.publish(state, c)
	s.releaseStatusWaiters(state)
}

func (s *Session) requestStatus() {
	id := s.player.id()
	if id == "" {
		return
	}
	s.sendBatch(slim.CommandLine(id, "status", "-", "1", slim.Param("tags", statusTags)))
}

func (s *Session) handlePlaylist(tokens []string) {
	switch sub := arg(tokens, 2); sub {
	case "shuffle":
		if mode, err := ParseShuffle(arg(tokens, 3)); err == nil {
			s.update(func(st *PlayerState, _ time.Time) { st.Shuffle = mode })
		}
	case "repeat":
		if mode, err := ParseRepeat(arg(tokens, 3)); err == nil {
			s.update(func(st *PlayerState, _ time.Time) { st.Repeat = mode })
		}
	case "pause":
		paused := arg(tokens, 3) == "1"
		s.update(func(st *PlayerState, now time.Time) { setPaused(st, paused, now) })
	case "stop":
		s.update(func(st *PlayerState, now time.Time) { setStatus(st, PlayStatusStopped, now) })
	default:
		// newsong, jump, load, clear and the rest change the queue
		s.requestStatus()
	}
}

// setStatus changes the transport state, pinning the position first so the
// extrapolated time does not jump.
func setStatus(st *PlayerState, status PlayStatus, now time.Time) {
	st.Elapsed = st.ElapsedAt(now)
	st.ObservedAt = now
	st.Status = status
}

func setPaused(st *PlayerState, paused bool, now time.Time) {
	if paused {
		setStatus(st, PlayStatusPaused, now)
	} else {
		setStatus(st, PlayStatusPlaying, now)
	}
}

func (s *Session) handleMixer(tokens []string) {
	if arg(tokens, 2) != "volume" {
		return
	}
	v := arg(tokens, 3)
	if strings.HasPrefix(v, "+") || strings.HasPrefix(v, "-") {
		s.requestStatus()
		return
	}
	if vol, err := parseVolume(v); err == nil {
		s.update(func(st *PlayerState, _ time.Time) { st.Volume = vol })
	}
}

// handlePrefset tracks "prefset server volume|power <value>".
func (s *Session) handlePrefset(tokens []string) {
	if arg(tokens, 2) != "server" {
		return
	}
	v := arg(tokens, 4)
	switch arg(tokens, 3) {
	case "volume":
		if vol, err := parseVolume(v); err == nil {
			s.update(func(st *PlayerState, _ time.Time) { st.Volume = vol })
		}
	case "power":
		s.update(func(st *PlayerState, _ time.Time) { st.Power = v == "1" })
	}
}

func (s *Session) handlePower(tokens []string) {
	v := arg(tokens, 2)
	if v != "0" && v != "1" {
		return
	}
	s.update(func(st *PlayerState, _ time.Time) { st.Power = v == "1" })
}

func (s *Session) handlePlay(_ []string) {
	s.update(func(st *PlayerState, now time.Time) { setStatus(st, PlayStatusPlaying, now) })
}

func (s *Session) handlePause(tokens []string) {
	switch arg(tokens, 2) {
	case "1":
		s.update(func(st *PlayerState, now time.Time) { setPaused(st, true, now) })
	case "0":
		s.update(func(st *PlayerState, now time.Time) { setPaused(st, false, now) })
	default:
		s.requestStatus()
	}
}

func (s *Session) handleStop(_ []string) {
	s.update(func(st *PlayerState, now time.Time) { setStatus(st, PlayStatusStopped, now) })
}

func (s *Session) handleTime(tokens []string) {
	v := arg(tokens, 2)
	if v == "" || v == "?" || strings.HasPrefix(v, "+") || strings.HasPrefix(v, "-") {
		s.requestStatus()
		return
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return
	}
	s.update(func(st *PlayerState, now time.Time) {
		st.Elapsed = secs
		st.ObservedAt = now
	})
}

// update applies fn to the active player and notifies listeners.
func (s *Session) update(fn func(st *PlayerState, now time.Time)) {
	state, c := s.player.apply(fn)
	s.publish(state, c)
}
