package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bradfitz/android-squeezer-sub002/internal/adapters/clock"
	"github.com/bradfitz/android-squeezer-sub002/internal/ports"
	"github.com/bradfitz/android-squeezer-sub002/pkg/slim"
	"go.uber.org/zap"
)

const (
	// DefaultPageSize is the number of items requested per list page.
	DefaultPageSize = 20
	// DefaultConnectTimeout bounds the TCP connect.
	DefaultConnectTimeout = 4 * time.Second
)

var (
	// ErrNotConnected is returned when no connection is live.
	ErrNotConnected = errors.New("not connected")
	// ErrNoPlayer is returned when a player command has no active player.
	ErrNoPlayer = errors.New("no active player")
	// ErrSuperseded is returned by a connect that a newer connect or disconnect replaced.
	ErrSuperseded = errors.New("connection attempt superseded")
)

// State is the connection state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Options configures a Session.
type Options struct {
	Logger         *zap.Logger
	Clock          ports.Clock
	Dialer         ports.Dialer
	Players        ports.PlayerStore
	PageSize       int
	ConnectTimeout time.Duration
}

// Session owns one CLI connection to a server and everything layered on it:
// correlation ids, list subscriptions and the active player's state.
type Session struct {
	log            *zap.Logger
	clock          ports.Clock
	dialer         ports.Dialer
	store          ports.PlayerStore
	pageSize       int
	connectTimeout time.Duration

	tracker  *Tracker
	dispatch *dispatcher
	player   *playerTracker
	tables   handlerTables

	mu         sync.Mutex
	gen        uint64
	conn       net.Conn
	state      State
	host       string
	cliPort    int
	httpPort   int
	version    string
	caps       map[string]bool
	remembered string
	fallback   *slim.Player
	// lostFired closes once the reader that claimed the last disconnect has
	// notified listeners.
	lostFired chan struct{}

	// writeMu serializes outbound lines so batches are never interleaved.
	writeMu sync.Mutex

	fetchMu  sync.Mutex
	fetchAll map[string]bool

	saveMu sync.Mutex

	waitMu        sync.Mutex
	statusWaiters []chan PlayerState

	listenersMu  sync.Mutex
	listeners    map[uint64]Listener
	nextListener uint64
}

// New creates a disconnected session.
func New(opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = clock.Clock{}
	}
	if opts.Dialer == nil {
		opts.Dialer = &net.Dialer{}
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}

	log := opts.Logger.With(zap.String("module", "session"))
	tracker := NewTracker()
	s := &Session{
		log:            log,
		clock:          opts.Clock,
		dialer:         opts.Dialer,
		store:          opts.Players,
		pageSize:       opts.PageSize,
		connectTimeout: opts.ConnectTimeout,
		tracker:        tracker,
		dispatch:       newDispatcher(log, tracker),
		player:         newPlayerTracker(log, opts.Clock),
		caps:           map[string]bool{},
		fetchAll:       map[string]bool{},
		listeners:      map[uint64]Listener{},
	}
	s.tables = newHandlerTables(s)
	return s
}

// ParseAddress parses user-entered "host[:port]" text, tolerating a URL scheme,
// a trailing slash and surrounding whitespace.
func ParseAddress(hostPort string) (string, int, error) {
	addr := strings.TrimSpace(hostPort)
	if idx := strings.Index(addr, "://"); idx >= 0 {
		addr = addr[idx+3:]
	}
	addr = strings.TrimRight(addr, "/")
	if addr == "" {
		return "", 0, errors.New("server address required")
	}

	host, portText, err := net.SplitHostPort(addr)
	if err != nil {
		// no port given
		return strings.Trim(addr, "[]"), slim.DefaultPort, nil
	}
	if portText == "" {
		return host, slim.DefaultPort, nil
	}
	port, err := strconv.Atoi(portText)
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, fmt.Errorf("invalid port %q", portText)
	}
	return host, port, nil
}

// Connect replaces any current connection with one to hostPort. It returns once
// the socket is open and the handshake has been sent.
func (s *Session) Connect(ctx context.Context, hostPort string) error {
	host, port, err := ParseAddress(hostPort)
	if err != nil {
		return err
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	s.mu.Lock()
	s.gen++
	gen := s.gen
	old := s.conn
	wasConnected := s.state == StateConnected
	s.conn = nil
	s.state = StateConnecting
	s.host, s.cliPort, s.httpPort = host, port, 0
	s.version = ""
	s.caps = map[string]bool{}
	s.fallback = nil
	pending := s.lostFired
	s.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	waitFired(pending)
	s.player.reset()
	if wasConnected {
		s.fireConnection(false, false)
	}
	s.loadRememberedPlayer()

	s.log.Info("connecting", zap.String("addr", addr), zap.Uint64("generation", gen))
	dialCtx, cancel := context.WithTimeout(ctx, s.connectTimeout)
	defer cancel()
	conn, err := s.dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		if s.abandon(gen) {
			s.log.Warn("connect failed", zap.String("addr", addr), zap.Error(err))
			s.fireConnection(false, false)
		}
		return fmt.Errorf("connect %s: %w", addr, err)
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		_ = conn.Close()
		return ErrSuperseded
	}
	s.conn = conn
	s.state = StateConnected
	s.mu.Unlock()

	go s.readLoop(conn, gen)
	s.log.Info("connected", zap.String("addr", addr), zap.Uint64("generation", gen))
	s.fireConnection(true, false)
	s.handshake()
	return nil
}

// StartConnect connects in the background. Failures surface as a
// disconnected transition.
func (s *Session) StartConnect(hostPort string) {
	go func() {
		if err := s.Connect(context.Background(), hostPort); err != nil && !errors.Is(err, ErrSuperseded) {
			s.log.Debug("background connect failed", zap.Error(err))
		}
	}()
}

// Disconnect closes the connection. The reader goroutine of the closed
// generation will not report a second disconnect.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.gen++
	conn := s.conn
	wasActive := s.state != StateDisconnected
	s.conn = nil
	s.state = StateDisconnected
	s.httpPort = 0
	pending := s.lostFired
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	s.player.reset()
	waitFired(pending)
	if wasActive {
		s.log.Info("disconnected")
		s.fireConnection(false, false)
	}
}

// abandon marks a failed connect attempt as disconnected if it is still current.
func (s *Session) abandon(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen || s.state != StateConnecting {
		return false
	}
	s.state = StateDisconnected
	return true
}

// connectionLost handles the end of a reader goroutine.
func (s *Session) connectionLost(gen uint64, err error) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		s.log.Debug("stale reader exited", zap.Uint64("generation", gen), zap.Error(err))
		return
	}
	conn := s.conn
	s.conn = nil
	s.state = StateDisconnected
	s.httpPort = 0
	fired := make(chan struct{})
	s.lostFired = fired
	s.mu.Unlock()
	defer close(fired)

	if conn != nil {
		_ = conn.Close()
	}
	s.player.reset()
	s.log.Warn("connection lost", zap.Uint64("generation", gen), zap.Error(err))
	s.fireConnection(false, false)
}

// waitFired blocks until a concurrent connection loss has been reported, so
// listeners never see it after the transition that follows.
func waitFired(fired chan struct{}) {
	if fired != nil {
		<-fired
	}
}

func (s *Session) isCurrent(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen
}

func (s *Session) currentConn() net.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

func (s *Session) handshake() {
	s.sendBatch(
		"listen 1",
		"pref httpport ?",
		"can musicfolder ?",
		"can randomplay ?",
		"version ?",
	)
	s.Fetch(Query{Command: "players", All: true}, 0)
}

// send writes one command tagged with the next correlation id.
func (s *Session) send(line string) bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	conn := s.currentConn()
	if conn == nil {
		return false
	}
	return s.writeLocked(conn, slim.WithCorrelation(line, s.tracker.NextID())+"\n")
}

// sendBatch writes several commands in one flush. Batched commands carry no
// correlation id.
func (s *Session) sendBatch(lines ...string) bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	conn := s.currentConn()
	if conn == nil {
		return false
	}
	return s.writeLocked(conn, strings.Join(lines, "\n")+"\n")
}

func (s *Session) writeLocked(conn net.Conn, payload string) bool {
	if _, err := io.WriteString(conn, payload); err != nil {
		s.log.Warn("cli write failed", zap.Error(err))
		return false
	}
	if ce := s.log.Check(zap.DebugLevel, "cli send"); ce != nil {
		ce.Write(zap.String("payload", strings.TrimRight(payload, "\n")))
	}
	return true
}

func (s *Session) loadRememberedPlayer() {
	if s.store == nil {
		return
	}
	id, err := s.store.LastPlayer()
	if err != nil {
		s.log.Warn("cannot read last player", zap.Error(err))
		return
	}
	s.mu.Lock()
	s.remembered = id
	s.mu.Unlock()
}

// State returns the connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connected reports whether a connection is live.
func (s *Session) Connected() bool {
	return s.State() == StateConnected
}

// Host returns the server host of the current or last connection.
func (s *Session) Host() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.host
}

// HTTPPort returns the server's web port, or 0 before the handshake reply.
func (s *Session) HTTPPort() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.httpPort
}

// ServerVersion returns the version reported by the server.
func (s *Session) ServerVersion() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Can reports whether the server reported a capability as available.
func (s *Session) Can(capability string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.caps[capability]
}

// PageSize returns the configured list page size.
func (s *Session) PageSize() int {
	return s.pageSize
}

// ArtworkURL returns the cover URL of a track, or "" before the web port is known.
func (s *Session) ArtworkURL(trackID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpPort == 0 || trackID == "" {
		return ""
	}
	return fmt.Sprintf("http://%s/music/%s/cover.jpg", net.JoinHostPort(s.host, strconv.Itoa(s.httpPort)), trackID)
}
