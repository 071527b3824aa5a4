package eventfeed

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/bradfitz/android-squeezer-sub002/internal/session"
	"github.com/bradfitz/android-squeezer-sub002/pkg/slim"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// DefaultListen is the feed address used when none is configured.
	DefaultListen = "127.0.0.1:9099"
	// Path is where the feed is served.
	Path = "/events"

	writeTimeout = 5 * time.Second
	pingInterval = 30 * time.Second
	clientBuffer = 64
)

// Source is the session surface the feed observes.
type Source interface {
	AddListener(l session.Listener) func()
	Connected() bool
	PlayerState() (session.PlayerState, bool)
}

// Config configures the feed.
type Config struct {
	Listen string
	// AllowedOrigins restricts browser origins. Empty allows same-host only.
	AllowedOrigins []string
}

// Event is one message on the feed.
type Event struct {
	Type      string               `json:"type"`
	Connected *bool                `json:"connected,omitempty"`
	State     *session.PlayerState `json:"state,omitempty"`
}

// Module serves session events to websocket clients.
type Module struct {
	log      *zap.Logger
	src      Source
	cfg      Config
	upgrader websocket.Upgrader
}

// NewModule creates the feed.
func NewModule(log *zap.Logger, src Source, cfg Config) (*Module, error) {
	if src == nil {
		return nil, errors.New("session required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Listen == "" {
		cfg.Listen = DefaultListen
	}
	m := &Module{log: log.With(zap.String("module", "event_feed")), src: src, cfg: cfg}
	m.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
	}
	if len(cfg.AllowedOrigins) > 0 {
		m.upgrader.CheckOrigin = m.checkOrigin
	}
	return m, nil
}

func (m *Module) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range m.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// Handler returns the HTTP handler serving the feed.
func (m *Module) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+Path, m.serveEvents)
	return mux
}

// Run serves until ctx is done.
func (m *Module) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", m.cfg.Listen)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: m.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	m.log.Info("event feed listening", zap.String("addr", ln.Addr().String()))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (m *Module) serveEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	log := m.log.With(zap.String("remote", r.RemoteAddr))
	log.Debug("feed client connected")
	defer log.Debug("feed client disconnected")
	defer conn.Close()

	events := make(chan Event, clientBuffer)
	overflow := make(chan struct{})
	var once sync.Once
	send := func(ev Event) {
		select {
		case events <- ev:
		case <-overflow:
		default:
			once.Do(func() {
				log.Warn("feed client too slow, dropping")
				close(overflow)
			})
		}
	}
	remove := m.src.AddListener(listenerFor(send, m.src))
	defer remove()

	connected := m.src.Connected()
	initial := Event{Type: "connection", Connected: &connected}
	if st, ok := m.src.PlayerState(); ok {
		initial.State = &st
	}
	if err := writeEvent(conn, initial); err != nil {
		return
	}

	// Clients only send control frames; reading drives pong and close handling.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			return
		case <-overflow:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too slow"),
				time.Now().Add(writeTimeout))
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		case ev := <-events:
			if err := writeEvent(conn, ev); err != nil {
				log.Debug("feed write failed", zap.Error(err))
				return
			}
		}
	}
}

func listenerFor(send func(Event), src Source) session.Listener {
	withState := func(kind string) func() {
		return func() {
			ev := Event{Type: kind}
			if st, ok := src.PlayerState(); ok {
				ev.State = &st
			}
			send(ev)
		}
	}
	music := withState("music")
	timeChanged := withState("time")
	status := withState("status")
	volume := withState("volume")
	power := withState("power")
	player := withState("player")
	return session.Listener{
		Connection: func(connected, postConnect bool) {
			if postConnect {
				return
			}
			send(Event{Type: "connection", Connected: &connected})
		},
		MusicChanged:        func(session.PlayerState) { music() },
		TimeChanged:         func(int, int) { timeChanged() },
		PlayStatusChanged:   func(bool) { status() },
		VolumeChanged:       func(int) { volume() },
		PowerChanged:        func(bool) { power() },
		ActivePlayerChanged: func(slim.Player) { player() },
	}
}

func writeEvent(conn *websocket.Conn, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}
