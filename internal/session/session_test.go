package session

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/bradfitz/android-squeezer-sub002/internal/adapters/clock"
	"github.com/bradfitz/android-squeezer-sub002/pkg/slim"
	"go.uber.org/zap"
)

const waitTimeout = 2 * time.Second

// fakeServer is the server end of a piped CLI connection.
type fakeServer struct {
	conn  net.Conn
	lines chan string
}

func newFakeServer(conn net.Conn) *fakeServer {
	f := &fakeServer{conn: conn, lines: make(chan string, 256)}
	go func() {
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			f.lines <- scanner.Text()
		}
		close(f.lines)
	}()
	return f
}

func (f *fakeServer) expect(t *testing.T, want string) {
	t.Helper()
	select {
	case got, ok := <-f.lines:
		if !ok {
			t.Fatalf("connection closed, expected %q", want)
		}
		if got != want {
			t.Fatalf("server received %q, want %q", got, want)
		}
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for %q", want)
	}
}

func (f *fakeServer) next(t *testing.T) string {
	t.Helper()
	select {
	case got, ok := <-f.lines:
		if !ok {
			t.Fatalf("connection closed")
		}
		return got
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for a line")
	}
	return ""
}

func (f *fakeServer) quiet(t *testing.T) {
	t.Helper()
	select {
	case got, ok := <-f.lines:
		if ok {
			t.Fatalf("unexpected line %q", got)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func (f *fakeServer) reply(t *testing.T, line string) {
	t.Helper()
	_ = f.conn.SetWriteDeadline(time.Now().Add(waitTimeout))
	if _, err := f.conn.Write([]byte(line + "\n")); err != nil {
		t.Fatalf("write %q: %v", line, err)
	}
}

// pipeDialer hands out piped connections and publishes the server ends.
type pipeDialer struct {
	servers chan *fakeServer
	err     error
	block   chan struct{}
}

func newPipeDialer() *pipeDialer {
	return &pipeDialer{servers: make(chan *fakeServer, 4)}
}

func (d *pipeDialer) DialContext(ctx context.Context, _, _ string) (net.Conn, error) {
	if d.block != nil {
		select {
		case <-d.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d.err != nil {
		return nil, d.err
	}
	client, server := net.Pipe()
	d.servers <- newFakeServer(server)
	return client, nil
}

func (d *pipeDialer) server(t *testing.T) *fakeServer {
	t.Helper()
	select {
	case f := <-d.servers:
		return f
	case <-time.After(waitTimeout):
		t.Fatalf("no connection dialed")
	}
	return nil
}

type memoryStore struct {
	mu   sync.Mutex
	last string
}

func (m *memoryStore) LastPlayer() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last, nil
}

func (m *memoryStore) SetLastPlayer(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = id
	return nil
}

type harness struct {
	s      *Session
	dialer *pipeDialer
	server *fakeServer
	clock  *clock.Manual
	store  *memoryStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		dialer: newPipeDialer(),
		clock:  clock.NewManual(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)),
		store:  &memoryStore{},
	}
	h.s = New(Options{
		Logger:   zap.NewNop(),
		Clock:    h.clock,
		Dialer:   h.dialer,
		Players:  h.store,
		PageSize: 20,
	})
	t.Cleanup(h.s.Disconnect)
	return h
}

func expectHandshake(t *testing.T, f *fakeServer, playersID string) {
	t.Helper()
	f.expect(t, "listen 1")
	f.expect(t, "pref httpport ?")
	f.expect(t, "can musicfolder ?")
	f.expect(t, "can randomplay ?")
	f.expect(t, "version ?")
	f.expect(t, "players 0 1 correlationid:"+playersID)
}

// connect runs Connect against a fresh pipe and consumes the handshake.
func (h *harness) connect(t *testing.T) *fakeServer {
	t.Helper()
	playersID := itoa(h.s.tracker.Peek())
	errCh := make(chan error, 1)
	go func() { errCh <- h.s.Connect(context.Background(), "lms.local") }()
	f := h.dialer.server(t)
	expectHandshake(t, f, playersID)
	if err := <-errCh; err != nil {
		t.Fatalf("connect: %v", err)
	}
	h.server = f
	return f
}

// selectPlayer answers the handshake player query with one player.
func (h *harness) selectPlayer(t *testing.T, corr string) {
	t.Helper()
	h.server.reply(t, "players 0 1 count%3A1 playerid%3Aaa%3Abb name%3AKitchen connected%3A1 correlationid%3A"+corr)
	h.server.expect(t, "aa%3Abb status - 1 subscribe:1 tags:"+statusTags)
	if p, ok := h.s.ActivePlayer(); !ok || p.ID != "aa:bb" || p.Name != "Kitchen" {
		t.Fatalf("unexpected active player %+v (%t)", p, ok)
	}
}

func itoa(n int32) string {
	return strconv.FormatInt(int64(n), 10)
}

func slimPlayer(id, name string) slim.Player {
	return slim.Player{ID: id, Name: name, Connected: true}
}

type connEvent struct {
	connected   bool
	postConnect bool
}

func recordConnections(s *Session) (chan connEvent, func()) {
	ch := make(chan connEvent, 16)
	remove := s.AddListener(Listener{Connection: func(connected, post bool) {
		ch <- connEvent{connected, post}
	}})
	return ch, remove
}

func waitEvent(t *testing.T, ch chan connEvent) connEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for connection event")
	}
	return connEvent{}
}

func TestParseAddress(t *testing.T) {
	cases := []struct {
		in   string
		host string
		port int
	}{
		{"lms.local", "lms.local", 9090},
		{"  lms.local:9091 ", "lms.local", 9091},
		{"http://10.0.0.2:9090/", "10.0.0.2", 9090},
		{"[::1]:9092", "::1", 9092},
		{"::1", "::1", 9090},
	}
	for _, tc := range cases {
		host, port, err := ParseAddress(tc.in)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.in, err)
		}
		if host != tc.host || port != tc.port {
			t.Fatalf("parse %q = %s:%d, want %s:%d", tc.in, host, port, tc.host, tc.port)
		}
	}
	if _, _, err := ParseAddress("lms.local:http"); err == nil {
		t.Fatalf("expected invalid port error")
	}
	if _, _, err := ParseAddress("  "); err == nil {
		t.Fatalf("expected empty address error")
	}
}

func TestPageSizeDefaults(t *testing.T) {
	if got := New(Options{}).PageSize(); got != DefaultPageSize {
		t.Fatalf("page size = %d, want %d", got, DefaultPageSize)
	}
	if got := New(Options{PageSize: 50}).PageSize(); got != 50 {
		t.Fatalf("page size = %d", got)
	}
}

func TestConnectHandshakeAndPostConnect(t *testing.T) {
	h := newHarness(t)
	events, remove := recordConnections(h.s)
	defer remove()

	f := h.connect(t)
	if ev := waitEvent(t, events); !ev.connected || ev.postConnect {
		t.Fatalf("unexpected first event %+v", ev)
	}
	if h.s.State() != StateConnected {
		t.Fatalf("state = %s", h.s.State())
	}

	f.reply(t, "can musicfolder 1")
	f.reply(t, "version 7.9.2")
	f.reply(t, "pref httpport 9000")
	if ev := waitEvent(t, events); !ev.connected || !ev.postConnect {
		t.Fatalf("expected post-connect event, got %+v", ev)
	}
	if h.s.HTTPPort() != 9000 || h.s.ServerVersion() != "7.9.2" || !h.s.Can("musicfolder") {
		t.Fatalf("handshake state port=%d version=%q", h.s.HTTPPort(), h.s.ServerVersion())
	}
	if got := h.s.ArtworkURL("55"); got != "http://lms.local:9000/music/55/cover.jpg" {
		t.Fatalf("artwork url %q", got)
	}
}

func TestConnectFailureReportsDisconnect(t *testing.T) {
	h := newHarness(t)
	h.dialer.err = errors.New("refused")
	events, remove := recordConnections(h.s)
	defer remove()

	if err := h.s.Connect(context.Background(), "lms.local"); err == nil {
		t.Fatalf("expected connect error")
	}
	if ev := waitEvent(t, events); ev.connected {
		t.Fatalf("expected disconnect, got %+v", ev)
	}
	if h.s.State() != StateDisconnected {
		t.Fatalf("state = %s", h.s.State())
	}
}

func TestSupersededConnectIsDiscarded(t *testing.T) {
	h := newHarness(t)
	h.dialer.block = make(chan struct{})

	errCh := make(chan error, 1)
	go func() { errCh <- h.s.Connect(context.Background(), "lms.local") }()

	// wait until the attempt is in flight, then cancel it
	deadline := time.Now().Add(waitTimeout)
	for h.s.State() != StateConnecting {
		if time.Now().After(deadline) {
			t.Fatalf("connect never started")
		}
		time.Sleep(time.Millisecond)
	}
	h.s.Disconnect()
	close(h.dialer.block)

	if err := <-errCh; !errors.Is(err, ErrSuperseded) {
		t.Fatalf("expected superseded, got %v", err)
	}
	if h.s.State() != StateDisconnected {
		t.Fatalf("state = %s", h.s.State())
	}
}

func TestReconnectReportsExactlyOneDisconnect(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	old := h.server

	events, remove := recordConnections(h.s)
	defer remove()

	h.connect(t)
	if ev := waitEvent(t, events); ev.connected {
		t.Fatalf("expected disconnect first, got %+v", ev)
	}
	if ev := waitEvent(t, events); !ev.connected {
		t.Fatalf("expected connect, got %+v", ev)
	}

	// the old reader exits on the closed pipe without reporting again
	_ = old.conn.Close()
	select {
	case ev := <-events:
		t.Fatalf("unexpected event %+v from stale connection", ev)
	case <-time.After(100 * time.Millisecond):
	}
	if !h.s.Connected() {
		t.Fatalf("new connection should stay up")
	}
}

func TestServerCloseReportsDisconnect(t *testing.T) {
	h := newHarness(t)
	f := h.connect(t)
	h.selectPlayer(t, "0")

	events, remove := recordConnections(h.s)
	defer remove()
	_ = f.conn.Close()

	if ev := waitEvent(t, events); ev.connected {
		t.Fatalf("expected disconnect, got %+v", ev)
	}
	if _, ok := h.s.ActivePlayer(); ok {
		t.Fatalf("player should be cleared")
	}
	if h.s.HTTPPort() != 0 {
		t.Fatalf("http port should be cleared")
	}
	if h.s.Play() {
		t.Fatalf("commands must fail while disconnected")
	}
}

func TestDisconnectRacingServerCloseReportsOnce(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 20; i++ {
		f := h.connect(t)
		events, remove := recordConnections(h.s)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = f.conn.Close()
		}()
		go func() {
			defer wg.Done()
			h.s.Disconnect()
		}()
		wg.Wait()
		h.connect(t)

		want := []connEvent{{false, false}, {true, false}}
		for _, w := range want {
			if ev := waitEvent(t, events); ev != w {
				t.Fatalf("round %d: got %+v, want %+v", i, ev, w)
			}
		}
		select {
		case ev := <-events:
			t.Fatalf("round %d: unexpected event %+v", i, ev)
		case <-time.After(100 * time.Millisecond):
		}
		remove()
	}
}

func TestStartConnect(t *testing.T) {
	h := newHarness(t)
	events, remove := recordConnections(h.s)
	defer remove()

	playersID := itoa(h.s.tracker.Peek())
	h.s.StartConnect("lms.local")
	f := h.dialer.server(t)
	expectHandshake(t, f, playersID)
	if ev := waitEvent(t, events); !ev.connected || ev.postConnect {
		t.Fatalf("unexpected event %+v", ev)
	}
	if !h.s.Connected() {
		t.Fatalf("state = %s", h.s.State())
	}
}

func TestStartConnectFailureReportsDisconnect(t *testing.T) {
	h := newHarness(t)
	h.dialer.err = errors.New("refused")
	events, remove := recordConnections(h.s)
	defer remove()

	h.s.StartConnect("lms.local")
	if ev := waitEvent(t, events); ev != (connEvent{false, false}) {
		t.Fatalf("expected disconnect, got %+v", ev)
	}
	if h.s.State() != StateDisconnected {
		t.Fatalf("state = %s", h.s.State())
	}
}

func TestRememberedPlayerIsSelected(t *testing.T) {
	h := newHarness(t)
	h.store.last = "cc:dd"
	f := h.connect(t)

	f.reply(t, "players 0 1 count%3A2 playerid%3Aaa%3Abb name%3AKitchen correlationid%3A0")
	f.expect(t, "players 1 1 correlationid:1")
	if _, ok := h.s.ActivePlayer(); ok {
		t.Fatalf("fallback must wait for the complete list")
	}
	f.reply(t, "players 1 1 count%3A2 playerid%3Acc%3Add name%3ADen correlationid%3A1")
	f.expect(t, "cc%3Add status - 1 subscribe:1 tags:"+statusTags)

	if p, _ := h.s.ActivePlayer(); p.ID != "cc:dd" {
		t.Fatalf("active player %q, want cc:dd", p.ID)
	}
}

func TestSetActivePlayerPersistsAndResubscribes(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	h.selectPlayer(t, "0")

	changed := make(chan slim.Player, 1)
	remove := h.s.AddListener(Listener{ActivePlayerChanged: func(p slim.Player) { changed <- p }})
	defer remove()

	h.s.SetActivePlayer(slimPlayer("ee:ff", "Office"))
	h.server.expect(t, "aa%3Abb status - 1 subscribe:-")
	h.server.expect(t, "ee%3Aff status - 1 subscribe:1 tags:"+statusTags)

	select {
	case p := <-changed:
		if p.ID != "ee:ff" {
			t.Fatalf("listener got %q", p.ID)
		}
	case <-time.After(waitTimeout):
		t.Fatalf("no active player event")
	}

	deadline := time.Now().Add(waitTimeout)
	for {
		if id, _ := h.store.LastPlayer(); id == "ee:ff" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("last player not saved")
		}
		time.Sleep(time.Millisecond)
	}
}
