package mqttbridge

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/bradfitz/android-squeezer-sub002/internal/adapters/clock"
	"github.com/bradfitz/android-squeezer-sub002/internal/adapters/mqttserver"
	"github.com/bradfitz/android-squeezer-sub002/internal/session"
	"github.com/bradfitz/android-squeezer-sub002/pkg/slim"
	"go.uber.org/zap"
)

type message struct {
	topic    string
	retained bool
	payload  []byte
}

type fakeClient struct {
	mu        sync.Mutex
	published chan message
	handlers  map[string]mqttserver.Handler
}

func newFakeClient() *fakeClient {
	return &fakeClient{published: make(chan message, 32), handlers: map[string]mqttserver.Handler{}}
}

func (f *fakeClient) Publish(topic string, _ byte, retained bool, payload []byte) error {
	f.published <- message{topic: topic, retained: retained, payload: payload}
	return nil
}

func (f *fakeClient) Subscribe(topic string, _ byte, handler mqttserver.Handler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = handler
	return nil
}

func (f *fakeClient) deliver(t *testing.T, topic, payload string) {
	t.Helper()
	f.mu.Lock()
	h, ok := f.handlers[topic]
	f.mu.Unlock()
	if !ok {
		t.Fatalf("no subscription for %s", topic)
	}
	h(topic, []byte(payload))
}

type fakeController struct {
	mu        sync.Mutex
	calls     []string
	listener  session.Listener
	listening chan struct{}
	connected bool
	state     *session.PlayerState
}

func newFakeController() *fakeController {
	return &fakeController{listening: make(chan struct{})}
}

func (f *fakeController) rec(call string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return true
}

func (f *fakeController) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeController) Play() bool                   { return f.rec("play") }
func (f *fakeController) Pause() bool                  { return f.rec("pause") }
func (f *fakeController) Stop() bool                   { return f.rec("stop") }
func (f *fakeController) TogglePausePlay() bool        { return f.rec("toggle") }
func (f *fakeController) NextTrack() bool              { return f.rec("next") }
func (f *fakeController) PreviousTrack() bool          { return f.rec("prev") }
func (f *fakeController) PlaylistIndex(i int) bool     { return f.rec("index " + strconv.Itoa(i)) }
func (f *fakeController) AdjustVolumeBy(d int) bool    { return f.rec("volume by " + strconv.Itoa(d)) }
func (f *fakeController) SetVolume(v int) bool         { return f.rec("volume " + strconv.Itoa(v)) }
func (f *fakeController) SetSecondsElapsed(s int) bool { return f.rec("seek " + strconv.Itoa(s)) }
func (f *fakeController) SetPower(on bool) bool        { return f.rec("power " + strconv.FormatBool(on)) }
func (f *fakeController) SetShuffle(m session.ShuffleMode) bool {
	return f.rec("shuffle " + m.String())
}
func (f *fakeController) SetRepeat(m session.RepeatMode) bool { return f.rec("repeat " + m.String()) }
func (f *fakeController) Sleep(d time.Duration) bool          { return f.rec("sleep " + d.String()) }

func (f *fakeController) AddListener(l session.Listener) func() {
	f.mu.Lock()
	f.listener = l
	f.mu.Unlock()
	close(f.listening)
	return func() {}
}

func (f *fakeController) Connected() bool { return f.connected }

func (f *fakeController) PlayerState() (session.PlayerState, bool) {
	if f.state == nil {
		return session.PlayerState{}, false
	}
	return *f.state, true
}

func startBridge(t *testing.T, client *fakeClient, ctl *fakeController, cfg Config) context.CancelFunc {
	t.Helper()
	if cfg.Clock == nil {
		cfg.Clock = clock.NewManual(time.Unix(1700000000, 0))
	}
	m, err := NewModule(zap.NewNop(), client, ctl, cfg)
	if err != nil {
		t.Fatalf("new module: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = m.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	select {
	case <-ctl.listening:
	case <-time.After(time.Second):
		t.Fatalf("bridge did not register a listener")
	}
	return cancel
}

func nextMessage(t *testing.T, client *fakeClient) message {
	t.Helper()
	select {
	case msg := <-client.published:
		return msg
	case <-time.After(time.Second):
		t.Fatalf("no message published")
	}
	return message{}
}

func TestBridgePublishesInitialState(t *testing.T) {
	client := newFakeClient()
	ctl := newFakeController()
	ctl.connected = true
	ctl.state = &session.PlayerState{Player: slim.Player{ID: "aa:bb", Name: "Kitchen"}, Volume: 30}
	startBridge(t, client, ctl, Config{})

	msg := nextMessage(t, client)
	if msg.topic != "squeezer/v1/connection" || !msg.retained {
		t.Fatalf("unexpected connection message %+v", msg)
	}
	var conn ConnectionMessage
	if err := json.Unmarshal(msg.payload, &conn); err != nil || !conn.Connected || conn.TS != 1700000000 {
		t.Fatalf("unexpected connection payload %s (%v)", msg.payload, err)
	}

	msg = nextMessage(t, client)
	if msg.topic != "squeezer/v1/player/aa:bb/state" || !msg.retained {
		t.Fatalf("unexpected state message %+v", msg)
	}
	var st session.PlayerState
	if err := json.Unmarshal(msg.payload, &st); err != nil || st.Volume != 30 {
		t.Fatalf("unexpected state payload %s (%v)", msg.payload, err)
	}
}

func TestBridgeForwardsListenerEvents(t *testing.T) {
	client := newFakeClient()
	ctl := newFakeController()
	startBridge(t, client, ctl, Config{TopicBase: "home/lms/"})
	nextMessage(t, client) // initial connection

	ctl.listener.Connection(true, true)
	ctl.listener.Connection(true, false)
	msg := nextMessage(t, client)
	if msg.topic != "home/lms/connection" {
		t.Fatalf("unexpected topic %q", msg.topic)
	}

	ctl.listener.StateChanged(session.PlayerState{Player: slim.Player{ID: "cc:dd"}, Status: session.PlayStatusPlaying})
	msg = nextMessage(t, client)
	if msg.topic != "home/lms/player/cc:dd/state" {
		t.Fatalf("unexpected topic %q", msg.topic)
	}
}

func TestBridgeExecutesCommands(t *testing.T) {
	client := newFakeClient()
	ctl := newFakeController()
	startBridge(t, client, ctl, Config{})

	client.deliver(t, "squeezer/v1/cmd", `{"type":"play"}`)
	client.deliver(t, "squeezer/v1/cmd", `{"type":"volume","value":"+5"}`)
	client.deliver(t, "squeezer/v1/cmd", `{"type":"seek","value":42.4}`)
	client.deliver(t, "squeezer/v1/cmd", `{"type":"power","value":false}`)
	client.deliver(t, "squeezer/v1/cmd", `{"type":"rewind"}`)
	client.deliver(t, "squeezer/v1/cmd", `not json`)

	got := ctl.recorded()
	want := []string{"play", "volume by 5", "seek 42", "power false"}
	if len(got) != len(want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("calls = %v, want %v", got, want)
		}
	}
}

func TestBridgeSelectsPlayer(t *testing.T) {
	client := newFakeClient()
	ctl := newFakeController()
	selected := make(chan string, 1)
	startBridge(t, client, ctl, Config{Select: func(_ context.Context, selector string) (slim.Player, error) {
		selected <- selector
		if selector == "nobody" {
			return slim.Player{}, errors.New("not found")
		}
		return slim.Player{ID: "aa:bb"}, nil
	}})

	client.deliver(t, "squeezer/v1/cmd", `{"type":"player","value":"Kitchen"}`)
	if got := <-selected; got != "Kitchen" {
		t.Fatalf("unexpected selector %q", got)
	}
	client.deliver(t, "squeezer/v1/cmd", `{"type":"player","value":"nobody"}`)
	<-selected
	if len(ctl.recorded()) != 0 {
		t.Fatalf("player selection reached the transport: %v", ctl.recorded())
	}
}

func TestBridgeMarksDisconnectedOnExit(t *testing.T) {
	client := newFakeClient()
	ctl := newFakeController()
	ctl.connected = true
	cancel := startBridge(t, client, ctl, Config{})
	nextMessage(t, client)

	cancel()
	msg := nextMessage(t, client)
	var conn ConnectionMessage
	if err := json.Unmarshal(msg.payload, &conn); err != nil || conn.Connected {
		t.Fatalf("expected disconnected payload, got %s", msg.payload)
	}
}

func TestDecodeCommand(t *testing.T) {
	cases := map[string]string{
		`{"type":"index","value":3}`:     "3",
		`{"type":"volume","value":"-2"}`: "-2",
		`{"type":"stop","value":null}`:   "",
		`{"type":"shuffle","value":1.5}`: "1.5",
	}
	for in, want := range cases {
		cmd, err := decodeCommand([]byte(in))
		if err != nil || cmd.Value != want {
			t.Fatalf("decode %s = %+v, %v; want value %q", in, cmd, err, want)
		}
	}
	for _, in := range []string{`{}`, `{"type":"play","value":[1]}`} {
		if _, err := decodeCommand([]byte(in)); err == nil {
			t.Fatalf("decode %s: expected error", in)
		}
	}
}

func TestNewModuleValidates(t *testing.T) {
	if _, err := NewModule(nil, nil, newFakeController(), Config{}); err == nil {
		t.Fatalf("expected error without client")
	}
	if _, err := NewModule(nil, newFakeClient(), nil, Config{}); err == nil {
		t.Fatalf("expected error without session")
	}
}
