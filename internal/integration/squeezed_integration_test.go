//go:build integration
// +build integration

package integration

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/bradfitz/android-squeezer-sub002/internal/adapters/clock"
	"github.com/bradfitz/android-squeezer-sub002/internal/adapters/idgen"
	"github.com/bradfitz/android-squeezer-sub002/internal/adapters/mqttserver"
	"github.com/bradfitz/android-squeezer-sub002/internal/core"
	embeddedmqtt "github.com/bradfitz/android-squeezer-sub002/internal/modules/embedded_mqtt"
	mqttbridge "github.com/bradfitz/android-squeezer-sub002/internal/modules/mqtt_bridge"
	"github.com/bradfitz/android-squeezer-sub002/internal/session"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

const playerID = "aa:bb:cc:dd:ee:ff"

// fakeServer speaks just enough of the CLI protocol over TCP for the player
// list, status and transport commands.
type fakeServer struct {
	addr     string
	commands chan string
}

func startFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		if errors.Is(err, syscall.EPERM) || strings.Contains(err.Error(), "operation not permitted") {
			t.Skip("network listen not permitted in this environment")
		}
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	f := &fakeServer{addr: ln.Addr().String(), commands: make(chan string, 64)}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go f.serve(conn)
		}
	}()
	return f
}

func (f *fakeServer) serve(conn net.Conn) {
	defer conn.Close()
	escaped := strings.ReplaceAll(playerID, ":", "%3A")
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		var reply string
		switch {
		case fields[0] == "players" && len(fields) >= 3:
			parts := []string{"players", fields[1], fields[2]}
			for _, p := range fields[3:] {
				if !strings.HasPrefix(p, "correlationid:") {
					parts = append(parts, strings.Replace(p, ":", "%3A", 1))
				}
			}
			parts = append(parts, "count%3A1", "playerid%3A"+escaped, "name%3AKitchen", "connected%3A1", "power%3A1")
			if corr := correlation(fields); corr != "" {
				parts = append(parts, "correlationid%3A"+corr)
			}
			reply = strings.Join(parts, " ")
		case fields[0] == "version":
			reply = "version 8.3.1"
		case fields[0] == escaped && len(fields) > 1 && fields[1] == "status":
			reply = escaped + " status - 1 player_name%3AKitchen mode%3Aplay power%3A1 mixer%20volume%3A40" +
				" time%3A12 duration%3A200 playlist_tracks%3A1 playlist%20index%3A0 id%3A3 title%3AOpening"
		case fields[0] == escaped:
			select {
			case f.commands <- strings.Join(fields[1:], " "):
			default:
			}
		}
		if reply == "" {
			continue
		}
		if _, err := fmt.Fprintln(conn, reply); err != nil {
			return
		}
	}
}

func correlation(fields []string) string {
	for _, f := range fields {
		if id, ok := strings.CutPrefix(f, "correlationid:"); ok {
			return id
		}
	}
	return ""
}

func (f *fakeServer) waitCommand(t *testing.T, prefix string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case line := <-f.commands:
			if strings.HasPrefix(line, prefix) {
				return
			}
		case <-deadline:
			t.Fatalf("command %q not received", prefix)
		}
	}
}

type harness struct {
	ctx       context.Context
	server    *fakeServer
	brokerURL string
	service   core.Service
	client    *mqttserver.Client
	base      string
}

func setup(t *testing.T) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	logger := zaptest.NewLogger(t, zaptest.Level(zap.WarnLevel))

	server := startFakeServer(t)

	listen := freeListenAddr(t)
	broker, err := embeddedmqtt.NewModule(logger, embeddedmqtt.Config{Listen: listen, AllowAnonymous: true})
	if err != nil {
		t.Fatalf("embedded broker: %v", err)
	}
	runModule(t, ctx, "embedded_mqtt", broker.Run)
	select {
	case <-broker.Ready():
	case <-time.After(3 * time.Second):
		t.Fatalf("broker not ready")
	}

	sess := session.New(session.Options{Logger: logger, Clock: clock.Clock{}})
	t.Cleanup(sess.Disconnect)
	svc := core.Service{Session: sess, Clock: clock.Clock{}}
	connectCtx, connectCancel := context.WithTimeout(ctx, 3*time.Second)
	defer connectCancel()
	if err := svc.Connect(connectCtx, server.addr); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if _, err := svc.UsePlayer(connectCtx, "Kitchen"); err != nil {
		t.Fatalf("use player: %v", err)
	}

	base := "squeezer/it-" + idgen.Generator{Prefix: "t"}.NewID()
	bridgeClient := newClient(t, broker.URL(), "bridge")
	bridge, err := mqttbridge.NewModule(logger, bridgeClient, sess, mqttbridge.Config{
		TopicBase: base,
		Select:    svc.UsePlayer,
	})
	if err != nil {
		t.Fatalf("bridge: %v", err)
	}
	runModule(t, ctx, "mqtt_bridge", bridge.Run)

	return &harness{
		ctx:       ctx,
		server:    server,
		brokerURL: broker.URL(),
		service:   svc,
		client:    newClient(t, broker.URL(), "observer"),
		base:      base,
	}
}

func newClient(t *testing.T, brokerURL, prefix string) *mqttserver.Client {
	t.Helper()
	var lastErr error
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		client, err := mqttserver.NewClient(mqttserver.Options{
			BrokerURL: brokerURL,
			ClientID:  idgen.Generator{Prefix: prefix}.NewID(),
			Timeout:   2 * time.Second,
		})
		if err == nil {
			t.Cleanup(func() { client.Close(100 * time.Millisecond) })
			return client
		}
		lastErr = err
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("connect mqtt client: %v", lastErr)
	return nil
}

func TestBridgePublishesRetainedState(t *testing.T) {
	h := setup(t)

	states := make(chan session.PlayerState, 16)
	topic := mqttbridge.StateTopic(h.base, playerID)
	if err := h.client.Subscribe(topic, 1, func(_ string, payload []byte) {
		var st session.PlayerState
		if err := json.Unmarshal(payload, &st); err == nil {
			states <- st
		}
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case st := <-states:
			if st.Player.ID == playerID && st.Current != nil && st.Current.Name == "Opening" {
				return
			}
		case <-deadline:
			t.Fatalf("no state published on %s", topic)
		}
	}
}

func TestBridgeConnectionTopic(t *testing.T) {
	h := setup(t)

	got := make(chan mqttbridge.ConnectionMessage, 4)
	if err := h.client.Subscribe(mqttbridge.ConnectionTopic(h.base), 1, func(_ string, payload []byte) {
		var msg mqttbridge.ConnectionMessage
		if err := json.Unmarshal(payload, &msg); err == nil {
			got <- msg
		}
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	select {
	case msg := <-got:
		if !msg.Connected {
			t.Fatalf("expected connected, got %+v", msg)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no connection message")
	}
}

func TestBridgeExecutesCommands(t *testing.T) {
	h := setup(t)

	cmds := []struct {
		payload string
		want    string
	}{
		{`{"type":"pause"}`, "pause 1"},
		{`{"type":"volume","value":55}`, "mixer volume 55"},
		{`{"type":"power","value":false}`, "power 0"},
	}
	for _, c := range cmds {
		if err := h.client.Publish(mqttbridge.CommandTopic(h.base), 1, false, []byte(c.payload)); err != nil {
			t.Fatalf("publish %s: %v", c.payload, err)
		}
		h.server.waitCommand(t, c.want)
	}
}

func TestServiceListsPlayers(t *testing.T) {
	h := setup(t)

	players, err := h.service.Players(h.ctx)
	if err != nil {
		t.Fatalf("players: %v", err)
	}
	if len(players.Players) != 1 || players.Players[0].ID != playerID || players.Active != playerID {
		t.Fatalf("unexpected players %+v", players)
	}
}

func TestEmbeddedMQTTAuth(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	listen := freeListenAddr(t)
	broker, err := embeddedmqtt.NewModule(zap.NewNop(), embeddedmqtt.Config{
		Listen:   listen,
		Username: "squeezer",
		Password: "secret",
	})
	if err != nil {
		t.Fatalf("embedded broker: %v", err)
	}
	runModule(t, ctx, "embedded_mqtt", broker.Run)
	<-broker.Ready()

	if _, err := mqttserver.NewClient(mqttserver.Options{
		BrokerURL: broker.URL(),
		ClientID:  idgen.Generator{Prefix: "anon"}.NewID(),
		Timeout:   500 * time.Millisecond,
	}); err == nil {
		t.Fatalf("expected unauthenticated connection to fail")
	}
	client, err := mqttserver.NewClient(mqttserver.Options{
		BrokerURL: broker.URL(),
		ClientID:  idgen.Generator{Prefix: "auth"}.NewID(),
		Username:  "squeezer",
		Password:  "secret",
	})
	if err != nil {
		t.Fatalf("authenticated connect: %v", err)
	}
	client.Close(0)
}

func TestSqueezectlIntegration(t *testing.T) {
	server := startFakeServer(t)
	bin := squeezectlBinary(t)
	env := cliEnv(t)

	out := runCLI(t, bin, env, "--json", "-s", server.addr, "players")
	var players core.PlayersResult
	decodeJSON(t, out, &players)
	if len(players.Players) != 1 || players.Players[0].Name != "Kitchen" {
		t.Fatalf("unexpected players %+v", players)
	}

	out = runCLI(t, bin, env, "--json", "-s", server.addr, "-p", "Kitchen", "status")
	var status core.StatusResult
	decodeJSON(t, out, &status)
	if status.State.Current == nil || status.State.Current.Name != "Opening" || status.State.Volume != 40 {
		t.Fatalf("unexpected status %+v", status)
	}

	runCLI(t, bin, env, "-s", server.addr, "-p", "Kitchen", "pause")
	server.waitCommand(t, "pause 1")
}

func runModule(t *testing.T, ctx context.Context, name string, run func(context.Context) error) {
	t.Helper()
	errCh := make(chan error, 1)
	go func() {
		errCh <- run(ctx)
	}()
	t.Cleanup(func() {
		select {
		case err := <-errCh:
			if err != nil && !errors.Is(err, context.Canceled) {
				t.Errorf("%s module failed: %v", name, err)
			}
		case <-time.After(200 * time.Millisecond):
		}
	})
}

func freeListenAddr(t *testing.T) string {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		if errors.Is(err, syscall.EPERM) || strings.Contains(err.Error(), "operation not permitted") {
			t.Skip("network listen not permitted in this environment")
		}
		t.Fatalf("listen: %v", err)
	}
	addr := listener.Addr().String()
	if err := listener.Close(); err != nil {
		t.Fatalf("close listener: %v", err)
	}
	return addr
}

func decodeJSON(t *testing.T, payload string, dest any) {
	t.Helper()
	if err := json.Unmarshal([]byte(payload), dest); err != nil {
		t.Fatalf("decode json: %v\npayload: %s", err, payload)
	}
}

func runCLI(t *testing.T, bin string, env []string, args ...string) string {
	t.Helper()
	cmd := exec.Command(bin, args...)
	cmd.Env = env
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		t.Fatalf("squeezectl %s failed: %v\nstderr: %s", strings.Join(args, " "), err, stderr.String())
	}
	return stdout.String()
}

func cliEnv(t *testing.T) []string {
	t.Helper()
	env := append([]string{}, os.Environ()...)
	env = append(env, "XDG_CONFIG_HOME="+t.TempDir())
	env = append(env, "XDG_STATE_HOME="+t.TempDir())
	return env
}

var (
	binOnce sync.Once
	binPath string
	binErr  error
)

func squeezectlBinary(t *testing.T) string {
	t.Helper()
	binOnce.Do(func() {
		dir, err := os.MkdirTemp("", "squeezectl-bin-*")
		if err != nil {
			binErr = err
			return
		}
		path := filepath.Join(dir, "squeezectl")
		cmd := exec.Command("go", "build", "-o", path, "./cmd/squeezectl")
		cmd.Dir = repoRoot(t)
		output, err := cmd.CombinedOutput()
		if err != nil {
			binErr = fmt.Errorf("build squeezectl: %w: %s", err, strings.TrimSpace(string(output)))
			return
		}
		binPath = path
	})
	if binErr != nil {
		t.Fatalf("build squeezectl binary: %v", binErr)
	}
	return binPath
}

func repoRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatalf("repo root not found from %s", dir)
		}
		dir = parent
	}
}
