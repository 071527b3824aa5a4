package mqttbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bradfitz/android-squeezer-sub002/internal/adapters/clock"
	"github.com/bradfitz/android-squeezer-sub002/internal/adapters/mqttserver"
	"github.com/bradfitz/android-squeezer-sub002/internal/core"
	"github.com/bradfitz/android-squeezer-sub002/internal/ports"
	"github.com/bradfitz/android-squeezer-sub002/internal/session"
	"github.com/bradfitz/android-squeezer-sub002/pkg/slim"
	"go.uber.org/zap"
)

// DefaultTopicBase is the topic prefix used when none is configured.
const DefaultTopicBase = "squeezer/v1"

// Client is the MQTT surface the bridge needs.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Subscribe(topic string, qos byte, handler mqttserver.Handler) error
}

// Controller is the session surface the bridge needs.
type Controller interface {
	core.Transport
	AddListener(l session.Listener) func()
	Connected() bool
	PlayerState() (session.PlayerState, bool)
}

// SelectFunc resolves a player selector and makes it active.
type SelectFunc func(ctx context.Context, selector string) (slim.Player, error)

// Config configures the bridge.
type Config struct {
	TopicBase string
	Select    SelectFunc
	Clock     ports.Clock
	// CommandTimeout bounds player selection requests.
	CommandTimeout time.Duration
}

// Module mirrors session state onto MQTT and executes MQTT commands.
type Module struct {
	log     *zap.Logger
	client  Client
	ctl     Controller
	cfg     Config
	updates chan update
}

type update struct {
	connection *bool
	state      *session.PlayerState
}

// ConnectionMessage is the retained payload of the connection topic.
type ConnectionMessage struct {
	Connected bool  `json:"connected"`
	TS        int64 `json:"ts"`
}

// CommandMessage is the payload accepted on the command topic. Value may be a
// JSON string or number.
type CommandMessage struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value,omitempty"`
}

// NewModule creates the bridge.
func NewModule(log *zap.Logger, client Client, ctl Controller, cfg Config) (*Module, error) {
	if client == nil {
		return nil, errors.New("mqtt client required")
	}
	if ctl == nil {
		return nil, errors.New("session required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.TopicBase == "" {
		cfg.TopicBase = DefaultTopicBase
	}
	cfg.TopicBase = strings.TrimSuffix(cfg.TopicBase, "/")
	if cfg.Clock == nil {
		cfg.Clock = clock.Clock{}
	}
	if cfg.CommandTimeout == 0 {
		cfg.CommandTimeout = 5 * time.Second
	}
	return &Module{
		log:     log.With(zap.String("module", "mqtt_bridge")),
		client:  client,
		ctl:     ctl,
		cfg:     cfg,
		updates: make(chan update, 64),
	}, nil
}

// ConnectionTopic returns the retained connection topic under base.
func ConnectionTopic(base string) string {
	return base + "/connection"
}

// StateTopic returns the retained state topic of a player.
func StateTopic(base, playerID string) string {
	return base + "/player/" + playerID + "/state"
}

// CommandTopic returns the command topic under base.
func CommandTopic(base string) string {
	return base + "/cmd"
}

// ConnectionPayload encodes a connection message.
func ConnectionPayload(connected bool, now time.Time) []byte {
	payload, _ := json.Marshal(ConnectionMessage{Connected: connected, TS: now.Unix()})
	return payload
}

// Run bridges until ctx is done. The connection topic is left false on exit.
func (m *Module) Run(ctx context.Context) error {
	if err := m.client.Subscribe(CommandTopic(m.cfg.TopicBase), 1, func(_ string, payload []byte) {
		m.handleCommand(ctx, payload)
	}); err != nil {
		return fmt.Errorf("subscribe commands: %w", err)
	}

	remove := m.ctl.AddListener(session.Listener{
		Connection: func(connected, postConnect bool) {
			if postConnect {
				return
			}
			m.enqueue(update{connection: &connected})
		},
		StateChanged: func(st session.PlayerState) {
			m.enqueue(update{state: &st})
		},
	})
	defer remove()

	m.Republish()
	for {
		select {
		case <-ctx.Done():
			m.publishConnection(false)
			return nil
		case u := <-m.updates:
			if u.connection != nil {
				m.publishConnection(*u.connection)
			}
			if u.state != nil {
				m.publishState(*u.state)
			}
		}
	}
}

// Republish queues the current connection and player state, e.g. after an
// MQTT reconnect.
func (m *Module) Republish() {
	connected := m.ctl.Connected()
	u := update{connection: &connected}
	if st, ok := m.ctl.PlayerState(); ok {
		u.state = &st
	}
	m.enqueue(u)
}

func (m *Module) enqueue(u update) {
	select {
	case m.updates <- u:
	default:
		m.log.Warn("dropping state update, publisher is behind")
	}
}

func (m *Module) publishConnection(connected bool) {
	payload := ConnectionPayload(connected, m.cfg.Clock.Now())
	if err := m.client.Publish(ConnectionTopic(m.cfg.TopicBase), 1, true, payload); err != nil {
		m.log.Warn("publish connection failed", zap.Error(err))
	}
}

func (m *Module) publishState(st session.PlayerState) {
	if st.Player.ID == "" {
		return
	}
	payload, err := json.Marshal(st)
	if err != nil {
		m.log.Error("encode state failed", zap.Error(err))
		return
	}
	if err := m.client.Publish(StateTopic(m.cfg.TopicBase, st.Player.ID), 0, true, payload); err != nil {
		m.log.Warn("publish state failed", zap.String("player", st.Player.ID), zap.Error(err))
	}
}

func (m *Module) handleCommand(ctx context.Context, payload []byte) {
	cmd, err := decodeCommand(payload)
	if err != nil {
		m.log.Warn("invalid command", zap.Error(err), zap.ByteString("payload", payload))
		return
	}
	log := m.log.With(zap.String("type", cmd.Type), zap.String("value", cmd.Value))

	if strings.EqualFold(cmd.Type, "player") {
		if m.cfg.Select == nil {
			log.Warn("player selection unavailable")
			return
		}
		ctx, cancel := context.WithTimeout(ctx, m.cfg.CommandTimeout)
		defer cancel()
		p, err := m.cfg.Select(ctx, cmd.Value)
		if err != nil {
			log.Warn("select player failed", zap.Error(err))
			return
		}
		log.Info("player selected", zap.String("player", p.ID))
		return
	}

	if err := core.Apply(m.ctl, cmd); err != nil {
		log.Warn("command failed", zap.Error(err))
		return
	}
	log.Debug("command sent")
}

func decodeCommand(payload []byte) (core.Command, error) {
	var msg CommandMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return core.Command{}, err
	}
	if msg.Type == "" {
		return core.Command{}, errors.New("command type required")
	}
	cmd := core.Command{Type: msg.Type}
	if len(msg.Value) == 0 || string(msg.Value) == "null" {
		return cmd, nil
	}
	var s string
	if err := json.Unmarshal(msg.Value, &s); err == nil {
		cmd.Value = s
		return cmd, nil
	}
	var n float64
	if err := json.Unmarshal(msg.Value, &n); err == nil {
		cmd.Value = strconv.FormatFloat(n, 'f', -1, 64)
		return cmd, nil
	}
	var b bool
	if err := json.Unmarshal(msg.Value, &b); err == nil {
		cmd.Value = strconv.FormatBool(b)
		return cmd, nil
	}
	return core.Command{}, fmt.Errorf("unsupported value %s", msg.Value)
}
