package embeddedmqtt

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/mochi-mqtt/server/v2/packets"
	"go.uber.org/zap"
)

// DefaultListen is the broker address used when none is configured.
const DefaultListen = "127.0.0.1:1883"

// Config configures the embedded MQTT broker.
type Config struct {
	Listen         string
	AllowAnonymous bool
	Username       string
	Password       string
	TLSCA          string
	TLSCert        string
	TLSKey         string
}

// TLSEnabled reports whether the listener serves TLS.
func (c Config) TLSEnabled() bool {
	return c.TLSCert != "" || c.TLSKey != ""
}

// Module runs an in-process broker for the bridge and local clients.
type Module struct {
	log    *zap.Logger
	server *mqtt.Server
	config Config
	hook   *clientHook
	ready  chan struct{}
}

// NewModule creates a new embedded broker module.
func NewModule(log *zap.Logger, cfg Config) (*Module, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if strings.TrimSpace(cfg.Listen) == "" {
		cfg.Listen = DefaultListen
	}
	log = log.With(zap.String("module", "embedded_mqtt"), zap.String("listen", cfg.Listen))

	server, hook, err := newServer(log, cfg)
	if err != nil {
		return nil, err
	}
	return &Module{log: log, server: server, config: cfg, hook: hook, ready: make(chan struct{})}, nil
}

// Ready is closed once the listener accepts connections.
func (m *Module) Ready() <-chan struct{} {
	return m.ready
}

// Clients returns the number of connected clients.
func (m *Module) Clients() int64 {
	return m.hook.clients.Load()
}

// URL returns the broker URL clients should dial.
func (m *Module) URL() string {
	return BrokerURL(m.config.Listen, m.config.TLSEnabled())
}

// Run serves until ctx is done.
func (m *Module) Run(ctx context.Context) error {
	listenerConfig := listeners.Config{ID: "squeezed-tcp", Address: m.config.Listen}
	tlsConfig, err := buildTLSConfig(m.config.TLSCA, m.config.TLSCert, m.config.TLSKey)
	if err != nil {
		return err
	}
	listenerConfig.TLSConfig = tlsConfig

	if err := m.server.AddListener(listeners.NewTCP(listenerConfig)); err != nil {
		return fmt.Errorf("listen %s: %w", m.config.Listen, err)
	}
	if err := m.server.Serve(); err != nil {
		return err
	}
	m.log.Info("embedded broker listening", zap.Bool("tls", tlsConfig != nil))
	close(m.ready)

	<-ctx.Done()
	return m.server.Close()
}

func newServer(log *zap.Logger, cfg Config) (*mqtt.Server, *clientHook, error) {
	server := mqtt.New(&mqtt.Options{InlineClient: true, Logger: newSlogLogger(log)})

	switch {
	case cfg.AllowAnonymous:
		if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
			return nil, nil, err
		}
	case cfg.Username != "":
		ledger := &auth.Ledger{
			Auth: auth.AuthRules{{Username: auth.RString(cfg.Username), Password: auth.RString(cfg.Password), Allow: true}},
			ACL:  auth.ACLRules{{Username: auth.RString(cfg.Username), Filters: auth.Filters{auth.RString("#"): auth.ReadWrite}}},
		}
		if err := server.AddHook(new(auth.Hook), &auth.Options{Ledger: ledger}); err != nil {
			return nil, nil, err
		}
	default:
		return nil, nil, errors.New("embedded mqtt requires allow_anonymous or username")
	}

	hook := &clientHook{log: log}
	if err := server.AddHook(hook, nil); err != nil {
		return nil, nil, err
	}
	return server, hook, nil
}

// clientHook logs client sessions and counts live connections.
type clientHook struct {
	mqtt.HookBase
	log     *zap.Logger
	clients atomic.Int64
}

func (h *clientHook) ID() string {
	return "squeezed-clients"
}

func (h *clientHook) Provides(b byte) bool {
	return bytes.Contains([]byte{mqtt.OnConnect, mqtt.OnDisconnect}, []byte{b})
}

func (h *clientHook) OnConnect(cl *mqtt.Client, _ packets.Packet) error {
	n := h.clients.Add(1)
	h.log.Debug("mqtt client connected", zap.String("client", cl.ID), zap.Int64("clients", n))
	return nil
}

func (h *clientHook) OnDisconnect(cl *mqtt.Client, err error, _ bool) {
	n := h.clients.Add(-1)
	h.log.Debug("mqtt client disconnected", zap.String("client", cl.ID), zap.Int64("clients", n), zap.Error(err))
}

// buildTLSConfig builds the listener config. A CA bundle turns on client
// certificate verification.
func buildTLSConfig(caPath, certPath, keyPath string) (*tls.Config, error) {
	if certPath == "" && keyPath == "" {
		if caPath != "" {
			return nil, errors.New("tls_ca requires tls_cert and tls_key")
		}
		return nil, nil
	}
	if certPath == "" || keyPath == "" {
		return nil, errors.New("both tls cert and key are required")
	}
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, err
	}
	config := &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}

	if caPath != "" {
		pem, err := os.ReadFile(caPath)
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.New("failed to parse CA bundle")
		}
		config.ClientCAs = pool
		config.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return config, nil
}

// BrokerURL returns the broker URL for a listen address.
func BrokerURL(listen string, tlsEnabled bool) string {
	scheme := "tcp"
	if tlsEnabled {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s", scheme, listen)
}
